// Package event provides a minimal mutex-guarded listener registry used for
// broker and engine event fan-out.
package event

import "sync"

// Listeners is a subscriber registry for events of type T. Emit iterates a
// snapshot of the registered callbacks, so listeners may unsubscribe (or
// new ones subscribe) concurrently with a notification in flight.
type Listeners[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

// Subscribe registers fn and returns a function that removes it. The
// returned function is idempotent.
func (l *Listeners[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

// Emit calls every registered listener synchronously, in registration order
// for a stable single-emitter sequence, over a snapshot of the registry.
func (l *Listeners[T]) Emit(v T) {
	l.mu.Lock()
	snapshot := make([]func(T), 0, len(l.fns))
	for id := 0; id < l.next; id++ {
		if fn, ok := l.fns[id]; ok {
			snapshot = append(snapshot, fn)
		}
	}
	l.mu.Unlock()

	for _, fn := range snapshot {
		fn(v)
	}
}

// Len returns the number of registered listeners.
func (l *Listeners[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}
