package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ajcrowley/tradesim/internal/domain"
	"github.com/ajcrowley/tradesim/internal/event"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (r *recordingSender) Send(ctx context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, []string{EventSignal}, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventSignal, "a", "m"))
	require.NoError(t, n.Notify(context.Background(), EventExecution, "b", "m"))

	require.Equal(t, []string{"a"}, s.sent())
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventSignal, "a", "m"))
	require.NoError(t, n.Notify(context.Background(), EventExecution, "b", "m"))

	require.Equal(t, []string{"a", "b"}, s.sent())
}

func TestNotifierContinuesPastFailedSender(t *testing.T) {
	bad := &recordingSender{err: errors.New("boom")}
	good := &recordingSender{}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), EventSignal, "a", "m")
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 sender(s) failed")
	require.Equal(t, []string{"a"}, good.sent())
}

func TestDiscordSenderPostsWebhook(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Fill: buy SIM1", "qty=10"))
	require.Contains(t, gotBody, "**Fill: buy SIM1**")
	require.Contains(t, gotBody, "qty=10")
}

func TestDiscordSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), "t", "m")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status 429")
}

// fakeSource implements EventSource with directly drivable listeners.
type fakeSource struct {
	signalEv event.Listeners[domain.Signal]
	execEv   event.Listeners[domain.Execution]
	orderEv  event.Listeners[domain.Order]
}

func (f *fakeSource) OnSignal(fn func(domain.Signal)) func() { return f.signalEv.Subscribe(fn) }

func (f *fakeSource) OnExecution(fn func(domain.Execution)) func() { return f.execEv.Subscribe(fn) }

func (f *fakeSource) OnOrderStatus(fn func(domain.Order)) func() { return f.orderEv.Subscribe(fn) }

func TestAlerterSendsSignalAndExecutionAlerts(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, nil, testLogger())
	src := &fakeSource{}
	a := NewAlerter(n, src, testLogger())
	defer a.Close()

	src.signalEv.Emit(domain.Signal{Type: domain.SignalBuy, Symbol: "SIM1", Strategy: "ma_cross"})
	src.execEv.Emit(domain.Execution{Direction: domain.DirectionBuy, Symbol: "SIM1", Quantity: 10})
	src.orderEv.Emit(domain.Order{Status: domain.OrderStatusFilled, Symbol: "SIM1"})
	src.orderEv.Emit(domain.Order{Status: domain.OrderStatusRejected, Symbol: "SIM1", Direction: domain.DirectionSell})

	require.Eventually(t, func() bool {
		return len(s.sent()) == 3
	}, time.Second, 5*time.Millisecond)

	titles := s.sent()
	require.Contains(t, titles, "Signal: buy SIM1")
	require.Contains(t, titles, "Fill: buy SIM1")
	require.Contains(t, titles, "Order rejected: sell SIM1")
}

func TestAlerterCloseDetaches(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, nil, testLogger())
	src := &fakeSource{}
	a := NewAlerter(n, src, testLogger())
	a.Close()

	src.signalEv.Emit(domain.Signal{Type: domain.SignalBuy, Symbol: "SIM1"})

	time.Sleep(20 * time.Millisecond)
	require.Empty(t, s.sent())
}
