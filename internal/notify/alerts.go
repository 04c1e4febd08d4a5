package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ajcrowley/tradesim/internal/domain"
)

// alertTimeout bounds the delivery of one alert, including all senders.
const alertTimeout = 15 * time.Second

// EventSource is the slice of the engine's event API the alerter consumes.
type EventSource interface {
	OnSignal(fn func(domain.Signal)) func()
	OnExecution(fn func(domain.Execution)) func()
	OnOrderStatus(fn func(domain.Order)) func()
}

// Alerter turns engine events into notifications. Deliveries run on their
// own goroutines so a slow chat API never stalls event propagation.
type Alerter struct {
	notifier *Notifier
	logger   *slog.Logger
	detach   []func()
}

// NewAlerter subscribes to the source's signal, execution, and order status
// streams. Call Close to detach.
func NewAlerter(notifier *Notifier, source EventSource, logger *slog.Logger) *Alerter {
	a := &Alerter{
		notifier: notifier,
		logger:   logger.With(slog.String("component", "alerter")),
	}
	a.detach = append(a.detach,
		source.OnSignal(a.onSignal),
		source.OnExecution(a.onExecution),
		source.OnOrderStatus(a.onOrderStatus),
	)
	return a
}

// Close detaches the alerter from its event source.
func (a *Alerter) Close() {
	for _, d := range a.detach {
		d()
	}
	a.detach = nil
}

func (a *Alerter) onSignal(sig domain.Signal) {
	title := fmt.Sprintf("Signal: %s %s", sig.Type, sig.Symbol)
	msg := fmt.Sprintf("strategy=%s qty=%d price=%.2f\n%s",
		sig.Strategy, sig.Quantity, sig.Price, sig.Reason)
	a.send(EventSignal, title, msg)
}

func (a *Alerter) onExecution(exec domain.Execution) {
	title := fmt.Sprintf("Fill: %s %s", exec.Direction, exec.Symbol)
	msg := fmt.Sprintf("qty=%d price=%.2f order=%s", exec.Quantity, exec.Price, exec.OrderID)
	a.send(EventExecution, title, msg)
}

func (a *Alerter) onOrderStatus(o domain.Order) {
	if o.Status != domain.OrderStatusRejected {
		return
	}
	title := fmt.Sprintf("Order rejected: %s %s", o.Direction, o.Symbol)
	msg := fmt.Sprintf("qty=%d order=%s", o.Quantity, o.ID)
	a.send(EventOrderRejected, title, msg)
}

func (a *Alerter) send(event, title, message string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()

		if err := a.notifier.Notify(ctx, event, title, message); err != nil {
			a.logger.Warn("alert delivery failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}()
}
