package domain

import "context"

// Broker is the collaborator contract for order routing and account state.
// The simulated matching engine in internal/broker/sim is one concrete
// implementation; real-exchange adapters would be others.
//
// Every operation returns ErrNotConnected when the session is not active.
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	GetAccount(ctx context.Context) (Account, error)
	GetPositions(ctx context.Context) ([]Position, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	// CancelOrder returns true when the order transitioned to Canceled. A
	// false return with nil error means the cancel was a no-op (order not
	// active) or was rejected by the simulated exchange.
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrders(ctx context.Context, filter OrderFilter) ([]Order, error)

	// Event subscriptions. The returned function removes the listener.
	// For a single order, status and execution callbacks fire in state
	// transition order; no ordering holds across orders.
	OnOrderStatus(fn func(Order)) (unsubscribe func())
	OnExecution(fn func(Execution)) (unsubscribe func())
	OnAccountUpdated(fn func(AccountSnapshot)) (unsubscribe func())
	OnConnectionStatus(fn func(connected bool)) (unsubscribe func())
}
