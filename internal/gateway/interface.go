package gateway

import (
	"context"
	"errors"

	"maker_go/internal/domain"
	"maker_go/internal/event"
)

var (
	// ErrNotFound signals the venue does not know the order.
	ErrNotFound = errors.New("order not found")
	// ErrTransport signals a network-level failure; the request may or may
	// not have reached the venue and callers must reconcile via the client
	// token rather than retry blind.
	ErrTransport = errors.New("transport failure")
	// ErrTimeout signals the caller-side deadline elapsed first; the
	// underlying call is not cancelled and may still land venue-side.
	ErrTimeout = errors.New("request timed out")
)

// CreateRequest describes a new order submission. ClientToken is generated
// by the caller before any network call so an ambiguous failure can be
// resolved by token lookup.
type CreateRequest struct {
	Symbol      string
	Side        domain.Side
	Price       float64
	Amount      float64
	ClientToken string
}

// Gateway is the exchange connectivity boundary. Implementations own
// transport, auth and venue wire formats; the core never sees any of that.
//
// GetOpenOrders returns a nil slice on transport failure, which is distinct
// from an empty slice meaning "zero open orders"; callers must not clear
// local state on nil.
type Gateway interface {
	CreateOrder(ctx context.Context, req CreateRequest) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	GetOrderByClientToken(ctx context.Context, token, symbol string) (*domain.Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error)

	FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error)
	FetchBalances(ctx context.Context) (domain.Balances, error)

	// Events exposes the push stream (order updates, balances, connection
	// state). The channel is owned by the gateway and closed on shutdown.
	Events() <-chan event.Event

	Close() error
}

// IsTransient reports whether an error is worth a bounded retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrTimeout)
}
