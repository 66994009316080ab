package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maker_go/internal/domain"
	"maker_go/internal/event"
	"maker_go/pkg/quant"
)

// PaperGateway simulates a venue with virtual balances and instant acks.
// It backs paper trading mode and the test suite. Fault-injection hooks let
// tests exercise the ambiguous-failure paths of the order manager.
type PaperGateway struct {
	mu       sync.Mutex
	symbol   string
	orders   map[string]*domain.Order
	byToken  map[string]string
	balances domain.Balances
	ticker   domain.Ticker
	nextID   int
	seq      uint64

	events chan event.Event
	closed bool

	// Fault injection (tests only).
	failCreates     int  // fail the next N creates with ErrTransport
	dropResponses   int  // store the order but return ErrTimeout for N creates
	failOpenOrders  bool // GetOpenOrders returns nil, ErrTransport
	rejectNextOrder bool // venue-side reject
}

// NewPaperGateway creates a paper venue seeded with the given balances.
func NewPaperGateway(symbol string, base, quote float64) *PaperGateway {
	return &PaperGateway{
		symbol:   symbol,
		orders:   make(map[string]*domain.Order),
		byToken:  make(map[string]string),
		balances: domain.Balances{Base: base, Quote: quote},
		events:   make(chan event.Event, 64),
	}
}

// SetTicker updates the simulated market price.
func (p *PaperGateway) SetTicker(last, bid, ask float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticker = domain.Ticker{
		Symbol:  p.symbol,
		Last:    last,
		BestBid: bid,
		BestAsk: ask,
		TsUnixM: time.Now().UnixMicro(),
	}
}

// FailNextCreates makes the next n CreateOrder calls fail before the order
// reaches the book.
func (p *PaperGateway) FailNextCreates(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failCreates = n
}

// DropNextResponses makes the next n CreateOrder calls land venue-side but
// report ErrTimeout, simulating a lost response.
func (p *PaperGateway) DropNextResponses(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropResponses = n
}

// FailOpenOrders toggles transport failure on GetOpenOrders.
func (p *PaperGateway) FailOpenOrders(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOpenOrders = fail
}

// RejectNextOrder makes the venue reject the next submission.
func (p *PaperGateway) RejectNextOrder() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectNextOrder = true
}

// CreateOrder books a simulated resting order.
func (p *PaperGateway) CreateOrder(ctx context.Context, req CreateRequest) (*domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failCreates > 0 {
		p.failCreates--
		return nil, fmt.Errorf("paper create: %w", ErrTransport)
	}
	if req.ClientToken != "" {
		// Idempotency: a token that already landed returns the original
		// order instead of booking a duplicate.
		if id, ok := p.byToken[req.ClientToken]; ok {
			o := *p.orders[id]
			return &o, nil
		}
	}

	p.nextID++
	status := domain.StatusOpen
	if p.rejectNextOrder {
		p.rejectNextOrder = false
		status = domain.StatusRejected
	}
	now := time.Now().UnixMicro()
	o := &domain.Order{
		ID:            fmt.Sprintf("P-%d", p.nextID),
		ClientToken:   req.ClientToken,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Amount:        req.Amount,
		Status:        status,
		CreatedUnixM:  now,
		LastSeenUnixM: now,
	}
	p.orders[o.ID] = o
	if req.ClientToken != "" {
		p.byToken[req.ClientToken] = o.ID
	}

	if p.dropResponses > 0 {
		p.dropResponses--
		return nil, fmt.Errorf("paper create: %w", ErrTimeout)
	}

	cp := *o
	return &cp, nil
}

// CancelOrder cancels a resting order.
func (p *PaperGateway) CancelOrder(ctx context.Context, orderID, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("cancel %s: order already %s", orderID, o.Status)
	}
	o.ApplyStatus(domain.StatusCanceled)
	return nil
}

// GetOrder returns the venue view of an order.
func (p *PaperGateway) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// GetOrderByClientToken looks an order up by its idempotency token.
func (p *PaperGateway) GetOrderByClientToken(ctx context.Context, token, symbol string) (*domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.byToken[token]
	if !ok {
		return nil, nil
	}
	cp := *p.orders[id]
	return &cp, nil
}

// GetOpenOrders lists non-terminal orders, or nil on simulated transport
// failure.
func (p *PaperGateway) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failOpenOrders {
		return nil, ErrTransport
	}
	open := make([]domain.Order, 0, len(p.orders))
	for _, o := range p.orders {
		if o.IsOpen() {
			open = append(open, *o)
		}
	}
	return open, nil
}

// FetchTicker returns the simulated market price.
func (p *PaperGateway) FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ticker.Last <= 0 && p.ticker.BestBid <= 0 {
		return domain.Ticker{}, fmt.Errorf("paper ticker: no price set")
	}
	return p.ticker, nil
}

// FetchOrderBook synthesizes a one-level book around the ticker.
func (p *PaperGateway) FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.OrderBook{
		Symbol:  symbol,
		Bids:    []domain.OrderBookLevel{{Price: p.ticker.BestBid, Amount: 1}},
		Asks:    []domain.OrderBookLevel{{Price: p.ticker.BestAsk, Amount: 1}},
		TsUnixM: time.Now().UnixMicro(),
	}, nil
}

// FetchBalances returns the virtual wallet.
func (p *PaperGateway) FetchBalances(ctx context.Context) (domain.Balances, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances, nil
}

// Events exposes the push stream.
func (p *PaperGateway) Events() <-chan event.Event {
	return p.events
}

// Close shuts the event stream down.
func (p *PaperGateway) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	return nil
}

// PushEvent injects an arbitrary event into the push stream, standing in
// for venue notifications the paper book does not generate itself.
func (p *PaperGateway) PushEvent(ev event.Event) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		slog.Warn("PAPER: event dropped, inbox full")
	}
}

// MarkFilled fills a resting order, settles the virtual balances and pushes
// an order-update event, mimicking a venue fill notification.
func (p *PaperGateway) MarkFilled(orderID string) error {
	p.mu.Lock()

	o, ok := p.orders[orderID]
	if !ok {
		p.mu.Unlock()
		return ErrNotFound
	}
	if !o.ApplyStatus(domain.StatusFilled) {
		p.mu.Unlock()
		return fmt.Errorf("fill %s: order already %s", orderID, o.Status)
	}
	o.FilledAmount = o.Amount

	notional := o.Price * o.Amount
	if o.Side == domain.SideBuy {
		p.balances.Base += o.Amount
		p.balances.Quote -= notional
	} else {
		p.balances.Base -= o.Amount
		p.balances.Quote += notional
	}

	p.seq++
	ev := event.OrderUpdateEvent{
		BaseEvent: event.BaseEvent{Seq: p.seq, Ts: quant.TimeStamp(time.Now().UnixMicro())},
		Order:     *o,
	}
	closed := p.closed
	p.mu.Unlock()

	if !closed {
		select {
		case p.events <- ev:
		default:
			slog.Warn("PAPER: event dropped, inbox full", slog.String("order", orderID))
		}
	}
	return nil
}
