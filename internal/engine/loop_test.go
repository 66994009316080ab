package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"maker_go/internal/domain"
	"maker_go/internal/event"
	"maker_go/internal/gateway"
	"maker_go/internal/indicator"
	"maker_go/internal/infra"
	"maker_go/internal/order"
	"maker_go/internal/quote"
	"maker_go/internal/risk"
)

// tickClock drives the loop: every value pushed to the ticks channel
// releases exactly one tick. Now advances with wall time so timestamps
// stay sane.
type tickClock struct {
	ticks chan time.Time
}

func newTickClock() *tickClock {
	return &tickClock{ticks: make(chan time.Time, 16)}
}

func (c *tickClock) Now() time.Time                       { return time.Now() }
func (c *tickClock) After(time.Duration) <-chan time.Time { return c.ticks }
func (c *tickClock) Sleep(time.Duration)                  {}
func (c *tickClock) Tick()                                { c.ticks <- time.Now() }

// flakyGateway lets tests break the ticker feed mid-run.
type flakyGateway struct {
	*gateway.PaperGateway
	mu         sync.Mutex
	failTicker bool
}

func (f *flakyGateway) SetFailTicker(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failTicker = fail
}

func (f *flakyGateway) FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	f.mu.Lock()
	fail := f.failTicker
	f.mu.Unlock()
	if fail {
		return domain.Ticker{}, errors.New("feed down")
	}
	return f.PaperGateway.FetchTicker(ctx, symbol)
}

type harness struct {
	pg       *gateway.PaperGateway
	gw       gateway.Gateway
	clock    *tickClock
	governor *risk.Governor
	orders   *order.Manager
	loop     *Loop
}

func newHarness(t *testing.T, gw gateway.Gateway, pg *gateway.PaperGateway, maxErrors int) *harness {
	t.Helper()
	clock := newTickClock()

	model := quote.NewModel(quote.Config{
		RiskFactor:           0.1,
		ShapeFactor:          0.5,
		InventoryTargetRatio: 0.5,
		MinSpread:            0.2,
		HorizonSeconds:       1,
		OrderSize:            0.05,
		MaxPositionSize:      10,
		PricePrecision:       2,
		AmountPrecision:      4,
	})
	governor := risk.NewGovernor(risk.Config{
		MaxPositionValuePercent:       100,
		StopLossPercent:               50,
		StopLossAmountPercent:         50,
		MaxDrawdownPercent:            90,
		MaxDailyLossPercent:           90,
		MaxOrderSizePercent:           100,
		MaxOrderValuePercent:          100,
		EmergencyStopThresholdPercent: 95,
	}, infra.SystemClock{}, nil)
	orders := order.NewManager(order.Config{
		Symbol:          "BTCUSDT",
		MaxActiveOrders: 4,
		SubmitTimeout:   time.Second,
		RetryCount:      1,
	}, gw, infra.SystemClock{}, governor, slog.Default())
	ind := indicator.NewRolling(3, time.Minute, clock)

	loop := NewLoop(Config{
		Symbol:               "BTCUSDT",
		Interval:             time.Second,
		MaxConsecutiveErrors: maxErrors,
		CancelTimeout:        time.Second,
	}, gw, model, governor, orders, ind, clock, slog.Default())

	return &harness{pg: pg, gw: gw, clock: clock, governor: governor, orders: orders, loop: loop}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoop_StartupFailureAborts(t *testing.T) {
	pg := gateway.NewPaperGateway("BTCUSDT", 1, 10000)
	// No ticker configured: the venue cannot serve prices.
	h := newHarness(t, pg, pg, 5)

	if err := h.loop.Run(context.Background()); err == nil {
		t.Fatal("Run should abort when the venue is unreachable")
	}
	if h.loop.State() != StateStopped {
		t.Errorf("state = %s, want STOPPED after aborted startup", h.loop.State())
	}
}

func TestLoop_QuotesAfterWarmup(t *testing.T) {
	pg := gateway.NewPaperGateway("BTCUSDT", 1, 10000)
	pg.SetTicker(100, 99.9, 100.1)
	h := newHarness(t, pg, pg, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	waitFor(t, "running state", func() bool { return h.loop.State() == StateRunning })

	// Three ticks fill the indicator window; the next one quotes.
	for i := 0; i < 4; i++ {
		h.clock.Tick()
	}
	waitFor(t, "resting bid and ask", func() bool { return h.orders.ActiveCount() == 2 })

	snap := h.loop.Snapshot()
	if !snap.Quote.Valid() {
		t.Errorf("snapshot quote invalid: %+v", snap.Quote)
	}
	if snap.Inventory.TotalValue != 10100 {
		t.Errorf("TotalValue = %v, want 10100", snap.Inventory.TotalValue)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.loop.State() != StateStopped {
		t.Errorf("state = %s, want STOPPED", h.loop.State())
	}
	// Graceful shutdown cancels the resting orders venue-side.
	open, err := pg.GetOpenOrders(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetOpenOrders: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("venue still has %d open orders after shutdown", len(open))
	}
}

func TestLoop_PauseSuspendsQuoting(t *testing.T) {
	pg := gateway.NewPaperGateway("BTCUSDT", 1, 10000)
	pg.SetTicker(100, 99.9, 100.1)
	h := newHarness(t, pg, pg, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()
	waitFor(t, "running state", func() bool { return h.loop.State() == StateRunning })

	h.loop.Pause()
	if h.loop.State() != StatePaused {
		t.Fatalf("state = %s, want PAUSED", h.loop.State())
	}
	for i := 0; i < 5; i++ {
		h.clock.Tick()
	}
	// Paused ticks are consumed without quoting. Give the loop a moment.
	time.Sleep(50 * time.Millisecond)
	if n := h.orders.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount = %d while paused, want 0", n)
	}

	h.loop.Resume()
	for i := 0; i < 4; i++ {
		h.clock.Tick()
	}
	waitFor(t, "quotes after resume", func() bool { return h.orders.ActiveCount() == 2 })

	cancel()
	<-done
}

func TestLoop_ConsecutiveErrorCeiling(t *testing.T) {
	pg := gateway.NewPaperGateway("BTCUSDT", 1, 10000)
	pg.SetTicker(100, 99.9, 100.1)
	fg := &flakyGateway{PaperGateway: pg}
	h := newHarness(t, fg, pg, 2)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()
	waitFor(t, "running state", func() bool { return h.loop.State() == StateRunning })

	fg.SetFailTicker(true)
	h.clock.Tick()
	h.clock.Tick()

	err := <-done
	if err == nil {
		t.Fatal("Run should stop after the consecutive-error ceiling")
	}
	if h.loop.State() != StateStopped {
		t.Errorf("state = %s, want STOPPED", h.loop.State())
	}
	if !h.governor.State().EmergencyStopped {
		t.Error("the error ceiling should latch the emergency stop")
	}
}

func TestLoop_FillRoutesToGovernor(t *testing.T) {
	pg := gateway.NewPaperGateway("BTCUSDT", 1, 10000)
	pg.SetTicker(100, 99.9, 100.1)
	h := newHarness(t, pg, pg, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()
	waitFor(t, "running state", func() bool { return h.loop.State() == StateRunning })

	for i := 0; i < 4; i++ {
		h.clock.Tick()
	}
	waitFor(t, "resting orders", func() bool { return h.orders.ActiveCount() == 2 })

	// Fill the bid; buy-side captures book positive realized PnL.
	var victim domain.Order
	for _, o := range h.orders.ActiveOrders() {
		if o.Side == domain.SideBuy {
			victim = o
		}
	}
	if err := pg.MarkFilled(victim.ID); err != nil {
		t.Fatalf("MarkFilled: %v", err)
	}

	// The fill event flows through the inbox to the manager and books
	// realized PnL with the governor.
	waitFor(t, "fill processed", func() bool { return h.governor.State().RealizedPnL > 0 })
	waitFor(t, "fill removed from active set", func() bool { return h.orders.ActiveCount() == 1 })

	cancel()
	<-done
}

func TestLoop_ConnectionLossSuspendsQuoting(t *testing.T) {
	pg := gateway.NewPaperGateway("BTCUSDT", 1, 10000)
	pg.SetTicker(100, 99.9, 100.1)
	h := newHarness(t, pg, pg, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()
	waitFor(t, "running state", func() bool { return h.loop.State() == StateRunning })

	pg.PushEvent(event.ConnectionLostEvent{Reason: "read error"})
	waitFor(t, "stream down applied", func() bool { return h.loop.Snapshot().StreamDown })
	// Ticks while the stream is down must not place orders.
	for i := 0; i < 5; i++ {
		h.clock.Tick()
	}
	time.Sleep(50 * time.Millisecond)
	if n := h.orders.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount = %d with stream down, want 0", n)
	}

	pg.PushEvent(event.ConnectionRestoredEvent{})
	waitFor(t, "stream restore applied", func() bool { return !h.loop.Snapshot().StreamDown })
	for i := 0; i < 4; i++ {
		h.clock.Tick()
	}
	waitFor(t, "quotes after restore", func() bool { return h.orders.ActiveCount() == 2 })

	cancel()
	<-done
}
