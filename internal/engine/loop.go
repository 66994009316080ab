package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
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

// State is the loop lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StatePaused
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Config holds the orchestration knobs.
type Config struct {
	Symbol               string
	Interval             time.Duration
	MaxConsecutiveErrors int
	CancelTimeout        time.Duration
}

// Snapshot is the status view exposed to logging and CLI layers.
type Snapshot struct {
	State             State
	Quote             domain.Quote
	Inventory         domain.InventoryState
	Risk              domain.RiskState
	Drawdown          float64
	RiskStatus        string
	ActiveOrders      []domain.Order
	RecentRiskEvents  []domain.RiskEvent
	ConsecutiveErrors int
	Ticks             uint64
	StreamDown        bool
}

// Loop is the single periodic driver sequencing data refresh, quoting,
// risk checks and order delegation. One goroutine owns all of it: gateway
// pushes arrive through the event inbox and are applied between ticks,
// never concurrently with them.
type Loop struct {
	cfg      Config
	gw       gateway.Gateway
	model    *quote.Model
	governor *risk.Governor
	orders   *order.Manager
	ind      indicator.Provider
	clock    infra.Clock
	log      *slog.Logger

	state atomic.Int32

	mu           sync.Mutex
	lastInv      domain.InventoryState
	consecutive  int
	ticks        uint64
	startValue   float64 // account value at first successful tick
	streamDown   bool
	startupError error
}

// NewLoop wires the orchestrator.
func NewLoop(cfg Config, gw gateway.Gateway, model *quote.Model, gov *risk.Governor,
	orders *order.Manager, ind indicator.Provider, clock infra.Clock, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		cfg:      cfg,
		gw:       gw,
		model:    model,
		governor: gov,
		orders:   orders,
		ind:      ind,
		clock:    clock,
		log:      log,
	}
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Pause suspends the tick pipeline, so neither quoting nor market data
// refresh runs until Resume. Inbox events are still consumed.
func (l *Loop) Pause() {
	if l.state.CompareAndSwap(int32(StateRunning), int32(StatePaused)) {
		l.log.Info("LOOP: paused")
	}
}

// Resume restarts quoting after a pause.
func (l *Loop) Resume() {
	if l.state.CompareAndSwap(int32(StatePaused), int32(StateRunning)) {
		l.orders.ForceRefresh()
		l.log.Info("LOOP: resumed")
	}
}

// Run drives the loop until ctx is cancelled or an emergency stop fires.
// Startup failure (no reachable venue) aborts before entering Running.
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("loop: already running (state %s)", l.State())
	}

	if err := l.startup(ctx); err != nil {
		l.state.Store(int32(StateStopped))
		return fmt.Errorf("loop startup: %w", err)
	}
	l.state.Store(int32(StateRunning))
	l.log.Info("LOOP: running",
		slog.String("symbol", l.cfg.Symbol),
		slog.Duration("interval", l.cfg.Interval))

	events := l.gw.Events()
	timer := l.clock.After(l.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			l.shutdown(false)
			return nil

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			l.dispatch(ev)

		case <-timer:
			timer = l.clock.After(l.cfg.Interval)
			if l.State() == StatePaused {
				continue
			}
			if stop := l.runTick(ctx); stop {
				l.shutdown(true)
				return fmt.Errorf("loop: emergency stop")
			}
		}
	}
}

// startup validates connectivity before entering Running. A gateway that
// cannot serve a ticker is a fatal init failure, not a retry case.
func (l *Loop) startup(ctx context.Context) error {
	if _, err := l.gw.FetchTicker(ctx, l.cfg.Symbol); err != nil {
		return fmt.Errorf("venue unreachable: %w", err)
	}
	if _, err := l.gw.FetchBalances(ctx); err != nil {
		return fmt.Errorf("balances unavailable: %w", err)
	}
	return nil
}

// runTick executes one tick and tracks consecutive failures.
// Returns true when the loop must stop immediately.
func (l *Loop) runTick(ctx context.Context) (stop bool) {
	err := l.tick(ctx)

	l.mu.Lock()
	l.ticks++
	if err != nil {
		l.consecutive++
	} else {
		l.consecutive = 0
	}
	failures := l.consecutive
	l.mu.Unlock()

	if err != nil {
		l.log.Warn("LOOP: tick failed",
			slog.Int("consecutive", failures), slog.Any("error", err))
	}
	if l.cfg.MaxConsecutiveErrors > 0 && failures >= l.cfg.MaxConsecutiveErrors {
		l.governor.EmergencyStop(fmt.Sprintf("loop: %d consecutive tick failures", failures))
		return true
	}
	if st, _ := l.governor.Status(); st == risk.StatusEmergencyStopped {
		return true
	}
	return false
}

// tick runs the fixed stage sequence: market data, balances, indicators,
// quote model, risk checks, admission gate, order delegation.
func (l *Loop) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()

	ticker, err := l.gw.FetchTicker(ctx, l.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("ticker: %w", err)
	}
	mid := ticker.Mid()
	if mid <= 0 {
		return fmt.Errorf("ticker: no usable mid price")
	}
	balances, err := l.gw.FetchBalances(ctx)
	if err != nil {
		return fmt.Errorf("balances: %w", err)
	}

	l.ind.OnTicker(ticker)

	inv := l.model.Inventory(balances, mid)

	l.mu.Lock()
	if l.startValue == 0 {
		l.startValue = inv.TotalValue
	}
	startValue := l.startValue
	l.lastInv = inv
	streamDown := l.streamDown
	l.mu.Unlock()

	// Unrealized PnL approximated as total value change net of realized.
	unrealized := inv.TotalValue - startValue - l.governor.State().RealizedPnL
	l.governor.UpdateAccount(inv.TotalValue, unrealized)
	l.governor.CheckLimits(inv.CurrentPosition * mid)
	if st, kind := l.governor.Status(); st == risk.StatusEmergencyStopped {
		return fmt.Errorf("risk: emergency stop latched (%s)", kind)
	}

	if err := l.orders.Reconcile(ctx); err != nil {
		l.log.Warn("LOOP: reconcile incomplete", slog.Any("error", err))
	}
	l.orders.CleanupExcess(ctx)

	if streamDown {
		l.log.Debug("LOOP: stream down, quoting suspended")
		return nil
	}
	if !l.ind.Ready() {
		l.log.Debug("LOOP: indicators warming up")
		return nil
	}

	q := l.model.Compute(mid, l.ind.Volatility(), l.ind.Intensity(), inv, l.clock.Now().UnixMicro())
	if !q.Valid() {
		return fmt.Errorf("quote: invalid for mid %.8f", mid)
	}

	// High-severity advice quotes only the inventory-reducing side.
	if l.governor.Advice().ReducePosition {
		if inv.CurrentPosition > inv.TargetPosition {
			q.BidSize = 0
		} else {
			q.AskSize = 0
		}
	}

	if !l.orders.ShouldRefresh(q, l.ind.Version()) {
		return nil
	}

	// Admission gate per side: a vetoed side is dropped, not retried.
	if q.BidSize > 0 {
		if verr := l.governor.ValidateOrder(domain.SideBuy, q.BidSize, q.Bid); verr != nil {
			l.log.Warn("LOOP: bid rejected by risk gate", slog.Any("reason", verr))
			q.BidSize = 0
		}
	}
	if q.AskSize > 0 {
		if verr := l.governor.ValidateOrder(domain.SideSell, q.AskSize, q.Ask); verr != nil {
			l.log.Warn("LOOP: ask rejected by risk gate", slog.Any("reason", verr))
			q.AskSize = 0
		}
	}
	if q.BidSize <= 0 && q.AskSize <= 0 {
		return nil
	}

	return l.orders.RefreshQuotes(ctx, q, l.ind.Version())
}

// dispatch applies one inbox event on the owning goroutine.
func (l *Loop) dispatch(ev event.Event) {
	switch e := ev.(type) {
	case event.OrderUpdateEvent:
		l.orders.HandleOrderUpdate(e.Order)
	case event.TickerUpdateEvent:
		l.ind.OnTicker(e.Ticker)
	case event.OrderBookUpdateEvent:
		// Depth is polled on demand; the push stream is informational.
	case event.BalanceUpdateEvent:
		// Balances are re-fetched every tick; the push is informational.
	case event.ConnectionLostEvent:
		l.mu.Lock()
		l.streamDown = true
		l.mu.Unlock()
		l.log.Warn("LOOP: venue stream lost, quoting suspended", slog.String("reason", e.Reason))
	case event.ConnectionRestoredEvent:
		l.mu.Lock()
		l.streamDown = false
		l.mu.Unlock()
		l.orders.ForceRefresh()
		l.log.Info("LOOP: venue stream restored")
	default:
		l.log.Warn("LOOP: unknown event type", slog.Any("type", ev.GetType()))
	}
}

// shutdown leaves Running. The graceful path cancels resting orders under
// the configured timeout; the emergency path does the same best-effort
// pass but transitions straight to Stopped regardless of outcome.
func (l *Loop) shutdown(emergency bool) {
	l.state.Store(int32(StateStopping))
	if emergency {
		l.log.Error("LOOP: emergency shutdown, bounded cancel pass")
	} else {
		l.log.Info("LOOP: shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.CancelTimeout)
	defer cancel()
	if err := l.orders.CancelAll(ctx); err != nil {
		l.log.Warn("LOOP: shutdown cancel pass incomplete", slog.Any("error", err))
	}

	l.state.Store(int32(StateStopped))
	l.log.Info("LOOP: stopped")
}

// Snapshot returns the current status view.
func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	inv := l.lastInv
	consecutive := l.consecutive
	ticks := l.ticks
	streamDown := l.streamDown
	l.mu.Unlock()

	rs := l.governor.State()
	st, kind := l.governor.Status()
	riskStatus := st.String()
	if kind != "" {
		riskStatus += " (" + kind + ")"
	}

	return Snapshot{
		State:             l.State(),
		Quote:             l.model.Last(),
		Inventory:         inv,
		Risk:              rs,
		Drawdown:          rs.Drawdown(),
		RiskStatus:        riskStatus,
		ActiveOrders:      l.orders.ActiveOrders(),
		RecentRiskEvents:  l.governor.Events(16),
		ConsecutiveErrors: consecutive,
		Ticks:             ticks,
		StreamDown:        streamDown,
	}
}
