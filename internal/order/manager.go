package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"maker_go/internal/domain"
	"maker_go/internal/gateway"
	"maker_go/internal/infra"
)

// PnLRecorder receives realized PnL contributions from observed fills.
// The manager books a half-spread capture estimate per fill; swapping in
// cost-basis accounting only requires a different implementation here.
type PnLRecorder interface {
	RecordFill(pnl float64)
}

// Config holds the order lifecycle knobs.
type Config struct {
	Symbol               string
	RefreshInterval      time.Duration
	PriceChangeThreshold float64 // relative, e.g. 0.001 = 10 bps
	MaxActiveOrders      int
	SubmitTimeout        time.Duration
	ConfirmDelay         time.Duration
	RetryCount           int
	RetryDelay           time.Duration
}

// Manager owns the authoritative local view of resting orders. All map
// mutation funnels through its mutex; the quote-replacement cycle is
// additionally single-flight so two creation cycles can never race the
// same inventory snapshot.
type Manager struct {
	cfg   Config
	gw    gateway.Gateway
	clock infra.Clock
	pnl   PnLRecorder
	log   *slog.Logger

	mu           sync.Mutex
	active       map[string]*domain.Order // venue id -> order
	byToken      map[string]string        // client token -> venue id
	lastQuote    domain.Quote
	lastRefresh  int64 // unix micros of the last completed refresh
	lastIndicVer uint64
	forceRefresh bool

	refreshing atomic.Bool

	fillSink func(domain.Order, float64)
}

// SetFillSink registers a callback receiving every fill with its PnL
// estimate, e.g. for history persistence. Must be set before the manager
// is used.
func (m *Manager) SetFillSink(sink func(domain.Order, float64)) {
	m.fillSink = sink
}

// NewManager creates a manager. rec may be nil when no PnL consumer is
// wired (e.g. some tests).
func NewManager(cfg Config, gw gateway.Gateway, clock infra.Clock, rec PnLRecorder, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		gw:      gw,
		clock:   clock,
		pnl:     rec,
		log:     log,
		active:  make(map[string]*domain.Order),
		byToken: make(map[string]string),
	}
}

// ActiveOrders returns a snapshot of the active set.
func (m *Manager) ActiveOrders() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Order, 0, len(m.active))
	for _, o := range m.active {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedUnixM < out[j].CreatedUnixM })
	return out
}

// ActiveCount returns the number of tracked orders.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// ForceRefresh arms the throttle bypass for the next cycle.
func (m *Manager) ForceRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forceRefresh = true
}

// LastQuote returns the most recently submitted quote.
func (m *Manager) LastQuote() domain.Quote {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuote
}

// ShouldRefresh decides whether the resting quotes need replacing. The
// throttle requires the minimum interval to have elapsed and either an
// indicator change or a price move beyond the relative threshold; a fill
// arms forceRefresh which bypasses the throttle once.
func (m *Manager) ShouldRefresh(q domain.Quote, indicatorVersion uint64) bool {
	if !q.Valid() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.forceRefresh {
		return true
	}
	if len(m.active) == 0 {
		return true
	}
	elapsed := m.clock.Now().UnixMicro() - m.lastRefresh
	if elapsed < m.cfg.RefreshInterval.Microseconds() {
		return false
	}
	if indicatorVersion != m.lastIndicVer {
		return true
	}
	if relDelta(q.Bid, m.lastQuote.Bid) > m.cfg.PriceChangeThreshold {
		return true
	}
	if relDelta(q.Ask, m.lastQuote.Ask) > m.cfg.PriceChangeThreshold {
		return true
	}
	return false
}

func relDelta(next, prev float64) float64 {
	if prev <= 0 {
		return math.Inf(1)
	}
	return math.Abs(next-prev) / prev
}

// RefreshQuotes replaces the resting quotes with the given one: cancel
// everything active, then submit a bid and an ask. Replacement is always
// cancel-then-recreate, never amendment. The cycle is single-flight; a
// call while one is in progress is dropped and logged.
func (m *Manager) RefreshQuotes(ctx context.Context, q domain.Quote, indicatorVersion uint64) error {
	if !q.Valid() {
		return fmt.Errorf("refresh: invalid quote bid=%.8f ask=%.8f", q.Bid, q.Ask)
	}
	if !m.refreshing.CompareAndSwap(false, true) {
		m.log.Warn("ORDER: refresh cycle already in progress, dropping request")
		return nil
	}
	defer m.refreshing.Store(false)

	if err := m.CancelAll(ctx); err != nil {
		m.log.Warn("ORDER: cancel pass incomplete before requote", slog.Any("error", err))
	}

	var firstErr error
	if q.BidSize > 0 {
		if _, err := m.Submit(ctx, domain.SideBuy, q.Bid, q.BidSize); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if q.AskSize > 0 {
		if _, err := m.Submit(ctx, domain.SideSell, q.Ask, q.AskSize); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.mu.Lock()
	m.lastQuote = q
	m.lastRefresh = m.clock.Now().UnixMicro()
	m.lastIndicVer = indicatorVersion
	m.forceRefresh = false
	m.mu.Unlock()

	return firstErr
}

// CancelAll cancels every tracked order, best-effort. Orders the venue no
// longer knows are treated as already gone.
func (m *Manager) CancelAll(ctx context.Context) error {
	orders := m.ActiveOrders()
	var failed int
	for _, o := range orders {
		if err := m.cancelOne(ctx, o.ID); err != nil {
			failed++
			m.log.Warn("ORDER: cancel failed",
				slog.String("id", o.ID), slog.Any("error", err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("cancel all: %d of %d cancels failed", failed, len(orders))
	}
	return nil
}

func (m *Manager) cancelOne(ctx context.Context, id string) error {
	err := m.gw.CancelOrder(ctx, id, m.cfg.Symbol)
	if err != nil && !isNotFound(err) {
		return err
	}
	m.mu.Lock()
	if o, ok := m.active[id]; ok {
		o.ApplyStatus(domain.StatusCanceled)
	}
	m.mu.Unlock()
	m.sweepTerminal()
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gateway.ErrNotFound)
}

// CleanupExcess cancels the oldest surplus orders beyond MaxActiveOrders.
// Best-effort and asynchronous with respect to the caller's tick.
func (m *Manager) CleanupExcess(ctx context.Context) {
	orders := m.ActiveOrders()
	surplus := len(orders) - m.cfg.MaxActiveOrders
	if surplus <= 0 {
		return
	}
	victims := orders[:surplus] // ActiveOrders is oldest-first
	m.log.Warn("ORDER: active set over limit, cancelling oldest",
		slog.Int("active", len(orders)), slog.Int("surplus", surplus))
	go func() {
		for _, o := range victims {
			if err := m.cancelOne(ctx, o.ID); err != nil {
				m.log.Warn("ORDER: excess cancel failed",
					slog.String("id", o.ID), slog.Any("error", err))
			}
		}
	}()
}

// Reconcile merges the venue's open-order list into the local view. Venue
// existence is trusted, but every status change passes the monotonic-apply
// rule so a stale read can never revive a terminal order. A nil list means
// transport failure and never clears local state.
func (m *Manager) Reconcile(ctx context.Context) error {
	remote, err := m.gw.GetOpenOrders(ctx, m.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if remote == nil {
		return fmt.Errorf("reconcile: %w", gateway.ErrTransport)
	}

	seen := make(map[string]domain.Order, len(remote))
	for _, o := range remote {
		seen[o.ID] = o
	}

	now := m.clock.Now().UnixMicro()
	var missing []string

	m.mu.Lock()
	for id, local := range m.active {
		if r, ok := seen[id]; ok {
			local.ApplyStatus(r.Status)
			if r.FilledAmount > local.FilledAmount {
				local.FilledAmount = r.FilledAmount
			}
			local.LastSeenUnixM = now
		} else {
			missing = append(missing, id)
		}
	}
	for id, r := range seen {
		if _, ok := m.active[id]; !ok && r.IsOpen() {
			cp := r
			cp.LastSeenUnixM = now
			m.active[id] = &cp
			if cp.ClientToken != "" {
				m.byToken[cp.ClientToken] = id
			}
			m.log.Info("ORDER: adopted untracked venue order",
				slog.String("id", id), slog.String("side", string(cp.Side)))
		}
	}
	m.mu.Unlock()

	// Locally-known but absent from the open list: re-fetch directly.
	// NotFound on the re-fetch means the venue dropped it, treat canceled.
	for _, id := range missing {
		fetched, ferr := m.gw.GetOrder(ctx, id)
		m.mu.Lock()
		local, ok := m.active[id]
		if ok {
			switch {
			case ferr == nil && fetched != nil:
				local.ApplyStatus(fetched.Status)
				if fetched.FilledAmount > local.FilledAmount {
					local.FilledAmount = fetched.FilledAmount
				}
				local.LastSeenUnixM = now
			case isNotFound(ferr):
				local.ApplyStatus(domain.StatusCanceled)
			default:
				// Transient fetch failure, keep the order as-is.
			}
		}
		m.mu.Unlock()
	}

	m.sweepTerminal()
	return nil
}

// HandleOrderUpdate applies a pushed venue order event.
func (m *Manager) HandleOrderUpdate(o domain.Order) {
	m.mu.Lock()
	local, ok := m.active[o.ID]
	if ok {
		local.ApplyStatus(o.Status)
		if o.FilledAmount > local.FilledAmount {
			local.FilledAmount = o.FilledAmount
		}
		local.LastSeenUnixM = m.clock.Now().UnixMicro()
	} else if o.IsOpen() && o.Symbol == m.cfg.Symbol {
		cp := o
		m.active[o.ID] = &cp
		if cp.ClientToken != "" {
			m.byToken[cp.ClientToken] = o.ID
		}
	}
	m.mu.Unlock()

	m.sweepTerminal()
}

// sweepTerminal drops terminal orders from the active set, booking the
// fill PnL estimate and arming the refresh bypass for filled ones.
func (m *Manager) sweepTerminal() {
	var fills []domain.Order

	m.mu.Lock()
	for id, o := range m.active {
		if !o.Status.IsTerminal() {
			continue
		}
		if o.Status == domain.StatusFilled {
			fills = append(fills, *o)
			m.forceRefresh = true
		}
		delete(m.active, id)
		if o.ClientToken != "" {
			delete(m.byToken, o.ClientToken)
		}
	}
	spread := m.lastQuote.Spread
	m.mu.Unlock()

	for _, o := range fills {
		amount := o.FilledAmount
		if amount <= 0 {
			amount = o.Amount
		}
		// Half-spread capture, signed by side: buys book positive, sells
		// negative, so fill flow can move daily PnL in both directions.
		pnl := amount * spread / 2
		if o.Side == domain.SideSell {
			pnl = -pnl
		}
		m.log.Info("ORDER: filled",
			slog.String("id", o.ID),
			slog.String("side", string(o.Side)),
			slog.Float64("price", o.Price),
			slog.Float64("amount", amount),
			slog.Float64("pnl", pnl))
		if m.pnl != nil {
			m.pnl.RecordFill(pnl)
		}
		if m.fillSink != nil {
			m.fillSink(o, pnl)
		}
	}
}
