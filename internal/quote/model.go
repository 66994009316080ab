package quote

import (
	"math"
	"sync"

	"maker_go/internal/domain"
	"maker_go/pkg/quant"
)

// Config holds the Avellaneda-Stoikov model parameters.
type Config struct {
	RiskFactor           float64 // gamma: scales the variance/time penalty
	ShapeFactor          float64 // eta: exponential size-decay sensitivity
	InventoryTargetRatio float64 // target base exposure as a ratio of total value
	MinSpread            float64
	MaxSpread            float64 // 0 disables the cap
	HorizonSeconds       float64 // T
	OrderSize            float64 // base size per side before skew adjustment
	MaxPositionSize      float64
	PricePrecision       int
	AmountPrecision      int
}

// Model computes bid/ask quotes from market signals and inventory state.
// All methods are total: invalid inputs degrade to documented safe defaults
// (min spread, zero size, invalid-quote sentinel) and never panic. The only
// mutable state is the last-computed snapshot kept for status reporting.
type Model struct {
	cfg Config

	mu   sync.RWMutex
	last domain.Quote
}

// NewModel creates a quote model.
func NewModel(cfg Config) *Model {
	return &Model{cfg: cfg}
}

// OptimalSpread returns gamma*sigma^2*T + (2/gamma)*ln(1 + gamma/k).
// Degraded inputs (sigma <= 0 or k <= 0) return exactly the configured
// minimum spread; zero intensity usually means an empty or thin book, so
// the caller should log provenance before trading on it. The result is
// floored at MinSpread and capped at MaxSpread when one is configured.
func (m *Model) OptimalSpread(sigma, k float64) float64 {
	if sigma <= 0 || k <= 0 {
		return m.cfg.MinSpread
	}

	gamma := m.cfg.RiskFactor
	riskTerm := gamma * sigma * sigma * m.cfg.HorizonSeconds
	liquidityTerm := (2 / gamma) * math.Log(1+gamma/k)
	spread := riskTerm + liquidityTerm

	if m.cfg.MaxSpread > 0 && spread > m.cfg.MaxSpread {
		spread = m.cfg.MaxSpread
	}
	if spread < m.cfg.MinSpread {
		spread = m.cfg.MinSpread
	}
	return spread
}

// OptimalPrices centers the spread on the mid price and rounds to venue
// price precision. A non-positive mid returns the (0, 0) invalid-quote
// sentinel which callers must never submit.
func (m *Model) OptimalPrices(mid, spread float64) (bid, ask float64) {
	if mid <= 0 {
		return 0, 0
	}
	half := spread / 2
	bid = quant.RoundPrice(mid-half, m.cfg.PricePrecision)
	ask = quant.RoundPrice(mid+half, m.cfg.PricePrecision)
	return bid, ask
}

// InventorySkew returns (current - target) / total, or 0 when total <= 0.
func InventorySkew(current, target, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return (current - target) / total
}

// TargetInventory returns (totalValue * targetRatio) / price, or 0 on an
// invalid price.
func TargetInventory(totalValue, price, targetRatio float64) float64 {
	if price <= 0 {
		return 0
	}
	return totalValue * targetRatio / price
}

// SizeForSide applies asymmetric exponential decay to the base size:
// buying while already long of target shrinks the bid size, selling while
// short of target shrinks the ask size. The result is clamped to
// [0, MaxPositionSize] and floor-truncated to venue amount precision, so
// the committed size never exceeds the computed one.
func (m *Model) SizeForSide(baseSize, skew float64, isBuySide bool) float64 {
	size := baseSize
	eta := m.cfg.ShapeFactor

	switch {
	case isBuySide && skew > 0:
		size *= math.Exp(-eta * skew)
	case !isBuySide && skew < 0:
		size *= math.Exp(eta * skew)
	}

	if size < 0 {
		size = 0
	}
	if m.cfg.MaxPositionSize > 0 && size > m.cfg.MaxPositionSize {
		size = m.cfg.MaxPositionSize
	}
	return quant.FloorAmount(size, m.cfg.AmountPrecision)
}

// Inventory derives the per-tick inventory cache from venue balances.
func (m *Model) Inventory(bal domain.Balances, mid float64) domain.InventoryState {
	total := bal.Base*mid + bal.Quote
	return domain.InventoryState{
		BaseAmount:      bal.Base,
		QuoteAmount:     bal.Quote,
		CurrentPosition: bal.Base,
		TargetPosition:  TargetInventory(total, mid, m.cfg.InventoryTargetRatio),
		TotalValue:      total,
	}
}

// Compute assembles the full quote snapshot for one cycle and retains it
// for status reporting.
func (m *Model) Compute(mid, sigma, k float64, inv domain.InventoryState, nowUnixM int64) domain.Quote {
	spread := m.OptimalSpread(sigma, k)
	bid, ask := m.OptimalPrices(mid, spread)
	skew := InventorySkew(inv.CurrentPosition, inv.TargetPosition, inv.TotalValue)

	q := domain.Quote{
		Bid:           bid,
		Ask:           ask,
		Spread:        spread,
		InventorySkew: skew,
		BidSize:       m.SizeForSide(m.cfg.OrderSize, skew, true),
		AskSize:       m.SizeForSide(m.cfg.OrderSize, skew, false),
		ComputedUnixM: nowUnixM,
	}

	m.mu.Lock()
	m.last = q
	m.mu.Unlock()
	return q
}

// Last returns the most recently computed quote (external read).
func (m *Model) Last() domain.Quote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}
