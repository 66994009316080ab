package risk

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"maker_go/internal/domain"
	"maker_go/internal/infra"
)

// Admission gate rejection reasons.
var (
	ErrEmergencyStopped = errors.New("EMERGENCY_STOPPED: order admission blocked")
	ErrOrderSizeLimit   = errors.New("ORDER_SIZE_LIMIT: amount exceeds per-order cap")
	ErrOrderValueLimit  = errors.New("ORDER_VALUE_LIMIT: notional exceeds per-order cap")
)

// Status is the governor's gating state.
type Status int

const (
	StatusNormal Status = iota
	StatusWarning
	StatusEmergencyStopped
)

func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "NORMAL"
	case StatusWarning:
		return "WARNING"
	case StatusEmergencyStopped:
		return "EMERGENCY_STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config holds the percentage-of-account-value thresholds.
type Config struct {
	MaxPositionValuePercent       float64
	StopLossPercent               float64
	StopLossAmountPercent         float64
	MaxDrawdownPercent            float64
	MaxDailyLossPercent           float64
	MaxOrderSizePercent           float64
	MaxOrderValuePercent          float64
	EmergencyStopThresholdPercent float64
}

// Advice carries the non-blocking advisories raised by High/Medium events.
// The orchestrator reads it each tick; it clears when the condition clears.
type Advice struct {
	ReducePosition   bool
	AdjustParameters bool
}

const dailyWindow = 24 * time.Hour

// Governor is the risk state machine gating every order. Warning states
// auto-recover once the triggering condition clears; EmergencyStopped is
// latched and only an explicit external reset releases it.
type Governor struct {
	cfg   Config
	clock infra.Clock

	mu          sync.Mutex
	state       domain.RiskState
	status      Status
	warningKind string
	advice      Advice
	active      map[string]bool
	events      []domain.RiskEvent
	maxEvents   int
	sink        func(domain.RiskEvent)
}

// NewGovernor creates a governor. sink, when non-nil, receives every emitted
// event for persistence; it is called outside the governor's lock.
func NewGovernor(cfg Config, clock infra.Clock, sink func(domain.RiskEvent)) *Governor {
	g := &Governor{
		cfg:       cfg,
		clock:     clock,
		active:    make(map[string]bool),
		maxEvents: 256,
		sink:      sink,
	}
	g.state.DailyResetUnixM = clock.Now().UnixMicro()
	return g
}

// RestorePeak seeds the monotonic peak account value, typically from
// persisted history at startup. Lower values than the current peak are
// ignored.
func (g *Governor) RestorePeak(peak float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if peak > g.state.PeakAccountValue {
		g.state.PeakAccountValue = peak
	}
}

// UpdateAccount refreshes the account-level picture from this tick's
// inputs. PeakAccountValue only ever ratchets upward.
func (g *Governor) UpdateAccount(accountValue, unrealizedPnL float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.CurrentAccountValue = accountValue
	if accountValue > g.state.PeakAccountValue {
		g.state.PeakAccountValue = accountValue
	}
	g.state.UnrealizedPnL = unrealizedPnL
	g.state.TotalPnL = g.state.RealizedPnL + unrealizedPnL
}

// RecordFill books a realized PnL contribution from a fill.
func (g *Governor) RecordFill(pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.RealizedPnL += pnl
	g.state.DailyPnL += pnl
	g.state.TotalPnL = g.state.RealizedPnL + g.state.UnrealizedPnL
}

// CheckLimits runs every threshold check against the current state and
// returns the events emitted this pass. Checks are edge-triggered: a
// condition fires once when it becomes true and re-arms when it clears.
func (g *Governor) CheckLimits(positionValue float64) []domain.RiskEvent {
	g.mu.Lock()

	var emitted []domain.RiskEvent
	if ev, rolled := g.rollDailyWindowLocked(); rolled {
		emitted = append(emitted, ev)
	}

	account := g.state.CurrentAccountValue
	dd := g.state.Drawdown()

	type check struct {
		kind      string
		severity  domain.Severity
		triggered bool
		message   string
		data      map[string]float64
	}

	checks := []check{
		{
			kind:      domain.RiskPositionLimit,
			severity:  domain.SeverityHigh,
			triggered: account > 0 && math.Abs(positionValue) > account*g.cfg.MaxPositionValuePercent/100,
			message:   "position value exceeds account limit",
			data:      map[string]float64{"position_value": positionValue, "account_value": account},
		},
		{
			kind:     domain.RiskStopLoss,
			severity: domain.SeverityCritical,
			triggered: g.state.UnrealizedPnL < 0 && account > 0 &&
				g.state.UnrealizedPnL < -account*math.Min(g.cfg.StopLossAmountPercent, g.cfg.StopLossPercent)/100,
			message: "unrealized loss breached stop-loss",
			data:    map[string]float64{"unrealized_pnl": g.state.UnrealizedPnL, "account_value": account},
		},
		{
			kind:      domain.RiskDrawdown,
			severity:  domain.SeverityMedium,
			triggered: dd > g.cfg.MaxDrawdownPercent,
			message:   "drawdown exceeds limit",
			data:      map[string]float64{"drawdown": dd},
		},
		{
			kind:      domain.RiskDailyLoss,
			severity:  domain.SeverityHigh,
			triggered: account > 0 && g.state.DailyPnL < -account*g.cfg.MaxDailyLossPercent/100,
			message:   "daily loss exceeds limit",
			data:      map[string]float64{"daily_pnl": g.state.DailyPnL, "account_value": account},
		},
		{
			kind:      domain.RiskEmergencyThreshold,
			severity:  domain.SeverityCritical,
			triggered: dd > g.cfg.EmergencyStopThresholdPercent,
			message:   "drawdown breached emergency stop threshold",
			data:      map[string]float64{"drawdown": dd},
		},
	}

	anyWarning := false
	warningKind := ""
	for _, c := range checks {
		if c.triggered {
			anyWarning = true
			if warningKind == "" {
				warningKind = c.kind
			}
			if !g.active[c.kind] {
				g.active[c.kind] = true
				ev := g.emitLocked(c.kind, c.severity, c.message, c.data)
				emitted = append(emitted, ev)
				g.applySeverityLocked(c.severity)
			}
		} else {
			g.active[c.kind] = false
		}
	}

	// Warning auto-recovers; the emergency latch never does.
	if !g.state.EmergencyStopped {
		if anyWarning {
			g.status = StatusWarning
			g.warningKind = warningKind
		} else {
			g.status = StatusNormal
			g.warningKind = ""
			g.advice = Advice{}
		}
	}

	sink := g.sink
	g.mu.Unlock()

	if sink != nil {
		for _, ev := range emitted {
			sink(ev)
		}
	}
	return emitted
}

// rollDailyWindowLocked resets dailyPnL every rolling 24h from the last
// reset. The archive event for the closed window is returned so the caller
// forwards it to the sink alongside the threshold events.
func (g *Governor) rollDailyWindowLocked() (domain.RiskEvent, bool) {
	now := g.clock.Now().UnixMicro()
	if now-g.state.DailyResetUnixM < dailyWindow.Microseconds() {
		return domain.RiskEvent{}, false
	}
	prior := g.state.DailyPnL
	ev := g.emitLocked(domain.RiskDailyReset, domain.SeverityLow, "daily PnL window closed",
		map[string]float64{"daily_pnl": prior})
	g.state.DailyPnL = 0
	g.state.DailyResetUnixM = now
	return ev, true
}

func (g *Governor) applySeverityLocked(sev domain.Severity) {
	switch sev {
	case domain.SeverityCritical:
		if !g.state.EmergencyStopped {
			g.state.EmergencyStopped = true
			g.status = StatusEmergencyStopped
			slog.Error("RISK: EMERGENCY STOP latched, all order admission blocked")
		}
	case domain.SeverityHigh:
		g.advice.ReducePosition = true
	case domain.SeverityMedium:
		g.advice.AdjustParameters = true
	}
}

func (g *Governor) emitLocked(kind string, sev domain.Severity, msg string, data map[string]float64) domain.RiskEvent {
	ev := domain.RiskEvent{
		Kind:     kind,
		Severity: sev,
		Message:  msg,
		Data:     data,
		TsUnixM:  g.clock.Now().UnixMicro(),
	}
	g.events = append(g.events, ev)
	if len(g.events) > g.maxEvents {
		g.events = g.events[len(g.events)-g.maxEvents:]
	}
	slog.Warn("RISK_EVENT",
		slog.String("kind", kind),
		slog.String("severity", string(sev)),
		slog.String("msg", msg))
	return ev
}

// ValidateOrder is the single admission-control gate every order request
// passes through. It rejects everything while the emergency stop is
// latched, then enforces the per-order size and notional caps.
func (g *Governor) ValidateOrder(side domain.Side, amount, price float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.EmergencyStopped {
		return ErrEmergencyStopped
	}

	account := g.state.CurrentAccountValue
	if account <= 0 || price <= 0 {
		return nil
	}

	if g.cfg.MaxOrderSizePercent > 0 {
		maxAmount := account * g.cfg.MaxOrderSizePercent / 100 / price
		if amount > maxAmount {
			return fmt.Errorf("%w: amount %.8f > cap %.8f (%s)", ErrOrderSizeLimit, amount, maxAmount, side)
		}
	}
	if g.cfg.MaxOrderValuePercent > 0 {
		maxValue := account * g.cfg.MaxOrderValuePercent / 100
		if amount*price > maxValue {
			return fmt.Errorf("%w: value %.2f > cap %.2f (%s)", ErrOrderValueLimit, amount*price, maxValue, side)
		}
	}
	return nil
}

// EmergencyStop latches the stop from outside the periodic checks (e.g.
// the orchestrator's failure ceiling).
func (g *Governor) EmergencyStop(reason string) {
	g.mu.Lock()
	ev := g.emitLocked(domain.RiskEmergencyThreshold, domain.SeverityCritical, reason, nil)
	g.applySeverityLocked(domain.SeverityCritical)
	sink := g.sink
	g.mu.Unlock()

	if sink != nil {
		sink(ev)
	}
}

// ResetEmergencyStop releases the latch. This is an explicit external
// action, never automatic.
func (g *Governor) ResetEmergencyStop() {
	g.mu.Lock()
	ev := g.emitLocked(domain.RiskEmergencyReset, domain.SeverityLow, "emergency stop reset by operator", nil)
	g.state.EmergencyStopped = false
	g.status = StatusNormal
	g.warningKind = ""
	g.advice = Advice{}
	sink := g.sink
	g.mu.Unlock()

	if sink != nil {
		sink(ev)
	}
}

// State returns a copy of the current risk state.
func (g *Governor) State() domain.RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Status returns the gating state and, in Warning, the triggering kind.
func (g *Governor) Status() (Status, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status, g.warningKind
}

// Advice returns the current non-blocking advisories.
func (g *Governor) Advice() Advice {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.advice
}

// Events returns up to n most recent risk events, newest last.
func (g *Governor) Events(n int) []domain.RiskEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n <= 0 || n > len(g.events) {
		n = len(g.events)
	}
	out := make([]domain.RiskEvent, n)
	copy(out, g.events[len(g.events)-n:])
	return out
}
