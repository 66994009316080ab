package domain

// Severity grades a risk event.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Risk event kinds.
const (
	RiskPositionLimit      = "POSITION_LIMIT"
	RiskStopLoss           = "STOP_LOSS"
	RiskDrawdown           = "DRAWDOWN"
	RiskDailyLoss          = "DAILY_LOSS"
	RiskEmergencyThreshold = "EMERGENCY_THRESHOLD"
	RiskDailyReset         = "DAILY_RESET"
	RiskEmergencyReset     = "EMERGENCY_RESET"
)

// RiskEvent is an immutable record appended to history when a check fires.
type RiskEvent struct {
	Kind     string             `json:"kind"`
	Severity Severity           `json:"severity"`
	Message  string             `json:"message"`
	Data     map[string]float64 `json:"data,omitempty"`
	TsUnixM  int64              `json:"ts_unix"`
}

// RiskState aggregates the account-level risk picture. It is recomputed
// from fresh inputs every tick; only EmergencyStopped and PeakAccountValue
// carry across ticks (the latter monotonically).
type RiskState struct {
	RealizedPnL         float64 `json:"realized_pnl"`
	UnrealizedPnL       float64 `json:"unrealized_pnl"`
	TotalPnL            float64 `json:"total_pnl"`
	PeakAccountValue    float64 `json:"peak_account_value"`
	CurrentAccountValue float64 `json:"current_account_value"`
	DailyPnL            float64 `json:"daily_pnl"`
	DailyResetUnixM     int64   `json:"daily_reset_unix"`
	EmergencyStopped    bool    `json:"emergency_stopped"`
}

// Drawdown returns the percentage decline from the peak account value.
// Always >= 0; 0 when no peak has been observed yet.
func (s RiskState) Drawdown() float64 {
	if s.PeakAccountValue <= 0 {
		return 0
	}
	dd := (s.PeakAccountValue - s.CurrentAccountValue) / s.PeakAccountValue * 100
	if dd < 0 {
		return 0
	}
	return dd
}
