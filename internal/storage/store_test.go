package storage

import (
	"context"
	"testing"

	"maker_go/internal/domain"
)

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := NewHistoryStore(t.TempDir() + "/history.db")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHistoryStore_RiskEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	events := []domain.RiskEvent{
		{Kind: domain.RiskDrawdown, Severity: domain.SeverityMedium,
			Message: "drawdown exceeds limit", Data: map[string]float64{"drawdown": 12.5}, TsUnixM: 1000},
		{Kind: domain.RiskEmergencyThreshold, Severity: domain.SeverityCritical,
			Message: "drawdown breached emergency stop threshold", TsUnixM: 2000},
	}
	for _, ev := range events {
		if err := store.SaveRiskEvent(ctx, ev); err != nil {
			t.Fatalf("SaveRiskEvent: %v", err)
		}
	}

	got, err := store.RecentRiskEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRiskEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	// Newest first.
	if got[0].Kind != domain.RiskEmergencyThreshold {
		t.Errorf("got[0].Kind = %s, want emergency threshold event first", got[0].Kind)
	}
	if got[1].Severity != domain.SeverityMedium {
		t.Errorf("got[1].Severity = %s, want MEDIUM", got[1].Severity)
	}
	if got[1].Data["drawdown"] != 12.5 {
		t.Errorf("event data not round-tripped: %v", got[1].Data)
	}
}

func TestHistoryStore_FillAggregates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fills := []struct {
		order domain.Order
		pnl   float64
	}{
		{domain.Order{ID: "1", Symbol: "BTCUSDT", Side: domain.SideBuy,
			Price: 100.5, Amount: 0.05, FilledAmount: 0.05, LastSeenUnixM: 1}, 0.01},
		{domain.Order{ID: "2", Symbol: "BTCUSDT", Side: domain.SideSell,
			Price: 101.0, Amount: 0.03, FilledAmount: 0.03, LastSeenUnixM: 2}, 0.006},
		{domain.Order{ID: "3", Symbol: "ETHUSDT", Side: domain.SideBuy,
			Price: 10.0, Amount: 1, FilledAmount: 1, LastSeenUnixM: 3}, 0.1},
	}
	for _, f := range fills {
		if err := store.SaveFill(ctx, f.order, f.pnl); err != nil {
			t.Fatalf("SaveFill: %v", err)
		}
	}

	stats, err := store.FillStatsFor(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("FillStatsFor: %v", err)
	}
	if stats.Count != 2 {
		t.Errorf("Count = %d, want 2", stats.Count)
	}
	if want := int64(5_000_000 + 3_000_000); stats.TotalQtySats != want {
		t.Errorf("TotalQtySats = %d, want %d", stats.TotalQtySats, want)
	}
	if want := int64(10_000 + 6_000); stats.TotalPnLMicros != want {
		t.Errorf("TotalPnLMicros = %d, want %d", stats.TotalPnLMicros, want)
	}
}

func TestHistoryStore_PeakAccountValueRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	peak, err := store.LoadPeakAccountValue(ctx)
	if err != nil {
		t.Fatalf("LoadPeakAccountValue: %v", err)
	}
	if peak != 0 {
		t.Errorf("peak = %v on a fresh store, want 0", peak)
	}

	if err := store.SavePeakAccountValue(ctx, 10234.56, 1000); err != nil {
		t.Fatalf("SavePeakAccountValue: %v", err)
	}
	if err := store.SavePeakAccountValue(ctx, 11000.01, 2000); err != nil {
		t.Fatalf("SavePeakAccountValue: %v", err)
	}

	peak, err = store.LoadPeakAccountValue(ctx)
	if err != nil {
		t.Fatalf("LoadPeakAccountValue: %v", err)
	}
	if peak != 11000.01 {
		t.Errorf("peak = %v, want 11000.01", peak)
	}
}
