package infra

import (
	"os"
	"path/filepath"
	"testing"
)

const validYAML = `
trading:
  mode: "PAPER"
  symbol: "BTCUSDT"
quote:
  risk_factor: 0.1
  shape_factor: 0.5
  inventory_target_ratio: 0.5
  min_spread: 0.5
  horizon_seconds: 60
  order_size: 0.001
  price_precision: 2
  amount_precision: 4
orders:
  refresh_interval_ms: 5000
  max_active_orders: 4
loop:
  interval_ms: 1000
api:
  bitget:
    access_key: "file-key"
logging:
  level: "debug"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Trading.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %s", cfg.Trading.Symbol)
	}
	if cfg.Quote.RiskFactor != 0.1 {
		t.Errorf("risk_factor = %v", cfg.Quote.RiskFactor)
	}
	if cfg.Orders.MaxActiveOrders != 4 {
		t.Errorf("max_active_orders = %d", cfg.Orders.MaxActiveOrders)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %s", cfg.Logging.Level)
	}
}

func TestLoadConfig_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("MAKER_BITGET_KEY", "env-key")
	t.Setenv("MAKER_BITGET_SECRET", "env-secret")
	t.Setenv("MAKER_BITGET_PASSPHRASE", "env-pass")

	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.API.Bitget.AccessKey != "env-key" {
		t.Errorf("access key = %s, want env-key", cfg.API.Bitget.AccessKey)
	}
	if cfg.API.Bitget.SecretKey != "env-secret" {
		t.Errorf("secret key = %s, want env-secret", cfg.API.Bitget.SecretKey)
	}
	if cfg.API.Bitget.Passphrase != "env-pass" {
		t.Errorf("passphrase = %s, want env-pass", cfg.API.Bitget.Passphrase)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"MissingSymbol", `
trading:
  mode: "PAPER"
quote:
  risk_factor: 0.1
  min_spread: 0.5
  order_size: 0.001
orders:
  max_active_orders: 4
loop:
  interval_ms: 1000
`},
		{"ZeroRiskFactor", `
trading:
  symbol: "BTCUSDT"
quote:
  min_spread: 0.5
  order_size: 0.001
orders:
  max_active_orders: 4
loop:
  interval_ms: 1000
`},
		{"MaxSpreadBelowMin", `
trading:
  symbol: "BTCUSDT"
quote:
  risk_factor: 0.1
  min_spread: 0.5
  max_spread: 0.2
  order_size: 0.001
orders:
  max_active_orders: 4
loop:
  interval_ms: 1000
`},
		{"ZeroLoopInterval", `
trading:
  symbol: "BTCUSDT"
quote:
  risk_factor: 0.1
  min_spread: 0.5
  order_size: 0.001
orders:
  max_active_orders: 4
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.yaml)); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
