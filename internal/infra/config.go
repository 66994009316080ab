package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every application setting. LoadConfig reads the YAML file and
// then lets environment variables override the sensitive values.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode   string `yaml:"mode"` // "PAPER" or "REAL"
		Symbol string `yaml:"symbol"`
	} `yaml:"trading"`

	Quote struct {
		RiskFactor           float64 `yaml:"risk_factor"`            // gamma
		ShapeFactor          float64 `yaml:"shape_factor"`           // eta
		InventoryTargetRatio float64 `yaml:"inventory_target_ratio"` // 0..1 of total value
		MinSpread            float64 `yaml:"min_spread"`
		MaxSpread            float64 `yaml:"max_spread"` // 0 disables the cap
		HorizonSeconds       float64 `yaml:"horizon_seconds"`
		OrderSize            float64 `yaml:"order_size"`
		MaxPositionSize      float64 `yaml:"max_position_size"`
		PricePrecision       int     `yaml:"price_precision"`
		AmountPrecision      int     `yaml:"amount_precision"`
	} `yaml:"quote"`

	Risk struct {
		MaxPositionValuePercent       float64 `yaml:"max_position_value_percent"`
		StopLossPercent               float64 `yaml:"stop_loss_percent"`
		StopLossAmountPercent         float64 `yaml:"stop_loss_amount_percent"`
		MaxDrawdownPercent            float64 `yaml:"max_drawdown_percent"`
		MaxDailyLossPercent           float64 `yaml:"max_daily_loss_percent"`
		MaxOrderSizePercent           float64 `yaml:"max_order_size_percent"`
		MaxOrderValuePercent          float64 `yaml:"max_order_value_percent"`
		EmergencyStopThresholdPercent float64 `yaml:"emergency_stop_threshold_percent"`
	} `yaml:"risk"`

	Orders struct {
		RefreshIntervalMs    int     `yaml:"refresh_interval_ms"`
		PriceChangeThreshold float64 `yaml:"price_change_threshold"` // relative, e.g. 0.001
		MaxActiveOrders      int     `yaml:"max_active_orders"`
		SubmitTimeoutMs      int     `yaml:"submit_timeout_ms"`
		ConfirmDelayMs       int     `yaml:"confirm_delay_ms"`
		RetryCount           int     `yaml:"retry_count"`
		RetryDelayMs         int     `yaml:"retry_delay_ms"`
	} `yaml:"orders"`

	Loop struct {
		IntervalMs           int `yaml:"interval_ms"`
		MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`
		CancelTimeoutMs      int `yaml:"cancel_timeout_ms"`
	} `yaml:"loop"`

	Indicator struct {
		WindowSize             int `yaml:"window_size"`
		IntensityWindowSeconds int `yaml:"intensity_window_seconds"`
	} `yaml:"indicator"`

	Paper struct {
		BaseBalance  float64 `yaml:"base_balance"`
		QuoteBalance float64 `yaml:"quote_balance"`
	} `yaml:"paper"`

	Storage struct {
		DataDir string `yaml:"data_dir"` // defaults to _workspace/data/{mode}
	} `yaml:"storage"`

	API struct {
		Bitget struct {
			WSURL      string `yaml:"ws_url"`
			RestURL    string `yaml:"rest_url"`
			AccessKey  string `yaml:"access_key"`
			SecretKey  string `yaml:"secret_key"`
			Passphrase string `yaml:"passphrase"`
		} `yaml:"bitget"`
	} `yaml:"api"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Trading.Symbol == "" {
		return fmt.Errorf("trading symbol is required")
	}
	if c.Quote.RiskFactor <= 0 {
		return fmt.Errorf("risk_factor must be positive")
	}
	if c.Quote.ShapeFactor < 0 {
		return fmt.Errorf("shape_factor must not be negative")
	}
	if c.Quote.MinSpread <= 0 {
		return fmt.Errorf("min_spread must be positive")
	}
	if c.Quote.MaxSpread > 0 && c.Quote.MaxSpread < c.Quote.MinSpread {
		return fmt.Errorf("max_spread must be >= min_spread")
	}
	if c.Quote.OrderSize <= 0 {
		return fmt.Errorf("order_size must be positive")
	}
	if c.Quote.PricePrecision < 0 || c.Quote.AmountPrecision < 0 {
		return fmt.Errorf("precision must not be negative")
	}
	if c.Orders.MaxActiveOrders <= 0 {
		return fmt.Errorf("max_active_orders must be positive")
	}
	if c.Loop.IntervalMs <= 0 {
		return fmt.Errorf("loop interval must be positive")
	}
	return nil
}

// overrideWithEnv applies environment variables over file values so API
// secrets never have to live in the config file.
func overrideWithEnv(cfg *Config) {
	if cfg.API.Bitget.SecretKey != "" {
		fmt.Println("SECURITY WARNING: API secrets found in config file.")
		fmt.Println("   Recommendation: use MAKER_BITGET_KEY / MAKER_BITGET_SECRET / MAKER_BITGET_PASSPHRASE instead.")
	}

	if key := os.Getenv("MAKER_BITGET_KEY"); key != "" {
		cfg.API.Bitget.AccessKey = key
	}
	if secret := os.Getenv("MAKER_BITGET_SECRET"); secret != "" {
		cfg.API.Bitget.SecretKey = secret
	}
	if pass := os.Getenv("MAKER_BITGET_PASSPHRASE"); pass != "" {
		cfg.API.Bitget.Passphrase = pass
	}
}
