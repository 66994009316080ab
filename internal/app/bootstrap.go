package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"maker_go/internal/domain"
	"maker_go/internal/engine"
	"maker_go/internal/gateway"
	"maker_go/internal/indicator"
	"maker_go/internal/infra"
	"maker_go/internal/infra/bitget"
	"maker_go/internal/order"
	"maker_go/internal/quote"
	"maker_go/internal/risk"
	"maker_go/internal/storage"
	"maker_go/pkg/quant"
)

const (
	defaultIndicatorWindow    = 120
	defaultIntensityWindowSec = 60
)

// Bootstrap wires the full strategy stack: config, storage, risk governor,
// quote model, order manager, venue gateway and the loop that drives them.
type Bootstrap struct {
	Config    *infra.Config
	Store     *storage.HistoryStore
	Governor  *risk.Governor
	Model     *quote.Model
	Indicator *indicator.Rolling
	Orders    *order.Manager
	Gateway   gateway.Gateway
	Loop      *engine.Loop
}

// NewBootstrap creates an empty Bootstrap.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize builds every component from the config file. Persistence and
// connectivity failures here are fatal; nothing trades on a half-wired
// stack.
func (b *Bootstrap) Initialize(configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	mode := strings.ToLower(cfg.Trading.Mode)
	if mode == "" {
		mode = "paper"
	}

	dataDir := cfg.Storage.DataDir
	if dataDir == "" {
		dataDir = filepath.Join("_workspace", "data", mode)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := storage.NewHistoryStore(filepath.Join(dataDir, "history.db"))
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	b.Store = store
	logger.Info("APP: history store ready", slog.String("dir", dataDir), slog.String("mode", mode))
	logPriorSession(store, cfg.Trading.Symbol, logger)

	clock := infra.SystemClock{}

	// Risk events are persisted as they fire so post-mortems survive a
	// crash. A failed write must never block the trading path.
	sink := func(ev domain.RiskEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := store.SaveRiskEvent(ctx, ev); err != nil {
			logger.Warn("APP: risk event not persisted", slog.Any("error", err))
		}
	}
	b.Governor = risk.NewGovernor(riskConfig(cfg), clock, sink)

	peak, err := store.LoadPeakAccountValue(context.Background())
	if err != nil {
		logger.Warn("APP: peak account value not restored", slog.Any("error", err))
	} else if peak > 0 {
		b.Governor.RestorePeak(peak)
		logger.Info("APP: peak account value restored", slog.Float64("peak", peak))
	}

	b.Model = quote.NewModel(quoteConfig(cfg))

	window := cfg.Indicator.WindowSize
	if window < 2 {
		window = defaultIndicatorWindow
	}
	intensityWindow := time.Duration(cfg.Indicator.IntensityWindowSeconds) * time.Second
	if intensityWindow <= 0 {
		intensityWindow = defaultIntensityWindowSec * time.Second
	}
	b.Indicator = indicator.NewRolling(window, intensityWindow, clock)

	gw, err := b.buildGateway(mode, logger)
	if err != nil {
		return err
	}
	b.Gateway = gw

	b.Orders = order.NewManager(orderConfig(cfg), gw, clock, b.Governor, logger)
	b.Orders.SetFillSink(func(o domain.Order, pnl float64) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := store.SaveFill(ctx, o, pnl); err != nil {
			logger.Warn("APP: fill not persisted", slog.Any("error", err))
		}
	})

	b.Loop = engine.NewLoop(loopConfig(cfg), gw, b.Model, b.Governor, b.Orders, b.Indicator, clock, logger)
	return nil
}

// logPriorSession surfaces what history already holds for this symbol so
// an operator restarting after an emergency stop sees the context first.
func logPriorSession(store *storage.HistoryStore, symbol string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stats, err := store.FillStatsFor(ctx, symbol)
	if err != nil {
		logger.Warn("APP: fill history unavailable", slog.Any("error", err))
	} else if stats.Count > 0 {
		logger.Info("APP: prior fills",
			slog.String("symbol", symbol),
			slog.Int("count", stats.Count),
			slog.String("total_qty", quant.QtySats(stats.TotalQtySats).String()),
			slog.String("total_pnl", quant.PriceMicros(stats.TotalPnLMicros).String()))
	}

	events, err := store.RecentRiskEvents(ctx, 5)
	if err != nil {
		logger.Warn("APP: risk history unavailable", slog.Any("error", err))
	}
	for _, ev := range events {
		logger.Info("APP: prior risk event",
			slog.String("kind", ev.Kind),
			slog.String("severity", string(ev.Severity)),
			slog.String("msg", ev.Message))
	}
}

func (b *Bootstrap) buildGateway(mode string, logger *slog.Logger) (gateway.Gateway, error) {
	cfg := b.Config
	switch mode {
	case "paper":
		base := cfg.Paper.BaseBalance
		quoteBal := cfg.Paper.QuoteBalance
		if base == 0 && quoteBal == 0 {
			quoteBal = 10_000
		}
		return gateway.NewPaperGateway(cfg.Trading.Symbol, base, quoteBal), nil
	case "real":
		if cfg.API.Bitget.AccessKey == "" || cfg.API.Bitget.SecretKey == "" {
			return nil, fmt.Errorf("real mode requires API credentials (MAKER_BITGET_KEY / MAKER_BITGET_SECRET / MAKER_BITGET_PASSPHRASE)")
		}
		return bitget.NewLiveGateway(bitget.GatewayConfig{
			Client: bitget.Config{
				RestURL:         cfg.API.Bitget.RestURL,
				WSURL:           cfg.API.Bitget.WSURL,
				AccessKey:       cfg.API.Bitget.AccessKey,
				SecretKey:       cfg.API.Bitget.SecretKey,
				Passphrase:      cfg.API.Bitget.Passphrase,
				PricePrecision:  cfg.Quote.PricePrecision,
				AmountPrecision: cfg.Quote.AmountPrecision,
			},
			Symbol: cfg.Trading.Symbol,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown trading mode %q", cfg.Trading.Mode)
	}
}

// Close releases resources in reverse dependency order and persists the
// peak account value for the next run's drawdown baseline.
func (b *Bootstrap) Close() {
	if b.Gateway != nil {
		if err := b.Gateway.Close(); err != nil {
			slog.Warn("APP: gateway close failed", slog.Any("error", err))
		}
	}
	if b.Store != nil {
		if b.Governor != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			state := b.Governor.State()
			if state.PeakAccountValue > 0 {
				if err := b.Store.SavePeakAccountValue(ctx, state.PeakAccountValue, time.Now().UnixMicro()); err != nil {
					slog.Warn("APP: peak account value not persisted", slog.Any("error", err))
				}
			}
			cancel()
		}
		if err := b.Store.Close(); err != nil {
			slog.Warn("APP: store close failed", slog.Any("error", err))
		}
	}
}

func riskConfig(cfg *infra.Config) risk.Config {
	return risk.Config{
		MaxPositionValuePercent:       cfg.Risk.MaxPositionValuePercent,
		StopLossPercent:               cfg.Risk.StopLossPercent,
		StopLossAmountPercent:         cfg.Risk.StopLossAmountPercent,
		MaxDrawdownPercent:            cfg.Risk.MaxDrawdownPercent,
		MaxDailyLossPercent:           cfg.Risk.MaxDailyLossPercent,
		MaxOrderSizePercent:           cfg.Risk.MaxOrderSizePercent,
		MaxOrderValuePercent:          cfg.Risk.MaxOrderValuePercent,
		EmergencyStopThresholdPercent: cfg.Risk.EmergencyStopThresholdPercent,
	}
}

func quoteConfig(cfg *infra.Config) quote.Config {
	return quote.Config{
		RiskFactor:           cfg.Quote.RiskFactor,
		ShapeFactor:          cfg.Quote.ShapeFactor,
		InventoryTargetRatio: cfg.Quote.InventoryTargetRatio,
		MinSpread:            cfg.Quote.MinSpread,
		MaxSpread:            cfg.Quote.MaxSpread,
		HorizonSeconds:       cfg.Quote.HorizonSeconds,
		OrderSize:            cfg.Quote.OrderSize,
		MaxPositionSize:      cfg.Quote.MaxPositionSize,
		PricePrecision:       cfg.Quote.PricePrecision,
		AmountPrecision:      cfg.Quote.AmountPrecision,
	}
}

func orderConfig(cfg *infra.Config) order.Config {
	return order.Config{
		Symbol:               cfg.Trading.Symbol,
		RefreshInterval:      time.Duration(cfg.Orders.RefreshIntervalMs) * time.Millisecond,
		PriceChangeThreshold: cfg.Orders.PriceChangeThreshold,
		MaxActiveOrders:      cfg.Orders.MaxActiveOrders,
		SubmitTimeout:        time.Duration(cfg.Orders.SubmitTimeoutMs) * time.Millisecond,
		ConfirmDelay:         time.Duration(cfg.Orders.ConfirmDelayMs) * time.Millisecond,
		RetryCount:           cfg.Orders.RetryCount,
		RetryDelay:           time.Duration(cfg.Orders.RetryDelayMs) * time.Millisecond,
	}
}

func loopConfig(cfg *infra.Config) engine.Config {
	return engine.Config{
		Symbol:               cfg.Trading.Symbol,
		Interval:             time.Duration(cfg.Loop.IntervalMs) * time.Millisecond,
		MaxConsecutiveErrors: cfg.Loop.MaxConsecutiveErrors,
		CancelTimeout:        time.Duration(cfg.Loop.CancelTimeoutMs) * time.Millisecond,
	}
}
