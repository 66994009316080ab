package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"maker_go/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	pprofAddr := flag.String("pprof", "localhost:6060", "pprof listen address, empty disables")
	statusEvery := flag.Duration("status", 30*time.Second, "status log interval, 0 disables")
	flag.Parse()

	if *pprofAddr != "" {
		go func() {
			// Localhost only for security
			slog.Info("APP: pprof server started", slog.String("addr", *pprofAddr))
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				slog.Error("APP: pprof server failed", slog.Any("error", err))
			}
		}()
	}

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("APP: bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *statusEvery > 0 {
		go statusLoop(ctx, bootstrap, *statusEvery)
	}

	slog.Info("APP: strategy starting",
		slog.String("symbol", bootstrap.Config.Trading.Symbol),
		slog.String("mode", bootstrap.Config.Trading.Mode))

	err := bootstrap.Loop.Run(ctx)
	switch {
	case err == nil || errors.Is(err, context.Canceled):
		slog.Info("APP: shut down cleanly")
	default:
		slog.Error("APP: strategy stopped", slog.Any("error", err))
		bootstrap.Close()
		os.Exit(1)
	}
}

// statusLoop periodically logs the loop snapshot so an operator can follow
// a headless run from the log stream alone.
func statusLoop(ctx context.Context, b *app.Bootstrap, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := b.Loop.Snapshot()
			slog.Info("STATUS",
				slog.String("state", snap.State.String()),
				slog.String("risk", snap.RiskStatus),
				slog.Float64("bid", snap.Quote.Bid),
				slog.Float64("ask", snap.Quote.Ask),
				slog.Float64("spread", snap.Quote.Spread),
				slog.Float64("position", snap.Inventory.CurrentPosition),
				slog.Float64("account_value", snap.Risk.CurrentAccountValue),
				slog.Float64("realized_pnl", snap.Risk.RealizedPnL),
				slog.Float64("drawdown_pct", snap.Drawdown),
				slog.Int("active_orders", len(snap.ActiveOrders)),
				slog.Uint64("ticks", snap.Ticks),
			)
		}
	}
}
