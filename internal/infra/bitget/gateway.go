package bitget

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"maker_go/internal/domain"
	"maker_go/internal/event"
)

// quoteCoins are tried as symbol suffixes, longest first, when the coin
// pair is not configured explicitly.
var quoteCoins = []string{"USDT", "USDC", "EUR", "BTC", "ETH"}

// GatewayConfig assembles a live venue connection.
type GatewayConfig struct {
	Client    Config
	Symbol    string
	BaseCoin  string // optional, derived from Symbol when empty
	QuoteCoin string // optional, derived from Symbol when empty
	InboxSize int
}

// LiveGateway implements gateway.Gateway over the Bitget REST client and
// the public ticker stream. REST calls are delegated straight to the
// client; the stream feeds the event channel.
type LiveGateway struct {
	*Client

	symbol    string
	baseCoin  string
	quoteCoin string

	events chan event.Event
	stream *StreamWorker
	cancel context.CancelFunc
	seq    uint64
	log    *slog.Logger
}

// NewLiveGateway builds and starts a live gateway. The event channel is
// live once this returns; Close stops the stream and closes it.
func NewLiveGateway(cfg GatewayConfig, log *slog.Logger) (*LiveGateway, error) {
	if log == nil {
		log = slog.Default()
	}
	base, quote := cfg.BaseCoin, cfg.QuoteCoin
	if base == "" || quote == "" {
		var err error
		base, quote, err = splitSymbol(cfg.Symbol)
		if err != nil {
			return nil, err
		}
	}
	size := cfg.InboxSize
	if size <= 0 {
		size = 256
	}

	g := &LiveGateway{
		Client:    NewClient(cfg.Client, log),
		symbol:    cfg.Symbol,
		baseCoin:  base,
		quoteCoin: quote,
		events:    make(chan event.Event, size),
		log:       log,
	}
	g.stream = NewStreamWorker(cfg.Client.WSURL, cfg.Symbol, g.events, &g.seq, log)

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.stream.Start(ctx)
	return g, nil
}

// FetchBalances maps venue asset totals onto the traded pair. Coins other
// than the pair's base and quote are ignored.
func (g *LiveGateway) FetchBalances(ctx context.Context) (domain.Balances, error) {
	assets, err := g.Client.FetchAssets(ctx)
	if err != nil {
		return domain.Balances{}, err
	}
	return domain.Balances{
		Base:  assets[g.baseCoin],
		Quote: assets[g.quoteCoin],
	}, nil
}

func (g *LiveGateway) Events() <-chan event.Event { return g.events }

func (g *LiveGateway) Close() error {
	g.cancel()
	g.stream.Stop()
	g.Client.Close()
	close(g.events)
	return nil
}

func splitSymbol(symbol string) (base, quote string, err error) {
	for _, q := range quoteCoins {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return strings.TrimSuffix(symbol, q), q, nil
		}
	}
	return "", "", fmt.Errorf("bitget: cannot derive coin pair from symbol %q", symbol)
}
