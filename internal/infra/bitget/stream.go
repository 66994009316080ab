package bitget

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"maker_go/internal/domain"
	"maker_go/internal/event"
	"maker_go/internal/infra"
	"maker_go/pkg/quant"
)

// StreamWorker subscribes to the public ticker channel and feeds the loop
// inbox. Reconnects, read timeouts and write serialization come from
// BaseWSWorker; this type only knows the Bitget wire format.
type StreamWorker struct {
	base   *infra.BaseWSWorker
	url    string
	symbol string
	inbox  chan<- event.Event
	seq    *uint64
	log    *slog.Logger

	connected atomic.Bool
}

// NewStreamWorker creates a ticker stream for one symbol.
func NewStreamWorker(wsURL, symbol string, inbox chan<- event.Event, seq *uint64, log *slog.Logger) *StreamWorker {
	if wsURL == "" {
		wsURL = defaultWSURL
	}
	if log == nil {
		log = slog.Default()
	}
	w := &StreamWorker{
		url:    wsURL,
		symbol: symbol,
		inbox:  inbox,
		seq:    seq,
		log:    log,
	}
	w.base = infra.NewBaseWSWorker(w)
	w.base.PingInterval = pingInterval
	w.base.ReadTimeout = readTimeout
	return w
}

// Start launches the connection loop.
func (w *StreamWorker) Start(ctx context.Context) {
	w.base.Start(ctx)
}

// Stop terminates the worker.
func (w *StreamWorker) Stop() {
	w.base.Stop()
}

func (w *StreamWorker) ID() string     { return "BITGET_STREAM" }
func (w *StreamWorker) GetURL() string { return w.url }

func (w *StreamWorker) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	req := subscribeRequest{
		Op:   "subscribe",
		Args: []subscribeArg{{InstType: "SPOT", Channel: "ticker", InstID: w.symbol}},
	}
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := w.base.Write(websocket.TextMessage, b); err != nil {
		return err
	}

	// A reconnect after a drop means local order state may be stale; the
	// loop force-refreshes on restore.
	if w.connected.CompareAndSwap(false, true) {
		w.publish(event.ConnectionRestoredEvent{
			BaseEvent: w.nextBase(),
		})
	}
	return nil
}

func (w *StreamWorker) OnDisconnect(ctx context.Context) {
	if w.connected.CompareAndSwap(true, false) {
		w.publish(event.ConnectionLostEvent{
			BaseEvent: w.nextBase(),
			Reason:    "stream read loop exited",
		})
	}
}

func (w *StreamWorker) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return w.base.Write(websocket.TextMessage, []byte("ping"))
}

func (w *StreamWorker) OnMessage(ctx context.Context, msg []byte) {
	if string(msg) == "pong" {
		return
	}

	var resp wsTickerMessage
	if err := json.Unmarshal(msg, &resp); err != nil {
		return
	}
	if resp.Arg.Channel != "ticker" || len(resp.Data) == 0 {
		return
	}

	for _, data := range resp.Data {
		if data.Symbol != w.symbol {
			continue
		}
		w.publish(event.TickerUpdateEvent{
			BaseEvent: event.BaseEvent{
				Seq: atomic.AddUint64(w.seq, 1),
				Ts:  quant.TimeStamp(resp.Ts * 1000), // ms to micros
			},
			Ticker: domain.Ticker{
				Symbol:  w.symbol,
				Last:    parseFloat(data.LastPr),
				BestBid: parseFloat(data.BidPr),
				BestAsk: parseFloat(data.AskPr),
				TsUnixM: resp.Ts * 1000,
			},
		})
	}
}

func (w *StreamWorker) nextBase() event.BaseEvent {
	return event.BaseEvent{Seq: atomic.AddUint64(w.seq, 1)}
}

// publish drops on a full inbox rather than blocking the read loop.
func (w *StreamWorker) publish(ev event.Event) {
	select {
	case w.inbox <- ev:
	default:
		w.log.Warn("BITGET: inbox full, event dropped", slog.Any("type", ev.GetType()))
	}
}
