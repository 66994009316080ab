package event

import (
	"maker_go/internal/domain"
	"maker_go/pkg/quant"
)

// Type defines the type of event.
type Type uint16

const (
	EvTickerUpdate Type = iota + 1
	EvOrderBookUpdate
	EvBalanceUpdate
	EvOrderUpdate
	EvConnectionLost
	EvConnectionRestored
)

// Event is the interface for all loop inbox events. Gateway callbacks never
// touch shared state directly; they publish one of these and the owning
// loop goroutine applies it between ticks.
type Event interface {
	GetSeq() uint64
	GetTs() quant.TimeStamp
	GetType() Type
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64          `json:"seq"`
	Ts  quant.TimeStamp `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64         { return e.Seq }
func (e BaseEvent) GetTs() quant.TimeStamp { return e.Ts }

// TickerUpdateEvent carries a fresh price snapshot from the venue stream.
type TickerUpdateEvent struct {
	BaseEvent
	Ticker domain.Ticker `json:"ticker"`
}

func (e TickerUpdateEvent) GetType() Type { return EvTickerUpdate }

// OrderBookUpdateEvent carries a depth snapshot.
type OrderBookUpdateEvent struct {
	BaseEvent
	Book domain.OrderBook `json:"book"`
}

func (e OrderBookUpdateEvent) GetType() Type { return EvOrderBookUpdate }

// BalanceUpdateEvent carries a venue balance push.
type BalanceUpdateEvent struct {
	BaseEvent
	Balances domain.Balances `json:"balances"`
}

func (e BalanceUpdateEvent) GetType() Type { return EvBalanceUpdate }

// OrderUpdateEvent carries a venue-reported order status change.
type OrderUpdateEvent struct {
	BaseEvent
	Order domain.Order `json:"order"`
}

func (e OrderUpdateEvent) GetType() Type { return EvOrderUpdate }

// ConnectionLostEvent signals the venue stream dropped.
type ConnectionLostEvent struct {
	BaseEvent
	Reason string `json:"reason"`
}

func (e ConnectionLostEvent) GetType() Type { return EvConnectionLost }

// ConnectionRestoredEvent signals the venue stream reconnected.
type ConnectionRestoredEvent struct {
	BaseEvent
}

func (e ConnectionRestoredEvent) GetType() Type { return EvConnectionRestored }
