package bitget

import (
	"time"

	"github.com/shopspring/decimal"

	"maker_go/internal/domain"
)

const (
	defaultRestURL = "https://api.bitget.com"
	defaultWSURL   = "wss://ws.bitget.com/v2/ws/public"

	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second

	codeOK            = "00000"
	codeOrderNotFound = "43001"
)

// apiResponse is the common Bitget V2 envelope.
type apiResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Wire types carry all numerics as strings; parsing goes through
// shopspring/decimal once at this boundary and the core never sees the
// raw strings.

type placeOrderRequest struct {
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	OrderType string `json:"orderType"`
	Force     string `json:"force"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	ClientOid string `json:"clientOid,omitempty"`
}

type placeOrderData struct {
	OrderID   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
}

type cancelOrderRequest struct {
	Symbol  string `json:"symbol"`
	OrderID string `json:"orderId"`
}

type orderDetail struct {
	OrderID    string `json:"orderId"`
	ClientOid  string `json:"clientOid"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	BaseVolume string `json:"baseVolume"` // filled base amount
	Status     string `json:"status"`
	CTime      string `json:"cTime"`
	UTime      string `json:"uTime"`
}

type tickerData struct {
	Symbol string `json:"symbol"`
	LastPr string `json:"lastPr"`
	BidPr  string `json:"bidPr"`
	AskPr  string `json:"askPr"`
	BidSz  string `json:"bidSz"`
	AskSz  string `json:"askSz"`
}

type bookData struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
	Ts   string     `json:"ts"`
}

type assetData struct {
	Coin      string `json:"coin"`
	Available string `json:"available"`
	Frozen    string `json:"frozen"`
}

// WS types.

type subscribeRequest struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

type subscribeArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

type wsTickerMessage struct {
	Action string       `json:"action"`
	Arg    subscribeArg `json:"arg"`
	Data   []tickerData `json:"data"`
	Ts     int64        `json:"ts"`
}

// parseFloat converts a wire decimal string to float64, 0 for empty or
// malformed input.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// parseUnixMilli converts a millisecond timestamp string to unix micros.
func parseUnixMilli(s string) int64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.IntPart() * 1000
}

// mapStatus converts a Bitget order status to the canonical one. Unknown
// strings map to Pending so the monotonic apply cannot be poisoned.
func mapStatus(s string) domain.Status {
	switch s {
	case "live", "new":
		return domain.StatusOpen
	case "init", "pending":
		return domain.StatusPending
	case "partially_filled":
		return domain.StatusPartiallyFilled
	case "filled":
		return domain.StatusFilled
	case "cancelled", "canceled":
		return domain.StatusCanceled
	case "rejected":
		return domain.StatusRejected
	case "expired":
		return domain.StatusExpired
	default:
		return domain.StatusPending
	}
}

// mapSide converts a Bitget side string.
func mapSide(s string) domain.Side {
	if s == "sell" {
		return domain.SideSell
	}
	return domain.SideBuy
}

// toOrder converts an order detail to the canonical order.
func (d orderDetail) toOrder() domain.Order {
	return domain.Order{
		ID:            d.OrderID,
		ClientToken:   d.ClientOid,
		Symbol:        d.Symbol,
		Side:          mapSide(d.Side),
		Price:         parseFloat(d.Price),
		Amount:        parseFloat(d.Size),
		FilledAmount:  parseFloat(d.BaseVolume),
		Status:        mapStatus(d.Status),
		CreatedUnixM:  parseUnixMilli(d.CTime),
		LastSeenUnixM: parseUnixMilli(d.UTime),
	}
}
