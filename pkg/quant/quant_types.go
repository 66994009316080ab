package quant

import (
	"fmt"
	"math"
)

// PriceMicros represents price multiplied by 1,000,000 (10^6).
// E.g., 1.23 USDT = 1,230,000 PriceMicros.
type PriceMicros int64

// QtySats represents quantity multiplied by 100,000,000 (10^8).
// E.g., 1.0 BTC = 100,000,000 QtySats.
type QtySats int64

// TimeStamp represents Unix Microseconds.
type TimeStamp int64

const (
	PriceScale = 1000000
	QtyScale   = 100000000
)

// ToPriceMicros converts a float64 (from quoting math) to PriceMicros.
// Note: Only used at the boundary. Persistence uses PriceMicros directly.
func ToPriceMicros(f float64) PriceMicros {
	return PriceMicros(math.Round(f * PriceScale))
}

// ToQtySats converts a float64 to QtySats.
func ToQtySats(f float64) QtySats {
	return QtySats(math.Round(f * QtyScale))
}

func (p PriceMicros) String() string {
	return fmt.Sprintf("%.6f", float64(p)/PriceScale)
}

func (q QtySats) String() string {
	return fmt.Sprintf("%.8f", float64(q)/QtyScale)
}

// RoundPrice rounds a price half-away-from-zero to the given decimal count.
// This matches venue tick rounding for quote prices.
func RoundPrice(p float64, precision int) float64 {
	pow := math.Pow10(precision)
	return math.Round(p*pow) / pow
}

// FloorAmount truncates an amount toward zero at the given decimal count.
// Sizing must never round up: we never commit more size than computed.
func FloorAmount(a float64, precision int) float64 {
	pow := math.Pow10(precision)
	return math.Trunc(a*pow) / pow
}
