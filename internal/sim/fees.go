package sim

import "math"

// Fee rates mirror Binance's published schedule.
const (
	FuturesMakerFeeRate   = 0.0002
	FuturesTakerFeeRate   = 0.0004
	SpotFeeRate           = 0.001
	MaintenanceMarginRate = 0.004
)

// Round8 rounds to 8 decimal places. Every monetary result passes through
// here so drift cannot accumulate across repeated partial fills.
func Round8(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*1e8) / 1e8
}

// Fee returns the trading fee for a given notional. Futures limit orders pay
// the maker rate, futures market orders the taker rate, spot a flat rate.
func Fee(orderType OrderType, notional float64, futures bool) float64 {
	if futures {
		if orderType == OrderTypeLimit {
			return Round8(notional * FuturesMakerFeeRate)
		}
		return Round8(notional * FuturesTakerFeeRate)
	}
	return Round8(notional * SpotFeeRate)
}

func RequiredMargin(notional float64, leverage int) float64 {
	if leverage < 1 {
		leverage = 1
	}
	return Round8(notional / float64(leverage))
}

// LiquidationPrice is always on the loss side of the average entry: below it
// for LONG, above it for SHORT.
func LiquidationPrice(avgEntry, qty float64, side Side, margin float64) float64 {
	if qty <= 0 {
		return 0
	}
	notional := avgEntry * qty
	maintenance := notional * MaintenanceMarginRate
	if side == SideLong {
		return Round8(avgEntry - (margin-maintenance)/qty)
	}
	return Round8(avgEntry + (margin-maintenance)/qty)
}
