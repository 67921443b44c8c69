// Package feemodel supplies the fee arithmetic spec.md §6 injects into the
// state accumulator: a pure function of (side, price, qty, maker) to a fee
// amount. Out of the matching core's scope per spec.md §1, but the repo
// still needs a usable default.
package feemodel

import bc "backtestcore"

// FeeModel maps a fill to the fee charged for it.
type FeeModel interface {
	Fee(side bc.Side, price, qty float64, maker bool) float64
}

// MakerTaker is a flat maker/taker basis-point schedule, the common
// default across the exchanges modeled in the example pack's backtest
// engines (e.g. cexoms' BacktestConfig.TradingFees). Negative maker bps
// model a maker rebate.
type MakerTaker struct {
	MakerBps float64
	TakerBps float64
}

func (f MakerTaker) Fee(side bc.Side, price, qty float64, maker bool) float64 {
	_ = side
	notional := price * qty
	bps := f.TakerBps
	if maker {
		bps = f.MakerBps
	}
	return notional * bps / 10000.0
}
