// Package state implements the State + Asset/Fee Models component of
// spec.md §2 item 3: a pure accumulator of position, cash, realized and
// unrealized P&L, traded quantity and fees, driven by fills applied from
// the exchange processor.
//
// Money is accumulated with github.com/shopspring/decimal rather than
// float64 because thousands of fills compounding floating point error into
// cash/P&L is exactly the failure mode decimal exists to avoid; this
// mirrors the Portfolio/BacktestConfig accounting in the example pack's
// cexoms-style backtest engine. Order prices and ticks stay float64/int64
// everywhere else per spec.md §3 — decimal is scoped to this package's
// ledger only.
package state

import (
	bc "backtestcore"
	"backtestcore/assettype"
	"backtestcore/feemodel"

	"github.com/shopspring/decimal"
)

// Values is a point-in-time snapshot of the accumulator, returned to the
// strategy via Bot.state_values per spec.md §4.4.
type Values struct {
	Position      float64
	AvgEntryPrice float64
	Cash          float64
	RealizedPnL   float64
	FeesPaid      float64
	TradeQty      float64
	TradeNum      int64
}

// State is the default accumulator implementation.
type State struct {
	assetType assettype.AssetType
	feeModel  feemodel.FeeModel

	position      decimal.Decimal
	avgEntryPrice decimal.Decimal
	cash          decimal.Decimal
	realizedPnL   decimal.Decimal
	feesPaid      decimal.Decimal
	tradeQty      decimal.Decimal
	tradeNum      int64
}

// New constructs a State with zero position and the given starting cash.
func New(at assettype.AssetType, fm feemodel.FeeModel, startingCash float64) *State {
	return &State{
		assetType: at,
		feeModel:  fm,
		cash:      decimal.NewFromFloat(startingCash),
	}
}

// ApplyFill updates position, cash, realized P&L and fees for one fill,
// using weighted-average-cost accounting: fills that add to an existing
// position (or open a new one) roll into the average entry price; fills
// that reduce or flip a position realize P&L on the closed portion first.
func (s *State) ApplyFill(side bc.Side, price, qty float64, maker bool) {
	signedQty := decimal.NewFromFloat(qty)
	if side == bc.Sell {
		signedQty = signedQty.Neg()
	}
	px := decimal.NewFromFloat(price)

	if s.position.IsZero() || s.position.Sign() == signedQty.Sign() {
		newPos := s.position.Add(signedQty)
		if !newPos.IsZero() {
			s.avgEntryPrice = s.position.Mul(s.avgEntryPrice).Add(signedQty.Mul(px)).Div(newPos)
		}
		s.position = newPos
	} else {
		closing := decimal.Min(s.position.Abs(), signedQty.Abs())
		var pnlPerUnit decimal.Decimal
		if s.position.Sign() > 0 {
			pnlPerUnit = px.Sub(s.avgEntryPrice)
		} else {
			pnlPerUnit = s.avgEntryPrice.Sub(px)
		}
		s.realizedPnL = s.realizedPnL.Add(closing.Mul(pnlPerUnit))

		newPos := s.position.Add(signedQty)
		s.position = newPos
		switch {
		case newPos.IsZero():
			s.avgEntryPrice = decimal.Zero
		case newPos.Sign() == signedQty.Sign():
			// flipped through flat: the new side's entry price is this fill's.
			s.avgEntryPrice = px
		}
	}

	notional := decimal.NewFromFloat(s.assetType.Notional(price, qty))
	fee := decimal.NewFromFloat(s.feeModel.Fee(side, price, qty, maker))
	if side == bc.Buy {
		s.cash = s.cash.Sub(notional).Sub(fee)
	} else {
		s.cash = s.cash.Add(notional).Sub(fee)
	}
	s.feesPaid = s.feesPaid.Add(fee)
	s.tradeQty = s.tradeQty.Add(decimal.NewFromFloat(qty))
	s.tradeNum++
}

// UnrealizedPnL marks the current position at markPrice.
func (s *State) UnrealizedPnL(markPrice float64) float64 {
	pos, _ := s.position.Float64()
	avg, _ := s.avgEntryPrice.Float64()
	return s.assetType.UnrealizedPnL(pos, avg, markPrice)
}

// Position returns the current signed position.
func (s *State) Position() float64 {
	v, _ := s.position.Float64()
	return v
}

// Values snapshots the accumulator for the strategy.
func (s *State) Values() Values {
	pos, _ := s.position.Float64()
	avg, _ := s.avgEntryPrice.Float64()
	cash, _ := s.cash.Float64()
	realized, _ := s.realizedPnL.Float64()
	fees, _ := s.feesPaid.Float64()
	tradeQty, _ := s.tradeQty.Float64()
	return Values{
		Position:      pos,
		AvgEntryPrice: avg,
		Cash:          cash,
		RealizedPnL:   realized,
		FeesPaid:      fees,
		TradeQty:      tradeQty,
		TradeNum:      s.tradeNum,
	}
}
