// Package strategy holds example strategies driving the Bot surface,
// mirroring original_source/hftbacktest/examples/buy_and_hold.rs's
// structure: no matching-engine logic of its own, only elapse/depth/
// position reads and order submission.
package strategy

import (
	"context"

	bc "backtestcore"
	"backtestcore/bot"
	"backtestcore/sched"
)

// RunBuyAndHold repeatedly rests a single buy order at the current best
// bid whenever flat, canceling and replacing it as the best bid moves,
// until the data source is exhausted or ctx is canceled (e.g. by a
// SIGINT/SIGTERM cutting a multi-day replay short).
func RunBuyAndHold(ctx context.Context, b bot.Bot, assetNo int, intervalNanos int64) error {
	var orderID bc.OrderID

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := b.Elapse(intervalNanos)
		if err != nil {
			return err
		}
		if res == sched.EndOfData {
			return nil
		}

		if err := b.ClearInactiveOrders(assetNo); err != nil {
			return err
		}

		d, err := b.Depth(assetNo)
		if err != nil {
			return err
		}
		position, err := b.Position(assetNo)
		if err != nil {
			return err
		}

		var newOrderID bc.OrderID
		if position == 0 {
			if tick := d.BestBidTick(); tick > 0 {
				newOrderID = bc.OrderID(tick)
			}
		}
		orderPrice := d.BestBid()

		if newOrderID != orderID {
			orders, err := b.Orders(assetNo)
			if err != nil {
				return err
			}
			for id, o := range orders {
				if !o.Status.IsTerminal() {
					_ = b.Cancel(assetNo, id, false)
				}
			}
		}

		orders, err := b.Orders(assetNo)
		if err != nil {
			return err
		}
		if newOrderID > 0 && len(orders) == 0 {
			orderID = newOrderID
			if err := b.SubmitBuyOrder(assetNo, orderID, orderPrice, 1.0, bc.GTC, bc.Limit, false); err != nil {
				return err
			}
		}
	}
}
