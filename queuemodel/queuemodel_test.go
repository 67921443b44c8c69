package queuemodel

import (
	"testing"

	bc "backtestcore"
	"backtestcore/depth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixture() (*L3FIFOQueueModel, depth.L3MarketDepth) {
	return NewL3FIFOQueueModel(), depth.NewBTreeDepth(1.0, 0.0, 1000.0)
}

// TestFillMarketFeedOrderCreditsLaterArrivals exercises spec.md §8 scenario
// 1: a backtest order resting behind a market-feed order at the same tick
// is credited with a fill when the feed reports the earlier order filled.
func TestFillMarketFeedOrderCreditsLaterArrivals(t *testing.T) {
	q, d := newFixture()

	feedEv := bc.Event{Side: bc.Buy, Px: 100, OrderID: 1}
	q.AddMarketFeedOrder(feedEv, d)

	backtestOrder := &bc.Order{OrderID: 2, Side: bc.Buy, PriceTick: 100, Qty: 5, LeavesQty: 5}
	q.AddBacktestOrder(backtestOrder, d)

	filled := q.FillMarketFeedOrder(1, bc.Event{OrderID: 1, Qty: 5}, d)
	require.Len(t, filled, 1)
	assert.Equal(t, bc.OrderID(2), filled[0].OrderID)
}

// A backtest order that arrived before the filled feed order is not
// reported as filled: it is strictly ahead in FIFO order.
func TestFillMarketFeedOrderDoesNotCreditEarlierArrivals(t *testing.T) {
	q, d := newFixture()

	earlier := &bc.Order{OrderID: 2, Side: bc.Buy, PriceTick: 100, Qty: 5, LeavesQty: 5}
	q.AddBacktestOrder(earlier, d)
	q.AddMarketFeedOrder(bc.Event{Side: bc.Buy, Px: 100, OrderID: 1}, d)

	filled := q.FillMarketFeedOrder(1, bc.Event{OrderID: 1, Qty: 5}, d)
	assert.Empty(t, filled)
}

func TestFillMarketFeedOrderUnknownIDReturnsNil(t *testing.T) {
	q, d := newFixture()
	assert.Nil(t, q.FillMarketFeedOrder(99, bc.Event{OrderID: 99}, d))
}

// TestOnBestBidUpdateCollectsCrossedAsksInFIFOOrder exercises spec.md §8
// scenario 5's crossing mechanics.
func TestOnBestBidUpdateCollectsCrossedAsksInFIFOOrder(t *testing.T) {
	q, d := newFixture()

	first := &bc.Order{OrderID: 1, Side: bc.Sell, PriceTick: 105, Qty: 2, LeavesQty: 2}
	second := &bc.Order{OrderID: 2, Side: bc.Sell, PriceTick: 105, Qty: 3, LeavesQty: 3}
	q.AddBacktestOrder(first, d)
	q.AddBacktestOrder(second, d)

	crossed := q.OnBestBidUpdate(104, 106)
	require.Len(t, crossed, 2)
	assert.Equal(t, bc.OrderID(1), crossed[0].OrderID, "FIFO: earlier arrival first")
	assert.Equal(t, bc.OrderID(2), crossed[1].OrderID)
	assert.False(t, q.ContainsBacktestOrder(1), "collected orders are removed from the index")
}

func TestOnBestBidUpdateNoImprovementReturnsNil(t *testing.T) {
	q, _ := newFixture()
	assert.Nil(t, q.OnBestBidUpdate(105, 105))
	assert.Nil(t, q.OnBestBidUpdate(106, 105))
}

func TestOnBestAskUpdateCollectsCrossedBids(t *testing.T) {
	q, d := newFixture()
	o := &bc.Order{OrderID: 1, Side: bc.Buy, PriceTick: 100, Qty: 1, LeavesQty: 1}
	q.AddBacktestOrder(o, d)

	crossed := q.OnBestAskUpdate(102, 99)
	require.Len(t, crossed, 1)
	assert.Equal(t, bc.OrderID(1), crossed[0].OrderID)
}

func TestModifyBacktestOrderSameTickIsInPlace(t *testing.T) {
	q, d := newFixture()
	o := &bc.Order{OrderID: 1, Side: bc.Buy, PriceTick: 100, Qty: 5, LeavesQty: 5}
	q.AddBacktestOrder(o, d)

	moved := &bc.Order{OrderID: 1, Side: bc.Buy, PriceTick: 100, Qty: 3, LeavesQty: 3}
	require.NoError(t, q.ModifyBacktestOrder(1, moved, d))
	assert.True(t, q.ContainsBacktestOrder(1))
}

func TestModifyBacktestOrderNewTickMoves(t *testing.T) {
	q, d := newFixture()
	o := &bc.Order{OrderID: 1, Side: bc.Buy, PriceTick: 100, Qty: 5, LeavesQty: 5}
	q.AddBacktestOrder(o, d)

	moved := &bc.Order{OrderID: 1, Side: bc.Buy, PriceTick: 99, Qty: 5, LeavesQty: 5}
	require.NoError(t, q.ModifyBacktestOrder(1, moved, d))

	bids := q.GetAllBidOrders()
	require.Len(t, bids, 1)
	assert.Equal(t, int64(99), bids[0].PriceTick)
}

func TestCancelBacktestOrderUnknownIDErrors(t *testing.T) {
	q, d := newFixture()
	_, err := q.CancelBacktestOrder(1, d)
	assert.ErrorIs(t, err, bc.ErrOrderNotFound)
}

func TestClearOrdersReturnsAndRemovesBacktestOrders(t *testing.T) {
	q, d := newFixture()
	buy := &bc.Order{OrderID: 1, Side: bc.Buy, PriceTick: 99, Qty: 1, LeavesQty: 1}
	sell := &bc.Order{OrderID: 2, Side: bc.Sell, PriceTick: 101, Qty: 1, LeavesQty: 1}
	q.AddBacktestOrder(buy, d)
	q.AddBacktestOrder(sell, d)

	cleared := q.ClearOrders(bc.Buy)
	require.Len(t, cleared, 1)
	assert.Equal(t, bc.OrderID(1), cleared[0].OrderID)
	assert.True(t, q.ContainsBacktestOrder(2), "sell side untouched")
}

func TestGetAllBidOrdersIsFIFOOrdered(t *testing.T) {
	q, d := newFixture()
	q.AddBacktestOrder(&bc.Order{OrderID: 1, Side: bc.Buy, PriceTick: 98, Qty: 1, LeavesQty: 1}, d)
	q.AddBacktestOrder(&bc.Order{OrderID: 2, Side: bc.Buy, PriceTick: 99, Qty: 1, LeavesQty: 1}, d)
	q.AddBacktestOrder(&bc.Order{OrderID: 3, Side: bc.Buy, PriceTick: 98, Qty: 1, LeavesQty: 1}, d)

	orders := q.GetAllBidOrders()
	require.Len(t, orders, 3)
	assert.Equal(t, []bc.OrderID{1, 2, 3}, []bc.OrderID{orders[0].OrderID, orders[1].OrderID, orders[2].OrderID})
}
