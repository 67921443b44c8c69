// Package depth implements the L3 Market Depth component of spec.md §4.1:
// a per-side order book keyed by exchange-assigned order id and indexed by
// price tick, exposing best-bid/ask and per-tick aggregate quantity.
//
// The price-tick index is a github.com/tidwall/btree.BTreeG, the same
// structure the teacher (saiputravu-Exchange, internal/engine/orderbook.go)
// uses to keep its price levels ordered; here it indexes int64 ticks rather
// than float64 prices so best-tick lookup is insulated from floating point
// comparison noise.
package depth

import (
	"math"

	bc "backtestcore"

	"github.com/tidwall/btree"
)

// Sentinel tick values signaling an empty side, per spec.md §4.1.
const (
	InvalidMin int64 = math.MinInt64
	InvalidMax int64 = math.MaxInt64
)

// L3Order is a single resting order as held by the depth: just enough to
// preserve queue order by arrival timestamp, per spec.md §3.
type L3Order struct {
	OrderID   bc.OrderID
	Side      bc.Side
	PriceTick int64
	Qty       float64
	Timestamp int64
}

// L3MarketDepth is the interface the exchange and local processors consume.
// It is satisfied by *BTreeDepth but kept abstract so alternative
// representations (e.g. a dense region-of-interest vector) can be swapped in
// per spec.md §4.1's explicit "implementations are free to choose the
// representation" note.
type L3MarketDepth interface {
	TickSize() float64

	BestBidTick() int64
	BestAskTick() int64
	BestBid() float64
	BestAsk() float64

	BidQtyAtTick(tick int64) float64
	AskQtyAtTick(tick int64) float64

	OrderByID(id bc.OrderID) (L3Order, bool)
	Orders() map[bc.OrderID]L3Order

	AddBuyOrder(id bc.OrderID, px, qty float64, ts int64) (prevBestBidTick, newBestBidTick int64, err error)
	AddSellOrder(id bc.OrderID, px, qty float64, ts int64) (prevBestAskTick, newBestAskTick int64, err error)
	ModifyOrder(id bc.OrderID, px, qty float64, ts int64) error
	DeleteOrder(id bc.OrderID, ts int64) error
	ClearOrders(side bc.Side)

	// BidTicksDescending and AskTicksAscending list currently populated
	// ticks from the touch outward, for market-order sweeps and call-auction
	// partitioning.
	BidTicksDescending() []int64
	AskTicksAscending() []int64

	AllowPriceCross() bool
	SetAllowPriceCross(allow bool)
}

// BTreeDepth is the default L3MarketDepth implementation.
type BTreeDepth struct {
	tickSize float64

	bidTicks *btree.BTreeG[int64]
	askTicks *btree.BTreeG[int64]

	bidQty map[int64]float64
	askQty map[int64]float64

	orders map[bc.OrderID]*L3Order

	allowPriceCross bool
}

// NewBTreeDepth constructs an empty depth for the given tick size. lowPrice
// and highPrice describe the region of interest; they are accepted for
// parity with the configuration surface in spec.md §6 but the btree index
// itself needs no preallocated range.
func NewBTreeDepth(tickSize float64, lowPrice, highPrice float64) *BTreeDepth {
	_ = lowPrice
	_ = highPrice
	return &BTreeDepth{
		tickSize: tickSize,
		bidTicks: btree.NewBTreeG(func(a, b int64) bool { return a > b }),
		askTicks: btree.NewBTreeG(func(a, b int64) bool { return a < b }),
		bidQty:   make(map[int64]float64),
		askQty:   make(map[int64]float64),
		orders:   make(map[bc.OrderID]*L3Order),
	}
}

func (d *BTreeDepth) TickSize() float64 { return d.tickSize }

func (d *BTreeDepth) BestBidTick() int64 {
	if v, ok := d.bidTicks.Min(); ok {
		return v
	}
	return InvalidMin
}

func (d *BTreeDepth) BestAskTick() int64 {
	if v, ok := d.askTicks.Min(); ok {
		return v
	}
	return InvalidMax
}

func (d *BTreeDepth) BestBid() float64 {
	t := d.BestBidTick()
	if t == InvalidMin {
		return 0
	}
	return bc.TickToPrice(t, d.tickSize)
}

func (d *BTreeDepth) BestAsk() float64 {
	t := d.BestAskTick()
	if t == InvalidMax {
		return 0
	}
	return bc.TickToPrice(t, d.tickSize)
}

func (d *BTreeDepth) BidQtyAtTick(tick int64) float64 { return d.bidQty[tick] }
func (d *BTreeDepth) AskQtyAtTick(tick int64) float64 { return d.askQty[tick] }

func (d *BTreeDepth) OrderByID(id bc.OrderID) (L3Order, bool) {
	o, ok := d.orders[id]
	if !ok {
		return L3Order{}, false
	}
	return *o, true
}

func (d *BTreeDepth) Orders() map[bc.OrderID]L3Order {
	out := make(map[bc.OrderID]L3Order, len(d.orders))
	for id, o := range d.orders {
		out[id] = *o
	}
	return out
}

func (d *BTreeDepth) AddBuyOrder(id bc.OrderID, px, qty float64, ts int64) (int64, int64, error) {
	if _, exists := d.orders[id]; exists {
		return 0, 0, bc.ErrOrderIDExists
	}
	prev := d.BestBidTick()
	tick := bc.PriceTick(px, d.tickSize)
	d.orders[id] = &L3Order{OrderID: id, Side: bc.Buy, PriceTick: tick, Qty: qty, Timestamp: ts}
	if _, ok := d.bidQty[tick]; !ok {
		d.bidTicks.Set(tick)
	}
	d.bidQty[tick] += qty
	return prev, d.BestBidTick(), nil
}

func (d *BTreeDepth) AddSellOrder(id bc.OrderID, px, qty float64, ts int64) (int64, int64, error) {
	if _, exists := d.orders[id]; exists {
		return 0, 0, bc.ErrOrderIDExists
	}
	prev := d.BestAskTick()
	tick := bc.PriceTick(px, d.tickSize)
	d.orders[id] = &L3Order{OrderID: id, Side: bc.Sell, PriceTick: tick, Qty: qty, Timestamp: ts}
	if _, ok := d.askQty[tick]; !ok {
		d.askTicks.Set(tick)
	}
	d.askQty[tick] += qty
	return prev, d.BestAskTick(), nil
}

// ModifyOrder mutates qty in place (preserving arrival timestamp) if the
// price tick is unchanged; otherwise it removes and re-inserts the order
// with ts as its new arrival timestamp, losing queue position, per
// spec.md §4.1.
func (d *BTreeDepth) ModifyOrder(id bc.OrderID, px, qty float64, ts int64) error {
	o, ok := d.orders[id]
	if !ok {
		return bc.ErrOrderNotFound
	}
	newTick := bc.PriceTick(px, d.tickSize)
	qtyMap, ticks := d.sideMaps(o.Side)
	if newTick == o.PriceTick {
		qtyMap[o.PriceTick] += qty - o.Qty
		o.Qty = qty
		return nil
	}
	d.removeFromSide(qtyMap, ticks, o.PriceTick, o.Qty)
	o.PriceTick = newTick
	o.Qty = qty
	o.Timestamp = ts
	if _, exists := qtyMap[newTick]; !exists {
		ticks.Set(newTick)
	}
	qtyMap[newTick] += qty
	return nil
}

func (d *BTreeDepth) DeleteOrder(id bc.OrderID, ts int64) error {
	_ = ts
	o, ok := d.orders[id]
	if !ok {
		return bc.ErrOrderNotFound
	}
	qtyMap, ticks := d.sideMaps(o.Side)
	d.removeFromSide(qtyMap, ticks, o.PriceTick, o.Qty)
	delete(d.orders, id)
	return nil
}

func (d *BTreeDepth) ClearOrders(side bc.Side) {
	for id, o := range d.orders {
		if side == bc.SideNone || o.Side == side {
			delete(d.orders, id)
		}
	}
	if side == bc.SideNone || side == bc.Buy {
		d.bidQty = make(map[int64]float64)
		d.bidTicks = btree.NewBTreeG(func(a, b int64) bool { return a > b })
	}
	if side == bc.SideNone || side == bc.Sell {
		d.askQty = make(map[int64]float64)
		d.askTicks = btree.NewBTreeG(func(a, b int64) bool { return a < b })
	}
}

// BidTicksDescending lists populated bid ticks from best (highest) outward,
// the order the bidTicks tree already iterates in per its less-func.
func (d *BTreeDepth) BidTicksDescending() []int64 {
	out := make([]int64, 0, d.bidTicks.Len())
	d.bidTicks.Scan(func(t int64) bool {
		out = append(out, t)
		return true
	})
	return out
}

// AskTicksAscending lists populated ask ticks from best (lowest) outward.
func (d *BTreeDepth) AskTicksAscending() []int64 {
	out := make([]int64, 0, d.askTicks.Len())
	d.askTicks.Scan(func(t int64) bool {
		out = append(out, t)
		return true
	})
	return out
}

func (d *BTreeDepth) AllowPriceCross() bool       { return d.allowPriceCross }
func (d *BTreeDepth) SetAllowPriceCross(v bool)   { d.allowPriceCross = v }

func (d *BTreeDepth) sideMaps(side bc.Side) (map[int64]float64, *btree.BTreeG[int64]) {
	if side == bc.Buy {
		return d.bidQty, d.bidTicks
	}
	return d.askQty, d.askTicks
}

func (d *BTreeDepth) removeFromSide(qtyMap map[int64]float64, ticks *btree.BTreeG[int64], tick int64, qty float64) {
	remaining := qtyMap[tick] - qty
	if remaining <= 1e-9 {
		delete(qtyMap, tick)
		ticks.Delete(tick)
	} else {
		qtyMap[tick] = remaining
	}
}
