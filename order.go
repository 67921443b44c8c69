package backtestcore

import "math"

// PriceTick converts a float price to an integer tick using round-half-to-even,
// the rounding mode spec.md §3 mandates so that ties at exactly half a tick
// resolve deterministically across replays.
func PriceTick(price, tickSize float64) int64 {
	return int64(math.RoundToEven(price / tickSize))
}

// TickToPrice is the inverse of PriceTick.
func TickToPrice(tick int64, tickSize float64) float64 {
	return float64(tick) * tickSize
}

// Order is the mutable per-order record tracked by both the exchange and
// local processors. The two sides each hold their own copy; they are
// synchronized only by passing copies through the latency channels (see
// the latency package), never through shared references.
type Order struct {
	OrderID   OrderID
	Side      Side
	TickSize  float64
	PriceTick int64
	Price     float64

	Qty       float64 // original quantity
	LeavesQty float64 // unfilled remainder

	ExecQty       float64 // last fill quantity
	ExecPriceTick int64   // last fill price tick

	Status Status
	Req    Req
	Maker  bool

	OrdType     OrdType
	TimeInForce TimeInForce

	LocalTimestamp int64 // last mutation by the strategy
	ExchTimestamp  int64 // last mutation by the matching engine

	// IsAuction marks a response carrying call-auction residual info; when
	// set, Qty is repurposed as the signed leftover indicator described in
	// spec.md §4.3 (negative = bid-side residual, positive = ask-side
	// residual) instead of order quantity.
	IsAuction bool
}

// NewOrder constructs a fresh order in status New, priced to its tick.
func NewOrder(id OrderID, side Side, price, tickSize, qty float64, ordType OrdType, tif TimeInForce) Order {
	tick := PriceTick(price, tickSize)
	return Order{
		OrderID:     id,
		Side:        side,
		TickSize:    tickSize,
		PriceTick:   tick,
		Price:       TickToPrice(tick, tickSize),
		Qty:         qty,
		LeavesQty:   qty,
		Status:      StatusNew,
		Req:         ReqNone,
		OrdType:     ordType,
		TimeInForce: tif,
	}
}

// ExecPrice returns the floating-point price of the order's last execution.
func (o *Order) ExecPrice() float64 {
	return TickToPrice(o.ExecPriceTick, o.TickSize)
}

// Update copies the authoritative fields of an exchange response onto the
// local copy of an order, per spec.md §4.4 response reconciliation step 5.
func (o *Order) Update(resp *Order) {
	o.Status = resp.Status
	o.Req = resp.Req
	o.Maker = resp.Maker
	o.ExecQty = resp.ExecQty
	o.ExecPriceTick = resp.ExecPriceTick
	o.LeavesQty = resp.LeavesQty
	o.PriceTick = resp.PriceTick
	o.Price = resp.Price
	if !resp.IsAuction {
		// On an auction response Qty carries the signed residual, not the
		// order quantity.
		o.Qty = resp.Qty
	}
	o.ExchTimestamp = resp.ExchTimestamp
	o.IsAuction = resp.IsAuction
}

// Clone returns a value copy. The latency channels carry Order values, so an
// order crossing a channel is already copied without calling Clone.
func (o Order) Clone() Order {
	return o
}
