// Package local implements the Local Processor of spec.md §4.4: the
// strategy-side book replica, order-lifecycle tracker and response
// reconciler.
//
// Grounded on original_source/hftbacktest/src/backtest/proc/l3_local.rs's
// LocalProcessor impl (submit_order/modify/cancel/clear_inactive_orders,
// process/process_recv_order), translated into the teacher's style: plain
// structs with explicit error returns instead of Result<_, Error>, and a
// zerolog.Logger field for the ambient logging spec.md's expanded scope
// calls for.
package local

import (
	"sort"

	bc "backtestcore"
	"backtestcore/depth"
	"backtestcore/latency"
	"backtestcore/state"

	"github.com/rs/zerolog"
)

type orderLatency struct {
	localTs, exchTs, recvTs int64
	ok                      bool
}

type feedLatency struct {
	localTs, exchTs int64
	ok              bool
}

type modifyStash struct {
	price     float64
	priceTick int64
	qty       float64
}

// LocalProcessor is the default Local Processor.
type LocalProcessor struct {
	depth   depth.L3MarketDepth
	state   *state.State
	latency latency.Model
	l2e     *latency.Channel[bc.Order]
	logger  zerolog.Logger

	orders map[bc.OrderID]*bc.Order
	stash  map[bc.OrderID]modifyStash

	trades         []bc.Event
	tradesCapacity int

	lastFeed  feedLatency
	lastOrder orderLatency
}

// New constructs a Local Processor over the given depth replica, state
// accumulator and latency model.
func New(d depth.L3MarketDepth, st *state.State, lm latency.Model, tradesCapacity int, logger zerolog.Logger) *LocalProcessor {
	return &LocalProcessor{
		depth:          d,
		state:          st,
		latency:        lm,
		l2e:            latency.NewChannel[bc.Order](),
		logger:         logger.With().Str("component", "local").Logger(),
		orders:         make(map[bc.OrderID]*bc.Order),
		stash:          make(map[bc.OrderID]modifyStash),
		tradesCapacity: tradesCapacity,
	}
}

// L2E exposes the local-to-exchange request channel for the scheduler and
// exchange processor to drain.
func (l *LocalProcessor) L2E() *latency.Channel[bc.Order] { return l.l2e }

// Depth exposes the strategy-visible book replica.
func (l *LocalProcessor) Depth() depth.L3MarketDepth { return l.depth }

// Position returns the strategy's current signed position.
func (l *LocalProcessor) Position() float64 { return l.state.Position() }

// StateValues snapshots position, cash, P&L and fees.
func (l *LocalProcessor) StateValues() state.Values { return l.state.Values() }

// Orders returns a defensive copy of the strategy's order map.
func (l *LocalProcessor) Orders() map[bc.OrderID]bc.Order {
	out := make(map[bc.OrderID]bc.Order, len(l.orders))
	for id, o := range l.orders {
		out[id] = *o
	}
	return out
}

// LastTrades returns the recent-trades ring buffer contents.
func (l *LocalProcessor) LastTrades() []bc.Event {
	out := make([]bc.Event, len(l.trades))
	copy(out, l.trades)
	return out
}

// ClearLastTrades empties the recent-trades ring buffer.
func (l *LocalProcessor) ClearLastTrades() { l.trades = nil }

// FeedLatency returns the (local_ts, exch_ts) of the most recently
// processed market-data event.
func (l *LocalProcessor) FeedLatency() (localTs, exchTs int64, ok bool) {
	return l.lastFeed.localTs, l.lastFeed.exchTs, l.lastFeed.ok
}

// OrderLatency returns the (local_ts, exch_ts, recv_ts) of the most
// recently reconciled order response.
func (l *LocalProcessor) OrderLatency() (localTs, exchTs, recvTs int64, ok bool) {
	return l.lastOrder.localTs, l.lastOrder.exchTs, l.lastOrder.recvTs, l.lastOrder.ok
}

func (l *LocalProcessor) eventSide(ev bc.Event) bc.Side {
	switch {
	case ev.Is(bc.BidFlag) && !ev.Is(bc.AskFlag):
		return bc.Buy
	case ev.Is(bc.AskFlag) && !ev.Is(bc.BidFlag):
		return bc.Sell
	default:
		return bc.SideNone
	}
}

// ProcessMarketEvent mirrors one local-visible market-data event onto the
// local depth replica, per spec.md §4.4's market-data handling.
func (l *LocalProcessor) ProcessMarketEvent(ev bc.Event) error {
	l.depth.SetAllowPriceCross(ev.Is(bc.AuctionUpdateEvent))

	switch {
	case ev.Is(bc.DepthClearEvent):
		l.depth.ClearOrders(l.eventSide(ev))
	case ev.Is(bc.AddOrderEvent):
		if ev.Side == bc.Buy {
			_, _, _ = l.depth.AddBuyOrder(ev.OrderID, ev.Px, ev.Qty, ev.LocalTs)
		} else {
			_, _, _ = l.depth.AddSellOrder(ev.OrderID, ev.Px, ev.Qty, ev.LocalTs)
		}
	case ev.Is(bc.ModifyOrderEvent):
		_ = l.depth.ModifyOrder(ev.OrderID, ev.Px, ev.Qty, ev.LocalTs)
	case ev.Is(bc.CancelOrderEvent):
		_ = l.depth.DeleteOrder(ev.OrderID, ev.LocalTs)
	case ev.Is(bc.FillEvent):
		l.reduceOnFill(ev.OrderID, ev.Qty, ev.LocalTs)
		l.reduceOnFill(bc.OrderID(ev.Ival), ev.Qty, ev.LocalTs)
	case ev.Is(bc.TradeEvent):
		l.pushTrade(ev)
	}

	l.lastFeed = feedLatency{localTs: ev.LocalTs, exchTs: ev.ExchTs, ok: true}
	return nil
}

func (l *LocalProcessor) reduceOnFill(id bc.OrderID, qty float64, ts int64) {
	o, ok := l.depth.OrderByID(id)
	if !ok {
		return
	}
	remaining := o.Qty - qty
	if remaining <= 1e-9 {
		_ = l.depth.DeleteOrder(id, ts)
		return
	}
	_ = l.depth.ModifyOrder(id, bc.TickToPrice(o.PriceTick, l.depth.TickSize()), remaining, ts)
}

func (l *LocalProcessor) pushTrade(ev bc.Event) {
	if l.tradesCapacity <= 0 {
		return
	}
	l.trades = append(l.trades, ev)
	if len(l.trades) > l.tradesCapacity {
		l.trades = l.trades[len(l.trades)-l.tradesCapacity:]
	}
}

// SubmitOrder creates a new order in status New and sends it to the L2E
// channel, per spec.md §4.4.
func (l *LocalProcessor) SubmitOrder(id bc.OrderID, side bc.Side, price, qty float64, ordType bc.OrdType, tif bc.TimeInForce, now int64) error {
	if _, exists := l.orders[id]; exists {
		return bc.ErrOrderIDExists
	}
	order := bc.NewOrder(id, side, price, l.depth.TickSize(), qty, ordType, tif)
	order.Req = bc.ReqNew
	order.LocalTimestamp = now
	l.orders[id] = &order

	req := order
	delay := l.latency.EntryLatency(req)
	l.l2e.Request(req, now, delay, func(r *bc.Order) {
		r.Req = bc.ReqRejected
		r.Status = bc.StatusRejected
	})
	return nil
}

// Modify requests a price/qty change for a resting order, stashing the
// original terms so a rejection can roll them back.
func (l *LocalProcessor) Modify(id bc.OrderID, price, qty float64, now int64) error {
	o, ok := l.orders[id]
	if !ok {
		return bc.ErrOrderNotFound
	}
	if o.Req != bc.ReqNone {
		return bc.ErrOrderRequestInProcess
	}
	l.stash[id] = modifyStash{price: o.Price, priceTick: o.PriceTick, qty: o.Qty}

	newTick := bc.PriceTick(price, o.TickSize)
	o.Price = bc.TickToPrice(newTick, o.TickSize)
	o.PriceTick = newTick
	o.Qty = qty
	o.LeavesQty = qty
	o.Req = bc.ReqReplaced
	o.LocalTimestamp = now

	req := *o
	delay := l.latency.EntryLatency(req)
	l.l2e.Request(req, now, delay, func(r *bc.Order) { r.Req = bc.ReqRejected })
	return nil
}

// Cancel requests cancellation of a resting order.
func (l *LocalProcessor) Cancel(id bc.OrderID, now int64) error {
	o, ok := l.orders[id]
	if !ok {
		return bc.ErrOrderNotFound
	}
	if o.Req != bc.ReqNone {
		return bc.ErrOrderRequestInProcess
	}
	o.Req = bc.ReqCanceled
	o.LocalTimestamp = now

	req := *o
	delay := l.latency.EntryLatency(req)
	l.l2e.Request(req, now, delay, func(r *bc.Order) { r.Req = bc.ReqRejected })
	return nil
}

// ClearInactiveOrders drops every order in a terminal status.
func (l *LocalProcessor) ClearInactiveOrders() {
	for id, o := range l.orders {
		if o.Status.IsTerminal() {
			delete(l.orders, id)
			delete(l.stash, id)
		}
	}
}

// ProcessResponses reconciles every response already popped from the E2L
// channel (release_ts <= the scheduler's current time), per spec.md §4.4's
// response reconciliation steps. waitID, if non-nil, is the order id the
// strategy is blocked awaiting; ProcessResponses reports whether it saw a
// response for that id.
func (l *LocalProcessor) ProcessResponses(responses []bc.Order, now int64, waitID *bc.OrderID) (receivedWait bool) {
	for _, resp := range responses {
		if resp.IsAuction {
			l.reconcileAuctionDepth(resp, now)
		}

		if resp.ExchTimestamp > 0 {
			l.lastOrder = orderLatency{localTs: resp.LocalTimestamp, exchTs: resp.ExchTimestamp, recvTs: now, ok: true}
		}
		if waitID != nil && resp.OrderID == *waitID {
			receivedWait = true
		}
		// Applying state on every fill (not only the terminal Filled
		// status literally named in spec.md §4.4 step 4) keeps P&L
		// accurate across an order that fills in several partial
		// increments before finally reaching leaves_qty=0.
		if resp.ExecQty > 0 {
			l.state.ApplyFill(resp.Side, resp.ExecPrice(), resp.ExecQty, resp.Maker)
		}

		existing, known := l.orders[resp.OrderID]
		switch {
		case known && resp.Req == bc.ReqRejected && existing.LocalTimestamp == resp.LocalTimestamp:
			if existing.Req == bc.ReqNew {
				existing.Status = bc.StatusExpired
				existing.Req = bc.ReqNone
			} else if s, ok := l.stash[resp.OrderID]; ok {
				existing.Price = s.price
				existing.PriceTick = s.priceTick
				existing.Qty = s.qty
				existing.LeavesQty = s.qty
				existing.Req = bc.ReqNone
				delete(l.stash, resp.OrderID)
			} else {
				existing.Req = bc.ReqNone
			}
		case known:
			existing.Update(&resp)
			delete(l.stash, resp.OrderID)
		case resp.Req != bc.ReqRejected:
			cp := resp
			l.orders[resp.OrderID] = &cp
		}
	}
	return receivedWait
}

// reconcileAuctionDepth applies an is_auction response's signed residual to
// the local depth mirror, per spec.md §4.4 step 1: crossed orders are
// deleted outright, the shorter side at the auction tick is cleared, and
// the longer side is trimmed in time priority down to the residual.
func (l *LocalProcessor) reconcileAuctionDepth(resp bc.Order, now int64) {
	pT := resp.ExecPriceTick
	orders := l.depth.Orders()

	var atBid, atAsk []depth.L3Order
	for id, o := range orders {
		switch {
		case o.Side == bc.Buy && o.PriceTick > pT:
			_ = l.depth.DeleteOrder(id, now)
		case o.Side == bc.Sell && o.PriceTick < pT:
			_ = l.depth.DeleteOrder(id, now)
		case o.Side == bc.Buy && o.PriceTick == pT:
			atBid = append(atBid, o)
		case o.Side == bc.Sell && o.PriceTick == pT:
			atAsk = append(atAsk, o)
		}
	}
	sort.Slice(atBid, func(i, j int) bool { return atBid[i].Timestamp < atBid[j].Timestamp })
	sort.Slice(atAsk, func(i, j int) bool { return atAsk[i].Timestamp < atAsk[j].Timestamp })

	residual := resp.Qty // signed per spec.md §4.3 step 4
	if residual <= 0 {
		l.clearTick(atAsk, now)
		l.trimTick(atBid, -residual, pT, now)
	} else {
		l.clearTick(atBid, now)
		l.trimTick(atAsk, residual, pT, now)
	}
}

func (l *LocalProcessor) clearTick(orders []depth.L3Order, now int64) {
	for _, o := range orders {
		_ = l.depth.DeleteOrder(o.OrderID, now)
	}
}

func (l *LocalProcessor) trimTick(orders []depth.L3Order, left float64, pT int64, now int64) {
	var total float64
	for _, o := range orders {
		total += o.Qty
	}
	consume := total - left
	price := bc.TickToPrice(pT, l.depth.TickSize())
	for _, o := range orders {
		if consume <= 1e-9 {
			break
		}
		if o.Qty <= consume+1e-9 {
			_ = l.depth.DeleteOrder(o.OrderID, now)
			consume -= o.Qty
		} else {
			_ = l.depth.ModifyOrder(o.OrderID, price, o.Qty-consume, now)
			consume = 0
		}
	}
}
