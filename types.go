// Package backtestcore is a discrete-event backtesting core for
// high-frequency strategies replayed against Level-3 (market-by-order)
// historical data. It reconstructs an exchange-side order book from
// per-order events, simulates a matching engine with bidirectional latency
// between a strategy ("local" side) and the exchange, and accounts for
// fills, fees and position.
package backtestcore

// OrderID identifies an order. Strategy-chosen, globally unique per
// exchange instance.
type OrderID uint64

// Side is a resting or aggressor side.
type Side int

const (
	Buy Side = iota
	Sell
	SideNone
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "Buy"
	case Sell:
		return "Sell"
	default:
		return "None"
	}
}

// Status is the authoritative lifecycle state of an order, as last
// acknowledged by the exchange.
type Status int

const (
	StatusNone Status = iota
	StatusNew
	StatusPartiallyFilled
	StatusFilled
	StatusCanceled
	StatusExpired
	StatusRejected
	StatusReplaced
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "New"
	case StatusPartiallyFilled:
		return "PartiallyFilled"
	case StatusFilled:
		return "Filled"
	case StatusCanceled:
		return "Canceled"
	case StatusExpired:
		return "Expired"
	case StatusRejected:
		return "Rejected"
	case StatusReplaced:
		return "Replaced"
	default:
		return "None"
	}
}

// IsTerminal reports whether no further fills or acknowledgments are
// expected for an order in this status.
func (s Status) IsTerminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusExpired || s == StatusRejected
}

// Req is the in-flight request type the local side is awaiting a response
// for. The exchange clears it to ReqNone on response.
type Req int

const (
	ReqNone Req = iota
	ReqNew
	ReqCanceled
	ReqReplaced
	ReqRejected
)

// OrdType is the order's execution style.
type OrdType int

const (
	Limit OrdType = iota
	Market
	OrdTypeUnsupported
)

// TimeInForce controls how long an order request remains workable.
type TimeInForce int

const (
	GTC TimeInForce = iota // good-till-cancel
	GTX                    // post-only
	IOC                    // immediate-or-cancel
	FOK                    // fill-or-kill
	TimeInForceUnsupported
)
