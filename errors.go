package backtestcore

import "errors"

// Sentinel errors for the semantic failures spec.md §7 enumerates. As in the
// teacher (internal/engine/orderbook.go's ErrNotEnoughLiquidity/ErrRejection),
// these are plain package-level sentinels rather than a custom error-code
// type, wrapped with fmt.Errorf("...: %w", err) at call sites that need to
// add context.
var (
	// ErrOrderIDExists is returned when submitting/acking an order id that
	// is already live on the same side (local map or exchange queue model).
	ErrOrderIDExists = errors.New("order id already exists")

	// ErrOrderNotFound is returned for modify/cancel against an unknown id,
	// or when a depth/queue lookup during fill processing misses.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderRequestInProcess is returned by the local processor when a
	// modify or cancel is requested while a prior request is unacknowledged.
	ErrOrderRequestInProcess = errors.New("order request already in process")

	// ErrInvalidOrderStatus names an attempt to fill an order that is
	// already in a terminal status. No code path in this module returns
	// it: the exchange's fill paths do not check the order's status.
	ErrInvalidOrderStatus = errors.New("invalid order status for this operation")

	// ErrInvalidOrderRequest is returned by the exchange for an unsupported
	// OrdType/TimeInForce combination or an unrecognized request kind.
	ErrInvalidOrderRequest = errors.New("invalid order type or time in force")

	// ErrEndOfData names stream exhaustion, which is not a failure
	// (spec.md §7). The scheduler does not return it: it reports
	// exhaustion as the sched.EndOfData ElapseResult instead.
	ErrEndOfData = errors.New("end of data")
)
