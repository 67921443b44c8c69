// Package latency implements the bidirectional latency channels of
// spec.md §4.5: two priority queues of (release-timestamp, payload) pairs
// connecting the local and exchange processors, plus the pluggable latency
// model that computes release delays.
//
// The teacher's order book (internal/engine/orderbook.go) keeps FIFO
// slices, not a priority queue; for a time-ordered release queue this
// package instead reaches for the standard library's container/heap, the
// idiom the rest of the example pack uses wherever a priority-by-timestamp
// structure is needed and no example repo pulls in a dedicated heap
// library for it.
package latency

import (
	"container/heap"

	bc "backtestcore"
)

// Infinity is the sentinel returned by EarliestSendOrderTimestamp and
// EarliestRecvOrderTimestamp when the channel is empty, so the scheduler's
// min() over channel heads can treat an empty channel as never-next.
const Infinity int64 = 1<<63 - 1

// Model supplies entry (local-to-exchange) and response (exchange-to-local)
// delays for a given order. A negative delay models an unreachable
// destination (e.g. a simulated disconnect), per spec.md §4.5.
type Model interface {
	EntryLatency(order bc.Order) int64
	ResponseLatency(order bc.Order) int64
}

// Constant is a fixed-delay latency model, the simplest configuration and
// the one the example strategy driver defaults to, mirroring the
// zero/flat-latency setup used in buy_and_hold.rs-style examples.
type Constant struct {
	Entry    int64
	Response int64
}

func (c Constant) EntryLatency(order bc.Order) int64    { _ = order; return c.Entry }
func (c Constant) ResponseLatency(order bc.Order) int64 { _ = order; return c.Response }

// ConstantWithDelay adds a fixed extra delay on top of Constant's base
// latencies, useful for modeling a slow strategy host without writing a
// bespoke model.
type ConstantWithDelay struct {
	Constant
	Extra int64
}

func (c ConstantWithDelay) EntryLatency(order bc.Order) int64 {
	return c.Constant.EntryLatency(order) + c.Extra
}

func (c ConstantWithDelay) ResponseLatency(order bc.Order) int64 {
	return c.Constant.ResponseLatency(order) + c.Extra
}

type entry[T any] struct {
	releaseTs int64
	localTs   int64
	payload   T
	seq       uint64
}

type entryHeap[T any] []entry[T]

func (h entryHeap[T]) Len() int { return len(h) }
func (h entryHeap[T]) Less(i, j int) bool {
	if h[i].releaseTs != h[j].releaseTs {
		return h[i].releaseTs < h[j].releaseTs
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap[T]) Push(x any)   { *h = append(*h, x.(entry[T])) }
func (h *entryHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Channel is an in-flight queue of (release-timestamp, payload) pairs,
// used for both the Local-to-Exchange request channel and the
// Exchange-to-Local response channel. It has no capacity limit.
type Channel[T any] struct {
	h   entryHeap[T]
	seq uint64
}

// NewChannel constructs an empty channel.
func NewChannel[T any]() *Channel[T] {
	return &Channel[T]{}
}

// Request enqueues payload for delivery at localTs+delay. If delay is
// negative (an unreachable destination), onReject mutates the payload in
// place before it is enqueued for immediate (zero extra delay) delivery,
// per spec.md §4.5.
func (c *Channel[T]) Request(payload T, localTs int64, delay int64, onReject func(*T)) {
	release := localTs + delay
	if delay < 0 {
		onReject(&payload)
		release = localTs
	}
	c.seq++
	heap.Push(&c.h, entry[T]{releaseTs: release, localTs: localTs, payload: payload, seq: c.seq})
}

// Receive pops and returns every entry with release timestamp <= now, in
// release-timestamp order (insertion order breaks ties).
func (c *Channel[T]) Receive(now int64) []T {
	var out []T
	for c.h.Len() > 0 && c.h[0].releaseTs <= now {
		e := heap.Pop(&c.h).(entry[T])
		out = append(out, e.payload)
	}
	return out
}

// EarliestSendOrderTimestamp returns the head entry's localTs (the
// timestamp it was enqueued at), or Infinity if the channel is empty.
func (c *Channel[T]) EarliestSendOrderTimestamp() int64 {
	if c.h.Len() == 0 {
		return Infinity
	}
	return c.h[0].localTs
}

// EarliestRecvOrderTimestamp returns the head entry's release timestamp,
// or Infinity if the channel is empty.
func (c *Channel[T]) EarliestRecvOrderTimestamp() int64 {
	if c.h.Len() == 0 {
		return Infinity
	}
	return c.h[0].releaseTs
}

// Len reports the number of in-flight entries.
func (c *Channel[T]) Len() int { return c.h.Len() }
