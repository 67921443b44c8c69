// Package sched implements the Backtest Scheduler of spec.md §4.6: the
// single-threaded driver that interleaves the historical event stream with
// the two latency channels in strict, deterministic timestamp order and
// exposes the strategy-facing elapse(ns) suspension point.
//
// Grounded on the teacher's internal/worker.go supervised work-loop shape
// (a run loop pumping one unit of work at a time until cancellation or
// exhaustion), generalized here into a deterministic multi-source merge
// with no goroutines, per spec.md §5's single-threaded mandate.
package sched

import (
	bc "backtestcore"
	"backtestcore/exchange"
	"backtestcore/latency"
	"backtestcore/local"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventSource yields historical market events in file order. Timestamp
// ordering is the scheduler's responsibility, not the source's, per
// spec.md §6.1.
type EventSource interface {
	Next() (bc.Event, bool)
}

// ElapseResult reports how an elapse call ended.
type ElapseResult int

const (
	// Ok is the normal outcome: the simulation clock reached the requested
	// target.
	Ok ElapseResult = iota
	// EndOfData is returned when every event source and latency channel
	// is exhausted before the target was reached; spec.md §7 treats this
	// as a distinct scheduler result, not an error.
	EndOfData
)

func (r ElapseResult) String() string {
	if r == EndOfData {
		return "EndOfData"
	}
	return "Ok"
}

// Scheduler is the default Backtest Scheduler.
type Scheduler struct {
	events EventSource
	exch   *exchange.PartialFillExchange
	local  *local.LocalProcessor
	logger zerolog.Logger
	runID  uuid.UUID

	now int64

	peek          *bc.Event
	peekExchDone  bool
	peekLocalDone bool
}

// New constructs a Scheduler over one asset's event source and processor
// pair.
func New(events EventSource, exch *exchange.PartialFillExchange, local *local.LocalProcessor, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		events: events,
		exch:   exch,
		local:  local,
		runID:  uuid.New(),
		logger: logger.With().Str("component", "sched").Logger(),
	}
}

// CurrentTimestamp returns the simulation clock.
func (s *Scheduler) CurrentTimestamp() int64 { return s.now }

func (s *Scheduler) fillPeek() bool {
	if s.peek != nil {
		return true
	}
	ev, ok := s.events.Next()
	if !ok {
		return false
	}
	s.peek = &ev
	s.peekExchDone = !ev.Is(bc.ExchEvent)
	s.peekLocalDone = !ev.Is(bc.LocalEvent)
	return true
}

const infinity = latency.Infinity

// candidate identifies which of the four deterministic sources produced
// the scheduler's next timestamp, per spec.md §4.6's tie-break ordering:
// (1) exchange market event, (2) exchange order request, (3) local order
// response, (4) local market event.
type candidate int

const (
	none candidate = iota
	exchMarketEvent
	exchOrderRequest
	localOrderResponse
	localMarketEvent
)

// next picks the earliest of the four candidate timestamps, breaking ties
// by the fixed priority order above.
func (s *Scheduler) next() (candidate, int64) {
	s.fillPeek()

	var tExchEvent, tLocalEvent int64 = infinity, infinity
	if s.peek != nil {
		if !s.peekExchDone {
			tExchEvent = s.peek.ExchTs
		}
		if !s.peekLocalDone {
			tLocalEvent = s.peek.LocalTs
		}
	}
	tExchReq := s.local.L2E().EarliestRecvOrderTimestamp()
	tLocalResp := s.exch.E2L().EarliestRecvOrderTimestamp()

	best := none
	bestTs := infinity
	consider := func(c candidate, ts int64) {
		if ts < bestTs {
			bestTs = ts
			best = c
		}
	}
	// Priority order doubles as evaluation order: an earlier call never
	// loses a tie because `<` (not `<=`) never displaces it.
	consider(exchMarketEvent, tExchEvent)
	consider(exchOrderRequest, tExchReq)
	consider(localOrderResponse, tLocalResp)
	consider(localMarketEvent, tLocalEvent)
	return best, bestTs
}

// step advances the simulation by exactly one discrete delivery. waitID, if
// non-nil, is an order id the caller is blocked awaiting; step reports
// whether a response for it was just reconciled.
func (s *Scheduler) step(waitID *bc.OrderID) (receivedWait bool, done bool, err error) {
	c, t := s.next()
	if c == none {
		return false, true, nil
	}
	s.now = t

	switch c {
	case exchMarketEvent:
		if err := s.exch.ProcessMarketEvent(*s.peek); err != nil {
			return false, false, err
		}
		s.peekExchDone = true
		if s.peekLocalDone {
			s.peek = nil
		}
	case localMarketEvent:
		if err := s.local.ProcessMarketEvent(*s.peek); err != nil {
			return false, false, err
		}
		s.peekLocalDone = true
		if s.peekExchDone {
			s.peek = nil
		}
	case exchOrderRequest:
		for _, req := range s.local.L2E().Receive(t) {
			if err := s.exch.HandleOrderRequest(req, t); err != nil {
				s.logger.Error().Str("run_id", s.runID.String()).Err(err).Msg("exchange order request failed")
				return false, false, err
			}
		}
	case localOrderResponse:
		resps := s.exch.E2L().Receive(t)
		if s.local.ProcessResponses(resps, t, waitID) {
			receivedWait = true
		}
	}
	return receivedWait, false, nil
}

// Elapse advances the simulation clock by ns nanoseconds, per spec.md §4.6.
func (s *Scheduler) Elapse(ns int64) (ElapseResult, error) {
	target := s.now + ns
	for s.now < target {
		if c, t := s.next(); c != none && t > target {
			s.now = target
			return Ok, nil
		}
		_, done, err := s.step(nil)
		if err != nil {
			return Ok, err
		}
		if done {
			s.logger.Info().Str("run_id", s.runID.String()).Msg("end of data")
			return EndOfData, nil
		}
	}
	return Ok, nil
}

// WaitOrderResponse advances the simulation until a response for id has
// been reconciled on the local side, or until maxNs nanoseconds have
// elapsed with no response, whichever comes first. It backs the Bot
// surface's wait_response=true submit/cancel option.
func (s *Scheduler) WaitOrderResponse(id bc.OrderID, maxNs int64) (ElapseResult, error) {
	target := s.now + maxNs
	for s.now < target {
		if c, t := s.next(); c != none && t > target {
			s.now = target
			return Ok, nil
		}
		received, done, err := s.step(&id)
		if err != nil {
			return Ok, err
		}
		if received {
			return Ok, nil
		}
		if done {
			s.logger.Info().Str("run_id", s.runID.String()).Msg("end of data")
			return EndOfData, nil
		}
	}
	return Ok, nil
}
