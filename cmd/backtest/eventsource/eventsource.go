// Package eventsource is the CLI-shell event loader spec.md §6.1 describes:
// a minimal newline-delimited-JSON reader producing one Event per line, in
// file order. It carries no ordering invariants of its own — the scheduler
// is responsible for interpreting each event's timestamps.
package eventsource

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	bc "backtestcore"
)

// record is the on-disk shape of one line; it exists separately from
// bc.Event so the wire format can use readable snake_case field names
// without adding JSON tags to the core Event type.
type record struct {
	Flags   uint64 `json:"flags"`
	Side    int    `json:"side"`
	Price   float64 `json:"price"`
	Qty     float64 `json:"qty"`
	OrderID uint64 `json:"order_id"`
	Ival    int64  `json:"ival"`
	ExchTs  int64  `json:"exch_ts"`
	LocalTs int64  `json:"local_ts"`
}

// Reader implements sched.EventSource over an NDJSON file.
type Reader struct {
	f       *os.File
	scanner *bufio.Scanner
	line    int
}

// Open reads events from path, one JSON object per line.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("eventsource: %w", err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{f: f, scanner: scanner}, nil
}

// Next returns the next event, or false once the file is exhausted. Blank
// lines are skipped.
func (r *Reader) Next() (bc.Event, bool) {
	for r.scanner.Scan() {
		r.line++
		raw := r.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		return bc.Event{
			Flags:   bc.EventFlag(rec.Flags),
			Side:    bc.Side(rec.Side),
			Px:      rec.Price,
			Qty:     rec.Qty,
			OrderID: bc.OrderID(rec.OrderID),
			Ival:    rec.Ival,
			ExchTs:  rec.ExchTs,
			LocalTs: rec.LocalTs,
		}, true
	}
	return bc.Event{}, false
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}
