// Package batch runs several independent data files' backtests
// concurrently, each as its own single-threaded simulation — spec.md §5's
// single-threaded mandate binds one backtest's internals, not the process
// driving several independent runs side by side.
//
// Grounded on the teacher's internal/worker.go WorkerPool: a fixed pool of
// tomb-supervised goroutines pulling tasks off a channel. Generalized here
// from an any-typed task/work pair tied to a net.Conn into a (data file
// path) -> backtest run, since nothing in this domain needs a live
// connection to hand a worker.
package batch

import (
	"context"

	"github.com/rs/zerolog"
	tomb "gopkg.in/tomb.v2"
)

// Run is one data file's outcome.
type Run struct {
	Path string
	Err  error
}

// RunFunc executes a single data file's backtest to completion.
type RunFunc func(ctx context.Context, path string) error

// Pool runs at most n backtests concurrently across a set of data files.
type Pool struct {
	n int
}

// NewPool constructs a pool that runs up to n backtests at a time.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{n: n}
}

// RunAll feeds every path through the pool and blocks until all have
// completed or ctx is canceled, returning one Run per path that a worker
// ran (every path, unless ctx is canceled first).
func (p *Pool) RunAll(ctx context.Context, paths []string, work RunFunc, logger zerolog.Logger) []Run {
	t, ctx := tomb.WithContext(ctx)

	jobs := make(chan string)
	results := make(chan Run, len(paths))

	workers := p.n
	if workers > len(paths) {
		workers = len(paths)
	}
	for i := 0; i < workers; i++ {
		t.Go(func() error {
			for {
				select {
				case <-t.Dying():
					return nil
				case path, ok := <-jobs:
					if !ok {
						return nil
					}
					err := work(ctx, path)
					logger.Info().Str("data", path).AnErr("error", err).Msg("backtest run complete")
					results <- Run{Path: path, Err: err}
				}
			}
		})
	}

	t.Go(func() error {
		defer close(jobs)
		for _, path := range paths {
			select {
			case jobs <- path:
			case <-t.Dying():
				return nil
			}
		}
		return nil
	})

	out := make([]Run, 0, len(paths))
	for len(out) < len(paths) {
		select {
		case r := <-results:
			out = append(out, r)
		case <-t.Dead():
			// Every worker has returned; collect what they produced.
			for len(results) > 0 {
				out = append(out, <-results)
			}
			return out
		}
	}
	t.Kill(nil)
	_ = t.Wait()
	return out
}
