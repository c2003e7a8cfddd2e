package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map applies mapFunc to every element of seq with at most limit calls in
// flight and yields the results in completion order. Cancelling ctx stops
// scheduling new elements; breaking out of the loop cancels the in-flight
// ones and waits for them.
//
//	for name, err := range parallel.Map(ctx, 4, names, remove) {}
func Map[E, D any](ctx context.Context, limit int, seq iter.Seq[E], mapFunc func(context.Context, E) (D, error)) iter.Seq2[D, error] {
	if limit <= 0 {
		limit = 1
	}
	return func(yield func(D, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		mapped := make(chan result[D])

		go func() {
			defer close(mapped)
			for entry := range seq {
				if gctx.Err() != nil {
					break
				}
				g.Go(func() error {
					d, err := mapFunc(gctx, entry)
					select {
					case mapped <- result[D]{d: d, e: err}:
					case <-gctx.Done():
					}
					return nil
				})
			}
			_ = g.Wait()
		}()

		defer func() {
			cancel()
			// drain so no worker outlives the loop
			for range mapped {
			}
		}()

		for r := range mapped {
			if ctx.Err() != nil {
				return
			}
			if !yield(r.d, r.e) {
				return
			}
		}
	}
}
