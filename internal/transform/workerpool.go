package transform

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// runBounded runs fn(i) for i in [0, n) across at most workers goroutines,
// returning once every unit has completed. It is the Transformer's
// conversation-level fan-out: conversations are independent units of work,
// so ordering across calls to fn does not matter, only that each runs
// exactly once.
func runBounded(n, workers int, fn func(i int)) {
	if n == 0 {
		return
	}
	if workers < 1 {
		workers = 1
	}

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}
