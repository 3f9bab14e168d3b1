// Package workpool runs a fixed-size pool of workers over an indexed
// task list.
//
// Work distribution is a single shared atomic next-index counter: each
// worker pulls one index at a time until the counter passes n. No
// ordering is guaranteed between tasks. The first error cancels nothing
// mid-task but stops the pool from handing out further work and is
// returned to the caller.
package workpool

import (
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Run executes fn(i) for every i in [0,n) across the given number of
// workers and returns the first error.
func Run(workers, n int, fn func(i int) error) error {
	if workers < 1 {
		workers = 1
	}

	var next atomic.Int64
	var failed atomic.Bool
	g := new(errgroup.Group)

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				if failed.Load() {
					return nil
				}
				i := int(next.Add(1)) - 1
				if i >= n {
					return nil
				}
				if err := fn(i); err != nil {
					failed.Store(true)
					return err
				}
			}
		})
	}
	return g.Wait()
}
