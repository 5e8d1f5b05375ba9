package pipeline

import "golang.org/x/sync/errgroup"

// fanOut runs unit for 0..n-1 with at most limit in flight (0 means no bound)
// and returns once every unit has finished. Units report their own failures.
func fanOut(limit, n int, unit func(i int)) {
	if n <= 0 {
		return
	}
	if n == 1 {
		unit(0)
		return
	}
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			unit(i)
			return nil
		})
	}
	_ = g.Wait()
}

// limiter caps work shared by nested fan-outs. A nil limiter is unbounded.
type limiter chan struct{}

func newLimiter(n int) limiter {
	if n <= 0 {
		return nil
	}
	return make(limiter, n)
}

func (l limiter) do(fn func()) {
	if l == nil {
		fn()
		return
	}
	l <- struct{}{}
	defer func() { <-l }()
	fn()
}
