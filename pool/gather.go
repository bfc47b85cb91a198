package pool

import "golang.org/x/sync/errgroup"

// Gather submits every task and blocks until all results arrive, returning
// them in submission order. All futures are awaited even when one fails; the
// first rejection, task error, or type mismatch is returned.
//
// Example:
//
//	sums, err := pool.Gather[uint64](p, tasks...)
func Gather[T any](p *Pool, tasks ...Task) ([]T, error) {
	futures := make([]*Future, len(tasks))
	for i, t := range tasks {
		futures[i] = p.Submit(t)
	}

	results := make([]T, len(tasks))
	var g errgroup.Group
	for i, f := range futures {
		i, f := i, f
		g.Go(func() error {
			v, err := Await[T](f)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
