package cascade

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ComputeBatch computes independent requests concurrently. Results keep the
// order of reqs. The first failure cancels the remaining work.
func ComputeBatch(ctx context.Context, reqs []Request, workers int) ([]*Result, error) {
	if workers <= 0 {
		workers = 1
	}
	results := make([]*Result, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range reqs {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := ComputeDistribution(reqs[i])
			if err != nil {
				return fmt.Errorf("request %d (%s): %w", i, reqs[i].EventID, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
