package actions

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the default number of concurrent requests.
const DefaultConcurrency = 5

// Result is the outcome of an action on one conversation.
type Result struct {
	ID  string
	Err error
}

// runBulk applies op to every id with bounded parallelism. Individual
// failures do not cancel the others. Results keep the order of ids; ids
// skipped because ctx was cancelled report ctx's error.
func runBulk(ctx context.Context, ids []string, concurrency int64, op func(ctx context.Context, id string) error) []Result {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	sem := semaphore.NewWeighted(concurrency)
	results := make([]Result, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				results[i] = Result{ID: id, Err: err}
				return nil
			}
			defer sem.Release(1)

			results[i] = Result{ID: id, Err: op(gctx, id)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Counts returns success and failure counts.
func Counts(results []Result) (ok, failed int) {
	for _, r := range results {
		if r.Err == nil {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}

// Err joins the failures of results, or returns nil when all succeeded.
func Err(results []Result) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.ID, r.Err))
		}
	}
	return errors.Join(errs...)
}

// chunk splits ids into batches of at most size.
func chunk(ids []string, size int) [][]string {
	var out [][]string
	for size > 0 && len(ids) > size {
		out = append(out, ids[:size:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
