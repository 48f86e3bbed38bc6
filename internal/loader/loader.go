// Package loader prefetches and collates batches concurrently while
// preserving the batch sampler's emission order.
package loader

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"speechtrain/internal/dataset"
)

// Source is the item-access surface the loader needs: indexed fetch plus
// collation into a structured batch.
type Source interface {
	Item(i int) (dataset.Item, error)
	Collate(items []dataset.Item) (dataset.Batch, error)
}

// Options configures the prefetch pipeline.
type Options struct {
	// Workers is the number of concurrent fetch/collate goroutines.
	Workers int
}

type batchJob struct {
	id      int
	indices []int
}

type batchResult struct {
	id    int
	batch dataset.Batch
}

// Stream materializes each index batch into a collated batch using a pool
// of workers, and emits the results strictly in sampler order. The error
// channel carries at most one error; the output channel closes when the
// sequence is drained, canceled, or failed.
func Stream(parent context.Context, src Source, batches [][]int, opts Options) (<-chan dataset.Batch, <-chan error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	out := make(chan dataset.Batch, workers)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		g, ctx := errgroup.WithContext(parent)

		jobs := make(chan batchJob)
		g.Go(func() error {
			defer close(jobs)
			for id, indices := range batches {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case jobs <- batchJob{id: id, indices: indices}:
				}
			}
			return nil
		})

		results := make(chan batchResult, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			g.Go(func() error {
				defer wg.Done()
				return work(ctx, src, jobs, results)
			})
		}
		go func() {
			wg.Wait()
			close(results)
		}()

		// Reorder completed batches back into emission order.
		pending := make(map[int]dataset.Batch)
		next := 0
	drain:
		for {
			select {
			case <-ctx.Done():
				break drain
			case res, ok := <-results:
				if !ok {
					break drain
				}
				pending[res.id] = res.batch
				for {
					batch, ok := pending[next]
					if !ok {
						break
					}
					select {
					case <-ctx.Done():
						break drain
					case out <- batch:
						delete(pending, next)
						next++
					}
				}
			}
		}

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	return out, errCh
}

func work(ctx context.Context, src Source, jobs <-chan batchJob, results chan<- batchResult) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-jobs:
			if !ok {
				return nil
			}
			items := make([]dataset.Item, 0, len(job.indices))
			for _, idx := range job.indices {
				item, err := src.Item(idx)
				if err != nil {
					return errors.Wrapf(err, "fetch item %d", idx)
				}
				items = append(items, item)
			}
			batch, err := src.Collate(items)
			if err != nil {
				return errors.Wrapf(err, "collate batch %d", job.id)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case results <- batchResult{id: job.id, batch: batch}:
			}
		}
	}
}
