package util

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/OFFIS-RIT/hippo/backend/pkg/logger"
)

// RunQueue processes items with a fixed pool of workers pulling from a
// bounded channel. The first error is captured and returned after all
// in-flight work has drained; later errors are logged but never overwrite
// the first. A captured error sets a stop flag so queued items are skipped,
// but running items are allowed to finish.
func RunQueue[T any](ctx context.Context, items []T, workers int, fn func(context.Context, T) error) error {
	total := len(items)
	if total == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > total {
		workers = total
	}

	logger.Info("Processing work queue", "items", total, "workers", workers)

	queue := make(chan T, workers)

	var (
		firstErr  error
		errOnce   sync.Once
		stopped   atomic.Bool
		completed atomic.Int64
		wg        sync.WaitGroup
	)

	setFirstErr := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			stopped.Store(true)
		})
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				if stopped.Load() {
					continue
				}
				if err := fn(ctx, item); err != nil {
					logger.Error("Work item failed", "err", err)
					setFirstErr(err)
					continue
				}
				done := completed.Add(1)
				if step := int64(max(1, total/20)); done%step == 0 {
					logger.Debug("Work queue progress", "done", done, "total", total)
				}
			}
		}()
	}

	for _, item := range items {
		if stopped.Load() || ctx.Err() != nil {
			break
		}
		queue <- item
	}
	close(queue)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
