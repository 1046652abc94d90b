// Package worker runs independent jobs on a bounded number of goroutines.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Job is one unit of work. Jobs report their results through their own
// fields; the returned error is only logged.
type Job interface {
	Execute(ctx context.Context) error
	Name() string
}

// SpawnWorkerPool starts numWorkers goroutines reading from jobQueue.
// Workers exit when the queue is closed. When ctx is cancelled they drain the
// buffered jobs first (which see the cancelled ctx) so no job is silently
// dropped. A panicking job is logged and does not kill its worker.
func SpawnWorkerPool(
	ctx context.Context,
	numWorkers int,
	jobQueue <-chan Job,
	logger *slog.Logger,
) *sync.WaitGroup {
	if numWorkers <= 0 {
		numWorkers = 1
	}

	wg := &sync.WaitGroup{}

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			executeJob := func(job Job) {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("Job panicked",
							"worker_id", workerID,
							"job", job.Name(),
							"panic", fmt.Sprintf("%v", r),
						)
					}
				}()

				if err := job.Execute(ctx); err != nil {
					logger.Warn("Job failed",
						"worker_id", workerID,
						"job", job.Name(),
						"error", err,
					)
				}
			}

			for {
				select {
				case <-ctx.Done():
					for job := range jobQueue {
						executeJob(job)
					}
					logger.Debug("Worker exiting", "worker_id", workerID, "reason", "context_cancelled")
					return

				case job, ok := <-jobQueue:
					if !ok {
						return
					}
					executeJob(job)
				}
			}
		}(i)
	}

	logger.Debug("Worker pool spawned", "num_workers", numWorkers)

	return wg
}

// Run executes jobs on at most numWorkers goroutines and waits for all of them.
func Run(ctx context.Context, numWorkers int, jobs []Job, logger *slog.Logger) {
	queue := make(chan Job, len(jobs))
	for _, j := range jobs {
		queue <- j
	}
	close(queue)

	SpawnWorkerPool(ctx, numWorkers, queue, logger).Wait()
}
