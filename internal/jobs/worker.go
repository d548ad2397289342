package jobs

import (
	"context"
	"log"
	"time"
)

// JobProcessor is one unit of periodic background work.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker drives a JobProcessor on a fixed interval. Shutdown is context-only:
// cancel the context passed to Run, then wait on Done.
type Worker struct {
	processor    JobProcessor
	pollInterval time.Duration
	done         chan struct{}
}

// NewWorker creates a new Worker instance
func NewWorker(processor JobProcessor, pollInterval time.Duration) *Worker {
	return &Worker{
		processor:    processor,
		pollInterval: pollInterval,
		done:         make(chan struct{}),
	}
}

// Run executes one pass immediately, then one per interval, and returns when
// ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	log.Printf("worker started, polling every %v", w.pollInterval)

	w.process(ctx)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("worker stopped")
			return
		case <-ticker.C:
			w.process(ctx)
		}
	}
}

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) process(ctx context.Context) {
	if err := w.processor.ProcessJobs(ctx); err != nil {
		log.Printf("worker pass failed: %v", err)
	}
}
