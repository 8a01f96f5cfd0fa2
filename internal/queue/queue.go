// Package queue serializes ingestion work onto a single background worker.
// Ingestion is memory-heavy; running uploads one at a time keeps the peak
// footprint bounded regardless of how many files arrive at once.
package queue

import (
	"context"
	"log"
	"sync"
)

// Job is one queued upload.
type Job struct {
	EstimateID string
	FileName   string
	Data       []byte
}

// Handler processes one job end to end, including its own status reporting.
type Handler func(ctx context.Context, job Job) error

// Runner owns the worker goroutine and the job channel.
type Runner struct {
	handler Handler
	jobs    chan Job
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	stopped bool
}

// NewRunner starts a runner with the given queue capacity.
func NewRunner(handler Handler, capacity int) *Runner {
	if capacity <= 0 {
		capacity = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		handler: handler,
		jobs:    make(chan Job, capacity),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// Enqueue submits a job. It returns false when the queue is full or the
// runner has stopped; the caller reports that as backpressure.
func (r *Runner) Enqueue(job Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	select {
	case r.jobs <- job:
		return true
	default:
		return false
	}
}

// Stop cancels the in-flight job, rejects further submissions, and waits for
// the worker to exit. Queued jobs that have not started are dropped.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.stopped = true
	close(r.jobs)
	r.mu.Unlock()

	r.cancel()
	<-r.done
}

func (r *Runner) loop() {
	defer close(r.done)
	for job := range r.jobs {
		if r.ctx.Err() != nil {
			return
		}
		log.Printf("[Queue] processing %s (%s, %d bytes)", job.EstimateID, job.FileName, len(job.Data))
		if err := r.handler(r.ctx, job); err != nil {
			log.Printf("[Queue] job %s failed: %v", job.EstimateID, err)
			continue
		}
		log.Printf("[Queue] job %s done", job.EstimateID)
	}
}
