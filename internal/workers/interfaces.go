package workers

import (
	"context"
)

// Job is a unit of background work. Payload is owned by the processor that submitted it.
type Job struct {
	ID       string
	Type     string
	TenantID string
	Payload  interface{}
}

// JobProcessor handles jobs taken off a worker pool queue.
type JobProcessor interface {
	// Process handles a single job. A returned error is logged and reported to OnResult.
	Process(ctx context.Context, job Job) error

	// Name returns the processor name for logging.
	Name() string
}

// WorkerPool defines the interface for managing a pool of job processing workers.
type WorkerPool interface {
	// Start initializes the worker pool with N workers.
	Start(ctx context.Context) error

	// Submit adds a job to the queue. Blocks while the queue is full until ctx is done.
	Submit(ctx context.Context, job Job) error

	// Drain stops accepting new jobs and waits for queued and in-flight jobs to complete.
	Drain(ctx context.Context) error

	// Stop immediately stops all workers.
	Stop()
}
