package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ai-hotline/internal/observability"
)

var (
	ErrPoolNotStarted   = errors.New("worker pool not started")
	ErrPoolShuttingDown = errors.New("worker pool is shutting down")
)

// ProcessingResult represents the result of processing a job.
type ProcessingResult struct {
	Job   Job
	Error error
}

// ResultCallback is called after each job is processed.
type ResultCallback func(result ProcessingResult)

// WorkerPoolConfig holds configuration for the worker pool.
type WorkerPoolConfig struct {
	// NumWorkers is the number of concurrent workers to run.
	NumWorkers int

	// QueueSize is the size of the job queue buffer.
	// If the queue is full, Submit() will block.
	QueueSize int

	// DrainTimeout is the maximum time to wait for in-flight jobs
	// to complete during graceful shutdown.
	DrainTimeout time.Duration

	// OnResult is called after each job is processed (optional).
	OnResult ResultCallback
}

// DefaultWorkerPoolConfig returns sensible defaults for a worker pool.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		NumWorkers:   4,
		QueueSize:    100,
		DrainTimeout: 30 * time.Second,
	}
}

// pool implements the WorkerPool interface.
type pool struct {
	config    WorkerPoolConfig
	processor JobProcessor
	logger    *observability.Logger

	jobs     chan Job
	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup

	// mu is held for reading while a Submit is blocked on the queue, so the
	// channel is never closed under a sender.
	mu       sync.RWMutex
	started  bool
	draining bool
	stopped  bool
	cancelFn context.CancelFunc
}

// NewWorkerPool creates a new worker pool for processing jobs.
func NewWorkerPool(
	config WorkerPoolConfig,
	processor JobProcessor,
	logger *observability.Logger,
) WorkerPool {
	defaults := DefaultWorkerPoolConfig()
	if config.NumWorkers <= 0 {
		config.NumWorkers = defaults.NumWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = defaults.DrainTimeout
	}

	return &pool{
		config:    config,
		processor: processor,
		logger:    logger,
		jobs:      make(chan Job, config.QueueSize),
		quit:      make(chan struct{}),
	}
}

// Start initializes the worker pool with N workers.
func (p *pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("worker pool already started")
	}
	if p.stopped {
		return fmt.Errorf("worker pool already stopped")
	}

	// Workers outlive the request that started them.
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancelFn = cancel
	p.started = true

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.worker(workerCtx, i)
	}

	p.logger.Info(ctx, fmt.Sprintf("Started %d workers for %s processor",
		p.config.NumWorkers, p.processor.Name()))

	return nil
}

// Submit adds a job to the worker pool for processing.
func (p *pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.draining || p.stopped {
		return ErrPoolShuttingDown
	}

	select {
	case p.jobs <- job:
		return nil
	case <-p.quit:
		return ErrPoolShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain stops accepting new jobs and waits for in-flight jobs to complete.
func (p *pool) Drain(ctx context.Context) error {
	p.closeQuit()
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrPoolNotStarted
	}
	if p.draining || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.draining = true
	close(p.jobs)
	p.mu.Unlock()

	p.logger.Info(ctx, fmt.Sprintf("Draining worker pool for %s processor, waiting for %d queued jobs",
		p.processor.Name(), len(p.jobs)))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	drainCtx, cancel := context.WithTimeout(ctx, p.config.DrainTimeout)
	defer cancel()

	select {
	case <-done:
		p.logger.Info(ctx, fmt.Sprintf("Successfully drained worker pool for %s processor",
			p.processor.Name()))
		return nil
	case <-drainCtx.Done():
		p.logger.Warn(ctx, fmt.Sprintf("Drain timeout exceeded for %s processor, forcing shutdown",
			p.processor.Name()))
		p.Stop()
		return fmt.Errorf("drain timeout exceeded")
	}
}

// Stop immediately stops all workers.
func (p *pool) Stop() {
	p.closeQuit()
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true

	if p.cancelFn != nil {
		p.cancelFn()
	}
	if !p.draining {
		close(p.jobs)
	}
}

// closeQuit releases Submit calls blocked on a full queue.
func (p *pool) closeQuit() {
	p.quitOnce.Do(func() { close(p.quit) })
}

// worker is the main worker loop that processes jobs from the queue.
func (p *pool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()

	workerCtx := observability.WithFields(ctx,
		observability.Field{Key: "worker_id", Value: workerID},
		observability.Field{Key: "processor", Value: p.processor.Name()},
	)

	for {
		select {
		case <-ctx.Done():
			return

		case job, ok := <-p.jobs:
			if !ok {
				return
			}

			jobCtx := observability.WithFields(workerCtx,
				observability.Field{Key: "job_id", Value: job.ID},
				observability.Field{Key: "job_type", Value: job.Type},
				observability.Field{Key: "tenant_id", Value: job.TenantID},
			)

			err := p.process(jobCtx, job)
			if err != nil {
				p.logger.Error(jobCtx, fmt.Sprintf("Worker %d failed to process job", workerID), err)
			} else {
				p.logger.Debug(jobCtx, fmt.Sprintf("Worker %d processed job", workerID))
			}

			if p.config.OnResult != nil {
				p.config.OnResult(ProcessingResult{
					Job:   job,
					Error: err,
				})
			}
		}
	}
}

func (p *pool) process(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return p.processor.Process(ctx, job)
}
