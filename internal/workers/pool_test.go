package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ai-hotline/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcProcessor struct {
	fn func(ctx context.Context, job Job) error
}

func (f funcProcessor) Name() string { return "test" }

func (f funcProcessor) Process(ctx context.Context, job Job) error { return f.fn(ctx, job) }

func TestPool_ProcessesAndDrains(t *testing.T) {
	ctx := context.Background()
	var processed atomic.Int32
	var mu sync.Mutex
	var results []ProcessingResult

	p := NewWorkerPool(WorkerPoolConfig{
		NumWorkers: 3,
		QueueSize:  10,
		OnResult: func(r ProcessingResult) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		},
	}, funcProcessor{fn: func(ctx context.Context, job Job) error {
		processed.Add(1)
		if job.Type == "bad" {
			return errors.New("boom")
		}
		return nil
	}}, observability.NewNopLogger())

	require.NoError(t, p.Start(ctx))
	for i := 0; i < 8; i++ {
		require.NoError(t, p.Submit(ctx, Job{ID: "ok", Type: "good"}))
	}
	require.NoError(t, p.Submit(ctx, Job{ID: "bad", Type: "bad"}))
	require.NoError(t, p.Drain(ctx))

	assert.Equal(t, int32(9), processed.Load())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 9)
	failures := 0
	for _, r := range results {
		if r.Error != nil {
			failures++
			assert.Equal(t, "bad", r.Job.ID)
		}
	}
	assert.Equal(t, 1, failures)
}

func TestPool_SubmitLifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewWorkerPool(WorkerPoolConfig{NumWorkers: 1}, funcProcessor{fn: func(ctx context.Context, job Job) error {
		return nil
	}}, observability.NewNopLogger())

	assert.ErrorIs(t, p.Submit(ctx, Job{}), ErrPoolNotStarted)
	require.NoError(t, p.Start(ctx))
	assert.Error(t, p.Start(ctx))
	require.NoError(t, p.Drain(ctx))
	assert.ErrorIs(t, p.Submit(ctx, Job{}), ErrPoolShuttingDown)
	p.Stop()
}

func TestPool_SubmitBlocksUntilContextDone(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	p := NewWorkerPool(WorkerPoolConfig{NumWorkers: 1, QueueSize: 1}, funcProcessor{fn: func(ctx context.Context, job Job) error {
		<-release
		return nil
	}}, observability.NewNopLogger())
	require.NoError(t, p.Start(ctx))
	defer func() {
		close(release)
		p.Stop()
	}()

	require.NoError(t, p.Submit(ctx, Job{ID: "1"}))
	// The worker holds job 1; wait until it has been taken off the queue.
	require.Eventually(t, func() bool {
		attempt, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
		defer cancel()
		return p.Submit(attempt, Job{ID: "2"}) == nil
	}, time.Second, 10*time.Millisecond)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Submit(short, Job{ID: "3"}), context.DeadlineExceeded)
}

func TestPool_RecoversPanics(t *testing.T) {
	ctx := context.Background()
	errs := make(chan error, 1)
	p := NewWorkerPool(WorkerPoolConfig{NumWorkers: 1, OnResult: func(r ProcessingResult) { errs <- r.Error }},
		funcProcessor{fn: func(ctx context.Context, job Job) error { panic("bad job") }},
		observability.NewNopLogger())
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Submit(ctx, Job{ID: "p"}))

	select {
	case err := <-errs:
		assert.ErrorContains(t, err, "bad job")
	case <-time.After(time.Second):
		t.Fatal("job was not processed")
	}
	require.NoError(t, p.Drain(ctx))
}
