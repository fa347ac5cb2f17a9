package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()

	a := NewJob("a", "p", time.Now())
	b := NewJob("b", "p", time.Now())
	require.NoError(t, q.Enqueue(ctx, a))
	require.NoError(t, q.Enqueue(ctx, b))
	assert.ErrorIs(t, q.Enqueue(ctx, NewJob("c", "p", time.Now())), ErrQueueFull)
	assert.Equal(t, 2, q.Len())

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(ctx, NewJob("d", "p", time.Now())), ErrQueueClosed)

	got, err = q.Dequeue(ctx)
	require.NoError(t, err, "queued jobs survive Close")
	assert.Equal(t, b.ID, got.ID)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestMemoryQueueDequeueHonoursContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTrackerCounts(t *testing.T) {
	tr := NewTracker()
	a := NewJob("a", "p", time.Now())
	b := NewJob("b", "p", time.Now())
	tr.Put(a)
	tr.Put(b)
	tr.Update(b.ID, func(j *Job) { j.State = StateSucceeded })

	assert.Equal(t, map[State]int{StatePending: 1, StateSucceeded: 1}, tr.Counts())

	_, ok := tr.Update(NewJob("x", "p", time.Now()).ID, func(*Job) {})
	assert.False(t, ok)
}

var errTransient = errors.New("transient")

func startPool(t *testing.T, handler HandlerFunc, policy RetryPolicy) *WorkerPool {
	t.Helper()

	pool := NewWorkerPool(NewMemoryQueue(16), handler, 2, policy)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return pool
}

func waitDone(t *testing.T, pool *WorkerPool, job Job) Job {
	t.Helper()

	var last Job
	require.Eventually(t, func() bool {
		last, _ = pool.Status(job.ID)
		return last.State.Done()
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func TestWorkerPool(t *testing.T) {
	testCases := []struct {
		name         string
		failures     int
		err          error
		retryable    func(error) bool
		wantState    State
		wantAttempts int
		wantStatus   string
	}{
		{name: "first attempt succeeds", wantState: StateSucceeded, wantAttempts: 1, wantStatus: "APPROVED"},
		{name: "succeeds after retries", failures: 2, err: errTransient, wantState: StateSucceeded, wantAttempts: 3, wantStatus: "APPROVED"},
		{name: "exhausts attempts", failures: 5, err: errTransient, wantState: StateFailed, wantAttempts: 3},
		{
			name:         "never retries permanent errors",
			failures:     5,
			err:          errors.New("application not found"),
			retryable:    func(err error) bool { return errors.Is(err, errTransient) },
			wantState:    StateFailed,
			wantAttempts: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			handler := func(ctx context.Context, applicationID, pipelineID string) (string, error) {
				calls++
				if calls <= tc.failures {
					return "", tc.err
				}
				return "APPROVED", nil
			}
			pool := NewWorkerPool(NewMemoryQueue(4), handler, 1, RetryPolicy{MaxAttempts: 3, Retryable: tc.retryable})
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- pool.Run(ctx) }()
			defer func() {
				cancel()
				<-done
			}()

			job, err := pool.Submit(context.Background(), "ana", "default-pipeline")
			require.NoError(t, err)

			got := waitDone(t, pool, job)
			assert.Equal(t, tc.wantState, got.State)
			assert.Equal(t, tc.wantAttempts, got.Attempts)
			assert.Equal(t, tc.wantStatus, got.FinalStatus)
			if tc.wantState == StateFailed {
				assert.Equal(t, tc.err.Error(), got.LastError)
			} else {
				assert.Empty(t, got.LastError)
			}
		})
	}
}

func TestWorkerPoolAttemptTimeout(t *testing.T) {
	handler := func(ctx context.Context, applicationID, pipelineID string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	pool := startPool(t, handler, RetryPolicy{MaxAttempts: 2, JobTimeout: 10 * time.Millisecond})

	job, err := pool.Submit(context.Background(), "ana", "p")
	require.NoError(t, err)

	got := waitDone(t, pool, job)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, 2, got.Attempts)
	assert.Contains(t, got.LastError, "deadline exceeded")
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	handler := func(ctx context.Context, applicationID, pipelineID string) (string, error) {
		panic("boom")
	}
	pool := startPool(t, handler, RetryPolicy{MaxAttempts: 1})

	job, err := pool.Submit(context.Background(), "ana", "p")
	require.NoError(t, err)

	got := waitDone(t, pool, job)
	assert.Equal(t, StateFailed, got.State)
	assert.Contains(t, got.LastError, "boom")

	// the worker survives and keeps consuming
	next, err := pool.Submit(context.Background(), "luis", "p")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, waitDone(t, pool, next).State)
}

func TestWorkerPoolSubmitToClosedQueue(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Close())
	pool := NewWorkerPool(q, nil, 1, RetryPolicy{})

	_, err := pool.Submit(context.Background(), "ana", "p")
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.Equal(t, map[State]int{StateFailed: 1}, pool.Counts())
}

func TestWorkerPoolStopsWhenQueueDrained(t *testing.T) {
	q := NewMemoryQueue(4)
	handled := 0
	pool := NewWorkerPool(q, func(ctx context.Context, applicationID, pipelineID string) (string, error) {
		handled++
		return "APPROVED", nil
	}, 1, RetryPolicy{})

	for _, id := range []string{"a", "b", "c"} {
		_, err := pool.Submit(context.Background(), id, "p")
		require.NoError(t, err)
	}
	require.NoError(t, q.Close())

	require.NoError(t, pool.Run(context.Background()))
	assert.Equal(t, 3, handled)
	assert.Equal(t, map[State]int{StateSucceeded: 3}, pool.Counts())
}
