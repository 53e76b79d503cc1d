package job

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmb-sync/internal/errors"
	"github.com/gmb-sync/internal/metrics"
	"github.com/gmb-sync/internal/models"
	"github.com/gmb-sync/internal/types"
	"github.com/gmb-sync/internal/worker"
)

// memQueue mimics the claim semantics of the Postgres queue
type memQueue struct {
	mu       sync.Mutex
	jobs     []*models.SyncJob
	retries  map[string]time.Time
	reaped   [2]int
	reapErr  error
	dequeued int
}

func newMemQueue(jobs ...*models.SyncJob) *memQueue {
	return &memQueue{jobs: jobs, retries: map[string]time.Time{}}
}

func (q *memQueue) Dequeue(context.Context) (*models.SyncJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var next *models.SyncJob
	for _, j := range q.jobs {
		if j.Status != types.JobStatusPending || j.Attempts >= j.MaxAttempts {
			continue
		}
		if next == nil || j.Priority > next.Priority {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}
	next.Status = types.JobStatusRunning
	next.Attempts++
	q.dequeued++
	cp := *next
	return &cp, nil
}

func (q *memQueue) Retry(_ context.Context, jobID string, runAfter time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.ID == jobID && j.Attempts < j.MaxAttempts {
			q.retries[jobID] = runAfter
			return true, nil
		}
	}
	return false, nil
}

func (q *memQueue) ResetStale(context.Context, time.Duration) (int, int, error) {
	return q.reaped[0], q.reaped[1], q.reapErr
}

func (q *memQueue) CountByStatus(context.Context) (map[types.JobStatus]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := map[types.JobStatus]int{}
	for _, j := range q.jobs {
		out[j.Status]++
	}
	return out, nil
}

func (q *memQueue) finish(id string, status types.JobStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.ID == id {
			j.Status = status
		}
	}
}

type processorFunc func(ctx context.Context, job *models.SyncJob) *worker.ProcessJobResult

func (f processorFunc) ProcessSyncJob(ctx context.Context, job *models.SyncJob) *worker.ProcessJobResult {
	return f(ctx, job)
}

func pendingJob(id string, priority int) *models.SyncJob {
	return &models.SyncJob{
		ID:          id,
		AccountID:   "acc-1",
		JobType:     types.JobSyncReviews,
		Status:      types.JobStatusPending,
		Priority:    priority,
		MaxAttempts: 3,
	}
}

func newTestPool(t *testing.T, q Queue, proc Processor, concurrency int, m *metrics.Metrics) *Pool {
	t.Helper()
	p, err := NewPool(PoolConfig{
		Queue:        q,
		Processor:    proc,
		Metrics:      m,
		Concurrency:  concurrency,
		PollInterval: 5 * time.Millisecond,
		RetryBackoff: time.Second,
		DrainTimeout: time.Second,
	})
	require.NoError(t, err)
	return p
}

func TestNewPool_Validation(t *testing.T) {
	_, err := NewPool(PoolConfig{})
	assert.Error(t, err)

	p, err := NewPool(PoolConfig{Queue: newMemQueue(), Processor: processorFunc(nil)})
	require.NoError(t, err)
	assert.Equal(t, 5, p.cfg.Concurrency)
	assert.Equal(t, 10*time.Minute, p.cfg.MaxRetryBackoff)
}

func TestPool_ProcessesAllJobsWithinConcurrency(t *testing.T) {
	var jobs []*models.SyncJob
	for i := 0; i < 12; i++ {
		jobs = append(jobs, pendingJob(string(rune('a'+i)), i%3))
	}
	q := newMemQueue(jobs...)

	var inFlight, peak int32
	var mu sync.Mutex
	var done []string
	proc := processorFunc(func(ctx context.Context, job *models.SyncJob) *worker.ProcessJobResult {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)

		q.finish(job.ID, types.JobStatusCompleted)
		mu.Lock()
		done = append(done, job.ID)
		mu.Unlock()
		return &worker.ProcessJobResult{Success: true, JobID: job.ID}
	})

	p := newTestPool(t, q, proc, 3, nil)
	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(done) == 12
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	sort.Strings(done)
	assert.Len(t, done, 12)
	assert.Equal(t, 12, q.dequeued)
	assert.False(t, p.IsRunning())
}

func TestPool_RequeuesTransientFailures(t *testing.T) {
	q := newMemQueue(pendingJob("j-1", 0))
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	var calls int32
	proc := processorFunc(func(ctx context.Context, job *models.SyncJob) *worker.ProcessJobResult {
		atomic.AddInt32(&calls, 1)
		q.finish(job.ID, types.JobStatusFailed)
		return &worker.ProcessJobResult{JobID: job.ID, Error: errors.NewProviderError("gmb", stderrors.New("502"))}
	})

	p := newTestPool(t, q, proc, 1, m)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }
	require.NoError(t, p.Start(context.Background()))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.JobsRequeuedTotal.WithLabelValues("sync_reviews")) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Equal(t, fixed.Add(time.Second), q.retries["j-1"])
}

func TestPool_DoesNotRequeuePermanentFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"precondition", errors.NewPreconditionError("missing googleLocationId", nil)},
		{"unknown type", errors.NewUnknownJobTypeError("sync_everything")},
		{"upstream rejected", errors.NewProviderRejectedError("gmb", 404, nil)},
		{"bad credentials", errors.NewTokenError("acc-1", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newMemQueue(pendingJob("j-1", 0))
			proc := processorFunc(func(ctx context.Context, job *models.SyncJob) *worker.ProcessJobResult {
				q.finish(job.ID, types.JobStatusFailed)
				return &worker.ProcessJobResult{JobID: job.ID, Error: tt.err}
			})

			p := newTestPool(t, q, proc, 1, nil)
			require.NoError(t, p.Start(context.Background()))
			require.Eventually(t, func() bool {
				q.mu.Lock()
				defer q.mu.Unlock()
				return q.dequeued == 1
			}, time.Second, 5*time.Millisecond)
			require.NoError(t, p.Stop(context.Background()))

			assert.Empty(t, q.retries)
		})
	}
}

func TestPool_NoRequeueWhenAttemptsExhausted(t *testing.T) {
	job := pendingJob("j-1", 0)
	job.Attempts = 2
	q := newMemQueue(job)
	proc := processorFunc(func(ctx context.Context, job *models.SyncJob) *worker.ProcessJobResult {
		q.finish(job.ID, types.JobStatusFailed)
		return &worker.ProcessJobResult{JobID: job.ID, Error: errors.NewDatabaseError("upsert reviews", stderrors.New("deadlock"))}
	})

	p := newTestPool(t, q, proc, 1, nil)
	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.dequeued == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))

	assert.Empty(t, q.retries)
}

func TestPool_StopDrainsInFlightJobs(t *testing.T) {
	q := newMemQueue(pendingJob("j-1", 0))
	started := make(chan struct{})
	var finished atomic.Bool

	proc := processorFunc(func(ctx context.Context, job *models.SyncJob) *worker.ProcessJobResult {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(ctx.Err() == nil)
		return &worker.ProcessJobResult{Success: true}
	})

	p := newTestPool(t, q, proc, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	<-started
	assert.Equal(t, 1, p.ActiveCount())

	cancel()
	require.NoError(t, p.Stop(context.Background()))
	assert.True(t, finished.Load())
	assert.Zero(t, p.ActiveCount())
}

func TestPool_StopCancelsAfterDrainTimeout(t *testing.T) {
	q := newMemQueue(pendingJob("j-1", 0))
	started := make(chan struct{})

	proc := processorFunc(func(ctx context.Context, job *models.SyncJob) *worker.ProcessJobResult {
		close(started)
		<-ctx.Done()
		return &worker.ProcessJobResult{Error: ctx.Err()}
	})

	p, err := NewPool(PoolConfig{Queue: q, Processor: proc, Concurrency: 1,
		PollInterval: 5 * time.Millisecond, DrainTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	<-started

	err = p.Stop(context.Background())
	assert.ErrorContains(t, err, "drain timeout")
	assert.Zero(t, p.ActiveCount())
}

func TestPool_ReapsStaleJobs(t *testing.T) {
	q := newMemQueue()
	q.reaped = [2]int{3, 1}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	p := newTestPool(t, q, processorFunc(nil), 1, m)
	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.JobsReapedTotal.WithLabelValues("requeued")) >= 3
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))

	assert.GreaterOrEqual(t, testutil.ToFloat64(m.JobsReapedTotal.WithLabelValues("failed")), 1.0)
}
