// Package job runs the sync queue: a bounded pool of workers claiming jobs from
// Postgres, requeueing transient failures and reaping jobs abandoned by dead workers.
package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gmb-sync/internal/errors"
	"github.com/gmb-sync/internal/logging"
	"github.com/gmb-sync/internal/metrics"
	"github.com/gmb-sync/internal/models"
	"github.com/gmb-sync/internal/retry"
	"github.com/gmb-sync/internal/types"
	"github.com/gmb-sync/internal/worker"
)

// Queue is the persistent job queue
type Queue interface {
	Dequeue(ctx context.Context) (*models.SyncJob, error)
	Retry(ctx context.Context, jobID string, runAfter time.Time) (bool, error)
	ResetStale(ctx context.Context, olderThan time.Duration) (requeued int, failed int, err error)
	CountByStatus(ctx context.Context) (map[types.JobStatus]int, error)
}

// Processor runs one claimed job
type Processor interface {
	ProcessSyncJob(ctx context.Context, job *models.SyncJob) *worker.ProcessJobResult
}

// PoolConfig holds configuration for the worker pool
type PoolConfig struct {
	Queue     Queue
	Processor Processor
	Metrics   *metrics.Metrics // optional

	Concurrency     int
	PollInterval    time.Duration
	RetryBackoff    time.Duration // delay before the first requeued attempt
	MaxRetryBackoff time.Duration
	StaleJobTimeout time.Duration // running jobs older than this are reaped
	ReapInterval    time.Duration
	DrainTimeout    time.Duration // how long Stop waits for in-flight jobs
}

// ActiveJob describes a job currently held by a worker slot
type ActiveJob struct {
	JobID     string        `json:"jobId"`
	JobType   types.JobType `json:"jobType"`
	AccountID string        `json:"accountId"`
	Attempt   int           `json:"attempt"`
	StartedAt time.Time     `json:"startedAt"`
}

// Pool claims jobs from the queue and runs up to Concurrency of them at once
type Pool struct {
	cfg PoolConfig

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	cancelRun context.CancelFunc
	active    map[string]*ActiveJob

	workerSem chan struct{}
	wg        sync.WaitGroup
	now       func() time.Time
}

// NewPool creates a worker pool
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 30 * time.Second
	}
	if cfg.MaxRetryBackoff < cfg.RetryBackoff {
		cfg.MaxRetryBackoff = 10 * time.Minute
	}
	if cfg.StaleJobTimeout <= 0 {
		cfg.StaleJobTimeout = 15 * time.Minute
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Minute
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}

	return &Pool{
		cfg:       cfg,
		active:    make(map[string]*ActiveJob),
		workerSem: make(chan struct{}, cfg.Concurrency),
		now:       time.Now,
	}, nil
}

// Start begins polling the queue. Jobs run on a context detached from ctx so that
// Stop can let them finish.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pool already started")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancelRun = cancel
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.running = true

	logging.WithFields(map[string]interface{}{
		"concurrency":  p.cfg.Concurrency,
		"pollInterval": p.cfg.PollInterval.String(),
	}).Info("[WorkerPool] Starting")

	go p.loop(ctx, runCtx)
	return nil
}

// Stop stops claiming new jobs and waits for in-flight jobs until DrainTimeout or
// ctx expires, after which their context is cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("pool not running")
	}
	p.running = false
	close(p.stopCh)
	doneCh, cancel := p.doneCh, p.cancelRun
	p.mu.Unlock()

	<-doneCh

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	timer := time.NewTimer(p.cfg.DrainTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-drained:
	case <-timer.C:
		err = fmt.Errorf("drain timeout after %s with %d jobs in flight", p.cfg.DrainTimeout, p.ActiveCount())
	case <-ctx.Done():
		err = ctx.Err()
	}

	cancel()
	if err != nil {
		<-drained
	}
	logging.Info("[WorkerPool] Stopped")
	return err
}

// IsRunning reports whether the pool is polling
func (p *Pool) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// ActiveJobs returns a snapshot of the jobs currently running
func (p *Pool) ActiveJobs() []ActiveJob {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ActiveJob, 0, len(p.active))
	for _, a := range p.active {
		out = append(out, *a)
	}
	return out
}

// ActiveCount returns the number of jobs currently running
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *Pool) loop(ctx, runCtx context.Context) {
	defer close(p.doneCh)

	poll := time.NewTicker(p.cfg.PollInterval)
	defer poll.Stop()
	reap := time.NewTicker(p.cfg.ReapInterval)
	defer reap.Stop()

	p.reapStale(runCtx)
	p.fill(runCtx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-reap.C:
			p.reapStale(runCtx)
			p.recordQueueDepth(runCtx)
		case <-poll.C:
			p.fill(runCtx)
		}
	}
}

// fill claims jobs until every worker slot is busy or the queue is empty
func (p *Pool) fill(ctx context.Context) {
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		select {
		case p.workerSem <- struct{}{}:
		default:
			return
		}

		job, err := p.cfg.Queue.Dequeue(ctx)
		if err != nil || job == nil {
			<-p.workerSem
			if err != nil {
				logging.WithError(err).Error("[WorkerPool] Failed to dequeue job")
			}
			return
		}

		p.track(job)
		p.wg.Add(1)
		go p.run(ctx, job)
	}
}

func (p *Pool) run(ctx context.Context, job *models.SyncJob) {
	defer func() {
		p.untrack(job.ID)
		<-p.workerSem
		p.wg.Done()
	}()

	res := p.cfg.Processor.ProcessSyncJob(ctx, job)
	if res == nil || res.Success {
		return
	}
	p.maybeRequeue(ctx, job, res.Error)
}

// maybeRequeue hands a failed job back to the queue when the failure is transient
func (p *Pool) maybeRequeue(ctx context.Context, job *models.SyncJob, cause error) {
	logger := logging.WithFields(map[string]interface{}{
		"jobId":    job.ID,
		"jobType":  job.JobType,
		"attempts": job.Attempts,
	})

	if errors.IsPrecondition(cause) || !errors.IsRetryable(cause) || !job.HasAttemptsLeft() {
		logger.WithError(cause).Info("[WorkerPool] Job failed permanently")
		return
	}

	delay := retry.Backoff(p.cfg.RetryBackoff, p.cfg.MaxRetryBackoff, job.Attempts)
	retryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	ok, err := p.cfg.Queue.Retry(retryCtx, job.ID, p.now().Add(delay))
	if err != nil {
		logger.WithError(err).Error("[WorkerPool] Failed to requeue job")
		return
	}
	if !ok {
		return
	}

	logger.WithField("delay", delay.String()).Info("[WorkerPool] Job requeued")
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.JobsRequeuedTotal.WithLabelValues(string(job.JobType)).Inc()
	}
}

func (p *Pool) reapStale(ctx context.Context) {
	requeued, failed, err := p.cfg.Queue.ResetStale(ctx, p.cfg.StaleJobTimeout)
	if err != nil {
		logging.WithError(err).Error("[WorkerPool] Failed to reap stale jobs")
		return
	}
	if requeued == 0 && failed == 0 {
		return
	}

	logging.WithFields(map[string]interface{}{
		"requeued": requeued,
		"failed":   failed,
	}).Warn("[WorkerPool] Reaped stale jobs")

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.JobsReapedTotal.WithLabelValues("requeued").Add(float64(requeued))
		p.cfg.Metrics.JobsReapedTotal.WithLabelValues("failed").Add(float64(failed))
	}
}

func (p *Pool) recordQueueDepth(ctx context.Context) {
	if p.cfg.Metrics == nil {
		return
	}
	counts, err := p.cfg.Queue.CountByStatus(ctx)
	if err != nil {
		logging.WithError(err).Warn("[WorkerPool] Failed to count queue")
		return
	}
	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}
	p.cfg.Metrics.SetQueueDepth(byStatus)
}

func (p *Pool) track(job *models.SyncJob) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[job.ID] = &ActiveJob{
		JobID:     job.ID,
		JobType:   job.JobType,
		AccountID: job.AccountID,
		Attempt:   job.Attempts,
		StartedAt: p.now(),
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.JobsRunning.Set(float64(len(p.active)))
	}
}

func (p *Pool) untrack(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, jobID)
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.JobsRunning.Set(float64(len(p.active)))
	}
}
