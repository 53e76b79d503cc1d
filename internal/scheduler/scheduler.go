// Package scheduler enqueues periodic location discovery for every active account.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gmb-sync/internal/config"
	"github.com/gmb-sync/internal/logging"
	"github.com/gmb-sync/internal/models"
	"github.com/gmb-sync/internal/types"
)

// DefaultDiscoveryCron runs discovery at the top of every sixth hour
const DefaultDiscoveryCron = "0 */6 * * *"

// AccountLister lists the accounts that should be synced
type AccountLister interface {
	ListActive(ctx context.Context) ([]*models.Account, error)
}

// JobEnqueuer is the part of the job queue the scheduler writes to
type JobEnqueuer interface {
	HasActiveJob(ctx context.Context, accountID string, jobType types.JobType) (bool, error)
	Enqueue(ctx context.Context, accountID, userID string, jobType types.JobType, priority int, metadata models.JobMetadata) (string, error)
}

// RunSummary reports what one scheduler tick did
type RunSummary struct {
	Enqueued int      `json:"enqueued"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	JobIDs   []string `json:"jobIds,omitempty"`
}

// Scheduler triggers discovery jobs on a cron schedule
type Scheduler struct {
	accounts AccountLister
	jobs     JobEnqueuer
	schedule string
	priority int

	cron   *cron.Cron
	parser cron.Parser

	mu      sync.Mutex
	running bool
	entryID cron.EntryID
	cancel  context.CancelFunc
}

// New creates a scheduler. The cron expression uses the standard five fields.
func New(cfg config.SchedulerConfig, accounts AccountLister, jobs JobEnqueuer) (*Scheduler, error) {
	if accounts == nil || jobs == nil {
		return nil, fmt.Errorf("account lister and job enqueuer are required")
	}

	spec := cfg.DiscoveryCron
	if spec == "" {
		spec = DefaultDiscoveryCron
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid discovery schedule %q: %w", spec, err)
	}

	return &Scheduler{
		accounts: accounts,
		jobs:     jobs,
		schedule: spec,
		priority: cfg.DiscoveryPriority,
		parser:   parser,
		cron:     cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
	}, nil
}

// Start registers the discovery trigger and starts the cron runner
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	id, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.RunOnce(runCtx); err != nil {
			logging.WithError(err).Error("[Scheduler] Discovery tick failed")
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to schedule discovery: %w", err)
	}

	s.entryID = id
	s.cancel = cancel
	s.running = true
	s.cron.Start()

	logging.WithFields(map[string]interface{}{
		"schedule": s.schedule,
		"nextRun":  s.cron.Entry(id).Next.Format(time.RFC3339),
	}).Info("[Scheduler] Started")
	return nil
}

// Stop stops the cron runner and waits for a running tick to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cron.Remove(s.entryID)
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
	logging.Info("[Scheduler] Stopped")
}

// NextRun returns the next time discovery fires after t
func (s *Scheduler) NextRun(t time.Time) time.Time {
	sched, err := s.parser.Parse(s.schedule)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(t)
}

// RunOnce enqueues a discovery job for every active account that has none open.
// A failure for one account does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) (*RunSummary, error) {
	accounts, err := s.accounts.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active accounts: %w", err)
	}

	summary := &RunSummary{}
	for _, acc := range accounts {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		logger := logging.WithField("accountId", acc.ID)

		open, err := s.jobs.HasActiveJob(ctx, acc.ID, types.JobDiscoverLocations)
		if err != nil {
			logger.WithError(err).Warn("[Scheduler] Failed to check open jobs")
			summary.Failed++
			continue
		}
		if open {
			summary.Skipped++
			continue
		}

		id, err := s.jobs.Enqueue(ctx, acc.ID, acc.UserID, types.JobDiscoverLocations, s.priority, models.JobMetadata{
			JobType:         types.JobDiscoverLocations,
			AccountID:       acc.ID,
			UserID:          acc.UserID,
			GoogleAccountID: acc.GoogleAccountID,
		})
		if err != nil {
			logger.WithError(err).Warn("[Scheduler] Failed to enqueue discovery")
			summary.Failed++
			continue
		}
		summary.Enqueued++
		summary.JobIDs = append(summary.JobIDs, id)
	}

	logging.WithFields(map[string]interface{}{
		"accounts": len(accounts),
		"enqueued": summary.Enqueued,
		"skipped":  summary.Skipped,
		"failed":   summary.Failed,
	}).Info("[Scheduler] Discovery tick")
	return summary, nil
}
