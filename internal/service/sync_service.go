// Package service holds the account-level sync flows.
package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gmb-sync/internal/adapter"
	"github.com/gmb-sync/internal/auth"
	"github.com/gmb-sync/internal/config"
	"github.com/gmb-sync/internal/errors"
	"github.com/gmb-sync/internal/logging"
	"github.com/gmb-sync/internal/metrics"
	"github.com/gmb-sync/internal/models"
	"github.com/gmb-sync/internal/progress"
	"github.com/gmb-sync/internal/ratelimit"
	"github.com/gmb-sync/internal/storage"
	"github.com/gmb-sync/internal/types"
)

// DefaultDashboardBucket is the cache bucket refreshed after a successful sync
const DefaultDashboardBucket = "dashboard_overview"

// AccountReader loads accounts
type AccountReader interface {
	GetByID(ctx context.Context, accountID string) (*models.Account, error)
}

// Committer writes a sync payload atomically
type Committer interface {
	CommitSync(ctx context.Context, payload *models.SyncPayload) (*models.CommitResult, error)
}

// CacheRefresher invalidates a user's cached read model
type CacheRefresher interface {
	RefreshBucket(ctx context.Context, bucket, userID string) error
}

// AuditLogger records user-visible actions
type AuditLogger interface {
	LogAction(ctx context.Context, entry *models.AuditEntry) error
}

// ResultSink stores one row per finished sync
type ResultSink interface {
	InsertSyncResult(ctx context.Context, row *storage.SyncResultRow) error
}

// SyncServiceConfig holds the collaborators of SyncService. Audit, Results and Metrics are optional.
type SyncServiceConfig struct {
	Source    adapter.SourceAdapter
	Tokens    auth.TokenProvider
	Accounts  AccountReader
	Committer Committer
	Cache     CacheRefresher
	Audit     AuditLogger
	Results   ResultSink
	Reporter  progress.Reporter
	Metrics   *metrics.Metrics
	Sync      config.SyncConfig
}

// SyncService runs full account syncs that commit everything in one transaction
type SyncService struct {
	source    adapter.SourceAdapter
	tokens    auth.TokenProvider
	accounts  AccountReader
	committer Committer
	cache     CacheRefresher
	audit     AuditLogger
	results   ResultSink
	reporter  progress.Reporter
	metrics   *metrics.Metrics
	bucket    string
	now       func() time.Time
	newID     func() string
}

// NewSyncService creates a sync service
func NewSyncService(cfg *SyncServiceConfig) (*SyncService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("sync service config cannot be nil")
	}
	if cfg.Source == nil || cfg.Tokens == nil || cfg.Accounts == nil || cfg.Committer == nil || cfg.Cache == nil {
		return nil, fmt.Errorf("source, tokens, accounts, committer and cache are required")
	}

	reporter := cfg.Reporter
	if reporter == nil {
		reporter = progress.Nop{}
	}
	bucket := cfg.Sync.DashboardBucket
	if bucket == "" {
		bucket = DefaultDashboardBucket
	}

	return &SyncService{
		source:    cfg.Source,
		tokens:    cfg.Tokens,
		accounts:  cfg.Accounts,
		committer: cfg.Committer,
		cache:     cfg.Cache,
		audit:     cfg.Audit,
		results:   cfg.Results,
		reporter:  reporter,
		metrics:   cfg.Metrics,
		bucket:    bucket,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// syncRun is the state of one PerformTransactionalSync call
type syncRun struct {
	id        string
	accountID string
	userID    string
	started   time.Time
	stage     types.Stage
	counts    map[string]int
	result    *models.CommitResult
}

// PerformTransactionalSync fetches locations, reviews and optionally questions for an
// account and commits them as one unit. Progress is reported at every stage. On a
// commit failure nothing is written, the cache is left alone and the error is returned.
func (s *SyncService) PerformTransactionalSync(ctx context.Context, accountID string, includeQuestions bool) (result *models.SyncResult, err error) {
	run := &syncRun{
		id:        s.newID(),
		accountID: accountID,
		started:   s.now(),
		stage:     types.StageInit,
		counts:    map[string]int{},
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"syncId":    run.id,
		"accountId": accountID,
	})
	ctx = logging.WithLogger(ratelimit.WithPriority(ctx, ratelimit.PriorityHigh), logger)

	defer func() {
		if r := recover(); r != nil {
			err = errors.NewInternalError(fmt.Sprintf("sync panic: %v", r), nil)
			result = nil
			s.report(ctx, run, types.StageComplete, types.StageError, 100, err.Error())
		}
		s.finish(ctx, run, err)
	}()

	s.report(ctx, run, types.StageInit, types.StageRunning, 0, "")

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if stderrors.Is(err, storage.ErrAccountNotFound) {
			err = errors.NewNotFoundError("account", accountID)
		} else {
			err = errors.NewDatabaseError("load account", err)
		}
		s.report(ctx, run, types.StageInit, types.StageError, 0, err.Error())
		s.report(ctx, run, types.StageComplete, types.StageError, 100, err.Error())
		return nil, err
	}
	run.userID = account.UserID

	if !account.IsActive {
		err = errors.NewPreconditionError("account "+accountID+" is inactive", nil)
		s.report(ctx, run, types.StageInit, types.StageError, 0, err.Error())
		s.report(ctx, run, types.StageComplete, types.StageError, 100, err.Error())
		return nil, err
	}

	payload, err := s.fetch(ctx, run, account, includeQuestions)
	if err != nil {
		s.report(ctx, run, run.stage, types.StageError, 0, err.Error())
		s.report(ctx, run, types.StageComplete, types.StageError, 100, err.Error())
		return nil, err
	}

	run.stage = types.StageTransaction
	s.report(ctx, run, types.StageTransaction, types.StageRunning, 60, "")
	commit, err := s.committer.CommitSync(ctx, payload)
	if err != nil {
		err = errors.NewDatabaseError("commit sync", err)
		s.report(ctx, run, types.StageTransaction, types.StageError, 60, err.Error())
		s.report(ctx, run, types.StageComplete, types.StageError, 100, err.Error())
		return nil, err
	}
	run.result = commit
	s.report(ctx, run, types.StageTransaction, types.StageCompleted, 80, "")

	run.stage = types.StageCacheRefresh
	s.report(ctx, run, types.StageCacheRefresh, types.StageRunning, 85, "")
	if rerr := s.cache.RefreshBucket(ctx, s.bucket, run.userID); rerr != nil {
		// The data is committed; a stale dashboard expires with its TTL.
		rerr = errors.NewCacheError("refresh dashboard bucket", rerr)
		logger.WithError(rerr).Warn("[SyncService] Cache refresh failed")
		s.report(ctx, run, types.StageCacheRefresh, types.StageError, 85, rerr.Error())
	} else {
		s.report(ctx, run, types.StageCacheRefresh, types.StageCompleted, 95, "")
	}

	run.stage = types.StageComplete
	s.report(ctx, run, types.StageComplete, types.StageCompleted, 100, "")

	return &models.SyncResult{
		Success:         true,
		SyncID:          run.id,
		LocationsSynced: commit.LocationsSynced,
		ReviewsSynced:   commit.ReviewsSynced,
		QuestionsSynced: commit.QuestionsSynced,
	}, nil
}

// fetch collects and maps every resource of the account. run.stage tracks the stage in progress.
func (s *SyncService) fetch(ctx context.Context, run *syncRun, account *models.Account, includeQuestions bool) (*models.SyncPayload, error) {
	token, err := s.tokens.GetValidAccessToken(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	run.stage = types.StageLocationsFetch
	raw, err := adapter.CollectLocations(ctx, s.source, token, account.GoogleAccountID)
	if err != nil {
		return nil, err
	}

	scope := adapter.Scope{AccountID: account.ID, UserID: account.UserID}
	payload := &models.SyncPayload{AccountID: account.ID, UserID: account.UserID}
	for i := range raw {
		payload.Locations = append(payload.Locations, adapter.MapLocation(&raw[i], scope))
	}
	run.counts["locations"] = len(payload.Locations)
	s.report(ctx, run, types.StageLocationsFetch, types.StageCompleted, 20, "")

	run.stage = types.StageReviewsFetch
	for _, loc := range payload.Locations {
		locScope := scope
		locScope.GoogleLocationID = loc.LocationID

		rawReviews, err := adapter.CollectReviews(ctx, s.source, token, account.GoogleAccountID, loc.LocationID)
		if err != nil {
			return nil, err
		}
		reviews := make([]*models.Review, 0, len(rawReviews))
		for _, r := range rawReviews {
			reviews = append(reviews, adapter.MapReview(r, locScope))
		}
		loc.Rating, loc.ReviewCount = adapter.SummarizeReviews(reviews)
		payload.Reviews = append(payload.Reviews, reviews...)
	}
	run.counts["reviews"] = len(payload.Reviews)
	s.report(ctx, run, types.StageReviewsFetch, types.StageCompleted, 40, "")

	if includeQuestions {
		run.stage = types.StageQuestionsFetch
		for _, loc := range payload.Locations {
			locScope := scope
			locScope.GoogleLocationID = loc.LocationID

			rawQuestions, err := adapter.CollectQuestions(ctx, s.source, token, loc.LocationID)
			if err != nil {
				return nil, err
			}
			for _, q := range rawQuestions {
				payload.Questions = append(payload.Questions, adapter.MapQuestion(q, locScope))
			}
		}
		run.counts["questions"] = len(payload.Questions)
		s.report(ctx, run, types.StageQuestionsFetch, types.StageCompleted, 55, "")
	}

	return payload, nil
}

func (s *SyncService) report(ctx context.Context, run *syncRun, stage types.Stage, status types.StageStatus, pct int, errMsg string) {
	counts := make(map[string]int, len(run.counts))
	for k, v := range run.counts {
		counts[k] = v
	}

	s.reporter.Report(ctx, &models.SyncEvent{
		SyncID:    run.id,
		UserID:    run.userID,
		AccountID: run.accountID,
		Stage:     stage,
		Status:    status,
		Progress:  pct,
		Message:   stageMessage(stage, status),
		Error:     errMsg,
		Counts:    counts,
		Timestamp: s.now().UTC(),
	})
}

// finish records the audit entry and result metrics for a run, whatever its outcome
func (s *SyncService) finish(ctx context.Context, run *syncRun, runErr error) {
	logger := logging.FromContext(ctx)
	elapsed := s.now().Sub(run.started)
	success := runErr == nil

	var locations, reviews, questions int
	if run.result != nil && success {
		locations, reviews, questions = run.result.LocationsSynced, run.result.ReviewsSynced, run.result.QuestionsSynced
	}

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
		logger.WithError(runErr).WithField("stage", run.stage).Warn("[SyncService] Transactional sync failed")
	} else {
		logger.WithFields(map[string]interface{}{
			"locations": locations,
			"reviews":   reviews,
			"questions": questions,
			"duration":  elapsed.String(),
		}).Info("[SyncService] Transactional sync completed")
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if s.audit != nil && run.userID != "" {
		details := map[string]interface{}{
			"syncId":          run.id,
			"success":         success,
			"locationsSynced": locations,
			"reviewsSynced":   reviews,
			"questionsSynced": questions,
			"durationMs":      elapsed.Milliseconds(),
		}
		if errMsg != "" {
			details["error"] = errMsg
			details["stage"] = string(run.stage)
		}
		if err := s.audit.LogAction(writeCtx, &models.AuditEntry{
			UserID:       run.userID,
			Action:       "transactional_sync",
			ResourceType: "gmb_account",
			ResourceID:   run.accountID,
			Details:      details,
		}); err != nil {
			logger.WithError(err).Warn("[SyncService] Failed to write audit entry")
		}
	}

	s.trackSyncResult(writeCtx, run, success, elapsed, errMsg, locations, reviews, questions)
}

func (s *SyncService) trackSyncResult(ctx context.Context, run *syncRun, success bool, elapsed time.Duration, errMsg string, locations, reviews, questions int) {
	if s.metrics != nil {
		s.metrics.ObserveSyncResult(success, elapsed, locations, reviews, questions)
	}
	if s.results == nil {
		return
	}

	if err := s.results.InsertSyncResult(ctx, &storage.SyncResultRow{
		SyncID:          run.id,
		UserID:          run.userID,
		AccountID:       run.accountID,
		Success:         success,
		Duration:        elapsed,
		LocationsSynced: locations,
		ReviewsSynced:   reviews,
		QuestionsSynced: questions,
		Error:           errMsg,
		FinishedAt:      s.now(),
	}); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("[SyncService] Failed to record sync result")
	}
}

func stageMessage(stage types.Stage, status types.StageStatus) string {
	switch status {
	case types.StageRunning:
		return fmt.Sprintf("%s started", stage)
	case types.StageError:
		return fmt.Sprintf("%s failed", stage)
	}

	switch stage {
	case types.StageLocationsFetch:
		return "Fetched locations"
	case types.StageReviewsFetch:
		return "Fetched reviews"
	case types.StageQuestionsFetch:
		return "Fetched questions"
	case types.StageTransaction:
		return "Data committed"
	case types.StageCacheRefresh:
		return "Dashboard cache refreshed"
	case types.StageComplete:
		return "Sync complete"
	}
	return string(stage)
}
