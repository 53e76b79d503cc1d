// Package worker executes queued sync jobs.
package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gmb-sync/internal/adapter"
	"github.com/gmb-sync/internal/auth"
	"github.com/gmb-sync/internal/errors"
	"github.com/gmb-sync/internal/logging"
	"github.com/gmb-sync/internal/metrics"
	"github.com/gmb-sync/internal/models"
	"github.com/gmb-sync/internal/progress"
	"github.com/gmb-sync/internal/storage"
	"github.com/gmb-sync/internal/types"
)

// DiscoveryFanOut lists the child jobs created for every discovered location
var DiscoveryFanOut = []types.JobType{types.JobSyncReviews, types.JobSyncInsights}

// JobStore is the part of the job queue the processor writes to
type JobStore interface {
	UpdateJobStatus(ctx context.Context, jobID string, status types.JobStatus, errorMessage *string) error
	FanOutLocationJobs(ctx context.Context, locations []models.FanOutLocation, jobTypes []types.JobType,
		shared models.JobMetadata, parentJobID string, priority int) (*models.FanOutResult, error)
}

// AccountStore loads accounts
type AccountStore interface {
	GetByID(ctx context.Context, accountID string) (*models.Account, error)
}

// LocationStore persists locations
type LocationStore interface {
	UpsertLocations(ctx context.Context, locations []*models.Location) (map[string]string, error)
	ResolveID(ctx context.Context, googleLocationID string) (string, error)
	RecordReviewSync(ctx context.Context, locationID string, rating float64, reviewCount int, at time.Time) error
}

// ReviewStore persists reviews
type ReviewStore interface {
	UpsertReviews(ctx context.Context, reviews []*models.Review) (int, error)
}

// ResourceStore persists the non-critical per-location resources
type ResourceStore interface {
	UpsertInsights(ctx context.Context, days []*models.InsightDay) (int, error)
	UpsertPosts(ctx context.Context, posts []*models.Post) (int, error)
	UpsertMedia(ctx context.Context, items []*models.Media) (int, error)
}

// ProcessJobResult is the outcome of one job. It never carries a panic.
type ProcessJobResult struct {
	Success          bool          `json:"success"`
	JobID            string        `json:"jobId"`
	JobType          types.JobType `json:"jobType"`
	Error            error         `json:"-"`
	ItemsProcessed   int           `json:"itemsProcessed"`
	ChildJobsCreated int           `json:"childJobsCreated,omitempty"`
	Warnings         []string      `json:"warnings,omitempty"`
}

type handlerOutcome struct {
	itemsProcessed   int
	childJobsCreated int
	warnings         []string
}

// ProcessorConfig holds the dependencies of a Processor
type ProcessorConfig struct {
	Source        adapter.SourceAdapter
	Tokens        auth.TokenProvider
	Jobs          JobStore
	Accounts      AccountStore
	Locations     LocationStore
	Reviews       ReviewStore
	Resources     ResourceStore
	Reporter      progress.Reporter
	Metrics       *metrics.Metrics
	ChildPriority int
}

// Processor routes jobs to handlers and records their outcome
type Processor struct {
	source        adapter.SourceAdapter
	tokens        auth.TokenProvider
	jobs          JobStore
	accounts      AccountStore
	locations     LocationStore
	reviews       ReviewStore
	resources     ResourceStore
	reporter      progress.Reporter
	metrics       *metrics.Metrics
	childPriority int
	now           func() time.Time
}

// NewProcessor creates a processor
func NewProcessor(cfg *ProcessorConfig) (*Processor, error) {
	switch {
	case cfg == nil:
		return nil, fmt.Errorf("processor config cannot be nil")
	case cfg.Source == nil:
		return nil, fmt.Errorf("source adapter cannot be nil")
	case cfg.Tokens == nil:
		return nil, fmt.Errorf("token provider cannot be nil")
	case cfg.Jobs == nil:
		return nil, fmt.Errorf("job store cannot be nil")
	case cfg.Accounts == nil || cfg.Locations == nil || cfg.Reviews == nil || cfg.Resources == nil:
		return nil, fmt.Errorf("account, location, review and resource stores are required")
	}

	reporter := cfg.Reporter
	if reporter == nil {
		reporter = progress.Nop{}
	}

	return &Processor{
		source:        cfg.Source,
		tokens:        cfg.Tokens,
		jobs:          cfg.Jobs,
		accounts:      cfg.Accounts,
		locations:     cfg.Locations,
		reviews:       cfg.Reviews,
		resources:     cfg.Resources,
		reporter:      reporter,
		metrics:       cfg.Metrics,
		childPriority: cfg.ChildPriority,
		now:           time.Now,
	}, nil
}

// ProcessSyncJob runs one claimed job to completion and writes its final status.
// Failures and panics come back in the result; nothing propagates to the caller.
func (p *Processor) ProcessSyncJob(ctx context.Context, job *models.SyncJob) *ProcessJobResult {
	start := p.now()
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":     job.ID,
		"jobType":   job.JobType,
		"accountId": job.AccountID,
		"attempt":   job.Attempts,
	})
	ctx = logging.WithLogger(ctx, logger)

	result := &ProcessJobResult{JobID: job.ID, JobType: job.JobType}
	p.report(ctx, job, types.StageInit, types.StageRunning, "", nil, 0)

	outcome, err := p.run(ctx, job)
	if err != nil {
		result.Error = err
		msg := err.Error()

		entry := logger.WithError(err).WithField("duration", p.now().Sub(start).String())
		if errors.IsPrecondition(err) {
			entry.Error("[Processor] Job rejected: invalid metadata")
		} else {
			entry.Warn("[Processor] Job failed")
		}

		p.report(ctx, job, types.StageComplete, types.StageError, msg, nil, p.now().Sub(start))
		p.setStatus(ctx, job.ID, types.JobStatusFailed, &msg)
	} else {
		result.Success = true
		result.ItemsProcessed = outcome.itemsProcessed
		result.ChildJobsCreated = outcome.childJobsCreated
		result.Warnings = outcome.warnings

		logger.WithFields(map[string]interface{}{
			"itemsProcessed":   outcome.itemsProcessed,
			"childJobsCreated": outcome.childJobsCreated,
			"duration":         p.now().Sub(start).String(),
		}).Info("[Processor] Job completed")

		p.report(ctx, job, types.StageComplete, types.StageCompleted, "", map[string]int{
			"itemsProcessed":   outcome.itemsProcessed,
			"childJobsCreated": outcome.childJobsCreated,
		}, p.now().Sub(start))
		p.setStatus(ctx, job.ID, types.JobStatusCompleted, nil)
	}

	if p.metrics != nil {
		p.metrics.ObserveJob(string(job.JobType), result.Success, p.now().Sub(start))
	}
	return result
}

// run validates the metadata and dispatches, turning panics into errors
func (p *Processor) run(ctx context.Context, job *models.SyncJob) (outcome *handlerOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx).WithField("stack", string(debug.Stack())).Error("[Processor] Handler panicked")
			outcome, err = nil, errors.NewInternalError(fmt.Sprintf("handler panic: %v", r), nil)
		}
	}()

	payload, err := job.Metadata.Payload()
	if err != nil {
		var unknown *models.UnknownJobTypeError
		if stderrors.As(err, &unknown) {
			return nil, errors.NewUnknownJobTypeError(unknown.JobType)
		}
		return nil, errors.NewPreconditionError(fmt.Sprintf("job %s: %v", job.ID, err), err)
	}

	return p.handle(ctx, job, payload)
}

// handle routes a validated payload to its handler
func (p *Processor) handle(ctx context.Context, job *models.SyncJob, payload models.JobPayload) (*handlerOutcome, error) {
	switch pl := payload.(type) {
	case models.DiscoveryJob:
		return p.discoverLocations(ctx, job, pl)
	case models.LocationScopedJob:
		switch pl.JobType {
		case types.JobSyncReviews:
			return p.syncReviews(ctx, pl)
		case types.JobSyncInsights:
			return p.syncInsights(ctx, pl)
		case types.JobSyncPosts:
			return p.syncPosts(ctx, pl)
		case types.JobSyncMedia:
			return p.syncMedia(ctx, pl)
		}
	}
	return nil, errors.NewUnknownJobTypeError(payload.Type())
}

func (p *Processor) discoverLocations(ctx context.Context, job *models.SyncJob, d models.DiscoveryJob) (*handlerOutcome, error) {
	logger := logging.FromContext(ctx)

	account, err := p.accounts.GetByID(ctx, d.AccountID)
	if err != nil {
		if stderrors.Is(err, storage.ErrAccountNotFound) {
			return nil, errors.NewNotFoundError("account", d.AccountID)
		}
		return nil, errors.NewDatabaseError("load account", err)
	}
	if !account.IsActive {
		logger.Info("[Processor] Account inactive, skipping discovery")
		return &handlerOutcome{}, nil
	}

	token, err := p.tokens.GetValidAccessToken(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	raw, err := adapter.CollectLocations(ctx, p.source, token, account.GoogleAccountID)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		logger.Info("[Processor] No locations found")
		return &handlerOutcome{}, nil
	}

	scope := adapter.Scope{AccountID: account.ID, UserID: account.UserID}
	locations := make([]*models.Location, 0, len(raw))
	for i := range raw {
		locations = append(locations, adapter.MapLocation(&raw[i], scope))
	}

	ids, err := p.locations.UpsertLocations(ctx, locations)
	if err != nil {
		return nil, errors.NewDatabaseError("upsert locations", err)
	}

	targets := make([]models.FanOutLocation, 0, len(locations))
	for _, loc := range locations {
		targets = append(targets, models.FanOutLocation{
			LocationID:       ids[loc.LocationID],
			GoogleLocationID: loc.LocationID,
		})
	}

	shared := models.JobMetadata{
		AccountID:       account.ID,
		UserID:          account.UserID,
		GoogleAccountID: account.GoogleAccountID,
	}
	fanOut, err := p.jobs.FanOutLocationJobs(ctx, targets, DiscoveryFanOut, shared, job.ID, p.childPriority)
	if err != nil {
		return nil, errors.NewDatabaseError("fan out location jobs", err)
	}

	return &handlerOutcome{itemsProcessed: len(locations), childJobsCreated: fanOut.JobsCreated}, nil
}

// scopeFor resolves the internal location id and fetches a token for a location job
func (p *Processor) scopeFor(ctx context.Context, l models.LocationScopedJob) (adapter.Scope, string, error) {
	scope := adapter.Scope{
		AccountID:        l.AccountID,
		UserID:           l.UserID,
		LocationID:       l.LocationID,
		GoogleLocationID: l.GoogleLocationID,
	}

	if scope.LocationID == "" {
		id, err := p.locations.ResolveID(ctx, l.GoogleLocationID)
		if err != nil {
			if stderrors.Is(err, storage.ErrLocationNotFound) {
				return scope, "", errors.NewPreconditionError("location has not been discovered: "+l.GoogleLocationID, err)
			}
			return scope, "", errors.NewDatabaseError("resolve location", err)
		}
		scope.LocationID = id
	}

	token, err := p.tokens.GetValidAccessToken(ctx, l.AccountID)
	if err != nil {
		return scope, "", err
	}
	return scope, token, nil
}

// syncReviews fails the job when reviews cannot be stored
func (p *Processor) syncReviews(ctx context.Context, l models.LocationScopedJob) (*handlerOutcome, error) {
	scope, token, err := p.scopeFor(ctx, l)
	if err != nil {
		return nil, err
	}

	raw, err := adapter.CollectReviews(ctx, p.source, token, l.GoogleAccountID, l.GoogleLocationID)
	if err != nil {
		return nil, err
	}

	reviews := make([]*models.Review, 0, len(raw))
	for _, r := range raw {
		reviews = append(reviews, adapter.MapReview(r, scope))
	}

	n, err := p.reviews.UpsertReviews(ctx, reviews)
	if err != nil {
		return nil, errors.NewDatabaseError("upsert reviews", err)
	}

	out := &handlerOutcome{itemsProcessed: n}
	avg, count := adapter.SummarizeReviews(reviews)
	if err := p.locations.RecordReviewSync(ctx, scope.LocationID, avg, count, p.now().UTC()); err != nil {
		out.warn(ctx, "failed to update location sync time", err)
	}
	return out, nil
}

func (p *Processor) syncInsights(ctx context.Context, l models.LocationScopedJob) (*handlerOutcome, error) {
	scope, token, err := p.scopeFor(ctx, l)
	if err != nil {
		return nil, err
	}

	series, err := adapter.CollectInsights(ctx, p.source, token, l.GoogleLocationID)
	if err != nil {
		return nil, err
	}
	days := adapter.MapInsights(series, scope)

	out := &handlerOutcome{}
	n, err := p.resources.UpsertInsights(ctx, days)
	if err != nil {
		out.warn(ctx, "insights upsert failed", err)
		return out, nil
	}
	out.itemsProcessed = n
	return out, nil
}

func (p *Processor) syncPosts(ctx context.Context, l models.LocationScopedJob) (*handlerOutcome, error) {
	scope, token, err := p.scopeFor(ctx, l)
	if err != nil {
		return nil, err
	}

	raw, err := adapter.CollectPosts(ctx, p.source, token, l.GoogleAccountID, l.GoogleLocationID)
	if err != nil {
		return nil, err
	}
	posts := make([]*models.Post, 0, len(raw))
	for _, r := range raw {
		posts = append(posts, adapter.MapPost(r, scope))
	}

	out := &handlerOutcome{}
	n, err := p.resources.UpsertPosts(ctx, posts)
	if err != nil {
		out.warn(ctx, "posts upsert failed", err)
		return out, nil
	}
	out.itemsProcessed = n
	return out, nil
}

func (p *Processor) syncMedia(ctx context.Context, l models.LocationScopedJob) (*handlerOutcome, error) {
	scope, token, err := p.scopeFor(ctx, l)
	if err != nil {
		return nil, err
	}

	raw, err := adapter.CollectMedia(ctx, p.source, token, l.GoogleAccountID, l.GoogleLocationID)
	if err != nil {
		return nil, err
	}
	items := make([]*models.Media, 0, len(raw))
	for _, r := range raw {
		items = append(items, adapter.MapMedia(r, scope))
	}

	out := &handlerOutcome{}
	n, err := p.resources.UpsertMedia(ctx, items)
	if err != nil {
		out.warn(ctx, "media upsert failed", err)
		return out, nil
	}
	out.itemsProcessed = n
	return out, nil
}

func (o *handlerOutcome) warn(ctx context.Context, msg string, err error) {
	logging.FromContext(ctx).WithError(err).Warn("[Processor] " + msg)
	o.warnings = append(o.warnings, fmt.Sprintf("%s: %v", msg, err))
}

// report publishes one job stage event. Terminal events carry the elapsed time.
func (p *Processor) report(ctx context.Context, job *models.SyncJob, stage types.Stage, status types.StageStatus,
	errMsg string, counts map[string]int, elapsed time.Duration) {
	pct := 0
	switch {
	case status == types.StageCompleted:
		pct = 100
	case stage == types.StageInit:
		pct = 5
	}

	meta := map[string]interface{}{
		"jobId":   job.ID,
		"jobType": string(job.JobType),
	}
	if stage == types.StageComplete {
		meta["durationMs"] = elapsed.Milliseconds()
	}

	p.reporter.Report(ctx, &models.SyncEvent{
		SyncID:    job.ID,
		UserID:    job.UserID,
		AccountID: job.AccountID,
		Stage:     stage,
		Status:    status,
		Progress:  pct,
		Message:   jobMessage(job.JobType, stage, status),
		Error:     errMsg,
		Counts:    counts,
		Metadata:  meta,
		Timestamp: p.now().UTC(),
	})
}

func jobMessage(jobType types.JobType, stage types.Stage, status types.StageStatus) string {
	switch {
	case stage == types.StageInit:
		return fmt.Sprintf("Started %s job", jobType)
	case status == types.StageError:
		return fmt.Sprintf("Job %s failed", jobType)
	default:
		return fmt.Sprintf("Job %s completed", jobType)
	}
}

// setStatus writes the final job status. It never panics or fails the caller.
func (p *Processor) setStatus(ctx context.Context, jobID string, status types.JobStatus, errMsg *string) {
	logger := logging.FromContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("[Processor] Status update panicked")
		}
	}()

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := p.jobs.UpdateJobStatus(writeCtx, jobID, status, errMsg); err != nil {
		logger.WithError(err).WithField("status", status).Error("[Processor] Failed to update job status")
	}
}
