// Package types provides the stable wire vocabulary shared by the sync subsystem.
// Job types, job statuses, stage names and stage statuses are persisted and streamed
// to dashboards, so their string values must never change.
package types

// JobType identifies the handler a queued job is routed to
type JobType string

const (
	// JobDiscoverLocations fetches an account's locations and fans out per-location jobs
	JobDiscoverLocations JobType = "discovery_locations"
	// JobSyncReviews fetches and upserts reviews for one location
	JobSyncReviews JobType = "sync_reviews"
	// JobSyncInsights fetches and upserts daily insight metrics for one location
	JobSyncInsights JobType = "sync_insights"
	// JobSyncPosts fetches and upserts local posts for one location
	JobSyncPosts JobType = "sync_posts"
	// JobSyncMedia fetches and upserts media items for one location
	JobSyncMedia JobType = "sync_media"
)

// AllJobTypes lists every job type the processor understands
var AllJobTypes = []JobType{
	JobDiscoverLocations,
	JobSyncReviews,
	JobSyncInsights,
	JobSyncPosts,
	JobSyncMedia,
}

// IsValid reports whether t is a known job type
func (t JobType) IsValid() bool {
	for _, known := range AllJobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsLocationScoped reports whether jobs of this type target a single location
func (t JobType) IsLocationScoped() bool {
	return t.IsValid() && t != JobDiscoverLocations
}

// JobStatus represents the lifecycle state of a queued job
type JobStatus string

const (
	// JobStatusPending represents a job waiting to be claimed
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning represents a job claimed by a worker
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted represents a successfully finished job
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed represents a job that finished with an error
	JobStatusFailed JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are expected
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Stage names a step of a job lifecycle or of the transactional sync pipeline
type Stage string

const (
	StageInit           Stage = "init"
	StageLocationsFetch Stage = "locations_fetch"
	StageReviewsFetch   Stage = "reviews_fetch"
	StageQuestionsFetch Stage = "questions_fetch"
	StageTransaction    Stage = "transaction"
	StageCacheRefresh   Stage = "cache_refresh"
	StageComplete       Stage = "complete"
)

// StageStatus is the state reported for a stage transition
type StageStatus string

const (
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageError     StageStatus = "error"
)

// Priority levels used when enqueueing jobs. Higher runs first.
const (
	PriorityLow    = 0
	PriorityNormal = 5
	PriorityHigh   = 10
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
