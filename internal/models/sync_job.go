package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gmb-sync/internal/types"
)

// SyncJob represents a row of the sync_queue table
type SyncJob struct {
	ID           string          `json:"id" db:"id"`
	AccountID    string          `json:"accountId" db:"account_id"`
	UserID       string          `json:"userId" db:"user_id"`
	JobType      types.JobType   `json:"jobType" db:"job_type"`
	Status       types.JobStatus `json:"status" db:"status"`
	Priority     int             `json:"priority" db:"priority"`
	Attempts     int             `json:"attempts" db:"attempts"`
	MaxAttempts  int             `json:"maxAttempts" db:"max_attempts"`
	Metadata     JobMetadata     `json:"metadata" db:"metadata"`
	ParentJobID  *string         `json:"parentJobId,omitempty" db:"parent_job_id"`
	ErrorMessage *string         `json:"errorMessage,omitempty" db:"error_message"`
	RunAfter     *time.Time      `json:"runAfter,omitempty" db:"run_after"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time       `json:"updatedAt" db:"updated_at"`
	StartedAt    *time.Time      `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
}

// HasAttemptsLeft reports whether the queue may hand this job out again
func (j *SyncJob) HasAttemptsLeft() bool {
	return j.Attempts < j.MaxAttempts
}

// JobMetadata is the JSON payload stored with every job.
// The set of required fields depends on JobType; use Payload to obtain a validated variant.
type JobMetadata struct {
	JobType          types.JobType `json:"jobType"`
	AccountID        string        `json:"accountId"`
	UserID           string        `json:"userId"`
	LocationID       string        `json:"locationId,omitempty"`
	GoogleLocationID string        `json:"googleLocationId,omitempty"`
	GoogleAccountID  string        `json:"googleAccountId,omitempty"`
	ParentJobID      string        `json:"parentJobId,omitempty"`
}

// JobPayload is the validated, type-specific view of JobMetadata.
// Exactly one of DiscoveryJob or LocationScopedJob implements it.
type JobPayload interface {
	Type() types.JobType
	Account() string
	User() string
}

// DiscoveryJob targets a whole account
type DiscoveryJob struct {
	AccountID string
	UserID    string
}

func (DiscoveryJob) Type() types.JobType { return types.JobDiscoverLocations }
func (d DiscoveryJob) Account() string   { return d.AccountID }
func (d DiscoveryJob) User() string      { return d.UserID }

// LocationScopedJob targets one location of an account
type LocationScopedJob struct {
	JobType          types.JobType
	AccountID        string
	UserID           string
	LocationID       string
	GoogleLocationID string
	GoogleAccountID  string
	ParentJobID      string
}

func (l LocationScopedJob) Type() types.JobType { return l.JobType }
func (l LocationScopedJob) Account() string     { return l.AccountID }
func (l LocationScopedJob) User() string        { return l.UserID }

// MissingFieldError reports a metadata field required by the job type
type MissingFieldError struct {
	JobType types.JobType
	Field   string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s job is missing required metadata field %s", e.JobType, e.Field)
}

// UnknownJobTypeError reports a job type no handler exists for
type UnknownJobTypeError struct {
	JobType types.JobType
}

func (e *UnknownJobTypeError) Error() string {
	return fmt.Sprintf("unknown job type: %q", string(e.JobType))
}

// Payload validates the metadata and returns the variant for its job type
func (m JobMetadata) Payload() (JobPayload, error) {
	if !m.JobType.IsValid() {
		return nil, &UnknownJobTypeError{JobType: m.JobType}
	}
	if m.AccountID == "" {
		return nil, &MissingFieldError{JobType: m.JobType, Field: "accountId"}
	}

	if m.JobType == types.JobDiscoverLocations {
		return DiscoveryJob{AccountID: m.AccountID, UserID: m.UserID}, nil
	}

	if m.GoogleLocationID == "" {
		return nil, &MissingFieldError{JobType: m.JobType, Field: "googleLocationId"}
	}
	if m.GoogleAccountID == "" {
		return nil, &MissingFieldError{JobType: m.JobType, Field: "googleAccountId"}
	}

	return LocationScopedJob{
		JobType:          m.JobType,
		AccountID:        m.AccountID,
		UserID:           m.UserID,
		LocationID:       m.LocationID,
		GoogleLocationID: m.GoogleLocationID,
		GoogleAccountID:  m.GoogleAccountID,
		ParentJobID:      m.ParentJobID,
	}, nil
}

// DecodeJobMetadata parses the raw JSON column.
// The job type column wins over a stale or missing jobType inside the blob.
func DecodeJobMetadata(raw []byte, jobType types.JobType) (JobMetadata, error) {
	var m JobMetadata
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return JobMetadata{}, fmt.Errorf("failed to decode job metadata: %w", err)
		}
	}
	if jobType != "" {
		m.JobType = jobType
	}
	return m, nil
}

// FanOutLocation is the minimal location identity needed to spawn child jobs
type FanOutLocation struct {
	LocationID       string
	GoogleLocationID string
}

// FanOutResult summarises a fan-out insert
type FanOutResult struct {
	JobsCreated int      `json:"jobsCreated"`
	JobIDs      []string `json:"jobIds,omitempty"`
}
