package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gmb-sync/internal/logging"
	"github.com/gmb-sync/internal/models"
	"github.com/gmb-sync/internal/types"
)

// ErrJobNotFound is returned by reads of a job id that does not exist
var ErrJobNotFound = errors.New("sync job not found")

const jobColumns = `id, account_id, user_id, job_type, status, priority, attempts, max_attempts,
	metadata, parent_job_id, error_message, run_after, created_at, updated_at, started_at, completed_at`

// JobRepository persists the sync_queue table.
// Rows are never deleted; they double as the audit trail of queued work.
type JobRepository struct {
	db          *PostgresDB
	maxAttempts int
}

// NewJobRepository creates a new job repository. maxAttempts applies to newly inserted jobs.
func NewJobRepository(db *PostgresDB, maxAttempts int) *JobRepository {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &JobRepository{db: db, maxAttempts: maxAttempts}
}

// Enqueue inserts a pending job and returns its id
func (r *JobRepository) Enqueue(ctx context.Context, accountID, userID string, jobType types.JobType, priority int, metadata models.JobMetadata) (string, error) {
	if !jobType.IsValid() {
		return "", &models.UnknownJobTypeError{JobType: jobType}
	}

	metadata.JobType = jobType
	metadata.AccountID = accountID
	metadata.UserID = userID

	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to encode job metadata: %w", err)
	}

	var parent *string
	if metadata.ParentJobID != "" {
		parent = &metadata.ParentJobID
	}

	id := uuid.NewString()
	query := `
		INSERT INTO sync_queue (id, account_id, user_id, job_type, status, priority, max_attempts, metadata, parent_job_id)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, $8)
	`
	if _, err := r.db.Pool().Exec(ctx, query, id, accountID, userID, string(jobType), priority, r.maxAttempts, raw, parent); err != nil {
		return "", fmt.Errorf("failed to enqueue %s job: %w", jobType, err)
	}

	return id, nil
}

// FanOutLocationJobs inserts the locations x jobTypes cross product as child jobs of parentJobID.
// All rows go in with one statement; an empty product inserts nothing.
func (r *JobRepository) FanOutLocationJobs(
	ctx context.Context,
	locations []models.FanOutLocation,
	jobTypes []types.JobType,
	shared models.JobMetadata,
	parentJobID string,
	priority int,
) (*models.FanOutResult, error) {
	rows, err := BuildFanOutRows(locations, jobTypes, shared, parentJobID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &models.FanOutResult{JobsCreated: 0}, nil
	}

	var (
		ids       = make([]string, len(rows))
		jobTypeCo = make([]string, len(rows))
		metas     = make([]string, len(rows))
	)
	for i, row := range rows {
		raw, err := json.Marshal(row.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode child job metadata: %w", err)
		}
		ids[i] = row.ID
		jobTypeCo[i] = string(row.Metadata.JobType)
		metas[i] = string(raw)
	}

	var parent *string
	if parentJobID != "" {
		parent = &parentJobID
	}

	query := `
		INSERT INTO sync_queue (id, account_id, user_id, job_type, status, priority, max_attempts, metadata, parent_job_id)
		SELECT c.id, $4, $5, c.job_type, 'pending', $6, $7, c.metadata, $8
		FROM unnest($1::uuid[], $2::text[], $3::jsonb[]) AS c(id, job_type, metadata)
	`
	tag, err := r.db.Pool().Exec(ctx, query, ids, jobTypeCo, metas,
		shared.AccountID, shared.UserID, priority, r.maxAttempts, parent)
	if err != nil {
		return nil, fmt.Errorf("failed to fan out %d child jobs: %w", len(rows), err)
	}

	return &models.FanOutResult{JobsCreated: int(tag.RowsAffected()), JobIDs: ids}, nil
}

// FanOutRow is one child job produced by BuildFanOutRows
type FanOutRow struct {
	ID       string
	Metadata models.JobMetadata
}

// BuildFanOutRows expands locations x jobTypes into child job rows carrying parentJobID.
// It is shared by the Postgres repository and in-memory queues.
func BuildFanOutRows(locations []models.FanOutLocation, jobTypes []types.JobType, shared models.JobMetadata, parentJobID string) ([]FanOutRow, error) {
	for _, jt := range jobTypes {
		if !jt.IsLocationScoped() {
			return nil, fmt.Errorf("job type %q cannot be fanned out per location", jt)
		}
	}

	rows := make([]FanOutRow, 0, len(locations)*len(jobTypes))
	for _, loc := range locations {
		for _, jt := range jobTypes {
			meta := shared
			meta.JobType = jt
			meta.LocationID = loc.LocationID
			meta.GoogleLocationID = loc.GoogleLocationID
			meta.ParentJobID = parentJobID
			rows = append(rows, FanOutRow{ID: uuid.NewString(), Metadata: meta})
		}
	}
	return rows, nil
}

// UpdateJobStatus writes a status transition. It is idempotent and last write wins:
// completed clears error_message, failed records it, and terminal states stamp completed_at.
// A missing row is logged, not returned as an error.
func (r *JobRepository) UpdateJobStatus(ctx context.Context, jobID string, status types.JobStatus, errorMessage *string) error {
	query := `
		UPDATE sync_queue
		SET status = $2::text,
			error_message = CASE
				WHEN $2::text = 'completed' THEN NULL
				WHEN $2::text = 'failed' THEN $3
				ELSE error_message
			END,
			completed_at = CASE WHEN $2::text IN ('completed', 'failed') THEN NOW() ELSE completed_at END,
			updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Pool().Exec(ctx, query, jobID, string(status), errorMessage)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"jobId":  jobID,
			"status": status,
		}).Warn("Status update matched no job row")
	}

	return nil
}

// Dequeue claims the next eligible job, marking it running and counting the attempt.
// It returns nil, nil when the queue has nothing to hand out.
func (r *JobRepository) Dequeue(ctx context.Context) (*models.SyncJob, error) {
	query := `
		UPDATE sync_queue
		SET status = 'running',
			attempts = attempts + 1,
			started_at = NOW(),
			updated_at = NOW()
		WHERE id = (
			SELECT id FROM sync_queue
			WHERE status = 'pending'
			  AND attempts < max_attempts
			  AND (run_after IS NULL OR run_after <= NOW())
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	return job, nil
}

// Retry puts a failed job back in the queue to run after runAfter.
// It reports false when the job has no attempts left or is not failed.
func (r *JobRepository) Retry(ctx context.Context, jobID string, runAfter time.Time) (bool, error) {
	query := `
		UPDATE sync_queue
		SET status = 'pending',
			run_after = $2,
			completed_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status = 'failed' AND attempts < max_attempts
	`

	tag, err := r.db.Pool().Exec(ctx, query, jobID, runAfter)
	if err != nil {
		return false, fmt.Errorf("failed to requeue job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ResetStale handles jobs left running by a crashed worker. Jobs with attempts left
// go back to pending, the rest are failed.
func (r *JobRepository) ResetStale(ctx context.Context, olderThan time.Duration) (requeued int, failed int, err error) {
	query := `
		UPDATE sync_queue
		SET status = CASE WHEN attempts < max_attempts THEN 'pending' ELSE 'failed' END,
			error_message = CASE WHEN attempts < max_attempts THEN error_message ELSE 'worker lease expired' END,
			completed_at = CASE WHEN attempts < max_attempts THEN NULL ELSE NOW() END,
			updated_at = NOW()
		WHERE status = 'running'
		  AND started_at < NOW() - make_interval(secs => $1)
		RETURNING status
	`

	rows, err := r.db.Pool().Query(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, 0, fmt.Errorf("failed to reset stale jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return requeued, failed, fmt.Errorf("failed to scan stale job: %w", err)
		}
		if status == string(types.JobStatusPending) {
			requeued++
		} else {
			failed++
		}
	}
	return requeued, failed, rows.Err()
}

// GetByID retrieves a job by id
func (r *JobRepository) GetByID(ctx context.Context, jobID string) (*models.SyncJob, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_queue WHERE id = $1`

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListByParent returns the child jobs of a fan-out in creation order
func (r *JobRepository) ListByParent(ctx context.Context, parentJobID string) ([]*models.SyncJob, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_queue WHERE parent_job_id = $1 ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Pool().Query(ctx, query, parentJobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list child jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan child job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// HasActiveJob reports whether the account has a pending or running job of jobType
func (r *JobRepository) HasActiveJob(ctx context.Context, accountID string, jobType types.JobType) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM sync_queue
			WHERE account_id = $1 AND job_type = $2 AND status IN ('pending', 'running')
		)
	`

	var exists bool
	if err := r.db.Pool().QueryRow(ctx, query, accountID, string(jobType)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check active jobs: %w", err)
	}
	return exists, nil
}

// CountByStatus returns the number of jobs per status, used for queue depth metrics
func (r *JobRepository) CountByStatus(ctx context.Context) (map[types.JobStatus]int, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.JobStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[types.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanJob(row pgx.Row) (*models.SyncJob, error) {
	var (
		job     models.SyncJob
		jobType string
		status  string
		rawMeta []byte
	)

	err := row.Scan(
		&job.ID,
		&job.AccountID,
		&job.UserID,
		&jobType,
		&status,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&rawMeta,
		&job.ParentJobID,
		&job.ErrorMessage,
		&job.RunAfter,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.JobType = types.JobType(jobType)
	job.Status = types.JobStatus(status)

	// A blob that fails to decode still yields a job; validation happens in the processor.
	meta, decodeErr := models.DecodeJobMetadata(rawMeta, job.JobType)
	if decodeErr != nil {
		meta = models.JobMetadata{JobType: job.JobType}
	}
	if meta.AccountID == "" {
		meta.AccountID = job.AccountID
	}
	if meta.UserID == "" {
		meta.UserID = job.UserID
	}
	job.Metadata = meta

	return &job, nil
}
