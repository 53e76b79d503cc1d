package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gmb-sync/internal/models"
	"github.com/gmb-sync/internal/retry"
)

// SyncCommitter writes a full sync payload as one transaction
type SyncCommitter struct {
	db          *PostgresDB
	retryConfig *retry.RetryConfig
}

// NewSyncCommitter creates a committer that retries transient Postgres failures
func NewSyncCommitter(db *PostgresDB) *SyncCommitter {
	return &SyncCommitter{
		db:          db,
		retryConfig: retry.CommitRetryConfig(IsTransientPgError),
	}
}

// CommitSync upserts locations, reviews and questions in a single transaction.
// Either every row is visible afterwards or none is.
func (c *SyncCommitter) CommitSync(ctx context.Context, payload *models.SyncPayload) (*models.CommitResult, error) {
	var result *models.CommitResult

	outcome := retry.WithExponentialBackoff(ctx, c.retryConfig, func(ctx context.Context, attempt int) error {
		res, err := c.commitOnce(ctx, payload)
		if err != nil {
			return err
		}
		res.Attempts = attempt
		result = res
		return nil
	})

	if !outcome.Success {
		return nil, fmt.Errorf("failed to commit sync for account %s: %w", payload.AccountID, outcome.Err())
	}
	return result, nil
}

func (c *SyncCommitter) commitOnce(ctx context.Context, payload *models.SyncPayload) (*models.CommitResult, error) {
	tx, err := c.db.Pool().BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(ctx)
	}()

	ids, err := upsertLocations(ctx, tx, payload.Locations)
	if err != nil {
		return nil, err
	}

	reviews, err := bindReviews(payload.Reviews, ids)
	if err != nil {
		return nil, err
	}
	reviewsWritten, err := upsertReviews(ctx, tx, reviews)
	if err != nil {
		return nil, err
	}

	questions, err := bindQuestions(payload.Questions, ids)
	if err != nil {
		return nil, err
	}
	questionsWritten, err := upsertQuestions(ctx, tx, questions)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE accounts SET last_synced_at = NOW(), updated_at = NOW() WHERE id = $1`, payload.AccountID); err != nil {
		return nil, fmt.Errorf("failed to stamp account sync time: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &models.CommitResult{
		LocationsSynced: len(ids),
		ReviewsSynced:   reviewsWritten,
		QuestionsSynced: questionsWritten,
	}, nil
}

// bindReviews copies reviews with their internal location id resolved from the upsert
func bindReviews(in []*models.Review, ids map[string]string) ([]*models.Review, error) {
	out := make([]*models.Review, 0, len(in))
	for _, r := range in {
		cp := *r
		if cp.LocationID == "" {
			id, ok := ids[cp.GoogleLocationID]
			if !ok {
				return nil, fmt.Errorf("review %s references unknown location %s", cp.ReviewID, cp.GoogleLocationID)
			}
			cp.LocationID = id
		}
		out = append(out, &cp)
	}
	return out, nil
}

func bindQuestions(in []*models.Question, ids map[string]string) ([]*models.Question, error) {
	out := make([]*models.Question, 0, len(in))
	for _, q := range in {
		cp := *q
		if cp.LocationID == "" {
			id, ok := ids[cp.GoogleLocationID]
			if !ok {
				return nil, fmt.Errorf("question %s references unknown location %s", cp.QuestionID, cp.GoogleLocationID)
			}
			cp.LocationID = id
		}
		out = append(out, &cp)
	}
	return out, nil
}

// IsTransientPgError reports errors where re-running the whole transaction can succeed
func IsTransientPgError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", // serialization_failure
			pgErr.Code == "40P01", // deadlock_detected
			pgErr.Code == "55P03", // lock_not_available
			pgErr.Code == "57P01", // admin_shutdown
			pgErr.Code == "53300", // too_many_connections
			strings.HasPrefix(pgErr.Code, "08"):
			return true
		default:
			return false
		}
	}

	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}
