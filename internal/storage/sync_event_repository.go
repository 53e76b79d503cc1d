package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gmb-sync/internal/models"
	"github.com/gmb-sync/internal/types"
)

// SyncEventRepository appends and reads SyncEvents in ClickHouse
type SyncEventRepository struct {
	db *ClickHouseDB
}

// NewSyncEventRepository creates a new sync event repository
func NewSyncEventRepository(db *ClickHouseDB) *SyncEventRepository {
	return &SyncEventRepository{db: db}
}

type syncEventRow struct {
	SyncID    string           `ch:"sync_id"`
	UserID    string           `ch:"user_id"`
	AccountID string           `ch:"account_id"`
	Stage     string           `ch:"stage"`
	Status    string           `ch:"status"`
	Progress  uint8            `ch:"progress"`
	Message   string           `ch:"message"`
	Error     string           `ch:"error"`
	Counts    map[string]int64 `ch:"counts"`
	Metadata  string           `ch:"metadata"`
	Timestamp time.Time        `ch:"timestamp"`
}

// Insert appends events with a single batch
func (r *SyncEventRepository) Insert(ctx context.Context, events ...*models.SyncEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO sync_events (
			sync_id, user_id, account_id, stage, status, progress,
			message, error, counts, metadata, timestamp
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare sync event batch: %w", err)
	}

	for _, e := range events {
		counts := make(map[string]int64, len(e.Counts))
		for k, v := range e.Counts {
			counts[k] = int64(v)
		}

		meta := "{}"
		if len(e.Metadata) > 0 {
			raw, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode sync event metadata: %w", err)
			}
			meta = string(raw)
		}

		if err := batch.Append(
			e.SyncID,
			e.UserID,
			e.AccountID,
			string(e.Stage),
			string(e.Status),
			clampProgress(e.Progress),
			e.Message,
			e.Error,
			counts,
			meta,
			e.Timestamp.UTC(),
		); err != nil {
			return fmt.Errorf("failed to append sync event: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send sync event batch: %w", err)
	}
	return nil
}

// ListBySyncID returns the events of one job or sync run in timestamp order
func (r *SyncEventRepository) ListBySyncID(ctx context.Context, syncID string) ([]*models.SyncEvent, error) {
	var rows []syncEventRow
	query := `
		SELECT sync_id, user_id, account_id, stage, status, progress, message, error, counts, metadata, timestamp
		FROM sync_events
		WHERE sync_id = ?
		ORDER BY timestamp ASC
	`
	if err := r.db.Conn().Select(ctx, &rows, query, syncID); err != nil {
		return nil, fmt.Errorf("failed to query sync events: %w", err)
	}

	events := make([]*models.SyncEvent, 0, len(rows))
	for _, row := range rows {
		e := &models.SyncEvent{
			SyncID:    row.SyncID,
			UserID:    row.UserID,
			AccountID: row.AccountID,
			Stage:     types.Stage(row.Stage),
			Status:    types.StageStatus(row.Status),
			Progress:  int(row.Progress),
			Message:   row.Message,
			Error:     row.Error,
			Timestamp: row.Timestamp,
		}
		if len(row.Counts) > 0 {
			e.Counts = make(map[string]int, len(row.Counts))
			for k, v := range row.Counts {
				e.Counts[k] = int(v)
			}
		}
		if row.Metadata != "" && row.Metadata != "{}" {
			_ = json.Unmarshal([]byte(row.Metadata), &e.Metadata)
		}
		events = append(events, e)
	}
	return events, nil
}

// SyncResultRow is one finished transactional sync
type SyncResultRow struct {
	SyncID          string
	UserID          string
	AccountID       string
	Success         bool
	Duration        time.Duration
	LocationsSynced int
	ReviewsSynced   int
	QuestionsSynced int
	Error           string
	FinishedAt      time.Time
}

// InsertSyncResult appends a run outcome row
func (r *SyncEventRepository) InsertSyncResult(ctx context.Context, row *SyncResultRow) error {
	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO sync_results (
			sync_id, user_id, account_id, success, duration_ms,
			locations_synced, reviews_synced, questions_synced, error, finished_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare sync result batch: %w", err)
	}

	var success uint8
	if row.Success {
		success = 1
	}

	if err := batch.Append(
		row.SyncID,
		row.UserID,
		row.AccountID,
		success,
		uint64(row.Duration.Milliseconds()),
		uint32(row.LocationsSynced),
		uint32(row.ReviewsSynced),
		uint32(row.QuestionsSynced),
		row.Error,
		row.FinishedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to append sync result: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send sync result: %w", err)
	}
	return nil
}

func clampProgress(p int) uint8 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return uint8(p)
	}
}
