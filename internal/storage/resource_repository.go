package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gmb-sync/internal/models"
)

// ResourceRepository upserts the best-effort per-location resources: insights, posts and media
type ResourceRepository struct {
	db *PostgresDB
}

// NewResourceRepository creates a new resource repository
func NewResourceRepository(db *PostgresDB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

// UpsertInsights writes daily metrics keyed on (location_id, metric_date)
func (r *ResourceRepository) UpsertInsights(ctx context.Context, days []*models.InsightDay) (int, error) {
	if len(days) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO insights (location_id, metric_date, account_id, user_id, metrics, synced_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (location_id, metric_date) DO UPDATE SET
			metrics = insights.metrics || EXCLUDED.metrics,
			synced_at = NOW()
	`

	batch := &pgx.Batch{}
	for _, d := range days {
		metrics, err := json.Marshal(d.Metrics)
		if err != nil {
			return 0, fmt.Errorf("failed to encode insight metrics: %w", err)
		}
		batch.Queue(query, d.LocationID, d.MetricDate, d.AccountID, d.UserID, metrics)
	}

	return execBatch(ctx, r.db.Pool(), batch, "insight")
}

// UpsertPosts writes local posts keyed on post_id
func (r *ResourceRepository) UpsertPosts(ctx context.Context, posts []*models.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO posts (
			post_id, location_id, account_id, user_id, summary, topic_type, state,
			call_to_action, media_url, search_url, published_at, upstream_updated_at, synced_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (post_id) DO UPDATE SET
			summary = EXCLUDED.summary,
			topic_type = EXCLUDED.topic_type,
			state = EXCLUDED.state,
			call_to_action = EXCLUDED.call_to_action,
			media_url = EXCLUDED.media_url,
			search_url = EXCLUDED.search_url,
			published_at = EXCLUDED.published_at,
			upstream_updated_at = EXCLUDED.upstream_updated_at,
			synced_at = NOW()
	`

	batch := &pgx.Batch{}
	for _, p := range posts {
		batch.Queue(query,
			p.PostID, p.LocationID, p.AccountID, p.UserID, p.Summary, p.TopicType, p.State,
			p.CallToAction, p.MediaURL, p.SearchURL, p.PublishedAt, p.UpdatedAt,
		)
	}

	return execBatch(ctx, r.db.Pool(), batch, "post")
}

// UpsertMedia writes media items keyed on media_id
func (r *ResourceRepository) UpsertMedia(ctx context.Context, items []*models.Media) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO media (
			media_id, location_id, account_id, user_id, media_format, category,
			google_url, thumbnail_url, description, view_count, upstream_created_at, synced_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (media_id) DO UPDATE SET
			media_format = EXCLUDED.media_format,
			category = EXCLUDED.category,
			google_url = EXCLUDED.google_url,
			thumbnail_url = EXCLUDED.thumbnail_url,
			description = EXCLUDED.description,
			view_count = EXCLUDED.view_count,
			synced_at = NOW()
	`

	batch := &pgx.Batch{}
	for _, m := range items {
		batch.Queue(query,
			m.MediaID, m.LocationID, m.AccountID, m.UserID, m.MediaFormat, m.Category,
			m.GoogleURL, m.ThumbnailURL, m.Description, m.ViewCount, m.CreatedAt,
		)
	}

	return execBatch(ctx, r.db.Pool(), batch, "media item")
}
