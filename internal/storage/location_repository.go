package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gmb-sync/internal/models"
)

// ErrLocationNotFound is returned when an upstream location id has no row yet
var ErrLocationNotFound = errors.New("location not found")

// LocationRepository upserts and reads locations keyed on the upstream location_id
type LocationRepository struct {
	db *PostgresDB
}

// NewLocationRepository creates a new location repository
func NewLocationRepository(db *PostgresDB) *LocationRepository {
	return &LocationRepository{db: db}
}

// UpsertLocations writes locations and returns upstream id -> internal id for every row
func (r *LocationRepository) UpsertLocations(ctx context.Context, locations []*models.Location) (map[string]string, error) {
	return upsertLocations(ctx, r.db.Pool(), locations)
}

// upsertLocations overwrites every non-identity column on conflict.
// is_active and is_archived only change when the incoming row carries an explicit open status.
// Rows without reviews (discovery) keep the stored rating and review_count.
func upsertLocations(ctx context.Context, q Querier, locations []*models.Location) (map[string]string, error) {
	ids := make(map[string]string, len(locations))
	if len(locations) == 0 {
		return ids, nil
	}

	query := `
		INSERT INTO locations (
			account_id, user_id, location_id, normalized_location_id, location_name, address,
			phone, website, category, rating, review_count, latitude, longitude,
			profile_completeness, is_active, is_archived, metadata, last_synced_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())
		ON CONFLICT (location_id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			user_id = EXCLUDED.user_id,
			normalized_location_id = EXCLUDED.normalized_location_id,
			location_name = EXCLUDED.location_name,
			address = EXCLUDED.address,
			phone = EXCLUDED.phone,
			website = EXCLUDED.website,
			category = EXCLUDED.category,
			rating = CASE WHEN EXCLUDED.review_count > 0 THEN EXCLUDED.rating ELSE locations.rating END,
			review_count = CASE WHEN EXCLUDED.review_count > 0 THEN EXCLUDED.review_count ELSE locations.review_count END,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			profile_completeness = EXCLUDED.profile_completeness,
			is_active = CASE
				WHEN COALESCE(EXCLUDED.metadata->>'openStatus', '') = '' THEN locations.is_active
				ELSE EXCLUDED.is_active
			END,
			is_archived = CASE
				WHEN COALESCE(EXCLUDED.metadata->>'openStatus', '') = '' THEN locations.is_archived
				ELSE EXCLUDED.is_archived
			END,
			metadata = EXCLUDED.metadata,
			last_synced_at = NOW(),
			updated_at = NOW()
		RETURNING id, location_id
	`

	batch := &pgx.Batch{}
	for _, loc := range locations {
		meta, err := json.Marshal(nonNilMap(loc.Metadata))
		if err != nil {
			return nil, fmt.Errorf("failed to encode location metadata: %w", err)
		}
		batch.Queue(query,
			loc.AccountID, loc.UserID, loc.LocationID, loc.NormalizedID, loc.Name, loc.Address,
			loc.Phone, loc.Website, loc.Category, loc.Rating, loc.ReviewCount, loc.Latitude, loc.Longitude,
			loc.ProfileCompleteness, loc.IsActive, loc.IsArchived, meta,
		)
	}

	br := q.SendBatch(ctx, batch)
	defer func() {
		_ = br.Close()
	}()

	for range locations {
		var id, locationID string
		if err := br.QueryRow().Scan(&id, &locationID); err != nil {
			return nil, fmt.Errorf("failed to upsert location: %w", err)
		}
		ids[locationID] = id
	}

	return ids, nil
}

// ResolveID returns the internal id of an upstream location id
func (r *LocationRepository) ResolveID(ctx context.Context, googleLocationID string) (string, error) {
	var id string
	err := r.db.Pool().QueryRow(ctx, `SELECT id FROM locations WHERE location_id = $1`, googleLocationID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrLocationNotFound, googleLocationID)
		}
		return "", fmt.Errorf("failed to resolve location: %w", err)
	}
	return id, nil
}

// RecordReviewSync stores the review aggregates of a location and stamps last_synced_at
func (r *LocationRepository) RecordReviewSync(ctx context.Context, locationID string, rating float64, reviewCount int, at time.Time) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE locations
		SET rating = $2, review_count = $3, last_synced_at = $4, updated_at = NOW()
		WHERE id = $1`, locationID, rating, reviewCount, at)
	if err != nil {
		return fmt.Errorf("failed to record review sync: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrLocationNotFound, locationID)
	}
	return nil
}

// CountByAccount returns how many locations an account owns
func (r *LocationRepository) CountByAccount(ctx context.Context, accountID string) (int, error) {
	var n int
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM locations WHERE account_id = $1`, accountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count locations: %w", err)
	}
	return n, nil
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
