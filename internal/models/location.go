package models

import "time"

// Location represents a business location synced from the upstream profile API.
// LocationID is the upstream identifier and the upsert conflict target.
type Location struct {
	ID                  string                 `json:"id" db:"id"`
	AccountID           string                 `json:"accountId" db:"account_id"`
	UserID              string                 `json:"userId" db:"user_id"`
	LocationID          string                 `json:"locationId" db:"location_id"`
	NormalizedID        string                 `json:"normalizedLocationId" db:"normalized_location_id"`
	Name                string                 `json:"locationName" db:"location_name"`
	Address             string                 `json:"address" db:"address"`
	Phone               *string                `json:"phone,omitempty" db:"phone"`
	Website             *string                `json:"website,omitempty" db:"website"`
	Category            *string                `json:"category,omitempty" db:"category"`
	Rating              float64                `json:"rating" db:"rating"`
	ReviewCount         int                    `json:"reviewCount" db:"review_count"`
	Latitude            *float64               `json:"latitude,omitempty" db:"latitude"`
	Longitude           *float64               `json:"longitude,omitempty" db:"longitude"`
	ProfileCompleteness int                    `json:"profileCompleteness" db:"profile_completeness"`
	IsActive            bool                   `json:"isActive" db:"is_active"`
	IsArchived          bool                   `json:"isArchived" db:"is_archived"`
	Metadata            map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	LastSyncedAt        *time.Time             `json:"lastSyncedAt,omitempty" db:"last_synced_at"`
	CreatedAt           time.Time              `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time              `json:"updatedAt" db:"updated_at"`
}

// ResourceName returns the upstream resource path, e.g. "locations/123"
func (l *Location) ResourceName() string {
	return "locations/" + l.LocationID
}
