package models

import "time"

// InsightDay holds one day of performance metrics for a location.
// (LocationID, MetricDate) is the natural key.
type InsightDay struct {
	LocationID       string           `json:"locationId" db:"location_id"`
	GoogleLocationID string           `json:"googleLocationId" db:"google_location_id"`
	AccountID        string           `json:"accountId" db:"account_id"`
	UserID           string           `json:"userId" db:"user_id"`
	MetricDate       time.Time        `json:"metricDate" db:"metric_date"`
	Metrics          map[string]int64 `json:"metrics" db:"metrics"`
}

// Post represents a local post published on a location profile
type Post struct {
	PostID       string     `json:"postId" db:"post_id"`
	LocationID   string     `json:"locationId" db:"location_id"`
	AccountID    string     `json:"accountId" db:"account_id"`
	UserID       string     `json:"userId" db:"user_id"`
	Summary      string     `json:"summary" db:"summary"`
	TopicType    string     `json:"topicType" db:"topic_type"`
	State        string     `json:"state" db:"state"`
	CallToAction *string    `json:"callToAction,omitempty" db:"call_to_action"`
	MediaURL     *string    `json:"mediaUrl,omitempty" db:"media_url"`
	SearchURL    *string    `json:"searchUrl,omitempty" db:"search_url"`
	PublishedAt  *time.Time `json:"publishedAt,omitempty" db:"published_at"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty" db:"upstream_updated_at"`
}

// Media represents a photo or video attached to a location profile
type Media struct {
	MediaID      string     `json:"mediaId" db:"media_id"`
	LocationID   string     `json:"locationId" db:"location_id"`
	AccountID    string     `json:"accountId" db:"account_id"`
	UserID       string     `json:"userId" db:"user_id"`
	MediaFormat  string     `json:"mediaFormat" db:"media_format"`
	Category     *string    `json:"category,omitempty" db:"category"`
	GoogleURL    *string    `json:"googleUrl,omitempty" db:"google_url"`
	ThumbnailURL *string    `json:"thumbnailUrl,omitempty" db:"thumbnail_url"`
	Description  *string    `json:"description,omitempty" db:"description"`
	ViewCount    int64      `json:"viewCount" db:"view_count"`
	CreatedAt    *time.Time `json:"createdAt,omitempty" db:"upstream_created_at"`
}
