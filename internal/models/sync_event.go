package models

import (
	"time"

	"github.com/gmb-sync/internal/types"
)

// SyncEvent is one stage transition of a job or a transactional sync run.
// Events are append-only.
type SyncEvent struct {
	SyncID    string                 `json:"syncId"`
	UserID    string                 `json:"userId"`
	AccountID string                 `json:"accountId"`
	Stage     types.Stage            `json:"stage"`
	Status    types.StageStatus      `json:"status"`
	Progress  int                    `json:"progress"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Counts    map[string]int         `json:"counts,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Key renders the event as "stage:status"
func (e *SyncEvent) Key() string {
	return string(e.Stage) + ":" + string(e.Status)
}

// SyncPayload is everything a transactional sync commits as one unit
type SyncPayload struct {
	AccountID string
	UserID    string
	Locations []*Location
	Reviews   []*Review
	Questions []*Question
}

// CommitResult reports row counts written by a transactional commit
type CommitResult struct {
	LocationsSynced int `json:"locationsSynced"`
	ReviewsSynced   int `json:"reviewsSynced"`
	QuestionsSynced int `json:"questionsSynced"`
	Attempts        int `json:"attempts"`
}

// SyncResult is returned by a successful transactional sync
type SyncResult struct {
	Success         bool   `json:"success"`
	SyncID          string `json:"sync_id"`
	LocationsSynced int    `json:"locations_synced"`
	ReviewsSynced   int    `json:"reviews_synced"`
	QuestionsSynced int    `json:"questions_synced"`
}
