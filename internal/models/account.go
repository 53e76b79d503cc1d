// Package models provides data models for the GMB sync system.
package models

import "time"

// Account represents a connected Google Business Profile account
type Account struct {
	ID              string     `json:"id" db:"id"`
	UserID          string     `json:"userId" db:"user_id"`
	GoogleAccountID string     `json:"googleAccountId" db:"google_account_id"`
	AccountName     string     `json:"accountName" db:"account_name"`
	IsActive        bool       `json:"isActive" db:"is_active"`
	LastSyncedAt    *time.Time `json:"lastSyncedAt,omitempty" db:"last_synced_at"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time  `json:"updatedAt" db:"updated_at"`
}

// AccountCredentials holds the encrypted OAuth material for an account
type AccountCredentials struct {
	AccountID             string    `db:"account_id"`
	EncryptedAccessToken  string    `db:"access_token_enc"`
	EncryptedRefreshToken string    `db:"refresh_token_enc"`
	TokenExpiry           time.Time `db:"token_expiry"`
}

// AuditEntry is one row of the audit_logs table
type AuditEntry struct {
	ID           string                 `json:"id" db:"id"`
	UserID       string                 `json:"userId" db:"user_id"`
	Action       string                 `json:"action" db:"action"`
	ResourceType string                 `json:"resourceType" db:"resource_type"`
	ResourceID   string                 `json:"resourceId" db:"resource_id"`
	Details      map[string]interface{} `json:"details,omitempty" db:"details"`
	CreatedAt    time.Time              `json:"createdAt" db:"created_at"`
}
