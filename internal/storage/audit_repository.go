package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gmb-sync/internal/models"
)

// AuditRepository appends rows to audit_logs
type AuditRepository struct {
	db *PostgresDB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *PostgresDB) *AuditRepository {
	return &AuditRepository{db: db}
}

// LogAction records one audited action
func (r *AuditRepository) LogAction(ctx context.Context, entry *models.AuditEntry) error {
	details, err := json.Marshal(nonNilMap(entry.Details))
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	query := `
		INSERT INTO audit_logs (user_id, action, resource_type, resource_id, details)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.Pool().Exec(ctx, query, entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID, details); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}
