package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gmb-sync/internal/models"
)

// ErrAccountNotFound is returned when an account id does not exist
var ErrAccountNotFound = errors.New("account not found")

// AccountRepository reads connected accounts and their encrypted credentials
type AccountRepository struct {
	db *PostgresDB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *PostgresDB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, user_id, google_account_id, account_name, is_active, last_synced_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.GoogleAccountID,
		&a.AccountName,
		&a.IsActive,
		&a.LastSyncedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByID retrieves an account by internal id
func (r *AccountRepository) GetByID(ctx context.Context, accountID string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(r.db.Pool().QueryRow(ctx, query, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// ListActive returns every active account, oldest sync first
func (r *AccountRepository) ListActive(ctx context.Context) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE is_active ORDER BY last_synced_at ASC NULLS FIRST`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetCredentials loads the encrypted OAuth material for an account
func (r *AccountRepository) GetCredentials(ctx context.Context, accountID string) (*models.AccountCredentials, error) {
	query := `
		SELECT account_id, access_token_enc, refresh_token_enc, token_expiry
		FROM account_credentials
		WHERE account_id = $1
	`

	var c models.AccountCredentials
	err := r.db.Pool().QueryRow(ctx, query, accountID).Scan(
		&c.AccountID,
		&c.EncryptedAccessToken,
		&c.EncryptedRefreshToken,
		&c.TokenExpiry,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no credentials for %s", ErrAccountNotFound, accountID)
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	return &c, nil
}

// SaveCredentials upserts the encrypted OAuth material for an account
func (r *AccountRepository) SaveCredentials(ctx context.Context, c *models.AccountCredentials) error {
	query := `
		INSERT INTO account_credentials (account_id, access_token_enc, refresh_token_enc, token_expiry, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			access_token_enc = EXCLUDED.access_token_enc,
			refresh_token_enc = EXCLUDED.refresh_token_enc,
			token_expiry = EXCLUDED.token_expiry,
			updated_at = NOW()
	`
	if _, err := r.db.Pool().Exec(ctx, query, c.AccountID, c.EncryptedAccessToken, c.EncryptedRefreshToken, c.TokenExpiry); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}
