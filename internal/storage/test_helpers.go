package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gmb-sync/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func testPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:           envOr("TEST_POSTGRES_HOST", "localhost"),
		Port:           envOr("TEST_POSTGRES_PORT", "5432"),
		Database:       envOr("TEST_POSTGRES_DB", "gmb_sync_test"),
		User:           envOr("TEST_POSTGRES_USER", "gmb"),
		Password:       envOr("TEST_POSTGRES_PASSWORD", "gmb_dev_password"),
		MaxConnections: 10,
	}
}

// testPostgres connects to a migrated test database or skips the test
func testPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := RunMigrations(cfg.URL(), "../../migrations/postgres"); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	return db
}

// seedAccount inserts an account row and returns its id
func seedAccount(t *testing.T, db *PostgresDB, active bool) string {
	t.Helper()
	var id string
	err := db.Pool().QueryRow(testContext(t), `
		INSERT INTO accounts (user_id, google_account_id, account_name, is_active)
		VALUES ('user-test', 'g-' || gen_random_uuid()::text, 'Test Account', $1)
		RETURNING id
	`, active).Scan(&id)
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Pool().Exec(context.Background(), `DELETE FROM accounts WHERE id = $1`, id)
	})
	return id
}
