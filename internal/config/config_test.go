package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	// Set some test environment variables
	if err := os.Setenv("SERVER_PORT", "9090"); err != nil {
		t.Fatalf("Failed to set SERVER_PORT: %v", err)
	}
	if err := os.Setenv("POSTGRES_HOST", "testhost"); err != nil {
		t.Fatalf("Failed to set POSTGRES_HOST: %v", err)
	}
	if err := os.Setenv("CACHE_DASHBOARD_BUCKET", "overview_v2"); err != nil {
		t.Fatalf("Failed to set CACHE_DASHBOARD_BUCKET: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("SERVER_PORT")
		_ = os.Unsetenv("POSTGRES_HOST")
		_ = os.Unsetenv("CACHE_DASHBOARD_BUCKET")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}

	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}

	if cfg.Cache.DashboardBucket != "overview_v2" {
		t.Errorf("Cache.DashboardBucket = %v, want %v", cfg.Cache.DashboardBucket, "overview_v2")
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns integer when valid",
			key:          "TEST_INT",
			defaultValue: 100,
			envValue:     "200",
			want:         200,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_INT_INVALID",
			defaultValue: 100,
			envValue:     "invalid",
			want:         100,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOTSET",
			defaultValue: 100,
			envValue:     "",
			want:         100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns duration when valid",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_DURATION_INVALID",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOTSET",
			defaultValue: 10 * time.Second,
			envValue:     "",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue bool
		envValue     string
		want         bool
	}{
		{name: "parses true", key: "TEST_BOOL", defaultValue: false, envValue: "true", want: true},
		{name: "parses zero as false", key: "TEST_BOOL_ZERO", defaultValue: true, envValue: "0", want: false},
		{name: "returns default when invalid", key: "TEST_BOOL_INVALID", defaultValue: true, envValue: "maybe", want: true},
		{name: "returns default when not set", key: "TEST_BOOL_NOTSET", defaultValue: true, envValue: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			if got := getEnvAsBool(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnvAsBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsSlice(t *testing.T) {
	t.Setenv("TEST_ORIGINS", " app.example.com, ,*.example.org ")

	got := getEnvAsSlice("TEST_ORIGINS", nil)
	want := []string{"app.example.com", "*.example.org"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("getEnvAsSlice() = %v, want %v", got, want)
	}

	if got := getEnvAsSlice("TEST_ORIGINS_NOTSET", []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Errorf("getEnvAsSlice() default = %v", got)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Cache:  CacheConfig{DashboardBucket: "dashboard_overview"},
			Worker: WorkerConfig{Concurrency: 2, MaxAttempts: 3},
			Quota:  QuotaConfig{RequestsPerMinute: 100, ReservedPerMinute: 20},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "zero concurrency", mutate: func(c *Config) { c.Worker.Concurrency = 0 }},
		{name: "zero max attempts", mutate: func(c *Config) { c.Worker.MaxAttempts = 0 }},
		{name: "reserved exceeds total", mutate: func(c *Config) { c.Quota.ReservedPerMinute = 200 }},
		{name: "blank dashboard bucket", mutate: func(c *Config) { c.Cache.DashboardBucket = "  " }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() expected error")
			}
		})
	}
}

func TestSyncConfig(t *testing.T) {
	t.Setenv("SYNC_INCLUDE_QUESTIONS", "false")
	t.Setenv("SYNC_CHILD_PRIORITY", "3")

	cfg := &Config{
		Cache:  CacheConfig{DashboardBucket: "overview"},
		Worker: WorkerConfig{MaxAttempts: 4},
	}

	sc := cfg.SyncConfig()
	if sc.DashboardBucket != "overview" {
		t.Errorf("DashboardBucket = %v, want overview", sc.DashboardBucket)
	}
	if sc.IncludeQuestions {
		t.Errorf("IncludeQuestions = true, want false")
	}
	if sc.MaxAttempts != 4 || sc.ChildPriority != 3 {
		t.Errorf("SyncConfig() = %+v", sc)
	}
}

func TestPostgresURL(t *testing.T) {
	pg := PostgresConfig{Host: "db", Port: "5432", Database: "gmb", User: "u", Password: "p"}
	want := "postgres://u:p@db:5432/gmb?sslmode=disable"
	if got := pg.URL(); got != want {
		t.Errorf("URL() = %v, want %v", got, want)
	}
}
