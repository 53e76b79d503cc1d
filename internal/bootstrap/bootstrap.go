// Package bootstrap wires the infrastructure shared by the server and worker binaries.
//
// Setup runs in phases:
//   - Phase 1: Logging from configuration
//   - Phase 2: Postgres, ClickHouse and Redis connections
//   - Phase 3: Repositories
//   - Phase 4: Upstream client, token provider and progress tracker
package bootstrap

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gmb-sync/internal/adapter"
	"github.com/gmb-sync/internal/auth"
	"github.com/gmb-sync/internal/circuitbreaker"
	"github.com/gmb-sync/internal/config"
	"github.com/gmb-sync/internal/errors"
	"github.com/gmb-sync/internal/logging"
	"github.com/gmb-sync/internal/metrics"
	"github.com/gmb-sync/internal/progress"
	"github.com/gmb-sync/internal/ratelimit"
	"github.com/gmb-sync/internal/storage"
)

// Infra holds every long-lived dependency a binary needs
type Infra struct {
	Config *config.Config
	Logger *logging.Logger

	Postgres   *storage.PostgresDB
	ClickHouse *storage.ClickHouseDB
	Redis      *storage.RedisCache

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Accounts  *storage.AccountRepository
	Locations *storage.LocationRepository
	Reviews   *storage.ReviewRepository
	Resources *storage.ResourceRepository
	Jobs      *storage.JobRepository
	Events    *storage.SyncEventRepository
	Audit     *storage.AuditRepository
	Committer *storage.SyncCommitter
	Cache     *storage.CacheService

	Quota    *ratelimit.QuotaTracker
	Breakers *circuitbreaker.Manager
	Source   *adapter.GMBClient
	Tokens   *auth.OAuthTokenProvider
	Tracker  *progress.Tracker
}

// InitLogging configures the global logger from cfg and returns it
func InitLogging(cfg *config.Config, service string) *logging.Logger {
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))

	logger := logging.GetGlobalLogger().WithField("service", service)
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")
	return logger
}

// Setup connects to every backing store and builds the shared components.
// On error, whatever was opened so far is closed.
func Setup(cfg *config.Config, service string) (_ *Infra, err error) {
	infra := &Infra{
		Config: cfg,
		Logger: InitLogging(cfg, service),
	}
	defer func() {
		if err != nil {
			infra.Close()
		}
	}()

	if err = infra.connect(); err != nil {
		return nil, err
	}

	infra.Registry = prometheus.NewRegistry()
	infra.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	infra.Metrics = metrics.NewMetrics(infra.Registry)

	infra.setupRepositories()

	if err = infra.setupUpstream(); err != nil {
		return nil, err
	}

	infra.Tracker = progress.NewTracker(infra.Events, progress.NewRedisBroadcaster(infra.Redis))

	return infra, nil
}

func (i *Infra) connect() error {
	var err error
	i.Logger.Info("Connecting to databases...")

	i.Postgres, err = storage.NewPostgresDB(&i.Config.Database.Postgres)
	if err != nil {
		return fmt.Errorf("connect to Postgres: %w", err)
	}

	i.ClickHouse, err = storage.NewClickHouseDB(&i.Config.Database.ClickHouse)
	if err != nil {
		return fmt.Errorf("connect to ClickHouse: %w", err)
	}

	i.Redis, err = storage.NewRedisCache(&i.Config.Database.Redis)
	if err != nil {
		return fmt.Errorf("connect to Redis: %w", err)
	}

	i.Logger.Info("Database connections established")
	return nil
}

func (i *Infra) setupRepositories() {
	i.Accounts = storage.NewAccountRepository(i.Postgres)
	i.Locations = storage.NewLocationRepository(i.Postgres)
	i.Reviews = storage.NewReviewRepository(i.Postgres)
	i.Resources = storage.NewResourceRepository(i.Postgres)
	i.Jobs = storage.NewJobRepository(i.Postgres, i.Config.Worker.MaxAttempts)
	i.Audit = storage.NewAuditRepository(i.Postgres)
	i.Committer = storage.NewSyncCommitter(i.Postgres)
	i.Events = storage.NewSyncEventRepository(i.ClickHouse)
	i.Cache = storage.NewCacheService(i.Redis)
}

func (i *Infra) setupUpstream() error {
	cfg := i.Config
	m := i.Metrics

	quota, err := ratelimit.NewQuotaTracker(&ratelimit.QuotaTrackerConfig{
		Redis:             i.Redis.Client(),
		RequestsPerMinute: cfg.Quota.RequestsPerMinute,
		ReservedPerMinute: cfg.Quota.ReservedPerMinute,
		MaxWait:           cfg.Quota.MaxWait,
		OnThrottle: func(p ratelimit.Priority, _ time.Duration) {
			m.ObserveThrottle(p.String())
		},
	})
	if err != nil {
		return fmt.Errorf("create quota tracker: %w", err)
	}
	i.Quota = quota

	i.Breakers = circuitbreaker.NewManager(func(name string) *circuitbreaker.Config {
		cb := circuitbreaker.DefaultConfig(name)
		cb.IsFailure = errors.IsRetryable
		cb.OnStateChange = func(name string, _, to circuitbreaker.State) {
			m.SetBreakerOpen(name, to == circuitbreaker.StateOpen)
		}
		return cb
	})

	i.Source = adapter.NewGMBClient(adapter.GMBClientConfig{
		BusinessInfoEndpoint: cfg.Google.BusinessInfoEndpoint,
		V4Endpoint:           cfg.Google.V4Endpoint,
		QandAEndpoint:        cfg.Google.QandAEndpoint,
		PerformanceEndpoint:  cfg.Google.PerformanceEndpoint,
		RequestsPerSecond:    cfg.Google.RequestsPerSecond,
		Burst:                cfg.Google.Burst,
		Timeout:              cfg.Google.Timeout,
		InsightsLookbackDays: cfg.Google.InsightsLookbackDays,
	},
		adapter.WithBudget(quota),
		adapter.WithBreakers(i.Breakers),
		adapter.WithObserver(m.ObserveUpstream),
	)

	cipher, err := auth.NewCipher(cfg.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("create credential cipher: %w", err)
	}
	i.Tokens = auth.NewOAuthTokenProvider(i.Accounts, cipher, cfg.Google)

	return nil
}

// Close releases every connection Setup opened
func (i *Infra) Close() {
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			i.Logger.WithError(err).Warn("Failed to close Redis")
		}
	}
	if i.ClickHouse != nil {
		if err := i.ClickHouse.Close(); err != nil {
			i.Logger.WithError(err).Warn("Failed to close ClickHouse")
		}
	}
	if i.Postgres != nil {
		i.Postgres.Close()
	}
}
