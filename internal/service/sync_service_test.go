package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmb-sync/internal/adapter"
	"github.com/gmb-sync/internal/adapter/adaptertest"
	"github.com/gmb-sync/internal/config"
	"github.com/gmb-sync/internal/errors"
	"github.com/gmb-sync/internal/metrics"
	"github.com/gmb-sync/internal/models"
	"github.com/gmb-sync/internal/progress"
	"github.com/gmb-sync/internal/storage"
)

var (
	successWithQuestions = []string{
		"init:running",
		"locations_fetch:completed",
		"reviews_fetch:completed",
		"questions_fetch:completed",
		"transaction:running",
		"transaction:completed",
		"cache_refresh:running",
		"cache_refresh:completed",
		"complete:completed",
	}
	commitFailure = []string{
		"init:running",
		"locations_fetch:completed",
		"reviews_fetch:completed",
		"transaction:running",
		"transaction:error",
		"complete:error",
	}
)

type memAccounts map[string]*models.Account

func (m memAccounts) GetByID(_ context.Context, id string) (*models.Account, error) {
	if a, ok := m[id]; ok {
		return a, nil
	}
	return nil, storage.ErrAccountNotFound
}

type memCommitter struct {
	mu       sync.Mutex
	payloads []*models.SyncPayload
	err      error
}

func (c *memCommitter) CommitSync(_ context.Context, p *models.SyncPayload) (*models.CommitResult, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, p)
	return &models.CommitResult{
		LocationsSynced: len(p.Locations),
		ReviewsSynced:   len(p.Reviews),
		QuestionsSynced: len(p.Questions),
		Attempts:        1,
	}, nil
}

type memCache struct {
	mu        sync.Mutex
	refreshes []string
	err       error
}

func (c *memCache) RefreshBucket(_ context.Context, bucket, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes = append(c.refreshes, bucket+":"+userID)
	return c.err
}

func (c *memCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.refreshes)
}

type memAudit struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
}

func (a *memAudit) LogAction(_ context.Context, e *models.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

type memResults struct {
	mu   sync.Mutex
	rows []*storage.SyncResultRow
}

func (r *memResults) InsertSyncResult(_ context.Context, row *storage.SyncResultRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
	return nil
}

type staticTokens string

func (s staticTokens) GetValidAccessToken(context.Context, string) (string, error) {
	if s == "" {
		return "", errors.NewTokenError("acc", stderrors.New("revoked"))
	}
	return string(s), nil
}

type fixture struct {
	svc       *SyncService
	source    *adaptertest.Source
	committer *memCommitter
	cache     *memCache
	audit     *memAudit
	results   *memResults
	recorder  *progress.Recorder
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T, tokens staticTokens) *fixture {
	t.Helper()
	f := &fixture{
		source:    adaptertest.NewSource(),
		committer: &memCommitter{},
		cache:     &memCache{},
		audit:     &memAudit{},
		results:   &memResults{},
		recorder:  &progress.Recorder{},
		metrics:   metrics.NewMetrics(prometheus.NewRegistry()),
	}

	accounts := memAccounts{}
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("acc-%d", i)
		gid := fmt.Sprintf("g%d", i)
		accounts[id] = &models.Account{ID: id, UserID: fmt.Sprintf("user-%d", i), GoogleAccountID: gid, IsActive: true}

		loc := fmt.Sprintf("%d00", i)
		f.source.Locations[gid] = []adapter.RawLocation{{Name: "locations/" + loc, Title: "Store " + loc}}
		f.source.Reviews[loc] = []adapter.RawReview{
			{ReviewID: loc + "-r1", StarRating: "FIVE"},
			{ReviewID: loc + "-r2", StarRating: "TWO", Reply: &adapter.RawReviewReply{Comment: "sorry"}},
		}
		f.source.Questions[loc] = []adapter.RawQuestion{{Name: "locations/" + loc + "/questions/q1", Text: "Open late?"}}
	}
	accounts["acc-off"] = &models.Account{ID: "acc-off", UserID: "user-off", IsActive: false}

	svc, err := NewSyncService(&SyncServiceConfig{
		Source:    f.source,
		Tokens:    tokens,
		Accounts:  accounts,
		Committer: f.committer,
		Cache:     f.cache,
		Audit:     f.audit,
		Results:   f.results,
		Reporter:  f.recorder,
		Metrics:   f.metrics,
		Sync:      config.SyncConfig{DashboardBucket: "dashboard_overview"},
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestNewSyncService_Validation(t *testing.T) {
	_, err := NewSyncService(nil)
	assert.Error(t, err)
	_, err = NewSyncService(&SyncServiceConfig{})
	assert.Error(t, err)
}

func TestPerformTransactionalSync_StageOrder(t *testing.T) {
	f := newFixture(t, "tok")

	res, err := f.svc.PerformTransactionalSync(context.Background(), "acc-1", true)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.NotEmpty(t, res.SyncID)
	assert.Equal(t, 1, res.LocationsSynced)
	assert.Equal(t, 2, res.ReviewsSynced)
	assert.Equal(t, 1, res.QuestionsSynced)
	assert.Equal(t, successWithQuestions, f.recorder.Keys(res.SyncID))
	assert.Equal(t, []string{"dashboard_overview:user-1"}, f.cache.refreshes)

	for _, e := range f.recorder.Events() {
		assert.Equal(t, "user-1", e.UserID)
		assert.Equal(t, "acc-1", e.AccountID)
	}
}

func TestPerformTransactionalSync_SkipsQuestionsStage(t *testing.T) {
	f := newFixture(t, "tok")

	res, err := f.svc.PerformTransactionalSync(context.Background(), "acc-1", false)
	require.NoError(t, err)

	assert.NotContains(t, f.recorder.Keys(res.SyncID), "questions_fetch:completed")
	assert.Zero(t, f.source.Calls("FetchQuestions"))
	assert.Zero(t, res.QuestionsSynced)
}

func TestPerformTransactionalSync_PayloadCarriesReviewAggregates(t *testing.T) {
	f := newFixture(t, "tok")

	_, err := f.svc.PerformTransactionalSync(context.Background(), "acc-1", true)
	require.NoError(t, err)

	require.Len(t, f.committer.payloads, 1)
	p := f.committer.payloads[0]
	require.Len(t, p.Locations, 1)
	assert.Equal(t, 3.5, p.Locations[0].Rating)
	assert.Equal(t, 2, p.Locations[0].ReviewCount)
	for _, r := range p.Reviews {
		assert.Equal(t, "100", r.GoogleLocationID)
		assert.Empty(t, r.LocationID)
	}
	assert.Equal(t, "100", p.Questions[0].GoogleLocationID)
}

func TestPerformTransactionalSync_CommitFailure(t *testing.T) {
	f := newFixture(t, "tok")
	f.committer.err = stderrors.New("deadlock detected")

	res, err := f.svc.PerformTransactionalSync(context.Background(), "acc-1", false)

	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "deadlock detected")
	assert.Equal(t, commitFailure, f.recorder.Keys(""))
	assert.Zero(t, f.cache.count())

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, false, f.audit.entries[0].Details["success"])
	require.Len(t, f.results.rows, 1)
	assert.False(t, f.results.rows[0].Success)
	assert.Zero(t, f.results.rows[0].ReviewsSynced)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SyncRunsTotal.WithLabelValues("failed")))
}

func TestPerformTransactionalSync_AuditAndMetricsOnSuccess(t *testing.T) {
	f := newFixture(t, "tok")

	res, err := f.svc.PerformTransactionalSync(context.Background(), "acc-2", true)
	require.NoError(t, err)

	require.Len(t, f.audit.entries, 1)
	entry := f.audit.entries[0]
	assert.Equal(t, "transactional_sync", entry.Action)
	assert.Equal(t, "acc-2", entry.ResourceID)
	assert.Equal(t, res.SyncID, entry.Details["syncId"])

	require.Len(t, f.results.rows, 1)
	assert.True(t, f.results.rows[0].Success)
	assert.Equal(t, 2, f.results.rows[0].ReviewsSynced)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SyncRunsTotal.WithLabelValues("completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SyncItemsTotal.WithLabelValues("reviews")))
}

func TestPerformTransactionalSync_Pagination(t *testing.T) {
	f := newFixture(t, "tok")
	f.source.PageSize = 1
	f.source.Locations["g1"] = []adapter.RawLocation{{Name: "locations/100"}, {Name: "locations/101"}}

	res, err := f.svc.PerformTransactionalSync(context.Background(), "acc-1", false)
	require.NoError(t, err)

	assert.Equal(t, 2, f.source.Calls("FetchLocations"))
	assert.Equal(t, 2, res.LocationsSynced)
}

func TestPerformTransactionalSync_FetchFailure(t *testing.T) {
	f := newFixture(t, "tok")
	f.source.Errors["FetchReviews"] = errors.NewProviderError("gmb", stderrors.New("502"))

	_, err := f.svc.PerformTransactionalSync(context.Background(), "acc-1", true)

	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, []string{
		"init:running",
		"locations_fetch:completed",
		"reviews_fetch:error",
		"complete:error",
	}, f.recorder.Keys(""))
	assert.Empty(t, f.committer.payloads)
	assert.Zero(t, f.cache.count())
	assert.Len(t, f.audit.entries, 1)
}

func TestPerformTransactionalSync_CacheFailureKeepsCommit(t *testing.T) {
	f := newFixture(t, "tok")
	f.cache.err = stderrors.New("redis down")

	res, err := f.svc.PerformTransactionalSync(context.Background(), "acc-1", false)
	require.NoError(t, err)

	keys := f.recorder.Keys(res.SyncID)
	assert.Contains(t, keys, "cache_refresh:error")
	assert.Equal(t, "complete:completed", keys[len(keys)-1])
	assert.Equal(t, 1, f.cache.count())

	for _, e := range f.recorder.Events() {
		if e.Key() == "cache_refresh:error" {
			assert.Contains(t, e.Error, "CACHE_ERROR")
			assert.Contains(t, e.Error, "redis down")
		}
	}
}

func TestPerformTransactionalSync_RejectedAccounts(t *testing.T) {
	f := newFixture(t, "tok")

	_, err := f.svc.PerformTransactionalSync(context.Background(), "missing", false)
	assert.Equal(t, "NOT_FOUND", errors.Categorize(err).Code)
	assert.Equal(t, []string{"init:running", "init:error", "complete:error"}, f.recorder.Keys(""))

	f.recorder = &progress.Recorder{}
	f.svc.reporter = f.recorder
	_, err = f.svc.PerformTransactionalSync(context.Background(), "acc-off", false)
	assert.True(t, errors.IsPrecondition(err))
	assert.Equal(t, []string{"init:running", "init:error", "complete:error"}, f.recorder.Keys(""))
	assert.Zero(t, f.source.Calls("FetchLocations"))
	assert.Zero(t, f.cache.count())
}

func TestPerformTransactionalSync_TokenFailure(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.svc.PerformTransactionalSync(context.Background(), "acc-1", false)

	assert.Equal(t, "TOKEN_UNAVAILABLE", errors.Categorize(err).Code)
	assert.Equal(t, []string{"init:running", "init:error", "complete:error"}, f.recorder.Keys(""))
}

func TestPerformTransactionalSync_ConcurrentRunsStayOrdered(t *testing.T) {
	f := newFixture(t, "tok")

	accounts := []string{"acc-1", "acc-2", "acc-3", "acc-1", "acc-2", "acc-3"}
	ids := make([]string, len(accounts))

	var wg sync.WaitGroup
	for i, acc := range accounts {
		wg.Add(1)
		go func(i int, acc string) {
			defer wg.Done()
			res, err := f.svc.PerformTransactionalSync(context.Background(), acc, true)
			if assert.NoError(t, err) {
				ids[i] = res.SyncID
			}
		}(i, acc)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "sync ids must be unique")
		seen[id] = true

		assert.Equal(t, successWithQuestions, f.recorder.Keys(id))
		for _, e := range f.recorder.Events() {
			if e.SyncID == id {
				assert.Equal(t, accounts[i], e.AccountID)
			}
		}
	}
	assert.Equal(t, len(accounts), f.cache.count())
}
