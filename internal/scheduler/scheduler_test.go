package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmb-sync/internal/config"
	"github.com/gmb-sync/internal/models"
	"github.com/gmb-sync/internal/types"
)

type staticAccounts struct {
	accounts []*models.Account
	err      error
}

func (s staticAccounts) ListActive(context.Context) ([]*models.Account, error) {
	return s.accounts, s.err
}

type memJobs struct {
	open     map[string]bool
	failFor  string
	enqueued []models.JobMetadata
	priority []int
}

func (m *memJobs) HasActiveJob(_ context.Context, accountID string, jobType types.JobType) (bool, error) {
	return m.open[accountID] && jobType == types.JobDiscoverLocations, nil
}

func (m *memJobs) Enqueue(_ context.Context, accountID, userID string, jobType types.JobType, priority int, md models.JobMetadata) (string, error) {
	if accountID == m.failFor {
		return "", errors.New("insert failed")
	}
	m.enqueued = append(m.enqueued, md)
	m.priority = append(m.priority, priority)
	return fmt.Sprintf("job-%d", len(m.enqueued)), nil
}

func accounts(n int) []*models.Account {
	out := make([]*models.Account, n)
	for i := range out {
		out[i] = &models.Account{
			ID:              fmt.Sprintf("acc-%d", i+1),
			UserID:          fmt.Sprintf("user-%d", i+1),
			GoogleAccountID: fmt.Sprintf("g%d", i+1),
			IsActive:        true,
		}
	}
	return out
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	_, err := New(config.SchedulerConfig{DiscoveryCron: "every tuesday"}, staticAccounts{}, &memJobs{})
	assert.Error(t, err)

	_, err = New(config.SchedulerConfig{}, nil, &memJobs{})
	assert.Error(t, err)
}

func TestRunOnce_EnqueuesAndSkipsOpenJobs(t *testing.T) {
	jobs := &memJobs{open: map[string]bool{"acc-2": true}, failFor: "acc-3"}
	s, err := New(config.SchedulerConfig{DiscoveryPriority: types.PriorityLow}, staticAccounts{accounts: accounts(4)}, jobs)
	require.NoError(t, err)

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Enqueued)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"job-1", "job-2"}, summary.JobIDs)

	require.Len(t, jobs.enqueued, 2)
	md := jobs.enqueued[0]
	assert.Equal(t, types.JobDiscoverLocations, md.JobType)
	assert.Equal(t, "acc-1", md.AccountID)
	assert.Equal(t, "g1", md.GoogleAccountID)
	assert.Equal(t, []int{types.PriorityLow, types.PriorityLow}, jobs.priority)

	_, err = md.Payload()
	assert.NoError(t, err)
}

func TestRunOnce_ListFailure(t *testing.T) {
	s, err := New(config.SchedulerConfig{}, staticAccounts{err: errors.New("db down")}, &memJobs{})
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestNextRun(t *testing.T) {
	s, err := New(config.SchedulerConfig{DiscoveryCron: "CRON_TZ=UTC 30 2 * * *"}, staticAccounts{}, &memJobs{})
	require.NoError(t, err)

	from := time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)
	want := time.Date(2024, 3, 2, 2, 30, 0, 0, time.UTC)
	assert.True(t, want.Equal(s.NextRun(from)), "got %s", s.NextRun(from))
}

func TestStartStop(t *testing.T) {
	s, err := New(config.SchedulerConfig{}, staticAccounts{}, &memJobs{})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
}
