package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmb-sync/internal/types"
)

func TestJobMetadata_Payload(t *testing.T) {
	t.Run("discovery needs only account", func(t *testing.T) {
		p, err := JobMetadata{JobType: types.JobDiscoverLocations, AccountID: "acc-1", UserID: "u-1"}.Payload()
		require.NoError(t, err)

		d, ok := p.(DiscoveryJob)
		require.True(t, ok)
		assert.Equal(t, "acc-1", d.AccountID)
		assert.Equal(t, types.JobDiscoverLocations, p.Type())
	})

	t.Run("location scoped carries lineage", func(t *testing.T) {
		p, err := JobMetadata{
			JobType:          types.JobSyncReviews,
			AccountID:        "acc-1",
			UserID:           "u-1",
			LocationID:       "loc-db-1",
			GoogleLocationID: "987",
			GoogleAccountID:  "123",
			ParentJobID:      "parent-1",
		}.Payload()
		require.NoError(t, err)

		l, ok := p.(LocationScopedJob)
		require.True(t, ok)
		assert.Equal(t, "987", l.GoogleLocationID)
		assert.Equal(t, "parent-1", l.ParentJobID)
	})

	t.Run("missing google location id", func(t *testing.T) {
		_, err := JobMetadata{JobType: types.JobSyncInsights, AccountID: "acc-1", GoogleAccountID: "123"}.Payload()

		var mf *MissingFieldError
		require.True(t, errors.As(err, &mf))
		assert.Equal(t, "googleLocationId", mf.Field)
	})

	t.Run("missing google account id", func(t *testing.T) {
		_, err := JobMetadata{JobType: types.JobSyncPosts, AccountID: "acc-1", GoogleLocationID: "987"}.Payload()

		var mf *MissingFieldError
		require.True(t, errors.As(err, &mf))
		assert.Equal(t, "googleAccountId", mf.Field)
	})

	t.Run("unknown job type", func(t *testing.T) {
		_, err := JobMetadata{JobType: "sync_everything", AccountID: "acc-1"}.Payload()

		var ut *UnknownJobTypeError
		require.True(t, errors.As(err, &ut))
		assert.Contains(t, err.Error(), "sync_everything")
	})
}

func TestDecodeJobMetadata(t *testing.T) {
	raw := []byte(`{"jobType":"sync_media","accountId":"acc-1","googleLocationId":"1","googleAccountId":"2"}`)

	m, err := DecodeJobMetadata(raw, types.JobSyncReviews)
	require.NoError(t, err)
	assert.Equal(t, types.JobSyncReviews, m.JobType, "column value wins")
	assert.Equal(t, "acc-1", m.AccountID)

	_, err = DecodeJobMetadata([]byte(`{not json`), types.JobSyncReviews)
	assert.Error(t, err)

	m, err = DecodeJobMetadata(nil, types.JobDiscoverLocations)
	require.NoError(t, err)
	assert.Equal(t, types.JobDiscoverLocations, m.JobType)
}
