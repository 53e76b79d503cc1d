package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gmb-sync/internal/models"
	"github.com/gmb-sync/internal/types"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantCategory ErrorCategory
		wantStatus   int
	}{
		{
			name:         "wrapped categorized error",
			err:          fmt.Errorf("outer: %w", NewDatabaseError("dequeue", nil)),
			wantCategory: CategoryDatabase,
			wantStatus:   http.StatusInternalServerError,
		},
		{
			name:         "missing metadata field",
			err:          &models.MissingFieldError{JobType: types.JobSyncReviews, Field: "googleLocationId"},
			wantCategory: CategoryPrecondition,
			wantStatus:   http.StatusUnprocessableEntity,
		},
		{
			name:         "unknown job type",
			err:          fmt.Errorf("dispatch: %w", &models.UnknownJobTypeError{JobType: "bogus"}),
			wantCategory: CategoryPrecondition,
			wantStatus:   http.StatusUnprocessableEntity,
		},
		{
			name:         "service error not found",
			err:          &types.ServiceError{Code: "JOB_NOT_FOUND", Message: "job not found"},
			wantCategory: CategoryNotFound,
			wantStatus:   http.StatusNotFound,
		},
		{
			name:         "service error sync in progress",
			err:          &types.ServiceError{Code: "SYNC_IN_PROGRESS", Message: "busy"},
			wantCategory: CategoryConflict,
			wantStatus:   http.StatusConflict,
		},
		{
			name:         "plain error",
			err:          fmt.Errorf("boom"),
			wantCategory: CategorySystem,
			wantStatus:   http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Categorize(tt.err)
			assert.Equal(t, tt.wantCategory, got.Category)
			assert.Equal(t, tt.wantStatus, got.StatusCode)
			assert.Equal(t, tt.wantStatus, GetHTTPStatusCode(tt.err))
		})
	}

	assert.Nil(t, Categorize(nil))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"provider timeout", NewProviderTimeoutError("gmb"), true},
		{"provider rate limit", NewProviderRateLimitError("gmb"), true},
		{"provider rejected", NewProviderRejectedError("gmb", http.StatusNotFound, nil), false},
		{"database", NewDatabaseError("commit", nil), true},
		{"service unavailable", NewServiceUnavailableError("redis"), true},
		{"internal", NewInternalError("x", nil), false},
		{"precondition", NewPreconditionError("no location", nil), false},
		{"unknown job type", NewUnknownJobTypeError("bogus"), false},
		{"token", NewTokenError("acc-1", nil), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsPrecondition(t *testing.T) {
	assert.True(t, IsPrecondition(NewUnknownJobTypeError("x")))
	assert.True(t, IsPrecondition(fmt.Errorf("wrap: %w", &models.MissingFieldError{Field: "accountId"})))
	assert.False(t, IsPrecondition(NewProviderTimeoutError("gmb")))
	assert.False(t, IsPrecondition(nil))
}

func TestUserAndSystemErrors(t *testing.T) {
	assert.True(t, IsUserError(NewInvalidParameterError("accountId", "required")))
	assert.False(t, IsSystemError(NewInvalidParameterError("accountId", "required")))
	assert.True(t, IsSystemError(NewInternalError("x", nil)))
	assert.True(t, IsUserError(NewTokenError("acc-1", nil)))
}

func TestCategorizedError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := NewProviderError("gmb", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, "PROVIDER_ERROR", err.ToServiceError().Code)
}
