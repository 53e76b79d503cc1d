// Package adapter wraps the Google Business Profile APIs behind a paginated source interface
// and maps their payloads onto the sync models.
package adapter

import (
	"context"
	"errors"
	"fmt"
)

// SourceAdapter fetches one page of an upstream collection per call.
// Every call carries the bearer token of the account being synced.
type SourceAdapter interface {
	FetchLocations(ctx context.Context, token, googleAccountID, pageToken string) (*Page[RawLocation], error)
	FetchReviews(ctx context.Context, token, googleAccountID, googleLocationID, pageToken string) (*Page[RawReview], error)
	FetchQuestions(ctx context.Context, token, googleLocationID, pageToken string) (*Page[RawQuestion], error)
	FetchInsights(ctx context.Context, token, googleLocationID, pageToken string) (*Page[RawMetricSeries], error)
	FetchPosts(ctx context.Context, token, googleAccountID, googleLocationID, pageToken string) (*Page[RawPost], error)
	FetchMedia(ctx context.Context, token, googleAccountID, googleLocationID, pageToken string) (*Page[RawMediaItem], error)
}

// Page is one page of an upstream collection. An empty NextPageToken ends pagination.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}

var (
	// ErrPaginationLoop indicates the upstream handed back a token it already returned
	ErrPaginationLoop = errors.New("pagination token repeated")

	// ErrTooManyPages indicates the page ceiling was reached before the last page
	ErrTooManyPages = errors.New("pagination exceeded page ceiling")

	// ErrInvalidPayload indicates an upstream body that could not be decoded
	ErrInvalidPayload = errors.New("invalid upstream payload")
)

// AdapterError wraps errors with the operation and resource that failed
type AdapterError struct {
	Op       string // e.g. "FetchReviews"
	Resource string // upstream resource name, e.g. "accounts/1/locations/2"
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("gmb adapter error [%s %s]: %v", e.Op, e.Resource, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(op, resource string, err error) *AdapterError {
	return &AdapterError{Op: op, Resource: resource, Err: err}
}
