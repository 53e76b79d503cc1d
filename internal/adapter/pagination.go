package adapter

import (
	"context"
	"fmt"
)

// DefaultMaxPages bounds every collection walk
const DefaultMaxPages = 500

// PageFunc fetches the page identified by pageToken ("" for the first page)
type PageFunc[T any] func(ctx context.Context, pageToken string) (*Page[T], error)

// Collect follows continuation tokens until a page returns none and merges every page.
// A repeated token or more than maxPages pages ends the walk with an error.
func Collect[T any](ctx context.Context, fetch PageFunc[T], maxPages int) ([]T, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var (
		items []T
		token string
		seen  = make(map[string]struct{})
	)

	for page := 1; ; page++ {
		if page > maxPages {
			return items, fmt.Errorf("%w (%d)", ErrTooManyPages, maxPages)
		}
		if err := ctx.Err(); err != nil {
			return items, err
		}

		p, err := fetch(ctx, token)
		if err != nil {
			return items, err
		}
		if p == nil {
			return items, nil
		}
		items = append(items, p.Items...)

		if p.NextPageToken == "" {
			return items, nil
		}
		if _, dup := seen[p.NextPageToken]; dup {
			return items, fmt.Errorf("%w: %q", ErrPaginationLoop, p.NextPageToken)
		}
		seen[p.NextPageToken] = struct{}{}
		token = p.NextPageToken
	}
}

// CollectLocations fetches every location of an account
func CollectLocations(ctx context.Context, src SourceAdapter, token, googleAccountID string) ([]RawLocation, error) {
	return Collect(ctx, func(ctx context.Context, pageToken string) (*Page[RawLocation], error) {
		return src.FetchLocations(ctx, token, googleAccountID, pageToken)
	}, DefaultMaxPages)
}

// CollectReviews fetches every review of a location
func CollectReviews(ctx context.Context, src SourceAdapter, token, googleAccountID, googleLocationID string) ([]RawReview, error) {
	return Collect(ctx, func(ctx context.Context, pageToken string) (*Page[RawReview], error) {
		return src.FetchReviews(ctx, token, googleAccountID, googleLocationID, pageToken)
	}, DefaultMaxPages)
}

// CollectQuestions fetches every question of a location
func CollectQuestions(ctx context.Context, src SourceAdapter, token, googleLocationID string) ([]RawQuestion, error) {
	return Collect(ctx, func(ctx context.Context, pageToken string) (*Page[RawQuestion], error) {
		return src.FetchQuestions(ctx, token, googleLocationID, pageToken)
	}, DefaultMaxPages)
}

// CollectInsights fetches every daily metric series of a location
func CollectInsights(ctx context.Context, src SourceAdapter, token, googleLocationID string) ([]RawMetricSeries, error) {
	return Collect(ctx, func(ctx context.Context, pageToken string) (*Page[RawMetricSeries], error) {
		return src.FetchInsights(ctx, token, googleLocationID, pageToken)
	}, DefaultMaxPages)
}

// CollectPosts fetches every local post of a location
func CollectPosts(ctx context.Context, src SourceAdapter, token, googleAccountID, googleLocationID string) ([]RawPost, error) {
	return Collect(ctx, func(ctx context.Context, pageToken string) (*Page[RawPost], error) {
		return src.FetchPosts(ctx, token, googleAccountID, googleLocationID, pageToken)
	}, DefaultMaxPages)
}

// CollectMedia fetches every media item of a location
func CollectMedia(ctx context.Context, src SourceAdapter, token, googleAccountID, googleLocationID string) ([]RawMediaItem, error) {
	return Collect(ctx, func(ctx context.Context, pageToken string) (*Page[RawMediaItem], error) {
		return src.FetchMedia(ctx, token, googleAccountID, googleLocationID, pageToken)
	}, DefaultMaxPages)
}
