// Package adaptertest provides an in-memory SourceAdapter for tests.
package adaptertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/gmb-sync/internal/adapter"
)

// Source serves canned pages keyed by upstream id. A collection with more than
// PageSize items is split into pages with tokens "p1", "p2", ...
type Source struct {
	mu sync.Mutex

	PageSize  int
	Locations map[string][]adapter.RawLocation     // by google account id
	Reviews   map[string][]adapter.RawReview       // by google location id
	Questions map[string][]adapter.RawQuestion     // by google location id
	Insights  map[string][]adapter.RawMetricSeries // by google location id
	Posts     map[string][]adapter.RawPost         // by google location id
	Media     map[string][]adapter.RawMediaItem    // by google location id

	// Errors makes the named operation fail, e.g. Errors["FetchReviews"]
	Errors map[string]error

	calls  map[string]int
	tokens []string
}

// NewSource creates an empty source
func NewSource() *Source {
	return &Source{
		Locations: map[string][]adapter.RawLocation{},
		Reviews:   map[string][]adapter.RawReview{},
		Questions: map[string][]adapter.RawQuestion{},
		Insights:  map[string][]adapter.RawMetricSeries{},
		Posts:     map[string][]adapter.RawPost{},
		Media:     map[string][]adapter.RawMediaItem{},
		Errors:    map[string]error{},
		calls:     map[string]int{},
	}
}

// Calls returns how many times op was called
func (s *Source) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Tokens returns the bearer tokens seen, in call order
func (s *Source) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

func (s *Source) record(op, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	s.tokens = append(s.tokens, token)
	return s.Errors[op]
}

func (s *Source) FetchLocations(ctx context.Context, token, googleAccountID, pageToken string) (*adapter.Page[adapter.RawLocation], error) {
	if err := s.record("FetchLocations", token); err != nil {
		return nil, err
	}
	return paginate(lockedGet(s, s.Locations, googleAccountID), s.PageSize, pageToken), nil
}

func (s *Source) FetchReviews(ctx context.Context, token, googleAccountID, googleLocationID, pageToken string) (*adapter.Page[adapter.RawReview], error) {
	if err := s.record("FetchReviews", token); err != nil {
		return nil, err
	}
	return paginate(lockedGet(s, s.Reviews, googleLocationID), s.PageSize, pageToken), nil
}

func (s *Source) FetchQuestions(ctx context.Context, token, googleLocationID, pageToken string) (*adapter.Page[adapter.RawQuestion], error) {
	if err := s.record("FetchQuestions", token); err != nil {
		return nil, err
	}
	return paginate(lockedGet(s, s.Questions, googleLocationID), s.PageSize, pageToken), nil
}

func (s *Source) FetchInsights(ctx context.Context, token, googleLocationID, pageToken string) (*adapter.Page[adapter.RawMetricSeries], error) {
	if err := s.record("FetchInsights", token); err != nil {
		return nil, err
	}
	return &adapter.Page[adapter.RawMetricSeries]{Items: lockedGet(s, s.Insights, googleLocationID)}, nil
}

func (s *Source) FetchPosts(ctx context.Context, token, googleAccountID, googleLocationID, pageToken string) (*adapter.Page[adapter.RawPost], error) {
	if err := s.record("FetchPosts", token); err != nil {
		return nil, err
	}
	return paginate(lockedGet(s, s.Posts, googleLocationID), s.PageSize, pageToken), nil
}

func (s *Source) FetchMedia(ctx context.Context, token, googleAccountID, googleLocationID, pageToken string) (*adapter.Page[adapter.RawMediaItem], error) {
	if err := s.record("FetchMedia", token); err != nil {
		return nil, err
	}
	return paginate(lockedGet(s, s.Media, googleLocationID), s.PageSize, pageToken), nil
}

func lockedGet[T any](s *Source, m map[string][]T, key string) []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return m[key]
}

func paginate[T any](items []T, size int, pageToken string) *adapter.Page[T] {
	if size <= 0 || len(items) <= size {
		return &adapter.Page[T]{Items: items}
	}

	page := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "p%d", &page)
	}
	start := page * size
	if start >= len(items) {
		return &adapter.Page[T]{}
	}
	end := min(start+size, len(items))

	out := &adapter.Page[T]{Items: items[start:end]}
	if end < len(items) {
		out.NextPageToken = fmt.Sprintf("p%d", page+1)
	}
	return out
}

var _ adapter.SourceAdapter = (*Source)(nil)
