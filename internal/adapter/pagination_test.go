package adapter

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedSource serves fixed pages keyed by the token that requests them
type pagedSource[T any] struct {
	pages map[string]*Page[T]
	calls []string
	err   error
}

func (s *pagedSource[T]) fetch(ctx context.Context, token string) (*Page[T], error) {
	s.calls = append(s.calls, token)
	if s.err != nil {
		return nil, s.err
	}
	return s.pages[token], nil
}

func TestCollect_FollowsTokens(t *testing.T) {
	src := &pagedSource[int]{pages: map[string]*Page[int]{
		"":   {Items: []int{1, 2}, NextPageToken: "p2"},
		"p2": {Items: []int{3}, NextPageToken: "p3"},
		"p3": {Items: nil},
	}}

	items, err := Collect(context.Background(), src.fetch, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, items)
	assert.Equal(t, []string{"", "p2", "p3"}, src.calls)
}

func TestCollect_RepeatedTokenStops(t *testing.T) {
	src := &pagedSource[int]{pages: map[string]*Page[int]{
		"":  {Items: []int{1}, NextPageToken: "a"},
		"a": {Items: []int{2}, NextPageToken: "a"},
	}}

	items, err := Collect(context.Background(), src.fetch, 0)
	assert.ErrorIs(t, err, ErrPaginationLoop)
	assert.Equal(t, []int{1, 2}, items)
	assert.Len(t, src.calls, 2)
}

func TestCollect_PageCeiling(t *testing.T) {
	n := 0
	fetch := func(ctx context.Context, token string) (*Page[int], error) {
		n++
		return &Page[int]{Items: []int{n}, NextPageToken: "t" + strconv.Itoa(n)}, nil
	}

	_, err := Collect(context.Background(), fetch, 3)
	assert.ErrorIs(t, err, ErrTooManyPages)
	assert.Equal(t, 3, n)
}

func TestCollect_PropagatesFetchError(t *testing.T) {
	boom := errors.New("boom")
	src := &pagedSource[int]{err: boom}

	_, err := Collect(context.Background(), src.fetch, 0)
	assert.ErrorIs(t, err, boom)
}

func TestCollect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &pagedSource[int]{pages: map[string]*Page[int]{"": {Items: []int{1}}}}

	_, err := Collect(ctx, src.fetch, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, src.calls)
}
