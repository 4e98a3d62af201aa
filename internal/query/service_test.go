package query

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-refresher/internal/article"
	"github.com/JakeFAU/news-refresher/internal/storage/memory"
)

// seed inserts n records published one hour apart, oldest first.
func seed(t *testing.T, n int) (*memory.ArticleStore, []article.Record) {
	t.Helper()
	store := memory.NewArticleStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]article.Record, 0, n)
	for i := 0; i < n; i++ {
		rec := article.Record{
			Title:       fmt.Sprintf("Story %d", i),
			Description: "about markets",
			Content:     "body",
			URL:         fmt.Sprintf("https://news.example.com/%d", i),
			PublishedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if i%2 == 0 {
			rec.Title = fmt.Sprintf("Election update %d", i)
		}
		require.NoError(t, store.Insert(context.Background(), &rec))
		out = append(out, rec)
	}
	return store, out
}

func titles(posts []article.Record) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.Title)
	}
	return out
}

func TestParamsFromQuery(t *testing.T) {
	t.Parallel()

	p := ParamsFromQuery(url.Values{
		"featured": {"true"},
		"_id":      {"abc"},
		"search":   {"election"},
		"page":     {"2"},
		"limit":    {"5x"},
	})
	assert.True(t, p.Featured)
	assert.False(t, p.Recent)
	assert.Equal(t, "abc", p.ID)
	assert.Equal(t, "election", p.Search)
	assert.Equal(t, 2, p.Page)
	assert.Equal(t, 5, p.Limit)
	assert.Equal(t, ModeFeatured, p.Mode())

	p = ParamsFromQuery(url.Values{"featured": {"yes"}, "page": {"abc"}})
	assert.False(t, p.Featured)
	assert.Zero(t, p.Page)
	assert.Equal(t, ModeAll, p.Mode())
}

func TestMode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		params Params
		want   Mode
	}{
		{Params{Recent: true, ID: "x"}, ModeRecent},
		{Params{ID: "x", Related: "y"}, ModeByID},
		{Params{Related: "y", Search: "z"}, ModeRelated},
		{Params{Search: "z"}, ModeSearch},
		{Params{}, ModeAll},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.params.Mode())
	}
}

func TestNewPagination(t *testing.T) {
	t.Parallel()

	p := NewPagination(0, 9, 20)
	assert.Equal(t, 3, p.TotalPages)
	assert.True(t, p.HasNextPage)
	assert.False(t, p.HasPrevPage)
	require.NotNil(t, p.NextPage)
	assert.Equal(t, 1, *p.NextPage)
	assert.Nil(t, p.PrevPage)

	p = NewPagination(2, 9, 20)
	assert.False(t, p.HasNextPage)
	assert.Nil(t, p.NextPage)
	require.NotNil(t, p.PrevPage)
	assert.Equal(t, 1, *p.PrevPage)

	p = NewPagination(-4, 0, 0)
	assert.Zero(t, p.CurrentPage)
	assert.Equal(t, DefaultLimit, p.Limit)
	assert.Zero(t, p.TotalPages)
	assert.False(t, p.HasNextPage)
	assert.False(t, p.HasPrevPage)
}

func TestList_DefaultPaginatesNewestFirst(t *testing.T) {
	t.Parallel()

	store, _ := seed(t, 12)
	svc := New(store, nil)

	page, err := svc.List(context.Background(), Params{})
	require.NoError(t, err)
	require.Len(t, page.Posts, 9)
	assert.Equal(t, "Story 11", page.Posts[0].Title)
	assert.EqualValues(t, 12, page.Pagination.TotalCount)
	assert.Equal(t, 2, page.Pagination.TotalPages)
	assert.True(t, page.Pagination.HasNextPage)

	page, err = svc.List(context.Background(), Params{Page: 1})
	require.NoError(t, err)
	require.Len(t, page.Posts, 3)
	assert.Equal(t, "Election update 2", page.Posts[0].Title)
	assert.False(t, page.Pagination.HasNextPage)
	assert.True(t, page.Pagination.HasPrevPage)
}

func TestList_FeaturedAndRecent(t *testing.T) {
	t.Parallel()

	store, _ := seed(t, 6)
	svc := New(store, nil)

	page, err := svc.List(context.Background(), Params{Featured: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Election update 0", "Story 1", "Election update 2"}, titles(page.Posts))
	assert.EqualValues(t, FeaturedSize, page.Pagination.TotalCount)

	page, err = svc.List(context.Background(), Params{Recent: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Story 5", "Election update 4", "Story 3", "Election update 2"}, titles(page.Posts))
	assert.EqualValues(t, RecentSize, page.Pagination.TotalCount)
}

func TestList_ByIDAndRelated(t *testing.T) {
	t.Parallel()

	store, recs := seed(t, 5)
	svc := New(store, nil)

	page, err := svc.List(context.Background(), Params{ID: recs[3].ID})
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, recs[3].URL, page.Posts[0].URL)
	assert.EqualValues(t, 1, page.Pagination.TotalCount)

	page, err = svc.List(context.Background(), Params{Related: recs[0].ID})
	require.NoError(t, err)
	require.Len(t, page.Posts, RelatedSize)
	for _, p := range page.Posts {
		assert.NotEqual(t, recs[0].ID, p.ID)
	}
}

func TestList_MalformedIDIsEmpty(t *testing.T) {
	t.Parallel()

	store, _ := seed(t, 3)
	svc := New(store, nil)

	page, err := svc.List(context.Background(), Params{ID: "not-an-id"})
	require.NoError(t, err)
	assert.Empty(t, page.Posts)
	assert.NotNil(t, page.Posts)
	assert.Zero(t, page.Pagination.TotalCount)

	page, err = svc.List(context.Background(), Params{Related: "not-an-id"})
	require.NoError(t, err)
	assert.Empty(t, page.Posts)
}

func TestList_Search(t *testing.T) {
	t.Parallel()

	store, _ := seed(t, 10)
	svc := New(store, nil)

	page, err := svc.List(context.Background(), Params{Search: "election", Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 5, page.Pagination.TotalCount)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	assert.Equal(t, []string{"Election update 8", "Election update 6"}, titles(page.Posts))
}

func TestList_DatastoreDown(t *testing.T) {
	t.Parallel()

	store, _ := seed(t, 2)
	store.SetAvailable(false)
	svc := New(store, nil)

	_, err := svc.List(context.Background(), Params{})
	require.ErrorIs(t, err, article.ErrDatastoreUnavailable)
	_, err = svc.List(context.Background(), Params{Featured: true})
	require.ErrorIs(t, err, article.ErrDatastoreUnavailable)
}

func TestList_HugePageIsEmptyNotWrapped(t *testing.T) {
	t.Parallel()

	store, _ := seed(t, 12)
	svc := New(store, nil)

	for _, raw := range []string{
		"page=9223372036854775807",
		"page=1025000000000000000&limit=9",
		"page=2&limit=9223372036854775807",
	} {
		values, err := url.ParseQuery(raw)
		require.NoError(t, err)
		page, err := svc.List(context.Background(), ParamsFromQuery(values))
		require.NoError(t, err, raw)
		assert.Empty(t, page.Posts, raw)
		assert.EqualValues(t, 12, page.Pagination.TotalCount, raw)
		assert.False(t, page.Pagination.HasNextPage, raw)
	}
}

func TestPageOffsetSaturates(t *testing.T) {
	t.Parallel()

	assert.EqualValues(t, 18, pageOffset(2, 9))
	assert.EqualValues(t, 0, pageOffset(-1, 9))
	assert.EqualValues(t, int64(math.MaxInt64), pageOffset(math.MaxInt, 9))
	assert.EqualValues(t, int64(math.MaxInt64), pageOffset(2, math.MaxInt))
	assert.Equal(t, 1, NewPagination(0, math.MaxInt, 12).TotalPages)
}
