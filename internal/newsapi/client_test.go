package newsapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = `{
  "status": "ok",
  "totalResults": 2,
  "articles": [
    {
      "source": {"id": "the-verge", "name": "The Verge"},
      "author": "Ann Writer",
      "title": "Phones get bigger",
      "description": "Again.",
      "url": "https://www.theverge.com/2024/5/1/phones",
      "urlToImage": "https://cdn.example.com/p.jpg",
      "publishedAt": "2024-05-01T12:00:00Z",
      "content": "Phones are growing [+2041 chars]"
    },
    {
      "source": null,
      "author": null,
      "title": null,
      "description": null,
      "url": "https://example.com/b",
      "urlToImage": null,
      "publishedAt": null,
      "content": null
    }
  ]
}`

func TestFetchArticles(t *testing.T) {
	t.Parallel()

	gotUA := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA <- r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	articles, err := c.FetchArticles(context.Background())
	require.NoError(t, err)

	assert.Equal(t, UserAgent, <-gotUA)
	require.Len(t, articles, 2)

	first := articles[0]
	assert.Equal(t, "Phones get bigger", first.Title)
	require.NotNil(t, first.Source)
	require.NotNil(t, first.Source.ID)
	assert.Equal(t, "the-verge", *first.Source.ID)
	assert.Equal(t, "2024-05-01T12:00:00Z", first.PublishedAt)

	second := articles[1]
	assert.Empty(t, second.Title)
	assert.Nil(t, second.Source)
	assert.Empty(t, second.PublishedAt)
	assert.Equal(t, "https://example.com/b", second.URL)
}

func TestFetchArticlesKeepsItemsWithBadDates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"articles": [
			{"title": "blank date", "url": "https://example.com/1", "publishedAt": ""},
			{"title": "odd date", "url": "https://example.com/2", "publishedAt": "May 1st, 2024"},
			{"title": "good date", "url": "https://example.com/3", "publishedAt": "2024-05-01T12:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	articles, err := c.FetchArticles(context.Background())
	require.NoError(t, err)
	require.Len(t, articles, 3)
	assert.Empty(t, articles[0].PublishedAt)
	assert.Equal(t, "May 1st, 2024", articles[1].PublishedAt)
	assert.Equal(t, "good date", articles[2].Title)
}

func TestFetchArticlesMissingKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	articles, err := c.FetchArticles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, articles)
}

func TestFetchArticlesErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad-json" {
			_, _ = w.Write([]byte(`{"articles": [`))
			return
		}
		http.Error(w, `{"status":"error","code":"apiKeyInvalid"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := New(srv.URL + "/v2/top-headlines")
	require.NoError(t, err)
	_, err = c.FetchArticles(context.Background())
	require.EqualError(t, err, "request failed with status code 401")

	c, err = New(srv.URL + "/bad-json")
	require.NoError(t, err)
	_, err = c.FetchArticles(context.Background())
	require.ErrorContains(t, err, "decode news api response")
}

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)
}
