package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/reportflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerperDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "key", r.Header.Get("X-API-KEY"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ev market", body["q"])
		fmt.Fprint(w, `{"organic":[{"title":"A","link":"https://a","snippet":"sa"},{"title":"B","link":"https://b","snippet":"sb"},{"title":"C","link":"https://c","snippet":"sc"}]}`)
	}))
	defer srv.Close()

	s := NewSerper("key", NewHTTPClient(time.Second, 0, time.Millisecond))
	s.Endpoint = srv.URL
	got, err := s.Discover(context.Background(), "ev market", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Result{Title: "A", URL: "https://a", Snippet: "sa", Source: "serper"}, got[0])
}

func TestBraveDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "ev market", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("count"))
		fmt.Fprint(w, `{"web":{"results":[{"title":"A","url":"https://a","description":"da"}]}}`)
	}))
	defer srv.Close()

	b := NewBrave("token", NewHTTPClient(time.Second, 0, time.Millisecond))
	b.Endpoint = srv.URL
	got, err := b.Discover(context.Background(), "ev market", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "da", got[0].Snippet)
	assert.Equal(t, "brave", got[0].Source)
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "x", body["q"])
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	var out struct{ OK bool }
	c := NewHTTPClient(time.Second, 2, time.Millisecond)
	require.NoError(t, c.DoJSON(context.Background(), "POST", srv.URL, nil, map[string]any{"q": "x"}, &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewHTTPClient(time.Second, 3, time.Millisecond).DoJSON(context.Background(), "GET", srv.URL, nil, nil, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, int32(1), calls.Load())
}

type stubBackend struct {
	results []Result
	err     error
}

func (s stubBackend) Discover(ctx context.Context, q string, k int) ([]Result, error) {
	return s.results, s.err
}

type stubFetcher map[string]string

func (s stubFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	text, ok := s[url]
	if !ok {
		return Page{}, errors.New("unreachable")
	}
	return Page{URL: url, Text: text}, nil
}

func TestProviderDegradesOnFailure(t *testing.T) {
	p := NewProvider(stubBackend{err: errors.New("quota exceeded")})
	assert.Empty(t, p.Search(context.Background(), "q", 5))

	var nilProvider *Provider
	assert.Empty(t, nilProvider.Search(context.Background(), "q", 5))
	assert.Empty(t, NewProvider(nil).Search(context.Background(), "q", 5))
}

func TestProviderDeduplicatesTruncatesAndFetches(t *testing.T) {
	backend := stubBackend{results: []Result{
		{Title: "A", URL: "https://a", Snippet: "sa"},
		{Title: "A again", URL: "https://a", Snippet: "dup"},
		{Title: "B", URL: "https://b", Snippet: "sb"},
		{Title: "C", URL: "https://c", Snippet: "sc"},
	}}
	p := NewProvider(backend, WithFetcher(stubFetcher{"https://a": "full text of a"}, 2))
	got := p.Search(context.Background(), "q", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "full text of a", got[0].Text())
	assert.Equal(t, "sb", got[1].Text())
}

func TestProviderCleansHighlightedSnippets(t *testing.T) {
	backend := stubBackend{results: []Result{
		{Title: "<b>EV</b> outlook", URL: "https://example.com/ev?utm_source=x", Snippet: "Sales <strong>rose</strong> &amp; prices fell"},
		{Title: "EV outlook (mirror)", URL: "https://EXAMPLE.com/ev#top", Snippet: "dup"},
	}}
	got := NewProvider(backend).Search(context.Background(), "ev", 5)
	require.Len(t, got, 1)
	assert.Equal(t, "EV outlook", got[0].Title)
	assert.Equal(t, "Sales rose & prices fell", got[0].Snippet)
}

func TestNewFromConfig(t *testing.T) {
	p, err := NewFromConfig(config.SearchConfig{Provider: "none"}, nil)
	require.NoError(t, err)
	assert.Empty(t, p.Search(context.Background(), "q", 3))

	p, err = NewFromConfig(config.SearchConfig{Provider: "serper", SerperAPIKey: "k", FetchPages: 1, Fetcher: "http"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Serper{}, p.backend)
	assert.IsType(t, &HTTPFetcher{}, p.fetcher)

	_, err = NewFromConfig(config.SearchConfig{Provider: "bing"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

const articleHTML = `<!DOCTYPE html><html><head><title>EV Market Outlook</title></head><body>
<nav>Home | About</nav>
<article><h1>EV Market Outlook</h1>
<p>Electric vehicle sales grew by thirty percent last year as battery prices continued to fall across every major market.</p>
<p>Analysts expect charging infrastructure investment to double over the next three years, driven by public funding and private capital.</p>
<p>Manufacturers are shifting production lines toward compact models to reach buyers who were priced out of earlier generations.</p>
</article><footer>Copyright</footer></body></html>`

func TestHTTPFetcherExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	f, err := NewFetcher(HTTPFetcherType, time.Second, 0)
	require.NoError(t, err)
	page, err := f.Fetch(context.Background(), srv.URL+"/ev")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.Status)
	assert.NotEmpty(t, page.HTMLHash)
	assert.Contains(t, page.Text, "Electric vehicle sales grew")

	short, err := NewFetcher(HTTPFetcherType, time.Second, 20)
	require.NoError(t, err)
	page, err = short.Fetch(context.Background(), srv.URL+"/ev")
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(page.Text)), 20)
}

func TestFetcherRejectsBadInput(t *testing.T) {
	f, err := NewFetcher("", 0, 0)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), "not a url")
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = NewFetcher("curl", 0, 0)
	assert.Error(t, err)
}
