package search

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/reportflow/config"
	"github.com/mohammad-safakhou/reportflow/internal/helpers"
)

// Result is one search hit, optionally enriched with fetched page text.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content,omitempty"`
	Source  string `json:"source"`
}

// Text returns the richest text available for the hit.
func (r Result) Text() string {
	if strings.TrimSpace(r.Content) != "" {
		return r.Content
	}
	return r.Snippet
}

// Backend queries one search API.
type Backend interface {
	Discover(ctx context.Context, q string, k int) ([]Result, error)
}

type ProviderName string

const (
	SerperProvider ProviderName = "serper"
	BraveProvider  ProviderName = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported search provider")

// Provider wraps a backend and never fails: errors degrade to fewer or no results.
type Provider struct {
	backend    Backend
	fetcher    Fetcher
	fetchPages int
	logger     *log.Logger
}

type ProviderOption func(*Provider)

// WithFetcher enriches the first n hits with page text.
func WithFetcher(f Fetcher, n int) ProviderOption {
	return func(p *Provider) { p.fetcher, p.fetchPages = f, n }
}

func WithLogger(l *log.Logger) ProviderOption { return func(p *Provider) { p.logger = l } }

func NewProvider(backend Backend, opts ...ProviderOption) *Provider {
	p := &Provider{backend: backend}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = log.New(io.Discard, "", 0)
	}
	return p
}

// NewFromConfig builds the configured provider. Provider "none" or "" yields
// a provider with no backend that always returns nothing.
func NewFromConfig(cfg config.SearchConfig, logger *log.Logger) (*Provider, error) {
	client := NewHTTPClient(cfg.Timeout, 1, 0)
	var backend Backend
	switch ProviderName(cfg.Provider) {
	case "", "none":
	case SerperProvider:
		backend = &Serper{APIKey: cfg.SerperAPIKey, http: client}
	case BraveProvider:
		backend = &Brave{APIKey: cfg.BraveAPIKey, http: client}
	default:
		return nil, ErrUnsupportedProvider
	}
	opts := []ProviderOption{WithLogger(logger)}
	if cfg.FetchPages > 0 {
		f, err := NewFetcher(FetcherType(cfg.Fetcher), cfg.Timeout, cfg.MaxChars)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithFetcher(f, cfg.FetchPages))
	}
	return NewProvider(backend, opts...), nil
}

// Search returns at most maxResults deduplicated hits.
func (p *Provider) Search(ctx context.Context, query string, maxResults int) []Result {
	if p == nil || p.backend == nil || strings.TrimSpace(query) == "" || maxResults <= 0 {
		return nil
	}
	start := time.Now()
	hits, err := p.backend.Discover(ctx, query, maxResults)
	if err != nil {
		p.logger.Printf("warn: search failed query=%q: %v", query, err)
		return nil
	}
	hits = Deduplicate(hits)
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	for i := range hits {
		hits[i].Title = helpers.PlainText(hits[i].Title)
		hits[i].Snippet = helpers.PlainText(hits[i].Snippet)
	}
	for i := 0; i < len(hits) && i < p.fetchPages && p.fetcher != nil; i++ {
		page, err := p.fetcher.Fetch(ctx, hits[i].URL)
		if err != nil {
			p.logger.Printf("warn: fetch %s: %v", hits[i].URL, err)
			continue
		}
		hits[i].Content = page.Text
		if hits[i].Title == "" {
			hits[i].Title = page.Title
		}
	}
	p.logger.Printf("search query=%q hits=%d took=%s", query, len(hits), time.Since(start).Round(time.Millisecond))
	return hits
}

// Deduplicate keeps the first hit per canonical URL, falling back to the
// lowercased title when the URL does not parse.
func Deduplicate(in []Result) []Result {
	seen := make(map[string]bool, len(in))
	out := make([]Result, 0, len(in))
	for _, r := range in {
		k, err := helpers.CanonicalURL(r.URL)
		if err != nil {
			k = strings.ToLower(strings.TrimSpace(r.Title))
		}
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}
