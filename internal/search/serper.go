package search

import (
	"context"
)

const serperEndpoint = "https://google.serper.dev/search"

// Serper queries serper.dev.
type Serper struct {
	APIKey   string
	Endpoint string
	http     *HTTPClient
}

func NewSerper(apiKey string, client *HTTPClient) *Serper {
	return &Serper{APIKey: apiKey, http: client}
}

func (s *Serper) Discover(ctx context.Context, q string, k int) ([]Result, error) {
	var resp struct {
		Organic []struct{ Title, Link, Snippet string } `json:"organic"`
	}
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = serperEndpoint
	}
	headers := map[string]string{"X-API-KEY": s.APIKey}
	body := map[string]any{"q": q, "num": k}
	if err := s.client().DoJSON(ctx, "POST", endpoint, headers, body, &resp); err != nil {
		return nil, err
	}
	var out []Result
	for _, r := range resp.Organic {
		if len(out) >= k {
			break
		}
		out = append(out, Result{Title: r.Title, URL: r.Link, Snippet: r.Snippet, Source: string(SerperProvider)})
	}
	return out, nil
}

func (s *Serper) client() *HTTPClient {
	if s.http == nil {
		s.http = NewHTTPClient(0, 1, 0)
	}
	return s.http
}
