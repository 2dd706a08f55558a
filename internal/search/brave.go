package search

import (
	"context"
	"fmt"
	"net/url"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave queries the Brave Search API.
type Brave struct {
	APIKey   string
	Endpoint string
	http     *HTTPClient
}

func NewBrave(apiKey string, client *HTTPClient) *Brave {
	return &Brave{APIKey: apiKey, http: client}
}

func (b *Brave) Discover(ctx context.Context, q string, k int) ([]Result, error) {
	var resp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	endpoint := b.Endpoint
	if endpoint == "" {
		endpoint = braveEndpoint
	}
	headers := map[string]string{"X-Subscription-Token": b.APIKey, "Accept": "application/json"}
	u := fmt.Sprintf("%s?q=%s&count=%d", endpoint, url.QueryEscape(q), k)
	if b.http == nil {
		b.http = NewHTTPClient(0, 1, 0)
	}
	if err := b.http.DoJSON(ctx, "GET", u, headers, nil, &resp); err != nil {
		return nil, err
	}
	var out []Result
	for _, r := range resp.Web.Results {
		if len(out) >= k {
			break
		}
		out = append(out, Result{Title: r.Title, URL: r.URL, Snippet: r.Description, Source: string(BraveProvider)})
	}
	return out, nil
}
