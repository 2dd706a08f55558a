package agent

import (
	"context"

	"github.com/mohammad-safakhou/reportflow/internal/search"
	"github.com/mohammad-safakhou/reportflow/internal/workflow"
)

// SearchAdapter exposes a search provider to the background search node.
type SearchAdapter struct {
	Provider *search.Provider
}

func (a SearchAdapter) Search(ctx context.Context, query string, maxResults int) []workflow.Finding {
	results := a.Provider.Search(ctx, query, maxResults)
	out := make([]workflow.Finding, 0, len(results))
	for _, r := range results {
		out = append(out, workflow.Finding{Title: r.Title, Content: r.Text(), URL: r.URL})
	}
	return out
}

// FindingsToResults converts stored findings back into search results.
func FindingsToResults(findings []workflow.Finding) []search.Result {
	out := make([]search.Result, 0, len(findings))
	for _, f := range findings {
		out = append(out, search.Result{Title: f.Title, URL: f.URL, Content: f.Content, Source: "background"})
	}
	return out
}
