package search

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
)

// Index is an in-memory full text index over search results. It ranks
// background findings against the text of a plan step.
type Index struct {
	mu    sync.RWMutex
	bleve bleve.Index
	docs  map[string]Result
	order []string
}

type indexDoc struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{bleve: idx, docs: map[string]Result{}}, nil
}

// Add indexes results. Results with a URL already present are skipped.
func (x *Index) Add(results ...Result) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, r := range results {
		id := r.URL
		if id == "" {
			id = fmt.Sprintf("doc-%d", len(x.order)+1)
		}
		if _, ok := x.docs[id]; ok {
			continue
		}
		if err := x.bleve.Index(id, indexDoc{Title: r.Title, Text: r.Text()}); err != nil {
			return err
		}
		x.docs[id] = r
		x.order = append(x.order, id)
	}
	return nil
}

// Len reports the number of indexed documents.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.order)
}

// Rank returns up to k results most relevant to query. An empty or
// unmatched query falls back to insertion order.
func (x *Index) Rank(query string, k int) ([]Result, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if k <= 0 || len(x.order) == 0 {
		return nil, nil
	}
	var out []Result
	if strings.TrimSpace(query) != "" {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), k, 0, false)
		res, err := x.bleve.Search(req)
		if err != nil {
			return nil, err
		}
		for _, hit := range res.Hits {
			if r, ok := x.docs[hit.ID]; ok {
				out = append(out, r)
			}
		}
	}
	if len(out) > 0 {
		return out, nil
	}
	for _, id := range x.order {
		if len(out) >= k {
			break
		}
		out = append(out, x.docs[id])
	}
	return out, nil
}

func (x *Index) Close() error { return x.bleve.Close() }
