package batch

import (
	"context"
	"sort"
	"sync"
)

// MemoryStorage keeps everything in process. Used by tests and the CLI when
// no durable backend is configured.
type MemoryStorage struct {
	mu        sync.Mutex
	sections  map[string]map[string]Result
	manifests map[string]Manifest
	documents map[string]Document
	// Writes counts WriteSection calls that changed state.
	Writes int
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sections:  map[string]map[string]Result{},
		manifests: map[string]Manifest{},
		documents: map[string]Document{},
	}
}

func (s *MemoryStorage) WriteSection(ctx context.Context, runID string, r Result, _ map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.sections[runID]
	if !ok {
		run = map[string]Result{}
		s.sections[runID] = run
	}
	if prev, ok := run[r.ItemID]; ok && prev.Completed() {
		return nil
	}
	run[r.ItemID] = r
	s.Writes++
	return nil
}

func (s *MemoryStorage) ReadAllCompleted(ctx context.Context, runID string) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Result
	for _, r := range s.sections[runID] {
		if r.Completed() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SectionNumber < out[j].SectionNumber })
	return out, nil
}

func (s *MemoryStorage) WriteDocument(ctx context.Context, runID string, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[runID] = doc
	return "memory://" + runID, nil
}

func (s *MemoryStorage) SaveManifest(ctx context.Context, m Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests[m.RunID] = m
	return nil
}

func (s *MemoryStorage) LoadManifest(ctx context.Context, runID string) (Manifest, bool, error) {
	if err := ctx.Err(); err != nil {
		return Manifest{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.manifests[runID]
	return m, ok, nil
}

// Document returns the last merged document for a run.
func (s *MemoryStorage) Document(runID string) (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[runID]
	return d, ok
}

func (s *MemoryStorage) ReadDocument(ctx context.Context, runID string) (Document, bool, error) {
	d, ok := s.Document(runID)
	return d, ok, nil
}

var (
	_ Storage        = (*MemoryStorage)(nil)
	_ DocumentReader = (*MemoryStorage)(nil)
	_ DocumentReader = (*FileStorage)(nil)
)
