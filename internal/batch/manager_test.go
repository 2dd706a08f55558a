package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingGenerator struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
	hook  func(item Item)
}

func newCountingGenerator() *countingGenerator {
	return &countingGenerator{calls: map[string]int{}, fail: map[string]bool{}}
}

func (g *countingGenerator) Generate(ctx context.Context, item Item) (string, error) {
	g.mu.Lock()
	g.calls[item.ID]++
	fail := g.fail[item.ID]
	g.mu.Unlock()
	if g.hook != nil {
		g.hook(item)
	}
	if fail {
		return "", errors.New("model unavailable")
	}
	return fmt.Sprintf("Body of %s with 3 figures.", item.Title), nil
}

func (g *countingGenerator) count(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[id]
}

func addItems(t *testing.T, m *Manager, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := m.AddItem(Item{ID: fmt.Sprintf("s%d", i), Type: "section", Title: fmt.Sprintf("Section %d", i)})
		require.NoError(t, err)
	}
}

func TestAddItemAssignsSectionNumbers(t *testing.T) {
	m := NewManager("run", "Report", NewMemoryStorage(), nil, WithMaxTokensPerItem(10))
	a, err := m.AddItem(Item{ID: "a", ContentTemplate: "write about things"})
	require.NoError(t, err)
	b, err := m.AddItem(Item{ID: "b", SectionNumber: 7})
	require.NoError(t, err)
	c, err := m.AddItem(Item{ID: "c"})
	require.NoError(t, err)

	assert.Equal(t, 1, a.SectionNumber)
	assert.Equal(t, 10, a.EstimatedTokens)
	assert.Equal(t, 7, b.SectionNumber)
	assert.Equal(t, 8, c.SectionNumber)

	_, err = m.AddItem(Item{ID: "a"})
	assert.ErrorIs(t, err, ErrDuplicateItem)
	_, err = m.AddItem(Item{ID: "d", SectionNumber: 7})
	assert.ErrorIs(t, err, ErrDuplicateSection)
}

func TestGenerateAllMergesInSectionOrder(t *testing.T) {
	store := NewMemoryStorage()
	gen := newCountingGenerator()
	var seen []Progress
	m := NewManager("run", "EV Report", store, gen, WithBatchSize(2), WithProgress(func(p Progress) { seen = append(seen, p) }))
	addItems(t, m, 5)

	out, err := m.GenerateAll(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, GenCompleted, out.Status)
	assert.Equal(t, "memory://run", out.DocumentPath)
	require.Len(t, out.Document.Sections, 5)
	for i, s := range out.Document.Sections {
		assert.Equal(t, i+1, s.Number)
	}
	assert.True(t, strings.HasPrefix(out.Document.Content, "# EV Report\n\n## Contents\n\n1. Section 1\n"))
	assert.Equal(t, 5, strings.Count(out.Document.Content, strings.Repeat("=", 80)))

	require.Len(t, seen, 5)
	assert.Equal(t, 100.0, seen[4].Percentage)
	assert.Equal(t, 3, seen[4].TotalBatches)
	assert.Equal(t, 3, seen[4].CurrentBatch)
	for id, s := range m.BatchStatuses() {
		assert.Equal(t, BatchCompleted, s, id)
	}
	doc, ok := store.Document("run")
	require.True(t, ok)
	assert.Equal(t, out.Document, doc)
}

func TestMergeIgnoresInsertionOrder(t *testing.T) {
	a := Result{ItemID: "a", Title: "A", Content: "alpha", SectionNumber: 1, Status: ResultCompleted}
	b := Result{ItemID: "b", Title: "B", Content: "beta", SectionNumber: 2, Status: ResultCompleted}
	c := Result{ItemID: "c", Title: "C", Content: "gamma", SectionNumber: 3, Status: ResultCompleted}
	failed := Result{ItemID: "d", Title: "D", SectionNumber: 4, Status: ResultFailed}

	want := Merge("r", "T", []Result{a, b, c})
	assert.Equal(t, want, Merge("r", "T", []Result{c, a, b}))
	assert.Equal(t, want, Merge("r", "T", []Result{failed, b, c, a, a}))
	assert.NotContains(t, want.Content, "# D")

	idxA := strings.Index(want.Content, "# A\n\nalpha")
	idxC := strings.Index(want.Content, "# C\n\ngamma")
	assert.True(t, idxA > 0 && idxA < idxC)
}

func TestMergeCommutesThroughManager(t *testing.T) {
	build := func(order []Item) Document {
		m := NewManager("run", "T", NewMemoryStorage(), newCountingGenerator())
		for _, it := range order {
			_, err := m.AddItem(it)
			require.NoError(t, err)
		}
		out, err := m.GenerateAll(context.Background())
		require.NoError(t, err)
		return out.Document
	}
	a := Item{ID: "a", Title: "A", SectionNumber: 1}
	b := Item{ID: "b", Title: "B", SectionNumber: 2}
	c := Item{ID: "c", Title: "C", SectionNumber: 3}
	assert.Equal(t, build([]Item{a, b, c}).Content, build([]Item{c, a, b}).Content)
}

func TestGenerateAllResumesFromPersistedSections(t *testing.T) {
	store := NewMemoryStorage()
	gen := newCountingGenerator()
	first := NewManager("run", "T", store, gen, WithBatchSize(2))
	addItems(t, first, 5)
	gen.hook = func(item Item) {
		if item.ID == "s3" {
			first.Cancel()
		}
	}
	out, err := first.GenerateAll(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Cancelled)
	assert.Len(t, out.Document.Sections, 3)

	gen.hook = nil
	second := NewManager("run", "T", store, gen, WithBatchSize(2))
	restored, err := second.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, restored)
	assert.Len(t, second.Items(), 5)
	assert.Equal(t, 3, second.Progress().CompletedItems)

	out, err = second.GenerateAll(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Success)
	require.Len(t, out.Document.Sections, 5)
	for i := 1; i <= 5; i++ {
		assert.Equal(t, 1, gen.count(fmt.Sprintf("s%d", i)), "item s%d generated once", i)
		assert.Equal(t, 1, strings.Count(out.Document.Content, fmt.Sprintf("# Section %d\n", i)))
	}
}

func TestCancelMarksBatchesAndMergesPartial(t *testing.T) {
	store := NewMemoryStorage()
	gen := newCountingGenerator()
	m := NewManager("run", "T", store, gen, WithBatchSize(2))
	addItems(t, m, 6)
	gen.hook = func(item Item) {
		if item.ID == "s2" {
			m.Cancel()
		}
	}

	out, err := m.GenerateAll(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.True(t, out.Cancelled)
	assert.Equal(t, GenCancelled, m.Status())
	assert.Len(t, out.Document.Sections, 2)
	assert.Equal(t, 0, gen.count("s3"))

	statuses := m.BatchStatuses()
	assert.Equal(t, BatchCompleted, statuses["batch_1"])
	assert.Equal(t, BatchCancelled, statuses["batch_2"])
	assert.Equal(t, BatchCancelled, statuses["batch_3"])

	manifest, ok, err := store.LoadManifest(context.Background(), "run")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, GenCancelled, manifest.Status)
}

func TestCancelCheckAndContextStopGeneration(t *testing.T) {
	m := NewManager("run", "T", NewMemoryStorage(), newCountingGenerator(),
		WithCancelCheck(func(context.Context) bool { return true }))
	addItems(t, m, 2)
	out, err := m.GenerateAll(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Cancelled)
	assert.Empty(t, out.Document.Sections)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m2 := NewManager("run2", "T", NewMemoryStorage(), newCountingGenerator())
	addItems(t, m2, 2)
	_, err = m2.GenerateAll(ctx)
	require.Error(t, err)
}

func TestFailedItemsAreRecordedAndRetried(t *testing.T) {
	store := NewMemoryStorage()
	gen := newCountingGenerator()
	gen.fail["s2"] = true
	m := NewManager("run", "T", store, gen)
	addItems(t, m, 3)

	out, err := m.GenerateAll(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 2, out.Stats.Completed)
	assert.Equal(t, 1, out.Stats.Failed)
	assert.Len(t, out.Document.Sections, 2)
	failed := m.Results()["s2"]
	assert.Equal(t, ResultFailed, failed.Status)
	assert.Contains(t, failed.ErrorMessage, "content generation failed")

	gen.fail["s2"] = false
	out, err = m.GenerateAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, out.Document.Sections, 3)
	assert.Equal(t, 1, gen.count("s1"))
	assert.Equal(t, 2, gen.count("s2"))
}

func TestBlankContentCountsAsFailure(t *testing.T) {
	m := NewManager("run", "T", NewMemoryStorage(), GeneratorFunc(func(ctx context.Context, item Item) (string, error) {
		return "   ", nil
	}))
	addItems(t, m, 1)
	out, err := m.GenerateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Stats.Failed)
	assert.Empty(t, out.Document.Sections)
}

func TestCompletedSectionsAreNeverOverwritten(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	orig := Result{ItemID: "a", Title: "A", Content: "first", SectionNumber: 1, Status: ResultCompleted}
	require.NoError(t, store.WriteSection(ctx, "run", orig, nil))
	require.NoError(t, store.WriteSection(ctx, "run", Result{ItemID: "a", Title: "A", Content: "second", SectionNumber: 1, Status: ResultCompleted}, nil))
	require.NoError(t, store.WriteSection(ctx, "run", Result{ItemID: "a", SectionNumber: 1, Status: ResultFailed}, nil))

	got, err := store.ReadAllCompleted(ctx, "run")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Content)
	assert.Equal(t, 1, store.Writes)
}

type failingStorage struct {
	*MemoryStorage
}

func (failingStorage) WriteSection(ctx context.Context, runID string, r Result, meta map[string]interface{}) error {
	return errors.New("disk full")
}

func TestStorageFailureIsFatal(t *testing.T) {
	gen := newCountingGenerator()
	m := NewManager("run", "T", failingStorage{NewMemoryStorage()}, gen)
	addItems(t, m, 3)
	out, err := m.GenerateAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, GenFailed, out.Status)
	assert.Equal(t, GenFailed, m.Status())
	assert.Equal(t, 1, gen.count("s1"))
	assert.Equal(t, 0, gen.count("s2"))
}

func TestFileStorageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStorage(dir)
	require.NoError(t, err)

	gen := newCountingGenerator()
	m := NewManager("run-1", "File Report", store, gen)
	addItems(t, m, 3)
	out, err := m.GenerateAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "run-1", "run-1.txt"), out.DocumentPath)
	raw, err := os.ReadFile(out.DocumentPath)
	require.NoError(t, err)
	assert.Equal(t, out.Document.Content, string(raw))

	section, err := os.ReadFile(filepath.Join(dir, "run-1", "chunks", "section_002.txt"))
	require.NoError(t, err)
	assert.Equal(t, "# Section 2\n\nBody of Section 2 with 3 figures.\n", string(section))
	assert.FileExists(t, filepath.Join(dir, "run-1", "state", "manager_state.json"))

	restored := NewManager("run-1", "", store, gen)
	ok, err := restored.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	again, err := restored.GenerateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, out.Document.Content, again.Document.Content)
	assert.Equal(t, 1, gen.count("s3"))
}
