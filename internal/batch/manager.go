package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBatchSize        = 3
	defaultMaxTokensPerItem = 4000
	generationFailedMsg     = "content generation failed"
)

// Option configures a Manager.
type Option func(*Manager)

// WithBatchSize sets how many items form one batch.
func WithBatchSize(n int) Option { return func(m *Manager) { m.batchSize = n } }

// WithPause sets the minimum delay between generator calls.
func WithPause(d time.Duration) Option { return func(m *Manager) { m.pause = d } }

// WithMaxTokensPerItem caps estimated and counted tokens per item.
func WithMaxTokensPerItem(n int) Option { return func(m *Manager) { m.maxTokensPerItem = n } }

// WithScorer sets the quality scorer used for stats.
func WithScorer(s Scorer) Option { return func(m *Manager) { m.scorer = s } }

// WithProgress registers a callback invoked after every item.
func WithProgress(fn func(Progress)) Option { return func(m *Manager) { m.onProgress = fn } }

// WithCancelCheck adds an external cancellation source polled before each item.
func WithCancelCheck(fn func(context.Context) bool) Option {
	return func(m *Manager) { m.cancelCheck = fn }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(m *Manager) { m.logger = l } }

// Manager splits a large deliverable into items, generates them in batches,
// persists every result as it is produced and merges the completed ones.
type Manager struct {
	runID            string
	title            string
	storage          Storage
	generator        Generator
	scorer           Scorer
	batchSize        int
	pause            time.Duration
	maxTokensPerItem int
	onProgress       func(Progress)
	cancelCheck      func(context.Context) bool
	logger           *log.Logger

	cancelled atomic.Bool

	mu          sync.Mutex
	items       []Item
	results     map[string]Result
	batchStatus map[string]BatchStatus
	status      GenerationStatus
	progress    Progress
}

// NewManager builds a manager for one run.
func NewManager(runID, title string, storage Storage, gen Generator, opts ...Option) *Manager {
	m := &Manager{
		runID:            runID,
		title:            title,
		storage:          storage,
		generator:        gen,
		scorer:           HeuristicScorer{},
		batchSize:        defaultBatchSize,
		maxTokensPerItem: defaultMaxTokensPerItem,
		results:          map[string]Result{},
		batchStatus:      map[string]BatchStatus{},
		status:           GenIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.batchSize <= 0 {
		m.batchSize = defaultBatchSize
	}
	if m.maxTokensPerItem <= 0 {
		m.maxTokensPerItem = defaultMaxTokensPerItem
	}
	if m.logger == nil {
		m.logger = log.New(io.Discard, "", 0)
	}
	m.progress = Progress{RunID: runID, Status: GenIdle}
	return m
}

// AddItem registers an item. A zero section number is assigned the next
// free number; an explicit one must be unique.
func (m *Manager) AddItem(item Item) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == "" {
		item.ID = fmt.Sprintf("item_%d", len(m.items)+1)
	}
	maxSection := 0
	for _, it := range m.items {
		if it.ID == item.ID {
			return Item{}, fmt.Errorf("%w: %s", ErrDuplicateItem, item.ID)
		}
		if item.SectionNumber != 0 && it.SectionNumber == item.SectionNumber {
			return Item{}, fmt.Errorf("%w: %d", ErrDuplicateSection, item.SectionNumber)
		}
		if it.SectionNumber > maxSection {
			maxSection = it.SectionNumber
		}
	}
	if item.SectionNumber == 0 {
		item.SectionNumber = maxSection + 1
	}
	if item.EstimatedTokens == 0 {
		item.EstimatedTokens = min(len([]rune(item.ContentTemplate))*2, m.maxTokensPerItem)
	}
	m.items = append(m.items, item)
	m.progress.TotalItems = len(m.items)
	return item, nil
}

// Items returns the registered items in insertion order.
func (m *Manager) Items() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Item(nil), m.items...)
}

// Progress returns a snapshot of the current progress.
func (m *Manager) Progress() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// Status returns the generation status.
func (m *Manager) Status() GenerationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Results returns a copy of the results keyed by item id.
func (m *Manager) Results() map[string]Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Result, len(m.results))
	for k, v := range m.results {
		out[k] = v
	}
	return out
}

// Stats aggregates the current results.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ComputeStats(m.items, m.results, m.scorer)
}

// Cancel stops generation before the next item. Completed results stay
// persisted and a partial document is merged from them.
func (m *Manager) Cancel() {
	m.cancelled.Store(true)
	m.logger.Printf("cancel requested run=%s", m.runID)
}

// Restore reloads items and batch state from the stored manifest and the
// completed sections. It reports whether a manifest existed.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	manifest, ok, err := m.storage.LoadManifest(ctx, m.runID)
	if err != nil {
		return false, fmt.Errorf("load manifest: %w", err)
	}
	completed, err := m.storage.ReadAllCompleted(ctx, m.runID)
	if err != nil {
		return false, fmt.Errorf("read sections: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.items = append([]Item(nil), manifest.Items...)
		if manifest.Title != "" {
			m.title = manifest.Title
		}
		for id, s := range manifest.BatchStatus {
			m.batchStatus[id] = s
		}
		m.progress = manifest.Progress
		m.progress.RunID = m.runID
	}
	for _, r := range completed {
		m.results[r.ItemID] = r
	}
	m.refreshCounts()
	return ok, nil
}

// GenerateAll generates every item that lacks a completed result, then
// merges. Storage failures are fatal; generator failures are recorded as
// failed results and generation continues.
func (m *Manager) GenerateAll(ctx context.Context) (Outcome, error) {
	m.setStatus(GenInitializing)

	persisted, err := m.storage.ReadAllCompleted(ctx, m.runID)
	if err != nil {
		return m.abort(ctx, fmt.Errorf("read sections: %w", err))
	}
	m.mu.Lock()
	for _, r := range persisted {
		if existing, ok := m.results[r.ItemID]; !ok || !existing.Completed() {
			m.results[r.ItemID] = r
		}
	}
	batches := m.partition()
	m.progress.TotalBatches = len(batches)
	if m.progress.StartedAt.IsZero() {
		m.progress.StartedAt = time.Now().UTC()
	}
	for i, b := range batches {
		id := batchID(i)
		if m.allCompleted(b) {
			m.batchStatus[id] = BatchCompleted
		} else {
			m.batchStatus[id] = BatchPending
		}
	}
	m.refreshCounts()
	m.mu.Unlock()

	if err := m.saveManifest(ctx); err != nil {
		return m.abort(ctx, err)
	}
	m.setStatus(GenGenerating)
	m.logger.Printf("generating run=%s items=%d batches=%d", m.runID, len(m.Items()), len(batches))

	var limiter *rate.Limiter
	if m.pause > 0 {
		limiter = rate.NewLimiter(rate.Every(m.pause), 1)
	}

	stopped := false
	for i, b := range batches {
		id := batchID(i)
		m.mu.Lock()
		done := m.allCompleted(b)
		m.mu.Unlock()
		if done {
			m.setBatch(id, BatchCompleted)
			continue
		}
		if m.shouldStop(ctx) {
			stopped = true
			break
		}
		m.setBatch(id, BatchRunning)
		if err := m.saveManifest(ctx); err != nil {
			return m.abort(ctx, err)
		}
		for _, item := range b {
			if m.hasCompleted(item.ID) {
				continue
			}
			if m.shouldStop(ctx) {
				stopped = true
				break
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					stopped = true
					break
				}
			}
			m.mu.Lock()
			m.progress.CurrentBatch = i + 1
			m.progress.CurrentItem = item.Title
			m.mu.Unlock()

			res := m.generate(ctx, id, item)
			if ctx.Err() != nil && !res.Completed() {
				stopped = true
				break
			}
			meta := map[string]interface{}{
				"batch_id":       id,
				"item_type":      item.Type,
				"generated_time": res.GeneratedAt.Format(time.RFC3339),
			}
			if err := m.storage.WriteSection(ctx, m.runID, res, meta); err != nil {
				return m.abort(ctx, fmt.Errorf("persist section %s: %w", item.ID, err))
			}
			m.mu.Lock()
			m.results[item.ID] = res
			m.refreshCounts()
			snapshot := m.progress
			m.mu.Unlock()
			if m.onProgress != nil {
				m.onProgress(snapshot)
			}
		}
		if stopped {
			break
		}
		m.setBatch(id, BatchCompleted)
		if err := m.saveManifest(ctx); err != nil {
			return m.abort(ctx, err)
		}
	}

	// Persistence after a stop must survive the cancelled context.
	wctx := ctx
	if stopped {
		wctx = context.WithoutCancel(ctx)
		m.markCancelled()
		m.logger.Printf("generation cancelled run=%s, merging partial document", m.runID)
	}
	return m.merge(wctx, stopped)
}

func (m *Manager) merge(ctx context.Context, cancelled bool) (Outcome, error) {
	m.setStatus(GenMerging)
	m.mu.Lock()
	results := make([]Result, 0, len(m.results))
	for _, r := range m.results {
		results = append(results, r)
	}
	title := m.title
	m.mu.Unlock()

	doc := Merge(m.runID, title, results)
	path, err := m.storage.WriteDocument(ctx, m.runID, doc)
	if err != nil {
		return m.abort(ctx, fmt.Errorf("write document: %w", err))
	}
	final := GenCompleted
	if cancelled {
		final = GenCancelled
	}
	m.setStatus(final)
	if err := m.saveManifest(ctx); err != nil {
		return m.abort(ctx, err)
	}
	stats := m.Stats()
	m.logger.Printf("merged run=%s sections=%d failed=%d path=%s", m.runID, len(doc.Sections), stats.Failed, path)
	return Outcome{
		Success:      !cancelled,
		Cancelled:    cancelled,
		Status:       final,
		DocumentPath: path,
		Document:     doc,
		Stats:        stats,
	}, nil
}

func (m *Manager) generate(ctx context.Context, batch string, item Item) Result {
	res := Result{
		BatchID:       batch,
		ItemID:        item.ID,
		Title:         item.Title,
		SectionNumber: item.SectionNumber,
		GeneratedAt:   time.Now().UTC(),
	}
	var content string
	var err error
	if m.generator == nil {
		err = errors.New("no generator configured")
	} else {
		content, err = m.generator.Generate(ctx, item)
	}
	if err == nil && strings.TrimSpace(content) != "" {
		res.Status = ResultCompleted
		res.Content = content
		res.WordCount = CountWords(content)
		res.TokenCount = min(len([]rune(content))*3/4, m.maxTokensPerItem)
		return res
	}
	res.Status = ResultFailed
	res.ErrorMessage = generationFailedMsg
	if err != nil {
		res.ErrorMessage = generationFailedMsg + ": " + err.Error()
	}
	m.logger.Printf("item failed run=%s item=%s: %s", m.runID, item.ID, res.ErrorMessage)
	return res
}

func (m *Manager) abort(ctx context.Context, cause error) (Outcome, error) {
	m.setStatus(GenFailed)
	if err := m.saveManifest(context.WithoutCancel(ctx)); err != nil {
		m.logger.Printf("save manifest after failure run=%s: %v", m.runID, err)
	}
	m.logger.Printf("generation failed run=%s: %v", m.runID, cause)
	return Outcome{Status: GenFailed, Stats: m.Stats()}, cause
}

func (m *Manager) shouldStop(ctx context.Context) bool {
	if m.cancelled.Load() || ctx.Err() != nil {
		return true
	}
	if m.cancelCheck != nil && m.cancelCheck(ctx) {
		m.cancelled.Store(true)
		return true
	}
	return false
}

func (m *Manager) markCancelled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.batchStatus {
		if s == BatchPending || s == BatchRunning {
			m.batchStatus[id] = BatchCancelled
		}
	}
}

func (m *Manager) saveManifest(ctx context.Context) error {
	m.mu.Lock()
	manifest := Manifest{
		RunID:       m.runID,
		Title:       m.title,
		Items:       append([]Item(nil), m.items...),
		BatchStatus: make(map[string]BatchStatus, len(m.batchStatus)),
		Status:      m.status,
		Progress:    m.progress,
		SavedAt:     time.Now().UTC(),
	}
	for k, v := range m.batchStatus {
		manifest.BatchStatus[k] = v
	}
	m.mu.Unlock()
	if err := m.storage.SaveManifest(ctx, manifest); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

func (m *Manager) setStatus(s GenerationStatus) {
	m.mu.Lock()
	m.status = s
	m.progress.Status = s
	m.mu.Unlock()
}

func (m *Manager) setBatch(id string, s BatchStatus) {
	m.mu.Lock()
	m.batchStatus[id] = s
	m.mu.Unlock()
}

func (m *Manager) hasCompleted(itemID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[itemID]
	return ok && r.Completed()
}

// BatchStatuses returns a copy of the per-batch state.
func (m *Manager) BatchStatuses() map[string]BatchStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]BatchStatus, len(m.batchStatus))
	for k, v := range m.batchStatus {
		out[k] = v
	}
	return out
}

// partition splits items in insertion order. Caller holds mu.
func (m *Manager) partition() [][]Item {
	var out [][]Item
	for i := 0; i < len(m.items); i += m.batchSize {
		end := min(i+m.batchSize, len(m.items))
		out = append(out, m.items[i:end])
	}
	return out
}

// allCompleted reports whether every item has a completed result. Caller holds mu.
func (m *Manager) allCompleted(items []Item) bool {
	for _, it := range items {
		if r, ok := m.results[it.ID]; !ok || !r.Completed() {
			return false
		}
	}
	return true
}

// refreshCounts recomputes progress counters. Caller holds mu.
func (m *Manager) refreshCounts() {
	completed, failed := 0, 0
	for _, it := range m.items {
		r, ok := m.results[it.ID]
		if !ok {
			continue
		}
		if r.Completed() {
			completed++
		} else {
			failed++
		}
	}
	m.progress.TotalItems = len(m.items)
	m.progress.CompletedItems = completed
	m.progress.FailedItems = failed
	if len(m.items) > 0 {
		m.progress.Percentage = float64(completed) / float64(len(m.items)) * 100
	} else {
		m.progress.Percentage = 0
	}
}

func batchID(i int) string { return "batch_" + strconv.Itoa(i+1) }
