package agent

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/reportflow/internal/batch"
	"github.com/mohammad-safakhou/reportflow/internal/llm"
	"github.com/mohammad-safakhou/reportflow/internal/workflow"
)

// BatchReporter generates the report one section per plan step through the
// batch manager, so partial progress survives a crash.
type BatchReporter struct {
	storage   batch.Storage
	model     llm.Model
	batchSize int
	pause     time.Duration
	maxTokens int
	scorer    batch.Scorer
	logger    *log.Logger
}

// BatchReporterOption configures a BatchReporter.
type BatchReporterOption func(*BatchReporter)

// WithBatchSize sets how many sections are generated per batch.
func WithBatchSize(n int) BatchReporterOption { return func(b *BatchReporter) { b.batchSize = n } }

// WithPause sets the courtesy pause between sections.
func WithPause(d time.Duration) BatchReporterOption { return func(b *BatchReporter) { b.pause = d } }

// WithMaxTokens caps the tokens requested per section.
func WithMaxTokens(n int) BatchReporterOption { return func(b *BatchReporter) { b.maxTokens = n } }

// WithScorer replaces the default section quality scorer.
func WithScorer(s batch.Scorer) BatchReporterOption { return func(b *BatchReporter) { b.scorer = s } }

// WithBatchLogger sets the logger passed to the batch manager.
func WithBatchLogger(l *log.Logger) BatchReporterOption {
	return func(b *BatchReporter) { b.logger = l }
}

// NewBatchReporter builds a reporter over storage. A nil model writes each
// section straight from its step observation.
func NewBatchReporter(storage batch.Storage, model llm.Model, opts ...BatchReporterOption) *BatchReporter {
	b := &BatchReporter{storage: storage, model: model}
	for _, o := range opts {
		o(b)
	}
	if b.logger == nil {
		b.logger = log.New(io.Discard, "", 0)
	}
	return b
}

// GenerateReport resumes or starts the run for the thread and merges it.
// Only storage failures are returned.
func (b *BatchReporter) GenerateReport(ctx context.Context, in workflow.ReportInput) (workflow.Report, error) {
	runID := in.ThreadID
	opts := []batch.Option{
		batch.WithBatchSize(b.batchSize),
		batch.WithPause(b.pause),
		batch.WithMaxTokensPerItem(b.maxTokens),
		batch.WithLogger(b.logger),
	}
	if b.scorer != nil {
		opts = append(opts, batch.WithScorer(b.scorer))
	}
	if in.Cancelled != nil {
		opts = append(opts, batch.WithCancelCheck(in.Cancelled))
	}
	if in.Progress != nil {
		opts = append(opts, batch.WithProgress(func(p batch.Progress) {
			in.Progress(ctx, p.Percentage, fmt.Sprintf("batch_%d: %s", p.CurrentBatch, p.CurrentItem))
		}))
	}
	mgr := batch.NewManager(runID, in.Title, b.storage, batch.GeneratorFunc(func(ctx context.Context, item batch.Item) (string, error) {
		return b.section(ctx, in, item)
	}), opts...)

	restored, err := mgr.Restore(ctx)
	if err != nil {
		return workflow.Report{}, err
	}
	if !restored || len(mgr.Items()) == 0 {
		for _, it := range ItemsFromPlan(in) {
			if _, err := mgr.AddItem(it); err != nil {
				return workflow.Report{}, err
			}
		}
	} else {
		b.logger.Printf("resuming run=%s completed=%d/%d", runID, mgr.Progress().CompletedItems, len(mgr.Items()))
	}

	out, err := mgr.GenerateAll(ctx)
	if err != nil {
		return workflow.Report{}, err
	}
	return workflow.Report{
		Title:     in.Title,
		Content:   out.Document.Content,
		Path:      out.DocumentPath,
		RunID:     runID,
		Sections:  len(out.Document.Sections),
		Batched:   true,
		Partial:   out.Cancelled || out.Stats.Completed < out.Stats.ItemCount,
		Cancelled: out.Cancelled,
	}, nil
}

// ItemsFromPlan turns each plan step into one report section. The step's
// observation travels in the item metadata.
func ItemsFromPlan(in workflow.ReportInput) []batch.Item {
	if in.Plan == nil {
		return nil
	}
	var items []batch.Item
	for i, st := range in.Plan.Steps {
		note := ""
		if st.Executed() {
			note = strings.TrimSpace(*st.Result)
		}
		items = append(items, batch.Item{
			ID:              fmt.Sprintf("step-%02d", i+1),
			Type:            string(st.Type),
			Title:           st.Title,
			ContentTemplate: st.Description,
			SectionNumber:   i + 1,
			Metadata:        map[string]interface{}{"note": note},
		})
	}
	return items
}

func (b *BatchReporter) section(ctx context.Context, in workflow.ReportInput, item batch.Item) (string, error) {
	note, _ := item.Metadata["note"].(string)
	if b.model == nil {
		return note, nil
	}
	var p strings.Builder
	fmt.Fprintf(&p, "REPORT: %s\nREQUEST: %s\nSECTION %d: %s\n", in.Title, in.Request, item.SectionNumber, item.Title)
	if item.ContentTemplate != "" {
		fmt.Fprintf(&p, "SCOPE: %s\n", item.ContentTemplate)
	}
	p.WriteString(localeLine(in.Locale))
	if note != "" {
		fmt.Fprintf(&p, "\nNOTES:\n%s\n", note)
	}
	resp, err := b.model.Invoke(ctx, llm.Request{
		System:      sectionSystemPrompt,
		Messages:    []llm.Message{llm.UserMessage(p.String())},
		Temperature: 0.3,
		MaxTokens:   b.maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
