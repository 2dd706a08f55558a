package batch

import (
	"context"
	"errors"
	"time"
)

// BatchStatus is the state of one partition of items.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
	BatchCancelled BatchStatus = "cancelled"
)

// GenerationStatus is the state of the whole run.
type GenerationStatus string

const (
	GenIdle         GenerationStatus = "idle"
	GenInitializing GenerationStatus = "initializing"
	GenGenerating   GenerationStatus = "generating"
	GenMerging      GenerationStatus = "merging"
	GenCompleted    GenerationStatus = "completed"
	GenFailed       GenerationStatus = "failed"
	GenCancelled    GenerationStatus = "cancelled"
)

// ResultStatus is the outcome of generating one item.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
)

var (
	// ErrCancelled is reported when generation stopped on a cancel signal.
	ErrCancelled = errors.New("batch generation cancelled")
	// ErrDuplicateItem rejects a second item with the same id.
	ErrDuplicateItem = errors.New("duplicate batch item id")
	// ErrDuplicateSection rejects a second item with the same section number.
	ErrDuplicateSection = errors.New("duplicate section number")
)

// Item is one independently generated fragment of the deliverable.
type Item struct {
	ID              string                 `json:"id"`
	Type            string                 `json:"type"`
	Title           string                 `json:"title"`
	ContentTemplate string                 `json:"content_template"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	SectionNumber   int                    `json:"section_number"`
	EstimatedTokens int                    `json:"estimated_tokens"`
}

// Result is the generation outcome for one item.
type Result struct {
	BatchID       string       `json:"batch_id"`
	ItemID        string       `json:"item_id"`
	Title         string       `json:"title"`
	Content       string       `json:"content"`
	SectionNumber int          `json:"section_number"`
	WordCount     int          `json:"word_count"`
	TokenCount    int          `json:"token_count"`
	GeneratedAt   time.Time    `json:"generated_at"`
	Status        ResultStatus `json:"status"`
	ErrorMessage  string       `json:"error_message,omitempty"`
}

// Completed reports whether the result can be merged.
func (r Result) Completed() bool { return r.Status == ResultCompleted }

// Progress is reported after every item.
type Progress struct {
	RunID          string           `json:"run_id"`
	TotalItems     int              `json:"total_items"`
	CompletedItems int              `json:"completed_items"`
	FailedItems    int              `json:"failed_items"`
	CurrentBatch   int              `json:"current_batch"`
	TotalBatches   int              `json:"total_batches"`
	CurrentItem    string           `json:"current_item,omitempty"`
	Status         GenerationStatus `json:"status"`
	StartedAt      time.Time        `json:"started_at"`
	Percentage     float64          `json:"percentage"`
}

// Manifest is the persisted manager state used to rebuild a manager after a restart.
type Manifest struct {
	RunID       string                 `json:"run_id"`
	Title       string                 `json:"title"`
	Items       []Item                 `json:"items"`
	BatchStatus map[string]BatchStatus `json:"batch_status"`
	Status      GenerationStatus       `json:"generation_status"`
	Progress    Progress               `json:"progress"`
	SavedAt     time.Time              `json:"saved_at"`
}

// SectionRef lists one merged section.
type SectionRef struct {
	Number int    `json:"number"`
	ItemID string `json:"item_id"`
	Title  string `json:"title"`
}

// Document is the merged deliverable.
type Document struct {
	RunID    string       `json:"run_id"`
	Title    string       `json:"title"`
	Content  string       `json:"content"`
	Sections []SectionRef `json:"sections"`
}

// Storage persists sections, manifests and merged documents. WriteSection
// must be durable when it returns and must never overwrite a completed
// section.
type Storage interface {
	WriteSection(ctx context.Context, runID string, r Result, meta map[string]interface{}) error
	ReadAllCompleted(ctx context.Context, runID string) ([]Result, error)
	WriteDocument(ctx context.Context, runID string, doc Document) (string, error)
	SaveManifest(ctx context.Context, m Manifest) error
	LoadManifest(ctx context.Context, runID string) (Manifest, bool, error)
}

// DocumentReader returns the last merged document of a run.
type DocumentReader interface {
	ReadDocument(ctx context.Context, runID string) (Document, bool, error)
}

// Generator produces the content for one item.
type Generator interface {
	Generate(ctx context.Context, item Item) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, item Item) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, item Item) (string, error) { return f(ctx, item) }

// Outcome is returned by GenerateAll.
type Outcome struct {
	Success      bool             `json:"success"`
	Cancelled    bool             `json:"cancelled"`
	Status       GenerationStatus `json:"status"`
	DocumentPath string           `json:"document_path"`
	Document     Document         `json:"document"`
	Stats        Stats            `json:"stats"`
}
