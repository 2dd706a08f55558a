package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/reportflow/internal/batch"
)

const upsertSectionSQL = `
INSERT INTO report_sections (run_id, item_id, batch_id, section_number, title, content, status, error_message, word_count, token_count, metadata, generated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (run_id, item_id) DO UPDATE SET
  batch_id       = EXCLUDED.batch_id,
  section_number = EXCLUDED.section_number,
  title          = EXCLUDED.title,
  content        = EXCLUDED.content,
  status         = EXCLUDED.status,
  error_message  = EXCLUDED.error_message,
  word_count     = EXCLUDED.word_count,
  token_count    = EXCLUDED.token_count,
  metadata       = EXCLUDED.metadata,
  generated_at   = EXCLUDED.generated_at
WHERE report_sections.status <> 'completed';
`

const completedSectionsSQL = `
SELECT batch_id, item_id, section_number, title, content, status, error_message, word_count, token_count, generated_at
FROM report_sections
WHERE run_id = $1 AND status = 'completed'
ORDER BY section_number ASC, item_id ASC`

const upsertDocumentSQL = `
INSERT INTO report_documents (run_id, title, content, sections, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (run_id) DO UPDATE SET
  title      = EXCLUDED.title,
  content    = EXCLUDED.content,
  sections   = EXCLUDED.sections,
  updated_at = NOW();
`

const upsertManifestSQL = `
INSERT INTO report_manifests (run_id, status, manifest, saved_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (run_id) DO UPDATE SET
  status   = EXCLUDED.status,
  manifest = EXCLUDED.manifest,
  saved_at = EXCLUDED.saved_at;
`

const readDocumentSQL = `SELECT title, content, sections FROM report_documents WHERE run_id = $1`

const loadManifestSQL = `SELECT manifest FROM report_manifests WHERE run_id = $1`

// SectionStorage adapts the store to batch.Storage. Document locations are
// returned as postgres://report_documents/<run_id>.
type SectionStorage struct {
	store *Store
}

// Sections returns the batch storage view of the store.
func (s *Store) Sections() *SectionStorage { return &SectionStorage{store: s} }

func (ss *SectionStorage) WriteSection(ctx context.Context, runID string, r batch.Result, meta map[string]interface{}) error {
	if runID == "" || r.ItemID == "" {
		return fmt.Errorf("run_id and item_id are required")
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal section metadata: %w", err)
	}
	generated := r.GeneratedAt
	if generated.IsZero() {
		generated = time.Now().UTC()
	}
	_, err = ss.store.DB.ExecContext(ctx, upsertSectionSQL,
		runID, r.ItemID, r.BatchID, r.SectionNumber, r.Title, r.Content, string(r.Status),
		r.ErrorMessage, r.WordCount, r.TokenCount, metaBytes, generated)
	if err != nil {
		return err
	}
	recordWrite(ctx, "report_sections")
	return nil
}

func (ss *SectionStorage) ReadAllCompleted(ctx context.Context, runID string) ([]batch.Result, error) {
	rows, err := ss.store.DB.QueryContext(ctx, completedSectionsSQL, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []batch.Result
	for rows.Next() {
		var (
			r      batch.Result
			status string
		)
		if err := rows.Scan(&r.BatchID, &r.ItemID, &r.SectionNumber, &r.Title, &r.Content, &status, &r.ErrorMessage, &r.WordCount, &r.TokenCount, &r.GeneratedAt); err != nil {
			return nil, err
		}
		r.Status = batch.ResultStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (ss *SectionStorage) WriteDocument(ctx context.Context, runID string, doc batch.Document) (string, error) {
	sections, err := json.Marshal(doc.Sections)
	if err != nil {
		return "", fmt.Errorf("marshal sections: %w", err)
	}
	if _, err := ss.store.DB.ExecContext(ctx, upsertDocumentSQL, runID, doc.Title, doc.Content, sections); err != nil {
		return "", err
	}
	recordWrite(ctx, "report_documents")
	return "postgres://report_documents/" + runID, nil
}

func (ss *SectionStorage) SaveManifest(ctx context.Context, m batch.Manifest) error {
	if m.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if m.SavedAt.IsZero() {
		m.SavedAt = time.Now().UTC()
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if _, err := ss.store.DB.ExecContext(ctx, upsertManifestSQL, m.RunID, string(m.Status), b, m.SavedAt); err != nil {
		return err
	}
	recordWrite(ctx, "report_manifests")
	return nil
}

func (ss *SectionStorage) LoadManifest(ctx context.Context, runID string) (batch.Manifest, bool, error) {
	var raw []byte
	if err := ss.store.DB.QueryRowContext(ctx, loadManifestSQL, runID).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return batch.Manifest{}, false, nil
		}
		return batch.Manifest{}, false, err
	}
	var m batch.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return batch.Manifest{}, false, fmt.Errorf("decode manifest %s: %w", runID, err)
	}
	return m, true, nil
}

func (ss *SectionStorage) ReadDocument(ctx context.Context, runID string) (batch.Document, bool, error) {
	doc := batch.Document{RunID: runID}
	var sections []byte
	if err := ss.store.DB.QueryRowContext(ctx, readDocumentSQL, runID).Scan(&doc.Title, &doc.Content, &sections); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return batch.Document{}, false, nil
		}
		return batch.Document{}, false, err
	}
	if len(sections) > 0 {
		if err := json.Unmarshal(sections, &doc.Sections); err != nil {
			return batch.Document{}, false, fmt.Errorf("decode sections %s: %w", runID, err)
		}
	}
	return doc, true, nil
}

var (
	_ batch.Storage        = (*SectionStorage)(nil)
	_ batch.DocumentReader = (*SectionStorage)(nil)
)
