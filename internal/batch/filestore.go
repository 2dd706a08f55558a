package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStorage keeps one directory per run:
//
//	<dir>/<run>/chunks/section_001.txt   section text
//	<dir>/<run>/chunks/section_001.json  result and metadata
//	<dir>/<run>/state/manager_state.json manifest
//	<dir>/<run>/state/document.json      merged document with its section list
//	<dir>/<run>/<run>.txt                merged document
type FileStorage struct {
	dir string
	mu  sync.Mutex
}

// NewFileStorage creates the base directory if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

type sectionRecord struct {
	Result   Result                 `json:"result"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (s *FileStorage) runDir(runID string) string { return filepath.Join(s.dir, safeName(runID)) }

func (s *FileStorage) chunkPath(runID string, section int, ext string) string {
	return filepath.Join(s.runDir(runID), "chunks", fmt.Sprintf("section_%03d.%s", section, ext))
}

func (s *FileStorage) WriteSection(ctx context.Context, runID string, r Result, meta map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sidecar := s.chunkPath(runID, r.SectionNumber, "json")
	if prev, ok, err := readRecord(sidecar); err != nil {
		return err
	} else if ok && prev.Result.Completed() {
		return nil
	}
	if r.Completed() {
		if err := writeFileAtomic(s.chunkPath(runID, r.SectionNumber, "txt"), []byte(SectionText(r))); err != nil {
			return err
		}
	}
	raw, err := json.MarshalIndent(sectionRecord{Result: r, Metadata: meta}, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(sidecar, raw)
}

func (s *FileStorage) ReadAllCompleted(ctx context.Context, runID string) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	paths, err := filepath.Glob(filepath.Join(s.runDir(runID), "chunks", "section_*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	var out []Result
	for _, p := range paths {
		rec, ok, err := readRecord(p)
		if err != nil {
			return nil, err
		}
		if ok && rec.Result.Completed() {
			out = append(out, rec.Result)
		}
	}
	return out, nil
}

func (s *FileStorage) WriteDocument(ctx context.Context, runID string, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(s.runDir(runID), safeName(runID)+".txt")
	if err := writeFileAtomic(path, []byte(doc.Content)); err != nil {
		return "", err
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(filepath.Join(s.runDir(runID), "state", "document.json"), raw); err != nil {
		return "", err
	}
	return path, nil
}

func (s *FileStorage) ReadDocument(ctx context.Context, runID string) (Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, false, err
	}
	raw, err := os.ReadFile(filepath.Join(s.runDir(runID), "state", "document.json"))
	if errors.Is(err, os.ErrNotExist) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, false, fmt.Errorf("decode document: %w", err)
	}
	return doc, true, nil
}

func (s *FileStorage) SaveManifest(ctx context.Context, m Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.runDir(m.RunID), "state", "manager_state.json"), raw)
}

func (s *FileStorage) LoadManifest(ctx context.Context, runID string) (Manifest, bool, error) {
	if err := ctx.Err(); err != nil {
		return Manifest{}, false, err
	}
	raw, err := os.ReadFile(filepath.Join(s.runDir(runID), "state", "manager_state.json"))
	if errors.Is(err, os.ErrNotExist) {
		return Manifest{}, false, nil
	}
	if err != nil {
		return Manifest{}, false, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, false, fmt.Errorf("decode manifest: %w", err)
	}
	return m, true, nil
}

func readRecord(path string) (sectionRecord, bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return sectionRecord{}, false, nil
	}
	if err != nil {
		return sectionRecord{}, false, err
	}
	var rec sectionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return sectionRecord{}, false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return rec, true, nil
}

// writeFileAtomic writes through a synced temp file and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
