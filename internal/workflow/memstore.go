package workflow

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Store is the durable storage the orchestrator needs.
type Store interface {
	WriteCheckpoint(ctx context.Context, st *State) error
	ReadCheckpoint(ctx context.Context, threadID string) (*State, bool, error)
	RequestCancel(ctx context.Context, threadID string) error
	IsCancelled(ctx context.Context, threadID string) (bool, error)
}

// MemoryStore keeps checkpoints in process. States are stored as JSON so
// callers never share memory with the stored copy.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string][]byte
	cancelled   map[string]bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: map[string][]byte{}, cancelled: map[string]bool{}}
}

func (m *MemoryStore) WriteCheckpoint(ctx context.Context, st *State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[st.ThreadID] = b
	return nil
}

func (m *MemoryStore) ReadCheckpoint(ctx context.Context, threadID string) (*State, bool, error) {
	m.mu.RLock()
	b, ok := m.checkpoints[threadID]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, false, err
	}
	return &st, true, nil
}

func (m *MemoryStore) RequestCancel(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled[threadID] = true
	return nil
}

func (m *MemoryStore) IsCancelled(ctx context.Context, threadID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancelled[threadID], nil
}

// ListThreads returns thread ids whose status is one of statuses.
func (m *MemoryStore) ListThreads(ctx context.Context, statuses ...Status) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := map[Status]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	var ids []string
	for id, b := range m.checkpoints {
		var st struct {
			Status Status `json:"status"`
		}
		if err := json.Unmarshal(b, &st); err != nil {
			return nil, err
		}
		if len(want) == 0 || want[st.Status] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

var _ Store = (*MemoryStore)(nil)
