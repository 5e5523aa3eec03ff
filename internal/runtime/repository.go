package runtime

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"
)

// Repository persists assistants, threads and runs. Lookups of absent
// records fail with ErrNotFound.
type Repository interface {
	GetAssistant(ctx context.Context, id string) (*Assistant, error)
	PutAssistant(ctx context.Context, a Assistant) error
	DeleteAssistant(ctx context.Context, id string) error

	GetThread(ctx context.Context, id string) (*Thread, error)
	PutThread(ctx context.Context, t Thread) error
	// DeleteThread removes the thread and its run history.
	DeleteThread(ctx context.Context, id string) error

	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	PutRun(ctx context.Context, r Run) error
	// ListRuns returns the thread's runs in creation order.
	ListRuns(ctx context.Context, threadID string) ([]Run, error)
	DeleteRun(ctx context.Context, threadID, runID string) error
	// ListUnfinished returns every non-terminal run across threads.
	ListUnfinished(ctx context.Context) ([]Run, error)

	Close() error
}

// MemoryRepository keeps everything in process memory.
type MemoryRepository struct {
	mu         sync.RWMutex
	assistants map[string]Assistant
	threads    map[string]Thread
	runs       map[string]map[string]Run
	order      map[string][]string
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		assistants: make(map[string]Assistant),
		threads:    make(map[string]Thread),
		runs:       make(map[string]map[string]Run),
		order:      make(map[string][]string),
	}
}

func (m *MemoryRepository) GetAssistant(_ context.Context, id string) (*Assistant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assistants[id]
	if !ok {
		return nil, notFound("assistant", id)
	}
	a.Metadata = maps.Clone(a.Metadata)
	return &a, nil
}

func (m *MemoryRepository) PutAssistant(_ context.Context, a Assistant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.Metadata = maps.Clone(a.Metadata)
	m.assistants[a.ID] = a
	return nil
}

func (m *MemoryRepository) DeleteAssistant(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assistants[id]; !ok {
		return notFound("assistant", id)
	}
	delete(m.assistants, id)
	return nil
}

func (m *MemoryRepository) GetThread(_ context.Context, id string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[id]
	if !ok {
		return nil, notFound("thread", id)
	}
	return clone(t)
}

func (m *MemoryRepository) PutThread(_ context.Context, t Thread) error {
	c, err := clone(t)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[t.ID] = *c
	return nil
}

func (m *MemoryRepository) DeleteThread(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[id]; !ok {
		return notFound("thread", id)
	}
	delete(m.threads, id)
	delete(m.runs, id)
	delete(m.order, id)
	return nil
}

func (m *MemoryRepository) GetRun(_ context.Context, threadID, runID string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[threadID][runID]
	if !ok {
		return nil, notFound("run", runID)
	}
	return clone(r)
}

func (m *MemoryRepository) PutRun(_ context.Context, r Run) error {
	c, err := clone(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	runs, ok := m.runs[r.ThreadID]
	if !ok {
		runs = make(map[string]Run)
		m.runs[r.ThreadID] = runs
	}
	if _, exists := runs[r.ID]; !exists {
		m.order[r.ThreadID] = append(m.order[r.ThreadID], r.ID)
	}
	runs[r.ID] = *c
	return nil
}

func (m *MemoryRepository) ListRuns(_ context.Context, threadID string) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Run, 0, len(m.order[threadID]))
	for _, id := range m.order[threadID] {
		c, err := clone(m.runs[threadID][id])
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func (m *MemoryRepository) DeleteRun(_ context.Context, threadID, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[threadID][runID]; !ok {
		return notFound("run", runID)
	}
	delete(m.runs[threadID], runID)
	m.order[threadID] = slices.DeleteFunc(m.order[threadID], func(id string) bool { return id == runID })
	return nil
}

func (m *MemoryRepository) ListUnfinished(_ context.Context) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Run
	for threadID, ids := range m.order {
		for _, id := range ids {
			r := m.runs[threadID][id]
			if !r.Status.Terminal() {
				c, err := clone(r)
				if err != nil {
					return nil, err
				}
				out = append(out, *c)
			}
		}
	}
	return out, nil
}

func (m *MemoryRepository) Close() error { return nil }

// clone deep-copies a record through its JSON form.
func clone[T any](v T) (*T, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

var _ Repository = (*MemoryRepository)(nil)
