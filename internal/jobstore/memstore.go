package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dusk-indust/papercast/internal/job"
)

// Compile-time assertion: *MemStore satisfies Store.
var _ Store = (*MemStore)(nil)

// MemStore implements Store using Go maps. Thread-safe via sync.RWMutex.
// Jobs are kept in insertion order for deterministic listing.
type MemStore struct {
	mu       sync.RWMutex
	jobs     map[string]*job.Job
	orderIDs []string
	now      func() time.Time
}

// NewMemStore returns an initialized MemStore ready for use.
func NewMemStore() *MemStore {
	return &MemStore{
		jobs: make(map[string]*job.Job),
		now:  time.Now,
	}
}

// Create validates the source and stores a new job.
func (m *MemStore) Create(_ context.Context, sourceRef string) (*job.Job, error) {
	j, err := newJob(sourceRef, m.now().UTC())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	m.orderIDs = append(m.orderIDs, j.ID)
	return j.Clone(), nil
}

// Insert stores a fully formed job, replacing any record with the same id.
// Used to seed fixtures and to copy jobs between stores.
func (m *MemStore) Insert(j *job.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[j.ID]; !exists {
		m.orderIDs = append(m.orderIDs, j.ID)
	}
	m.jobs[j.ID] = j.Clone()
}

// Get returns a deep copy of the job.
func (m *MemStore) Get(_ context.Context, id string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %q: %w", id, ErrNotFound)
	}
	return j.Clone(), nil
}

// PutStageOutput replaces the stage output under the write lock.
func (m *MemStore) PutStageOutput(_ context.Context, id string, stage job.Stage, value json.RawMessage) error {
	if err := checkPut(stage, value); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %q: %w", id, ErrNotFound)
	}
	j.Outputs[stage] = append(json.RawMessage(nil), value...)
	j.UpdatedAt = m.now().UTC()
	return nil
}

// List summarizes every job in insertion order.
func (m *MemStore) List(_ context.Context) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Summary, 0, len(m.orderIDs))
	for _, id := range m.orderIDs {
		out = append(out, Summarize(m.jobs[id]))
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error {
	return nil
}
