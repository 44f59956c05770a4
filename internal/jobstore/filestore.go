package jobstore

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
	"time"

	"github.com/dusk-indust/papercast/internal/job"
)

// Compile-time assertion: *FileStore satisfies Store.
var _ Store = (*FileStore)(nil)

// FileStore persists one JSON document per job under a data directory.
// Writes go to a temporary file that is renamed over the record, so a
// reader (in this process or another) never sees a partial record.
type FileStore struct {
	mu  sync.RWMutex
	dir string
	now func() time.Time
}

// NewFileStore creates the directory if needed and returns a store rooted
// there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: mkdir %s: %w", dir, err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Dir returns the directory holding job records.
func (s *FileStore) Dir() string {
	return s.dir
}

// Create validates the source and writes a new record.
func (s *FileStore) Create(_ context.Context, sourceRef string) (*job.Job, error) {
	j, err := newJob(sourceRef, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(j); err != nil {
		return nil, err
	}
	return j, nil
}

// Get reads a record from disk.
func (s *FileStore) Get(_ context.Context, id string) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(id)
}

// PutStageOutput rewrites the record with the new stage output.
func (s *FileStore) PutStageOutput(_ context.Context, id string, stage job.Stage, value json.RawMessage) error {
	if err := checkPut(stage, value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.read(id)
	if err != nil {
		return err
	}
	j.Outputs[stage] = append(json.RawMessage(nil), value...)
	j.UpdatedAt = s.now().UTC()
	return s.write(j)
}

// List reads every record in the directory, oldest first.
func (s *FileStore) List(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("filestore: read dir %s: %w", s.dir, err)
	}

	var jobs []*job.Job
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		j, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	sort.SliceStable(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})

	out := make([]Summary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, Summarize(j))
	}
	return out, nil
}

// Close is a no-op; every write is already flushed.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) read(id string) (*job.Job, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("job %q: %w", id, ErrNotFound)
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("job %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("filestore: read %s: %w", id, err)
	}

	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("filestore: decode %s: %w", id, err)
	}
	if j.Outputs == nil {
		j.Outputs = make(map[job.Stage]json.RawMessage)
	}
	return &j, nil
}

func (s *FileStore) write(j *job.Job) error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode %s: %w", j.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+j.ID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("filestore: write %s: %w", j.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("filestore: sync %s: %w", j.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("filestore: close %s: %w", j.ID, err)
	}
	if err := os.Rename(tmpName, s.path(j.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("filestore: rename %s: %w", j.ID, err)
	}
	return nil
}
