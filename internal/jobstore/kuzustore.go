//go:build cgo

package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	kuzu "github.com/kuzudb/go-kuzu"

	"github.com/dusk-indust/papercast/internal/job"
)

// KuzuStore implements Store on an embedded KuzuDB database. Jobs are Job
// nodes; each completed stage is a StageOutput node linked by HAS_OUTPUT.
// It requires CGO because the go-kuzu driver wraps KuzuDB's C library.
type KuzuStore struct {
	mu   sync.RWMutex
	db   *kuzu.Database
	conn *kuzu.Connection
	now  func() time.Time
}

// Compile-time check that KuzuStore satisfies Store.
var _ Store = (*KuzuStore)(nil)

// NewKuzuStore opens (or creates) a file-backed KuzuDB at dbPath and
// initializes the schema. Use ":memory:" for a throwaway database.
func NewKuzuStore(dbPath string) (*KuzuStore, error) {
	if dbPath != ":memory:" {
		// KuzuDB creates the leaf directory itself.
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("kuzu: create parent directory: %w", err)
		}
	}
	cfg := kuzu.DefaultSystemConfig()
	db, err := kuzu.OpenDatabase(dbPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("kuzu: open database: %w", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}

	s := &KuzuStore{db: db, conn: conn, now: time.Now}
	if err := s.initSchema(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// ---------- Schema setup ----------

// kuzuDDL must create node tables before the relationship table.
var kuzuDDL = []string{
	`CREATE NODE TABLE IF NOT EXISTS Job(
		id STRING,
		source_ref STRING,
		created_at INT64,
		updated_at INT64,
		PRIMARY KEY(id)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS StageOutput(
		key STRING,
		job_id STRING,
		stage STRING,
		value STRING,
		PRIMARY KEY(key)
	)`,
	`CREATE REL TABLE IF NOT EXISTS HAS_OUTPUT(FROM Job TO StageOutput)`,
}

func (s *KuzuStore) initSchema() error {
	for _, stmt := range kuzuDDL {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return fmt.Errorf("kuzu: init schema: %w", err)
		}
		res.Close()
	}
	return nil
}

// ---------- Store ----------

// Create validates the source and inserts a Job node.
func (s *KuzuStore) Create(_ context.Context, sourceRef string) (*job.Job, error) {
	j, err := newJob(sourceRef, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.exec(
		"CREATE (j:Job {id: $id, source_ref: $src, created_at: $created, updated_at: $updated})",
		map[string]any{
			"id":      j.ID,
			"src":     j.SourceRef,
			"created": j.CreatedAt.UnixNano(),
			"updated": j.UpdatedAt.UnixNano(),
		},
	)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// Get loads the Job node and its outputs.
func (s *KuzuStore) Get(_ context.Context, id string) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(id, true)
}

// PutStageOutput merges the StageOutput node and its edge inside a single
// KuzuDB transaction.
func (s *KuzuStore) PutStageOutput(_ context.Context, id string, stage job.Stage, value json.RawMessage) error {
	if err := checkPut(stage, value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.load(id, false); err != nil {
		return err
	}

	if err := s.exec("BEGIN TRANSACTION", nil); err != nil {
		return err
	}
	key := id + ":" + stage.String()
	steps := []struct {
		cypher string
		params map[string]any
	}{
		{
			`MERGE (o:StageOutput {key: $key})
			 SET o.job_id = $id, o.stage = $stage, o.value = $value`,
			map[string]any{"key": key, "id": id, "stage": stage.String(), "value": string(value)},
		},
		{
			`MATCH (j:Job {id: $id}), (o:StageOutput {key: $key})
			 MERGE (j)-[:HAS_OUTPUT]->(o)`,
			map[string]any{"id": id, "key": key},
		},
		{
			`MATCH (j:Job {id: $id}) SET j.updated_at = $updated`,
			map[string]any{"id": id, "updated": s.now().UTC().UnixNano()},
		},
	}
	for _, step := range steps {
		if err := s.exec(step.cypher, step.params); err != nil {
			_ = s.exec("ROLLBACK", nil)
			return fmt.Errorf("kuzu: put %s output: %w", stage, err)
		}
	}
	return s.exec("COMMIT", nil)
}

// List summarizes every job, oldest first.
func (s *KuzuStore) List(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.query("MATCH (j:Job) RETURN j.id ORDER BY j.created_at, j.id", nil)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(rows))
	for _, r := range rows {
		j, err := s.load(toString(r[0]), true)
		if err != nil {
			return nil, err
		}
		out = append(out, Summarize(j))
	}
	return out, nil
}

// load reads the Job node and, when withOutputs is set, its stage outputs.
// Callers hold s.mu.
func (s *KuzuStore) load(id string, withOutputs bool) (*job.Job, error) {
	rows, err := s.query(
		"MATCH (j:Job {id: $id}) RETURN j.source_ref, j.created_at, j.updated_at",
		map[string]any{"id": id},
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("job %q: %w", id, ErrNotFound)
	}
	r := rows[0]
	j := &job.Job{
		ID:        id,
		SourceRef: toString(r[0]),
		Outputs:   make(map[job.Stage]json.RawMessage),
		CreatedAt: time.Unix(0, toInt64(r[1])).UTC(),
		UpdatedAt: time.Unix(0, toInt64(r[2])).UTC(),
	}
	if !withOutputs {
		return j, nil
	}

	outs, err := s.query(
		"MATCH (j:Job {id: $id})-[:HAS_OUTPUT]->(o:StageOutput) RETURN o.stage, o.value",
		map[string]any{"id": id},
	)
	if err != nil {
		return nil, err
	}
	for _, o := range outs {
		stage, err := job.ParseStage(toString(o[0]))
		if err != nil {
			return nil, fmt.Errorf("kuzu: job %s: %w", id, err)
		}
		j.Outputs[stage] = json.RawMessage(toString(o[1]))
	}
	return j, nil
}

// ---------- Internal helpers ----------

// exec runs a parameterized Cypher statement that produces no result rows.
func (s *KuzuStore) exec(cypher string, params map[string]any) error {
	if len(params) == 0 {
		res, err := s.conn.Query(cypher)
		if err != nil {
			return fmt.Errorf("kuzu: query: %w", err)
		}
		res.Close()
		return nil
	}

	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return fmt.Errorf("kuzu: execute: %w", err)
	}
	res.Close()
	return nil
}

// query runs a parameterized Cypher statement and collects all result rows.
// Each row is a []any slice with values in column order.
func (s *KuzuStore) query(cypher string, params map[string]any) ([][]any, error) {
	var res *kuzu.QueryResult
	var err error

	if len(params) == 0 {
		res, err = s.conn.Query(cypher)
	} else {
		var stmt *kuzu.PreparedStatement
		stmt, err = s.conn.Prepare(cypher)
		if err != nil {
			return nil, fmt.Errorf("kuzu: prepare: %w", err)
		}
		defer stmt.Close()
		res, err = s.conn.Execute(stmt, params)
	}
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
