package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dusk-indust/papercast/internal/job"
)

// Compile-time assertion: *PostgresStore satisfies Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore keeps jobs in a jobs table and one JSONB row per completed
// stage in stage_outputs. PutStageOutput is a single upsert inside a
// transaction, so readers see the old or the new value only.
type PostgresStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id          TEXT PRIMARY KEY,
		source_ref  TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stage_outputs (
		job_id      TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		stage       TEXT NOT NULL,
		value       JSONB NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (job_id, stage)
	)`,
}

// NewPostgresStore connects to dsn, verifies the connection, and creates the
// schema if it does not exist.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := NewPostgresStoreFromPool(pool)
	if err := s.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromPool wraps an existing pool. The caller owns schema
// creation via InitSchema.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool, now: time.Now}
}

// InitSchema creates the tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init schema: %w", err)
		}
	}
	return nil
}

// Create validates the source and inserts a job row.
func (s *PostgresStore) Create(ctx context.Context, sourceRef string) (*job.Job, error) {
	j, err := newJob(sourceRef, s.now().UTC())
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO jobs (id, source_ref, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		j.ID, j.SourceRef, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert job: %w", err)
	}
	return j, nil
}

// Get loads a job and all of its stage outputs in one query.
func (s *PostgresStore) Get(ctx context.Context, id string) (*job.Job, error) {
	rows, err := s.db.Query(ctx,
		`SELECT j.id, j.source_ref, j.created_at, j.updated_at, o.stage, o.value
		   FROM jobs j
		   LEFT JOIN stage_outputs o ON o.job_id = j.id
		  WHERE j.id = $1`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: get job: %w", err)
	}

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("job %q: %w", id, ErrNotFound)
	}
	return jobs[0], nil
}

// PutStageOutput upserts the stage row and bumps the job's updated_at.
func (s *PostgresStore) PutStageOutput(ctx context.Context, id string, stage job.Stage, value json.RawMessage) error {
	if err := checkPut(stage, value); err != nil {
		return err
	}
	now := s.now().UTC()

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE jobs SET updated_at = $2 WHERE id = $1`, id, now)
		if err != nil {
			return fmt.Errorf("postgres: touch job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("job %q: %w", id, ErrNotFound)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO stage_outputs (job_id, stage, value, updated_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (job_id, stage)
			 DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
			id, stage.String(), []byte(value), now,
		)
		if err != nil {
			return fmt.Errorf("postgres: upsert %s output: %w", stage, err)
		}
		return nil
	})
}

// List summarizes every job, oldest first.
func (s *PostgresStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.Query(ctx,
		`SELECT j.id, j.source_ref, j.created_at, j.updated_at, o.stage, o.value
		   FROM jobs j
		   LEFT JOIN stage_outputs o ON o.job_id = j.id
		  ORDER BY j.created_at, j.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list jobs: %w", err)
	}

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, Summarize(j))
	}
	return out, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// collectJobs folds joined (job, stage output) rows into jobs, preserving
// the row order of first appearance.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	defer rows.Close()

	var (
		order []*job.Job
		byID  = make(map[string]*job.Job)
	)
	for rows.Next() {
		var (
			id, sourceRef        string
			createdAt, updatedAt time.Time
			stageName            *string
			value                []byte
		)
		if err := rows.Scan(&id, &sourceRef, &createdAt, &updatedAt, &stageName, &value); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}

		j, ok := byID[id]
		if !ok {
			j = &job.Job{
				ID:        id,
				SourceRef: sourceRef,
				Outputs:   make(map[job.Stage]json.RawMessage),
				CreatedAt: createdAt.UTC(),
				UpdatedAt: updatedAt.UTC(),
			}
			byID[id] = j
			order = append(order, j)
		}
		if stageName == nil {
			continue
		}
		stage, err := job.ParseStage(*stageName)
		if err != nil {
			return nil, fmt.Errorf("postgres: job %s: %w", id, err)
		}
		j.Outputs[stage] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}
	return order, nil
}
