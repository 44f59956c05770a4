// Package jobstore persists Job records and their stage outputs.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/dusk-indust/papercast/internal/job"
)

var (
	// ErrNotFound is returned when a job id has no record.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidSource is returned by Create for an unusable source reference.
	ErrInvalidSource = errors.New("invalid source")
)

// Store is the durable record of job state. Implementations: FileStore
// (default), PostgresStore, KuzuStore, and MemStore (testing).
//
// PutStageOutput must be atomic with respect to concurrent readers: Get
// returns either the previous value or the new one, never a partial write.
type Store interface {
	io.Closer

	Create(ctx context.Context, sourceRef string) (*job.Job, error)
	Get(ctx context.Context, id string) (*job.Job, error)

	// PutStageOutput overwrites the stage's output. Writing the same value
	// twice is a no-op apart from UpdatedAt.
	PutStageOutput(ctx context.Context, id string, stage job.Stage, value json.RawMessage) error

	// List returns a summary per job, oldest first.
	List(ctx context.Context) ([]Summary, error)
}

// Summary is one row of Store.List.
type Summary struct {
	ID            string    `json:"id"`
	SourceRef     string    `json:"sourceRef"`
	CompletedStep job.Step  `json:"completedStep"`
	Stages        []string  `json:"stages"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Summarize builds the list row for a job. CompletedStep is derived from the
// furthest stage that has an output, honouring skippable stages.
func Summarize(j *job.Job) Summary {
	s := Summary{
		ID:            j.ID,
		SourceRef:     j.SourceRef,
		CompletedStep: CompletedStep(j),
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
	for _, stage := range job.Stages() {
		if j.Completed(stage) {
			s.Stages = append(s.Stages, stage.String())
		}
	}
	return s
}

// CompletedStep scans outputs in pipeline order and stops at the first gap
// that is not a skippable stage.
func CompletedStep(j *job.Job) job.Step {
	furthest := -1
	for _, stage := range job.Stages() {
		if j.Completed(stage) {
			furthest = int(stage)
			continue
		}
		if !stage.Skippable() {
			break
		}
	}

	switch {
	case furthest < 0:
		return job.StepNotStarted
	case furthest == int(job.StageExtraction):
		return job.StepExtractionDone
	case furthest == int(job.StagePlanning):
		return job.StepPlanningDone
	case furthest == int(job.StageComposition):
		return job.StepFullyComplete
	case j.Completed(job.StageSegmentRendering):
		return job.StepRenderingDone
	default:
		// Narration finished ahead of a skipped rendering stage.
		return job.StepPlanningDone
	}
}

// newJob validates the source and builds a fresh record.
func newJob(sourceRef string, now time.Time) (*job.Job, error) {
	if err := job.ValidateSource(sourceRef); err != nil {
		return nil, errors.Join(ErrInvalidSource, err)
	}
	return &job.Job{
		ID:        uuid.NewString(),
		SourceRef: sourceRef,
		Outputs:   make(map[job.Stage]json.RawMessage),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// checkPut validates PutStageOutput arguments shared by every backend.
func checkPut(stage job.Stage, value json.RawMessage) error {
	if !stage.Valid() {
		return errors.New("invalid stage")
	}
	if !json.Valid(value) {
		return errors.New("stage output is not valid JSON")
	}
	return nil
}
