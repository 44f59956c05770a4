package orchestrator

import (
	"context"

	"github.com/dusk-indust/papercast/internal/job"
)

// Extractor turns a job's source document into text.
type Extractor interface {
	Extract(ctx context.Context, jobID, sourceRef string) (*job.Document, error)
}

// Planner turns extracted text into a segmented content plan.
type Planner interface {
	Plan(ctx context.Context, jobID string, doc *job.Document) (*job.ContentPlan, error)
}

// SegmentExecutor produces one artifact for one plan segment. Failures are
// reported inside the returned result, never as a Go error, so one bad
// segment does not stop its siblings.
type SegmentExecutor interface {
	Run(ctx context.Context, jobID string, seg job.Segment) job.SegmentResult
}

// SegmentFunc adapts a plain function to SegmentExecutor.
type SegmentFunc func(ctx context.Context, jobID string, seg job.Segment) job.SegmentResult

// Run calls f.
func (f SegmentFunc) Run(ctx context.Context, jobID string, seg job.Segment) job.SegmentResult {
	return f(ctx, jobID, seg)
}

// Composer assembles the final video from reconciled clips.
type Composer interface {
	Compose(ctx context.Context, jobID string, plan *job.ContentPlan, clips []job.Clip) (*job.Video, error)
}

// Executors bundles one executor per stage. A nil executor makes its stage
// fail with an ExecutorError when triggered.
type Executors struct {
	Extractor Extractor
	Planner   Planner
	Renderer  SegmentExecutor
	Narrator  SegmentExecutor
	Composer  Composer
}

func (e Executors) segment(stage job.Stage) SegmentExecutor {
	switch stage {
	case job.StageSegmentRendering:
		return e.Renderer
	case job.StageNarration:
		return e.Narrator
	default:
		return nil
	}
}
