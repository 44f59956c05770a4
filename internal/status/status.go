// Package status classifies stored jobs by how far they have progressed.
package status

import (
	"context"
	"time"

	"github.com/dusk-indust/papercast/internal/job"
	"github.com/dusk-indust/papercast/internal/jobstore"
)

// StageInfo describes the completion state of a single stage.
type StageInfo struct {
	Stage    int    `json:"stage"`
	Name     string `json:"name"` // human-readable name (e.g. "Content Planning")
	Slug     string `json:"slug"` // stable identifier (e.g. "planning")
	Complete bool   `json:"complete"`
	Segments int    `json:"segments,omitempty"` // plan segments or fan-out results
	Failures int    `json:"failures,omitempty"` // failed fan-out results
}

// JobStatus holds the status of one job.
type JobStatus struct {
	ID        string      `json:"id"`
	SourceRef string      `json:"sourceRef"`
	Step      job.Step    `json:"step"`
	Stages    []StageInfo `json:"stages"`
	NextStage int         `json:"nextStage"` // -1 if all complete
	Running   []job.Stage `json:"running,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Classify returns the furthest step the job reached without a gap.
func Classify(j *job.Job) job.Step {
	return jobstore.CompletedStep(j)
}

// NextStage returns the first stage without output, or the first required
// prerequisite it is still missing. Returns -1 if every stage is complete.
func NextStage(j *job.Job) int {
	for _, stage := range job.Stages() {
		if j.Completed(stage) {
			continue
		}
		for _, p := range stage.Prerequisites() {
			if p.Required && !j.Completed(p.Stage) {
				return int(p.Stage)
			}
		}
		return int(stage)
	}
	return -1
}

// Describe returns detailed status for a single job. Output that fails to
// decode is reported as complete with no segment counts.
func Describe(j *job.Job) JobStatus {
	stages := make([]StageInfo, 0, len(job.Stages()))
	for _, stage := range job.Stages() {
		info := StageInfo{
			Stage:    int(stage),
			Name:     stage.Label(),
			Slug:     stage.String(),
			Complete: j.Completed(stage),
		}
		if info.Complete {
			switch {
			case stage == job.StagePlanning:
				if plan, err := j.Plan(); err == nil {
					info.Segments = len(plan.Segments)
				}
			case stage.FanOut():
				if results, err := j.SegmentResults(stage); err == nil {
					info.Segments = len(results)
					for _, r := range results {
						if r.Status == job.SegmentFailed {
							info.Failures++
						}
					}
				}
			}
		}
		stages = append(stages, info)
	}

	return JobStatus{
		ID:        j.ID,
		SourceRef: j.SourceRef,
		Step:      Classify(j),
		Stages:    stages,
		NextStage: NextStage(j),
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// Discover loads every job in the store and describes it, in the store's
// listing order.
func Discover(ctx context.Context, store jobstore.Store) ([]JobStatus, error) {
	list, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]JobStatus, 0, len(list))
	for _, sum := range list {
		j, err := store.Get(ctx, sum.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, Describe(j))
	}
	return out, nil
}
