// Package export renders a job's state for humans and other tools: a JSON
// document with decoded stage outputs and a Mermaid diagram of the stage
// graph.
package export

import (
	"fmt"
	"time"

	"github.com/dusk-indust/papercast/internal/job"
	"github.com/dusk-indust/papercast/internal/orchestrator"
	"github.com/dusk-indust/papercast/internal/status"
)

// JobExport is the top-level JSON export structure.
type JobExport struct {
	ID         string          `json:"id"`
	SourceRef  string          `json:"sourceRef"`
	ExportedAt string          `json:"exportedAt"`
	Step       job.Step        `json:"step"`
	Stages     []StageExport   `json:"stages"`
	Title      string          `json:"title,omitempty"`
	Summary    string          `json:"summary,omitempty"`
	Segments   []SegmentExport `json:"segments,omitempty"`
	Video      *job.Video      `json:"video,omitempty"`
}

// StageExport describes one pipeline stage.
type StageExport struct {
	Stage    int    `json:"stage"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Segments int    `json:"segments,omitempty"`
	Failures int    `json:"failures,omitempty"`
}

// SegmentExport joins a plan segment with its render and narration
// results. A side is nil until its stage has output.
type SegmentExport struct {
	Number     int                `json:"number"`
	Title      string             `json:"title"`
	VisualType job.VisualType     `json:"visualType,omitempty"`
	Render     *job.SegmentResult `json:"render,omitempty"`
	Narration  *job.SegmentResult `json:"narration,omitempty"`
}

// ExportJob builds a JobExport from a stored job. running lists stages
// with an in-flight fan-out; they are reported as "running".
func ExportJob(j *job.Job, running []job.Stage, now time.Time) (*JobExport, error) {
	js := status.Describe(j)
	out := &JobExport{
		ID:         j.ID,
		SourceRef:  j.SourceRef,
		ExportedAt: now.UTC().Format(time.RFC3339),
		Step:       js.Step,
	}

	for _, si := range js.Stages {
		out.Stages = append(out.Stages, StageExport{
			Stage:    si.Stage,
			Name:     si.Name,
			Status:   stageStatus(si, js.NextStage, running),
			Segments: si.Segments,
			Failures: si.Failures,
		})
	}

	if !j.Completed(job.StagePlanning) {
		return out, nil
	}
	plan, err := j.Plan()
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", j.ID, err)
	}
	out.Title, out.Summary = plan.Title, plan.Summary

	renders, err := optionalResults(j, job.StageSegmentRendering)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", j.ID, err)
	}
	narrations, err := optionalResults(j, job.StageNarration)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", j.ID, err)
	}
	clips, err := orchestrator.Reconcile(plan, renders, narrations)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", j.ID, err)
	}
	for _, c := range clips {
		se := SegmentExport{Number: c.Segment.Number, Title: c.Segment.Title, VisualType: c.Segment.VisualType}
		if renders != nil {
			se.Render = &c.Render
		}
		if narrations != nil {
			se.Narration = &c.Narration
		}
		out.Segments = append(out.Segments, se)
	}

	if j.Completed(job.StageComposition) {
		if out.Video, err = j.Video(); err != nil {
			return nil, fmt.Errorf("export %s: %w", j.ID, err)
		}
	}
	return out, nil
}

func optionalResults(j *job.Job, stage job.Stage) ([]job.SegmentResult, error) {
	if !j.Completed(stage) {
		return nil, nil
	}
	results, err := j.SegmentResults(stage)
	if results == nil && err == nil {
		results = []job.SegmentResult{}
	}
	return results, err
}

func stageStatus(si status.StageInfo, next int, running []job.Stage) string {
	for _, r := range running {
		if int(r) == si.Stage {
			return "running"
		}
	}
	switch {
	case si.Complete:
		return "complete"
	case si.Stage == next:
		return "next"
	default:
		return "pending"
	}
}
