package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/papercast/internal/job"
	"github.com/dusk-indust/papercast/internal/orchestrator"
	"github.com/dusk-indust/papercast/internal/status"
)

// Pipeline is the subset of *orchestrator.Orchestrator the tools call.
type Pipeline interface {
	CreateJob(ctx context.Context, sourceRef string) (*job.Job, error)
	EnsureStage(ctx context.Context, jobID string, stage job.Stage) (*orchestrator.StageOutcome, error)
	PollStage(ctx context.Context, jobID string, stage job.Stage) (job.ProgressState, error)
	StageOutput(ctx context.Context, jobID string, stage job.Stage) (json.RawMessage, error)
	CancelStage(jobID string, stage job.Stage) error
	Restore(ctx context.Context, jobID string) (*job.Job, error)
	ListJobs(ctx context.Context) ([]status.JobStatus, error)
}

var _ Pipeline = (*orchestrator.Orchestrator)(nil)

// JobService handles MCP tool calls by delegating to a Pipeline.
type JobService struct {
	pipeline Pipeline
}

// NewJobService creates a JobService.
func NewJobService(pipeline Pipeline) *JobService {
	return &JobService{pipeline: pipeline}
}

// CreateJob registers a new job for a source document.
func (s *JobService) CreateJob(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input CreateJobInput,
) (*mcp.CallToolResult, CreateJobOutput, error) {
	if input.SourceRef == "" {
		return nil, CreateJobOutput{}, fmt.Errorf("sourceRef is required")
	}
	j, err := s.pipeline.CreateJob(ctx, input.SourceRef)
	if err != nil {
		return nil, CreateJobOutput{}, err
	}
	return nil, CreateJobOutput{
		JobID:     j.ID,
		SourceRef: j.SourceRef,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
	}, nil
}

// AdvanceStage ensures a stage is produced. Fan-out stages return at once
// with status "in-progress"; poll_stage reports their progress.
func (s *JobService) AdvanceStage(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input StageInput,
) (*mcp.CallToolResult, AdvanceStageOutput, error) {
	stage, err := parseStage(input)
	if err != nil {
		return nil, AdvanceStageOutput{}, err
	}
	outcome, err := s.pipeline.EnsureStage(ctx, input.JobID, stage)
	if err != nil {
		return nil, AdvanceStageOutput{}, err
	}

	out := AdvanceStageOutput{
		JobID: outcome.JobID,
		Stage: outcome.Stage.String(),
		Total: outcome.Total,
	}
	switch {
	case outcome.InFlight:
		out.Status = "in-progress"
	case outcome.Cached:
		out.Status = "cached"
	default:
		out.Status = "completed"
	}
	if outcome.Progress != nil {
		p := progressOutput(*outcome.Progress)
		out.Progress = &p
	}
	if out.Output, err = decodeOutput(outcome.Output); err != nil {
		return nil, AdvanceStageOutput{}, err
	}
	return nil, out, nil
}

// PollStage reports the progress of a stage.
func (s *JobService) PollStage(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input StageInput,
) (*mcp.CallToolResult, ProgressOutput, error) {
	stage, err := parseStage(input)
	if err != nil {
		return nil, ProgressOutput{}, err
	}
	state, err := s.pipeline.PollStage(ctx, input.JobID, stage)
	if err != nil {
		return nil, ProgressOutput{}, err
	}
	return nil, progressOutput(state), nil
}

// GetStageOutput returns the stored output of a completed stage.
func (s *JobService) GetStageOutput(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input StageInput,
) (*mcp.CallToolResult, StageOutputResult, error) {
	stage, err := parseStage(input)
	if err != nil {
		return nil, StageOutputResult{}, err
	}
	raw, err := s.pipeline.StageOutput(ctx, input.JobID, stage)
	if err != nil {
		return nil, StageOutputResult{}, err
	}
	value, err := decodeOutput(raw)
	if err != nil {
		return nil, StageOutputResult{}, err
	}
	return nil, StageOutputResult{JobID: input.JobID, Stage: stage.String(), Output: value}, nil
}

// CancelStage stops a running fan-out.
func (s *JobService) CancelStage(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input StageInput,
) (*mcp.CallToolResult, CancelStageOutput, error) {
	stage, err := parseStage(input)
	if err != nil {
		return nil, CancelStageOutput{}, err
	}
	if err := s.pipeline.CancelStage(input.JobID, stage); err != nil {
		return nil, CancelStageOutput{}, err
	}
	return nil, CancelStageOutput{JobID: input.JobID, Stage: stage.String(), Cancelled: true}, nil
}

// ListJobs summarizes every job in the store.
func (s *JobService) ListJobs(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ ListJobsInput,
) (*mcp.CallToolResult, ListJobsOutput, error) {
	jobs, err := s.pipeline.ListJobs(ctx)
	if err != nil {
		return nil, ListJobsOutput{}, err
	}
	out := ListJobsOutput{Jobs: make([]JobSummary, 0, len(jobs))}
	for _, js := range jobs {
		out.Jobs = append(out.Jobs, jobSummary(js))
	}
	return nil, out, nil
}

// RestoreJob reloads a job after a restart so polls of its completed
// fan-out stages are answered from memory.
func (s *JobService) RestoreJob(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input RestoreJobInput,
) (*mcp.CallToolResult, JobSummary, error) {
	j, err := s.pipeline.Restore(ctx, input.JobID)
	if err != nil {
		return nil, JobSummary{}, err
	}
	return nil, jobSummary(status.Describe(j)), nil
}

// ---------- Conversions ----------

func parseStage(input StageInput) (job.Stage, error) {
	if input.JobID == "" {
		return 0, fmt.Errorf("jobId is required")
	}
	stage, err := job.ParseStage(input.Stage)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", orchestrator.ErrInvalidStage, err)
	}
	return stage, nil
}

func decodeOutput(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode stage output: %w", err)
	}
	return v, nil
}

func progressOutput(p job.ProgressState) ProgressOutput {
	out := ProgressOutput{
		JobID:        p.JobID,
		Stage:        p.Stage.String(),
		Status:       string(p.Status),
		Total:        p.Total,
		Completed:    p.Completed,
		Fraction:     p.Fraction(),
		CurrentIndex: p.CurrentIndex,
		CurrentTitle: p.CurrentTitle,
		Failures:     p.Failures(),
		Results:      make([]SegmentOutput, 0, len(p.Results)),
		Error:        p.Error,
	}
	for _, r := range p.Results {
		out.Results = append(out.Results, SegmentOutput{
			Segment:         r.Segment,
			Status:          string(r.Status),
			ArtifactRef:     r.ArtifactRef,
			DurationSeconds: r.DurationSeconds,
			Error:           r.Error,
		})
	}
	return out
}

func jobSummary(js status.JobStatus) JobSummary {
	out := JobSummary{
		JobID:           js.ID,
		SourceRef:       js.SourceRef,
		Step:            string(js.Step),
		CompletedStages: []string{},
	}
	for _, info := range js.Stages {
		if info.Complete {
			out.CompletedStages = append(out.CompletedStages, info.Slug)
		}
	}
	if js.NextStage >= 0 {
		out.NextStage = job.Stage(js.NextStage).String()
	}
	for _, st := range js.Running {
		out.Running = append(out.Running, st.String())
	}
	return out
}
