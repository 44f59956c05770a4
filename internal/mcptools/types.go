package mcptools

// --- MCP tool types for the papercast server mode (serve-mcp) ---
// Stages are passed as slugs ("planning") or numbers ("1"). Outputs use
// plain strings and numbers so the inferred schemas match the JSON sent.

// CreateJobInput is the input for the create_job tool.
type CreateJobInput struct {
	SourceRef string `json:"sourceRef" jsonschema:"path or URL of the source PDF"`
}

// CreateJobOutput is the result of the create_job tool.
type CreateJobOutput struct {
	JobID     string `json:"jobId"`
	SourceRef string `json:"sourceRef"`
	CreatedAt string `json:"createdAt"`
}

// StageInput names one stage of one job.
type StageInput struct {
	JobID string `json:"jobId" jsonschema:"job id returned by create_job"`
	Stage string `json:"stage" jsonschema:"stage slug (extraction, planning, segment-rendering, narration, composition) or number 0-4"`
}

// AdvanceStageOutput is the result of the advance_stage tool.
type AdvanceStageOutput struct {
	JobID    string          `json:"jobId"`
	Stage    string          `json:"stage"`
	Status   string          `json:"status"` // "completed", "cached" or "in-progress"
	Total    int             `json:"total,omitempty"`
	Output   any             `json:"output,omitempty"`
	Progress *ProgressOutput `json:"progress,omitempty"`
}

// ProgressOutput is a snapshot of a fan-out stage.
type ProgressOutput struct {
	JobID        string          `json:"jobId"`
	Stage        string          `json:"stage"`
	Status       string          `json:"status"`
	Total        int             `json:"total"`
	Completed    int             `json:"completed"`
	Fraction     float64         `json:"fraction"`
	CurrentIndex int             `json:"currentIndex"`
	CurrentTitle string          `json:"currentTitle,omitempty"`
	Failures     int             `json:"failures"`
	Results      []SegmentOutput `json:"results"`
	Error        string          `json:"error,omitempty"`
}

// SegmentOutput is one segment's result.
type SegmentOutput struct {
	Segment         int     `json:"segment"`
	Status          string  `json:"status"`
	ArtifactRef     string  `json:"artifactRef,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// StageOutputResult is the result of the get_stage_output tool.
type StageOutputResult struct {
	JobID  string `json:"jobId"`
	Stage  string `json:"stage"`
	Output any    `json:"output"`
}

// CancelStageOutput is the result of the cancel_stage tool.
type CancelStageOutput struct {
	JobID     string `json:"jobId"`
	Stage     string `json:"stage"`
	Cancelled bool   `json:"cancelled"`
}

// ListJobsInput is the input for the list_jobs tool.
type ListJobsInput struct{}

// ListJobsOutput is the result of the list_jobs tool.
type ListJobsOutput struct {
	Jobs []JobSummary `json:"jobs"`
}

// JobSummary is a brief overview of one job.
type JobSummary struct {
	JobID           string   `json:"jobId"`
	SourceRef       string   `json:"sourceRef"`
	Step            string   `json:"step"`
	CompletedStages []string `json:"completedStages"`
	NextStage       string   `json:"nextStage,omitempty"` // empty when every stage is complete
	Running         []string `json:"running,omitempty"`
}

// RestoreJobInput is the input for the restore_job tool.
type RestoreJobInput struct {
	JobID string `json:"jobId" jsonschema:"job id to reload after a restart"`
}
