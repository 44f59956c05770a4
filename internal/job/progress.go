package job

import "time"

// ProgressStatus is the overall state of an in-flight fan-out.
type ProgressStatus string

const (
	ProgressRunning   ProgressStatus = "running"
	ProgressComplete  ProgressStatus = "complete"
	ProgressError     ProgressStatus = "error"
	ProgressCancelled ProgressStatus = "cancelled"
)

// Terminal reports whether no further updates will follow.
func (s ProgressStatus) Terminal() bool {
	return s == ProgressComplete || s == ProgressError || s == ProgressCancelled
}

// ProgressState is the pollable view of one fan-out stage for one job.
// Results are appended in segment order.
type ProgressState struct {
	JobID        string          `json:"jobId"`
	Stage        Stage           `json:"stage"`
	Total        int             `json:"total"`
	Completed    int             `json:"completed"`
	CurrentIndex int             `json:"currentIndex"`
	CurrentTitle string          `json:"currentTitle,omitempty"`
	Status       ProgressStatus  `json:"status"`
	Results      []SegmentResult `json:"results"`
	Error        string          `json:"error,omitempty"`
	StartedAt    time.Time       `json:"startedAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Fraction returns completed/total in [0, 1].
func (p ProgressState) Fraction() float64 {
	if p.Total <= 0 {
		if p.Status == ProgressComplete {
			return 1
		}
		return 0
	}
	return float64(p.Completed) / float64(p.Total)
}

// Terminal reports whether the fan-out has finished.
func (p ProgressState) Terminal() bool {
	return p.Status.Terminal()
}

// Failures counts results with status failed.
func (p ProgressState) Failures() int {
	n := 0
	for _, r := range p.Results {
		if r.Status == SegmentFailed {
			n++
		}
	}
	return n
}

// Step is the coarse discovery classification of a job: the furthest point
// reached without a gap.
type Step string

const (
	StepNotStarted     Step = "not-started"
	StepExtractionDone Step = "extraction-done"
	StepPlanningDone   Step = "planning-done"
	StepRenderingDone  Step = "rendering-done"
	StepFullyComplete  Step = "fully-complete"
)
