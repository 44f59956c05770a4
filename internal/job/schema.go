// Package job defines the records that flow through the video generation
// pipeline: jobs, stage outputs, content plans, segments, and progress.
package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ErrStageMissing is returned by the typed accessors when the requested
// stage has no persisted output.
var ErrStageMissing = errors.New("stage output missing")

// Job is the unit of work for one source document through the pipeline.
// A key in Outputs means that stage is complete and cached.
type Job struct {
	ID        string                    `json:"id"`
	SourceRef string                    `json:"sourceRef"`
	Outputs   map[Stage]json.RawMessage `json:"outputs"`
	CreatedAt time.Time                 `json:"createdAt"`
	UpdatedAt time.Time                 `json:"updatedAt"`
}

// Completed reports whether the stage has a persisted output.
func (j *Job) Completed(stage Stage) bool {
	if j == nil || j.Outputs == nil {
		return false
	}
	_, ok := j.Outputs[stage]
	return ok
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	dst := *j
	dst.Outputs = make(map[Stage]json.RawMessage, len(j.Outputs))
	for stage, raw := range j.Outputs {
		dst.Outputs[stage] = append(json.RawMessage(nil), raw...)
	}
	return &dst
}

// Document returns the decoded extraction output.
func (j *Job) Document() (*Document, error) {
	var doc Document
	if err := j.decode(StageExtraction, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Plan returns the decoded planning output.
func (j *Job) Plan() (*ContentPlan, error) {
	var plan ContentPlan
	if err := j.decode(StagePlanning, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// SegmentResults returns the decoded output of a fan-out stage.
func (j *Job) SegmentResults(stage Stage) ([]SegmentResult, error) {
	if !stage.FanOut() {
		return nil, fmt.Errorf("stage %s does not produce segment results", stage)
	}
	var results []SegmentResult
	if err := j.decode(stage, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Video returns the decoded composition output.
func (j *Job) Video() (*Video, error) {
	var v Video
	if err := j.decode(StageComposition, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (j *Job) decode(stage Stage, v any) error {
	raw, ok := j.Outputs[stage]
	if !ok {
		return fmt.Errorf("%s: %w", stage, ErrStageMissing)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s output: %w", stage, err)
	}
	return nil
}

// ValidateSource checks that a source reference names a PDF document.
func ValidateSource(ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return errors.New("source reference is empty")
	}
	if !strings.EqualFold(path.Ext(ref), ".pdf") {
		return fmt.Errorf("source %q is not a PDF document", ref)
	}
	return nil
}

// Document is the extraction stage's output.
type Document struct {
	Text  string `json:"text"`
	Pages int    `json:"pages,omitempty"`
	Chars int    `json:"chars"`
}

// VisualType is the animation style requested for a segment.
type VisualType string

const (
	VisualTextReveal      VisualType = "text_reveal"
	VisualDiagram         VisualType = "diagram"
	VisualEquation        VisualType = "equation"
	VisualGraph           VisualType = "graph"
	VisualComparison      VisualType = "comparison"
	VisualTimeline        VisualType = "timeline"
	VisualIconGrid        VisualType = "icon_grid"
	VisualCodeWalkthrough VisualType = "code_walkthrough"
)

// ContentPlan is the planning stage's output. Segment order is presentation
// order and is preserved end to end.
type ContentPlan struct {
	Title                 string    `json:"title"`
	Summary               string    `json:"summary"`
	TargetDurationMinutes int       `json:"targetDurationMinutes"`
	Segments              []Segment `json:"segments"`
}

// Segment is one unit of fan-out work. Number is 1-based and unique within a
// plan; it is the join key for rendering and narration results.
type Segment struct {
	Number            int        `json:"number"`
	Title             string     `json:"title"`
	VisualType        VisualType `json:"visualType,omitempty"`
	VisualDescription string     `json:"visualDescription"`
	KeyPoints         []string   `json:"keyPoints"`
	NarrationScript   string     `json:"narrationScript"`
	DurationSeconds   int        `json:"durationSeconds"`
	TransitionNote    string     `json:"transitionNote,omitempty"`
	SkipNarration     bool       `json:"skipNarration,omitempty"`
}

// Validate checks that the plan has segments with unique 1-based numbers.
func (p *ContentPlan) Validate() error {
	if p == nil {
		return errors.New("plan is nil")
	}
	if len(p.Segments) == 0 {
		return errors.New("plan has no segments")
	}
	seen := make(map[int]bool, len(p.Segments))
	for i, seg := range p.Segments {
		if seg.Number < 1 {
			return fmt.Errorf("segment %d: number must be >= 1, got %d", i, seg.Number)
		}
		if seen[seg.Number] {
			return fmt.Errorf("segment %d: duplicate number %d", i, seg.Number)
		}
		seen[seg.Number] = true
	}
	return nil
}

// SegmentStatus tags the outcome of one fan-out item.
type SegmentStatus string

const (
	SegmentSuccess SegmentStatus = "success"
	SegmentFailed  SegmentStatus = "failed"
	SegmentSkipped SegmentStatus = "skipped"
)

// SegmentResult is produced by segment rendering or narration for one
// segment. ArtifactRef points at the video or audio on success.
type SegmentResult struct {
	Segment         int           `json:"segment"`
	Status          SegmentStatus `json:"status"`
	ArtifactRef     string        `json:"artifactRef,omitempty"`
	DurationSeconds float64       `json:"durationSeconds,omitempty"`
	RenderSeconds   float64       `json:"renderSeconds,omitempty"`
	SizeBytes       int64         `json:"sizeBytes,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// Failed builds a failed result for a segment.
func Failed(segment int, err error) SegmentResult {
	return SegmentResult{Segment: segment, Status: SegmentFailed, Error: err.Error()}
}

// Skipped builds a skipped result for a segment.
func Skipped(segment int, reason string) SegmentResult {
	return SegmentResult{Segment: segment, Status: SegmentSkipped, Error: reason}
}

// Clip pairs a plan segment with its reconciled render and narration
// results. The composition stage consumes clips in presentation order.
type Clip struct {
	Segment   Segment       `json:"segment"`
	Render    SegmentResult `json:"render"`
	Narration SegmentResult `json:"narration"`
}

// Video is the composition stage's output.
type Video struct {
	URL             string  `json:"url"`
	RenderID        string  `json:"renderId,omitempty"`
	DurationSeconds float64 `json:"durationSeconds"`
	Clips           int     `json:"clips"`
}
