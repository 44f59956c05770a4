package job

import (
	"fmt"
	"strconv"
	"strings"
)

// Stage identifies a pipeline stage (0-4).
type Stage int

const (
	StageExtraction       Stage = 0
	StagePlanning         Stage = 1
	StageSegmentRendering Stage = 2
	StageNarration        Stage = 3
	StageComposition      Stage = 4
)

// Shape describes how a stage executes.
type Shape string

const (
	// ShapeSingleShot stages make one executor call and return its output.
	ShapeSingleShot Shape = "single-shot"

	// ShapeFanOut stages make one executor call per plan segment.
	ShapeFanOut Shape = "fan-out"
)

var stageSlugs = [...]string{
	"extraction",
	"planning",
	"segment-rendering",
	"narration",
	"composition",
}

var stageLabels = [...]string{
	"Text Extraction",
	"Content Planning",
	"Segment Rendering",
	"Narration",
	"Composition",
}

func (s Stage) String() string {
	if s.Valid() {
		return stageSlugs[s]
	}
	return "unknown"
}

// Label returns the human-readable stage name.
func (s Stage) Label() string {
	if s.Valid() {
		return stageLabels[s]
	}
	return "Unknown"
}

// Valid reports whether s is one of the five pipeline stages.
func (s Stage) Valid() bool {
	return s >= StageExtraction && s <= StageComposition
}

// Shape reports whether the stage is single-shot or fans out over segments.
func (s Stage) Shape() Shape {
	switch s {
	case StageSegmentRendering, StageNarration:
		return ShapeFanOut
	default:
		return ShapeSingleShot
	}
}

// FanOut is shorthand for s.Shape() == ShapeFanOut.
func (s Stage) FanOut() bool {
	return s.Shape() == ShapeFanOut
}

// Prerequisite is an upstream stage whose output a stage reads. Optional
// prerequisites are consumed when present and tolerated when absent.
type Prerequisite struct {
	Stage    Stage
	Required bool
}

// Prerequisites returns the upstream outputs s reads, in pipeline order.
// Extraction has none.
func (s Stage) Prerequisites() []Prerequisite {
	switch s {
	case StagePlanning:
		return []Prerequisite{
			{StageExtraction, true},
		}
	case StageSegmentRendering:
		return []Prerequisite{
			{StagePlanning, true},
		}
	case StageNarration:
		return []Prerequisite{
			{StagePlanning, true},
			{StageSegmentRendering, false},
		}
	case StageComposition:
		return []Prerequisite{
			{StagePlanning, true},
			{StageSegmentRendering, true},
			{StageNarration, true},
		}
	default:
		return nil
	}
}

// Skippable reports whether later stages may complete while this one has no
// output. Narration only reads the plan, so it may finish before rendering.
func (s Stage) Skippable() bool {
	return s == StageSegmentRendering
}

// Stages returns every pipeline stage in order.
func Stages() []Stage {
	return []Stage{
		StageExtraction,
		StagePlanning,
		StageSegmentRendering,
		StageNarration,
		StageComposition,
	}
}

// ParseStage accepts a stage slug ("narration") or its number ("3").
func ParseStage(s string) (Stage, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for i, slug := range stageSlugs {
		if s == slug {
			return Stage(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Stage(n).Valid() {
		return Stage(n), nil
	}
	return 0, fmt.Errorf("unknown stage %q", s)
}

// MarshalText encodes the stage as its slug so stage-keyed maps serialise
// with readable keys.
func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a slug or numeric stage.
func (s *Stage) UnmarshalText(text []byte) error {
	parsed, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
