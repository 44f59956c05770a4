package orchestrator

import (
	"fmt"

	"github.com/dusk-indust/papercast/internal/job"
)

// Reconcile joins rendering and narration results to the plan by segment
// number and returns one clip per plan segment in presentation order. A
// segment with no result on either side gets a skipped placeholder, so a
// missing render never shifts later clips out of place.
func Reconcile(plan *job.ContentPlan, renders, narrations []job.SegmentResult) ([]job.Clip, error) {
	if plan == nil {
		return nil, fmt.Errorf("reconcile: plan is nil")
	}
	renderBy, err := indexResults("render", renders)
	if err != nil {
		return nil, err
	}
	narrationBy, err := indexResults("narration", narrations)
	if err != nil {
		return nil, err
	}

	clips := make([]job.Clip, 0, len(plan.Segments))
	for _, seg := range plan.Segments {
		render, ok := renderBy[seg.Number]
		if !ok {
			render = job.Skipped(seg.Number, "no render result")
		}
		narration, ok := narrationBy[seg.Number]
		if !ok {
			narration = job.Skipped(seg.Number, "no narration result")
		}
		clips = append(clips, job.Clip{Segment: seg, Render: render, Narration: narration})
	}
	return clips, nil
}

func indexResults(kind string, results []job.SegmentResult) (map[int]job.SegmentResult, error) {
	by := make(map[int]job.SegmentResult, len(results))
	for _, r := range results {
		if _, dup := by[r.Segment]; dup {
			return nil, fmt.Errorf("reconcile: duplicate %s result for segment %d", kind, r.Segment)
		}
		by[r.Segment] = r
	}
	return by, nil
}
