package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/papercast/internal/job"
)

func testJob(t *testing.T, stages map[job.Stage]any) *job.Job {
	t.Helper()
	j := &job.Job{ID: "job-1", SourceRef: "paper.pdf", Outputs: map[job.Stage]json.RawMessage{}}
	for stage, v := range stages {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		j.Outputs[stage] = raw
	}
	return j
}

var testPlan = job.ContentPlan{
	Title: "Voices",
	Segments: []job.Segment{
		{Number: 1, Title: "Intro", VisualType: job.VisualTextReveal},
		{Number: 2, Title: "Mechanism", VisualType: job.VisualDiagram},
	},
}

func TestExportJob_PlannedAndRendering(t *testing.T) {
	j := testJob(t, map[job.Stage]any{
		job.StageExtraction: job.Document{Text: "x"},
		job.StagePlanning:   testPlan,
		job.StageSegmentRendering: []job.SegmentResult{
			{Segment: 2, Status: job.SegmentFailed, Error: "timeout"},
			{Segment: 1, Status: job.SegmentSuccess, ArtifactRef: "v1.mp4"},
		},
	})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	e, err := ExportJob(j, []job.Stage{job.StageNarration}, now)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T12:00:00Z", e.ExportedAt)
	assert.Equal(t, job.StepRenderingDone, e.Step)
	assert.Equal(t, "Voices", e.Title)

	statuses := make([]string, len(e.Stages))
	for i, st := range e.Stages {
		statuses[i] = st.Status
	}
	assert.Equal(t, []string{"complete", "complete", "complete", "running", "pending"}, statuses)
	assert.Equal(t, 1, e.Stages[2].Failures)

	require.Len(t, e.Segments, 2)
	assert.Equal(t, "Intro", e.Segments[0].Title)
	require.NotNil(t, e.Segments[0].Render)
	assert.Equal(t, "v1.mp4", e.Segments[0].Render.ArtifactRef)
	assert.Equal(t, job.SegmentFailed, e.Segments[1].Render.Status)
	assert.Nil(t, e.Segments[0].Narration)
	assert.Nil(t, e.Video)
}

func TestExportJob_NotStarted(t *testing.T) {
	e, err := ExportJob(testJob(t, nil), nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, e.Segments)
	assert.Equal(t, "next", e.Stages[0].Status)
	assert.Equal(t, "pending", e.Stages[4].Status)
}

func TestExportJob_CorruptPlan(t *testing.T) {
	j := testJob(t, map[job.Stage]any{job.StageExtraction: job.Document{Text: "x"}})
	j.Outputs[job.StagePlanning] = json.RawMessage(`"not a plan"`)
	_, err := ExportJob(j, nil, time.Now())
	require.Error(t, err)
}

func TestGenerateMermaid(t *testing.T) {
	j := testJob(t, map[job.Stage]any{
		job.StageExtraction: job.Document{Text: "x"},
		job.StagePlanning:   testPlan,
	})
	e, err := ExportJob(j, nil, time.Now())
	require.NoError(t, err)

	out := GenerateMermaid(e)
	assert.True(t, strings.HasPrefix(out, "flowchart LR\n"))
	assert.Contains(t, out, `S1["Content Planning<br/>2 segments"]:::complete`)
	assert.Contains(t, out, ":::next")
	assert.Contains(t, out, "S2 -.-> S3")
	assert.Contains(t, out, "S3 --> S4")
	assert.Contains(t, out, "classDef pending")
}
