//go:build e2e

package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dusk-indust/papercast/internal/executor"
	"github.com/dusk-indust/papercast/internal/job"
	"github.com/dusk-indust/papercast/internal/jobstore"
	"github.com/dusk-indust/papercast/internal/orchestrator"
)

// harness wires real executors to the fake services over a file store.
type harness struct {
	services *fakeServices
	dataDir  string
	source   string
	events   *orchestrator.ProgressReporter
	drained  chan []orchestrator.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	source := filepath.Join(dir, "attention.pdf")
	require.NoError(t, os.WriteFile(source, []byte("%PDF-1.4\n% fixture\n"), 0o644))
	return &harness{services: newFakeServices(t), dataDir: dir, source: source}
}

// open builds an orchestrator over the harness data directory. Events are
// collected until the returned orchestrator is closed via closeAll.
func (h *harness) open(t *testing.T) (*orchestrator.Orchestrator, jobstore.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	store, err := jobstore.NewFileStore(filepath.Join(h.dataDir, "jobs"))
	require.NoError(t, err)

	execs := orchestrator.Executors{
		Extractor: executor.NewOCRExtractor(executor.OCRConfig{
			BaseURL: h.services.url("mistral"),
			APIKey:  "mistral-key",
		}, executor.WithLogger(logger)),
		Planner: executor.NewPlanner(executor.PlannerConfig{
			BaseURL: h.services.url("anthropic"),
			APIKey:  "anthropic-key",
		}, executor.WithLogger(logger)),
		Renderer: executor.NewRenderer(executor.RenderConfig{
			BaseURL: h.services.url("render"),
			Timeout: 5 * time.Second,
		}, executor.WithLogger(logger)),
		Narrator: executor.NewNarrator(executor.NarrationConfig{
			BaseURL:       h.services.url("tts"),
			APIKey:        "eleven-key",
			PublicBaseURL: "https://cdn.test/audio",
		}, executor.NewArtifactDir(filepath.Join(h.dataDir, "artifacts")), executor.WithLogger(logger)),
		Composer: executor.NewComposer(executor.ComposeConfig{
			BaseURL:      h.services.url("shotstack"),
			APIKey:       "shotstack-key",
			PollInterval: time.Millisecond,
			MaxAttempts:  10,
		}, executor.WithLogger(logger)),
	}

	h.events = orchestrator.NewProgressReporter()
	h.drained = make(chan []orchestrator.Event, 1)
	go func(ch <-chan orchestrator.Event) {
		var seen []orchestrator.Event
		for ev := range ch {
			seen = append(seen, ev)
		}
		h.drained <- seen
	}(h.events.Subscribe())

	orch := orchestrator.New(store, execs, orchestrator.Options{
		Concurrency:  2,
		PollInterval: 5 * time.Millisecond,
		Logger:       logger,
		Events:       h.events,
	})
	return orch, store
}

// closeAll stops the orchestrator and returns every event it emitted.
func (h *harness) closeAll(t *testing.T, orch *orchestrator.Orchestrator, store jobstore.Store) []orchestrator.Event {
	t.Helper()
	require.NoError(t, orch.Close())
	h.events.Close()
	require.NoError(t, store.Close())
	return <-h.drained
}

func TestPipeline_E2E_FullRun(t *testing.T) {
	h := newHarness(t)
	orch, store := h.open(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j, err := orch.CreateJob(ctx, h.source)
	require.NoError(t, err)

	outcomes, err := orch.RunPipeline(ctx, j.ID, job.StageExtraction, job.StageComposition)
	require.NoError(t, err)
	require.Len(t, outcomes, 5)
	for i, out := range outcomes {
		assert.Equal(t, job.Stage(i), out.Stage)
		assert.False(t, out.Cached)
	}

	stored, err := store.Get(ctx, j.ID)
	require.NoError(t, err)

	doc, err := stored.Document()
	require.NoError(t, err)
	assert.Contains(t, doc.Text, "Attention Is All You Need")

	plan, err := stored.Plan()
	require.NoError(t, err)
	assert.Equal(t, "Attention, Explained", plan.Title)
	require.Len(t, plan.Segments, 3)

	renders, err := stored.SegmentResults(job.StageSegmentRendering)
	require.NoError(t, err)
	require.Len(t, renders, 3)
	assert.Equal(t, job.SegmentSuccess, renders[0].Status)
	assert.Equal(t, "https://render.test/clips/segment_001.mp4", renders[0].ArtifactRef)
	assert.Equal(t, job.SegmentFailed, renders[2].Status)
	assert.Equal(t, "scene failed to compile", renders[2].Error)

	narrations, err := stored.SegmentResults(job.StageNarration)
	require.NoError(t, err)
	require.Len(t, narrations, 3)
	assert.Equal(t, job.SegmentSuccess, narrations[0].Status)
	assert.InDelta(t, 2.0, narrations[0].DurationSeconds, 1e-9)
	assert.Equal(t, job.SegmentSkipped, narrations[1].Status)
	assert.FileExists(t, filepath.Join(h.dataDir, "artifacts", j.ID, "segment-003.mp3"))

	video, err := stored.Video()
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/videos/render-1.mp4", video.URL)
	assert.Equal(t, "render-1", video.RenderID)
	assert.InDelta(t, 9.0, video.DurationSeconds, 1e-9)
	assert.Equal(t, 2, video.Clips)

	assert.Equal(t, job.StepFullyComplete, jobstore.Summarize(stored).CompletedStep)
	assert.Equal(t, 1, h.services.Calls("ocr"))
	assert.Equal(t, 1, h.services.Calls("plan"))
	assert.Equal(t, 3, h.services.Calls("render"))
	assert.Equal(t, 2, h.services.Calls("narrate"))
	assert.Equal(t, 1, h.services.Calls("compose"))

	events := h.closeAll(t, orch, store)
	var segmentsDone int
	for _, ev := range events {
		if ev.Kind == orchestrator.EventSegmentDone {
			segmentsDone++
		}
	}
	assert.Equal(t, 6, segmentsDone)
}

func TestPipeline_E2E_SecondRunIsCached(t *testing.T) {
	h := newHarness(t)
	orch, store := h.open(t)
	ctx := context.Background()

	j, err := orch.CreateJob(ctx, h.source)
	require.NoError(t, err)
	_, err = orch.RunPipeline(ctx, j.ID, job.StageExtraction, job.StageComposition)
	require.NoError(t, err)

	outcomes, err := orch.RunPipeline(ctx, j.ID, job.StageExtraction, job.StageComposition)
	require.NoError(t, err)
	for _, out := range outcomes {
		assert.True(t, out.Cached, "stage %s", out.Stage)
	}
	assert.Equal(t, 1, h.services.Calls("ocr"))
	assert.Equal(t, 3, h.services.Calls("render"))
	assert.Equal(t, 1, h.services.Calls("compose"))

	h.closeAll(t, orch, store)
}

func TestPipeline_E2E_RestoreAfterRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	orch, store := h.open(t)
	j, err := orch.CreateJob(ctx, h.source)
	require.NoError(t, err)
	_, err = orch.RunPipeline(ctx, j.ID, job.StageExtraction, job.StageNarration)
	require.NoError(t, err)
	h.closeAll(t, orch, store)

	orch, store = h.open(t)
	defer h.closeAll(t, orch, store)

	n, err := orch.RestoreAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := orch.PollStage(ctx, j.ID, job.StageSegmentRendering)
	require.NoError(t, err)
	assert.Equal(t, job.ProgressComplete, st.Status)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Failures())

	jobs, err := orch.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.StepRenderingDone, jobs[0].Step)
	assert.Equal(t, int(job.StageComposition), jobs[0].NextStage)

	out, err := orch.EnsureStage(ctx, j.ID, job.StageComposition)
	require.NoError(t, err)
	assert.False(t, out.Cached)
	assert.Equal(t, 1, h.services.Calls("compose"))
}

func TestPipeline_E2E_StagesOutOfOrder(t *testing.T) {
	h := newHarness(t)
	orch, store := h.open(t)
	defer h.closeAll(t, orch, store)
	ctx := context.Background()

	j, err := orch.CreateJob(ctx, h.source)
	require.NoError(t, err)

	_, err = orch.EnsureStage(ctx, j.ID, job.StageNarration)
	require.ErrorIs(t, err, orchestrator.ErrDependencyNotMet)
	assert.Zero(t, h.services.Calls("narrate"))

	_, err = orch.RunPipeline(ctx, j.ID, job.StageExtraction, job.StagePlanning)
	require.NoError(t, err)

	// Narration only needs the plan; rendering may be skipped entirely.
	_, err = orch.RunPipeline(ctx, j.ID, job.StageNarration, job.StageNarration)
	require.NoError(t, err)
	assert.Zero(t, h.services.Calls("render"))

	_, err = orch.EnsureStage(ctx, j.ID, job.StageComposition)
	require.ErrorIs(t, err, orchestrator.ErrDependencyNotMet)
}
