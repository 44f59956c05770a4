package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/papercast/internal/job"
)

// runStoreSuite exercises the Store contract against one backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateGetRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.Create(ctx, "uploads/paper.pdf")
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)

		got, err := s.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, "uploads/paper.pdf", got.SourceRef)
		assert.Empty(t, got.Outputs)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("CreateRejectsInvalidSource", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(context.Background(), "notes.txt")
		require.ErrorIs(t, err, ErrInvalidSource)
	})

	t.Run("GetMissingReturnsNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "does-not-exist")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PutStageOutputOverwrites", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		j, err := s.Create(ctx, "paper.pdf")
		require.NoError(t, err)

		require.NoError(t, s.PutStageOutput(ctx, j.ID, job.StageExtraction, json.RawMessage(`{"text":"v1","chars":2}`)))
		require.NoError(t, s.PutStageOutput(ctx, j.ID, job.StageExtraction, json.RawMessage(`{"text":"v2","chars":2}`)))
		require.NoError(t, s.PutStageOutput(ctx, j.ID, job.StageExtraction, json.RawMessage(`{"text":"v2","chars":2}`)))

		got, err := s.Get(ctx, j.ID)
		require.NoError(t, err)
		require.Len(t, got.Outputs, 1)
		doc, err := got.Document()
		require.NoError(t, err)
		assert.Equal(t, "v2", doc.Text)
	})

	t.Run("PutStageOutputMissingJob", func(t *testing.T) {
		s := newStore(t)
		err := s.PutStageOutput(context.Background(), "nope", job.StagePlanning, json.RawMessage(`{}`))
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PutStageOutputRejectsInvalidJSON", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		j, err := s.Create(ctx, "paper.pdf")
		require.NoError(t, err)
		require.Error(t, s.PutStageOutput(ctx, j.ID, job.StagePlanning, json.RawMessage(`{broken`)))
	})

	t.Run("ListClassifiesJobs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.Create(ctx, "a.pdf")
		require.NoError(t, err)
		second, err := s.Create(ctx, "b.pdf")
		require.NoError(t, err)
		require.NoError(t, s.PutStageOutput(ctx, second.ID, job.StageExtraction, json.RawMessage(`{"text":"x"}`)))
		require.NoError(t, s.PutStageOutput(ctx, second.ID, job.StagePlanning, json.RawMessage(`{"segments":[]}`)))

		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)

		byID := map[string]Summary{}
		for _, sum := range list {
			byID[sum.ID] = sum
		}
		assert.Equal(t, job.StepNotStarted, byID[first.ID].CompletedStep)
		assert.Equal(t, job.StepPlanningDone, byID[second.ID].CompletedStep)
		assert.Equal(t, []string{"extraction", "planning"}, byID[second.ID].Stages)
	})

	t.Run("ConcurrentPutAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		j, err := s.Create(ctx, "paper.pdf")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				value := json.RawMessage(fmt.Sprintf(`{"text":"rev-%d","chars":5}`, i))
				assert.NoError(t, s.PutStageOutput(ctx, j.ID, job.StageExtraction, value))
			}()
			go func() {
				defer wg.Done()
				got, err := s.Get(ctx, j.ID)
				if !assert.NoError(t, err) {
					return
				}
				if got.Completed(job.StageExtraction) {
					_, err := got.Document()
					assert.NoError(t, err, "reader observed a partial stage output")
				}
			}()
		}
		wg.Wait()
	})
}

func TestMemStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemStore()
	})
}

func TestFileStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewFileStore(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	j, err := s.Create(ctx, "paper.pdf")
	require.NoError(t, err)
	require.NoError(t, s.PutStageOutput(ctx, j.ID, job.StageExtraction, json.RawMessage(`{"text":"kept"}`)))
	require.NoError(t, s.Close())

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed(job.StageExtraction))
}

func TestFileStore_RejectsPathLikeIDs(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "../etc/passwd")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCompletedStep(t *testing.T) {
	raw := json.RawMessage(`{}`)
	with := func(stages ...job.Stage) *job.Job {
		j := &job.Job{Outputs: map[job.Stage]json.RawMessage{}}
		for _, s := range stages {
			j.Outputs[s] = raw
		}
		return j
	}

	tests := []struct {
		name string
		job  *job.Job
		want job.Step
	}{
		{"empty", with(), job.StepNotStarted},
		{"extraction", with(job.StageExtraction), job.StepExtractionDone},
		{"planning", with(job.StageExtraction, job.StagePlanning), job.StepPlanningDone},
		{"rendering", with(job.StageExtraction, job.StagePlanning, job.StageSegmentRendering), job.StepRenderingDone},
		{"narration ahead of rendering", with(job.StageExtraction, job.StagePlanning, job.StageNarration), job.StepPlanningDone},
		{"everything", with(job.Stages()...), job.StepFullyComplete},
		{"gap stops scan", with(job.StageExtraction, job.StageNarration), job.StepExtractionDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompletedStep(tt.job))
		})
	}
}
