package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dusk-indust/papercast/internal/job"
)

type fakeMirror struct {
	mu     sync.Mutex
	states []job.ProgressState
	err    error
}

func (m *fakeMirror) Publish(_ context.Context, st job.ProgressState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, st)
	return m.err
}

func (m *fakeMirror) Last() job.ProgressState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[len(m.states)-1]
}

func TestTracker_StartRejectsRunningEntry(t *testing.T) {
	tr := NewTracker(nil, zaptest.NewLogger(t))

	h, err := tr.Start("j1", job.StageNarration, 2)
	require.NoError(t, err)
	_, err = tr.Start("j1", job.StageNarration, 2)
	require.ErrorIs(t, err, ErrAlreadyInProgress)

	// Other stages and jobs are independent.
	_, err = tr.Start("j1", job.StageSegmentRendering, 2)
	require.NoError(t, err)
	_, err = tr.Start("j2", job.StageNarration, 2)
	require.NoError(t, err)

	require.NoError(t, h.Commit(func() error { return nil }))
	_, err = tr.Start("j1", job.StageNarration, 4)
	require.NoError(t, err, "a terminal entry is replaced")

	st, ok := tr.Read("j1", job.StageNarration)
	require.True(t, ok)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 0, st.Completed)
}

func TestTracker_RecordAndCommit(t *testing.T) {
	mirror := &fakeMirror{}
	tr := NewTracker(mirror, zaptest.NewLogger(t))

	h, err := tr.Start("j1", job.StageSegmentRendering, 2)
	require.NoError(t, err)
	h.Current(1, "Intro")
	h.Record(job.SegmentResult{Segment: 1, Status: job.SegmentSuccess})

	st, _ := tr.Read("j1", job.StageSegmentRendering)
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, "Intro", st.CurrentTitle)
	assert.Equal(t, 0.5, st.Fraction())

	// Readers get copies.
	st.Results[0].Status = job.SegmentFailed
	again, _ := tr.Read("j1", job.StageSegmentRendering)
	assert.Equal(t, job.SegmentSuccess, again.Results[0].Status)

	h.Record(job.SegmentResult{Segment: 2, Status: job.SegmentFailed, Error: "x"})
	require.NoError(t, h.Commit(func() error { return nil }))

	last := mirror.Last()
	assert.Equal(t, job.ProgressComplete, last.Status)
	assert.Equal(t, 2, last.Completed)
	assert.Equal(t, 1, last.Failures())
	assert.Zero(t, tr.Running())
}

func TestTracker_CommitErrorMarksFailed(t *testing.T) {
	tr := NewTracker(nil, nil)
	h, err := tr.Start("j1", job.StageNarration, 1)
	require.NoError(t, err)

	err = h.Commit(func() error { return errors.New("disk full") })
	require.Error(t, err)

	st, _ := tr.Read("j1", job.StageNarration)
	assert.Equal(t, job.ProgressError, st.Status)
	assert.Equal(t, "disk full", st.Error)
}

func TestTracker_CancelSkipsCommit(t *testing.T) {
	tr := NewTracker(nil, nil)
	h, err := tr.Start("j1", job.StageNarration, 3)
	require.NoError(t, err)

	require.NoError(t, tr.Cancel("j1", job.StageNarration))
	require.NoError(t, tr.Cancel("j1", job.StageNarration))
	assert.True(t, h.Cancelled())

	// The run still owns the key until it stops.
	st, _ := tr.Read("j1", job.StageNarration)
	assert.Equal(t, job.ProgressRunning, st.Status)
	_, err = tr.Start("j1", job.StageNarration, 3)
	require.ErrorIs(t, err, ErrAlreadyInProgress)
	assert.Equal(t, 1, tr.Running())

	// Late results from the cancelled run are ignored.
	h.Record(job.SegmentResult{Segment: 1, Status: job.SegmentSuccess})

	called := false
	err = h.Commit(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCancelled)
	assert.False(t, called)

	st, _ = tr.Read("j1", job.StageNarration)
	assert.Equal(t, job.ProgressCancelled, st.Status)
	assert.Zero(t, st.Completed)
	assert.Zero(t, tr.Running())

	require.ErrorIs(t, tr.Cancel("j1", job.StageNarration), ErrNoSuchInFlightStage)
	require.ErrorIs(t, tr.Cancel("j9", job.StageNarration), ErrNoSuchInFlightStage)
}

func TestTracker_SeedRefusesRunningEntry(t *testing.T) {
	tr := NewTracker(nil, nil)
	done := job.ProgressState{JobID: "j1", Stage: job.StageNarration, Total: 2, Completed: 2, Status: job.ProgressComplete}

	assert.True(t, tr.Seed(done))

	_, err := tr.Start("j2", job.StageNarration, 1)
	require.NoError(t, err)
	assert.False(t, tr.Seed(job.ProgressState{JobID: "j2", Stage: job.StageNarration, Status: job.ProgressComplete}))

	running := done
	running.Status = job.ProgressRunning
	assert.False(t, tr.Seed(running), "only terminal states can be seeded")
}

func TestTracker_MirrorErrorsAreNotFatal(t *testing.T) {
	mirror := &fakeMirror{err: errors.New("redis down")}
	tr := NewTracker(mirror, zaptest.NewLogger(t))

	h, err := tr.Start("j1", job.StageNarration, 1)
	require.NoError(t, err)
	h.Record(job.SegmentResult{Segment: 1, Status: job.SegmentSuccess})
	require.NoError(t, h.Commit(func() error { return nil }))

	st, _ := tr.Read("j1", job.StageNarration)
	assert.Equal(t, job.ProgressComplete, st.Status)
}
