package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dusk-indust/papercast/internal/job"
)

// Mirror receives a snapshot after every progress change so other
// processes can poll runs they do not own.
type Mirror interface {
	Publish(ctx context.Context, state job.ProgressState) error
}

// MirrorReader is implemented by mirrors that can serve reads back and
// drop snapshots nobody owns any more.
type MirrorReader interface {
	Load(ctx context.Context, jobID string, stage job.Stage) (job.ProgressState, bool, error)
	Forget(ctx context.Context, jobID string, stage job.Stage) error
}

const mirrorTimeout = 2 * time.Second

type trackerKey struct {
	jobID string
	stage job.Stage
}

// Tracker holds the pollable progress of every fan-out run, keyed by
// (job, stage). At most one non-terminal entry exists per key. Reads return
// copies, so callers never observe a half-applied update.
type Tracker struct {
	mu      sync.RWMutex
	entries map[trackerKey]*Handle
	mirror  Mirror
	logger  *zap.Logger
	now     func() time.Time
}

// NewTracker creates an empty tracker. mirror may be nil.
func NewTracker(mirror Mirror, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		entries: make(map[trackerKey]*Handle),
		mirror:  mirror,
		logger:  logger,
		now:     time.Now,
	}
}

// Handle is the writer side of one tracked run. Only the fan-out that
// received it from Start mutates its state.
type Handle struct {
	t     *Tracker
	key   trackerKey
	state job.ProgressState // guarded by t.mu

	// commitMu serializes the final commit against Cancel.
	commitMu  sync.Mutex
	cancelled atomic.Bool
}

// Start registers a new run with completed = 0. It fails with
// ErrAlreadyInProgress while a non-terminal run exists for the same key; a
// terminal entry is replaced.
func (t *Tracker) Start(jobID string, stage job.Stage, total int) (*Handle, error) {
	key := trackerKey{jobID, stage}
	now := t.now().UTC()

	t.mu.Lock()
	if cur, ok := t.entries[key]; ok && !cur.state.Terminal() {
		t.mu.Unlock()
		return nil, ErrAlreadyInProgress
	}
	h := &Handle{
		t:   t,
		key: key,
		state: job.ProgressState{
			JobID:     jobID,
			Stage:     stage,
			Total:     total,
			Status:    job.ProgressRunning,
			Results:   make([]job.SegmentResult, 0, total),
			StartedAt: now,
			UpdatedAt: now,
		},
	}
	t.entries[key] = h
	snap := cloneState(h.state)
	t.mu.Unlock()

	t.publish(snap)
	return h, nil
}

// Seed installs a terminal state, typically rebuilt from stored output
// after a restart. It refuses to overwrite a running entry.
func (t *Tracker) Seed(state job.ProgressState) bool {
	if !state.Terminal() {
		return false
	}
	key := trackerKey{state.JobID, state.Stage}

	t.mu.Lock()
	if cur, ok := t.entries[key]; ok && !cur.state.Terminal() {
		t.mu.Unlock()
		return false
	}
	h := &Handle{t: t, key: key, state: cloneState(state)}
	t.entries[key] = h
	snap := cloneState(h.state)
	t.mu.Unlock()

	t.publish(snap)
	return true
}

// Read returns a copy of the tracked state.
func (t *Tracker) Read(jobID string, stage job.Stage) (job.ProgressState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.entries[trackerKey{jobID, stage}]
	if !ok {
		return job.ProgressState{}, false
	}
	return cloneState(h.state), true
}

// Cancel flags a running entry. The fan-out stops before its next segment
// and marks the entry cancelled once it has stopped; until then the entry
// stays running and Start keeps refusing the key. Cancelling an already
// flagged run is a no-op.
func (t *Tracker) Cancel(jobID string, stage job.Stage) error {
	t.mu.RLock()
	h, ok := t.entries[trackerKey{jobID, stage}]
	t.mu.RUnlock()
	if !ok {
		return ErrNoSuchInFlightStage
	}

	h.commitMu.Lock()
	defer h.commitMu.Unlock()
	t.mu.RLock()
	terminal := h.state.Terminal()
	t.mu.RUnlock()
	if terminal {
		return ErrNoSuchInFlightStage
	}
	h.cancelled.Store(true)
	return nil
}

// Running counts non-terminal entries.
func (t *Tracker) Running() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, h := range t.entries {
		if !h.state.Terminal() {
			n++
		}
	}
	return n
}

func (t *Tracker) publish(state job.ProgressState) {
	if t.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := t.mirror.Publish(ctx, state); err != nil {
		t.logger.Warn("progress mirror publish failed",
			zap.String("job_id", state.JobID),
			zap.Stringer("stage", state.Stage),
			zap.Error(err),
		)
	}
}

// JobID returns the job the run belongs to.
func (h *Handle) JobID() string { return h.key.jobID }

// Stage returns the stage the run belongs to.
func (h *Handle) Stage() job.Stage { return h.key.stage }

// Cancelled reports whether Cancel was called for this run.
func (h *Handle) Cancelled() bool { return h.cancelled.Load() }

// Snapshot returns a copy of the run's current state.
func (h *Handle) Snapshot() job.ProgressState {
	h.t.mu.RLock()
	defer h.t.mu.RUnlock()
	return cloneState(h.state)
}

// Current marks the 1-based segment index being processed.
func (h *Handle) Current(index int, title string) {
	h.update(func(s *job.ProgressState) {
		s.CurrentIndex = index
		s.CurrentTitle = title
	})
}

// Record appends one segment result.
func (h *Handle) Record(res job.SegmentResult) {
	h.update(func(s *job.ProgressState) {
		s.Results = append(s.Results, res)
		s.Completed = len(s.Results)
	})
}

// Commit runs persist and marks the run complete, unless the run was
// cancelled first, in which case persist is not called, the run is marked
// cancelled and ErrCancelled is returned. A persist error marks the run
// failed.
func (h *Handle) Commit(persist func() error) error {
	h.commitMu.Lock()
	defer h.commitMu.Unlock()
	if h.Cancelled() {
		h.finish(job.ProgressCancelled, "")
		return ErrCancelled
	}
	if err := persist(); err != nil {
		h.finish(job.ProgressError, err.Error())
		return err
	}
	h.finish(job.ProgressComplete, "")
	return nil
}

// Fail marks the run failed.
func (h *Handle) Fail(msg string) {
	h.commitMu.Lock()
	defer h.commitMu.Unlock()
	h.finish(job.ProgressError, msg)
}

// Abort marks the run cancelled. The fan-out calls it once it has stopped,
// whether from Cancel or shutdown.
func (h *Handle) Abort() {
	h.commitMu.Lock()
	defer h.commitMu.Unlock()
	if h.finish(job.ProgressCancelled, "") {
		h.cancelled.Store(true)
	}
}

// finish moves a running entry to a terminal status. Reports false if it
// was already terminal. Callers hold commitMu.
func (h *Handle) finish(status job.ProgressStatus, msg string) bool {
	t := h.t
	t.mu.Lock()
	if h.state.Terminal() {
		t.mu.Unlock()
		return false
	}
	h.state.Status = status
	h.state.Error = msg
	h.state.UpdatedAt = t.now().UTC()
	snap := cloneState(h.state)
	t.mu.Unlock()

	t.publish(snap)
	return true
}

// update applies fn to a running, uncancelled entry.
func (h *Handle) update(fn func(*job.ProgressState)) {
	if h.Cancelled() {
		return
	}
	t := h.t
	t.mu.Lock()
	if h.state.Terminal() {
		t.mu.Unlock()
		return
	}
	fn(&h.state)
	h.state.UpdatedAt = t.now().UTC()
	snap := cloneState(h.state)
	t.mu.Unlock()

	t.publish(snap)
}

func cloneState(s job.ProgressState) job.ProgressState {
	results := make([]job.SegmentResult, len(s.Results))
	copy(results, s.Results)
	s.Results = results
	return s
}
