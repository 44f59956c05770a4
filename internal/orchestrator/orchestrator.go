// Package orchestrator drives a job through its five stages. It enforces
// stage dependencies, serves cached outputs, runs single-shot stages inline
// and fan-out stages in the background, and keeps their progress pollable.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dusk-indust/papercast/internal/job"
	"github.com/dusk-indust/papercast/internal/jobstore"
	"github.com/dusk-indust/papercast/internal/status"
)

const storeTimeout = 30 * time.Second

// StageOutcome is what triggering a stage returns. Single-shot stages and
// cache hits carry Output; a freshly started fan-out reports InFlight with
// its initial Progress.
type StageOutcome struct {
	JobID    string             `json:"jobId"`
	Stage    job.Stage          `json:"stage"`
	Cached   bool               `json:"cached"`
	InFlight bool               `json:"inFlight"`
	Total    int                `json:"total,omitempty"`
	Output   json.RawMessage    `json:"output,omitempty"`
	Progress *job.ProgressState `json:"progress,omitempty"`
}

// Orchestrator coordinates stage execution for every job in a Store.
// It is safe for concurrent use.
type Orchestrator struct {
	store   jobstore.Store
	execs   Executors
	tracker *Tracker
	fanout  *FanOut
	opts    Options
	logger  *zap.Logger

	// base outlives individual requests; background fan-outs run on it.
	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New creates an Orchestrator over store.
func New(store jobstore.Store, execs Executors, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	base, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:  store,
		execs:  execs,
		opts:   opts,
		logger: opts.Logger.Named("orchestrator"),
		base:   base,
		stop:   stop,
	}
	o.tracker = NewTracker(opts.Mirror, o.logger)
	o.fanout = NewFanOut(opts.Concurrency, o.segmentRecorded, o.logger)
	return o
}

// Tracker exposes the progress tracker.
func (o *Orchestrator) Tracker() *Tracker {
	return o.tracker
}

// CreateJob validates sourceRef and registers a new job with no outputs.
func (o *Orchestrator) CreateJob(ctx context.Context, sourceRef string) (*job.Job, error) {
	j, err := o.store.Create(ctx, sourceRef)
	if err != nil {
		return nil, err
	}
	o.logger.Info("job created", zap.String("job_id", j.ID), zap.String("source", j.SourceRef))
	o.emit(Event{Kind: EventJobCreated, JobID: j.ID, Message: j.SourceRef})
	return j, nil
}

// EnsureStage makes sure the stage has output, running it if needed.
//
// Under CacheFirst a completed stage returns its stored output without any
// executor call. Otherwise the stage's required upstream outputs must exist.
// Single-shot stages run to completion before returning; an executor
// failure comes back as *ExecutorError and leaves the store untouched.
// Fan-out stages start in the background and return at once.
func (o *Orchestrator) EnsureStage(ctx context.Context, jobID string, stage job.Stage) (*StageOutcome, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStage, int(stage))
	}
	j, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if o.opts.CachePolicy == CacheFirst && j.Completed(stage) {
		return o.cached(j, stage), nil
	}
	if err := checkPrerequisites(j, stage); err != nil {
		return nil, err
	}
	if stage.FanOut() {
		return o.startFanOut(j, stage)
	}
	return o.runSingleShot(ctx, j, stage)
}

func (o *Orchestrator) cached(j *job.Job, stage job.Stage) *StageOutcome {
	out := &StageOutcome{
		JobID:  j.ID,
		Stage:  stage,
		Cached: true,
		Output: j.Outputs[stage],
	}
	if stage.FanOut() {
		if results, err := j.SegmentResults(stage); err == nil {
			out.Total = len(results)
		}
	}
	o.logger.Debug("stage cache hit", zap.String("job_id", j.ID), zap.Stringer("stage", stage))
	o.emit(Event{Kind: EventStageCached, JobID: j.ID, Stage: stage, Total: out.Total})
	return out
}

func (o *Orchestrator) runSingleShot(ctx context.Context, j *job.Job, stage job.Stage) (*StageOutcome, error) {
	log := o.logger.With(zap.String("job_id", j.ID), zap.Stringer("stage", stage))
	o.emit(Event{Kind: EventStageStarted, JobID: j.ID, Stage: stage})
	start := time.Now()

	value, err := o.execute(ctx, j, stage)
	if err != nil {
		var ee *ExecutorError
		if !errors.As(err, &ee) {
			ee = executorError(stage, err)
		}
		log.Warn("stage failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		o.emit(Event{Kind: EventStageFailed, JobID: j.ID, Stage: stage, Message: ee.Reason})
		return nil, ee
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s output: %w", stage, err)
	}
	if err := o.store.PutStageOutput(ctx, j.ID, stage, data); err != nil {
		log.Error("store stage output", zap.Error(err))
		o.emit(Event{Kind: EventStageFailed, JobID: j.ID, Stage: stage, Message: err.Error()})
		return nil, fmt.Errorf("store %s output: %w", stage, err)
	}

	log.Info("stage complete", zap.Duration("elapsed", time.Since(start)), zap.Int("bytes", len(data)))
	o.emit(Event{Kind: EventStageCompleted, JobID: j.ID, Stage: stage})
	return &StageOutcome{JobID: j.ID, Stage: stage, Output: data}, nil
}

// execute runs the single-shot executor for stage against the job's
// upstream outputs.
func (o *Orchestrator) execute(ctx context.Context, j *job.Job, stage job.Stage) (any, error) {
	switch stage {
	case job.StageExtraction:
		if o.execs.Extractor == nil {
			return nil, errNoExecutor(stage)
		}
		doc, err := o.execs.Extractor.Extract(ctx, j.ID, j.SourceRef)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, errors.New("extractor returned no document")
		}
		return doc, nil

	case job.StagePlanning:
		if o.execs.Planner == nil {
			return nil, errNoExecutor(stage)
		}
		doc, err := j.Document()
		if err != nil {
			return nil, err
		}
		plan, err := o.execs.Planner.Plan(ctx, j.ID, doc)
		if err != nil {
			return nil, err
		}
		if err := plan.Validate(); err != nil {
			return nil, fmt.Errorf("invalid plan: %w", err)
		}
		return plan, nil

	case job.StageComposition:
		if o.execs.Composer == nil {
			return nil, errNoExecutor(stage)
		}
		plan, err := j.Plan()
		if err != nil {
			return nil, err
		}
		renders, err := j.SegmentResults(job.StageSegmentRendering)
		if err != nil {
			return nil, err
		}
		narrations, err := j.SegmentResults(job.StageNarration)
		if err != nil {
			return nil, err
		}
		clips, err := Reconcile(plan, renders, narrations)
		if err != nil {
			return nil, err
		}
		video, err := o.execs.Composer.Compose(ctx, j.ID, plan, clips)
		if err != nil {
			return nil, err
		}
		if video == nil {
			return nil, errors.New("composer returned no video")
		}
		return video, nil

	default:
		return nil, fmt.Errorf("%s is not a single-shot stage", stage)
	}
}

func (o *Orchestrator) startFanOut(j *job.Job, stage job.Stage) (*StageOutcome, error) {
	plan, err := j.Plan()
	if err != nil {
		return nil, err
	}

	h, err := o.tracker.Start(j.ID, stage, len(plan.Segments))
	if err != nil {
		return nil, fmt.Errorf("%s for job %s: %w", stage, j.ID, err)
	}
	snap := h.Snapshot()

	o.logger.Info("fan-out started",
		zap.String("job_id", j.ID),
		zap.Stringer("stage", stage),
		zap.Int("segments", len(plan.Segments)),
	)
	o.emit(Event{Kind: EventStageStarted, JobID: j.ID, Stage: stage, Total: len(plan.Segments)})

	o.wg.Add(1)
	go o.runFanOut(h, plan.Segments, o.execs.segment(stage))

	return &StageOutcome{
		JobID:    j.ID,
		Stage:    stage,
		InFlight: true,
		Total:    len(plan.Segments),
		Progress: &snap,
	}, nil
}

func (o *Orchestrator) runFanOut(h *Handle, segments []job.Segment, exec SegmentExecutor) {
	defer o.wg.Done()

	jobID, stage := h.JobID(), h.Stage()
	log := o.logger.With(zap.String("job_id", jobID), zap.Stringer("stage", stage))
	start := time.Now()

	results, err := o.fanout.Run(o.base, h, segments, exec)
	if err == nil {
		err = h.Commit(func() error {
			data, err := json.Marshal(results)
			if err != nil {
				return fmt.Errorf("encode %s output: %w", stage, err)
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(o.base), storeTimeout)
			defer cancel()
			return o.store.PutStageOutput(ctx, jobID, stage, data)
		})
	}

	switch {
	case errors.Is(err, ErrCancelled):
		h.Abort()
		log.Info("fan-out cancelled", zap.Int("recorded", len(results)), zap.Int("total", len(segments)))
		o.emit(Event{Kind: EventStageCancelled, JobID: jobID, Stage: stage, Completed: len(results), Total: len(segments)})
	case err != nil:
		log.Error("fan-out failed", zap.Error(err))
		o.emit(Event{Kind: EventStageFailed, JobID: jobID, Stage: stage, Message: err.Error()})
	default:
		snap := h.Snapshot()
		log.Info("fan-out complete",
			zap.Int("segments", snap.Total),
			zap.Int("failures", snap.Failures()),
			zap.Duration("elapsed", time.Since(start)),
		)
		o.emit(Event{Kind: EventStageCompleted, JobID: jobID, Stage: stage, Completed: snap.Completed, Total: snap.Total})
	}
}

func (o *Orchestrator) segmentRecorded(h *Handle, res job.SegmentResult) {
	snap := h.Snapshot()
	o.emit(Event{
		Kind:      EventSegmentDone,
		JobID:     h.JobID(),
		Stage:     h.Stage(),
		Segment:   res.Segment,
		Status:    res.Status,
		Completed: snap.Completed,
		Total:     snap.Total,
		Message:   res.Error,
	})
}

// PollStage reports the progress of a fan-out stage. A tracked run wins;
// otherwise a stored output is reported as a completed state. It has no
// side effects.
func (o *Orchestrator) PollStage(ctx context.Context, jobID string, stage job.Stage) (job.ProgressState, error) {
	if !stage.Valid() {
		return job.ProgressState{}, fmt.Errorf("%w: %d", ErrInvalidStage, int(stage))
	}
	if st, ok := o.tracker.Read(jobID, stage); ok {
		return st, nil
	}
	if r, ok := o.opts.Mirror.(MirrorReader); ok {
		st, found, err := r.Load(ctx, jobID, stage)
		if err != nil {
			o.logger.Debug("progress mirror load failed", zap.String("job_id", jobID), zap.Error(err))
		} else if found {
			return st, nil
		}
	}

	j, err := o.store.Get(ctx, jobID)
	if err != nil {
		return job.ProgressState{}, err
	}
	if !j.Completed(stage) {
		return job.ProgressState{}, fmt.Errorf("%s for job %s: %w", stage, jobID, ErrNoSuchInFlightStage)
	}
	return completedState(j, stage)
}

// completedState rebuilds a terminal progress view from stored output.
func completedState(j *job.Job, stage job.Stage) (job.ProgressState, error) {
	st := job.ProgressState{
		JobID:     j.ID,
		Stage:     stage,
		Status:    job.ProgressComplete,
		Results:   []job.SegmentResult{},
		StartedAt: j.UpdatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if !stage.FanOut() {
		st.Total, st.Completed = 1, 1
		return st, nil
	}
	results, err := j.SegmentResults(stage)
	if err != nil {
		return job.ProgressState{}, err
	}
	st.Total = len(results)
	st.Completed = len(results)
	st.CurrentIndex = len(results)
	st.Results = results
	return st, nil
}

// StageOutput returns the stored output of a completed stage.
func (o *Orchestrator) StageOutput(ctx context.Context, jobID string, stage job.Stage) (json.RawMessage, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStage, int(stage))
	}
	j, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !j.Completed(stage) {
		return nil, fmt.Errorf("%s for job %s: %w", stage, jobID, job.ErrStageMissing)
	}
	return j.Outputs[stage], nil
}

// CancelStage stops a running fan-out before its next segment. Results
// gathered so far are discarded and no output is written. The run reports
// running until the segment in progress returns.
func (o *Orchestrator) CancelStage(jobID string, stage job.Stage) error {
	if !stage.FanOut() {
		return fmt.Errorf("%s for job %s: %w: %w", stage, jobID, ErrNoSuchInFlightStage, ErrNotFanOut)
	}
	if err := o.tracker.Cancel(jobID, stage); err != nil {
		return fmt.Errorf("%s for job %s: %w", stage, jobID, err)
	}
	o.logger.Info("fan-out cancel requested", zap.String("job_id", jobID), zap.Stringer("stage", stage))
	return nil
}

// Restore reloads a job after a restart and seeds the tracker with the
// completed state of every stored fan-out stage, so polls answer without
// touching the store. Mirrored running states of incomplete stages that no
// local run owns are dropped.
func (o *Orchestrator) Restore(ctx context.Context, jobID string) (*job.Job, error) {
	j, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for _, stage := range job.Stages() {
		if !stage.FanOut() {
			continue
		}
		if !j.Completed(stage) {
			o.dropOrphan(ctx, j.ID, stage)
			continue
		}
		st, err := completedState(j, stage)
		if err != nil {
			o.logger.Warn("restore: unreadable stage output",
				zap.String("job_id", j.ID), zap.Stringer("stage", stage), zap.Error(err))
			continue
		}
		o.tracker.Seed(st)
	}
	o.logger.Debug("job restored",
		zap.String("job_id", j.ID),
		zap.String("step", string(jobstore.CompletedStep(j))),
	)
	return j, nil
}

// dropOrphan forgets a mirrored non-terminal state with no local run behind
// it. Its owner died before finishing, so polls must not report it.
func (o *Orchestrator) dropOrphan(ctx context.Context, jobID string, stage job.Stage) {
	r, ok := o.opts.Mirror.(MirrorReader)
	if !ok {
		return
	}
	if st, ok := o.tracker.Read(jobID, stage); ok && !st.Terminal() {
		return
	}
	log := o.logger.With(zap.String("job_id", jobID), zap.Stringer("stage", stage))

	st, found, err := r.Load(ctx, jobID, stage)
	if err != nil {
		log.Warn("restore: progress mirror load failed", zap.Error(err))
		return
	}
	if !found || st.Terminal() {
		return
	}
	if err := r.Forget(ctx, jobID, stage); err != nil {
		log.Warn("restore: progress mirror forget failed", zap.Error(err))
		return
	}
	log.Info("orphaned progress dropped",
		zap.String("status", string(st.Status)),
		zap.Int("completed", st.Completed),
		zap.Int("total", st.Total),
	)
}

// RestoreAll restores every job in the store and returns how many were
// restored.
func (o *Orchestrator) RestoreAll(ctx context.Context) (int, error) {
	list, err := o.store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sum := range list {
		if _, err := o.Restore(ctx, sum.ID); err != nil {
			return n, fmt.Errorf("restore %s: %w", sum.ID, err)
		}
		n++
	}
	o.logger.Info("jobs restored", zap.Int("count", n))
	return n, nil
}

// RunPipeline ensures stages from..to in order, waiting for each fan-out
// to finish before moving on. A fan-out that is already running is joined
// rather than rejected.
func (o *Orchestrator) RunPipeline(ctx context.Context, jobID string, from, to job.Stage) ([]StageOutcome, error) {
	if !from.Valid() || !to.Valid() {
		return nil, fmt.Errorf("%w: range %d..%d", ErrInvalidStage, int(from), int(to))
	}
	if from > to {
		return nil, fmt.Errorf("invalid range: from (%s) > to (%s)", from, to)
	}

	var outcomes []StageOutcome
	for stage := from; stage <= to; stage++ {
		out, err := o.EnsureStage(ctx, jobID, stage)
		if errors.Is(err, ErrAlreadyInProgress) {
			out, err = &StageOutcome{JobID: jobID, Stage: stage, InFlight: true}, nil
		}
		if err != nil {
			return outcomes, err
		}

		if out.InFlight {
			st, err := o.await(ctx, jobID, stage)
			if err != nil {
				return outcomes, err
			}
			out.InFlight = false
			out.Total = st.Total
			out.Progress = &st
			if raw, err := o.StageOutput(ctx, jobID, stage); err == nil {
				out.Output = raw
			}
		}
		outcomes = append(outcomes, *out)
	}
	return outcomes, nil
}

// await polls a fan-out until it reaches a terminal state.
func (o *Orchestrator) await(ctx context.Context, jobID string, stage job.Stage) (job.ProgressState, error) {
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		st, err := o.PollStage(ctx, jobID, stage)
		if err != nil {
			return st, err
		}
		switch st.Status {
		case job.ProgressComplete:
			return st, nil
		case job.ProgressCancelled:
			return st, fmt.Errorf("%s for job %s: %w", stage, jobID, ErrCancelled)
		case job.ProgressError:
			return st, fmt.Errorf("%s for job %s: %w: %s", stage, jobID, ErrStageFailed, st.Error)
		}

		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListJobs describes every job in the store, including which fan-out
// stages are currently running in this process.
func (o *Orchestrator) ListJobs(ctx context.Context) ([]status.JobStatus, error) {
	jobs, err := status.Discover(ctx, o.store)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		for _, stage := range job.Stages() {
			if !stage.FanOut() {
				continue
			}
			if st, ok := o.tracker.Read(jobs[i].ID, stage); ok && !st.Terminal() {
				jobs[i].Running = append(jobs[i].Running, stage)
			}
		}
	}
	return jobs, nil
}

// Wait blocks until every background fan-out has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels running fan-outs, waits for them to stop, and closes the
// store.
func (o *Orchestrator) Close() error {
	o.stop()
	o.wg.Wait()
	return o.store.Close()
}

func (o *Orchestrator) emit(ev Event) {
	if o.opts.Events == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	o.opts.Events.Emit(ev)
}

func errNoExecutor(stage job.Stage) error {
	return fmt.Errorf("no executor configured for %s", stage)
}
