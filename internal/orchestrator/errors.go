package orchestrator

import (
	"errors"
	"fmt"

	"github.com/dusk-indust/papercast/internal/job"
	"github.com/dusk-indust/papercast/internal/jobstore"
)

var (
	// ErrNotFound is returned when the job id is unknown to the store.
	ErrNotFound = jobstore.ErrNotFound

	// ErrInvalidStage is returned for a stage outside 0-4.
	ErrInvalidStage = errors.New("invalid stage")

	// ErrDependencyNotMet is returned when a required upstream stage has no
	// output. No executor is invoked.
	ErrDependencyNotMet = errors.New("dependency not met")

	// ErrAlreadyInProgress is returned when a fan-out for the same job and
	// stage is still running.
	ErrAlreadyInProgress = errors.New("stage already in progress")

	// ErrNoSuchInFlightStage is returned by poll and cancel when there is
	// neither a tracked run nor a cached output to report.
	ErrNoSuchInFlightStage = errors.New("no such in-flight stage")

	// ErrNotFanOut is joined to ErrNoSuchInFlightStage when cancel names a
	// single-shot stage, which never has a run to stop.
	ErrNotFanOut = errors.New("stage is not a fan-out")

	// ErrCancelled is reported when a fan-out stopped before finishing.
	ErrCancelled = errors.New("stage cancelled")

	// ErrStageFailed is returned by RunPipeline when a fan-out ended in the
	// error state.
	ErrStageFailed = errors.New("stage failed")
)

// ExecutorError carries the reason a single-shot executor failed. The stage
// output is left untouched when this is returned.
type ExecutorError struct {
	Stage  job.Stage
	Reason string
	Err    error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("%s executor: %s", e.Stage, e.Reason)
}

func (e *ExecutorError) Unwrap() error {
	return e.Err
}

func executorError(stage job.Stage, err error) *ExecutorError {
	return &ExecutorError{Stage: stage, Reason: err.Error(), Err: err}
}
