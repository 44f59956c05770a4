package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/papercast/internal/job"
)

// FanOut runs a SegmentExecutor once per plan segment and records each
// result on the run's Handle in presentation order. With a limit of 1 the
// segments run strictly one after another; a higher limit runs up to that
// many calls at once but still records results in segment order.
//
// A failed or panicking segment produces a failed result and the run
// continues. Cancellation is checked before each segment starts.
type FanOut struct {
	limit    int
	onRecord func(*Handle, job.SegmentResult)
	logger   *zap.Logger
}

// NewFanOut creates a FanOut with the given concurrency limit. onRecord is
// called after each result is recorded, in segment order; it may be nil.
func NewFanOut(limit int, onRecord func(*Handle, job.SegmentResult), logger *zap.Logger) *FanOut {
	if limit < 1 {
		limit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FanOut{limit: limit, onRecord: onRecord, logger: logger}
}

// Run processes segments and returns one result per segment. If the run is
// cancelled or ctx ends before every segment was recorded, the partial
// results are returned with an error wrapping ErrCancelled.
func (f *FanOut) Run(ctx context.Context, h *Handle, segments []job.Segment, exec SegmentExecutor) ([]job.SegmentResult, error) {
	if f.limit == 1 {
		return f.runSequential(ctx, h, segments, exec)
	}
	return f.runBounded(ctx, h, segments, exec)
}

func (f *FanOut) runSequential(ctx context.Context, h *Handle, segments []job.Segment, exec SegmentExecutor) ([]job.SegmentResult, error) {
	results := make([]job.SegmentResult, 0, len(segments))
	for i, seg := range segments {
		if err := stopped(ctx, h); err != nil {
			return results, err
		}
		h.Current(i+1, seg.Title)
		res := f.call(ctx, h, seg, exec)
		results = append(results, res)
		f.record(h, res)
	}
	return results, nil
}

func (f *FanOut) runBounded(ctx context.Context, h *Handle, segments []job.Segment, exec SegmentExecutor) ([]job.SegmentResult, error) {
	var (
		mu      sync.Mutex
		results = make([]job.SegmentResult, len(segments))
		done    = make([]bool, len(segments))
		next    int
	)

	g := new(errgroup.Group)
	g.SetLimit(f.limit)

	for i, seg := range segments {
		if stopped(ctx, h) != nil {
			break
		}
		g.Go(func() error {
			if stopped(ctx, h) != nil {
				return nil
			}
			h.Current(i+1, seg.Title)
			res := f.call(ctx, h, seg, exec)

			mu.Lock()
			defer mu.Unlock()
			results[i] = res
			done[i] = true
			for next < len(segments) && done[next] {
				f.record(h, results[next])
				next++
			}
			return nil
		})
	}
	_ = g.Wait()

	if next < len(segments) {
		if err := stopped(ctx, h); err != nil {
			return results[:next], err
		}
		return results[:next], ErrCancelled
	}
	return results, nil
}

// call invokes exec for one segment. The result always carries the
// segment's number.
func (f *FanOut) call(ctx context.Context, h *Handle, seg job.Segment, exec SegmentExecutor) (res job.SegmentResult) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("segment executor panicked",
				zap.String("job_id", h.JobID()),
				zap.Stringer("stage", h.Stage()),
				zap.Int("segment", seg.Number),
				zap.Any("panic", r),
			)
			res = job.Failed(seg.Number, fmt.Errorf("executor panic: %v", r))
		}
	}()

	if exec == nil {
		return job.Failed(seg.Number, fmt.Errorf("no executor configured for %s", h.Stage()))
	}
	res = exec.Run(ctx, h.JobID(), seg)
	res.Segment = seg.Number
	if res.Status == "" {
		res.Status = job.SegmentSuccess
		if res.Error != "" {
			res.Status = job.SegmentFailed
		}
	}
	if res.Status == job.SegmentFailed {
		f.logger.Warn("segment failed",
			zap.String("job_id", h.JobID()),
			zap.Stringer("stage", h.Stage()),
			zap.Int("segment", seg.Number),
			zap.String("reason", res.Error),
		)
	}
	return res
}

func (f *FanOut) record(h *Handle, res job.SegmentResult) {
	h.Record(res)
	if f.onRecord != nil {
		f.onRecord(h, res)
	}
}

func stopped(ctx context.Context, h *Handle) error {
	if h.Cancelled() {
		return ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return nil
}
