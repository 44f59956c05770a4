package orchestrator

import (
	"time"

	"go.uber.org/zap"
)

// CachePolicy controls whether a completed stage is re-run when triggered
// again.
type CachePolicy string

const (
	// CacheFirst returns the stored output without calling any executor.
	CacheFirst CachePolicy = "cache-first"

	// AlwaysRegenerate re-runs the stage and overwrites the stored output.
	AlwaysRegenerate CachePolicy = "always-regenerate"
)

// ParseCachePolicy accepts the policy names used in configuration. An
// empty string selects CacheFirst.
func ParseCachePolicy(s string) (CachePolicy, bool) {
	switch CachePolicy(s) {
	case "", CacheFirst:
		return CacheFirst, true
	case AlwaysRegenerate:
		return AlwaysRegenerate, true
	default:
		return "", false
	}
}

// Options tunes an Orchestrator. The zero value is usable.
type Options struct {
	// CachePolicy defaults to CacheFirst.
	CachePolicy CachePolicy

	// Concurrency bounds in-flight segment calls per fan-out. Values below
	// 2 run segments one at a time.
	Concurrency int

	// PollInterval is how often RunPipeline checks a running fan-out.
	// Defaults to 2s.
	PollInterval time.Duration

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Events receives lifecycle events. May be nil.
	Events EventSink

	// Mirror receives a copy of every progress update. May be nil.
	Mirror Mirror
}

func (o Options) withDefaults() Options {
	if o.CachePolicy == "" {
		o.CachePolicy = CacheFirst
	}
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
