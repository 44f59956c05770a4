// Package progresscache mirrors fan-out progress into Redis so a process
// that does not own a run can still poll it.
package progresscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dusk-indust/papercast/internal/job"
	"github.com/dusk-indust/papercast/internal/orchestrator"
)

const (
	defaultPrefix = "papercast:"
	defaultTTL    = 10 * time.Minute
)

var (
	_ orchestrator.Mirror       = (*RedisMirror)(nil)
	_ orchestrator.MirrorReader = (*RedisMirror)(nil)
)

// commander is the subset of *redis.Client the mirror uses.
type commander interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Options configures the Redis connection and key layout.
type Options struct {
	Addr     string
	Password string
	DB       int

	// Prefix is prepended to every key. Defaults to "papercast:".
	Prefix string

	// TTL bounds how long a snapshot outlives its last update. Defaults
	// to 10 minutes.
	TTL time.Duration
}

// RedisMirror stores the latest ProgressState of each (job, stage) as a
// JSON string under <prefix>progress:<job>:<stage>.
type RedisMirror struct {
	client commander
	prefix string
	ttl    time.Duration
}

// Connect dials Redis and verifies the connection with a PING.
func Connect(ctx context.Context, opts Options) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newMirror(client, opts), nil
}

func newMirror(client commander, opts Options) *RedisMirror {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	return &RedisMirror{client: client, prefix: opts.Prefix, ttl: opts.TTL}
}

// Key returns the Redis key holding the snapshot for (jobID, stage).
func (m *RedisMirror) Key(jobID string, stage job.Stage) string {
	return m.prefix + "progress:" + jobID + ":" + stage.String()
}

// Publish overwrites the stored snapshot and refreshes its TTL.
func (m *RedisMirror) Publish(ctx context.Context, state job.ProgressState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("progresscache: encode: %w", err)
	}
	if err := m.client.Set(ctx, m.Key(state.JobID, state.Stage), data, m.ttl).Err(); err != nil {
		return fmt.Errorf("progresscache: set: %w", err)
	}
	return nil
}

// Load returns the stored snapshot. ok is false when none exists.
func (m *RedisMirror) Load(ctx context.Context, jobID string, stage job.Stage) (job.ProgressState, bool, error) {
	raw, err := m.client.Get(ctx, m.Key(jobID, stage)).Bytes()
	if errors.Is(err, redis.Nil) {
		return job.ProgressState{}, false, nil
	}
	if err != nil {
		return job.ProgressState{}, false, fmt.Errorf("progresscache: get: %w", err)
	}

	var state job.ProgressState
	if err := json.Unmarshal(raw, &state); err != nil {
		return job.ProgressState{}, false, fmt.Errorf("progresscache: decode %s: %w", m.Key(jobID, stage), err)
	}
	return state, true, nil
}

// Forget removes the snapshot for (jobID, stage).
func (m *RedisMirror) Forget(ctx context.Context, jobID string, stage job.Stage) error {
	return m.client.Del(ctx, m.Key(jobID, stage)).Err()
}

// Close releases the connection pool.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
