// Package config loads papercast.yml and applies environment overrides for
// secrets and service addresses.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// FileNames lists the config file names tried, in order.
var FileNames = []string{"papercast.yml", "papercast.yaml"}

// Config holds every setting the CLI and MCP server need.
type Config struct {
	DataDir   string          `yaml:"dataDir,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	Pipeline  PipelineConfig  `yaml:"pipeline,omitempty"`
	Executors ExecutorsConfig `yaml:"executors,omitempty"`
	Redis     RedisConfig     `yaml:"redis,omitempty"`
	Kafka     KafkaConfig     `yaml:"kafka,omitempty"`
	Log       LogConfig       `yaml:"log,omitempty"`
}

// StoreConfig selects the job store backend.
type StoreConfig struct {
	Backend string `yaml:"backend,omitempty"` // file, memory, postgres or kuzu
	DSN     string `yaml:"dsn,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	CachePolicy  string        `yaml:"cachePolicy,omitempty"`
	Concurrency  int           `yaml:"concurrency,omitempty"`
	PollInterval time.Duration `yaml:"pollInterval,omitempty"`
}

// ExecutorsConfig groups the external service settings.
type ExecutorsConfig struct {
	OCR       OCRSettings       `yaml:"ocr,omitempty"`
	Planner   PlannerSettings   `yaml:"planner,omitempty"`
	Render    RenderSettings    `yaml:"render,omitempty"`
	Narration NarrationSettings `yaml:"narration,omitempty"`
	Compose   ComposeSettings   `yaml:"compose,omitempty"`
}

// OCRSettings configures Mistral OCR. Without an API key extraction falls
// back to the local PDF reader.
type OCRSettings struct {
	BaseURL string `yaml:"baseURL,omitempty"`
	APIKey  string `yaml:"apiKey,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

type PlannerSettings struct {
	BaseURL       string `yaml:"baseURL,omitempty"`
	APIKey        string `yaml:"apiKey,omitempty"`
	Model         string `yaml:"model,omitempty"`
	MaxTokens     int    `yaml:"maxTokens,omitempty"`
	TruncateChars int    `yaml:"truncateChars,omitempty"`
}

type RenderSettings struct {
	URL     string        `yaml:"url,omitempty"`
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

type NarrationSettings struct {
	BaseURL       string `yaml:"baseURL,omitempty"`
	APIKey        string `yaml:"apiKey,omitempty"`
	VoiceID       string `yaml:"voiceId,omitempty"`
	ModelID       string `yaml:"modelId,omitempty"`
	PublicBaseURL string `yaml:"publicBaseURL,omitempty"`
}

type ComposeSettings struct {
	BaseURL      string        `yaml:"baseURL,omitempty"`
	APIKey       string        `yaml:"apiKey,omitempty"`
	Env          string        `yaml:"env,omitempty"`
	PollInterval time.Duration `yaml:"pollInterval,omitempty"`
	MaxAttempts  int           `yaml:"maxAttempts,omitempty"`
}

// RedisConfig enables the progress mirror when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr,omitempty"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`
}

// KafkaConfig enables event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty"`
}

type LogConfig struct {
	Level       string `yaml:"level,omitempty"`
	Development bool   `yaml:"development,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DataDir: ".papercast",
		Store:   StoreConfig{Backend: "file"},
		Pipeline: PipelineConfig{
			CachePolicy:  "cache-first",
			Concurrency:  1,
			PollInterval: 2 * time.Second,
		},
		Executors: ExecutorsConfig{
			Planner: PlannerSettings{TruncateChars: 15000},
			Render:  RenderSettings{Enabled: true, Timeout: 300 * time.Second},
			Compose: ComposeSettings{Env: "stage", PollInterval: 5 * time.Second, MaxAttempts: 120},
		},
		Redis: RedisConfig{TTL: 10 * time.Minute},
		Log:   LogConfig{Level: "info"},
	}
}

// Load reads papercast.yml or papercast.yaml from dir over the defaults,
// then applies environment overrides. A missing file is not an error.
func Load(dir string) (*Config, error) {
	cfg := Default()
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		break
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables. Secrets normally arrive this
// way rather than through the file.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"MISTRAL_API_KEY":    &c.Executors.OCR.APIKey,
		"ANTHROPIC_API_KEY":  &c.Executors.Planner.APIKey,
		"ELEVENLABS_API_KEY": &c.Executors.Narration.APIKey,
		"SHOTSTACK_API_KEY":  &c.Executors.Compose.APIKey,
		"SHOTSTACK_ENV":      &c.Executors.Compose.Env,
		"RENDER_API_URL":     &c.Executors.Render.URL,
		"DATABASE_URL":       &c.Store.DSN,
		"REDIS_ADDR":         &c.Redis.Addr,
		"PAPERCAST_DATA_DIR": &c.DataDir,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("RENDER_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: RENDER_ENABLED: %w", err)
		}
		c.Executors.Render.Enabled = enabled
	}
	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	return nil
}

// Validate rejects settings the orchestrator cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "file", "memory", "kuzu":
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("config: store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	switch c.Pipeline.CachePolicy {
	case "", "cache-first", "always-regenerate":
	default:
		return fmt.Errorf("config: unknown cache policy %q", c.Pipeline.CachePolicy)
	}
	if c.Pipeline.Concurrency < 0 {
		return fmt.Errorf("config: pipeline.concurrency must be >= 1, got %d", c.Pipeline.Concurrency)
	}
	return nil
}

// StorePath returns where the file or kuzu backend keeps its data.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	if c.Store.Backend == "kuzu" {
		return filepath.Join(c.DataDir, "kuzu")
	}
	return filepath.Join(c.DataDir, "jobs")
}

// ArtifactDir returns the root for per-job artifacts such as narration audio.
func (c *Config) ArtifactDir() string {
	return filepath.Join(c.DataDir, "artifacts")
}

// NewLogger builds a zap logger from the log settings.
func NewLogger(lc LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if lc.Level != "" {
		lvl, err := zapcore.ParseLevel(lc.Level)
		if err != nil {
			return nil, fmt.Errorf("config: log level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
