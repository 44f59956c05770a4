package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/dusk-indust/papercast/internal/config"
	"github.com/dusk-indust/papercast/internal/events"
	"github.com/dusk-indust/papercast/internal/executor"
	"github.com/dusk-indust/papercast/internal/jobstore"
	"github.com/dusk-indust/papercast/internal/orchestrator"
	"github.com/dusk-indust/papercast/internal/progresscache"
)

// app holds everything a command needs. Close releases it in reverse
// order of construction.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	orch     *orchestrator.Orchestrator
	reporter *orchestrator.ProgressReporter
	closers  []func() error
	printed  chan struct{}
}

// newApp loads the config and wires store, executors, mirror and event
// sinks into an orchestrator. When progress is non-nil lifecycle events
// are printed to it.
func newApp(ctx context.Context, flags cliFlags, progress io.Writer) (*app, error) {
	cfg, err := config.Load(flags.ConfigDir)
	if err != nil {
		return nil, err
	}
	if flags.Verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() error {
		logger.Sync()
		return nil
	})

	store, err := openStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	sinks := orchestrator.MultiSink{events.NewLogSink(logger)}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			store.Close()
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, kafka.Close)
		sinks = append(sinks, kafka)
	}
	if progress != nil {
		a.reporter = orchestrator.NewProgressReporter()
		a.printed = make(chan struct{})
		go func() {
			defer close(a.printed)
			for ev := range a.reporter.Subscribe() {
				fmt.Fprintln(progress, orchestrator.FormatEvent(ev))
			}
		}()
		a.closers = append(a.closers, func() error {
			a.reporter.Close()
			<-a.printed
			return nil
		})
		sinks = append(sinks, a.reporter)
	}

	var mirror orchestrator.Mirror
	if cfg.Redis.Addr != "" {
		m, err := progresscache.Connect(ctx, progresscache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			store.Close()
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, m.Close)
		mirror = m
	}

	policy, ok := orchestrator.ParseCachePolicy(cfg.Pipeline.CachePolicy)
	if !ok {
		store.Close()
		a.Close()
		return nil, fmt.Errorf("unknown cache policy %q", cfg.Pipeline.CachePolicy)
	}

	a.orch = orchestrator.New(store, buildExecutors(cfg, logger), orchestrator.Options{
		CachePolicy:  policy,
		Concurrency:  cfg.Pipeline.Concurrency,
		PollInterval: cfg.Pipeline.PollInterval,
		Logger:       logger,
		Events:       sinks,
		Mirror:       mirror,
	})
	a.closers = append(a.closers, a.orch.Close)
	return a, nil
}

// Close runs the closers in reverse and returns the first error.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func openStore(ctx context.Context, cfg *config.Config) (jobstore.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return jobstore.NewMemStore(), nil
	case "postgres":
		return jobstore.NewPostgresStore(ctx, cfg.Store.DSN)
	case "kuzu":
		return openKuzuStore(cfg.StorePath())
	default:
		return jobstore.NewFileStore(cfg.StorePath())
	}
}

func buildExecutors(cfg *config.Config, logger *zap.Logger) orchestrator.Executors {
	ex := cfg.Executors
	execs := orchestrator.Executors{}

	if ex.OCR.APIKey != "" {
		execs.Extractor = executor.NewOCRExtractor(executor.OCRConfig{
			BaseURL: ex.OCR.BaseURL,
			APIKey:  ex.OCR.APIKey,
			Model:   ex.OCR.Model,
		}, executor.WithLogger(logger.Named("ocr")))
	} else {
		execs.Extractor = executor.NewPDFExtractor(logger.Named("pdf"))
	}

	execs.Planner = executor.NewPlanner(executor.PlannerConfig{
		BaseURL:       ex.Planner.BaseURL,
		APIKey:        ex.Planner.APIKey,
		Model:         ex.Planner.Model,
		MaxTokens:     ex.Planner.MaxTokens,
		TruncateChars: ex.Planner.TruncateChars,
	}, executor.WithLogger(logger.Named("planner")))

	if ex.Render.Enabled {
		execs.Renderer = executor.NewRenderer(executor.RenderConfig{
			BaseURL: ex.Render.URL,
			Timeout: ex.Render.Timeout,
		}, executor.WithLogger(logger.Named("render")))
	} else {
		execs.Renderer = executor.DisabledRenderer{}
	}

	execs.Narrator = executor.NewNarrator(executor.NarrationConfig{
		BaseURL:       ex.Narration.BaseURL,
		APIKey:        ex.Narration.APIKey,
		VoiceID:       ex.Narration.VoiceID,
		ModelID:       ex.Narration.ModelID,
		PublicBaseURL: ex.Narration.PublicBaseURL,
	}, executor.NewArtifactDir(cfg.ArtifactDir()), executor.WithLogger(logger.Named("narration")))

	execs.Composer = executor.NewComposer(executor.ComposeConfig{
		APIKey:       ex.Compose.APIKey,
		Env:          ex.Compose.Env,
		BaseURL:      ex.Compose.BaseURL,
		PollInterval: ex.Compose.PollInterval,
		MaxAttempts:  ex.Compose.MaxAttempts,
	}, executor.WithLogger(logger.Named("compose")))

	return execs
}

// stderr is where progress lines go; tests replace it.
var stderr io.Writer = os.Stderr
