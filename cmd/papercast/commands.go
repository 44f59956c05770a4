package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/dusk-indust/papercast/internal/config"
	"github.com/dusk-indust/papercast/internal/events"
	"github.com/dusk-indust/papercast/internal/export"
	"github.com/dusk-indust/papercast/internal/job"
	"github.com/dusk-indust/papercast/internal/mcptools"
	"github.com/dusk-indust/papercast/internal/orchestrator"
	"github.com/dusk-indust/papercast/internal/status"
)

type cli struct {
	flags  cliFlags
	stdout io.Writer
}

// open wires the orchestrator. Progress lines are printed when verbose.
func (c *cli) open(ctx context.Context) (*app, error) {
	var progress io.Writer
	if c.flags.Verbose {
		progress = stderr
	}
	return newApp(ctx, c.flags, progress)
}

func (c *cli) create(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: papercast create <source.pdf>")
	}
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	j, err := a.orch.CreateJob(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, j.ID)
	return nil
}

func (c *cli) advance(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: papercast advance <job> <stage>")
	}
	stage, err := job.ParseStage(args[1])
	if err != nil {
		return err
	}
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	outcomes, err := a.orch.RunPipeline(ctx, args[0], stage, stage)
	for _, out := range outcomes {
		printOutcome(c.stdout, out)
	}
	return err
}

func (c *cli) poll(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: papercast poll <job> <stage>")
	}
	stage, err := job.ParseStage(args[1])
	if err != nil {
		return err
	}
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.orch.PollStage(ctx, args[0], stage)
	if err != nil {
		return err
	}
	printProgress(c.stdout, st)
	return nil
}

func (c *cli) output(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: papercast output <job> <stage>")
	}
	stage, err := job.ParseStage(args[1])
	if err != nil {
		return err
	}
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	raw, err := a.orch.StageOutput(ctx, args[0], stage)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("format output: %w", err)
	}
	buf.WriteByte('\n')
	_, err = c.stdout.Write(buf.Bytes())
	return err
}

func (c *cli) runStages(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: papercast run <job> [--from stage] [--to stage]")
	}
	jobID := args[0]

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	from := fs.String("from", job.StageExtraction.String(), "first stage to produce")
	to := fs.String("to", job.StageComposition.String(), "last stage to produce")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	fromStage, err := job.ParseStage(*from)
	if err != nil {
		return err
	}
	toStage, err := job.ParseStage(*to)
	if err != nil {
		return err
	}

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	outcomes, err := a.orch.RunPipeline(ctx, jobID, fromStage, toStage)
	for _, out := range outcomes {
		printOutcome(c.stdout, out)
	}
	return err
}

func (c *cli) list(ctx context.Context) error {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := a.orch.ListJobs(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(c.stdout, "No jobs found.")
		fmt.Fprintln(c.stdout, "Run 'papercast create <source.pdf>' to start one.")
		return nil
	}
	for i, js := range jobs {
		if i > 0 {
			fmt.Fprintln(c.stdout)
		}
		printJob(c.stdout, js)
	}
	return nil
}

func (c *cli) restore(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: papercast restore <job>")
	}
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	j, err := a.orch.Restore(ctx, args[0])
	if err != nil {
		return err
	}
	printJob(c.stdout, status.Describe(j))
	return nil
}

func (c *cli) export(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: papercast export <job> [--format json|mermaid]")
	}
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	format := fs.String("format", "json", "output format: json or mermaid")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	j, err := a.orch.Restore(ctx, args[0])
	if err != nil {
		return err
	}
	data, err := export.ExportJob(j, nil, time.Now())
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	switch *format {
	case "json":
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		_, err = c.stdout.Write(append(out, '\n'))
		return err
	case "mermaid":
		_, err := io.WriteString(c.stdout, export.GenerateMermaid(data))
		return err
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
}

func (c *cli) watch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	group := fs.String("group", "papercast-watch", "Kafka consumer group")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(c.flags.ConfigDir)
	if err != nil {
		return err
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("watch needs kafka.brokers (or KAFKA_BROKERS)")
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	follower, err := events.NewFollower(cfg.Kafka.Brokers, *group, logger)
	if err != nil {
		return err
	}
	defer follower.Close()

	topic := cfg.Kafka.Topic
	if topic == "" {
		topic = events.DefaultTopic
	}
	logger.Info("following events", zap.String("topic", topic), zap.String("group", *group))
	return follower.Follow(ctx, topic, func(_ context.Context, ev orchestrator.Event) error {
		fmt.Fprintf(c.stdout, "[%s] %s\n", ev.JobID, orchestrator.FormatEvent(ev))
		return nil
	})
}

func (c *cli) serveMCP(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve-mcp", flag.ContinueOnError)
	addr := fs.String("addr", "", "serve streamable HTTP on this address instead of stdio")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, c.flags, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.orch.RestoreAll(ctx); err != nil {
		return fmt.Errorf("restore jobs: %w", err)
	}

	server := mcptools.NewJobMCPServer(mcptools.NewJobService(a.orch))
	if *addr == "" {
		return mcptools.RunStdio(ctx, server)
	}
	a.logger.Info("serving MCP over HTTP", zap.String("addr", *addr))
	return mcptools.RunHTTP(ctx, server, *addr)
}

// ---------- Output ----------

func printOutcome(w io.Writer, out orchestrator.StageOutcome) {
	header := orchestrator.FormatStageHeader(out.JobID, out.Stage)
	switch {
	case out.Cached:
		fmt.Fprintf(w, "%s  [cached]\n", header)
	case out.InFlight:
		fmt.Fprintf(w, "%s  [running, %d segments]\n", header, out.Total)
	default:
		fmt.Fprintf(w, "%s  [complete]\n", header)
	}
	if out.Progress != nil && out.Progress.Total > 0 {
		fmt.Fprintf(w, "  %d/%d segments, %d failed\n", out.Progress.Completed, out.Progress.Total, out.Progress.Failures())
	}
	if out.Stage == job.StageComposition && len(out.Output) > 0 {
		var v job.Video
		if json.Unmarshal(out.Output, &v) == nil && v.URL != "" {
			fmt.Fprintf(w, "  video: %s (%.0fs)\n", v.URL, v.DurationSeconds)
		}
	}
}

func printProgress(w io.Writer, st job.ProgressState) {
	fmt.Fprintf(w, "%s: %s %d/%d (%.0f%%)\n", st.Stage, st.Status, st.Completed, st.Total, st.Fraction()*100)
	if st.CurrentTitle != "" && !st.Terminal() {
		fmt.Fprintf(w, "  current: segment %d %q\n", st.CurrentIndex, st.CurrentTitle)
	}
	if st.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", st.Error)
	}
	for _, r := range st.Results {
		line := fmt.Sprintf("  segment %d: %s", r.Segment, r.Status)
		switch {
		case r.Error != "":
			line += " (" + r.Error + ")"
		case r.ArtifactRef != "":
			line += " " + r.ArtifactRef
		}
		fmt.Fprintln(w, line)
	}
}

func printJob(w io.Writer, js status.JobStatus) {
	fmt.Fprintf(w, "Job: %s  (%s)\n", js.ID, js.SourceRef)
	running := make(map[int]bool, len(js.Running))
	for _, s := range js.Running {
		running[int(s)] = true
	}
	for _, si := range js.Stages {
		marker := "  "
		label := "pending"
		if si.Complete {
			label = "complete"
		}
		if running[si.Stage] {
			label = "running"
		}
		if si.Stage == js.NextStage && !running[si.Stage] {
			marker = "->"
			label = "next"
		}
		detail := ""
		if si.Segments > 0 {
			detail = fmt.Sprintf(" %d segments", si.Segments)
			if si.Failures > 0 {
				detail += fmt.Sprintf(", %d failed", si.Failures)
			}
		}
		fmt.Fprintf(w, "  %s Stage %d: %-18s [%s]%s\n", marker, si.Stage, si.Name, label, detail)
	}
	if js.NextStage == -1 {
		fmt.Fprintln(w, "  All stages complete.")
	}
}
