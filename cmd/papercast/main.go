package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// CLI flags parsed from command line.
type cliFlags struct {
	ConfigDir string
	Verbose   bool
	Version   bool
}

// version is set by goreleaser at build time.
var version = "dev"

const usage = `usage: papercast [flags] <command> [args]

commands:
  init [--force]                       write papercast.yml and register the MCP server
  create <source.pdf>                  register a new job
  advance <job> <stage>                produce one stage, waiting for fan-outs
  poll <job> <stage>                   show stage progress
  output <job> <stage>                 print a stage's stored output as JSON
  run <job> [--from S] [--to S]        produce a range of stages in order
  list                                 list jobs and their progress
  restore <job>                        reload a job and show its status
  export <job> [--format json|mermaid] export a job's state
  watch [--group G]                    follow lifecycle events from Kafka
  serve-mcp [--addr host:port]         serve the MCP tools (stdio when no addr)

flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var flags cliFlags

	fs := flag.NewFlagSet("papercast", flag.ContinueOnError)
	fs.StringVar(&flags.ConfigDir, "config-dir", ".", "directory holding papercast.yml")
	fs.BoolVar(&flags.Verbose, "verbose", false, "enable debug logging and progress output")
	fs.BoolVar(&flags.Version, "version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if flags.Version {
		fmt.Fprintln(stdout, version)
		return nil
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return flag.ErrHelp
	}
	cmd, cmdArgs := rest[0], rest[1:]

	if cmd == "init" {
		return runInit(flags.ConfigDir, cmdArgs, stdout)
	}

	c := &cli{flags: flags, stdout: stdout}
	switch cmd {
	case "create":
		return c.create(ctx, cmdArgs)
	case "advance":
		return c.advance(ctx, cmdArgs)
	case "poll":
		return c.poll(ctx, cmdArgs)
	case "output":
		return c.output(ctx, cmdArgs)
	case "run":
		return c.runStages(ctx, cmdArgs)
	case "list":
		return c.list(ctx)
	case "restore":
		return c.restore(ctx, cmdArgs)
	case "export":
		return c.export(ctx, cmdArgs)
	case "watch":
		return c.watch(ctx, cmdArgs)
	case "serve-mcp":
		return c.serveMCP(ctx, cmdArgs)
	default:
		return fmt.Errorf("unknown command %q (run with -h for usage)", cmd)
	}
}
