// Package mcptools exposes the job orchestrator as MCP tools.
package mcptools

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewJobMCPServer creates an MCP server with the job tools registered.
func NewJobMCPServer(svc *JobService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "papercast",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_job",
		Description: "Register a source PDF as a new job. Returns the job id used by every other tool.",
	}, svc.CreateJob)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "advance_stage",
		Description: "Produce one pipeline stage for a job, reusing stored output when present. Fan-out stages (segment-rendering, narration) start in the background and return status in-progress.",
	}, svc.AdvanceStage)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "poll_stage",
		Description: "Report progress of a stage: completed count, total, current segment and per-segment results.",
	}, svc.PollStage)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_stage_output",
		Description: "Return the stored output of a completed stage.",
	}, svc.GetStageOutput)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_stage",
		Description: "Stop a running fan-out stage before its next segment. Partial results are discarded.",
	}, svc.CancelStage)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_jobs",
		Description: "List every job with its completed stages, next stage and running fan-outs.",
	}, svc.ListJobs)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "restore_job",
		Description: "Reload a job after a restart so its completed fan-out stages can be polled.",
	}, svc.RestoreJob)

	return server
}

// RunStdio runs the MCP server on stdio transport, blocking until stdin is
// closed or the context is cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the MCP server over streamable HTTP on addr until ctx is
// cancelled.
func RunHTTP(ctx context.Context, server *mcp.Server, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
