package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dusk-indust/papercast/internal/config"
)

// mcpConfig represents the structure of a .mcp.json file.
type mcpConfig struct {
	MCPServers map[string]json.RawMessage `json:"mcpServers"`
}

// papercastMCPEntry is the MCP server configuration for the papercast binary.
var papercastMCPEntry = json.RawMessage(`{
  "type": "stdio",
  "command": "papercast",
  "args": ["serve-mcp"]
}`)

// runInit writes an annotated papercast.yml and registers the MCP server
// in .mcp.json inside the target directory.
func runInit(dir string, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	force := fs.Bool("force", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return err
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return err
	}

	cfgPath := filepath.Join(abs, config.FileNames[0])
	if _, err := os.Stat(cfgPath); err == nil && !*force {
		fmt.Fprintf(stdout, "  skipped %s (exists, use --force to overwrite)\n", dotRelative(abs, cfgPath))
	} else {
		if err := os.WriteFile(cfgPath, config.Example, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", cfgPath, err)
		}
		fmt.Fprintf(stdout, "  created %s\n", dotRelative(abs, cfgPath))
	}

	if err := mergeMCPConfig(filepath.Join(abs, ".mcp.json"), *force, stdout); err != nil {
		return err
	}

	fmt.Fprintln(stdout, "\nSetup complete. Run 'papercast create <source.pdf>' to start a job.")
	return nil
}

// mergeMCPConfig creates or merges the papercast entry into .mcp.json.
func mergeMCPConfig(mcpPath string, force bool, stdout io.Writer) error {
	var cfg mcpConfig

	data, err := os.ReadFile(mcpPath)
	if err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", mcpPath, err)
		}
	}

	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]json.RawMessage)
	}

	if _, exists := cfg.MCPServers["papercast"]; exists && !force {
		fmt.Fprintln(stdout, "  skipped .mcp.json papercast entry (exists, use --force to overwrite)")
		return nil
	}

	cfg.MCPServers["papercast"] = papercastMCPEntry

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling .mcp.json: %w", err)
	}

	if err := os.WriteFile(mcpPath, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", mcpPath, err)
	}

	action := "created"
	if data != nil {
		action = "updated"
	}
	fmt.Fprintf(stdout, "  %s .mcp.json with papercast MCP server\n", action)
	return nil
}

// dotRelative returns a display path relative to base, prefixed with "./".
func dotRelative(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return "./" + rel
}
