package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jingkaihe/playbook/pkg/logger"
	"github.com/jingkaihe/playbook/pkg/mcpserver"
	"github.com/jingkaihe/playbook/pkg/presenter"
	"github.com/jingkaihe/playbook/pkg/workspace"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// MCPConfig holds configuration for the mcp command
type MCPConfig struct {
	WorkDir string
}

// NewMCPConfig creates a new MCPConfig with default values
func NewMCPConfig() *MCPConfig {
	return &MCPConfig{WorkDir: "."}
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve tool-enabled skills over MCP stdio",
	Long: `Start a Model Context Protocol server on stdin and stdout. Every skill that
registers as a tool (task, file, link, document and tool-enabled local skills)
is advertised with its parameter schema. Each call runs in a fresh context.

Logs are written to stderr so they never interleave with the protocol stream.`,
	Run: func(cmd *cobra.Command, _ []string) {
		config := getMCPConfigFromFlags(cmd)
		if err := runMCPCommand(cmd.Context(), config); err != nil {
			presenter.Error(err, "MCP server failed")
			os.Exit(1)
		}
	},
}

func init() {
	defaults := NewMCPConfig()
	mcpCmd.Flags().String("workdir", defaults.WorkDir, "Directory that relative file paths resolve against")
}

func getMCPConfigFromFlags(cmd *cobra.Command) *MCPConfig {
	config := NewMCPConfig()
	if dir, err := cmd.Flags().GetString("workdir"); err == nil {
		config.WorkDir = dir
	}
	return config
}

func runMCPCommand(ctx context.Context, config *MCPConfig) error {
	logger.SetOutput(os.Stderr)
	presenter.SetQuiet(true)

	session, err := openSession(ctx, func(c *workspace.Config) {
		c.Skills.Watch = false
	})
	if err != nil {
		return errors.Wrap(err, "failed to open session")
	}
	defer session.Close()

	server := mcpserver.New(session.Registry(),
		mcpserver.WithInvoker(session.Invoker()),
		mcpserver.WithStore(session.Store()),
		mcpserver.WithWorkDir(config.WorkDir),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return server.Serve(ctx, os.Stdin, os.Stdout)
}
