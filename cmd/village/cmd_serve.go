package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/beads-village/village/internal/server"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

// serveStdio is replaced in tests so serve can be exercised without stdin.
var serveStdio = func(ctx context.Context, s *mcpserver.MCPServer) error {
	return mcpserver.ServeStdio(s)
}

func newServeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: "Run the Beads Village MCP server on stdin/stdout. Logs go to stderr so they\n" +
			"never interleave with the protocol stream.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg)

			s, cleanup, err := server.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("serving", "version", server.Version, "workspace", cfg.Workspace, "team", cfg.Team)
			return serveStdio(ctx, s)
		},
	}
}
