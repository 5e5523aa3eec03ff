package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/seagent/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio",
	Long: `Serve the assistant, thread and run tools to an MCP client on stdin and
stdout. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			srv, err := mcp.NewServer(&mcp.Config{
				Version:  version,
				Logger:   a.logger.Named("mcp"),
				Scrubber: a.stack.Scrubber,
			}, a.stack.Service)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		})
	},
}
