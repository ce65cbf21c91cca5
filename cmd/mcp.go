package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/geonext/internal/mcptool"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the geocoding tools over MCP stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "mcp")
		if err != nil {
			return err
		}
		defer env.Close()

		return mcptool.ServeStdio(ctx, mcptool.NewServer(env.Pipeline, version))
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
