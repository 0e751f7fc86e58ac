package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/clive/apps/ltm/internal/app"
	"github.com/iammorganparry/clive/apps/ltm/internal/mcp"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP memory server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port, _ := cmd.Flags().GetInt("port"); port != 0 {
				cfg.Port = port
			}

			logger := app.NewLogger(os.Stdout, cfg.LogLevel)
			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.Serve(ctx)
		},
	}
	cmd.Flags().Int("port", 0, "listen port (overrides PORT)")
	return cmd
}

func newMCPCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve memory tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if agent, _ := cmd.Flags().GetString("agent"); agent != "" {
				cfg.MCPAgentID = agent
			}

			logger := app.NewLogger(os.Stderr, cfg.LogLevel)
			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := mcp.NewServer(a.Service, cfg.MCPAgentID, version, logger)
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().String("agent", "", "agent identity for scope access (overrides MCP_AGENT_ID)")
	return cmd
}
