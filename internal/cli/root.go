// Package cli implements the ltm command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/clive/apps/ltm/internal/app"
	"github.com/iammorganparry/clive/apps/ltm/internal/config"
)

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "ltm",
		Short:         "Long-term memory for conversational agents",
		Long:          "ltm stores agent memories in SQLite and recalls them with hybrid vector and keyword retrieval.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to a YAML config file (default $LTM_CONFIG)")

	root.AddCommand(
		newServeCmd(),
		newMCPCmd(version),
		newListCmd(),
		newStatsCmd(),
		newSearchCmd(),
		newDeleteCmd(),
		newDeleteBulkCmd(),
		newExportCmd(),
		newImportCmd(),
		newReembedCmd(),
		newVersionCmd(version),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(version string) int {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}
	return 0
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ltm %s\n", version)
		},
	}
}

// loadConfig reads --config and the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// withApp builds the service graph for one command. Logs go to stderr so
// stdout carries only command output.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := app.New(cfg, app.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
