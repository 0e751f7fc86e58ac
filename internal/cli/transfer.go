package cli

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/clive/apps/ltm/internal/app"
	"github.com/iammorganparry/clive/apps/ltm/internal/models"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write memories as a JSON export document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			output, _ := cmd.Flags().GetString("output")

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				doc, err := a.Service.Export(ctx, "", scope)
				if err != nil {
					return err
				}

				var w io.Writer = cmd.OutOrStdout()
				if output != "" && output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("create %s: %w", output, err)
					}
					defer f.Close()
					w = f
				}
				if err := printJSON(w, doc); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				if output != "" && output != "-" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d memories to %s\n", doc.Count, output)
				}
				return nil
			})
		},
	}
	cmd.Flags().String("scope", "", "only this scope")
	cmd.Flags().StringP("output", "o", "", "output file (default stdout)")
	return cmd
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import memories from an export document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			doc, err := readExport(args[0])
			if err != nil {
				return err
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				resp, err := a.Service.Import(ctx, &models.ImportRequest{
					Scope:    scope,
					DryRun:   dryRun,
					Memories: doc.Memories,
				})
				if err != nil {
					return err
				}
				prefix := ""
				if resp.DryRun {
					prefix = "[dry run] "
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%simported=%d skipped=%d reembedded=%d failed=%d\n",
					prefix, resp.Imported, resp.Skipped, resp.Reembedded, resp.Failed)
				return nil
			})
		},
	}
	cmd.Flags().String("scope", "", "import everything into this scope")
	cmd.Flags().Bool("dry-run", false, "report what would be imported without writing")
	return cmd
}

func readExport(path string) (*models.ExportDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc models.ExportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.Version > models.ExportVersion {
		return nil, fmt.Errorf("export version %d is newer than supported version %d", doc.Version, models.ExportVersion)
	}
	return &doc, nil
}

func newReembedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reembed",
		Short: "Re-encode memories with the configured embedding model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				resp, err := a.Service.Reembed(ctx, "", scope)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "processed=%d failed=%d\n", resp.Processed, resp.Failed)
				return nil
			})
		},
	}
	cmd.Flags().String("scope", "", "only this scope")
	return cmd
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
