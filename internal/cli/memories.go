package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/clive/apps/ltm/internal/app"
	"github.com/iammorganparry/clive/apps/ltm/internal/models"
)

const previewLen = 80

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			category, _ := cmd.Flags().GetString("category")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			asJSON, _ := cmd.Flags().GetBool("json")

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				resp, err := a.Service.List(ctx, &models.ListRequest{
					Scope:    scope,
					Category: models.Category(category),
					Limit:    limit,
					Offset:   offset,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return printJSON(out, resp)
				}
				if len(resp.Memories) == 0 {
					fmt.Fprintln(out, "No memories found.")
					return nil
				}
				fmt.Fprintf(out, "%-8s  %-10s  %-20s  %-16s  %s\n", "ID", "CATEGORY", "SCOPE", "CREATED", "TEXT")
				for _, e := range resp.Memories {
					fmt.Fprintf(out, "%-8s  %-10s  %-20s  %-16s  %s\n",
						shortID(e.ID), e.Category, e.Scope, formatTime(e.Timestamp), preview(e.Text))
				}
				return nil
			})
		},
	}
	cmd.Flags().String("scope", "", "only this scope")
	cmd.Flags().String("category", "", "only this category")
	cmd.Flags().Int("limit", 20, "page size (max 200)")
	cmd.Flags().Int("offset", 0, "entries to skip")
	cmd.Flags().Bool("json", false, "print JSON")
	return cmd
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count memories by scope and category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			asJSON, _ := cmd.Flags().GetBool("json")

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				stats, err := a.Service.Stats(ctx, "", scope)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return printJSON(out, stats)
				}
				fmt.Fprintf(out, "Total: %d\n", stats.TotalCount)
				fmt.Fprintf(out, "FTS:   %t\n", a.Service.HasFtsSupport())
				fmt.Fprintln(out, "\nBy scope:")
				for _, k := range sortedKeys(stats.ScopeCounts) {
					fmt.Fprintf(out, "  %-24s %d\n", k, stats.ScopeCounts[k])
				}
				fmt.Fprintln(out, "\nBy category:")
				for _, k := range sortedKeys(stats.CategoryCounts) {
					fmt.Fprintf(out, "  %-24s %d\n", k, stats.CategoryCounts[k])
				}
				return nil
			})
		},
	}
	cmd.Flags().String("scope", "", "only this scope")
	cmd.Flags().Bool("json", false, "print JSON")
	return cmd
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Recall memories relevant to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			category, _ := cmd.Flags().GetString("category")
			limit, _ := cmd.Flags().GetInt("limit")
			rerank, _ := cmd.Flags().GetString("rerank")
			asJSON, _ := cmd.Flags().GetBool("json")

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				resp, err := a.Service.Recall(ctx, &models.SearchRequest{
					Query:    strings.Join(args, " "),
					Limit:    limit,
					Scope:    scope,
					Category: models.Category(category),
					Rerank:   rerank,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return printJSON(out, resp)
				}
				if len(resp.Results) == 0 {
					fmt.Fprintln(out, "No relevant memories found.")
					return nil
				}
				for i, r := range resp.Results {
					fmt.Fprintf(out, "%2d. [%s] %.3f  %s/%s  %s\n",
						i+1, shortID(r.Entry.ID), r.Score, r.Entry.Scope, r.Entry.Category, preview(r.Entry.Text))
				}
				fmt.Fprintf(out, "\n%d results in %dms (fts=%t)\n", resp.Meta.TotalResults, resp.Meta.SearchTimeMs, resp.Meta.FTS)
				return nil
			})
		},
	}
	cmd.Flags().String("scope", "", "only this scope")
	cmd.Flags().String("category", "", "only this category")
	cmd.Flags().Int("limit", 5, "maximum results (1-20)")
	cmd.Flags().String("rerank", "", "override rerank strategy: cross-encoder, lightweight or none")
	cmd.Flags().Bool("json", false, "print JSON")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one memory by id or id prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Service.Forget(ctx, "", args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newDeleteBulkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete-bulk",
		Short: "Delete memories by scope and age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scopes, _ := cmd.Flags().GetStringSlice("scope")
			beforeFlag, _ := cmd.Flags().GetString("before")
			if len(scopes) == 0 && beforeFlag == "" {
				return errors.New("at least one of --scope or --before is required")
			}

			var before int64
			if beforeFlag != "" {
				t, err := parseBefore(beforeFlag, time.Now())
				if err != nil {
					return err
				}
				before = t.UnixMilli()
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				resp, err := a.Service.BulkDelete(ctx, &models.BulkDeleteRequest{Scopes: scopes, Before: before})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d memories\n", resp.Deleted)
				return nil
			})
		},
	}
	cmd.Flags().StringSlice("scope", nil, "scope to delete from (repeatable)")
	cmd.Flags().String("before", "", "only entries older than a date (2006-01-02, RFC3339) or an age (720h, 30d)")
	return cmd
}

// parseBefore accepts an absolute date or an age relative to now.
func parseBefore(s string, now time.Time) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err == nil && n > 0 {
			return now.AddDate(0, 0, -n), nil
		}
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("invalid --before %q: want a date, RFC3339 time or positive age", s)
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > previewLen {
		return string(r[:previewLen-3]) + "..."
	}
	return text
}

func formatTime(ms int64) string {
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
