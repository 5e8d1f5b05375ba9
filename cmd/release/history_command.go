package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"release-maker/internal/domain"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded releases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			releases, err := a.Releases.ListReleases(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(releases) == 0 {
				fmt.Fprintln(out, "No releases recorded.")
				return nil
			}
			if limit > 0 && len(releases) > limit {
				releases = releases[:limit]
			}
			fmt.Fprintln(out, renderHistory(releases, isTerminal(out)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Show at most this many releases (0 for all)")
	return cmd
}

func renderHistory(releases []domain.Release, fancy bool) string {
	headers := []string{"ID", "Media", "Status", "Result", "Message", "Screenshots", "Updated"}
	rows := make([][]string, 0, len(releases))
	for _, r := range releases {
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		result := "-"
		if r.Status == domain.TaskStatusCompleted {
			result = colorize("failed", false, fancy)
			if r.Success {
				result = colorize("ok", true, fancy)
			}
		}
		rows = append(rows, []string{
			id,
			r.MediaName,
			string(r.Status),
			result,
			r.StatusMessage,
			fmt.Sprintf("%d", len(r.Screenshots)),
			humanize.Time(r.UpdatedAt),
		})
	}
	return renderTable(headers, rows, []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}, fancy)
}
