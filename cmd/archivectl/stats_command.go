package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/saviobatista/sbs-archive/internal/archive"
	"github.com/saviobatista/sbs-archive/internal/types"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var runs int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show row counts and time ranges per tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			reporter := archive.NewStatsReporter(b.store, b.store)

			tables, err := reporter.TableStats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTableStats(tables))

			if runs > 0 {
				entries, err := reporter.RecentRuns(cmd.Context(), runs)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, renderRuns(entries))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&runs, "runs", 10, "Number of recent job runs to list; 0 hides them")
	return cmd
}

func formatTS(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format(time.RFC3339)
}

func renderTableStats(stats []types.TableStat) string {
	headers := []string{"Table", "Tier", "Rows", "Oldest", "Newest"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft}
	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, []string{
			s.TableName,
			s.Tier,
			humanize.Comma(s.RowCount),
			formatTS(s.OldestTS),
			formatTS(s.NewestTS),
		})
	}
	return renderTable(headers, rows, aligns)
}

func renderRuns(entries []types.ArchiveLogEntry) string {
	headers := []string{"Run (UTC)", "Job", "Status", "Rows", "Detail"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			formatTS(e.RunTime),
			e.JobName,
			e.Status,
			strconv.FormatInt(e.RowsAffected, 10),
			e.Detail,
		})
	}
	return renderTable(headers, rows, aligns)
}
