package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/saviobatista/sbs-archive/internal/archive"
)

// leaseTTL matches the archiver daemon so manual runs exclude it
const leaseTTL = 30 * time.Minute

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "run [stage]",
		Short:     "Run the archive pipeline, or one stage of it",
		Long:      "Stages: " + strings.Join(archive.Stages, ", "),
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: archive.Stages,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			orch := archive.NewOrchestrator(b.store, b.configs)
			if b.leaser != nil {
				orch.SetLeaser(b.leaser, leaseTTL)
			}

			var results []archive.JobResult
			var runErr error
			if len(args) == 1 {
				var result archive.JobResult
				result, runErr = orch.RunStage(cmd.Context(), args[0])
				results = append(results, result)
			} else {
				var summary archive.RunSummary
				summary, runErr = orch.RunOnce(cmd.Context())
				results = summary.Results
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderResults(results))
			return runErr
		},
	}
}

func renderResults(results []archive.JobResult) string {
	headers := []string{"Stage", "Status", "Rows", "Chunks", "Failed", "Duration"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.Stage,
			r.Status(),
			humanize.Comma(r.Rows),
			fmt.Sprintf("%d/%d", r.Processed, r.Selected),
			fmt.Sprint(r.Failed),
			r.Duration.Round(time.Millisecond).String(),
		})
	}
	return renderTable(headers, rows, aligns)
}
