package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/saviobatista/sbs-archive/internal/export"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var dateFlag, dirFlag string
	var force bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one UTC day of warm and cold points to Parquet",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}

			dir := strings.TrimSpace(dirFlag)
			if dir == "" {
				dir = b.exportDir
			}
			if dir == "" {
				return fmt.Errorf("no export directory: set EXPORT_DIR or pass --dir")
			}

			day := time.Now().UTC().AddDate(0, 0, -1)
			if strings.TrimSpace(dateFlag) != "" {
				day, err = time.Parse("2006-01-02", strings.TrimSpace(dateFlag))
				if err != nil {
					return fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", dateFlag)
				}
			}

			exporter := export.New(b.store, dir, b.batchSize)
			res, err := exporter.ExportDay(cmd.Context(), day, force)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case res.Skipped:
				fmt.Fprintf(out, "%s already exported to %s (use --force to rewrite)\n", res.Date.Format("2006-01-02"), exporter.DayDir(day))
			case res.Files == 0:
				fmt.Fprintf(out, "No archived points on %s\n", res.Date.Format("2006-01-02"))
			default:
				fmt.Fprintf(out, "Exported %s rows for %s into %d file(s) under %s\n",
					humanize.Comma(res.Rows), res.Date.Format("2006-01-02"), res.Files, exporter.DayDir(day))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dateFlag, "date", "", "UTC day to export, YYYY-MM-DD (default: yesterday)")
	cmd.Flags().StringVar(&dirFlag, "dir", "", "Export root directory (default: EXPORT_DIR)")
	cmd.Flags().BoolVar(&force, "force", false, "Rewrite a day that was already exported")
	return cmd
}
