package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/saviobatista/sbs-archive/internal/archive"
	"github.com/saviobatista/sbs-archive/internal/types"
)

func newGapsCommand(ctx *commandContext) *cobra.Command {
	var query types.TrackQuery
	var fromFlag, toFlag string

	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "List UTC hours without trajectory points for a flight",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(query.FlightUID) == "" && strings.TrimSpace(query.Callsign) == "" {
				return fmt.Errorf("one of --flight or --callsign is required")
			}
			from, err := parseTimeFlag("from", fromFlag)
			if err != nil {
				return err
			}
			to, err := parseTimeFlag("to", toFlag)
			if err != nil {
				return err
			}

			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			result, err := trackReader(b).GetTrack(cmd.Context(), query)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !result.Found {
				fmt.Fprintln(out, "Flight not found")
				return nil
			}
			if len(result.Points) == 0 && (from.IsZero() || to.IsZero()) {
				fmt.Fprintln(out, "Flight has no points; pass --from and --to to report a window")
				return nil
			}
			if from.IsZero() {
				from = result.Points[0].TimestampUTC.Truncate(time.Hour)
			}
			if to.IsZero() {
				to = result.Points[len(result.Points)-1].TimestampUTC.Truncate(time.Hour).Add(time.Hour)
			}
			if !to.After(from) {
				return fmt.Errorf("--to must be after --from")
			}

			gaps := archive.CoverageGaps(result.Points, from, to)
			missing := 0
			for _, g := range gaps {
				missing += g.Hours()
			}
			fmt.Fprintf(out, "Flight %s: %d gap(s), %d of %d hour(s) without points\n",
				result.Flight.FlightUID, len(gaps), missing, int(to.Sub(from).Hours()))
			if len(gaps) > 0 {
				fmt.Fprintln(out, renderGaps(gaps))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&query.FlightUID, "flight", "", "Flight UID")
	cmd.Flags().StringVar(&query.Callsign, "callsign", "", "Callsign; resolves to the most recent session")
	cmd.Flags().StringVar(&fromFlag, "from", "", "Window start, YYYY-MM-DD or RFC3339 (default: first point)")
	cmd.Flags().StringVar(&toFlag, "to", "", "Window end, exclusive (default: hour after the last point)")
	return cmd
}

// parseTimeFlag accepts a date or an RFC3339 timestamp; empty means unset
func parseTimeFlag(name, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: expected YYYY-MM-DD or RFC3339", name, value)
	}
	return t.UTC(), nil
}

func renderGaps(gaps []archive.Gap) string {
	headers := []string{"Date", "From", "To", "Hours"}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight}
	rows := make([][]string, 0, len(gaps))
	for _, g := range gaps {
		rows = append(rows, []string{
			g.Date,
			fmt.Sprintf("%02d:00", g.StartHour),
			fmt.Sprintf("%02d:59", g.EndHour),
			strconv.Itoa(g.Hours()),
		})
	}
	return renderTable(headers, rows, aligns)
}
