package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/saviobatista/sbs-archive/internal/archive"
	"github.com/saviobatista/sbs-archive/internal/types"
)

func newTrackCommand(ctx *commandContext) *cobra.Command {
	var query types.TrackQuery
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "track",
		Short: "Show the merged track of one flight",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(query.FlightUID) == "" && strings.TrimSpace(query.Callsign) == "" {
				return fmt.Errorf("one of --uid or --callsign is required")
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
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			if !result.Found {
				fmt.Fprintln(out, "Flight not found")
				return nil
			}

			state := "active"
			if result.Flight.Archived {
				state = "archived"
			}
			fmt.Fprintf(out, "Flight %s (%s, %s): %d of %d points\n",
				result.Flight.FlightUID, result.Flight.Callsign, state, len(result.Points), result.TotalCount)
			fmt.Fprintln(out, renderTrack(result.Points))
			return nil
		},
	}

	cmd.Flags().StringVar(&query.FlightUID, "uid", "", "Flight UID")
	cmd.Flags().StringVar(&query.Callsign, "callsign", "", "Callsign; resolves to the most recent session")
	cmd.Flags().BoolVar(&query.Simplify, "simplify", false, "Decimate the merged track")
	cmd.Flags().IntVar(&query.MaxPoints, "max-points", 0, "Point budget when simplifying")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func trackReader(b *backend) *archive.TrackReader {
	reader := archive.NewTrackReader(b.store)
	if b.cache != nil {
		reader = reader.WithCache(b.cache, b.cacheTTL)
	}
	return reader
}

func renderTrack(points []types.TrackPoint) string {
	headers := []string{"Time (UTC)", "Tier", "Lat", "Lon", "Alt ft", "GS kt", "Hdg", "VS fpm"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		rows = append(rows, []string{
			p.TimestampUTC.UTC().Format(time.RFC3339),
			string(p.Tier),
			strconv.FormatFloat(p.Latitude, 'f', 5, 64),
			strconv.FormatFloat(p.Longitude, 'f', 5, 64),
			strconv.Itoa(p.AltitudeFt),
			strconv.Itoa(p.GroundspeedKts),
			strconv.Itoa(p.HeadingDeg),
			strconv.Itoa(p.VerticalRateFpm),
		})
	}
	return renderTable(headers, rows, aligns)
}
