package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/saviobatista/sbs-archive/internal/types"
)

// TrajectoryRow is one exported warm or cold point
type TrajectoryRow struct {
	FlightUID       string  `parquet:"flight_uid,zstd"`
	Callsign        string  `parquet:"callsign,zstd"`
	DeptICAO        string  `parquet:"dept_icao,zstd"`
	DestICAO        string  `parquet:"dest_icao,zstd"`
	TimestampUs     int64   `parquet:"timestamp_us"`
	SourceTier      string  `parquet:"source_tier,zstd"`
	Latitude        float64 `parquet:"latitude"`
	Longitude       float64 `parquet:"longitude"`
	AltitudeFt      int32   `parquet:"altitude_ft"`
	GroundspeedKts  int32   `parquet:"groundspeed_kts"`
	HeadingDeg      int32   `parquet:"heading_deg"`
	VerticalRateFpm int32   `parquet:"vertical_rate_fpm"`
}

func toRow(r types.ArchivedRow) TrajectoryRow {
	return TrajectoryRow{
		FlightUID:       r.FlightUID,
		Callsign:        r.Callsign,
		DeptICAO:        r.DeptICAO,
		DestICAO:        r.DestICAO,
		TimestampUs:     r.TimestampUTC.UnixMicro(),
		SourceTier:      string(r.SourceTier),
		Latitude:        r.Latitude,
		Longitude:       r.Longitude,
		AltitudeFt:      int32(r.AltitudeFt),
		GroundspeedKts:  int32(r.GroundspeedKts),
		HeadingDeg:      int32(r.HeadingDeg),
		VerticalRateFpm: int32(r.VerticalRateFpm),
	}
}

func fromRow(r TrajectoryRow) (types.ArchivedRow, error) {
	tier, err := types.ParseTier(r.SourceTier)
	if err != nil {
		return types.ArchivedRow{}, err
	}
	var out types.ArchivedRow
	out.FlightUID = r.FlightUID
	out.Callsign = r.Callsign
	out.DeptICAO = r.DeptICAO
	out.DestICAO = r.DestICAO
	out.TimestampUTC = timeFromMicros(r.TimestampUs)
	out.SourceTier = tier
	out.Latitude = r.Latitude
	out.Longitude = r.Longitude
	out.AltitudeFt = int(r.AltitudeFt)
	out.GroundspeedKts = int(r.GroundspeedKts)
	out.HeadingDeg = int(r.HeadingDeg)
	out.VerticalRateFpm = int(r.VerticalRateFpm)
	return out, nil
}

// writePart writes rows into a new Parquet file at path
func writePart(path string, rows []types.ArchivedRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	w := parquet.NewGenericWriter[TrajectoryRow](f, parquet.Compression(&parquet.Zstd))
	out := make([]TrajectoryRow, len(rows))
	for i := range rows {
		out[i] = toRow(rows[i])
	}
	if _, err := w.Write(out); err != nil {
		f.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return f.Close()
}

// readPart reads every row of one Parquet file
func readPart(path string) ([]types.ArchivedRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	r := parquet.NewGenericReader[TrajectoryRow](f)
	defer r.Close()

	rows := make([]TrajectoryRow, r.NumRows())
	n, err := r.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	out := make([]types.ArchivedRow, 0, n)
	for _, row := range rows[:n] {
		converted, err := fromRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, converted)
	}
	return out, nil
}
