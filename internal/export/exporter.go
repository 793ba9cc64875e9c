package export

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/saviobatista/sbs-archive/internal/archive"
	"github.com/saviobatista/sbs-archive/internal/types"
)

// DefaultBatchSize is the number of rows per part file
const DefaultBatchSize = 100000

// Result describes one day export
type Result struct {
	Date    time.Time `json:"date"`
	Rows    int64     `json:"rows"`
	Files   int       `json:"files"`
	Skipped bool      `json:"skipped"`
}

// Exporter writes the warm and cold tiers of a UTC day into a Hive-style
// partitioned Parquet tree under dir
type Exporter struct {
	store     archive.ExportStore
	dir       string
	batchSize int
}

// New creates an exporter. batchSize <= 0 uses DefaultBatchSize.
func New(store archive.ExportStore, dir string, batchSize int) *Exporter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Exporter{store: store, dir: dir, batchSize: batchSize}
}

func truncateDay(day time.Time) time.Time {
	y, m, d := day.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayDir returns the partition directory of day
func (e *Exporter) DayDir(day time.Time) string {
	day = truncateDay(day)
	return filepath.Join(e.dir, "trajectory",
		fmt.Sprintf("year=%04d", day.Year()),
		fmt.Sprintf("month=%02d", int(day.Month())),
		fmt.Sprintf("day=%02d", day.Day()),
	)
}

func partName(i int) string {
	return fmt.Sprintf("part-%05d.parquet", i)
}

func (e *Exporter) parts(day time.Time) ([]string, error) {
	parts, err := filepath.Glob(filepath.Join(e.DayDir(day), "part-*.parquet"))
	if err != nil {
		return nil, err
	}
	sort.Strings(parts)
	return parts, nil
}

// ExportDay writes every warm and cold row of day. A day that already has
// part files is skipped unless force is set, in which case it is rewritten.
// Parts are staged in a sibling directory and swapped in once complete.
func (e *Exporter) ExportDay(ctx context.Context, day time.Time, force bool) (Result, error) {
	day = truncateDay(day)
	result := Result{Date: day}

	existing, err := e.parts(day)
	if err != nil {
		return result, fmt.Errorf("failed to list existing parts: %w", err)
	}
	if len(existing) > 0 && !force {
		result.Skipped = true
		return result, nil
	}

	final := e.DayDir(day)
	staging := final + ".tmp"
	if err := os.RemoveAll(staging); err != nil {
		return result, fmt.Errorf("failed to clear staging directory: %w", err)
	}

	next := day.Add(24 * time.Hour)
	for offset := 0; ; offset += e.batchSize {
		if err := ctx.Err(); err != nil {
			_ = os.RemoveAll(staging)
			return result, err
		}

		rows, err := e.store.ArchivedBetween(ctx, day, next, offset, e.batchSize)
		if err != nil {
			_ = os.RemoveAll(staging)
			return result, fmt.Errorf("failed to read archived rows: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		if err := writePart(filepath.Join(staging, partName(result.Files)), rows); err != nil {
			_ = os.RemoveAll(staging)
			return result, fmt.Errorf("failed to write part %d: %w", result.Files, err)
		}
		result.Files++
		result.Rows += int64(len(rows))

		if len(rows) < e.batchSize {
			break
		}
	}

	if result.Files == 0 {
		log.Printf("No archived rows for %s, nothing exported", day.Format("2006-01-02"))
		return result, nil
	}

	if err := os.RemoveAll(final); err != nil {
		return result, fmt.Errorf("failed to replace previous export: %w", err)
	}
	if err := os.Rename(staging, final); err != nil {
		return result, fmt.Errorf("failed to publish export: %w", err)
	}

	log.Printf("Exported %d rows for %s into %d file(s)", result.Rows, day.Format("2006-01-02"), result.Files)
	return result, nil
}

// ReadDay reads back every exported row of day in export order
func (e *Exporter) ReadDay(day time.Time) ([]types.ArchivedRow, error) {
	parts, err := e.parts(day)
	if err != nil {
		return nil, fmt.Errorf("failed to list parts: %w", err)
	}

	var rows []types.ArchivedRow
	for _, part := range parts {
		partRows, err := readPart(part)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(part), err)
		}
		rows = append(rows, partRows...)
	}
	return rows, nil
}

func timeFromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
