package archive

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/saviobatista/sbs-archive/internal/config"
	"github.com/saviobatista/sbs-archive/internal/types"
)

// TrajectoryCompactor runs the hot-to-warm move and the warm-to-cold downsample
type TrajectoryCompactor struct {
	store CompactionStore
	now   func() time.Time
}

// NewTrajectoryCompactor creates a compactor over store
func NewTrajectoryCompactor(store CompactionStore) *TrajectoryCompactor {
	return &TrajectoryCompactor{store: store, now: time.Now}
}

// SetClock overrides the time source
func (c *TrajectoryCompactor) SetClock(now func() time.Time) {
	c.now = now
}

// MoveToWarm copies eligible hot points into the warm tier and only then
// deletes them from hot. A crash between the two commits leaves duplicates
// that the cleanup pass at the start of the next run removes.
func (c *TrajectoryCompactor) MoveToWarm(ctx context.Context, cfg config.ArchiveConfig) (JobResult, error) {
	result := JobResult{Stage: StageWarm}
	now := c.now().UTC()

	cleaned, err := c.store.DeleteHotDuplicates(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to clean up hot duplicates: %w", err)
	}
	result.Cleaned = cleaned

	archivedBefore := now.Add(-cfg.WarmDelay)
	var hotBefore time.Time
	if cfg.HotMaxAge > 0 {
		hotBefore = now.Add(-cfg.HotMaxAge)
	}

	chunks, err := c.store.WarmChunks(ctx, archivedBefore, hotBefore, cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to select warm chunks: %w", err)
	}
	result.Selected = len(chunks)

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		moved, err := c.moveChunk(ctx, chunk)
		if err != nil {
			if IsFatal(err) {
				return result, fmt.Errorf("failed to move flight %s to warm: %w", chunk.FlightUID, err)
			}
			log.Printf("Failed to move flight %s to warm: %v", chunk.FlightUID, err)
			result.fail(chunk.FlightUID, err)
			continue
		}
		result.Processed++
		result.Rows += moved
		result.Removed += moved
	}

	return result, nil
}

func (c *TrajectoryCompactor) moveChunk(ctx context.Context, chunk types.WarmChunk) (int64, error) {
	points, err := c.store.HotPoints(ctx, chunk)
	if err != nil {
		return 0, fmt.Errorf("failed to read hot points: %w", err)
	}
	if len(points) == 0 {
		return 0, nil
	}

	warm := make([]types.ArchivedPoint, len(points))
	recorded := make([]time.Time, len(points))
	for i, p := range points {
		warm[i] = p.ToArchived(types.TierWarm)
		recorded[i] = p.RecordedUTC
	}

	if _, err := c.store.CopyToWarm(ctx, warm); err != nil {
		return 0, fmt.Errorf("failed to copy points to warm: %w", err)
	}
	if _, err := c.store.DeleteHotPoints(ctx, chunk.FlightUID, recorded); err != nil {
		return 0, fmt.Errorf("failed to delete hot points: %w", err)
	}
	return int64(len(points)), nil
}

// DownsampleToCold decimates dense warm spans older than the cold age into
// COLD rows. Spans at or below the target density are left alone, so a
// re-run over already reduced data does nothing.
func (c *TrajectoryCompactor) DownsampleToCold(ctx context.Context, cfg config.ArchiveConfig) (JobResult, error) {
	result := JobResult{Stage: StageCold}
	now := c.now().UTC()

	// only whole windows are eligible
	cutoff := types.SpanStart(now.Add(-cfg.ColdAge), cfg.ColdSpanWindow)

	spans, err := c.store.ColdSpans(ctx, cutoff, cfg.ColdSpanWindow, cfg.ColdTargetCount, cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to select cold spans: %w", err)
	}
	result.Selected = len(spans)

	for _, span := range spans {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		written, removed, err := c.downsampleSpan(ctx, span, cfg.ColdTargetCount)
		if err != nil {
			key := fmt.Sprintf("%s@%s", span.FlightUID, span.Start.Format(time.RFC3339))
			if IsFatal(err) {
				return result, fmt.Errorf("failed to downsample span %s: %w", key, err)
			}
			log.Printf("Failed to downsample span %s: %v", key, err)
			result.fail(key, err)
			continue
		}
		result.Processed++
		result.Rows += written
		result.Removed += removed
	}

	return result, nil
}

func (c *TrajectoryCompactor) downsampleSpan(ctx context.Context, span types.Span, target int) (int64, int64, error) {
	points, err := c.store.WarmSpanPoints(ctx, span)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read warm span: %w", err)
	}
	if len(points) <= target {
		return 0, 0, nil
	}

	kept := Decimate(points, target)
	cold := make([]types.ArchivedPoint, len(kept))
	for i, p := range kept {
		p.SourceTier = types.TierCold
		cold[i] = p
	}

	if _, err := c.store.WriteCold(ctx, cold); err != nil {
		return 0, 0, fmt.Errorf("failed to write cold points: %w", err)
	}

	timestamps := make([]time.Time, len(points))
	for i, p := range points {
		timestamps[i] = p.TimestampUTC
	}
	removed, err := c.store.DeleteWarmPoints(ctx, span.FlightUID, timestamps)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete warm points: %w", err)
	}
	return int64(len(cold)), removed, nil
}
