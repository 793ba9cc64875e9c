package archive

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/saviobatista/sbs-archive/internal/config"
	"github.com/saviobatista/sbs-archive/internal/types"
)

// RetentionPurger deletes data past each tier's retention
type RetentionPurger struct {
	store PurgeStore
	now   func() time.Time
}

// NewRetentionPurger creates a purger over store
func NewRetentionPurger(store PurgeStore) *RetentionPurger {
	return &RetentionPurger{store: store, now: time.Now}
}

// SetClock overrides the time source
func (p *RetentionPurger) SetClock(now func() time.Time) {
	p.now = now
}

// PurgeJobName is the archive_log job name of one purge target
func PurgeJobName(target types.PurgeTarget) string {
	return "purge_" + strings.ToLower(string(target))
}

// PurgeOldData purges cold, then warm, then archived flights. A zero
// retention skips that target. Hot rows are only purged above the emergency cap.
func (p *RetentionPurger) PurgeOldData(ctx context.Context, cfg config.ArchiveConfig) (JobResult, error) {
	result := JobResult{Stage: StagePurge}
	now := p.now().UTC()

	steps := []struct {
		target    types.PurgeTarget
		retention time.Duration
	}{
		{types.PurgeCold, cfg.ColdRetention},
		{types.PurgeWarm, cfg.WarmRetention},
		{types.PurgeArchive, cfg.ArchiveRetention},
	}

	for _, step := range steps {
		if step.retention == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Selected++

		before := now.Add(-step.retention)
		entry := types.ArchiveLogEntry{
			JobName: PurgeJobName(step.target),
			RunTime: now,
			Status:  types.StatusSuccess,
			Detail:  fmt.Sprintf("older than %s", before.Format(time.RFC3339)),
		}

		n, err := p.store.PurgeTier(ctx, step.target, before, entry)
		if err != nil {
			if IsFatal(err) {
				return result, fmt.Errorf("failed to purge %s: %w", step.target, err)
			}
			log.Printf("Failed to purge %s: %v", step.target, err)
			result.fail(string(step.target), err)
			continue
		}
		result.Processed++
		result.Rows += n
	}

	if cfg.HotEmergencyCap > 0 {
		result.Selected++
		entry := types.ArchiveLogEntry{
			JobName: PurgeJobName(types.PurgeHot),
			RunTime: now,
			Status:  types.StatusSuccess,
			Detail:  fmt.Sprintf("emergency cap %d", cfg.HotEmergencyCap),
		}
		n, err := p.store.PurgeHotOverCap(ctx, cfg.HotEmergencyCap, entry)
		if err != nil {
			if IsFatal(err) {
				return result, fmt.Errorf("failed to purge %s: %w", types.PurgeHot, err)
			}
			log.Printf("Failed to purge %s: %v", types.PurgeHot, err)
			result.fail(string(types.PurgeHot), err)
		} else {
			if n > 0 {
				log.Printf("Emergency purge removed %d hot rows above cap %d", n, cfg.HotEmergencyCap)
			}
			result.Processed++
			result.Rows += n
		}
	}

	result.Removed = result.Rows
	return result, nil
}
