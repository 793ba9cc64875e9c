package archive

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/saviobatista/sbs-archive/internal/config"
)

// TierMigrator moves completed flights from flight_core into flight_archive
type TierMigrator struct {
	store MigrationStore
	now   func() time.Time
}

// NewTierMigrator creates a migrator over store
func NewTierMigrator(store MigrationStore) *TierMigrator {
	return &TierMigrator{store: store, now: time.Now}
}

// SetClock overrides the time source
func (m *TierMigrator) SetClock(now func() time.Time) {
	m.now = now
}

// ArchiveCompletedFlights archives every flight idle for at least the
// inactivity threshold. Each flight commits on its own; a failing flight is
// recorded and skipped.
func (m *TierMigrator) ArchiveCompletedFlights(ctx context.Context, cfg config.ArchiveConfig) (JobResult, error) {
	result := JobResult{Stage: StageArchive}
	now := m.now().UTC()
	cutoff := now.Add(-cfg.InactivityThreshold)

	flights, err := m.store.InactiveFlights(ctx, cutoff, cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to select inactive flights: %w", err)
	}
	result.Selected = len(flights)

	for _, core := range flights {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		archived, err := m.store.ArchiveFlight(ctx, core, now)
		if err != nil {
			if IsFatal(err) {
				return result, fmt.Errorf("failed to archive flight %s: %w", core.FlightUID, err)
			}
			log.Printf("Failed to archive flight %s (%s): %v", core.FlightUID, core.Callsign, err)
			result.fail(core.FlightUID, err)
			continue
		}
		result.Processed++
		if archived {
			result.Rows++
		}
		result.Removed++
	}

	return result, nil
}
