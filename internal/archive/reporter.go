package archive

import (
	"context"
	"fmt"

	"github.com/saviobatista/sbs-archive/internal/types"
)

// StatsReporter exposes read-only per-table sizes for monitoring
type StatsReporter struct {
	store StatsStore
	logs  LogStore
}

// NewStatsReporter creates a reporter. logs may be nil.
func NewStatsReporter(store StatsStore, logs LogStore) *StatsReporter {
	return &StatsReporter{store: store, logs: logs}
}

// TableStats returns row counts and oldest/newest timestamps per table
func (r *StatsReporter) TableStats(ctx context.Context) ([]types.TableStat, error) {
	stats, err := r.store.TableStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get table stats: %w", err)
	}
	return stats, nil
}

// RecentRuns returns the latest archive_log entries, newest first
func (r *StatsReporter) RecentRuns(ctx context.Context, limit int) ([]types.ArchiveLogEntry, error) {
	if r.logs == nil {
		return nil, nil
	}
	entries, err := r.logs.RecentLogs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent job runs: %w", err)
	}
	return entries, nil
}
