package archive

import (
	"context"
	"time"

	"github.com/saviobatista/sbs-archive/internal/config"
	"github.com/saviobatista/sbs-archive/internal/types"
)

// IngestStore is the write surface used by IngestWriter
type IngestStore interface {
	// ActiveFlightByCallsign returns the most recently seen active core row, or nil
	ActiveFlightByCallsign(ctx context.Context, callsign string) (*types.FlightCore, error)
	CreateFlight(ctx context.Context, core types.FlightCore) error
	// UpdateFlight writes changes to the changelog, then updates the core row, atomically
	UpdateFlight(ctx context.Context, core types.FlightCore, changes []types.ChangelogEntry) error
	AppendPoint(ctx context.Context, point types.TrajectoryPoint) error
}

// MigrationStore is used by TierMigrator
type MigrationStore interface {
	// InactiveFlights lists core rows last seen before cutoff, oldest first
	InactiveFlights(ctx context.Context, cutoff time.Time, limit int) ([]types.FlightCore, error)
	// ArchiveFlight copies core into flight_archive and removes the core row in
	// one transaction. It returns false when an archive row already existed.
	ArchiveFlight(ctx context.Context, core types.FlightCore, archivedAt time.Time) (bool, error)
}

// CompactionStore is used by both compactor stages
type CompactionStore interface {
	// DeleteHotDuplicates removes hot rows that already have a WARM copy
	DeleteHotDuplicates(ctx context.Context) (int64, error)
	// WarmChunks lists flights with hot points eligible for the warm tier.
	// Flights archived before archivedBefore move entirely; any other flight
	// moves only its points recorded before hotBefore.
	WarmChunks(ctx context.Context, archivedBefore, hotBefore time.Time, limit int) ([]types.WarmChunk, error)
	HotPoints(ctx context.Context, chunk types.WarmChunk) ([]types.TrajectoryPoint, error)
	// CopyToWarm inserts WARM rows, ignoring rows that already exist
	CopyToWarm(ctx context.Context, points []types.ArchivedPoint) (int64, error)
	DeleteHotPoints(ctx context.Context, flightUID string, recorded []time.Time) (int64, error)

	// ColdSpans lists (flight, window) buckets of WARM points entirely before
	// cutoff holding more than minCount points
	ColdSpans(ctx context.Context, cutoff time.Time, window time.Duration, minCount, limit int) ([]types.Span, error)
	WarmSpanPoints(ctx context.Context, span types.Span) ([]types.ArchivedPoint, error)
	// WriteCold inserts COLD rows, ignoring rows that already exist
	WriteCold(ctx context.Context, points []types.ArchivedPoint) (int64, error)
	DeleteWarmPoints(ctx context.Context, flightUID string, timestamps []time.Time) (int64, error)
}

// PurgeStore is used by RetentionPurger. Both methods record entry, with
// RowsAffected filled in, inside the deleting transaction.
type PurgeStore interface {
	PurgeTier(ctx context.Context, target types.PurgeTarget, before time.Time, entry types.ArchiveLogEntry) (int64, error)
	PurgeHotOverCap(ctx context.Context, cap int64, entry types.ArchiveLogEntry) (int64, error)
}

// ReadStore is the read-only surface used by TrackReader
type ReadStore interface {
	LookupFlight(ctx context.Context, flightUID string) (*types.FlightRef, error)
	// ResolveCallsign checks active core rows first, then the archive
	ResolveCallsign(ctx context.Context, callsign string) (*types.FlightRef, error)
	HotTrack(ctx context.Context, flightUID string) ([]types.TrajectoryPoint, error)
	ArchivedTrack(ctx context.Context, flightUID string, tier types.Tier) ([]types.ArchivedPoint, error)
}

// StatsStore reports table sizes for StatsReporter
type StatsStore interface {
	TableStats(ctx context.Context) ([]types.TableStat, error)
}

// LogStore is the append-only job audit trail
type LogStore interface {
	AppendLog(ctx context.Context, entry types.ArchiveLogEntry) error
	RecentLogs(ctx context.Context, limit int) ([]types.ArchiveLogEntry, error)
}

// ExportStore streams archived rows for the day export
type ExportStore interface {
	ArchivedBetween(ctx context.Context, from, to time.Time, offset, limit int) ([]types.ArchivedRow, error)
}

// Store is the full per-tier storage abstraction
type Store interface {
	IngestStore
	MigrationStore
	CompactionStore
	PurgeStore
	ReadStore
	StatsStore
	LogStore
	ExportStore
}

// ConfigStore supplies the thresholds for one job run
type ConfigStore interface {
	Load(ctx context.Context) (config.ArchiveConfig, error)
}

// Leaser grants exclusive per-stage leases across workers
type Leaser interface {
	// Acquire returns ErrLeaseHeld when another owner holds name
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, err error)
}

// TrackCache memoizes track results for a short staleness window
type TrackCache interface {
	GetTrack(ctx context.Context, key string) (*types.TrackResult, error)
	StoreTrack(ctx context.Context, key string, result *types.TrackResult, ttl time.Duration) error
}

// JobRecorder receives a copy of every job log entry, e.g. for publishing
type JobRecorder interface {
	RecordJobRun(ctx context.Context, entry types.ArchiveLogEntry) error
}
