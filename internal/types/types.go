package types

import (
	"fmt"
	"time"
)

// Tier identifies the storage tier a trajectory point lives in
type Tier string

const (
	TierHot  Tier = "HOT"
	TierWarm Tier = "WARM"
	TierCold Tier = "COLD"
)

// Resolution ranks tiers by fidelity; higher is finer
func (t Tier) Resolution() int {
	switch t {
	case TierHot:
		return 3
	case TierWarm:
		return 2
	case TierCold:
		return 1
	default:
		return 0
	}
}

// ParseTier parses a tier name as stored in trajectory_archive.source_tier
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierHot, TierWarm, TierCold:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("unknown tier: %q", s)
	}
}

// Position holds the kinematic fields of a single fix
type Position struct {
	Latitude        float64 `json:"lat"`
	Longitude       float64 `json:"lon"`
	AltitudeFt      int     `json:"altitude_ft"`
	GroundspeedKts  int     `json:"groundspeed_kts"`
	HeadingDeg      int     `json:"heading_deg"`
	VerticalRateFpm int     `json:"vertical_rate_fpm"`
}

// FlightState holds the mutable flight-state fields audited by the changelog
type FlightState struct {
	DeptICAO     string `json:"dept_icao,omitempty"`
	DestICAO     string `json:"dest_icao,omitempty"`
	AircraftType string `json:"aircraft_type,omitempty"`
	Squawk       string `json:"squawk,omitempty"`
}

// Snapshot is one telemetry record delivered by the live feed
type Snapshot struct {
	Callsign     string    `json:"callsign"`
	TimestampUTC time.Time `json:"timestamp_utc"`
	Position
	FlightState
}

// FlightCore is the active row of a tracked flight session
type FlightCore struct {
	FlightUID    string    `json:"flight_uid"`
	Callsign     string    `json:"callsign"`
	FirstSeenUTC time.Time `json:"first_seen_utc"`
	LastSeenUTC  time.Time `json:"last_seen_utc"`
	Position
	FlightState
}

// FlightArchive is the immutable copy of a completed flight
type FlightArchive struct {
	FlightCore
	ArchivedUTC time.Time `json:"archived_utc"`
}

// FlightRef is the result of resolving a flight for the read path
type FlightRef struct {
	FlightUID   string    `json:"flight_uid"`
	Callsign    string    `json:"callsign"`
	LastSeenUTC time.Time `json:"last_seen_utc"`
	Archived    bool      `json:"archived"`
}

// TrajectoryPoint is a full-resolution hot tier row
type TrajectoryPoint struct {
	FlightUID   string    `json:"flight_uid"`
	RecordedUTC time.Time `json:"recorded_utc"`
	Position
}

// ArchivedPoint is a warm or cold tier row
type ArchivedPoint struct {
	FlightUID    string    `json:"flight_uid"`
	TimestampUTC time.Time `json:"timestamp_utc"`
	SourceTier   Tier      `json:"source_tier"`
	Position
}

// ToArchived converts a hot row into a tier-tagged archive row
func (p TrajectoryPoint) ToArchived(tier Tier) ArchivedPoint {
	return ArchivedPoint{
		FlightUID:    p.FlightUID,
		TimestampUTC: p.RecordedUTC,
		SourceTier:   tier,
		Position:     p.Position,
	}
}

// TrackPoint is one element of a track query response
type TrackPoint struct {
	Tier         Tier      `json:"tier"`
	TimestampUTC time.Time `json:"timestamp_utc"`
	Position
}

// TrackQuery selects a flight and the shape of the returned track
type TrackQuery struct {
	FlightUID string `json:"flight_uid,omitempty"`
	Callsign  string `json:"callsign,omitempty"`
	Simplify  bool   `json:"simplify"`
	MaxPoints int    `json:"max_points"`
}

// TrackResult is the response of a track query. Found is false for unknown flights.
type TrackResult struct {
	Found      bool         `json:"found"`
	Flight     FlightRef    `json:"flight"`
	TotalCount int          `json:"total_count"`
	Points     []TrackPoint `json:"points"`
}

// ChangelogEntry records one field-level change detected at ingest
type ChangelogEntry struct {
	FlightUID string    `json:"flight_uid"`
	Field     string    `json:"field"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	TS        time.Time `json:"ts"`
}

// Job run statuses written to archive_log
const (
	StatusSuccess = "SUCCESS"
	StatusPartial = "PARTIAL"
	StatusFailed  = "FAILED"
	StatusSkipped = "SKIPPED"
)

// ArchiveLogEntry is one append-only audit row for a job run
type ArchiveLogEntry struct {
	JobName      string    `json:"job_name"`
	RunTime      time.Time `json:"run_time"`
	RowsAffected int64     `json:"rows_affected"`
	Status       string    `json:"status"`
	Detail       string    `json:"detail,omitempty"`
}

// WarmChunk selects hot points of one flight for migration to the warm tier.
// All moves every hot point; otherwise only points recorded before Before move.
type WarmChunk struct {
	FlightUID string
	All       bool
	Before    time.Time
}

// Span is a per-flight time window of warm points considered for downsampling
type Span struct {
	FlightUID string
	Start     time.Time
	End       time.Time
	Count     int
}

// TableStat describes the size and age range of one table
type TableStat struct {
	TableName string    `json:"table_name"`
	Tier      string    `json:"tier"`
	RowCount  int64     `json:"row_count"`
	OldestTS  time.Time `json:"oldest_ts"`
	NewestTS  time.Time `json:"newest_ts"`
}

// PurgeTarget names a data set the retention purger can delete from
type PurgeTarget string

const (
	PurgeCold    PurgeTarget = "COLD"
	PurgeWarm    PurgeTarget = "WARM"
	PurgeArchive PurgeTarget = "ARCHIVE"
	PurgeHot     PurgeTarget = "HOT"
)

// ArchivedRow is a warm or cold point joined with its flight's callsign and
// airport pair, as exported
type ArchivedRow struct {
	ArchivedPoint
	Callsign string `json:"callsign"`
	DeptICAO string `json:"dept_icao,omitempty"`
	DestICAO string `json:"dest_icao,omitempty"`
}

// SpanStart aligns t down to the start of its window, counted from the Unix epoch
func SpanStart(t time.Time, window time.Duration) time.Time {
	w := int64(window / time.Second)
	if w <= 0 {
		return t.UTC()
	}
	sec := t.Unix()
	rem := sec % w
	if rem < 0 {
		rem += w
	}
	return time.Unix(sec-rem, 0).UTC()
}
