package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/saviobatista/sbs-archive/internal/stats"
	"github.com/saviobatista/sbs-archive/internal/types"
)

// Changelog field names
const (
	FieldDeptICAO     = "dept_icao"
	FieldDestICAO     = "dest_icao"
	FieldAircraftType = "aircraft_type"
	FieldSquawk       = "squawk"
)

// IngestWriter appends telemetry to the hot tier and maintains flight core
// rows and their changelog. It is safe for concurrent use across flights.
type IngestWriter struct {
	store      IngestStore
	inactivity atomic.Int64
	stats      *stats.Stats
}

// NewIngestWriter creates a writer. Snapshots arriving more than inactivity
// after a session's last fix start a new session.
func NewIngestWriter(store IngestStore, inactivity time.Duration, st *stats.Stats) *IngestWriter {
	if st == nil {
		st = stats.New()
	}
	w := &IngestWriter{store: store, stats: st}
	w.SetInactivity(inactivity)
	return w
}

// SetInactivity changes the session split threshold for later snapshots
func (w *IngestWriter) SetInactivity(d time.Duration) {
	w.inactivity.Store(int64(d))
}

// Inactivity returns the current session split threshold
func (w *IngestWriter) Inactivity() time.Duration {
	return time.Duration(w.inactivity.Load())
}

// Stats returns the writer's counters
func (w *IngestWriter) Stats() *stats.Stats {
	return w.stats
}

// ValidateSnapshot rejects records missing the keys ingest needs
func ValidateSnapshot(snap types.Snapshot) error {
	if strings.TrimSpace(snap.Callsign) == "" {
		return &ValidationError{Field: "callsign", Reason: "is required"}
	}
	if snap.TimestampUTC.IsZero() {
		return &ValidationError{Field: "timestamp_utc", Reason: "is required"}
	}
	return nil
}

// Ingest stores one snapshot. A *ValidationError means only this record was dropped.
func (w *IngestWriter) Ingest(ctx context.Context, snap types.Snapshot) error {
	start := time.Now()
	w.stats.IncrementReceived()
	w.stats.UpdateLastMessageTime()

	if err := ValidateSnapshot(snap); err != nil {
		w.stats.IncrementRejected()
		return err
	}
	snap.Callsign = strings.ToUpper(strings.TrimSpace(snap.Callsign))
	snap.TimestampUTC = snap.TimestampUTC.UTC()

	core, err := w.upsertFlightCore(ctx, snap)
	if err != nil {
		w.stats.IncrementFailed()
		return fmt.Errorf("failed to upsert flight core: %w", err)
	}

	if err := w.appendTrajectoryPoint(ctx, core.FlightUID, snap); err != nil {
		w.stats.IncrementFailed()
		return err
	}

	w.stats.AddProcessingTime(time.Since(start))
	return nil
}

func (w *IngestWriter) upsertFlightCore(ctx context.Context, snap types.Snapshot) (*types.FlightCore, error) {
	core, err := w.store.ActiveFlightByCallsign(ctx, snap.Callsign)
	if err != nil {
		return nil, fmt.Errorf("failed to find active flight: %w", err)
	}

	if core == nil || w.expired(core, snap.TimestampUTC) {
		return w.createSession(ctx, snap)
	}

	// Late arrival: keep the point, leave the session untouched
	if snap.TimestampUTC.Before(core.LastSeenUTC) {
		return core, nil
	}

	changes := diffState(core.FlightUID, core.FlightState, snap.FlightState, snap.TimestampUTC)

	updated := *core
	updated.LastSeenUTC = snap.TimestampUTC
	updated.Position = snap.Position
	updated.FlightState = mergeState(core.FlightState, snap.FlightState)

	if err := w.store.UpdateFlight(ctx, updated, changes); err != nil {
		if errors.Is(err, ErrFlightNotFound) {
			// archived since the lookup; the point starts a new session
			return w.createSession(ctx, snap)
		}
		return nil, fmt.Errorf("failed to update flight: %w", err)
	}
	w.stats.AddChangelogEntries(len(changes))
	return &updated, nil
}

func (w *IngestWriter) createSession(ctx context.Context, snap types.Snapshot) (*types.FlightCore, error) {
	created := types.FlightCore{
		FlightUID:    uuid.New().String(),
		Callsign:     snap.Callsign,
		FirstSeenUTC: snap.TimestampUTC,
		LastSeenUTC:  snap.TimestampUTC,
		Position:     snap.Position,
		FlightState:  snap.FlightState,
	}
	if err := w.store.CreateFlight(ctx, created); err != nil {
		return nil, fmt.Errorf("failed to create flight: %w", err)
	}
	w.stats.IncrementCreatedSessions()
	return &created, nil
}

func (w *IngestWriter) appendTrajectoryPoint(ctx context.Context, flightUID string, snap types.Snapshot) error {
	point := types.TrajectoryPoint{
		FlightUID:   flightUID,
		RecordedUTC: snap.TimestampUTC,
		Position:    snap.Position,
	}
	if err := w.store.AppendPoint(ctx, point); err != nil {
		return fmt.Errorf("failed to append trajectory point: %w", err)
	}
	w.stats.IncrementStoredPoints()
	return nil
}

func (w *IngestWriter) expired(core *types.FlightCore, ts time.Time) bool {
	inactivity := w.Inactivity()
	return inactivity > 0 && ts.Sub(core.LastSeenUTC) >= inactivity
}

// diffState lists the reported fields that differ from the stored state.
// Empty incoming values mean "not reported" and never produce an entry.
func diffState(flightUID string, old, incoming types.FlightState, ts time.Time) []types.ChangelogEntry {
	fields := []struct {
		name     string
		old, new string
	}{
		{FieldDeptICAO, old.DeptICAO, incoming.DeptICAO},
		{FieldDestICAO, old.DestICAO, incoming.DestICAO},
		{FieldAircraftType, old.AircraftType, incoming.AircraftType},
		{FieldSquawk, old.Squawk, incoming.Squawk},
	}

	var changes []types.ChangelogEntry
	for _, f := range fields {
		if f.new == "" || f.new == f.old {
			continue
		}
		changes = append(changes, types.ChangelogEntry{
			FlightUID: flightUID,
			Field:     f.name,
			OldValue:  f.old,
			NewValue:  f.new,
			TS:        ts,
		})
	}
	return changes
}

func mergeState(existing, incoming types.FlightState) types.FlightState {
	if incoming.DeptICAO != "" {
		existing.DeptICAO = incoming.DeptICAO
	}
	if incoming.DestICAO != "" {
		existing.DestICAO = incoming.DestICAO
	}
	if incoming.AircraftType != "" {
		existing.AircraftType = incoming.AircraftType
	}
	if incoming.Squawk != "" {
		existing.Squawk = incoming.Squawk
	}
	return existing
}
