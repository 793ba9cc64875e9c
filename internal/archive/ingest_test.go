package archive_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saviobatista/sbs-archive/internal/archive"
	"github.com/saviobatista/sbs-archive/internal/memstore"
	"github.com/saviobatista/sbs-archive/internal/types"
)

func TestIngest_Validation(t *testing.T) {
	tests := []struct {
		name  string
		snap  types.Snapshot
		field string
	}{
		{
			name:  "missing callsign",
			snap:  types.Snapshot{TimestampUTC: t0},
			field: "callsign",
		},
		{
			name:  "blank callsign",
			snap:  types.Snapshot{Callsign: "   ", TimestampUTC: t0},
			field: "callsign",
		},
		{
			name:  "missing timestamp",
			snap:  types.Snapshot{Callsign: "UAL123"},
			field: "timestamp_utc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			w := archive.NewIngestWriter(store, 30*time.Minute, nil)

			err := w.Ingest(context.Background(), tt.snap)

			var verr *archive.ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, 0, store.CoreCount())
			assert.Equal(t, 0, store.PointCount(types.TierHot, ""))
			assert.Equal(t, uint64(1), w.Stats().RejectedSnapshots)
		})
	}
}

func TestIngest_RejectedRecordDoesNotStopStream(t *testing.T) {
	store := memstore.New()
	w := archive.NewIngestWriter(store, 30*time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, w.Ingest(ctx, types.Snapshot{Callsign: "UAL123", TimestampUTC: t0}))
	require.Error(t, w.Ingest(ctx, types.Snapshot{TimestampUTC: t0.Add(15 * time.Second)}))
	require.NoError(t, w.Ingest(ctx, types.Snapshot{Callsign: "UAL123", TimestampUTC: t0.Add(30 * time.Second)}))

	assert.Equal(t, 2, store.PointCount(types.TierHot, ""))
	assert.Equal(t, 1, store.CoreCount())
}

func TestIngest_CreatesAndUpdatesSession(t *testing.T) {
	store := memstore.New()
	w := archive.NewIngestWriter(store, 30*time.Minute, nil)
	ctx := context.Background()

	first := types.Snapshot{Callsign: "ual123", TimestampUTC: t0, Position: types.Position{Latitude: 1, Longitude: 2}}
	second := types.Snapshot{Callsign: "UAL123", TimestampUTC: t0.Add(15 * time.Second), Position: types.Position{Latitude: 3, Longitude: 4}}
	require.NoError(t, w.Ingest(ctx, first))
	require.NoError(t, w.Ingest(ctx, second))

	core, err := store.ActiveFlightByCallsign(ctx, "UAL123")
	require.NoError(t, err)
	require.NotNil(t, core)
	assert.NotEmpty(t, core.FlightUID)
	assert.True(t, core.FirstSeenUTC.Equal(t0))
	assert.True(t, core.LastSeenUTC.Equal(t0.Add(15*time.Second)))
	assert.Equal(t, 3.0, core.Latitude)
	assert.Equal(t, 2, store.PointCount(types.TierHot, core.FlightUID))
	assert.Equal(t, uint64(1), w.Stats().CreatedSessions)
	assert.Equal(t, uint64(2), w.Stats().StoredPoints)
}

func TestIngest_ChangelogOnStateDelta(t *testing.T) {
	store := memstore.New()
	w := archive.NewIngestWriter(store, 30*time.Minute, nil)
	ctx := context.Background()

	snap := types.Snapshot{
		Callsign:     "UAL123",
		TimestampUTC: t0,
		FlightState:  types.FlightState{DeptICAO: "KJFK", DestICAO: "KLAX", Squawk: "1200"},
	}
	require.NoError(t, w.Ingest(ctx, snap))

	// same state: no changelog
	snap.TimestampUTC = t0.Add(15 * time.Second)
	require.NoError(t, w.Ingest(ctx, snap))
	assert.Empty(t, store.Changelog())

	// squawk changes, destination not reported
	snap.TimestampUTC = t0.Add(30 * time.Second)
	snap.FlightState = types.FlightState{DeptICAO: "KJFK", Squawk: "7700"}
	require.NoError(t, w.Ingest(ctx, snap))

	changes := store.Changelog()
	require.Len(t, changes, 1)
	assert.Equal(t, archive.FieldSquawk, changes[0].Field)
	assert.Equal(t, "1200", changes[0].OldValue)
	assert.Equal(t, "7700", changes[0].NewValue)
	assert.True(t, changes[0].TS.Equal(t0.Add(30*time.Second)))

	core, err := store.ActiveFlightByCallsign(ctx, "UAL123")
	require.NoError(t, err)
	assert.Equal(t, "KLAX", core.DestICAO, "unreported field must keep its value")
	assert.Equal(t, "7700", core.Squawk)
	assert.Equal(t, uint64(1), w.Stats().ChangelogEntries)
}

func TestIngest_LateSnapshotKeepsLastSeen(t *testing.T) {
	store := memstore.New()
	w := archive.NewIngestWriter(store, 30*time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, w.Ingest(ctx, types.Snapshot{Callsign: "UAL123", TimestampUTC: t0.Add(time.Minute), FlightState: types.FlightState{Squawk: "1200"}}))
	require.NoError(t, w.Ingest(ctx, types.Snapshot{Callsign: "UAL123", TimestampUTC: t0, FlightState: types.FlightState{Squawk: "4321"}}))

	core, err := store.ActiveFlightByCallsign(ctx, "UAL123")
	require.NoError(t, err)
	assert.True(t, core.LastSeenUTC.Equal(t0.Add(time.Minute)))
	assert.Equal(t, "1200", core.Squawk)
	assert.Empty(t, store.Changelog())
	assert.Equal(t, 2, store.PointCount(types.TierHot, core.FlightUID))
}

func TestIngest_StaleSessionStartsNewFlight(t *testing.T) {
	store := memstore.New()
	w := archive.NewIngestWriter(store, 30*time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, w.Ingest(ctx, types.Snapshot{Callsign: "UAL123", TimestampUTC: t0}))
	old, err := store.ActiveFlightByCallsign(ctx, "UAL123")
	require.NoError(t, err)

	require.NoError(t, w.Ingest(ctx, types.Snapshot{Callsign: "UAL123", TimestampUTC: t0.Add(2 * time.Hour)}))
	current, err := store.ActiveFlightByCallsign(ctx, "UAL123")
	require.NoError(t, err)

	assert.NotEqual(t, old.FlightUID, current.FlightUID)
	assert.Equal(t, 2, store.CoreCount())
	assert.Equal(t, 1, store.PointCount(types.TierHot, old.FlightUID))
	assert.Equal(t, 1, store.PointCount(types.TierHot, current.FlightUID))
}

func TestIngest_StoreErrors(t *testing.T) {
	tests := []struct {
		name string
		op   string
	}{
		{"lookup fails", "ActiveFlightByCallsign"},
		{"append fails", "AppendPoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFaultyStore()
			store.failOn(tt.op, errInjected)
			w := archive.NewIngestWriter(store, 30*time.Minute, nil)

			err := w.Ingest(context.Background(), types.Snapshot{Callsign: "UAL123", TimestampUTC: t0})

			require.Error(t, err)
			assert.ErrorIs(t, err, errInjected)
			var verr *archive.ValidationError
			assert.False(t, errors.As(err, &verr))
			assert.Equal(t, uint64(1), w.Stats().FailedSnapshots)
		})
	}
}

// racingStore archives the core row right after handing it out, as the
// migrator would between lookup and update
type racingStore struct {
	*memstore.Store
	race bool
}

func (r *racingStore) ActiveFlightByCallsign(ctx context.Context, callsign string) (*types.FlightCore, error) {
	core, err := r.Store.ActiveFlightByCallsign(ctx, callsign)
	if err != nil || core == nil || !r.race {
		return core, err
	}
	if _, err := r.Store.ArchiveFlight(ctx, *core, t0.Add(time.Hour)); err != nil {
		return nil, err
	}
	return core, nil
}

func TestIngest_CoreArchivedDuringUpdate(t *testing.T) {
	store := &racingStore{Store: memstore.New()}
	w := archive.NewIngestWriter(store, 30*time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, w.Ingest(ctx, types.Snapshot{Callsign: "UAL123", TimestampUTC: t0}))
	old, err := store.ActiveFlightByCallsign(ctx, "UAL123")
	require.NoError(t, err)

	store.race = true
	require.NoError(t, w.Ingest(ctx, types.Snapshot{Callsign: "UAL123", TimestampUTC: t0.Add(time.Minute)}))
	store.race = false

	current, err := store.ActiveFlightByCallsign(ctx, "UAL123")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.NotEqual(t, old.FlightUID, current.FlightUID)
	assert.Equal(t, 1, store.ArchiveCount())
	assert.Equal(t, 1, store.PointCount(types.TierHot, current.FlightUID))
	assert.Equal(t, uint64(0), w.Stats().FailedSnapshots)
}

func TestIngest_SetInactivityAppliesToLaterSnapshots(t *testing.T) {
	store := memstore.New()
	w := archive.NewIngestWriter(store, 30*time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, w.Ingest(ctx, types.Snapshot{Callsign: "UAL123", TimestampUTC: t0}))
	w.SetInactivity(2 * time.Hour)
	assert.Equal(t, 2*time.Hour, w.Inactivity())

	require.NoError(t, w.Ingest(ctx, types.Snapshot{Callsign: "UAL123", TimestampUTC: t0.Add(time.Hour)}))
	assert.Equal(t, 1, store.CoreCount())
}
