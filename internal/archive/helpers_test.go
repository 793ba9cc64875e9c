package archive_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saviobatista/sbs-archive/internal/archive"
	"github.com/saviobatista/sbs-archive/internal/config"
	"github.com/saviobatista/sbs-archive/internal/memstore"
	"github.com/saviobatista/sbs-archive/internal/types"
)

var errInjected = errors.New("injected failure")

// faultyStore wraps the in-memory store and fails chosen operations
type faultyStore struct {
	*memstore.Store

	mu    sync.Mutex
	fails map[string]error
	// failFor restricts a failure to one flight uid
	failFor map[string]string
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		Store:   memstore.New(),
		fails:   make(map[string]error),
		failFor: make(map[string]string),
	}
}

func (f *faultyStore) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails[op] = err
}

func (f *faultyStore) failOnFlight(op, flightUID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails[op] = err
	f.failFor[op] = flightUID
}

func (f *faultyStore) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails = make(map[string]error)
	f.failFor = make(map[string]string)
}

func (f *faultyStore) check(op, flightUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err, ok := f.fails[op]
	if !ok {
		return nil
	}
	if uid, scoped := f.failFor[op]; scoped && uid != flightUID {
		return nil
	}
	return err
}

func (f *faultyStore) ActiveFlightByCallsign(ctx context.Context, callsign string) (*types.FlightCore, error) {
	if err := f.check("ActiveFlightByCallsign", ""); err != nil {
		return nil, err
	}
	return f.Store.ActiveFlightByCallsign(ctx, callsign)
}

func (f *faultyStore) AppendPoint(ctx context.Context, point types.TrajectoryPoint) error {
	if err := f.check("AppendPoint", point.FlightUID); err != nil {
		return err
	}
	return f.Store.AppendPoint(ctx, point)
}

func (f *faultyStore) InactiveFlights(ctx context.Context, cutoff time.Time, limit int) ([]types.FlightCore, error) {
	if err := f.check("InactiveFlights", ""); err != nil {
		return nil, err
	}
	return f.Store.InactiveFlights(ctx, cutoff, limit)
}

func (f *faultyStore) ArchiveFlight(ctx context.Context, core types.FlightCore, at time.Time) (bool, error) {
	if err := f.check("ArchiveFlight", core.FlightUID); err != nil {
		return false, err
	}
	return f.Store.ArchiveFlight(ctx, core, at)
}

func (f *faultyStore) DeleteHotPoints(ctx context.Context, flightUID string, recorded []time.Time) (int64, error) {
	if err := f.check("DeleteHotPoints", flightUID); err != nil {
		return 0, err
	}
	return f.Store.DeleteHotPoints(ctx, flightUID, recorded)
}

func (f *faultyStore) DeleteWarmPoints(ctx context.Context, flightUID string, timestamps []time.Time) (int64, error) {
	if err := f.check("DeleteWarmPoints", flightUID); err != nil {
		return 0, err
	}
	return f.Store.DeleteWarmPoints(ctx, flightUID, timestamps)
}

func (f *faultyStore) PurgeTier(ctx context.Context, target types.PurgeTarget, before time.Time, entry types.ArchiveLogEntry) (int64, error) {
	if err := f.check("PurgeTier", string(target)); err != nil {
		return 0, err
	}
	return f.Store.PurgeTier(ctx, target, before, entry)
}

func (f *faultyStore) ArchivedTrack(ctx context.Context, flightUID string, tier types.Tier) ([]types.ArchivedPoint, error) {
	if err := f.check("ArchivedTrack", flightUID); err != nil {
		return nil, err
	}
	return f.Store.ArchivedTrack(ctx, flightUID, tier)
}

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func testConfig() config.ArchiveConfig {
	cfg := config.DefaultArchiveConfig()
	cfg.WarmDelay = 0
	return cfg
}

// ingestTrack feeds n snapshots of callsign starting at start and returns the flight uid
func ingestTrack(t *testing.T, store archive.IngestStore, callsign string, start time.Time, step time.Duration, n int) string {
	t.Helper()
	w := archive.NewIngestWriter(store, 30*time.Minute, nil)
	ctx := context.Background()
	for i := 0; i < n; i++ {
		snap := types.Snapshot{
			Callsign:     callsign,
			TimestampUTC: start.Add(time.Duration(i) * step),
			Position: types.Position{
				Latitude:   40 + float64(i)*0.001,
				Longitude:  -73 - float64(i)*0.001,
				AltitudeFt: 1000 + i,
			},
		}
		require.NoError(t, w.Ingest(ctx, snap))
	}
	core, err := store.ActiveFlightByCallsign(ctx, callsign)
	require.NoError(t, err)
	require.NotNil(t, core)
	return core.FlightUID
}

// requireStrictlyIncreasing asserts the merged track has no duplicate or out-of-order timestamps
func requireStrictlyIncreasing(t *testing.T, points []types.TrackPoint) {
	t.Helper()
	for i := 1; i < len(points); i++ {
		require.True(t, points[i].TimestampUTC.After(points[i-1].TimestampUTC),
			"point %d (%v) not after point %d (%v)", i, points[i].TimestampUTC, i-1, points[i-1].TimestampUTC)
	}
}

func fullTrack(t *testing.T, store archive.ReadStore, flightUID string) *types.TrackResult {
	t.Helper()
	res, err := archive.NewTrackReader(store).GetTrack(context.Background(), types.TrackQuery{FlightUID: flightUID})
	require.NoError(t, err)
	return res
}

// seedArchivedFlight registers an archived flight header without any points
func seedArchivedFlight(t *testing.T, store *memstore.Store, flightUID, callsign string, lastSeen time.Time) {
	t.Helper()
	ctx := context.Background()
	core := types.FlightCore{FlightUID: flightUID, Callsign: callsign, FirstSeenUTC: lastSeen, LastSeenUTC: lastSeen}
	require.NoError(t, store.CreateFlight(ctx, core))
	_, err := store.ArchiveFlight(ctx, core, lastSeen)
	require.NoError(t, err)
}
