package archive_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saviobatista/sbs-archive/internal/archive"
	"github.com/saviobatista/sbs-archive/internal/memstore"
	"github.com/saviobatista/sbs-archive/internal/testutils"
	"github.com/saviobatista/sbs-archive/internal/types"
)

// mockCache is an in-memory TrackCache
type mockCache struct {
	mu      sync.Mutex
	entries map[string]*types.TrackResult
	gets    int
	stores  int
	getErr  error
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]*types.TrackResult)}
}

func (c *mockCache) GetTrack(ctx context.Context, key string) (*types.TrackResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.entries[key], nil
}

func (c *mockCache) StoreTrack(ctx context.Context, key string, result *types.TrackResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores++
	c.entries[key] = result
	return nil
}

func TestGetTrack_Validation(t *testing.T) {
	tests := []struct {
		name  string
		query types.TrackQuery
		field string
	}{
		{"no identifier", types.TrackQuery{}, "flight"},
		{"blank callsign", types.TrackQuery{Callsign: "  "}, "flight"},
		{"simplify without max", types.TrackQuery{FlightUID: "f-1", Simplify: true}, "max_points"},
		{"simplify with negative max", types.TrackQuery{Callsign: "UAL123", Simplify: true, MaxPoints: -1}, "max_points"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := archive.NewTrackReader(memstore.New())
			_, err := r.GetTrack(context.Background(), tt.query)

			var verr *archive.ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestGetTrack_UnknownFlight(t *testing.T) {
	r := archive.NewTrackReader(memstore.New())

	for _, q := range []types.TrackQuery{{FlightUID: "missing"}, {Callsign: "NOPE1"}} {
		res, err := r.GetTrack(context.Background(), q)
		require.NoError(t, err)
		assert.False(t, res.Found)
		assert.NotNil(t, res.Points)
		assert.Empty(t, res.Points)
	}
}

func TestGetTrack_CallsignPrefersActiveSession(t *testing.T) {
	store := memstore.New()
	seedArchivedFlight(t, store, "old-1", "UAL123", t0)
	_, err := store.CopyToWarm(context.Background(), testutils.MockArchivedPoints("old-1", types.TierWarm, t0, time.Minute, 5))
	require.NoError(t, err)

	r := archive.NewTrackReader(store)

	res, err := r.GetTrack(context.Background(), types.TrackQuery{Callsign: "ual123"})
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, "old-1", res.Flight.FlightUID)
	assert.True(t, res.Flight.Archived)
	assert.Equal(t, 5, res.TotalCount)

	live := ingestTrack(t, store, "UAL123", t0.Add(24*time.Hour), 15*time.Second, 3)
	res, err = r.GetTrack(context.Background(), types.TrackQuery{Callsign: "UAL123"})
	require.NoError(t, err)
	assert.Equal(t, live, res.Flight.FlightUID)
	assert.False(t, res.Flight.Archived)
	assert.Equal(t, 3, res.TotalCount)
}

func TestGetTrack_StitchesTiers(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	seedArchivedFlight(t, store, "f-1", "UAL123", t0.Add(3*time.Hour))

	// cold 00:00-00:59, warm 01:00-01:59, hot 02:00-02:59, with overlaps at the joins
	cold := testutils.MockArchivedPoints("f-1", types.TierCold, t0, 10*time.Minute, 7)
	warm := testutils.MockArchivedPoints("f-1", types.TierWarm, t0.Add(time.Hour), time.Minute, 61)
	_, err := store.WriteCold(ctx, cold)
	require.NoError(t, err)
	_, err = store.CopyToWarm(ctx, warm)
	require.NoError(t, err)
	for _, p := range testutils.MockHotPoints("f-1", t0.Add(2*time.Hour), time.Minute, 60) {
		require.NoError(t, store.AppendPoint(ctx, p))
	}

	res := fullTrack(t, store, "f-1")
	require.True(t, res.Found)
	requireStrictlyIncreasing(t, res.Points)
	// 01:00 in cold and warm, 02:00 in warm and hot
	assert.Equal(t, 7+61+60-2, res.TotalCount)

	byTS := make(map[int64]types.Tier)
	for _, p := range res.Points {
		byTS[p.TimestampUTC.UnixNano()] = p.Tier
	}
	assert.Equal(t, types.TierCold, byTS[t0.UnixNano()])
	assert.Equal(t, types.TierWarm, byTS[t0.Add(time.Hour).UnixNano()])
	assert.Equal(t, types.TierHot, byTS[t0.Add(2*time.Hour).UnixNano()])
}

func TestGetTrack_SimplifyKeepsEndpoints(t *testing.T) {
	store := memstore.New()
	seedArchivedFlight(t, store, "f-1", "UAL123", t0)
	warm := testutils.MockArchivedPoints("f-1", types.TierWarm, t0, 3*time.Second, 2000)
	_, err := store.CopyToWarm(context.Background(), warm)
	require.NoError(t, err)

	r := archive.NewTrackReader(store)
	res, err := r.GetTrack(context.Background(), types.TrackQuery{FlightUID: "f-1", Simplify: true, MaxPoints: 500})
	require.NoError(t, err)

	assert.Equal(t, 2000, res.TotalCount)
	assert.LessOrEqual(t, len(res.Points), 501)
	assert.GreaterOrEqual(t, len(res.Points), 2)
	assert.True(t, res.Points[0].TimestampUTC.Equal(warm[0].TimestampUTC))
	assert.True(t, res.Points[len(res.Points)-1].TimestampUTC.Equal(warm[1999].TimestampUTC))
	requireStrictlyIncreasing(t, res.Points)

	// short tracks are returned untouched
	res, err = r.GetTrack(context.Background(), types.TrackQuery{FlightUID: "f-1", Simplify: true, MaxPoints: 5000})
	require.NoError(t, err)
	assert.Len(t, res.Points, 2000)
}

func TestGetTrack_TierReadError(t *testing.T) {
	store := newFaultyStore()
	seedArchivedFlight(t, store.Store, "f-1", "UAL123", t0)
	store.failOnFlight("ArchivedTrack", "f-1", errInjected)

	_, err := archive.NewTrackReader(store).GetTrack(context.Background(), types.TrackQuery{FlightUID: "f-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)
}

func TestGetTrack_Cache(t *testing.T) {
	store := memstore.New()
	seedArchivedFlight(t, store, "f-1", "UAL123", t0)
	_, err := store.CopyToWarm(context.Background(), testutils.MockArchivedPoints("f-1", types.TierWarm, t0, time.Minute, 10))
	require.NoError(t, err)

	cache := newMockCache()
	r := archive.NewTrackReader(store).WithCache(cache, time.Minute)
	q := types.TrackQuery{FlightUID: "f-1"}

	first, err := r.GetTrack(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.stores)
	require.Contains(t, cache.entries, "uid:f-1:full")

	second, err := r.GetTrack(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.stores)
	assert.Same(t, first, second)

	// a different shape is a different key
	_, err = r.GetTrack(context.Background(), types.TrackQuery{Callsign: "UAL123", Simplify: true, MaxPoints: 4})
	require.NoError(t, err)
	assert.Contains(t, cache.entries, "cs:UAL123:max4")
}

func TestGetTrack_CacheErrorFallsBackToStore(t *testing.T) {
	store := memstore.New()
	seedArchivedFlight(t, store, "f-1", "UAL123", t0)

	cache := newMockCache()
	cache.getErr = errors.New("cache down")
	r := archive.NewTrackReader(store).WithCache(cache, time.Minute)

	res, err := r.GetTrack(context.Background(), types.TrackQuery{FlightUID: "f-1"})
	require.NoError(t, err)
	assert.True(t, res.Found)
}

func TestMergeTracks(t *testing.T) {
	at := func(tier types.Tier, offsets ...int) []types.TrackPoint {
		out := make([]types.TrackPoint, len(offsets))
		for i, o := range offsets {
			out[i] = types.TrackPoint{Tier: tier, TimestampUTC: t0.Add(time.Duration(o) * time.Second)}
		}
		return out
	}

	tests := []struct {
		name   string
		tracks [][]types.TrackPoint
		want   []types.Tier
	}{
		{
			name:   "empty",
			tracks: [][]types.TrackPoint{nil, nil, nil},
			want:   []types.Tier{},
		},
		{
			name:   "disjoint",
			tracks: [][]types.TrackPoint{at(types.TierHot, 4, 5), at(types.TierWarm, 2, 3), at(types.TierCold, 0, 1)},
			want:   []types.Tier{types.TierCold, types.TierCold, types.TierWarm, types.TierWarm, types.TierHot, types.TierHot},
		},
		{
			name:   "interleaved with ties",
			tracks: [][]types.TrackPoint{at(types.TierCold, 0, 2, 4), at(types.TierWarm, 1, 2, 3), at(types.TierHot, 3, 4)},
			want:   []types.Tier{types.TierCold, types.TierWarm, types.TierWarm, types.TierHot, types.TierHot},
		},
		{
			name:   "all three share a timestamp",
			tracks: [][]types.TrackPoint{at(types.TierCold, 7), at(types.TierHot, 7), at(types.TierWarm, 7)},
			want:   []types.Tier{types.TierHot},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := archive.MergeTracks(tt.tracks...)
			requireStrictlyIncreasing(t, got)
			tiers := make([]types.Tier, len(got))
			for i, p := range got {
				tiers[i] = p.Tier
			}
			assert.Equal(t, tt.want, tiers)
		})
	}
}
