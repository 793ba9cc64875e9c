package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saviobatista/sbs-archive/internal/testutils"
	"github.com/saviobatista/sbs-archive/internal/types"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestInsertTierIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	points := testutils.MockArchivedPoints("f-1", types.TierWarm, t0, time.Second, 10)

	n, err := s.CopyToWarm(ctx, points)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	n, err = s.CopyToWarm(ctx, points)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, 10, s.PointCount(types.TierWarm, "f-1"))

	// the same timestamps may also exist once in cold
	n, err = s.WriteCold(ctx, points[:3])
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	cold, err := s.ArchivedTrack(ctx, "f-1", types.TierCold)
	require.NoError(t, err)
	for _, p := range cold {
		assert.Equal(t, types.TierCold, p.SourceTier)
	}
}

func TestDeleteHotDuplicates(t *testing.T) {
	s := New()
	ctx := context.Background()
	hot := testutils.MockHotPoints("f-1", t0, time.Second, 5)
	for _, p := range hot {
		require.NoError(t, s.AppendPoint(ctx, p))
	}
	warm := make([]types.ArchivedPoint, 3)
	for i, p := range hot[:3] {
		warm[i] = p.ToArchived(types.TierWarm)
	}
	_, err := s.CopyToWarm(ctx, warm)
	require.NoError(t, err)

	n, err := s.DeleteHotDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 2, s.PointCount(types.TierHot, "f-1"))
}

func TestWarmChunks(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, uid := range []string{"archived", "active"} {
		for _, p := range testutils.MockHotPoints(uid, t0, time.Hour, 4) {
			require.NoError(t, s.AppendPoint(ctx, p))
		}
	}
	core := types.FlightCore{FlightUID: "archived", Callsign: "UAL1", LastSeenUTC: t0.Add(3 * time.Hour)}
	require.NoError(t, s.CreateFlight(ctx, core))
	_, err := s.ArchiveFlight(ctx, core, t0.Add(4*time.Hour))
	require.NoError(t, err)

	chunks, err := s.WarmChunks(ctx, t0.Add(4*time.Hour), time.Time{}, 0)
	require.NoError(t, err)
	assert.Equal(t, []types.WarmChunk{{FlightUID: "archived", All: true}}, chunks)

	before := t0.Add(2 * time.Hour)
	chunks, err = s.WarmChunks(ctx, t0, before, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "active", chunks[0].FlightUID)
	assert.False(t, chunks[0].All)

	points, err := s.HotPoints(ctx, chunks[0])
	require.NoError(t, err)
	assert.Len(t, points, 2)
}

func TestColdSpans(t *testing.T) {
	s := New()
	ctx := context.Background()
	// 120 points spread over hour 0
	_, err := s.CopyToWarm(ctx, testutils.MockArchivedPoints("f-1", types.TierWarm, t0, 30*time.Second, 120))
	require.NoError(t, err)

	spans, err := s.ColdSpans(ctx, t0.Add(2*time.Hour), time.Hour, 50, 0)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, types.Span{FlightUID: "f-1", Start: t0, End: t0.Add(time.Hour), Count: 120}, spans[0])

	spans, err = s.ColdSpans(ctx, t0.Add(2*time.Hour), 30*time.Minute, 50, 0)
	require.NoError(t, err)
	assert.Len(t, spans, 2)

	points, err := s.WarmSpanPoints(ctx, spans[1])
	require.NoError(t, err)
	assert.Len(t, points, 60)
	assert.True(t, points[0].TimestampUTC.Equal(t0.Add(30*time.Minute)))
}

func TestPurgeArchiveRemovesChangelog(t *testing.T) {
	s := New()
	ctx := context.Background()
	core := types.FlightCore{FlightUID: "f-1", Callsign: "UAL1", LastSeenUTC: t0}
	require.NoError(t, s.CreateFlight(ctx, core))
	require.NoError(t, s.UpdateFlight(ctx, core, []types.ChangelogEntry{{FlightUID: "f-1", Field: "squawk", NewValue: "7700", TS: t0}}))
	_, err := s.ArchiveFlight(ctx, core, t0)
	require.NoError(t, err)

	n, err := s.PurgeTier(ctx, types.PurgeArchive, t0.Add(time.Hour), types.ArchiveLogEntry{JobName: "purge_archive"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, s.Changelog())
	assert.Equal(t, 0, s.ArchiveCount())

	logs, err := s.RecentLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(1), logs[0].RowsAffected)

	_, err = s.PurgeTier(ctx, types.PurgeHot, t0, types.ArchiveLogEntry{})
	assert.Error(t, err)
}

func TestArchivedBetween(t *testing.T) {
	s := New()
	ctx := context.Background()
	core := types.FlightCore{FlightUID: "f-1", Callsign: "UAL1", LastSeenUTC: t0}
	require.NoError(t, s.CreateFlight(ctx, core))
	_, err := s.CopyToWarm(ctx, testutils.MockArchivedPoints("f-1", types.TierWarm, t0, time.Hour, 30))
	require.NoError(t, err)

	day := t0.Add(24 * time.Hour)
	rows, err := s.ArchivedBetween(ctx, t0, day, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 10)
	assert.Equal(t, "UAL1", rows[0].Callsign)

	rows, err = s.ArchivedBetween(ctx, t0, day, 20, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	assert.True(t, rows[3].TimestampUTC.Equal(t0.Add(23*time.Hour)))

	rows, err = s.ArchivedBetween(ctx, t0, day, 24, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
