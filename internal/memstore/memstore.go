// Package memstore is an in-memory implementation of the archive store
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/saviobatista/sbs-archive/internal/archive"
	"github.com/saviobatista/sbs-archive/internal/types"
)

// Store holds every tier in maps guarded by one RWMutex. Each method is a
// single atomic step, mirroring one database transaction.
type Store struct {
	mu sync.RWMutex

	core      map[string]types.FlightCore
	archive   map[string]types.FlightArchive
	hot       map[string]map[int64]types.TrajectoryPoint
	tiers     map[types.Tier]map[string]map[int64]types.ArchivedPoint
	changelog []types.ChangelogEntry
	logs      []types.ArchiveLogEntry
}

// New creates an empty store
func New() *Store {
	return &Store{
		core:    make(map[string]types.FlightCore),
		archive: make(map[string]types.FlightArchive),
		hot:     make(map[string]map[int64]types.TrajectoryPoint),
		tiers: map[types.Tier]map[string]map[int64]types.ArchivedPoint{
			types.TierWarm: make(map[string]map[int64]types.ArchivedPoint),
			types.TierCold: make(map[string]map[int64]types.ArchivedPoint),
		},
	}
}

func key(t time.Time) int64 {
	return t.UTC().UnixNano()
}

// ActiveFlightByCallsign returns the most recently seen core row for callsign
func (s *Store) ActiveFlightByCallsign(ctx context.Context, callsign string) (*types.FlightCore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *types.FlightCore
	for _, c := range s.core {
		if c.Callsign != callsign {
			continue
		}
		if best == nil || c.LastSeenUTC.After(best.LastSeenUTC) {
			best = &c
		}
	}
	return best, nil
}

// CreateFlight inserts a new core row
func (s *Store) CreateFlight(ctx context.Context, core types.FlightCore) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.core[core.FlightUID]; ok {
		return fmt.Errorf("flight %s already exists", core.FlightUID)
	}
	s.core[core.FlightUID] = core
	return nil
}

// UpdateFlight appends the changelog entries and replaces the core row
func (s *Store) UpdateFlight(ctx context.Context, core types.FlightCore, changes []types.ChangelogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.core[core.FlightUID]; !ok {
		return fmt.Errorf("failed to update flight %s: %w", core.FlightUID, archive.ErrFlightNotFound)
	}
	s.changelog = append(s.changelog, changes...)
	s.core[core.FlightUID] = core
	return nil
}

// AppendPoint inserts a hot point; a repeated timestamp is ignored
func (s *Store) AppendPoint(ctx context.Context, point types.TrajectoryPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	points, ok := s.hot[point.FlightUID]
	if !ok {
		points = make(map[int64]types.TrajectoryPoint)
		s.hot[point.FlightUID] = points
	}
	if _, exists := points[key(point.RecordedUTC)]; !exists {
		points[key(point.RecordedUTC)] = point
	}
	return nil
}

// InactiveFlights lists core rows last seen at or before cutoff, oldest first
func (s *Store) InactiveFlights(ctx context.Context, cutoff time.Time, limit int) ([]types.FlightCore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.FlightCore
	for _, c := range s.core {
		if !c.LastSeenUTC.After(cutoff) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeenUTC.Equal(out[j].LastSeenUTC) {
			return out[i].FlightUID < out[j].FlightUID
		}
		return out[i].LastSeenUTC.Before(out[j].LastSeenUTC)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ArchiveFlight moves core into the archive unless an archive row exists
func (s *Store) ArchiveFlight(ctx context.Context, core types.FlightCore, archivedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.archive[core.FlightUID]
	if !exists {
		s.archive[core.FlightUID] = types.FlightArchive{FlightCore: core, ArchivedUTC: archivedAt.UTC()}
	}
	delete(s.core, core.FlightUID)
	return !exists, nil
}

// DeleteHotDuplicates removes hot points that already have a WARM copy
func (s *Store) DeleteHotDuplicates(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	warm := s.tiers[types.TierWarm]
	for uid, points := range s.hot {
		for k := range points {
			if _, ok := warm[uid][k]; ok {
				delete(points, k)
				n++
			}
		}
		if len(points) == 0 {
			delete(s.hot, uid)
		}
	}
	return n, nil
}

// WarmChunks lists flights with hot points eligible for the warm tier
func (s *Store) WarmChunks(ctx context.Context, archivedBefore, hotBefore time.Time, limit int) ([]types.WarmChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.WarmChunk
	for uid, points := range s.hot {
		if len(points) == 0 {
			continue
		}
		if a, ok := s.archive[uid]; ok && !a.ArchivedUTC.After(archivedBefore) {
			out = append(out, types.WarmChunk{FlightUID: uid, All: true})
			continue
		}
		if hotBefore.IsZero() {
			continue
		}
		for _, p := range points {
			if p.RecordedUTC.Before(hotBefore) {
				out = append(out, types.WarmChunk{FlightUID: uid, Before: hotBefore})
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FlightUID < out[j].FlightUID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// HotPoints returns the chunk's hot points in time order
func (s *Store) HotPoints(ctx context.Context, chunk types.WarmChunk) ([]types.TrajectoryPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.TrajectoryPoint
	for _, p := range s.hot[chunk.FlightUID] {
		if chunk.All || p.RecordedUTC.Before(chunk.Before) {
			out = append(out, p)
		}
	}
	sortHot(out)
	return out, nil
}

// CopyToWarm inserts WARM rows, skipping existing ones
func (s *Store) CopyToWarm(ctx context.Context, points []types.ArchivedPoint) (int64, error) {
	return s.insertTier(types.TierWarm, points), nil
}

// WriteCold inserts COLD rows, skipping existing ones
func (s *Store) WriteCold(ctx context.Context, points []types.ArchivedPoint) (int64, error) {
	return s.insertTier(types.TierCold, points), nil
}

func (s *Store) insertTier(tier types.Tier, points []types.ArchivedPoint) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	byFlight := s.tiers[tier]
	for _, p := range points {
		p.SourceTier = tier
		m, ok := byFlight[p.FlightUID]
		if !ok {
			m = make(map[int64]types.ArchivedPoint)
			byFlight[p.FlightUID] = m
		}
		if _, exists := m[key(p.TimestampUTC)]; exists {
			continue
		}
		m[key(p.TimestampUTC)] = p
		n++
	}
	return n
}

// DeleteHotPoints removes the given hot points of one flight
func (s *Store) DeleteHotPoints(ctx context.Context, flightUID string, recorded []time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	points := s.hot[flightUID]
	for _, ts := range recorded {
		if _, ok := points[key(ts)]; ok {
			delete(points, key(ts))
			n++
		}
	}
	if points != nil && len(points) == 0 {
		delete(s.hot, flightUID)
	}
	return n, nil
}

// ColdSpans groups WARM points before cutoff into window buckets per flight
func (s *Store) ColdSpans(ctx context.Context, cutoff time.Time, window time.Duration, minCount, limit int) ([]types.Span, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type spanKey struct {
		uid   string
		start int64
	}
	counts := make(map[spanKey]int)
	for uid, points := range s.tiers[types.TierWarm] {
		for _, p := range points {
			if !p.TimestampUTC.Before(cutoff) {
				continue
			}
			counts[spanKey{uid, types.SpanStart(p.TimestampUTC, window).Unix()}]++
		}
	}

	var out []types.Span
	for k, n := range counts {
		if n <= minCount {
			continue
		}
		start := time.Unix(k.start, 0).UTC()
		out = append(out, types.Span{FlightUID: k.uid, Start: start, End: start.Add(window), Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].FlightUID < out[j].FlightUID
		}
		return out[i].Start.Before(out[j].Start)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// WarmSpanPoints returns the WARM points of span in time order
func (s *Store) WarmSpanPoints(ctx context.Context, span types.Span) ([]types.ArchivedPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.ArchivedPoint
	for _, p := range s.tiers[types.TierWarm][span.FlightUID] {
		if !p.TimestampUTC.Before(span.Start) && p.TimestampUTC.Before(span.End) {
			out = append(out, p)
		}
	}
	sortArchived(out)
	return out, nil
}

// DeleteWarmPoints removes the given WARM points of one flight
func (s *Store) DeleteWarmPoints(ctx context.Context, flightUID string, timestamps []time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	points := s.tiers[types.TierWarm][flightUID]
	for _, ts := range timestamps {
		if _, ok := points[key(ts)]; ok {
			delete(points, key(ts))
			n++
		}
	}
	return n, nil
}

// PurgeTier deletes rows of target older than before and logs the count
func (s *Store) PurgeTier(ctx context.Context, target types.PurgeTarget, before time.Time, entry types.ArchiveLogEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	switch target {
	case types.PurgeCold, types.PurgeWarm:
		for _, points := range s.tiers[types.Tier(target)] {
			for k, p := range points {
				if p.TimestampUTC.Before(before) {
					delete(points, k)
					n++
				}
			}
		}
	case types.PurgeArchive:
		purged := make(map[string]bool)
		for uid, a := range s.archive {
			if a.LastSeenUTC.Before(before) {
				delete(s.archive, uid)
				purged[uid] = true
				n++
			}
		}
		kept := s.changelog[:0]
		for _, c := range s.changelog {
			if !purged[c.FlightUID] {
				kept = append(kept, c)
			}
		}
		s.changelog = kept
	default:
		return 0, fmt.Errorf("unsupported purge target %s", target)
	}

	entry.RowsAffected = n
	s.logs = append(s.logs, entry)
	return n, nil
}

// PurgeHotOverCap deletes the oldest hot points beyond cap and logs the count
func (s *Store) PurgeHotOverCap(ctx context.Context, cap int64, entry types.ArchiveLogEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []types.TrajectoryPoint
	for _, points := range s.hot {
		for _, p := range points {
			all = append(all, p)
		}
	}

	var n int64
	if excess := int64(len(all)) - cap; excess > 0 {
		sortHot(all)
		for _, p := range all[:excess] {
			delete(s.hot[p.FlightUID], key(p.RecordedUTC))
			n++
		}
	}

	entry.RowsAffected = n
	s.logs = append(s.logs, entry)
	return n, nil
}

// LookupFlight finds a flight by uid in core, then archive
func (s *Store) LookupFlight(ctx context.Context, flightUID string) (*types.FlightRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.core[flightUID]; ok {
		return &types.FlightRef{FlightUID: c.FlightUID, Callsign: c.Callsign, LastSeenUTC: c.LastSeenUTC}, nil
	}
	if a, ok := s.archive[flightUID]; ok {
		return &types.FlightRef{FlightUID: a.FlightUID, Callsign: a.Callsign, LastSeenUTC: a.LastSeenUTC, Archived: true}, nil
	}
	return nil, nil
}

// ResolveCallsign returns the most recent active session, else the most recent archived one
func (s *Store) ResolveCallsign(ctx context.Context, callsign string) (*types.FlightRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *types.FlightRef
	for _, c := range s.core {
		if c.Callsign == callsign && (best == nil || c.LastSeenUTC.After(best.LastSeenUTC)) {
			best = &types.FlightRef{FlightUID: c.FlightUID, Callsign: c.Callsign, LastSeenUTC: c.LastSeenUTC}
		}
	}
	if best != nil {
		return best, nil
	}
	for _, a := range s.archive {
		if a.Callsign == callsign && (best == nil || a.LastSeenUTC.After(best.LastSeenUTC)) {
			best = &types.FlightRef{FlightUID: a.FlightUID, Callsign: a.Callsign, LastSeenUTC: a.LastSeenUTC, Archived: true}
		}
	}
	return best, nil
}

// HotTrack returns the flight's hot points in time order
func (s *Store) HotTrack(ctx context.Context, flightUID string) ([]types.TrajectoryPoint, error) {
	return s.HotPoints(ctx, types.WarmChunk{FlightUID: flightUID, All: true})
}

// ArchivedTrack returns the flight's points of tier in time order
func (s *Store) ArchivedTrack(ctx context.Context, flightUID string, tier types.Tier) ([]types.ArchivedPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byFlight, ok := s.tiers[tier]
	if !ok {
		return nil, fmt.Errorf("tier %s is not an archive tier", tier)
	}
	out := make([]types.ArchivedPoint, 0, len(byFlight[flightUID]))
	for _, p := range byFlight[flightUID] {
		out = append(out, p)
	}
	sortArchived(out)
	return out, nil
}

// TableStats reports counts and time ranges for every table
func (s *Store) TableStats(ctx context.Context) ([]types.TableStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hot := types.TableStat{TableName: "trajectory_hot", Tier: string(types.TierHot)}
	for _, points := range s.hot {
		for _, p := range points {
			observe(&hot, p.RecordedUTC)
		}
	}

	stats := []types.TableStat{hot}
	for _, tier := range []types.Tier{types.TierWarm, types.TierCold} {
		st := types.TableStat{TableName: "trajectory_archive", Tier: string(tier)}
		for _, points := range s.tiers[tier] {
			for _, p := range points {
				observe(&st, p.TimestampUTC)
			}
		}
		stats = append(stats, st)
	}

	core := types.TableStat{TableName: "flight_core"}
	for _, c := range s.core {
		observe(&core, c.LastSeenUTC)
	}
	archived := types.TableStat{TableName: "flight_archive"}
	for _, a := range s.archive {
		observe(&archived, a.LastSeenUTC)
	}
	changes := types.TableStat{TableName: "flight_changelog"}
	for _, c := range s.changelog {
		observe(&changes, c.TS)
	}
	logs := types.TableStat{TableName: "archive_log"}
	for _, l := range s.logs {
		observe(&logs, l.RunTime)
	}

	return append(stats, core, archived, changes, logs), nil
}

func observe(st *types.TableStat, ts time.Time) {
	if st.RowCount == 0 || ts.Before(st.OldestTS) {
		st.OldestTS = ts
	}
	if st.RowCount == 0 || ts.After(st.NewestTS) {
		st.NewestTS = ts
	}
	st.RowCount++
}

// AppendLog appends a job log entry
func (s *Store) AppendLog(ctx context.Context, entry types.ArchiveLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

// RecentLogs returns up to limit entries, newest first
func (s *Store) RecentLogs(ctx context.Context, limit int) ([]types.ArchiveLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.ArchiveLogEntry, 0, len(s.logs))
	for i := len(s.logs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.logs[i])
	}
	return out, nil
}

// ArchivedBetween pages warm and cold rows with timestamps in [from, to)
func (s *Store) ArchivedBetween(ctx context.Context, from, to time.Time, offset, limit int) ([]types.ArchivedRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []types.ArchivedRow
	for _, tier := range []types.Tier{types.TierWarm, types.TierCold} {
		for uid, points := range s.tiers[tier] {
			flight := s.flightLocked(uid)
			for _, p := range points {
				if !p.TimestampUTC.Before(from) && p.TimestampUTC.Before(to) {
					rows = append(rows, types.ArchivedRow{
						ArchivedPoint: p,
						Callsign:      flight.Callsign,
						DeptICAO:      flight.DeptICAO,
						DestICAO:      flight.DestICAO,
					})
				}
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.TimestampUTC.Equal(b.TimestampUTC) {
			return a.TimestampUTC.Before(b.TimestampUTC)
		}
		if a.FlightUID != b.FlightUID {
			return a.FlightUID < b.FlightUID
		}
		return a.SourceTier < b.SourceTier
	})

	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *Store) flightLocked(uid string) types.FlightCore {
	if c, ok := s.core[uid]; ok {
		return c
	}
	return s.archive[uid].FlightCore
}

// Changelog returns a copy of the changelog rows
func (s *Store) Changelog() []types.ChangelogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ChangelogEntry, len(s.changelog))
	copy(out, s.changelog)
	return out
}

// ArchiveCount returns the number of flight_archive rows
func (s *Store) ArchiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.archive)
}

// CoreCount returns the number of active core rows
func (s *Store) CoreCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.core)
}

// PointCount returns the number of points of one flight in tier, or of all
// flights when flightUID is empty
func (s *Store) PointCount(tier types.Tier, flightUID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	if tier == types.TierHot {
		for uid, points := range s.hot {
			if flightUID == "" || uid == flightUID {
				n += len(points)
			}
		}
		return n
	}
	for uid, points := range s.tiers[tier] {
		if flightUID == "" || uid == flightUID {
			n += len(points)
		}
	}
	return n
}

func sortHot(points []types.TrajectoryPoint) {
	sort.Slice(points, func(i, j int) bool {
		if points[i].RecordedUTC.Equal(points[j].RecordedUTC) {
			return points[i].FlightUID < points[j].FlightUID
		}
		return points[i].RecordedUTC.Before(points[j].RecordedUTC)
	})
}

func sortArchived(points []types.ArchivedPoint) {
	sort.Slice(points, func(i, j int) bool {
		return points[i].TimestampUTC.Before(points[j].TimestampUTC)
	})
}
