package archive

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saviobatista/sbs-archive/internal/types"
)

// TrackReader stitches hot, warm and cold points of one flight into a single
// chronological track. It never mutates the store.
type TrackReader struct {
	store    ReadStore
	cache    TrackCache
	cacheTTL time.Duration
}

// NewTrackReader creates a reader over store
func NewTrackReader(store ReadStore) *TrackReader {
	return &TrackReader{store: store}
}

// WithCache enables result caching for ttl. A zero ttl disables it.
func (r *TrackReader) WithCache(cache TrackCache, ttl time.Duration) *TrackReader {
	r.cache = cache
	r.cacheTTL = ttl
	return r
}

// GetTrack resolves the flight and returns its merged track. An unknown
// flight yields Found == false and a nil error.
func (r *TrackReader) GetTrack(ctx context.Context, q types.TrackQuery) (*types.TrackResult, error) {
	q.Callsign = strings.ToUpper(strings.TrimSpace(q.Callsign))
	if q.FlightUID == "" && q.Callsign == "" {
		return nil, &ValidationError{Field: "flight", Reason: "flight_uid or callsign is required"}
	}
	if q.Simplify && q.MaxPoints <= 0 {
		return nil, &ValidationError{Field: "max_points", Reason: "must be positive when simplifying"}
	}

	key := trackCacheKey(q)
	if r.cacheEnabled() {
		cached, err := r.cache.GetTrack(ctx, key)
		if err != nil {
			log.Printf("Warning: Failed to read track cache: %v", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	result, err := r.load(ctx, q)
	if err != nil {
		return nil, err
	}

	if r.cacheEnabled() {
		if err := r.cache.StoreTrack(ctx, key, result, r.cacheTTL); err != nil {
			log.Printf("Warning: Failed to store track in cache: %v", err)
		}
	}
	return result, nil
}

func (r *TrackReader) cacheEnabled() bool {
	return r.cache != nil && r.cacheTTL > 0
}

func (r *TrackReader) load(ctx context.Context, q types.TrackQuery) (*types.TrackResult, error) {
	ref, err := r.resolve(ctx, q)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return &types.TrackResult{Found: false, Points: []types.TrackPoint{}}, nil
	}

	merged, err := r.mergedTrack(ctx, ref.FlightUID)
	if err != nil {
		return nil, err
	}

	result := &types.TrackResult{
		Found:      true,
		Flight:     *ref,
		TotalCount: len(merged),
		Points:     merged,
	}
	if q.Simplify {
		result.Points = Decimate(merged, q.MaxPoints)
	}
	return result, nil
}

func (r *TrackReader) resolve(ctx context.Context, q types.TrackQuery) (*types.FlightRef, error) {
	if q.FlightUID != "" {
		ref, err := r.store.LookupFlight(ctx, q.FlightUID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up flight: %w", err)
		}
		return ref, nil
	}
	ref, err := r.store.ResolveCallsign(ctx, q.Callsign)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve callsign: %w", err)
	}
	return ref, nil
}

// mergedTrack fetches the three tiers concurrently and merges them by time
func (r *TrackReader) mergedTrack(ctx context.Context, flightUID string) ([]types.TrackPoint, error) {
	var hot, warm, cold []types.TrackPoint

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		points, err := r.store.HotTrack(gctx, flightUID)
		if err != nil {
			return fmt.Errorf("failed to read hot tier: %w", err)
		}
		hot = make([]types.TrackPoint, len(points))
		for i, p := range points {
			hot[i] = types.TrackPoint{Tier: types.TierHot, TimestampUTC: p.RecordedUTC, Position: p.Position}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		warm, err = r.archivedTier(gctx, flightUID, types.TierWarm)
		return err
	})
	g.Go(func() error {
		var err error
		cold, err = r.archivedTier(gctx, flightUID, types.TierCold)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return MergeTracks(hot, warm, cold), nil
}

func (r *TrackReader) archivedTier(ctx context.Context, flightUID string, tier types.Tier) ([]types.TrackPoint, error) {
	points, err := r.store.ArchivedTrack(ctx, flightUID, tier)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s tier: %w", strings.ToLower(string(tier)), err)
	}
	out := make([]types.TrackPoint, len(points))
	for i, p := range points {
		out[i] = types.TrackPoint{Tier: tier, TimestampUTC: p.TimestampUTC, Position: p.Position}
	}
	return out, nil
}

// MergeTracks k-way merges time-ordered sequences. Points sharing a
// timestamp collapse to the one from the highest-resolution tier.
func MergeTracks(tracks ...[]types.TrackPoint) []types.TrackPoint {
	total := 0
	for _, t := range tracks {
		total += len(t)
	}
	out := make([]types.TrackPoint, 0, total)
	idx := make([]int, len(tracks))

	for {
		best := -1
		for i, t := range tracks {
			if idx[i] >= len(t) {
				continue
			}
			if best == -1 {
				best = i
				continue
			}
			cand, cur := t[idx[i]], tracks[best][idx[best]]
			if cand.TimestampUTC.Before(cur.TimestampUTC) ||
				(cand.TimestampUTC.Equal(cur.TimestampUTC) && cand.Tier.Resolution() > cur.Tier.Resolution()) {
				best = i
			}
		}
		if best == -1 {
			return out
		}

		chosen := tracks[best][idx[best]]
		out = append(out, chosen)

		// drop every point at this timestamp, the chosen one included
		for i, t := range tracks {
			for idx[i] < len(t) && !t[idx[i]].TimestampUTC.After(chosen.TimestampUTC) {
				idx[i]++
			}
		}
	}
}

func trackCacheKey(q types.TrackQuery) string {
	id := "uid:" + q.FlightUID
	if q.FlightUID == "" {
		id = "cs:" + q.Callsign
	}
	if !q.Simplify {
		return id + ":full"
	}
	return fmt.Sprintf("%s:max%d", id, q.MaxPoints)
}
