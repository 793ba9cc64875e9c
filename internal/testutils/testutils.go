package testutils

import (
	"context"
	"fmt"
	"time"

	"github.com/saviobatista/sbs-archive/internal/types"
)

// MockSnapshot creates a telemetry snapshot for testing
func MockSnapshot(callsign string, ts time.Time) types.Snapshot {
	return types.Snapshot{
		Callsign:     callsign,
		TimestampUTC: ts.UTC(),
		Position: types.Position{
			Latitude:        40.6413,
			Longitude:       -73.7781,
			AltitudeFt:      35000,
			GroundspeedKts:  450,
			HeadingDeg:      270,
			VerticalRateFpm: 0,
		},
	}
}

// MockTrack creates n snapshots for callsign starting at start, every step.
// Positions drift west so consecutive points differ.
func MockTrack(callsign string, start time.Time, step time.Duration, n int) []types.Snapshot {
	out := make([]types.Snapshot, n)
	for i := 0; i < n; i++ {
		snap := MockSnapshot(callsign, start.Add(time.Duration(i)*step))
		snap.Longitude -= float64(i) * 0.01
		snap.AltitudeFt = 10000 + (i % 250 * 100)
		out[i] = snap
	}
	return out
}

// MockHotPoints creates n hot points for flightUID starting at start, every step
func MockHotPoints(flightUID string, start time.Time, step time.Duration, n int) []types.TrajectoryPoint {
	out := make([]types.TrajectoryPoint, n)
	for i := 0; i < n; i++ {
		snap := MockSnapshot("TEST", start.Add(time.Duration(i)*step))
		out[i] = types.TrajectoryPoint{
			FlightUID:   flightUID,
			RecordedUTC: snap.TimestampUTC,
			Position:    snap.Position,
		}
	}
	return out
}

// MockArchivedPoints creates n archived points of tier for flightUID
func MockArchivedPoints(flightUID string, tier types.Tier, start time.Time, step time.Duration, n int) []types.ArchivedPoint {
	hot := MockHotPoints(flightUID, start, step, n)
	out := make([]types.ArchivedPoint, n)
	for i, p := range hot {
		out[i] = p.ToArchived(tier)
	}
	return out
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// FixedClock returns a settable clock for components that take a time source
type FixedClock struct {
	t time.Time
}

// NewFixedClock creates a clock stopped at t
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t.UTC()}
}

// Now returns the clock's current time
func (c *FixedClock) Now() time.Time {
	return c.t
}

// Set moves the clock to t
func (c *FixedClock) Set(t time.Time) {
	c.t = t.UTC()
}

// Advance moves the clock forward by d
func (c *FixedClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}
