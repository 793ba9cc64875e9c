package archive_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/saviobatista/sbs-archive/internal/archive"
	"github.com/saviobatista/sbs-archive/internal/types"
)

func TestCoverageGaps(t *testing.T) {
	pointsAt := func(hours ...int) []types.TrackPoint {
		out := make([]types.TrackPoint, len(hours))
		for i, h := range hours {
			out[i] = types.TrackPoint{Tier: types.TierWarm, TimestampUTC: t0.Add(time.Duration(h)*time.Hour + 17*time.Minute)}
		}
		return out
	}

	tests := []struct {
		name   string
		points []types.TrackPoint
		start  time.Time
		end    time.Time
		want   []archive.Gap
	}{
		{
			name:   "full coverage",
			points: pointsAt(0, 1, 2),
			start:  t0,
			end:    t0.Add(3 * time.Hour),
			want:   nil,
		},
		{
			name:   "no points",
			points: nil,
			start:  t0,
			end:    t0.Add(24 * time.Hour),
			want:   []archive.Gap{{Date: "2024-03-01", StartHour: 0, EndHour: 23}},
		},
		{
			name:   "interior gaps",
			points: pointsAt(0, 3, 4, 7),
			start:  t0,
			end:    t0.Add(8 * time.Hour),
			want: []archive.Gap{
				{Date: "2024-03-01", StartHour: 1, EndHour: 2},
				{Date: "2024-03-01", StartHour: 5, EndHour: 6},
			},
		},
		{
			name:   "split at midnight",
			points: pointsAt(21, 27),
			start:  t0.Add(21 * time.Hour),
			end:    t0.Add(28 * time.Hour),
			want: []archive.Gap{
				{Date: "2024-03-01", StartHour: 22, EndHour: 23},
				{Date: "2024-03-02", StartHour: 0, EndHour: 2},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, archive.CoverageGaps(tt.points, tt.start, tt.end))
		})
	}
}

func TestGapHours(t *testing.T) {
	assert.Equal(t, 1, archive.Gap{StartHour: 5, EndHour: 5}.Hours())
	assert.Equal(t, 24, archive.Gap{StartHour: 0, EndHour: 23}.Hours())
}
