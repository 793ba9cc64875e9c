package archive

import (
	"time"

	"github.com/saviobatista/sbs-archive/internal/types"
)

// Gap is a run of consecutive UTC hours on one date with no points
type Gap struct {
	Date      string `json:"date"`
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
}

// Hours returns the number of hours covered by the gap
func (g Gap) Hours() int {
	return g.EndHour - g.StartHour + 1
}

// CoverageGaps lists hours in [start, end) without any point. Runs never
// cross midnight; a gap spanning two dates is reported as two gaps.
func CoverageGaps(points []types.TrackPoint, start, end time.Time) []Gap {
	covered := make(map[time.Time]bool, len(points))
	for _, p := range points {
		covered[p.TimestampUTC.UTC().Truncate(time.Hour)] = true
	}

	var gaps []Gap
	var current *Gap
	for h := start.UTC().Truncate(time.Hour); h.Before(end); h = h.Add(time.Hour) {
		if covered[h] {
			current = nil
			continue
		}
		date := h.Format("2006-01-02")
		if current != nil && current.Date == date && current.EndHour == h.Hour()-1 {
			current.EndHour = h.Hour()
			continue
		}
		gaps = append(gaps, Gap{Date: date, StartHour: h.Hour(), EndHour: h.Hour()})
		current = &gaps[len(gaps)-1]
	}
	return gaps
}
