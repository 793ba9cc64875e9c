package archive

import (
	"fmt"
	"strings"
	"time"

	"github.com/saviobatista/sbs-archive/internal/types"
)

// Pipeline stage names, also used as archive_log job names
const (
	StageArchive = "archive_completed_flights"
	StageWarm    = "move_to_warm"
	StageCold    = "downsample_to_cold"
	StagePurge   = "purge_old_data"
)

// Stages lists the pipeline in its mandatory order
var Stages = []string{StageArchive, StageWarm, StageCold, StagePurge}

const maxDetailErrors = 10

// JobResult summarizes one stage run. Each chunk is a flight or a span.
type JobResult struct {
	Stage     string
	Selected  int
	Processed int
	Failed    int
	// Rows written to the destination tier (or deleted, for purges)
	Rows int64
	// Rows removed from the source tier
	Removed int64
	// Hot duplicates removed by the cleanup pass
	Cleaned  int64
	Held     bool
	Duration time.Duration
	Errors   []string
}

func (r *JobResult) fail(key string, err error) {
	r.Failed++
	if len(r.Errors) < maxDetailErrors {
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", key, err))
	}
}

// Status maps the result to an archive_log status
func (r JobResult) Status() string {
	switch {
	case r.Held:
		return types.StatusSkipped
	case r.Failed == 0:
		return types.StatusSuccess
	case r.Processed > 0:
		return types.StatusPartial
	default:
		return types.StatusFailed
	}
}

// Detail renders counters and the first chunk errors for archive_log
func (r JobResult) Detail() string {
	if r.Held {
		return "lease held by another worker"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "selected=%d processed=%d failed=%d removed=%d", r.Selected, r.Processed, r.Failed, r.Removed)
	if r.Cleaned > 0 {
		fmt.Fprintf(&b, " cleaned=%d", r.Cleaned)
	}
	if len(r.Errors) > 0 {
		b.WriteString("; errors: ")
		b.WriteString(strings.Join(r.Errors, "; "))
		if r.Failed > len(r.Errors) {
			fmt.Fprintf(&b, "; and %d more", r.Failed-len(r.Errors))
		}
	}
	return b.String()
}
