package feed

import (
	"sync"
	"time"

	"github.com/saviobatista/sbs-archive/internal/parser"
	"github.com/saviobatista/sbs-archive/internal/types"
)

// aircraft is the merged state of one transponder
type aircraft struct {
	callsign    string
	squawk      string
	position    types.Position
	lastSeen    time.Time
	lastEmitted time.Time
}

// Assembler merges the partial SBS-1 messages of each aircraft into
// complete telemetry snapshots. It is safe for concurrent use.
type Assembler struct {
	mu          sync.Mutex
	aircraft    map[string]*aircraft
	minInterval time.Duration
}

// NewAssembler creates an assembler emitting at most one snapshot per
// aircraft every minInterval
func NewAssembler(minInterval time.Duration) *Assembler {
	return &Assembler{
		aircraft:    make(map[string]*aircraft),
		minInterval: minInterval,
	}
}

// Update merges msg, received at ts. A snapshot is returned when msg carried
// a position fix, the aircraft has identified itself, and minInterval has
// passed since its previous snapshot.
func (a *Assembler) Update(msg *parser.Message, ts time.Time) (*types.Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ac, ok := a.aircraft[msg.HexIdent]
	if !ok {
		ac = &aircraft{}
		a.aircraft[msg.HexIdent] = ac
	}
	merge(ac, msg)
	ac.lastSeen = ts

	if !msg.HasPosition() || ac.callsign == "" {
		return nil, false
	}
	if !ac.lastEmitted.IsZero() && ts.Sub(ac.lastEmitted) < a.minInterval {
		return nil, false
	}
	ac.lastEmitted = ts

	return &types.Snapshot{
		Callsign:     ac.callsign,
		TimestampUTC: ts.UTC(),
		Position:     ac.position,
		FlightState:  types.FlightState{Squawk: ac.squawk},
	}, true
}

// merge copies every field msg carries onto ac
func merge(ac *aircraft, msg *parser.Message) {
	if msg.Callsign != "" {
		ac.callsign = msg.Callsign
	}
	if msg.Squawk != "" {
		ac.squawk = msg.Squawk
	}
	if msg.AltitudeFt != nil {
		ac.position.AltitudeFt = *msg.AltitudeFt
	}
	if msg.GroundspeedKts != nil {
		ac.position.GroundspeedKts = *msg.GroundspeedKts
	}
	if msg.HeadingDeg != nil {
		ac.position.HeadingDeg = *msg.HeadingDeg
	}
	if msg.VerticalRateFpm != nil {
		ac.position.VerticalRateFpm = *msg.VerticalRateFpm
	}
	if msg.HasPosition() {
		ac.position.Latitude = *msg.Latitude
		ac.position.Longitude = *msg.Longitude
	}
}

// Prune forgets aircraft not heard from since cutoff and returns how many
// were dropped
func (a *Assembler) Prune(cutoff time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for hex, ac := range a.aircraft {
		if ac.lastSeen.Before(cutoff) {
			delete(a.aircraft, hex)
			n++
		}
	}
	return n
}

// Tracked returns the number of aircraft currently held
func (a *Assembler) Tracked() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.aircraft)
}
