package crossing

import (
	"encoding/json"
	"time"
)

// Phase is the pedestrian signal state.
type Phase int

const (
	PhaseRed Phase = iota
	PhaseGreen
	PhaseClearance
	PhaseTram
)

var phaseNames = [...]string{
	PhaseRed:       "RED",
	PhaseGreen:     "GREEN",
	PhaseClearance: "CLEARANCE",
	PhaseTram:      "TRAM",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "UNKNOWN"
	}
	return phaseNames[p]
}

func (p Phase) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

// Phases lists every pedestrian phase.
var Phases = []Phase{PhaseRed, PhaseGreen, PhaseClearance, PhaseTram}

// Timer tracks progress through the current phase. Elapsed is reset on every
// phase change; Total is fixed for the lifetime of the phase.
type Timer struct {
	Elapsed time.Duration `json:"elapsed"`
	Total   time.Duration `json:"total"`
}

// Remaining is the countdown to the scheduled end of the phase, never
// negative.
func (t Timer) Remaining() time.Duration {
	if t.Elapsed >= t.Total {
		return 0
	}
	return t.Total - t.Elapsed
}

// Progress is Elapsed/Total clamped to [0, 1].
func (t Timer) Progress() float64 {
	if t.Total <= 0 {
		return 1
	}
	r := float64(t.Elapsed) / float64(t.Total)
	return min(max(r, 0), 1)
}

// Transition records a pedestrian phase change.
type Transition struct {
	From  Phase `json:"from"`
	To    Phase `json:"to"`
	Timer Timer `json:"timer"` // timer of the phase being entered
	// Occupancy is the display count that was in effect at the transition.
	Occupancy int `json:"occupancy"`
}
