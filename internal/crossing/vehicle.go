package crossing

import (
	"encoding/json"
	"time"

	"github.com/banshee-data/crossing.signal/internal/protocol"
)

// VehiclePhase is the vehicle signal sub-phase. It is derived from the
// pedestrian phase timer on every tick and never stored.
type VehiclePhase int

const (
	VehicleAllRedStart VehiclePhase = iota
	VehicleAmberPrep
	VehicleGreen
	VehicleAmberEnd
	VehicleAllRedEnd
	VehicleDegradedRed
)

var vehiclePhaseNames = [...]string{
	VehicleAllRedStart: "ALL_RED_START",
	VehicleAmberPrep:   "AMBER_PREP",
	VehicleGreen:       "GREEN",
	VehicleAmberEnd:    "AMBER_END",
	VehicleAllRedEnd:   "ALL_RED_END",
	VehicleDegradedRed: "DEGRADED_RED",
}

func (v VehiclePhase) String() string {
	if v < 0 || int(v) >= len(vehiclePhaseNames) {
		return "UNKNOWN"
	}
	return vehiclePhaseNames[v]
}

func (v VehiclePhase) MarshalJSON() ([]byte, error) { return json.Marshal(v.String()) }

// CarLights maps the sub-phase to the vehicle head. Exactly one is true.
func (v VehiclePhase) CarLights() (red, yellow, green bool) {
	switch v {
	case VehicleAmberPrep, VehicleAmberEnd:
		return false, true, false
	case VehicleGreen:
		return false, false, true
	default:
		return true, false, false
	}
}

// Sequence derives the vehicle sub-phase. Vehicles only move while
// pedestrians are in RED; the RED window [0, total) is split into all-red,
// amber, green, amber and all-red segments. When total is too short to fit
// the whole sequence the vehicle head stays red for the entire phase.
func Sequence(t VehicleTiming, phase Phase, elapsed, total time.Duration) VehiclePhase {
	if phase != PhaseRed {
		return VehicleAllRedEnd
	}

	greenStart := t.GreenStart()
	yellowStart := total - (t.Yellow + t.EndBuffer)
	redExitStart := total - t.EndBuffer

	if greenStart > yellowStart {
		return VehicleDegradedRed
	}

	switch {
	case elapsed < t.StartBuffer:
		return VehicleAllRedStart
	case elapsed < greenStart:
		return VehicleAmberPrep
	case elapsed < yellowStart:
		return VehicleGreen
	case elapsed < redExitStart:
		return VehicleAmberEnd
	default:
		return VehicleAllRedEnd
	}
}

// Lights combines the pedestrian phase and vehicle sub-phase into the
// actuator command. Pedestrians only see green in GREEN; CLEARANCE and TRAM
// show pedestrian red.
func Lights(phase Phase, v VehiclePhase) protocol.LightCommand {
	red, yellow, green := v.CarLights()
	walk := phase == PhaseGreen
	return protocol.LightCommand{
		MainRed:   !walk,
		MainGreen: walk,
		CarRed:    red,
		CarYellow: yellow,
		CarGreen:  green,
	}
}
