package crossing

import "time"

// Machine is the pedestrian phase state machine. It owns the phase timer and
// all occupancy-driven duration scaling; it never reads a clock and only
// advances by the dt it is given.
type Machine struct {
	cfg   Config
	phase Phase
	timer Timer
}

// NewMachine returns a machine in RED with a BaseRed timer.
func NewMachine(cfg Config) *Machine {
	m := &Machine{
		cfg:   cfg,
		phase: PhaseRed,
		timer: Timer{Total: cfg.BaseRed},
	}
	if cfg.StartWithVehicleGreen {
		m.timer.Elapsed = min(cfg.Vehicle.GreenStart(), cfg.BaseRed)
	}
	return m
}

func (m *Machine) Phase() Phase { return m.phase }
func (m *Machine) Timer() Timer { return m.timer }

// GreenTotal is the GREEN duration granted for a display count.
func (m *Machine) GreenTotal(display int) time.Duration {
	total := m.cfg.BaseGreen + time.Duration(display)*m.cfg.BonusPerPerson
	return min(max(total, m.cfg.BaseGreen), m.cfg.MaxGreen)
}

// TimeFactor is the rate at which elapsed time accrues in the current phase.
func (m *Machine) TimeFactor(display int, slow bool) float64 {
	switch m.phase {
	case PhaseRed:
		return 1 + (float64(display)/m.cfg.CrowdScale)*m.cfg.CrowdBonusFactor
	case PhaseGreen:
		if slow {
			return m.cfg.SlowFactor
		}
	}
	// CLEARANCE and TRAM are wall-time safety intervals.
	return 1
}

// TriggerTram preempts whatever phase is active. The preempted phase's timer
// is discarded. Triggering while already in TRAM restarts the override.
func (m *Machine) TriggerTram(display int) Transition {
	return m.enter(PhaseTram, m.cfg.TramDuration, display)
}

// Advance accrues dt scaled by the current time factor and performs at most
// one transition. Overshoot past the phase total is not carried over.
func (m *Machine) Advance(dt time.Duration, display int, slow bool) (Transition, bool) {
	if dt < 0 {
		dt = 0
	}
	m.timer.Elapsed += time.Duration(float64(dt) * m.TimeFactor(display, slow))
	if m.timer.Elapsed < m.timer.Total {
		return Transition{}, false
	}

	switch m.phase {
	case PhaseRed:
		return m.enter(PhaseGreen, m.GreenTotal(display), display), true
	case PhaseGreen:
		return m.enter(PhaseClearance, m.cfg.ClearanceDuration, display), true
	case PhaseClearance, PhaseTram:
		return m.enter(PhaseRed, m.cfg.BaseRed, display), true
	}
	return Transition{}, false
}

func (m *Machine) enter(p Phase, total time.Duration, display int) Transition {
	tr := Transition{From: m.phase, To: p, Timer: Timer{Total: total}, Occupancy: display}
	m.phase = p
	m.timer = Timer{Total: total}
	return tr
}
