package crossing

import (
	"time"

	"github.com/banshee-data/crossing.signal/internal/protocol"
)

// Input is everything the coordinator consumes in one tick.
type Input struct {
	// Dt is the monotonic time since the previous tick.
	Dt time.Duration
	// Now is the monotonic sample for this tick, used by the debouncer.
	Now time.Time
	// Messages are the actuator messages decoded since the previous tick, in
	// arrival order.
	Messages []protocol.Message
	// Tram requests an immediate override.
	Tram bool
	// Slow, when set, replaces the held slow-crossing input.
	Slow *bool
	// Occupancy, when set, replaces the raw count with an estimator reading.
	Occupancy *int
	// Resync forces the current outputs to be re-emitted, e.g. after the
	// actuator link was re-established.
	Resync bool
}

// Output is the result of one tick.
type Output struct {
	Snapshot Snapshot
	// Outgoing holds the messages to transmit, already diffed against the
	// previous transmission.
	Outgoing    []protocol.Message
	Transitions []Transition
}

// Snapshot is the externally visible state after a tick. It is a value and
// safe to hand to other goroutines.
type Snapshot struct {
	Phase            Phase                 `json:"phase"`
	Timer            Timer                 `json:"-"`
	ElapsedMS        int64                 `json:"elapsed_ms"`
	TotalMS          int64                 `json:"total_ms"`
	RemainingMS      int64                 `json:"remaining_ms"`
	CountdownSeconds int                   `json:"countdown_seconds"`
	Progress         float64               `json:"progress"`
	Vehicle          VehiclePhase          `json:"vehicle"`
	Lights           protocol.LightCommand `json:"lights"`
	Pulse            bool                  `json:"pulse"`
	Slow             bool                  `json:"slow"`
	RawOccupancy     int                   `json:"raw_occupancy"`
	Occupancy        int                   `json:"occupancy"`
	Sensors          protocol.SensorVector `json:"sensors,omitempty"`
}

// State is the complete mutable state of the coordinator. It is owned by a
// single control loop.
type State struct {
	Machine    *Machine
	Smoother   *CrowdSmoother
	Aggregator *SensorAggregator
	Lights     DiffEmitter[protocol.LightCommand]
	Pulse      DiffEmitter[bool]

	// Raw is the latest unclamped raw occupancy from any source.
	Raw int
	// SlowHeld mirrors the operator's slow-crossing input.
	SlowHeld bool
	// SlowLatched is set by the slow-crossing button and holds until the end
	// of the next GREEN phase.
	SlowLatched bool
}

// Coordinator wires the aggregator, smoother, phase machine, vehicle
// sequencer and emitters into one per-tick transition.
type Coordinator struct {
	cfg   Config
	state State
}

func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{
		cfg: cfg,
		state: State{
			Machine:    NewMachine(cfg),
			Smoother:   NewCrowdSmoother(cfg.DebounceWindow),
			Aggregator: NewSensorAggregator(cfg.SensorChannels, cfg.OccupancyChannels),
		},
	}
}

func (c *Coordinator) Config() Config { return c.cfg }

// Step advances the coordinator by one tick.
func (c *Coordinator) Step(in Input) Output {
	s := &c.state
	var out Output

	tram := in.Tram
	for _, msg := range in.Messages {
		switch m := msg.(type) {
		case protocol.SensorReport:
			before := s.Aggregator.Reserved()
			count, ok := s.Aggregator.Aggregate(m.Vector)
			if !ok {
				continue
			}
			s.Raw = count
			if c.cfg.TramSensorOverride && risingEdge(before, s.Aggregator.Reserved()) {
				tram = true
			}
		case protocol.CountReport:
			s.Raw = m.Count
		case protocol.ButtonEvent:
			switch m.Channel {
			case protocol.ButtonTram:
				tram = true
			case protocol.ButtonSlow:
				s.SlowLatched = true
			}
		}
	}
	if in.Slow != nil {
		s.SlowHeld = *in.Slow
	}
	if in.Occupancy != nil {
		s.Raw = *in.Occupancy
	}

	raw := min(max(s.Raw, 0), c.cfg.MaxPersonCap)
	display := s.Smoother.Update(raw, in.Now)

	var tr Transition
	var changed bool
	if tram {
		tr, changed = s.Machine.TriggerTram(display), true
	} else {
		tr, changed = s.Machine.Advance(in.Dt, display, s.SlowHeld || s.SlowLatched)
	}
	if changed {
		out.Transitions = append(out.Transitions, tr)
		if tr.From == PhaseGreen {
			s.SlowLatched = false
		}
		if tr.From == PhaseClearance && tr.To == PhaseRed {
			s.Smoother.Reset(in.Now)
		}
	}

	phase := s.Machine.Phase()
	timer := s.Machine.Timer()
	slow := s.SlowHeld || s.SlowLatched
	vehicle := Sequence(c.cfg.Vehicle, phase, timer.Elapsed, timer.Total)
	lights := Lights(phase, vehicle)
	if lights.Valid() != nil {
		lights = protocol.AllRed
	}
	pulse := phase == PhaseGreen && slow

	if in.Resync {
		s.Lights.Reset()
		s.Pulse.Reset()
	}
	if cmd, ok := s.Lights.Emit(lights); ok {
		out.Outgoing = append(out.Outgoing, cmd)
	}
	if on, ok := s.Pulse.Emit(pulse); ok {
		out.Outgoing = append(out.Outgoing, protocol.PulseCommand{On: on})
	}

	remaining := timer.Remaining()
	out.Snapshot = Snapshot{
		Phase:            phase,
		Timer:            timer,
		ElapsedMS:        timer.Elapsed.Milliseconds(),
		TotalMS:          timer.Total.Milliseconds(),
		RemainingMS:      remaining.Milliseconds(),
		CountdownSeconds: int((remaining + time.Second - 1) / time.Second),
		Progress:         timer.Progress(),
		Vehicle:          vehicle,
		Lights:           lights,
		Pulse:            pulse,
		Slow:             slow,
		RawOccupancy:     raw,
		Occupancy:        s.Smoother.Display(),
		Sensors:          s.Aggregator.Vector(),
	}
	return out
}

// risingEdge reports whether any channel went from inactive to active. The
// first accepted vector only establishes the baseline.
func risingEdge(before, after protocol.SensorVector) bool {
	if before == nil {
		return false
	}
	for i, on := range after {
		if on && (i >= len(before) || !before[i]) {
			return true
		}
	}
	return false
}
