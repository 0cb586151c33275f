package crossing

import (
	"math/rand"
	"testing"
	"time"

	"github.com/banshee-data/crossing.signal/internal/protocol"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	c   *Coordinator
	now time.Time
}

func newHarness(cfg Config) *harness {
	return &harness{c: NewCoordinator(cfg), now: epoch}
}

func (h *harness) step(dt time.Duration, in Input) Output {
	h.now = h.now.Add(dt)
	in.Dt = dt
	in.Now = h.now
	return h.c.Step(in)
}

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

func sensors(bits string) protocol.SensorReport {
	v := make(protocol.SensorVector, len(bits))
	for i, b := range bits {
		v[i] = b == '1'
	}
	return protocol.SensorReport{Vector: v}
}

func TestCoordinator_FirstTickEmitsEverything(t *testing.T) {
	h := newHarness(DefaultConfig())
	out := h.step(16*time.Millisecond, Input{})

	want := []protocol.Message{
		protocol.LightCommand{MainRed: true, CarGreen: true},
		protocol.PulseCommand{On: false},
	}
	if diff := cmp.Diff(want, out.Outgoing); diff != "" {
		t.Errorf("outgoing mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, VehicleGreen, out.Snapshot.Vehicle)

	out = h.step(16*time.Millisecond, Input{})
	assert.Empty(t, out.Outgoing, "unchanged outputs must not be re-sent")
}

func TestCoordinator_ResyncReemits(t *testing.T) {
	h := newHarness(DefaultConfig())
	h.step(16*time.Millisecond, Input{})
	h.step(16*time.Millisecond, Input{})

	out := h.step(16*time.Millisecond, Input{Resync: true})
	require.Len(t, out.Outgoing, 2)
	assert.IsType(t, protocol.LightCommand{}, out.Outgoing[0])
	assert.Equal(t, protocol.PulseCommand{On: false}, out.Outgoing[1])
}

func TestCoordinator_SensorReportsDriveRawOccupancy(t *testing.T) {
	h := newHarness(testConfig())

	out := h.step(10*time.Millisecond, Input{Messages: []protocol.Message{sensors("11010011")}})
	assert.Equal(t, 3, out.Snapshot.RawOccupancy)
	assert.Equal(t, 0, out.Snapshot.Occupancy, "display waits for the debounce window")

	// Wrong length is discarded and the previous count holds.
	out = h.step(10*time.Millisecond, Input{Messages: []protocol.Message{sensors("111111")}})
	assert.Equal(t, 3, out.Snapshot.RawOccupancy)
	assert.Equal(t, protocol.SensorVector{true, true, false, true, false, false, true, true}, out.Snapshot.Sensors)

	out = h.step(300*time.Millisecond, Input{})
	assert.Equal(t, 3, out.Snapshot.Occupancy)
}

func TestCoordinator_CountAndOverrideAreClamped(t *testing.T) {
	h := newHarness(testConfig())

	out := h.step(10*time.Millisecond, Input{Messages: []protocol.Message{protocol.CountReport{Count: 40}}})
	assert.Equal(t, 15, out.Snapshot.RawOccupancy)

	out = h.step(10*time.Millisecond, Input{Occupancy: intPtr(-4)})
	assert.Equal(t, 0, out.Snapshot.RawOccupancy)

	// The operator override wins over a report in the same tick.
	out = h.step(10*time.Millisecond, Input{
		Messages:  []protocol.Message{protocol.CountReport{Count: 2}},
		Occupancy: intPtr(9),
	})
	assert.Equal(t, 9, out.Snapshot.RawOccupancy)
}

func TestCoordinator_TramButtonPreempts(t *testing.T) {
	h := newHarness(testConfig())
	h.step(10*time.Millisecond, Input{})

	out := h.step(10*time.Millisecond, Input{Messages: []protocol.Message{protocol.ButtonEvent{Channel: protocol.ButtonTram}}})
	require.Len(t, out.Transitions, 1)
	assert.Equal(t, PhaseRed, out.Transitions[0].From)
	assert.Equal(t, PhaseTram, out.Transitions[0].To)
	assert.Equal(t, PhaseTram, out.Snapshot.Phase)
	assert.Equal(t, protocol.AllRed, out.Snapshot.Lights)

	out = h.step(2*time.Second, Input{})
	require.Len(t, out.Transitions, 1)
	assert.Equal(t, PhaseRed, out.Snapshot.Phase)
	assert.Equal(t, int64(20000), out.Snapshot.TotalMS)
}

func TestCoordinator_TramSensorOverride(t *testing.T) {
	edge := []protocol.Message{sensors("00000010")}
	quiet := []protocol.Message{sensors("00000000")}

	cfg := testConfig()
	h := newHarness(cfg)
	h.step(10*time.Millisecond, Input{Messages: quiet})
	out := h.step(10*time.Millisecond, Input{Messages: edge})
	assert.Equal(t, PhaseRed, out.Snapshot.Phase, "reserved channels are ignored by default")

	cfg.TramSensorOverride = true
	h = newHarness(cfg)
	out = h.step(10*time.Millisecond, Input{Messages: edge})
	assert.Equal(t, PhaseRed, out.Snapshot.Phase, "first vector is only a baseline")

	h.step(10*time.Millisecond, Input{Messages: quiet})
	out = h.step(10*time.Millisecond, Input{Messages: edge})
	assert.Equal(t, PhaseTram, out.Snapshot.Phase)

	// Holding the sensor high does not retrigger.
	out = h.step(10*time.Millisecond, Input{Messages: edge})
	assert.Empty(t, out.Transitions)
}

func TestCoordinator_SlowButtonLatchesUntilGreenEnds(t *testing.T) {
	h := newHarness(testConfig())
	out := h.step(0, Input{Messages: []protocol.Message{protocol.ButtonEvent{Channel: protocol.ButtonSlow}}})
	assert.True(t, out.Snapshot.Slow)
	assert.False(t, out.Snapshot.Pulse, "pulse only runs during GREEN")

	out = h.step(20*time.Second, Input{})
	require.Equal(t, PhaseGreen, out.Snapshot.Phase)
	assert.True(t, out.Snapshot.Pulse)
	assert.Contains(t, out.Outgoing, protocol.Message(protocol.PulseCommand{On: true}))

	out = h.step(12*time.Second, Input{})
	require.Equal(t, PhaseGreen, out.Snapshot.Phase, "slow crossing stretches GREEN")
	assert.InDelta(t, 8400, out.Snapshot.ElapsedMS, 1)

	out = h.step(6*time.Second, Input{})
	require.Equal(t, PhaseClearance, out.Snapshot.Phase)
	assert.False(t, out.Snapshot.Slow, "latch clears when GREEN ends")
	assert.Contains(t, out.Outgoing, protocol.Message(protocol.PulseCommand{On: false}))
}

func TestCoordinator_HeldSlowPersists(t *testing.T) {
	h := newHarness(testConfig())
	h.step(0, Input{Slow: boolPtr(true)})
	h.step(20*time.Second, Input{})
	h.step(18*time.Second, Input{})
	out := h.step(4*time.Second, Input{})
	require.Equal(t, PhaseRed, out.Snapshot.Phase)
	assert.True(t, out.Snapshot.Slow, "operator input holds across cycles")

	out = h.step(0, Input{Slow: boolPtr(false)})
	assert.False(t, out.Snapshot.Slow)
}

func TestCoordinator_ClearanceExactAndResetsOccupancy(t *testing.T) {
	h := newHarness(testConfig())
	tick := 10 * time.Millisecond
	in := Input{Occupancy: intPtr(5)}

	var out Output
	for i := 0; i < 10000; i++ {
		out = h.step(tick, in)
		if out.Snapshot.Phase == PhaseClearance {
			break
		}
	}
	require.Equal(t, PhaseClearance, out.Snapshot.Phase)
	require.Equal(t, 5, out.Snapshot.Occupancy)

	ticks := 0
	for out.Snapshot.Phase == PhaseClearance && ticks < 1000 {
		out = h.step(tick, in)
		ticks++
	}
	assert.Equal(t, 400, ticks, "CLEARANCE lasts exactly 4s of ticks")
	require.Len(t, out.Transitions, 1)
	assert.Equal(t, PhaseRed, out.Transitions[0].To)
	assert.Equal(t, 0, out.Snapshot.Occupancy, "display resets entering RED")

	out = h.step(tick, in)
	assert.Equal(t, 0, out.Snapshot.Occupancy, "reset count needs a fresh debounce window")
}

func TestCoordinator_CountdownAndProgress(t *testing.T) {
	h := newHarness(testConfig())
	out := h.step(500*time.Millisecond, Input{})
	assert.Equal(t, int64(500), out.Snapshot.ElapsedMS)
	assert.Equal(t, int64(19500), out.Snapshot.RemainingMS)
	assert.Equal(t, 20, out.Snapshot.CountdownSeconds)
	assert.InDelta(t, 0.025, out.Snapshot.Progress, 1e-9)
}

func TestCoordinator_RandomisedInputsKeepLightsSafe(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h := newHarness(DefaultConfig())
	for i := 0; i < 20000; i++ {
		var in Input
		switch rng.Intn(200) {
		case 0:
			in.Tram = true
		case 1:
			in.Slow = boolPtr(rng.Intn(2) == 0)
		case 2:
			in.Messages = []protocol.Message{protocol.ButtonEvent{Channel: protocol.ButtonSlow}}
		case 3:
			in.Resync = true
		}
		if rng.Intn(10) == 0 {
			bits := make([]byte, 8)
			for j := range bits {
				bits[j] = byte('0' + rng.Intn(2))
			}
			in.Messages = append(in.Messages, sensors(string(bits)))
		}
		out := h.step(time.Duration(5+rng.Intn(30))*time.Millisecond, in)
		if err := out.Snapshot.Lights.Valid(); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		for _, m := range out.Outgoing {
			if cmd, ok := m.(protocol.LightCommand); ok {
				if err := cmd.Valid(); err != nil {
					t.Fatalf("tick %d: transmitted invalid command: %v", i, err)
				}
			}
		}
		if out.Snapshot.Occupancy < 0 || out.Snapshot.Occupancy > 15 {
			t.Fatalf("tick %d: occupancy %d out of range", i, out.Snapshot.Occupancy)
		}
	}
}
