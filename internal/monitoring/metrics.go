package monitoring

import (
	"expvar"

	"tailscale.com/metrics"
)

// Counters exported on /debug/vars. Each map is keyed by a short reason or
// kind so one variable covers a whole family of events.
var (
	// LinesDecoded counts accepted actuator lines by tag.
	LinesDecoded = &metrics.LabelMap{Label: "tag"}
	// LinesDiscarded counts rejected actuator lines by reason.
	LinesDiscarded = &metrics.LabelMap{Label: "reason"}
	// CommandsSent counts transmitted host lines by tag.
	CommandsSent = &metrics.LabelMap{Label: "tag"}
	// PhaseTransitions counts entries into each pedestrian phase.
	PhaseTransitions = &metrics.LabelMap{Label: "phase"}
	// LinkEvents counts transport state changes.
	LinkEvents = &metrics.LabelMap{Label: "event"}
	// RecorderDrops counts events the recorder could not queue, by kind.
	RecorderDrops = &metrics.LabelMap{Label: "kind"}
	// OperatorRequests counts API requests forwarded to the control loop.
	OperatorRequests = &metrics.LabelMap{Label: "kind"}
)

func init() {
	expvar.Publish("counter_crossing_lines_decoded", LinesDecoded)
	expvar.Publish("counter_crossing_lines_discarded", LinesDiscarded)
	expvar.Publish("counter_crossing_commands_sent", CommandsSent)
	expvar.Publish("counter_crossing_phase_transitions", PhaseTransitions)
	expvar.Publish("counter_crossing_link_events", LinkEvents)
	expvar.Publish("counter_crossing_recorder_drops", RecorderDrops)
	expvar.Publish("counter_crossing_operator_requests", OperatorRequests)
}
