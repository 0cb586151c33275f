package monitoring

import (
	"expvar"
	"testing"
)

func TestCountersArePublished(t *testing.T) {
	for _, name := range []string{
		"counter_crossing_lines_decoded",
		"counter_crossing_lines_discarded",
		"counter_crossing_commands_sent",
		"counter_crossing_phase_transitions",
		"counter_crossing_link_events",
		"counter_crossing_recorder_drops",
		"counter_crossing_operator_requests",
	} {
		if expvar.Get(name) == nil {
			t.Errorf("expvar %s not published", name)
		}
	}
}

func TestLabelMap_Add(t *testing.T) {
	before := LinesDiscarded.Get("test_reason").Value()
	LinesDiscarded.Add("test_reason", 2)
	if got := LinesDiscarded.Get("test_reason").Value(); got != before+2 {
		t.Errorf("counter = %d, want %d", got, before+2)
	}
}
