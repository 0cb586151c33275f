package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/crossing.signal/internal/actuator"
	"github.com/banshee-data/crossing.signal/internal/controller"
	"github.com/banshee-data/crossing.signal/internal/crossing"
	"github.com/banshee-data/crossing.signal/internal/db"
	"github.com/banshee-data/crossing.signal/internal/protocol"
	"github.com/banshee-data/crossing.signal/internal/testutil"
	"github.com/banshee-data/crossing.signal/internal/timeutil"
	"github.com/banshee-data/crossing.signal/internal/version"
)

var epoch = time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

type fakeController struct {
	mu        sync.Mutex
	snap      crossing.Snapshot
	err       error
	tram      int
	slow      []bool
	occupancy []int
}

func (f *fakeController) Snapshot() crossing.Snapshot { return f.snap }
func (f *fakeController) Ticks() int64                { return 42 }
func (f *fakeController) Timing() crossing.Config     { return crossing.DefaultConfig() }

func (f *fakeController) TriggerTram() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tram++
	return f.err
}

func (f *fakeController) SetSlow(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slow = append(f.slow, on)
	return f.err
}

func (f *fakeController) SetOccupancy(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.occupancy = append(f.occupancy, n)
	return f.err
}

type fakeHistory struct {
	err       error
	limits    []int
	since     time.Time
	greens    []db.TransitionRecord
	commands  []db.CommandRecord
	linkEvent []db.LinkEventRecord
}

func (f *fakeHistory) RecentTransitions(limit int) ([]db.TransitionRecord, error) {
	f.limits = append(f.limits, limit)
	return []db.TransitionRecord{{ID: 1, From: "RED", To: "GREEN", TotalMS: 12000}}, f.err
}

func (f *fakeHistory) RecentCommands(limit int) ([]db.CommandRecord, error) {
	f.limits = append(f.limits, limit)
	return f.commands, f.err
}

func (f *fakeHistory) RecentLinkEvents(limit int) ([]db.LinkEventRecord, error) {
	f.limits = append(f.limits, limit)
	return f.linkEvent, f.err
}

func (f *fakeHistory) GreenCycles(limit int) ([]db.TransitionRecord, error) {
	f.limits = append(f.limits, limit)
	return f.greens, f.err
}

func (f *fakeHistory) CycleStats(since time.Time) (db.CycleStats, error) {
	f.since = since
	return db.CycleStats{Since: since, Cycles: 3, PhaseCounts: map[string]int{}}, f.err
}

type fakeLink struct {
	status       actuator.Status
	reconnectErr error
	reconnects   int
}

func (f *fakeLink) Status() actuator.Status { return f.status }

func (f *fakeLink) Reconnect(ctx context.Context) error {
	f.reconnects++
	if f.reconnectErr == nil {
		f.status.Connected = true
	}
	return f.reconnectErr
}

func redSnapshot() crossing.Snapshot {
	return crossing.Snapshot{
		Phase:            crossing.PhaseRed,
		TotalMS:          20000,
		ElapsedMS:        5000,
		RemainingMS:      15000,
		CountdownSeconds: 15,
		Progress:         0.25,
		Vehicle:          crossing.VehicleGreen,
		Lights:           protocol.LightCommand{MainRed: true, CarGreen: true},
		Sensors:          protocol.SensorVector{true, false, false, false, false, false, false, true},
	}
}

func newTestServer() (*Server, *fakeController, *fakeHistory, *fakeLink) {
	ctrl := &fakeController{snap: redSnapshot()}
	hist := &fakeHistory{}
	link := &fakeLink{status: actuator.Status{Connected: true}}
	return NewServer(ctrl, hist, link, timeutil.NewMockClock(epoch)), ctrl, hist, link
}

func TestShowState(t *testing.T) {
	s, _, _, _ := newTestServer()
	w := testutil.Serve(s.ServeMux(), testutil.NewDebugRequest(http.MethodGet, "/api/state", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var body map[string]any
	testutil.DecodeJSON(t, w, &body)
	assert.Equal(t, "RED", body["phase"])
	assert.Equal(t, "GREEN", body["vehicle"])
	assert.EqualValues(t, 15, body["countdown_seconds"])
	assert.EqualValues(t, 15000, body["remaining_ms"])
	assert.EqualValues(t, 42, body["ticks"])
	assert.Equal(t, true, body["link_connected"])
	assert.Len(t, body["sensors"], 8)
	assert.NotContains(t, body, "Timer")
}

func TestShowState_NoLink(t *testing.T) {
	s := NewServer(&fakeController{snap: redSnapshot()}, nil, nil, nil)
	w := testutil.Serve(s.ServeMux(), testutil.NewDebugRequest(http.MethodGet, "/api/state", nil))

	var body map[string]any
	testutil.DecodeJSON(t, w, &body)
	assert.NotContains(t, body, "link_connected")
}

func TestOperatorRoutes(t *testing.T) {
	s, ctrl, _, _ := newTestServer()
	mux := s.ServeMux()

	w := testutil.Serve(mux, testutil.NewDebugRequest(http.MethodPost, "/api/tram", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusAccepted)
	assert.Equal(t, 1, ctrl.tram)

	w = testutil.Serve(mux, testutil.NewDebugRequest(http.MethodPost, "/api/slow?on=true", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusAccepted)
	w = testutil.Serve(mux, testutil.NewDebugRequest(http.MethodPost, "/api/slow?on=0", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusAccepted)
	assert.Equal(t, []bool{true, false}, ctrl.slow)

	w = testutil.Serve(mux, testutil.NewDebugRequest(http.MethodPost, "/api/occupancy", strings.NewReader(`{"count": 7}`)))
	testutil.AssertStatusCode(t, w.Code, http.StatusAccepted)
	w = testutil.Serve(mux, testutil.NewDebugRequest(http.MethodPost, "/api/occupancy", strings.NewReader(`{"count": 99}`)))
	testutil.AssertStatusCode(t, w.Code, http.StatusAccepted)
	assert.Equal(t, []int{7, 99}, ctrl.occupancy, "clamping is the coordinator's job")
}

func TestOperatorRoutes_Errors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"tram GET", http.MethodGet, "/api/tram", "", http.StatusMethodNotAllowed},
		{"slow missing", http.MethodPost, "/api/slow", "", http.StatusBadRequest},
		{"slow garbage", http.MethodPost, "/api/slow?on=maybe", "", http.StatusBadRequest},
		{"occupancy GET", http.MethodGet, "/api/occupancy", "", http.StatusMethodNotAllowed},
		{"occupancy missing count", http.MethodPost, "/api/occupancy", `{}`, http.StatusBadRequest},
		{"occupancy not a number", http.MethodPost, "/api/occupancy", `{"count": "three"}`, http.StatusBadRequest},
		{"occupancy unknown field", http.MethodPost, "/api/occupancy", `{"people": 3}`, http.StatusBadRequest},
		{"state POST", http.MethodPost, "/api/state", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ctrl, _, _ := newTestServer()
			w := testutil.Serve(s.ServeMux(), testutil.NewDebugRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			testutil.AssertStatusCode(t, w.Code, tt.status)
			assert.Zero(t, ctrl.tram)
			assert.Empty(t, ctrl.occupancy)
		})
	}
}

func TestOperatorRoutes_Busy(t *testing.T) {
	s, ctrl, _, _ := newTestServer()
	ctrl.err = controller.ErrBusy
	w := testutil.Serve(s.ServeMux(), testutil.NewDebugRequest(http.MethodPost, "/api/tram", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)
}

func TestHistoryRoutes(t *testing.T) {
	s, _, hist, _ := newTestServer()
	mux := s.ServeMux()

	w := testutil.Serve(mux, testutil.NewDebugRequest(http.MethodGet, "/api/transitions?limit=5", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var trs []db.TransitionRecord
	testutil.DecodeJSON(t, w, &trs)
	require.Len(t, trs, 1)
	assert.Equal(t, "GREEN", trs[0].To)

	w = testutil.Serve(mux, testutil.NewDebugRequest(http.MethodGet, "/api/commands", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	w = testutil.Serve(mux, testutil.NewDebugRequest(http.MethodGet, "/api/link-events?limit=100000", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	assert.Equal(t, []int{5, db.DefaultLimit, db.MaxLimit}, hist.limits)

	for _, path := range []string{"/api/transitions?limit=0", "/api/commands?limit=abc"} {
		w = testutil.Serve(mux, testutil.NewDebugRequest(http.MethodGet, path, nil))
		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	}
}

func TestHistoryRoutes_StoreError(t *testing.T) {
	s, _, hist, _ := newTestServer()
	hist.err = errors.New("database is locked")
	w := testutil.Serve(s.ServeMux(), testutil.NewDebugRequest(http.MethodGet, "/api/commands", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusInternalServerError)
}

func TestHistoryRoutes_RecordingDisabled(t *testing.T) {
	s := NewServer(&fakeController{}, nil, nil, nil)
	for _, path := range []string{"/api/transitions", "/api/commands", "/api/link-events", "/api/stats"} {
		w := testutil.Serve(s.ServeMux(), testutil.NewDebugRequest(http.MethodGet, path, nil))
		testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)
	}
}

func TestShowStats_Since(t *testing.T) {
	tests := []struct {
		query string
		want  time.Time
		code  int
	}{
		{"", epoch.Add(-DefaultStatsWindow), http.StatusOK},
		{"?since=6h", epoch.Add(-6 * time.Hour), http.StatusOK},
		{"?since=2026-01-01T00:00:00Z", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), http.StatusOK},
		{"?since=-1h", time.Time{}, http.StatusBadRequest},
		{"?since=yesterday", time.Time{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			s, _, hist, _ := newTestServer()
			w := testutil.Serve(s.ServeMux(), testutil.NewDebugRequest(http.MethodGet, "/api/stats"+tt.query, nil))
			testutil.AssertStatusCode(t, w.Code, tt.code)
			if tt.code == http.StatusOK {
				assert.True(t, tt.want.Equal(hist.since), "since = %v, want %v", hist.since, tt.want)
			}
		})
	}
}

func TestShowConfig(t *testing.T) {
	s, _, _, _ := newTestServer()
	w := testutil.Serve(s.ServeMux(), testutil.NewDebugRequest(http.MethodGet, "/api/config", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var body map[string]any
	testutil.DecodeJSON(t, w, &body)
	assert.Equal(t, "20s", body["base_red"])
	assert.Equal(t, "34s", body["max_green"])
	assert.Equal(t, "6.2s", body["minimum_red"])
	assert.Equal(t, false, body["degraded"])
	assert.Equal(t, "1.2s", body["vehicle"].(map[string]any)["red_yellow"])
}

func TestNewConfigView_Degraded(t *testing.T) {
	cfg := crossing.DefaultConfig()
	cfg.BaseRed = 5 * time.Second
	assert.True(t, newConfigView(cfg).Degraded)
}

func TestShowVersion(t *testing.T) {
	s, _, _, _ := newTestServer()
	w := testutil.Serve(s.ServeMux(), testutil.NewDebugRequest(http.MethodGet, "/api/version", nil))
	var info version.Info
	testutil.DecodeJSON(t, w, &info)
	assert.Equal(t, version.Version, info.Version)
}

func TestLoggingMiddleware_PassesThrough(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := testutil.Serve(h, testutil.NewDebugRequest(http.MethodGet, "/api/tram", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusTeapot)
}

func TestStatusCodeColor(t *testing.T) {
	assert.Contains(t, statusCodeColor(200), colorBoldGreen)
	assert.Contains(t, statusCodeColor(302), colorYellow)
	assert.Contains(t, statusCodeColor(404), colorBoldRed)
	assert.Contains(t, statusCodeColor(503), colorBoldRed)
	assert.Equal(t, "100", statusCodeColor(100))
}
