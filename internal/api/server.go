// Package api serves the crossing state to renderers and accepts operator
// and estimator input over HTTP.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/crossing.signal/internal/actuator"
	"github.com/banshee-data/crossing.signal/internal/controller"
	"github.com/banshee-data/crossing.signal/internal/crossing"
	"github.com/banshee-data/crossing.signal/internal/db"
	"github.com/banshee-data/crossing.signal/internal/httputil"
	"github.com/banshee-data/crossing.signal/internal/timeutil"
	"github.com/banshee-data/crossing.signal/internal/version"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultStatsWindow is the /api/stats window when no since is given.
const DefaultStatsWindow = 24 * time.Hour

// Controller is the control loop as seen by the API. *controller.Controller
// implements it.
type Controller interface {
	Snapshot() crossing.Snapshot
	Ticks() int64
	Timing() crossing.Config
	TriggerTram() error
	SetSlow(on bool) error
	SetOccupancy(n int) error
}

// History is the recorded event store. *db.DB implements it.
type History interface {
	RecentTransitions(limit int) ([]db.TransitionRecord, error)
	RecentCommands(limit int) ([]db.CommandRecord, error)
	RecentLinkEvents(limit int) ([]db.LinkEventRecord, error)
	GreenCycles(limit int) ([]db.TransitionRecord, error)
	CycleStats(since time.Time) (db.CycleStats, error)
}

// LinkControl is the actuator link as seen by the debug routes.
type LinkControl interface {
	Status() actuator.Status
	Reconnect(ctx context.Context) error
}

type Server struct {
	ctrl    Controller
	history History
	link    LinkControl
	clock   timeutil.Clock
}

// NewServer wires the API. history and link may be nil when recording or the
// actuator link are disabled.
func NewServer(ctrl Controller, history History, link LinkControl, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{
		ctrl:    ctrl,
		history: history,
		link:    link,
		clock:   clock,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration. The
// renderer polls /api/state at frame rate, so successful state reads are not
// logged.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		if r.URL.Path == "/api/state" && lrw.statusCode == http.StatusOK {
			return
		}
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/tram", s.triggerTram)
	mux.HandleFunc("/api/slow", s.setSlow)
	mux.HandleFunc("/api/occupancy", s.setOccupancy)
	mux.HandleFunc("/api/transitions", s.listTransitions)
	mux.HandleFunc("/api/commands", s.listCommands)
	mux.HandleFunc("/api/link-events", s.listLinkEvents)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

// StateResponse is the renderer feed.
type StateResponse struct {
	crossing.Snapshot
	Ticks         int64 `json:"ticks"`
	LinkConnected *bool `json:"link_connected,omitempty"`
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	resp := StateResponse{Snapshot: s.ctrl.Snapshot(), Ticks: s.ctrl.Ticks()}
	if s.link != nil {
		connected := s.link.Status().Connected
		resp.LinkConnected = &connected
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) writeQueued(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		httputil.Accepted(w)
	case errors.Is(err, controller.ErrBusy):
		httputil.ServiceUnavailable(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) triggerTram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	s.writeQueued(w, s.ctrl.TriggerTram())
}

func (s *Server) setSlow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	on, err := strconv.ParseBool(r.URL.Query().Get("on"))
	if err != nil {
		httputil.BadRequest(w, "Invalid 'on' parameter, want true or false")
		return
	}
	s.writeQueued(w, s.ctrl.SetSlow(on))
}

type occupancyRequest struct {
	Count *int `json:"count"`
}

func (s *Server) setOccupancy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	var req occupancyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Count == nil {
		httputil.BadRequest(w, "Missing 'count'")
		return
	}
	// Out-of-range counts are clamped by the coordinator.
	s.writeQueued(w, s.ctrl.SetOccupancy(*req.Count))
}

// historyLimit validates the shared limit parameter of the history routes.
func (s *Server) historyLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return 0, false
	}
	if s.history == nil {
		httputil.ServiceUnavailable(w, "recording is disabled")
		return 0, false
	}
	limit, err := httputil.QueryInt(r, "limit", db.DefaultLimit)
	if err != nil || limit < 1 {
		httputil.BadRequest(w, "Invalid 'limit' parameter")
		return 0, false
	}
	return db.ClampLimit(limit), true
}

func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.historyLimit(w, r)
	if !ok {
		return
	}
	records, err := s.history.RecentTransitions(limit)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve transitions: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, records)
}

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.historyLimit(w, r)
	if !ok {
		return
	}
	records, err := s.history.RecentCommands(limit)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve commands: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, records)
}

func (s *Server) listLinkEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.historyLimit(w, r)
	if !ok {
		return
	}
	records, err := s.history.RecentLinkEvents(limit)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve link events: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, records)
}

// showStats accepts since as RFC 3339 or as a Go duration back from now
// ("6h"). The default window is DefaultStatsWindow.
func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.history == nil {
		httputil.ServiceUnavailable(w, "recording is disabled")
		return
	}
	since, err := s.parseSince(r.URL.Query().Get("since"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	stats, err := s.history.CycleStats(since)
	if err != nil {
		httputil.InternalServerError(w, "Failed to compute stats: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, stats)
}

func (s *Server) parseSince(v string) (time.Time, error) {
	now := s.clock.Now()
	if v == "" {
		return now.Add(-DefaultStatsWindow), nil
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errors.New("Invalid 'since' parameter, want RFC 3339 time or positive duration")
	}
	return t, nil
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, newConfigView(s.ctrl.Timing()))
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, version.Get())
}
