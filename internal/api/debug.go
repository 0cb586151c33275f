package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/crossing.signal/internal/db"
	"github.com/banshee-data/crossing.signal/internal/httputil"
)

// ReconnectTimeout bounds an operator-triggered reconnect.
const ReconnectTimeout = 10 * time.Second

// AttachAdminRoutes mounts the link and cycle debug pages under /debug/.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	if s.link != nil {
		debug.HandleFunc("link", "Actuator link status", s.showLinkStatus)
		debug.HandleSilentFunc("link-reconnect", s.reconnectLink)
	}
	if s.history != nil {
		debug.HandleFunc("cycles", "Chart of recent green phases", s.showCyclesChart)
	}
}

func (s *Server) showLinkStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.link.Status())
}

func (s *Server) reconnectLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), ReconnectTimeout)
	defer cancel()
	if err := s.link.Reconnect(ctx); err != nil {
		httputil.WriteJSONError(w, http.StatusBadGateway, fmt.Sprintf("Reconnect failed: %v", err))
		return
	}
	httputil.WriteJSONOK(w, s.link.Status())
}

// showCyclesChart plots the total and occupancy of the latest GREEN phases.
// Query params:
//   - limit (optional; default db.DefaultLimit)
func (s *Server) showCyclesChart(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.QueryInt(r, "limit", db.DefaultLimit)
	if err != nil || limit < 1 {
		httputil.BadRequest(w, "Invalid 'limit' parameter")
		return
	}
	cycles, err := s.history.GreenCycles(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve cycles: %v", err))
		return
	}

	x := make([]string, 0, len(cycles))
	totals := make([]opts.LineData, 0, len(cycles))
	occupancy := make([]opts.BarData, 0, len(cycles))
	for _, c := range cycles {
		x = append(x, c.At.Local().Format("15:04:05"))
		totals = append(totals, opts.LineData{Value: float64(c.TotalMS) / 1000})
		occupancy = append(occupancy, opts.BarData{Value: c.Occupancy})
	}

	timing := s.ctrl.Timing()
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Green phase length",
			Subtitle: fmt.Sprintf("cycles=%d base=%s max=%s", len(cycles), timing.BaseGreen, timing.MaxGreen),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds", Min: 0, Max: timing.MaxGreen.Seconds()}),
	)
	line.SetXAxis(x).AddSeries("green", totals, charts.WithLineChartOpts(opts.LineChart{Step: "end"}))

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Occupancy at green"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "people", Min: 0, Max: timing.MaxPersonCap}),
	)
	bar.SetXAxis(x).AddSeries("occupancy", occupancy)

	page := components.NewPage()
	page.SetPageTitle("Crossing cycles")
	page.AddCharts(line, bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
