package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/tactiledata/gesture.report/internal/httputil"
	"github.com/tactiledata/gesture.report/internal/touch"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// commitKindColors keeps kind colouring stable across chart reloads.
var commitKindColors = map[touch.CommitKind]string{
	touch.CommitIndexChange: "#35b779",
	touch.CommitRevealOpen:  "#31688e",
	touch.CommitRevealClose: "#6ece58",
	touch.CommitTapExpand:   "#fde725",
	touch.CommitRejected:    "#d62728",
}

// handleSessionScatterChart renders recent sessions as scatter points
// (net horizontal displacement vs release velocity), one series per
// commit kind so the threshold structure is visible at a glance.
// This is a debugging-only endpoint (no auth) to eyeball tuning without
// the full renderer UI.
// Query params:
//   - limit (optional; default 200, max 1000)
func (ws *WebServer) handleSessionScatterChart(w http.ResponseWriter, r *http.Request) {
	if ws.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}

	limit := parseLimit(r, 200, 1000)
	sessions, err := ws.db.RecentSessions(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("get sessions: %v", err))
		return
	}
	if len(sessions) == 0 {
		httputil.NotFound(w, "no sessions recorded")
		return
	}
	commits, err := ws.db.RecentCommits(limit * 2)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("get commits: %v", err))
		return
	}

	// First commit per session decides the series.
	kindBySession := make(map[string]touch.CommitKind, len(commits))
	for i := len(commits) - 1; i >= 0; i-- {
		kindBySession[commits[i].SessionID] = commits[i].Kind
	}

	series := make(map[touch.CommitKind][]opts.ScatterData)
	maxAbsX, maxAbsY := 0.0, 0.0
	for _, s := range sessions {
		kind, ok := kindBySession[s.ID]
		if !ok {
			// Vertical or cancelled sessions never reach a controller
			// resolution; lump them in with rejected.
			kind = touch.CommitRejected
		}
		if math.Abs(s.NetDX) > maxAbsX {
			maxAbsX = math.Abs(s.NetDX)
		}
		if math.Abs(s.ReleaseVX) > maxAbsY {
			maxAbsY = math.Abs(s.ReleaseVX)
		}
		series[kind] = append(series[kind], opts.ScatterData{Value: []interface{}{s.NetDX, s.ReleaseVX}})
	}

	padX := maxAbsX * 1.05
	if padX == 0 {
		padX = 1.0
	}
	padY := maxAbsY * 1.05
	if padY == 0 {
		padY = 1.0
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Gesture Sessions", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Sessions: net dx vs release velocity", Subtitle: fmt.Sprintf("sessions=%d", len(sessions))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -padX, Max: padX, Name: "net dx (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -padY, Max: padY, Name: "release vx (px/ms)", NameLocation: "middle", NameGap: 30}),
	)

	for _, kind := range []touch.CommitKind{touch.CommitIndexChange, touch.CommitRevealOpen, touch.CommitRevealClose, touch.CommitTapExpand, touch.CommitRejected} {
		pts := series[kind]
		if len(pts) == 0 {
			continue
		}
		scatter.AddSeries(string(kind), pts,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: commitKindColors[kind]}),
		)
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleTraceChart renders the recorded motion trace for one element as a
// line chart (position over time, velocity overlaid).
// Query params:
//   - element_id (optional; defaults to the lowest element with samples)
func (ws *WebServer) handleTraceChart(w http.ResponseWriter, r *http.Request) {
	if ws.plotter == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no trace plotter configured")
		return
	}

	var elementID uint32
	if v := r.URL.Query().Get("element_id"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid element_id %q", v))
			return
		}
		elementID = uint32(parsed)
	} else {
		ids := ws.plotter.ElementIDs()
		if len(ids) == 0 {
			httputil.NotFound(w, "no trace samples recorded")
			return
		}
		elementID = ids[0]
	}

	samples := ws.plotter.Samples(elementID)
	if len(samples) == 0 {
		httputil.ElementNotFound(w, elementID, "no trace samples for element")
		return
	}

	t0 := samples[0].TimestampNanos
	xLabels := make([]string, 0, len(samples))
	posData := make([]opts.LineData, 0, len(samples))
	velData := make([]opts.LineData, 0, len(samples))
	for i, s := range samples {
		tMs := float64(s.TimestampNanos-t0) / 1e6
		xLabels = append(xLabels, fmt.Sprintf("%.0f", tMs))
		posData = append(posData, opts.LineData{Value: s.Position})
		vel := 0.0
		if i > 0 {
			dtMs := float64(s.TimestampNanos-samples[i-1].TimestampNanos) / 1e6
			if dtMs > 0 {
				vel = (s.Position - samples[i-1].Position) / dtMs
			}
		}
		velData = append(velData, opts.LineData{Value: vel})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Element Trace", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Element %d motion trace", elementID), Subtitle: fmt.Sprintf("samples=%d", len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (ms)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "px / px/ms"}),
	)
	line.SetXAxis(xLabels).
		AddSeries("position", posData).
		AddSeries("velocity", velData)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render trace chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleThroughputChart renders a simple bar chart of event/commit throughput.
func (ws *WebServer) handleThroughputChart(w http.ResponseWriter, r *http.Request) {
	if ws.stats == nil {
		httputil.NotFound(w, "no event stats available")
		return
	}

	snap := ws.stats.GetLatestSnapshot()
	if snap == nil {
		snap = &StatsSnapshot{Timestamp: time.Now()}
	}

	x := []string{"Events/s", "KB/s", "Commits/s", "Dropped (recent)"}
	y := []opts.BarData{
		{Value: snap.EventsPerSec},
		{Value: snap.BytesPerSec / 1024},
		{Value: snap.CommitsPerSec},
		{Value: snap.DroppedCount},
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Touch Traffic", Subtitle: snap.Timestamp.Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("traffic", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// dashboardHTML is the iframe wrapper for the debug charts.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Touch Debug Dashboard</title>
<style>
body { margin: 0; background: #1b1b1f; color: #e4e4e7; font-family: sans-serif; }
h1 { font-size: 1.2em; padding: 0.5em 1em; margin: 0; }
.grid { display: grid; grid-template-columns: 1fr 1fr; gap: 8px; padding: 8px; }
iframe { width: 100%; height: 640px; border: 1px solid #3f3f46; background: #fff; }
.wide { grid-column: span 2; }
</style>
</head>
<body>
<h1>Touch Debug Dashboard</h1>
<div class="grid">
<iframe src="/debug/charts/sessions"></iframe>
<iframe src="/debug/charts/throughput"></iframe>
<iframe class="wide" src="/debug/charts/trace"></iframe>
</div>
</body>
</html>
`

// handleDebugDashboard renders a simple dashboard with iframes to the debug charts.
func (ws *WebServer) handleDebugDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(dashboardHTML))
}
