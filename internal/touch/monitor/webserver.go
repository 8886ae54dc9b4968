package monitor

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tactiledata/gesture.report/internal/db"
	"github.com/tactiledata/gesture.report/internal/httputil"
	"github.com/tactiledata/gesture.report/internal/security"
	"github.com/tactiledata/gesture.report/internal/timeutil"
	"github.com/tactiledata/gesture.report/internal/touch"
	"github.com/tactiledata/gesture.report/internal/touch/l1events"
	"github.com/tactiledata/gesture.report/internal/touch/pipeline"
	"github.com/tactiledata/gesture.report/internal/touch/recorder"
	"github.com/tactiledata/gesture.report/internal/units"
	"github.com/tactiledata/gesture.report/internal/version"
)

//go:embed status.html
var StatusHTML embed.FS

// WebServer handles the HTTP interface for monitoring the touch engine.
// It provides endpoints for health checks, live tunables, telemetry
// queries, debug charts and session log replay.
type WebServer struct {
	address   string
	stats     *EventStats
	server    *http.Server
	engine    *pipeline.Engine
	db        *db.DB
	plotter   *TracePlotter
	udpPort   int
	source    string
	replayDir string
	clock     timeutil.Clock

	replayMu     sync.Mutex
	replayActive bool
	replayCancel context.CancelFunc
}

// WebServerConfig contains configuration options for the web server
type WebServerConfig struct {
	Address   string
	Stats     *EventStats
	Engine    *pipeline.Engine
	DB        *db.DB
	Plotter   *TracePlotter
	UDPPort   int
	Source    string
	ReplayDir string
	Clock     timeutil.Clock
}

// NewWebServer creates a new web server with the provided configuration
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:   config.Address,
		stats:     config.Stats,
		engine:    config.Engine,
		db:        config.DB,
		plotter:   config.Plotter,
		udpPort:   config.UDPPort,
		source:    config.Source,
		replayDir: config.ReplayDir,
		clock:     config.Clock,
	}
	if ws.clock == nil {
		ws.clock = timeutil.RealClock{}
	}

	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}

	return ws
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		touch.Opsf("starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			touch.Opsf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	touch.Opsf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		touch.Opsf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			touch.Opsf("HTTP server force close error: %v", err)
		}
	}

	touch.Opsf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/touch/config", ws.handleConfig)
	mux.HandleFunc("/api/touch/sessions", ws.handleSessions)
	mux.HandleFunc("/api/touch/commits", ws.handleCommits)
	mux.HandleFunc("/api/touch/stats", ws.handleStats)
	mux.HandleFunc("/api/touch/snapshot", ws.handleSnapshot)
	mux.HandleFunc("/api/touch/replay", ws.handleReplay)
	mux.HandleFunc("/debug/charts", ws.handleDebugDashboard)
	mux.HandleFunc("/debug/charts/sessions", ws.handleSessionScatterChart)
	mux.HandleFunc("/debug/charts/trace", ws.handleTraceChart)
	mux.HandleFunc("/debug/charts/throughput", ws.handleThroughputChart)

	if ws.db != nil {
		ws.db.AttachDebugRoutes(mux)
	}

	return mux
}

// handleHealth handles the health check endpoint
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "touch", "version": "%s", "timestamp": "%s"}`,
		version.Version, time.Now().UTC().Format(time.RFC3339))
}

// handleStatus handles the main status page endpoint
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	tmpl, err := template.ParseFS(StatusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var tunables *touch.Tunables
	var elements []pipeline.ElementSnapshot
	if ws.engine != nil {
		t := ws.engine.Tunables()
		tunables = &t
		elements = ws.engine.Snapshot().Elements
	}

	sessionCount := 0
	if ws.db != nil {
		if n, err := ws.db.SessionCount(); err == nil {
			sessionCount = n
		}
	}

	data := struct {
		UDPPort      int
		HTTPAddress  string
		Source       string
		Uptime       string
		Stats        *StatsSnapshot
		Tunables     *touch.Tunables
		Elements     []pipeline.ElementSnapshot
		SessionCount string
	}{
		UDPPort:      ws.udpPort,
		HTTPAddress:  ws.address,
		Source:       ws.source,
		Uptime:       ws.stats.GetUptime().Round(time.Second).String(),
		Stats:        ws.stats.GetLatestSnapshot(),
		Tunables:     tunables,
		Elements:     elements,
		SessionCount: FormatWithCommas(int64(sessionCount)),
	}

	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

// tunablesJSON is the wire form of the live tunables. POST bodies use
// pointer fields so absent keys leave the current value untouched.
type tunablesJSON struct {
	DeadZonePx             *float64 `json:"dead_zone_px,omitempty"`
	DragThresholdPx        *float64 `json:"drag_threshold_px,omitempty"`
	FlickVelocityThreshold *float64 `json:"flick_velocity_threshold,omitempty"`
	SpringTension          *float64 `json:"spring_tension,omitempty"`
	SpringFriction         *float64 `json:"spring_friction,omitempty"`
	VelocityWindowMs       *float64 `json:"velocity_window_ms,omitempty"`
	SessionTimeoutMs       *float64 `json:"session_timeout_ms,omitempty"`
	FrameRate              *int     `json:"frame_rate,omitempty"`
}

func tunablesResponse(t touch.Tunables) map[string]interface{} {
	return map[string]interface{}{
		"dead_zone_px":             t.DeadZonePx,
		"drag_threshold_px":        t.DragThresholdPx,
		"flick_velocity_threshold": t.FlickVelocityThreshold,
		"spring_tension":           t.SpringTension,
		"spring_friction":          t.SpringFriction,
		"velocity_window_ms":       float64(t.VelocityWindow) / float64(time.Millisecond),
		"session_timeout_ms":       float64(t.SessionTimeout) / float64(time.Millisecond),
		"frame_rate":               t.FrameRate,
	}
}

// handleConfig returns (GET) or updates (POST) the engine's live tunables.
// Updates are validated as a whole; an invalid combination leaves the
// running configuration unchanged.
func (ws *WebServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if ws.engine == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no engine configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, tunablesResponse(ws.engine.Tunables()))

	case http.MethodPost:
		var req tunablesJSON
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("decode body: %v", err))
			return
		}
		err := ws.engine.UpdateTunables(func(t *touch.Tunables) {
			if req.DeadZonePx != nil {
				t.DeadZonePx = *req.DeadZonePx
			}
			if req.DragThresholdPx != nil {
				t.DragThresholdPx = *req.DragThresholdPx
			}
			if req.FlickVelocityThreshold != nil {
				t.FlickVelocityThreshold = *req.FlickVelocityThreshold
			}
			if req.SpringTension != nil {
				t.SpringTension = *req.SpringTension
			}
			if req.SpringFriction != nil {
				t.SpringFriction = *req.SpringFriction
			}
			if req.VelocityWindowMs != nil {
				t.VelocityWindow = time.Duration(*req.VelocityWindowMs * float64(time.Millisecond))
			}
			if req.SessionTimeoutMs != nil {
				t.SessionTimeout = time.Duration(*req.SessionTimeoutMs * float64(time.Millisecond))
			}
			if req.FrameRate != nil {
				t.FrameRate = *req.FrameRate
			}
		})
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid tunables: %v", err))
			return
		}
		touch.Opsf("tunables updated via config API")
		httputil.WriteJSONOK(w, tunablesResponse(ws.engine.Tunables()))

	default:
		httputil.MethodNotAllowed(w)
	}
}

func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= max {
			limit = v
		}
	}
	return limit
}

// handleSessions returns a JSON array of recent gesture sessions.
// Query params:
//
//	limit (optional, default 50, max 1000)
//	vunit (optional: px/ms, px/s or dp/s; release velocities are
//	       converted from the engine's native px/ms)
//	density (optional px-per-dp scale for dp/s, default 1.0)
func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}

	vunit := r.URL.Query().Get("vunit")
	if vunit == "" {
		vunit = units.PxPerMs
	}
	if !units.IsValidVelocityUnit(vunit) {
		httputil.BadRequest(w, fmt.Sprintf("invalid vunit %q (want one of %s)",
			vunit, strings.Join(units.ValidVelocityUnits, ", ")))
		return
	}
	density := units.DefaultDensity
	if v := r.URL.Query().Get("density"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid density %q", v))
			return
		}
		density = parsed
	}

	sessions, err := ws.db.RecentSessions(parseLimit(r, 50, 1000))
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("get recent sessions: %v", err))
		return
	}

	type SessionSummary struct {
		ID           string  `json:"id"`
		ElementID    uint32  `json:"element_id"`
		Start        string  `json:"start"`
		DurationMs   float64 `json:"duration_ms"`
		Samples      int     `json:"samples"`
		AxisLock     string  `json:"axis_lock"`
		NetDX        float64 `json:"net_dx"`
		NetDY        float64 `json:"net_dy"`
		ReleaseVX    float64 `json:"release_vx"`
		ReleaseVY    float64 `json:"release_vy"`
		VelocityUnit string  `json:"velocity_unit"`
		Cancelled    bool    `json:"cancelled"`
	}
	summaries := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		vx, err := units.ConvertVelocity(s.ReleaseVX, units.PxPerMs, vunit, density)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("convert velocity: %v", err))
			return
		}
		vy, _ := units.ConvertVelocity(s.ReleaseVY, units.PxPerMs, vunit, density)
		summaries = append(summaries, SessionSummary{
			ID:           s.ID,
			ElementID:    s.ElementID,
			Start:        time.Unix(0, s.StartNanos).UTC().Format(time.RFC3339Nano),
			DurationMs:   float64(s.Duration()) / float64(time.Millisecond),
			Samples:      s.Samples,
			AxisLock:     string(s.AxisLock),
			NetDX:        s.NetDX,
			NetDY:        s.NetDY,
			ReleaseVX:    vx,
			ReleaseVY:    vy,
			VelocityUnit: vunit,
			Cancelled:    s.Cancelled,
		})
	}
	httputil.WriteJSONOK(w, summaries)
}

// handleCommits returns a JSON array of recent commits, optionally
// filtered to one session.
// Query params:
//
//	session_id (optional)
//	limit (optional, default 50, max 1000; ignored with session_id)
func (ws *WebServer) handleCommits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}

	var commits []touch.CommitRecord
	var err error
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		commits, err = ws.db.CommitsForSession(sessionID)
	} else {
		commits, err = ws.db.RecentCommits(parseLimit(r, 50, 1000))
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("get commits: %v", err))
		return
	}

	type CommitSummary struct {
		SessionID string  `json:"session_id"`
		ElementID uint32  `json:"element_id"`
		Timestamp string  `json:"timestamp"`
		Kind      string  `json:"kind"`
		FromIndex int     `json:"from_index"`
		ToIndex   int     `json:"to_index"`
		Position  float64 `json:"position"`
		Velocity  float64 `json:"velocity"`
	}
	summaries := make([]CommitSummary, 0, len(commits))
	for _, c := range commits {
		summaries = append(summaries, CommitSummary{
			SessionID: c.SessionID,
			ElementID: c.ElementID,
			Timestamp: time.Unix(0, c.TimestampNanos).UTC().Format(time.RFC3339Nano),
			Kind:      string(c.Kind),
			FromIndex: c.FromIndex,
			ToIndex:   c.ToIndex,
			Position:  c.Position,
			Velocity:  c.Velocity,
		})
	}
	httputil.WriteJSONOK(w, summaries)
}

// handleStats returns engine counters, ingest throughput and commit kind
// totals in one document.
func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	resp := map[string]interface{}{
		"uptime": ws.stats.GetUptime().Round(time.Second).String(),
	}
	if snap := ws.stats.GetLatestSnapshot(); snap != nil {
		resp["events_per_sec"] = snap.EventsPerSec
		resp["bytes_per_sec"] = snap.BytesPerSec
		resp["commits_per_sec"] = snap.CommitsPerSec
		resp["dropped_recent"] = snap.DroppedCount
	}
	if ws.engine != nil {
		resp["engine"] = ws.engine.Stats()
	}
	if ws.db != nil {
		if counts, err := ws.db.CommitKindCounts(); err == nil {
			kinds := make(map[string]int, len(counts))
			for k, n := range counts {
				kinds[string(k)] = n
			}
			resp["commit_kinds"] = kinds
		}
	}

	httputil.WriteJSONOK(w, resp)
}

// handleSnapshot returns the engine's current per-element frame values.
func (ws *WebServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.engine == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no engine configured")
		return
	}
	httputil.WriteJSONOK(w, ws.engine.Snapshot())
}

// resolveReplayPath maps the `file` parameter onto the configured replay
// directory. Path traversal outside the directory is rejected.
func (ws *WebServer) resolveReplayPath(file string) (string, error) {
	if ws.replayDir == "" {
		return "", fmt.Errorf("no replay directory configured")
	}
	if file == "" {
		return "", fmt.Errorf("missing 'file' parameter")
	}
	cleaned := filepath.Clean(file)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("invalid replay file %q", file)
	}
	path := filepath.Join(ws.replayDir, cleaned)
	if err := security.ValidatePathWithinDirectory(path, ws.replayDir); err != nil {
		return "", fmt.Errorf("invalid replay file %q: %w", file, err)
	}
	return path, nil
}

// handleReplay starts feeding a recorded session log into the engine.
// Expects POST with query params:
//
//	file (required) - log name relative to the replay directory
//	rate (optional, default 1.0)
//
// Only one replay runs at a time; a second request gets 409. DELETE
// cancels the active replay.
func (ws *WebServer) handleReplay(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodDelete:
		ws.replayMu.Lock()
		if ws.replayCancel != nil {
			ws.replayCancel()
		}
		ws.replayMu.Unlock()
		httputil.WriteJSONOK(w, map[string]string{"status": "cancelled"})
		return
	case http.MethodPost:
	default:
		httputil.MethodNotAllowed(w)
		return
	}

	if ws.engine == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no engine configured")
		return
	}

	path, err := ws.resolveReplayPath(r.URL.Query().Get("file"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	rate := 1.0
	if v := r.URL.Query().Get("rate"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid rate %q", v))
			return
		}
		rate = parsed
	}

	rep, err := recorder.NewReplayer(path)
	if err != nil {
		httputil.NotFound(w, fmt.Sprintf("open log: %v", err))
		return
	}
	rep.SetRate(rate)

	ws.replayMu.Lock()
	if ws.replayActive {
		ws.replayMu.Unlock()
		httputil.WriteJSONError(w, http.StatusConflict, "replay already in progress")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	ws.replayActive = true
	ws.replayCancel = cancel
	ws.replayMu.Unlock()

	go func() {
		defer func() {
			cancel()
			ws.replayMu.Lock()
			ws.replayActive = false
			ws.replayCancel = nil
			ws.replayMu.Unlock()
		}()
		err := rep.Replay(ctx, ws.clock, func(ev l1events.PointerEvent) {
			ws.engine.Feed(ev)
			if ws.stats != nil {
				ws.stats.AddEvent(l1events.DatagramSize)
			}
		})
		if err != nil && err != context.Canceled {
			touch.Opsf("replay of %s failed: %v", path, err)
		} else {
			touch.Opsf("replay of %s finished", path)
		}
	}()

	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":       "started",
		"file":         path,
		"rate":         rate,
		"total_events": rep.TotalEvents(),
	})
}

// Close shuts down the web server
func (ws *WebServer) Close() error {
	if ws.server != nil {
		return ws.server.Close()
	}
	return nil
}
