package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tactiledata/gesture.report/internal/db"
	"github.com/tactiledata/gesture.report/internal/timeutil"
	"github.com/tactiledata/gesture.report/internal/touch"
	"github.com/tactiledata/gesture.report/internal/touch/l1events"
	"github.com/tactiledata/gesture.report/internal/touch/pipeline"
	"github.com/tactiledata/gesture.report/internal/touch/recorder"
)

func newTestEngine(t *testing.T) *pipeline.Engine {
	t.Helper()
	eng, err := pipeline.NewEngine(pipeline.EngineConfig{Tunables: touch.DefaultTunables()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := eng.RegisterCarousel(1, pipeline.CarouselParams{Count: 3, CardOffsetPx: 260}); err != nil {
		t.Fatalf("RegisterCarousel: %v", err)
	}
	return eng
}

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.OpenAndMigrate(filepath.Join(t.TempDir(), "telemetry.db"))
	if err != nil {
		t.Fatalf("OpenAndMigrate: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestNewWebServer(t *testing.T) {
	stats := NewEventStats()
	server := NewWebServer(WebServerConfig{
		Address: ":0",
		Stats:   stats,
		UDPPort: 9000,
		Source:  "udp",
	})

	if server == nil {
		t.Fatal("NewWebServer returned nil")
	}
	if server.stats != stats {
		t.Error("WebServer stats not set correctly")
	}
	if server.udpPort != 9000 {
		t.Error("WebServer udpPort not set correctly")
	}
	if server.clock == nil {
		t.Error("WebServer clock not defaulted")
	}
}

func TestWebServer_StatusHandler(t *testing.T) {
	stats := NewEventStats()
	stats.AddEvent(28)
	stats.AddCommits(1)
	stats.LogStats()

	server := NewWebServer(WebServerConfig{
		Address: ":0",
		Stats:   stats,
		Engine:  newTestEngine(t),
		UDPPort: 9000,
		Source:  "udp",
	})

	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Touch Engine Status") {
		t.Error("status page missing title")
	}
	if !strings.Contains(body, "carousel") {
		t.Error("status page missing registered element")
	}
}

func TestWebServer_StatusHandlerNotFound(t *testing.T) {
	server := NewWebServer(WebServerConfig{Address: ":0", Stats: NewEventStats()})
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, httptest.NewRequest("GET", "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestWebServer_HealthHandler(t *testing.T) {
	server := NewWebServer(WebServerConfig{Address: ":0", Stats: NewEventStats()})
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("health response not JSON: %v", err)
	}
	if resp["status"] != "ok" || resp["service"] != "touch" {
		t.Errorf("health response = %v", resp)
	}
}

func TestWebServer_ConfigGetAndPost(t *testing.T) {
	eng := newTestEngine(t)
	server := NewWebServer(WebServerConfig{Address: ":0", Stats: NewEventStats(), Engine: eng})
	mux := server.setupRoutes()

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", "/api/touch/config", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET config = %d, want 200", rr.Code)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if got["dead_zone_px"].(float64) != 10 {
		t.Errorf("dead_zone_px = %v, want 10", got["dead_zone_px"])
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("POST", "/api/touch/config",
		strings.NewReader(`{"dead_zone_px": 20, "drag_threshold_px": 75}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("POST config = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	tun := eng.Tunables()
	if tun.DeadZonePx != 20 || tun.DragThresholdPx != 75 {
		t.Errorf("tunables after POST = %+v", tun)
	}
	// Untouched fields keep their values.
	if tun.FlickVelocityThreshold != 0.3 {
		t.Errorf("flick threshold changed: %v", tun.FlickVelocityThreshold)
	}
}

func TestWebServer_ConfigPostInvalid(t *testing.T) {
	eng := newTestEngine(t)
	server := NewWebServer(WebServerConfig{Address: ":0", Stats: NewEventStats(), Engine: eng})

	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, httptest.NewRequest("POST", "/api/touch/config",
		strings.NewReader(`{"dead_zone_px": -5}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("POST invalid config = %d, want 400", rr.Code)
	}
	if eng.Tunables().DeadZonePx != 10 {
		t.Error("invalid update mutated tunables")
	}
}

func TestWebServer_ConfigWithoutEngine(t *testing.T) {
	server := NewWebServer(WebServerConfig{Address: ":0", Stats: NewEventStats()})
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, httptest.NewRequest("GET", "/api/touch/config", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("GET config without engine = %d, want 503", rr.Code)
	}
}

func TestWebServer_SessionsAndCommits(t *testing.T) {
	d := newTestDB(t)
	if err := d.PersistSession(touch.SessionRecord{
		ID: "s-1", ElementID: 1, StartNanos: 1000, EndNanos: 2000,
		Samples: 5, AxisLock: touch.AxisHorizontal, NetDX: -80, ReleaseVX: -0.4,
	}); err != nil {
		t.Fatal(err)
	}
	if err := d.PersistCommit(touch.CommitRecord{
		SessionID: "s-1", ElementID: 1, TimestampNanos: 2000,
		Kind: touch.CommitIndexChange, FromIndex: 0, ToIndex: 1, Velocity: -0.4,
	}); err != nil {
		t.Fatal(err)
	}

	server := NewWebServer(WebServerConfig{Address: ":0", Stats: NewEventStats(), DB: d})
	mux := server.setupRoutes()

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", "/api/touch/sessions", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET sessions = %d", rr.Code)
	}
	var sessions []map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0]["id"] != "s-1" || sessions[0]["axis_lock"] != "horizontal" {
		t.Errorf("sessions = %v", sessions)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", "/api/touch/commits?session_id=s-1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET commits = %d", rr.Code)
	}
	var commits []map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &commits); err != nil {
		t.Fatalf("decode commits: %v", err)
	}
	if len(commits) != 1 || commits[0]["kind"] != "index_change" {
		t.Errorf("commits = %v", commits)
	}
}

func TestWebServer_SessionsVelocityUnits(t *testing.T) {
	d := newTestDB(t)
	if err := d.PersistSession(touch.SessionRecord{
		ID: "s-1", ElementID: 1, StartNanos: 1000, EndNanos: 2000,
		Samples: 5, AxisLock: touch.AxisHorizontal, NetDX: -80, ReleaseVX: -0.4,
	}); err != nil {
		t.Fatal(err)
	}
	server := NewWebServer(WebServerConfig{Address: ":0", Stats: NewEventStats(), DB: d})
	mux := server.setupRoutes()

	get := func(url string) []map[string]interface{} {
		t.Helper()
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest("GET", url, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("GET %s = %d", url, rr.Code)
		}
		var sessions []map[string]interface{}
		if err := json.Unmarshal(rr.Body.Bytes(), &sessions); err != nil {
			t.Fatalf("decode sessions: %v", err)
		}
		if len(sessions) != 1 {
			t.Fatalf("got %d sessions, want 1", len(sessions))
		}
		return sessions
	}

	// Native px/ms by default.
	s := get("/api/touch/sessions")[0]
	if s["release_vx"] != -0.4 || s["velocity_unit"] != "px/ms" {
		t.Errorf("default units: vx=%v unit=%v", s["release_vx"], s["velocity_unit"])
	}

	s = get("/api/touch/sessions?vunit=px/s")[0]
	if s["release_vx"] != -400.0 || s["velocity_unit"] != "px/s" {
		t.Errorf("px/s: vx=%v unit=%v", s["release_vx"], s["velocity_unit"])
	}

	// 2 px per dp halves the dp/s magnitude.
	s = get("/api/touch/sessions?vunit=dp/s&density=2")[0]
	if s["release_vx"] != -200.0 || s["velocity_unit"] != "dp/s" {
		t.Errorf("dp/s: vx=%v unit=%v", s["release_vx"], s["velocity_unit"])
	}

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", "/api/touch/sessions?vunit=furlongs", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad vunit = %d, want 400", rr.Code)
	}
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", "/api/touch/sessions?vunit=dp/s&density=0", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad density = %d, want 400", rr.Code)
	}
}

func TestWebServer_SessionsWithoutDB(t *testing.T) {
	server := NewWebServer(WebServerConfig{Address: ":0", Stats: NewEventStats()})
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, httptest.NewRequest("GET", "/api/touch/sessions", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("GET sessions without DB = %d, want 503", rr.Code)
	}
}

func TestWebServer_StatsHandler(t *testing.T) {
	stats := NewEventStats()
	stats.AddEvent(28)
	stats.LogStats()

	server := NewWebServer(WebServerConfig{Address: ":0", Stats: stats, Engine: newTestEngine(t), DB: newTestDB(t)})
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, httptest.NewRequest("GET", "/api/touch/stats", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("GET stats = %d", rr.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if _, ok := resp["engine"]; !ok {
		t.Error("stats response missing engine counters")
	}
	if _, ok := resp["events_per_sec"]; !ok {
		t.Error("stats response missing throughput")
	}
}

func TestWebServer_SnapshotHandler(t *testing.T) {
	server := NewWebServer(WebServerConfig{Address: ":0", Stats: NewEventStats(), Engine: newTestEngine(t)})
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, httptest.NewRequest("GET", "/api/touch/snapshot", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("GET snapshot = %d", rr.Code)
	}
	var frame pipeline.FrameSnapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &frame); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(frame.Elements) != 1 || frame.Elements[0].Kind != pipeline.KindCarousel {
		t.Errorf("snapshot = %+v", frame)
	}
}

func TestWebServer_ReplayValidation(t *testing.T) {
	server := NewWebServer(WebServerConfig{
		Address:   ":0",
		Stats:     NewEventStats(),
		Engine:    newTestEngine(t),
		ReplayDir: t.TempDir(),
	})
	mux := server.setupRoutes()

	cases := []struct {
		name string
		url  string
		want int
	}{
		{"missing file", "/api/touch/replay", http.StatusBadRequest},
		{"traversal", "/api/touch/replay?file=../../etc/passwd", http.StatusBadRequest},
		{"bad rate", "/api/touch/replay?file=x.tglog&rate=0", http.StatusBadRequest},
		{"missing log", "/api/touch/replay?file=x.tglog", http.StatusNotFound},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest("POST", tc.url, nil))
		if rr.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, rr.Code, tc.want)
		}
	}

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", "/api/touch/replay", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET replay = %d, want 405", rr.Code)
	}
}

func TestWebServer_ReplayFeedsEngine(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "swipe"+recorder.FileExtension)
	rec, err := recorder.NewRecorder(logPath, "test", 1080, 1920, 2.0)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	base := time.Now().UnixNano()
	for i := 0; i < 5; i++ {
		phase := l1events.PhaseMove
		if i == 0 {
			phase = l1events.PhaseStart
		} else if i == 4 {
			phase = l1events.PhaseEnd
		}
		ev := l1events.PointerEvent{
			ElementID: 1, PointerID: 7, Phase: phase,
			X: 500 - float64(i)*20, Y: 300, TimestampNanos: base + int64(i)*8e6,
		}
		if err := rec.Record(ev); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	eng := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	server := NewWebServer(WebServerConfig{
		Address:   ":0",
		Stats:     NewEventStats(),
		Engine:    eng,
		ReplayDir: dir,
		Clock:     timeutil.NewMockClock(time.Now()),
	})

	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, httptest.NewRequest("POST", "/api/touch/replay?file=swipe"+recorder.FileExtension, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("POST replay = %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode replay response: %v", err)
	}
	if resp["total_events"].(float64) != 5 {
		t.Errorf("total_events = %v, want 5", resp["total_events"])
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if eng.Stats().EventsIn >= 5 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("engine saw %d events, want 5", eng.Stats().EventsIn)
}

func TestWebServer_StartShutsDownOnCancel(t *testing.T) {
	server := NewWebServer(WebServerConfig{Address: "127.0.0.1:0", Stats: NewEventStats()})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after context cancel")
	}
}
