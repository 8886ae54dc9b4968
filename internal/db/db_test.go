package db

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/tactiledata/gesture.report/internal/touch"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := OpenAndMigrate(filepath.Join(t.TempDir(), "telemetry.db"))
	if err != nil {
		t.Fatalf("OpenAndMigrate: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func sampleSession(id string, element uint32) touch.SessionRecord {
	return touch.SessionRecord{
		ID:         id,
		ElementID:  element,
		StartNanos: 1000,
		EndNanos:   250_000_000,
		Samples:    31,
		AxisLock:   touch.AxisHorizontal,
		NetDX:      -82.5,
		NetDY:      3.25,
		ReleaseVX:  -0.41,
		ReleaseVY:  0.01,
	}
}

func TestPersistAndReadBackSession(t *testing.T) {
	d := openTestDB(t)

	want := sampleSession("s-1", 3)
	if err := d.PersistSession(want); err != nil {
		t.Fatalf("PersistSession: %v", err)
	}
	cancelled := sampleSession("s-2", 3)
	cancelled.Cancelled = true
	cancelled.AxisLock = touch.AxisNone
	cancelled.EndNanos = 300_000_000
	if err := d.PersistSession(cancelled); err != nil {
		t.Fatalf("PersistSession cancelled: %v", err)
	}

	got, err := d.RecentSessions(10)
	if err != nil {
		t.Fatalf("RecentSessions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d sessions, want 2", len(got))
	}
	// Newest first.
	if got[0].ID != "s-2" || !got[0].Cancelled {
		t.Errorf("newest session = %+v, want cancelled s-2", got[0])
	}
	if got[1] != want {
		t.Errorf("session = %+v, want %+v", got[1], want)
	}

	if n, err := d.SessionCount(); err != nil || n != 2 {
		t.Errorf("SessionCount = %d, %v; want 2", n, err)
	}
}

func TestDuplicateSessionIDRejected(t *testing.T) {
	d := openTestDB(t)
	if err := d.PersistSession(sampleSession("dup", 1)); err != nil {
		t.Fatal(err)
	}
	if err := d.PersistSession(sampleSession("dup", 1)); err == nil {
		t.Error("duplicate session ID accepted")
	}
}

func TestPersistAndQueryCommits(t *testing.T) {
	d := openTestDB(t)

	commits := []touch.CommitRecord{
		{SessionID: "s-1", ElementID: 1, TimestampNanos: 100, Kind: touch.CommitIndexChange, FromIndex: 0, ToIndex: 1, Position: -80, Velocity: -0.4},
		{SessionID: "s-2", ElementID: 2, TimestampNanos: 200, Kind: touch.CommitRevealOpen, Position: -130, Velocity: -0.1},
		{SessionID: "s-3", ElementID: 1, TimestampNanos: 300, Kind: touch.CommitRejected, Position: -20},
		{SessionID: "s-1", ElementID: 1, TimestampNanos: 400, Kind: touch.CommitIndexChange, FromIndex: 1, ToIndex: 2},
	}
	for _, c := range commits {
		if err := d.PersistCommit(c); err != nil {
			t.Fatalf("PersistCommit: %v", err)
		}
	}

	recent, err := d.RecentCommits(2)
	if err != nil {
		t.Fatalf("RecentCommits: %v", err)
	}
	if len(recent) != 2 || recent[0].TimestampNanos != 400 || recent[1].TimestampNanos != 300 {
		t.Errorf("recent commits = %+v, want ts 400 then 300", recent)
	}

	bySession, err := d.CommitsForSession("s-1")
	if err != nil {
		t.Fatalf("CommitsForSession: %v", err)
	}
	if len(bySession) != 2 || bySession[0].TimestampNanos != 100 {
		t.Errorf("session commits = %+v, want 2 in time order", bySession)
	}
	if bySession[1].ToIndex != 2 {
		t.Errorf("second commit ToIndex = %d, want 2", bySession[1].ToIndex)
	}

	counts, err := d.CommitKindCounts()
	if err != nil {
		t.Fatalf("CommitKindCounts: %v", err)
	}
	if counts[touch.CommitIndexChange] != 2 || counts[touch.CommitRevealOpen] != 1 || counts[touch.CommitRejected] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestMigrateVersionAndDown(t *testing.T) {
	d := openTestDB(t)

	version, dirty, err := d.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if dirty || version == 0 {
		t.Errorf("version = %d dirty = %v, want applied and clean", version, dirty)
	}

	if err := d.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	if err := d.PersistSession(sampleSession("s", 1)); err == nil {
		t.Error("insert succeeded after schema rollback")
	}
	if err := d.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp after down: %v", err)
	}
	if err := d.PersistSession(sampleSession("s", 1)); err != nil {
		t.Errorf("insert after re-migrate: %v", err)
	}
}

func TestMigrateUpIdempotent(t *testing.T) {
	d := openTestDB(t)
	if err := d.MigrateUp(); err != nil {
		t.Fatalf("second MigrateUp: %v", err)
	}
}

func TestAttachDebugRoutes(t *testing.T) {
	d := openTestDB(t)
	mux := http.NewServeMux()
	d.AttachDebugRoutes(mux)

	req := httptest.NewRequest("GET", "/debug/", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("GET /debug/ = %d, want 200", rr.Code)
	}
}
