// Package db persists gesture telemetry (session summaries and commit
// outcomes) in a SQLite database, and exposes the admin debug surface
// (live SQL console, backup download) over HTTP.
//
// The interaction engine never reads this data; it exists for tuning and
// product analysis, fed through the pipeline's persistence sink.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/tactiledata/gesture.report/internal/touch"
)

// DB wraps the SQLite connection with the telemetry store methods.
type DB struct {
	*sql.DB
	path string
}

// Open opens (or creates) the database at path and applies the
// connection pragmas. It does not run migrations; call MigrateUp, or use
// OpenAndMigrate.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	// WAL keeps the monitor's reads from blocking the dispatch-side
	// writes; the busy timeout covers the rest.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// OpenAndMigrate opens the database and applies all pending migrations.
func OpenAndMigrate(path string) (*DB, error) {
	d, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := d.MigrateUp(); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate %q: %w", path, err)
	}
	return d, nil
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// PersistSession inserts one session summary. Together with
// PersistCommit it satisfies the pipeline's persistence sink.
func (d *DB) PersistSession(rec touch.SessionRecord) error {
	_, err := d.Exec(`
		INSERT INTO gesture_sessions (
			id, element_id, start_ns, end_ns, sample_count, axis_lock,
			net_dx, net_dy, release_vx, release_vy, cancelled
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ElementID, rec.StartNanos, rec.EndNanos, rec.Samples,
		string(rec.AxisLock), rec.NetDX, rec.NetDY, rec.ReleaseVX, rec.ReleaseVY,
		boolToInt(rec.Cancelled),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", rec.ID, err)
	}
	return nil
}

// PersistCommit inserts one commit outcome.
func (d *DB) PersistCommit(rec touch.CommitRecord) error {
	_, err := d.Exec(`
		INSERT INTO gesture_commits (
			session_id, element_id, ts_ns, kind,
			from_index, to_index, position, velocity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.ElementID, rec.TimestampNanos, string(rec.Kind),
		rec.FromIndex, rec.ToIndex, rec.Position, rec.Velocity,
	)
	if err != nil {
		return fmt.Errorf("insert commit for element %d: %w", rec.ElementID, err)
	}
	return nil
}

// RecentSessions returns the newest limit session summaries, newest
// first.
func (d *DB) RecentSessions(limit int) ([]touch.SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.Query(`
		SELECT id, element_id, start_ns, end_ns, sample_count, axis_lock,
		       net_dx, net_dy, release_vx, release_vy, cancelled
		FROM gesture_sessions ORDER BY end_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []touch.SessionRecord
	for rows.Next() {
		var rec touch.SessionRecord
		var axisLock string
		var cancelled int
		if err := rows.Scan(&rec.ID, &rec.ElementID, &rec.StartNanos, &rec.EndNanos,
			&rec.Samples, &axisLock, &rec.NetDX, &rec.NetDY,
			&rec.ReleaseVX, &rec.ReleaseVY, &cancelled); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.AxisLock = touch.AxisLock(axisLock)
		rec.Cancelled = cancelled != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentCommits returns the newest limit commits, newest first.
func (d *DB) RecentCommits(limit int) ([]touch.CommitRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.Query(`
		SELECT session_id, element_id, ts_ns, kind, from_index, to_index, position, velocity
		FROM gesture_commits ORDER BY ts_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()
	return scanCommits(rows)
}

// CommitsForSession returns every commit of one session in time order.
func (d *DB) CommitsForSession(sessionID string) ([]touch.CommitRecord, error) {
	rows, err := d.Query(`
		SELECT session_id, element_id, ts_ns, kind, from_index, to_index, position, velocity
		FROM gesture_commits WHERE session_id = ? ORDER BY ts_ns`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query commits for %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanCommits(rows)
}

func scanCommits(rows *sql.Rows) ([]touch.CommitRecord, error) {
	var out []touch.CommitRecord
	for rows.Next() {
		var rec touch.CommitRecord
		var kind string
		if err := rows.Scan(&rec.SessionID, &rec.ElementID, &rec.TimestampNanos,
			&kind, &rec.FromIndex, &rec.ToIndex, &rec.Position, &rec.Velocity); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		rec.Kind = touch.CommitKind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CommitKindCounts returns the total commit count per kind.
func (d *DB) CommitKindCounts() (map[touch.CommitKind]int, error) {
	rows, err := d.Query(`SELECT kind, COUNT(*) FROM gesture_commits GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count commits: %w", err)
	}
	defer rows.Close()

	counts := make(map[touch.CommitKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan commit count: %w", err)
		}
		counts[touch.CommitKind(kind)] = n
	}
	return counts, rows.Err()
}

// SessionCount returns the total number of recorded sessions.
func (d *DB) SessionCount() (int, error) {
	var n int
	if err := d.QueryRow(`SELECT COUNT(*) FROM gesture_sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// AttachDebugRoutes mounts the admin debug surface on mux: the tsweb
// debugger index, a live tailsql console at /debug/tailsql/, and a
// vacuumed gzip backup download.
func (d *DB) AttachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+d.path, d.DB, &tailsql.DBOptions{
		Label: "Gesture telemetry DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := d.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
