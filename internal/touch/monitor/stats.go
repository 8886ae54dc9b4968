package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/tactiledata/gesture.report/internal/touch"
)

// snapshotRingSize bounds the recent-snapshot history kept for charts.
const snapshotRingSize = 120

// StatsSnapshot represents a snapshot of current event statistics
type StatsSnapshot struct {
	EventsPerSec  float64
	BytesPerSec   float64
	CommitsPerSec float64
	DroppedCount  int64
	Timestamp     time.Time
}

// EventStats tracks pointer event statistics with thread-safe operations
type EventStats struct {
	mu             sync.Mutex
	eventCount     int64
	byteCount      int64
	droppedCount   int64
	commitCount    int64
	lastReset      time.Time
	startTime      time.Time
	latestSnapshot *StatsSnapshot
	recent         []StatsSnapshot
}

// NewEventStats creates a new EventStats instance
func NewEventStats() *EventStats {
	now := time.Now()
	return &EventStats{
		lastReset: now,
		startTime: now,
	}
}

// AddEvent increments event count and byte count
func (es *EventStats) AddEvent(bytes int) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.eventCount++
	es.byteCount += int64(bytes)
}

// AddDropped increments dropped event count
func (es *EventStats) AddDropped() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.droppedCount++
}

// AddCommits increments the resolved-commit count
func (es *EventStats) AddCommits(count int) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.commitCount += int64(count)
}

// GetAndReset returns current stats and resets counters
func (es *EventStats) GetAndReset() (events int64, bytes int64, dropped int64, commits int64, duration time.Duration) {
	es.mu.Lock()
	defer es.mu.Unlock()

	now := time.Now()
	duration = now.Sub(es.lastReset)
	events = es.eventCount
	bytes = es.byteCount
	dropped = es.droppedCount
	commits = es.commitCount

	es.eventCount = 0
	es.byteCount = 0
	es.droppedCount = 0
	es.commitCount = 0
	es.lastReset = now

	return
}

// LogStats logs formatted statistics and stores a snapshot for the web
// interface. Quiet intervals produce no log line but the snapshot ring
// still advances so gaps are visible in the throughput chart.
func (es *EventStats) LogStats() {
	events, bytes, dropped, commits, duration := es.GetAndReset()
	if duration <= 0 {
		return
	}

	snap := StatsSnapshot{
		EventsPerSec:  float64(events) / duration.Seconds(),
		BytesPerSec:   float64(bytes) / duration.Seconds(),
		CommitsPerSec: float64(commits) / duration.Seconds(),
		DroppedCount:  dropped,
		Timestamp:     time.Now(),
	}

	es.mu.Lock()
	es.latestSnapshot = &snap
	es.recent = append(es.recent, snap)
	if len(es.recent) > snapshotRingSize {
		es.recent = es.recent[len(es.recent)-snapshotRingSize:]
	}
	es.mu.Unlock()

	if events > 0 || dropped > 0 {
		logMsg := fmt.Sprintf("Touch stats (/sec): %.1f events, %.1f KB, %.2f commits",
			snap.EventsPerSec, snap.BytesPerSec/1024, snap.CommitsPerSec)
		if dropped > 0 {
			logMsg += fmt.Sprintf(", %d dropped", dropped)
		}
		touch.Opsf("%s", logMsg)
	}
}

// Run logs stats on the given interval until the context is cancelled.
func (es *EventStats) Run(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			es.LogStats()
		}
	}
}

// GetUptime returns the time since the stats were created
func (es *EventStats) GetUptime() time.Duration {
	es.mu.Lock()
	defer es.mu.Unlock()
	return time.Since(es.startTime)
}

// GetLatestSnapshot returns the most recent stats snapshot for the web
// interface, or nil before the first LogStats call.
func (es *EventStats) GetLatestSnapshot() *StatsSnapshot {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.latestSnapshot == nil {
		return nil
	}
	snapshot := *es.latestSnapshot
	return &snapshot
}

// RecentSnapshots returns a copy of the snapshot ring, oldest first.
func (es *EventStats) RecentSnapshots() []StatsSnapshot {
	es.mu.Lock()
	defer es.mu.Unlock()
	out := make([]StatsSnapshot, len(es.recent))
	copy(out, es.recent)
	return out
}

// FormatWithCommas formats a number with thousands separators
func FormatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}
