package monitor

import (
	"testing"
	"time"
)

func TestEventStatsCountersAndReset(t *testing.T) {
	es := NewEventStats()
	es.AddEvent(28)
	es.AddEvent(28)
	es.AddDropped()
	es.AddCommits(3)

	events, bytes, dropped, commits, duration := es.GetAndReset()
	if events != 2 || bytes != 56 || dropped != 1 || commits != 3 {
		t.Errorf("GetAndReset = %d events, %d bytes, %d dropped, %d commits",
			events, bytes, dropped, commits)
	}
	if duration <= 0 {
		t.Errorf("duration = %v, want > 0", duration)
	}

	events, bytes, dropped, commits, _ = es.GetAndReset()
	if events != 0 || bytes != 0 || dropped != 0 || commits != 0 {
		t.Error("counters not reset")
	}
}

func TestEventStatsSnapshot(t *testing.T) {
	es := NewEventStats()
	if es.GetLatestSnapshot() != nil {
		t.Error("snapshot before first LogStats should be nil")
	}

	es.AddEvent(280)
	time.Sleep(10 * time.Millisecond)
	es.LogStats()

	snap := es.GetLatestSnapshot()
	if snap == nil {
		t.Fatal("no snapshot after LogStats")
	}
	if snap.EventsPerSec <= 0 || snap.BytesPerSec <= 0 {
		t.Errorf("snapshot rates = %+v, want > 0", snap)
	}

	// Snapshot is a copy, not a live pointer.
	snap.EventsPerSec = -1
	if es.GetLatestSnapshot().EventsPerSec == -1 {
		t.Error("GetLatestSnapshot returned shared state")
	}
}

func TestEventStatsSnapshotRing(t *testing.T) {
	es := NewEventStats()
	for i := 0; i < snapshotRingSize+10; i++ {
		es.AddEvent(28)
		es.LogStats()
	}
	recent := es.RecentSnapshots()
	if len(recent) != snapshotRingSize {
		t.Errorf("ring size = %d, want %d", len(recent), snapshotRingSize)
	}
	if !recent[0].Timestamp.Before(recent[len(recent)-1].Timestamp) &&
		!recent[0].Timestamp.Equal(recent[len(recent)-1].Timestamp) {
		t.Error("ring not oldest-first")
	}
}

func TestEventStatsUptime(t *testing.T) {
	es := NewEventStats()
	time.Sleep(5 * time.Millisecond)
	if es.GetUptime() <= 0 {
		t.Error("uptime should be positive")
	}
}

func TestFormatWithCommas(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
	}
	for _, tt := range tests {
		if got := FormatWithCommas(tt.input); got != tt.expected {
			t.Errorf("FormatWithCommas(%d) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
