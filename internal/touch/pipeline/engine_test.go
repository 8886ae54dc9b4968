package pipeline

import (
	"testing"
	"time"

	"github.com/tactiledata/gesture.report/internal/timeutil"
	"github.com/tactiledata/gesture.report/internal/touch"
	"github.com/tactiledata/gesture.report/internal/touch/l1events"
)

// memorySink collects persisted telemetry in memory.
type memorySink struct {
	sessions []touch.SessionRecord
	commits  []touch.CommitRecord
}

func (m *memorySink) PersistSession(rec touch.SessionRecord) error {
	m.sessions = append(m.sessions, rec)
	return nil
}

func (m *memorySink) PersistCommit(rec touch.CommitRecord) error {
	m.commits = append(m.commits, rec)
	return nil
}

func newTestEngine(t *testing.T, sink PersistenceSink) (*Engine, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	e, err := NewEngine(EngineConfig{
		Tunables:    touch.DefaultTunables(),
		Clock:       clock,
		Persistence: sink,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, clock
}

// swipe runs one full horizontal swipe on an element: start, a few
// moves out to dx, then end. Timestamps step 8 ms per sample from base.
func swipe(e *Engine, elementID uint32, dx float64, base int64) {
	const step = int64(8 * time.Millisecond)
	e.Process(l1events.PointerEvent{
		ElementID: elementID, Phase: l1events.PhaseStart, X: 200, Y: 300, TimestampNanos: base,
	})
	for i := 1; i <= 4; i++ {
		e.Process(l1events.PointerEvent{
			ElementID: elementID, Phase: l1events.PhaseMove,
			X: 200 + dx*float64(i)/4, Y: 300, TimestampNanos: base + int64(i)*step,
		})
	}
	e.Process(l1events.PointerEvent{
		ElementID: elementID, Phase: l1events.PhaseEnd,
		X: 200 + dx, Y: 300, TimestampNanos: base + 5*step,
	})
}

// settleEngine steps frames until no element is animating.
func settleEngine(t *testing.T, e *Engine, clock *timeutil.MockClock) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		clock.Advance(16 * time.Millisecond)
		e.StepFrame(clock.NowNanos())
		animating := false
		for _, el := range e.Snapshot().Elements {
			if el.Animating {
				animating = true
			}
		}
		if !animating {
			return
		}
	}
	t.Fatal("engine never settled")
}

func TestEngineRoutesSwipeToCarousel(t *testing.T) {
	sink := &memorySink{}
	e, clock := newTestEngine(t, sink)

	var indexChanges []int
	if err := e.RegisterCarousel(1, CarouselParams{
		Count: 3, CardOffsetPx: 260,
		OnIndexChange: func(i int) { indexChanges = append(indexChanges, i) },
	}); err != nil {
		t.Fatalf("RegisterCarousel: %v", err)
	}

	swipe(e, 1, -80, clock.NowNanos())
	settleEngine(t, e, clock)

	snap := e.Snapshot()
	if len(snap.Elements) != 1 {
		t.Fatalf("snapshot has %d elements, want 1", len(snap.Elements))
	}
	el := snap.Elements[0]
	if el.ActiveIndex != 1 {
		t.Errorf("ActiveIndex = %d, want 1", el.ActiveIndex)
	}
	if el.DragOffset != 0 {
		t.Errorf("DragOffset = %v, want 0 after settle", el.DragOffset)
	}
	if len(indexChanges) != 1 || indexChanges[0] != 1 {
		t.Errorf("index changes = %v, want [1]", indexChanges)
	}

	if len(sink.sessions) != 1 {
		t.Fatalf("persisted %d sessions, want 1", len(sink.sessions))
	}
	rec := sink.sessions[0]
	if rec.AxisLock != touch.AxisHorizontal {
		t.Errorf("session axis lock = %v, want horizontal", rec.AxisLock)
	}
	if rec.NetDX != -80 {
		t.Errorf("session NetDX = %v, want -80", rec.NetDX)
	}
	if len(sink.commits) != 1 {
		t.Fatalf("persisted %d commits, want 1", len(sink.commits))
	}
	if c := sink.commits[0]; c.Kind != touch.CommitIndexChange || c.ToIndex != 1 {
		t.Errorf("commit = %+v, want index_change to 1", c)
	}
	if sink.commits[0].SessionID != rec.ID {
		t.Errorf("commit session %q != session %q", sink.commits[0].SessionID, rec.ID)
	}
}

func TestEngineRoutesSwipeToReveal(t *testing.T) {
	sink := &memorySink{}
	e, clock := newTestEngine(t, sink)

	opened := false
	if err := e.RegisterReveal(2, RevealParams{
		ActionWidthPx: 140,
		OnOpen:        func() { opened = true },
	}); err != nil {
		t.Fatalf("RegisterReveal: %v", err)
	}

	swipe(e, 2, -130, clock.NowNanos())
	settleEngine(t, e, clock)

	el := e.Snapshot().Elements[0]
	if !el.IsOpen || el.Position != -140 {
		t.Errorf("element = %+v, want open at -140", el)
	}
	if !opened {
		t.Error("OnOpen never fired")
	}
	if len(sink.commits) != 1 || sink.commits[0].Kind != touch.CommitRevealOpen {
		t.Errorf("commits = %+v, want one reveal_open", sink.commits)
	}
}

func TestEngineIgnoresVerticalDrag(t *testing.T) {
	sink := &memorySink{}
	e, clock := newTestEngine(t, sink)
	if err := e.RegisterCarousel(1, CarouselParams{Count: 3, CardOffsetPx: 260}); err != nil {
		t.Fatal(err)
	}

	// A vertical scroll across the element: released to the ancestor,
	// so the carousel must not move.
	base := clock.NowNanos()
	e.Process(l1events.PointerEvent{ElementID: 1, Phase: l1events.PhaseStart, X: 200, Y: 300, TimestampNanos: base})
	e.Process(l1events.PointerEvent{ElementID: 1, Phase: l1events.PhaseMove, X: 202, Y: 200, TimestampNanos: base + 8e6})
	e.Process(l1events.PointerEvent{ElementID: 1, Phase: l1events.PhaseMove, X: 203, Y: 100, TimestampNanos: base + 16e6})
	e.Process(l1events.PointerEvent{ElementID: 1, Phase: l1events.PhaseEnd, X: 203, Y: 50, TimestampNanos: base + 24e6})
	settleEngine(t, e, clock)

	if el := e.Snapshot().Elements[0]; el.ActiveIndex != 0 || el.DragOffset != 0 {
		t.Errorf("element moved on vertical drag: %+v", el)
	}
	if len(sink.sessions) != 1 || sink.sessions[0].AxisLock != touch.AxisVertical {
		t.Errorf("sessions = %+v, want one vertical", sink.sessions)
	}
	if len(sink.commits) != 0 {
		t.Errorf("vertical drag produced commits: %+v", sink.commits)
	}
}

func TestEngineDropsUnroutedAndInvalidEvents(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	if err := e.RegisterCarousel(1, CarouselParams{Count: 3, CardOffsetPx: 260}); err != nil {
		t.Fatal(err)
	}

	e.Process(l1events.PointerEvent{ElementID: 99, Phase: l1events.PhaseStart, X: 1, Y: 1})
	e.Process(l1events.PointerEvent{ElementID: 1, Phase: l1events.Phase(42), X: 1, Y: 1})

	st := e.Stats()
	if st.EventsUnrouted != 1 || st.EventsInvalid != 1 {
		t.Errorf("stats = %+v, want 1 unrouted, 1 invalid", st)
	}
}

func TestEngineExpiresStaleSessions(t *testing.T) {
	sink := &memorySink{}
	e, clock := newTestEngine(t, sink)
	if err := e.RegisterReveal(2, RevealParams{ActionWidthPx: 140}); err != nil {
		t.Fatal(err)
	}

	// Start a drag and never finish it; the end datagram was lost.
	base := clock.NowNanos()
	e.Process(l1events.PointerEvent{ElementID: 2, Phase: l1events.PhaseStart, X: 200, Y: 300, TimestampNanos: base})
	e.Process(l1events.PointerEvent{ElementID: 2, Phase: l1events.PhaseMove, X: 100, Y: 300, TimestampNanos: base + 8e6})

	// Advance past the session timeout; the next frame expires it
	// through the cancel path and the row settles.
	clock.Advance(touch.DefaultTunables().SessionTimeout + time.Second)
	e.StepFrame(clock.NowNanos())
	settleEngine(t, e, clock)

	el := e.Snapshot().Elements[0]
	if el.Position != 0 && el.Position != -140 {
		t.Errorf("position %v not a resting value after expiry", el.Position)
	}
	if len(sink.sessions) != 1 || !sink.sessions[0].Cancelled {
		t.Errorf("sessions = %+v, want one cancelled", sink.sessions)
	}
	if st := e.Stats(); st.SessionsExpired != 1 {
		t.Errorf("SessionsExpired = %d, want 1", st.SessionsExpired)
	}
}

func TestRegisterDuplicateAndUnregister(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	if err := e.RegisterCarousel(1, CarouselParams{Count: 3, CardOffsetPx: 260}); err != nil {
		t.Fatal(err)
	}
	if err := e.RegisterReveal(1, RevealParams{ActionWidthPx: 140}); err == nil {
		t.Error("duplicate registration succeeded")
	}
	e.Unregister(1)
	if err := e.RegisterReveal(1, RevealParams{ActionWidthPx: 140}); err != nil {
		t.Errorf("re-register after unregister: %v", err)
	}
	if n := len(e.Snapshot().Elements); n != 1 {
		t.Errorf("snapshot has %d elements, want 1", n)
	}
}

func TestRegisterRejectsBadGeometry(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	if err := e.RegisterCarousel(1, CarouselParams{Count: 0, CardOffsetPx: 260}); err == nil {
		t.Error("zero-count carousel registered")
	}
	if err := e.RegisterReveal(2, RevealParams{ActionWidthPx: -1}); err == nil {
		t.Error("negative action width registered")
	}
	if n := len(e.Snapshot().Elements); n != 0 {
		t.Errorf("failed registrations left %d elements", n)
	}
}

func TestUpdateTunablesAppliesToExistingElements(t *testing.T) {
	sink := &memorySink{}
	e, clock := newTestEngine(t, sink)
	if err := e.RegisterCarousel(1, CarouselParams{Count: 3, CardOffsetPx: 260}); err != nil {
		t.Fatal(err)
	}

	// Raise the drag threshold past 80; the same swipe that commits at
	// the default threshold must now be rejected.
	if err := e.UpdateTunables(func(tn *touch.Tunables) { tn.DragThresholdPx = 100 }); err != nil {
		t.Fatalf("UpdateTunables: %v", err)
	}
	swipe(e, 1, -80, clock.NowNanos())
	settleEngine(t, e, clock)

	if el := e.Snapshot().Elements[0]; el.ActiveIndex != 0 {
		t.Errorf("ActiveIndex = %d, want 0 under raised threshold", el.ActiveIndex)
	}
	if len(sink.commits) != 1 || sink.commits[0].Kind != touch.CommitRejected {
		t.Errorf("commits = %+v, want one rejected", sink.commits)
	}

	if err := e.UpdateTunables(func(tn *touch.Tunables) { tn.DragThresholdPx = -5 }); err == nil {
		t.Error("invalid tunables accepted")
	}
	if got := e.Tunables().DragThresholdPx; got != 100 {
		t.Errorf("threshold after rejected update = %v, want 100", got)
	}
}

func TestTapOnRevealTogglesExpandAndRecordsCommit(t *testing.T) {
	sink := &memorySink{}
	e, clock := newTestEngine(t, sink)
	var toggles []bool
	if err := e.RegisterReveal(2, RevealParams{
		ActionWidthPx: 140,
		OnTapExpand:   func(ex bool) { toggles = append(toggles, ex) },
	}); err != nil {
		t.Fatal(err)
	}

	// Touch down and up with barely any motion: a tap.
	base := clock.NowNanos()
	e.Process(l1events.PointerEvent{ElementID: 2, Phase: l1events.PhaseStart, X: 200, Y: 300, TimestampNanos: base})
	e.Process(l1events.PointerEvent{ElementID: 2, Phase: l1events.PhaseMove, X: 201, Y: 301, TimestampNanos: base + 8e6})
	e.Process(l1events.PointerEvent{ElementID: 2, Phase: l1events.PhaseEnd, X: 201, Y: 301, TimestampNanos: base + 16e6})

	if len(toggles) != 1 || !toggles[0] {
		t.Errorf("toggles = %v, want [true]", toggles)
	}
	if len(sink.commits) != 1 || sink.commits[0].Kind != touch.CommitTapExpand {
		t.Errorf("commits = %+v, want one tap_expand", sink.commits)
	}
}

func TestIndependentElementsDoNotInterfere(t *testing.T) {
	// Two reveal rows: opening one leaves the other alone (independent
	// rows, no auto-close).
	e, clock := newTestEngine(t, nil)
	if err := e.RegisterReveal(1, RevealParams{ActionWidthPx: 140}); err != nil {
		t.Fatal(err)
	}
	if err := e.RegisterReveal(2, RevealParams{ActionWidthPx: 140}); err != nil {
		t.Fatal(err)
	}

	swipe(e, 1, -130, clock.NowNanos())
	settleEngine(t, e, clock)
	swipe(e, 2, -130, clock.NowNanos())
	settleEngine(t, e, clock)

	snap := e.Snapshot()
	if !snap.Elements[0].IsOpen || !snap.Elements[1].IsOpen {
		t.Errorf("both rows should stay open: %+v", snap.Elements)
	}
}

func TestCommitHookSeesEveryRecord(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	var hooked []touch.CommitRecord
	e, err := NewEngine(EngineConfig{
		Tunables: touch.DefaultTunables(),
		Clock:    clock,
		OnCommit: func(rec touch.CommitRecord) { hooked = append(hooked, rec) },
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := e.RegisterCarousel(1, CarouselParams{Count: 3, CardOffsetPx: 260}); err != nil {
		t.Fatal(err)
	}

	// One committing swipe, one too short to commit.
	swipe(e, 1, -80, clock.NowNanos())
	settleEngine(t, e, clock)
	swipe(e, 1, -20, clock.NowNanos())
	settleEngine(t, e, clock)

	if len(hooked) != 2 {
		t.Fatalf("hook saw %d records, want 2", len(hooked))
	}
	if hooked[0].Kind != touch.CommitIndexChange {
		t.Errorf("first record kind = %v, want index_change", hooked[0].Kind)
	}
	if hooked[1].Kind != touch.CommitRejected {
		t.Errorf("second record kind = %v, want rejected", hooked[1].Kind)
	}
}

func TestDropHookFiresWhenQueueFull(t *testing.T) {
	dropped := 0
	e, err := NewEngine(EngineConfig{
		Tunables:       touch.DefaultTunables(),
		EventBuffer:    1,
		OnEventDropped: func() { dropped++ },
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	// No dispatch loop running: the second event overflows the queue.
	ev := l1events.PointerEvent{ElementID: 1, Phase: l1events.PhaseStart, X: 1, Y: 1, TimestampNanos: 1}
	e.Feed(ev)
	e.Feed(ev)
	e.Feed(ev)

	if dropped != 2 {
		t.Errorf("drop hook fired %d times, want 2", dropped)
	}
	if got := e.Stats().EventsDropped; got != 2 {
		t.Errorf("EventsDropped = %d, want 2", got)
	}
}
