package l2sessions

import (
	"math"
	"testing"
	"time"

	"github.com/tactiledata/gesture.report/internal/touch"
	"github.com/tactiledata/gesture.report/internal/touch/l1events"
)

const ms = int64(time.Millisecond)

type capture struct {
	events []DragEvent
	closes []touch.SessionRecord
}

func newTestAssembler(t *testing.T) (*Assembler, *capture) {
	t.Helper()
	cap := &capture{}
	a := NewAssembler(7, 80*time.Millisecond)
	a.OnEvent = func(ev DragEvent) { cap.events = append(cap.events, ev) }
	a.OnClose = func(r touch.SessionRecord) { cap.closes = append(cap.closes, r) }
	return a, cap
}

func ev(phase l1events.Phase, x, y float64, t int64) l1events.PointerEvent {
	return l1events.PointerEvent{ElementID: 7, Phase: phase, X: x, Y: y, TimestampNanos: t}
}

func TestSessionLifecycleAndCumulativeDeltas(t *testing.T) {
	a, cap := newTestAssembler(t)

	a.Handle(ev(l1events.PhaseStart, 100, 200, 0))
	a.Handle(ev(l1events.PhaseMove, 90, 201, 8*ms))
	a.Handle(ev(l1events.PhaseMove, 60, 203, 16*ms))
	a.Handle(ev(l1events.PhaseEnd, 40, 204, 24*ms))

	if len(cap.events) != 4 {
		t.Fatalf("got %d events, want 4", len(cap.events))
	}
	start := cap.events[0]
	if start.Phase != l1events.PhaseStart || start.DX != 0 || start.VX != 0 {
		t.Errorf("start event = %+v, want zero deltas", start)
	}
	if cap.events[2].DX != -40 || cap.events[2].DY != 3 {
		t.Errorf("second move deltas = (%v, %v), want (-40, 3)",
			cap.events[2].DX, cap.events[2].DY)
	}
	end := cap.events[3]
	if end.Phase != l1events.PhaseEnd || end.DX != -60 {
		t.Errorf("end event = %+v, want dx -60", end)
	}

	if len(cap.closes) != 1 {
		t.Fatalf("got %d close records, want 1", len(cap.closes))
	}
	rec := cap.closes[0]
	if rec.NetDX != -60 || rec.NetDY != 4 || rec.Cancelled {
		t.Errorf("close record = %+v, want net (-60, 4) not cancelled", rec)
	}
	if rec.ID == "" || rec.ID != start.SessionID {
		t.Errorf("record ID %q does not match session ID %q", rec.ID, start.SessionID)
	}
	if a.Active() {
		t.Error("assembler still active after end")
	}
}

func TestVelocityEstimateOverWindow(t *testing.T) {
	a, cap := newTestAssembler(t)

	// 10 px left every 10 ms: velocity should be -1 px/ms.
	a.Handle(ev(l1events.PhaseStart, 300, 0, 0))
	for i := 1; i <= 6; i++ {
		a.Handle(ev(l1events.PhaseMove, 300-float64(i*10), 0, int64(i*10)*ms))
	}
	a.Handle(ev(l1events.PhaseEnd, 230, 0, 70*ms))

	end := cap.events[len(cap.events)-1]
	if math.Abs(end.VX-(-1)) > 1e-9 {
		t.Errorf("release VX = %v, want -1", end.VX)
	}
	if cap.closes[0].ReleaseVX != end.VX {
		t.Errorf("record ReleaseVX = %v, want %v", cap.closes[0].ReleaseVX, end.VX)
	}
}

func TestVelocityWindowExcludesOldSamples(t *testing.T) {
	a, cap := newTestAssembler(t)

	// A slow approach followed by a fast finish: only the samples within
	// the 80 ms window count, so the estimate reflects the fast part.
	a.Handle(ev(l1events.PhaseStart, 0, 0, 0))
	a.Handle(ev(l1events.PhaseMove, -10, 0, 500*ms)) // ancient, slow
	a.Handle(ev(l1events.PhaseMove, -30, 0, 520*ms))
	a.Handle(ev(l1events.PhaseMove, -50, 0, 540*ms))
	a.Handle(ev(l1events.PhaseEnd, -70, 0, 560*ms))

	end := cap.events[len(cap.events)-1]
	// Window covers 500..560 ms: (-70 - -10) / 60 = -1 px/ms.
	if math.Abs(end.VX-(-1)) > 1e-9 {
		t.Errorf("release VX = %v, want -1", end.VX)
	}
}

func TestCancelReportsZeroVelocity(t *testing.T) {
	a, cap := newTestAssembler(t)

	a.Handle(ev(l1events.PhaseStart, 0, 0, 0))
	a.Handle(ev(l1events.PhaseMove, -60, 0, 10*ms))
	a.Handle(ev(l1events.PhaseCancel, -80, 0, 20*ms))

	end := cap.events[len(cap.events)-1]
	if end.Phase != l1events.PhaseCancel {
		t.Fatalf("last phase = %v, want cancel", end.Phase)
	}
	if end.VX != 0 || end.VY != 0 {
		t.Errorf("cancel velocity = (%v, %v), want (0, 0)", end.VX, end.VY)
	}
	if end.DX != -80 {
		t.Errorf("cancel DX = %v, want -80", end.DX)
	}
	if !cap.closes[0].Cancelled {
		t.Error("close record not marked cancelled")
	}
}

func TestOrphanEventsIgnored(t *testing.T) {
	a, cap := newTestAssembler(t)

	a.Handle(ev(l1events.PhaseMove, 10, 10, 0))
	a.Handle(ev(l1events.PhaseEnd, 10, 10, ms))
	a.Handle(ev(l1events.PhaseCancel, 10, 10, 2*ms))

	if len(cap.events) != 0 || len(cap.closes) != 0 {
		t.Errorf("orphans produced output: %d events, %d closes",
			len(cap.events), len(cap.closes))
	}
	st := a.Stats()
	if st.OrphanMoves != 1 || st.OrphanEnds != 2 {
		t.Errorf("stats = %+v, want 1 orphan move, 2 orphan ends", st)
	}
}

func TestStartOverLiveSessionCancelsOld(t *testing.T) {
	a, cap := newTestAssembler(t)

	a.Handle(ev(l1events.PhaseStart, 0, 0, 0))
	a.Handle(ev(l1events.PhaseMove, -40, 0, 10*ms))
	a.Handle(ev(l1events.PhaseStart, 500, 500, 20*ms)) // end was lost

	if len(cap.closes) != 1 || !cap.closes[0].Cancelled {
		t.Fatalf("lost-end session not cancelled: %+v", cap.closes)
	}
	if !a.Active() {
		t.Error("new session not open")
	}
	if st := a.Stats(); st.RestartedSessions != 1 {
		t.Errorf("RestartedSessions = %d, want 1", st.RestartedSessions)
	}

	// The new session's deltas are relative to the new origin.
	a.Handle(ev(l1events.PhaseMove, 490, 500, 30*ms))
	last := cap.events[len(cap.events)-1]
	if last.DX != -10 || last.DY != 0 {
		t.Errorf("new session deltas = (%v, %v), want (-10, 0)", last.DX, last.DY)
	}
}

func TestOutOfOrderMoveDropped(t *testing.T) {
	a, cap := newTestAssembler(t)

	a.Handle(ev(l1events.PhaseStart, 0, 0, 10*ms))
	a.Handle(ev(l1events.PhaseMove, -20, 0, 20*ms))
	a.Handle(ev(l1events.PhaseMove, -90, 0, 5*ms)) // stale, must not rewind
	last := cap.events[len(cap.events)-1]
	if last.DX != -20 {
		t.Errorf("DX after stale move = %v, want -20", last.DX)
	}
}

func TestExpireRunsCancelPath(t *testing.T) {
	a, cap := newTestAssembler(t)

	a.Handle(ev(l1events.PhaseStart, 0, 0, 0))
	a.Handle(ev(l1events.PhaseMove, -50, 0, 10*ms))
	a.Expire(11_000 * ms)

	if a.Active() {
		t.Error("session still active after expiry")
	}
	last := cap.events[len(cap.events)-1]
	if last.Phase != l1events.PhaseCancel || last.DX != -50 {
		t.Errorf("expiry event = %+v, want cancel at dx -50", last)
	}
	if st := a.Stats(); st.SessionsExpired != 1 || st.SessionsCancelled != 1 {
		t.Errorf("stats = %+v, want 1 expired, 1 cancelled", st)
	}

	// Expiring with nothing open is a no-op.
	a.Expire(12_000 * ms)
	if st := a.Stats(); st.SessionsExpired != 1 {
		t.Errorf("idle expiry bumped stats: %+v", a.Stats())
	}
}

func TestRingOverflowKeepsRecentWindow(t *testing.T) {
	a, cap := newTestAssembler(t)

	// Far more samples than the ring holds; constant -2 px/ms all the
	// way, so the estimate must survive the wraparound.
	a.Handle(ev(l1events.PhaseStart, 0, 0, 0))
	for i := 1; i <= 200; i++ {
		a.Handle(ev(l1events.PhaseMove, -float64(i*10), 0, int64(i*5)*ms))
	}
	a.Handle(ev(l1events.PhaseEnd, -2010, 0, 1005*ms))

	end := cap.events[len(cap.events)-1]
	if math.Abs(end.VX-(-2)) > 1e-9 {
		t.Errorf("release VX = %v, want -2", end.VX)
	}
	if cap.closes[0].Samples != 202 {
		t.Errorf("sample count = %d, want 202", cap.closes[0].Samples)
	}
}
