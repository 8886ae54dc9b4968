// Package l2sessions assembles validated pointer events into gesture
// sessions: one continuous touch interaction per element, from start to
// end or cancel.
//
// The assembler turns absolute screen coordinates into session-relative
// cumulative displacements and estimates release velocity over a short
// window of recent samples, producing the drag-event contract the
// classifier and controllers consume. Malformed sequences (a move with no
// start, an end with no session) degrade to counted no-ops; they are a
// fact of life with lossy transports.
package l2sessions

import (
	"time"

	"github.com/google/uuid"

	"github.com/tactiledata/gesture.report/internal/touch"
	"github.com/tactiledata/gesture.report/internal/touch/l1events"
)

// ringSize is how many recent samples a session retains for velocity
// estimation. At 120 Hz input, 32 samples comfortably cover the default
// 80 ms window.
const ringSize = 32

// DragEvent is the session-relative event delivered downstream. DX/DY
// are cumulative displacement since the session started; VX/VY are the
// windowed velocity estimate in px/ms. For start events all four are
// zero; for cancel events velocity is forced to zero so downstream
// resolution behaves as a release with no speed.
type DragEvent struct {
	SessionID      string
	ElementID      uint32
	Phase          l1events.Phase
	DX             float64
	DY             float64
	VX             float64
	VY             float64
	TimestampNanos int64
}

// Stats counts the degenerate inputs the assembler absorbed. Values only
// grow; the monitor layer snapshots and resets them.
type Stats struct {
	SessionsOpened    uint64
	SessionsClosed    uint64
	SessionsCancelled uint64
	SessionsExpired   uint64
	OrphanMoves       uint64
	OrphanEnds        uint64
	RestartedSessions uint64
}

type sample struct {
	x, y float64
	t    int64
}

type session struct {
	id         string
	startX     float64
	startY     float64
	startNanos int64
	last       sample
	ring       [ringSize]sample
	count      int
}

func (s *session) push(sm sample) {
	s.ring[s.count%ringSize] = sm
	s.count++
	s.last = sm
}

// velocity estimates px/ms over the ring window ending at the last
// sample. It walks back to the oldest retained sample still inside the
// window; with fewer than two samples (or zero elapsed time) it reports
// zero rather than guessing.
func (s *session) velocity(window time.Duration) (vx, vy float64) {
	if s.count < 2 {
		return 0, 0
	}
	newest := s.last
	oldest := newest
	n := s.count
	if n > ringSize {
		n = ringSize
	}
	for i := 1; i < n; i++ {
		cand := s.ring[(s.count-1-i)%ringSize]
		if newest.t-cand.t > window.Nanoseconds() {
			break
		}
		oldest = cand
	}
	dtMs := float64(newest.t-oldest.t) / 1e6
	if dtMs <= 0 {
		return 0, 0
	}
	return (newest.x - oldest.x) / dtMs, (newest.y - oldest.y) / dtMs
}

// Assembler owns the single live session of one interactive element.
// It is not safe for concurrent use; the pipeline calls it only from the
// dispatch goroutine.
type Assembler struct {
	elementID      uint32
	velocityWindow time.Duration

	// OnEvent receives every session-relative event in arrival order.
	OnEvent func(DragEvent)

	// OnClose receives the session summary when a session ends, is
	// cancelled, or expires. AxisLock is left at AxisNone; the pipeline
	// fills it in from the classifier before persisting.
	OnClose func(touch.SessionRecord)

	active *session
	stats  Stats
}

// NewAssembler returns an assembler for one element. velocityWindow
// bounds how far back the velocity estimate looks.
func NewAssembler(elementID uint32, velocityWindow time.Duration) *Assembler {
	if velocityWindow <= 0 {
		velocityWindow = 80 * time.Millisecond
	}
	return &Assembler{elementID: elementID, velocityWindow: velocityWindow}
}

// Active reports whether a session is currently open.
func (a *Assembler) Active() bool { return a.active != nil }

// Stats returns a copy of the degenerate-input counters.
func (a *Assembler) Stats() Stats { return a.stats }

// LastSampleNanos returns the timestamp of the newest sample of the open
// session, or zero when idle. The pipeline uses it for stale expiry.
func (a *Assembler) LastSampleNanos() int64 {
	if a.active == nil {
		return 0
	}
	return a.active.last.t
}

// Handle processes one validated pointer event for this element.
func (a *Assembler) Handle(ev l1events.PointerEvent) {
	switch ev.Phase {
	case l1events.PhaseStart:
		a.handleStart(ev)
	case l1events.PhaseMove:
		a.handleMove(ev)
	case l1events.PhaseEnd:
		a.close(ev, false)
	case l1events.PhaseCancel:
		a.close(ev, true)
	}
}

// Expire force-closes a session that stopped producing samples without an
// end or cancel (dropped datagrams, wedged digitizer). It runs the same
// cancel path as an explicit cancel, so controllers still settle.
func (a *Assembler) Expire(nowNanos int64) {
	if a.active == nil {
		return
	}
	a.stats.SessionsExpired++
	touch.Diagf("element %d: session %s expired after silence", a.elementID, a.active.id)
	a.close(l1events.PointerEvent{
		ElementID:      a.elementID,
		Phase:          l1events.PhaseCancel,
		X:              a.active.last.x,
		Y:              a.active.last.y,
		TimestampNanos: nowNanos,
	}, true)
}

func (a *Assembler) handleStart(ev l1events.PointerEvent) {
	if a.active != nil {
		// A start over a live session means the end was lost. Cancel
		// the old session first so downstream state always settles.
		a.stats.RestartedSessions++
		a.close(l1events.PointerEvent{
			ElementID:      a.elementID,
			Phase:          l1events.PhaseCancel,
			X:              a.active.last.x,
			Y:              a.active.last.y,
			TimestampNanos: ev.TimestampNanos,
		}, true)
	}

	s := &session{
		id:         uuid.NewString(),
		startX:     ev.X,
		startY:     ev.Y,
		startNanos: ev.TimestampNanos,
	}
	s.push(sample{x: ev.X, y: ev.Y, t: ev.TimestampNanos})
	a.active = s
	a.stats.SessionsOpened++

	touch.Tracef("element %d: session %s start at (%.1f, %.1f)", a.elementID, s.id, ev.X, ev.Y)
	a.emit(DragEvent{
		SessionID:      s.id,
		ElementID:      a.elementID,
		Phase:          l1events.PhaseStart,
		TimestampNanos: ev.TimestampNanos,
	})
}

func (a *Assembler) handleMove(ev l1events.PointerEvent) {
	s := a.active
	if s == nil {
		a.stats.OrphanMoves++
		return
	}
	// Out-of-order samples within a session are dropped rather than
	// rewinding the cumulative displacement.
	if ev.TimestampNanos < s.last.t {
		return
	}
	s.push(sample{x: ev.X, y: ev.Y, t: ev.TimestampNanos})
	vx, vy := s.velocity(a.velocityWindow)
	a.emit(DragEvent{
		SessionID:      s.id,
		ElementID:      a.elementID,
		Phase:          l1events.PhaseMove,
		DX:             ev.X - s.startX,
		DY:             ev.Y - s.startY,
		VX:             vx,
		VY:             vy,
		TimestampNanos: ev.TimestampNanos,
	})
}

func (a *Assembler) close(ev l1events.PointerEvent, cancelled bool) {
	s := a.active
	if s == nil {
		a.stats.OrphanEnds++
		return
	}
	a.active = nil

	endX, endY := ev.X, ev.Y
	endNanos := ev.TimestampNanos
	if endNanos < s.last.t {
		endX, endY, endNanos = s.last.x, s.last.y, s.last.t
	}
	s.push(sample{x: endX, y: endY, t: endNanos})

	var vx, vy float64
	if cancelled {
		a.stats.SessionsCancelled++
	} else {
		a.stats.SessionsClosed++
		vx, vy = s.velocity(a.velocityWindow)
	}

	phase := l1events.PhaseEnd
	if cancelled {
		phase = l1events.PhaseCancel
	}
	dx, dy := endX-s.startX, endY-s.startY
	touch.Tracef("element %d: session %s %s net (%.1f, %.1f) v (%.3f, %.3f)",
		a.elementID, s.id, phase, dx, dy, vx, vy)

	a.emit(DragEvent{
		SessionID:      s.id,
		ElementID:      a.elementID,
		Phase:          phase,
		DX:             dx,
		DY:             dy,
		VX:             vx,
		VY:             vy,
		TimestampNanos: endNanos,
	})
	if a.OnClose != nil {
		a.OnClose(touch.SessionRecord{
			ID:         s.id,
			ElementID:  a.elementID,
			StartNanos: s.startNanos,
			EndNanos:   endNanos,
			Samples:    s.count,
			AxisLock:   touch.AxisNone,
			NetDX:      dx,
			NetDY:      dy,
			ReleaseVX:  vx,
			ReleaseVY:  vy,
			Cancelled:  cancelled,
		})
	}
}

func (a *Assembler) emit(ev DragEvent) {
	if a.OnEvent != nil {
		a.OnEvent(ev)
	}
}
