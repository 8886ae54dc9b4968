// Package l3classify makes the axis-lock decision for each gesture
// session: claim the drag as horizontal and route it to the element's
// controller, or release it as vertical so an ancestor scroll surface
// can have it.
//
// The decision happens exactly once per session, at the moment the touch
// crosses the dead zone, and never re-evaluates mid-drag. A touch that
// lifts without ever crossing the dead zone is a tap.
package l3classify

import (
	"math"

	"github.com/tactiledata/gesture.report/internal/touch"
	"github.com/tactiledata/gesture.report/internal/touch/l1events"
	"github.com/tactiledata/gesture.report/internal/touch/l2sessions"
)

// horizontalClaimRatio is the fixed tie-break at dead-zone crossing: the
// drag is claimed when |dx| > |dy| * 1.5. It is a constant, not a
// tunable; every element on a screen must break the tie the same way or
// scroll behaviour becomes unpredictable.
const horizontalClaimRatio = 1.5

// Controller is the downstream consumer of a claimed drag. Both the
// carousel and the reveal controller satisfy it.
type Controller interface {
	// OnDragStart begins a claimed drag.
	OnDragStart()
	// OnDragMove delivers the session-net horizontal displacement.
	OnDragMove(dx float64)
	// OnDragEnd releases the drag with the net displacement and the
	// release velocity in px/ms. Cancelled sessions arrive here with
	// zero velocity.
	OnDragEnd(dx, velocity float64)
	// Tap reports a touch that lifted inside the dead zone.
	Tap()
}

// Classifier owns the axis-lock state for one element's sessions.
// It is not safe for concurrent use; the pipeline calls it only from the
// dispatch goroutine.
type Classifier struct {
	deadZonePx float64
	controller Controller

	inSession bool
	lock      touch.AxisLock
	lastLock  touch.AxisLock
}

// NewClassifier returns a classifier feeding the given controller.
func NewClassifier(deadZonePx float64, controller Controller) *Classifier {
	if deadZonePx < 0 {
		deadZonePx = 0
	}
	return &Classifier{deadZonePx: deadZonePx, controller: controller}
}

// SetDeadZone updates the dead zone for subsequent sessions. A session
// already past its axis-lock decision is unaffected.
func (c *Classifier) SetDeadZone(px float64) {
	if px >= 0 {
		c.deadZonePx = px
	}
}

// Lock returns the axis lock of the session in progress, or AxisNone
// before the dead zone is crossed.
func (c *Classifier) Lock() touch.AxisLock { return c.lock }

// LastLock returns the axis lock the most recently closed session ended
// with. The pipeline stamps it onto the session telemetry record.
func (c *Classifier) LastLock() touch.AxisLock { return c.lastLock }

// Handle processes one session-relative drag event in arrival order.
func (c *Classifier) Handle(ev l2sessions.DragEvent) {
	switch ev.Phase {
	case l1events.PhaseStart:
		c.inSession = true
		c.lock = touch.AxisNone

	case l1events.PhaseMove:
		if !c.inSession {
			return
		}
		if c.lock == touch.AxisNone {
			if math.Hypot(ev.DX, ev.DY) <= c.deadZonePx {
				return
			}
			// Dead zone crossed: decide once, for the whole session.
			if math.Abs(ev.DX) > math.Abs(ev.DY)*horizontalClaimRatio {
				c.lock = touch.AxisHorizontal
				touch.Tracef("element %d: session %s claimed horizontal", ev.ElementID, ev.SessionID)
				c.controller.OnDragStart()
			} else {
				c.lock = touch.AxisVertical
				touch.Tracef("element %d: session %s released vertical", ev.ElementID, ev.SessionID)
				return
			}
		}
		if c.lock == touch.AxisHorizontal {
			c.controller.OnDragMove(ev.DX)
		}

	case l1events.PhaseEnd, l1events.PhaseCancel:
		if !c.inSession {
			return
		}
		c.inSession = false
		c.lastLock = c.lock

		switch c.lock {
		case touch.AxisHorizontal:
			vx := ev.VX
			if ev.Phase == l1events.PhaseCancel {
				// Cancellation settles exactly like a release with zero
				// velocity; the controller must always reach rest.
				vx = 0
			}
			c.controller.OnDragEnd(ev.DX, vx)
		case touch.AxisNone:
			// Never crossed the dead zone: a tap, unless the session
			// was cancelled under us.
			if ev.Phase == l1events.PhaseEnd {
				c.controller.Tap()
			}
		}
		c.lock = touch.AxisNone
	}
}
