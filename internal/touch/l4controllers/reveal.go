package l4controllers

import (
	"fmt"
	"math"
	"reflect"

	"github.com/tactiledata/gesture.report/internal/touch/l5motion"
)

// RevealState is the row lifecycle state.
type RevealState string

const (
	// RevealClosed means the row rests at position 0 with actions hidden.
	RevealClosed RevealState = "closed"
	// RevealDragging means a claimed drag is moving the position live.
	RevealDragging RevealState = "dragging"
	// RevealOpening means a release resolved open and the spring is
	// still travelling toward -actionWidth.
	RevealOpening RevealState = "opening"
	// RevealOpen means the row rests at -actionWidth with actions shown.
	RevealOpen RevealState = "open"
	// RevealClosing means a release (or tap, or action) resolved closed
	// and the spring is still travelling toward 0.
	RevealClosing RevealState = "closing"
)

// RevealParams configures one swipe-to-reveal row.
type RevealParams struct {
	// ActionWidthPx is the width of the hidden action area; the open
	// resting position is -ActionWidthPx.
	ActionWidthPx float64

	// FlickVelocityThreshold is the release speed (px/ms) above which
	// resolution goes by velocity sign alone. At or below it, resolution
	// falls through to the position rule (open iff position is left of
	// -ActionWidthPx/3).
	FlickVelocityThreshold float64

	// Spring parameterises the settle to the resolved resting position.
	// The zero value falls back to the classic 40/7 spring.
	Spring l5motion.Transition

	// OnOpen fires when the row settles open (spring completed).
	OnOpen func()

	// OnClose fires when the row settles closed (spring completed).
	OnClose func()

	// OnTapExpand fires when a tap on the closed row toggles its
	// expand/collapse state, with the new state.
	OnTapExpand func(expanded bool)

	// OnResolve, if set, observes every release resolution: whether the
	// open/closed outcome differs from the pre-drag state, the resolved
	// outcome, and the release measurements. Used for telemetry; the
	// interaction does not depend on it.
	OnResolve func(changed, opened bool, netDX, velocity float64)
}

// Reveal owns one row's horizontal offset and open/closed state.
//
// State machine: CLOSED -> DRAGGING -> {OPENING -> OPEN | CLOSING ->
// CLOSED}, with OPEN symmetric. OPEN and CLOSED are resting states, not
// terminal ones; either can re-enter DRAGGING at any time, including by
// grabbing a mid-flight settle spring.
//
// The open/closed flag is not stored separately from the state machine,
// so it can never disagree with the resting position.
type Reveal struct {
	params RevealParams
	state  RevealState

	expanded bool
	wasOpen  bool // open/closed side before the current drag

	driver *l5motion.Driver
	base   float64 // position grabbed at drag start

	// pendingAction runs once the current close settle completes. At
	// most one action is pending; a later request replaces it.
	pendingAction func()
}

// NewReveal validates params and returns a row resting closed.
func NewReveal(params RevealParams) (*Reveal, error) {
	if params.ActionWidthPx <= 0 {
		return nil, fmt.Errorf("action width must be > 0, got %v", params.ActionWidthPx)
	}
	if params.FlickVelocityThreshold <= 0 {
		return nil, fmt.Errorf("flick threshold must be > 0, got %v", params.FlickVelocityThreshold)
	}
	if reflect.ValueOf(params.Spring).IsZero() {
		params.Spring = l5motion.Spring(40, 7)
	}
	return &Reveal{
		params: params,
		state:  RevealClosed,
		driver: l5motion.NewDriver(0),
	}, nil
}

// State returns the current lifecycle state.
func (r *Reveal) State() RevealState { return r.state }

// SetFlickVelocityThreshold updates the flick threshold for subsequent
// releases.
func (r *Reveal) SetFlickVelocityThreshold(v float64) {
	if v > 0 {
		r.params.FlickVelocityThreshold = v
	}
}

// Position returns the row's horizontal offset in [-actionWidth, 0].
func (r *Reveal) Position() float64 { return r.driver.Value() }

// IsOpen reports whether the row is resting open.
func (r *Reveal) IsOpen() bool { return r.state == RevealOpen }

// Expanded reports the orthogonal expand/collapse state toggled by taps.
func (r *Reveal) Expanded() bool { return r.expanded }

// Settled reports whether the row is at rest (open or closed, no spring
// in flight).
func (r *Reveal) Settled() bool {
	return (r.state == RevealOpen || r.state == RevealClosed) && !r.driver.Animating()
}

// OnDragStart begins a drag from wherever the row currently is. A
// mid-flight settle spring is grabbed in place without firing its
// completion; its resolved outcome still counts as the pre-drag side, so
// a drag that grabs a closing row and lets go resolves against "closing".
func (r *Reveal) OnDragStart() {
	if r.state == RevealDragging {
		return
	}
	r.wasOpen = r.state == RevealOpen || r.state == RevealOpening
	r.base = r.driver.Value()
	r.driver.SetValue(r.base)
	r.state = RevealDragging
	r.pendingAction = nil
}

// OnDragMove updates the position. dx is the session-net displacement,
// applied relative to where the drag started, then clamped to
// [-actionWidth, 0]; dragging past either end is a no-op beyond the
// clamp. Calls outside a drag are ignored.
func (r *Reveal) OnDragMove(dx float64) {
	if r.state != RevealDragging {
		return
	}
	r.driver.SetValue(clamp(r.base+dx, -r.params.ActionWidthPx, 0))
}

// OnDragEnd resolves the drag: velocity first, distance second. A flick
// (|velocity| above the threshold, px/ms) commits by velocity sign alone
// even when the position would resolve the other way; otherwise the row
// opens iff the position is left of -actionWidth/3. The resolved side is
// always reached through an animated spring, never a hard jump.
//
// A cancelled session must be routed here with zero velocity, which
// falls through to the position rule and therefore settles wherever the
// row already mostly is.
func (r *Reveal) OnDragEnd(dx, velocity float64) {
	if r.state != RevealDragging {
		return
	}

	var open bool
	if math.Abs(velocity) > r.params.FlickVelocityThreshold {
		open = velocity < 0
	} else {
		open = r.driver.Value() < -r.params.ActionWidthPx/3
	}

	if r.params.OnResolve != nil {
		r.params.OnResolve(open != r.wasOpen, open, dx, velocity)
	}
	if open {
		r.settleOpen()
	} else {
		r.settleClosed()
	}
}

// Tap handles a touch that released inside the dead zone. On a closed,
// resting row it toggles the expand/collapse state; on an open (or still
// settling) row it only closes the row, so a stray tap can never trigger
// an action or expansion while actions are showing.
func (r *Reveal) Tap() {
	switch r.state {
	case RevealClosed:
		if r.driver.Animating() {
			return
		}
		r.expanded = !r.expanded
		if r.params.OnTapExpand != nil {
			r.params.OnTapExpand(r.expanded)
		}
	case RevealOpen, RevealOpening:
		r.settleClosed()
	}
}

// TriggerAction requests one of the revealed actions (edit, delete). The
// row animates closed first and run executes only once the close settle
// completes, so the user sees the row close before the action's effect
// appears. Ignored unless the row is open or opening; a second request
// before the close completes replaces the first.
func (r *Reveal) TriggerAction(run func()) {
	if r.state != RevealOpen && r.state != RevealOpening {
		return
	}
	r.pendingAction = run
	r.settleClosed()
}

// Step advances the settle animation to nowNanos and reports whether it
// is still running.
func (r *Reveal) Step(nowNanos int64) bool {
	return r.driver.Step(nowNanos)
}

func (r *Reveal) settleOpen() {
	r.state = RevealOpening
	r.pendingAction = nil
	r.driver.Retarget(-r.params.ActionWidthPx, r.params.Spring, func() {
		r.state = RevealOpen
		if r.params.OnOpen != nil {
			r.params.OnOpen()
		}
	})
}

func (r *Reveal) settleClosed() {
	r.state = RevealClosing
	r.driver.Retarget(0, r.params.Spring, func() {
		r.state = RevealClosed
		if r.params.OnClose != nil {
			r.params.OnClose()
		}
		if action := r.pendingAction; action != nil {
			r.pendingAction = nil
			action()
		}
	})
}
