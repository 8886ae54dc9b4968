// Package l5motion animates scalar values over discrete frame steps.
//
// A Driver owns one float64 value (a drag offset, a row position) and
// moves it toward a target under either a spring or a timed easing curve.
// It never runs its own goroutine or timer: the owner calls Step from its
// frame loop and the driver advances synchronously, which keeps the whole
// engine single-threaded and lets tests drive time explicitly.
//
// Drivers are not safe for concurrent use; all calls must come from the
// dispatch goroutine that owns the element.
package l5motion

import (
	"math"
	"time"
)

// Kind selects the transition physics.
type Kind uint8

const (
	// KindSpring integrates a damped spring toward the target.
	KindSpring Kind = iota
	// KindTiming interpolates over a fixed duration with an easing curve.
	KindTiming
)

// Transition describes how a value travels to its target.
type Transition struct {
	Kind Kind

	// Spring parameters. Tension is the stiffness (1/s^2), Friction the
	// damping (1/s); the classic mobile defaults are 40 and 7.
	Tension  float64
	Friction float64

	// Timing parameters. A nil Easing falls back to EaseInOut.
	Duration time.Duration
	Easing   EasingFunc
}

// Spring returns a spring transition with the given tension and friction.
func Spring(tension, friction float64) Transition {
	return Transition{Kind: KindSpring, Tension: tension, Friction: friction}
}

// Timing returns a timed transition with the given duration and easing.
func Timing(d time.Duration, easing EasingFunc) Transition {
	return Transition{Kind: KindTiming, Duration: d, Easing: easing}
}

// Rest thresholds. A spring is finished when both the remaining
// displacement and the speed drop below these.
const (
	restDisplacement = 0.01  // px
	restSpeed        = 0.05  // px/s
	springSubstep    = 0.001 // s; integration granularity
	maxFrameDelta    = 0.064 // s; clamp for stalls and clock jumps
)

// Driver advances one scalar value through transitions.
type Driver struct {
	value    float64
	velocity float64 // px/s, spring state
	target   float64

	animating bool
	trans     Transition
	done      func()

	// timing bookkeeping
	fromValue  float64
	startNanos int64

	// spring bookkeeping
	lastNanos int64
}

// NewDriver returns a driver resting at the given value.
func NewDriver(initial float64) *Driver {
	return &Driver{value: initial, target: initial}
}

// Value returns the current scalar value.
func (d *Driver) Value() float64 { return d.value }

// Velocity returns the current spring velocity in px/s. It is zero while
// resting and during timing transitions.
func (d *Driver) Velocity() float64 { return d.velocity }

// Target returns the destination of the active or last transition.
func (d *Driver) Target() float64 { return d.target }

// Animating reports whether a transition is in flight.
func (d *Driver) Animating() bool { return d.animating }

// SetValue jumps the value immediately, halting any transition without
// firing its completion callback. This is the "grab" operation a new
// touch-down performs on a mid-flight animation.
func (d *Driver) SetValue(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	d.value = v
	d.target = v
	d.velocity = 0
	d.animating = false
	d.done = nil
}

// SetVelocity seeds the spring velocity (px/s) for the next transition,
// letting a settle spring inherit the gesture's release speed.
func (d *Driver) SetVelocity(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	d.velocity = v
}

// Stop halts any transition in place without firing its callback.
func (d *Driver) Stop() {
	d.animating = false
	d.done = nil
	d.velocity = 0
}

// Retarget starts (or redirects) a transition toward target. If a
// transition is already in flight its completion callback is discarded
// and will never fire; only the callback of the transition that actually
// reaches its target runs, exactly once. A nil done is allowed.
func (d *Driver) Retarget(target float64, t Transition, done func()) {
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return
	}
	d.target = target
	d.trans = t
	d.done = done
	d.animating = true
	d.startNanos = 0
	d.lastNanos = 0
	d.fromValue = d.value
	if t.Kind == KindTiming {
		d.velocity = 0
	}

	// Already at rest on the target: finish on the next Step rather than
	// synchronously, so callers see uniform callback ordering.
}

// Step advances the value to the given time (Unix nanos) and reports
// whether the driver is still animating afterwards. The completion
// callback, if due, fires after the driver has fully settled, so it may
// safely retarget or grab the driver again.
func (d *Driver) Step(nowNanos int64) bool {
	if !d.animating {
		return false
	}

	switch d.trans.Kind {
	case KindTiming:
		d.stepTiming(nowNanos)
	default:
		d.stepSpring(nowNanos)
	}
	return d.animating
}

func (d *Driver) stepTiming(nowNanos int64) {
	if d.startNanos == 0 {
		d.startNanos = nowNanos
	}
	dur := d.trans.Duration
	if dur <= 0 {
		d.finish()
		return
	}
	p := float64(nowNanos-d.startNanos) / float64(dur.Nanoseconds())
	if p >= 1 {
		d.finish()
		return
	}
	if p < 0 {
		p = 0
	}
	easing := d.trans.Easing
	if easing == nil {
		easing = EaseInOut
	}
	d.value = d.fromValue + (d.target-d.fromValue)*easing(p)
}

func (d *Driver) stepSpring(nowNanos int64) {
	if d.lastNanos == 0 {
		d.lastNanos = nowNanos
		return
	}
	dt := float64(nowNanos-d.lastNanos) / 1e9
	d.lastNanos = nowNanos
	if dt <= 0 {
		return
	}
	if dt > maxFrameDelta {
		dt = maxFrameDelta
	}

	tension := d.trans.Tension
	friction := d.trans.Friction
	if tension <= 0 || friction <= 0 {
		// Degenerate spring; land immediately rather than dividing into
		// nonsense.
		d.finish()
		return
	}

	// Semi-implicit Euler in fixed substeps keeps stiff springs stable
	// at any frame rate.
	for dt > 0 {
		h := springSubstep
		if dt < h {
			h = dt
		}
		accel := tension*(d.target-d.value) - friction*d.velocity
		d.velocity += accel * h
		d.value += d.velocity * h
		dt -= h
	}

	if math.Abs(d.value-d.target) < restDisplacement && math.Abs(d.velocity) < restSpeed {
		d.finish()
	}
}

// finish snaps to the target and fires the completion callback exactly
// once. The callback slot is cleared first so reentrant calls (a callback
// that retargets) behave.
func (d *Driver) finish() {
	d.value = d.target
	d.velocity = 0
	d.animating = false
	cb := d.done
	d.done = nil
	if cb != nil {
		cb()
	}
}
