// Package l4controllers implements the two interaction state machines the
// engine exposes: a snapping card carousel and a swipe-to-reveal row.
//
// Both controllers receive already-classified horizontal drags from
// l3classify and drive their continuous value (drag offset, row position)
// through an l5motion driver. They share the session-relative drag
// convention: dx passed to OnDragMove/OnDragEnd is the net horizontal
// displacement since the session started, not an increment.
//
// Controllers are not safe for concurrent use; all calls must come from
// the dispatch goroutine that owns the element.
package l4controllers

import (
	"fmt"
	"math"
	"reflect"

	"github.com/tactiledata/gesture.report/internal/touch/l5motion"
)

// SnapState is the carousel lifecycle state.
type SnapState string

const (
	// SnapIdle means no drag is active; the offset is resting or
	// decaying cosmetically toward zero.
	SnapIdle SnapState = "idle"
	// SnapDragging means a claimed drag is moving the offset live.
	SnapDragging SnapState = "dragging"
)

// Visible interpolation window: two cards each side of the active one.
// Cards beyond it clamp to the window's extreme transform.
const visibleWindow = 2.0

// Per-slot transform stops for the interpolation window. Index 0 is the
// centered card, 1 the adjacent slot, 2 the far slot.
var (
	scaleStops   = [3]float64{1.0, 0.9, 0.8}
	opacityStops = [3]float64{1.0, 0.7, 0.4}
)

// CardTransform is the derived per-card presentation state. It is computed
// on demand and never stored.
type CardTransform struct {
	TranslateX float64
	Scale      float64
	Opacity    float64
	ZIndex     int
}

// CarouselParams configures one carousel element.
type CarouselParams struct {
	// Count is the number of cards. Must be >= 1.
	Count int

	// CardOffsetPx is the horizontal distance between adjacent card
	// slots, and therefore the drag distance for one full slot sweep.
	CardOffsetPx float64

	// DragThresholdPx is the net displacement a release must exceed to
	// commit an index change. Release velocity is deliberately not part
	// of the rule; resolution is by distance alone.
	DragThresholdPx float64

	// Spring parameterises the cosmetic offset decay after release. The
	// zero value falls back to the classic 40/7 spring.
	Spring l5motion.Transition

	// OnIndexChange fires synchronously when a release commits a new
	// active index, before the decay animation starts.
	OnIndexChange func(newIndex int)

	// OnResolve, if set, observes every release resolution: whether it
	// committed, the index movement, and the release measurements. Used
	// for telemetry; the interaction does not depend on it.
	OnResolve func(committed bool, fromIndex, toIndex int, netDX, velocity float64)
}

// Carousel owns one carousel element's index and drag offset.
//
// State machine: IDLE -> DRAGGING -> IDLE, with the index commit occurring
// synchronously at the DRAGGING -> IDLE edge. The offset decay that
// follows is purely cosmetic and does not reenter DRAGGING.
type Carousel struct {
	params CarouselParams
	state  SnapState

	activeIndex       int
	committedVelocity float64

	driver *l5motion.Driver
	base   float64 // residual offset grabbed at drag start
}

// NewCarousel validates params and returns a carousel resting at index 0.
func NewCarousel(params CarouselParams) (*Carousel, error) {
	if params.Count < 1 {
		return nil, fmt.Errorf("carousel needs at least one card, got %d", params.Count)
	}
	if params.CardOffsetPx <= 0 {
		return nil, fmt.Errorf("card offset must be > 0, got %v", params.CardOffsetPx)
	}
	if params.DragThresholdPx <= 0 {
		return nil, fmt.Errorf("drag threshold must be > 0, got %v", params.DragThresholdPx)
	}
	if reflect.ValueOf(params.Spring).IsZero() {
		params.Spring = l5motion.Spring(40, 7)
	}
	return &Carousel{
		params: params,
		state:  SnapIdle,
		driver: l5motion.NewDriver(0),
	}, nil
}

// State returns the current lifecycle state.
func (c *Carousel) State() SnapState { return c.state }

// SetDragThreshold updates the commit threshold for subsequent releases.
func (c *Carousel) SetDragThreshold(px float64) {
	if px > 0 {
		c.params.DragThresholdPx = px
	}
}

// ActiveIndex returns the committed card index.
func (c *Carousel) ActiveIndex() int { return c.activeIndex }

// DragOffset returns the live drag offset in px.
func (c *Carousel) DragOffset() float64 { return c.driver.Value() }

// CommittedVelocity returns the release velocity (px/ms) recorded at the
// last resolution. It is tracked for telemetry only and never influences
// the commit decision.
func (c *Carousel) CommittedVelocity() float64 { return c.committedVelocity }

// Settled reports whether the offset has fully decayed after release.
func (c *Carousel) Settled() bool {
	return c.state == SnapIdle && !c.driver.Animating()
}

// OnDragStart begins a drag. If a settle animation is in flight the
// offset is grabbed in place: the animation halts without firing its
// completion and the drag continues from the current value.
func (c *Carousel) OnDragStart() {
	if c.state == SnapDragging {
		return
	}
	c.base = c.driver.Value()
	c.driver.SetValue(c.base)
	c.state = SnapDragging
}

// OnDragMove updates the live offset. dx is the session-net displacement.
// Calls outside a drag are ignored.
func (c *Carousel) OnDragMove(dx float64) {
	if c.state != SnapDragging {
		return
	}
	c.driver.SetValue(c.base + dx)
}

// OnDragEnd resolves the drag. If net |dx| exceeds the distance threshold
// and the neighboring index exists, the active index moves by one in the
// drag direction, synchronously; otherwise the index is unchanged. Either
// way the visual offset then decays to zero through the spring.
//
// A cancelled session must be routed here with zero velocity; the
// resolution below is identical either way since velocity is unused.
func (c *Carousel) OnDragEnd(dx, velocity float64) {
	if c.state != SnapDragging {
		return
	}
	c.state = SnapIdle
	c.committedVelocity = velocity

	from := c.activeIndex
	dir := 0
	if math.Abs(dx) > c.params.DragThresholdPx {
		if dx < 0 {
			dir = 1 // dragging left advances to the next card
		} else {
			dir = -1
		}
	}
	to := clampInt(from+dir, 0, c.params.Count-1)

	committed := to != from
	if committed {
		c.activeIndex = to
		// Rebase the offset so the cards hold their on-screen positions
		// across the index change; only the remainder animates away.
		c.driver.SetValue(c.driver.Value() + c.params.CardOffsetPx*float64(to-from))
		if c.params.OnIndexChange != nil {
			c.params.OnIndexChange(to)
		}
	}
	if c.params.OnResolve != nil {
		c.params.OnResolve(committed, from, to, dx, velocity)
	}

	c.driver.Retarget(0, c.params.Spring, nil)
}

// Tap is a no-op for carousels; card activation is the host's concern.
func (c *Carousel) Tap() {}

// Step advances the settle animation to nowNanos and reports whether it
// is still running.
func (c *Carousel) Step(nowNanos int64) bool {
	return c.driver.Step(nowNanos)
}

// TransformFor computes the presentation transform for the card at the
// given index relative to the active card, under the given drag offset.
// It is a pure function of its arguments and the carousel geometry.
func (c *Carousel) TransformFor(relIndex int, dragOffset float64) CardTransform {
	slot := float64(relIndex) + dragOffset/c.params.CardOffsetPx
	slot = clamp(slot, -visibleWindow, visibleWindow)
	abs := math.Abs(slot)
	return CardTransform{
		TranslateX: slot * c.params.CardOffsetPx,
		Scale:      interpolateStops(abs, scaleStops),
		Opacity:    interpolateStops(abs, opacityStops),
		ZIndex:     int(visibleWindow) + 1 - int(math.Round(abs)),
	}
}

// interpolateStops maps abs in [0, 2] piecewise-linearly over the three
// slot stops, clamping outside the range.
func interpolateStops(abs float64, stops [3]float64) float64 {
	switch {
	case abs <= 0:
		return stops[0]
	case abs <= 1:
		return stops[0] + (stops[1]-stops[0])*abs
	case abs <= 2:
		return stops[1] + (stops[2]-stops[1])*(abs-1)
	default:
		return stops[2]
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
