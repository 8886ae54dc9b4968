// This file provides synthetic gesture generation for testing and demos.

package recorder

import (
	"math"
	"math/rand"
	"time"

	"github.com/tactiledata/gesture.report/internal/touch/l1events"
)

// SyntheticGenerator produces pointer event streams that look like real
// gestures: eased swipes, short sharp flicks, vertical scrolls and taps,
// with sensor-level jitter on every sample. Each call advances an
// internal clock, so consecutive gestures form a valid session log.
type SyntheticGenerator struct {
	rng       *rand.Rand
	nowNanos  int64
	pointerID uint32

	// Configuration
	DisplayW         float64 // display width in px
	DisplayH         float64 // display height in px
	SampleIntervalMs float64 // digitizer sample spacing
	JitterPx         float64 // per-sample positional noise
	GestureGapMs     float64 // idle time between gestures
}

// NewSyntheticGenerator creates a generator with a deterministic seed.
// The same seed always yields the same event stream.
func NewSyntheticGenerator(seed int64) *SyntheticGenerator {
	return &SyntheticGenerator{
		rng:              rand.New(rand.NewSource(seed)),
		nowNanos:         time.Now().UnixNano(),
		DisplayW:         1080,
		DisplayH:         1920,
		SampleIntervalMs: 16,
		JitterPx:         1.5,
		GestureGapMs:     600,
	}
}

// Swipe generates a deliberate horizontal drag of dx pixels. The motion
// eases out, so the release velocity is low and any commit decision
// rests on distance.
func (g *SyntheticGenerator) Swipe(elementID uint32, dx float64) []l1events.PointerEvent {
	return g.gesture(elementID, dx, 0, 400, true, l1events.PhaseEnd)
}

// Flick generates a short fast horizontal motion of dx pixels. At the
// default 90ms duration a 60px flick releases well above typical
// velocity thresholds.
func (g *SyntheticGenerator) Flick(elementID uint32, dx float64) []l1events.PointerEvent {
	return g.gesture(elementID, dx, 0, 90, false, l1events.PhaseEnd)
}

// VerticalScroll generates a vertical drag of dy pixels, the kind of
// motion the classifier should lock vertical and hand back to the host
// scroll view.
func (g *SyntheticGenerator) VerticalScroll(elementID uint32, dy float64) []l1events.PointerEvent {
	return g.gesture(elementID, 0, dy, 300, true, l1events.PhaseEnd)
}

// Tap generates a press and release with sub-dead-zone movement.
func (g *SyntheticGenerator) Tap(elementID uint32) []l1events.PointerEvent {
	return g.gesture(elementID, 0, 0, 70, true, l1events.PhaseEnd)
}

// CancelledSwipe generates a swipe whose session ends with a cancel,
// as when an ancestor view steals the gesture mid-drag.
func (g *SyntheticGenerator) CancelledSwipe(elementID uint32, dx float64) []l1events.PointerEvent {
	return g.gesture(elementID, dx, 0, 400, true, l1events.PhaseCancel)
}

// gesture emits start, eased move samples and a final phase, advancing
// the clock past the gesture plus an idle gap.
func (g *SyntheticGenerator) gesture(elementID uint32, dx, dy, durationMs float64, easeOut bool, final l1events.Phase) []l1events.PointerEvent {
	g.pointerID++

	startX := g.startCoord(g.DisplayW, dx)
	startY := g.startCoord(g.DisplayH, dy)

	steps := int(durationMs / g.SampleIntervalMs)
	if steps < 2 {
		steps = 2
	}
	intervalNanos := int64(g.SampleIntervalMs * 1e6)

	events := make([]l1events.PointerEvent, 0, steps+2)
	events = append(events, l1events.PointerEvent{
		ElementID:      elementID,
		PointerID:      g.pointerID,
		Phase:          l1events.PhaseStart,
		X:              startX,
		Y:              startY,
		TimestampNanos: g.nowNanos,
	})

	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		p := t
		if easeOut {
			p = 1 - math.Pow(1-t, 3)
		}
		events = append(events, l1events.PointerEvent{
			ElementID:      elementID,
			PointerID:      g.pointerID,
			Phase:          l1events.PhaseMove,
			X:              startX + dx*p + g.jitter(),
			Y:              startY + dy*p + g.jitter(),
			TimestampNanos: g.nowNanos + int64(i)*intervalNanos,
		})
	}

	endNanos := g.nowNanos + int64(steps+1)*intervalNanos
	events = append(events, l1events.PointerEvent{
		ElementID:      elementID,
		PointerID:      g.pointerID,
		Phase:          final,
		X:              startX + dx,
		Y:              startY + dy,
		TimestampNanos: endNanos,
	})

	g.nowNanos = endNanos + int64(g.GestureGapMs*(0.5+g.rng.Float64())*1e6)
	return events
}

// startCoord picks a start so the gesture stays on the display.
func (g *SyntheticGenerator) startCoord(extent, delta float64) float64 {
	lo, hi := extent*0.2, extent*0.8
	if delta > 0 {
		hi = math.Min(hi, extent-delta-10)
	} else if delta < 0 {
		lo = math.Max(lo, -delta+10)
	}
	if hi <= lo {
		return extent / 2
	}
	return lo + g.rng.Float64()*(hi-lo)
}

func (g *SyntheticGenerator) jitter() float64 {
	return (g.rng.Float64()*2 - 1) * g.JitterPx
}
