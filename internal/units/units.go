// Package units holds conversion helpers for the pixel and velocity units
// used across the gesture engine.
//
// Internally the engine works in physical display pixels (px) for distances
// and pixels per millisecond (px/ms) for velocities, matching the convention
// of the mobile gesture systems this engine was extracted from (a flick
// threshold of 0.3 is 0.3 px/ms). Tooling and telemetry sometimes want
// density-independent pixels (dp) or per-second velocities, so the
// conversions live here rather than being repeated inline.
package units

import "fmt"

// Velocity unit identifiers accepted by ConvertVelocity.
const (
	PxPerMs  = "px/ms"
	PxPerSec = "px/s"
	DpPerSec = "dp/s"
)

// ValidVelocityUnits lists the accepted velocity unit strings.
var ValidVelocityUnits = []string{PxPerMs, PxPerSec, DpPerSec}

// IsValidVelocityUnit reports whether unit is an accepted velocity unit.
func IsValidVelocityUnit(unit string) bool {
	for _, u := range ValidVelocityUnits {
		if u == unit {
			return true
		}
	}
	return false
}

// DefaultDensity is the display density assumed when none is configured
// (1 dp == 1 px).
const DefaultDensity = 1.0

// msPerSec converts between per-millisecond and per-second rates.
const msPerSec = 1000.0

// PxToDp converts physical pixels to density-independent pixels.
// density is the px-per-dp scale factor of the display.
func PxToDp(px, density float64) float64 {
	if density <= 0 {
		density = DefaultDensity
	}
	return px / density
}

// DpToPx converts density-independent pixels to physical pixels.
func DpToPx(dp, density float64) float64 {
	if density <= 0 {
		density = DefaultDensity
	}
	return dp * density
}

// ConvertVelocity converts a velocity value between the supported units.
// density is only consulted for conversions involving dp.
func ConvertVelocity(v float64, from, to string, density float64) (float64, error) {
	if !IsValidVelocityUnit(from) {
		return 0, fmt.Errorf("unknown velocity unit %q", from)
	}
	if !IsValidVelocityUnit(to) {
		return 0, fmt.Errorf("unknown velocity unit %q", to)
	}
	if from == to {
		return v, nil
	}

	// Normalise to px/ms first.
	pxms := v
	switch from {
	case PxPerSec:
		pxms = v / msPerSec
	case DpPerSec:
		pxms = DpToPx(v, density) / msPerSec
	}

	switch to {
	case PxPerMs:
		return pxms, nil
	case PxPerSec:
		return pxms * msPerSec, nil
	case DpPerSec:
		return PxToDp(pxms*msPerSec, density), nil
	}
	return 0, fmt.Errorf("unknown velocity unit %q", to)
}
