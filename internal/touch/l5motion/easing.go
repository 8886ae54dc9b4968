package l5motion

// EasingFunc maps normalised progress in [0, 1] to an output fraction.
// Implementations must return 0 at 0 and 1 at 1.
type EasingFunc func(p float64) float64

// Linear is constant-rate progress.
func Linear(p float64) float64 { return p }

// EaseOut decelerates into the target (cubic).
func EaseOut(p float64) float64 {
	q := 1 - p
	return 1 - q*q*q
}

// EaseInOut accelerates through the first half and decelerates through
// the second (cubic).
func EaseInOut(p float64) float64 {
	if p < 0.5 {
		return 4 * p * p * p
	}
	q := -2*p + 2
	return 1 - q*q*q/2
}
