package touch

import (
	"fmt"
	"time"
)

// AxisLock is the per-session decision of whether a drag belongs to this
// engine (horizontal) or to an ancestor scroll view (vertical). It is set
// at most once per gesture session and never re-evaluated mid-drag.
type AxisLock string

const (
	// AxisNone means the session has not crossed the dead zone yet.
	AxisNone AxisLock = "none"
	// AxisHorizontal means the session was claimed by this engine.
	AxisHorizontal AxisLock = "horizontal"
	// AxisVertical means the session was released to an ancestor.
	AxisVertical AxisLock = "vertical"
)

// CommitKind labels a discrete interaction outcome recorded for telemetry.
type CommitKind string

const (
	// CommitIndexChange records a carousel snapping to a new active index.
	CommitIndexChange CommitKind = "index_change"
	// CommitRevealOpen records a row settling open.
	CommitRevealOpen CommitKind = "reveal_open"
	// CommitRevealClose records a row settling closed.
	CommitRevealClose CommitKind = "reveal_close"
	// CommitTapExpand records a tap toggling a closed row's expand state.
	CommitTapExpand CommitKind = "tap_expand"
	// CommitRejected records a drag that released below the commit
	// threshold and settled back where it started.
	CommitRejected CommitKind = "rejected"
)

// SessionRecord is the persisted summary of one gesture session. It is
// written when the session closes, whatever the outcome.
type SessionRecord struct {
	ID         string
	ElementID  uint32
	StartNanos int64
	EndNanos   int64
	Samples    int
	AxisLock   AxisLock
	NetDX      float64
	NetDY      float64
	ReleaseVX  float64
	ReleaseVY  float64
	Cancelled  bool
}

// Duration returns the session length.
func (r SessionRecord) Duration() time.Duration {
	return time.Duration(r.EndNanos - r.StartNanos)
}

// CommitRecord is the persisted form of one discrete interaction outcome.
// Index fields are meaningful only for carousel commits; Position only for
// reveal commits.
type CommitRecord struct {
	SessionID      string
	ElementID      uint32
	TimestampNanos int64
	Kind           CommitKind
	FromIndex      int
	ToIndex        int
	Position       float64
	Velocity       float64
}

// Tunables holds the engine-wide interaction thresholds. One instance is
// shared by all registered elements; per-element geometry (card offset,
// action width, card count) is supplied at registration time instead.
//
// The horizontal-claim ratio is intentionally absent: it is a fixed
// constant of the classifier, not a tunable.
type Tunables struct {
	// DeadZonePx is the total displacement (px) a touch must travel
	// before the axis-lock decision is made. Below it a release counts
	// as a tap.
	DeadZonePx float64

	// DragThresholdPx is the net horizontal displacement (px) a carousel
	// drag must exceed at release to commit an index change.
	DragThresholdPx float64

	// FlickVelocityThreshold is the release speed (px/ms) above which a
	// reveal drag resolves by velocity sign alone, overriding position.
	FlickVelocityThreshold float64

	// SpringTension and SpringFriction parameterise the settle springs
	// used by both controllers.
	SpringTension  float64
	SpringFriction float64

	// VelocityWindow is how far back the velocity estimator looks over
	// the recent-sample ring buffer.
	VelocityWindow time.Duration

	// SessionTimeout expires a session that stops producing samples
	// without an end or cancel (dropped datagrams, wedged digitizer).
	// Expiry runs through the cancel path, so controllers still settle.
	SessionTimeout time.Duration

	// FrameRate is the animation stepping rate of the dispatch loop, in
	// frames per second.
	FrameRate int
}

// DefaultTunables returns the production defaults.
func DefaultTunables() Tunables {
	return Tunables{
		DeadZonePx:             10,
		DragThresholdPx:        50,
		FlickVelocityThreshold: 0.3,
		SpringTension:          40,
		SpringFriction:         7,
		VelocityWindow:         80 * time.Millisecond,
		SessionTimeout:         10 * time.Second,
		FrameRate:              60,
	}
}

// Validate checks the tunables for values that would wedge the engine.
func (t Tunables) Validate() error {
	if t.DeadZonePx < 0 {
		return fmt.Errorf("dead zone must be >= 0, got %v", t.DeadZonePx)
	}
	if t.DragThresholdPx <= 0 {
		return fmt.Errorf("drag threshold must be > 0, got %v", t.DragThresholdPx)
	}
	if t.FlickVelocityThreshold <= 0 {
		return fmt.Errorf("flick threshold must be > 0, got %v", t.FlickVelocityThreshold)
	}
	if t.SpringTension <= 0 || t.SpringFriction <= 0 {
		return fmt.Errorf("spring tension and friction must be > 0, got %v/%v",
			t.SpringTension, t.SpringFriction)
	}
	if t.VelocityWindow <= 0 {
		return fmt.Errorf("velocity window must be > 0, got %v", t.VelocityWindow)
	}
	if t.SessionTimeout <= 0 {
		return fmt.Errorf("session timeout must be > 0, got %v", t.SessionTimeout)
	}
	if t.FrameRate < 1 || t.FrameRate > 240 {
		return fmt.Errorf("frame rate must be in [1, 240], got %d", t.FrameRate)
	}
	return nil
}
