package pipeline

import (
	"github.com/tactiledata/gesture.report/internal/touch"
	"github.com/tactiledata/gesture.report/internal/touch/l2sessions"
)

// ClassifyStage routes session-relative drag events to a controller.
// l3classify.Classifier is the production implementation; tools can
// substitute their own to run partial pipelines.
type ClassifyStage interface {
	Handle(ev l2sessions.DragEvent)
	Lock() touch.AxisLock
	LastLock() touch.AxisLock
}

// ControllerStage is the drag consumer behind a classifier. Both
// l4controllers.Carousel and l4controllers.Reveal satisfy it.
type ControllerStage interface {
	OnDragStart()
	OnDragMove(dx float64)
	OnDragEnd(dx, velocity float64)
	Tap()

	// Step advances any settle animation to nowNanos and reports
	// whether it is still running.
	Step(nowNanos int64) bool
}

// PersistenceSink records session and commit telemetry. Implementations
// live outside the layer packages (internal/db). Errors are logged and
// dropped; telemetry must never stall the interaction path.
type PersistenceSink interface {
	PersistSession(rec touch.SessionRecord) error
	PersistCommit(rec touch.CommitRecord) error
}

// PublishSink receives a frame snapshot after every animation step, for
// renderers and monitors that want push delivery rather than polling
// Engine.Snapshot.
type PublishSink interface {
	PublishFrame(frame FrameSnapshot)
}
