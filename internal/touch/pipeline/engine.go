package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tactiledata/gesture.report/internal/timeutil"
	"github.com/tactiledata/gesture.report/internal/touch"
	"github.com/tactiledata/gesture.report/internal/touch/l1events"
	"github.com/tactiledata/gesture.report/internal/touch/l2sessions"
	"github.com/tactiledata/gesture.report/internal/touch/l3classify"
	"github.com/tactiledata/gesture.report/internal/touch/l4controllers"
	"github.com/tactiledata/gesture.report/internal/touch/l5motion"
)

// ElementKind distinguishes the two interaction types an element can be.
type ElementKind string

const (
	// KindCarousel is a snapping card carousel.
	KindCarousel ElementKind = "carousel"
	// KindReveal is a swipe-to-reveal row.
	KindReveal ElementKind = "reveal"
)

// CarouselParams is the per-element geometry and hooks for a carousel
// registration. Thresholds come from the engine tunables.
type CarouselParams struct {
	Count        int
	CardOffsetPx float64

	// OnIndexChange fires on the dispatch goroutine when a release
	// commits a new active index. Keep it cheap.
	OnIndexChange func(newIndex int)
}

// RevealParams is the per-element geometry and hooks for a reveal row
// registration. Thresholds come from the engine tunables.
type RevealParams struct {
	ActionWidthPx float64

	// OnOpen, OnClose and OnTapExpand fire on the dispatch goroutine
	// when the row settles open or closed, or a tap toggles its expand
	// state. Keep them cheap.
	OnOpen      func()
	OnClose     func()
	OnTapExpand func(expanded bool)
}

// ElementSnapshot is one element's frame values, read by renderers and
// the monitor every frame.
type ElementSnapshot struct {
	ElementID uint32      `json:"element_id"`
	Kind      ElementKind `json:"kind"`
	State     string      `json:"state"`
	Animating bool        `json:"animating"`

	// Carousel values.
	ActiveIndex int     `json:"active_index,omitempty"`
	DragOffset  float64 `json:"drag_offset,omitempty"`

	// Reveal values.
	Position float64 `json:"position,omitempty"`
	IsOpen   bool    `json:"is_open,omitempty"`
	Expanded bool    `json:"expanded,omitempty"`
}

// FrameSnapshot is the full engine state at one animation step.
type FrameSnapshot struct {
	TimestampNanos int64             `json:"timestamp_nanos"`
	Elements       []ElementSnapshot `json:"elements"`
}

// EngineStats counts engine-level event handling. The per-assembler
// degenerate-input counters are aggregated in by Stats().
type EngineStats struct {
	EventsIn        uint64
	EventsInvalid   uint64
	EventsUnrouted  uint64
	EventsDropped   uint64
	FramesStepped   uint64
	CommitsRecorded uint64
	l2sessions.Stats
}

type element struct {
	id         uint32
	kind       ElementKind
	assembler  *l2sessions.Assembler
	classifier ClassifyStage
	controller ControllerStage

	carousel *l4controllers.Carousel
	reveal   *l4controllers.Reveal

	// currentSessionID tracks the live session so commit records can
	// reference it.
	currentSessionID string
}

func (el *element) snapshot() ElementSnapshot {
	s := ElementSnapshot{ElementID: el.id, Kind: el.kind}
	switch el.kind {
	case KindCarousel:
		s.State = string(el.carousel.State())
		s.ActiveIndex = el.carousel.ActiveIndex()
		s.DragOffset = el.carousel.DragOffset()
		s.Animating = !el.carousel.Settled()
	case KindReveal:
		s.State = string(el.reveal.State())
		s.Position = el.reveal.Position()
		s.IsOpen = el.reveal.IsOpen()
		s.Expanded = el.reveal.Expanded()
		s.Animating = !el.reveal.Settled()
	}
	return s
}

// EngineConfig holds the engine's dependencies. Zero-value sinks are
// allowed; a nil Clock falls back to the real clock.
type EngineConfig struct {
	Tunables    touch.Tunables
	Clock       timeutil.Clock
	Persistence PersistenceSink
	Publish     PublishSink

	// EventBuffer is the capacity of the ingest queue feeding the
	// dispatch loop. Zero means a sensible default.
	EventBuffer int

	// OnCommit, when set, observes every commit record alongside the
	// persistence sink. It runs on the dispatch goroutine and must not
	// block.
	OnCommit func(touch.CommitRecord)

	// OnEventDropped, when set, is called once per event discarded by a
	// full ingest queue. It may be called from any Feed caller's
	// goroutine.
	OnEventDropped func()
}

// Engine owns the element registry and the serialized dispatch of
// pointer events and animation frames.
//
// Feed may be called from any goroutine; everything else that touches
// controller state runs under the engine mutex, which Run's dispatch
// loop holds one event or frame at a time. Process and StepFrame are
// exported for tools (sweep, replay analysis) that drive the engine
// synchronously without Run.
type Engine struct {
	clock       timeutil.Clock
	persistence PersistenceSink
	publish     PublishSink
	onCommit    func(touch.CommitRecord)
	onDropped   func()

	events chan l1events.PointerEvent

	mu       sync.Mutex
	tunables touch.Tunables
	elements map[uint32]*element
	stats    EngineStats
}

// NewEngine validates the tunables and returns an engine with no
// elements registered.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Tunables.Validate(); err != nil {
		return nil, fmt.Errorf("engine tunables: %w", err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = 1024
	}
	return &Engine{
		clock:       clock,
		persistence: cfg.Persistence,
		publish:     cfg.Publish,
		onCommit:    cfg.OnCommit,
		onDropped:   cfg.OnEventDropped,
		events:      make(chan l1events.PointerEvent, buf),
		tunables:    cfg.Tunables,
		elements:    make(map[uint32]*element),
	}, nil
}

// Tunables returns a copy of the current tunables.
func (e *Engine) Tunables() touch.Tunables {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tunables
}

// UpdateTunables applies fn to the tunables under the engine lock and
// pushes the threshold changes to all registered elements. Spring
// changes take effect for elements registered afterwards.
func (e *Engine) UpdateTunables(fn func(*touch.Tunables)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.tunables
	fn(&next)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("update tunables: %w", err)
	}
	e.tunables = next
	for _, el := range e.elements {
		if c, ok := el.classifier.(*l3classify.Classifier); ok {
			c.SetDeadZone(next.DeadZonePx)
		}
		switch el.kind {
		case KindCarousel:
			el.carousel.SetDragThreshold(next.DragThresholdPx)
		case KindReveal:
			el.reveal.SetFlickVelocityThreshold(next.FlickVelocityThreshold)
		}
	}
	touch.Opsf("tunables updated: %+v", next)
	return nil
}

// RegisterCarousel adds a carousel element. Registering an ID that is
// already present is an error; unregister it first.
func (e *Engine) RegisterCarousel(id uint32, params CarouselParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.elements[id]; exists {
		return fmt.Errorf("element %d already registered", id)
	}

	el := &element{id: id, kind: KindCarousel}
	c, err := l4controllers.NewCarousel(l4controllers.CarouselParams{
		Count:           params.Count,
		CardOffsetPx:    params.CardOffsetPx,
		DragThresholdPx: e.tunables.DragThresholdPx,
		Spring:          l5motion.Spring(e.tunables.SpringTension, e.tunables.SpringFriction),
		OnIndexChange:   params.OnIndexChange,
		OnResolve: func(committed bool, from, to int, dx, velocity float64) {
			kind := touch.CommitRejected
			if committed {
				kind = touch.CommitIndexChange
			}
			e.recordCommit(touch.CommitRecord{
				SessionID: el.currentSessionID,
				ElementID: id,
				Kind:      kind,
				FromIndex: from,
				ToIndex:   to,
				Position:  dx,
				Velocity:  velocity,
			})
		},
	})
	if err != nil {
		return fmt.Errorf("register carousel %d: %w", id, err)
	}
	el.carousel = c
	el.controller = c
	e.finishRegister(el)
	return nil
}

// RegisterReveal adds a swipe-to-reveal row element.
func (e *Engine) RegisterReveal(id uint32, params RevealParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.elements[id]; exists {
		return fmt.Errorf("element %d already registered", id)
	}

	el := &element{id: id, kind: KindReveal}
	r, err := l4controllers.NewReveal(l4controllers.RevealParams{
		ActionWidthPx:          params.ActionWidthPx,
		FlickVelocityThreshold: e.tunables.FlickVelocityThreshold,
		Spring:                 l5motion.Spring(e.tunables.SpringTension, e.tunables.SpringFriction),
		OnOpen:                 params.OnOpen,
		OnClose:                params.OnClose,
		OnTapExpand: func(expanded bool) {
			if params.OnTapExpand != nil {
				params.OnTapExpand(expanded)
			}
			e.recordCommit(touch.CommitRecord{
				SessionID: el.currentSessionID,
				ElementID: id,
				Kind:      touch.CommitTapExpand,
			})
		},
		OnResolve: func(changed, opened bool, dx, velocity float64) {
			kind := touch.CommitRejected
			if changed && opened {
				kind = touch.CommitRevealOpen
			} else if changed {
				kind = touch.CommitRevealClose
			}
			e.recordCommit(touch.CommitRecord{
				SessionID: el.currentSessionID,
				ElementID: id,
				Kind:      kind,
				Position:  dx,
				Velocity:  velocity,
			})
		},
	})
	if err != nil {
		return fmt.Errorf("register reveal %d: %w", id, err)
	}
	el.reveal = r
	el.controller = r
	e.finishRegister(el)
	return nil
}

// finishRegister wires the assembler and classifier onto el and installs
// it. Caller holds e.mu.
func (e *Engine) finishRegister(el *element) {
	el.classifier = l3classify.NewClassifier(e.tunables.DeadZonePx, el.controller)
	asm := l2sessions.NewAssembler(el.id, e.tunables.VelocityWindow)
	asm.OnEvent = func(ev l2sessions.DragEvent) {
		el.currentSessionID = ev.SessionID
		el.classifier.Handle(ev)
	}
	asm.OnClose = func(rec touch.SessionRecord) {
		rec.AxisLock = el.classifier.LastLock()
		if e.persistence != nil {
			if err := e.persistence.PersistSession(rec); err != nil {
				touch.Diagf("persist session %s: %v", rec.ID, err)
			}
		}
	}
	el.assembler = asm
	e.elements[el.id] = el
	touch.Opsf("registered %s element %d", el.kind, el.id)
}

// Unregister removes an element. Its in-flight session, if any, is not
// settled first; the element is simply gone, as on unmount.
func (e *Engine) Unregister(id uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.elements[id]; ok {
		delete(e.elements, id)
		touch.Opsf("unregistered element %d", id)
	}
}

// recordCommit persists a commit record, stamping the timestamp from the
// engine clock. Caller holds e.mu (commits only happen inside dispatch).
func (e *Engine) recordCommit(rec touch.CommitRecord) {
	rec.TimestampNanos = e.clock.NowNanos()
	e.stats.CommitsRecorded++
	touch.Diagf("element %d: commit %s (session %s)", rec.ElementID, rec.Kind, rec.SessionID)
	if e.persistence != nil {
		if err := e.persistence.PersistCommit(rec); err != nil {
			touch.Diagf("persist commit for element %d: %v", rec.ElementID, err)
		}
	}
	if e.onCommit != nil {
		e.onCommit(rec)
	}
}

// Feed enqueues a pointer event for dispatch. It is safe from any
// goroutine and never blocks; when the queue is full the event is
// dropped and counted, which the session-restart and expiry paths are
// built to absorb.
func (e *Engine) Feed(ev l1events.PointerEvent) {
	select {
	case e.events <- ev:
	default:
		e.mu.Lock()
		e.stats.EventsDropped++
		e.mu.Unlock()
		if e.onDropped != nil {
			e.onDropped()
		}
	}
}

// Process dispatches one pointer event synchronously: validation,
// session assembly, classification, controller update. Tools that replay
// logs call it directly; Run uses it for queued events.
func (e *Engine) Process(ev l1events.PointerEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.EventsIn++
	if err := ev.Validate(); err != nil {
		e.stats.EventsInvalid++
		touch.Tracef("dropping invalid event: %v", err)
		return
	}
	el, ok := e.elements[ev.ElementID]
	if !ok {
		e.stats.EventsUnrouted++
		return
	}
	el.assembler.Handle(ev)
}

// StepFrame advances every element's animation to nowNanos, expires
// stale sessions, and publishes a frame snapshot.
func (e *Engine) StepFrame(nowNanos int64) {
	e.mu.Lock()
	e.stats.FramesStepped++
	staleBefore := nowNanos - e.tunables.SessionTimeout.Nanoseconds()
	for _, el := range e.elements {
		if last := el.assembler.LastSampleNanos(); last > 0 && last < staleBefore {
			el.assembler.Expire(nowNanos)
		}
		el.controller.Step(nowNanos)
	}
	var frame FrameSnapshot
	publish := e.publish
	if publish != nil {
		frame = e.snapshotLocked(nowNanos)
	}
	e.mu.Unlock()

	if publish != nil {
		publish.PublishFrame(frame)
	}
}

// Snapshot returns the current frame values of every element, ordered
// by element ID.
func (e *Engine) Snapshot() FrameSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(e.clock.NowNanos())
}

func (e *Engine) snapshotLocked(nowNanos int64) FrameSnapshot {
	frame := FrameSnapshot{
		TimestampNanos: nowNanos,
		Elements:       make([]ElementSnapshot, 0, len(e.elements)),
	}
	for _, el := range e.elements {
		frame.Elements = append(frame.Elements, el.snapshot())
	}
	sort.Slice(frame.Elements, func(i, j int) bool {
		return frame.Elements[i].ElementID < frame.Elements[j].ElementID
	})
	return frame
}

// Stats returns the engine counters with the per-element assembler
// counters aggregated in.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.stats
	for _, el := range e.elements {
		s := el.assembler.Stats()
		out.SessionsOpened += s.SessionsOpened
		out.SessionsClosed += s.SessionsClosed
		out.SessionsCancelled += s.SessionsCancelled
		out.SessionsExpired += s.SessionsExpired
		out.OrphanMoves += s.OrphanMoves
		out.OrphanEnds += s.OrphanEnds
		out.RestartedSessions += s.RestartedSessions
	}
	return out
}

// Run is the dispatch loop: queued events and frame ticks interleave on
// this one goroutine until ctx is cancelled. Events queued ahead of a
// tick are dispatched in arrival order before the frame steps.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	frameRate := e.tunables.FrameRate
	e.mu.Unlock()

	interval := time.Second / time.Duration(frameRate)
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()

	touch.Opsf("dispatch loop running at %d fps", frameRate)
	for {
		select {
		case <-ctx.Done():
			touch.Opsf("dispatch loop stopped: %v", ctx.Err())
			return
		case ev := <-e.events:
			e.Process(ev)
		case <-ticker.Chan():
			// Drain events that arrived before this tick so controllers
			// never see a frame step ahead of their pending input.
			for {
				select {
				case ev := <-e.events:
					e.Process(ev)
					continue
				default:
				}
				break
			}
			e.StepFrame(e.clock.NowNanos())
		}
	}
}
