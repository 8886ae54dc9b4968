package sweep

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/tactiledata/gesture.report/internal/timeutil"
	"github.com/tactiledata/gesture.report/internal/touch"
	"github.com/tactiledata/gesture.report/internal/touch/pipeline"
	"github.com/tactiledata/gesture.report/internal/touch/recorder"
)

// Params is one threshold combination under test.
type Params struct {
	DeadZonePx             float64
	DragThresholdPx        float64
	FlickVelocityThreshold float64
}

// ElementSpec describes one element to register before a replay run.
type ElementSpec struct {
	ID   uint32
	Kind pipeline.ElementKind

	// Carousel geometry; ignored for reveal rows.
	Count        int
	CardOffsetPx float64

	// Reveal geometry; ignored for carousels.
	ActionWidthPx float64
}

// Result aggregates what one threshold combination made of the log.
type Result struct {
	Params

	Sessions   int
	Cancelled  int
	Horizontal int
	Vertical   int

	IndexChanges int
	RevealOpens  int
	RevealCloses int
	TapExpands   int
	Rejected     int

	// CommitRate is committed outcomes (anything but rejected) over
	// horizontal sessions. The usual tuning goal is the highest rate
	// that does not misclassify vertical scrolls.
	CommitRate float64

	MeanNetDX   float64
	StdDevNetDX float64
}

// Committed returns the count of non-rejected outcomes.
func (r Result) Committed() int {
	return r.IndexChanges + r.RevealOpens + r.RevealCloses + r.TapExpands
}

// memorySink collects persisted telemetry in memory for aggregation.
type memorySink struct {
	mu       sync.Mutex
	sessions []touch.SessionRecord
	commits  []touch.CommitRecord
}

func (m *memorySink) PersistSession(rec touch.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, rec)
	return nil
}

func (m *memorySink) PersistCommit(rec touch.CommitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = append(m.commits, rec)
	return nil
}

// Runner replays one session log through a fresh engine per parameter
// combination.
type Runner struct {
	logPath  string
	elements []ElementSpec
	base     touch.Tunables
}

// NewRunner creates a runner for the given log. The base tunables
// provide every threshold a combination does not override. An empty
// element list is filled by scanning the log and registering a default
// carousel per element seen.
func NewRunner(logPath string, elements []ElementSpec, base touch.Tunables) (*Runner, error) {
	if err := base.Validate(); err != nil {
		return nil, fmt.Errorf("base tunables: %w", err)
	}
	if len(elements) == 0 {
		scanned, err := ElementsFromLog(logPath)
		if err != nil {
			return nil, err
		}
		elements = scanned
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("log %s contains no elements", logPath)
	}
	return &Runner{logPath: logPath, elements: elements, base: base}, nil
}

// ElementsFromLog scans a log and returns a default three-card carousel
// spec for every element ID it mentions.
func ElementsFromLog(logPath string) ([]ElementSpec, error) {
	rep, err := recorder.NewReplayer(logPath)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	seen := make(map[uint32]bool)
	var ids []uint32
	for {
		ev, err := rep.ReadEvent()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		if !seen[ev.ElementID] {
			seen[ev.ElementID] = true
			ids = append(ids, ev.ElementID)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	specs := make([]ElementSpec, 0, len(ids))
	for _, id := range ids {
		specs = append(specs, ElementSpec{ID: id, Kind: pipeline.KindCarousel, Count: 3, CardOffsetPx: 260})
	}
	return specs, nil
}

// BuildParamGrid returns the cartesian product of the three threshold
// lists as Params.
func BuildParamGrid(deadZones, dragThresholds, flickThresholds []float64) []Params {
	var grid []Params
	for _, dz := range deadZones {
		for _, dt := range dragThresholds {
			for _, ft := range flickThresholds {
				grid = append(grid, Params{
					DeadZonePx:             dz,
					DragThresholdPx:        dt,
					FlickVelocityThreshold: ft,
				})
			}
		}
	}
	return grid
}

// Run replays the log once per combination and returns one Result each,
// in input order.
func (r *Runner) Run(grid []Params) ([]Result, error) {
	results := make([]Result, 0, len(grid))
	for _, p := range grid {
		res, err := r.runOne(p)
		if err != nil {
			return results, fmt.Errorf("params %+v: %w", p, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// settleSeconds is how long past the last event the engine keeps
// stepping frames so trailing animations resolve and idle sessions can
// be expired.
const settleSeconds = 3

func (r *Runner) runOne(p Params) (Result, error) {
	rep, err := recorder.NewReplayer(r.logPath)
	if err != nil {
		return Result{}, fmt.Errorf("open log: %w", err)
	}

	tun := r.base
	tun.DeadZonePx = p.DeadZonePx
	tun.DragThresholdPx = p.DragThresholdPx
	tun.FlickVelocityThreshold = p.FlickVelocityThreshold
	if err := tun.Validate(); err != nil {
		return Result{}, err
	}

	sink := &memorySink{}
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	eng, err := pipeline.NewEngine(pipeline.EngineConfig{
		Tunables:    tun,
		Clock:       clock,
		Persistence: sink,
	})
	if err != nil {
		return Result{}, err
	}
	for _, el := range r.elements {
		switch el.Kind {
		case pipeline.KindCarousel:
			err = eng.RegisterCarousel(el.ID, pipeline.CarouselParams{Count: el.Count, CardOffsetPx: el.CardOffsetPx})
		case pipeline.KindReveal:
			err = eng.RegisterReveal(el.ID, pipeline.RevealParams{ActionWidthPx: el.ActionWidthPx})
		default:
			err = fmt.Errorf("unknown element kind %q", el.Kind)
		}
		if err != nil {
			return Result{}, fmt.Errorf("register element %d: %w", el.ID, err)
		}
	}

	// Drive the engine synchronously: events in timestamp order with
	// frame steps interleaved at the configured frame rate.
	interval := int64(time.Second) / int64(tun.FrameRate)
	var nextFrame int64
	for {
		ev, err := rep.ReadEvent()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("read event: %w", err)
		}
		if nextFrame == 0 {
			nextFrame = ev.TimestampNanos + interval
		}
		for nextFrame <= ev.TimestampNanos {
			eng.StepFrame(nextFrame)
			nextFrame += interval
		}
		clock.Set(time.Unix(0, ev.TimestampNanos))
		eng.Process(ev)
	}
	for i := int64(0); i < settleSeconds*int64(tun.FrameRate); i++ {
		clock.Set(time.Unix(0, nextFrame))
		eng.StepFrame(nextFrame)
		nextFrame += interval
	}

	return summarize(p, sink), nil
}

func summarize(p Params, sink *memorySink) Result {
	sink.mu.Lock()
	defer sink.mu.Unlock()

	res := Result{Params: p, Sessions: len(sink.sessions)}
	var netDX []float64
	for _, s := range sink.sessions {
		if s.Cancelled {
			res.Cancelled++
		}
		switch s.AxisLock {
		case touch.AxisHorizontal:
			res.Horizontal++
			netDX = append(netDX, s.NetDX)
		case touch.AxisVertical:
			res.Vertical++
		}
	}
	for _, c := range sink.commits {
		switch c.Kind {
		case touch.CommitIndexChange:
			res.IndexChanges++
		case touch.CommitRevealOpen:
			res.RevealOpens++
		case touch.CommitRevealClose:
			res.RevealCloses++
		case touch.CommitTapExpand:
			res.TapExpands++
		case touch.CommitRejected:
			res.Rejected++
		}
	}
	if res.Horizontal > 0 {
		res.CommitRate = float64(res.Committed()) / float64(res.Horizontal)
	}
	if len(netDX) > 0 {
		res.MeanNetDX = stat.Mean(netDX, nil)
		if len(netDX) > 1 {
			res.StdDevNetDX = stat.StdDev(netDX, nil)
		}
	}
	return res
}

// SortByCommitRate orders results best-first: highest commit rate, ties
// broken by fewest rejections.
func SortByCommitRate(results []Result) {
	sort.SliceStable(results, func(a, b int) bool {
		if results[a].CommitRate != results[b].CommitRate {
			return results[a].CommitRate > results[b].CommitRate
		}
		return results[a].Rejected < results[b].Rejected
	})
}

// WriteCSV writes results with a header row.
func WriteCSV(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	header := []string{
		"dead_zone_px", "drag_threshold_px", "flick_velocity_threshold",
		"sessions", "cancelled", "horizontal", "vertical",
		"index_changes", "reveal_opens", "reveal_closes", "tap_expands", "rejected",
		"commit_rate", "mean_net_dx", "stddev_net_dx",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	d := func(v int) string { return strconv.Itoa(v) }
	for _, r := range results {
		row := []string{
			f(r.DeadZonePx), f(r.DragThresholdPx), f(r.FlickVelocityThreshold),
			d(r.Sessions), d(r.Cancelled), d(r.Horizontal), d(r.Vertical),
			d(r.IndexChanges), d(r.RevealOpens), d(r.RevealCloses), d(r.TapExpands), d(r.Rejected),
			f(r.CommitRate), f(r.MeanNetDX), f(r.StdDevNetDX),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
