package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/tactiledata/gesture.report/internal/security"
	"github.com/tactiledata/gesture.report/internal/touch/pipeline"
)

// maxTraceSamples bounds the per-element sample history. At 60 Hz this is
// a bit over a minute of motion, enough to cover any single gesture plus
// its settle animation.
const maxTraceSamples = 4096

// TraceSample is one per-frame observation of an element's motion state.
type TraceSample struct {
	FrameIdx       int
	TimestampNanos int64
	Position       float64
	ActiveIndex    int
	IsOpen         bool
	Animating      bool
}

// TracePlotter records per-element motion values frame by frame for
// visualization. It implements pipeline.PublishSink so it can be wired
// directly as (or alongside) the engine's publish sink; after a run,
// GeneratePlots writes position and velocity time series PNGs per element.
type TracePlotter struct {
	mu       sync.Mutex
	frameIdx int
	samples  map[uint32][]TraceSample
}

// NewTracePlotter creates an empty plotter.
func NewTracePlotter() *TracePlotter {
	return &TracePlotter{
		samples: make(map[uint32][]TraceSample),
	}
}

// PublishFrame records one sample per element in the frame snapshot.
func (tp *TracePlotter) PublishFrame(frame pipeline.FrameSnapshot) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	tp.frameIdx++
	for _, el := range frame.Elements {
		pos := el.Position
		if el.Kind == pipeline.KindCarousel {
			pos = el.DragOffset
		}
		s := TraceSample{
			FrameIdx:       tp.frameIdx,
			TimestampNanos: frame.TimestampNanos,
			Position:       pos,
			ActiveIndex:    el.ActiveIndex,
			IsOpen:         el.IsOpen,
			Animating:      el.Animating,
		}
		buf := append(tp.samples[el.ElementID], s)
		if len(buf) > maxTraceSamples {
			buf = buf[len(buf)-maxTraceSamples:]
		}
		tp.samples[el.ElementID] = buf
	}
}

// Samples returns a copy of the recorded series for one element.
func (tp *TracePlotter) Samples(elementID uint32) []TraceSample {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	src := tp.samples[elementID]
	out := make([]TraceSample, len(src))
	copy(out, src)
	return out
}

// ElementIDs returns the elements with recorded samples, sorted.
func (tp *TracePlotter) ElementIDs() []uint32 {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	ids := make([]uint32, 0, len(tp.samples))
	for id := range tp.samples {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

// Reset discards all recorded samples.
func (tp *TracePlotter) Reset() {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.frameIdx = 0
	tp.samples = make(map[uint32][]TraceSample)
}

// SampleCount returns the total number of samples across all elements.
func (tp *TracePlotter) SampleCount() int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	count := 0
	for _, s := range tp.samples {
		count += len(s)
	}
	return count
}

// GeneratePlots writes position and velocity PNGs for every element with
// samples into outputDir, creating it if needed. Returns the number of
// elements plotted.
func (tp *TracePlotter) GeneratePlots(outputDir string) (int, error) {
	tp.mu.Lock()
	byElement := make(map[uint32][]TraceSample, len(tp.samples))
	for id, s := range tp.samples {
		cp := make([]TraceSample, len(s))
		copy(cp, s)
		byElement[id] = cp
	}
	tp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create output dir: %w", err)
	}

	plotted := 0
	for id, samples := range byElement {
		if len(samples) == 0 {
			continue
		}
		if err := generateElementPlots(outputDir, id, samples); err != nil {
			return plotted, fmt.Errorf("element %d: %w", id, err)
		}
		plotted++
	}
	return plotted, nil
}

// generateElementPlots writes one position and one velocity PNG. Velocity
// is the finite difference of recorded positions in px/ms, matching the
// units the controllers decide in.
func generateElementPlots(outputDir string, elementID uint32, samples []TraceSample) error {
	sort.Slice(samples, func(a, b int) bool {
		return samples[a].FrameIdx < samples[b].FrameIdx
	})

	t0 := samples[0].TimestampNanos
	posPts := make(plotter.XYs, 0, len(samples))
	velPts := make(plotter.XYs, 0, len(samples))
	for i, s := range samples {
		tMs := float64(s.TimestampNanos-t0) / 1e6
		posPts = append(posPts, plotter.XY{X: tMs, Y: s.Position})
		if i > 0 {
			prev := samples[i-1]
			dtMs := float64(s.TimestampNanos-prev.TimestampNanos) / 1e6
			if dtMs > 0 {
				velPts = append(velPts, plotter.XY{X: tMs, Y: (s.Position - prev.Position) / dtMs})
			}
		}
	}

	pPos := plot.New()
	pPos.Title.Text = fmt.Sprintf("Element %d - Position", elementID)
	pPos.X.Label.Text = "Time (ms)"
	pPos.Y.Label.Text = "Position (px)"

	posLine, err := plotter.NewLine(posPts)
	if err != nil {
		return err
	}
	posLine.Color = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 255}
	posLine.Width = vg.Points(1)
	pPos.Add(posLine)
	pPos.Legend.Add("position", posLine)
	pPos.Legend.Top = true

	posFile := filepath.Join(outputDir, fmt.Sprintf("element_%04d_position.png", elementID))
	if err := pPos.Save(14*vg.Inch, 6*vg.Inch, posFile); err != nil {
		return fmt.Errorf("save position plot: %w", err)
	}

	pVel := plot.New()
	pVel.Title.Text = fmt.Sprintf("Element %d - Velocity", elementID)
	pVel.X.Label.Text = "Time (ms)"
	pVel.Y.Label.Text = "Velocity (px/ms)"

	if len(velPts) > 0 {
		velLine, err := plotter.NewLine(velPts)
		if err != nil {
			return err
		}
		velLine.Color = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 255}
		velLine.Width = vg.Points(1)
		pVel.Add(velLine)
		pVel.Legend.Add("velocity", velLine)
		pVel.Legend.Top = true
	}

	velFile := filepath.Join(outputDir, fmt.Sprintf("element_%04d_velocity.png", elementID))
	if err := pVel.Save(14*vg.Inch, 6*vg.Inch, velFile); err != nil {
		return fmt.Errorf("save velocity plot: %w", err)
	}

	return nil
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir creates a timestamped output directory path for plots.
// For replayed logs: plots/<log_basename>/<timestamp>
// For live data: plots/live_<timestamp>
func MakePlotOutputDir(baseDir, logPath string) string {
	ts := FormatTimestamp(time.Now())
	if logPath != "" {
		base := filepath.Base(logPath)
		ext := filepath.Ext(base)
		name := security.SanitizeFilename(base[:len(base)-len(ext)])
		return filepath.Join(baseDir, name, ts)
	}
	return filepath.Join(baseDir, "live_"+ts)
}
