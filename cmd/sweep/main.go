// Command sweep replays a recorded touch session log through the
// engine once per threshold combination and ranks the combinations by
// commit rate. It runs entirely offline on a mock clock, so a sweep
// over hundreds of combinations finishes in seconds.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tactiledata/gesture.report/internal/config"
	"github.com/tactiledata/gesture.report/internal/touch/pipeline"
	"github.com/tactiledata/gesture.report/internal/touch/sweep"
)

func main() {
	logPath := flag.String("log", "", "Session log (.tglog) to replay")
	output := flag.String("output", "", "Output CSV filename (defaults to sweep-<timestamp>.csv)")
	configFile := flag.String("config", "", "Tuning config JSON providing the base tunables")

	deadZones := flag.String("deadzone", "5,10,15", "Dead zone values in px: comma list or min:max:step range")
	dragThresholds := flag.String("drag", "30:70:10", "Drag threshold values in px: comma list or min:max:step range")
	flickThresholds := flag.String("flick", "0.2,0.3,0.4", "Flick velocity thresholds in px/ms: comma list or min:max:step range")

	carousels := flag.String("carousels", "", "Carousel elements as id:count:offsetPx, comma separated (default: scan the log)")
	reveals := flag.String("reveals", "", "Reveal elements as id:actionWidthPx, comma separated")
	top := flag.Int("top", 10, "Number of top combinations to print")

	flag.Parse()

	if *logPath == "" {
		log.Fatal("-log is required")
	}

	var tuning *config.TuningConfig
	if *configFile != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	} else {
		tuning = config.MustLoadDefaultConfig()
	}

	dzVals, err := sweep.ParseParamList(*deadZones)
	if err != nil {
		log.Fatalf("Invalid -deadzone: %v", err)
	}
	dtVals, err := sweep.ParseParamList(*dragThresholds)
	if err != nil {
		log.Fatalf("Invalid -drag: %v", err)
	}
	fvVals, err := sweep.ParseParamList(*flickThresholds)
	if err != nil {
		log.Fatalf("Invalid -flick: %v", err)
	}

	elements, err := parseElements(*carousels, *reveals)
	if err != nil {
		log.Fatalf("Invalid element spec: %v", err)
	}

	runner, err := sweep.NewRunner(*logPath, elements, tuning.Tunables())
	if err != nil {
		log.Fatalf("Failed to create runner: %v", err)
	}

	grid := sweep.BuildParamGrid(dzVals, dtVals, fvVals)
	log.Printf("Parameter combinations: %d (deadzone: %d, drag: %d, flick: %d)",
		len(grid), len(dzVals), len(dtVals), len(fvVals))

	start := time.Now()
	results, err := runner.Run(grid)
	if err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}
	log.Printf("Replayed %d combinations in %v", len(results), time.Since(start).Round(time.Millisecond))

	sweep.SortByCommitRate(results)

	n := *top
	if n > len(results) {
		n = len(results)
	}
	fmt.Printf("%-4s %-10s %-8s %-8s %-10s %-8s %-8s %-8s\n",
		"rank", "deadzone", "drag", "flick", "rate", "commits", "rejects", "sessions")
	for i := 0; i < n; i++ {
		r := results[i]
		fmt.Printf("%-4d %-10.1f %-8.1f %-8.2f %-10.3f %-8d %-8d %-8d\n",
			i+1, r.DeadZonePx, r.DragThresholdPx, r.FlickVelocityThreshold,
			r.CommitRate, r.Committed(), r.Rejected, r.Sessions)
	}

	filename := *output
	if filename == "" {
		filename = fmt.Sprintf("sweep-%s.csv", time.Now().Format("20060102-150405"))
	}
	f, err := os.Create(filename)
	if err != nil {
		log.Fatalf("Could not create output file %s: %v", filename, err)
	}
	defer f.Close()
	if err := sweep.WriteCSV(f, results); err != nil {
		log.Fatalf("Failed to write CSV: %v", err)
	}
	log.Printf("Results: %s", filename)
}

// parseElements builds element specs from the carousel and reveal flags.
// Both empty means the runner scans the log instead.
func parseElements(carousels, reveals string) ([]sweep.ElementSpec, error) {
	var out []sweep.ElementSpec
	if carousels != "" {
		for _, part := range strings.Split(carousels, ",") {
			fields := strings.Split(strings.TrimSpace(part), ":")
			if len(fields) != 3 {
				return nil, fmt.Errorf("carousel spec %q: expected id:count:offsetPx", part)
			}
			id, err := strconv.ParseUint(fields[0], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("carousel spec %q: bad id: %w", part, err)
			}
			count, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("carousel spec %q: bad count: %w", part, err)
			}
			offset, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				return nil, fmt.Errorf("carousel spec %q: bad offset: %w", part, err)
			}
			out = append(out, sweep.ElementSpec{
				ID:           uint32(id),
				Kind:         pipeline.KindCarousel,
				Count:        count,
				CardOffsetPx: offset,
			})
		}
	}
	if reveals != "" {
		for _, part := range strings.Split(reveals, ",") {
			fields := strings.Split(strings.TrimSpace(part), ":")
			if len(fields) != 2 {
				return nil, fmt.Errorf("reveal spec %q: expected id:actionWidthPx", part)
			}
			id, err := strconv.ParseUint(fields[0], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("reveal spec %q: bad id: %w", part, err)
			}
			width, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return nil, fmt.Errorf("reveal spec %q: bad width: %w", part, err)
			}
			out = append(out, sweep.ElementSpec{
				ID:            uint32(id),
				Kind:          pipeline.KindReveal,
				ActionWidthPx: width,
			})
		}
	}
	return out, nil
}
