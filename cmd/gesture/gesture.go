// Command gesture runs the touch interaction engine as a service: it
// ingests pointer events over UDP or serial (or replays a recorded
// session log), drives the per-element controllers at the configured
// frame rate, persists telemetry to SQLite and serves the monitoring
// HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tactiledata/gesture.report/internal/config"
	"github.com/tactiledata/gesture.report/internal/db"
	"github.com/tactiledata/gesture.report/internal/timeutil"
	"github.com/tactiledata/gesture.report/internal/touch"
	"github.com/tactiledata/gesture.report/internal/touch/l1events"
	"github.com/tactiledata/gesture.report/internal/touch/monitor"
	"github.com/tactiledata/gesture.report/internal/touch/network"
	"github.com/tactiledata/gesture.report/internal/touch/pipeline"
	"github.com/tactiledata/gesture.report/internal/touch/recorder"
	"github.com/tactiledata/gesture.report/internal/version"
)

var (
	listen      = flag.String("listen", ":8081", "HTTP listen address")
	udpPort     = flag.Int("udp-port", 5600, "UDP port to listen for pointer events (0 disables)")
	udpAddress  = flag.String("udp-addr", "", "UDP bind address (default: listen on all interfaces)")
	serialPort  = flag.String("serial", "", "Serial device to read pointer events from (e.g. /dev/ttyUSB0)")
	serialBaud  = flag.Int("baud", 115200, "Serial baud rate")
	replayFile  = flag.String("replay", "", "Session log to replay into the engine at startup")
	pcapFile    = flag.String("pcap", "", "PCAP capture of the UDP event feed to replay (requires -tags=pcap build)")
	replayRate  = flag.Float64("replay-rate", 1.0, "Replay speed multiplier")
	replayDir   = flag.String("replay-dir", "recordings", "Directory the replay API serves logs from")
	dbFile      = flag.String("db", "gesture_data.db", "Path to the SQLite telemetry database")
	configFile  = flag.String("config", "", "Tuning config JSON (default: built-in defaults)")
	recordPath  = flag.String("record", "", "Record ingested events to this session log")
	plotBaseDir = flag.String("plot-dir", "", "Write per-element motion trace PNGs under this directory on shutdown")
	carousels   = flag.String("carousels", "1:3:260", "Carousel elements as id:count:offsetPx, comma separated")
	reveals     = flag.String("reveals", "2:140", "Reveal elements as id:actionWidthPx, comma separated")
	rcvBuf      = flag.Int("rcvbuf", 1<<20, "UDP receive buffer size in bytes")
	logInterval = flag.Int("log-interval", 2, "Statistics logging interval in seconds")
	debugFlag   = flag.String("debug", "ops", "Debug streams to enable: comma list of ops, diag, trace")
)

// setupDebugStreams routes the requested touch log streams to stderr.
func setupDebugStreams(spec string) {
	var w touch.LogWriters
	for _, name := range strings.Split(spec, ",") {
		switch strings.TrimSpace(name) {
		case "ops":
			w.Ops = os.Stderr
		case "diag":
			w.Diag = os.Stderr
		case "trace":
			w.Trace = os.Stderr
		case "":
		default:
			log.Printf("unknown debug stream %q (want ops, diag or trace)", name)
		}
	}
	touch.SetLogWriters(w)
}

// parseCarousels parses "id:count:offsetPx" specs.
func parseCarousels(spec string) (map[uint32]pipeline.CarouselParams, error) {
	out := make(map[uint32]pipeline.CarouselParams)
	if spec == "" {
		return out, nil
	}
	for _, part := range strings.Split(spec, ",") {
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
		out[uint32(id)] = pipeline.CarouselParams{Count: count, CardOffsetPx: offset}
	}
	return out, nil
}

// parseReveals parses "id:actionWidthPx" specs.
func parseReveals(spec string) (map[uint32]pipeline.RevealParams, error) {
	out := make(map[uint32]pipeline.RevealParams)
	if spec == "" {
		return out, nil
	}
	for _, part := range strings.Split(spec, ",") {
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
		out[uint32(id)] = pipeline.RevealParams{ActionWidthPx: width}
	}
	return out, nil
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}
	setupDebugStreams(*debugFlag)
	log.Printf("gesture %s (%s) starting", version.Version, version.GitSHA)

	// Tuning configuration
	var tuning *config.TuningConfig
	if *configFile != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		log.Printf("Loaded tuning config from %s", *configFile)
	} else {
		tuning = config.MustLoadDefaultConfig()
		log.Print("Using built-in tuning defaults")
	}

	carouselSpecs, err := parseCarousels(*carousels)
	if err != nil {
		log.Fatalf("Invalid -carousels: %v", err)
	}
	revealSpecs, err := parseReveals(*reveals)
	if err != nil {
		log.Fatalf("Invalid -reveals: %v", err)
	}
	if len(carouselSpecs)+len(revealSpecs) == 0 {
		log.Fatal("No elements configured; set -carousels and/or -reveals")
	}

	// Telemetry database
	store, err := db.OpenAndMigrate(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open telemetry database: %v", err)
	}
	defer store.Close()

	// Engine with trace plotting as the publish sink. Commit and drop
	// hooks keep the monitor's throughput counters live.
	stats := monitor.NewEventStats()
	plotter := monitor.NewTracePlotter()
	engine, err := pipeline.NewEngine(pipeline.EngineConfig{
		Tunables:    tuning.Tunables(),
		Persistence: store,
		Publish:     plotter,
		OnCommit: func(rec touch.CommitRecord) {
			if rec.Kind != touch.CommitRejected {
				stats.AddCommits(1)
			}
		},
		OnEventDropped: stats.AddDropped,
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	for id, params := range carouselSpecs {
		if params.CardOffsetPx == 0 {
			params.CardOffsetPx = tuning.GetCardOffsetPx()
		}
		if err := engine.RegisterCarousel(id, params); err != nil {
			log.Fatalf("Failed to register carousel %d: %v", id, err)
		}
	}
	for id, params := range revealSpecs {
		if params.ActionWidthPx == 0 {
			params.ActionWidthPx = tuning.GetActionWidthPx()
		}
		if err := engine.RegisterReveal(id, params); err != nil {
			log.Fatalf("Failed to register reveal %d: %v", id, err)
		}
	}

	// Optional session log recording of everything ingested
	var rec *recorder.Recorder
	if *recordPath != "" {
		source := "udp"
		if *serialPort != "" {
			source = "serial"
		}
		rec, err = recorder.NewRecorder(*recordPath, source, 0, 0, 1.0)
		if err != nil {
			log.Fatalf("Failed to open session log for recording: %v", err)
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Printf("Failed to finalize session log: %v", err)
			}
		}()
		log.Printf("Recording ingested events to %s", *recordPath)
	}

	sink := network.SinkFunc(func(ev l1events.PointerEvent) {
		stats.AddEvent(l1events.DatagramSize)
		if rec != nil {
			if err := rec.Record(ev); err != nil {
				touch.Diagf("record event: %v", err)
			}
		}
		engine.Feed(ev)
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Engine dispatch loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()

	// UDP ingest
	if *udpPort > 0 {
		addr := fmt.Sprintf("%s:%d", *udpAddress, *udpPort)
		listener, err := network.NewUDPListener(network.UDPListenerConfig{
			Address: addr,
			RcvBuf:  *rcvBuf,
			Sink:    sink,
		})
		if err != nil {
			log.Fatalf("Failed to create UDP listener: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && err != context.Canceled {
				log.Printf("UDP listener error: %v", err)
			}
			log.Print("UDP listener routine terminated")
		}()
	}

	// Serial ingest
	if *serialPort != "" {
		reader, err := network.NewSerialReader(network.SerialReaderConfig{
			Port:     *serialPort,
			BaudRate: *serialBaud,
			Sink:     sink,
		})
		if err != nil {
			log.Fatalf("Failed to create serial reader: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reader.Start(ctx); err != nil && err != context.Canceled {
				log.Printf("Serial reader error: %v", err)
			}
			log.Print("Serial reader routine terminated")
		}()
	}

	// PCAP replay of a captured UDP feed
	if *pcapFile != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := network.ReadPCAPFile(ctx, *pcapFile, *udpPort, sink); err != nil && err != context.Canceled {
				log.Printf("PCAP replay error: %v", err)
			}
		}()
	}

	// Startup replay of a recorded log
	if *replayFile != "" {
		rep, err := recorder.NewReplayer(*replayFile)
		if err != nil {
			log.Fatalf("Failed to open replay log: %v", err)
		}
		rep.SetRate(*replayRate)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("Replaying %s (%d events at %gx)", *replayFile, rep.TotalEvents(), *replayRate)
			err := rep.Replay(ctx, timeutil.RealClock{}, func(ev l1events.PointerEvent) { sink.Feed(ev) })
			if err != nil && err != context.Canceled {
				log.Printf("Replay error: %v", err)
			} else {
				log.Printf("Replay of %s complete", *replayFile)
			}
		}()
	}

	// Monitoring HTTP server
	webServer := monitor.NewWebServer(monitor.WebServerConfig{
		Address:   *listen,
		Stats:     stats,
		Engine:    engine,
		DB:        store,
		Plotter:   plotter,
		UDPPort:   *udpPort,
		Source:    ingestSource(),
		ReplayDir: *replayDir,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := webServer.Start(ctx); err != nil {
			log.Printf("Web server error: %v", err)
		}
	}()

	// Periodic stats logging
	wg.Add(1)
	go func() {
		defer wg.Done()
		stats.Run(ctx.Done(), time.Duration(*logInterval)*time.Second)
	}()

	wg.Wait()

	// Offline trace plots from whatever the run captured.
	if *plotBaseDir != "" {
		dir := monitor.MakePlotOutputDir(*plotBaseDir, *replayFile)
		n, err := plotter.GeneratePlots(dir)
		if err != nil {
			log.Printf("Failed to generate trace plots: %v", err)
		} else {
			log.Printf("Wrote trace plots for %d elements to %s", n, dir)
		}
	}

	log.Print("Graceful shutdown complete")
}

func ingestSource() string {
	switch {
	case *serialPort != "":
		return "serial"
	case *pcapFile != "":
		return "pcap"
	case *replayFile != "":
		return "replay"
	case *udpPort > 0:
		return "udp"
	default:
		return "none"
	}
}
