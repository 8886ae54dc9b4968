package network

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.bug.st/serial"

	"github.com/tactiledata/gesture.report/internal/touch"
	"github.com/tactiledata/gesture.report/internal/touch/l1events"
)

// Serial line format emitted by kiosk touch digitizers:
//
//	evt <phase> <element> <pointer> <x> <y> <t>
//
// phase is the lowercase phase name, x and y are decimal pixels, t is
// Unix nanoseconds. Lines not starting with "evt" (boot banners, debug
// chatter) are skipped silently.

// ParseSerialLine decodes one digitizer line into a pointer event. It
// returns ok=false for non-event lines and an error for malformed event
// lines.
func ParseSerialLine(line string) (ev l1events.PointerEvent, ok bool, err error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 || fields[0] != "evt" {
		return ev, false, nil
	}
	if len(fields) != 7 {
		return ev, false, fmt.Errorf("serial line has %d fields, want 7", len(fields))
	}

	switch fields[1] {
	case "start":
		ev.Phase = l1events.PhaseStart
	case "move":
		ev.Phase = l1events.PhaseMove
	case "end":
		ev.Phase = l1events.PhaseEnd
	case "cancel":
		ev.Phase = l1events.PhaseCancel
	default:
		return ev, false, fmt.Errorf("unknown phase %q", fields[1])
	}

	element, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return ev, false, fmt.Errorf("element id %q: %w", fields[2], err)
	}
	pointer, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return ev, false, fmt.Errorf("pointer id %q: %w", fields[3], err)
	}
	x, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return ev, false, fmt.Errorf("x %q: %w", fields[4], err)
	}
	y, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return ev, false, fmt.Errorf("y %q: %w", fields[5], err)
	}
	t, err := strconv.ParseInt(fields[6], 10, 64)
	if err != nil {
		return ev, false, fmt.Errorf("timestamp %q: %w", fields[6], err)
	}

	ev.ElementID = uint32(element)
	ev.PointerID = uint32(pointer)
	ev.X = x
	ev.Y = y
	ev.TimestampNanos = t
	if err := ev.Validate(); err != nil {
		return ev, false, err
	}
	return ev, true, nil
}

// SerialReaderConfig configures a SerialReader.
type SerialReaderConfig struct {
	// Port is the device path, e.g. /dev/ttyUSB0.
	Port string

	// BaudRate defaults to 115200.
	BaudRate int

	// Sink receives every successfully decoded event.
	Sink EventSink
}

// SerialReader ingests line-framed events from a serial touch digitizer.
type SerialReader struct {
	cfg SerialReaderConfig
}

// NewSerialReader returns a reader; Start opens the port.
func NewSerialReader(cfg SerialReaderConfig) (*SerialReader, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("serial reader needs a port")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("serial reader needs a sink")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	return &SerialReader{cfg: cfg}, nil
}

// Start opens the port and blocks scanning lines until ctx is cancelled
// or the port fails. Malformed event lines are logged and skipped.
func (r *SerialReader) Start(ctx context.Context) error {
	port, err := serial.Open(r.cfg.Port, &serial.Mode{BaudRate: r.cfg.BaudRate})
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", r.cfg.Port, err)
	}
	defer port.Close()
	touch.Opsf("serial: reading %s at %d baud", r.cfg.Port, r.cfg.BaudRate)

	// Close the port on cancellation to unblock the scanner.
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		ev, ok, err := ParseSerialLine(scanner.Text())
		if err != nil {
			touch.Diagf("serial: bad line: %v", err)
			continue
		}
		if !ok {
			continue
		}
		r.cfg.Sink.Feed(ev)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("serial read: %w", err)
	}
	return nil
}
