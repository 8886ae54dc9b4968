// Package l1events defines the raw pointer event model and its wire codec.
//
// Events arrive from a host rendering layer, a serial digitizer, or a
// recorded log, already hit-tested to a single interactive element and a
// single pointer. This layer only validates and decodes; sessioning,
// classification and control live in the higher layers.
package l1events

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Phase is the lifecycle stage of a pointer event within a gesture.
type Phase uint8

const (
	// PhaseStart begins a gesture session (touch down).
	PhaseStart Phase = 1
	// PhaseMove continues an active session.
	PhaseMove Phase = 2
	// PhaseEnd finishes a session normally (touch up).
	PhaseEnd Phase = 3
	// PhaseCancel aborts a session (ancestor steal, system interrupt).
	PhaseCancel Phase = 4
)

// String returns the lowercase phase name used in logs and telemetry.
func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseMove:
		return "move"
	case PhaseEnd:
		return "end"
	case PhaseCancel:
		return "cancel"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Valid reports whether p is one of the defined phases.
func (p Phase) Valid() bool {
	return p >= PhaseStart && p <= PhaseCancel
}

// PointerEvent is one hit-tested pointer sample. Coordinates are absolute
// display pixels; TimestampNanos is the capture time in Unix nanoseconds
// as reported by the event source.
type PointerEvent struct {
	ElementID      uint32
	PointerID      uint32
	Phase          Phase
	X              float64
	Y              float64
	TimestampNanos int64
}

// Validate rejects events the engine must never process: undefined phases
// and non-finite coordinates. Zero timestamps are allowed (some sources
// only stamp move events); ordering is enforced per session in l2sessions.
func (e PointerEvent) Validate() error {
	if !e.Phase.Valid() {
		return fmt.Errorf("invalid phase %d", uint8(e.Phase))
	}
	if math.IsNaN(e.X) || math.IsInf(e.X, 0) || math.IsNaN(e.Y) || math.IsInf(e.Y, 0) {
		return fmt.Errorf("non-finite coordinates (%v, %v)", e.X, e.Y)
	}
	return nil
}

// Wire format constants. A datagram is one fixed-size little-endian
// record; UDP sources send one event per datagram, the session log packs
// them back to back.
const (
	// DatagramMagic marks the start of an event record ("TG" little-endian).
	DatagramMagic uint16 = 0x4754
	// DatagramVersion is the current wire schema version.
	DatagramVersion uint8 = 1
	// DatagramSize is the fixed encoded size in bytes:
	// magic(2) + version(1) + phase(1) + element(4) + pointer(4) +
	// x(4) + y(4) + timestamp(8).
	DatagramSize = 28
)

// AppendDatagram appends the wire encoding of e to dst and returns the
// extended slice. Coordinates are narrowed to float32 on the wire; the
// sub-pixel loss is far below touch sensor noise.
func AppendDatagram(dst []byte, e PointerEvent) []byte {
	var buf [DatagramSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], DatagramMagic)
	buf[2] = DatagramVersion
	buf[3] = uint8(e.Phase)
	binary.LittleEndian.PutUint32(buf[4:8], e.ElementID)
	binary.LittleEndian.PutUint32(buf[8:12], e.PointerID)
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(float32(e.X)))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(float32(e.Y)))
	binary.LittleEndian.PutUint64(buf[20:28], uint64(e.TimestampNanos))
	return append(dst, buf[:]...)
}

// ParseDatagram decodes one event record from data. data must be exactly
// DatagramSize bytes; UDP sources pass whole payloads, the replayer reads
// fixed-size frames.
func ParseDatagram(data []byte) (PointerEvent, error) {
	var e PointerEvent
	if len(data) != DatagramSize {
		return e, fmt.Errorf("datagram size %d, want %d", len(data), DatagramSize)
	}
	if magic := binary.LittleEndian.Uint16(data[0:2]); magic != DatagramMagic {
		return e, fmt.Errorf("bad magic 0x%04x", magic)
	}
	if v := data[2]; v != DatagramVersion {
		return e, fmt.Errorf("unsupported wire version %d", v)
	}
	e.Phase = Phase(data[3])
	e.ElementID = binary.LittleEndian.Uint32(data[4:8])
	e.PointerID = binary.LittleEndian.Uint32(data[8:12])
	e.X = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[12:16])))
	e.Y = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[16:20])))
	e.TimestampNanos = int64(binary.LittleEndian.Uint64(data[20:28]))
	if err := e.Validate(); err != nil {
		return e, err
	}
	return e, nil
}
