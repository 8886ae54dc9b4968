// Package recorder provides recording and replay of raw pointer event
// streams as .tglog directories.
//
// A .tglog is a directory holding header.json (metadata and counts),
// events/chunk_NNNN.bin files of length-prefixed wire-encoded events,
// and index.bin with one fixed-stride seek entry per event. Recording
// raw events rather than engine output means a log replays identically
// through any engine version or parameter set, which is what the sweep
// tooling depends on.
package recorder

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tactiledata/gesture.report/internal/timeutil"
	"github.com/tactiledata/gesture.report/internal/touch/l1events"
)

// FileExtension is the extension for touch gesture log directories.
const FileExtension = ".tglog"

// ChunkSize is the number of events per chunk file.
const ChunkSize = 4096

// LogHeader contains metadata about a recorded log.
type LogHeader struct {
	Version     string `json:"version"`
	RecordingID string `json:"recording_id"`
	CreatedNs   int64  `json:"created_ns"`
	Source      string `json:"source"`
	TotalEvents uint64 `json:"total_events"`
	StartNs     int64  `json:"start_ns"`
	EndNs       int64  `json:"end_ns"`
	Display     struct {
		WidthPx  int     `json:"width_px"`
		HeightPx int     `json:"height_px"`
		Density  float64 `json:"density"`
	} `json:"display"`
}

// IndexEntry is one entry in the seek index: 24 bytes on disk.
type IndexEntry struct {
	EventIdx    uint64
	TimestampNs int64
	ChunkID     uint32
	Offset      uint32
}

// Recorder appends pointer events to a .tglog directory.
type Recorder struct {
	basePath string

	header       LogHeader
	index        []IndexEntry
	currentChunk int
	chunkFile    *os.File
	chunkOffset  uint32

	eventCount uint64
	startNs    int64
	endNs      int64

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a Recorder writing to basePath. If basePath is
// empty a timestamped directory is created under the system temp dir.
// source names where the events came from (udp, serial, synthetic).
func NewRecorder(basePath, source string, displayW, displayH int, density float64) (*Recorder, error) {
	if basePath == "" {
		basePath = filepath.Join(os.TempDir(),
			fmt.Sprintf("touch_%d%s", time.Now().Unix(), FileExtension))
	}
	if err := os.MkdirAll(filepath.Join(basePath, "events"), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	r := &Recorder{
		basePath:     basePath,
		currentChunk: -1,
		header: LogHeader{
			Version:     "1.0",
			RecordingID: uuid.NewString(),
			CreatedNs:   time.Now().UnixNano(),
			Source:      source,
		},
	}
	r.header.Display.WidthPx = displayW
	r.header.Display.HeightPx = displayH
	if density <= 0 {
		density = 1.0
	}
	r.header.Display.Density = density
	return r, nil
}

// Record appends one event to the log.
func (r *Recorder) Record(ev l1events.PointerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New("recorder is closed")
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("record event: %w", err)
	}

	if r.startNs == 0 {
		r.startNs = ev.TimestampNanos
	}
	r.endNs = ev.TimestampNanos

	chunkIdx := int(r.eventCount / ChunkSize)
	if chunkIdx != r.currentChunk {
		if err := r.rotateChunk(chunkIdx); err != nil {
			return err
		}
	}

	data := l1events.AppendDatagram(nil, ev)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := r.chunkFile.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write event length: %w", err)
	}
	if _, err := r.chunkFile.Write(data); err != nil {
		return fmt.Errorf("write event data: %w", err)
	}

	r.index = append(r.index, IndexEntry{
		EventIdx:    r.eventCount,
		TimestampNs: ev.TimestampNanos,
		ChunkID:     uint32(chunkIdx),
		Offset:      r.chunkOffset,
	})
	r.chunkOffset += uint32(4 + len(data))
	r.eventCount++
	return nil
}

func (r *Recorder) rotateChunk(chunkIdx int) error {
	if r.chunkFile != nil {
		if err := r.chunkFile.Close(); err != nil {
			return err
		}
	}
	chunkPath := filepath.Join(r.basePath, "events", fmt.Sprintf("chunk_%04d.bin", chunkIdx))
	f, err := os.Create(chunkPath)
	if err != nil {
		return fmt.Errorf("create chunk file: %w", err)
	}
	r.chunkFile = f
	r.currentChunk = chunkIdx
	r.chunkOffset = 0
	return nil
}

// Path returns the base path of the log.
func (r *Recorder) Path() string { return r.basePath }

// EventCount returns the number of events recorded so far.
func (r *Recorder) EventCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eventCount
}

// Close finalises the log, writing header.json and index.bin. A closed
// recorder rejects further Record calls; Close is idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.chunkFile != nil {
		if err := r.chunkFile.Close(); err != nil {
			return fmt.Errorf("close chunk: %w", err)
		}
	}

	r.header.TotalEvents = r.eventCount
	r.header.StartNs = r.startNs
	r.header.EndNs = r.endNs
	headerData, err := json.MarshalIndent(r.header, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.basePath, "header.json"), headerData, 0644); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	indexFile, err := os.Create(filepath.Join(r.basePath, "index.bin"))
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer indexFile.Close()
	for _, entry := range r.index {
		if err := binary.Write(indexFile, binary.LittleEndian, entry); err != nil {
			return fmt.Errorf("write index entry: %w", err)
		}
	}
	return nil
}

// Replayer reads pointer events back out of a .tglog directory.
type Replayer struct {
	basePath string
	header   LogHeader
	index    []IndexEntry

	currentEvent uint64
	paused       bool
	rate         float64

	currentChunk int
	chunkData    []byte

	mu sync.Mutex
}

// NewReplayer opens a log for replay.
func NewReplayer(basePath string) (*Replayer, error) {
	r := &Replayer{basePath: basePath, currentChunk: -1, rate: 1.0}

	headerData, err := os.ReadFile(filepath.Join(basePath, "header.json"))
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(headerData, &r.header); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	indexFile, err := os.Open(filepath.Join(basePath, "index.bin"))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer indexFile.Close()

	r.index = make([]IndexEntry, 0, r.header.TotalEvents)
	for {
		var entry IndexEntry
		if err := binary.Read(indexFile, binary.LittleEndian, &entry); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("read index entry: %w", err)
		}
		r.index = append(r.index, entry)
	}
	return r, nil
}

// Header returns the log header.
func (r *Replayer) Header() LogHeader { return r.header }

// TotalEvents returns the number of events in the log.
func (r *Replayer) TotalEvents() uint64 { return uint64(len(r.index)) }

// CurrentEvent returns the index of the next event to be read.
func (r *Replayer) CurrentEvent() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentEvent
}

// Seek positions the replayer at an event index.
func (r *Replayer) Seek(eventIdx uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if eventIdx >= uint64(len(r.index)) {
		return fmt.Errorf("event index out of range: %d >= %d", eventIdx, len(r.index))
	}
	r.currentEvent = eventIdx
	return nil
}

// SeekToTimestamp positions the replayer at the first event at or after
// timestampNs, or at the last event when the timestamp is beyond the log.
func (r *Replayer) SeekToTimestamp(timestampNs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.index) == 0 {
		return errors.New("empty log")
	}
	i := sort.Search(len(r.index), func(i int) bool {
		return r.index[i].TimestampNs >= timestampNs
	})
	if i == len(r.index) {
		i = len(r.index) - 1
	}
	r.currentEvent = uint64(i)
	return nil
}

// Rewind positions the replayer back at the first event.
func (r *Replayer) Rewind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentEvent = 0
}

// ReadEvent reads the next event and advances. It returns io.EOF past
// the end of the log.
func (r *Replayer) ReadEvent() (l1events.PointerEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readEventLocked()
}

func (r *Replayer) readEventLocked() (l1events.PointerEvent, error) {
	var ev l1events.PointerEvent
	if r.currentEvent >= uint64(len(r.index)) {
		return ev, io.EOF
	}
	entry := r.index[r.currentEvent]

	if int(entry.ChunkID) != r.currentChunk {
		chunkPath := filepath.Join(r.basePath, "events",
			fmt.Sprintf("chunk_%04d.bin", entry.ChunkID))
		data, err := os.ReadFile(chunkPath)
		if err != nil {
			return ev, fmt.Errorf("read chunk: %w", err)
		}
		r.chunkData = data
		r.currentChunk = int(entry.ChunkID)
	}

	offset := entry.Offset
	if offset+4 > uint32(len(r.chunkData)) {
		return ev, fmt.Errorf("event offset %d beyond chunk", offset)
	}
	evLen := binary.LittleEndian.Uint32(r.chunkData[offset:])
	offset += 4
	if offset+evLen > uint32(len(r.chunkData)) {
		return ev, fmt.Errorf("event length %d beyond chunk", evLen)
	}
	ev, err := l1events.ParseDatagram(r.chunkData[offset : offset+evLen])
	if err != nil {
		return ev, fmt.Errorf("decode event %d: %w", r.currentEvent, err)
	}
	r.currentEvent++
	return ev, nil
}

// SetPaused pauses or resumes a Replay in progress.
func (r *Replayer) SetPaused(paused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = paused
}

// SetRate sets the playback rate. 1.0 is real time, 2.0 is double
// speed; values <= 0 are ignored.
func (r *Replayer) SetRate(rate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rate > 0 {
		r.rate = rate
	}
}

// Replay delivers every remaining event to emit, sleeping the recorded
// inter-event gap scaled by the playback rate between deliveries. While
// paused it polls rather than delivering. It returns nil at the end of
// the log, or the context error if cancelled.
func (r *Replayer) Replay(ctx context.Context, clock timeutil.Clock, emit func(l1events.PointerEvent)) error {
	var lastTs int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.mu.Lock()
		if r.paused {
			r.mu.Unlock()
			clock.Sleep(50 * time.Millisecond)
			continue
		}
		rate := r.rate
		ev, err := r.readEventLocked()
		r.mu.Unlock()

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if lastTs != 0 && ev.TimestampNanos > lastTs {
			gap := time.Duration(float64(ev.TimestampNanos-lastTs) / rate)
			clock.Sleep(gap)
		}
		lastTs = ev.TimestampNanos
		emit(ev)
	}
}
