// Package journal writes detection log entries to an append-only CBOR file.
//
// File layout: the 8-byte magic "MOODJNL1", then records of
// [8-byte little-endian unix nanos][4-byte little-endian length][CBOR payload].
package journal

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"moodcam/internal/pipeline"
)

const magic = "MOODJNL1"

// ErrBadMagic is returned when a file is not a detection journal
var ErrBadMagic = errors.New("not a detection journal")

// Record is the CBOR payload of one journal entry
type Record struct {
	Timestamp    string  `cbor:"ts"`
	SubjectIndex int     `cbor:"face"`
	Emotion      string  `cbor:"emotion"`
	Confidence   float64 `cbor:"conf"`
	Foreground   string  `cbor:"app"`
}

func recordFrom(e pipeline.LogEntry) Record {
	return Record{
		Timestamp:    e.Timestamp,
		SubjectIndex: e.SubjectIndex,
		Emotion:      e.DominantLabel,
		Confidence:   e.Confidence,
		Foreground:   e.ContextLabel,
	}
}

// Entry converts the record back to a log entry
func (r Record) Entry() pipeline.LogEntry {
	return pipeline.LogEntry{
		Timestamp:     r.Timestamp,
		SubjectIndex:  r.SubjectIndex,
		DominantLabel: r.Emotion,
		Confidence:    r.Confidence,
		ContextLabel:  r.Foreground,
	}
}

// Writer appends entries to a journal file. Every Append is flushed and
// synced before it returns.
type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
	enc  cbor.EncMode
}

// Create opens a new journal named <dir>/<timestamp>_detections.cbor
func Create(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal dir: %w", err)
	}
	name := fmt.Sprintf("%s_detections.cbor", time.Now().Format("20060102_150405"))
	return createFile(filepath.Join(dir, name))
}

func createFile(path string) (*Writer, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal: %w", err)
	}
	w := bufio.NewWriterSize(f, 64*1024)
	if _, err := w.WriteString(magic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Writer{path: path, f: f, w: w, enc: enc}, nil
}

// Path returns the journal file path
func (j *Writer) Path() string {
	return j.path
}

// Append writes one entry. Errors wrap pipeline.ErrLogWrite.
func (j *Writer) Append(ctx context.Context, entry pipeline.LogEntry) error {
	payload, err := j.enc.Marshal(recordFrom(entry))
	if err != nil {
		return fmt.Errorf("%w: encode: %v", pipeline.ErrLogWrite, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w == nil {
		return fmt.Errorf("%w: journal is closed", pipeline.ErrLogWrite)
	}

	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(time.Now().UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := j.w.Write(header[:]); err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrLogWrite, err)
	}
	if _, err := j.w.Write(payload); err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrLogWrite, err)
	}
	if err := j.w.Flush(); err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrLogWrite, err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrLogWrite, err)
	}
	return nil
}

// Close flushes and closes the file. Safe to call more than once.
func (j *Writer) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w == nil {
		return nil
	}
	if err := j.w.Flush(); err != nil {
		_ = j.f.Close()
		j.w = nil
		return err
	}
	err := j.f.Close()
	j.w = nil
	return err
}

// Entry is a decoded journal record with its write time
type Entry struct {
	WrittenAt time.Time
	Record
}

// ReadAll decodes every complete record from r. A truncated trailing record
// is ignored.
func ReadAll(r io.Reader) ([]Entry, error) {
	br := bufio.NewReader(r)

	header := make([]byte, len(magic))
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(header) != magic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadMagic, string(header))
	}

	var out []Entry
	for {
		var meta [12]byte
		if _, err := io.ReadFull(br, meta[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return out, nil
			}
			return out, fmt.Errorf("read record header: %w", err)
		}
		ts := int64(binary.LittleEndian.Uint64(meta[:8]))
		size := binary.LittleEndian.Uint32(meta[8:12])

		payload := make([]byte, size)
		if _, err := io.ReadFull(br, payload); err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				return out, nil
			}
			return out, fmt.Errorf("read payload: %w", err)
		}

		var rec Record
		if err := cbor.Unmarshal(payload, &rec); err != nil {
			return out, fmt.Errorf("record %d: %w", len(out), err)
		}
		out = append(out, Entry{WrittenAt: time.Unix(0, ts), Record: rec})
	}
}

// ReadFile decodes a journal file
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadAll(f)
}

var _ pipeline.DetectionLog = (*Writer)(nil)
