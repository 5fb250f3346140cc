package persistence

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/jotrsim/internal/engine"
)

// TickLogEntry is one line of the tick log.
type TickLogEntry struct {
	RunID    string          `json:"run_id"`
	Snapshot engine.Snapshot `json:"snapshot"`
}

// TickLog appends one zstd-compressed JSON line per completed tick.
type TickLog struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

// TickLogPath returns the log file for a run under dir.
func TickLogPath(dir, runID string) string {
	return filepath.Join(dir, fmt.Sprintf("ticks-%s.jsonl.zst", runID))
}

// OpenTickLog creates (or appends to) the run's tick log under dir.
func OpenTickLog(dir, runID string) (*TickLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := TickLogPath(dir, runID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &TickLog{
		path: path,
		f:    f,
		enc:  enc,
		w:    bufio.NewWriterSize(enc, 64*1024),
	}, nil
}

// Path returns the log file path.
func (l *TickLog) Path() string {
	return l.path
}

// Write appends one entry and flushes it to the file.
func (l *TickLog) Write(e TickLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return fmt.Errorf("tick log %s is closed", l.path)
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := l.w.Write(b); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := l.w.Flush(); err != nil {
		return err
	}
	// End the zstd block so the entry is readable before Close.
	return l.enc.Flush()
}

// Close flushes the compressed stream and closes the file.
func (l *TickLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var err1 error
	if l.w != nil {
		_ = l.w.Flush()
	}
	if l.enc != nil {
		err1 = l.enc.Close()
		l.enc = nil
	}
	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}
	l.w = nil
	return err1
}

// ReadTickLog decodes every entry of a tick log, in write order. It also reads
// logs that are still open, up to the last completed Write.
func ReadTickLog(path string) ([]TickLogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []TickLogEntry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e TickLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("tick log line %d: %w", len(out)+1, err)
		}
		out = append(out, e)
	}
	// A log whose writer has not closed yet ends mid-frame.
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return out, nil
}
