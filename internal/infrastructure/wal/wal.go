// Package wal provides the durable write-ahead log for accepted meter events
// and the file-backed dead-letter store.
package wal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/erp/billing/internal/domain/metering"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a closed log.
var ErrClosed = errors.New("wal: log is closed")

// maxLineSize bounds a single serialized event. Longer lines are rejected on
// append and skipped on read.
const maxLineSize = 1 << 20

// FileLog is an append-only JSON-lines log. Each line is one event.
// Append fsyncs before returning. Remove rewrites the file without the given ids.
// One FileLog must own the file; it serializes its own callers.
type FileLog struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	count  int
	logger *zap.Logger
}

// Option configures a FileLog.
type Option func(*FileLog)

// WithLogger sets the logger used to report skipped lines.
func WithLogger(logger *zap.Logger) Option {
	return func(l *FileLog) {
		l.logger = logger
	}
}

// Open opens or creates the log at path.
func Open(path string, opts ...Option) (*FileLog, error) {
	l := &FileLog{path: path, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("wal: create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	l.file = f
	if err := terminateTornLine(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	events, err := l.readLocked()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	l.count = len(events)
	return l, nil
}

// Path returns the file path of the log.
func (l *FileLog) Path() string {
	return l.path
}

// Append assigns an id when missing and writes the event durably.
// An event whose encoding exceeds maxLineSize fails with metering.ErrInvalidEvent.
func (l *FileLog) Append(event metering.MeterEvent) (metering.MeterEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return event, fmt.Errorf("wal: encode event: %w", err)
	}
	if len(line) > maxLineSize {
		return event, fmt.Errorf("%w: encoded size %d exceeds %d bytes", metering.ErrInvalidEvent, len(line), maxLineSize)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return event, ErrClosed
	}
	if _, err := l.file.Write(line); err != nil {
		return event, fmt.Errorf("wal: append: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return event, fmt.Errorf("wal: sync: %w", err)
	}
	l.count++
	return event, nil
}

// ReadAll returns every intact entry in write order.
// Malformed or torn lines are logged and skipped.
func (l *FileLog) ReadAll() ([]metering.MeterEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil, ErrClosed
	}
	return l.readLocked()
}

func (l *FileLog) readLocked() ([]metering.MeterEvent, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("wal: open for read: %w", err)
	}
	defer f.Close()

	events, err := decodeLines(f, maxLineSize, l.logger, func(data []byte) (metering.MeterEvent, error) {
		var e metering.MeterEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return e, err
		}
		if e.ID == "" {
			return e, errors.New("missing id")
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("wal: read: %w", err)
	}
	return events, nil
}

// Remove drops the entries with the given ids by rewriting the log atomically.
func (l *FileLog) Remove(ids map[string]struct{}) error {
	if len(ids) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ErrClosed
	}

	events, err := l.readLocked()
	if err != nil {
		return err
	}
	kept := make([]metering.MeterEvent, 0, len(events))
	for _, e := range events {
		if _, drop := ids[e.ID]; !drop {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(events) {
		return nil
	}
	return l.rewriteLocked(kept)
}

// Clear drops every entry.
func (l *FileLog) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ErrClosed
	}
	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("wal: sync: %w", err)
	}
	l.count = 0
	return nil
}

// Len returns the number of entries currently in the log.
func (l *FileLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Close closes the underlying file. Further calls return ErrClosed.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *FileLog) rewriteLocked(events []metering.MeterEvent) error {
	tmp, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".rewrite-*")
	if err != nil {
		return fmt.Errorf("wal: create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	w := bufio.NewWriter(tmp)
	for _, e := range events {
		line, err := json.Marshal(e)
		if err != nil {
			cleanup()
			return fmt.Errorf("wal: encode event %s: %w", e.ID, err)
		}
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			cleanup()
			return fmt.Errorf("wal: write temp: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		cleanup()
		return fmt.Errorf("wal: flush temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("wal: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("wal: close temp: %w", err)
	}

	if err := l.file.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("wal: close log: %w", err)
	}
	l.file = nil
	if err := os.Rename(tmpName, l.path); err != nil {
		_ = os.Remove(tmpName)
		if reopenErr := l.reopenLocked(); reopenErr != nil {
			return errors.Join(fmt.Errorf("wal: replace log: %w", err), reopenErr)
		}
		return fmt.Errorf("wal: replace log: %w", err)
	}
	if err := syncDir(filepath.Dir(l.path)); err != nil {
		l.logger.Warn("wal directory sync failed", zap.String("path", l.path), zap.Error(err))
	}
	if err := l.reopenLocked(); err != nil {
		return err
	}
	l.count = len(events)
	return nil
}

func (l *FileLog) reopenLocked() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: reopen %s: %w", l.path, err)
	}
	l.file = f
	return nil
}

// terminateTornLine appends a newline when a crash left a partial last line,
// so the next append starts on a fresh line.
func terminateTornLine(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("wal: stat: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("wal: read tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("wal: terminate torn line: %w", err)
	}
	return f.Sync()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// decodeLines reads newline-delimited JSON, skipping lines that fail to decode
// or exceed limit bytes.
func decodeLines[T any](f *os.File, limit int, logger *zap.Logger, decode func([]byte) (T, error)) ([]T, error) {
	r := bufio.NewReaderSize(f, 64*1024)

	var out []T
	lineNo := 0
	for {
		raw, oversized, readErr := readLine(r, limit)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return out, readErr
		}
		lineNo++
		data := bytes.TrimSpace(raw)
		switch {
		case oversized:
			logger.Warn("skipping oversized log line",
				zap.String("file", f.Name()),
				zap.Int("line", lineNo),
				zap.Int("limit", limit),
			)
		case len(data) > 0:
			if item, err := decode(data); err != nil {
				logger.Warn("skipping malformed log line",
					zap.String("file", f.Name()),
					zap.Int("line", lineNo),
					zap.Error(err),
				)
			} else {
				out = append(out, item)
			}
		}
		if readErr != nil {
			return out, nil
		}
	}
}

// readLine returns the next line without its size being bounded by the reader buffer.
// Once the line grows past limit its bytes are discarded up to the next newline
// and oversized is reported.
func readLine(r *bufio.Reader, limit int) (line []byte, oversized bool, err error) {
	for {
		var chunk []byte
		chunk, err = r.ReadSlice('\n')
		if !oversized {
			if len(line)+len(bytes.TrimRight(chunk, "\r\n")) > limit {
				oversized = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, oversized, err
	}
}
