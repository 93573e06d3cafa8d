package wal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/erp/billing/internal/domain/metering"
	"go.uber.org/zap"
)

const (
	// maxReasonSize bounds the stored failure reason.
	maxReasonSize = 4 << 10
	// maxDeadLetterLineSize leaves room for the envelope around a WAL-sized event.
	maxDeadLetterLineSize = maxLineSize + 2*maxReasonSize
)

// FileDeadLetterStore appends dead letters to a JSON-lines file.
type FileDeadLetterStore struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewFileDeadLetterStore creates the store, creating the parent directory if needed.
func NewFileDeadLetterStore(path string, logger *zap.Logger) (*FileDeadLetterStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("dead letter: create directory: %w", err)
	}
	return &FileDeadLetterStore{path: path, logger: logger}, nil
}

// Put appends the letters and fsyncs the file.
func (s *FileDeadLetterStore) Put(ctx context.Context, letters []metering.DeadLetter) error {
	if len(letters) == 0 {
		return nil
	}
	var buf []byte
	for _, dl := range letters {
		if len(dl.Reason) > maxReasonSize {
			dl.Reason = dl.Reason[:maxReasonSize]
		}
		line, err := json.Marshal(dl)
		if err != nil {
			return fmt.Errorf("dead letter: encode %s: %w", dl.Event.ID, err)
		}
		if len(line) > maxDeadLetterLineSize {
			return fmt.Errorf("dead letter: %s encodes to %d bytes, limit %d", dl.Event.ID, len(line), maxDeadLetterLineSize)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("dead letter: open: %w", err)
	}
	defer f.Close()
	if err := terminateTornLine(f); err != nil {
		return err
	}
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("dead letter: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("dead letter: sync: %w", err)
	}
	return nil
}

// List returns all stored dead letters in write order.
func (s *FileDeadLetterStore) List(ctx context.Context) ([]metering.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dead letter: open: %w", err)
	}
	defer f.Close()

	letters, err := decodeLines(f, maxDeadLetterLineSize, s.logger, func(data []byte) (metering.DeadLetter, error) {
		var dl metering.DeadLetter
		err := json.Unmarshal(data, &dl)
		return dl, err
	})
	if err != nil {
		return nil, fmt.Errorf("dead letter: read: %w", err)
	}
	return letters, nil
}

var _ metering.DeadLetterStore = (*FileDeadLetterStore)(nil)
