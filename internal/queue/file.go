// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/zkbridge/internal/fileutil"
	"github.com/tomtom215/zkbridge/internal/logging"
	"github.com/tomtom215/zkbridge/internal/models"
)

const recordExt = ".json"

// maxSeqMillis bounds the per-millisecond sequence table.
const maxSeqMillis = 4096

// FileQueue stores each event as its own JSON file in a directory. The file
// name is <millis>_<seq>_<user>.json: capture time, then a zero-padded
// sequence in arrival order within that millisecond, so a plain directory
// listing is already in queue order.
type FileQueue struct {
	dir string

	mu     sync.Mutex
	closed bool
	seq    map[int64]int
	now    func() time.Time
}

// NewFileQueue creates the queue directory if needed and returns a queue over it.
func NewFileQueue(dir string) (*FileQueue, error) {
	if dir == "" {
		return nil, errors.New("queue directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}

	logging.Info().Str("dir", dir).Str("backend", BackendFile).Msg("Offline queue opened")
	return &FileQueue{dir: dir, seq: make(map[int64]int), now: time.Now}, nil
}

// Dir returns the queue directory.
func (q *FileQueue) Dir() string {
	return q.dir
}

// Enqueue writes the event to a new file. The write is atomic: a crash leaves
// either no file or a complete one.
func (q *FileQueue) Enqueue(ctx context.Context, event models.AttendanceEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		RecordEnqueueFailure(BackendFile)
		return fmt.Errorf("marshal event: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	path := q.nextPath(event)
	if err := fileutil.WriteFileAtomic(path, data, 0o600); err != nil {
		RecordEnqueueFailure(BackendFile)
		return fmt.Errorf("persist event for user %s: %w", event.UserID, err)
	}

	RecordEnqueue(BackendFile)
	return nil
}

// nextPath returns an unused file path for the event (must be called with mu held).
func (q *FileQueue) nextPath(event models.AttendanceEvent) string {
	at := event.Timestamp
	if at.IsZero() {
		at = q.now()
	}
	millis := at.UnixMilli()
	user := sanitizeUserID(event.UserID)

	if len(q.seq) >= maxSeqMillis {
		clear(q.seq)
	}
	n := q.seq[millis]
	path := recordPath(q.dir, millis, n, user)
	for fileExists(path) {
		n++
		path = recordPath(q.dir, millis, n, user)
	}
	q.seq[millis] = n + 1
	return path
}

func recordPath(dir string, millis int64, seq int, user string) string {
	return filepath.Join(dir, fmt.Sprintf("%013d_%04d_%s%s", millis, seq, user, recordExt))
}

// ListPending reads every queued file. Files that cannot be decoded are logged
// and skipped so that one damaged record never blocks the rest.
func (q *FileQueue) ListPending(ctx context.Context) ([]Record, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, ErrQueueClosed
	}

	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("list queue directory: %w", err)
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != recordExt {
			continue
		}

		//nolint:gosec // G304: name comes from our own queue directory
		data, err := os.ReadFile(filepath.Join(q.dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			logging.Warn().Err(err).Str("record", name).Msg("Failed to read queued event")
			continue
		}

		var event models.AttendanceEvent
		if err := json.Unmarshal(data, &event); err != nil {
			logging.Warn().Err(err).Str("record", name).Msg("Skipping undecodable queued event")
			continue
		}
		records = append(records, Record{Handle: name, Event: event})
	}

	UpdatePendingRecords(BackendFile, len(records))
	return records, nil
}

// Remove deletes the file for handle. A missing file is not an error.
func (q *FileQueue) Remove(_ context.Context, handle string) error {
	if handle == "" {
		return ErrEmptyHandle
	}
	if handle != filepath.Base(handle) {
		return fmt.Errorf("invalid record handle %q", handle)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	err := os.Remove(filepath.Join(q.dir, handle))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove queued event %s: %w", handle, err)
	}
	if err == nil {
		RecordRemove(BackendFile)
	}
	return nil
}

// Close marks the queue closed. Files stay on disk for the next process.
func (q *FileQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// sanitizeUserID keeps user ids safe to embed in a file name.
func sanitizeUserID(id string) string {
	if id == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, id)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
