// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/zkbridge/internal/logging"
	"github.com/tomtom215/zkbridge/internal/models"
)

const prefixPending = "pending:"

// BadgerConfig tunes the BadgerDB-backed queue.
type BadgerConfig struct {
	// Path is the directory where BadgerDB stores its files.
	Path string

	// SyncWrites forces fsync after every write.
	SyncWrites bool

	MemTableSize     int64
	ValueLogFileSize int64
	NumCompactors    int
	Compression      bool

	// GCRatio is the discard ratio for value log garbage collection.
	GCRatio float64

	// CloseTimeout bounds how long Close waits for BadgerDB to flush.
	CloseTimeout time.Duration
}

// DefaultBadgerConfig returns settings suited to a small edge device.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:             path,
		SyncWrites:       true,
		MemTableSize:     16 << 20,
		ValueLogFileSize: 64 << 20,
		NumCompactors:    2,
		Compression:      true,
		GCRatio:          0.5,
		CloseTimeout:     30 * time.Second,
	}
}

// Validate checks the configuration.
func (c *BadgerConfig) Validate() error {
	if c.Path == "" {
		return errors.New("badger path cannot be empty")
	}
	if c.NumCompactors < 2 {
		return fmt.Errorf("num compactors must be at least 2, got %d", c.NumCompactors)
	}
	if c.MemTableSize <= 0 || c.ValueLogFileSize <= 0 {
		return errors.New("badger table sizes must be positive")
	}
	if c.GCRatio <= 0 || c.GCRatio >= 1 {
		return fmt.Errorf("gc ratio must be in (0,1), got %v", c.GCRatio)
	}
	return nil
}

// badgerEntry is the stored value for one queued event.
type badgerEntry struct {
	Event         models.AttendanceEvent `json:"event"`
	CreatedAt     time.Time              `json:"created_at"`
	Attempts      int                    `json:"attempts"`
	LastAttemptAt time.Time              `json:"last_attempt_at,omitempty"`
	LastError     string                 `json:"last_error,omitempty"`
}

// BadgerStats summarizes the queue for monitoring.
type BadgerStats struct {
	PendingCount int64
	DBSizeBytes  int64
}

// BadgerQueue stores queued events in BadgerDB. Keys sort by capture time so
// iteration order matches arrival order.
type BadgerQueue struct {
	db     *badger.DB
	config BadgerConfig

	mu     sync.RWMutex
	closed bool
}

// OpenBadger opens (or creates) the BadgerDB queue at cfg.Path.
func OpenBadger(cfg *BadgerConfig) (*BadgerQueue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid badger queue config: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.MemTableSize = cfg.MemTableSize
	opts.ValueLogFileSize = cfg.ValueLogFileSize
	opts.NumCompactors = cfg.NumCompactors
	if cfg.Compression {
		opts.Compression = options.Snappy
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Str("backend", BackendBadger).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Offline queue opened")

	return &BadgerQueue{db: db, config: *cfg}, nil
}

// checkOpen returns ErrQueueClosed after Close.
func (q *BadgerQueue) checkOpen() error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

// eventKey builds a key that sorts by capture time, then user id.
func eventKey(event models.AttendanceEvent, now time.Time) string {
	at := event.Timestamp
	if at.IsZero() {
		at = now
	}
	return fmt.Sprintf("%s%020d_%s_%s", prefixPending, at.UnixNano(),
		sanitizeUserID(event.UserID), uuid.New().String()[:8])
}

// Enqueue persists the event in a single BadgerDB transaction.
func (q *BadgerQueue) Enqueue(ctx context.Context, event models.AttendanceEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := q.checkOpen(); err != nil {
		return err
	}

	now := time.Now().UTC()
	data, err := json.Marshal(&badgerEntry{Event: event, CreatedAt: now})
	if err != nil {
		RecordEnqueueFailure(BackendBadger)
		return fmt.Errorf("marshal entry: %w", err)
	}

	key := []byte(eventKey(event, now))
	if err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		RecordEnqueueFailure(BackendBadger)
		return fmt.Errorf("write to BadgerDB: %w", err)
	}

	RecordEnqueue(BackendBadger)
	return nil
}

// ListPending iterates all pending keys in order.
func (q *BadgerQueue) ListPending(ctx context.Context) ([]Record, error) {
	if err := q.checkOpen(); err != nil {
		return nil, err
	}

	var records []Record
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			var entry badgerEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				logging.Warn().Err(err).Str("record", string(item.Key())).Msg("Skipping undecodable queued event")
				continue
			}

			records = append(records, Record{
				Handle:   string(item.KeyCopy(nil)),
				Event:    entry.Event,
				Attempts: entry.Attempts,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate pending entries: %w", err)
	}

	UpdatePendingRecords(BackendBadger, len(records))
	return records, nil
}

// Remove deletes the key. Badger deletes are idempotent, so a missing key is fine.
func (q *BadgerQueue) Remove(_ context.Context, handle string) error {
	if handle == "" {
		return ErrEmptyHandle
	}
	if err := q.checkOpen(); err != nil {
		return err
	}

	if err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(handle))
	}); err != nil {
		return fmt.Errorf("delete queued event: %w", err)
	}

	RecordRemove(BackendBadger)
	return nil
}

// RecordAttempt stores a failed upload attempt on the entry.
func (q *BadgerQueue) RecordAttempt(_ context.Context, handle string, lastError string) error {
	if err := q.checkOpen(); err != nil {
		return err
	}

	key := []byte(handle)
	return q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}

		var entry badgerEntry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return fmt.Errorf("unmarshal entry: %w", err)
		}

		entry.Attempts++
		entry.LastAttemptAt = time.Now().UTC()
		entry.LastError = lastError

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		return txn.Set(key, data)
	})
}

// Stats returns the pending count and on-disk size.
func (q *BadgerQueue) Stats() BadgerStats {
	if q.checkOpen() != nil {
		return BadgerStats{}
	}

	var pending int64
	if err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			pending++
		}
		return nil
	}); err != nil {
		logging.Warn().Err(err).Msg("Failed to count queued events")
	}

	lsm, vlog := q.db.Size()
	return BadgerStats{PendingCount: pending, DBSizeBytes: lsm + vlog}
}

// RunGC reclaims value log space. Returns nil when there was nothing to collect.
func (q *BadgerQueue) RunGC() error {
	if err := q.checkOpen(); err != nil {
		return err
	}

	err := q.db.RunValueLogGC(q.config.GCRatio)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
		return nil
	}
	return err
}

// Close flushes and closes BadgerDB, giving up after CloseTimeout.
func (q *BadgerQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	timeout := q.config.CloseTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	q.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- q.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("Offline queue closed")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("badgerdb close timeout after %v", timeout)
	}
}
