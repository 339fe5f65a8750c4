// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

// Package queue implements the durable offline store for attendance events
// captured from terminals, and the upload cycle that drains it into the backend.
//
// Delivery is at-least-once: an event is persisted before Enqueue returns and
// is removed only after the backend has accepted it. If the acceptance is lost
// in transit the event is uploaded again on the next cycle.
//
// Two storage backends implement Queue:
//
//   - FileQueue writes one JSON file per event, named <captureMillis>_<userId>.json
//   - BadgerQueue stores one key per event in BadgerDB and tracks upload attempts
package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/tomtom215/zkbridge/internal/models"
)

// Storage backends accepted by Open.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

var (
	// ErrQueueClosed is returned by operations on a closed queue.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrEmptyHandle is returned when Remove is called without a handle.
	ErrEmptyHandle = errors.New("record handle cannot be empty")
)

// Record is a queued event plus the storage handle used to remove it.
type Record struct {
	Handle string
	Event  models.AttendanceEvent

	// Attempts is the number of failed uploads recorded for the event.
	// Only backends implementing AttemptRecorder maintain it.
	Attempts int
}

// Queue is a durable, at-least-once store of attendance events.
type Queue interface {
	// Enqueue persists the event before returning. A failure means the event was
	// not stored and the caller still owns it.
	Enqueue(ctx context.Context, event models.AttendanceEvent) error

	// ListPending returns every queued record, oldest capture first.
	ListPending(ctx context.Context) ([]Record, error)

	// Remove deletes one record. Removing a missing handle is not an error.
	Remove(ctx context.Context, handle string) error

	// Close releases the underlying storage.
	Close() error
}

// AttemptRecorder is implemented by queues that keep per-record failure history.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, handle string, lastError string) error
}

// Options selects and configures a queue backend.
type Options struct {
	Backend    string
	Dir        string
	SyncWrites bool
}

// Open creates the queue described by opts. The badger backend keeps its files
// in a "badger" subdirectory of opts.Dir.
func Open(opts Options) (Queue, error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileQueue(opts.Dir)
	case BackendBadger:
		cfg := DefaultBadgerConfig(filepath.Join(opts.Dir, "badger"))
		cfg.SyncWrites = opts.SyncWrites
		return OpenBadger(&cfg)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", opts.Backend)
	}
}
