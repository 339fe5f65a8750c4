// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

// Package watermark persists the roster sync cursor: whether the one-time full
// sync has completed and when the last full and incremental runs finished.
//
// The record is a small JSON object stored at a fixed path. A missing file is
// the zero watermark; a corrupt file is an error so that a damaged cursor is
// never silently replaced by "sync everything since 1970".
package watermark

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/zkbridge/internal/fileutil"
	"github.com/tomtom215/zkbridge/internal/validation"
)

// FileName is the default watermark file name inside the data directory.
const FileName = "sync-log.json"

// EpochSince is the since date used before any incremental sync has run.
const EpochSince = "1970-01-01"

// Watermark is the persisted sync cursor.
type Watermark struct {
	FullSyncCompleted     bool       `json:"fullSyncCompleted"`
	LastFullSyncAt        *time.Time `json:"lastFullSyncAt"`
	LastIncrementalSyncAt *time.Time `json:"lastIncrementalSyncAt"`
}

// IncrementalSince returns the day boundary for the next changed-since query.
func (w Watermark) IncrementalSince() string {
	if w.LastIncrementalSyncAt == nil {
		return EpochSince
	}
	return w.LastIncrementalSyncAt.UTC().Format(validation.SinceDateLayout)
}

// Store reads and writes the watermark file. All methods are safe for concurrent use.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Load reads the watermark. A missing file yields the zero watermark.
func (s *Store) Load() (Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (Watermark, error) {
	var w Watermark

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return w, nil
	}
	if err != nil {
		return w, fmt.Errorf("read watermark: %w", err)
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return Watermark{}, fmt.Errorf("decode watermark %s: %w", s.path, err)
	}
	return w, nil
}

// Save replaces the stored watermark.
func (s *Store) Save(w Watermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(w)
}

func (s *Store) save(w Watermark) error {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("encode watermark: %w", err)
	}
	if err := fileutil.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write watermark: %w", err)
	}
	return nil
}

// update applies fn to the current watermark and persists the result.
func (s *Store) update(fn func(*Watermark)) (Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.load()
	if err != nil {
		return w, err
	}
	fn(&w)
	if err := s.save(w); err != nil {
		return w, err
	}
	return w, nil
}

// MarkFullSync records a completed full sync at the given time.
func (s *Store) MarkFullSync(at time.Time) (Watermark, error) {
	return s.update(func(w *Watermark) {
		at := at.UTC()
		w.FullSyncCompleted = true
		w.LastFullSyncAt = &at
	})
}

// MarkIncrementalSync records a finished incremental sync at the given time.
func (s *Store) MarkIncrementalSync(at time.Time) (Watermark, error) {
	return s.update(func(w *Watermark) {
		at := at.UTC()
		w.LastIncrementalSyncAt = &at
	})
}

// ResetIncremental clears the incremental cursor so that the next run asks for
// every change since the epoch. The full sync flag is left alone.
func (s *Store) ResetIncremental() (Watermark, error) {
	return s.update(func(w *Watermark) {
		w.LastIncrementalSyncAt = nil
	})
}
