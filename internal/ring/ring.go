// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

// Package ring provides a fixed-capacity buffer that keeps the most recent
// items, used for the status snapshot's recent errors and events.
package ring

import "sync"

// Buffer holds at most Cap items; pushing onto a full buffer drops the
// oldest. It is safe for concurrent use.
type Buffer[T any] struct {
	mu    sync.Mutex
	items []T
	start int
	size  int
}

// New returns a buffer with the given capacity (minimum 1).
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Cap returns the capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// Len returns the number of stored items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Push appends items, evicting the oldest when full.
func (b *Buffer[T]) Push(items ...T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, item := range items {
		if b.size < len(b.items) {
			b.items[(b.start+b.size)%len(b.items)] = item
			b.size++
			continue
		}
		b.items[b.start] = item
		b.start = (b.start + 1) % len(b.items)
	}
}

// Items returns a copy of the stored items, oldest first.
func (b *Buffer[T]) Items() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.start+i)%len(b.items)]
	}
	return out
}
