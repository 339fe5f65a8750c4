// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package ring

import (
	"reflect"
	"sync"
	"testing"
)

func TestBuffer_KeepsMostRecent(t *testing.T) {
	tests := []struct {
		name   string
		cap    int
		pushes []int
		want   []int
	}{
		{"empty", 3, nil, []int{}},
		{"partial", 3, []int{1, 2}, []int{1, 2}},
		{"exact", 3, []int{1, 2, 3}, []int{1, 2, 3}},
		{"overflow", 3, []int{1, 2, 3, 4, 5}, []int{3, 4, 5}},
		{"wraps twice", 2, []int{1, 2, 3, 4, 5, 6, 7}, []int{6, 7}},
		{"zero capacity", 0, []int{1, 2}, []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New[int](tt.cap)
			for _, v := range tt.pushes {
				b.Push(v)
			}
			if got := b.Items(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Items() = %v, want %v", got, tt.want)
			}
			if b.Len() != len(tt.want) {
				t.Errorf("Len() = %d, want %d", b.Len(), len(tt.want))
			}
		})
	}
}

func TestBuffer_ItemsIsCopy(t *testing.T) {
	b := New[string](10)
	b.Push("a", "b")
	items := b.Items()
	items[0] = "changed"
	if got := b.Items()[0]; got != "a" {
		t.Errorf("buffer mutated through Items(): %q", got)
	}
}

func TestBuffer_ConcurrentPush(t *testing.T) {
	b := New[int](10)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Push(i*100 + j)
			}
		}(i)
	}
	wg.Wait()
	if b.Len() != 10 || b.Cap() != 10 {
		t.Errorf("Len() = %d Cap() = %d", b.Len(), b.Cap())
	}
}
