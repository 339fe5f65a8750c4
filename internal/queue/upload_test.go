// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/zkbridge/internal/models"
)

// fakeUploader fails for the configured user ids.
type fakeUploader struct {
	mu       sync.Mutex
	failFor  map[string]bool
	uploaded []string
	block    chan struct{}
}

func (f *fakeUploader) UploadEvent(_ context.Context, ev models.AttendanceEvent) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[ev.UserID] {
		return errors.New("HTTP 500: internal error")
	}
	f.uploaded = append(f.uploaded, ev.UserID)
	return nil
}

func fillQueue(t *testing.T, q Queue, users ...string) {
	t.Helper()
	base := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	for i, u := range users {
		if err := q.Enqueue(context.Background(), testEvent(u, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}
}

func TestUploader_PartialFailureIsolation(t *testing.T) {
	backends := map[string]func(t *testing.T) Queue{
		BackendFile: func(t *testing.T) Queue {
			q, err := NewFileQueue(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			return q
		},
		BackendBadger: func(t *testing.T) Queue {
			return openTestBadger(t, createTestBadgerConfig(t))
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := open(t)
			defer q.Close()
			fillQueue(t, q, "1", "2", "3", "4", "5")

			up := &fakeUploader{failFor: map[string]bool{"3": true}}
			errs, err := NewUploader(q, up).Run(ctx)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			if len(errs) != 1 {
				t.Fatalf("expected exactly one error, got %v", errs)
			}
			if !strings.HasSuffix(errs[0], ": HTTP 500: internal error") {
				t.Errorf("error string = %q, want \"<recordId>: <message>\"", errs[0])
			}
			if strings.Join(up.uploaded, ",") != "1,2,4,5" {
				t.Errorf("uploaded = %v, want records after the failure to be delivered in order", up.uploaded)
			}

			left, err := q.ListPending(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(left) != 1 || left[0].Event.UserID != "3" {
				t.Fatalf("expected only the failing record to remain, got %+v", left)
			}
			if !strings.HasPrefix(errs[0], left[0].Handle+": ") {
				t.Errorf("error %q should start with the record id %q", errs[0], left[0].Handle)
			}
		})
	}
}

func TestUploader_RetriesOnNextCycle(t *testing.T) {
	ctx := context.Background()
	q, err := NewFileQueue(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fillQueue(t, q, "9")

	up := &fakeUploader{failFor: map[string]bool{"9": true}}
	u := NewUploader(q, up)
	if errs, _ := u.Run(ctx); len(errs) != 1 {
		t.Fatalf("first cycle errors = %v", errs)
	}

	up.failFor = nil
	errs, err := u.Run(ctx)
	if err != nil || len(errs) != 0 {
		t.Fatalf("second cycle = %v, %v", errs, err)
	}
	left, _ := q.ListPending(ctx)
	if len(left) != 0 {
		t.Errorf("queue should be empty, %d left", len(left))
	}
}

// failingQueue cannot be listed.
type failingQueue struct{ Queue }

func (failingQueue) ListPending(context.Context) ([]Record, error) {
	return nil, errors.New("disk gone")
}

func TestUploader_ListFailureIsReturned(t *testing.T) {
	_, err := NewUploader(failingQueue{}, &fakeUploader{}).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk gone") {
		t.Fatalf("Run() error = %v, want listing error", err)
	}
}

func TestUploader_OverlappingRunIsNoop(t *testing.T) {
	q, err := NewFileQueue(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fillQueue(t, q, "1")

	up := &fakeUploader{block: make(chan struct{})}
	u := NewUploader(q, up)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = u.Run(context.Background())
	}()

	// Wait for the first cycle to hold the guard.
	deadline := time.Now().Add(2 * time.Second)
	for !u.running.Load() {
		if time.Now().After(deadline) {
			t.Fatal("first cycle never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	errs, err := u.Run(context.Background())
	if err != nil || errs != nil {
		t.Errorf("overlapping Run() = %v, %v; want nil, nil", errs, err)
	}

	close(up.block)
	<-done
}
