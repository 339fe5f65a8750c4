// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package queue

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/zkbridge/internal/models"
)

func testEvent(userID string, at time.Time) models.AttendanceEvent {
	return models.AttendanceEvent{
		UserID:    userID,
		Timestamp: at,
		Direction: models.DirectionIn,
		DeviceID:  "f22-1",
	}
}

func TestFileQueue_EnqueueSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	q, err := NewFileQueue(dir)
	if err != nil {
		t.Fatalf("NewFileQueue() error = %v", err)
	}
	at := time.Date(2025, 5, 2, 7, 59, 0, 0, time.UTC)
	if err := q.Enqueue(ctx, testEvent("1001", at)); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewFileQueue(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	records, err := reopened.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got.Event.UserID != "1001" || !got.Event.Timestamp.Equal(at) || got.Event.Direction != models.DirectionIn {
		t.Errorf("unexpected event %+v", got.Event)
	}
	wantName := "1746172740000_0000_1001.json"
	if got.Handle != wantName {
		t.Errorf("Handle = %q, want %q", got.Handle, wantName)
	}
}

func TestFileQueue_OneFilePerEvent(t *testing.T) {
	ctx := context.Background()
	q, err := NewFileQueue(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	at := time.UnixMilli(1700000000000)
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, testEvent("42", at)); err != nil {
			t.Fatalf("Enqueue() #%d error = %v", i, err)
		}
	}

	entries, err := os.ReadDir(q.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 files for 3 events with the same key, got %d", len(entries))
	}
}

func TestFileQueue_ListOrderAndRemove(t *testing.T) {
	ctx := context.Background()
	q, err := NewFileQueue(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	base := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	users := []string{"c", "a", "b"}
	for i, u := range users {
		if err := q.Enqueue(ctx, testEvent(u, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	records, err := q.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i, u := range users {
		if records[i].Event.UserID != u {
			t.Fatalf("record %d = %s, want %s (capture order)", i, records[i].Event.UserID, u)
		}
	}

	if err := q.Remove(ctx, records[1].Handle); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	// Removing again is a no-op.
	if err := q.Remove(ctx, records[1].Handle); err != nil {
		t.Fatalf("second Remove() error = %v", err)
	}

	left, err := q.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 2 || left[0].Event.UserID != "c" || left[1].Event.UserID != "b" {
		t.Errorf("Remove must delete exactly one record, left %+v", left)
	}
}

func TestFileQueue_SameMillisecondKeepsArrivalOrder(t *testing.T) {
	ctx := context.Background()
	q, err := NewFileQueue(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	at := time.UnixMilli(1700000000000)
	arrivals := []struct{ user, device string }{
		{"7", "first"},
		{"7", "second"},
		{"7", "third"},
		{"0", "fourth"},
	}
	for _, a := range arrivals {
		ev := testEvent(a.user, at)
		ev.DeviceID = a.device
		if err := q.Enqueue(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	records, err := q.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != len(arrivals) {
		t.Fatalf("got %d records, want %d", len(records), len(arrivals))
	}
	for i, a := range arrivals {
		if records[i].Event.DeviceID != a.device {
			t.Errorf("record %d (%s) = %s, want %s", i, records[i].Handle, records[i].Event.DeviceID, a.device)
		}
	}

	// A reopened queue still appends after what is on disk for the same key.
	reopened, err := NewFileQueue(q.Dir())
	if err != nil {
		t.Fatal(err)
	}
	ev := testEvent("7", at)
	ev.DeviceID = "fifth"
	if err := reopened.Enqueue(ctx, ev); err != nil {
		t.Fatal(err)
	}
	records, err = reopened.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last := records[len(records)-1]; last.Event.DeviceID != "fifth" {
		t.Errorf("last record = %s (%s), want fifth", last.Event.DeviceID, last.Handle)
	}
}

func TestFileQueue_SkipsForeignAndCorruptFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	q, err := NewFileQueue(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, testEvent("7", time.Now())); err != nil {
		t.Fatal(err)
	}

	writeRaw(t, dir, "notes.txt", "hello")
	writeRaw(t, dir, "1_broken.json", "{")
	writeRaw(t, dir, ".8_partial.json.tmp-1", "{}")

	records, err := q.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(records) != 1 || records[0].Event.UserID != "7" {
		t.Errorf("expected only the valid record, got %+v", records)
	}
}

func writeRaw(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestFileQueue_EnqueueFailurePropagates(t *testing.T) {
	dir := t.TempDir()
	q, err := NewFileQueue(dir)
	if err != nil {
		t.Fatal(err)
	}
	// Replace the directory with a file so writes fail.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := q.Enqueue(context.Background(), testEvent("1", time.Now())); err == nil {
		t.Fatal("expected Enqueue to fail when the directory is unusable")
	}
}

func TestFileQueue_Closed(t *testing.T) {
	q, err := NewFileQueue(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_ = q.Close()

	if err := q.Enqueue(context.Background(), testEvent("1", time.Now())); err != ErrQueueClosed {
		t.Errorf("Enqueue() after Close = %v, want ErrQueueClosed", err)
	}
	if _, err := q.ListPending(context.Background()); err != ErrQueueClosed {
		t.Errorf("ListPending() after Close = %v, want ErrQueueClosed", err)
	}
}

func TestSanitizeUserID(t *testing.T) {
	tests := map[string]string{
		"1001":     "1001",
		"":         "unknown",
		"../x":     "---x",
		"a_b c":    "a-b-c",
		"EMP-0042": "EMP-0042",
	}
	for in, want := range tests {
		if got := sanitizeUserID(in); got != want {
			t.Errorf("sanitizeUserID(%q) = %q, want %q", in, got, want)
		}
		if strings.Contains(sanitizeUserID(in), "_") {
			t.Errorf("sanitized id %q must not contain the separator", in)
		}
	}
}
