// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingComponent struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingComponent) record(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recordingComponent) Start() { r.record("start") }
func (r *recordingComponent) Stop()  { r.record("stop") }
func (r *recordingComponent) Wait()  { r.record("wait") }

func (r *recordingComponent) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestLifecycleService_StartStopWait(t *testing.T) {
	comp := &recordingComponent{}
	svc := NewLifecycleService("orchestrator", comp)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	deadline := time.Now().Add(time.Second)
	for len(comp.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v, want context.Canceled", err)
	}
	got := comp.snapshot()
	if len(got) != 3 || got[0] != "start" || got[1] != "stop" || got[2] != "wait" {
		t.Errorf("calls = %v, want [start stop wait]", got)
	}
	if svc.String() != "orchestrator" {
		t.Errorf("String() = %q", svc.String())
	}
}

type fakeHub struct{ runs int }

func (h *fakeHub) RunWithContext(ctx context.Context) error {
	h.runs++
	<-ctx.Done()
	return ctx.Err()
}

func TestHubService_DelegatesToHub(t *testing.T) {
	hub := &fakeHub{}
	svc := NewHubService(hub)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve() = %v", err)
	}
	if hub.runs != 1 || svc.String() != "websocket-hub" {
		t.Errorf("runs = %d, name = %q", hub.runs, svc.String())
	}
}
