// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/zkbridge/internal/models"
)

func startListener(t *testing.T, h Handler) (*Listener, models.Terminal) {
	t.Helper()
	l, err := Listen("127.0.0.1:0", h)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, models.Terminal{ID: "term", IP: "127.0.0.1", Port: l.Port()}
}

var sampleChunk = []models.UserRecord{
	{ExternalID: "1", Names: "Ana"},
	{ExternalID: "2", Names: "Luis", Status: "inactive"},
}

func TestClient_SendChunk_Ack(t *testing.T) {
	var (
		mu  sync.Mutex
		got ChunkMessage
	)
	_, term := startListener(t, func(msg ChunkMessage) (interface{}, bool) {
		mu.Lock()
		got = msg
		mu.Unlock()
		return AckHandler(msg)
	})

	if !NewClient(time.Second, 0).SendChunk(context.Background(), term, sampleChunk, 1, 3) {
		t.Fatal("SendChunk() = false, want true")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Type != TypeSyncChunk || got.ChunkNumber != 1 || got.TotalChunks != 3 {
		t.Errorf("request header = %+v", got)
	}
	if len(got.Data) != 2 || got.Data[1].ExternalID != "2" || got.Data[1].Status != "inactive" {
		t.Errorf("request data = %+v", got.Data)
	}
}

func TestClient_SendChunk_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler Handler
	}{
		{
			name: "wrong type",
			handler: func(msg ChunkMessage) (interface{}, bool) {
				return AckMessage{Type: "NACK", ChunkNumber: msg.ChunkNumber}, true
			},
		},
		{
			name: "mismatched chunk number",
			handler: func(msg ChunkMessage) (interface{}, bool) {
				return AckMessage{Type: TypeAck, ChunkNumber: msg.ChunkNumber + 1}, true
			},
		},
		{
			name: "malformed payload",
			handler: func(ChunkMessage) (interface{}, bool) {
				return "not an object", true
			},
		},
		{
			name: "no reply",
			handler: func(ChunkMessage) (interface{}, bool) {
				return nil, false
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, term := startListener(t, tt.handler)

			start := time.Now()
			ok := NewClient(200*time.Millisecond, 0).SendChunk(context.Background(), term, sampleChunk, 0, 1)
			if ok {
				t.Fatal("SendChunk() = true, want false")
			}
			if elapsed := time.Since(start); elapsed > 2*time.Second {
				t.Errorf("attempt took %v, timeout not enforced", elapsed)
			}
		})
	}
}

func TestClient_SendChunk_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	term := models.Terminal{ID: "down", IP: "127.0.0.1", Port: port}
	if NewClient(200*time.Millisecond, 0).SendChunk(context.Background(), term, sampleChunk, 0, 1) {
		t.Fatal("SendChunk() to closed port = true")
	}
}

func TestClient_FreshConnectionPerAttempt(t *testing.T) {
	var served atomic.Int32
	l, term := startListener(t, func(msg ChunkMessage) (interface{}, bool) {
		served.Add(1)
		return AckHandler(msg)
	})

	c := NewClient(time.Second, 0)
	for i := 0; i < 3; i++ {
		if !c.SendChunk(context.Background(), term, sampleChunk, i, 3) {
			t.Fatalf("attempt %d failed", i)
		}
	}
	if served.Load() != 3 {
		t.Errorf("served = %d, want one connection per attempt", served.Load())
	}

	// Every connection is closed after its attempt.
	deadline := time.Now().Add(time.Second)
	for {
		l.mu.Lock()
		open := len(l.conns)
		l.mu.Unlock()
		if open == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d connections still open", open)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClient_PortOverride(t *testing.T) {
	l, _ := startListener(t, nil)

	term := models.Terminal{ID: "t", IP: "127.0.0.1", Port: 1}
	if !NewClient(time.Second, l.Port()).SendChunk(context.Background(), term, sampleChunk, 0, 1) {
		t.Fatal("SendChunk() with port override failed")
	}
}

func TestClient_CancelledContext(t *testing.T) {
	_, term := startListener(t, func(ChunkMessage) (interface{}, bool) { return nil, false })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	if NewClient(5*time.Second, 0).SendChunk(ctx, term, sampleChunk, 0, 1) {
		t.Fatal("SendChunk() = true after cancel")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancel took %v to take effect", elapsed)
	}
}
