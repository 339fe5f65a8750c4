// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/tomtom215/zkbridge/internal/websocket"
)

func startWSServer(t *testing.T, origins []string) (*httptest.Server, *websocket.Hub, *fixture) {
	t.Helper()
	f := newFixture(t)
	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.RunWithContext(ctx) }()

	f.handler = NewHandler(Deps{
		Status:      f.status,
		Engine:      f.engine,
		Incremental: f.inc,
		Watermark:   f.wm,
		Hub:         hub,
		CORSOrigins: origins,
	})
	srv := httptest.NewServer(NewRouter(f.handler, RouterConfig{CORSOrigins: origins}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, hub, f
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
}

func TestWebSocket_ReceivesSyncProgress(t *testing.T) {
	srv, hub, f := startWSServer(t, []string{"http://panel.local"})

	header := http.Header{"Origin": []string{"http://panel.local"}}
	conn, _, err := gws.DefaultDialer.Dial(wsURL(srv), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(2 * time.Millisecond)
	}

	resp, err := http.Post(srv.URL+"/api/v1/sync/full", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	f.handler.Wait()

	seen := map[string]bool{}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for !(seen[websocket.MessageTypeSyncProgress] && seen[websocket.MessageTypeStatus]) {
		var msg websocket.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v (seen %v)", err, seen)
		}
		seen[msg.Type] = true
	}
}

func TestWebSocket_RejectsOrigins(t *testing.T) {
	srv, _, _ := startWSServer(t, []string{"http://panel.local"})

	tests := []struct {
		name   string
		header http.Header
	}{
		{"missing origin", nil},
		{"foreign origin", http.Header{"Origin": []string{"http://evil.local"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := gws.DefaultDialer.Dial(wsURL(srv), tt.header)
			if err == nil {
				conn.Close()
				t.Fatal("upgrade succeeded, want rejection")
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Errorf("response = %v, want 403", resp)
			}
		})
	}
}

func TestWebSocket_NoHub(t *testing.T) {
	f := newFixture(t)
	rec, resp := f.do(t, http.MethodGet, "/api/v1/ws", "")
	if rec.Code != http.StatusServiceUnavailable || resp.Error.Code != ErrCodeServiceUnavailable {
		t.Errorf("status = %d, resp = %+v", rec.Code, resp)
	}
}

func TestSanitizeLogValue(t *testing.T) {
	if got := sanitizeLogValue("a\nb\r\x00c"); got != "abc" {
		t.Errorf("sanitizeLogValue = %q", got)
	}
	if got := sanitizeLogValue(strings.Repeat("x", 300)); len(got) != 203 {
		t.Errorf("len = %d, want 203", len(got))
	}
}
