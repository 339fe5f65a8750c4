// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/zkbridge/internal/models"
)

func newTestClient(t *testing.T, srv *httptest.Server, mutate func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL + "/api"
	cfg.APIKey = "secret"
	cfg.RetryBaseDelay = time.Millisecond
	cfg.UploadRate = 0
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:3000", "ftp://example.com", "http://"} {
		cfg := DefaultConfig()
		cfg.BaseURL = raw
		if _, err := NewClient(cfg); err == nil {
			t.Errorf("NewClient(%q) expected error", raw)
		}
	}
}

func TestFetchAllUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/bridge/sync/all" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = io.WriteString(w, `{"alumnos":[{"id":7,"nombre":"Ana","estado":"activo"},{"externalId":"x-2","names":"Bo"}]}`)
	}))
	defer srv.Close()

	users, err := newTestClient(t, srv, nil).FetchAllUsers(context.Background())
	if err != nil {
		t.Fatalf("FetchAllUsers() error = %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
	if users[0].ExternalID != "7" || users[0].Names != "Ana" || users[0].Status != "activo" {
		t.Errorf("users[0] = %+v", users[0])
	}
	if users[1].ExternalID != "x-2" {
		t.Errorf("users[1] = %+v", users[1])
	}
}

func TestFetchAllUsers_SuccessFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, nil).FetchAllUsers(context.Background())
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("error = %v, want ErrInvalidResponse", err)
	}
}

func TestFetchChangedUsers(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantErr   error
		wantCount int
		wantSince string
	}{
		{
			name:      "usuarios key",
			body:      `{"success":true,"usuarios":[{"id":"1","nombre":"A"},{"id":"2","nombre":"B","estado":"inactivo"}],"count":2,"since":"2025-01-01"}`,
			wantCount: 2,
			wantSince: "2025-01-01",
		},
		{
			name:      "users key without count",
			body:      `{"success":true,"users":[{"id":"1","name":"A"}]}`,
			wantCount: 1,
			wantSince: "2025-01-01",
		},
		{
			name:      "empty delta",
			body:      `{"success":true,"usuarios":[],"count":0}`,
			wantCount: 0,
			wantSince: "2025-01-01",
		},
		{
			name:    "success false",
			body:    `{"success":false,"usuarios":[]}`,
			wantErr: ErrInvalidResponse,
		},
		{
			name:    "missing success",
			body:    `{"usuarios":[]}`,
			wantErr: ErrInvalidResponse,
		},
		{
			name:    "malformed",
			body:    `{"success":tru`,
			wantErr: ErrInvalidResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/api/bridge/sync" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				if got := r.URL.Query().Get("updated_since"); got != "2025-01-01" {
					t.Errorf("updated_since = %q", got)
				}
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			delta, err := newTestClient(t, srv, nil).FetchChangedUsers(context.Background(), "2025-01-01")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FetchChangedUsers() error = %v", err)
			}
			if delta.Count != tt.wantCount || len(delta.Users) != tt.wantCount {
				t.Errorf("count = %d users = %d, want %d", delta.Count, len(delta.Users), tt.wantCount)
			}
			if delta.Since != tt.wantSince {
				t.Errorf("since = %q, want %q", delta.Since, tt.wantSince)
			}
		})
	}
}

func TestFetchChangedUsers_InvalidSince(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	if _, err := newTestClient(t, srv, nil).FetchChangedUsers(context.Background(), "01/02/2025"); err == nil {
		t.Fatal("expected error for malformed since date")
	}
	if hits.Load() != 0 {
		t.Errorf("server was called %d times", hits.Load())
	}
}

func TestUploadEvent(t *testing.T) {
	ts := time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)
	event := models.AttendanceEvent{UserID: "42", Timestamp: ts, Direction: models.DirectionIn, DeviceID: "f22-1"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/bridge/attendance" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var got models.AttendanceEvent
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if got.UserID != "42" || !got.Timestamp.Equal(ts) || got.DeviceID != "f22-1" {
			t.Errorf("body = %+v", got)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	if err := newTestClient(t, srv, nil).UploadEvent(context.Background(), event); err != nil {
		t.Fatalf("UploadEvent() error = %v", err)
	}
}

func TestUploadEvent_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad event", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newTestClient(t, srv, nil).UploadEvent(context.Background(), models.AttendanceEvent{UserID: "1"})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want *HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusBadRequest || httpErr.Body != "bad event" {
		t.Errorf("HTTPError = %+v", httpErr)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestUploadEvent_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch hits.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	if err := newTestClient(t, srv, nil).UploadEvent(context.Background(), models.AttendanceEvent{UserID: "1"}); err != nil {
		t.Fatalf("UploadEvent() error = %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestUploadEvent_RetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) { cfg.MaxRetries = 2 })
	err := c.UploadEvent(context.Background(), models.AttendanceEvent{UserID: "1"})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("error = %v, want 502 HTTPError", err)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) {
		cfg.Breaker = BreakerConfig{MinRequests: 2, FailureRatio: 0.5, Timeout: time.Minute}
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := c.UploadEvent(ctx, models.AttendanceEvent{UserID: "1"}); err == nil {
			t.Fatalf("attempt %d: expected error", i)
		}
	}
	if c.BreakerState() != "open" {
		t.Fatalf("BreakerState() = %q, want open", c.BreakerState())
	}

	err := c.UploadEvent(ctx, models.AttendanceEvent{UserID: "1"})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2", hits.Load())
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := map[string]time.Duration{
		"":      0,
		"3":     3 * time.Second,
		" 1 ":   time.Second,
		"-2":    0,
		"later": 0,
	}
	for in, want := range tests {
		if got := parseRetryAfter(in); got != want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", in, got, want)
		}
	}
}
