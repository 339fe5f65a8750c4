// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package testinfra

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/zkbridge/internal/models"
)

// UploadPath is the attendance endpoint served by MockBackend, relative to BaseURL.
const UploadPath = "/bridge/attendance"

// Capture is one request received by MockBackend.
type Capture struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    []byte
}

// MockBackend serves the roster and upload endpoints under /api.
type MockBackend struct {
	Server *httptest.Server

	mu       sync.Mutex
	captures []Capture
	roster   []models.UserRecord
	changed  []models.UserRecord
	uploads  []models.AttendanceEvent

	uploadStatus func(n int, event models.AttendanceEvent) int
	rosterStatus int
	uploadCount  int
}

// NewMockBackend starts the server and closes it on cleanup.
func NewMockBackend(t testing.TB) *MockBackend {
	t.Helper()

	mb := &MockBackend{rosterStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/bridge/sync/all", mb.handleAll)
	mux.HandleFunc("/api/bridge/sync", mb.handleChanged)
	mux.HandleFunc("/api"+UploadPath, mb.handleUpload)

	mb.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()

		mb.mu.Lock()
		mb.captures = append(mb.captures, Capture{
			Method:  r.Method,
			Path:    r.URL.Path,
			Query:   r.URL.RawQuery,
			Headers: r.Header.Clone(),
			Body:    body,
		})
		mb.mu.Unlock()

		r.Body = io.NopCloser(bytes.NewReader(body))
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(mb.Server.Close)
	return mb
}

// BaseURL is the backend base URL including the /api prefix.
func (mb *MockBackend) BaseURL() string {
	return mb.Server.URL + "/api"
}

// SetRoster sets the full snapshot.
func (mb *MockBackend) SetRoster(users []models.UserRecord) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.roster = users
}

// SetChanged sets the delta returned for any updated_since.
func (mb *MockBackend) SetChanged(users []models.UserRecord) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.changed = users
}

// SetRosterStatus makes both roster endpoints answer with code.
func (mb *MockBackend) SetRosterStatus(code int) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.rosterStatus = code
}

// SetUploadStatus installs a per-upload status picker.
func (mb *MockBackend) SetUploadStatus(fn func(n int, event models.AttendanceEvent) int) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.uploadStatus = fn
}

// Captures returns the requests received so far.
func (mb *MockBackend) Captures() []Capture {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	out := make([]Capture, len(mb.captures))
	copy(out, mb.captures)
	return out
}

// Uploads returns the events the backend accepted.
func (mb *MockBackend) Uploads() []models.AttendanceEvent {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	out := make([]models.AttendanceEvent, len(mb.uploads))
	copy(out, mb.uploads)
	return out
}

func (mb *MockBackend) handleAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	mb.mu.Lock()
	status, users := mb.rosterStatus, mb.roster
	mb.mu.Unlock()
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, map[string]interface{}{"success": true, "alumnos": nonNil(users)})
}

func (mb *MockBackend) handleChanged(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	mb.mu.Lock()
	status, users := mb.rosterStatus, mb.changed
	mb.mu.Unlock()
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, map[string]interface{}{
		"success":  true,
		"usuarios": nonNil(users),
		"count":    len(users),
		"since":    r.URL.Query().Get("updated_since"),
	})
}

func (mb *MockBackend) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var event models.AttendanceEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	mb.mu.Lock()
	mb.uploadCount++
	status := http.StatusOK
	if mb.uploadStatus != nil {
		status = mb.uploadStatus(mb.uploadCount, event)
	}
	if status < 300 {
		mb.uploads = append(mb.uploads, event)
	}
	mb.mu.Unlock()

	w.WriteHeader(status)
}

// Users builds n active users with external ids "1".."n".
func Users(n int) []models.UserRecord {
	out := make([]models.UserRecord, n)
	for i := range out {
		id := strconv.Itoa(i + 1)
		out[i] = models.UserRecord{ExternalID: id, Names: "User " + id, Status: models.StatusActive}
	}
	return out
}

func nonNil(users []models.UserRecord) []models.UserRecord {
	if users == nil {
		return []models.UserRecord{}
	}
	return users
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
