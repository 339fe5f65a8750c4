// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/zkbridge/internal/logging"
	"github.com/tomtom215/zkbridge/internal/orchestrator"
	"github.com/tomtom215/zkbridge/internal/roster"
	"github.com/tomtom215/zkbridge/internal/validation"
	"github.com/tomtom215/zkbridge/internal/watermark"
	"github.com/tomtom215/zkbridge/internal/websocket"
)

// maxRequestBody caps sync request bodies.
const maxRequestBody = 4 << 10

// StatusSource provides the bridge snapshot. orchestrator.Orchestrator
// implements it.
type StatusSource interface {
	Status() orchestrator.Status
	RecordError(msg string)
}

// RosterSync is the chunked delivery engine. roster.Engine implements it.
type RosterSync interface {
	Running() bool
	Progress() roster.Progress
	LastResult() (roster.Result, bool)
	StartSync(ctx context.Context, req roster.SyncRequest, onProgress func(roster.Progress)) (roster.Result, error)
}

// IncrementalSync is the changed-since apply pass. roster.Incremental
// implements it.
type IncrementalSync interface {
	Syncing() bool
	Run(ctx context.Context) (roster.Report, error)
	Reset() error
}

// WatermarkSource reads the persisted sync cursor.
type WatermarkSource interface {
	Load() (watermark.Watermark, error)
}

// Deps are the handler collaborators. Hub may be nil, which disables the
// websocket endpoint.
type Deps struct {
	Status      StatusSource
	Engine      RosterSync
	Incremental IncrementalSync
	Watermark   WatermarkSource
	Hub         *websocket.Hub

	// BaseContext parents the background runs started by POST requests so
	// they outlive the request and stop on shutdown.
	BaseContext context.Context

	// CORSOrigins also gates websocket upgrades.
	CORSOrigins []string
}

// Handler serves the status API.
type Handler struct {
	deps      Deps
	startTime time.Time
	bg        sync.WaitGroup
}

// NewHandler builds the handler. A nil BaseContext uses context.Background.
func NewHandler(deps Deps) *Handler {
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	return &Handler{deps: deps, startTime: time.Now()}
}

// Wait blocks until every background run started by the handler returns.
func (h *Handler) Wait() {
	h.bg.Wait()
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status             string  `json:"status"`
	Online             bool    `json:"online"`
	TerminalsTotal     int     `json:"terminalsTotal"`
	TerminalsConnected int     `json:"terminalsConnected"`
	UptimeSeconds      float64 `json:"uptimeSeconds"`
}

// Health reports "healthy" when every terminal answered the last poll,
// "degraded" when some did, and "offline" when none did.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	st := h.deps.Status.Status()
	resp := HealthResponse{
		Online:         st.Online,
		TerminalsTotal: len(st.Terminals),
		UptimeSeconds:  time.Since(h.startTime).Seconds(),
	}
	for _, t := range st.Terminals {
		if t.Connected {
			resp.TerminalsConnected++
		}
	}
	switch {
	case resp.TerminalsConnected == 0:
		resp.Status = "offline"
	case resp.TerminalsConnected < resp.TerminalsTotal:
		resp.Status = "degraded"
	default:
		resp.Status = "healthy"
	}
	NewResponseWriter(w, r).Success(resp)
}

// Status returns the full bridge snapshot.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.deps.Status.Status())
}

// Terminals returns the observed terminal states.
func (h *Handler) Terminals(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.deps.Status.Status().Terminals)
}

// SyncProgressResponse is the body of GET /api/v1/sync/progress.
type SyncProgressResponse struct {
	Running    bool            `json:"running"`
	Progress   roster.Progress `json:"progress"`
	LastResult *roster.Result  `json:"lastResult,omitempty"`
}

// SyncProgress returns the engine's live progress and last finished run.
func (h *Handler) SyncProgress(w http.ResponseWriter, r *http.Request) {
	resp := SyncProgressResponse{
		Running:  h.deps.Engine.Running(),
		Progress: h.deps.Engine.Progress(),
	}
	if last, ok := h.deps.Engine.LastResult(); ok {
		resp.LastResult = &last
	}
	NewResponseWriter(w, r).Success(resp)
}

// Watermark returns the persisted sync cursor and the next since date.
func (h *Handler) Watermark(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	wm, err := h.deps.Watermark.Load()
	if err != nil {
		rw.InternalError("Failed to read sync watermark", err)
		return
	}
	rw.Success(map[string]interface{}{
		"watermark": wm,
		"nextSince": wm.IncrementalSince(),
	})
}

// ResetIncremental clears the incremental watermark.
func (h *Handler) ResetIncremental(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Incremental.Syncing() {
		rw.Conflict("Incremental sync in progress")
		return
	}
	if err := h.deps.Incremental.Reset(); err != nil {
		rw.InternalError("Failed to reset incremental watermark", err)
		return
	}
	wm, err := h.deps.Watermark.Load()
	if err != nil {
		rw.InternalError("Failed to read sync watermark", err)
		return
	}
	rw.Success(wm)
}

// StartFullSync delivers the whole roster to every terminal in the background.
func (h *Handler) StartFullSync(w http.ResponseWriter, r *http.Request) {
	h.startRosterSync(w, r, roster.SyncRequest{Type: roster.SyncFull})
}

// StartRosterSync delivers a full or changed-since roster over the chunk
// protocol. The body is a roster.SyncRequest; an empty body means full.
func (h *Handler) StartRosterSync(w http.ResponseWriter, r *http.Request) {
	var req roster.SyncRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		NewResponseWriter(w, r).BadRequest("Failed to read request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			NewResponseWriter(w, r).BadRequest("Invalid JSON body")
			return
		}
	}
	if req.Type == "" {
		req.Type = roster.SyncFull
	}
	if _, err := roster.ParseSyncType(string(req.Type)); err != nil {
		NewResponseWriter(w, r).BadRequest(err.Error())
		return
	}
	if verr := validation.ValidateStruct(req); verr != nil {
		NewResponseWriter(w, r).ValidationError(verr)
		return
	}
	h.startRosterSync(w, r, req)
}

func (h *Handler) startRosterSync(w http.ResponseWriter, r *http.Request, req roster.SyncRequest) {
	rw := NewResponseWriter(w, r)
	if h.deps.Engine.Running() {
		rw.Conflict("Roster sync already in progress")
		return
	}

	ctx := logging.ContextWithRequestID(h.deps.BaseContext, logging.RequestIDFromContext(r.Context()))
	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		log := logging.Ctx(ctx)
		result, err := h.deps.Engine.StartSync(ctx, req, h.broadcastProgress)
		switch {
		case errors.Is(err, roster.ErrSyncInProgress):
			log.Info().Msg("Manual roster sync lost the race to another run")
		case err != nil:
			h.deps.Status.RecordError("RosterSync: " + err.Error())
			log.Error().Err(err).Str("type", string(req.Type)).Msg("Manual roster sync failed")
		default:
			log.Info().Str("run_id", result.RunID).Bool("complete", result.Complete()).Msg("Manual roster sync finished")
		}
		h.broadcastStatus()
	}()

	rw.Accepted(map[string]interface{}{
		"started": true,
		"type":    req.Type,
		"since":   req.Since,
	})
}

// StartIncremental runs one changed-since apply pass in the background.
func (h *Handler) StartIncremental(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Incremental.Syncing() {
		rw.Conflict("Incremental sync already in progress")
		return
	}

	ctx := logging.ContextWithRequestID(h.deps.BaseContext, logging.RequestIDFromContext(r.Context()))
	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		report, err := h.deps.Incremental.Run(ctx)
		if err != nil {
			h.deps.Status.RecordError("UserSync: " + err.Error())
		} else if !report.Skipped {
			logging.Ctx(ctx).Info().Int("count", report.Count).Msg("Manual incremental sync finished")
		}
		h.broadcastStatus()
	}()

	rw.Accepted(map[string]interface{}{"started": true})
}

// WebSocket upgrades the connection and registers it with the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.deps.Hub == nil {
		NewResponseWriter(w, r).ServiceUnavailable("WebSocket service unavailable")
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := websocket.NewClient(h.deps.Hub, conn)
	h.deps.Hub.Register <- client
	client.Start()
}

func (h *Handler) broadcastProgress(p roster.Progress) {
	if h.deps.Hub != nil {
		h.deps.Hub.BroadcastSyncProgress(p)
	}
}

func (h *Handler) broadcastStatus() {
	if h.deps.Hub != nil {
		h.deps.Hub.BroadcastStatus(h.deps.Status.Status())
	}
}
