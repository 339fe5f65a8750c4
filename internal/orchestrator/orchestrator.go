// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

// Package orchestrator owns the observed terminal state and drives the three
// periodic jobs: polling terminals for attendance, uploading the offline
// queue, and the incremental roster sync. Scheduling lives in the supervisor;
// this package exposes one method per cycle plus a status snapshot.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/zkbridge/internal/device"
	"github.com/tomtom215/zkbridge/internal/logging"
	"github.com/tomtom215/zkbridge/internal/metrics"
	"github.com/tomtom215/zkbridge/internal/models"
	"github.com/tomtom215/zkbridge/internal/ring"
	"github.com/tomtom215/zkbridge/internal/roster"
	"github.com/tomtom215/zkbridge/internal/watermark"
)

// DefaultRingCapacity is the size of the recent errors and events buffers.
const DefaultRingCapacity = 10

// Enqueuer persists captured events.
type Enqueuer interface {
	Enqueue(ctx context.Context, event models.AttendanceEvent) error
}

// UploadCycle drains the offline queue. queue.Uploader implements it.
type UploadCycle interface {
	Run(ctx context.Context) ([]string, error)
}

// IncrementalSync applies roster deltas. roster.Incremental implements it.
type IncrementalSync interface {
	Run(ctx context.Context) (roster.Report, error)
	Syncing() bool
}

// InitialProvisioner runs the first full sync. roster.Provisioner implements it.
type InitialProvisioner interface {
	EnsureInitial(ctx context.Context) (bool, error)
}

// Config tunes the orchestrator.
type Config struct {
	Terminals      []models.Terminal
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	AutoProvision  bool
	RingCapacity   int
}

// Deps are the collaborators. Incremental, Provisioner, Watermark and
// Engine are optional.
type Deps struct {
	Adapter     device.Adapter
	Queue       Enqueuer
	Uploader    UploadCycle
	Incremental IncrementalSync
	Provisioner InitialProvisioner
	Watermark   *watermark.Store
	Engine      *roster.Engine
}

// Status is the read-only snapshot served to the status surface.
type Status struct {
	Online       bool                   `json:"online"`
	LastPollAt   *time.Time             `json:"lastPollAt"`
	Polling      bool                   `json:"polling"`
	Uploading    bool                   `json:"uploading"`
	Syncing      bool                   `json:"syncing"`
	Errors       []string               `json:"errors"`
	RecentEvents []models.RecentEvent   `json:"recentEvents"`
	Terminals    []models.TerminalState `json:"terminals"`
	Watermark    *watermark.Watermark   `json:"watermark,omitempty"`
	Sync         *roster.Progress       `json:"sync,omitempty"`
}

// Orchestrator is safe for concurrent use. Each cycle method guards itself
// against overlap.
type Orchestrator struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu         sync.RWMutex
	order      []string
	terminals  map[string]*models.TerminalState
	lastPollAt *time.Time

	errors *ring.Buffer[string]
	recent *ring.Buffer[models.RecentEvent]

	online       atomic.Bool
	polling      atomic.Bool
	uploading    atomic.Bool
	provisioning atomic.Bool

	listenerMu sync.RWMutex
	listeners  []func(Status)

	bg sync.WaitGroup
}

// New builds an orchestrator. Every configured terminal starts disconnected.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = device.DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = device.DefaultResponseTimeout
	}
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = DefaultRingCapacity
	}

	o := &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		now:       time.Now,
		terminals: make(map[string]*models.TerminalState, len(cfg.Terminals)),
		errors:    ring.New[string](cfg.RingCapacity),
		recent:    ring.New[models.RecentEvent](cfg.RingCapacity),
	}
	for _, t := range cfg.Terminals {
		o.order = append(o.order, t.ID)
		o.terminals[t.ID] = &models.TerminalState{Terminal: t}
	}
	return o
}

// Start marks the bridge online.
func (o *Orchestrator) Start() {
	o.online.Store(true)
	o.notify()
}

// Stop marks the bridge offline and waits for background provisioning.
// Cancel the context given to PollOnce first to cut a running provision short.
func (o *Orchestrator) Stop() {
	o.online.Store(false)
	o.bg.Wait()
}

// Wait blocks until background provisioning has returned.
func (o *Orchestrator) Wait() {
	o.bg.Wait()
}

// OnStatus registers a callback invoked after each cycle with a fresh snapshot.
func (o *Orchestrator) OnStatus(fn func(Status)) {
	o.listenerMu.Lock()
	defer o.listenerMu.Unlock()
	o.listeners = append(o.listeners, fn)
}

func (o *Orchestrator) notify() {
	o.listenerMu.RLock()
	listeners := o.listeners
	o.listenerMu.RUnlock()
	if len(listeners) == 0 {
		return
	}
	st := o.Status()
	for _, fn := range listeners {
		fn(st)
	}
}

// RecordError pushes a message into the recent errors buffer.
func (o *Orchestrator) RecordError(msg string) {
	o.errors.Push(msg)
}

// pollResult is what one terminal read produced.
type pollResult struct {
	id     string
	events []models.AttendanceEvent
	err    error
}

// PollOnce reads every terminal concurrently, updates observed state and
// enqueues the events. One terminal failing never affects another.
func (o *Orchestrator) PollOnce(ctx context.Context) {
	if !o.polling.CompareAndSwap(false, true) {
		logging.Ctx(ctx).Debug().Msg("Poll cycle already running, skipping")
		return
	}
	start := time.Now()
	defer func() {
		o.polling.Store(false)
		metrics.ObservePollCycle(time.Since(start))
		o.notify()
	}()

	results := make([]pollResult, len(o.cfg.Terminals))
	var wg sync.WaitGroup
	for i, t := range o.cfg.Terminals {
		wg.Add(1)
		go func(i int, t models.Terminal) {
			defer wg.Done()
			events, err := o.pollTerminal(ctx, t)
			results[i] = pollResult{id: t.ID, events: events, err: err}
		}(i, t)
	}
	wg.Wait()

	now := o.now()
	anyConnected := false
	for _, res := range results {
		o.applyResult(res, now)
		metrics.RecordTerminalPoll(res.id, res.err == nil, len(res.events))
		if res.err != nil {
			logging.Ctx(ctx).Warn().Err(res.err).Str("terminal", res.id).Msg("Terminal poll failed")
			continue
		}
		anyConnected = true

		for _, ev := range res.events {
			if err := o.deps.Queue.Enqueue(ctx, ev); err != nil {
				o.errors.Push(fmt.Sprintf("Queue %s: %s", res.id, err.Error()))
				logging.Ctx(ctx).Error().Err(err).Str("terminal", res.id).Str("user", ev.UserID).Msg("Failed to persist attendance event")
				continue
			}
			o.recent.Push(ev.Recent())
		}
		if len(res.events) > 0 {
			logging.Ctx(ctx).Info().Str("terminal", res.id).Int("records", len(res.events)).Msg("Attendance records captured")
		}
	}

	o.mu.Lock()
	o.lastPollAt = &now
	o.mu.Unlock()

	if anyConnected && o.cfg.AutoProvision && o.deps.Provisioner != nil {
		o.provisionInBackground(ctx)
	}
}

// pollTerminal runs connect, read, disconnect against one terminal.
func (o *Orchestrator) pollTerminal(ctx context.Context, t models.Terminal) ([]models.AttendanceEvent, error) {
	connectCtx, cancel := context.WithTimeout(ctx, o.cfg.ConnectTimeout)
	session, err := o.deps.Adapter.Connect(connectCtx, t)
	cancel()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logging.Debug().Err(err).Str("terminal", t.ID).Msg("Session close failed")
		}
	}()

	readCtx, cancel := context.WithTimeout(ctx, o.cfg.ReadTimeout)
	defer cancel()
	raw, err := session.ReadAttendanceEvents(readCtx)
	if err != nil {
		return nil, fmt.Errorf("read attendance from %s: %w", t.ID, err)
	}

	now := o.now()
	events := make([]models.AttendanceEvent, len(raw))
	for i, r := range raw {
		events[i] = r.ToEvent(t.ID, now)
	}
	return events, nil
}

func (o *Orchestrator) applyResult(res pollResult, now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.terminals[res.id]
	if !ok {
		return
	}
	if res.err != nil {
		msg := res.err.Error()
		st.Connected = false
		st.LastError = &msg
		st.LastRecordsCount = 0
		return
	}
	st.Connected = true
	st.LastError = nil
	st.LastRecordsCount = len(res.events)
	if len(res.events) > 0 {
		at := now
		st.LastReceivedAt = &at
	}
}

func (o *Orchestrator) provisionInBackground(ctx context.Context) {
	if !o.provisioning.CompareAndSwap(false, true) {
		return
	}
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		defer o.provisioning.Store(false)
		ctx := logging.ContextWithNewCorrelationID(ctx)
		if _, err := o.deps.Provisioner.EnsureInitial(ctx); err != nil {
			o.errors.Push("Provision: " + err.Error())
			logging.Ctx(ctx).Error().Err(err).Msg("Initial provisioning failed")
		}
	}()
}

// UploadOnce drains the offline queue and records every failure. A call
// that overlaps a running cycle returns without touching it.
func (o *Orchestrator) UploadOnce(ctx context.Context) {
	if !o.uploading.CompareAndSwap(false, true) {
		logging.Ctx(ctx).Debug().Msg("Upload cycle already running, skipping")
		return
	}
	defer func() {
		o.uploading.Store(false)
		o.notify()
	}()

	errs, err := o.deps.Uploader.Run(ctx)
	o.errors.Push(errs...)
	if err != nil {
		o.errors.Push("Sync: " + err.Error())
		logging.Ctx(ctx).Error().Err(err).Msg("Upload cycle failed")
		return
	}
	if len(errs) > 0 {
		logging.Ctx(ctx).Warn().Int("failed", len(errs)).Msg("Upload cycle left events queued")
	}
}

// IncrementalOnce runs the incremental roster sync when at least one terminal
// is connected and postpones it otherwise. It returns whether a pass ran.
func (o *Orchestrator) IncrementalOnce(ctx context.Context) bool {
	if o.deps.Incremental == nil {
		return false
	}
	if len(o.ConnectedTerminals()) == 0 {
		logging.Ctx(ctx).Info().Msg("No terminal connected, postponing incremental user sync")
		return false
	}
	defer o.notify()

	report, err := o.deps.Incremental.Run(ctx)
	if err != nil {
		o.errors.Push("UserSync: " + err.Error())
		return false
	}
	return !report.Skipped
}

// ConnectedTerminals returns the identities of terminals seen by the last poll.
func (o *Orchestrator) ConnectedTerminals() []models.Terminal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []models.Terminal
	for _, id := range o.order {
		if st := o.terminals[id]; st.Connected {
			out = append(out, st.Terminal)
		}
	}
	return out
}

// Terminals returns copies of the observed terminal states in config order.
func (o *Orchestrator) Terminals() []models.TerminalState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]models.TerminalState, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.terminals[id].Clone())
	}
	return out
}

// Status returns a snapshot of the bridge.
func (o *Orchestrator) Status() Status {
	st := Status{
		Online:       o.online.Load(),
		Polling:      o.polling.Load(),
		Uploading:    o.uploading.Load(),
		Errors:       o.errors.Items(),
		RecentEvents: o.recent.Items(),
		Terminals:    o.Terminals(),
	}

	o.mu.RLock()
	if o.lastPollAt != nil {
		at := *o.lastPollAt
		st.LastPollAt = &at
	}
	o.mu.RUnlock()

	if o.deps.Incremental != nil && o.deps.Incremental.Syncing() {
		st.Syncing = true
	}
	if e := o.deps.Engine; e != nil {
		if e.Running() {
			st.Syncing = true
		}
		p := e.Progress()
		if len(p.Terminals) > 0 {
			st.Sync = &p
		}
	}
	if o.deps.Watermark != nil {
		if wm, err := o.deps.Watermark.Load(); err == nil {
			st.Watermark = &wm
		}
	}
	return st
}
