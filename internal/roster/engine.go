// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package roster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/zkbridge/internal/backend"
	"github.com/tomtom215/zkbridge/internal/logging"
	"github.com/tomtom215/zkbridge/internal/metrics"
	"github.com/tomtom215/zkbridge/internal/models"
	"github.com/tomtom215/zkbridge/internal/transport"
	"github.com/tomtom215/zkbridge/internal/watermark"
)

// ErrSyncInProgress is returned when StartSync is called while a run is active.
var ErrSyncInProgress = errors.New("roster sync already in progress")

// ErrNoTerminals is returned when no terminal is connected to receive a run.
var ErrNoTerminals = errors.New("no connected terminals")

// Defaults for chunk delivery.
const (
	DefaultRetryDelay   = 2 * time.Second
	DefaultPollInterval = 300 * time.Millisecond
)

// SyncType selects the roster a run delivers.
type SyncType string

const (
	SyncFull        SyncType = "full"
	SyncIncremental SyncType = "incremental"
)

// ParseSyncType validates a sync type name.
func ParseSyncType(s string) (SyncType, error) {
	switch SyncType(s) {
	case SyncFull, SyncIncremental:
		return SyncType(s), nil
	default:
		return "", fmt.Errorf("unknown sync type %q", s)
	}
}

// Status is a terminal's position in the delivery state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	// StatusStalled means the retry bound was reached; the terminal gives up
	// for this run at its current chunk.
	StatusStalled Status = "stalled"
)

// Finished reports whether the status ends the terminal's loop.
func (s Status) Finished() bool {
	return s == StatusComplete || s == StatusStalled
}

// RosterSource supplies the users a run delivers.
type RosterSource interface {
	FetchAllUsers(ctx context.Context) ([]models.UserRecord, error)
	FetchChangedUsers(ctx context.Context, since string) (backend.Delta, error)
}

// SyncRequest describes one run. Since applies to incremental runs; when
// empty the watermark decides.
type SyncRequest struct {
	Type  SyncType `json:"type"`
	Since string   `json:"since,omitempty" validate:"omitempty,sincedate"`
}

// TerminalProgress is one terminal's entry in a progress snapshot.
type TerminalProgress struct {
	ID                string `json:"id"`
	CurrentChunkIndex int    `json:"currentChunkIndex"`
	Status            Status `json:"status"`
}

// Progress is a point-in-time view of a run.
type Progress struct {
	TotalChunks int                `json:"totalChunks"`
	Terminals   []TerminalProgress `json:"terminals"`
}

// Done reports whether every terminal has finished.
func (p Progress) Done() bool {
	for _, t := range p.Terminals {
		if !t.Status.Finished() {
			return false
		}
	}
	return true
}

// Result summarizes a finished run.
type Result struct {
	RunID      string    `json:"runId"`
	Type       SyncType  `json:"type"`
	Since      string    `json:"since,omitempty"`
	Users      int       `json:"users"`
	Progress   Progress  `json:"progress"`
	Stalled    []string  `json:"stalled,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Complete reports whether every terminal received the whole roster.
func (r Result) Complete() bool {
	for _, t := range r.Progress.Terminals {
		if t.Status != StatusComplete {
			return false
		}
	}
	return true
}

// EngineConfig tunes chunk delivery.
type EngineConfig struct {
	ChunkSize    int
	RetryDelay   time.Duration
	PollInterval time.Duration

	// MaxChunkAttempts bounds consecutive failed attempts on one chunk before
	// the terminal is marked stalled. Zero retries forever.
	MaxChunkAttempts int
}

// DefaultEngineConfig returns the delivery defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ChunkSize:    DefaultChunkSize,
		RetryDelay:   DefaultRetryDelay,
		PollInterval: DefaultPollInterval,
	}
}

// terminalProgress is the per-run state of one terminal. Only that terminal's
// delivery loop writes it.
type terminalProgress struct {
	mu     sync.Mutex
	id     string
	index  int
	status Status
}

func (p *terminalProgress) set(index int, status Status) {
	p.mu.Lock()
	p.index = index
	p.status = status
	p.mu.Unlock()
	metrics.SetTerminalChunk(p.id, index)
}

func (p *terminalProgress) snapshot() TerminalProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return TerminalProgress{ID: p.id, CurrentChunkIndex: p.index, Status: p.status}
}

// Engine pushes rosters to terminals over the chunk protocol. Without a
// provider every configured terminal is targeted; with one, each run targets
// the terminals connected when it starts. One run executes at a time.
type Engine struct {
	cfg       EngineConfig
	terminals []models.Terminal
	provider  TerminalProvider
	source    RosterSource
	sender    transport.Sender
	watermark *watermark.Store
	now       func() time.Time

	running atomic.Bool

	mu          sync.RWMutex
	totalChunks int
	targets     []models.Terminal
	state       map[string]*terminalProgress
	last        *Result
}

// NewEngine builds an engine. wm may be nil, in which case runs are not
// recorded.
func NewEngine(cfg EngineConfig, terminals []models.Terminal, source RosterSource, sender transport.Sender, wm *watermark.Store) *Engine {
	def := DefaultEngineConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxChunkAttempts < 0 {
		cfg.MaxChunkAttempts = 0
	}
	ts := make([]models.Terminal, len(terminals))
	copy(ts, terminals)
	return &Engine{
		cfg:       cfg,
		terminals: ts,
		source:    source,
		sender:    sender,
		watermark: wm,
		now:       time.Now,
		state:     make(map[string]*terminalProgress),
	}
}

// UseConnected makes each run target tp's connected terminals instead of the
// configured list. Call it before the first run.
func (e *Engine) UseConnected(tp TerminalProvider) {
	e.provider = tp
}

// runTargets returns the terminals the next run delivers to.
func (e *Engine) runTargets() []models.Terminal {
	if e.provider == nil {
		return e.terminals
	}
	connected := e.provider.ConnectedTerminals()
	ts := make([]models.Terminal, len(connected))
	copy(ts, connected)
	return ts
}

// Running reports whether a run is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Progress returns the progress of the active or most recent run.
func (e *Engine) Progress() Progress {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

// LastResult returns the most recent finished run, if any.
func (e *Engine) LastResult() (Result, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return Result{}, false
	}
	return *e.last, true
}

func (e *Engine) snapshotLocked() Progress {
	p := Progress{TotalChunks: e.totalChunks, Terminals: make([]TerminalProgress, 0, len(e.targets))}
	for _, t := range e.targets {
		if tp, ok := e.state[t.ID]; ok {
			p.Terminals = append(p.Terminals, tp.snapshot())
		}
	}
	return p
}

// reset replaces the state map for a new run. Empty runs start complete.
func (e *Engine) reset(targets []models.Terminal, totalChunks int) map[string]*terminalProgress {
	status := StatusPending
	if totalChunks == 0 {
		status = StatusComplete
	}
	state := make(map[string]*terminalProgress, len(targets))
	for _, t := range targets {
		state[t.ID] = &terminalProgress{id: t.ID, status: status}
		metrics.SetTerminalChunk(t.ID, 0)
	}

	e.mu.Lock()
	e.totalChunks = totalChunks
	e.targets = targets
	e.state = state
	e.mu.Unlock()
	return state
}

// StartSync fetches the roster, delivers it to every target terminal and
// blocks until each one is complete or stalled. It returns ErrNoTerminals
// when there is no terminal to deliver to. onProgress, when non-nil, is
// called every poll interval and once more with the final snapshot.
//
// A fetch failure aborts the run before any delivery. Cancelling ctx stops
// the delivery loops; the partial result is returned with ctx.Err().
func (e *Engine) StartSync(ctx context.Context, req SyncRequest, onProgress func(Progress)) (Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Result{}, ErrSyncInProgress
	}
	defer e.running.Store(false)

	if req.Type == "" {
		req.Type = SyncFull
	}
	if _, err := ParseSyncType(string(req.Type)); err != nil {
		return Result{}, err
	}
	if onProgress == nil {
		onProgress = func(Progress) {}
	}

	targets := e.runTargets()
	if len(targets) == 0 {
		return Result{}, ErrNoTerminals
	}

	result := Result{RunID: uuid.New().String()[:8], Type: req.Type, StartedAt: e.now()}
	ctx = logging.ContextWithSyncRunID(ctx, result.RunID)
	log := logging.Ctx(ctx)

	users, since, err := e.fetch(ctx, req)
	if err != nil {
		metrics.RecordSyncRun(string(req.Type), "failed", time.Since(result.StartedAt))
		log.Error().Err(err).Str("type", string(req.Type)).Msg("Roster fetch failed")
		return Result{}, fmt.Errorf("fetch %s roster: %w", req.Type, err)
	}
	result.Since = since
	result.Users = len(users)
	warnUIDCollisions(ctx, users)

	chunks := Split(users, e.cfg.ChunkSize)
	state := e.reset(targets, len(chunks))

	log.Info().
		Str("type", string(req.Type)).
		Int("users", len(users)).
		Int("chunks", len(chunks)).
		Int("terminals", len(targets)).
		Msg("Roster sync started")

	if len(chunks) > 0 {
		e.deliverAll(ctx, targets, state, chunks, onProgress)
	}

	final := e.Progress()
	onProgress(final)

	result.Progress = final
	result.FinishedAt = e.now()
	for _, t := range final.Terminals {
		if t.Status == StatusStalled {
			result.Stalled = append(result.Stalled, t.ID)
		}
	}

	outcome := "complete"
	switch {
	case ctx.Err() != nil:
		outcome = "failed"
	case len(chunks) == 0:
		outcome = "empty"
	case len(result.Stalled) > 0:
		outcome = "stalled"
	}
	metrics.RecordSyncRun(string(req.Type), outcome, time.Since(result.StartedAt))

	e.mu.Lock()
	e.last = &result
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Msg("Roster sync interrupted")
		return result, err
	}

	e.record(ctx, result)
	log.Info().
		Str("outcome", outcome).
		Strs("stalled", result.Stalled).
		Dur("duration", result.FinishedAt.Sub(result.StartedAt)).
		Msg("Roster sync finished")
	return result, nil
}

func (e *Engine) fetch(ctx context.Context, req SyncRequest) ([]models.UserRecord, string, error) {
	if req.Type == SyncFull {
		users, err := e.source.FetchAllUsers(ctx)
		return users, "", err
	}

	since := req.Since
	if since == "" {
		since = watermark.EpochSince
		if e.watermark != nil {
			wm, err := e.watermark.Load()
			if err != nil {
				return nil, "", fmt.Errorf("load watermark: %w", err)
			}
			since = wm.IncrementalSince()
		}
	}
	delta, err := e.source.FetchChangedUsers(ctx, since)
	if err != nil {
		return nil, since, err
	}
	return delta.Users, since, nil
}

// record advances the watermark after a run that reached every terminal.
func (e *Engine) record(ctx context.Context, result Result) {
	if e.watermark == nil || len(result.Stalled) > 0 {
		return
	}
	var err error
	switch result.Type {
	case SyncFull:
		_, err = e.watermark.MarkFullSync(result.FinishedAt)
	case SyncIncremental:
		_, err = e.watermark.MarkIncrementalSync(result.FinishedAt)
	}
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Failed to persist sync watermark")
	}
}

// deliverAll runs one loop per terminal and reports progress until all of
// them return.
func (e *Engine) deliverAll(ctx context.Context, targets []models.Terminal, state map[string]*terminalProgress, chunks [][]models.UserRecord, onProgress func(Progress)) {
	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t models.Terminal, p *terminalProgress) {
			defer wg.Done()
			e.deliver(ctx, t, p, chunks)
		}(t, state[t.ID])
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			onProgress(e.Progress())
		}
	}
}

// deliver drives one terminal through the chunks in order. Chunk k+1 is
// never sent before chunk k is acknowledged.
func (e *Engine) deliver(ctx context.Context, t models.Terminal, p *terminalProgress, chunks [][]models.UserRecord) {
	log := logging.Ctx(ctx).With().Str("terminal", t.ID).Logger()
	total := len(chunks)
	index := 0
	failures := 0

	p.set(index, StatusInProgress)
	for index < total {
		if ctx.Err() != nil {
			return
		}

		if e.sender.SendChunk(ctx, t, chunks[index], index, total) {
			log.Debug().Int("chunk", index).Int("total", total).Msg("Chunk acknowledged")
			index++
			failures = 0
			if index == total {
				p.set(index, StatusComplete)
				return
			}
			p.set(index, StatusInProgress)
			continue
		}

		failures++
		if e.cfg.MaxChunkAttempts > 0 && failures >= e.cfg.MaxChunkAttempts {
			log.Warn().Int("chunk", index).Int("attempts", failures).Msg("Terminal stalled, giving up for this run")
			p.set(index, StatusStalled)
			return
		}
		log.Debug().Int("chunk", index).Int("attempt", failures).Dur("retry_in", e.cfg.RetryDelay).Msg("Chunk not acknowledged, retrying")

		timer := time.NewTimer(e.cfg.RetryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}
