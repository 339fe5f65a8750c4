// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package roster

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tomtom215/zkbridge/internal/device"
	"github.com/tomtom215/zkbridge/internal/logging"
	"github.com/tomtom215/zkbridge/internal/metrics"
	"github.com/tomtom215/zkbridge/internal/models"
	"github.com/tomtom215/zkbridge/internal/watermark"
)

// TerminalProvider lists the terminals currently reachable.
type TerminalProvider interface {
	ConnectedTerminals() []models.Terminal
}

// TerminalProviderFunc adapts a function to TerminalProvider.
type TerminalProviderFunc func() []models.Terminal

// ConnectedTerminals calls f.
func (f TerminalProviderFunc) ConnectedTerminals() []models.Terminal { return f() }

// TerminalReport is the apply outcome on one terminal.
type TerminalReport struct {
	ID            string `json:"id"`
	Written       int    `json:"written"`
	Deleted       int    `json:"deleted"`
	FailedBatches int    `json:"failedBatches"`
	Error         string `json:"error,omitempty"`
}

// Report summarizes one incremental pass.
type Report struct {
	Skipped   bool             `json:"skipped,omitempty"`
	Since     string           `json:"since,omitempty"`
	Count     int              `json:"count"`
	Active    int              `json:"active"`
	Inactive  int              `json:"inactive"`
	Conflicts int              `json:"uidConflicts,omitempty"`
	Terminals []TerminalReport `json:"terminals,omitempty"`
	At        time.Time        `json:"at"`
}

// Incremental applies the backend's changed-since delta directly to every
// connected terminal through the device adapter.
type Incremental struct {
	source    RosterSource
	adapter   device.Adapter
	terminals TerminalProvider
	watermark *watermark.Store
	batchSize int
	now       func() time.Time

	syncing atomic.Bool
}

// NewIncremental builds the incremental applier. batchSize <= 0 uses
// DefaultChunkSize.
func NewIncremental(source RosterSource, adapter device.Adapter, terminals TerminalProvider, wm *watermark.Store, batchSize int) *Incremental {
	if batchSize <= 0 {
		batchSize = DefaultChunkSize
	}
	return &Incremental{
		source:    source,
		adapter:   adapter,
		terminals: terminals,
		watermark: wm,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Syncing reports whether a pass is active.
func (inc *Incremental) Syncing() bool {
	return inc.syncing.Load()
}

// Run performs one pass. An overlapping call returns a skipped report and no
// error. Batch failures are counted in the report and never abort the pass.
// The watermark advances after every apply pass, including an empty one.
func (inc *Incremental) Run(ctx context.Context) (Report, error) {
	if !inc.syncing.CompareAndSwap(false, true) {
		logging.Ctx(ctx).Debug().Msg("Incremental user sync already running, skipping")
		metrics.RecordSyncRun("apply", "skipped", 0)
		return Report{Skipped: true}, nil
	}
	defer inc.syncing.Store(false)

	start := time.Now()
	log := logging.Ctx(ctx)

	wm, err := inc.watermark.Load()
	if err != nil {
		metrics.RecordSyncRun("apply", "failed", time.Since(start))
		return Report{}, fmt.Errorf("load watermark: %w", err)
	}
	since := wm.IncrementalSince()

	delta, err := inc.source.FetchChangedUsers(ctx, since)
	if err != nil {
		metrics.RecordSyncRun("apply", "failed", time.Since(start))
		log.Error().Err(err).Str("since", since).Msg("Incremental user sync failed")
		return Report{}, fmt.Errorf("fetch changed users: %w", err)
	}

	report := Report{Since: since, Count: delta.Count}
	log.Info().Str("since", since).Int("count", delta.Count).Msg("Backend returned changed users")

	outcome := "empty"
	if len(delta.Users) > 0 {
		active, inactive := Classify(delta.Users)
		report.Active = len(active)
		report.Inactive = len(inactive)
		log.Info().Int("active", len(active)).Int("inactive", len(inactive)).Msg("Classified changed users")
		report.Conflicts = warnUIDCollisions(ctx, active)

		for _, t := range inc.terminals.ConnectedTerminals() {
			report.Terminals = append(report.Terminals, inc.apply(ctx, t, active, inactive))
		}
		outcome = "complete"
	}

	report.At = inc.now()
	if _, err := inc.watermark.MarkIncrementalSync(report.At); err != nil {
		log.Warn().Err(err).Msg("Failed to persist incremental watermark")
	}
	metrics.RecordSyncRun("apply", outcome, time.Since(start))
	return report, nil
}

// Reset clears the incremental watermark so the next pass fetches everything.
func (inc *Incremental) Reset() error {
	if _, err := inc.watermark.ResetIncremental(); err != nil {
		return fmt.Errorf("reset incremental watermark: %w", err)
	}
	logging.Info().Msg("Incremental user sync state reset")
	return nil
}

// apply writes actives then deletes inactives on one terminal, in batches.
func (inc *Incremental) apply(ctx context.Context, t models.Terminal, active, inactive []models.UserRecord) TerminalReport {
	log := logging.Ctx(ctx).With().Str("terminal", t.ID).Logger()
	rep := TerminalReport{ID: t.ID}

	session, err := inc.adapter.Connect(ctx, t)
	if err != nil {
		log.Warn().Err(err).Msg("Cannot open session for user sync")
		rep.Error = err.Error()
		return rep
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Debug().Err(err).Msg("Session close failed")
		}
	}()

	if err := session.DisableEvents(ctx); err != nil {
		log.Debug().Err(err).Msg("DisableEvents failed, continuing")
	}
	defer func() {
		if err := session.EnableEvents(ctx); err != nil {
			log.Warn().Err(err).Msg("EnableEvents failed")
		}
	}()

	batches := Split(active, inc.batchSize)
	for i, batch := range batches {
		n, err := writeBatch(ctx, session, batch)
		rep.Written += n
		metrics.RecordRosterBatch("write", err == nil)
		if err != nil {
			rep.FailedBatches++
			log.Error().Err(err).Int("batch", i+1).Int("batches", len(batches)).Msg("User write batch failed")
			continue
		}
		log.Debug().Int("batch", i+1).Int("batches", len(batches)).Msg("User write batch applied")
	}

	batches = Split(inactive, inc.batchSize)
	for i, batch := range batches {
		n, err := deleteBatch(ctx, session, batch)
		rep.Deleted += n
		metrics.RecordRosterBatch("delete", err == nil)
		if err != nil {
			rep.FailedBatches++
			log.Error().Err(err).Int("batch", i+1).Int("batches", len(batches)).Msg("User delete batch failed")
			continue
		}
		log.Debug().Int("batch", i+1).Int("batches", len(batches)).Msg("User delete batch applied")
	}

	return rep
}

// writeBatch stops at the first failing user; the count covers users written.
func writeBatch(ctx context.Context, s device.Session, batch []models.UserRecord) (int, error) {
	for i, u := range batch {
		if err := s.WriteUser(ctx, u.DeviceUser()); err != nil {
			return i, fmt.Errorf("write user %s: %w", u.ExternalID, err)
		}
	}
	return len(batch), nil
}

func deleteBatch(ctx context.Context, s device.Session, batch []models.UserRecord) (int, error) {
	for i, u := range batch {
		if err := s.DeleteUser(ctx, u.DeviceUID()); err != nil {
			return i, fmt.Errorf("delete user %s: %w", u.ExternalID, err)
		}
	}
	return len(batch), nil
}
