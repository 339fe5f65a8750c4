// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package roster

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/tomtom215/zkbridge/internal/logging"
	"github.com/tomtom215/zkbridge/internal/watermark"
)

// Provisioner loads the full roster onto the terminals once, the first time
// the bridge sees one of them online.
type Provisioner struct {
	engine     *Engine
	watermark  *watermark.Store
	onProgress func(Progress)

	running atomic.Bool
}

// NewProvisioner builds a provisioner. onProgress may be nil.
func NewProvisioner(engine *Engine, wm *watermark.Store, onProgress func(Progress)) *Provisioner {
	return &Provisioner{engine: engine, watermark: wm, onProgress: onProgress}
}

// EnsureInitial runs a full sync unless one has already completed. It
// returns ran=false when provisioning was already done, is in progress, a
// manual run holds the engine, or no terminal is connected.
func (p *Provisioner) EnsureInitial(ctx context.Context) (ran bool, err error) {
	wm, err := p.watermark.Load()
	if err != nil {
		return false, fmt.Errorf("load watermark: %w", err)
	}
	if wm.FullSyncCompleted {
		return false, nil
	}
	if !p.running.CompareAndSwap(false, true) {
		return false, nil
	}
	defer p.running.Store(false)

	logging.Ctx(ctx).Info().Msg("Initial provisioning: no full sync recorded, starting one")
	result, err := p.engine.StartSync(ctx, SyncRequest{Type: SyncFull}, p.onProgress)
	if errors.Is(err, ErrSyncInProgress) || errors.Is(err, ErrNoTerminals) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("initial provisioning: %w", err)
	}
	if !result.Complete() {
		logging.Ctx(ctx).Warn().Strs("stalled", result.Stalled).Msg("Initial provisioning incomplete, will retry")
	}
	return true, nil
}
