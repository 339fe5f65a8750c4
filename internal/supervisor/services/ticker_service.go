// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/zkbridge/internal/logging"
)

// TickerService calls fn once on start and then every interval until ctx
// is canceled. Calls never overlap; ticks missed while fn runs collapse
// into one.
//
// A panic in fn is recovered and returned as an error so suture restarts
// the loop with backoff.
type TickerService struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	runs     atomic.Int64
}

// NewTickerService builds a loop. Serve refuses a non-positive interval
// without restart.
func NewTickerService(name string, interval time.Duration, fn func(ctx context.Context)) *TickerService {
	return &TickerService{name: name, interval: interval, fn: fn}
}

// Serve implements suture.Service.
func (s *TickerService) Serve(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", s.name, r)
		}
	}()

	if s.interval <= 0 {
		return fmt.Errorf("%s: interval must be positive, got %v: %w", s.name, s.interval, suture.ErrDoNotRestart)
	}

	logging.Debug().Str("service", s.name).Dur("interval", s.interval).Msg("Loop started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *TickerService) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.fn(ctx)
	s.runs.Add(1)
}

// Runs reports how many times fn has completed.
func (s *TickerService) Runs() int64 {
	return s.runs.Load()
}

// String implements fmt.Stringer.
func (s *TickerService) String() string {
	return s.name
}
