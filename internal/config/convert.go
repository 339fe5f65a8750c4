// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package config

import (
	"github.com/tomtom215/zkbridge/internal/backend"
	"github.com/tomtom215/zkbridge/internal/logging"
	"github.com/tomtom215/zkbridge/internal/queue"
	"github.com/tomtom215/zkbridge/internal/roster"
)

// ClientConfig converts the backend section to a backend.Config.
func (b BackendConfig) ClientConfig() backend.Config {
	return backend.Config{
		BaseURL:        b.URL,
		APIKey:         b.APIKey,
		UploadPath:     b.UploadPath,
		Timeout:        b.Timeout,
		UploadRate:     b.UploadRate,
		UploadBurst:    b.UploadBurst,
		MaxRetries:     b.MaxRetries,
		RetryBaseDelay: b.RetryBaseDelay,
		Breaker: backend.BreakerConfig{
			MaxRequests:  b.Breaker.MaxRequests,
			Interval:     b.Breaker.Interval,
			Timeout:      b.Breaker.Timeout,
			MinRequests:  b.Breaker.MinRequests,
			FailureRatio: b.Breaker.FailureRatio,
		},
	}
}

// Options converts the queue section to queue.Options.
func (q QueueConfig) Options() queue.Options {
	return queue.Options{Backend: q.Backend, Dir: q.Dir, SyncWrites: q.SyncWrites}
}

// EngineConfig converts the sync section to a roster.EngineConfig.
func (s SyncConfig) EngineConfig() roster.EngineConfig {
	return roster.EngineConfig{
		ChunkSize:        s.ChunkSize,
		RetryDelay:       s.RetryDelay,
		PollInterval:     s.PollInterval,
		MaxChunkAttempts: s.MaxChunkAttempts,
	}
}

// LoggerConfig converts the logging section to a logging.Config.
func (l LoggingConfig) LoggerConfig() logging.Config {
	return logging.Config{Level: l.Level, Format: l.Format, Caller: l.Caller, Timestamp: true}
}
