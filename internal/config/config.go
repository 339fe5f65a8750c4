// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package config

import (
	"time"

	"github.com/tomtom215/zkbridge/internal/models"
)

// Config is the complete bridge configuration.
type Config struct {
	// DataDir holds the sync watermark file.
	DataDir string `koanf:"data_dir" validate:"required"`

	Terminals  []models.Terminal `koanf:"terminals" validate:"required,min=1,dive"`
	Backend    BackendConfig     `koanf:"backend"`
	Queue      QueueConfig       `koanf:"queue"`
	Sync       SyncConfig        `koanf:"sync"`
	Poll       PollConfig        `koanf:"poll"`
	Server     ServerConfig      `koanf:"server"`
	Logging    LoggingConfig     `koanf:"logging"`
	Supervisor SupervisorConfig  `koanf:"supervisor"`
}

// BackendConfig describes the school backend HTTP API.
type BackendConfig struct {
	URL        string        `koanf:"url" validate:"required,url"`
	APIKey     string        `koanf:"api_key"`
	UploadPath string        `koanf:"upload_path" validate:"required,startswith=/"`
	Timeout    time.Duration `koanf:"timeout" validate:"gt=0"`

	UploadRate  float64 `koanf:"upload_rate" validate:"gte=0"`
	UploadBurst int     `koanf:"upload_burst" validate:"gte=0"`

	MaxRetries     int           `koanf:"max_retries" validate:"gte=0"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`

	Breaker BreakerConfig `koanf:"breaker"`
}

// BreakerConfig tunes the backend circuit breaker.
type BreakerConfig struct {
	MaxRequests  uint32        `koanf:"max_requests"`
	Interval     time.Duration `koanf:"interval"`
	Timeout      time.Duration `koanf:"timeout"`
	MinRequests  uint32        `koanf:"min_requests"`
	FailureRatio float64       `koanf:"failure_ratio" validate:"gte=0,lte=1"`
}

// QueueConfig selects the offline queue backend.
type QueueConfig struct {
	// Backend is "file" (one JSON file per event) or "badger".
	Backend    string `koanf:"backend" validate:"oneof=file badger"`
	Dir        string `koanf:"dir" validate:"required"`
	SyncWrites bool   `koanf:"sync_writes"`
}

// SyncConfig tunes the roster engine and the incremental applier.
type SyncConfig struct {
	ChunkSize    int           `koanf:"chunk_size" validate:"gte=1"`
	BatchSize    int           `koanf:"batch_size" validate:"gte=1"`
	RetryDelay   time.Duration `koanf:"retry_delay" validate:"gt=0"`
	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`

	// MaxChunkAttempts stalls a terminal after this many unacknowledged
	// attempts on one chunk. Zero retries forever.
	MaxChunkAttempts int `koanf:"max_chunk_attempts" validate:"gte=0"`

	// ChunkPort overrides the terminal port for chunk delivery. Zero keeps
	// each terminal's own port.
	ChunkPort  int           `koanf:"chunk_port" validate:"gte=0,lte=65535"`
	AckTimeout time.Duration `koanf:"ack_timeout" validate:"gt=0"`

	AutoProvision bool `koanf:"auto_provision"`
}

// PollConfig holds the orchestrator loop intervals.
type PollConfig struct {
	EventInterval       time.Duration `koanf:"event_interval"`
	UploadInterval      time.Duration `koanf:"upload_interval"`
	IncrementalInterval time.Duration `koanf:"incremental_interval"`
	ConnectTimeout      time.Duration `koanf:"connect_timeout"`
	ReadTimeout         time.Duration `koanf:"read_timeout"`
}

// ServerConfig holds the status HTTP server settings.
type ServerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`

	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs per RateLimitWindow and client IP; zero disables limiting.
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gte=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`

	// Format is json or console.
	Format string `koanf:"format" validate:"oneof=json console"`

	Caller bool `koanf:"caller"`
}

// SupervisorConfig mirrors supervisor.TreeConfig.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// DefaultTerminal is used when no terminal is configured.
var DefaultTerminal = models.Terminal{ID: "f22-1", IP: "192.168.68.102", Port: 4370}

// defaultConfig returns the built-in defaults. The file layer and the
// environment override them.
func defaultConfig() *Config {
	return &Config{
		DataDir:   "./data",
		Terminals: []models.Terminal{DefaultTerminal},
		Backend: BackendConfig{
			URL:            "http://localhost:3000/api",
			UploadPath:     "/bridge/attendance",
			Timeout:        60 * time.Second,
			UploadRate:     10,
			UploadBurst:    5,
			MaxRetries:     3,
			RetryBaseDelay: time.Second,
			Breaker: BreakerConfig{
				MaxRequests:  3,
				Interval:     time.Minute,
				Timeout:      2 * time.Minute,
				MinRequests:  10,
				FailureRatio: 0.6,
			},
		},
		Queue: QueueConfig{
			Backend: "file",
			Dir:     "./queue",
		},
		Sync: SyncConfig{
			ChunkSize:     100,
			BatchSize:     100,
			RetryDelay:    2 * time.Second,
			PollInterval:  300 * time.Millisecond,
			AckTimeout:    5 * time.Second,
			AutoProvision: true,
		},
		Poll: PollConfig{
			EventInterval:       10 * time.Second,
			UploadInterval:      30 * time.Second,
			IncrementalInterval: 300 * time.Second,
			ConnectTimeout:      10 * time.Second,
			ReadTimeout:         4 * time.Second,
		},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8090,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}
