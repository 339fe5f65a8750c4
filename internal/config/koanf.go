// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/zkbridge/internal/models"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"zkbridge.yaml",
	"/etc/zkbridge/config.yaml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultTerminalPort is used for TERMINALS entries without a port.
const DefaultTerminalPort = 4370

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. Environment variables: explicit mapping table, highest priority
//
// The result is validated before it is returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}
	if err := processTerminals(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated strings when set by env.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := splitList(strVal)
		if len(parts) == 0 {
			continue
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// processTerminals expands a TERMINALS string into the terminals list.
func processTerminals(k *koanf.Koanf) error {
	raw, ok := k.Get("terminals").(string)
	if !ok {
		return nil
	}
	terminals, err := ParseTerminals(raw)
	if err != nil {
		return fmt.Errorf("TERMINALS is invalid: %w", err)
	}
	list := make([]interface{}, len(terminals))
	for i, t := range terminals {
		list[i] = map[string]interface{}{"id": t.ID, "ip": t.IP, "port": t.Port}
	}
	if err := k.Set("terminals", list); err != nil {
		return fmt.Errorf("failed to set terminals: %w", err)
	}
	return nil
}

// ParseTerminals parses "id@host:port,id@host" into terminals. A missing
// port becomes DefaultTerminalPort.
func ParseTerminals(s string) ([]models.Terminal, error) {
	entries := splitList(s)
	if len(entries) == 0 {
		return nil, fmt.Errorf("no terminals in %q", s)
	}

	terminals := make([]models.Terminal, 0, len(entries))
	for _, entry := range entries {
		id, addr, found := strings.Cut(entry, "@")
		if !found || id == "" || addr == "" {
			return nil, fmt.Errorf("entry %q: want id@host[:port]", entry)
		}

		host, port := addr, DefaultTerminalPort
		if h, p, err := net.SplitHostPort(addr); err == nil {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("entry %q: bad port %q", entry, p)
			}
			host, port = h, n
		}
		terminals = append(terminals, models.Terminal{ID: id, IP: host, Port: port})
	}
	return terminals, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	"data_dir":  "data_dir",
	"terminals": "terminals",

	// Backend
	"backend_url":              "backend.url",
	"backend_api_key":          "backend.api_key",
	"backend_upload_path":      "backend.upload_path",
	"backend_timeout":          "backend.timeout",
	"backend_upload_rate":      "backend.upload_rate",
	"backend_upload_burst":     "backend.upload_burst",
	"backend_max_retries":      "backend.max_retries",
	"backend_retry_base_delay": "backend.retry_base_delay",

	// Circuit breaker
	"breaker_max_requests":  "backend.breaker.max_requests",
	"breaker_interval":      "backend.breaker.interval",
	"breaker_timeout":       "backend.breaker.timeout",
	"breaker_min_requests":  "backend.breaker.min_requests",
	"breaker_failure_ratio": "backend.breaker.failure_ratio",

	// Queue
	"queue_backend":     "queue.backend",
	"queue_dir":         "queue.dir",
	"queue_sync_writes": "queue.sync_writes",

	// Roster sync
	"sync_chunk_size":         "sync.chunk_size",
	"sync_batch_size":         "sync.batch_size",
	"sync_retry_delay":        "sync.retry_delay",
	"sync_poll_interval":      "sync.poll_interval",
	"sync_max_chunk_attempts": "sync.max_chunk_attempts",
	"sync_chunk_port":         "sync.chunk_port",
	"sync_ack_timeout":        "sync.ack_timeout",
	"sync_auto_provision":     "sync.auto_provision",

	// Orchestrator loops
	"poll_interval":             "poll.event_interval",
	"upload_interval":           "poll.upload_interval",
	"incremental_sync_interval": "poll.incremental_interval",
	"device_connect_timeout":    "poll.connect_timeout",
	"device_read_timeout":       "poll.read_timeout",

	// Server
	"http_enabled":        "server.enabled",
	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_read_timeout":   "server.read_timeout",
	"http_write_timeout":  "server.write_timeout",
	"http_idle_timeout":   "server.idle_timeout",
	"cors_origins":        "server.cors_origins",
	"rate_limit_requests": "server.rate_limit_reqs",
	"rate_limit_window":   "server.rate_limit_window",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Supervisor
	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc transforms environment variable names to koanf config paths.
// For example BACKEND_URL becomes backend.url and QUEUE_DIR becomes queue.dir.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
