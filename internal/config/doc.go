// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

/*
Package config loads and validates the bridge configuration.

# Configuration Sources

Load layers three sources with Koanf v2, later layers overriding earlier ones:
  - built-in defaults
  - an optional YAML file (CONFIG_PATH, config.yaml, config.yml, zkbridge.yaml)
  - environment variables from an explicit mapping table

# Environment Variables

Terminals and backend:
  - TERMINALS: comma-separated id@host[:port] list (default: f22-1@192.168.68.102:4370)
  - BACKEND_URL: backend base URL (default: http://localhost:3000/api)
  - BACKEND_API_KEY: bearer token for attendance uploads
  - BACKEND_UPLOAD_PATH: upload path under the base URL (default: /bridge/attendance)

Storage:
  - DATA_DIR: directory of sync-log.json (default: ./data)
  - QUEUE_BACKEND: file or badger (default: file)
  - QUEUE_DIR: offline queue directory (default: ./queue)

Roster sync:
  - SYNC_CHUNK_SIZE, SYNC_BATCH_SIZE: users per chunk and per apply batch (default: 100)
  - SYNC_RETRY_DELAY: wait between chunk attempts (default: 2s)
  - SYNC_MAX_CHUNK_ATTEMPTS: stall bound, 0 retries forever (default: 0)
  - SYNC_CHUNK_PORT: chunk delivery port override (default: terminal port)
  - SYNC_AUTO_PROVISION: full sync after the first connected poll (default: true)

Loops:
  - POLL_INTERVAL (10s), UPLOAD_INTERVAL (30s), INCREMENTAL_SYNC_INTERVAL (300s)

Server and logging:
  - HTTP_PORT (8090), HTTP_HOST (0.0.0.0), CORS_ORIGINS, RATE_LIMIT_REQUESTS
  - LOG_LEVEL (info), LOG_FORMAT (json), LOG_CALLER

# Usage

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}
	client, err := backend.NewClient(cfg.Backend.ClientConfig())
*/
package config
