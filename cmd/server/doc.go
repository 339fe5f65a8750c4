// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

/*
Package main is the entry point for the ZK Bridge daemon.

The bridge sits between on-site biometric terminals and the attendance
backend. It polls terminals for punches, queues them durably, uploads them,
and keeps each terminal's user roster in step with the backend.

# Supervisor Tree

	RootSupervisor ("zkbridge")
	├── DeviceSupervisor ("device-layer")
	│   ├── orchestrator (online flag, background provisioning)
	│   ├── event-poll (ticker)
	│   ├── queue-upload (ticker)
	│   └── queue-gc (ticker, badger backend only)
	├── SyncSupervisor ("sync-layer")
	│   └── incremental-sync (ticker)
	└── APISupervisor ("api-layer")
	    ├── websocket-hub
	    └── http-server (when HTTP_ENABLED)

# Configuration

Defaults, then a YAML file (CONFIG_PATH or ./config.yaml), then environment
variables. Common variables:

	TERMINALS=lobby@192.168.68.102:4370,gym@192.168.68.103
	BACKEND_URL=http://localhost:3000/api
	BACKEND_API_KEY=<key>
	DATA_DIR=./data              # sync-log.json lives here
	QUEUE_BACKEND=file           # file or badger
	QUEUE_DIR=./queue
	POLL_INTERVAL=10s
	UPLOAD_INTERVAL=30s
	INCREMENTAL_SYNC_INTERVAL=300s
	HTTP_PORT=8090
	LOG_LEVEL=info
	LOG_FORMAT=json

# Signal Handling

SIGINT and SIGTERM cancel the root context. The supervisor stops every
service within SUPERVISOR_SHUTDOWN_TIMEOUT, queued events stay on disk and
are uploaded on the next start.
*/
package main
