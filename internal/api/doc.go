// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

/*
Package api serves the bridge's HTTP status surface.

Routes (all JSON in the APIResponse envelope unless noted):

	GET    /api/v1/health                      terminal connectivity summary
	GET    /api/v1/status                      full orchestrator snapshot
	GET    /api/v1/terminals                   observed terminal states
	GET    /api/v1/sync/progress               chunk delivery progress and last result
	POST   /api/v1/sync/full                   start a full chunked roster sync (202)
	POST   /api/v1/sync/roster                 start a chunked sync from a {type, since} body (202)
	POST   /api/v1/sync/incremental            start a changed-since apply pass (202)
	GET    /api/v1/sync/watermark              persisted sync cursor
	DELETE /api/v1/sync/watermark/incremental  reset the incremental cursor
	GET    /api/v1/ws                          websocket stream of status and sync_progress
	GET    /metrics                            Prometheus exposition

Starting a run while one of the same kind is active returns 409.

Middleware order: request id, real IP, panic recovery, CORS, metrics, then a
per-IP rate limit on /api/v1.
*/
package api
