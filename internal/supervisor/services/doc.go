// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

/*
Package services provides suture.Service wrappers for bridge components.

Each wrapper implements suture.Service and fmt.Stringer:

  - TickerService: runs a func(ctx) immediately and then on a fixed interval.
    The poll, upload and incremental loops are ticker services.
  - LifecycleService: Start on entry, Stop and Wait on cancellation. Wraps
    the orchestrator.
  - HTTPServerService: ListenAndServe with graceful Shutdown.
  - HubService: the websocket hub event loop.

Serve returns ctx.Err() on normal shutdown and a wrapped error when the
component fails, so the supervisor restarts it with backoff.
*/
package services
