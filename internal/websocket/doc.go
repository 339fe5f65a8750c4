// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

/*
Package websocket streams bridge status to dashboards over gorilla/websocket.

Every frame is a JSON Message {type, data}. The hub emits:
  - status: an orchestrator.Status snapshot after each poll, upload or sync cycle
  - sync_progress: roster.Progress while a full sync is delivering chunks
  - pong: the reply to a client ping

Hub.RunWithContext is run by the supervisor; the api package upgrades
/api/v1/ws connections and registers a Client per connection.
*/
package websocket
