// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

// Package testinfra provides in-process stand-ins for the bridge's external
// collaborators:
//
//   - MockBackend is an httptest server speaking the backend's roster and
//     upload endpoints and capturing every request.
//   - DeviceSimulator is an in-memory device.Adapter with per-terminal user
//     tables, attendance logs and fault injection.
//   - ScriptedTerminal is a real TCP chunk listener whose replies can be
//     scripted per chunk (ACK, silence, wrong chunk number).
//
// Example:
//
//	func TestFullSync(t *testing.T) {
//	    be := testinfra.NewMockBackend(t)
//	    be.SetRoster(testinfra.Users(250))
//
//	    term := testinfra.NewScriptedTerminal(t, "a")
//	    client, _ := backend.NewClient(backend.Config{BaseURL: be.BaseURL()})
//	    engine := roster.NewEngine(cfg, []models.Terminal{term.Terminal()}, client, transport.NewClient(0, 0), nil)
//	    // ...
//	}
package testinfra
