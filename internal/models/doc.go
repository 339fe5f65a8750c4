// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

// Package models holds the value types shared by the bridge components:
// terminal identity and observed state, attendance events captured from
// terminals, and the user records pushed back to them.
//
// Types in this package carry no behavior beyond JSON mapping and small
// conversions, so every other package can depend on it without cycles.
package models
