// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

// Package device defines how the bridge talks to a terminal: open a session,
// read the attendance log, and write or delete users in the terminal's roster.
//
// The Adapter interface is the seam to the terminal access library. NetAdapter
// is the implementation used in production; tests use the in-memory simulator
// from internal/testinfra.
package device

import (
	"context"
	"time"

	"github.com/tomtom215/zkbridge/internal/models"
)

// Default timeouts for terminal sessions.
const (
	DefaultConnectTimeout  = 10 * time.Second
	DefaultResponseTimeout = 4 * time.Second
)

// Adapter opens sessions to terminals.
type Adapter interface {
	Connect(ctx context.Context, terminal models.Terminal) (Session, error)
}

// Session is an open connection to one terminal. Sessions are not safe for
// concurrent use; each poll or apply pass opens its own.
type Session interface {
	// ReadAttendanceEvents returns the attendance log currently held by the terminal.
	ReadAttendanceEvents(ctx context.Context) ([]RawAttendance, error)

	// WriteUser creates or replaces a user in the terminal roster.
	WriteUser(ctx context.Context, user models.DeviceUser) error

	// DeleteUser removes the user in slot uid.
	DeleteUser(ctx context.Context, uid int) error

	// DisableEvents pauses the terminal's keypad and sensor during bulk writes.
	DisableEvents(ctx context.Context) error

	// EnableEvents resumes normal terminal operation.
	EnableEvents(ctx context.Context) error

	// Close ends the session.
	Close() error
}

// RawAttendance is an attendance record as the terminal reports it.
type RawAttendance struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
	Type      int       `json:"type"`
}

// ToEvent converts a raw record into an AttendanceEvent for the given terminal.
// Records without a timestamp are stamped with now.
func (r RawAttendance) ToEvent(terminalID string, now time.Time) models.AttendanceEvent {
	at := r.Timestamp
	if at.IsZero() {
		at = now
	}
	return models.AttendanceEvent{
		UserID:    r.UserID,
		Timestamp: at.UTC(),
		Direction: models.DirectionFromCode(r.Type),
		DeviceID:  terminalID,
	}
}
