// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package models

import (
	"strconv"
	"time"
)

// Direction tells whether a punch was an entry or an exit.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// DirectionFromCode maps the terminal's raw punch type to a Direction.
// Codes other than 0 (check-in) and 1 (check-out) are kept verbatim.
func DirectionFromCode(code int) Direction {
	switch code {
	case 0:
		return DirectionIn
	case 1:
		return DirectionOut
	default:
		return Direction(strconv.Itoa(code))
	}
}

// AttendanceEvent is a single punch read off a terminal. Events are never mutated
// after capture; they live in the offline queue until the backend accepts them.
type AttendanceEvent struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"direction"`
	DeviceID  string    `json:"deviceId"`
}

// RecentEvent is the compact form shown in the status snapshot.
type RecentEvent struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Device string    `json:"device"`
}

// Recent converts the event to its status-snapshot form.
func (e AttendanceEvent) Recent() RecentEvent {
	return RecentEvent{ID: e.UserID, Time: e.Timestamp, Device: e.DeviceID}
}
