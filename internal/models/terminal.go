// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package models

import (
	"net"
	"strconv"
	"time"
)

// Terminal is the static identity of a biometric terminal. It never changes at runtime.
type Terminal struct {
	ID   string `json:"id" koanf:"id" validate:"required,terminalid"`
	IP   string `json:"ip" koanf:"ip" validate:"required,ip|hostname"`
	Port int    `json:"port" koanf:"port" validate:"min=1,max=65535"`
}

// Address returns the host:port dial address of the terminal.
func (t Terminal) Address() string {
	return net.JoinHostPort(t.IP, strconv.Itoa(t.Port))
}

// TerminalState is the identity of a terminal plus what the last poll observed.
type TerminalState struct {
	Terminal
	Connected        bool       `json:"connected"`
	LastError        *string    `json:"lastError"`
	LastRecordsCount int        `json:"lastRecordsCount"`
	LastReceivedAt   *time.Time `json:"lastReceivedAt"`
}

// Clone returns a deep copy safe to hand to readers.
func (s TerminalState) Clone() TerminalState {
	out := s
	if s.LastError != nil {
		msg := *s.LastError
		out.LastError = &msg
	}
	if s.LastReceivedAt != nil {
		at := *s.LastReceivedAt
		out.LastReceivedAt = &at
	}
	return out
}
