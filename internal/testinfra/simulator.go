// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package testinfra

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tomtom215/zkbridge/internal/device"
	"github.com/tomtom215/zkbridge/internal/models"
)

// ErrTerminalOffline is returned by Connect for terminals marked offline.
var ErrTerminalOffline = errors.New("terminal offline")

// simTerminal is the state of one simulated terminal.
type simTerminal struct {
	online     bool
	disabled   bool
	users      map[int]models.DeviceUser
	logs       []device.RawAttendance
	readErr    error
	failWrites map[string]error // by external id
	connects   int
	enables    int
	disables   int
}

// DeviceSimulator is an in-memory device.Adapter. Terminals are created on
// first use and start online with empty tables.
type DeviceSimulator struct {
	mu        sync.Mutex
	terminals map[string]*simTerminal
}

var _ device.Adapter = (*DeviceSimulator)(nil)

// NewDeviceSimulator returns an empty simulator.
func NewDeviceSimulator() *DeviceSimulator {
	return &DeviceSimulator{terminals: make(map[string]*simTerminal)}
}

func (s *DeviceSimulator) terminal(id string) *simTerminal {
	t, ok := s.terminals[id]
	if !ok {
		t = &simTerminal{
			online:     true,
			users:      make(map[int]models.DeviceUser),
			failWrites: make(map[string]error),
		}
		s.terminals[id] = t
	}
	return t
}

// SetOnline controls whether Connect succeeds for the terminal.
func (s *DeviceSimulator) SetOnline(id string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminal(id).online = online
}

// AddAttendance appends records to the terminal's log.
func (s *DeviceSimulator) AddAttendance(id string, records ...device.RawAttendance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.terminal(id)
	t.logs = append(t.logs, records...)
}

// FailReads makes ReadAttendanceEvents return err; nil clears it.
func (s *DeviceSimulator) FailReads(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminal(id).readErr = err
}

// FailWrite makes writes of the given external user fail.
func (s *DeviceSimulator) FailWrite(id, externalID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminal(id).failWrites[externalID] = err
}

// PutUser seeds a user into the terminal table.
func (s *DeviceSimulator) PutUser(id string, u models.DeviceUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminal(id).users[u.UID] = u
}

// Users returns the terminal's user table ordered by uid.
func (s *DeviceSimulator) Users(id string) []models.DeviceUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.terminal(id)
	out := make([]models.DeviceUser, 0, len(t.users))
	for _, u := range t.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// Connects returns how many sessions were opened to the terminal.
func (s *DeviceSimulator) Connects(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal(id).connects
}

// Toggles returns how many DisableEvents and EnableEvents calls were made.
func (s *DeviceSimulator) Toggles(id string) (disables, enables int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.terminal(id)
	return t.disables, t.enables
}

// Disabled reports whether the terminal is currently disabled.
func (s *DeviceSimulator) Disabled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal(id).disabled
}

// Connect implements device.Adapter.
func (s *DeviceSimulator) Connect(ctx context.Context, terminal models.Terminal) (device.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.terminal(terminal.ID)
	if !t.online {
		return nil, fmt.Errorf("connect %s (%s): %w", terminal.ID, terminal.Address(), ErrTerminalOffline)
	}
	t.connects++
	return &simSession{sim: s, id: terminal.ID}, nil
}

type simSession struct {
	sim    *DeviceSimulator
	id     string
	closed bool
}

func (ss *simSession) with(fn func(t *simTerminal) error) error {
	ss.sim.mu.Lock()
	defer ss.sim.mu.Unlock()
	if ss.closed {
		return errors.New("session closed")
	}
	t := ss.sim.terminal(ss.id)
	if !t.online {
		return ErrTerminalOffline
	}
	return fn(t)
}

// ReadAttendanceEvents drains the terminal's log.
func (ss *simSession) ReadAttendanceEvents(ctx context.Context) ([]device.RawAttendance, error) {
	var out []device.RawAttendance
	err := ss.with(func(t *simTerminal) error {
		if t.readErr != nil {
			return t.readErr
		}
		out = t.logs
		t.logs = nil
		return nil
	})
	return out, err
}

func (ss *simSession) WriteUser(ctx context.Context, user models.DeviceUser) error {
	return ss.with(func(t *simTerminal) error {
		if err := t.failWrites[user.ExternalID]; err != nil {
			return err
		}
		t.users[user.UID] = user
		return nil
	})
}

func (ss *simSession) DeleteUser(ctx context.Context, uid int) error {
	return ss.with(func(t *simTerminal) error {
		delete(t.users, uid)
		return nil
	})
}

func (ss *simSession) DisableEvents(ctx context.Context) error {
	return ss.with(func(t *simTerminal) error {
		t.disables++
		t.disabled = true
		return nil
	})
}

func (ss *simSession) EnableEvents(ctx context.Context) error {
	return ss.with(func(t *simTerminal) error {
		t.enables++
		t.disabled = false
		return nil
	})
}

func (ss *simSession) Close() error {
	ss.sim.mu.Lock()
	defer ss.sim.mu.Unlock()
	ss.closed = true
	return nil
}
