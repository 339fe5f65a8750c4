// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package device

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/tomtom215/zkbridge/internal/jsonline"
	"github.com/tomtom215/zkbridge/internal/models"
)

// Commands understood by the terminal agent.
const (
	cmdGetAttendance = "get_attendance"
	cmdSetUser       = "set_user"
	cmdDeleteUser    = "delete_user"
	cmdDisable       = "disable_device"
	cmdEnable        = "enable_device"
)

// maxResponseBytes bounds a single response line.
const maxResponseBytes = jsonline.DefaultMaxLine

// Command is one request line sent to a terminal agent.
type Command struct {
	Cmd  string             `json:"cmd"`
	User *models.DeviceUser `json:"user,omitempty"`
	UID  int                `json:"uid,omitempty"`
}

// Response is one reply line from a terminal agent.
type Response struct {
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	Records []RawAttendance `json:"records,omitempty"`
}

// NetAdapter talks to terminal agents over TCP using newline-delimited JSON
// commands, one response line per command.
type NetAdapter struct {
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
}

// NewNetAdapter returns an adapter with the given timeouts. Zero values fall
// back to DefaultConnectTimeout and DefaultResponseTimeout.
func NewNetAdapter(connectTimeout, responseTimeout time.Duration) *NetAdapter {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if responseTimeout <= 0 {
		responseTimeout = DefaultResponseTimeout
	}
	return &NetAdapter{ConnectTimeout: connectTimeout, ResponseTimeout: responseTimeout}
}

// Connect dials the terminal.
func (a *NetAdapter) Connect(ctx context.Context, terminal models.Terminal) (Session, error) {
	dialer := net.Dialer{Timeout: a.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", terminal.Address())
	if err != nil {
		return nil, fmt.Errorf("connect %s (%s): %w", terminal.ID, terminal.Address(), err)
	}
	return &netSession{
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, 64<<10),
		timeout: a.ResponseTimeout,
	}, nil
}

type netSession struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// roundTrip sends one command and reads one response line.
func (s *netSession) roundTrip(ctx context.Context, cmd Command) (*Response, error) {
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if err := jsonline.Write(s.conn, cmd); err != nil {
		return nil, fmt.Errorf("send %s: %w", cmd.Cmd, err)
	}

	var resp Response
	if err := jsonline.Read(s.reader, maxResponseBytes, &resp); err != nil {
		return nil, fmt.Errorf("read %s response: %w", cmd.Cmd, err)
	}
	if !resp.OK {
		if resp.Error == "" {
			resp.Error = "command rejected"
		}
		return nil, fmt.Errorf("%s: %s", cmd.Cmd, resp.Error)
	}
	return &resp, nil
}

func (s *netSession) ReadAttendanceEvents(ctx context.Context) ([]RawAttendance, error) {
	resp, err := s.roundTrip(ctx, Command{Cmd: cmdGetAttendance})
	if err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (s *netSession) WriteUser(ctx context.Context, user models.DeviceUser) error {
	_, err := s.roundTrip(ctx, Command{Cmd: cmdSetUser, User: &user})
	return err
}

func (s *netSession) DeleteUser(ctx context.Context, uid int) error {
	_, err := s.roundTrip(ctx, Command{Cmd: cmdDeleteUser, UID: uid})
	return err
}

func (s *netSession) DisableEvents(ctx context.Context) error {
	_, err := s.roundTrip(ctx, Command{Cmd: cmdDisable})
	return err
}

func (s *netSession) EnableEvents(ctx context.Context) error {
	_, err := s.roundTrip(ctx, Command{Cmd: cmdEnable})
	return err
}

func (s *netSession) Close() error {
	return s.conn.Close()
}
