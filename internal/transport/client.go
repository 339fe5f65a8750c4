// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/tomtom215/zkbridge/internal/jsonline"
	"github.com/tomtom215/zkbridge/internal/logging"
	"github.com/tomtom215/zkbridge/internal/metrics"
	"github.com/tomtom215/zkbridge/internal/models"
)

// maxAckBytes bounds the reply; an ACK is a few dozen bytes.
const maxAckBytes = 4 << 10

// ErrAckMismatch is the failure reason for a reply that is not the expected ACK.
var ErrAckMismatch = errors.New("unexpected acknowledgement")

// Client sends chunks over TCP. The zero value uses DefaultAckTimeout and the
// terminal's own port.
type Client struct {
	// Timeout bounds dial, send and ACK wait together.
	Timeout time.Duration

	// Port overrides the terminal port when the chunk listener runs elsewhere.
	Port int
}

// NewClient returns a client with the given timeout and port override.
func NewClient(timeout time.Duration, port int) *Client {
	return &Client{Timeout: timeout, Port: port}
}

func (c *Client) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultAckTimeout
	}
	return c.Timeout
}

func (c *Client) address(t models.Terminal) string {
	if c.Port > 0 {
		return net.JoinHostPort(t.IP, strconv.Itoa(c.Port))
	}
	return t.Address()
}

// SendChunk opens a connection, sends the chunk and waits for the matching ACK.
// The connection is closed on every path.
func (c *Client) SendChunk(ctx context.Context, terminal models.Terminal, chunk []models.UserRecord, chunkNumber, totalChunks int) bool {
	start := time.Now()
	err := c.attempt(ctx, terminal, ChunkMessage{
		Type:        TypeSyncChunk,
		ChunkNumber: chunkNumber,
		TotalChunks: totalChunks,
		Data:        chunk,
	})
	metrics.ObserveChunkLatency(time.Since(start).Seconds())

	if err != nil {
		metrics.RecordChunkAttempt(terminal.ID, "failure")
		logging.Ctx(ctx).Debug().
			Err(err).
			Str("terminal", terminal.ID).
			Int("chunk", chunkNumber).
			Int("total_chunks", totalChunks).
			Msg("Chunk delivery attempt failed")
		return false
	}

	metrics.RecordChunkAttempt(terminal.ID, "success")
	return true
}

// attempt performs one round trip and reports why it failed.
func (c *Client) attempt(ctx context.Context, terminal models.Terminal, msg ChunkMessage) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", c.address(terminal))
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close() //nolint:errcheck // Close error after a finished attempt is irrelevant

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
	}

	// Unblock reads if the caller cancels before the deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := jsonline.Write(conn, msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	var ack AckMessage
	if err := jsonline.Read(bufio.NewReader(conn), maxAckBytes, &ack); err != nil {
		return fmt.Errorf("await ack: %w", err)
	}
	if ack.Type != TypeAck || ack.ChunkNumber != msg.ChunkNumber {
		return fmt.Errorf("%w: type=%q chunkNumber=%d", ErrAckMismatch, ack.Type, ack.ChunkNumber)
	}
	return nil
}
