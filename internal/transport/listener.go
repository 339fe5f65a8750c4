// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package transport

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/tomtom215/zkbridge/internal/jsonline"
	"github.com/tomtom215/zkbridge/internal/logging"
)

// Handler decides how a terminal answers a chunk. It returns the reply to
// write, or ok=false to stay silent until the sender gives up.
type Handler func(msg ChunkMessage) (reply interface{}, ok bool)

// AckHandler acknowledges every chunk.
func AckHandler(msg ChunkMessage) (interface{}, bool) {
	return AckMessage{Type: TypeAck, ChunkNumber: msg.ChunkNumber}, true
}

// Listener is the terminal side of the chunk protocol. It serves one message
// per connection and is used by terminal agents and tests.
type Listener struct {
	ln      net.Listener
	handler Handler

	// IdleTimeout bounds how long a silent connection is held open.
	IdleTimeout time.Duration

	wg     sync.WaitGroup
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// Listen starts accepting chunk connections on addr.
func Listen(addr string, h Handler) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if h == nil {
		h = AckHandler
	}

	l := &Listener{
		ln:          ln,
		handler:     h,
		IdleTimeout: 30 * time.Second,
		conns:       make(map[net.Conn]struct{}),
	}
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Port returns the listening TCP port.
func (l *Listener) Port() int {
	if addr, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logging.Warn().Err(err).Msg("Chunk listener accept failed")
			}
			return
		}
		if !l.track(conn) {
			conn.Close() //nolint:errcheck // listener is shutting down
			return
		}
		l.wg.Add(1)
		go l.serve(conn)
	}
}

func (l *Listener) track(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.conns[conn] = struct{}{}
	return true
}

func (l *Listener) untrack(conn net.Conn) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
}

func (l *Listener) serve(conn net.Conn) {
	defer l.wg.Done()
	defer l.untrack(conn)
	defer conn.Close() //nolint:errcheck // one message per connection

	_ = conn.SetDeadline(time.Now().Add(l.IdleTimeout))

	r := bufio.NewReader(conn)
	var msg ChunkMessage
	if err := jsonline.Read(r, jsonline.DefaultMaxLine, &msg); err != nil {
		return
	}

	reply, ok := l.handler(msg)
	if !ok {
		// Hold the connection until the sender times out and hangs up.
		_, _ = r.ReadByte()
		return
	}
	if err := jsonline.Write(conn, reply); err != nil {
		logging.Debug().Err(err).Int("chunk", msg.ChunkNumber).Msg("Failed to write chunk reply")
	}
}

// Close stops accepting, drops open connections and waits for handlers.
func (l *Listener) Close() error {
	l.mu.Lock()
	l.closed = true
	for conn := range l.conns {
		conn.Close() //nolint:errcheck // forced shutdown
	}
	l.mu.Unlock()

	err := l.ln.Close()
	l.wg.Wait()
	return err
}
