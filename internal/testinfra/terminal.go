// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package testinfra

import (
	"sync"
	"testing"

	"github.com/tomtom215/zkbridge/internal/models"
	"github.com/tomtom215/zkbridge/internal/transport"
)

// Reply is a scripted answer to one chunk attempt.
type Reply int

const (
	// ReplyAck acknowledges the chunk.
	ReplyAck Reply = iota
	// ReplySilent never answers, so the sender times out.
	ReplySilent
	// ReplyWrongChunk acknowledges a different chunk number.
	ReplyWrongChunk
	// ReplyNotAck answers with a message that is not an ACK.
	ReplyNotAck
)

// Attempt is one chunk message the terminal received.
type Attempt struct {
	ChunkNumber int
	TotalChunks int
	Users       int
	Acked       bool
}

// ScriptedTerminal is a loopback chunk listener with per-chunk scripts.
// Unscripted attempts are acknowledged.
type ScriptedTerminal struct {
	id       string
	listener *transport.Listener

	mu       sync.Mutex
	scripts  map[int][]Reply
	attempts []Attempt
	users    map[string]models.UserRecord
}

// NewScriptedTerminal starts a listener on 127.0.0.1 and closes it on cleanup.
func NewScriptedTerminal(t testing.TB, id string) *ScriptedTerminal {
	t.Helper()

	st := &ScriptedTerminal{
		id:      id,
		scripts: make(map[int][]Reply),
		users:   make(map[string]models.UserRecord),
	}
	l, err := transport.Listen("127.0.0.1:0", st.handle)
	if err != nil {
		t.Fatalf("start scripted terminal %s: %v", id, err)
	}
	st.listener = l
	t.Cleanup(func() { _ = l.Close() })
	return st
}

// Terminal returns the identity pointing at the listener.
func (st *ScriptedTerminal) Terminal() models.Terminal {
	return models.Terminal{ID: st.id, IP: "127.0.0.1", Port: st.listener.Port()}
}

// Script queues replies for successive attempts on chunkNumber. Once the
// queue is drained the chunk is acknowledged.
func (st *ScriptedTerminal) Script(chunkNumber int, replies ...Reply) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.scripts[chunkNumber] = append(st.scripts[chunkNumber], replies...)
}

// Attempts returns every message received, in arrival order.
func (st *ScriptedTerminal) Attempts() []Attempt {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Attempt, len(st.attempts))
	copy(out, st.attempts)
	return out
}

// Acked returns the acknowledged chunk numbers in order.
func (st *ScriptedTerminal) Acked() []int {
	var out []int
	for _, a := range st.Attempts() {
		if a.Acked {
			out = append(out, a.ChunkNumber)
		}
	}
	return out
}

// UserCount returns the number of distinct users received in acknowledged chunks.
func (st *ScriptedTerminal) UserCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.users)
}

func (st *ScriptedTerminal) handle(msg transport.ChunkMessage) (interface{}, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	reply := ReplyAck
	if queue := st.scripts[msg.ChunkNumber]; len(queue) > 0 {
		reply = queue[0]
		st.scripts[msg.ChunkNumber] = queue[1:]
	}

	st.attempts = append(st.attempts, Attempt{
		ChunkNumber: msg.ChunkNumber,
		TotalChunks: msg.TotalChunks,
		Users:       len(msg.Data),
		Acked:       reply == ReplyAck,
	})

	switch reply {
	case ReplySilent:
		return nil, false
	case ReplyWrongChunk:
		return transport.AckMessage{Type: transport.TypeAck, ChunkNumber: msg.ChunkNumber + 1}, true
	case ReplyNotAck:
		return map[string]string{"type": "NACK"}, true
	default:
		for _, u := range msg.Data {
			st.users[u.ExternalID] = u
		}
		return transport.AckMessage{Type: transport.TypeAck, ChunkNumber: msg.ChunkNumber}, true
	}
}
