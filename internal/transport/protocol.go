// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

// Package transport implements the roster chunk protocol: one SYNC_CHUNK
// message per fresh TCP connection, answered by an ACK carrying the same
// chunk number.
//
//	-> {"type":"SYNC_CHUNK","chunkNumber":1,"totalChunks":3,"data":[...]}
//	<- {"type":"ACK","chunkNumber":1}
//
// Every message is a single JSON object terminated by a newline. A sender
// reports each attempt as plain success or failure; retry policy belongs to
// the caller.
package transport

import (
	"context"
	"time"

	"github.com/tomtom215/zkbridge/internal/models"
)

// Message types.
const (
	TypeSyncChunk = "SYNC_CHUNK"
	TypeAck       = "ACK"
)

// DefaultAckTimeout bounds one delivery attempt from dial to ACK.
const DefaultAckTimeout = 5 * time.Second

// ChunkMessage is the request carrying one slice of the roster.
type ChunkMessage struct {
	Type        string              `json:"type"`
	ChunkNumber int                 `json:"chunkNumber"`
	TotalChunks int                 `json:"totalChunks"`
	Data        []models.UserRecord `json:"data"`
}

// AckMessage is the terminal's reply.
type AckMessage struct {
	Type        string `json:"type"`
	ChunkNumber int    `json:"chunkNumber"`
}

// Sender delivers one chunk to one terminal. Implementations never return
// errors: any network or protocol problem is a false result.
type Sender interface {
	SendChunk(ctx context.Context, terminal models.Terminal, chunk []models.UserRecord, chunkNumber, totalChunks int) bool
}
