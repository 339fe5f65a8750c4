// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

// Package jsonline frames JSON messages as newline-terminated lines on a stream.
// It is shared by the terminal agent protocol and the roster chunk protocol.
package jsonline

import (
	"bufio"
	"errors"
	"io"

	"github.com/goccy/go-json"
)

// DefaultMaxLine bounds a single incoming message.
const DefaultMaxLine = 16 << 20

// ErrLineTooLong is returned when a message exceeds the read limit.
var ErrLineTooLong = errors.New("message line too long")

// Write encodes v as one JSON line.
func Write(w io.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(payload, '\n'))
	return err
}

// ReadLine reads up to and excluding the next '\n', refusing lines over limit
// bytes. A final line without a trailing newline is returned as is.
func ReadLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > limit {
			return nil, ErrLineTooLong
		}
		if !isPrefix {
			return line, nil
		}
	}
}

// Read reads one line and decodes it into v.
func Read(r *bufio.Reader, limit int, v interface{}) error {
	line, err := ReadLine(r, limit)
	if err != nil {
		return err
	}
	return json.Unmarshal(line, v)
}
