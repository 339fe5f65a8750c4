// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package jsonline

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

type message struct {
	Type  string `json:"type"`
	Chunk int    `json:"chunkNumber"`
}

func TestWriteRead(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, message{Type: "ACK", Chunk: 2}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := Write(&buf, message{Type: "ACK", Chunk: 3}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.HasSuffix(buf.String(), "}\n") {
		t.Errorf("messages must be newline-terminated: %q", buf.String())
	}

	r := bufio.NewReader(&buf)
	for _, want := range []int{2, 3} {
		var got message
		if err := Read(r, DefaultMaxLine, &got); err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if got.Type != "ACK" || got.Chunk != want {
			t.Errorf("Read() = %+v, want chunk %d", got, want)
		}
	}

	var extra message
	if err := Read(r, DefaultMaxLine, &extra); !errors.Is(err, io.EOF) {
		t.Errorf("Read() at end = %v, want io.EOF", err)
	}
}

func TestReadLine_Limit(t *testing.T) {
	long := strings.Repeat("x", 5000) + "\n"
	r := bufio.NewReaderSize(strings.NewReader(long), 16)

	if _, err := ReadLine(r, 1024); !errors.Is(err, ErrLineTooLong) {
		t.Errorf("ReadLine() error = %v, want ErrLineTooLong", err)
	}
}

func TestReadLine_MissingNewline(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(`{"type":"ACK"}`))
	line, err := ReadLine(r, DefaultMaxLine)
	if err != nil {
		t.Fatalf("ReadLine() error = %v", err)
	}
	if string(line) != `{"type":"ACK"}` {
		t.Errorf("ReadLine() = %q", line)
	}
}
