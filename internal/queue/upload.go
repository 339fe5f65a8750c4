// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package queue

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tomtom215/zkbridge/internal/logging"
	"github.com/tomtom215/zkbridge/internal/models"
)

// EventUploader sends one attendance event to the backend.
type EventUploader interface {
	UploadEvent(ctx context.Context, event models.AttendanceEvent) error
}

// Uploader drains the queue into the backend.
type Uploader struct {
	queue   Queue
	backend EventUploader
	running atomic.Bool
}

// NewUploader creates an upload cycle over q.
func NewUploader(q Queue, backend EventUploader) *Uploader {
	return &Uploader{queue: q, backend: backend}
}

// Run uploads every pending record in listing order. A successful upload removes
// its record; a failed one stays queued for the next cycle and contributes one
// "<recordId>: <message>" string to the returned slice. Only a failure to list
// the queue is returned as an error. An overlapping call returns immediately.
func (u *Uploader) Run(ctx context.Context) ([]string, error) {
	if !u.running.CompareAndSwap(false, true) {
		logging.Ctx(ctx).Debug().Msg("Upload cycle already running, skipping")
		return nil, nil
	}
	defer u.running.Store(false)

	records, err := u.queue.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	var (
		errs     []string
		uploaded int
	)
	recorder, _ := u.queue.(AttemptRecorder)

	for _, rec := range records {
		if ctx.Err() != nil {
			return errs, ctx.Err()
		}

		if err := u.backend.UploadEvent(ctx, rec.Event); err != nil {
			RecordUploadAttempt("failure")
			errs = append(errs, fmt.Sprintf("%s: %s", rec.Handle, err.Error()))
			if recorder != nil {
				if rerr := recorder.RecordAttempt(ctx, rec.Handle, err.Error()); rerr != nil {
					logging.Ctx(ctx).Warn().Err(rerr).Str("record", rec.Handle).Msg("Failed to record upload attempt")
				}
			}
			continue
		}
		RecordUploadAttempt("success")

		// The backend has the event now. If the delete fails it will be sent again.
		if err := u.queue.Remove(ctx, rec.Handle); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %s", rec.Handle, err.Error()))
			continue
		}
		uploaded++
	}

	logging.Ctx(ctx).Info().
		Int("pending", len(records)).
		Int("uploaded", uploaded).
		Int("failed", len(errs)).
		Msg("Upload cycle finished")

	return errs, nil
}
