// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package roster

import (
	"context"
	"sort"

	"github.com/tomtom215/zkbridge/internal/logging"
	"github.com/tomtom215/zkbridge/internal/models"
)

// DefaultChunkSize is the number of users per SYNC_CHUNK and per apply batch.
const DefaultChunkSize = 100

// Classify partitions users into those to write and those to delete. A user
// is inactive only when its status says so; everything else is active. Input
// order is preserved in both slices.
func Classify(users []models.UserRecord) (active, inactive []models.UserRecord) {
	active = make([]models.UserRecord, 0, len(users))
	for _, u := range users {
		if u.IsInactive() {
			inactive = append(inactive, u)
			continue
		}
		active = append(active, u)
	}
	return active, inactive
}

// Split cuts users into consecutive chunks of at most size elements. The
// last chunk may be shorter. An empty input yields no chunks.
func Split(users []models.UserRecord, size int) [][]models.UserRecord {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(users) == 0 {
		return nil
	}
	chunks := make([][]models.UserRecord, 0, (len(users)+size-1)/size)
	for start := 0; start < len(users); start += size {
		end := start + size
		if end > len(users) {
			end = len(users)
		}
		chunks = append(chunks, users[start:end:end])
	}
	return chunks
}

// UIDCollisions maps each terminal slot claimed by more than one distinct
// external id to those ids, in input order.
func UIDCollisions(users []models.UserRecord) map[int][]string {
	owners := make(map[int][]string)
	for _, u := range users {
		uid := u.DeviceUID()
		ids := owners[uid]
		seen := false
		for _, id := range ids {
			if id == u.ExternalID {
				seen = true
				break
			}
		}
		if !seen {
			owners[uid] = append(ids, u.ExternalID)
		}
	}
	for uid, ids := range owners {
		if len(ids) < 2 {
			delete(owners, uid)
		}
	}
	return owners
}

// warnUIDCollisions logs every shared slot in users and returns how many
// slots are shared.
func warnUIDCollisions(ctx context.Context, users []models.UserRecord) int {
	collisions := UIDCollisions(users)
	if len(collisions) == 0 {
		return 0
	}
	uids := make([]int, 0, len(collisions))
	for uid := range collisions {
		uids = append(uids, uid)
	}
	sort.Ints(uids)
	log := logging.Ctx(ctx)
	for _, uid := range uids {
		log.Warn().Int("uid", uid).Strs("users", collisions[uid]).Msg("Users share a terminal slot; only the last one written is kept")
	}
	return len(collisions)
}
