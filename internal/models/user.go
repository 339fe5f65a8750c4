// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package models

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Status values reported by the backend. Comparison is case-insensitive.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// maxDeviceUID is the largest user slot number terminals accept.
const maxDeviceUID = 65535

// UserRecord is a roster entry provided by the backend. It is read-only input
// to a sync run and is not persisted locally.
type UserRecord struct {
	ExternalID string `json:"externalId"`
	Names      string `json:"names"`
	Status     string `json:"status,omitempty"`
	UID        int    `json:"uid,omitempty"`
	Password   string `json:"password,omitempty"`
	Role       int    `json:"role,omitempty"`
}

// userRecordWire accepts both the English and the Spanish field names the
// backend has used over time. Ids may arrive as numbers or strings.
type userRecordWire struct {
	ID         json.RawMessage `json:"id"`
	ExternalID json.RawMessage `json:"externalId"`
	Names      string          `json:"names"`
	Name       string          `json:"name"`
	Nombre     string          `json:"nombre"`
	Status     *string         `json:"status"`
	Estado     *string         `json:"estado"`
	UID        int             `json:"uid"`
	Password   string          `json:"password"`
	Role       int             `json:"role"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *UserRecord) UnmarshalJSON(data []byte) error {
	var w userRecordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	id, err := rawID(w.ExternalID)
	if err != nil {
		return fmt.Errorf("externalId: %w", err)
	}
	if id == "" {
		if id, err = rawID(w.ID); err != nil {
			return fmt.Errorf("id: %w", err)
		}
	}

	*u = UserRecord{
		ExternalID: id,
		Names:      firstNonEmpty(w.Names, w.Name, w.Nombre),
		UID:        w.UID,
		Password:   w.Password,
		Role:       w.Role,
	}
	switch {
	case w.Status != nil:
		u.Status = *w.Status
	case w.Estado != nil:
		u.Status = *w.Estado
	}
	return nil
}

// rawID decodes an id that may be a JSON string or number.
func rawID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsInactive reports whether the user is marked inactive. A missing status means active.
func (u UserRecord) IsInactive() bool {
	s := strings.TrimSpace(u.Status)
	return strings.EqualFold(s, StatusInactive) || strings.EqualFold(s, "inactivo")
}

// DeviceUser is the record written into a terminal's local user table.
type DeviceUser struct {
	UID        int    `json:"uid"`
	ExternalID string `json:"userId"`
	Name       string `json:"name"`
	Password   string `json:"password,omitempty"`
	Role       int    `json:"role"`
}

// DeviceUser converts the roster entry into a terminal user record.
func (u UserRecord) DeviceUser() DeviceUser {
	return DeviceUser{
		UID:        u.DeviceUID(),
		ExternalID: u.ExternalID,
		Name:       u.Names,
		Password:   u.Password,
		Role:       u.Role,
	}
}

// DeviceUID returns the terminal slot for the user. An explicit uid wins; a
// numeric external id in range is used as is; anything else hashes into range.
func (u UserRecord) DeviceUID() int {
	if u.UID > 0 && u.UID <= maxDeviceUID {
		return u.UID
	}
	if n, err := strconv.Atoi(u.ExternalID); err == nil && n > 0 && n <= maxDeviceUID {
		return n
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(u.ExternalID))
	return int(h.Sum32()%maxDeviceUID) + 1
}
