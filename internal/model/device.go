package model

import (
	"strings"
	"time"
)

// DeviceAllowlist restricts which terminals count as attendance evidence.
//
// The zero-pointer/empty distinction is load-bearing: a nil *DeviceAllowlist
// imposes no restriction, while a non-nil allowlist with no entries rejects
// every event (a room configured with no attendance-capable devices).
type DeviceAllowlist struct {
	IDs   map[string]struct{}
	Names map[string]struct{}
}

// NewDeviceAllowlist returns a non-nil allowlist, even for empty inputs.
func NewDeviceAllowlist(ids, names []string) *DeviceAllowlist {
	a := &DeviceAllowlist{IDs: map[string]struct{}{}, Names: map[string]struct{}{}}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			a.IDs[id] = struct{}{}
		}
	}
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			a.Names[n] = struct{}{}
		}
	}
	return a
}

// Allows reports whether an event from the given device is eligible.
func (a *DeviceAllowlist) Allows(deviceID, deviceName string) bool {
	if a == nil {
		return true
	}
	if _, ok := a.IDs[strings.TrimSpace(deviceID)]; ok && deviceID != "" {
		return true
	}
	if _, ok := a.Names[strings.TrimSpace(deviceName)]; ok && deviceName != "" {
		return true
	}
	return false
}

// Len is the number of entries; zero on a nil allowlist.
func (a *DeviceAllowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.IDs) + len(a.Names)
}

// MergeAllowlists unions the allowlists of every room a session uses.
// No rooms, or any unrestricted room, yields nil (no restriction).
func MergeAllowlists(rooms ...*DeviceAllowlist) *DeviceAllowlist {
	if len(rooms) == 0 {
		return nil
	}
	out := NewDeviceAllowlist(nil, nil)
	for _, r := range rooms {
		if r == nil {
			return nil
		}
		for id := range r.IDs {
			out.IDs[id] = struct{}{}
		}
		for n := range r.Names {
			out.Names[n] = struct{}{}
		}
	}
	return out
}

// PunchEvent is a read-only check-in reported by an external terminal.
type PunchEvent struct {
	Identifier string    `json:"identifier"`
	At         time.Time `json:"at"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
}
