// Package presence tracks online/offline status per user handle. The table
// is fed by a one-shot snapshot fetch at session start and by status frames
// pushed over the live connection; both are full authoritative snapshots.
package presence

import (
	"errors"
	"sync"
)

// Status is a user's reported availability.
type Status string

const (
	Online  Status = "online"
	Offline Status = "offline"
)

// ErrUnavailable reports a failed snapshot fetch. It is non-fatal: the table
// keeps its previous contents and every handle defaults to offline.
var ErrUnavailable = errors.New("presence snapshot unavailable")

// Table maps handle to status. The zero value is not usable; construct with
// NewTable.
type Table struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

func NewTable() *Table {
	return &Table{statuses: make(map[string]Status)}
}

// Replace installs the given snapshot wholesale. Pushes in this protocol are
// authoritative for every handle they omit as well as every handle they
// contain, so replace-not-merge is required: a merge would silently retain
// stale entries for users dropped from an update.
func (t *Table) Replace(snapshot map[string]Status) {
	next := make(map[string]Status, len(snapshot))
	for handle, status := range snapshot {
		if status != Online {
			status = Offline
		}
		next[handle] = status
	}

	t.mu.Lock()
	t.statuses = next
	t.mu.Unlock()
}

// ReplaceStrings is Replace for the raw handle→string mapping the wire and
// HTTP snapshot endpoints produce.
func (t *Table) ReplaceStrings(snapshot map[string]string) {
	next := make(map[string]Status, len(snapshot))
	for handle, status := range snapshot {
		next[handle] = Status(status)
	}
	t.Replace(next)
}

// Get returns the status for a handle, defaulting to offline for handles the
// server has never reported.
func (t *Table) Get(handle string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if status, ok := t.statuses[handle]; ok {
		return status
	}
	return Offline
}

// Observe records a handle seen in message traffic so it shows up in the
// table even if the server never reported it. An already-reported status is
// left untouched.
func (t *Table) Observe(handle string) {
	if handle == "" {
		return
	}
	t.mu.Lock()
	if _, ok := t.statuses[handle]; !ok {
		t.statuses[handle] = Offline
	}
	t.mu.Unlock()
}

// Snapshot returns a copy of the table for subscribers.
func (t *Table) Snapshot() map[string]Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Status, len(t.statuses))
	for handle, status := range t.statuses {
		out[handle] = status
	}
	return out
}

// Len returns the number of known handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.statuses)
}
