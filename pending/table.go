// Copyright 2024 The ndnsync Authors
// This file is part of the ndnsync library.
//
// The ndnsync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ndnsync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ndnsync library. If not, see <http://www.gnu.org/licenses/>.

// Package pending implements the Pending-Request Table of spec §4.4:
// an associative container, unique by request name, of inbound
// requests we currently have nothing new to answer, each with an
// auto-expiring lifetime.
package pending

import (
	"sync"
	"time"

	"github.com/wuarl/ndnsync/wire"
)

// Entry is one pending inbound request (spec §3 PendingRequest).
type Entry struct {
	RequestName    string
	Name           wire.Name
	PeerStateBytes []byte
	ArrivedAt      time.Time
	ExpiresAt      time.Time
}

// Table holds at most one Entry per request name, with a live expiry
// timer per entry (spec §4.4 invariants).
//
// The engine that owns a Table runs on a single-threaded event loop
// (spec §5), but the Table itself is safe to use from multiple
// goroutines: timer callbacks fire on their own goroutine and must not
// race with an engine-thread Insert/Erase.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entryHandle
}

type entryHandle struct {
	entry Entry
	timer *time.Timer
}

// New returns an empty table.
func New() *Table {
	return &Table{entries: make(map[string]*entryHandle)}
}

// nameKey renders a wire.Name into the map key. Two distinct Name
// values with identical components always collide, as required by
// "unique by request name" (spec §3 PendingRequest).
func nameKey(name wire.Name) string {
	return name.String()
}

// Insert erases any existing entry with the same name (cancelling its
// expiry), then inserts and arms an expiry timer for lifetime (spec
// §4.4 insert). onExpire is called with no reply produced, exactly once,
// if the timer fires before the entry is erased or replaced.
func (t *Table) Insert(name wire.Name, peerState []byte, lifetime time.Duration, onExpire func(wire.Name)) {
	key := nameKey(name)
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.entries[key]; ok {
		existing.timer.Stop()
	}
	h := &entryHandle{entry: Entry{
		RequestName:    key,
		Name:           name.Clone(),
		PeerStateBytes: peerState,
		ArrivedAt:      now,
		ExpiresAt:      now.Add(lifetime),
	}}
	h.timer = time.AfterFunc(lifetime, func() {
		t.mu.Lock()
		current, ok := t.entries[key]
		if ok && current == h {
			delete(t.entries, key)
		}
		t.mu.Unlock()
		if ok && current == h && onExpire != nil {
			onExpire(name)
		}
	})
	t.entries[key] = h
}

// Erase cancels the expiry and removes the entry, if any (spec §4.4
// erase).
func (t *Table) Erase(name wire.Name) {
	key := nameKey(name)
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.entries[key]; ok {
		h.timer.Stop()
		delete(t.entries, key)
	}
}

// Has reports whether name currently has a live entry (spec §4.4 has).
func (t *Table) Has(name wire.Name) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[nameKey(name)]
	return ok
}

// Len reports the number of live entries (spec §8 invariant 5: "at
// most one entry per request name").
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Iter calls fn for every live entry (spec §4.4 iter). fn is called
// with the table unlocked, so it may call back into Insert/Erase.
func (t *Table) Iter(fn func(Entry)) {
	t.mu.Lock()
	snapshot := make([]Entry, 0, len(t.entries))
	for _, h := range t.entries {
		snapshot = append(snapshot, h.entry)
	}
	t.mu.Unlock()
	for _, e := range snapshot {
		fn(e)
	}
}

// Clear cancels every timer and empties the table (spec §4.4 clear,
// and the engine shutdown sequence of spec §4.5.6).
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, h := range t.entries {
		h.timer.Stop()
	}
	t.entries = make(map[string]*entryHandle)
}
