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

// Package history implements the per-channel HistoryStore of spec
// §4.2: an ordered mapping from Timestamp to the list of EventNames
// published at that timestamp, with lifetime-based eviction.
package history

import (
	"sort"

	"github.com/wuarl/ndnsync/wire"
)

// Store is a dictionary from wire.Timestamp to an ordered EventName
// list (spec §4.2 HistoryEntry/HistoryStore).
type Store struct {
	entries map[wire.Timestamp][]wire.Name
}

// New returns an empty store.
func New() *Store {
	return &Store{entries: make(map[wire.Timestamp][]wire.Name)}
}

// Append inserts or replaces the event list at ts (spec §4.2 append).
// A timestamp collision silently overwrites, the contract documented
// as an open question in spec §9.
func (s *Store) Append(ts wire.Timestamp, events []wire.Name) {
	s.entries[ts] = events
}

// Get returns the list at ts, or an empty list if absent (spec §4.2
// get).
func (s *Store) Get(ts wire.Timestamp) []wire.Name {
	return s.entries[ts]
}

// Has reports whether ts is present.
func (s *Store) Has(ts wire.Timestamp) bool {
	_, ok := s.entries[ts]
	return ok
}

// Erase removes ts (spec §4.2 erase).
func (s *Store) Erase(ts wire.Timestamp) {
	delete(s.entries, ts)
}

// Len reports the number of live timestamps.
func (s *Store) Len() int { return len(s.entries) }

// Cleanup removes every entry whose age exceeds freshnessNs, given the
// current time nowNs (spec §4.2 cleanup). It returns the timestamps
// removed so the caller (State) can keep the Sketch in lock-step, per
// the invariant in spec §3 HistoryStore.
func (s *Store) Cleanup(nowNs, freshnessNs uint64) []wire.Timestamp {
	var removed []wire.Timestamp
	for ts := range s.entries {
		if nowNs-uint64(ts) > freshnessNs {
			removed = append(removed, ts)
		}
	}
	for _, ts := range removed {
		delete(s.entries, ts)
	}
	return removed
}

// Iter performs a bounded traversal in ascending timestamp order (spec
// §4.2 iter).
func (s *Store) Iter(fn func(wire.Timestamp, []wire.Name)) {
	ordered := make([]wire.Timestamp, 0, len(s.entries))
	for ts := range s.entries {
		ordered = append(ordered, ts)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	for _, ts := range ordered {
		fn(ts, s.entries[ts])
	}
}

// Keys returns every live timestamp, for tests and diagnostics.
func (s *Store) Keys() []wire.Timestamp {
	out := make([]wire.Timestamp, 0, len(s.entries))
	for ts := range s.entries {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
