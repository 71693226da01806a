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

// Package state implements the per-channel State of spec §4.3: it
// composes a history.Store with either a sketch.Sketch or the plain
// ListState encoding, and drives reconciliation.
package state

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/wuarl/ndnsync/history"
	"github.com/wuarl/ndnsync/sketch"
	"github.com/wuarl/ndnsync/wire"
)

// Encoding selects the wire representation of a channel's state (spec
// §3 ChannelState, §6.5 stateType). Tuple is carried through
// configuration validation but has no implementation here: the
// original source (state.hpp StateType::TUPLE) never defines its wire
// form either, so we reject it explicitly rather than guess at one
// (see DESIGN.md).
type Encoding int

const (
	EncodingSketch Encoding = iota + 1
	EncodingList
	EncodingTuple
)

// ErrUnresolved is returned by Diff/Reconcile when the sketch
// subtraction could not be fully peeled (spec §7 SketchUnresolved).
var ErrUnresolved = sketch.ErrUnresolved

// ErrTupleUnsupported is returned for EncodingTuple, which spec §6.5
// names but never defines the wire form of.
var ErrTupleUnsupported = errors.New("state: TUPLE encoding is not implemented")

// State composes the history and the selected encoding for one channel
// (spec §4.3). Exactly one encoding is chosen at construction and never
// changes (spec §3 ChannelState).
type State struct {
	encoding  Encoding
	maxMemory int
	history   *history.Store
	sketch    *sketch.Sketch // nil when encoding == EncodingList
	now       func() uint64
}

// Option customizes New.
type Option func(*State)

// WithClock overrides the monotonic nanosecond source used by Publish,
// for deterministic tests.
func WithClock(now func() uint64) Option {
	return func(s *State) { s.now = now }
}

// New builds a State for the given encoding and capacity (spec §3
// ChannelState, §4.1 Sketch sizing).
func New(encoding Encoding, maxMemory int, opts ...Option) (*State, error) {
	if encoding == EncodingTuple {
		return nil, ErrTupleUnsupported
	}
	s := &State{
		encoding:  encoding,
		maxMemory: maxMemory,
		history:   history.New(),
		now:       func() uint64 { return uint64(time.Now().UnixNano()) },
	}
	if encoding == EncodingSketch {
		s.sketch = sketch.New(maxMemory)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func sketchKey(ts wire.Timestamp) uint64 { return uint64(ts) }

func (s *State) insert(ts wire.Timestamp) {
	if s.sketch != nil {
		s.sketch.Insert(sketchKey(ts), sketch.PseudoRandomValue(sketchKey(ts)))
	}
}

func (s *State) remove(ts wire.Timestamp) {
	if s.sketch != nil {
		s.sketch.Erase(sketchKey(ts), sketch.PseudoRandomValue(sketchKey(ts)))
	}
}

// Publish mints a new timestamp from the monotonic clock, appends to
// History, and inserts the key into the Sketch (spec §4.3 publish). A
// timestamp that is already present has its History entry overwritten
// and stays in the Sketch exactly once.
func (s *State) Publish(events []wire.Name) wire.Timestamp {
	ts := wire.Timestamp(s.now())
	existed := s.history.Has(ts)
	s.history.Append(ts, events)
	if !existed {
		s.insert(ts)
	}
	return ts
}

// AddRemote reconciles a peer's entry in, with a caller-supplied
// timestamp. Idempotent on re-delivery: re-adding the same (ts, events)
// pair leaves the History and Sketch in the same state (spec §4.3
// add_remote).
func (s *State) AddRemote(ts wire.Timestamp, events []wire.Name) {
	if s.history.Has(ts) {
		return
	}
	s.history.Append(ts, events)
	s.insert(ts)
}

// Erase removes ts from both History and Sketch (spec §4.3 erase).
func (s *State) Erase(ts wire.Timestamp) {
	if !s.history.Has(ts) {
		return
	}
	s.history.Erase(ts)
	s.remove(ts)
}

// Cleanup prunes expired entries from both History and Sketch,
// preserving the lock-step invariant of spec §3/§8 (property 2).
func (s *State) Cleanup(freshnessNs uint64) {
	removed := s.history.Cleanup(s.now(), freshnessNs)
	for _, ts := range removed {
		s.remove(ts)
	}
}

// IsExpired reports whether ts is older than freshnessNs as of nowNs
// (spec §4.3 freshness semantics).
func IsExpired(nowNs uint64, ts wire.Timestamp, freshnessNs uint64) bool {
	return nowNs-uint64(ts) > freshnessNs
}

// Get returns the event list recorded at ts.
func (s *State) Get(ts wire.Timestamp) []wire.Name { return s.history.Get(ts) }

// Encoding reports the selected wire encoding.
func (s *State) Encoding() Encoding { return s.encoding }

// ExportState encodes the current Sketch (or List) via the wire codec
// and bzip2-compresses it (spec §4.3 export_state, §6.4).
func (s *State) ExportState() []byte {
	var raw []byte
	switch s.encoding {
	case EncodingSketch:
		raw = s.sketch.Encode()
	case EncodingList:
		raw = wire.EncodeListTable(s.history.Keys())
	}
	compressed, err := wire.Compress(raw)
	if err != nil {
		// Compression of our own well-formed state never fails in
		// practice; surface a zero-length state rather than panic so a
		// single bad round degrades gracefully (spec §7 total-operation
		// policy).
		return nil
	}
	return compressed
}

// DiffResult holds the symmetric difference of two states' key-sets.
type DiffResult struct {
	OnlyLocal  []wire.Timestamp
	OnlyRemote []wire.Timestamp
}

// Diff decodes and decompresses the peer's exported state and computes
// the symmetric difference against the local state (spec §4.3 diff).
// For the sketch encoding, an unresolved subtraction reports
// ErrUnresolved.
func (s *State) Diff(remoteStateBytes []byte) (DiffResult, error) {
	raw, err := wire.Decompress(remoteStateBytes)
	if err != nil {
		return DiffResult{}, err
	}

	switch s.encoding {
	case EncodingSketch:
		peer, err := s.sketch.Decode(raw)
		if err != nil {
			return DiffResult{}, err
		}
		diff, err := s.sketch.Subtract(peer)
		if err != nil {
			return DiffResult{}, fmt.Errorf("state: subtract: %w", err)
		}
		positive, negative, resolved := diff.List()
		if !resolved {
			return DiffResult{}, ErrUnresolved
		}
		return DiffResult{OnlyLocal: keysOf(positive), OnlyRemote: keysOf(negative)}, nil

	case EncodingList:
		peerTS, err := wire.DecodeListTable(raw)
		if err != nil {
			return DiffResult{}, err
		}
		peerSet := make(map[wire.Timestamp]bool, len(peerTS))
		for _, ts := range peerTS {
			peerSet[ts] = true
		}
		localSet := make(map[wire.Timestamp]bool)
		var onlyLocal []wire.Timestamp
		for _, ts := range s.history.Keys() {
			localSet[ts] = true
			if !peerSet[ts] {
				onlyLocal = append(onlyLocal, ts)
			}
		}
		var onlyRemote []wire.Timestamp
		for _, ts := range peerTS {
			if !localSet[ts] {
				onlyRemote = append(onlyRemote, ts)
			}
		}
		return DiffResult{OnlyLocal: onlyLocal, OnlyRemote: onlyRemote}, nil

	default:
		return DiffResult{}, ErrTupleUnsupported
	}
}

func keysOf(entries []sketch.Entry) []wire.Timestamp {
	out := make([]wire.Timestamp, len(entries))
	for i, e := range entries {
		out[i] = wire.Timestamp(e.Key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reconcile computes (only_local, only_remote) against the peer's
// exported state, and for every entry only the peer has that is not
// expired, adds it locally from remoteData (spec §4.3 reconcile). It
// reports true if any entry was added, or if the states were already
// equal.
func (s *State) Reconcile(remoteStateBytes []byte, remoteData map[wire.Timestamp][]wire.Name, nowNs, freshnessNs uint64) (bool, error) {
	diff, err := s.Diff(remoteStateBytes)
	if err != nil {
		return false, err
	}
	if len(diff.OnlyLocal) == 0 && len(diff.OnlyRemote) == 0 {
		return true, nil
	}
	progressed := false
	for _, ts := range diff.OnlyRemote {
		if IsExpired(nowNs, ts, freshnessNs) {
			continue
		}
		s.AddRemote(ts, remoteData[ts])
		progressed = true
	}
	return progressed, nil
}

// DumpItems renders a short debug dump of the live history keys, in the
// spirit of the original source's dumpItems helper (see SPEC_FULL.md §4
// supplemented features).
func (s *State) DumpItems() string {
	out := "state{"
	for i, ts := range s.history.Keys() {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%d", ts)
	}
	return out + "}"
}
