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

// Package sketch implements the invertible Bloom filter (IBF) used to
// summarize a channel's timestamp key-set (spec §4.1). It is based on
// the Eppstein/Goodrich/Uyeda/Varghese set-reconciliation construction,
// the same reference the original source cites in ibft.hpp.
package sketch

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"

	"github.com/wuarl/ndnsync/wire"
)

const (
	// HashCount is the number of independent hash functions, fixed by
	// spec §3/§4.1.
	HashCount = 4
	// CheckSeed seeds the MurmurHash3 purity check.
	CheckSeed uint32 = 11
	// ValueBytes is the width of the pseudo-random per-key value.
	ValueBytes = 4
)

// ErrParamMismatch is returned by Subtract when the two sketches were
// not built with identical parameters (spec §4.1 "Requires identical
// parameters").
var ErrParamMismatch = fmt.Errorf("sketch: parameter mismatch")

// ErrUnresolved signals that a List peel left non-empty cells behind
// (spec §4.1, §7 SketchUnresolved). List itself reports this through its
// resolved flag and Get through Unknown; state.Diff turns it into this
// error. It is never fatal: the caller falls back to the strategy
// described in spec §7/§9.
var ErrUnresolved = fmt.Errorf("sketch: unresolved")

// cell is one IBF bucket (spec §3 Sketch: "a vector of cells").
type cell struct {
	count    int32
	keySum   uint64
	keyCheck uint32
	valueSum []byte
}

func (c cell) isEmpty() bool {
	return c.count == 0 && c.keySum == 0 && c.keyCheck == 0
}

func (c cell) isPure() bool {
	if c.count != 1 && c.count != -1 {
		return false
	}
	return c.keyCheck == checkHash(c.keySum)
}

// Sketch is a fixed-capacity invertible filter over 64-bit keys (spec
// §3 Sketch, §4.1).
type Sketch struct {
	cellsPerHash int
	cells        []cell
}

// CellsFor returns ceil(maxMemory*1.5) rounded up to a multiple of
// HashCount, the derived cell count of spec §3.
func CellsFor(maxMemory int) int {
	raw := (maxMemory*3 + 1) / 2 // ceil(maxMemory * 1.5)
	if rem := raw % HashCount; rem != 0 {
		raw += HashCount - rem
	}
	return raw
}

// New creates an empty sketch sized for maxMemory keys.
func New(maxMemory int) *Sketch {
	total := CellsFor(maxMemory)
	return &Sketch{
		cellsPerHash: total / HashCount,
		cells:        make([]cell, total),
	}
}

// Cells reports the total cell count (for tests and diagnostics).
func (s *Sketch) Cells() int { return len(s.cells) }

// SameParams reports whether s and o were built with the same capacity,
// the precondition for Subtract (spec §4.1).
func (s *Sketch) SameParams(o *Sketch) bool {
	return s.cellsPerHash == o.cellsPerHash && len(s.cells) == len(o.cells)
}

// Clone returns a deep copy, used by Get and List's destructive peel so
// the original sketch is never mutated (spec §4.1 "attempts a
// destructive peel of a clone").
func (s *Sketch) Clone() *Sketch {
	out := &Sketch{cellsPerHash: s.cellsPerHash, cells: make([]cell, len(s.cells))}
	for i, c := range s.cells {
		out.cells[i] = cell{count: c.count, keySum: c.keySum, keyCheck: c.keyCheck, valueSum: append([]byte(nil), c.valueSum...)}
	}
	return out
}

func keyBytes(key uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], key)
	return b[:]
}

// checkHash is MurmurHash3(check_seed, key_sum_bytes) of spec §3/§4.1.
func checkHash(keySum uint64) uint32 {
	return murmur3.Sum32WithSeed(keyBytes(keySum), CheckSeed)
}

// hashIndex locates the cell for hash function i (seeded by i itself,
// per spec §4.1: "for each of the hash_count hash functions h_i (seed
// i)").
func (s *Sketch) hashIndex(i int, key uint64) int {
	h := murmur3.Sum32WithSeed(keyBytes(key), uint32(i))
	return i*s.cellsPerHash + int(h)%s.cellsPerHash
}

// PseudoRandomValue derives the deterministic ValueBytes-wide value a
// timestamp key carries in the sketch (spec §4.1: "a deterministic
// 8-byte sequence derived by seeded hashing the key"; we use the
// configured ValueBytes width, 4 by default per spec §3).
func PseudoRandomValue(key uint64) []byte {
	digest := xxhash.Sum64(keyBytes(key))
	var full [8]byte
	binary.BigEndian.PutUint64(full[:], digest)
	return append([]byte(nil), full[:ValueBytes]...)
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

// mutate is the shared private primitive behind Insert/Erase (spec
// §4.1: "implemented as a shared private _mutate(±1, key, value)").
func (s *Sketch) mutate(sign int32, key uint64, value []byte) {
	check := checkHash(key)
	for i := 0; i < HashCount; i++ {
		idx := s.hashIndex(i, key)
		c := &s.cells[idx]
		c.count += sign
		c.keySum ^= key
		c.keyCheck ^= check
		if c.valueSum == nil {
			c.valueSum = make([]byte, ValueBytes)
		}
		xorInto(c.valueSum, value)
		if c.count == 0 {
			c.valueSum = nil
		}
	}
}

// Insert adds key/value to the filter.
func (s *Sketch) Insert(key uint64, value []byte) { s.mutate(1, key, value) }

// Erase removes key/value from the filter; symmetric with Insert.
func (s *Sketch) Erase(key uint64, value []byte) { s.mutate(-1, key, value) }

// LookupResult is the three-valued outcome of Get (spec §4.1).
type LookupResult int

const (
	// Absent means at least one probed cell was empty: the key is
	// definitely not in the set.
	Absent LookupResult = iota
	// Present means the value was recovered, either directly from a
	// pure cell or via peeling.
	Present
	// Unknown means neither a direct decode nor peeling could make
	// progress.
	Unknown
)

// Get probes the filter for key (spec §4.1 get).
func (s *Sketch) Get(key uint64) ([]byte, LookupResult) {
	for i := 0; i < HashCount; i++ {
		if s.cells[s.hashIndex(i, key)].isEmpty() {
			return nil, Absent
		}
	}
	for i := 0; i < HashCount; i++ {
		c := s.cells[s.hashIndex(i, key)]
		if c.isPure() && c.keySum == key {
			return append([]byte(nil), c.valueSum...), Present
		}
	}

	clone := s.Clone()
	for {
		idx, ok := clone.findPureCell()
		if !ok {
			return nil, Unknown
		}
		c := clone.cells[idx]
		if c.keySum == key {
			return append([]byte(nil), c.valueSum...), Present
		}
		clone.mutate(-c.count, c.keySum, c.valueSum)
	}
}

// findPureCell returns the index of an arbitrary pure, non-empty cell.
func (s *Sketch) findPureCell() (int, bool) {
	for i, c := range s.cells {
		if !c.isEmpty() && c.isPure() {
			return i, true
		}
	}
	return 0, false
}

// Entry is one decoded (key, value) pair from List.
type Entry struct {
	Key   uint64
	Value []byte
}

// List performs the peel fixed-point of spec §4.1 list_entries: while a
// pass finds pure cells, classify each into positive (count=+1) or
// negative (count=-1) and erase it. Resolved iff every cell empties.
func (s *Sketch) List() (positive, negative []Entry, resolved bool) {
	clone := s.Clone()
	for {
		idx, ok := clone.findPureCell()
		if !ok {
			break
		}
		c := clone.cells[idx]
		entry := Entry{Key: c.keySum, Value: append([]byte(nil), c.valueSum...)}
		if c.count == 1 {
			positive = append(positive, entry)
		} else {
			negative = append(negative, entry)
		}
		clone.mutate(-c.count, c.keySum, c.valueSum)
	}
	for _, c := range clone.cells {
		if !c.isEmpty() {
			return positive, negative, false
		}
	}
	return positive, negative, true
}

// Subtract returns a new sketch holding the cell-wise difference s - o
// (spec §4.1 subtract).
func (s *Sketch) Subtract(o *Sketch) (*Sketch, error) {
	if !s.SameParams(o) {
		return nil, ErrParamMismatch
	}
	out := s.Clone()
	for i := range out.cells {
		a := &out.cells[i]
		b := o.cells[i]
		a.count -= b.count
		a.keySum ^= b.keySum
		a.keyCheck ^= b.keyCheck
		if a.valueSum == nil {
			a.valueSum = make([]byte, ValueBytes)
		}
		xorInto(a.valueSum, b.valueSum)
		if a.count == 0 && a.keySum == 0 && a.keyCheck == 0 {
			a.valueSum = nil
		}
	}
	return out, nil
}

// Encode produces the IBFTable wire form of spec §6.4: only non-empty
// cells are emitted, tagged with their index.
func (s *Sketch) Encode() []byte {
	var entries []wire.IBFCellEntry
	for i, c := range s.cells {
		if c.isEmpty() {
			continue
		}
		entries = append(entries, wire.IBFCellEntry{
			Index:    uint32(i),
			Count:    c.count,
			KeySum:   c.keySum,
			KeyCheck: c.keyCheck,
			ValueSum: append([]byte(nil), c.valueSum...),
		})
	}
	return wire.EncodeIBFTable(entries)
}

// Decode populates a sketch with parameters matching s's from the
// IBFTable wire form, placing each entry at its recorded index (spec
// §4.1: "Decoding into a sketch of known parameters places each entry
// at its index").
func (s *Sketch) Decode(buf []byte) (*Sketch, error) {
	entries, err := wire.DecodeIBFTable(buf)
	if err != nil {
		return nil, err
	}
	out := New(0)
	out.cellsPerHash = s.cellsPerHash
	out.cells = make([]cell, len(s.cells))
	for _, e := range entries {
		if int(e.Index) >= len(out.cells) {
			return nil, fmt.Errorf("%w: index %d out of range for %d cells", wire.ErrDecodeFailed, e.Index, len(out.cells))
		}
		out.cells[e.Index] = cell{count: e.Count, keySum: e.KeySum, keyCheck: e.KeyCheck, valueSum: e.ValueSum}
	}
	return out, nil
}

// String renders a short debug dump of non-empty cells, in the spirit
// of the original source's DumpTable helper.
func (s *Sketch) String() string {
	out := "sketch{"
	first := true
	for i, c := range s.cells {
		if c.isEmpty() {
			continue
		}
		if !first {
			out += ", "
		}
		first = false
		out += fmt.Sprintf("[%d]count=%d,key=%d", i, c.count, c.keySum)
	}
	return out + "}"
}
