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

package wire

import (
	"fmt"
	"sort"
)

// IBFCellEntry is the wire-level view of one non-empty invertible
// filter cell (§6.3 tags 138-142, §6.4 IBFTable/IBFEntry). The sketch
// package owns the actual cell arithmetic; this type exists so the
// wire codec has no dependency on it.
type IBFCellEntry struct {
	Index     uint32
	Count     int32
	KeySum    uint64
	KeyCheck  uint32
	ValueSum  []byte
}

// EncodeIBFTable encodes only the supplied (non-empty) cells, per §4.1
// "only non-empty cells are emitted, each tagged with its cell index".
func EncodeIBFTable(entries []IBFCellEntry) []byte {
	children := make([][]byte, 0, len(entries))
	for _, e := range entries {
		countStr := fmt.Sprintf("%d", e.Count) // original source encodes count as a string field
		fields := [][]byte{
			EncodeUint(TagIBFIndex, uint64(e.Index)),
			EncodeBlock2(TagIBFCount, []byte(countStr)),
			EncodeUint(TagIBFKeySum, e.KeySum),
			EncodeUint(TagIBFKeyCheck, uint64(e.KeyCheck)),
			EncodeBlock2(TagIBFValueSum, e.ValueSum),
		}
		children = append(children, EncodeNested(TagIBFEntry, fields...))
	}
	return EncodeNested(TagIBFTable, children...)
}

// DecodeIBFTable decodes the cell entries produced by EncodeIBFTable.
func DecodeIBFTable(buf []byte) ([]IBFCellEntry, error) {
	top, err := ParseOne(buf)
	if err != nil {
		return nil, err
	}
	if top.Type != TagIBFTable {
		return nil, fmt.Errorf("%w: expected IBFTable tag %d, got %d", ErrDecodeFailed, TagIBFTable, top.Type)
	}
	children, err := ParseAll(top.Value)
	if err != nil {
		return nil, err
	}
	entries := make([]IBFCellEntry, 0, len(children))
	for _, c := range children {
		if c.Type != TagIBFEntry {
			continue
		}
		fields, err := ParseAll(c.Value)
		if err != nil {
			return nil, err
		}
		var e IBFCellEntry
		for _, f := range fields {
			switch f.Type {
			case TagIBFIndex:
				e.Index = uint32(DecodeUint(f.Value))
			case TagIBFCount:
				var n int64
				if _, err := fmt.Sscanf(string(f.Value), "%d", &n); err != nil {
					return nil, fmt.Errorf("%w: bad IBF count field: %v", ErrDecodeFailed, err)
				}
				e.Count = int32(n)
			case TagIBFKeySum:
				e.KeySum = DecodeUint(f.Value)
			case TagIBFKeyCheck:
				e.KeyCheck = uint32(DecodeUint(f.Value))
			case TagIBFValueSum:
				e.ValueSum = append([]byte(nil), f.Value...)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// EncodeListTable encodes the ListState alternative encoding (§3
// ListState, §6.4): a plain ordered set of timestamps.
func EncodeListTable(timestamps []Timestamp) []byte {
	sorted := append([]Timestamp(nil), timestamps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	children := make([][]byte, len(sorted))
	for i, ts := range sorted {
		children[i] = EncodeUint(TagListEntry, uint64(ts))
	}
	return EncodeNested(TagListTable, children...)
}

// DecodeListTable decodes the set produced by EncodeListTable.
func DecodeListTable(buf []byte) ([]Timestamp, error) {
	top, err := ParseOne(buf)
	if err != nil {
		return nil, err
	}
	if top.Type != TagListTable {
		return nil, fmt.Errorf("%w: expected ListTable tag %d, got %d", ErrDecodeFailed, TagListTable, top.Type)
	}
	children, err := ParseAll(top.Value)
	if err != nil {
		return nil, err
	}
	out := make([]Timestamp, 0, len(children))
	for _, c := range children {
		if c.Type != TagListEntry {
			continue
		}
		out = append(out, Timestamp(DecodeUint(c.Value)))
	}
	return out, nil
}
