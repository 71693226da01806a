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

package sketch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCellsFor(t *testing.T) {
	require.Equal(t, 24, CellsFor(16))
	require.Equal(t, 8, CellsFor(5))
	require.Equal(t, 8, CellsFor(4))
}

func TestInsertGet(t *testing.T) {
	s := New(16)
	keys := []uint64{1, 2, 3, 100, 9999}
	for _, k := range keys {
		s.Insert(k, PseudoRandomValue(k))
	}
	for _, k := range keys {
		v, res := s.Get(k)
		require.Equal(t, Present, res)
		require.Equal(t, PseudoRandomValue(k), v)
	}
	_, res := s.Get(424242)
	require.Equal(t, Absent, res)
}

func TestInsertEraseReturnsEmpty(t *testing.T) {
	s := New(16)
	s.Insert(7, PseudoRandomValue(7))
	s.Erase(7, PseudoRandomValue(7))
	for _, c := range s.cells {
		require.True(t, c.isEmpty())
		require.Empty(t, c.valueSum)
	}
}

func TestListEntriesResolved(t *testing.T) {
	s := New(16)
	keys := []uint64{1, 2, 3, 4, 5}
	for _, k := range keys {
		s.Insert(k, PseudoRandomValue(k))
	}
	positive, negative, resolved := s.List()
	require.True(t, resolved)
	require.Empty(t, negative)
	require.Len(t, positive, len(keys))
	got := map[uint64]bool{}
	for _, e := range positive {
		got[e.Key] = true
	}
	for _, k := range keys {
		require.True(t, got[k])
	}
}

func TestSubtractListEntries(t *testing.T) {
	a := New(16)
	b := New(16)
	for _, k := range []uint64{1, 2, 3} {
		a.Insert(k, PseudoRandomValue(k))
	}
	for _, k := range []uint64{2, 3, 4} {
		b.Insert(k, PseudoRandomValue(k))
	}
	diff, err := a.Subtract(b)
	require.NoError(t, err)

	positive, negative, resolved := diff.List()
	require.True(t, resolved)

	onlyA := map[uint64]bool{}
	for _, e := range positive {
		onlyA[e.Key] = true
	}
	onlyB := map[uint64]bool{}
	for _, e := range negative {
		onlyB[e.Key] = true
	}
	require.Equal(t, map[uint64]bool{1: true}, onlyA)
	require.Equal(t, map[uint64]bool{4: true}, onlyB)
}

func TestSubtractParamMismatch(t *testing.T) {
	a := New(16)
	b := New(4)
	_, err := a.Subtract(b)
	require.ErrorIs(t, err, ErrParamMismatch)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := New(16)
	for _, k := range []uint64{1, 2, 3, 4} {
		s.Insert(k, PseudoRandomValue(k))
	}
	enc := s.Encode()
	dec, err := s.Decode(enc)
	require.NoError(t, err)
	require.Equal(t, s.cells, dec.cells)
}

func TestOverloadUnresolved(t *testing.T) {
	s := New(4) // 8 cells, far below the key count below
	for k := uint64(0); k < 200; k++ {
		s.Insert(k, PseudoRandomValue(k))
	}
	_, _, resolved := s.List()
	require.False(t, resolved)
}

func TestEmptyCellAfterSubtractHasNoValueSum(t *testing.T) {
	a := New(16)
	a.Insert(1, PseudoRandomValue(1))
	diff, err := a.Subtract(a)
	require.NoError(t, err)
	for _, c := range diff.cells {
		require.Equal(t, int32(0), c.count)
		require.Empty(t, c.valueSum)
	}
}
