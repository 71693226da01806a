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

package pending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wuarl/ndnsync/wire"
)

func TestInsertReplaceCancelsPriorExpiry(t *testing.T) {
	tbl := New()
	name := wire.ParseName("/s/req/1")

	var expired int
	tbl.Insert(name, []byte("a"), 20*time.Millisecond, func(wire.Name) { expired++ })
	tbl.Insert(name, []byte("b"), time.Hour, func(wire.Name) { expired++ })

	require.Equal(t, 1, tbl.Len())
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, expired)
	require.True(t, tbl.Has(name))
}

func TestExpiryFiresOnce(t *testing.T) {
	tbl := New()
	name := wire.ParseName("/s/req/2")

	done := make(chan struct{})
	tbl.Insert(name, nil, 10*time.Millisecond, func(wire.Name) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expiry callback never fired")
	}
	require.False(t, tbl.Has(name))
}

func TestEraseRemovesEntry(t *testing.T) {
	tbl := New()
	name := wire.ParseName("/s/req/3")
	tbl.Insert(name, nil, time.Hour, nil)
	require.True(t, tbl.Has(name))
	tbl.Erase(name)
	require.False(t, tbl.Has(name))
	require.Equal(t, 0, tbl.Len())
}

func TestClearCancelsAllTimers(t *testing.T) {
	tbl := New()
	var expired int
	for i := 0; i < 3; i++ {
		tbl.Insert(wire.ParseName("/s/req/"+string(rune('a'+i))), nil, 20*time.Millisecond, func(wire.Name) { expired++ })
	}
	tbl.Clear()
	require.Equal(t, 0, tbl.Len())
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, expired)
}

func TestUniquePerName(t *testing.T) {
	tbl := New()
	tbl.Insert(wire.ParseName("/a"), nil, time.Hour, nil)
	tbl.Insert(wire.ParseName("/b"), nil, time.Hour, nil)
	tbl.Insert(wire.ParseName("/a"), nil, time.Hour, nil)
	require.Equal(t, 2, tbl.Len())
}
