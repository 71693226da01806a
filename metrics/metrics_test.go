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

package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryCounters(t *testing.T) {
	r := New("/s")
	r.RequestSent()
	r.RequestSent()
	r.ReplyReceived()
	r.DecodeError()
	r.Unresolved()
	r.EventDelivered()
	r.ItemsPushed(3)

	snap := r.Snapshot()
	require.Equal(t, int64(2), snap["/s.requests_sent"])
	require.Equal(t, int64(1), snap["/s.replies_received"])
	require.Equal(t, int64(1), snap["/s.decode_errors"])
	require.Equal(t, int64(1), snap["/s.unresolved_diffs"])
	require.Equal(t, int64(1), snap["/s.events_delivered"])
	require.Equal(t, int64(3), snap["/s.items_pushed_total"])
}

func TestTwoRegistriesAreIndependent(t *testing.T) {
	a := New("/a")
	b := New("/b")
	a.RequestSent()
	require.Equal(t, int64(1), a.Snapshot()["/a.requests_sent"])
	require.Equal(t, int64(0), b.Snapshot()["/b.requests_sent"])
}
