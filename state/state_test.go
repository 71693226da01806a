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

package state

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wuarl/ndnsync/sketch"
	"github.com/wuarl/ndnsync/wire"
)

func clockFrom(base uint64) func() uint64 {
	counter := base
	return func() uint64 { return atomic.AddUint64(&counter, 1) }
}

func TestNewRejectsTupleEncoding(t *testing.T) {
	_, err := New(EncodingTuple, 16)
	require.ErrorIs(t, err, ErrTupleUnsupported)
}

func TestPublishStoresEventsUnderMintedTimestamp(t *testing.T) {
	s, err := New(EncodingSketch, 16, WithClock(clockFrom(0)))
	require.NoError(t, err)

	events := []wire.Name{wire.ParseName("/e/a1")}
	ts := s.Publish(events)
	require.Equal(t, events, s.Get(ts))
}

func TestAddRemoteIsIdempotentOnReDelivery(t *testing.T) {
	s, err := New(EncodingSketch, 16, WithClock(clockFrom(0)))
	require.NoError(t, err)

	ts := wire.Timestamp(42)
	events := []wire.Name{wire.ParseName("/e/a1")}

	s.AddRemote(ts, events)
	firstExport := s.ExportState()

	// Re-delivering the same (ts, events) pair must not insert a
	// second time: history.Has(ts) guards the insert, so the sketch's
	// cell counts are unaffected (spec §4.3 add_remote idempotence).
	s.AddRemote(ts, events)
	require.Equal(t, firstExport, s.ExportState())
}

func TestEraseRemovesFromHistoryAndSketch(t *testing.T) {
	s, err := New(EncodingSketch, 16, WithClock(clockFrom(0)))
	require.NoError(t, err)

	ts := s.Publish([]wire.Name{wire.ParseName("/e/a1")})
	require.True(t, s.history.Has(ts))
	_, res := s.sketch.Get(sketchKey(ts))
	require.Equal(t, sketch.Present, res)

	s.Erase(ts)
	require.False(t, s.history.Has(ts))
	_, res = s.sketch.Get(sketchKey(ts))
	require.Equal(t, sketch.Absent, res)
}

// TestCleanupKeepsHistoryAndSketchInLockStep exercises spec §8
// invariant 2: after Cleanup, every timestamp History dropped is also
// gone from the Sketch, and every timestamp History kept is still
// recoverable from the Sketch.
func TestCleanupKeepsHistoryAndSketchInLockStep(t *testing.T) {
	clock := clockFrom(1000)
	s, err := New(EncodingSketch, 16, WithClock(clock))
	require.NoError(t, err)

	var all []wire.Timestamp
	for i := 0; i < 5; i++ {
		ts := s.Publish([]wire.Name{wire.ParseName("/e/x")})
		all = append(all, ts)
	}
	// clock started at 1000 and advances by exactly one per call:
	// the five Publish calls above mint 1001..1005, and Cleanup's own
	// now() call below lands on 1006. With freshnessNs=2, entries with
	// age > 2 (ts <= 1003) expire; 1004 and 1005 survive.
	s.Cleanup(2)

	wantExpired := all[:3]
	wantLive := all[3:]

	require.Equal(t, wantLive, s.history.Keys())
	for _, ts := range wantExpired {
		require.False(t, s.history.Has(ts))
		_, res := s.sketch.Get(sketchKey(ts))
		require.Equal(t, sketch.Absent, res)
	}
	for _, ts := range wantLive {
		require.True(t, s.history.Has(ts))
		_, res := s.sketch.Get(sketchKey(ts))
		require.Equal(t, sketch.Present, res)
	}
}

// TestDiffSketchMatchesKeySetDifference exercises spec §8 invariant 3:
// subtracting two sketches reports exactly the symmetric difference of
// the underlying key-sets.
func TestDiffSketchMatchesKeySetDifference(t *testing.T) {
	sA, err := New(EncodingSketch, 16, WithClock(clockFrom(0)))
	require.NoError(t, err)
	sB, err := New(EncodingSketch, 16, WithClock(clockFrom(1_000_000)))
	require.NoError(t, err)

	tsA1 := sA.Publish([]wire.Name{wire.ParseName("/e/a1")})
	tsA2 := sA.Publish([]wire.Name{wire.ParseName("/e/a2")})
	tsB1 := sB.Publish([]wire.Name{wire.ParseName("/e/b1")})

	// sB already independently learned tsA1, so the difference isn't
	// simply "everything either side has".
	sB.AddRemote(tsA1, sA.Get(tsA1))

	diff, err := sA.Diff(sB.ExportState())
	require.NoError(t, err)
	require.ElementsMatch(t, []wire.Timestamp{tsA2}, diff.OnlyLocal)
	require.ElementsMatch(t, []wire.Timestamp{tsB1}, diff.OnlyRemote)
}

// TestDiffListMatchesKeySetDifference is the List-encoding counterpart
// of TestDiffSketchMatchesKeySetDifference.
func TestDiffListMatchesKeySetDifference(t *testing.T) {
	sA, err := New(EncodingList, 16, WithClock(clockFrom(0)))
	require.NoError(t, err)
	sB, err := New(EncodingList, 16, WithClock(clockFrom(1_000_000)))
	require.NoError(t, err)

	tsA1 := sA.Publish([]wire.Name{wire.ParseName("/e/a1")})
	tsA2 := sA.Publish([]wire.Name{wire.ParseName("/e/a2")})
	tsB1 := sB.Publish([]wire.Name{wire.ParseName("/e/b1")})

	sB.AddRemote(tsA1, sA.Get(tsA1))

	diff, err := sA.Diff(sB.ExportState())
	require.NoError(t, err)
	require.ElementsMatch(t, []wire.Timestamp{tsA2}, diff.OnlyLocal)
	require.ElementsMatch(t, []wire.Timestamp{tsB1}, diff.OnlyRemote)
}

// TestReconcileResultsInEmptyOnlyRemoteDiff exercises spec §8
// invariant 4: after Reconcile, a subsequent Diff against the same
// peer state no longer reports anything only the peer has.
func TestReconcileResultsInEmptyOnlyRemoteDiff(t *testing.T) {
	sA, err := New(EncodingSketch, 16, WithClock(clockFrom(0)))
	require.NoError(t, err)
	sB, err := New(EncodingSketch, 16, WithClock(clockFrom(1_000_000)))
	require.NoError(t, err)

	ts := sA.Publish([]wire.Name{wire.ParseName("/e/a1")})
	remoteData := map[wire.Timestamp][]wire.Name{ts: sA.Get(ts)}
	remoteState := sA.ExportState()

	progressed, err := sB.Reconcile(remoteState, remoteData, 2, 1000)
	require.NoError(t, err)
	require.True(t, progressed)

	diff, err := sB.Diff(remoteState)
	require.NoError(t, err)
	require.Empty(t, diff.OnlyRemote)
}

// TestReconcileIdempotent is the idempotence law of spec §8:
// reconcile(r); reconcile(r) must leave the same state as a single
// reconcile(r).
func TestReconcileIdempotent(t *testing.T) {
	sA, err := New(EncodingSketch, 16, WithClock(clockFrom(0)))
	require.NoError(t, err)
	sB, err := New(EncodingSketch, 16, WithClock(clockFrom(1_000_000)))
	require.NoError(t, err)

	ts := sA.Publish([]wire.Name{wire.ParseName("/e/a1")})
	remoteData := map[wire.Timestamp][]wire.Name{ts: sA.Get(ts)}
	remoteState := sA.ExportState()

	_, err = sB.Reconcile(remoteState, remoteData, 2, 1000)
	require.NoError(t, err)
	firstExport := sB.ExportState()

	progressed, err := sB.Reconcile(remoteState, remoteData, 2, 1000)
	require.NoError(t, err)
	require.True(t, progressed)
	require.Equal(t, firstExport, sB.ExportState())
}

// TestReconcileSkipsExpiredRemoteEntries checks that Reconcile never
// resurrects a remote entry already past memory_freshness.
func TestReconcileSkipsExpiredRemoteEntries(t *testing.T) {
	sA, err := New(EncodingSketch, 16, WithClock(clockFrom(0)))
	require.NoError(t, err)
	sB, err := New(EncodingSketch, 16, WithClock(clockFrom(1_000_000)))
	require.NoError(t, err)

	ts := sA.Publish([]wire.Name{wire.ParseName("/e/a1")})
	remoteData := map[wire.Timestamp][]wire.Name{ts: sA.Get(ts)}
	remoteState := sA.ExportState()

	// nowNs far past ts, freshnessNs tiny: the entry is expired on
	// arrival and must not be added.
	_, err = sB.Reconcile(remoteState, remoteData, uint64(ts)+1000, 1)
	require.NoError(t, err)
	require.False(t, sB.history.Has(ts))
}

func TestDecodeErrorPropagatesFromDiff(t *testing.T) {
	s, err := New(EncodingSketch, 16, WithClock(clockFrom(0)))
	require.NoError(t, err)

	_, err = s.Diff([]byte("not a valid bzip2 stream"))
	require.Error(t, err)
}
