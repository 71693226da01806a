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

package channel

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wuarl/ndnsync/state"
	"github.com/wuarl/ndnsync/transport"
	"github.com/wuarl/ndnsync/wire"
)

func clockFrom(base uint64) func() uint64 {
	counter := base
	return func() uint64 { return atomic.AddUint64(&counter, 1) }
}

func TestValidateRejectsNeitherRole(t *testing.T) {
	_, err := New(Config{Name: wire.ParseName("/s"), MaxMemory: 16, Encoding: state.EncodingSketch}, nil, nil, nil)
	require.ErrorIs(t, err, ErrInvalidChannel)
}

func TestValidateRejectsZeroMaxMemory(t *testing.T) {
	_, err := New(Config{Name: wire.ParseName("/s"), IsProducer: true, Encoding: state.EncodingSketch}, nil, nil, nil)
	require.ErrorIs(t, err, ErrInvalidChannel)
}

func TestValidateRejectsListenerWithoutFilters(t *testing.T) {
	_, err := New(Config{Name: wire.ParseName("/s"), IsListener: true, MaxMemory: 16, Encoding: state.EncodingSketch}, nil, nil, nil)
	require.ErrorIs(t, err, ErrInvalidChannel)
}

func TestChannelEndToEndConvergence(t *testing.T) {
	net := transport.NewNetwork(nil)
	trA := transport.NewMock(net, "A")
	trB := transport.NewMock(net, "B")

	var mu sync.Mutex
	var delivered []wire.Name

	producer, err := New(Config{
		Name:             wire.ParseName("/s"),
		IsProducer:       true,
		MaxMemory:        16,
		MemoryFreshness:  10 * time.Second,
		InterestLifetime: 150 * time.Millisecond,
		ReplyFreshness:   4 * time.Millisecond,
		Encoding:         state.EncodingSketch,
		Now:              clockFrom(0),
	}, trA, nil, nil)
	require.NoError(t, err)

	listener, err := New(Config{
		Name:             wire.ParseName("/s"),
		IsListener:       true,
		MaxMemory:        16,
		MemoryFreshness:  10 * time.Second,
		InterestLifetime: 150 * time.Millisecond,
		ReplyFreshness:   4 * time.Millisecond,
		Encoding:         state.EncodingSketch,
		Filters:          []Filter{NewPrefixFilter(wire.ParseName("/s/e"))},
		Now:              clockFrom(1_000_000),
	}, trB, func(ts wire.Timestamp, name wire.Name) {
		mu.Lock()
		delivered = append(delivered, name)
		mu.Unlock()
	}, nil)
	require.NoError(t, err)

	require.NoError(t, producer.Init())
	producer.Publish([]wire.Name{wire.ParseName("/s/e/a/1")})
	require.NoError(t, listener.Init())
	defer producer.Shutdown()
	defer listener.Shutdown()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 1
	}, time.Second, 5*time.Millisecond)
}

// settableClock is a fake monotonic clock a test can jump forward
// under its own control, used to simulate elapsed wall time for
// freshness-driven eviction without an actual sleep.
type settableClock struct{ v uint64 }

func (c *settableClock) now() uint64  { return atomic.LoadUint64(&c.v) }
func (c *settableClock) set(v uint64) { atomic.StoreUint64(&c.v, v) }

// TestChannelFreshnessExpiryNeverDelivers exercises spec §8 scenario 3
// at the Channel API level: a listener that only joins after an event
// has aged past memory_freshness must never observe it.
func TestChannelFreshnessExpiryNeverDelivers(t *testing.T) {
	net := transport.NewNetwork(nil)
	trA := transport.NewMock(net, "A")
	trB := transport.NewMock(net, "B")

	clk := &settableClock{}

	var mu sync.Mutex
	var delivered []wire.Name

	producer, err := New(Config{
		Name:             wire.ParseName("/s"),
		IsProducer:       true,
		MaxMemory:        16,
		MemoryFreshness:  100,
		InterestLifetime: 150 * time.Millisecond,
		ReplyFreshness:   4 * time.Millisecond,
		Encoding:         state.EncodingSketch,
		Now:              clk.now,
	}, trA, nil, nil)
	require.NoError(t, err)

	listener, err := New(Config{
		Name:             wire.ParseName("/s"),
		IsListener:       true,
		MaxMemory:        16,
		MemoryFreshness:  100,
		InterestLifetime: 150 * time.Millisecond,
		ReplyFreshness:   4 * time.Millisecond,
		Encoding:         state.EncodingSketch,
		Filters:          []Filter{NewPrefixFilter(wire.ParseName("/s/e"))},
		Now:              clk.now,
	}, trB, func(ts wire.Timestamp, name wire.Name) {
		mu.Lock()
		delivered = append(delivered, name)
		mu.Unlock()
	}, nil)
	require.NoError(t, err)

	require.NoError(t, producer.Init())
	ts := producer.Publish([]wire.Name{wire.ParseName("/s/e/a/1")})
	defer producer.Shutdown()
	defer listener.Shutdown()

	// Fast-forward past memory_freshness before the listener ever
	// joins, so its first reconcile already finds the event stale.
	clk.set(uint64(ts) + 1000)

	require.NoError(t, listener.Init())

	require.Never(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) > 0
	}, 200*time.Millisecond, 10*time.Millisecond)
}

func TestFilterMatchEmptyMeansMatchAll(t *testing.T) {
	c := &Channel{}
	require.True(t, c.Match(wire.ParseName("/anything")))
}

func TestFilterMatchOR(t *testing.T) {
	c := &Channel{cfg: Config{Filters: []Filter{
		NewPrefixFilter(wire.ParseName("/s/e/a")),
		NewPrefixFilter(wire.ParseName("/s/e/c")),
	}}}
	require.True(t, c.Match(wire.ParseName("/s/e/a/1")))
	require.True(t, c.Match(wire.ParseName("/s/e/c/2")))
	require.False(t, c.Match(wire.ParseName("/s/e/b/3")))
}
