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

// Package engine implements the per-channel Protocol Engine of spec
// §4.5: the long-lived outbound request loop, the inbound request
// handler, send_diff, and publish.
package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/wuarl/ndnsync/pending"
	"github.com/wuarl/ndnsync/state"
	"github.com/wuarl/ndnsync/transport"
	"github.com/wuarl/ndnsync/wire"
)

// Default configuration constants (spec §4.5).
const (
	DefaultInterestLifetime = 3 * time.Second
	DefaultReplyFreshness   = 4 * time.Millisecond
	DefaultJitterMin        = 5 * time.Millisecond
	DefaultJitterMax        = 20 * time.Millisecond
)

// Config holds the engine's scheduling constants (spec §4.5, §5
// Timeouts).
type Config struct {
	InterestLifetime time.Duration
	ReplyFreshness   time.Duration
	MemoryFreshness  time.Duration
	JitterMin        time.Duration
	JitterMax        time.Duration

	// LoopbackAllowed permits a node to satisfy its own outbound
	// requests from its own responder. Spec §6.1 reserves this for
	// same-process integration tests; production channels leave it
	// false so a request always crosses to a peer.
	LoopbackAllowed bool

	// ReplyRateLimit bounds how many send_diff replies per second
	// Publish's pending-table fan-out (spec §4.5.5) may emit to avoid
	// bursting the transport when many peers are waiting at once.
	// Zero disables the limit. ReplyBurst is the limiter's burst size
	// and defaults to 1.
	ReplyRateLimit float64
	ReplyBurst     int

	// Now overrides the monotonic nanosecond clock, for deterministic
	// tests. Defaults to time.Now().UnixNano().
	Now func() uint64
}

func (c *Config) setDefaults() {
	if c.InterestLifetime <= 0 {
		c.InterestLifetime = DefaultInterestLifetime
	}
	if c.ReplyFreshness <= 0 {
		c.ReplyFreshness = DefaultReplyFreshness
	}
	if c.JitterMin <= 0 {
		c.JitterMin = DefaultJitterMin
	}
	if c.JitterMax <= 0 {
		c.JitterMax = DefaultJitterMax
	}
	if c.Now == nil {
		c.Now = func() uint64 { return uint64(time.Now().UnixNano()) }
	}
}

// Delivered describes one (timestamp, event) pair handed to the
// application after filtering (spec §4.5.2 step 6).
type Delivered struct {
	Timestamp wire.Timestamp
	Event     wire.Name
}

// Metrics receives the per-channel observability counters of spec §9
// ("global mutable counters" re-architected as optional, injected,
// per-channel state). A nil Metrics on Engine disables instrumentation
// entirely.
type Metrics interface {
	RequestSent()
	ReplyReceived()
	DecodeError()
	Unresolved()
	EventDelivered()
	ItemsPushed(n int)
}

// ErrTransportRegistration wraps a responder-registration failure,
// propagated to the application as a fatal channel error (spec §7
// TransportRegistrationFailed).
var ErrTransportRegistration = errors.New("engine: transport registration failed")

// Engine is the per-channel Protocol Engine of spec §4.5. It holds a
// non-owning reference to the transport and the channel's State and
// Pending-Request Table (spec §3 Ownership: the Channel that embeds an
// Engine owns all of them; the Engine is destroyed before the
// Channel).
type Engine struct {
	transport transport.Transport
	state     *state.State
	pending   *pending.Table
	name      wire.Name

	isListener bool
	isProducer bool
	cfg        Config

	// Match reports whether event belongs to this channel's filter set
	// (spec §4.6); nil means "match everything".
	Match func(event wire.Name) bool
	// OnDeliver is invoked once per reconciled-in, filtered,
	// non-expired event (spec §4.5.2 step 6).
	OnDeliver func(Delivered)
	// OnFatal is invoked for channel-lifecycle errors that must
	// propagate to the application (spec §7).
	OnFatal func(error)
	// Metrics, if set, is instrumented at the points named in the
	// Metrics interface doc. Nil disables instrumentation.
	Metrics Metrics

	log          *logrus.Entry
	rng          *rand.Rand
	replyLimiter *rate.Limiter

	// stateMu serializes every operation that touches state/pending:
	// the transport's own scheduler is not single-threaded (spec §5
	// requires implementations on a multi-threaded runtime to
	// serialize per-channel access as if it were one mailbox/actor).
	stateMu sync.Mutex

	mu              sync.Mutex
	outstandingName wire.Name
	outstandingOK   bool
	outstandingReq  transport.RequestHandle
	nextCall        transport.Token
	responder       transport.ResponderHandle
	closed          bool
}

// New builds an Engine. name is the channel name; st and pt are owned
// by the caller's Channel.
func New(tr transport.Transport, st *state.State, pt *pending.Table, name wire.Name, isListener, isProducer bool, cfg Config, log *logrus.Entry) *Engine {
	cfg.setDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	var limiter *rate.Limiter
	if cfg.ReplyRateLimit > 0 {
		burst := cfg.ReplyBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.ReplyRateLimit), burst)
	}
	return &Engine{
		transport:    tr,
		state:        st,
		pending:      pt,
		name:         name.Clone(),
		isListener:   isListener,
		isProducer:   isProducer,
		cfg:          cfg,
		log:          log.WithField("channel", name.String()),
		rng:          rand.New(rand.NewSource(int64(cfg.Now()))),
		replyLimiter: limiter,
	}
}

func (e *Engine) nowNs() uint64 { return e.cfg.Now() }

func (e *Engine) memoryFreshnessNs() uint64 { return uint64(e.cfg.MemoryFreshness.Nanoseconds()) }

func (e *Engine) jitter() time.Duration {
	span := e.cfg.JitterMax - e.cfg.JitterMin
	if span <= 0 {
		return e.cfg.JitterMin
	}
	return e.cfg.JitterMin + time.Duration(e.rng.Int63n(int64(span)))
}

// Start registers the producer responder (if applicable) and kicks off
// the listener loop (if applicable) (spec §4.5, Channel.init).
func (e *Engine) Start() error {
	if e.isProducer {
		var h transport.ResponderHandle
		register := func() error {
			registered, err := e.transport.RegisterResponder(e.name, e.cfg.LoopbackAllowed, e.onRequest)
			if err != nil {
				return err
			}
			h = registered
			return nil
		}
		// Transient registration failures (the prefix momentarily held
		// by a restarting peer, a not-yet-ready forwarder face) are
		// retried a bounded number of times before giving up.
		retry := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
		if err := backoff.Retry(register, retry); err != nil {
			wrapped := fmt.Errorf("%w: %v", ErrTransportRegistration, err)
			if e.OnFatal != nil {
				e.OnFatal(wrapped)
			}
			return wrapped
		}
		e.mu.Lock()
		e.responder = h
		e.mu.Unlock()
	}
	if e.isListener {
		e.sendRequest()
	}
	return nil
}

// Shutdown cancels every scheduled task, clears the Pending-Request
// Table, and releases transport handles (spec §4.5.6 Shutdown).
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.closed = true
	if e.outstandingReq != nil {
		e.outstandingReq.Cancel()
		e.outstandingReq = nil
	}
	if e.nextCall != nil {
		e.nextCall.Cancel()
		e.nextCall = nil
	}
	responder := e.responder
	e.responder = nil
	e.mu.Unlock()

	e.pending.Clear()
	if responder != nil {
		responder.Close()
	}
}

// scheduleNext cancels whatever self-invocation was previously armed
// and arms a new one after d, calling sendRequest (spec §4.5.1 step 4,
// the single mechanism also reused by the early reschedule of §4.5.2
// step 5 and §4.5.4 step 7).
func (e *Engine) scheduleNext(d time.Duration) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.nextCall != nil {
		e.nextCall.Cancel()
	}
	e.nextCall = e.transport.Schedule(d, e.sendRequest)
	e.mu.Unlock()
}

// sendRequest is the listener's long-lived outbound request loop
// (spec §4.5.1).
func (e *Engine) sendRequest() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.stateMu.Lock()
	e.state.Cleanup(e.memoryFreshnessNs())
	stateBytes := e.state.ExportState()
	e.stateMu.Unlock()

	reqName := e.name.Append(wire.Component(stateBytes))

	e.mu.Lock()
	if e.outstandingReq != nil {
		e.outstandingReq.Cancel()
	}
	e.outstandingName = reqName
	e.outstandingOK = true
	e.mu.Unlock()

	e.scheduleNext(e.cfg.InterestLifetime/2 + e.jitter())

	handle, err := e.transport.ExpressRequest(reqName, e.cfg.InterestLifetime, true,
		func(reply transport.Reply) { e.onReply(reqName, reply) },
		e.onTimeout,
		e.onNack,
	)
	if err != nil {
		e.log.WithError(err).Warn("express_request failed")
		return
	}
	if e.Metrics != nil {
		e.Metrics.RequestSent()
	}
	e.mu.Lock()
	e.outstandingReq = handle
	e.mu.Unlock()
}

func (e *Engine) onTimeout() {
	e.log.Debug("outstanding request timed out")
}

func (e *Engine) onNack() {
	e.log.Debug("outstanding request nacked")
}

// onReply is the reply-arrival handler (spec §4.5.2).
func (e *Engine) onReply(reqName wire.Name, reply transport.Reply) {
	if e.Metrics != nil {
		e.Metrics.ReplyReceived()
	}
	if len(reply.Name) < 2 {
		e.log.Warn("reply name too short, discarding")
		return
	}
	newStateBytes := []byte(reply.Name[len(reply.Name)-1])

	envelope, err := wire.DecodeEnvelope(reply.Payload)
	if err != nil {
		if e.Metrics != nil {
			e.Metrics.DecodeError()
		}
		e.log.WithError(err).Debug("reply payload decode failed, discarding")
		return
	}

	e.stateMu.Lock()
	preStateBytes := e.state.ExportState()

	now := e.nowNs()
	diff, err := e.state.Diff(newStateBytes)
	if err != nil {
		e.stateMu.Unlock()
		if errors.Is(err, state.ErrUnresolved) {
			if e.Metrics != nil {
				e.Metrics.Unresolved()
			}
			e.log.Debug("diff unresolved on reply, leaving state unchanged")
			return
		}
		if e.Metrics != nil {
			e.Metrics.DecodeError()
		}
		e.log.WithError(err).Debug("diff failed on reply, discarding")
		return
	}

	var delivered []Delivered
	for _, ts := range diff.OnlyRemote {
		if state.IsExpired(now, ts, e.memoryFreshnessNs()) {
			continue
		}
		events := envelope.Events[ts]
		e.state.AddRemote(ts, events)
		for _, ev := range events {
			if e.Match != nil && !e.Match(ev) {
				continue
			}
			delivered = append(delivered, Delivered{Timestamp: ts, Event: ev})
		}
	}

	postStateBytes := e.state.ExportState()
	e.stateMu.Unlock()
	if bytesEqual(preStateBytes, postStateBytes) {
		return
	}

	e.mu.Lock()
	matchesOutstanding := e.outstandingOK && e.outstandingName.Equal(reqName)
	e.mu.Unlock()
	if matchesOutstanding {
		e.mu.Lock()
		if e.outstandingReq != nil {
			e.outstandingReq.Cancel()
			e.outstandingReq = nil
		}
		e.mu.Unlock()
		e.scheduleNext(e.jitter())
	}

	for _, d := range delivered {
		if e.Metrics != nil {
			e.Metrics.EventDelivered()
		}
		if e.OnDeliver != nil {
			e.OnDeliver(d)
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// onRequest is the inbound request handler (spec §4.5.3), registered
// with the transport for this channel's prefix.
func (e *Engine) onRequest(_ wire.Name, req transport.Request) {
	if len(req.Name) == 0 {
		return
	}
	peerState := []byte(req.Name[len(req.Name)-1])
	e.stateMu.Lock()
	localState := e.state.ExportState()
	e.stateMu.Unlock()

	lifetime := req.Lifetime
	if lifetime <= 0 || lifetime > e.cfg.InterestLifetime {
		lifetime = e.cfg.InterestLifetime
	}

	if bytesEqual(peerState, localState) {
		e.pending.Insert(req.Name, peerState, lifetime, nil)
		return
	}

	pushed := e.sendDiff(req.Name, e.cfg.ReplyFreshness)
	if pushed == 0 {
		e.pending.Insert(req.Name, peerState, lifetime, nil)
	}
}

// sendDiff computes and sends the difference for a single inbound
// request name (spec §4.5.4). Returns the number of timestamps
// actually pushed.
func (e *Engine) sendDiff(requestName wire.Name, freshness time.Duration) int {
	if len(requestName) == 0 {
		return 0
	}
	peerState := []byte(requestName[len(requestName)-1])

	e.stateMu.Lock()
	diff, err := e.state.Diff(peerState)
	if err != nil {
		e.stateMu.Unlock()
		// Unresolved or malformed peer state: "no items to push this
		// round" (spec §7 SketchUnresolved, DecodeFailed).
		return 0
	}

	now := e.nowNs()
	toPush := make(map[wire.Timestamp][]wire.Name)
	for _, ts := range diff.OnlyLocal {
		if state.IsExpired(now, ts, e.memoryFreshnessNs()) {
			e.state.Erase(ts)
			continue
		}
		events := e.state.Get(ts)
		if len(events) > 0 {
			toPush[ts] = events
		}
	}
	if len(toPush) == 0 {
		e.stateMu.Unlock()
		return 0
	}

	localStateBytes := e.state.ExportState()
	e.stateMu.Unlock()
	replyName := requestName.Append(wire.Component(localStateBytes))

	envelope := wire.NewEventsEnvelope(toPush)
	if freshness <= 0 {
		freshness = e.cfg.MemoryFreshness
	}
	err = e.transport.Respond(transport.OutgoingReply{
		Name:      replyName,
		Content:   envelope.Encode(),
		Freshness: freshness,
	})
	if err != nil {
		e.log.WithError(err).Debug("respond failed")
		return 0
	}

	e.mu.Lock()
	matchesOutstanding := e.outstandingOK && e.outstandingName.Equal(requestName)
	e.mu.Unlock()
	if matchesOutstanding {
		e.scheduleNext(e.jitter())
	}

	if e.Metrics != nil {
		e.Metrics.ItemsPushed(len(toPush))
	}
	return len(toPush)
}

// Publish mints a new timestamp and opportunistically serves every
// pending inbound request (spec §4.5.5).
func (e *Engine) Publish(events []wire.Name) wire.Timestamp {
	e.stateMu.Lock()
	ts := e.state.Publish(events)
	e.stateMu.Unlock()

	var names []wire.Name
	e.pending.Iter(func(entry pending.Entry) {
		names = append(names, entry.Name)
	})
	for _, name := range names {
		if e.replyLimiter != nil && !e.replyLimiter.Allow() {
			// Leave this entry in the table; it is served on the next
			// Publish or expires and the peer's own retry picks it up.
			continue
		}
		e.sendDiff(name, e.cfg.MemoryFreshness)
		e.pending.Erase(name)
	}
	return ts
}
