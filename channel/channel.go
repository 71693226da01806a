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

// Package channel implements the Channel / Event Matcher of spec §4.6:
// it binds a channel name, role flags, freshness, and filter rules to
// one Protocol Engine.
package channel

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wuarl/ndnsync/engine"
	"github.com/wuarl/ndnsync/pending"
	"github.com/wuarl/ndnsync/state"
	"github.com/wuarl/ndnsync/transport"
	"github.com/wuarl/ndnsync/wire"
)

// ErrInvalidChannel reports a create-time validation failure (spec
// §4.6 create-time checks, §7 ConfigInvalid).
var ErrInvalidChannel = errors.New("channel: invalid configuration")

// FilterKind selects how a Filter matches an event name (spec §3
// Filter).
type FilterKind int

const (
	FilterPrefix FilterKind = iota + 1
	FilterRegex
)

// Filter is one event-matcher rule. A Channel holds an ordered
// sequence of Filters, OR'd together (spec §4.6 match).
type Filter struct {
	Kind   FilterKind
	Prefix wire.Name
	Regex  *regexp.Regexp
}

// NewPrefixFilter builds a name-prefix Filter.
func NewPrefixFilter(prefix wire.Name) Filter {
	return Filter{Kind: FilterPrefix, Prefix: prefix.Clone()}
}

// NewRegexFilter builds a name-regex Filter, matching against the
// name's slash-separated string form.
func NewRegexFilter(pattern string) (Filter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Filter{}, fmt.Errorf("%w: bad filter regex %q: %v", ErrInvalidChannel, pattern, err)
	}
	return Filter{Kind: FilterRegex, Regex: re}, nil
}

// Match reports whether name satisfies this single rule.
func (f Filter) Match(name wire.Name) bool {
	switch f.Kind {
	case FilterPrefix:
		return f.Prefix.IsPrefixOf(name)
	case FilterRegex:
		return f.Regex.MatchString(name.String())
	default:
		return false
	}
}

// Config describes one channel's static configuration (spec §3
// Channel).
type Config struct {
	Name             wire.Name
	IsListener       bool
	IsProducer       bool
	MaxMemory        int
	MemoryFreshness  time.Duration
	InterestLifetime time.Duration
	ReplyFreshness   time.Duration
	Encoding         state.Encoding
	Filters          []Filter
	LoopbackAllowed  bool
	ReplyRateLimit   float64
	ReplyBurst       int

	// Now overrides the monotonic nanosecond clock (tests only).
	Now     func() uint64
	Log     *logrus.Entry
	Metrics engine.Metrics
}

func (c Config) validate() error {
	if !c.IsListener && !c.IsProducer {
		return fmt.Errorf("%w: channel %q must be a listener, a producer, or both", ErrInvalidChannel, c.Name.String())
	}
	if c.MaxMemory < 1 {
		return fmt.Errorf("%w: channel %q maxMemory must be >= 1, got %d", ErrInvalidChannel, c.Name.String(), c.MaxMemory)
	}
	switch c.Encoding {
	case state.EncodingSketch, state.EncodingList:
	default:
		return fmt.Errorf("%w: channel %q has unknown state encoding %d", ErrInvalidChannel, c.Name.String(), c.Encoding)
	}
	if c.IsListener && len(c.Filters) == 0 {
		return fmt.Errorf("%w: channel %q is a listener but declares no event filters", ErrInvalidChannel, c.Name.String())
	}
	return nil
}

// Channel aggregates one Protocol Engine, one State, and a filter list
// (spec §4.6). It exclusively owns all three (spec §3 Ownership).
type Channel struct {
	cfg     Config
	state   *state.State
	pending *pending.Table
	engine  *engine.Engine

	onEvent func(wire.Timestamp, wire.Name)
	onFatal func(error)
}

// New validates cfg and builds a Channel wired to tr. onEvent, if
// non-nil, receives every reconciled-in event that survives filtering
// and freshness (spec §4.5.2 step 6). onFatal, if non-nil, receives
// channel-lifecycle errors (spec §7 propagation policy).
func New(cfg Config, tr transport.Transport, onEvent func(wire.Timestamp, wire.Name), onFatal func(error)) (*Channel, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var opts []state.Option
	if cfg.Now != nil {
		opts = append(opts, state.WithClock(cfg.Now))
	}
	st, err := state.New(cfg.Encoding, cfg.MaxMemory, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChannel, err)
	}

	ch := &Channel{
		cfg:     cfg,
		state:   st,
		pending: pending.New(),
		onEvent: onEvent,
		onFatal: onFatal,
	}

	engCfg := engine.Config{
		InterestLifetime: cfg.InterestLifetime,
		ReplyFreshness:   cfg.ReplyFreshness,
		MemoryFreshness:  cfg.MemoryFreshness,
		LoopbackAllowed:  cfg.LoopbackAllowed,
		ReplyRateLimit:   cfg.ReplyRateLimit,
		ReplyBurst:       cfg.ReplyBurst,
	}
	if cfg.Now != nil {
		engCfg.Now = cfg.Now
	}

	eng := engine.New(tr, st, ch.pending, cfg.Name, cfg.IsListener, cfg.IsProducer, engCfg, cfg.Log)
	eng.Match = ch.Match
	eng.OnDeliver = func(d engine.Delivered) {
		if ch.onEvent != nil {
			ch.onEvent(d.Timestamp, d.Event)
		}
	}
	eng.OnFatal = ch.onFatal
	eng.Metrics = cfg.Metrics
	ch.engine = eng

	return ch, nil
}

// Init starts the channel's engine (responder registration and/or the
// listener loop).
func (c *Channel) Init() error {
	return c.engine.Start()
}

// Publish records a local event batch under a new timestamp and
// opportunistically serves any peer request waiting in the
// Pending-Request Table.
func (c *Channel) Publish(events []wire.Name) wire.Timestamp {
	return c.engine.Publish(events)
}

// Shutdown tears down the engine (spec §4.5.6).
func (c *Channel) Shutdown() {
	c.engine.Shutdown()
}

// Match reports whether name satisfies any configured filter; an
// empty filter list matches everything (spec §4.6 match).
func (c *Channel) Match(name wire.Name) bool {
	if len(c.cfg.Filters) == 0 {
		return true
	}
	for _, f := range c.cfg.Filters {
		if f.Match(name) {
			return true
		}
	}
	return false
}

// Name reports the channel's configured name.
func (c *Channel) Name() wire.Name { return c.cfg.Name.Clone() }
