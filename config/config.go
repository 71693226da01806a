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

// Package config decodes the TOML configuration schema of spec §6.5
// into channel.Config values. Parsing itself is out of scope for the
// core engine (spec §1), but a complete repo needs this ambient layer
// the way the rest of the library's configuration is handled.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/wuarl/ndnsync/channel"
	"github.com/wuarl/ndnsync/state"
	"github.com/wuarl/ndnsync/wire"
)

// ErrConfigInvalid reports an unknown section or a missing required
// key (spec §7 ConfigInvalid), fatal at init.
var ErrConfigInvalid = errors.New("config: invalid configuration")

// filterSpec is one raw `[[channel.event.filter]]` table.
type filterSpec struct {
	Type  string `toml:"type"`
	Value string `toml:"value"`
}

// eventSpec is one raw `[channel.event]` table.
type eventSpec struct {
	Filter []filterSpec `toml:"filter"`
}

// channelSpec is one raw `[[channel]]` table (spec §6.5).
type channelSpec struct {
	Name            string    `toml:"name"`
	MaxMemorySize   int       `toml:"maxMemorySize"`
	MemoryFreshness int       `toml:"memoryFreshness"`
	Lifetime        int       `toml:"lifetime"`
	IsListener      bool      `toml:"isListener"`
	IsProvider      bool      `toml:"isProvider"`
	StateType       string    `toml:"stateType"`
	Event           eventSpec `toml:"event"`
}

// document is the top-level `[[channel]] ...` TOML document.
type document struct {
	Channel []channelSpec `toml:"channel"`
}

// Load decodes a TOML configuration document into a list of validated
// channel.Config values, ready to be handed to channel.New.
func Load(data []byte) ([]channel.Config, error) {
	var doc document
	meta, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %q", ErrConfigInvalid, undecoded[0].String())
	}
	if len(doc.Channel) == 0 {
		return nil, fmt.Errorf("%w: no [[channel]] sections found", ErrConfigInvalid)
	}

	out := make([]channel.Config, 0, len(doc.Channel))
	for _, spec := range doc.Channel {
		cfg, err := convert(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func convert(spec channelSpec) (channel.Config, error) {
	if spec.Name == "" {
		return channel.Config{}, fmt.Errorf("%w: channel section missing required key %q", ErrConfigInvalid, "name")
	}
	if spec.MaxMemorySize <= 0 {
		return channel.Config{}, fmt.Errorf("%w: channel %q: maxMemorySize must be positive", ErrConfigInvalid, spec.Name)
	}

	encoding, err := parseStateType(spec.StateType)
	if err != nil {
		return channel.Config{}, fmt.Errorf("%w: channel %q: %v", ErrConfigInvalid, spec.Name, err)
	}

	filters, err := convertFilters(spec.Event.Filter)
	if err != nil {
		return channel.Config{}, fmt.Errorf("%w: channel %q: %v", ErrConfigInvalid, spec.Name, err)
	}

	cfg := channel.Config{
		Name:             wire.ParseName(spec.Name),
		IsListener:       spec.IsListener,
		IsProducer:       spec.IsProvider,
		MaxMemory:        spec.MaxMemorySize,
		MemoryFreshness:  time.Duration(spec.MemoryFreshness) * time.Second,
		InterestLifetime: time.Duration(spec.Lifetime) * time.Second,
		Encoding:         encoding,
		Filters:          filters,
	}
	if cfg.InterestLifetime <= 0 {
		cfg.InterestLifetime = 3 * time.Second
	}
	return cfg, nil
}

func parseStateType(s string) (state.Encoding, error) {
	switch s {
	case "", "IBF":
		return state.EncodingSketch, nil
	case "LIST":
		return state.EncodingList, nil
	case "TUPLE":
		// Carried through for schema compatibility with the original
		// source (state.hpp StateType::TUPLE) but rejected here: there
		// is no defined wire form for it (see state.ErrTupleUnsupported
		// and DESIGN.md).
		return state.EncodingTuple, fmt.Errorf("stateType TUPLE is not implemented")
	default:
		return 0, fmt.Errorf("unknown stateType %q, want IBF or LIST", s)
	}
}

func convertFilters(specs []filterSpec) ([]channel.Filter, error) {
	out := make([]channel.Filter, 0, len(specs))
	for _, f := range specs {
		switch f.Type {
		case "prefix":
			out = append(out, channel.NewPrefixFilter(wire.ParseName(f.Value)))
		case "regex":
			rf, err := channel.NewRegexFilter(f.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, rf)
		default:
			return nil, fmt.Errorf("unknown filter type %q, want prefix or regex", f.Type)
		}
	}
	return out, nil
}
