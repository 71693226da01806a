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

// Package metrics provides the per-channel observability counters
// called for by spec §9's "global mutable counters" design note: the
// original source keeps process-wide name-size collectors; here every
// Channel is injected its own Registry at creation, never a shared
// process-global one.
package metrics

import gometrics "github.com/rcrowley/go-metrics"

// Registry holds one channel's counters, backed by an independent
// rcrowley/go-metrics registry (not metrics.DefaultRegistry).
type Registry struct {
	backing gometrics.Registry

	requestsSent     gometrics.Counter
	repliesReceived  gometrics.Counter
	decodeErrors     gometrics.Counter
	unresolvedDiffs  gometrics.Counter
	eventsDelivered  gometrics.Counter
	itemsPushedTotal gometrics.Counter
}

// New builds an empty, independent Registry for one channel.
func New(channelName string) *Registry {
	backing := gometrics.NewRegistry()
	r := &Registry{
		backing:          backing,
		requestsSent:     gometrics.NewCounter(),
		repliesReceived:  gometrics.NewCounter(),
		decodeErrors:     gometrics.NewCounter(),
		unresolvedDiffs:  gometrics.NewCounter(),
		eventsDelivered:  gometrics.NewCounter(),
		itemsPushedTotal: gometrics.NewCounter(),
	}
	backing.Register(channelName+".requests_sent", r.requestsSent)
	backing.Register(channelName+".replies_received", r.repliesReceived)
	backing.Register(channelName+".decode_errors", r.decodeErrors)
	backing.Register(channelName+".unresolved_diffs", r.unresolvedDiffs)
	backing.Register(channelName+".events_delivered", r.eventsDelivered)
	backing.Register(channelName+".items_pushed_total", r.itemsPushedTotal)
	return r
}

// RequestSent counts one outbound ExpressRequest (spec §4.5.1).
func (r *Registry) RequestSent() { r.requestsSent.Inc(1) }

// ReplyReceived counts one reply delivered to on_reply (spec §4.5.2).
func (r *Registry) ReplyReceived() { r.repliesReceived.Inc(1) }

// DecodeError counts a discarded malformed payload (spec §7
// DecodeFailed).
func (r *Registry) DecodeError() { r.decodeErrors.Inc(1) }

// Unresolved counts a diff that could not be fully peeled (spec §7
// SketchUnresolved).
func (r *Registry) Unresolved() { r.unresolvedDiffs.Inc(1) }

// EventDelivered counts one application-visible event delivery (spec
// §4.5.2 step 6).
func (r *Registry) EventDelivered() { r.eventsDelivered.Inc(1) }

// ItemsPushed accumulates the item count returned by send_diff (spec
// §4.5.4).
func (r *Registry) ItemsPushed(n int) { r.itemsPushedTotal.Inc(int64(n)) }

// Snapshot renders every counter's current value, for tests and
// diagnostics dumps.
func (r *Registry) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	r.backing.Each(func(name string, metric interface{}) {
		if c, ok := metric.(gometrics.Counter); ok {
			out[name] = c.Count()
		}
	})
	return out
}
