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
	"bytes"
	"strings"
)

// Timestamp is a monotonic nanosecond integer taken from a wall-clock
// source at the moment of local publication (spec §3 Timestamp). It
// doubles as the reconciliation key.
type Timestamp uint64

// Name is a hierarchical name: an ordered sequence of opaque byte
// components, comparable by component-wise equality and prefix (spec
// §3 EventName). It is also used for channel names and request/reply
// names (§6.2), which share the same component structure.
type Name []Component

// Component is one opaque name component.
type Component []byte

// ParseName splits a slash-separated string into a Name. Empty leading
// and trailing components (from a leading/trailing "/") are dropped,
// matching NDN name string conventions.
func ParseName(s string) Name {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) == 1 && parts[0] == "" {
		return Name{}
	}
	n := make(Name, len(parts))
	for i, p := range parts {
		n[i] = Component(p)
	}
	return n
}

// String renders the name back into slash-separated form. Components
// are rendered as-is; this is intended for logging, not for
// round-tripping binary component data.
func (n Name) String() string {
	var b strings.Builder
	for _, c := range n {
		b.WriteByte('/')
		b.Write(c)
	}
	if len(n) == 0 {
		return "/"
	}
	return b.String()
}

// Equal reports component-wise equality.
func (n Name) Equal(o Name) bool {
	if len(n) != len(o) {
		return false
	}
	for i := range n {
		if !bytes.Equal(n[i], o[i]) {
			return false
		}
	}
	return true
}

// IsPrefixOf reports whether n is a prefix of o.
func (n Name) IsPrefixOf(o Name) bool {
	if len(n) > len(o) {
		return false
	}
	for i := range n {
		if !bytes.Equal(n[i], o[i]) {
			return false
		}
	}
	return true
}

// Append returns a new Name with extra components appended.
func (n Name) Append(comps ...Component) Name {
	out := make(Name, 0, len(n)+len(comps))
	out = append(out, n...)
	out = append(out, comps...)
	return out
}

// Clone returns a deep copy.
func (n Name) Clone() Name {
	out := make(Name, len(n))
	for i, c := range n {
		cc := make(Component, len(c))
		copy(cc, c)
		out[i] = cc
	}
	return out
}
