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

package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wuarl/ndnsync/wire"
)

// Network is an in-memory content-centric transport shared by every
// Mock node registered on it. It exists only for this module's tests
// (spec §1: the real transport is out of scope) -- it does not model
// NDN forwarding faithfully,
// only enough of it for single-process multi-node scenarios.
type Network struct {
	mu         sync.Mutex
	responders []*responderReg
	pending    map[uint64]*pendingRequest
	nextID     uint64
	log        *logrus.Entry
}

type responderReg struct {
	id              string
	owner           *Mock
	prefix          wire.Name
	loopbackAllowed bool
	onRequest       func(matchedPrefix wire.Name, req Request)
	closed          bool
}

func (r *responderReg) Close() {
	r.closed = true
}

type pendingRequest struct {
	id        string
	requester *Mock
	name      wire.Name
	onReply   func(Reply)
	onTimeout func()
	onNack    func()
	timer     *time.Timer
	done      bool
}

func (p *pendingRequest) Cancel() {
	p.timer.Stop()
	p.done = true
}

// NewNetwork creates an empty shared network. log may be nil.
func NewNetwork(log *logrus.Entry) *Network {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
		log.Logger.SetOutput(discardWriter{})
	}
	return &Network{pending: make(map[uint64]*pendingRequest), log: log}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Mock is a Transport implementation backed by a shared Network.
type Mock struct {
	id  string
	net *Network
}

// NewMock attaches a new node identified by id to net.
func NewMock(net *Network, id string) *Mock {
	return &Mock{id: id, net: net}
}

func (m *Mock) String() string { return m.id }

// ExpressRequest implements Transport.
func (m *Mock) ExpressRequest(name wire.Name, lifetime time.Duration, mustBeFresh bool, onReply func(Reply), onTimeout func(), onNack func()) (RequestHandle, error) {
	m.net.mu.Lock()
	id := m.net.nextID
	m.net.nextID++

	var matched *responderReg
	for _, r := range m.net.responders {
		if r.closed {
			continue
		}
		if r.owner == m && !r.loopbackAllowed {
			continue
		}
		if r.prefix.IsPrefixOf(name) {
			matched = r
			break
		}
	}
	pr := &pendingRequest{id: uuid.NewString(), requester: m, name: name, onReply: onReply, onTimeout: onTimeout, onNack: onNack}
	pr.timer = time.AfterFunc(lifetime, func() {
		m.net.mu.Lock()
		p, ok := m.net.pending[id]
		if ok && !p.done {
			p.done = true
			delete(m.net.pending, id)
		}
		m.net.mu.Unlock()
		if ok && onTimeout != nil {
			onTimeout()
		}
	})
	m.net.pending[id] = pr
	m.net.mu.Unlock()

	m.net.log.WithField("request_id", pr.id).Debug("request expressed")
	if matched != nil {
		handler := matched.onRequest
		prefix := matched.prefix
		go handler(prefix, Request{Name: name.Clone(), Lifetime: lifetime})
	}

	return pr, nil
}

// RegisterResponder implements Transport.
func (m *Mock) RegisterResponder(prefix wire.Name, loopbackAllowed bool, onRequest func(matchedPrefix wire.Name, req Request)) (ResponderHandle, error) {
	reg := &responderReg{id: uuid.NewString(), owner: m, prefix: prefix.Clone(), loopbackAllowed: loopbackAllowed, onRequest: onRequest}
	m.net.mu.Lock()
	m.net.responders = append(m.net.responders, reg)
	m.net.mu.Unlock()
	return reg, nil
}

// Respond implements Transport. It finds the longest-standing pending
// request whose name is a prefix of reply.Name and delivers the reply
// to it, matching the NDN convention that a Data name extends its
// Interest name (spec §6.2).
func (m *Mock) Respond(reply OutgoingReply) error {
	m.net.mu.Lock()
	var found *pendingRequest
	var foundID uint64
	for id, p := range m.net.pending {
		if p.done {
			continue
		}
		if wire.Name(p.name).IsPrefixOf(reply.Name) && (found == nil || id < foundID) {
			found = p
			foundID = id
		}
	}
	if found != nil {
		found.done = true
		delete(m.net.pending, foundID)
	}
	m.net.mu.Unlock()

	if found == nil {
		return fmt.Errorf("transport: no pending request matches reply name %s", reply.Name.String())
	}
	found.timer.Stop()
	m.net.log.WithField("request_id", found.id).Debug("reply delivered")
	go found.onReply(Reply{Name: reply.Name.Clone(), Payload: append([]byte(nil), reply.Content...)})
	return nil
}

// Schedule implements Transport using a stdlib timer.
func (m *Mock) Schedule(d time.Duration, task func()) Token {
	return &timerToken{timer: time.AfterFunc(d, task)}
}

type timerToken struct{ timer *time.Timer }

func (t *timerToken) Cancel() { t.timer.Stop() }
