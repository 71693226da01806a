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

// Package transport defines the contract consumed from the underlying
// content-centric transport (spec §6.1). The transport itself --
// request/response I/O, cryptographic signing, name registration -- is
// explicitly out of scope (spec §1); this package only pins down the
// interface the Protocol Engine is written against, plus an in-memory
// mock (mock.go) used by this module's own tests.
package transport

import (
	"time"

	"github.com/wuarl/ndnsync/wire"
)

// Request is an inbound request surfaced to a registered responder
// (spec §6.1 register_responder: "request carries a full name and a
// declared lifetime").
type Request struct {
	Name     wire.Name
	Lifetime time.Duration
}

// Reply is the response to an expressed request, surfaced via the
// completion callback registered with ExpressRequest.
type Reply struct {
	Name    wire.Name
	Payload []byte
}

// SignInfo carries the signing directive for an outbound Respond call.
// The actual cryptographic signing is external (spec §1 Non-goals:
// authentication policy); this is only the directive passed through to
// it.
type SignInfo struct {
	// Verify, when set, is consulted before a reply is accepted on the
	// requester side -- the pluggable verifier of spec §7
	// ReplyValidationFailed. A nil Verify always accepts.
	Verify func(Reply) bool
}

// OutgoingReply is what Respond sends back for an inbound request.
type OutgoingReply struct {
	Name        wire.Name
	Content     []byte
	Freshness   time.Duration
	MustBeFresh bool
	Sign        SignInfo
}

// RequestHandle cancels an outstanding ExpressRequest (spec §5
// "cancel_outstanding").
type RequestHandle interface {
	Cancel()
}

// ResponderHandle releases a RegisterResponder registration.
type ResponderHandle interface {
	Close()
}

// Token cancels a Schedule call (spec §6.1 scheduler: "schedule(duration,
// task) -> token with cancel(token)").
type Token interface {
	Cancel()
}

// Transport is the message-oriented fetch/respond contract the engine
// is built against (spec §6.1). Implementations must invoke exactly one
// of the completion callbacks passed to ExpressRequest, and must invoke
// OnRequest only for names under a registered prefix.
type Transport interface {
	// ExpressRequest issues a long-lived pull request. Exactly one of
	// onReply, onTimeout, or onNack fires for a given call, unless the
	// returned handle is cancelled first.
	ExpressRequest(name wire.Name, lifetime time.Duration, mustBeFresh bool, onReply func(Reply), onTimeout func(), onNack func()) (RequestHandle, error)

	// RegisterResponder arranges for onRequest to be invoked whenever a
	// request name matches prefix. loopbackAllowed permits a node to
	// satisfy its own requests, used by same-process integration tests.
	RegisterResponder(prefix wire.Name, loopbackAllowed bool, onRequest func(matchedPrefix wire.Name, req Request)) (ResponderHandle, error)

	// Respond answers a previously observed Request.
	Respond(reply OutgoingReply) error

	// Schedule arranges for task to run after d elapses.
	Schedule(d time.Duration, task func()) Token
}
