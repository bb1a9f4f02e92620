// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package router

import (
	"time"

	"github.com/katzenpost/hpqc/nike"

	"github.com/katzenpost/anodr/pseudonym"
	"github.com/katzenpost/anodr/rtable"
)

// Link is a link (interface) index.
type Link = rtable.Link

const (
	// AnyLink matches every link.
	AnyLink = rtable.AnyLink

	// LocalLink is the link of a flow endpoint.
	LocalLink = rtable.LocalLink

	// NoHint asks the transport to deliver a unicast frame to the whole
	// neighborhood.
	NoHint uint32 = 0
)

// Transport is the link layer a node sends frames through.
type Transport interface {
	// Links returns the links the node participates in.
	Links() []Link

	// Broadcast sends a frame to every neighbor on link after delay.
	Broadcast(link Link, frame []byte, ttl int, delay time.Duration)

	// Unicast sends a frame to one neighbor on link.  The hint is the
	// neighbor's address, or NoHint if the link does anonymous unicast.
	// A failed delivery of a data frame is reported via OnLinkFailure.
	Unicast(link Link, frame []byte, hint uint32)
}

// Scheduler fires timers.  There is no way to cancel a timer.
type Scheduler interface {
	// Now returns the current time.
	Now() time.Duration

	// Schedule arranges for OnTimer(t) to be called after delay.
	Schedule(delay time.Duration, t *Timer)
}

// Deliverer receives the payloads addressed to a node.
type Deliverer interface {
	// Deliver hands a payload to the layer above.  The source is the
	// caller id the sender chose, which is its address only if it
	// revealed it.  Replies are sent with SendData to the same value.
	Deliver(from uint32, payload []byte)
}

// KeyStore holds a node's identity and its peers' public keys.
type KeyStore interface {
	// Identity returns the node's private key.
	Identity() nike.PrivateKey

	// PeerKey returns the public key of the node at addr.
	PeerKey(addr uint32) (nike.PublicKey, error)
}

// Direction is the direction of a traced frame.
type Direction byte

const (
	// Sent marks a frame handed to the transport.
	Sent Direction = 'S'

	// Received marks a frame handed to the node.
	Received Direction = 'R'
)

// Tracer records every frame a node sends or receives.
type Tracer interface {
	Trace(node uint32, now time.Duration, dir Direction, link Link, frame []byte)
}

// TimerKind is the kind of a timer.
type TimerKind int

const (
	// TimerSweep expires route table entries.
	TimerSweep TimerKind = iota

	// TimerCheckReplied retries or abandons an unanswered request.
	TimerCheckReplied

	// TimerCheckRREPAck retransmits an unacknowledged route reply.
	TimerCheckRREPAck

	// TimerCheckRERRAck retransmits an unacknowledged route error.
	TimerCheckRERRAck

	// TimerCheckDataAck retransmits an unacknowledged data frame.
	TimerCheckDataAck

	// TimerOnionProcessing handles a deferred route request or reply.
	TimerOnionProcessing
)

func (k TimerKind) String() string {
	switch k {
	case TimerSweep:
		return "Sweep"
	case TimerCheckReplied:
		return "CheckReplied"
	case TimerCheckRREPAck:
		return "CheckRREPAck"
	case TimerCheckRERRAck:
		return "CheckRERRAck"
	case TimerCheckDataAck:
		return "CheckDataAck"
	case TimerOnionProcessing:
		return "OnionProcessing"
	default:
		return "Unknown"
	}
}

// Timer is the payload of a scheduled timer.  Handlers re-validate the
// state a timer refers to, so a stale timer is a no-op.
type Timer struct {
	Kind      TimerKind
	Dest      uint32
	Pseudonym pseudonym.Pseudonym
	Link      Link

	frame []byte
	ttl   int
}
