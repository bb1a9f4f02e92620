// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package router

import (
	"errors"
	"time"

	"github.com/katzenpost/anodr/onion"
)

const (
	// DefaultNetDiameter is the default hop bound of a flood.
	DefaultNetDiameter = 35

	// DefaultNodeTraversalTime is the default per hop traversal time.
	DefaultNodeTraversalTime = 40 * time.Millisecond

	// DefaultActiveRouteTimeout is the default lifetime of an idle route.
	DefaultActiveRouteTimeout = 5 * time.Second

	// DefaultRREQRetries is the default number of request retries.
	DefaultRREQRetries = 2

	// DefaultRouteDeletionConstant is the default route deletion constant.
	DefaultRouteDeletionConstant = 5

	// DefaultBufferMaxPackets is the default message buffer packet quota.
	DefaultBufferMaxPackets = 100

	// DefaultBroadcastJitter bounds the random delay of every broadcast.
	DefaultBroadcastJitter = 10 * time.Millisecond

	// DefaultOnionProcessingTime is the default delay applied to route
	// request and reply handling.
	DefaultOnionProcessingTime = time.Millisecond

	// UnicastRetransmissionCount bounds the retransmissions of every
	// unacknowledged unicast frame.
	UnicastRetransmissionCount = 8
)

// Parameters are the resolved protocol tunables of a node.
type Parameters struct {
	NetDiameter           int
	NodeTraversalTime     time.Duration
	ActiveRouteTimeout    time.Duration
	RREQRetries           int
	RouteDeletionConstant int

	// BufferMaxBytes replaces BufferMaxPackets when positive.
	BufferMaxPackets int
	BufferMaxBytes   int

	BroadcastJitter     time.Duration
	OnionProcessingTime time.Duration

	OnionMode onion.Mode

	ReplyAck       bool
	DataAck        bool
	AddressHint    bool
	HideSource     bool
	SealPseudonyms bool
}

// DefaultParameters returns the default parameters.
func DefaultParameters() *Parameters {
	return &Parameters{
		NetDiameter:           DefaultNetDiameter,
		NodeTraversalTime:     DefaultNodeTraversalTime,
		ActiveRouteTimeout:    DefaultActiveRouteTimeout,
		RREQRetries:           DefaultRREQRetries,
		RouteDeletionConstant: DefaultRouteDeletionConstant,
		BufferMaxPackets:      DefaultBufferMaxPackets,
		BroadcastJitter:       DefaultBroadcastJitter,
		OnionProcessingTime:   DefaultOnionProcessingTime,
		OnionMode:             onion.ModeANODR,
		ReplyAck:              true,
		AddressHint:           true,
		HideSource:            true,
		SealPseudonyms:        true,
	}
}

// Validate checks the parameters for sanity.
func (p *Parameters) Validate() error {
	switch {
	case p.NetDiameter <= 0:
		return errors.New("router: NetDiameter must be positive")
	case p.NodeTraversalTime <= 0:
		return errors.New("router: NodeTraversalTime must be positive")
	case p.ActiveRouteTimeout <= 0:
		return errors.New("router: ActiveRouteTimeout must be positive")
	case p.RREQRetries < 0:
		return errors.New("router: RREQRetries must not be negative")
	case p.BufferMaxPackets <= 0 && p.BufferMaxBytes <= 0:
		return errors.New("router: the message buffer needs a packet or byte quota")
	case p.BroadcastJitter < 0 || p.OnionProcessingTime < 0:
		return errors.New("router: delays must not be negative")
	}
	return nil
}

// NetTraversalTime is the time a flood takes to cross the network.
func (p *Parameters) NetTraversalTime() time.Duration {
	return 3 * p.NodeTraversalTime * time.Duration(p.NetDiameter) / 2
}

// FloodRecordTime is how long a relayed flood is remembered.
func (p *Parameters) FloodRecordTime() time.Duration {
	return 3 * p.NetTraversalTime()
}

// ReplyWait is how long a source waits for a route reply.
func (p *Parameters) ReplyWait() time.Duration {
	return time.Duration(p.NetDiameter) * 2 * p.NodeTraversalTime
}

// AckWait is how long a unicast sender waits for an anonymous ack.
func (p *Parameters) AckWait() time.Duration {
	return 2 * p.NodeTraversalTime
}

// SweepPeriod is the interval between route table sweeps.
func (p *Parameters) SweepPeriod() time.Duration {
	return p.ActiveRouteTimeout / 2
}

// DeletePeriod is ROUTE_DELETE_CONST times the larger of the active route
// timeout and twice the traversal time.  It is only reported.
func (p *Parameters) DeletePeriod() time.Duration {
	return time.Duration(p.RouteDeletionConstant) * max(p.ActiveRouteTimeout, 2*p.NodeTraversalTime)
}
