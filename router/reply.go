// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package router

import (
	"github.com/katzenpost/anodr/internal/crypto"
	"github.com/katzenpost/anodr/onion"
	"github.com/katzenpost/anodr/pseudonym"
	"github.com/katzenpost/anodr/rtable"
	"github.com/katzenpost/anodr/wire"
)

func nymKey(nym pseudonym.Pseudonym) *crypto.Key {
	k := crypto.Key(nym)
	return &k
}

// sendReply unicasts a route reply towards the upstream of e.  The first
// reply draws the link pseudonym that becomes e's Upstream, and
// retransmissions reuse it: the upstream node may already have recorded
// it even though its ack was lost.
func (n *Node) sendReply(e *rtable.Entry) {
	if !e.Upstream.IsValid() {
		e.Upstream = n.linkPseudonym(e.InputOnion)
	}
	nym := e.Upstream

	f := new(wire.RouteReply)
	var payload [wire.ReplyPayloadSize]byte
	copy(payload[:], e.Committed[:])
	copy(payload[crypto.KeySize:], e.InputOnion[:])
	n.suite.Stream(nymKey(nym), f.Payload[:], payload[:])

	if n.params.SealPseudonyms {
		box, err := n.suite.Seal(n.alloc.Reader(), e.UpstreamOnetimeKey, nym[:])
		if err != nil {
			n.log.Errorf("Failed to seal a reply pseudonym: %v", err)
			return
		}
		f.NymBox = box
	} else {
		f.NymBox = make([]byte, n.geo.NymBoxSize())
		copy(f.NymBox, nym[:])
	}

	n.unicast(e.InputLink, wire.Marshal(f), e.InputOnion.HintAddress(onion.HintOffset))
	if n.params.ReplyAck {
		n.sched.Schedule(n.params.AckWait(), &Timer{
			Kind:      TimerCheckRREPAck,
			Pseudonym: nym,
			Link:      e.InputLink,
		})
	}
}

type openedReply struct {
	nym       pseudonym.Pseudonym
	committed crypto.Key
	onion     pseudonym.Pseudonym
}

func (n *Node) openReplyPayload(nym pseudonym.Pseudonym, f *wire.RouteReply) *openedReply {
	var payload [wire.ReplyPayloadSize]byte
	n.suite.Stream(nymKey(nym), payload[:], f.Payload[:])
	r := &openedReply{nym: nym}
	copy(r.committed[:], payload[:crypto.KeySize])
	copy(r.onion[:], payload[crypto.KeySize:])
	return r
}

// matchReply finds the entry a reply is for.  A sealed pseudonym can only
// be opened by trying the one-time key of every pending flood.
func (n *Node) matchReply(f *wire.RouteReply) (*rtable.Entry, *openedReply) {
	if !n.params.SealPseudonyms {
		nym, err := pseudonym.FromBytes(f.NymBox[:pseudonym.Size])
		if err != nil {
			return nil, nil
		}
		r := n.openReplyPayload(nym, f)
		return n.table.FindByOutputOnion(r.onion), r
	}

	var (
		found *rtable.Entry
		r     *openedReply
	)
	n.table.ForEach(func(e *rtable.Entry) bool {
		if e.OnetimeKey == nil || e.IsDest {
			return true
		}
		b, err := n.suite.Open(e.OnetimeKey, f.NymBox)
		if err != nil || len(b) != pseudonym.Size {
			return true
		}
		cand := n.openReplyPayload(pseudonym.Pseudonym(b), f)
		if cand.onion != e.OutputOnion {
			return true
		}
		found, r = e, cand
		return false
	})
	return found, r
}

func (n *Node) handleReply(f *wire.RouteReply, link Link) {
	e, r := n.matchReply(f)
	if e == nil {
		n.log.Debugf("Dropping a reply for no known flood.")
		return
	}
	if r.nym.IsReserved() {
		n.log.Debugf("Dropping a reply with a reserved pseudonym.")
		return
	}
	if !n.trapdoors.VerifyCommitment(&r.committed, &e.Commitment) {
		n.stats.ReplyForged++
		n.log.Noticef("Dropping a reply that does not open the commitment.")
		return
	}

	n.stats.ReplyRecved++
	e.Committed = r.committed
	e.Downstream = r.nym
	e.OutputLink = link
	if n.params.ReplyAck {
		n.unicast(link, wire.Marshal(&wire.Control{
			Kind:      wire.RREPAck,
			Pseudonym: r.nym,
		}), r.nym.HintAddress(0))
		n.stats.ReplyAcked++
	}

	now := n.sched.Now()
	switch e.Upstream {
	case pseudonym.Invalid:
		n.sendReply(e)
		n.stats.ReplyForwarded++
		if !n.params.ReplyAck {
			n.activate(e, now)
		}
	case pseudonym.SrcTag:
		n.stats.ReplyRecvedAsSource++
		n.log.Debugf("Route to %d established.", e.RemoteAddr)
		n.activate(e, now)
		e.E2EConfirmed = true
		n.drain(e)
	}
}

// handleControlAck handles the anonymous acks of replies and route
// errors, which are sent back under the pseudonym they acknowledge.
func (n *Node) handleControlAck(kind wire.Type, p pseudonym.Pseudonym, link Link) {
	e := n.table.FindByUpstream(p, link)
	if e == nil {
		return
	}
	switch kind {
	case wire.RREPAck:
		n.stats.ReplyAackRecved++
		n.activate(e, n.sched.Now())
		if e.IsDest {
			n.drain(e)
		}
	case wire.RERRAck:
		n.stats.RerrAackRecved++
		n.table.Remove(e.Index())
	}
}
