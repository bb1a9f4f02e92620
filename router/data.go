// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package router

import (
	"github.com/katzenpost/anodr/pseudonym"
	"github.com/katzenpost/anodr/rtable"
	"github.com/katzenpost/anodr/wire"
)

// Hint offsets of a link pseudonym: the downstream node's address, then
// the upstream node's.
const (
	downstreamHint = 0
	upstreamHint   = 4
)

// next returns the pseudonym and link to forward on, away from the end of
// the flow a frame arrived from.
func next(e *rtable.Entry, forward bool) (pseudonym.Pseudonym, Link, uint32) {
	if forward {
		return e.Downstream, e.OutputLink, e.Downstream.HintAddress(downstreamHint)
	}
	return e.Upstream, e.InputLink, e.Upstream.HintAddress(upstreamHint)
}

// transmit unicasts a data frame, and keeps a copy until it is acked if
// data acks are enabled.
func (n *Node) transmit(p pseudonym.Pseudonym, link Link, hint uint32, payload []byte) {
	frame := wire.Marshal(&wire.DataFrame{
		Pseudonym: p,
		Payload:   payload,
	})
	n.unicast(link, frame, hint)
	if !n.params.DataAck {
		return
	}
	if !n.buf.InsertAnonymous(p, frame) {
		n.log.Debugf("Buffer full, data on %v will not be retransmitted.", p)
		return
	}
	n.sched.Schedule(n.params.AckWait(), &Timer{
		Kind:      TimerCheckDataAck,
		Pseudonym: p,
		Link:      link,
	})
}

// sendOnRoute sends a payload originated here.  A destination answers
// back along the reverse path.
func (n *Node) sendOnRoute(e *rtable.Entry, payload []byte) {
	p, link, hint := next(e, !e.IsDest)
	n.transmit(p, link, hint, payload)
	n.stats.DataInitiated++
}

func isEndpoint(e *rtable.Entry) bool {
	return e.IsDest || e.Upstream == pseudonym.SrcTag
}

// drain sends everything buffered for the remote end of e.
func (n *Node) drain(e *rtable.Entry) {
	for {
		payload, ok := n.buf.Pop(e.RemoteAddr)
		if !ok {
			return
		}
		n.sendOnRoute(e, payload)
	}
}

func (n *Node) handleData(f *wire.DataFrame, link Link) {
	p := f.Pseudonym
	if p.IsReserved() {
		n.log.Debugf("Dropping data with a reserved pseudonym.")
		return
	}

	forward := true
	e := n.table.FindByUpstream(p, link)
	if e == nil {
		forward = false
		e = n.table.FindByDownstream(p, link)
	}
	if e == nil {
		n.log.Debugf("Dropping data for unknown pseudonym %v.", p)
		return
	}

	// Data proves the route works even if its reply ack was lost.
	now := n.sched.Now()
	if !e.Activated {
		n.activate(e, now)
		if isEndpoint(e) {
			n.drain(e)
		}
	}
	if n.params.DataAck {
		hint := p.HintAddress(upstreamHint)
		if !forward {
			hint = p.HintAddress(downstreamHint)
		}
		n.unicast(link, wire.Marshal(&wire.Control{
			Kind:      wire.DataAck,
			Pseudonym: p,
		}), hint)
	}

	switch {
	case forward && e.Downstream == pseudonym.DestTag,
		!forward && e.Upstream == pseudonym.SrcTag:
		n.deliver.Deliver(e.RemoteAddr, f.Payload)
		n.stats.DataRecved++
	default:
		np, nlink, hint := next(e, forward)
		if np.IsReserved() {
			n.log.Debugf("Dropping data on an incomplete route.")
			return
		}
		n.transmit(np, nlink, hint, f.Payload)
		n.stats.DataForwarded++
		e.DataRetry = 0
	}
	e.Expiry = now + n.params.ActiveRouteTimeout
}

func (n *Node) handleDataAck(p pseudonym.Pseudonym, link Link) {
	e := n.table.FindByDownstream(p, link)
	if e == nil {
		e = n.table.FindByUpstream(p, link)
	}
	if e == nil {
		return
	}
	if _, ok := n.buf.PopAnonymous(p); ok {
		n.stats.DataAackRecved++
		e.DataRetry = 0
	}
}

// handleRouteError handles a RERR received from downstream, or a local
// report that p could not be delivered on link.  The source rediscovers
// the route, everyone else passes the error upstream.
func (n *Node) handleRouteError(kind wire.Type, p pseudonym.Pseudonym, link Link) {
	e := n.table.FindByDownstream(p, link)
	if e == nil {
		return
	}
	if kind == wire.RERR {
		n.stats.RerrRecved++
		n.unicast(e.OutputLink, wire.Marshal(&wire.Control{
			Kind:      wire.RERRAck,
			Pseudonym: e.Downstream,
		}), e.Downstream.HintAddress(downstreamHint))
		n.stats.RerrAcked++
	}

	if e.Upstream == pseudonym.SrcTag {
		n.log.Debugf("Route to %d broken, rediscovering.", e.RemoteAddr)
		n.initiateRequest(e.RemoteAddr, e, false)
		return
	}
	if !e.Upstream.IsValid() {
		return
	}
	n.sendRouteError(e)
	if kind == wire.Dummy {
		n.stats.RerrInitiated++
	} else {
		n.stats.RerrForwarded++
	}
}

func (n *Node) sendRouteError(e *rtable.Entry) {
	n.unicast(e.InputLink, wire.Marshal(&wire.Control{
		Kind:      wire.RERR,
		Pseudonym: e.Upstream,
	}), e.Upstream.HintAddress(upstreamHint))
	n.sched.Schedule(n.params.AckWait(), &Timer{
		Kind:      TimerCheckRERRAck,
		Pseudonym: e.Upstream,
		Link:      e.InputLink,
	})
}
