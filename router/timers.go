// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package router

import (
	"fmt"

	"github.com/katzenpost/anodr/rtable"
	"github.com/katzenpost/anodr/wire"
)

// OnTimer handles a timer scheduled through the Scheduler.
func (n *Node) OnTimer(t *Timer) {
	switch t.Kind {
	case TimerSweep:
		n.sweep()
	case TimerCheckReplied:
		n.checkReplied(t)
	case TimerCheckRREPAck:
		n.checkReplyAck(t)
	case TimerCheckRERRAck:
		n.checkRouteErrorAck(t)
	case TimerCheckDataAck:
		n.checkDataAck(t)
	case TimerOnionProcessing:
		n.process(t.frame, t.Link, t.ttl)
	default:
		panic(fmt.Sprintf("BUG: router: unknown timer kind %d", t.Kind))
	}
}

// sweep removes the expired entries.  Packets buffered for the remote end
// of an expired endpoint entry are dropped, unless another entry for the
// same address survives.
func (n *Node) sweep() {
	now := n.sched.Now()
	var orphaned []uint32
	n.table.ForEach(func(e *rtable.Entry) bool {
		if e.Expiry < now && isEndpoint(e) && n.buf.Pending(e.RemoteAddr) > 0 {
			orphaned = append(orphaned, e.RemoteAddr)
		}
		return true
	})

	if removed := n.table.Sweep(now); removed > 0 {
		n.log.Debugf("Swept %d expired entries, %d left.", removed, n.table.Len())
		if err := n.floods.rebuild(n.table); err != nil {
			n.log.Errorf("Failed to rebuild the flood filter: %v", err)
		}
	}
	for _, addr := range orphaned {
		if n.pending(addr) || n.buf.Pending(addr) == 0 {
			continue
		}
		dropped := n.buf.Drop(addr)
		n.stats.DataDroppedForNoRoute += uint64(dropped)
		n.log.Debugf("Route to %d expired, dropped %d buffered packets.", addr, dropped)
	}
	n.sched.Schedule(n.params.SweepPeriod(), &Timer{Kind: TimerSweep})
}

// checkReplied retries a request that is still unanswered, and gives up
// on the destination after RREQRetries retries.
func (n *Node) checkReplied(t *Timer) {
	e := n.table.FindSent(t.Dest)
	if e == nil || e.Activated || e.OutputOnion != t.Pseudonym {
		return
	}
	if e.RREQRetry < n.params.RREQRetries {
		e.RREQRetry++
		n.initiateRequest(t.Dest, e, true)
		return
	}
	n.log.Noticef("No route to %d after %d retries.", t.Dest, e.RREQRetry)
	n.abandon(t.Dest, e)
}

func (n *Node) checkReplyAck(t *Timer) {
	e := n.table.FindByUpstream(t.Pseudonym, t.Link)
	if e == nil || e.Activated {
		return
	}
	if e.RrepRetry < UnicastRetransmissionCount {
		e.RrepRetry++
		n.sendReply(e)
	}
}

func (n *Node) checkRouteErrorAck(t *Timer) {
	e := n.table.FindByUpstream(t.Pseudonym, t.Link)
	if e == nil {
		return
	}
	if e.RerrRetry < UnicastRetransmissionCount {
		e.RerrRetry++
		n.sendRouteError(e)
		return
	}
	n.table.Remove(e.Index())
}

// checkDataAck retransmits the oldest unacknowledged frame sent under the
// timer's pseudonym.  A forward frame that exhausts its retransmissions
// is handled as a broken link.
func (n *Node) checkDataAck(t *Timer) {
	frame, ok := n.buf.PopAnonymous(t.Pseudonym)
	if !ok {
		return
	}
	forward := true
	e := n.table.FindByDownstream(t.Pseudonym, t.Link)
	if e == nil {
		forward = false
		e = n.table.FindByUpstream(t.Pseudonym, t.Link)
	}
	if e == nil {
		return
	}

	if e.DataRetry < UnicastRetransmissionCount {
		e.DataRetry++
		_, link, hint := next(e, forward)
		n.unicast(link, frame, hint)
		n.buf.InsertAnonymous(t.Pseudonym, frame)
		n.sched.Schedule(n.params.AckWait(), t)
		return
	}
	if forward {
		n.handleRouteError(wire.Dummy, t.Pseudonym, t.Link)
	}
}
