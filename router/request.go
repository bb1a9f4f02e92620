// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package router

import (
	"time"

	"github.com/katzenpost/hpqc/nike"

	"github.com/katzenpost/anodr/internal/crypto"
	"github.com/katzenpost/anodr/pseudonym"
	"github.com/katzenpost/anodr/rtable"
	"github.com/katzenpost/anodr/trapdoor"
	"github.com/katzenpost/anodr/wire"
)

func (n *Node) onetimeKeyPair() (nike.PublicKey, nike.PrivateKey, error) {
	return n.suite.Scheme().GenerateKeyPairFromEntropy(n.alloc.Reader())
}

func (n *Node) callerID(dest uint32) uint32 {
	if n.params.HideSource {
		return n.e2eNym ^ dest
	}
	return n.addr
}

// initiateRequest floods a route request for dest.  The previous entry
// for dest, if any, supplies the end-to-end key.  A symmetric trapdoor is
// used once that key is known to the destination, except on retries.
func (n *Node) initiateRequest(dest uint32, prev *rtable.Entry, retry bool) {
	var (
		e2eKey    *crypto.Key
		confirmed bool
	)
	if prev != nil && prev.E2EKey != (crypto.Key{}) {
		k := prev.E2EKey
		e2eKey = &k
		confirmed = prev.E2EConfirmed
	}
	symmetric := confirmed && !retry

	var destKey nike.PublicKey
	if !symmetric {
		var err error
		if destKey, err = n.keys.PeerKey(dest); err != nil {
			n.log.Warningf("No key for %d, dropping its traffic: %v", dest, err)
			n.abandon(dest, prev)
			return
		}
	}

	built, err := n.trapdoors.Build(destKey, n.callerID(dest), e2eKey, symmetric)
	if err != nil {
		n.log.Warningf("Failed to build a trapdoor for %d: %v", dest, err)
		n.abandon(dest, prev)
		return
	}
	pub, priv, err := n.onetimeKeyPair()
	if err != nil {
		n.log.Errorf("Failed to generate a one-time key: %v", err)
		n.abandon(dest, prev)
		return
	}

	core := n.onions.Core()
	floodKey := n.onions.FloodKey()
	out := n.onions.Transform(core, &floodKey)
	td := built.Trapdoor.Bytes()

	e := n.table.Upsert(&rtable.Flood{
		RemoteAddr:  dest,
		Trapdoor:    td,
		Commitment:  built.Trapdoor.Commitment,
		InputOnion:  core,
		OutputOnion: out,
		OnionKey:    floodKey,
		OnetimeKey:  priv,
		Upstream:    pseudonym.SrcTag,
		InputLink:   LocalLink,
		Expiry:      n.sched.Now() + n.params.FloodRecordTime(),
		E2EKey:      built.E2EKey,
		Retry:       retry,
	})
	e.E2EConfirmed = confirmed && !built.NewE2EKey
	n.floods.testAndSet(td)

	frame := wire.Marshal(&wire.RouteRequest{
		Symmetric:  symmetric,
		Trapdoor:   td,
		Onion:      out,
		OnetimeKey: pub.Bytes(),
	})
	for _, link := range n.transport.Links() {
		n.broadcast(link, frame, n.params.NetDiameter)
	}
	n.sched.Schedule(n.params.ReplyWait(), &Timer{
		Kind:      TimerCheckReplied,
		Dest:      dest,
		Pseudonym: out,
	})

	if retry {
		n.stats.RequestResent++
		n.log.Debugf("Resent request %d for %d.", e.RREQRetry, dest)
	} else {
		n.stats.RequestInitiated++
		n.log.Debugf("Initiated request for %d (symmetric: %v).", dest, symmetric)
	}
}

// abandon drops everything buffered for dest along with its entry.
func (n *Node) abandon(dest uint32, e *rtable.Entry) {
	n.stats.DataDroppedForNoRoute += uint64(n.buf.Drop(dest))
	if e != nil {
		n.table.Remove(e.Index())
	}
}

func (n *Node) isDuplicate(td []byte) bool {
	if n.floods.full() {
		if err := n.floods.rebuild(n.table); err != nil {
			n.log.Errorf("Failed to rebuild the flood filter: %v", err)
		}
	}
	if !n.floods.testAndSet(td) {
		return false
	}
	return n.table.FindByTrapdoor(td) != nil
}

func (n *Node) handleRequest(f *wire.RouteRequest, link Link, ttl int) {
	n.stats.RequestRecved++
	if n.isDuplicate(f.Trapdoor) {
		n.stats.RequestDuplicate++
		return
	}

	td, err := n.trapdoors.Parse(f.Symmetric, f.Trapdoor)
	if err != nil {
		n.log.Debugf("Dropping request: %v", err)
		return
	}
	upstreamKey, err := n.suite.Scheme().UnmarshalBinaryPublicKey(f.OnetimeKey)
	if err != nil {
		n.log.Debugf("Dropping request with a bad one-time key: %v", err)
		return
	}
	pub, priv, err := n.onetimeKeyPair()
	if err != nil {
		n.log.Errorf("Failed to generate a one-time key: %v", err)
		return
	}

	floodKey := n.onions.FloodKey()
	out := n.onions.Transform(f.Onion, &floodKey)
	now := n.sched.Now()
	e := n.table.Upsert(&rtable.Flood{
		Trapdoor:           f.Trapdoor,
		Commitment:         td.Commitment,
		InputOnion:         f.Onion,
		OutputOnion:        out,
		OnionKey:           floodKey,
		UpstreamOnetimeKey: upstreamKey,
		OnetimeKey:         priv,
		Upstream:           pseudonym.Invalid,
		InputLink:          link,
		Expiry:             now + n.params.FloodRecordTime(),
	})

	// The destination relays too, so that it looks like any other node.
	if ttl-1 > 0 {
		frame := wire.Marshal(&wire.RouteRequest{
			Symmetric:  f.Symmetric,
			Trapdoor:   f.Trapdoor,
			Onion:      out,
			OnetimeKey: pub.Bytes(),
		})
		for _, l := range n.transport.Links() {
			n.broadcast(l, frame, ttl-1)
		}
		n.stats.RequestRelayed++
	}

	keys := &trapdoor.KeySet{Private: n.keys.Identity()}
	if f.Symmetric {
		keys.Private = nil
		keys.E2E = make([]crypto.Key, 0, len(n.e2eKeys))
		for _, k := range n.e2eKeys {
			keys.E2E = append(keys.E2E, k)
		}
	}
	opened, ok := n.trapdoors.TryOpen(td, keys)
	if !ok {
		return
	}

	n.stats.RequestRecvedAsDest++
	if opened.Symmetric {
		n.stats.RequestRecvedAsDestWithSymKey++
	}
	caller := opened.CallerID
	n.log.Debugf("Request from caller %d reached its destination.", caller)

	e.IsDest = true
	e.RemoteAddr = caller
	e.E2EKey = opened.E2EKey
	e.Committed = opened.RevealKey
	e.Downstream = pseudonym.DestTag
	e.OutputLink = LocalLink
	n.e2eKeys[caller] = opened.E2EKey

	// The most recent flood from a caller replaces its older routes.
	n.table.ForEach(func(o *rtable.Entry) bool {
		if o.IsDest && o.RemoteAddr == caller && o.Index() != e.Index() {
			n.table.Remove(o.Index())
		}
		return true
	})

	n.sendReply(e)
	n.stats.ReplyInitiatedAsDest++
	if !n.params.ReplyAck {
		n.activate(e, now)
		n.drain(e)
	}
}

func (n *Node) activate(e *rtable.Entry, now time.Duration) {
	e.Activated = true
	e.Expiry = now + n.params.ActiveRouteTimeout
}
