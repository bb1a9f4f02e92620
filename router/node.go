// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

// Package router implements the ANODR protocol state machine.
//
// A Node is single threaded.  It is driven by its host through OnPacket,
// OnTimer, OnLinkFailure and SendData, every call runs to completion, and
// the host must serialize them.  Waiting is expressed as timers, which are
// never cancelled: every timer handler re-validates the state it refers
// to.
package router

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/anodr/buffer"
	"github.com/katzenpost/anodr/core/log"
	"github.com/katzenpost/anodr/internal/crypto"
	"github.com/katzenpost/anodr/onion"
	"github.com/katzenpost/anodr/pseudonym"
	"github.com/katzenpost/anodr/rtable"
	"github.com/katzenpost/anodr/trapdoor"
	"github.com/katzenpost/anodr/wire"
)

var (
	// ErrInvalidDestination is returned when sending to a reserved or
	// local address.
	ErrInvalidDestination = errors.New("router: invalid destination")

	// ErrPayloadSize is returned when a payload does not fit a frame.
	ErrPayloadSize = errors.New("router: payload too large")
)

// Config is the configuration of a Node.
type Config struct {
	// Address is the node address, it must not be zero.
	Address uint32

	Parameters *Parameters
	Suite      crypto.Suite
	Keys       KeyStore

	// Rand is the node-local random source.  A deterministic source makes
	// a node's behavior reproducible.
	Rand io.Reader

	Transport Transport
	Scheduler Scheduler
	Deliverer Deliverer

	// Tracer is optional.
	Tracer Tracer

	LogBackend *log.Backend
}

func (cfg *Config) validate() error {
	switch {
	case cfg.Address == rtable.Anonymous:
		return errors.New("router: the node address must not be zero")
	case cfg.Parameters == nil:
		return errors.New("router: no parameters")
	case cfg.Suite == nil:
		return errors.New("router: no crypto suite")
	case cfg.Keys == nil:
		return errors.New("router: no key store")
	case cfg.Rand == nil:
		return errors.New("router: no random source")
	case cfg.Transport == nil || cfg.Scheduler == nil || cfg.Deliverer == nil:
		return errors.New("router: missing collaborator")
	case cfg.LogBackend == nil:
		return errors.New("router: no log backend")
	}
	return cfg.Parameters.Validate()
}

// Node is one ANODR router.
type Node struct {
	log *logging.Logger

	addr   uint32
	params *Parameters
	suite  crypto.Suite
	geo    *wire.Geometry
	keys   KeyStore

	alloc     *pseudonym.Allocator
	onions    *onion.Processor
	trapdoors *trapdoor.Codec

	table  *rtable.Table
	buf    *buffer.Buffer
	floods *floodFilter

	// e2eKeys are the end-to-end keys learned as a destination, by
	// caller id.
	e2eKeys map[uint32]crypto.Key
	e2eNym  uint32

	transport Transport
	sched     Scheduler
	deliver   Deliverer
	tracer    Tracer

	stats   Stats
	started bool
}

// New creates a Node.  The node does nothing until Start is called.
func New(cfg *Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := cfg.Parameters
	alloc := pseudonym.NewAllocator(cfg.Rand)
	n := &Node{
		log:       cfg.LogBackend.GetNodeLogger("anodr", cfg.Address),
		addr:      cfg.Address,
		params:    p,
		suite:     cfg.Suite,
		geo:       wire.NewGeometry(cfg.Suite.Scheme().PublicKeySize()),
		keys:      cfg.Keys,
		alloc:     alloc,
		onions:    onion.New(cfg.Suite, p.OnionMode, alloc, cfg.Address, p.AddressHint),
		trapdoors: trapdoor.NewCodec(cfg.Suite, alloc),
		table:     rtable.New(),
		buf:       buffer.New(p.BufferMaxPackets, p.BufferMaxBytes),
		e2eKeys:   make(map[uint32]crypto.Key),
		e2eNym:    alloc.Uint32(),
		transport: cfg.Transport,
		sched:     cfg.Scheduler,
		deliver:   cfg.Deliverer,
		tracer:    cfg.Tracer,
	}
	var err error
	if n.floods, err = newFloodFilter(alloc.Reader()); err != nil {
		return nil, err
	}
	if cfg.Keys.Identity() == nil {
		return nil, errors.New("router: key store has no identity")
	}
	return n, nil
}

// Start arms the periodic route table sweep.
func (n *Node) Start() {
	if n.started {
		return
	}
	n.started = true
	n.log.Debugf("Starting: %v onions, %v crypto, delete period %v.",
		n.params.OnionMode, n.suite.Name(), n.params.DeletePeriod())
	n.sched.Schedule(n.params.SweepPeriod(), &Timer{Kind: TimerSweep})
}

// Address returns the node address.
func (n *Node) Address() uint32 {
	return n.addr
}

// Stats returns a snapshot of the node's counters.
func (n *Node) Stats() Stats {
	return n.stats
}

// RouteCount returns the number of route table entries.
func (n *Node) RouteCount() int {
	return n.table.Len()
}

// BufferedCount returns the number of buffered packets.
func (n *Node) BufferedCount() int {
	return n.buf.Len()
}

// HasActiveRoute returns true iff an activated route to addr exists.  At
// a destination, addr is the caller id the source sent, which is only
// its address when the source reveals it.
func (n *Node) HasActiveRoute(addr uint32) bool {
	e := n.table.FindByDestination(addr)
	return e != nil && e.Activated
}

// SendData sends a payload to dest, discovering a route first if needed.
// Payloads that cannot be buffered are dropped and counted.
func (n *Node) SendData(dest uint32, payload []byte) error {
	if dest == rtable.Anonymous || dest == n.addr {
		return ErrInvalidDestination
	}
	if len(payload) > wire.MaxPayloadSize {
		return ErrPayloadSize
	}

	now := n.sched.Now()
	if e := n.table.FindByDestination(dest); e != nil && e.Activated {
		e.Expiry = now + n.params.ActiveRouteTimeout
		n.sendOnRoute(e, payload)
		return nil
	}

	if !n.buf.Insert(dest, payload) {
		n.stats.DataDroppedForOverlimit++
		n.log.Debugf("Buffer full, dropping packet for %d.", dest)
	}
	if n.pending(dest) {
		n.log.Debugf("Route to %d pending, buffered.", dest)
		return nil
	}
	n.initiateRequest(dest, nil, false)
	return nil
}

func (n *Node) pending(dest uint32) bool {
	found := false
	n.table.ForEach(func(e *rtable.Entry) bool {
		found = e.RemoteAddr == dest
		return !found
	})
	return found
}

// OnPacket handles a frame received on link.  The ttl is the one the
// sender broadcast it with, and is only meaningful for route requests.
func (n *Node) OnPacket(frame []byte, link Link, ttl int) {
	n.trace(Received, link, frame)

	t, err := wire.PeekType(frame)
	if err != nil {
		n.log.Debugf("Dropping frame: %v", err)
		return
	}
	switch t {
	case wire.RREQ, wire.RREQSymKey, wire.RREP:
		if d := n.params.OnionProcessingTime; d > 0 {
			n.sched.Schedule(d, &Timer{
				Kind:  TimerOnionProcessing,
				Link:  link,
				frame: frame,
				ttl:   ttl,
			})
			return
		}
	}
	n.process(frame, link, ttl)
}

func (n *Node) process(frame []byte, link Link, ttl int) {
	f, err := wire.FromBytes(frame, n.geo)
	if err != nil {
		n.log.Debugf("Dropping malformed frame: %v", err)
		return
	}

	switch f := f.(type) {
	case *wire.RouteRequest:
		n.handleRequest(f, link, ttl)
	case *wire.RouteReply:
		n.handleReply(f, link)
	case *wire.DataFrame:
		n.handleData(f, link)
	case *wire.Control:
		if f.Pseudonym.IsReserved() {
			n.log.Debugf("Dropping %v with a reserved pseudonym.", f.Kind)
			return
		}
		switch f.Kind {
		case wire.RERR:
			n.handleRouteError(wire.RERR, f.Pseudonym, link)
		case wire.RREPAck, wire.RERRAck:
			n.handleControlAck(f.Kind, f.Pseudonym, link)
		case wire.DataAck:
			n.handleDataAck(f.Pseudonym, link)
		}
	default:
		panic(fmt.Sprintf("BUG: router: unhandled frame type %T", f))
	}
}

// OnLinkFailure handles the transport's report that frame could not be
// delivered on link.  A lost data frame is handled as a route error.
func (n *Node) OnLinkFailure(frame []byte, link Link) {
	n.stats.BrokenLinks++

	t, err := wire.PeekType(frame)
	if err != nil || t != wire.Data {
		return
	}
	f, err := wire.FromBytes(frame, n.geo)
	if err != nil {
		return
	}
	p := f.(*wire.DataFrame).Pseudonym
	n.log.Debugf("Link %d failed for %v.", link, p)
	if !p.IsReserved() {
		n.handleRouteError(wire.Dummy, p, link)
	}
}

func (n *Node) trace(dir Direction, link Link, frame []byte) {
	if n.tracer != nil {
		n.tracer.Trace(n.addr, n.sched.Now(), dir, link, frame)
	}
}

func (n *Node) broadcast(link Link, frame []byte, ttl int) {
	delay := time.Duration(uint64(n.alloc.Uint32()) * uint64(n.params.BroadcastJitter) >> 32)
	n.trace(Sent, link, frame)
	n.transport.Broadcast(link, frame, ttl, delay)
}

func (n *Node) unicast(link Link, frame []byte, hint uint32) {
	if !n.params.AddressHint {
		hint = NoHint
	}
	n.trace(Sent, link, frame)
	n.transport.Unicast(link, frame, hint)
}

// linkPseudonym returns a fresh pseudonym for the link towards the
// upstream that sent inputOnion.  With address hints, it carries this
// node's address and the upstream's.
func (n *Node) linkPseudonym(inputOnion pseudonym.Pseudonym) pseudonym.Pseudonym {
	for {
		p := n.alloc.Generate()
		if !n.params.AddressHint {
			return p
		}
		p.SetHintAddress(0, n.addr)
		p.SetHintAddress(4, inputOnion.HintAddress(onion.HintOffset))
		if !p.IsReserved() {
			return p
		}
	}
}
