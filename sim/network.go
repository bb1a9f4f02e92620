// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package sim

import (
	"errors"
	"fmt"
	mrand "math/rand"
	"slices"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/anodr/core/log"
	"github.com/katzenpost/anodr/internal/crypto"
	"github.com/katzenpost/anodr/keystore"
	"github.com/katzenpost/anodr/router"
)

// SeedSize is the size of a network seed.
const SeedSize = 32

// DefaultDelay is the link delay used when none is configured.
const DefaultDelay = 2 * time.Millisecond

// radio is the only link of every simulated node, a shared medium.
const radio router.Link = 0

// Config configures a Network.
type Config struct {
	Parameters *router.Parameters

	// CryptoMode is "real" or "simulated", NIKE names the key exchange.
	CryptoMode string
	NIKE       string

	// Seed makes the whole run reproducible.
	Seed [SeedSize]byte

	// Delay, Jitter and Loss are the defaults of new links.
	Delay  time.Duration
	Jitter time.Duration
	Loss   float64

	LogBackend *log.Backend
	Tracer     router.Tracer
}

// Link is the state of the link between two nodes.
type Link struct {
	Delay  time.Duration
	Jitter time.Duration
	Loss   float64

	cut bool
}

type linkKey struct {
	a, b uint32
}

func keyFor(a, b uint32) linkKey {
	if a > b {
		a, b = b, a
	}
	return linkKey{a, b}
}

// Delivery is a payload delivered to a node.
type Delivery struct {
	At      time.Duration
	From    uint32
	Payload []byte
}

// Network is a set of nodes sharing a Scheduler.  It is not safe for
// concurrent use.
type Network struct {
	log *logging.Logger
	cfg *Config

	sched  *Scheduler
	seeds  *rand.DeterministicRandReader
	rng    *mrand.Rand
	scheme nike.Scheme
	suite  crypto.Suite

	nodes map[uint32]*Node
	addrs []uint32
	links map[linkKey]*Link
}

// New creates an empty network.
func New(cfg *Config) (*Network, error) {
	if cfg.Parameters == nil || cfg.LogBackend == nil {
		return nil, errors.New("sim: missing parameters or log backend")
	}
	if err := cfg.Parameters.Validate(); err != nil {
		return nil, err
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Loss < 0 || cfg.Loss >= 1 {
		return nil, fmt.Errorf("sim: invalid loss rate %v", cfg.Loss)
	}

	seeds, err := rand.NewDeterministicRandReader(cfg.Seed[:])
	if err != nil {
		return nil, err
	}
	var lossSeed [SeedSize]byte
	seeds.Read(lossSeed[:])
	lossSrc, err := rand.NewDeterministicRandReader(lossSeed[:])
	if err != nil {
		return nil, err
	}

	nikeName := cfg.NIKE
	if nikeName == "" {
		nikeName = "X25519"
	}
	scheme, err := crypto.SchemeByName(nikeName, seeds)
	if err != nil {
		return nil, err
	}
	suite, err := crypto.New(cfg.CryptoMode, scheme)
	if err != nil {
		return nil, err
	}

	return &Network{
		log:    cfg.LogBackend.GetLogger("sim"),
		cfg:    cfg,
		sched:  NewScheduler(),
		seeds:  seeds,
		rng:    mrand.New(lossSrc),
		scheme: scheme,
		suite:  suite,
		nodes:  make(map[uint32]*Node),
		links:  make(map[linkKey]*Link),
	}, nil
}

// Scheduler returns the network's virtual clock.
func (n *Network) Scheduler() *Scheduler {
	return n.sched
}

// Now returns the virtual time.
func (n *Network) Now() time.Duration {
	return n.sched.Now()
}

// AddNode creates the node at addr.  Every node knows the public key of
// every other node.
func (n *Network) AddNode(addr uint32) (*Node, error) {
	if _, ok := n.nodes[addr]; ok {
		return nil, fmt.Errorf("sim: duplicate node %d", addr)
	}

	var seed [SeedSize]byte
	n.seeds.Read(seed[:])
	rng, err := rand.NewDeterministicRandReader(seed[:])
	if err != nil {
		return nil, err
	}
	pub, priv, err := n.scheme.GenerateKeyPairFromEntropy(rng)
	if err != nil {
		return nil, err
	}

	node := &Node{
		net:  n,
		addr: addr,
		pub:  pub,
		Keys: keystore.NewMemoryStore(priv),
	}
	node.Router, err = router.New(&router.Config{
		Address:    addr,
		Parameters: n.cfg.Parameters,
		Suite:      n.suite,
		Keys:       node.Keys,
		Rand:       rng,
		Transport:  node,
		Scheduler:  (*clock)(node),
		Deliverer:  node,
		Tracer:     n.cfg.Tracer,
		LogBackend: n.cfg.LogBackend,
	})
	if err != nil {
		return nil, err
	}

	for _, other := range n.nodes {
		other.Keys.AddPeer(addr, pub)
		node.Keys.AddPeer(other.addr, other.pub)
	}
	n.nodes[addr] = node
	n.addrs = append(n.addrs, addr)
	slices.Sort(n.addrs)
	return node, nil
}

// Node returns the node at addr, or nil.
func (n *Network) Node(addr uint32) *Node {
	return n.nodes[addr]
}

// Nodes returns every node, ordered by address.
func (n *Network) Nodes() []*Node {
	nodes := make([]*Node, 0, len(n.addrs))
	for _, addr := range n.addrs {
		nodes = append(nodes, n.nodes[addr])
	}
	return nodes
}

// Connect links a and b with the default link settings.
func (n *Network) Connect(a, b uint32) (*Link, error) {
	return n.ConnectWith(a, b, &Link{
		Delay:  n.cfg.Delay,
		Jitter: n.cfg.Jitter,
		Loss:   n.cfg.Loss,
	})
}

// ConnectWith links a and b.
func (n *Network) ConnectWith(a, b uint32, l *Link) (*Link, error) {
	if a == b || n.nodes[a] == nil || n.nodes[b] == nil {
		return nil, fmt.Errorf("sim: cannot link %d and %d", a, b)
	}
	n.links[keyFor(a, b)] = l
	return l, nil
}

// CutLink breaks the link between a and b.  Unicast frames sent over a
// cut link are reported back to their sender as link failures.
func (n *Network) CutLink(a, b uint32) {
	if l := n.links[keyFor(a, b)]; l != nil {
		n.log.Debugf("Cutting link %d-%d at %v.", a, b, n.sched.Now())
		l.cut = true
	}
}

// RestoreLink repairs a cut link.
func (n *Network) RestoreLink(a, b uint32) {
	if l := n.links[keyFor(a, b)]; l != nil {
		l.cut = false
	}
}

func (n *Network) link(a, b uint32) *Link {
	l := n.links[keyFor(a, b)]
	if l == nil || l.cut {
		return nil
	}
	return l
}

func (n *Network) neighbors(addr uint32) []uint32 {
	var nbrs []uint32
	for _, other := range n.addrs {
		if other != addr && n.link(addr, other) != nil {
			nbrs = append(nbrs, other)
		}
	}
	return nbrs
}

// Start starts every node.
func (n *Network) Start() {
	for _, node := range n.Nodes() {
		node.Router.Start()
	}
}

// Run advances the network by d.
func (n *Network) Run(d time.Duration) {
	n.sched.RunFor(d)
}

func (n *Network) transit(l *Link) (time.Duration, bool) {
	if l.Loss > 0 && n.rng.Float64() < l.Loss {
		return 0, false
	}
	d := l.Delay
	if l.Jitter > 0 {
		d += time.Duration(n.rng.Int63n(int64(l.Jitter)))
	}
	return d, true
}

func (n *Network) send(from uint32, to uint32, frame []byte, ttl int, delay time.Duration) {
	d, ok := n.transit(n.link(from, to))
	if !ok {
		return
	}
	dst := n.nodes[to]
	f := slices.Clone(frame)
	n.sched.At(delay+d, func() {
		dst.Router.OnPacket(f, radio, ttl)
	})
}

// Flow is a constant rate stream of payloads between two nodes.
type Flow struct {
	Source      uint32
	Destination uint32
	Start       time.Duration
	Interval    time.Duration
	Count       int
	Size        int
}

// AddFlow schedules the payloads of f, built by FlowPayload.
func (n *Network) AddFlow(f *Flow) error {
	src := n.nodes[f.Source]
	if src == nil || n.nodes[f.Destination] == nil {
		return fmt.Errorf("sim: flow between unknown nodes %d and %d", f.Source, f.Destination)
	}
	for i := 0; i < f.Count; i++ {
		payload := FlowPayload(i, f.Size)
		n.sched.At(f.Start+time.Duration(i)*f.Interval-n.sched.Now(), func() {
			if err := src.Router.SendData(f.Destination, payload); err != nil {
				n.log.Warningf("Flow %d->%d: %v", f.Source, f.Destination, err)
			}
		})
	}
	return nil
}

// FlowPayload returns payload i of a flow.  It starts with i as a big
// endian 32 bit integer when large enough.
func FlowPayload(i, size int) []byte {
	payload := make([]byte, size)
	for j := 0; j < 4 && j < len(payload); j++ {
		payload[j] = byte(uint32(i) >> (24 - 8*j))
	}
	return payload
}

// Node is a router attached to the simulated network.
type Node struct {
	net  *Network
	addr uint32
	pub  nike.PublicKey

	Router *router.Node
	Keys   *keystore.MemoryStore

	// Received holds every payload delivered to the node, in order.
	Received []Delivery

	// OnDeliver is called on every delivery if set.
	OnDeliver func(from uint32, payload []byte)
}

// Address returns the node address.
func (node *Node) Address() uint32 {
	return node.addr
}

// PublicKey returns the node's public key.
func (node *Node) PublicKey() nike.PublicKey {
	return node.pub
}

// Links implements router.Transport.
func (node *Node) Links() []router.Link {
	return []router.Link{radio}
}

// Broadcast implements router.Transport.
func (node *Node) Broadcast(link router.Link, frame []byte, ttl int, delay time.Duration) {
	for _, to := range node.net.neighbors(node.addr) {
		node.net.send(node.addr, to, frame, ttl, delay)
	}
}

// Unicast implements router.Transport.  Without a hint the frame reaches
// every neighbor.
func (node *Node) Unicast(link router.Link, frame []byte, hint uint32) {
	var targets []uint32
	switch hint {
	case router.NoHint:
		targets = node.net.neighbors(node.addr)
	default:
		if node.net.link(node.addr, hint) != nil {
			targets = []uint32{hint}
		}
	}
	if len(targets) == 0 {
		f := slices.Clone(frame)
		node.net.sched.At(node.net.cfg.Delay, func() {
			node.Router.OnLinkFailure(f, link)
		})
		return
	}
	for _, to := range targets {
		node.net.send(node.addr, to, frame, 0, 0)
	}
}

// Deliver implements router.Deliverer.
func (node *Node) Deliver(from uint32, payload []byte) {
	node.Received = append(node.Received, Delivery{
		At:      node.net.sched.Now(),
		From:    from,
		Payload: payload,
	})
	if node.OnDeliver != nil {
		node.OnDeliver(from, payload)
	}
}

// clock is a node's view of the Scheduler.
type clock Node

func (c *clock) Now() time.Duration {
	return c.net.sched.Now()
}

func (c *clock) Schedule(delay time.Duration, t *router.Timer) {
	node := (*Node)(c)
	c.net.sched.At(delay, func() {
		node.Router.OnTimer(t)
	})
}
