// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package router_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/anodr/core/log"
	"github.com/katzenpost/anodr/internal/crypto"
	"github.com/katzenpost/anodr/onion"
	"github.com/katzenpost/anodr/pseudonym"
	"github.com/katzenpost/anodr/router"
	"github.com/katzenpost/anodr/sim"
	"github.com/katzenpost/anodr/wire"
)

func testParams() *router.Parameters {
	p := router.DefaultParameters()
	p.NetDiameter = 16
	p.NodeTraversalTime = 10 * time.Millisecond
	p.ActiveRouteTimeout = 2 * time.Second
	return p
}

type frameLog struct {
	frames []tracedFrame
}

type tracedFrame struct {
	node  uint32
	dir   router.Direction
	frame []byte
}

func (l *frameLog) Trace(node uint32, now time.Duration, dir router.Direction, link router.Link, frame []byte) {
	l.frames = append(l.frames, tracedFrame{node, dir, append([]byte(nil), frame...)})
}

func newNetwork(t *testing.T, p *router.Parameters, mode string, tracer router.Tracer, addrs ...uint32) *sim.Network {
	backend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	cfg := &sim.Config{
		Parameters: p,
		CryptoMode: mode,
		LogBackend: backend,
		Tracer:     tracer,
	}
	copy(cfg.Seed[:], t.Name())
	net, err := sim.New(cfg)
	require.NoError(t, err)
	for _, addr := range addrs {
		_, err := net.AddNode(addr)
		require.NoError(t, err)
	}
	return net
}

func chain(t *testing.T, net *sim.Network, addrs ...uint32) {
	for i := 1; i < len(addrs); i++ {
		_, err := net.Connect(addrs[i-1], addrs[i])
		require.NoError(t, err)
	}
}

func payload(i int) []byte {
	return []byte(fmt.Sprintf("payload %d", i))
}

func TestRoundTrip(t *testing.T) {
	require := require.New(t)

	net := newNetwork(t, testParams(), "real", nil, 1, 2, 3, 4)
	chain(t, net, 1, 2, 3, 4)
	net.Start()

	src, dst := net.Node(1), net.Node(4)
	for i := 0; i < 3; i++ {
		require.NoError(src.Router.SendData(4, payload(i)))
	}
	net.Run(time.Second)

	require.Len(dst.Received, 3)
	caller := dst.Received[0].From
	require.NotEqual(uint32(1), caller, "the caller id must hide the source")
	for i, d := range dst.Received {
		require.Equal(payload(i), d.Payload, "delivery must be in order")
		require.Equal(caller, d.From)
	}
	require.True(src.Router.HasActiveRoute(4))

	// The destination answers along the reverse path.
	require.NoError(dst.Router.SendData(caller, []byte("pong")))
	net.Run(time.Second)
	require.Len(src.Received, 1)
	require.Equal(uint32(4), src.Received[0].From)
	require.Equal([]byte("pong"), src.Received[0].Payload)

	s := src.Router.Stats()
	require.Equal(uint64(1), s.RequestInitiated)
	require.Equal(uint64(1), s.ReplyRecvedAsSource)
	require.Equal(uint64(3), s.DataInitiated)
	require.Equal(uint64(1), s.DataRecved)
	require.NotZero(s.RequestDuplicate, "the source must drop its own echoed flood")

	s = dst.Router.Stats()
	require.Equal(uint64(1), s.RequestRecvedAsDest)
	require.Equal(uint64(1), s.ReplyInitiatedAsDest)
	require.Equal(uint64(1), s.ReplyAackRecved)
	require.Equal(uint64(3), s.DataRecved)

	for _, addr := range []uint32{2, 3} {
		s = net.Node(addr).Router.Stats()
		assert.Equal(t, uint64(4), s.DataForwarded, "node %d", addr)
		assert.Equal(t, uint64(1), s.ReplyForwarded, "node %d", addr)
		assert.Zero(t, s.RequestRecvedAsDest, "node %d", addr)
	}
}

func TestDuplicateSuppression(t *testing.T) {
	require := require.New(t)

	net := newNetwork(t, testParams(), "real", nil, 1, 2, 3, 4)
	chain(t, net, 1, 2, 4)
	chain(t, net, 1, 3, 4)
	net.Start()

	require.NoError(net.Node(1).Router.SendData(4, payload(0)))
	net.Run(time.Second)

	dst := net.Node(4)
	require.Len(dst.Received, 1)
	s := dst.Router.Stats()
	require.Equal(uint64(2), s.RequestRecved)
	require.Equal(uint64(1), s.RequestDuplicate)
	require.Equal(uint64(1), s.RequestRecvedAsDest)
}

func TestNoRouteBoundedRetry(t *testing.T) {
	require := require.New(t)

	p := testParams()
	net := newNetwork(t, p, "real", nil, 1, 2, 3)
	chain(t, net, 1, 2)
	net.Start()

	src := net.Node(1)
	for i := 0; i < 4; i++ {
		require.NoError(src.Router.SendData(3, payload(i)))
	}
	net.Run(time.Duration(p.RREQRetries+2) * p.ReplyWait())

	s := src.Router.Stats()
	require.Equal(uint64(1), s.RequestInitiated, "later packets must wait for the pending request")
	require.Equal(uint64(p.RREQRetries), s.RequestResent)
	require.Equal(uint64(4), s.DataDroppedForNoRoute)
	require.Zero(src.Router.BufferedCount())
	require.Zero(src.Router.RouteCount())
	require.Empty(net.Node(3).Received)
}

func TestBufferOverlimit(t *testing.T) {
	require := require.New(t)

	p := testParams()
	p.BufferMaxPackets = 2
	net := newNetwork(t, p, "real", nil, 1, 2)
	net.Start()

	src := net.Node(1)
	for i := 0; i < 5; i++ {
		require.NoError(src.Router.SendData(2, payload(i)))
	}
	s := src.Router.Stats()
	require.Equal(uint64(3), s.DataDroppedForOverlimit)
	require.Equal(2, src.Router.BufferedCount())
}

func TestSendDataErrors(t *testing.T) {
	require := require.New(t)

	net := newNetwork(t, testParams(), "real", nil, 1)
	r := net.Node(1).Router
	require.ErrorIs(r.SendData(0, payload(0)), router.ErrInvalidDestination)
	require.ErrorIs(r.SendData(1, payload(0)), router.ErrInvalidDestination)
	require.ErrorIs(r.SendData(2, make([]byte, wire.MaxPayloadSize+1)), router.ErrPayloadSize)
}

func TestMissingPeerKey(t *testing.T) {
	require := require.New(t)

	net := newNetwork(t, testParams(), "real", nil, 1, 2)
	chain(t, net, 1, 2)
	net.Start()

	src := net.Node(1)
	src.Keys.RemovePeer(2)
	require.NoError(src.Router.SendData(2, payload(0)))

	s := src.Router.Stats()
	require.Zero(s.RequestInitiated)
	require.Equal(uint64(1), s.DataDroppedForNoRoute)
	require.Zero(src.Router.RouteCount())
}

func TestForgedReplyRejected(t *testing.T) {
	require := require.New(t)

	frames := new(frameLog)
	net := newNetwork(t, testParams(), "real", frames, 1, 2)
	net.Start()

	src := net.Node(1)
	require.NoError(src.Router.SendData(2, payload(0)))

	var rreq *wire.RouteRequest
	g := wire.NewGeometry(x25519.Scheme(rand.Reader).PublicKeySize())
	for _, f := range frames.frames {
		if f.node == 1 && f.dir == router.Sent {
			parsed, err := wire.FromBytes(f.frame, g)
			require.NoError(err)
			rreq = parsed.(*wire.RouteRequest)
		}
	}
	require.NotNil(rreq, "the source must flood a request")

	// A reply for the right flood, but with a made up reveal key.
	scheme := x25519.Scheme(rand.Reader)
	suite, err := crypto.New("real", scheme)
	require.NoError(err)
	upstream, err := scheme.UnmarshalBinaryPublicKey(rreq.OnetimeKey)
	require.NoError(err)

	alloc := pseudonym.NewAllocator(rand.Reader)
	nym := alloc.Generate()
	var pt [wire.ReplyPayloadSize]byte
	alloc.Fill(pt[:crypto.KeySize])
	copy(pt[crypto.KeySize:], rreq.Onion[:])
	reply := new(wire.RouteReply)
	key := crypto.Key(nym)
	suite.Stream(&key, reply.Payload[:], pt[:])
	reply.NymBox, err = suite.Seal(rand.Reader, upstream, nym[:])
	require.NoError(err)

	src.Router.OnPacket(wire.Marshal(reply), 0, 0)
	net.Run(100 * time.Millisecond)

	s := src.Router.Stats()
	require.Equal(uint64(1), s.ReplyForged)
	require.Zero(s.ReplyRecved)
	require.False(src.Router.HasActiveRoute(2))
	require.Equal(1, src.Router.BufferedCount())
}

func TestRouteErrorRediscovery(t *testing.T) {
	require := require.New(t)

	net := newNetwork(t, testParams(), "real", nil, 1, 2, 3, 4, 5)
	chain(t, net, 1, 2, 3, 4)
	for _, pair := range [][2]uint32{{2, 5}, {5, 4}} {
		_, err := net.ConnectWith(pair[0], pair[1], &sim.Link{Delay: 30 * time.Millisecond})
		require.NoError(err)
	}
	net.Start()

	src, dst := net.Node(1), net.Node(4)
	require.NoError(src.Router.SendData(4, payload(0)))
	net.Run(time.Second)
	require.Len(dst.Received, 1)
	require.NotZero(net.Node(3).Router.Stats().DataForwarded, "the first route must be the short one")

	net.CutLink(3, 4)
	require.NoError(src.Router.SendData(4, payload(1)))
	net.Run(time.Second)
	require.NoError(src.Router.SendData(4, payload(2)))
	net.Run(time.Second)

	require.Len(dst.Received, 2, "the packet in flight on the cut link is lost")
	require.Equal(payload(2), dst.Received[1].Payload)

	require.Equal(uint64(1), net.Node(3).Router.Stats().RerrInitiated)
	require.Equal(uint64(1), net.Node(3).Router.Stats().BrokenLinks)
	require.Equal(uint64(1), net.Node(2).Router.Stats().RerrForwarded)
	require.Equal(uint64(1), net.Node(2).Router.Stats().RerrAackRecved)

	s := src.Router.Stats()
	require.Equal(uint64(1), s.RerrRecved)
	require.Equal(uint64(2), s.RequestInitiated)
	require.Equal(uint64(1), dst.Router.Stats().RequestRecvedAsDestWithSymKey,
		"rediscovery must use the confirmed end-to-end key")
	require.NotZero(net.Node(5).Router.Stats().DataForwarded)
}

func TestASRSimulatedWithoutHints(t *testing.T) {
	require := require.New(t)

	p := testParams()
	p.OnionMode = onion.ModeASR
	p.AddressHint = false
	p.SealPseudonyms = false
	p.HideSource = false
	net := newNetwork(t, p, "simulated", nil, 1, 2, 3, 4)
	chain(t, net, 1, 2, 3, 4)
	net.Start()

	src, dst := net.Node(1), net.Node(4)
	for i := 0; i < 3; i++ {
		require.NoError(src.Router.SendData(4, payload(i)))
	}
	net.Run(time.Second)

	require.Len(dst.Received, 3)
	for i, d := range dst.Received {
		require.Equal(uint32(1), d.From, "the source address is revealed")
		require.Equal(payload(i), d.Payload)
	}
	require.NoError(dst.Router.SendData(1, []byte("pong")))
	net.Run(time.Second)
	require.Len(src.Received, 1)
}

func TestDataAck(t *testing.T) {
	require := require.New(t)

	p := testParams()
	p.DataAck = true
	net := newNetwork(t, p, "real", nil, 1, 2, 3)
	chain(t, net, 1, 2, 3)
	net.Start()

	src := net.Node(1)
	for i := 0; i < 5; i++ {
		require.NoError(src.Router.SendData(3, payload(i)))
	}
	net.Run(time.Second)

	require.Len(net.Node(3).Received, 5)
	require.Equal(uint64(5), src.Router.Stats().DataAackRecved)
	require.Equal(uint64(5), net.Node(2).Router.Stats().DataAackRecved)
	for _, n := range net.Nodes() {
		require.Zero(n.Router.BufferedCount(), "node %d must hold no unacked copies", n.Address())
	}
}

func TestRouteExpiry(t *testing.T) {
	require := require.New(t)

	p := testParams()
	p.ActiveRouteTimeout = 500 * time.Millisecond
	net := newNetwork(t, p, "real", nil, 1, 2, 3)
	chain(t, net, 1, 2, 3)
	net.Start()

	src := net.Node(1)
	require.NoError(src.Router.SendData(3, payload(0)))
	net.Run(300 * time.Millisecond)
	require.True(src.Router.HasActiveRoute(3))

	net.Run(3 * time.Second)
	for _, n := range net.Nodes() {
		require.Zero(n.Router.RouteCount(), "node %d", n.Address())
	}

	require.NoError(src.Router.SendData(3, payload(1)))
	net.Run(time.Second)
	require.Len(net.Node(3).Received, 2)
	require.Equal(uint64(2), src.Router.Stats().RequestInitiated)
}

func TestX448WithProcessingDelay(t *testing.T) {
	require := require.New(t)

	p := testParams()
	p.HideSource = false
	p.OnionProcessingTime = 5 * time.Millisecond

	backend, err := log.New("", "DEBUG", true)
	require.NoError(err)
	cfg := &sim.Config{
		Parameters: p,
		NIKE:       "X448",
		LogBackend: backend,
	}
	copy(cfg.Seed[:], t.Name())
	net, err := sim.New(cfg)
	require.NoError(err)
	for _, addr := range []uint32{1, 2, 3} {
		_, err := net.AddNode(addr)
		require.NoError(err)
	}
	chain(t, net, 1, 2, 3)
	net.Start()

	require.NoError(net.Node(1).Router.SendData(3, payload(0)))
	net.Run(2 * time.Second)

	dst := net.Node(3)
	require.Len(dst.Received, 1)
	require.Equal(uint32(1), dst.Received[0].From, "the source revealed its address")

	require.NoError(dst.Router.SendData(1, []byte("pong")))
	net.Run(time.Second)
	require.Len(net.Node(1).Received, 1)
	require.Equal(uint32(3), net.Node(1).Received[0].From)
}

func TestReplyAckLossRecoveredByData(t *testing.T) {
	require := require.New(t)

	p := testParams()
	p.NetDiameter = 64
	p.HideSource = false
	net := newNetwork(t, p, "real", nil, 1, 2, 3)
	_, err := net.ConnectWith(1, 2, &sim.Link{Delay: 300 * time.Millisecond})
	require.NoError(err)
	_, err = net.Connect(2, 3)
	require.NoError(err)
	net.Start()

	src, dst := net.Node(1), net.Node(3)
	require.NoError(src.Router.SendData(3, payload(0)))
	for dst.Router.Stats().ReplyInitiatedAsDest == 0 {
		require.True(net.Scheduler().Step())
	}

	// The reply is already in flight.  Its ack and every retransmission
	// are lost.
	net.CutLink(2, 3)
	require.NoError(dst.Router.SendData(1, []byte("early")))
	require.Equal(1, dst.Router.BufferedCount())
	net.Run(250 * time.Millisecond)
	require.False(dst.Router.HasActiveRoute(1))
	net.RestoreLink(2, 3)

	// The first data frame activates the route at the destination, which
	// then sends what it buffered.
	net.Run(time.Second)
	require.Len(dst.Received, 1)
	require.Equal(uint32(1), dst.Received[0].From)
	require.True(dst.Router.HasActiveRoute(1))
	require.Zero(dst.Router.BufferedCount())
	require.Len(src.Received, 1)
	require.Equal([]byte("early"), src.Received[0].Payload)

	for i := 1; i < 5; i++ {
		require.NoError(src.Router.SendData(3, payload(i)))
	}
	net.Run(time.Second)
	require.Len(dst.Received, 5)
	for i, d := range dst.Received {
		require.Equal(payload(i), d.Payload)
	}
	require.Zero(src.Router.Stats().RerrRecved)
}

func TestExpiredRouteDropsBuffered(t *testing.T) {
	require := require.New(t)

	p := testParams()
	p.HideSource = false
	net := newNetwork(t, p, "real", nil, 1, 2, 3)
	chain(t, net, 1, 2, 3)
	net.Start()

	src, dst := net.Node(1), net.Node(3)
	require.NoError(src.Router.SendData(3, payload(0)))
	for dst.Router.Stats().ReplyInitiatedAsDest == 0 {
		require.True(net.Scheduler().Step())
	}
	net.CutLink(2, 3)

	// The route is never activated, so the answer waits in the buffer
	// until the entry expires.
	require.NoError(dst.Router.SendData(1, []byte("reply")))
	require.Equal(1, dst.Router.BufferedCount())
	net.Run(5 * time.Second)

	require.Zero(dst.Router.RouteCount())
	require.Zero(dst.Router.BufferedCount())
	require.Equal(uint64(1), dst.Router.Stats().DataDroppedForNoRoute)
	require.Empty(src.Received)
}

func TestRouteErrorAckExhaustion(t *testing.T) {
	require := require.New(t)

	net := newNetwork(t, testParams(), "real", nil, 1, 2, 3)
	chain(t, net, 1, 2, 3)
	net.Start()

	src, fwd := net.Node(1), net.Node(2)
	require.NoError(src.Router.SendData(3, payload(0)))
	net.Run(200 * time.Millisecond)
	require.Len(net.Node(3).Received, 1)
	require.Equal(1, fwd.Router.RouteCount())

	net.CutLink(2, 3)
	require.NoError(src.Router.SendData(3, payload(1)))
	for fwd.Router.Stats().RerrInitiated == 0 {
		require.True(net.Scheduler().Step())
	}

	// The route error reaches the source, but no ack makes it back.
	net.CutLink(1, 2)
	require.Equal(1, fwd.Router.RouteCount())
	net.Run(300 * time.Millisecond)

	s := fwd.Router.Stats()
	require.Equal(uint64(1), s.RerrInitiated)
	require.Zero(s.RerrAackRecved)
	require.Zero(fwd.Router.RouteCount())
	require.Equal(uint64(1), src.Router.Stats().RerrRecved)
}

func TestDataBoundToLink(t *testing.T) {
	require := require.New(t)

	frames := new(frameLog)
	net := newNetwork(t, testParams(), "real", frames, 1, 2, 3)
	chain(t, net, 1, 2, 3)
	net.Start()

	require.NoError(net.Node(1).Router.SendData(3, payload(0)))
	net.Run(200 * time.Millisecond)
	require.Len(net.Node(3).Received, 1)

	var data []byte
	for _, f := range frames.frames {
		if typ, err := wire.PeekType(f.frame); err == nil && typ == wire.Data && f.node == 1 && f.dir == router.Sent {
			data = f.frame
		}
	}
	require.NotNil(data)

	// The pseudonym is only known on the link the route was set up over.
	fwd := net.Node(2)
	forwarded := fwd.Router.Stats().DataForwarded
	fwd.Router.OnPacket(data, 7, 0)
	net.Run(100 * time.Millisecond)
	require.Equal(forwarded, fwd.Router.Stats().DataForwarded)

	fwd.Router.OnPacket(data, 0, 0)
	net.Run(100 * time.Millisecond)
	require.Equal(forwarded+1, fwd.Router.Stats().DataForwarded)
	require.Len(net.Node(3).Received, 2)
}
