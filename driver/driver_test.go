// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package driver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/anodr/core/log"
	"github.com/katzenpost/anodr/internal/crypto"
	"github.com/katzenpost/anodr/keystore"
	"github.com/katzenpost/anodr/router"
)

func TestTimerQueueOrder(t *testing.T) {
	require := require.New(t)

	fired := make(chan router.TimerKind, 3)
	q := NewTimerQueue(func(t *router.Timer) {
		fired <- t.Kind
	})
	defer q.Halt()

	q.Push(60*time.Millisecond, &router.Timer{Kind: router.TimerCheckDataAck})
	q.Push(20*time.Millisecond, &router.Timer{Kind: router.TimerCheckReplied})
	q.Push(40*time.Millisecond, &router.Timer{Kind: router.TimerCheckRREPAck})

	var order []router.TimerKind
	for i := 0; i < 3; i++ {
		select {
		case k := <-fired:
			order = append(order, k)
		case <-time.After(5 * time.Second):
			t.Fatal("timer did not fire")
		}
	}
	require.Equal([]router.TimerKind{
		router.TimerCheckReplied,
		router.TimerCheckRREPAck,
		router.TimerCheckDataAck,
	}, order)
	require.Zero(q.Len())
}

type delivery struct {
	from    uint32
	payload []byte
}

func TestDriverChain(t *testing.T) {
	require := require.New(t)

	backend, err := log.New("", "DEBUG", true)
	require.NoError(err)

	p := router.DefaultParameters()
	p.NodeTraversalTime = 20 * time.Millisecond
	p.NetDiameter = 10

	scheme := x25519.Scheme(rand.Reader)
	suite, err := crypto.New("real", scheme)
	require.NoError(err)

	hub := NewHub(time.Millisecond, backend)
	addrs := []uint32{1, 2, 3}
	stores := make(map[uint32]*keystore.MemoryStore)
	pubs := make(map[uint32][]byte)
	for _, addr := range addrs {
		pub, priv, err := scheme.GenerateKeyPair()
		require.NoError(err)
		stores[addr] = keystore.NewMemoryStore(priv)
		pubs[addr] = pub.Bytes()
	}
	for _, addr := range addrs {
		for _, other := range addrs {
			if other != addr {
				pk, err := scheme.UnmarshalBinaryPublicKey(pubs[other])
				require.NoError(err)
				stores[addr].AddPeer(other, pk)
			}
		}
	}
	hub.Connect(1, 2)
	hub.Connect(2, 3)

	received := make(chan delivery, 8)
	drivers := make(map[uint32]*Driver)
	for _, addr := range addrs {
		cfg := &Config{
			Address:    addr,
			Parameters: p,
			Suite:      suite,
			Keys:       stores[addr],
			Rand:       rand.Reader,
			Hub:        hub,
			LogBackend: backend,
		}
		if addr == 3 {
			cfg.OnDeliver = func(from uint32, payload []byte) {
				received <- delivery{from, payload}
			}
		}
		d, err := New(cfg)
		require.NoError(err)
		d.Start()
		defer d.Halt()
		drivers[addr] = d
	}

	_, err = New(&Config{
		Address:    1,
		Parameters: p,
		Suite:      suite,
		Keys:       stores[1],
		Rand:       rand.Reader,
		Hub:        hub,
		LogBackend: backend,
	})
	require.Error(err, "an address can only be attached once")

	require.NoError(drivers[1].SendData(3, []byte("first")))
	require.NoError(drivers[1].SendData(3, []byte("second")))

	for _, want := range []string{"first", "second"} {
		select {
		case d := <-received:
			require.Equal(want, string(d.payload))
			require.NotZero(d.from)
		case <-time.After(10 * time.Second):
			t.Fatalf("%q was not delivered", want)
		}
	}

	ok, err := drivers[1].HasActiveRoute(3)
	require.NoError(err)
	require.True(ok)

	s, err := drivers[2].Stats()
	require.NoError(err)
	require.Equal(uint64(2), s.DataForwarded)

	drivers[3].Halt()
	require.ErrorIs(drivers[3].SendData(1, []byte("late")), ErrHalted)
}
