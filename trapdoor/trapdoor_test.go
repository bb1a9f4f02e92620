// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package trapdoor

import (
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/anodr/internal/crypto"
	"github.com/katzenpost/anodr/pseudonym"
)

func newCodec(t *testing.T, mode string) *Codec {
	require := require.New(t)

	scheme, err := crypto.SchemeByName("X25519", rand.Reader)
	require.NoError(err)
	suite, err := crypto.New(mode, scheme)
	require.NoError(err)
	return NewCodec(suite, pseudonym.NewAllocator(rand.Reader))
}

func TestCommitmentSoundness(t *testing.T) {
	require := require.New(t)

	for _, mode := range []string{"real", "simulated"} {
		c := newCodec(t, mode)
		for i := 0; i < 32; i++ {
			var k, other crypto.Key
			c.alloc.Fill(k[:])
			other = k
			other[i%crypto.KeySize] ^= 0x01

			commitment := c.Commit(&k)
			require.True(c.VerifyCommitment(&k, &commitment), mode)
			require.False(c.VerifyCommitment(&other, &commitment), mode)
		}
	}
}

func TestFirstContactOpen(t *testing.T) {
	require := require.New(t)

	for _, mode := range []string{"real", "simulated"} {
		c := newCodec(t, mode)
		scheme := c.suite.Scheme()
		destPub, destPriv, err := scheme.GenerateKeyPair()
		require.NoError(err)
		_, otherPriv, err := scheme.GenerateKeyPair()
		require.NoError(err)

		b, err := c.Build(destPub, 0xdeadbeef, nil, true)
		require.NoError(err)
		require.True(b.NewE2EKey)
		require.False(b.Trapdoor.Symmetric)
		require.Len(b.Trapdoor.Bytes(), c.Size(false))

		o, ok := c.TryOpen(b.Trapdoor, &KeySet{Private: destPriv})
		require.True(ok, mode)
		require.Equal(b.E2EKey, o.E2EKey)
		require.Equal(b.RevealKey, o.RevealKey)
		require.Equal(uint32(0xdeadbeef), o.CallerID)
		require.True(c.VerifyCommitment(&o.RevealKey, &b.Trapdoor.Commitment))

		_, ok = c.TryOpen(b.Trapdoor, &KeySet{Private: otherPriv})
		require.False(ok, mode)
		_, ok = c.TryOpen(b.Trapdoor, &KeySet{})
		require.False(ok, mode)
	}
}

func TestFirstContactNeedsPeerKey(t *testing.T) {
	require := require.New(t)

	c := newCodec(t, "real")
	_, err := c.Build(nil, 1, nil, false)
	require.ErrorIs(err, ErrNoPeerKey)
}

func TestSymmetricOpen(t *testing.T) {
	require := require.New(t)

	for _, mode := range []string{"real", "simulated"} {
		c := newCodec(t, mode)
		var k1, k2, k3 crypto.Key
		c.alloc.Fill(k1[:])
		c.alloc.Fill(k2[:])
		c.alloc.Fill(k3[:])

		b, err := c.Build(nil, 42, &k2, true)
		require.NoError(err)
		require.False(b.NewE2EKey)
		require.True(b.Trapdoor.Symmetric)
		require.Len(b.Trapdoor.Bytes(), c.Size(true))

		o, ok := c.TryOpen(b.Trapdoor, &KeySet{E2E: []crypto.Key{k1, k2}})
		require.True(ok, mode)
		require.Equal(k2, o.E2EKey)
		require.Equal(b.RevealKey, o.RevealKey)
		require.Equal(uint32(42), o.CallerID)

		_, ok = c.TryOpen(b.Trapdoor, &KeySet{E2E: []crypto.Key{k1, k3}})
		require.False(ok, mode)
	}
}

func TestParse(t *testing.T) {
	require := require.New(t)

	c := newCodec(t, "real")
	destPub, _, err := c.suite.Scheme().GenerateKeyPair()
	require.NoError(err)
	b, err := c.Build(destPub, 7, nil, false)
	require.NoError(err)

	raw := b.Trapdoor.Bytes()
	parsed, err := c.Parse(false, raw)
	require.NoError(err)
	require.Equal(b.Trapdoor, parsed)

	_, err = c.Parse(true, raw)
	require.ErrorIs(err, ErrSize)
}
