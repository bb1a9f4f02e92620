// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package pseudonym

import (
	"bytes"
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"
)

func TestSentinels(t *testing.T) {
	require := require.New(t)

	require.Equal("I am the source ", string(SrcTag[:]))
	require.Equal("You are the dest", string(DestTag[:]))
	for _, p := range []Pseudonym{SrcTag, DestTag, Invalid, Broadcast} {
		require.True(p.IsReserved(), p.String())
	}
	require.False(Invalid.IsValid())
	require.True(SrcTag.IsValid())
}

func TestGenerateSkipsSentinels(t *testing.T) {
	require := require.New(t)

	// Feed every sentinel first, the allocator must reject each of them.
	var script bytes.Buffer
	for _, p := range []Pseudonym{Invalid, SrcTag, Broadcast, DestTag} {
		script.Write(p[:])
	}
	want := Pseudonym{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	script.Write(want[:])

	a := NewAllocator(&script)
	require.Equal(want, a.Generate())
}

func TestGenerateNeverReserved(t *testing.T) {
	require := require.New(t)

	a := NewAllocator(rand.Reader)
	seen := make(map[Pseudonym]bool)
	for i := 0; i < 4096; i++ {
		p := a.Generate()
		require.False(p.IsReserved())
		require.False(seen[p], "duplicate pseudonym")
		seen[p] = true
	}
}

func TestDeterministicAllocator(t *testing.T) {
	require := require.New(t)

	seed := make([]byte, 32)
	seed[0] = 0x2a
	r1, err := rand.NewDeterministicRandReader(seed)
	require.NoError(err)
	r2, err := rand.NewDeterministicRandReader(seed)
	require.NoError(err)

	a1, a2 := NewAllocator(r1), NewAllocator(r2)
	for i := 0; i < 16; i++ {
		require.Equal(a1.Generate(), a2.Generate())
	}
	require.Equal(a1.Uint32(), a2.Uint32())
}

func TestHintAddress(t *testing.T) {
	require := require.New(t)

	var p Pseudonym
	p.SetHintAddress(0, 0x0a000001)
	p.SetHintAddress(4, 7)
	require.Equal(uint32(0x0a000001), p.HintAddress(0))
	require.Equal(uint32(7), p.HintAddress(4))

	q, err := FromBytes(p[:])
	require.NoError(err)
	require.True(p.Equal(q))

	_, err = FromBytes(p[:3])
	require.Error(err)
}
