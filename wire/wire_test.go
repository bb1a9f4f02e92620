// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/anodr/pseudonym"
)

func TestGeometry(t *testing.T) {
	require := require.New(t)

	g := NewGeometry(32)
	require.Equal(1+32+64+16+16+32, g.FrameSize(RREQ))
	require.Equal(1+48+16+16+32, g.FrameSize(RREQSymKey))
	require.Equal(1+48+32, g.FrameSize(RREP))
	require.Equal(17, g.FrameSize(RERR))
	require.Equal(19, g.FrameSize(Data))

	g = NewGeometry(56)
	require.Equal(1+56+64+16+16+56, g.FrameSize(RREQ))
}

func TestRouteRequest(t *testing.T) {
	require := require.New(t)

	g := NewGeometry(32)
	f := &RouteRequest{
		Symmetric:  true,
		Trapdoor:   bytes.Repeat([]byte{0x11}, g.TrapdoorSize(true)),
		Onion:      pseudonym.DestTag,
		OnetimeKey: bytes.Repeat([]byte{0x22}, 32),
	}
	b := Marshal(f)
	require.Len(b, g.FrameSize(RREQSymKey))
	require.Equal(byte(RREQSymKey), b[0])

	got, err := FromBytes(b, g)
	require.NoError(err)
	require.Equal(f, got)

	// The same bytes do not parse as a first contact request.
	b[0] = byte(RREQ)
	_, err = FromBytes(b, g)
	require.Error(err)
}

func TestRouteReply(t *testing.T) {
	require := require.New(t)

	g := NewGeometry(32)
	f := &RouteReply{
		NymBox: bytes.Repeat([]byte{0x33}, g.NymBoxSize()),
	}
	f.Payload[0] = 0x44
	b := Marshal(f)
	require.Len(b, g.FrameSize(RREP))
	require.Equal(byte(RREP), b[0])

	got, err := FromBytes(b, g)
	require.NoError(err)
	require.Equal(f, got)

	_, err = FromBytes(b[:len(b)-1], g)
	require.Error(err)
}

func TestDataFrame(t *testing.T) {
	require := require.New(t)

	g := NewGeometry(32)
	f := &DataFrame{
		Pseudonym: pseudonym.SrcTag,
		Payload:   []byte("hello"),
	}
	b := Marshal(f)
	got, err := FromBytes(b, g)
	require.NoError(err)
	require.Equal(f, got)

	_, err = FromBytes(b[:len(b)-1], g)
	require.Error(err)

	require.Panics(func() {
		Marshal(&DataFrame{Payload: make([]byte, MaxPayloadSize+1)})
	})
}

func TestControl(t *testing.T) {
	require := require.New(t)

	g := NewGeometry(32)
	var p pseudonym.Pseudonym
	p[15] = 0x42
	for _, kind := range []Type{RERR, RREPAck, RERRAck, DataAck} {
		got, err := FromBytes(Marshal(&Control{Kind: kind, Pseudonym: p}), g)
		require.NoError(err)
		require.Equal(kind, got.Type())
		require.Equal(p, got.(*Control).Pseudonym)
	}
}

func TestInvalid(t *testing.T) {
	require := require.New(t)

	g := NewGeometry(32)
	_, err := FromBytes(nil, g)
	require.ErrorIs(err, ErrInvalidType)
	_, err = FromBytes([]byte{byte(Dummy)}, g)
	require.ErrorIs(err, ErrInvalidType)
	_, err = FromBytes([]byte{0x7f, 0, 0}, g)
	require.ErrorIs(err, ErrInvalidType)
	_, err = FromBytes([]byte{byte(RREP), 0, 0}, g)
	require.Error(err)
	require.Equal("RREQ_SYMKEY", RREQSymKey.String())
}
