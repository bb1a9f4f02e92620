// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

// Package wire implements the ANODR frame format.  Every field is fixed
// width, and multi-byte integers are big endian.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/katzenpost/anodr/pseudonym"
)

// Type is a frame type.
type Type byte

const (
	// Dummy is a local only type, used to report link failures.
	Dummy Type = iota
	RREQ
	RREQSymKey
	RREP
	RERR
	RREPAck
	RERRAck
	DataAck
	Data
)

const (
	// OnionSize is the size of an onion field.
	OnionSize = pseudonym.Size

	// CommitmentSize is the size of a trapdoor commitment.
	CommitmentSize = 16

	// ReplyPayloadSize is the anonymous proof followed by the onion.
	ReplyPayloadSize = 2 * 16

	firstContactPlaintextSize = 64
	symmetricSize             = 48
	lengthSize                = 2

	// MaxPayloadSize is the largest data payload a frame can carry.
	MaxPayloadSize = math.MaxUint16
)

var (
	// ErrInvalidType is returned for unknown frame types.
	ErrInvalidType = errors.New("wire: invalid frame type")

	// ErrPayloadSize is returned for oversized data payloads.
	ErrPayloadSize = errors.New("wire: payload too large")
)

func (t Type) String() string {
	switch t {
	case Dummy:
		return "DUMMY"
	case RREQ:
		return "RREQ"
	case RREQSymKey:
		return "RREQ_SYMKEY"
	case RREP:
		return "RREP"
	case RERR:
		return "RERR"
	case RREPAck:
		return "RREP_AACK"
	case RERRAck:
		return "RERR_AACK"
	case DataAck:
		return "DATA_AACK"
	case Data:
		return "DATA"
	default:
		return fmt.Sprintf("[Unknown type: %d]", byte(t))
	}
}

// Geometry holds the sizes that depend on the NIKE in use.
type Geometry struct {
	PublicKeySize int
}

// NewGeometry returns the geometry for a NIKE public key size.
func NewGeometry(publicKeySize int) *Geometry {
	return &Geometry{PublicKeySize: publicKeySize}
}

// TrapdoorSize returns the trapdoor size, commitment included.
func (g *Geometry) TrapdoorSize(symmetric bool) int {
	if symmetric {
		return symmetricSize + CommitmentSize
	}
	return g.PublicKeySize + firstContactPlaintextSize + CommitmentSize
}

// NymBoxSize returns the size of the sealed pseudonym in a route reply.
func (g *Geometry) NymBoxSize() int {
	return g.PublicKeySize + pseudonym.Size
}

// FrameSize returns the size of a frame of type t, excluding any data
// payload.
func (g *Geometry) FrameSize(t Type) int {
	switch t {
	case RREQ, RREQSymKey:
		return 1 + g.TrapdoorSize(t == RREQSymKey) + OnionSize + g.PublicKeySize
	case RREP:
		return 1 + g.NymBoxSize() + ReplyPayloadSize
	case RERR, RREPAck, RERRAck, DataAck:
		return 1 + pseudonym.Size
	case Data:
		return 1 + pseudonym.Size + lengthSize
	default:
		return 0
	}
}

// Frame is the common interface of every frame.
type Frame interface {
	// Type returns the frame type.
	Type() Type

	// ToBytes appends the serialized frame to b, and returns the
	// resulting slice.
	ToBytes(b []byte) []byte
}

// RouteRequest is a flooded RREQ or RREQ_SYMKEY frame.
type RouteRequest struct {
	Symmetric  bool
	Trapdoor   []byte
	Onion      pseudonym.Pseudonym
	OnetimeKey []byte
}

// Type implements Frame.
func (f *RouteRequest) Type() Type {
	if f.Symmetric {
		return RREQSymKey
	}
	return RREQ
}

// ToBytes implements Frame.
func (f *RouteRequest) ToBytes(b []byte) []byte {
	b = append(b, byte(f.Type()))
	b = append(b, f.Trapdoor...)
	b = append(b, f.Onion[:]...)
	return append(b, f.OnetimeKey...)
}

// RouteReply is a unicast RREP frame.
type RouteReply struct {
	NymBox  []byte
	Payload [ReplyPayloadSize]byte
}

// Type implements Frame.
func (f *RouteReply) Type() Type {
	return RREP
}

// ToBytes implements Frame.
func (f *RouteReply) ToBytes(b []byte) []byte {
	b = append(b, byte(RREP))
	b = append(b, f.NymBox...)
	return append(b, f.Payload[:]...)
}

// Control is a RERR frame or one of the anonymous acknowledgments.
type Control struct {
	Kind      Type
	Pseudonym pseudonym.Pseudonym
}

// Type implements Frame.
func (f *Control) Type() Type {
	return f.Kind
}

// ToBytes implements Frame.
func (f *Control) ToBytes(b []byte) []byte {
	b = append(b, byte(f.Kind))
	return append(b, f.Pseudonym[:]...)
}

// DataFrame carries a data payload along a virtual circuit.
type DataFrame struct {
	Pseudonym pseudonym.Pseudonym
	Payload   []byte
}

// Type implements Frame.
func (f *DataFrame) Type() Type {
	return Data
}

// ToBytes implements Frame.  The payload must not exceed MaxPayloadSize.
func (f *DataFrame) ToBytes(b []byte) []byte {
	if len(f.Payload) > MaxPayloadSize {
		panic("BUG: wire: oversized data payload")
	}
	var l [lengthSize]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(f.Payload)))
	b = append(b, byte(Data))
	b = append(b, f.Pseudonym[:]...)
	b = append(b, l[:]...)
	return append(b, f.Payload...)
}

// Marshal serializes a frame into a new slice.
func Marshal(f Frame) []byte {
	return f.ToBytes(nil)
}

// PeekType returns the type of a serialized frame.
func PeekType(b []byte) (Type, error) {
	if len(b) == 0 {
		return Dummy, ErrInvalidType
	}
	t := Type(b[0])
	if t == Dummy || t > Data {
		return t, ErrInvalidType
	}
	return t, nil
}

// FromBytes deserializes a frame.  The returned frame does not alias b.
func FromBytes(b []byte, g *Geometry) (Frame, error) {
	t, err := PeekType(b)
	if err != nil {
		return nil, err
	}
	want := g.FrameSize(t)
	if len(b) < want {
		return nil, fmt.Errorf("wire: short %v: %d bytes", t, len(b))
	}
	if t != Data && len(b) != want {
		return nil, fmt.Errorf("wire: oversized %v: %d bytes", t, len(b))
	}
	body := b[1:]

	switch t {
	case RREQ, RREQSymKey:
		tdLen := g.TrapdoorSize(t == RREQSymKey)
		f := &RouteRequest{
			Symmetric:  t == RREQSymKey,
			Trapdoor:   append([]byte(nil), body[:tdLen]...),
			OnetimeKey: append([]byte(nil), body[tdLen+OnionSize:]...),
		}
		copy(f.Onion[:], body[tdLen:])
		return f, nil
	case RREP:
		boxLen := g.NymBoxSize()
		f := &RouteReply{
			NymBox: append([]byte(nil), body[:boxLen]...),
		}
		copy(f.Payload[:], body[boxLen:])
		return f, nil
	case Data:
		f := new(DataFrame)
		copy(f.Pseudonym[:], body)
		l := int(binary.BigEndian.Uint16(body[pseudonym.Size:]))
		payload := body[pseudonym.Size+lengthSize:]
		if len(payload) != l {
			return nil, fmt.Errorf("wire: DATA length mismatch: %d != %d", len(payload), l)
		}
		f.Payload = append([]byte(nil), payload...)
		return f, nil
	default:
		f := &Control{Kind: t}
		copy(f.Pseudonym[:], body)
		return f, nil
	}
}
