// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

// Package pseudonym provides the 128-bit opaque identifiers used for
// per-hop virtual circuit pseudonyms and trapdoored boomerang onions.
package pseudonym

import (
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
)

// Size is the length of a pseudonym in bytes.
const Size = 16

// Pseudonym is a 128-bit opaque comparator value.
type Pseudonym [Size]byte

var (
	// SrcTag marks the upstream end of a flow at its source.
	SrcTag = fromString("I am the source ")

	// DestTag marks the downstream end of a flow at its destination, and
	// is the plaintext of every trapdoor commitment.
	DestTag = fromString("You are the dest")

	// Invalid is the value of a pseudonym that has not been filled in.
	Invalid = Pseudonym{}

	// Broadcast is reserved for the neighborhood wide address.
	Broadcast = Pseudonym{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	}
)

func fromString(s string) Pseudonym {
	if len(s) != Size {
		panic("BUG: pseudonym: invalid sentinel length")
	}
	var p Pseudonym
	copy(p[:], s)
	return p
}

// FromBytes returns the pseudonym stored in the first Size bytes of b.
func FromBytes(b []byte) (Pseudonym, error) {
	var p Pseudonym
	if len(b) < Size {
		return p, fmt.Errorf("pseudonym: short buffer: %d bytes", len(b))
	}
	copy(p[:], b)
	return p, nil
}

// IsReserved returns true iff p is one of the four sentinel values.
func (p Pseudonym) IsReserved() bool {
	return p == SrcTag || p == DestTag || p == Invalid || p == Broadcast
}

// IsValid returns true iff p has been filled in.
func (p Pseudonym) IsValid() bool {
	return p != Invalid
}

// Equal compares two pseudonyms in constant time.
func (p Pseudonym) Equal(o Pseudonym) bool {
	return subtle.ConstantTimeCompare(p[:], o[:]) == 1
}

// HintAddress returns the node address embedded at byte offset off, as
// written by SetHintAddress.
func (p Pseudonym) HintAddress(off int) uint32 {
	return binary.BigEndian.Uint32(p[off : off+4])
}

// SetHintAddress embeds a node address at byte offset off.  This is only
// done when the link layer cannot do anonymous unicast.
func (p *Pseudonym) SetHintAddress(off int, addr uint32) {
	binary.BigEndian.PutUint32(p[off:off+4], addr)
}

// String returns a short hexadecimal representation, suitable for logs.
func (p Pseudonym) String() string {
	switch p {
	case SrcTag:
		return "SRC_TAG"
	case DestTag:
		return "DEST_TAG"
	case Invalid:
		return "INVALID"
	case Broadcast:
		return "BROADCAST"
	}
	return hex.EncodeToString(p[:8])
}

// Allocator draws pseudonyms and raw key material from a node-local
// random source.
type Allocator struct {
	rng io.Reader
}

// NewAllocator returns an Allocator reading from rng.  Passing a
// deterministic reader makes every draw reproducible.
func NewAllocator(rng io.Reader) *Allocator {
	return &Allocator{rng: rng}
}

// Generate returns a fresh pseudonym that is never one of the reserved
// sentinel values.
func (a *Allocator) Generate() Pseudonym {
	var p Pseudonym
	for {
		a.Fill(p[:])
		if !p.IsReserved() {
			return p
		}
	}
}

// Fill fills b with random bytes.
func (a *Allocator) Fill(b []byte) {
	if _, err := io.ReadFull(a.rng, b); err != nil {
		panic("BUG: pseudonym: random source failed: " + err.Error())
	}
}

// Uint32 returns a random 32-bit value.
func (a *Allocator) Uint32() uint32 {
	var b [4]byte
	a.Fill(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// Reader returns the underlying random source.
func (a *Allocator) Reader() io.Reader {
	return a.rng
}
