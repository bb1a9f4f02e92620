// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

// Package trapdoor builds and opens the global trapdoor carried by route
// requests.  Only the intended destination can open a trapdoor, and the
// commitment lets the source authenticate the destination's reply.
package trapdoor

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"

	"github.com/katzenpost/hpqc/nike"

	"github.com/katzenpost/anodr/internal/crypto"
	"github.com/katzenpost/anodr/pseudonym"
)

const (
	// CommitmentSize is the size of a trapdoor commitment.
	CommitmentSize = crypto.BlockSize

	// FirstContactPlaintextSize is DEST_TAG, K_reveal, K_AE, caller id and
	// padding.
	FirstContactPlaintextSize = 4 * crypto.BlockSize

	// SymmetricSize is DEST_TAG, K_reveal, caller id and padding.
	SymmetricSize = 3 * crypto.BlockSize

	revealOffset = crypto.BlockSize
	e2eOffset    = 2 * crypto.BlockSize
)

var (
	// ErrNoPeerKey is returned when a first contact trapdoor is requested
	// without the destination's public key.
	ErrNoPeerKey = errors.New("trapdoor: no destination public key")

	// ErrSize is returned when parsing a trapdoor of the wrong length.
	ErrSize = errors.New("trapdoor: invalid trapdoor size")
)

// Commitment is K_reveal applied to DEST_TAG.
type Commitment [CommitmentSize]byte

// Trapdoor is a global trapdoor as carried on the wire.
type Trapdoor struct {
	Symmetric  bool
	Ciphertext []byte
	Commitment Commitment
}

// Bytes returns the ciphertext followed by the commitment.  It uniquely
// identifies a flood and is the duplicate suppression key.
func (t *Trapdoor) Bytes() []byte {
	b := make([]byte, 0, len(t.Ciphertext)+CommitmentSize)
	b = append(b, t.Ciphertext...)
	return append(b, t.Commitment[:]...)
}

// Built is the result of building a trapdoor.
type Built struct {
	Trapdoor  *Trapdoor
	RevealKey crypto.Key
	E2EKey    crypto.Key

	// NewE2EKey is set iff E2EKey was generated by Build.
	NewE2EKey bool
}

// Opened is the content of a trapdoor opened by its destination.
type Opened struct {
	RevealKey crypto.Key
	E2EKey    crypto.Key
	CallerID  uint32
	Symmetric bool
}

// KeySet is the local key material a node tries trapdoors against.
type KeySet struct {
	Private nike.PrivateKey
	E2E     []crypto.Key
}

// Codec builds and opens trapdoors for one node.
type Codec struct {
	suite crypto.Suite
	alloc *pseudonym.Allocator
}

// NewCodec returns a Codec drawing fresh keys from alloc.
func NewCodec(suite crypto.Suite, alloc *pseudonym.Allocator) *Codec {
	return &Codec{
		suite: suite,
		alloc: alloc,
	}
}

// Size returns the wire size of a trapdoor, commitment included.
func (c *Codec) Size(symmetric bool) int {
	if symmetric {
		return SymmetricSize + CommitmentSize
	}
	return c.suite.BoxSize(FirstContactPlaintextSize) + CommitmentSize
}

// Parse splits b into ciphertext and commitment.
func (c *Codec) Parse(symmetric bool, b []byte) (*Trapdoor, error) {
	if len(b) != c.Size(symmetric) {
		return nil, ErrSize
	}
	ctLen := len(b) - CommitmentSize
	t := &Trapdoor{
		Symmetric:  symmetric,
		Ciphertext: make([]byte, ctLen),
	}
	copy(t.Ciphertext, b[:ctLen])
	copy(t.Commitment[:], b[ctLen:])
	return t, nil
}

// Commit returns the commitment to revealKey.
func (c *Codec) Commit(revealKey *crypto.Key) Commitment {
	src := [crypto.BlockSize]byte(pseudonym.DestTag)
	var dst [crypto.BlockSize]byte
	c.suite.Block(revealKey, &dst, &src)
	return Commitment(dst)
}

// VerifyCommitment returns true iff commitment was made with revealKey.
func (c *Codec) VerifyCommitment(revealKey *crypto.Key, commitment *Commitment) bool {
	expected := c.Commit(revealKey)
	return subtle.ConstantTimeCompare(expected[:], commitment[:]) == 1
}

// Build constructs a trapdoor.  If e2eKey is nil a new end-to-end key is
// generated, and the trapdoor is always a first contact one sealed to
// destKey.  Otherwise symmetric selects the short trapdoor encrypted under
// e2eKey, and a first contact trapdoor carries the existing key.
func (c *Codec) Build(destKey nike.PublicKey, callerID uint32, e2eKey *crypto.Key, symmetric bool) (*Built, error) {
	b := new(Built)
	c.alloc.Fill(b.RevealKey[:])
	if e2eKey == nil {
		c.alloc.Fill(b.E2EKey[:])
		b.NewE2EKey = true
		symmetric = false
	} else {
		b.E2EKey = *e2eKey
	}

	t := &Trapdoor{
		Symmetric:  symmetric,
		Commitment: c.Commit(&b.RevealKey),
	}

	if symmetric {
		var pt [SymmetricSize]byte
		copy(pt[:], pseudonym.DestTag[:])
		copy(pt[revealOffset:], b.RevealKey[:])
		binary.BigEndian.PutUint32(pt[e2eOffset:], callerID)

		t.Ciphertext = make([]byte, SymmetricSize)
		c.suite.Stream(&b.E2EKey, t.Ciphertext, pt[:])
		clear(pt[:])
	} else {
		if destKey == nil {
			return nil, ErrNoPeerKey
		}
		var pt [FirstContactPlaintextSize]byte
		copy(pt[:], pseudonym.DestTag[:])
		copy(pt[revealOffset:], b.RevealKey[:])
		copy(pt[e2eOffset:], b.E2EKey[:])
		binary.BigEndian.PutUint32(pt[3*crypto.BlockSize:], callerID)

		ct, err := c.suite.Seal(c.alloc.Reader(), destKey, pt[:])
		clear(pt[:])
		if err != nil {
			return nil, err
		}
		t.Ciphertext = ct
	}
	b.Trapdoor = t
	return b, nil
}

func isDestTag(b []byte) bool {
	return subtle.ConstantTimeCompare(b[:pseudonym.Size], pseudonym.DestTag[:]) == 1
}

// TryOpen attempts to open t with keys.  Failure is the normal outcome at
// every node other than the destination and is not an error.
func (c *Codec) TryOpen(t *Trapdoor, keys *KeySet) (*Opened, bool) {
	if t.Symmetric {
		if len(t.Ciphertext) != SymmetricSize {
			return nil, false
		}
		var pt [SymmetricSize]byte
		defer clear(pt[:])
		for i := range keys.E2E {
			k := &keys.E2E[i]
			c.suite.Stream(k, pt[:], t.Ciphertext)
			if !isDestTag(pt[:]) {
				continue
			}
			o := &Opened{
				E2EKey:    *k,
				CallerID:  binary.BigEndian.Uint32(pt[e2eOffset:]),
				Symmetric: true,
			}
			copy(o.RevealKey[:], pt[revealOffset:])
			return o, true
		}
		return nil, false
	}

	if keys.Private == nil {
		return nil, false
	}
	pt, err := c.suite.Open(keys.Private, t.Ciphertext)
	if err != nil || len(pt) != FirstContactPlaintextSize || !isDestTag(pt) {
		return nil, false
	}
	defer clear(pt)
	o := &Opened{
		CallerID: binary.BigEndian.Uint32(pt[3*crypto.BlockSize:]),
	}
	copy(o.RevealKey[:], pt[revealOffset:])
	copy(o.E2EKey[:], pt[e2eOffset:])
	return o, true
}
