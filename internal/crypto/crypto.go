// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

// Package crypto provides the ANODR parameterization of the symmetric and
// public key primitives consumed by the router.
package crypto

import (
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"gitlab.com/yawning/bsaes.git"
	"golang.org/x/crypto/hkdf"

	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/nike/x448"
)

const (
	// KeySize is the size of every symmetric key in bytes.
	KeySize = 16

	// BlockSize is the block size of the onion and commitment transform.
	BlockSize = 16

	sealInfo = "anodr-sealed-box-v0-hkdf-sha256"
)

var (
	// ErrBoxSize is returned when a sealed box has the wrong length.
	ErrBoxSize = errors.New("crypto: invalid sealed box size")

	// ErrKeyAgreement is returned when the key agreement rejects a peer's
	// public key.
	ErrKeyAgreement = errors.New("crypto: key agreement failed")
)

// Key is a 128-bit symmetric key.
type Key [KeySize]byte

// Reset clears the key.
func (k *Key) Reset() {
	clear(k[:])
}

// Suite is the set of primitives the router consumes.  Every operation is
// deterministic given its inputs, except Seal which draws an ephemeral key
// from the supplied random source.
type Suite interface {
	// Name returns the name of the suite.
	Name() string

	// Block applies the keyed 128-bit transform to src.
	Block(key *Key, dst, src *[BlockSize]byte)

	// Stream encrypts or decrypts src into dst with a zero IV key stream.
	Stream(key *Key, dst, src []byte)

	// Scheme returns the NIKE used for identities and sealed boxes.
	Scheme() nike.Scheme

	// BoxSize returns the size of a sealed box carrying n bytes.
	BoxSize(n int) int

	// Seal encrypts msg to the holder of pub.
	Seal(rng io.Reader, pub nike.PublicKey, msg []byte) ([]byte, error)

	// Open decrypts a sealed box.  A wrong key yields garbage, not an
	// error; callers authenticate the plaintext themselves.
	Open(priv nike.PrivateKey, box []byte) ([]byte, error)
}

// SchemeByName returns the named NIKE scheme.
func SchemeByName(name string, rng io.Reader) (nike.Scheme, error) {
	switch strings.ToUpper(name) {
	case "X25519":
		return x25519.Scheme(rng), nil
	case "X448":
		return x448.Scheme(rng), nil
	default:
		return nil, fmt.Errorf("crypto: unsupported NIKE '%v'", name)
	}
}

// New returns the suite named by mode, "real" or "simulated".
func New(mode string, scheme nike.Scheme) (Suite, error) {
	switch strings.ToLower(mode) {
	case "real", "":
		return &realSuite{scheme: scheme}, nil
	case "simulated":
		return &simulatedSuite{scheme: scheme}, nil
	default:
		return nil, fmt.Errorf("crypto: unsupported suite '%v'", mode)
	}
}

type realSuite struct {
	scheme nike.Scheme
}

func (s *realSuite) Name() string {
	return "real"
}

func newBlock(key *Key) cipher.Block {
	// bsaes hands off to crypto/aes when AES-NI is available.
	blk, err := bsaes.NewCipher(key[:])
	if err != nil {
		panic("crypto: failed to create AES instance: " + err.Error())
	}
	return blk
}

func (s *realSuite) Block(key *Key, dst, src *[BlockSize]byte) {
	newBlock(key).Encrypt(dst[:], src[:])
}

func (s *realSuite) Stream(key *Key, dst, src []byte) {
	var iv [BlockSize]byte
	cipher.NewCTR(newBlock(key), iv[:]).XORKeyStream(dst, src)
}

func (s *realSuite) Scheme() nike.Scheme {
	return s.scheme
}

func (s *realSuite) BoxSize(n int) int {
	return s.scheme.PublicKeySize() + n
}

func (s *realSuite) boxKey(shared, ephemeral, recipient []byte) *Key {
	salt := make([]byte, 0, len(ephemeral)+len(recipient))
	salt = append(salt, ephemeral...)
	salt = append(salt, recipient...)

	k := new(Key)
	r := hkdf.New(sha256.New, shared, salt, []byte(sealInfo))
	if _, err := io.ReadFull(r, k[:]); err != nil {
		panic("crypto: hkdf failed: " + err.Error())
	}
	return k
}

// deriveSecret converts the panic raised by the NIKE on a low order point
// into an error, since ephemeral keys arrive from the network.
func (s *realSuite) deriveSecret(priv nike.PrivateKey, pub nike.PublicKey) (shared []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			shared, err = nil, ErrKeyAgreement
		}
	}()
	return s.scheme.DeriveSecret(priv, pub), nil
}

func (s *realSuite) Seal(rng io.Reader, pub nike.PublicKey, msg []byte) ([]byte, error) {
	ephPub, ephPriv, err := s.scheme.GenerateKeyPairFromEntropy(rng)
	if err != nil {
		return nil, err
	}
	defer ephPriv.Reset()

	shared, err := s.deriveSecret(ephPriv, pub)
	if err != nil {
		return nil, err
	}
	defer clear(shared)
	k := s.boxKey(shared, ephPub.Bytes(), pub.Bytes())
	defer k.Reset()

	box := make([]byte, s.BoxSize(len(msg)))
	n := copy(box, ephPub.Bytes())
	s.Stream(k, box[n:], msg)
	return box, nil
}

func (s *realSuite) Open(priv nike.PrivateKey, box []byte) ([]byte, error) {
	pkLen := s.scheme.PublicKeySize()
	if len(box) < pkLen {
		return nil, ErrBoxSize
	}
	ephPub, err := s.scheme.UnmarshalBinaryPublicKey(box[:pkLen])
	if err != nil {
		return nil, err
	}

	shared, err := s.deriveSecret(priv, ephPub)
	if err != nil {
		return nil, err
	}
	defer clear(shared)
	k := s.boxKey(shared, box[:pkLen], s.scheme.DerivePublicKey(priv).Bytes())
	defer k.Reset()

	msg := make([]byte, len(box)-pkLen)
	s.Stream(k, msg, box[pkLen:])
	return msg, nil
}

// simulatedSuite stands in for the real primitives when running large
// simulations.  Transforms are a key XOR and sealed boxes are addressed to
// the recipient's public key in the clear.  It has no security whatsoever.
type simulatedSuite struct {
	scheme nike.Scheme
}

func (s *simulatedSuite) Name() string {
	return "simulated"
}

func (s *simulatedSuite) Block(key *Key, dst, src *[BlockSize]byte) {
	for i := range dst {
		dst[i] = src[i] ^ key[i]
	}
}

func (s *simulatedSuite) Stream(key *Key, dst, src []byte) {
	for i := range src {
		dst[i] = src[i] ^ key[i%KeySize]
	}
}

func (s *simulatedSuite) Scheme() nike.Scheme {
	return s.scheme
}

func (s *simulatedSuite) BoxSize(n int) int {
	return s.scheme.PublicKeySize() + n
}

func (s *simulatedSuite) Seal(_ io.Reader, pub nike.PublicKey, msg []byte) ([]byte, error) {
	box := make([]byte, 0, s.BoxSize(len(msg)))
	box = append(box, pub.Bytes()...)
	return append(box, msg...), nil
}

func (s *simulatedSuite) Open(priv nike.PrivateKey, box []byte) ([]byte, error) {
	pkLen := s.scheme.PublicKeySize()
	if len(box) < pkLen {
		return nil, ErrBoxSize
	}
	msg := make([]byte, len(box)-pkLen)
	if string(box[:pkLen]) != string(s.scheme.DerivePublicKey(priv).Bytes()) {
		// Mimic a wrong key: the caller sees noise and rejects it.
		for i := range msg {
			msg[i] = ^box[pkLen+i]
		}
		return msg, nil
	}
	copy(msg, box[pkLen:])
	return msg, nil
}
