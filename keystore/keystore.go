// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

// Package keystore holds a node's NIKE identity and the public keys of its
// peers.
package keystore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/nike"
)

var (
	// ErrCorrupted is returned when a stored record cannot be loaded.
	ErrCorrupted = errors.New("keystore: corrupted record")

	// ErrNoPeerKey is returned when no public key is known for a peer.
	ErrNoPeerKey = errors.New("keystore: no public key for peer")
)

// Fingerprint returns a short printable digest of a public key.
func Fingerprint(pk nike.PublicKey) string {
	d := hash.Sum256(pk.Bytes())
	return hex.EncodeToString(d[:8])
}

// MemoryStore is a volatile key store.
type MemoryStore struct {
	sync.RWMutex

	identity nike.PrivateKey
	peers    map[uint32]nike.PublicKey
}

// NewMemoryStore returns a MemoryStore for identity.
func NewMemoryStore(identity nike.PrivateKey) *MemoryStore {
	return &MemoryStore{
		identity: identity,
		peers:    make(map[uint32]nike.PublicKey),
	}
}

// Identity returns the node's private key.
func (s *MemoryStore) Identity() nike.PrivateKey {
	return s.identity
}

// PeerKey returns the public key of the node at addr.
func (s *MemoryStore) PeerKey(addr uint32) (nike.PublicKey, error) {
	s.RLock()
	defer s.RUnlock()

	pk, ok := s.peers[addr]
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrNoPeerKey, addr)
	}
	return pk, nil
}

// AddPeer records the public key of the node at addr.
func (s *MemoryStore) AddPeer(addr uint32, pk nike.PublicKey) {
	s.Lock()
	defer s.Unlock()

	s.peers[addr] = pk
}

// RemovePeer forgets the public key of the node at addr.
func (s *MemoryStore) RemovePeer(addr uint32) {
	s.Lock()
	defer s.Unlock()

	delete(s.peers, addr)
}
