// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package keystore

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/op/go-logging.v1"
	bolt "go.etcd.io/bbolt"

	"github.com/katzenpost/hpqc/nike"

	"github.com/katzenpost/anodr/core/log"
)

const (
	metadataBucket = "metadata"
	identityBucket = "identity"
	peersBucket    = "peers"

	versionKey  = "version"
	identityKey = "identity"

	storeVersion = 0
)

type identityRecord struct {
	Scheme     string
	Address    uint32
	PrivateKey []byte
	PublicKey  []byte
}

type peerRecord struct {
	Scheme    string
	PublicKey []byte
}

// BoltStore is a key store persisted in a bbolt database.  Peer keys are
// cached in memory, the database is only read on open.
type BoltStore struct {
	*MemoryStore

	log    *logging.Logger
	db     *bolt.DB
	scheme nike.Scheme
	addr   uint32
}

// Open opens or creates the key store at path for the node at addr.  A
// new identity is generated from rng if none is stored.
func Open(path string, scheme nike.Scheme, addr uint32, rng io.Reader, logBackend *log.Backend) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	s := &BoltStore{
		log:    logBackend.GetLogger("keystore"),
		db:     db,
		scheme: scheme,
		addr:   addr,
	}
	if err = s.load(rng); err != nil {
		// The struct isn't getting returned so clean up the database.
		db.Close()
		return nil, err
	}
	s.log.Noticef("Node %d identity: %s", addr, Fingerprint(s.PublicKey()))
	return s, nil
}

func (s *BoltStore) load(rng io.Reader) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		idBkt, err := tx.CreateBucketIfNotExists([]byte(identityBucket))
		if err != nil {
			return err
		}
		peers, err := tx.CreateBucketIfNotExists([]byte(peersBucket))
		if err != nil {
			return err
		}

		if b := meta.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != storeVersion {
				return fmt.Errorf("keystore: incompatible version: %x", b)
			}
		} else if err = meta.Put([]byte(versionKey), []byte{storeVersion}); err != nil {
			return err
		}

		identity, err := s.loadIdentity(idBkt, rng)
		if err != nil {
			return err
		}
		s.MemoryStore = NewMemoryStore(identity)

		return peers.ForEach(func(k, v []byte) error {
			if len(k) != 4 {
				return fmt.Errorf("%w: peer key %x", ErrCorrupted, k)
			}
			pk, err := s.decodePeer(v)
			if err != nil {
				return err
			}
			s.MemoryStore.AddPeer(binary.BigEndian.Uint32(k), pk)
			return nil
		})
	})
}

func (s *BoltStore) loadIdentity(bkt *bolt.Bucket, rng io.Reader) (nike.PrivateKey, error) {
	if raw := bkt.Get([]byte(identityKey)); raw != nil {
		var rec identityRecord
		if err := cbor.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%w: identity: %v", ErrCorrupted, err)
		}
		if rec.Scheme != s.scheme.Name() {
			return nil, fmt.Errorf("keystore: identity is for %s, not %s", rec.Scheme, s.scheme.Name())
		}
		if rec.Address != s.addr {
			return nil, fmt.Errorf("keystore: identity is for node %d, not %d", rec.Address, s.addr)
		}
		priv, err := s.scheme.UnmarshalBinaryPrivateKey(rec.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%w: identity: %v", ErrCorrupted, err)
		}
		pub := s.scheme.DerivePublicKey(priv)
		if subtle.ConstantTimeCompare(pub.Bytes(), rec.PublicKey) != 1 {
			return nil, fmt.Errorf("%w: identity public key mismatch", ErrCorrupted)
		}
		return priv, nil
	}

	pub, priv, err := s.scheme.GenerateKeyPairFromEntropy(rng)
	if err != nil {
		return nil, err
	}
	raw, err := cbor.Marshal(&identityRecord{
		Scheme:     s.scheme.Name(),
		Address:    s.addr,
		PrivateKey: priv.Bytes(),
		PublicKey:  pub.Bytes(),
	})
	if err != nil {
		return nil, err
	}
	if err = bkt.Put([]byte(identityKey), raw); err != nil {
		return nil, err
	}
	s.log.Noticef("Generated a new %s identity for node %d.", s.scheme.Name(), s.addr)
	return priv, nil
}

func (s *BoltStore) decodePeer(raw []byte) (nike.PublicKey, error) {
	var rec peerRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: peer: %v", ErrCorrupted, err)
	}
	if rec.Scheme != s.scheme.Name() {
		return nil, fmt.Errorf("%w: peer key scheme %s", ErrCorrupted, rec.Scheme)
	}
	pk, err := s.scheme.UnmarshalBinaryPublicKey(rec.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: peer: %v", ErrCorrupted, err)
	}
	return pk, nil
}

func peerKey(addr uint32) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], addr)
	return k[:]
}

// PublicKey returns the node's public key.
func (s *BoltStore) PublicKey() nike.PublicKey {
	return s.scheme.DerivePublicKey(s.Identity())
}

// AddPeer persists the public key of the node at addr.
func (s *BoltStore) AddPeer(addr uint32, pk nike.PublicKey) error {
	raw, err := cbor.Marshal(&peerRecord{
		Scheme:    s.scheme.Name(),
		PublicKey: pk.Bytes(),
	})
	if err != nil {
		return err
	}
	if err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(peersBucket)).Put(peerKey(addr), raw)
	}); err != nil {
		return err
	}
	s.MemoryStore.AddPeer(addr, pk)
	s.log.Debugf("Added peer %d: %s", addr, Fingerprint(pk))
	return nil
}

// RemovePeer deletes the public key of the node at addr.
func (s *BoltStore) RemovePeer(addr uint32) error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(peersBucket)).Delete(peerKey(addr))
	}); err != nil {
		return err
	}
	s.MemoryStore.RemovePeer(addr)
	return nil
}

// Close closes the database.
func (s *BoltStore) Close() {
	s.db.Sync()
	s.db.Close()
}
