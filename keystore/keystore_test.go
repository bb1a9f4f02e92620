// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package keystore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/anodr/core/log"
)

func testBackend(t *testing.T) *log.Backend {
	b, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	return b
}

func TestMemoryStore(t *testing.T) {
	require := require.New(t)

	scheme := x25519.Scheme(rand.Reader)
	_, priv, err := scheme.GenerateKeyPair()
	require.NoError(err)
	peer, _, err := scheme.GenerateKeyPair()
	require.NoError(err)

	s := NewMemoryStore(priv)
	require.Equal(priv, s.Identity())

	_, err = s.PeerKey(7)
	require.True(errors.Is(err, ErrNoPeerKey))

	s.AddPeer(7, peer)
	pk, err := s.PeerKey(7)
	require.NoError(err)
	require.Equal(peer.Bytes(), pk.Bytes())

	s.RemovePeer(7)
	_, err = s.PeerKey(7)
	require.Error(err)
}

func TestBoltStorePersistence(t *testing.T) {
	require := require.New(t)

	scheme := x25519.Scheme(rand.Reader)
	path := filepath.Join(t.TempDir(), "keys.db")
	backend := testBackend(t)

	s, err := Open(path, scheme, 3, rand.Reader, backend)
	require.NoError(err)
	idPub := s.PublicKey().Bytes()

	peer, _, err := scheme.GenerateKeyPair()
	require.NoError(err)
	require.NoError(s.AddPeer(9, peer))
	s.Close()

	s, err = Open(path, scheme, 3, rand.Reader, backend)
	require.NoError(err)
	defer s.Close()
	require.Equal(idPub, s.PublicKey().Bytes(), "identity must survive a reopen")

	pk, err := s.PeerKey(9)
	require.NoError(err)
	require.Equal(peer.Bytes(), pk.Bytes())

	require.NoError(s.RemovePeer(9))
	_, err = s.PeerKey(9)
	require.True(errors.Is(err, ErrNoPeerKey))
}

func TestBoltStoreWrongNode(t *testing.T) {
	scheme := x25519.Scheme(rand.Reader)
	path := filepath.Join(t.TempDir(), "keys.db")
	backend := testBackend(t)

	s, err := Open(path, scheme, 3, rand.Reader, backend)
	require.NoError(t, err)
	s.Close()

	_, err = Open(path, scheme, 4, rand.Reader, backend)
	require.Error(t, err)
}

func TestBoltStoreCorrupted(t *testing.T) {
	require := require.New(t)

	scheme := x25519.Scheme(rand.Reader)
	path := filepath.Join(t.TempDir(), "keys.db")
	backend := testBackend(t)

	s, err := Open(path, scheme, 3, rand.Reader, backend)
	require.NoError(err)
	s.Close()

	db, err := bolt.Open(path, 0600, nil)
	require.NoError(err)
	require.NoError(db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(identityBucket)).Put([]byte(identityKey), []byte{0xff, 0x00})
	}))
	require.NoError(db.Close())

	_, err = Open(path, scheme, 3, rand.Reader, backend)
	require.True(errors.Is(err, ErrCorrupted), "got %v", err)
}
