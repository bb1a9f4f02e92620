// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/katzenpost/hpqc/nike"
	nikepem "github.com/katzenpost/hpqc/nike/pem"
	"github.com/katzenpost/hpqc/rand"
	"github.com/spf13/cobra"

	"github.com/katzenpost/anodr/internal/crypto"
	"github.com/katzenpost/anodr/keystore"
)

type keygenFlags struct {
	export string
	peers  []string
	remove []uint
}

func newKeygenCommand(configFile *string) *cobra.Command {
	var flags keygenFlags

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create the node identity and manage peer keys",
		Long: `keygen opens the node's key store under Node.DataDir, generating the
node's long term identity on first use.  Peer public keys, needed to send a
first route request to a peer, are imported from PEM files.`,
		Example: `  # Create the identity and export the public key
  anodr keygen -f node.toml --export node.nike_public.pem

  # Import the public keys of nodes 2 and 3
  anodr keygen -f node.toml --peer 2=node2.pem --peer 3=node3.pem`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(cmd.OutOrStdout(), *configFile, &flags)
		},
	}
	cmd.Flags().StringVar(&flags.export, "export", "",
		"write the node public key to this PEM file")
	cmd.Flags().StringArrayVar(&flags.peers, "peer", nil,
		"import a peer public key, as ADDRESS=FILE")
	cmd.Flags().UintSliceVar(&flags.remove, "remove-peer", nil,
		"forget the public key of the peer at ADDRESS")
	return cmd
}

type peerImport struct {
	addr uint32
	file string
}

func parsePeer(s string) (*peerImport, error) {
	addr, file, ok := strings.Cut(s, "=")
	if !ok || file == "" {
		return nil, fmt.Errorf("invalid peer '%v', expected ADDRESS=FILE", s)
	}
	a, err := strconv.ParseUint(addr, 10, 32)
	if err != nil || a == 0 {
		return nil, fmt.Errorf("invalid peer address '%v'", addr)
	}
	return &peerImport{addr: uint32(a), file: file}, nil
}

func nodeRand(seed []byte) (io.Reader, error) {
	if seed == nil {
		return rand.Reader, nil
	}
	return rand.NewDeterministicRandReader(seed)
}

func runKeygen(w io.Writer, configFile string, flags *keygenFlags) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if cfg.Node == nil {
		return errors.New("failed to load config file: no Node block")
	}

	var peers []*peerImport
	for _, s := range flags.peers {
		p, err := parsePeer(s)
		if err != nil {
			return err
		}
		peers = append(peers, p)
	}

	logBackend, err := newLogBackend(cfg)
	if err != nil {
		return err
	}
	rng, err := nodeRand(cfg.Node.SeedBytes())
	if err != nil {
		return err
	}
	scheme, err := crypto.SchemeByName(cfg.Routing.NIKE, rng)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Node.DataDir, 0700); err != nil {
		return err
	}
	ks, err := keystore.Open(cfg.Node.KeystorePath(), scheme, cfg.Node.Address, rng, logBackend)
	if err != nil {
		return err
	}
	defer ks.Close()

	for _, p := range peers {
		pk, err := nikepem.FromPublicPEMFile(p.file, scheme)
		if err != nil {
			return fmt.Errorf("peer %d: %v", p.addr, err)
		}
		if err := ks.AddPeer(p.addr, pk); err != nil {
			return err
		}
		fmt.Fprintf(w, "Imported peer %d: %s\n", p.addr, keystore.Fingerprint(pk))
	}
	for _, a := range flags.remove {
		addr := uint32(a)
		if err := ks.RemovePeer(addr); err != nil {
			return err
		}
		fmt.Fprintf(w, "Removed peer %d\n", addr)
	}

	if flags.export != "" {
		if err := exportPublicKey(flags.export, ks.PublicKey(), scheme); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "Node %d (%s): %s\n", cfg.Node.Address, scheme.Name(), keystore.Fingerprint(ks.PublicKey()))
	return nil
}

func exportPublicKey(f string, pk nike.PublicKey, scheme nike.Scheme) error {
	if _, err := os.Stat(f); err == nil {
		return fmt.Errorf("refusing to overwrite '%v'", f)
	}
	return nikepem.PublicKeyToFile(f, pk, scheme)
}
