// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

// Package onion implements the trapdoored boomerang onion (TBO) transform
// applied by every node that relays a route request.
package onion

import (
	"fmt"
	"strings"

	"github.com/katzenpost/anodr/internal/crypto"
	"github.com/katzenpost/anodr/pseudonym"
)

// Onion is a 128-bit trapdoored boomerang onion value.
type Onion = pseudonym.Pseudonym

// Mode selects where the onion key comes from.
type Mode int

const (
	// ModeANODR uses one long lived key per node and the block transform.
	ModeANODR Mode = iota

	// ModeASR uses a fresh one-time pad for every flood.
	ModeASR
)

// HintOffset is where a node embeds its own address in the onions it
// generates when address hints are enabled.
const HintOffset = 0

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(s) {
	case "ANODR", "":
		return ModeANODR, nil
	case "ASR":
		return ModeASR, nil
	default:
		return 0, fmt.Errorf("onion: invalid mode '%v'", s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeANODR:
		return "ANODR"
	case ModeASR:
		return "ASR"
	default:
		return fmt.Sprintf("[Unknown mode: %d]", int(m))
	}
}

// Processor applies the onion transform for one node.
type Processor struct {
	suite   crypto.Suite
	mode    Mode
	nodeKey crypto.Key
	alloc   *pseudonym.Allocator

	addr uint32
	hint bool
}

// New returns a Processor.  In ModeANODR the long lived node key is drawn
// from alloc once, here.  If hint is set, every output onion carries addr
// at HintOffset so that replies can be unicast back on links without
// anonymous unicast.
func New(suite crypto.Suite, mode Mode, alloc *pseudonym.Allocator, addr uint32, hint bool) *Processor {
	p := &Processor{
		suite: suite,
		mode:  mode,
		alloc: alloc,
		addr:  addr,
		hint:  hint,
	}
	if mode == ModeANODR {
		alloc.Fill(p.nodeKey[:])
	}
	return p
}

// FloodKey returns the key to use for a new flood.
func (p *Processor) FloodKey() crypto.Key {
	if p.mode == ModeASR {
		var k crypto.Key
		p.alloc.Fill(k[:])
		return k
	}
	return p.nodeKey
}

// Transform applies the keyed transform to in.  The result only depends
// on in, key and the node's hint setting.
func (p *Processor) Transform(in Onion, key *crypto.Key) Onion {
	var out Onion
	switch p.mode {
	case ModeASR:
		for i := range out {
			out[i] = in[i] ^ key[i]
		}
	default:
		src := [crypto.BlockSize]byte(in)
		var dst [crypto.BlockSize]byte
		p.suite.Block(key, &dst, &src)
		out = Onion(dst)
	}
	if p.hint {
		out.SetHintAddress(HintOffset, p.addr)
	}
	return out
}

// Core returns a fresh random onion core for a flood originated here.
func (p *Processor) Core() Onion {
	return p.alloc.Generate()
}
