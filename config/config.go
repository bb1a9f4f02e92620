// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

// Package config implements the configuration for the ANODR node and
// simulator.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/katzenpost/anodr/internal/crypto"
	"github.com/katzenpost/anodr/onion"
	"github.com/katzenpost/anodr/router"
)

const (
	defaultLogLevel     = "NOTICE"
	defaultNIKE         = "X25519"
	defaultCryptoMode   = "real"
	defaultKeystoreFile = "keys.db"

	defaultSimDuration = 30 * 1000 // 30 sec.
	defaultSimDelay    = 2         // 2 ms.

	// SeedSize is the size of a decoded seed.
	SeedSize = 32
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Node is the configuration of a single node.
type Node struct {
	// Address is the node address, it must not be zero.
	Address uint32

	// DataDir is the absolute path to the node's state files.
	DataDir string

	// Seed is an optional hex encoded 32 byte seed for the node's random
	// source.  It makes the node deterministic and is meant for testing.
	Seed string
}

func (nCfg *Node) validate() error {
	if nCfg.Address == 0 {
		return errors.New("config: Node: Address must not be zero")
	}
	if !filepath.IsAbs(nCfg.DataDir) {
		return fmt.Errorf("config: Node: DataDir '%v' is not an absolute path", nCfg.DataDir)
	}
	if _, err := decodeSeed(nCfg.Seed); err != nil {
		return fmt.Errorf("config: Node: %v", err)
	}
	return nil
}

// KeystorePath returns the path of the node's key store.
func (nCfg *Node) KeystorePath() string {
	return filepath.Join(nCfg.DataDir, defaultKeystoreFile)
}

// SeedBytes returns the decoded seed, or nil.
func (nCfg *Node) SeedBytes() []byte {
	b, _ := decodeSeed(nCfg.Seed)
	return b
}

func decodeSeed(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid Seed: %v", err)
	}
	if len(b) != SeedSize {
		return nil, fmt.Errorf("invalid Seed length: %d", len(b))
	}
	return b, nil
}

// Routing is the protocol configuration.  Durations are in milliseconds.
type Routing struct {
	NetDiameter           int
	NodeTraversalTime     int
	ActiveRouteTimeout    int
	RREQRetries           int
	RouteDeletionConstant int

	// BufferMaxBytes replaces BufferMaxPackets when positive.
	BufferMaxPackets int
	BufferMaxBytes   int

	BroadcastJitter     int
	OnionProcessingTime int

	// OnionMode is "ANODR" or "ASR".
	OnionMode string

	// CryptoMode is "real" or "simulated".
	CryptoMode string

	// NIKE is the key exchange used for trapdoors and pseudonym sealing.
	NIKE string

	DisableReplyAck         bool
	EnableDataAck           bool
	DisableAddressHint      bool
	RevealSource            bool
	DisablePseudonymSealing bool

	// RREQRetries is zero both when unset and when set to zero.
	setRREQRetries bool
}

func (rCfg *Routing) applyDefaults() {
	if rCfg.NetDiameter == 0 {
		rCfg.NetDiameter = router.DefaultNetDiameter
	}
	if rCfg.NodeTraversalTime == 0 {
		rCfg.NodeTraversalTime = int(router.DefaultNodeTraversalTime / time.Millisecond)
	}
	if rCfg.ActiveRouteTimeout == 0 {
		rCfg.ActiveRouteTimeout = int(router.DefaultActiveRouteTimeout / time.Millisecond)
	}
	if rCfg.RREQRetries == 0 && !rCfg.setRREQRetries {
		rCfg.RREQRetries = router.DefaultRREQRetries
	}
	if rCfg.RouteDeletionConstant == 0 {
		rCfg.RouteDeletionConstant = router.DefaultRouteDeletionConstant
	}
	if rCfg.BufferMaxPackets == 0 && rCfg.BufferMaxBytes == 0 {
		rCfg.BufferMaxPackets = router.DefaultBufferMaxPackets
	}
	if rCfg.BroadcastJitter == 0 {
		rCfg.BroadcastJitter = int(router.DefaultBroadcastJitter / time.Millisecond)
	}
	if rCfg.OnionProcessingTime == 0 {
		rCfg.OnionProcessingTime = int(router.DefaultOnionProcessingTime / time.Millisecond)
	}
	if rCfg.OnionMode == "" {
		rCfg.OnionMode = onion.ModeANODR.String()
	}
	if rCfg.CryptoMode == "" {
		rCfg.CryptoMode = defaultCryptoMode
	}
	if rCfg.NIKE == "" {
		rCfg.NIKE = defaultNIKE
	}
}

func (rCfg *Routing) validate() error {
	if _, err := onion.ParseMode(rCfg.OnionMode); err != nil {
		return fmt.Errorf("config: Routing: %v", err)
	}
	switch strings.ToLower(rCfg.CryptoMode) {
	case "real", "simulated":
	default:
		return fmt.Errorf("config: Routing: CryptoMode '%v' is invalid", rCfg.CryptoMode)
	}
	if _, err := crypto.SchemeByName(rCfg.NIKE, nil); err != nil {
		return fmt.Errorf("config: Routing: %v", err)
	}
	if _, err := rCfg.Parameters(); err != nil {
		return fmt.Errorf("config: Routing: %v", err)
	}
	return nil
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Parameters returns the resolved router parameters.
func (rCfg *Routing) Parameters() (*router.Parameters, error) {
	mode, err := onion.ParseMode(rCfg.OnionMode)
	if err != nil {
		return nil, err
	}
	p := &router.Parameters{
		NetDiameter:           rCfg.NetDiameter,
		NodeTraversalTime:     ms(rCfg.NodeTraversalTime),
		ActiveRouteTimeout:    ms(rCfg.ActiveRouteTimeout),
		RREQRetries:           rCfg.RREQRetries,
		RouteDeletionConstant: rCfg.RouteDeletionConstant,
		BufferMaxPackets:      rCfg.BufferMaxPackets,
		BufferMaxBytes:        rCfg.BufferMaxBytes,
		BroadcastJitter:       ms(rCfg.BroadcastJitter),
		OnionProcessingTime:   ms(rCfg.OnionProcessingTime),
		OnionMode:             mode,
		ReplyAck:              !rCfg.DisableReplyAck,
		DataAck:               rCfg.EnableDataAck,
		AddressHint:           !rCfg.DisableAddressHint,
		HideSource:            !rCfg.RevealSource,
		SealPseudonyms:        !rCfg.DisablePseudonymSealing,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Flow is a simulated traffic flow.  Times are in milliseconds.
type Flow struct {
	Source      uint32
	Destination uint32
	Start       int
	Interval    int
	Count       int
	Size        int
}

func (fCfg *Flow) validate(nodes map[uint32]bool) error {
	switch {
	case !nodes[fCfg.Source] || !nodes[fCfg.Destination]:
		return fmt.Errorf("config: Simulation: Flow %d->%d references an unknown node", fCfg.Source, fCfg.Destination)
	case fCfg.Source == fCfg.Destination:
		return fmt.Errorf("config: Simulation: Flow %d->%d is a loop", fCfg.Source, fCfg.Destination)
	case fCfg.Count <= 0 || fCfg.Start < 0 || fCfg.Interval < 0:
		return fmt.Errorf("config: Simulation: Flow %d->%d has an invalid schedule", fCfg.Source, fCfg.Destination)
	case fCfg.Size < 0:
		return fmt.Errorf("config: Simulation: Flow %d->%d has a negative size", fCfg.Source, fCfg.Destination)
	}
	return nil
}

// Simulation is the configuration of a simulated network.  Times are in
// milliseconds.
type Simulation struct {
	// Seed is a hex encoded 32 byte seed, all zero if omitted.
	Seed string

	Duration int

	// Delay, Jitter and Loss apply to every link.
	Delay  int
	Jitter int
	Loss   float64

	Nodes []uint32
	Links [][2]uint32
	Flows []*Flow
}

func (sCfg *Simulation) applyDefaults() {
	if sCfg.Duration == 0 {
		sCfg.Duration = defaultSimDuration
	}
	if sCfg.Delay == 0 {
		sCfg.Delay = defaultSimDelay
	}
}

func (sCfg *Simulation) validate() error {
	if _, err := decodeSeed(sCfg.Seed); err != nil {
		return fmt.Errorf("config: Simulation: %v", err)
	}
	if sCfg.Duration < 0 || sCfg.Delay < 0 || sCfg.Jitter < 0 {
		return errors.New("config: Simulation: times must not be negative")
	}
	if sCfg.Loss < 0 || sCfg.Loss >= 1 {
		return fmt.Errorf("config: Simulation: Loss %v is not in [0, 1)", sCfg.Loss)
	}
	if len(sCfg.Nodes) == 0 {
		return errors.New("config: Simulation: no Nodes")
	}

	nodes := make(map[uint32]bool)
	for _, addr := range sCfg.Nodes {
		if addr == 0 {
			return errors.New("config: Simulation: node address 0 is reserved")
		}
		if nodes[addr] {
			return fmt.Errorf("config: Simulation: duplicate node %d", addr)
		}
		nodes[addr] = true
	}
	for _, l := range sCfg.Links {
		if !nodes[l[0]] || !nodes[l[1]] || l[0] == l[1] {
			return fmt.Errorf("config: Simulation: invalid link %d-%d", l[0], l[1])
		}
	}
	for _, f := range sCfg.Flows {
		if err := f.validate(nodes); err != nil {
			return err
		}
	}
	return nil
}

// SeedBytes returns the decoded seed.
func (sCfg *Simulation) SeedBytes() [SeedSize]byte {
	var seed [SeedSize]byte
	b, _ := decodeSeed(sCfg.Seed)
	copy(seed[:], b)
	return seed
}

// Debug is the debug configuration.
type Debug struct {
	// TraceFile is where every sent and received frame is recorded, one
	// JSON object per line.  Tracing is disabled if empty.
	TraceFile string

	// MetricsAddress is the address Prometheus metrics are served on.
	// Metrics are disabled if empty.
	MetricsAddress string
}

// Config is the top level ANODR configuration.
type Config struct {
	Logging    *Logging
	Node       *Node
	Routing    *Routing
	Simulation *Simulation
	Debug      *Debug
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Node == nil && cfg.Simulation == nil {
		return errors.New("config: Neither a Node nor a Simulation block was present")
	}
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if cfg.Routing == nil {
		cfg.Routing = &Routing{}
	}
	if cfg.Debug == nil {
		cfg.Debug = &Debug{}
	}

	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	if cfg.Node != nil {
		if err := cfg.Node.validate(); err != nil {
			return err
		}
	}
	cfg.Routing.applyDefaults()
	if err := cfg.Routing.validate(); err != nil {
		return err
	}
	if cfg.Simulation != nil {
		cfg.Simulation.applyDefaults()
		if err := cfg.Simulation.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("config: No nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if cfg.Routing != nil {
		cfg.Routing.setRREQRetries = md.IsDefined("Routing", "RREQRetries")
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

// Encode writes cfg to w in TOML form.
func Encode(w io.Writer, cfg *Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}

// Store writes a config to fileName in TOML form.
func Store(cfg *Config, fileName string) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer f.Close()
	return Encode(f, cfg)
}
