// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/anodr/config"
	"github.com/katzenpost/anodr/router"
)

const simConfig = `
[Logging]
  Disable = true

[Simulation]
  Duration = 5000
  Nodes = [1, 2, 3]
  Links = [[1, 2], [2, 3]]

  [[Simulation.Flows]]
    Source = 1
    Destination = 3
    Start = 100
    Interval = 50
    Count = 3
    Size = 64
`

func writeFile(t *testing.T, name, body string) string {
	f := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(f, []byte(body), 0600))
	return f
}

func TestParsePeer(t *testing.T) {
	require := require.New(t)

	p, err := parsePeer("7=peer.pem")
	require.NoError(err)
	require.Equal(uint32(7), p.addr)
	require.Equal("peer.pem", p.file)

	for _, s := range []string{"7", "=peer.pem", "0=peer.pem", "x=peer.pem", "7="} {
		_, err := parsePeer(s)
		require.Error(err, s)
	}
}

func TestSimulate(t *testing.T) {
	require := require.New(t)

	cfgFile := writeFile(t, "sim.toml", simConfig)
	statsFile := filepath.Join(t.TempDir(), "stats.cbor")

	var out bytes.Buffer
	err := runSimulate(&out, cfgFile, &simulateFlags{statsOut: statsFile})
	require.NoError(err)
	require.Contains(out.String(), "data_received")
	require.Contains(out.String(), "buffered")

	b, err := os.ReadFile(statsFile)
	require.NoError(err)
	var snap Snapshot
	require.NoError(cbor.Unmarshal(b, &snap))
	require.False(snap.Realtime)
	require.Len(snap.Nodes, 3)
	require.Equal(uint64(3), snap.Nodes[1].DataInitiated)
	require.Equal(uint64(3), snap.Nodes[2].DataForwarded)
	require.Equal(uint64(3), snap.Nodes[3].DataRecved)
}

func TestSimulateRequiresSimulation(t *testing.T) {
	cfgFile := writeFile(t, "node.toml", fmt.Sprintf(`
[Logging]
  Disable = true

[Node]
  Address = 1
  DataDir = %q
`, t.TempDir()))
	err := runSimulate(&bytes.Buffer{}, cfgFile, &simulateFlags{})
	require.ErrorContains(t, err, "no Simulation block")
}

func TestShowConfig(t *testing.T) {
	require := require.New(t)

	cfg, err := config.LoadFile(writeFile(t, "sim.toml", simConfig))
	require.NoError(err)

	var out bytes.Buffer
	require.NoError(showConfig(&out, cfg))
	require.Contains(out.String(), "NetDiameter = 35")

	reloaded, err := config.Load(out.Bytes())
	require.NoError(err)
	require.Equal(cfg.Simulation, reloaded.Simulation)
}

func nodeConfig(t *testing.T, addr uint32, dataDir string) string {
	return writeFile(t, fmt.Sprintf("node%d.toml", addr), fmt.Sprintf(`
[Logging]
  Disable = true

[Node]
  Address = %d
  DataDir = %q
`, addr, dataDir))
}

func TestKeygen(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	pem2 := filepath.Join(dir, "node2.pem")
	cfg2 := nodeConfig(t, 2, filepath.Join(dir, "node2"))

	var out bytes.Buffer
	require.NoError(runKeygen(&out, cfg2, &keygenFlags{export: pem2}))
	require.Contains(out.String(), "Node 2 (x25519)")
	fingerprint := strings.TrimSpace(out.String()[strings.LastIndex(out.String(), ": ")+2:])

	// Exporting over an existing file is refused.
	require.Error(runKeygen(&bytes.Buffer{}, cfg2, &keygenFlags{export: pem2}))

	cfg1 := nodeConfig(t, 1, filepath.Join(dir, "node1"))
	out.Reset()
	require.NoError(runKeygen(&out, cfg1, &keygenFlags{peers: []string{"2=" + pem2}}))
	require.Contains(out.String(), "Imported peer 2: "+fingerprint)

	out.Reset()
	require.NoError(runKeygen(&out, cfg1, &keygenFlags{remove: []uint{2}}))
	require.Contains(out.String(), "Removed peer 2")

	require.ErrorContains(runKeygen(&bytes.Buffer{}, cfg1, &keygenFlags{peers: []string{"2"}}), "invalid peer")
}

func TestStatsTable(t *testing.T) {
	require := require.New(t)

	s := router.Stats{DataRecved: 42}
	table := statsTable([]*nodeResult{
		{addr: 9, stats: s, routes: 1},
		{addr: 3},
	})
	lines := strings.Split(table, "\n")
	require.Len(lines, len(s.Fields())+3)
	require.Less(strings.Index(lines[0], "3"), strings.Index(lines[0], "9"))
	require.Contains(table, "42")
}

func TestSimulateRealtime(t *testing.T) {
	require := require.New(t)

	cfgFile := writeFile(t, "sim.toml", simConfig)
	statsFile := filepath.Join(t.TempDir(), "stats.cbor")

	err := runSimulate(&bytes.Buffer{}, cfgFile, &simulateFlags{
		realtime: true,
		statsOut: statsFile,
		duration: 3 * time.Second,
	})
	require.NoError(err)

	b, err := os.ReadFile(statsFile)
	require.NoError(err)
	var snap Snapshot
	require.NoError(cbor.Unmarshal(b, &snap))
	require.True(snap.Realtime)
	require.Equal(3*time.Second, snap.Duration)
	require.Equal(uint64(3), snap.Nodes[3].DataRecved)
}
