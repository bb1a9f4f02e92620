// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"

	"github.com/katzenpost/anodr/config"
	"github.com/katzenpost/anodr/core/log"
	"github.com/katzenpost/anodr/instrument"
	"github.com/katzenpost/anodr/internal/profiling"
	"github.com/katzenpost/anodr/router"
	"github.com/katzenpost/anodr/sim"
	"github.com/katzenpost/anodr/trace"
)

type simulateFlags struct {
	realtime bool
	profile  bool
	statsOut string
	duration time.Duration
}

func newSimulateCommand(configFile *string) *cobra.Command {
	var flags simulateFlags

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the configured network",
		Long: `simulate builds the network described by the Simulation block, runs its
flows and prints every node's counters.

By default the network runs in virtual time on a single goroutine, and two
runs with the same configuration and seed are identical.  With --realtime
every node runs on a goroutine of its own against the wall clock.`,
		Example: `  # Run in virtual time
  anodr simulate -f sim.toml

  # Run for ten seconds of wall clock time and save the counters
  anodr simulate -f sim.toml --realtime --duration 10s --stats-out stats.cbor`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.OutOrStdout(), *configFile, &flags)
		},
	}
	cmd.Flags().BoolVar(&flags.realtime, "realtime", false,
		"run every node on its own goroutine against the wall clock")
	cmd.Flags().BoolVar(&flags.profile, "profile", false,
		"send profiles to the pyroscope server in PYROSCOPE_SERVER_ADDRESS")
	cmd.Flags().StringVar(&flags.statsOut, "stats-out", "",
		"write the per node counters to this file in CBOR")
	cmd.Flags().DurationVar(&flags.duration, "duration", 0,
		"override Simulation.Duration")
	return cmd
}

// Snapshot is the content of a --stats-out file.
type Snapshot struct {
	Duration time.Duration           `cbor:"duration"`
	Realtime bool                    `cbor:"realtime"`
	Nodes    map[uint32]router.Stats `cbor:"nodes"`
}

type nodeResult struct {
	addr     uint32
	stats    router.Stats
	routes   int
	buffered int
}

func runSimulate(w io.Writer, configFile string, flags *simulateFlags) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if cfg.Simulation == nil {
		return errors.New("failed to load config file: no Simulation block")
	}
	params, err := cfg.Routing.Parameters()
	if err != nil {
		return err
	}
	duration := time.Duration(cfg.Simulation.Duration) * time.Millisecond
	if flags.duration > 0 {
		duration = flags.duration
	}

	logBackend, err := newLogBackend(cfg)
	if err != nil {
		return err
	}
	logger := logBackend.GetLogger("anodr")

	if flags.profile {
		if err := profiling.Start(logger, "anodr"); err != nil {
			return err
		}
	}
	if cfg.Debug.MetricsAddress != "" {
		if err := instrument.Init(cfg.Debug.MetricsAddress); err != nil {
			return err
		}
	}

	var tracer *trace.Writer
	if cfg.Debug.TraceFile != "" {
		f, err := os.Create(cfg.Debug.TraceFile)
		if err != nil {
			return err
		}
		defer f.Close()
		tracer = trace.New(f)
		defer func() {
			if err := tracer.Flush(); err != nil {
				logger.Errorf("Failed to flush the trace: %v", err)
			}
		}()
	}

	var results []*nodeResult
	if flags.realtime {
		results, err = runRealtime(cfg, params, duration, logBackend, tracer)
	} else {
		results, err = runVirtual(cfg, params, duration, logBackend, tracer)
	}
	if err != nil {
		return err
	}
	logger.Noticef("Ran %d nodes for %v.", len(results), duration)

	if cfg.Debug.MetricsAddress != "" && !flags.realtime {
		for _, r := range results {
			instrument.NewRecorder(r.addr).Publish(r.stats, r.routes, r.buffered)
		}
	}
	if flags.statsOut != "" {
		if err := writeSnapshot(flags.statsOut, duration, flags.realtime, results); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(w, statsTable(results))
	return err
}

// tracerOrNil keeps a nil *trace.Writer from becoming a non-nil
// router.Tracer.
func tracerOrNil(t *trace.Writer) router.Tracer {
	if t == nil {
		return nil
	}
	return t
}

func simFlows(sCfg *config.Simulation) []*sim.Flow {
	flows := make([]*sim.Flow, 0, len(sCfg.Flows))
	for _, f := range sCfg.Flows {
		flows = append(flows, &sim.Flow{
			Source:      f.Source,
			Destination: f.Destination,
			Start:       time.Duration(f.Start) * time.Millisecond,
			Interval:    time.Duration(f.Interval) * time.Millisecond,
			Count:       f.Count,
			Size:        f.Size,
		})
	}
	return flows
}

func runVirtual(cfg *config.Config, params *router.Parameters, duration time.Duration, logBackend *log.Backend, tracer *trace.Writer) ([]*nodeResult, error) {
	sCfg := cfg.Simulation
	net, err := sim.New(&sim.Config{
		Parameters: params,
		CryptoMode: cfg.Routing.CryptoMode,
		NIKE:       cfg.Routing.NIKE,
		Seed:       sCfg.SeedBytes(),
		Delay:      time.Duration(sCfg.Delay) * time.Millisecond,
		Jitter:     time.Duration(sCfg.Jitter) * time.Millisecond,
		Loss:       sCfg.Loss,
		LogBackend: logBackend,
		Tracer:     tracerOrNil(tracer),
	})
	if err != nil {
		return nil, err
	}
	for _, addr := range sCfg.Nodes {
		if _, err := net.AddNode(addr); err != nil {
			return nil, err
		}
	}
	for _, l := range sCfg.Links {
		if _, err := net.Connect(l[0], l[1]); err != nil {
			return nil, err
		}
	}
	for _, f := range simFlows(sCfg) {
		if err := net.AddFlow(f); err != nil {
			return nil, err
		}
	}

	net.Start()
	net.Run(duration)

	var results []*nodeResult
	for _, node := range net.Nodes() {
		results = append(results, &nodeResult{
			addr:     node.Address(),
			stats:    node.Router.Stats(),
			routes:   node.Router.RouteCount(),
			buffered: node.Router.BufferedCount(),
		})
	}
	return results, nil
}

func writeSnapshot(f string, duration time.Duration, realtime bool, results []*nodeResult) error {
	snap := &Snapshot{
		Duration: duration,
		Realtime: realtime,
		Nodes:    make(map[uint32]router.Stats),
	}
	for _, r := range results {
		snap.Nodes[r.addr] = r.stats
	}
	b, err := cbor.Marshal(snap)
	if err != nil {
		return err
	}
	return os.WriteFile(f, b, 0600)
}

// statsTable renders one row per counter and one column per node.
func statsTable(results []*nodeResult) string {
	results = slices.Clone(results)
	slices.SortFunc(results, func(a, b *nodeResult) int {
		switch {
		case a.addr < b.addr:
			return -1
		case a.addr > b.addr:
			return 1
		}
		return 0
	})

	header := lipgloss.NewStyle().Bold(true)
	cell := lipgloss.NewStyle().PaddingRight(2)
	num := cell.Align(lipgloss.Right)

	var names []string
	names = append(names, header.Render("node"))
	for _, f := range (&router.Stats{}).Fields() {
		names = append(names, f.Name)
	}
	names = append(names, header.Render("routes"), header.Render("buffered"))
	cols := []string{cell.Render(lipgloss.JoinVertical(lipgloss.Left, names...))}

	for _, r := range results {
		var vals []string
		vals = append(vals, header.Render(strconv.FormatUint(uint64(r.addr), 10)))
		for _, f := range r.stats.Fields() {
			vals = append(vals, strconv.FormatUint(f.Value, 10))
		}
		vals = append(vals, strconv.Itoa(r.routes), strconv.Itoa(r.buffered))
		cols = append(cols, num.Render(lipgloss.JoinVertical(lipgloss.Right, vals...)))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cols...)
}
