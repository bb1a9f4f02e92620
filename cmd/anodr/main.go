// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

// Command anodr manages ANODR node keys and runs ANODR networks.
package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/katzenpost/anodr/config"
	"github.com/katzenpost/anodr/core/log"
	"github.com/katzenpost/anodr/internal/cli"
)

func newRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "anodr",
		Short: "Anonymous on-demand routing for mobile ad hoc networks",
		Long: `anodr runs the ANODR anonymous on-demand routing protocol.

Route discovery floods a request carrying a global trapdoor that only the
destination can open.  Every relay adds a layer to a trapdoored boomerang
onion and the reply peels it on the way back, leaving a chain of per-hop
pseudonyms that data is forwarded along.  No node on the path learns who
the endpoints are.

Networks are configured in TOML, and can be run in virtual time for
reproducible experiments or in real time with one goroutine per node.`,
		Example: `  # Create the node identity and import a peer
  anodr keygen -f node.toml --peer 7=peer7.nike_public.pem

  # Run a simulated network
  anodr simulate -f sim.toml

  # Run the same network in real time and keep the counters
  anodr simulate -f sim.toml --realtime --stats-out stats.cbor

  # Print the configuration with every default filled in
  anodr show-config -f sim.toml`,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "f", "anodr.toml",
		"path to the configuration file (TOML format)")

	cmd.AddCommand(
		newKeygenCommand(&configFile),
		newSimulateCommand(&configFile),
		newShowConfigCommand(&configFile),
	)
	return cmd
}

func loadConfig(f string) (*config.Config, error) {
	cfg, err := config.LoadFile(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file '%v': %v", f, err)
	}
	return cfg, nil
}

func newLogBackend(cfg *config.Config) (*log.Backend, error) {
	return log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
}

func newShowConfigCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show-config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			return showConfig(cmd.OutOrStdout(), cfg)
		},
	}
}

func showConfig(w io.Writer, cfg *config.Config) error {
	return config.Encode(w, cfg)
}

func main() {
	cli.Execute(newRootCommand())
}
