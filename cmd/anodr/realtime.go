// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/anodr/config"
	"github.com/katzenpost/anodr/core/log"
	"github.com/katzenpost/anodr/core/worker"
	"github.com/katzenpost/anodr/driver"
	"github.com/katzenpost/anodr/instrument"
	"github.com/katzenpost/anodr/internal/crypto"
	"github.com/katzenpost/anodr/keystore"
	"github.com/katzenpost/anodr/router"
	"github.com/katzenpost/anodr/sim"
	"github.com/katzenpost/anodr/trace"
)

func runRealtime(cfg *config.Config, params *router.Parameters, duration time.Duration, logBackend *log.Backend, tracer *trace.Writer) ([]*nodeResult, error) {
	sCfg := cfg.Simulation
	seed := sCfg.SeedBytes()
	seeds, err := rand.NewDeterministicRandReader(seed[:])
	if err != nil {
		return nil, err
	}
	scheme, err := crypto.SchemeByName(cfg.Routing.NIKE, seeds)
	if err != nil {
		return nil, err
	}
	suite, err := crypto.New(cfg.Routing.CryptoMode, scheme)
	if err != nil {
		return nil, err
	}

	stores := make(map[uint32]*keystore.MemoryStore)
	for _, addr := range sCfg.Nodes {
		_, priv, err := scheme.GenerateKeyPairFromEntropy(seeds)
		if err != nil {
			return nil, err
		}
		stores[addr] = keystore.NewMemoryStore(priv)
	}
	for addr, ks := range stores {
		for other, peer := range stores {
			if other != addr {
				ks.AddPeer(other, scheme.DerivePublicKey(peer.Identity()))
			}
		}
	}

	hub := driver.NewHub(time.Duration(sCfg.Delay)*time.Millisecond, logBackend)
	for _, l := range sCfg.Links {
		hub.Connect(l[0], l[1])
	}

	drivers := make(map[uint32]*driver.Driver)
	recorders := make(map[uint32]*instrument.Recorder)
	defer func() {
		// Halting twice is harmless.
		for _, d := range drivers {
			d.Halt()
		}
	}()
	for _, addr := range sCfg.Nodes {
		dCfg := &driver.Config{
			Address:    addr,
			Parameters: params,
			Suite:      suite,
			Keys:       stores[addr],
			Rand:       rand.Reader,
			Hub:        hub,
			Tracer:     tracerOrNil(tracer),
			LogBackend: logBackend,
		}
		if cfg.Debug.MetricsAddress != "" {
			recorders[addr] = instrument.NewRecorder(addr)
			dCfg.Recorder = recorders[addr]
		}
		d, err := driver.New(dCfg)
		if err != nil {
			return nil, err
		}
		drivers[addr] = d
	}
	for _, addr := range sCfg.Nodes {
		drivers[addr].Start()
	}

	l := logBackend.GetLogger("anodr/realtime")
	var flows worker.Worker
	for _, f := range simFlows(sCfg) {
		flows.Go(func() {
			runFlow(&flows, drivers[f.Source], f, l.Warningf)
		})
	}

	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(haltCh)

	// Rotate the log upon SIGHUP.
	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)
	defer signal.Stop(rotateCh)

	timeout := time.After(duration)
wait:
	for {
		select {
		case <-timeout:
			break wait
		case <-haltCh:
			l.Notice("Interrupted.")
			break wait
		case <-rotateCh:
			if err := logBackend.Rotate(); err != nil {
				l.Errorf("Failed to rotate the log: %v", err)
			}
		}
	}
	flows.Halt()

	var results []*nodeResult
	for _, addr := range sCfg.Nodes {
		d := drivers[addr]
		s, err := d.Stats()
		if err != nil {
			return nil, err
		}
		routes, buffered, err := d.TableSizes()
		if err != nil {
			return nil, err
		}
		results = append(results, &nodeResult{
			addr:     addr,
			stats:    s,
			routes:   routes,
			buffered: buffered,
		})
	}
	for _, d := range drivers {
		d.Halt()
	}
	for _, r := range results {
		if rec := recorders[r.addr]; rec != nil {
			rec.Publish(r.stats, r.routes, r.buffered)
		}
	}
	return results, nil
}

func runFlow(w *worker.Worker, src *driver.Driver, f *sim.Flow, warnf func(string, ...interface{})) {
	start := time.Now().Add(f.Start)
	for i := 0; i < f.Count; i++ {
		if !w.Sleep(time.Until(start.Add(time.Duration(i) * f.Interval))) {
			return
		}
		if err := src.SendData(f.Destination, sim.FlowPayload(i, f.Size)); err != nil {
			warnf("Flow %d->%d: %v", f.Source, f.Destination, err)
		}
	}
}
