// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !noprometheus

// Package instrument exports the router counters as Prometheus metrics.
package instrument

import (
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/katzenpost/anodr/router"
)

var (
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anodr_events_total",
			Help: "Number of protocol events, by node and event",
		},
		[]string{"node", "event"},
	)
	routeTableSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "anodr_route_table_size",
			Help: "Number of route table entries",
		},
		[]string{"node"},
	)
	bufferedPackets = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "anodr_buffered_packets",
			Help: "Number of packets held in the message buffer",
		},
		[]string{"node"},
	)

	registerOnce sync.Once
)

func register() {
	prometheus.MustRegister(events)
	prometheus.MustRegister(routeTableSize)
	prometheus.MustRegister(bufferedPackets)
}

// Init registers the metrics and serves them on addr.
func Init(addr string) error {
	registerOnce.Do(register)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go http.Serve(ln, mux)
	return nil
}

// Recorder publishes one node's counters.
type Recorder struct {
	node string
	last router.Stats
}

// NewRecorder returns the Recorder for the node at addr.
func NewRecorder(addr uint32) *Recorder {
	registerOnce.Do(register)
	return &Recorder{node: strconv.FormatUint(uint64(addr), 10)}
}

// Publish adds the counter increments since the previous call, and sets
// the gauges.
func (r *Recorder) Publish(s router.Stats, routes, buffered int) {
	prev := r.last.Fields()
	for i, f := range s.Fields() {
		if f.Value > prev[i].Value {
			events.WithLabelValues(r.node, f.Name).Add(float64(f.Value - prev[i].Value))
		}
	}
	r.last = s
	routeTableSize.WithLabelValues(r.node).Set(float64(routes))
	bufferedPackets.WithLabelValues(r.node).Set(float64(buffered))
}
