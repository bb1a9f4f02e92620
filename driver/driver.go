// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

// Package driver runs ANODR nodes in real time.  Each node lives on a
// goroutine of its own, which is the only one ever calling into it.
package driver

import (
	"errors"
	"io"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/anodr/core/log"
	"github.com/katzenpost/anodr/core/monotime"
	"github.com/katzenpost/anodr/core/worker"
	"github.com/katzenpost/anodr/instrument"
	"github.com/katzenpost/anodr/internal/crypto"
	"github.com/katzenpost/anodr/router"
)

const (
	inboxSize = 64

	// DefaultPublishInterval is how often the counters are exported.
	DefaultPublishInterval = time.Second
)

// ErrHalted is returned when calling into a halted Driver.
var ErrHalted = errors.New("driver: halted")

// Config is the configuration of a Driver.
type Config struct {
	Address    uint32
	Parameters *router.Parameters
	Suite      crypto.Suite
	Keys       router.KeyStore
	Rand       io.Reader
	Hub        *Hub

	// OnDeliver is called on the node goroutine for every payload, and
	// must not call back into the Driver.
	OnDeliver func(from uint32, payload []byte)

	// Tracer and Recorder are optional.
	Tracer   router.Tracer
	Recorder *instrument.Recorder

	LogBackend *log.Backend
}

// Driver runs one node.
type Driver struct {
	worker.Worker

	log   *logging.Logger
	addr  uint32
	clock *monotime.Clock

	node      *router.Node
	hub       *Hub
	timers    *TimerQueue
	inbox     chan func()
	onDeliver func(uint32, []byte)
	recorder  *instrument.Recorder
}

// New creates a Driver and attaches it to the hub.  The node is idle until
// Start is called.
func New(cfg *Config) (*Driver, error) {
	if cfg.Hub == nil {
		return nil, errors.New("driver: no hub")
	}
	d := &Driver{
		log:       cfg.LogBackend.GetNodeLogger("driver", cfg.Address),
		addr:      cfg.Address,
		clock:     monotime.NewClock(),
		hub:       cfg.Hub,
		inbox:     make(chan func(), inboxSize),
		onDeliver: cfg.OnDeliver,
		recorder:  cfg.Recorder,
	}

	var err error
	d.node, err = router.New(&router.Config{
		Address:    cfg.Address,
		Parameters: cfg.Parameters,
		Suite:      cfg.Suite,
		Keys:       cfg.Keys,
		Rand:       cfg.Rand,
		Transport:  d,
		Scheduler:  d,
		Deliverer:  d,
		Tracer:     cfg.Tracer,
		LogBackend: cfg.LogBackend,
	})
	if err != nil {
		return nil, err
	}
	if err = cfg.Hub.attach(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Start starts the node goroutine and the node's timers.
func (d *Driver) Start() {
	d.timers = NewTimerQueue(func(t *router.Timer) {
		d.exec(func() {
			d.node.OnTimer(t)
		})
	})
	d.Go(d.worker)
	if d.recorder != nil {
		d.Go(d.publisher)
	}
	d.exec(d.node.Start)
	d.log.Noticef("Node %d started.", d.addr)
}

// Halt stops the node.  Frames and timers still in flight are dropped.
func (d *Driver) Halt() {
	d.Worker.Halt()
	if d.timers != nil {
		d.timers.Halt()
	}
}

func (d *Driver) worker() {
	for {
		select {
		case <-d.HaltCh():
			return
		case fn := <-d.inbox:
			fn()
		}
	}
}

func (d *Driver) publisher() {
	ticker := time.NewTicker(DefaultPublishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.HaltCh():
			return
		case <-ticker.C:
			d.exec(d.publish)
		}
	}
}

func (d *Driver) publish() {
	d.recorder.Publish(d.node.Stats(), d.node.RouteCount(), d.node.BufferedCount())
}

// exec queues fn for the node goroutine.
func (d *Driver) exec(fn func()) bool {
	select {
	case d.inbox <- fn:
		return true
	case <-d.HaltCh():
		return false
	}
}

// call runs fn on the node goroutine and waits for it to return.
func (d *Driver) call(fn func()) error {
	done := make(chan struct{})
	if !d.exec(func() {
		fn()
		close(done)
	}) {
		return ErrHalted
	}
	select {
	case <-done:
		return nil
	case <-d.HaltCh():
		return ErrHalted
	}
}

// Address returns the node address.
func (d *Driver) Address() uint32 {
	return d.addr
}

// SendData sends a payload to dest.
func (d *Driver) SendData(dest uint32, payload []byte) error {
	var err error
	if callErr := d.call(func() {
		err = d.node.SendData(dest, payload)
	}); callErr != nil {
		return callErr
	}
	return err
}

// Stats returns a snapshot of the node's counters.
func (d *Driver) Stats() (router.Stats, error) {
	var s router.Stats
	err := d.call(func() {
		s = d.node.Stats()
	})
	return s, err
}

// TableSizes returns the number of route table entries and of buffered
// payloads.
func (d *Driver) TableSizes() (routes, buffered int, err error) {
	err = d.call(func() {
		routes, buffered = d.node.RouteCount(), d.node.BufferedCount()
	})
	return
}

// HasActiveRoute returns true iff the node has an active route to addr.
func (d *Driver) HasActiveRoute(addr uint32) (bool, error) {
	var ok bool
	err := d.call(func() {
		ok = d.node.HasActiveRoute(addr)
	})
	return ok, err
}

// Links implements router.Transport.
func (d *Driver) Links() []router.Link {
	return []router.Link{hubLink}
}

// Broadcast implements router.Transport.
func (d *Driver) Broadcast(link router.Link, frame []byte, ttl int, delay time.Duration) {
	d.hub.broadcast(d, frame, ttl, delay)
}

// Unicast implements router.Transport.
func (d *Driver) Unicast(link router.Link, frame []byte, hint uint32) {
	d.hub.unicast(d, frame, hint)
}

// Now implements router.Scheduler.
func (d *Driver) Now() time.Duration {
	return d.clock.Now()
}

// Schedule implements router.Scheduler.
func (d *Driver) Schedule(delay time.Duration, t *router.Timer) {
	d.timers.Push(delay, t)
}

// Deliver implements router.Deliverer.
func (d *Driver) Deliver(from uint32, payload []byte) {
	d.log.Debugf("Delivered %d bytes from %d.", len(payload), from)
	if d.onDeliver != nil {
		d.onDeliver(from, payload)
	}
}
