// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package driver

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/anodr/core/log"
	"github.com/katzenpost/anodr/router"
)

const hubLink router.Link = 0

type hubKey struct {
	a, b uint32
}

func hubKeyFor(a, b uint32) hubKey {
	if a > b {
		a, b = b, a
	}
	return hubKey{a, b}
}

// Hub is an in-process link layer connecting Drivers.  Every frame is
// delivered after a fixed delay on a goroutine of its own.
type Hub struct {
	sync.RWMutex

	log   *logging.Logger
	delay time.Duration

	drivers map[uint32]*Driver
	links   map[hubKey]bool
}

// NewHub returns an empty Hub.
func NewHub(delay time.Duration, logBackend *log.Backend) *Hub {
	return &Hub{
		log:     logBackend.GetLogger("driver/hub"),
		delay:   delay,
		drivers: make(map[uint32]*Driver),
		links:   make(map[hubKey]bool),
	}
}

func (h *Hub) attach(d *Driver) error {
	h.Lock()
	defer h.Unlock()

	if _, ok := h.drivers[d.addr]; ok {
		return fmt.Errorf("driver: node %d is already attached", d.addr)
	}
	h.drivers[d.addr] = d
	return nil
}

// Connect links a and b, which need not be attached yet.
func (h *Hub) Connect(a, b uint32) {
	h.Lock()
	defer h.Unlock()
	h.links[hubKeyFor(a, b)] = true
}

// Cut breaks the link between a and b.
func (h *Hub) Cut(a, b uint32) {
	h.Lock()
	defer h.Unlock()

	h.log.Debugf("Cutting link %d-%d.", a, b)
	delete(h.links, hubKeyFor(a, b))
}

func (h *Hub) neighbors(addr uint32) []*Driver {
	h.RLock()
	defer h.RUnlock()

	var nbrs []*Driver
	for other, d := range h.drivers {
		if other != addr && h.links[hubKeyFor(addr, other)] {
			nbrs = append(nbrs, d)
		}
	}
	return nbrs
}

func (h *Hub) neighbor(addr, other uint32) *Driver {
	h.RLock()
	defer h.RUnlock()

	if !h.links[hubKeyFor(addr, other)] {
		return nil
	}
	return h.drivers[other]
}

func (h *Hub) send(to *Driver, frame []byte, ttl int, delay time.Duration) {
	f := slices.Clone(frame)
	time.AfterFunc(delay+h.delay, func() {
		to.exec(func() {
			to.node.OnPacket(f, hubLink, ttl)
		})
	})
}

func (h *Hub) broadcast(from *Driver, frame []byte, ttl int, delay time.Duration) {
	for _, to := range h.neighbors(from.addr) {
		h.send(to, frame, ttl, delay)
	}
}

func (h *Hub) unicast(from *Driver, frame []byte, hint uint32) {
	var targets []*Driver
	if hint == router.NoHint {
		targets = h.neighbors(from.addr)
	} else if d := h.neighbor(from.addr, hint); d != nil {
		targets = []*Driver{d}
	}
	if len(targets) == 0 {
		f := slices.Clone(frame)
		time.AfterFunc(h.delay, func() {
			from.exec(func() {
				from.node.OnLinkFailure(f, hubLink)
			})
		})
		return
	}
	for _, to := range targets {
		h.send(to, frame, 0, 0)
	}
}
