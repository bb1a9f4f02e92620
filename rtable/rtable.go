// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

// Package rtable implements the per-node ANODR route table.
//
// Entries live in an arena of fixed size chunks and are addressed by
// stable Index handles.  Live entries are threaded on an intrusive doubly
// linked list, newest first, and freed cells go on a free list for reuse.
package rtable

import (
	"bytes"
	"fmt"
	"time"

	"github.com/katzenpost/hpqc/nike"

	"github.com/katzenpost/anodr/internal/crypto"
	"github.com/katzenpost/anodr/pseudonym"
	"github.com/katzenpost/anodr/trapdoor"
)

// ChunkSize is the number of cells the arena grows by.
const ChunkSize = 100

// Anonymous is the remote address of an entry at a forwarder.
const Anonymous uint32 = 0

// Link is a link (interface) index.
type Link int

const (
	// AnyLink matches every link.
	AnyLink Link = -1

	// LocalLink is the link of a flow endpoint.
	LocalLink Link = -2
)

// Index is a stable handle to a table cell.
type Index int32

const nilIndex Index = -1

// Entry is one node's knowledge of one flow.
type Entry struct {
	// RemoteAddr is the destination at the source, the caller id at the
	// destination and Anonymous elsewhere.
	RemoteAddr uint32
	IsDest     bool

	Trapdoor   []byte
	Commitment trapdoor.Commitment
	Committed  crypto.Key

	InputOnion  pseudonym.Pseudonym
	OutputOnion pseudonym.Pseudonym
	OnionKey    crypto.Key

	UpstreamOnetimeKey nike.PublicKey
	OnetimeKey         nike.PrivateKey

	Upstream   pseudonym.Pseudonym
	Downstream pseudonym.Pseudonym
	InputLink  Link
	OutputLink Link

	Expiry    time.Duration
	Activated bool

	E2EKey       crypto.Key
	E2EConfirmed bool

	RREQRetry int
	RrepRetry int
	RerrRetry int
	DataRetry int

	idx Index
}

// Index returns the entry's stable handle.
func (e *Entry) Index() Index {
	return e.idx
}

// Flood is the state recorded for a route request by Upsert.
type Flood struct {
	RemoteAddr  uint32
	Trapdoor    []byte
	Commitment  trapdoor.Commitment
	InputOnion  pseudonym.Pseudonym
	OutputOnion pseudonym.Pseudonym
	OnionKey    crypto.Key

	UpstreamOnetimeKey nike.PublicKey
	OnetimeKey         nike.PrivateKey

	// Upstream is SrcTag at the source, and Invalid elsewhere.
	Upstream  pseudonym.Pseudonym
	InputLink Link
	Expiry    time.Duration
	E2EKey    crypto.Key

	// Retry keeps the entry's request retry counter.
	Retry bool
}

type cell struct {
	entry      Entry
	prev, next Index
	live       bool
}

// Table is a route table.  It is not safe for concurrent use.
type Table struct {
	chunks []*[ChunkSize]cell

	head Index
	free Index
	size int
}

// New returns an empty table.
func New() *Table {
	return &Table{
		head: nilIndex,
		free: nilIndex,
	}
}

func (t *Table) cell(i Index) *cell {
	return &t.chunks[int(i)/ChunkSize][int(i)%ChunkSize]
}

func (t *Table) grow() {
	chunk := new([ChunkSize]cell)
	base := len(t.chunks) * ChunkSize
	t.chunks = append(t.chunks, chunk)
	for i := ChunkSize - 1; i >= 0; i-- {
		chunk[i].next = t.free
		t.free = Index(base + i)
	}
}

func (t *Table) alloc() Index {
	if t.free == nilIndex {
		t.grow()
	}
	i := t.free
	c := t.cell(i)
	t.free = c.next

	*c = cell{
		entry: Entry{idx: i},
		prev:  nilIndex,
		next:  t.head,
		live:  true,
	}
	if t.head != nilIndex {
		t.cell(t.head).prev = i
	}
	t.head = i
	t.size++
	return i
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	return t.size
}

// Cap returns the number of allocated cells.
func (t *Table) Cap() int {
	return len(t.chunks) * ChunkSize
}

// Get returns the live entry at i, or nil.
func (t *Table) Get(i Index) *Entry {
	if i < 0 || int(i) >= t.Cap() {
		return nil
	}
	c := t.cell(i)
	if !c.live {
		return nil
	}
	return &c.entry
}

// ForEach calls fn on every live entry, newest first, until fn returns
// false.  fn may remove the entry it is passed.
func (t *Table) ForEach(fn func(*Entry) bool) {
	for i := t.head; i != nilIndex; {
		c := t.cell(i)
		next := c.next
		if !fn(&c.entry) {
			return
		}
		i = next
	}
}

func (t *Table) find(fn func(*Entry) bool) *Entry {
	var found *Entry
	t.ForEach(func(e *Entry) bool {
		if fn(e) {
			found = e
			return false
		}
		return true
	})
	return found
}

// FindByDestination returns the entry for the flow to or from addr that
// has its forwarding pseudonym filled in.  It is only meaningful at flow
// endpoints.
func (t *Table) FindByDestination(addr uint32) *Entry {
	return t.find(func(e *Entry) bool {
		if e.RemoteAddr != addr || addr == Anonymous {
			return false
		}
		if e.IsDest {
			return e.Upstream.IsValid()
		}
		return e.Downstream.IsValid()
	})
}

// FindSent returns the source side entry for addr, pending or not.
func (t *Table) FindSent(addr uint32) *Entry {
	return t.find(func(e *Entry) bool {
		return addr != Anonymous && e.RemoteAddr == addr && !e.IsDest
	})
}

// FindByTrapdoor returns the entry recorded for a flood's trapdoor.
func (t *Table) FindByTrapdoor(b []byte) *Entry {
	return t.find(func(e *Entry) bool {
		return bytes.Equal(e.Trapdoor, b)
	})
}

// FindByOutputOnion returns the entry whose output onion is o.
func (t *Table) FindByOutputOnion(o pseudonym.Pseudonym) *Entry {
	return t.find(func(e *Entry) bool {
		return e.OutputOnion == o
	})
}

func matchLink(want, have Link) bool {
	return want == AnyLink || want == have
}

// FindByUpstream returns the entry whose upstream pseudonym is p on link.
// The caller forwards with the entry's Downstream and OutputLink.
func (t *Table) FindByUpstream(p pseudonym.Pseudonym, link Link) *Entry {
	if !p.IsValid() {
		panic("BUG: rtable: lookup of an invalid upstream pseudonym")
	}
	return t.find(func(e *Entry) bool {
		return e.Upstream == p && matchLink(link, e.InputLink)
	})
}

// FindByDownstream returns the entry whose downstream pseudonym is p on
// link.  The caller forwards with the entry's Upstream and InputLink.
func (t *Table) FindByDownstream(p pseudonym.Pseudonym, link Link) *Entry {
	if !p.IsValid() {
		panic("BUG: rtable: lookup of an invalid downstream pseudonym")
	}
	return t.find(func(e *Entry) bool {
		return e.Downstream == p && matchLink(link, e.OutputLink)
	})
}

// Upsert records f.  The entry is looked up by destination at the source
// and by trapdoor elsewhere, and created if absent.  Every field is reset
// from f except the request retry counter, which survives when f.Retry is
// set.
func (t *Table) Upsert(f *Flood) *Entry {
	n := 0
	e := t.find(func(e *Entry) bool {
		n++
		if f.RemoteAddr != Anonymous {
			return e.RemoteAddr == f.RemoteAddr && !e.IsDest
		}
		return bytes.Equal(e.Trapdoor, f.Trapdoor)
	})
	if e == nil {
		t.checkInvariant(n)
		e = &t.cell(t.alloc()).entry
	}

	retry := e.RREQRetry
	*e = Entry{
		RemoteAddr:         f.RemoteAddr,
		Trapdoor:           append([]byte(nil), f.Trapdoor...),
		Commitment:         f.Commitment,
		InputOnion:         f.InputOnion,
		OutputOnion:        f.OutputOnion,
		OnionKey:           f.OnionKey,
		UpstreamOnetimeKey: f.UpstreamOnetimeKey,
		OnetimeKey:         f.OnetimeKey,
		Upstream:           f.Upstream,
		InputLink:          f.InputLink,
		OutputLink:         AnyLink,
		Expiry:             f.Expiry,
		E2EKey:             f.E2EKey,
		idx:                e.idx,
	}
	if f.Retry {
		e.RREQRetry = retry
	}
	return e
}

func (t *Table) checkInvariant(n int) {
	if n != t.size {
		panic(fmt.Sprintf("BUG: rtable: inconsistent table: %d entries listed, size %d", n, t.size))
	}
}

// Remove returns the cell at i to the free list.
func (t *Table) Remove(i Index) {
	e := t.Get(i)
	if e == nil {
		panic("BUG: rtable: removal of a non-existent entry")
	}
	c := t.cell(i)
	if c.prev != nilIndex {
		t.cell(c.prev).next = c.next
	} else {
		t.head = c.next
	}
	if c.next != nilIndex {
		t.cell(c.next).prev = c.prev
	}
	if e.OnetimeKey != nil {
		e.OnetimeKey.Reset()
	}

	*c = cell{
		entry: Entry{idx: i},
		prev:  nilIndex,
		next:  t.free,
	}
	t.free = i
	t.size--
}

// Sweep removes every entry that expired before now and returns how many
// were removed.
func (t *Table) Sweep(now time.Duration) int {
	n := 0
	t.ForEach(func(e *Entry) bool {
		if e.Expiry < now {
			t.Remove(e.idx)
			n++
		}
		return true
	})
	return n
}
