// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

// Package buffer implements the message buffer that holds data packets
// while a route is discovered, and unacknowledged data frames.
package buffer

import (
	"github.com/katzenpost/anodr/pseudonym"
)

// Buffer is a bounded set of per-destination FIFO queues.  Frames kept for
// retransmission are queued under their pseudonym instead of an address.
// It is not safe for concurrent use.
type Buffer struct {
	maxPackets int
	maxBytes   int

	byDest map[uint32][][]byte
	byNym  map[pseudonym.Pseudonym][][]byte

	count int
	bytes int
}

// New returns a Buffer.  If maxBytes is positive it bounds the buffered
// bytes, otherwise maxPackets bounds the number of buffered packets.
func New(maxPackets, maxBytes int) *Buffer {
	return &Buffer{
		maxPackets: maxPackets,
		maxBytes:   maxBytes,
		byDest:     make(map[uint32][][]byte),
		byNym:      make(map[pseudonym.Pseudonym][][]byte),
	}
}

func (b *Buffer) admit(n int) bool {
	if b.maxBytes > 0 {
		return b.bytes+n <= b.maxBytes
	}
	return b.count < b.maxPackets
}

// Insert appends payload to dest's queue.  It returns false if the quota
// is exhausted, in which case the payload is dropped.
func (b *Buffer) Insert(dest uint32, payload []byte) bool {
	if !b.admit(len(payload)) {
		return false
	}
	b.byDest[dest] = append(b.byDest[dest], payload)
	b.count++
	b.bytes += len(payload)
	return true
}

// InsertAnonymous appends a frame under the pseudonym it was sent with.
func (b *Buffer) InsertAnonymous(p pseudonym.Pseudonym, frame []byte) bool {
	if !b.admit(len(frame)) {
		return false
	}
	b.byNym[p] = append(b.byNym[p], frame)
	b.count++
	b.bytes += len(frame)
	return true
}

func pop[K comparable](m map[K][][]byte, k K) ([]byte, bool) {
	q := m[k]
	if len(q) == 0 {
		return nil, false
	}
	head := q[0]
	q[0] = nil
	if len(q) == 1 {
		delete(m, k)
	} else {
		m[k] = q[1:]
	}
	return head, true
}

// Pop removes and returns the oldest payload queued for dest.
func (b *Buffer) Pop(dest uint32) ([]byte, bool) {
	payload, ok := pop(b.byDest, dest)
	if ok {
		b.count--
		b.bytes -= len(payload)
	}
	return payload, ok
}

// PopAnonymous removes and returns the oldest frame queued under p.
func (b *Buffer) PopAnonymous(p pseudonym.Pseudonym) ([]byte, bool) {
	frame, ok := pop(b.byNym, p)
	if ok {
		b.count--
		b.bytes -= len(frame)
	}
	return frame, ok
}

// Drop discards everything queued for dest, and returns the number of
// packets discarded.
func (b *Buffer) Drop(dest uint32) int {
	n := 0
	for {
		if _, ok := b.Pop(dest); !ok {
			return n
		}
		n++
	}
}

// Pending returns the number of packets queued for dest.
func (b *Buffer) Pending(dest uint32) int {
	return len(b.byDest[dest])
}

// Len returns the number of buffered packets.
func (b *Buffer) Len() int {
	return b.count
}

// Bytes returns the number of buffered bytes.
func (b *Buffer) Bytes() int {
	return b.bytes
}
