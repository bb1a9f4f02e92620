// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

// Package trace records every frame sent or received by a set of nodes,
// one JSON object per line.
package trace

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ugorji/go/codec"

	"github.com/katzenpost/anodr/pseudonym"
	"github.com/katzenpost/anodr/router"
	"github.com/katzenpost/anodr/wire"
)

// Record is one traced frame.
type Record struct {
	// Time is the node's clock in microseconds.
	Time      int64  `codec:"time"`
	Node      uint32 `codec:"node"`
	Direction string `codec:"dir"`
	Link      int    `codec:"link"`
	Type      string `codec:"type"`
	Size      int    `codec:"size"`

	// Pseudonym is set for frames that carry one in the clear.
	Pseudonym string `codec:"pseudonym,omitempty"`
}

// Writer is a router.Tracer writing to an io.Writer.  It is safe for
// concurrent use.
type Writer struct {
	sync.Mutex

	w   *bufio.Writer
	enc *codec.Encoder
	err error
}

var jsonHandle = &codec.JsonHandle{}

// New returns a Writer.  Records are buffered until Flush.
func New(w io.Writer) *Writer {
	bw := bufio.NewWriter(w)
	return &Writer{
		w:   bw,
		enc: codec.NewEncoder(bw, jsonHandle),
	}
}

func newRecord(node uint32, now time.Duration, dir router.Direction, link router.Link, frame []byte) *Record {
	r := &Record{
		Time:      now.Microseconds(),
		Node:      node,
		Direction: string(rune(dir)),
		Link:      int(link),
		Size:      len(frame),
	}
	t, err := wire.PeekType(frame)
	r.Type = t.String()
	if err != nil {
		return r
	}
	switch t {
	case wire.RERR, wire.RREPAck, wire.RERRAck, wire.DataAck, wire.Data:
		if p, err := pseudonym.FromBytes(frame[1:]); err == nil {
			r.Pseudonym = p.String()
		}
	}
	return r
}

// Trace implements router.Tracer.  The first error is kept and returned
// by Flush.
func (t *Writer) Trace(node uint32, now time.Duration, dir router.Direction, link router.Link, frame []byte) {
	r := newRecord(node, now, dir, link, frame)

	t.Lock()
	defer t.Unlock()

	if t.err != nil {
		return
	}
	if t.err = t.enc.Encode(r); t.err == nil {
		t.err = t.w.WriteByte('\n')
	}
}

// Flush writes out the buffered records.
func (t *Writer) Flush() error {
	t.Lock()
	defer t.Unlock()

	if t.err != nil {
		return t.err
	}
	return t.w.Flush()
}

// Decode reads back the records written by a Writer.
func Decode(r io.Reader) ([]*Record, error) {
	dec := codec.NewDecoder(r, jsonHandle)
	var records []*Record
	for {
		rec := new(Record)
		if err := dec.Decode(rec); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return nil, err
		}
		records = append(records, rec)
	}
}
