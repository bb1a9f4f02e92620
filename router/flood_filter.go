// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package router

import (
	"io"

	"github.com/yawning/bloom"

	"github.com/katzenpost/anodr/rtable"
)

const (
	floodFilterSize = 16 // 8 KiB.
	floodFilterRate = 0.001
)

// floodFilter sits in front of the route table's trapdoor scan.  A miss
// proves a flood is new, a hit has to be confirmed by the table.  Deleted
// entries leave stale bits behind, so the filter is rebuilt from the live
// table on every sweep.
type floodFilter struct {
	rng io.Reader
	f   *bloom.Filter
}

func newFloodFilter(rng io.Reader) (*floodFilter, error) {
	ff := &floodFilter{rng: rng}
	if err := ff.reset(); err != nil {
		return nil, err
	}
	return ff, nil
}

func (ff *floodFilter) reset() error {
	f, err := bloom.New(ff.rng, floodFilterSize, floodFilterRate)
	if err != nil {
		return err
	}
	ff.f = f
	return nil
}

// testAndSet returns false iff the trapdoor was definitely never added.
func (ff *floodFilter) testAndSet(trapdoor []byte) bool {
	return ff.f.TestAndSet(trapdoor)
}

func (ff *floodFilter) rebuild(t *rtable.Table) error {
	if err := ff.reset(); err != nil {
		return err
	}
	t.ForEach(func(e *rtable.Entry) bool {
		if e.Trapdoor != nil {
			ff.f.TestAndSet(e.Trapdoor)
		}
		return true
	})
	return nil
}

// full returns true once the filter holds more entries than its false
// positive rate was sized for.
func (ff *floodFilter) full() bool {
	return ff.f.Entries() >= ff.f.MaxEntries()
}
