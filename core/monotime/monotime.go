// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

// Package monotime implements monotonic clocks.
package monotime

import "time"

var monoBase = time.Now()

// Now returns the current time as measured by a monotonic clock source.  The
// value is totally unrelated to civil time, and should only be used for
// measuring relative time intervals.
func Now() time.Duration {
	return time.Since(monoBase)
}

// Clock is a monotonic clock that reads zero when it is created.
type Clock struct {
	epoch time.Duration
}

// NewClock returns a Clock starting now.
func NewClock() *Clock {
	return &Clock{epoch: Now()}
}

// Now returns the time elapsed since the clock was created.
func (c *Clock) Now() time.Duration {
	return Now() - c.epoch
}
