// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package monotime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonotime(t *testing.T) {
	require := require.New(t)

	const sleepTime = 50 * time.Millisecond

	before := Now()
	time.Sleep(sleepTime)
	after := Now()

	require.GreaterOrEqual(int64(after-before), int64(sleepTime), "Interval subtraction")
}

func TestClock(t *testing.T) {
	require := require.New(t)

	time.Sleep(10 * time.Millisecond)
	c := NewClock()
	start := c.Now()
	require.Less(start, 10*time.Millisecond, "a new clock reads about zero")

	time.Sleep(20 * time.Millisecond)
	require.GreaterOrEqual(c.Now()-start, 20*time.Millisecond)
	require.Greater(Now(), c.Now())
}
