// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsUsageError(t *testing.T) {
	require := require.New(t)

	require.True(IsUsageError(errors.New("unknown flag: --bogus")))
	require.True(IsUsageError(errors.New("failed to load config file 'x.toml': open x.toml: no such file")))
	require.True(IsUsageError(errors.New("accepts 1 arg(s), received 2")))
	require.False(IsUsageError(errors.New("keystore: corrupted identity")))
}
