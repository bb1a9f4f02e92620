// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !pyroscope

package profiling

import "gopkg.in/op/go-logging.v1"

// Start does nothing without the pyroscope build tag.
func Start(log *logging.Logger, service string) error {
	log.Info("Pyroscope is disabled")
	return nil
}
