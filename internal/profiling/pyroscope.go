// SPDX-FileCopyrightText: © 2026 Katzenpost dev team
// SPDX-License-Identifier: AGPL-3.0-only

//go:build pyroscope

// Package profiling starts continuous profiling when built with the
// pyroscope tag.
package profiling

import (
	"errors"
	"os"

	"github.com/grafana/pyroscope-go"
	"gopkg.in/op/go-logging.v1"
)

// Start starts the Pyroscope agent, configured from the environment.
func Start(log *logging.Logger, service string) error {
	log.Info("Starting Pyroscope")

	serverAddress := os.Getenv("PYROSCOPE_SERVER_ADDRESS")
	if serverAddress == "" {
		return errors.New("PYROSCOPE_SERVER_ADDRESS is not set")
	}
	appName := os.Getenv("PYROSCOPE_APP_NAME")
	if appName == "" {
		appName = "anodr"
	}

	_, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   serverAddress,
		Logger:          pyroscope.StandardLogger,
		Tags: map[string]string{
			"service": service,
		},
	})
	if err != nil {
		return err
	}
	log.Infof("Pyroscope started at %s, app name: %s, service: %s", serverAddress, appName, service)
	return nil
}
