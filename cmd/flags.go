// Package cmd defines the command line flags shared by every ccn subcommand.
package cmd

import (
	"github.com/urfave/cli/v2"
)

var (
	// ConfigFileFlag points at the YAML node configuration.
	ConfigFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "The filepath to a yaml file with the node configuration",
	}
	// KeyFileFlag points at the node's ed25519 secret key.
	KeyFileFlag = &cli.StringFlag{
		Name:  "key",
		Usage: "The filepath to the hex encoded ed25519 secret key identifying this node",
	}
	// VerbosityFlag defines the logrus configuration.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info=default, warn, error, fatal, panic)",
		Value: "info",
	}
	// LogFormat specifies the log output format.
	LogFormat = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Specify log formatting. Supports: text, json, fluentd.",
		Value: "text",
	}
	// LogFileName specifies the log output file name.
	LogFileName = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Specify log file name, relative or absolute",
	}
	// MonitoringHostFlag defines the host used to serve prometheus metrics.
	MonitoringHostFlag = &cli.StringFlag{
		Name:  "monitoring-host",
		Usage: "Host used for listening and responding metrics for prometheus",
		Value: "127.0.0.1",
	}
	// MonitoringPortFlag defines the http port used to serve prometheus metrics.
	MonitoringPortFlag = &cli.IntFlag{
		Name:  "monitoring-port",
		Usage: "Port used to listening and respond metrics for prometheus",
		Value: 8000,
	}
)
