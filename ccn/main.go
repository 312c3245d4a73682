// Package main defines the aleph.im core channel node command line. Each
// subcommand runs one stage of the message ingestion pipeline as its own
// process, sharing only PostgreSQL and RabbitMQ with the others.
package main

import (
	"fmt"
	"os"
	"runtime"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/aleph-im/go-ccn/ccn/node"
	"github.com/aleph-im/go-ccn/cmd"
	"github.com/aleph-im/go-ccn/runtime/version"
	"github.com/aleph-im/go-ccn/shared/logutil"
)

var log = logrus.WithField("prefix", "main")

var appFlags = []cli.Flag{
	cmd.ConfigFileFlag,
	cmd.KeyFileFlag,
	cmd.VerbosityFlag,
	cmd.LogFormat,
	cmd.LogFileName,
	cmd.MonitoringHostFlag,
	cmd.MonitoringPortFlag,
}

func startNode(cliCtx *cli.Context, kind node.Kind) error {
	verbosity := cliCtx.String(cmd.VerbosityFlag.Name)
	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	n, err := node.New(cliCtx, kind)
	if err != nil {
		return err
	}
	n.Start()
	return nil
}

func main() {
	app := cli.App{}
	app.Name = "ccn"
	app.Usage = "launches an aleph.im core channel node that ingests messages from chains, peers and clients"
	app.Version = version.GetVersion()
	app.Flags = appFlags
	app.Commands = []*cli.Command{
		{
			Name:  "sync-txs",
			Usage: "run the chain sync engine that expands recorded transactions into messages",
			Action: func(cliCtx *cli.Context) error {
				return startNode(cliCtx, node.SyncTxs)
			},
		},
		{
			Name:  "process-messages",
			Usage: "run the pending message pipeline",
			Action: func(cliCtx *cli.Context) error {
				return startNode(cliCtx, node.ProcessMessages)
			},
		},
		{
			Name:  "api",
			Usage: "serve the operational HTTP surface",
			Action: func(cliCtx *cli.Context) error {
				return startNode(cliCtx, node.API)
			},
		},
	}
	app.Before = func(ctx *cli.Context) error {
		format := ctx.String(cmd.LogFormat.Name)
		switch format {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			// If persistent log files are written - we disable the log messages coloring because
			// the colors are ANSI codes and seen as Gibberish in the log files.
			formatter.DisableColors = ctx.String(cmd.LogFileName.Name) != ""
			logrus.SetFormatter(formatter)
		case "fluentd":
			logrus.SetFormatter(joonix.NewFormatter())
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		default:
			return fmt.Errorf("unknown log format %s", format)
		}

		logFileName := ctx.String(cmd.LogFileName.Name)
		if logFileName != "" {
			if err := logutil.ConfigurePersistentLogging(logFileName, format); err != nil {
				log.WithError(err).Error("Failed to configuring logging to disk.")
			}
		}

		runtime.GOMAXPROCS(runtime.NumCPU())
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
