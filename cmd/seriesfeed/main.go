// Command seriesfeed fetches macro and gold time series from public data
// providers and keeps one JSON file per series up to date.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
	"github.com/zeromicro/go-zero/core/logx"
)

var configPath = flag.String("config", "", "path to the series YAML file (default $SERIESFEED_CONFIG or ./seriesfeed.yaml)")

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&runCmd{}, "")
	commander.Register(&checkCmd{}, "")
	commander.Register(&listCmd{}, "")
	commander.Register(&dumpCmd{}, "")

	flag.Parse()
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := commander.Execute(ctx)
	stop()
	os.Exit(int(status))
}

// setupLogging routes logx to stderr so stdout stays clean for dump output.
func setupLogging() {
	logx.MustSetup(logx.LogConf{Mode: "console", Encoding: "plain", Stat: false})
	logx.DisableStat()
	logx.SetWriter(logx.NewWriter(os.Stderr))
}
