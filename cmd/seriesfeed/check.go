package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
)

// checkCmd implements the "check" command.
type checkCmd struct{}

func (*checkCmd) Name() string     { return "check" }
func (*checkCmd) Synopsis() string { return "validates configuration and credentials without fetching" }
func (*checkCmd) Usage() string {
	return `check

Loads the configuration, checks series ids, source parameters and that every
provider in use has its API key. Makes no network calls.
`
}

func (*checkCmd) SetFlags(*flag.FlagSet) {}

func (*checkCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig(nil, true)
	if err != nil {
		return fail(err)
	}
	if err := newPipeline(cfg, true).Validate(cfg.Jobs()); err != nil {
		return fail(err)
	}
	fmt.Printf("configuration ok: %d series, output to %s\n", len(cfg.Series), cfg.OutputDir)
	return subcommands.ExitSuccess
}
