package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

// dumpCmd implements the "dump" command.
type dumpCmd struct{}

func (*dumpCmd) Name() string     { return "dump" }
func (*dumpCmd) Synopsis() string { return "fetches one series and prints it without writing" }
func (*dumpCmd) Usage() string {
	return `dump <id>

Fetches and normalizes a single series, fallbacks included, and prints the
canonical JSON to stdout. Nothing is written to the output directory.
`
}

func (*dumpCmd) SetFlags(*flag.FlagSet) {}

func (*dumpCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: dump takes exactly one series id")
		return subcommands.ExitUsageError
	}
	cfg, err := loadConfig([]string{f.Arg(0)}, true)
	if err != nil {
		return fail(err)
	}
	p := newPipeline(cfg, true)
	jobs := cfg.Jobs()
	if err := p.Validate(jobs); err != nil {
		return fail(err)
	}
	s, _, err := p.Fetch(ctx, jobs[0])
	if err != nil {
		return fail(err)
	}
	b, err := s.Encode()
	if err != nil {
		return fail(err)
	}
	if _, err := os.Stdout.Write(b); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}
