package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"

	"seriesfeed/internal/config"
	"seriesfeed/internal/store"
)

// listCmd implements the "list" command.
type listCmd struct{}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "lists configured series and their stored state" }
func (*listCmd) Usage() string {
	return `list

Prints each configured series with its source chain, output file and the
last stored date. Works without API keys.
`
}

func (*listCmd) SetFlags(*flag.FlagSet) {}

func (*listCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig(nil, false)
	if err != nil {
		return fail(err)
	}
	w := store.New(cfg.OutputDir)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCES\tFILE\tLAST")
	for _, s := range cfg.Series {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, chain(s), w.Path(s.ID), lastStored(w, s.ID))
	}
	if err := tw.Flush(); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

func chain(s config.Series) string {
	reqs := s.Requests()
	parts := make([]string, 0, len(reqs))
	for _, r := range reqs {
		parts = append(parts, r.ProviderRequest().String())
	}
	return strings.Join(parts, " > ")
}

func lastStored(w *store.Writer, id string) string {
	s, err := w.Read(id)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "-"
	case err != nil:
		return "unreadable"
	case s.Len() == 0:
		return "empty"
	}
	return s.Last().String()
}
