// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"flag"
	"strings"

	"github.com/hashicorp/cli"
	"github.com/ryanuber/columnize"
)

// Meta contains the meta-options and functionality that nearly every
// command inherits.
type Meta struct {
	Ui cli.Ui

	// plantPath is the plant fixture file backing the in-memory store.
	plantPath string

	// verbose enables debug logging.
	verbose bool
}

// FlagSet returns a FlagSet with the common flags that every command
// implements.
func (m *Meta) FlagSet(n string) *flag.FlagSet {
	f := flag.NewFlagSet(n, flag.ContinueOnError)
	f.StringVar(&m.plantPath, "plant", "plant.json", "")
	f.BoolVar(&m.verbose, "verbose", false, "")
	return f
}

func generalOptionsUsage() string {
	helpText := `
  -plant=<path>
    Path to the plant fixture file describing machines, operators,
    jobs and unavailability. Defaults to "plant.json".

  -verbose
    Enable debug logging.
`
	return strings.TrimSpace(helpText)
}

// formatList columnizes rows with the standard "|" delimiter.
func formatList(in []string) string {
	columnConf := columnize.DefaultConfig()
	columnConf.Empty = "<none>"
	return columnize.Format(in, columnConf)
}
