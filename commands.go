// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package main

import (
	"github.com/hashicorp/cli"

	"github.com/shopsched/shopsched/command"
)

// Commands returns the mapping of CLI commands. The meta parameter lets
// you set meta options that are available on every command.
func Commands(meta *command.Meta) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"schedule": func() (cli.Command, error) {
			return &command.ScheduleCommand{
				Meta: *meta,
			}, nil
		},
		"status": func() (cli.Command, error) {
			return &command.StatusCommand{
				Meta: *meta,
			}, nil
		},
	}
}
