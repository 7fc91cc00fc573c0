// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"context"
	"fmt"
	"strings"
)

type ScheduleCommand struct {
	Meta
}

func (c *ScheduleCommand) Help() string {
	helpText := `
Usage: shopsched schedule [options] [job-number]

  Place unscheduled jobs from the plant fixture onto machines and
  operators. With no job number every unscheduled job is placed in
  priority order; with one, only that job is placed.

General Options:

  ` + generalOptionsUsage()
	return strings.TrimSpace(helpText)
}

func (c *ScheduleCommand) Synopsis() string {
	return "Place unscheduled jobs onto machines and operators"
}

func (c *ScheduleCommand) Run(args []string) int {
	flags := c.Meta.FlagSet("schedule")
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	if err := flags.Parse(args); err != nil {
		return 1
	}
	args = flags.Args()
	if len(args) > 1 {
		c.Ui.Error(c.Help())
		return 1
	}

	p, err := loadPlant(&c.Meta)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error loading plant: %s", err))
		return 1
	}

	if len(args) == 1 {
		job, ok := p.jobsByNumber[args[0]]
		if !ok {
			c.Ui.Error(fmt.Sprintf("Unknown job number %q", args[0]))
			return 1
		}
		result, err := p.service.ScheduleJob(context.Background(), job.ID, nil)
		if err != nil {
			c.Ui.Error(fmt.Sprintf("Error scheduling job: %s", err))
			return 1
		}
		if !result.Success {
			c.Ui.Error(fmt.Sprintf("Job %s not placed: %s (%s)",
				args[0], result.FailureReason, result.FailureDetails))
			return 1
		}
		c.printEntries(p)
		return 0
	}

	batch, err := p.service.ScheduleAll(context.Background())
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error scheduling: %s", err))
		return 1
	}

	c.Ui.Output(fmt.Sprintf("Scheduled %d of %d jobs (%d failed)",
		batch.Scheduled, batch.Total, batch.Failed))
	for _, r := range batch.PerJob {
		if !r.Success {
			c.Ui.Warn(fmt.Sprintf("  %s: %s (%s)", r.JobID, r.FailureReason, r.FailureDetails))
		}
	}
	c.printEntries(p)
	return 0
}

func (c *ScheduleCommand) printEntries(p *plant) {
	jobs, err := p.store.Jobs()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error reading jobs: %s", err))
		return
	}

	out := []string{"Job|Seq|Machine|Operator|Start|End|Shift"}
	for _, job := range jobs {
		entries, err := p.store.EntriesForJob(job.ID)
		if err != nil {
			c.Ui.Error(fmt.Sprintf("Error reading entries: %s", err))
			return
		}
		for _, e := range entries {
			out = append(out, fmt.Sprintf("%s|%d|%s|%s|%s|%s|%d",
				job.JobNumber,
				e.Sequence,
				e.MachineID,
				p.operatorName(e.ResourceID),
				e.StartTime.In(p.cal.Location()).Format("Mon 2006-01-02 15:04"),
				e.EndTime.In(p.cal.Location()).Format("Mon 2006-01-02 15:04"),
				e.Shift))
		}
	}
	if len(out) > 1 {
		c.Ui.Output(formatList(out))
	}
}
