// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"
	"strings"

	"github.com/shopsched/shopsched/structs"
)

type StatusCommand struct {
	Meta
}

func (c *StatusCommand) Help() string {
	helpText := `
Usage: shopsched status [options] [job-number]

  Display the jobs in the plant fixture with their status and routing.
  If no job number is given, all jobs are listed along with the weekly
  shift capacity picture and the inspection queue.

General Options:

  ` + generalOptionsUsage()
	return strings.TrimSpace(helpText)
}

func (c *StatusCommand) Synopsis() string {
	return "Display job, capacity and inspection queue status"
}

func (c *StatusCommand) Run(args []string) int {
	flags := c.Meta.FlagSet("status")
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
		return c.jobStatus(p, args[0])
	}

	jobs, err := p.store.Jobs()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error reading jobs: %s", err))
		return 1
	}
	out := []string{"Job|Priority|Status|Due"}
	for _, job := range jobs {
		due := "-"
		if !job.DueDate.IsZero() {
			due = job.DueDate.In(p.cal.Location()).Format("2006-01-02")
		}
		out = append(out, fmt.Sprintf("%s|%s|%s|%s",
			job.JobNumber, job.Priority, job.Status, due))
	}
	c.Ui.Output(formatList(out))

	metricsRows, err := p.service.WeekMetrics()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error computing capacity: %s", err))
		return 1
	}
	out = []string{"Shift|Operators|Capacity (h)|Load (h)|Load %"}
	for _, sm := range metricsRows {
		out = append(out, fmt.Sprintf("%d|%d|%.1f|%.1f|%.1f",
			sm.Shift, sm.Operators, sm.CapacityHours, sm.LoadHours, sm.LoadPercent))
	}
	c.Ui.Output("")
	c.Ui.Output(formatList(out))

	queue, err := p.service.InspectionQueue()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error computing inspection queue: %s", err))
		return 1
	}
	if len(queue) > 0 {
		c.Ui.Output("")
		c.Ui.Output("Inspection queue:")
		for _, job := range queue {
			c.Ui.Output(fmt.Sprintf("  %s", job.JobNumber))
		}
	}
	return 0
}

func (c *StatusCommand) jobStatus(p *plant, jobNumber string) int {
	job, ok := p.jobsByNumber[jobNumber]
	if !ok {
		c.Ui.Error(fmt.Sprintf("Unknown job number %q", jobNumber))
		return 1
	}

	c.Ui.Output(fmt.Sprintf("Job      = %s", job.JobNumber))
	c.Ui.Output(fmt.Sprintf("Priority = %s", job.Priority))
	c.Ui.Output(fmt.Sprintf("Status   = %s", job.Status))

	ops, err := p.store.RoutingByJob(job.ID)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error reading routing: %s", err))
		return 1
	}
	out := []string{"Seq|Operation|Type|Hours"}
	for _, op := range ops {
		out = append(out, fmt.Sprintf("%d|%s|%s|%.1f",
			op.Sequence, op.Name, op.MachineType, op.EstimatedHours+op.SetupHours))
	}
	c.Ui.Output("")
	c.Ui.Output(formatList(out))

	entries, err := p.store.EntriesForJob(job.ID)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error reading entries: %s", err))
		return 1
	}
	if len(entries) == 0 {
		return 0
	}
	structs.SortEntries(entries)
	out = []string{"Seq|Machine|Operator|Start|End|Shift"}
	for _, e := range entries {
		out = append(out, fmt.Sprintf("%d|%s|%s|%s|%s|%d",
			e.Sequence,
			e.MachineID,
			p.operatorName(e.ResourceID),
			e.StartTime.In(p.cal.Location()).Format("Mon 2006-01-02 15:04"),
			e.EndTime.In(p.cal.Location()).Format("Mon 2006-01-02 15:04"),
			e.Shift))
	}
	c.Ui.Output("")
	c.Ui.Output(formatList(out))
	return 0
}
