// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	log "github.com/hashicorp/go-hclog"

	"github.com/shopsched/shopsched/calendar"
	"github.com/shopsched/shopsched/helper/uuid"
	"github.com/shopsched/shopsched/scheduler"
	"github.com/shopsched/shopsched/state"
	"github.com/shopsched/shopsched/structs"
)

// plantFile is the on-disk fixture describing a plant. It stands in for the
// production import pipeline when driving the CLI.
type plantFile struct {
	Machines       []*plantMachine        `json:"machines"`
	Operators      []*plantOperator       `json:"operators"`
	Jobs           []*plantJob            `json:"jobs"`
	Unavailability []*plantUnavailability `json:"unavailability"`
}

type plantMachine struct {
	MachineID          string   `json:"machine_id"`
	Name               string   `json:"name"`
	Type               string   `json:"type"`
	Status             string   `json:"status"`
	SubstitutionGroups []string `json:"substitution_groups"`
	Shifts             []int    `json:"shifts"`
}

type plantOperator struct {
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Inactive    bool     `json:"inactive"`
	Shifts      []int    `json:"shifts"`
	WorkCenters []string `json:"work_centers"`
	Skills      []string `json:"skills"`
}

type plantJob struct {
	JobNumber string            `json:"job_number"`
	Priority  string            `json:"priority"`
	DueDate   string            `json:"due_date"`
	Routing   []*plantOperation `json:"routing"`
}

type plantOperation struct {
	Name               string   `json:"name"`
	MachineType        string   `json:"machine_type"`
	EstimatedHours     float64  `json:"estimated_hours"`
	SetupHours         float64  `json:"setup_hours"`
	RequiredSkills     []string `json:"required_skills"`
	CompatibleMachines []string `json:"compatible_machines"`
	QuotedMachine      string   `json:"quoted_machine"`
	EarliestStart      string   `json:"earliest_start"`
}

type plantUnavailability struct {
	Operators []string `json:"operators"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	Partial   bool     `json:"partial"`
	StartTime string   `json:"start_time"`
	EndTime   string   `json:"end_time"`
	Shifts    []int    `json:"shifts"`
	Reason    string   `json:"reason"`
	Notes     string   `json:"notes"`
}

// plant is a loaded fixture: the populated store, the service over it, and
// lookup maps for rendering.
type plant struct {
	store   *state.StateStore
	service *scheduler.Service
	cal     *calendar.BusinessCalendar

	jobsByNumber  map[string]*structs.Job
	operatorNames map[string]string
}

// loadPlant parses the fixture file and populates a fresh in-memory store.
func loadPlant(m *Meta) (*plant, error) {
	raw, err := os.ReadFile(m.plantPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read plant file: %v", err)
	}
	var file plantFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plant file: %v", err)
	}

	level := log.Info
	if m.verbose {
		level = log.Debug
	}
	logger := log.New(&log.LoggerOptions{
		Name:  "shopsched",
		Level: level,
	})

	cal, err := calendar.Default()
	if err != nil {
		return nil, err
	}
	store, err := state.NewStateStore(logger)
	if err != nil {
		return nil, err
	}

	p := &plant{
		store:         store,
		cal:           cal,
		jobsByNumber:  make(map[string]*structs.Job),
		operatorNames: make(map[string]string),
	}

	for _, pm := range file.Machines {
		machine := &structs.Machine{
			ID:                 uuid.Generate(),
			MachineID:          pm.MachineID,
			Name:               pm.Name,
			Type:               pm.Type,
			Status:             pm.Status,
			SubstitutionGroups: pm.SubstitutionGroups,
			AvailableShifts:    toShifts(pm.Shifts),
		}
		if machine.Status == "" {
			machine.Status = structs.MachineStatusAvailable
		}
		if err := store.UpsertMachine(machine); err != nil {
			return nil, fmt.Errorf("machine %s: %v", pm.MachineID, err)
		}
	}

	operatorIDs := make(map[string]string)
	for _, po := range file.Operators {
		r := &structs.Resource{
			ID:            uuid.Generate(),
			Name:          po.Name,
			Role:          po.Role,
			Active:        !po.Inactive,
			ShiftSchedule: toShifts(po.Shifts),
			WorkCenters:   po.WorkCenters,
			Skills:        po.Skills,
		}
		if r.Role == "" {
			r.Role = structs.ResourceRoleOperator
		}
		if len(r.ShiftSchedule) == 0 {
			r.ShiftSchedule = structs.Shifts()
		}
		if err := store.UpsertResource(r); err != nil {
			return nil, fmt.Errorf("operator %s: %v", po.Name, err)
		}
		operatorIDs[po.Name] = r.ID
		p.operatorNames[r.ID] = po.Name
	}

	for _, pj := range file.Jobs {
		job := &structs.Job{
			ID:        uuid.Generate(),
			JobNumber: pj.JobNumber,
			Priority:  pj.Priority,
			Status:    structs.JobStatusUnscheduled,
			CreatedAt: time.Now(),
		}
		if job.Priority == "" {
			job.Priority = structs.JobPriorityNormal
		}
		if pj.DueDate != "" {
			due, err := p.parseDate(pj.DueDate)
			if err != nil {
				return nil, fmt.Errorf("job %s: %v", pj.JobNumber, err)
			}
			job.DueDate = due
		}
		if err := store.UpsertJob(job); err != nil {
			return nil, fmt.Errorf("job %s: %v", pj.JobNumber, err)
		}

		ops := make([]*structs.RoutingOperation, 0, len(pj.Routing))
		for i, pop := range pj.Routing {
			op := &structs.RoutingOperation{
				ID:                      uuid.Generate(),
				JobID:                   job.ID,
				Sequence:                i + 1,
				Name:                    pop.Name,
				MachineType:             pop.MachineType,
				EstimatedHours:          pop.EstimatedHours,
				SetupHours:              pop.SetupHours,
				RequiredSkills:          pop.RequiredSkills,
				CompatibleMachines:      pop.CompatibleMachines,
				OriginalQuotedMachineID: pop.QuotedMachine,
			}
			if pop.EarliestStart != "" {
				at, err := p.parseDate(pop.EarliestStart)
				if err != nil {
					return nil, fmt.Errorf("job %s op %d: %v", pj.JobNumber, i+1, err)
				}
				op.EarliestStartDate = at
			}
			ops = append(ops, op)
		}
		if err := store.UpsertRouting(ops); err != nil {
			return nil, fmt.Errorf("job %s routing: %v", pj.JobNumber, err)
		}
		p.jobsByNumber[pj.JobNumber] = job
	}

	for _, pu := range file.Unavailability {
		u := &structs.ResourceUnavailability{
			ID:         uuid.Generate(),
			Partial:    pu.Partial,
			StartClock: pu.StartTime,
			EndClock:   pu.EndTime,
			Shifts:     toShifts(pu.Shifts),
			Reason:     pu.Reason,
			Notes:      pu.Notes,
			CreatedAt:  time.Now(),
		}
		for _, name := range pu.Operators {
			id, ok := operatorIDs[name]
			if !ok {
				return nil, fmt.Errorf("unavailability references unknown operator %q", name)
			}
			u.ResourceIDs = append(u.ResourceIDs, id)
		}
		start, err := p.parseDate(pu.StartDate)
		if err != nil {
			return nil, fmt.Errorf("unavailability: %v", err)
		}
		end := start
		if pu.EndDate != "" {
			if end, err = p.parseDate(pu.EndDate); err != nil {
				return nil, fmt.Errorf("unavailability: %v", err)
			}
		}
		u.StartDate, u.EndDate = start, end
		if err := store.UpsertUnavailability(u); err != nil {
			return nil, fmt.Errorf("unavailability: %v", err)
		}
	}

	service, err := scheduler.NewService(&scheduler.Config{
		State:    store,
		Planner:  store,
		Calendar: cal,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	p.service = service
	return p, nil
}

// parseDate interprets a YYYY-MM-DD string as local midnight in the business
// timezone.
func (p *plant) parseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, p.cal.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q is not YYYY-MM-DD: %v", s, err)
	}
	return t, nil
}

// operatorName renders a resource ID for output.
func (p *plant) operatorName(resourceID string) string {
	if resourceID == "" {
		return "-"
	}
	if name, ok := p.operatorNames[resourceID]; ok {
		return name
	}
	return resourceID
}

func toShifts(in []int) []structs.Shift {
	out := make([]structs.Shift, 0, len(in))
	for _, s := range in {
		out = append(out, structs.Shift(s))
	}
	return out
}
