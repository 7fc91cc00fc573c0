// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"errors"
	"time"

	"github.com/shopsched/shopsched/structs"
)

// maxDisplacementRuns bounds how many victim runs are tried per operation
// before giving up on displacement.
const maxDisplacementRuns = 16

// victimRun is one contiguous block of lower-priority entries on a single
// machine. Displacing it reverts every owning job in full.
type victimRun struct {
	machineID string
	jobIDs    []string
	start     time.Time
	end       time.Time
}

// tryDisplacement attempts to place an operation of a critical or high
// priority job by evicting one contiguous block of strictly lower priority
// entries from a candidate machine. The placement rerun goes through the
// normal search with the victims masked, so the compatibility filter and
// operator lock apply unchanged. At most one run is displaced; runs are
// tried in time order per machine and the first that yields a placement
// wins. On failure the plan is rewound and nothing is touched.
func (p *placer) tryDisplacement(job *structs.Job, op *structs.RoutingOperation, searchFrom time.Time) ([]*structs.ScheduleEntry, bool, error) {
	if job.Priority != structs.JobPriorityCritical && job.Priority != structs.JobPriorityHigh {
		return nil, false, nil
	}

	resolved, err := ResolveCandidateMachines(p.ctx, op)
	if err != nil {
		return nil, false, err
	}
	candidates := NewMachineStack(p.ctx, resolved).Candidates()
	if len(candidates) == 0 {
		return nil, false, nil
	}

	cal := p.ctx.Calendar()
	earliest := searchFrom
	if floor := cal.NextBusinessDayStart(p.now); floor.After(earliest) {
		earliest = floor
	}
	horizon := earliest.AddDate(0, 0, placementHorizonDays)

	priorities := make(map[string]string)
	tried := 0
	for _, m := range candidates {
		sched, err := p.ctx.MachineSchedule(m.MachineID)
		if err != nil {
			return nil, false, err
		}
		runs, err := p.victimRuns(job, m.MachineID, sched, earliest, horizon, priorities)
		if err != nil {
			return nil, false, err
		}
		for _, run := range runs {
			if tried >= maxDisplacementRuns {
				return nil, false, nil
			}
			tried++

			snap := p.ctx.Plan().Snapshot()
			for _, victim := range run.jobIDs {
				p.ctx.Plan().AppendDisplaced(victim)
			}
			entries, err := p.placeOperation(job, op, searchFrom)
			if err == nil {
				p.logger.Debug("displacement placed operation",
					"job_id", job.ID, "sequence", op.Sequence,
					"machine_id", run.machineID, "displaced_jobs", run.jobIDs)
				return entries, true, nil
			}
			p.ctx.Plan().Restore(snap)

			var unplaceable *structs.UnplaceableError
			if !errors.As(err, &unplaceable) {
				return nil, false, err
			}
		}
	}
	return nil, false, nil
}

// victimRuns walks a machine's schedule inside the search window and returns
// the maximal contiguous blocks in which every entry's owning job has
// strictly lower priority than the incoming job. A time gap or a
// non-displaceable entry breaks the block.
func (p *placer) victimRuns(job *structs.Job, machineID string, sched []*structs.ScheduleEntry, from, to time.Time, priorities map[string]string) ([]victimRun, error) {
	var runs []victimRun
	var current *victimRun

	flush := func() {
		if current != nil && len(current.jobIDs) > 0 {
			runs = append(runs, *current)
		}
		current = nil
	}

	for _, e := range sched {
		if !e.StartTime.Before(to) {
			break
		}
		if !e.EndTime.After(from) {
			continue
		}

		ok, err := p.displaceable(job, e, priorities)
		if err != nil {
			return nil, err
		}
		if !ok {
			flush()
			continue
		}
		if current != nil && !e.StartTime.After(current.end) {
			current.end = maxTime(current.end, e.EndTime)
			current.jobIDs = appendUnique(current.jobIDs, e.JobID)
			continue
		}
		flush()
		current = &victimRun{
			machineID: machineID,
			jobIDs:    []string{e.JobID},
			start:     e.StartTime,
			end:       e.EndTime,
		}
	}
	flush()
	return runs, nil
}

// displaceable reports whether an entry may be evicted for the incoming job:
// it belongs to another job of strictly lower priority and is not already
// staged by this pass.
func (p *placer) displaceable(job *structs.Job, e *structs.ScheduleEntry, priorities map[string]string) (bool, error) {
	if e.JobID == job.ID {
		return false, nil
	}
	if p.ctx.Plan().IsDisplaced(e.JobID) {
		return false, nil
	}

	prio, ok := priorities[e.JobID]
	if !ok {
		owner, err := p.ctx.State().JobByID(e.JobID)
		if err != nil {
			return false, err
		}
		if owner == nil {
			return false, nil
		}
		prio = owner.Priority
		priorities[e.JobID] = prio
	}
	return structs.JobPriorityBeats(job.Priority, prio), nil
}

func appendUnique(ids []string, id string) []string {
	for _, have := range ids {
		if have == id {
			return ids
		}
	}
	return append(ids, id)
}
