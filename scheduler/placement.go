// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"time"

	log "github.com/hashicorp/go-hclog"

	"github.com/shopsched/shopsched/helper/uuid"
	"github.com/shopsched/shopsched/structs"
)

const (
	// placementHorizonDays bounds how far the first-fit search scans
	// before declaring an operation unplaceable.
	placementHorizonDays = 30

	// minChunkMinutes is the smallest schedulable slice of an operation.
	minChunkMinutes = 1
)

// placer runs the chunked first-fit search for the operations of one job
// within a single placement pass.
type placer struct {
	ctx    *EvalContext
	logger log.Logger

	// now anchors the "never today, never in the past" floor; deadline
	// bounds the pass wall clock; clock reads the wall clock for
	// deadline checks.
	now      time.Time
	deadline time.Time
	clock    func() time.Time
}

func newPlacer(ctx *EvalContext, now, deadline time.Time, clock func() time.Time) *placer {
	return &placer{
		ctx:      ctx,
		logger:   ctx.Logger().Named("placement"),
		now:      now,
		deadline: deadline,
		clock:    clock,
	}
}

// chunkCandidate is one emittable slice found by the gap scan.
type chunkCandidate struct {
	machine  *structs.Machine
	operator *structs.Resource
	start    time.Time
	end      time.Time
	shift    structs.Shift
}

// placeOperation finds one or more contiguous machine+operator blocks
// summing to the operation's total minutes, staging each chunk into the
// pass plan. The first successful chunk locks both the machine and the
// operator for the remainder of the operation.
func (p *placer) placeOperation(job *structs.Job, op *structs.RoutingOperation, searchFrom time.Time) ([]*structs.ScheduleEntry, error) {
	totalMin := op.TotalMinutes()
	if totalMin < minChunkMinutes {
		return nil, nil
	}

	cal := p.ctx.Calendar()
	earliest := searchFrom
	if floor := cal.NextBusinessDayStart(p.now); floor.After(earliest) {
		earliest = floor
	}
	if !op.EarliestStartDate.IsZero() && op.EarliestStartDate.After(earliest) {
		earliest = op.EarliestStartDate
	}

	resolved, err := ResolveCandidateMachines(p.ctx, op)
	if err != nil {
		return nil, err
	}
	candidates := NewMachineStack(p.ctx, resolved).Candidates()

	if op.IsOutsource() {
		return p.placeOutsource(job, op, candidates, earliest, totalMin)
	}
	if len(candidates) == 0 {
		return nil, p.unplaceable(job, op, structs.ErrNoCandidateMachine)
	}

	roster, err := p.ctx.State().ActiveResources()
	if err != nil {
		return nil, err
	}

	// Fail fast when no operator could ever run this operation on any
	// candidate machine; time scanning cannot fix a roster gap.
	if !anyEligible(op, candidates, roster) {
		return nil, p.unplaceable(job, op, structs.ErrNoQualifiedOperator)
	}

	var (
		out            []*structs.ScheduleEntry
		lockedMachine  *structs.Machine
		lockedOperator *structs.Resource
	)
	remaining := totalMin
	cursor := cal.NextWorkingInstant(earliest)
	horizon := earliest.AddDate(0, 0, placementHorizonDays)

	// A failed operation must not leave partial chunks staged in the plan.
	snap := p.ctx.Plan().Snapshot()

	for remaining > 0 {
		if p.clock().After(p.deadline) {
			p.ctx.Plan().Restore(snap)
			return nil, p.unplaceable(job, op, structs.ErrTimeoutExceeded)
		}
		if cursor.After(horizon) {
			p.ctx.Plan().Restore(snap)
			return nil, p.unplaceable(job, op, structs.ErrCapacityExhausted)
		}

		cursor = cal.NextWorkingInstant(cursor)
		machines := candidates
		if lockedMachine != nil {
			machines = []*structs.Machine{lockedMachine}
		}

		chunk, err := p.tryChunk(op, machines, roster, cursor, lockedOperator)
		if err != nil {
			p.ctx.Plan().Restore(snap)
			return nil, err
		}
		if chunk == nil {
			cursor = cal.NextShiftBoundary(cursor)
			continue
		}

		length := chunk.end.Sub(chunk.start)
		if max := time.Duration(remaining) * time.Minute; length > max {
			length = max
			chunk.end = chunk.start.Add(length)
		}

		entry := &structs.ScheduleEntry{
			ID:        uuid.Generate(),
			JobID:     job.ID,
			Sequence:  op.Sequence,
			MachineID: chunk.machine.MachineID,
			StartTime: chunk.start,
			EndTime:   chunk.end,
			Shift:     chunk.shift,
			Status:    structs.ScheduleEntryStatusScheduled,
			CreatedAt: p.now,
		}
		if chunk.operator != nil {
			entry.ResourceID = chunk.operator.ID
		}

		out = append(out, entry)
		p.ctx.Plan().AppendEntries([]*structs.ScheduleEntry{entry})
		remaining -= int(length / time.Minute)
		lockedMachine = chunk.machine
		lockedOperator = chunk.operator
		cursor = chunk.end

		p.logger.Trace("placed chunk", "job_id", job.ID, "sequence", op.Sequence,
			"machine_id", entry.MachineID, "resource_id", entry.ResourceID,
			"start", entry.StartTime, "end", entry.EndTime, "remaining_min", remaining)
	}

	return out, nil
}

// tryChunk scans the candidate machines for the earliest emittable slice at
// or after the cursor, within the shift windows of the cursor's calendar
// date. Time order wins: the capacity bias only breaks ties between slices
// starting at the same instant, and the machine earlier in substitution
// preference wins otherwise.
func (p *placer) tryChunk(op *structs.RoutingOperation, machines []*structs.Machine, roster []*structs.Resource, cursor time.Time, lockedOperator *structs.Resource) (*chunkCandidate, error) {
	cal := p.ctx.Calendar()
	_, day := cal.ShiftAt(cursor)

	optimal := structs.ShiftFirst
	if cap := p.ctx.Capacity(); cap != nil {
		optimal = cap.OptimalShift()
	}

	var best *chunkCandidate
	for _, m := range machines {
		sched, err := p.ctx.MachineSchedule(m.MachineID)
		if err != nil {
			return nil, err
		}
		for _, shift := range structs.Shifts() {
			if !m.RunsShift(shift) {
				continue
			}
			ws, we := cal.ShiftWindow(day, shift)
			segStart := cursor
			if ws.After(segStart) {
				segStart = ws
			}
			if !we.After(segStart) {
				continue
			}

			c, err := p.chunkInShift(op, m, roster, sched, segStart, we, day, shift, lockedOperator)
			if err != nil {
				return nil, err
			}
			if c == nil {
				continue
			}
			if best == nil || c.start.Before(best.start) ||
				(c.start.Equal(best.start) && c.shift == optimal && best.shift != optimal) {
				best = c
			}
		}
	}
	return best, nil
}

// chunkInShift finds the first feasible slice on one machine within one shift
// window, scanning gaps in time order and operators in roster order.
func (p *placer) chunkInShift(op *structs.RoutingOperation, m *structs.Machine, roster []*structs.Resource, sched []*structs.ScheduleEntry, segStart, segEnd, day time.Time, shift structs.Shift, lockedOperator *structs.Resource) (*chunkCandidate, error) {
	avail := p.ctx.Availability()
	for _, gap := range freeIntervals(sched, segStart, segEnd) {
		if gap.end.Sub(gap.start) < minChunkMinutes*time.Minute {
			continue
		}
		for _, r := range EligibleOperators(op, m, roster, lockedOperator) {
			ows, owe, ok := avail.WindowFor(r, day, shift)
			if !ok {
				continue
			}
			start := maxTime(gap.start, ows)
			end := minTime(gap.end, owe)
			if end.Sub(start) < minChunkMinutes*time.Minute {
				continue
			}

			// The operator may already be busy elsewhere inside the
			// slice; take their first free sub-interval.
			rSched, err := p.ctx.ResourceSchedule(r.ID)
			if err != nil {
				return nil, err
			}
			free := freeIntervals(rSched, start, end)
			if len(free) == 0 || free[0].end.Sub(free[0].start) < minChunkMinutes*time.Minute {
				continue
			}

			return &chunkCandidate{
				machine:  m,
				operator: r,
				start:    free[0].start,
				end:      free[0].end,
				shift:    shift,
			}, nil
		}
	}
	return nil, nil
}

// placeOutsource emits a single entry spanning the full duration in working
// time. Outsourced work takes no operator, ignores machine load (the vendor
// has no capacity ceiling here) and carries shift 1 by convention.
func (p *placer) placeOutsource(job *structs.Job, op *structs.RoutingOperation, candidates []*structs.Machine, earliest time.Time, totalMin int) ([]*structs.ScheduleEntry, error) {
	var machine *structs.Machine
	for _, m := range candidates {
		if m.Type == structs.MachineTypeOutsource {
			machine = m
			break
		}
	}
	if machine == nil {
		return nil, p.unplaceable(job, op, structs.ErrNoCandidateMachine)
	}

	cal := p.ctx.Calendar()
	start := cal.NextWorkingInstant(earliest)
	end := cal.AdvanceWorkingMinutes(start, totalMin)

	entry := &structs.ScheduleEntry{
		ID:        uuid.Generate(),
		JobID:     job.ID,
		Sequence:  op.Sequence,
		MachineID: machine.MachineID,
		StartTime: start,
		EndTime:   end,
		Shift:     structs.ShiftFirst,
		Status:    structs.ScheduleEntryStatusScheduled,
		CreatedAt: p.now,
	}
	p.ctx.Plan().AppendEntries([]*structs.ScheduleEntry{entry})
	return []*structs.ScheduleEntry{entry}, nil
}

func (p *placer) unplaceable(job *structs.Job, op *structs.RoutingOperation, cause error) error {
	return &structs.UnplaceableError{
		JobID:      job.ID,
		OpSequence: op.Sequence,
		OpName:     op.Name,
		Cause:      cause,
	}
}

// anyEligible reports whether any operator could run the operation on any
// candidate machine, ignoring time.
func anyEligible(op *structs.RoutingOperation, machines []*structs.Machine, roster []*structs.Resource) bool {
	for _, m := range machines {
		for _, r := range roster {
			if OperatorEligible(op, m, r) {
				return true
			}
		}
	}
	return false
}

// freeIntervals returns the sub-intervals of [from, to) not covered by the
// sorted entries, in time order.
func freeIntervals(entries []*structs.ScheduleEntry, from, to time.Time) []window {
	var out []window
	cursor := from
	for _, e := range entries {
		if !e.StartTime.Before(to) {
			break
		}
		if !e.EndTime.After(cursor) {
			continue
		}
		if e.StartTime.After(cursor) {
			out = append(out, window{start: cursor, end: minTime(e.StartTime, to)})
		}
		if e.EndTime.After(cursor) {
			cursor = e.EndTime
		}
		if !cursor.Before(to) {
			return out
		}
	}
	if cursor.Before(to) {
		out = append(out, window{start: cursor, end: to})
	}
	return out
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
