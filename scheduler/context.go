// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"time"

	log "github.com/hashicorp/go-hclog"

	"github.com/shopsched/shopsched/calendar"
	"github.com/shopsched/shopsched/structs"
)

// State is the read surface the scheduling engine requires from storage.
// Implementations must provide read-your-writes within a placement pass.
type State interface {
	JobByID(id string) (*structs.Job, error)
	JobsByStatus(status string) ([]*structs.Job, error)
	Jobs() ([]*structs.Job, error)
	RoutingByJob(jobID string) ([]*structs.RoutingOperation, error)

	Machines() ([]*structs.Machine, error)
	MachineByMachineID(machineID string) (*structs.Machine, error)
	MachinesBySubstitutionGroup(group string) ([]*structs.Machine, error)

	ActiveResources() ([]*structs.Resource, error)
	ResourceByID(id string) (*structs.Resource, error)
	UnavailabilityInRange(from, to time.Time) ([]*structs.ResourceUnavailability, error)

	EntriesForMachine(machineID string) ([]*structs.ScheduleEntry, error)
	EntriesForResource(resourceID string) ([]*structs.ScheduleEntry, error)
	EntriesForJob(jobID string) ([]*structs.ScheduleEntry, error)
	EntriesOverlapping(from, to time.Time) ([]*structs.ScheduleEntry, error)

	// ResourceVersion is the monotonic counter bumped by operator and
	// unavailability writes; the service uses it for stale snapshot
	// detection between pass start and commit.
	ResourceVersion() uint64
}

// Planner is the write surface the engine commits through. All writes are
// atomic per call.
type Planner interface {
	CommitPlacement(jobID string, entries []*structs.ScheduleEntry, displacedJobIDs []string) error
	UnscheduleJob(jobID string) error
	InvalidateJobs(jobIDs []string) error
	UpsertUnavailability(u *structs.ResourceUnavailability) error
}

// Plan buffers the uncommitted output of an in-flight placement pass. Gap
// scans overlay plan entries on committed state so later operations of the
// same job see earlier ones, and mask entries of jobs staged for
// displacement.
type Plan struct {
	JobID string

	// Entries staged for commit, in placement order.
	Entries []*structs.ScheduleEntry

	// DisplacedJobIDs lists jobs whose committed entries no longer block
	// placement; they revert to unscheduled at commit.
	DisplacedJobIDs []string
}

// NewPlan creates an empty plan for a job.
func NewPlan(jobID string) *Plan {
	return &Plan{JobID: jobID}
}

// AppendEntries stages placed chunks.
func (p *Plan) AppendEntries(entries []*structs.ScheduleEntry) {
	p.Entries = append(p.Entries, entries...)
}

// AppendDisplaced masks a displaced job's committed entries.
func (p *Plan) AppendDisplaced(jobID string) {
	for _, have := range p.DisplacedJobIDs {
		if have == jobID {
			return
		}
	}
	p.DisplacedJobIDs = append(p.DisplacedJobIDs, jobID)
}

// IsDisplaced returns whether a job is staged for displacement.
func (p *Plan) IsDisplaced(jobID string) bool {
	for _, have := range p.DisplacedJobIDs {
		if have == jobID {
			return true
		}
	}
	return false
}

// EntriesForMachine returns staged entries on a machine.
func (p *Plan) EntriesForMachine(machineID string) []*structs.ScheduleEntry {
	var out []*structs.ScheduleEntry
	for _, e := range p.Entries {
		if e.MachineID == machineID {
			out = append(out, e)
		}
	}
	return out
}

// EntriesForResource returns staged entries assigned to an operator.
func (p *Plan) EntriesForResource(resourceID string) []*structs.ScheduleEntry {
	var out []*structs.ScheduleEntry
	for _, e := range p.Entries {
		if e.ResourceID == resourceID {
			out = append(out, e)
		}
	}
	return out
}

// planSnapshot marks a point in the plan that Restore can rewind to. Used
// by speculative displacement attempts.
type planSnapshot struct {
	entries   int
	displaced int
}

// Snapshot captures the current staged lengths.
func (p *Plan) Snapshot() planSnapshot {
	return planSnapshot{entries: len(p.Entries), displaced: len(p.DisplacedJobIDs)}
}

// Restore rewinds the plan to a snapshot, discarding anything staged since.
func (p *Plan) Restore(s planSnapshot) {
	p.Entries = p.Entries[:s.entries]
	p.DisplacedJobIDs = p.DisplacedJobIDs[:s.displaced]
}

// IsNoOp returns whether the plan stages no mutations.
func (p *Plan) IsNoOp() bool {
	return len(p.Entries) == 0 && len(p.DisplacedJobIDs) == 0
}

// Context is the interface the feasibility iterators consume.
type Context interface {
	State() State
	Plan() *Plan
	Calendar() *calendar.BusinessCalendar
	Logger() log.Logger
}

// EvalContext carries the shared state of one placement pass.
type EvalContext struct {
	state    State
	plan     *Plan
	cal      *calendar.BusinessCalendar
	logger   log.Logger
	capacity *CapacityTracker
	avail    *AvailabilityManager
}

// NewEvalContext constructs a pass context.
func NewEvalContext(state State, plan *Plan, cal *calendar.BusinessCalendar, logger log.Logger) *EvalContext {
	return &EvalContext{
		state:  state,
		plan:   plan,
		cal:    cal,
		logger: logger,
		avail:  NewAvailabilityManager(state, cal, logger),
	}
}

func (e *EvalContext) State() State { return e.state }

func (e *EvalContext) Plan() *Plan { return e.plan }

func (e *EvalContext) Calendar() *calendar.BusinessCalendar { return e.cal }

func (e *EvalContext) Logger() log.Logger { return e.logger }

// Availability returns the pass's operator availability manager.
func (e *EvalContext) Availability() *AvailabilityManager { return e.avail }

// Capacity returns the pass's shift capacity tracker; SetCapacity installs
// it once computed for the pass window.
func (e *EvalContext) Capacity() *CapacityTracker { return e.capacity }

func (e *EvalContext) SetCapacity(c *CapacityTracker) { e.capacity = c }

// MachineSchedule merges committed and staged entries for a machine,
// dropping entries of displaced jobs, sorted by start.
func (e *EvalContext) MachineSchedule(machineID string) ([]*structs.ScheduleEntry, error) {
	committed, err := e.state.EntriesForMachine(machineID)
	if err != nil {
		return nil, err
	}
	return e.mergeSchedule(committed, e.plan.EntriesForMachine(machineID)), nil
}

// ResourceSchedule merges committed and staged entries for an operator,
// dropping entries of displaced jobs, sorted by start.
func (e *EvalContext) ResourceSchedule(resourceID string) ([]*structs.ScheduleEntry, error) {
	committed, err := e.state.EntriesForResource(resourceID)
	if err != nil {
		return nil, err
	}
	return e.mergeSchedule(committed, e.plan.EntriesForResource(resourceID)), nil
}

func (e *EvalContext) mergeSchedule(committed, staged []*structs.ScheduleEntry) []*structs.ScheduleEntry {
	out := make([]*structs.ScheduleEntry, 0, len(committed)+len(staged))
	for _, entry := range committed {
		if e.plan.IsDisplaced(entry.JobID) {
			continue
		}
		out = append(out, entry)
	}
	out = append(out, staged...)
	structs.SortEntries(out)
	return out
}
