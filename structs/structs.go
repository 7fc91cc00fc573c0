// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package structs holds the domain model shared by the state store and the
// scheduling engine: jobs, routing operations, machines, operators,
// unavailability records and schedule entries.
package structs

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-set/v3"
)

const (
	// JobPriorityCritical through JobPriorityLow order batch scheduling;
	// displacement may only evict strictly lower priorities.
	JobPriorityCritical = "critical"
	JobPriorityHigh     = "high"
	JobPriorityNormal   = "normal"
	JobPriorityLow      = "low"
)

const (
	JobStatusUnscheduled = "unscheduled"
	JobStatusPlanning    = "planning"
	JobStatusScheduled   = "scheduled"
	JobStatusInProgress  = "in_progress"
	JobStatusComplete    = "complete"
	JobStatusOnHold      = "on_hold"
)

const (
	MachineStatusAvailable   = "available"
	MachineStatusBusy        = "busy"
	MachineStatusMaintenance = "maintenance"
	MachineStatusOffline     = "offline"
)

const (
	// Machine type tags carried by routing operations. Unknown tags are
	// legal and fall through to type-matched candidate selection only.
	MachineTypeMill      = "MILL"
	MachineTypeLathe     = "LATHE"
	MachineTypeInspect   = "INSPECT"
	MachineTypeOutsource = "OUTSOURCE"
	MachineTypeDeburr    = "DEBURR"
	MachineTypeSaw       = "SAW"
	MachineTypeGrind     = "GRIND"
)

const (
	ResourceRoleOperator         = "operator"
	ResourceRoleShiftLead        = "shift_lead"
	ResourceRoleQualityInspector = "quality_inspector"
	ResourceRoleMaintenance      = "maintenance"
	ResourceRoleSupervisor       = "supervisor"
	ResourceRoleSetup            = "setup"
)

const (
	ScheduleEntryStatusScheduled  = "scheduled"
	ScheduleEntryStatusInProgress = "in_progress"
	ScheduleEntryStatusComplete   = "complete"
	ScheduleEntryStatusCancelled  = "cancelled"
)

// Shift identifies one of the two twelve hour production shifts. The second
// shift crosses local midnight and belongs to the date it starts on.
type Shift int

const (
	ShiftFirst  Shift = 1
	ShiftSecond Shift = 2
)

// Shifts returns both shifts in placement preference-neutral order.
func Shifts() []Shift {
	return []Shift{ShiftFirst, ShiftSecond}
}

// Other returns the opposite shift.
func (s Shift) Other() Shift {
	if s == ShiftFirst {
		return ShiftSecond
	}
	return ShiftFirst
}

func (s Shift) Valid() bool {
	return s == ShiftFirst || s == ShiftSecond
}

// jobPriorityRank maps priorities to sort ranks, highest priority first.
var jobPriorityRank = map[string]int{
	JobPriorityCritical: 0,
	JobPriorityHigh:     1,
	JobPriorityNormal:   2,
	JobPriorityLow:      3,
}

// JobPriorityRank returns the batch ordering rank for a priority. Unknown
// priorities sort after low.
func JobPriorityRank(priority string) int {
	if r, ok := jobPriorityRank[priority]; ok {
		return r
	}
	return len(jobPriorityRank)
}

// JobPriorityBeats returns true if priority a strictly outranks priority b.
func JobPriorityBeats(a, b string) bool {
	return JobPriorityRank(a) < JobPriorityRank(b)
}

// Job is a unit of manufacturing work moving through the shop. A job owns its
// routing operations; the scheduler only ever mutates its Status.
type Job struct {
	ID           string
	JobNumber    string
	DueDate      time.Time
	PromisedDate time.Time
	Priority     string
	Status       string
	CreatedAt    time.Time
}

func (j *Job) Copy() *Job {
	if j == nil {
		return nil
	}
	nj := new(Job)
	*nj = *j
	return nj
}

func (j *Job) Validate() error {
	var mErr multierror.Error
	if j.ID == "" {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("missing job ID"))
	}
	if j.JobNumber == "" {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("missing job number"))
	}
	if _, ok := jobPriorityRank[j.Priority]; !ok {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid priority %q", j.Priority))
	}
	return mErr.ErrorOrNil()
}

// RoutingOperation is one step of a job's routing. Sequences are unique and
// dense from 1 within a job; operation k may not start before operation k-1
// has fully completed.
type RoutingOperation struct {
	ID          string
	JobID       string
	Sequence    int
	Name        string
	MachineType string

	EstimatedHours float64
	SetupHours     float64

	RequiredSkills     []string
	CompatibleMachines []string

	// OriginalQuotedMachineID is the machine the estimate was quoted
	// against; it leads candidate selection when set.
	OriginalQuotedMachineID string

	// EarliestStartDate floors placement when set.
	EarliestStartDate time.Time

	Modified bool
}

func (op *RoutingOperation) Copy() *RoutingOperation {
	if op == nil {
		return nil
	}
	nop := new(RoutingOperation)
	*nop = *op
	nop.RequiredSkills = slicesCopy(op.RequiredSkills)
	nop.CompatibleMachines = slicesCopy(op.CompatibleMachines)
	return nop
}

// TotalMinutes is the full work content of the operation in minutes,
// estimated plus setup.
func (op *RoutingOperation) TotalMinutes() int {
	return int((op.EstimatedHours + op.SetupHours) * 60)
}

func (op *RoutingOperation) IsOutsource() bool {
	return op.MachineType == MachineTypeOutsource
}

func (op *RoutingOperation) IsInspection() bool {
	return op.MachineType == MachineTypeInspect
}

func (op *RoutingOperation) Validate() error {
	var mErr multierror.Error
	if op.JobID == "" {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("missing job ID"))
	}
	if op.Sequence < 1 {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("sequence %d must be >= 1", op.Sequence))
	}
	if op.MachineType == "" {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("missing machine type"))
	}
	if op.EstimatedHours < 0 {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("estimated hours %v is negative", op.EstimatedHours))
	}
	if op.SetupHours < 0 {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("setup hours %v is negative", op.SetupHours))
	}
	return mErr.ErrorOrNil()
}

// ValidateRouting checks a job's full routing: every operation valid and
// sequences dense from 1. The slice must already be sorted by sequence.
func ValidateRouting(ops []*RoutingOperation) error {
	var mErr multierror.Error
	if len(ops) == 0 {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("routing is empty"))
		return mErr.ErrorOrNil()
	}
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("operation %d invalid: %v", op.Sequence, err))
		}
		if op.Sequence != i+1 {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("sequence %d at position %d breaks dense ordering", op.Sequence, i))
		}
	}
	return mErr.ErrorOrNil()
}

// Machine is a physical work center. Only machines in the available status
// participate in placement.
type Machine struct {
	ID string

	// MachineID is the stable human identifier (for example "HMC-05")
	// referenced by routings, work centers and schedule entries.
	MachineID string

	Name   string
	Type   string
	Status string

	// SubstitutionGroups are named equivalence classes; a machine may
	// belong to several (a 4-axis mill sits in both the 4-axis and 3-axis
	// groups, a 3-axis mill only in the latter).
	SubstitutionGroups []string

	AvailableShifts  []Shift
	EfficiencyFactor float64

	FourthAxis  bool
	LiveTooling bool
	BarFeeder   bool
}

func (m *Machine) Copy() *Machine {
	if m == nil {
		return nil
	}
	nm := new(Machine)
	*nm = *m
	nm.SubstitutionGroups = slicesCopy(m.SubstitutionGroups)
	nm.AvailableShifts = append([]Shift(nil), m.AvailableShifts...)
	return nm
}

func (m *Machine) Schedulable() bool {
	return m.Status == MachineStatusAvailable
}

// RunsShift returns whether the machine operates during the given shift. An
// empty shift list means both shifts.
func (m *Machine) RunsShift(s Shift) bool {
	if len(m.AvailableShifts) == 0 {
		return true
	}
	for _, have := range m.AvailableShifts {
		if have == s {
			return true
		}
	}
	return false
}

// SharesSubstitutionGroup returns whether two machines share at least one
// substitution group.
func (m *Machine) SharesSubstitutionGroup(other *Machine) bool {
	for _, g := range m.SubstitutionGroups {
		for _, og := range other.SubstitutionGroups {
			if g == og {
				return true
			}
		}
	}
	return false
}

// Resource is a human operator with a role, a shift schedule, the work
// centers they are qualified on and free-form skill tags.
type Resource struct {
	ID     string
	Name   string
	Role   string
	Active bool

	ShiftSchedule []Shift
	WorkCenters   []string
	Skills        []string
}

func (r *Resource) Copy() *Resource {
	if r == nil {
		return nil
	}
	nr := new(Resource)
	*nr = *r
	nr.ShiftSchedule = append([]Shift(nil), r.ShiftSchedule...)
	nr.WorkCenters = slicesCopy(r.WorkCenters)
	nr.Skills = slicesCopy(r.Skills)
	return nr
}

// WorksShift returns whether the operator's base schedule includes the shift.
func (r *Resource) WorksShift(s Shift) bool {
	for _, have := range r.ShiftSchedule {
		if have == s {
			return true
		}
	}
	return false
}

// QualifiedOn returns whether the operator's work centers include the
// machine's stable identifier.
func (r *Resource) QualifiedOn(machineID string) bool {
	return r.WorkCenterSet().Contains(machineID)
}

// CanRunProduction reports whether the role may run production operations.
func (r *Resource) CanRunProduction() bool {
	return r.Role == ResourceRoleOperator || r.Role == ResourceRoleShiftLead
}

// CanInspect reports whether the role may run inspection operations.
func (r *Resource) CanInspect() bool {
	return r.Role == ResourceRoleQualityInspector
}

// SkillsCover applies the skill gate: every required skill must be matched by
// some operator skill under a case-insensitive substring comparison in either
// direction. The bidirectional match is deliberately permissive so broad tags
// such as "cnc_operation" satisfy a required "CNC"; it can admit spurious
// matches and is kept as-is on purpose.
func SkillsCover(required, skills []string) bool {
	for _, req := range required {
		r := strings.ToLower(strings.TrimSpace(req))
		if r == "" {
			continue
		}
		matched := false
		for _, have := range skills {
			h := strings.ToLower(strings.TrimSpace(have))
			if h == "" {
				continue
			}
			if strings.Contains(h, r) || strings.Contains(r, h) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// ResourceUnavailability records a period one or more operators are off.
// Overlapping records for the same operator are merged at read time into a
// single effective window per operator and date.
type ResourceUnavailability struct {
	ID          string
	ResourceIDs []string

	// StartDate and EndDate are inclusive calendar dates at local
	// midnight in the business timezone.
	StartDate time.Time
	EndDate   time.Time

	// Partial limits the record to a clock range within each affected
	// shift; StartClock/EndClock are "15:04" wall-clock strings.
	Partial    bool
	StartClock string
	EndClock   string

	Shifts []Shift
	Reason string
	Notes  string

	CreatedAt time.Time
}

func (u *ResourceUnavailability) Copy() *ResourceUnavailability {
	if u == nil {
		return nil
	}
	nu := new(ResourceUnavailability)
	*nu = *u
	nu.ResourceIDs = slicesCopy(u.ResourceIDs)
	nu.Shifts = append([]Shift(nil), u.Shifts...)
	return nu
}

// Covers returns whether the record applies to the given operator, calendar
// date and shift. The date must be truncated to local midnight.
func (u *ResourceUnavailability) Covers(resourceID string, date time.Time, shift Shift) bool {
	found := false
	for _, id := range u.ResourceIDs {
		if id == resourceID {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if date.Before(u.StartDate) || date.After(u.EndDate) {
		return false
	}
	if len(u.Shifts) == 0 {
		return true
	}
	for _, s := range u.Shifts {
		if s == shift {
			return true
		}
	}
	return false
}

func (u *ResourceUnavailability) Validate() error {
	var mErr multierror.Error
	if len(u.ResourceIDs) == 0 {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("missing resource IDs"))
	}
	if u.EndDate.Before(u.StartDate) {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("end date before start date"))
	}
	for _, s := range u.Shifts {
		if !s.Valid() {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid shift %d", s))
		}
	}
	if u.Partial {
		if _, err := ParseClock(u.StartClock); err != nil {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid start clock: %v", err))
		}
		if _, err := ParseClock(u.EndClock); err != nil {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid end clock: %v", err))
		}
	}
	return mErr.ErrorOrNil()
}

// ParseClock parses a "15:04" wall-clock string into minutes from midnight.
func ParseClock(clock string) (int, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, fmt.Errorf("clock %q is not HH:MM: %v", clock, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ScheduleEntry is one committed chunk of an operation on a machine. Entries
// are immutable once written; unscheduling deletes them.
type ScheduleEntry struct {
	ID       string
	JobID    string
	Sequence int

	// MachineID is the stable machine identifier, ResourceID the assigned
	// operator. ResourceID is empty for outsourced operations.
	MachineID  string
	ResourceID string

	StartTime time.Time
	EndTime   time.Time
	Shift     Shift
	Status    string

	CreatedAt time.Time
}

func (e *ScheduleEntry) Copy() *ScheduleEntry {
	if e == nil {
		return nil
	}
	ne := new(ScheduleEntry)
	*ne = *e
	return ne
}

// Duration is the entry length.
func (e *ScheduleEntry) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}

// Overlaps returns whether two half-open [start, end) intervals intersect.
func (e *ScheduleEntry) Overlaps(start, end time.Time) bool {
	return e.StartTime.Before(end) && start.Before(e.EndTime)
}

func (e *ScheduleEntry) Validate() error {
	var mErr multierror.Error
	if e.JobID == "" {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("missing job ID"))
	}
	if e.MachineID == "" {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("missing machine ID"))
	}
	if !e.EndTime.After(e.StartTime) {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("end %v not after start %v", e.EndTime, e.StartTime))
	}
	if !e.Shift.Valid() {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid shift %d", e.Shift))
	}
	return mErr.ErrorOrNil()
}

// SortEntries orders schedule entries by start time, then machine, for
// deterministic gap scans.
func SortEntries(entries []*ScheduleEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].StartTime.Equal(entries[j].StartTime) {
			return entries[i].StartTime.Before(entries[j].StartTime)
		}
		return entries[i].MachineID < entries[j].MachineID
	})
}

// WorkCenterSet builds a set of the operator's work centers for intersection
// queries.
func (r *Resource) WorkCenterSet() *set.Set[string] {
	return set.From(r.WorkCenters)
}

func slicesCopy(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
