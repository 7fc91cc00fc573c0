// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/shopsched/shopsched/ci"
	"github.com/shopsched/shopsched/helper/uuid"
	"github.com/shopsched/shopsched/structs"
)

func mockJob(number, priority string) *structs.Job {
	return &structs.Job{
		ID:        uuid.Generate(),
		JobNumber: number,
		Priority:  priority,
		Status:    structs.JobStatusUnscheduled,
		CreatedAt: time.Now(),
	}
}

func mockMachine(machineID, machineType string) *structs.Machine {
	return &structs.Machine{
		ID:        uuid.Generate(),
		MachineID: machineID,
		Name:      machineID,
		Type:      machineType,
		Status:    structs.MachineStatusAvailable,
	}
}

func mockResource(name string, workCenters ...string) *structs.Resource {
	return &structs.Resource{
		ID:            uuid.Generate(),
		Name:          name,
		Role:          structs.ResourceRoleOperator,
		Active:        true,
		ShiftSchedule: structs.Shifts(),
		WorkCenters:   workCenters,
		Skills:        []string{"cnc"},
	}
}

func mockEntry(jobID, machineID, resourceID string, start time.Time, hours int) *structs.ScheduleEntry {
	return &structs.ScheduleEntry{
		ID:         uuid.Generate(),
		JobID:      jobID,
		Sequence:   1,
		MachineID:  machineID,
		ResourceID: resourceID,
		StartTime:  start,
		EndTime:    start.Add(time.Duration(hours) * time.Hour),
		Shift:      structs.ShiftFirst,
		Status:     structs.ScheduleEntryStatusScheduled,
	}
}

func TestStateStore_Jobs(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)

	j1 := mockJob("J-1001", structs.JobPriorityNormal)
	j2 := mockJob("J-1002", structs.JobPriorityHigh)
	must.NoError(t, store.UpsertJob(j1))
	must.NoError(t, store.UpsertJob(j2))

	out, err := store.JobByID(j1.ID)
	must.NoError(t, err)
	must.Eq(t, "J-1001", out.JobNumber)

	// Reads are copies; mutating one must not leak into the store.
	out.JobNumber = "mutated"
	out, err = store.JobByID(j1.ID)
	must.NoError(t, err)
	must.Eq(t, "J-1001", out.JobNumber)

	all, err := store.Jobs()
	must.NoError(t, err)
	must.Len(t, 2, all)

	must.NoError(t, store.UpdateJobStatus(j2.ID, structs.JobStatusScheduled))
	unscheduled, err := store.JobsByStatus(structs.JobStatusUnscheduled)
	must.NoError(t, err)
	must.Len(t, 1, unscheduled)
	must.Eq(t, j1.ID, unscheduled[0].ID)

	missing, err := store.JobByID(uuid.Generate())
	must.NoError(t, err)
	must.Nil(t, missing)
}

func TestStateStore_Routing(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)

	job := mockJob("J-1001", structs.JobPriorityNormal)
	must.NoError(t, store.UpsertJob(job))

	ops := []*structs.RoutingOperation{
		{ID: uuid.Generate(), JobID: job.ID, Sequence: 2, MachineType: structs.MachineTypeInspect, EstimatedHours: 0.5},
		{ID: uuid.Generate(), JobID: job.ID, Sequence: 1, MachineType: structs.MachineTypeMill, EstimatedHours: 4},
	}
	must.NoError(t, store.UpsertRouting(ops))

	out, err := store.RoutingByJob(job.ID)
	must.NoError(t, err)
	must.Len(t, 2, out)

	// Routings come back sorted by sequence regardless of insert order.
	must.Eq(t, 1, out[0].Sequence)
	must.Eq(t, 2, out[1].Sequence)
}

func TestStateStore_Machines(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)

	m1 := mockMachine("VMC-01", structs.MachineTypeMill)
	m1.SubstitutionGroups = []string{"3axis"}
	m2 := mockMachine("VMC-02", structs.MachineTypeMill)
	m2.SubstitutionGroups = []string{"3axis", "4axis"}
	m3 := mockMachine("LAT-01", structs.MachineTypeLathe)

	must.NoError(t, store.UpsertMachine(m1))
	must.NoError(t, store.UpsertMachine(m2))
	must.NoError(t, store.UpsertMachine(m3))

	out, err := store.MachineByMachineID("VMC-02")
	must.NoError(t, err)
	must.Eq(t, m2.ID, out.ID)

	all, err := store.Machines()
	must.NoError(t, err)
	must.Len(t, 3, all)
	// Stable machine_id iteration order.
	must.Eq(t, "LAT-01", all[0].MachineID)

	peers, err := store.MachinesBySubstitutionGroup("3axis")
	must.NoError(t, err)
	must.Len(t, 2, peers)

	peers, err = store.MachinesBySubstitutionGroup("4axis")
	must.NoError(t, err)
	must.Len(t, 1, peers)
	must.Eq(t, "VMC-02", peers[0].MachineID)
}

func TestStateStore_Resources(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)

	v0 := store.ResourceVersion()

	r1 := mockResource("Alice", "VMC-01")
	r2 := mockResource("Bob", "LAT-01")
	r2.Active = false
	must.NoError(t, store.UpsertResource(r1))
	must.NoError(t, store.UpsertResource(r2))

	// Operator writes bump the version counter.
	must.True(t, store.ResourceVersion() > v0)

	active, err := store.ActiveResources()
	must.NoError(t, err)
	must.Len(t, 1, active)
	must.Eq(t, "Alice", active[0].Name)

	out, err := store.ResourceByID(r2.ID)
	must.NoError(t, err)
	must.False(t, out.Active)
}

func TestStateStore_Unavailability(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)

	day := func(d int) time.Time {
		return time.Date(2026, time.June, d, 0, 0, 0, 0, time.UTC)
	}
	u := &structs.ResourceUnavailability{
		ID:          uuid.Generate(),
		ResourceIDs: []string{"r1"},
		StartDate:   day(2),
		EndDate:     day(4),
		Reason:      "vacation",
	}

	v0 := store.ResourceVersion()
	must.NoError(t, store.UpsertUnavailability(u))
	must.True(t, store.ResourceVersion() > v0)

	out, err := store.UnavailabilityInRange(day(3), day(3))
	must.NoError(t, err)
	must.Len(t, 1, out)

	out, err = store.UnavailabilityInRange(day(5), day(9))
	must.NoError(t, err)
	must.Len(t, 0, out)

	must.NoError(t, store.DeleteUnavailability(u.ID))
	out, err = store.UnavailabilityInRange(day(2), day(4))
	must.NoError(t, err)
	must.Len(t, 0, out)
}

func TestStateStore_CommitPlacement(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)

	job := mockJob("J-1001", structs.JobPriorityNormal)
	must.NoError(t, store.UpsertJob(job))
	must.NoError(t, store.UpsertMachine(mockMachine("VMC-01", structs.MachineTypeMill)))
	alice := mockResource("Alice", "VMC-01")
	must.NoError(t, store.UpsertResource(alice))

	start := time.Date(2026, time.June, 2, 3, 0, 0, 0, time.UTC)
	entry := mockEntry(job.ID, "VMC-01", alice.ID, start, 4)
	must.NoError(t, store.CommitPlacement(job.ID, []*structs.ScheduleEntry{entry}, nil))

	out, err := store.JobByID(job.ID)
	must.NoError(t, err)
	must.Eq(t, structs.JobStatusScheduled, out.Status)

	entries, err := store.EntriesForJob(job.ID)
	must.NoError(t, err)
	must.Len(t, 1, entries)

	entries, err = store.EntriesForMachine("VMC-01")
	must.NoError(t, err)
	must.Len(t, 1, entries)

	entries, err = store.EntriesForResource(alice.ID)
	must.NoError(t, err)
	must.Len(t, 1, entries)

	entries, err = store.EntriesOverlapping(start.Add(time.Hour), start.Add(2*time.Hour))
	must.NoError(t, err)
	must.Len(t, 1, entries)
}

func TestStateStore_CommitPlacement_Conflicts(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)

	j1 := mockJob("J-1001", structs.JobPriorityNormal)
	j2 := mockJob("J-1002", structs.JobPriorityNormal)
	must.NoError(t, store.UpsertJob(j1))
	must.NoError(t, store.UpsertJob(j2))
	must.NoError(t, store.UpsertMachine(mockMachine("VMC-01", structs.MachineTypeMill)))
	must.NoError(t, store.UpsertMachine(mockMachine("VMC-02", structs.MachineTypeMill)))
	alice := mockResource("Alice", "VMC-01", "VMC-02")
	must.NoError(t, store.UpsertResource(alice))

	start := time.Date(2026, time.June, 2, 3, 0, 0, 0, time.UTC)
	must.NoError(t, store.CommitPlacement(j1.ID,
		[]*structs.ScheduleEntry{mockEntry(j1.ID, "VMC-01", alice.ID, start, 4)}, nil))

	// Machine overlap is rejected.
	err := store.CommitPlacement(j2.ID,
		[]*structs.ScheduleEntry{mockEntry(j2.ID, "VMC-01", "", start.Add(time.Hour), 1)}, nil)
	must.Error(t, err)

	// Operator overlap on a different machine is rejected too.
	err = store.CommitPlacement(j2.ID,
		[]*structs.ScheduleEntry{mockEntry(j2.ID, "VMC-02", alice.ID, start.Add(time.Hour), 1)}, nil)
	must.Error(t, err)

	// A rejected commit leaves no partial writes behind.
	entries, err := store.EntriesForJob(j2.ID)
	must.NoError(t, err)
	must.Len(t, 0, entries)
	out, err := store.JobByID(j2.ID)
	must.NoError(t, err)
	must.Eq(t, structs.JobStatusUnscheduled, out.Status)

	// Back to back entries are fine.
	must.NoError(t, store.CommitPlacement(j2.ID,
		[]*structs.ScheduleEntry{mockEntry(j2.ID, "VMC-01", alice.ID, start.Add(4*time.Hour), 2)}, nil))
}

func TestStateStore_CommitPlacement_OutsourceNoCeiling(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)

	j1 := mockJob("J-1001", structs.JobPriorityNormal)
	j2 := mockJob("J-1002", structs.JobPriorityNormal)
	must.NoError(t, store.UpsertJob(j1))
	must.NoError(t, store.UpsertJob(j2))
	must.NoError(t, store.UpsertMachine(mockMachine("OUTS-01", structs.MachineTypeOutsource)))

	start := time.Date(2026, time.June, 2, 3, 0, 0, 0, time.UTC)
	e1 := mockEntry(j1.ID, "OUTS-01", "", start, 8)
	e2 := mockEntry(j2.ID, "OUTS-01", "", start, 8)

	// Outsource machines accept overlapping work.
	must.NoError(t, store.CommitPlacement(j1.ID, []*structs.ScheduleEntry{e1}, nil))
	must.NoError(t, store.CommitPlacement(j2.ID, []*structs.ScheduleEntry{e2}, nil))

	// The operator check still applies even though the machine check is
	// skipped: an entry carrying an operator booked elsewhere in the same
	// window is rejected.
	must.NoError(t, store.UpsertMachine(mockMachine("VMC-01", structs.MachineTypeMill)))
	alice := mockResource("Alice", "VMC-01")
	must.NoError(t, store.UpsertResource(alice))
	j3 := mockJob("J-1003", structs.JobPriorityNormal)
	j4 := mockJob("J-1004", structs.JobPriorityNormal)
	must.NoError(t, store.UpsertJob(j3))
	must.NoError(t, store.UpsertJob(j4))
	must.NoError(t, store.CommitPlacement(j3.ID,
		[]*structs.ScheduleEntry{mockEntry(j3.ID, "VMC-01", alice.ID, start, 4)}, nil))

	err := store.CommitPlacement(j4.ID,
		[]*structs.ScheduleEntry{mockEntry(j4.ID, "OUTS-01", alice.ID, start, 4)}, nil)
	must.ErrorContains(t, err, "overlaps operator")
}

func TestStateStore_CommitPlacement_Displacement(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)

	victim := mockJob("J-1001", structs.JobPriorityLow)
	incoming := mockJob("J-2001", structs.JobPriorityCritical)
	must.NoError(t, store.UpsertJob(victim))
	must.NoError(t, store.UpsertJob(incoming))
	must.NoError(t, store.UpsertMachine(mockMachine("VMC-01", structs.MachineTypeMill)))
	alice := mockResource("Alice", "VMC-01")
	must.NoError(t, store.UpsertResource(alice))

	start := time.Date(2026, time.June, 2, 3, 0, 0, 0, time.UTC)
	must.NoError(t, store.CommitPlacement(victim.ID,
		[]*structs.ScheduleEntry{mockEntry(victim.ID, "VMC-01", alice.ID, start, 4)}, nil))

	// The incoming job takes the same window; the victim reverts in the
	// same transaction.
	must.NoError(t, store.CommitPlacement(incoming.ID,
		[]*structs.ScheduleEntry{mockEntry(incoming.ID, "VMC-01", alice.ID, start, 4)},
		[]string{victim.ID}))

	out, err := store.JobByID(victim.ID)
	must.NoError(t, err)
	must.Eq(t, structs.JobStatusUnscheduled, out.Status)

	entries, err := store.EntriesForJob(victim.ID)
	must.NoError(t, err)
	must.Len(t, 0, entries)

	entries, err = store.EntriesForJob(incoming.ID)
	must.NoError(t, err)
	must.Len(t, 1, entries)
}

func TestStateStore_UnscheduleJob(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)

	job := mockJob("J-1001", structs.JobPriorityNormal)
	must.NoError(t, store.UpsertJob(job))
	must.NoError(t, store.UpsertMachine(mockMachine("VMC-01", structs.MachineTypeMill)))

	start := time.Date(2026, time.June, 2, 3, 0, 0, 0, time.UTC)
	must.NoError(t, store.CommitPlacement(job.ID,
		[]*structs.ScheduleEntry{mockEntry(job.ID, "VMC-01", "", start, 4)}, nil))

	must.NoError(t, store.UnscheduleJob(job.ID))

	out, err := store.JobByID(job.ID)
	must.NoError(t, err)
	must.Eq(t, structs.JobStatusUnscheduled, out.Status)

	entries, err := store.EntriesForJob(job.ID)
	must.NoError(t, err)
	must.Len(t, 0, entries)
}

func TestStateStore_InvalidateJobs(t *testing.T) {
	ci.Parallel(t)
	store := TestStateStore(t)

	j1 := mockJob("J-1001", structs.JobPriorityNormal)
	j2 := mockJob("J-1002", structs.JobPriorityNormal)
	must.NoError(t, store.UpsertJob(j1))
	must.NoError(t, store.UpsertJob(j2))
	must.NoError(t, store.UpsertMachine(mockMachine("VMC-01", structs.MachineTypeMill)))

	start := time.Date(2026, time.June, 2, 3, 0, 0, 0, time.UTC)
	must.NoError(t, store.CommitPlacement(j1.ID,
		[]*structs.ScheduleEntry{mockEntry(j1.ID, "VMC-01", "", start, 2)}, nil))
	must.NoError(t, store.CommitPlacement(j2.ID,
		[]*structs.ScheduleEntry{mockEntry(j2.ID, "VMC-01", "", start.Add(2*time.Hour), 2)}, nil))

	must.NoError(t, store.InvalidateJobs([]string{j1.ID, j2.ID}))

	for _, id := range []string{j1.ID, j2.ID} {
		out, err := store.JobByID(id)
		must.NoError(t, err)
		must.Eq(t, structs.JobStatusUnscheduled, out.Status)
		entries, err := store.EntriesForJob(id)
		must.NoError(t, err)
		must.Len(t, 0, entries)
	}
}
