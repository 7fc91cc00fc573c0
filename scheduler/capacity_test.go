// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/shopsched/shopsched/calendar"
	"github.com/shopsched/shopsched/ci"
	"github.com/shopsched/shopsched/helper/uuid"
	"github.com/shopsched/shopsched/state"
	"github.com/shopsched/shopsched/structs"
)

func TestCapacityTracker_Metrics(t *testing.T) {
	ci.Parallel(t)
	cal, err := calendar.Default()
	must.NoError(t, err)
	store := state.TestStateStore(t)

	// Two operators on shift 1, one on shift 2.
	for i, shifts := range [][]structs.Shift{
		{structs.ShiftFirst},
		{structs.ShiftFirst},
		{structs.ShiftSecond},
	} {
		r := testOperator(shifts...)
		r.Name = string(rune('A' + i))
		must.NoError(t, store.UpsertResource(r))
	}

	now := at(cal, 1, 10, 0)
	tracker, err := NewCapacityTracker(store, cal, now)
	must.NoError(t, err)

	first := tracker.Metrics(structs.ShiftFirst)
	must.Eq(t, 2, first.Operators)
	must.InDelta(t, 66.0, first.CapacityHours, 0.001)
	must.Eq(t, 0.0, first.LoadHours)
	must.Eq(t, day(cal, 1), first.WeekStart)

	second := tracker.Metrics(structs.ShiftSecond)
	must.Eq(t, 1, second.Operators)
	must.InDelta(t, 24.2, second.CapacityHours, 0.001)
}

func TestCapacityTracker_OptimalShift(t *testing.T) {
	ci.Parallel(t)
	cal, err := calendar.Default()
	must.NoError(t, err)
	store := state.TestStateStore(t)

	for _, shifts := range [][]structs.Shift{{structs.ShiftFirst}, {structs.ShiftSecond}} {
		must.NoError(t, store.UpsertResource(testOperator(shifts...)))
	}

	now := at(cal, 1, 10, 0)
	tracker, err := NewCapacityTracker(store, cal, now)
	must.NoError(t, err)

	// Tied at zero load: shift 1 wins.
	must.Eq(t, structs.ShiftFirst, tracker.OptimalShift())

	// Heavy load on shift 1 flips the preference. Shift 1 has 33 capacity
	// hours, shift 2 has 24.2; twenty hours of load is over 60% of shift 1.
	tracker.AddEntries([]*structs.ScheduleEntry{{
		ID:         uuid.Generate(),
		JobID:      uuid.Generate(),
		MachineID:  "VMC-01",
		ResourceID: uuid.Generate(),
		StartTime:  at(cal, 2, 3, 0),
		EndTime:    at(cal, 2, 3, 0).Add(20 * time.Hour),
		Shift:      structs.ShiftFirst,
	}})
	must.Eq(t, structs.ShiftSecond, tracker.OptimalShift())
}

func TestCapacityTracker_WeekScoping(t *testing.T) {
	ci.Parallel(t)
	cal, err := calendar.Default()
	must.NoError(t, err)
	store := state.TestStateStore(t)

	must.NoError(t, store.UpsertResource(testOperator(structs.ShiftFirst)))

	now := at(cal, 1, 10, 0)
	tracker, err := NewCapacityTracker(store, cal, now)
	must.NoError(t, err)

	// Entries starting outside the tracked week are ignored.
	tracker.AddEntries([]*structs.ScheduleEntry{{
		ResourceID: uuid.Generate(),
		StartTime:  at(cal, 9, 3, 0),
		EndTime:    at(cal, 9, 7, 0),
		Shift:      structs.ShiftFirst,
	}})
	must.Eq(t, 0.0, tracker.Metrics(structs.ShiftFirst).LoadHours)

	tracker.AddEntries([]*structs.ScheduleEntry{{
		ResourceID: uuid.Generate(),
		StartTime:  at(cal, 3, 3, 0),
		EndTime:    at(cal, 3, 7, 0),
		Shift:      structs.ShiftFirst,
	}})
	must.Eq(t, 4.0, tracker.Metrics(structs.ShiftFirst).LoadHours)
}

func TestCapacityTracker_OutsourceExcluded(t *testing.T) {
	ci.Parallel(t)
	cal, err := calendar.Default()
	must.NoError(t, err)
	store := state.TestStateStore(t)

	must.NoError(t, store.UpsertResource(testOperator(structs.ShiftFirst)))

	tracker, err := NewCapacityTracker(store, cal, at(cal, 1, 10, 0))
	must.NoError(t, err)

	// A vendor entry has no operator; its multi-day wall-clock span must
	// not count against internal shift load.
	tracker.AddEntries([]*structs.ScheduleEntry{{
		ID:        uuid.Generate(),
		JobID:     uuid.Generate(),
		MachineID: "OUTS-01",
		StartTime: at(cal, 2, 5, 0),
		EndTime:   at(cal, 8, 9, 0),
		Shift:     structs.ShiftFirst,
	}})
	must.Eq(t, 0.0, tracker.Metrics(structs.ShiftFirst).LoadHours)
	must.Eq(t, structs.ShiftFirst, tracker.OptimalShift())
}

func TestCapacityTracker_ZeroCapacity(t *testing.T) {
	ci.Parallel(t)
	cal, err := calendar.Default()
	must.NoError(t, err)
	store := state.TestStateStore(t)

	// No second shift operators at all: the shift reports fully loaded and
	// placement biases to shift 1.
	must.NoError(t, store.UpsertResource(testOperator(structs.ShiftFirst)))

	tracker, err := NewCapacityTracker(store, cal, at(cal, 1, 10, 0))
	must.NoError(t, err)

	must.Eq(t, 100.0, tracker.Metrics(structs.ShiftSecond).LoadPercent)
	must.Eq(t, structs.ShiftFirst, tracker.OptimalShift())
}
