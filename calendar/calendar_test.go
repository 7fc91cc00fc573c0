// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package calendar

import (
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/shopsched/shopsched/ci"
	"github.com/shopsched/shopsched/structs"
)

func testCalendar(t *testing.T) *BusinessCalendar {
	cal, err := Default()
	must.NoError(t, err)
	return cal
}

// local builds an instant in the business timezone. June 2026: the 1st is a
// Monday, the 5th a Friday.
func local(cal *BusinessCalendar, day, hour, min int) time.Time {
	return time.Date(2026, time.June, day, hour, min, 0, 0, cal.Location())
}

func TestBusinessCalendar_IsWorkingDay(t *testing.T) {
	ci.Parallel(t)
	cal := testCalendar(t)

	cases := []struct {
		day  int
		want bool
	}{
		{1, true},  // Monday
		{2, true},  // Tuesday
		{3, true},  // Wednesday
		{4, true},  // Thursday
		{5, false}, // Friday
		{6, false}, // Saturday
		{7, false}, // Sunday
	}
	for _, tc := range cases {
		must.Eq(t, tc.want, cal.IsWorkingDay(local(cal, tc.day, 12, 0)))
	}
}

func TestBusinessCalendar_ShiftWindow(t *testing.T) {
	ci.Parallel(t)
	cal := testCalendar(t)

	s, e := cal.ShiftWindow(local(cal, 1, 12, 0), structs.ShiftFirst)
	must.Eq(t, local(cal, 1, 3, 0), s)
	must.Eq(t, local(cal, 1, 15, 0), e)

	s, e = cal.ShiftWindow(local(cal, 1, 12, 0), structs.ShiftSecond)
	must.Eq(t, local(cal, 1, 15, 0), s)
	must.Eq(t, local(cal, 2, 3, 0), e)
}

func TestBusinessCalendar_ShiftAt(t *testing.T) {
	ci.Parallel(t)
	cal := testCalendar(t)

	shift, owner := cal.ShiftAt(local(cal, 1, 10, 0))
	must.Eq(t, structs.ShiftFirst, shift)
	must.Eq(t, local(cal, 1, 0, 0), owner)

	shift, owner = cal.ShiftAt(local(cal, 1, 16, 0))
	must.Eq(t, structs.ShiftSecond, shift)
	must.Eq(t, local(cal, 1, 0, 0), owner)

	// Before 03:00 the instant belongs to the previous date's second shift.
	shift, owner = cal.ShiftAt(local(cal, 2, 1, 0))
	must.Eq(t, structs.ShiftSecond, shift)
	must.Eq(t, local(cal, 1, 0, 0), owner)
}

func TestBusinessCalendar_NextWorkingInstant(t *testing.T) {
	ci.Parallel(t)
	cal := testCalendar(t)

	// Already inside a working shift window.
	at := local(cal, 2, 10, 30)
	must.Eq(t, at, cal.NextWorkingInstant(at))

	// Friday rolls to Monday shift 1.
	must.Eq(t, local(cal, 8, 3, 0), cal.NextWorkingInstant(local(cal, 5, 10, 0)))

	// Thursday second shift spills past midnight into Friday and is still
	// working time.
	at = local(cal, 5, 1, 0)
	must.Eq(t, at, cal.NextWorkingInstant(at))
}

func TestBusinessCalendar_NextBusinessDayStart(t *testing.T) {
	ci.Parallel(t)
	cal := testCalendar(t)

	// Monday request floors to Tuesday 03:00, never today.
	must.Eq(t, local(cal, 2, 3, 0), cal.NextBusinessDayStart(local(cal, 1, 10, 0)))

	// Thursday request skips the weekend.
	must.Eq(t, local(cal, 8, 3, 0), cal.NextBusinessDayStart(local(cal, 4, 10, 0)))

	// Saturday request also lands on Monday.
	must.Eq(t, local(cal, 8, 3, 0), cal.NextBusinessDayStart(local(cal, 6, 23, 0)))
}

func TestBusinessCalendar_NextShiftBoundary(t *testing.T) {
	ci.Parallel(t)
	cal := testCalendar(t)

	must.Eq(t, local(cal, 2, 15, 0), cal.NextShiftBoundary(local(cal, 2, 10, 0)))
	must.Eq(t, local(cal, 3, 3, 0), cal.NextShiftBoundary(local(cal, 2, 20, 0)))

	// Thursday evening's next boundary is Friday 03:00, which is not a
	// working instant, so it rolls to Monday.
	must.Eq(t, local(cal, 8, 3, 0), cal.NextShiftBoundary(local(cal, 4, 20, 0)))
}

func TestBusinessCalendar_AdvanceWorkingMinutes(t *testing.T) {
	ci.Parallel(t)
	cal := testCalendar(t)

	// Within one shift.
	must.Eq(t, local(cal, 2, 7, 0), cal.AdvanceWorkingMinutes(local(cal, 2, 3, 0), 240))

	// Exactly one full shift lands on the boundary.
	must.Eq(t, local(cal, 2, 15, 0), cal.AdvanceWorkingMinutes(local(cal, 2, 3, 0), 720))

	// 25 hours bridges both Tuesday shifts into Wednesday.
	must.Eq(t, local(cal, 3, 4, 0), cal.AdvanceWorkingMinutes(local(cal, 2, 3, 0), 1500))

	// Crossing the shift change mid-afternoon.
	must.Eq(t, local(cal, 4, 16, 0), cal.AdvanceWorkingMinutes(local(cal, 4, 14, 0), 120))

	// Friday start rolls to Monday first.
	must.Eq(t, local(cal, 8, 4, 0), cal.AdvanceWorkingMinutes(local(cal, 5, 10, 0), 60))
}

func TestBusinessCalendar_WorkingMinutesBetween(t *testing.T) {
	ci.Parallel(t)
	cal := testCalendar(t)

	// A full working day is 24 contiguous working hours.
	must.Eq(t, 1440, cal.WorkingMinutesBetween(local(cal, 2, 3, 0), local(cal, 3, 3, 0)))

	// Thursday 14:00 to Monday 04:00 crosses the weekend: one hour of
	// Thursday shift 1, twelve of shift 2, one of Monday shift 1.
	must.Eq(t, 14*60, cal.WorkingMinutesBetween(local(cal, 4, 14, 0), local(cal, 8, 4, 0)))

	must.Eq(t, 0, cal.WorkingMinutesBetween(local(cal, 2, 3, 0), local(cal, 2, 3, 0)))
}

func TestBusinessCalendar_WeekStart(t *testing.T) {
	ci.Parallel(t)
	cal := testCalendar(t)

	monday := local(cal, 1, 0, 0)
	must.Eq(t, monday, cal.WeekStart(local(cal, 3, 12, 0)))
	must.Eq(t, monday, cal.WeekStart(local(cal, 7, 23, 0)))
	must.Eq(t, monday, cal.WeekStart(monday))
}

func TestBusinessCalendar_ClockInstant(t *testing.T) {
	ci.Parallel(t)
	cal := testCalendar(t)

	date := local(cal, 1, 0, 0)
	must.Eq(t, local(cal, 1, 10, 0), cal.ClockInstant(date, 600, structs.ShiftFirst))

	// A second shift clock before 03:00 lands on the next calendar date.
	must.Eq(t, local(cal, 2, 1, 0), cal.ClockInstant(date, 60, structs.ShiftSecond))
	must.Eq(t, local(cal, 1, 16, 0), cal.ClockInstant(date, 960, structs.ShiftSecond))
}
