// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package calendar implements the business calendar every placement
// computation goes through: Monday through Thursday working days and two
// twelve hour shifts in a fixed timezone. No calendar arithmetic may live
// outside this package.
package calendar

import (
	"fmt"
	"time"

	"github.com/shopsched/shopsched/structs"
)

const (
	// DefaultTimezone is the business timezone all wall-clock rules are
	// defined in.
	DefaultTimezone = "America/Chicago"

	// shiftStartHour and shiftChangeHour bound the two shifts: shift 1
	// runs [03:00, 15:00), shift 2 runs [15:00, 03:00) of the next
	// calendar day and belongs to the date it starts on.
	shiftStartHour  = 3
	shiftChangeHour = 15

	// horizonDays caps forward scans so malformed inputs cannot loop
	// unbounded.
	horizonDays = 400
)

// BusinessCalendar answers working day and shift window queries for the
// business timezone. It is pure and safe for concurrent use.
type BusinessCalendar struct {
	loc *time.Location
}

// New returns a calendar for the given location.
func New(loc *time.Location) *BusinessCalendar {
	return &BusinessCalendar{loc: loc}
}

// Default loads the business timezone and returns the canonical calendar.
func Default() (*BusinessCalendar, error) {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %v", DefaultTimezone, err)
	}
	return New(loc), nil
}

// Location returns the calendar's timezone.
func (c *BusinessCalendar) Location() *time.Location {
	return c.loc
}

// DayStart truncates an instant to local midnight of its calendar date.
func (c *BusinessCalendar) DayStart(t time.Time) time.Time {
	lt := t.In(c.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.loc)
}

// IsWorkingDay reports whether the instant's calendar date is a working day
// (Monday through Thursday).
func (c *BusinessCalendar) IsWorkingDay(t time.Time) bool {
	switch t.In(c.loc).Weekday() {
	case time.Monday, time.Tuesday, time.Wednesday, time.Thursday:
		return true
	default:
		return false
	}
}

// ShiftWindow returns the half-open [start, end) window of the given shift on
// the calendar date containing the instant. Shift 2 ends at 03:00 of the next
// calendar day.
func (c *BusinessCalendar) ShiftWindow(date time.Time, shift structs.Shift) (time.Time, time.Time) {
	day := c.DayStart(date)
	y, m, d := day.Date()
	if shift == structs.ShiftFirst {
		start := time.Date(y, m, d, shiftStartHour, 0, 0, 0, c.loc)
		end := time.Date(y, m, d, shiftChangeHour, 0, 0, 0, c.loc)
		return start, end
	}
	start := time.Date(y, m, d, shiftChangeHour, 0, 0, 0, c.loc)
	end := time.Date(y, m, d+1, shiftStartHour, 0, 0, 0, c.loc)
	return start, end
}

// ShiftAt resolves which shift window contains the instant and the calendar
// date that owns it. Instants before 03:00 belong to the previous date's
// second shift.
func (c *BusinessCalendar) ShiftAt(t time.Time) (structs.Shift, time.Time) {
	lt := t.In(c.loc)
	day := c.DayStart(lt)
	switch {
	case lt.Hour() < shiftStartHour:
		return structs.ShiftSecond, day.AddDate(0, 0, -1)
	case lt.Hour() < shiftChangeHour:
		return structs.ShiftFirst, day
	default:
		return structs.ShiftSecond, day
	}
}

// NextWorkingInstant returns t if it falls inside a shift window on a working
// day, otherwise the next shift start on a working day.
func (c *BusinessCalendar) NextWorkingInstant(t time.Time) time.Time {
	cur := t
	for i := 0; i < horizonDays*2; i++ {
		_, owner := c.ShiftAt(cur)
		if c.IsWorkingDay(owner) {
			return cur
		}
		cur = c.nextShiftStart(cur)
	}
	return cur
}

// nextShiftStart returns the first shift boundary strictly after t, ignoring
// working day status.
func (c *BusinessCalendar) nextShiftStart(t time.Time) time.Time {
	lt := t.In(c.loc)
	y, m, d := lt.Date()
	s1 := time.Date(y, m, d, shiftStartHour, 0, 0, 0, c.loc)
	s2 := time.Date(y, m, d, shiftChangeHour, 0, 0, 0, c.loc)
	switch {
	case lt.Before(s1):
		return s1
	case lt.Before(s2):
		return s2
	default:
		return time.Date(y, m, d+1, shiftStartHour, 0, 0, 0, c.loc)
	}
}

// NextShiftBoundary returns the first shift boundary strictly after t on a
// working day. Placement uses it to step past empty scan windows.
func (c *BusinessCalendar) NextShiftBoundary(t time.Time) time.Time {
	return c.NextWorkingInstant(c.nextShiftStart(t))
}

// ShiftEnd returns the end of the shift window containing t.
func (c *BusinessCalendar) ShiftEnd(t time.Time) time.Time {
	shift, owner := c.ShiftAt(t)
	_, end := c.ShiftWindow(owner, shift)
	return end
}

// NextBusinessDayStart returns the shift 1 opening of the first working day
// strictly after t's calendar date. This is the placement time floor: never
// in the past, never today.
func (c *BusinessCalendar) NextBusinessDayStart(t time.Time) time.Time {
	day := c.DayStart(t)
	for i := 0; i < horizonDays; i++ {
		day = day.AddDate(0, 0, 1)
		if c.IsWorkingDay(day) {
			y, m, d := day.Date()
			return time.Date(y, m, d, shiftStartHour, 0, 0, 0, c.loc)
		}
	}
	return day
}

// NextWorkingDay returns local midnight of the first working day strictly
// after the given date.
func (c *BusinessCalendar) NextWorkingDay(date time.Time) time.Time {
	day := c.DayStart(date)
	for i := 0; i < horizonDays; i++ {
		day = day.AddDate(0, 0, 1)
		if c.IsWorkingDay(day) {
			return day
		}
	}
	return day
}

// AdvanceWorkingMinutes moves t forward by the given number of working
// minutes, skipping non-working intervals. Working time is the union of both
// shift windows on working days.
func (c *BusinessCalendar) AdvanceWorkingMinutes(t time.Time, minutes int) time.Time {
	cur := c.NextWorkingInstant(t)
	remaining := time.Duration(minutes) * time.Minute
	for i := 0; i < horizonDays*2 && remaining > 0; i++ {
		end := c.ShiftEnd(cur)
		avail := end.Sub(cur)
		if avail >= remaining {
			return cur.Add(remaining)
		}
		remaining -= avail
		cur = c.NextWorkingInstant(end)
	}
	return cur
}

// WorkingMinutesBetween sums the working minutes in [from, to).
func (c *BusinessCalendar) WorkingMinutesBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	total := time.Duration(0)
	cur := c.NextWorkingInstant(from)
	for i := 0; i < horizonDays*2 && cur.Before(to); i++ {
		end := c.ShiftEnd(cur)
		if end.After(to) {
			end = to
		}
		total += end.Sub(cur)
		cur = c.NextWorkingInstant(c.ShiftEnd(cur))
	}
	return int(total / time.Minute)
}

// WeekStart returns local midnight of the Monday of the week containing t.
// Capacity metrics bucket entries by this boundary.
func (c *BusinessCalendar) WeekStart(t time.Time) time.Time {
	day := c.DayStart(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// ClockInstant places a minutes-from-midnight clock value on the given
// calendar date. Shift 2 clock values before 03:00 land on the next date.
func (c *BusinessCalendar) ClockInstant(date time.Time, clockMinutes int, shift structs.Shift) time.Time {
	day := c.DayStart(date)
	y, m, d := day.Date()
	if shift == structs.ShiftSecond && clockMinutes < shiftStartHour*60 {
		d++
	}
	return time.Date(y, m, d, 0, clockMinutes, 0, 0, c.loc)
}
