// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"time"

	"github.com/shopsched/shopsched/calendar"
	"github.com/shopsched/shopsched/structs"
)

const (
	// weeklyHoursPerOperator is the nominal weekly capacity contributed by
	// one operator on a shift, before the efficiency factor.
	weeklyHoursPerOperator = 40

	// shiftFirstEfficiency and shiftSecondEfficiency derate nominal
	// capacity. First shift runs measurably more efficient than second.
	shiftFirstEfficiency  = 0.825
	shiftSecondEfficiency = 0.605
)

// ShiftMetrics is the weekly load/capacity picture for one shift.
type ShiftMetrics struct {
	Shift         structs.Shift
	WeekStart     time.Time
	Operators     int
	CapacityHours float64
	LoadHours     float64
	LoadPercent   float64
}

// CapacityTracker holds per-shift weekly load and capacity for the current
// business week. It is computed at pass start and folded forward as the pass
// commits entries, so later placement decisions in the same pass see the
// updated balance. It is a soft bias only, never a hard constraint.
type CapacityTracker struct {
	cal       *calendar.BusinessCalendar
	weekStart time.Time
	weekEnd   time.Time

	operators   map[structs.Shift]int
	loadMinutes map[structs.Shift]float64
}

// NewCapacityTracker computes the week's metrics from the active roster and
// the entries whose start falls inside the week containing now.
func NewCapacityTracker(state State, cal *calendar.BusinessCalendar, now time.Time) (*CapacityTracker, error) {
	weekStart := cal.WeekStart(now)
	weekEnd := weekStart.AddDate(0, 0, 7)

	c := &CapacityTracker{
		cal:       cal,
		weekStart: weekStart,
		weekEnd:   weekEnd,
		operators: map[structs.Shift]int{
			structs.ShiftFirst:  0,
			structs.ShiftSecond: 0,
		},
		loadMinutes: map[structs.Shift]float64{
			structs.ShiftFirst:  0,
			structs.ShiftSecond: 0,
		},
	}

	roster, err := state.ActiveResources()
	if err != nil {
		return nil, err
	}
	for _, r := range roster {
		for _, shift := range structs.Shifts() {
			if r.WorksShift(shift) {
				c.operators[shift]++
			}
		}
	}

	entries, err := state.EntriesOverlapping(weekStart, weekEnd)
	if err != nil {
		return nil, err
	}
	c.AddEntries(entries)
	return c, nil
}

// AddEntries folds entries into the weekly load. Entries starting outside
// the tracked week are ignored, as are entries carrying no operator:
// outsourced work consumes vendor capacity, not internal labor, and its
// multi-day span would otherwise skew the shift balance.
func (c *CapacityTracker) AddEntries(entries []*structs.ScheduleEntry) {
	for _, e := range entries {
		if e.ResourceID == "" {
			continue
		}
		if e.StartTime.Before(c.weekStart) || !e.StartTime.Before(c.weekEnd) {
			continue
		}
		c.loadMinutes[e.Shift] += e.Duration().Minutes()
	}
}

// capacityHours is operator count times nominal weekly hours times the
// shift's efficiency factor.
func (c *CapacityTracker) capacityHours(shift structs.Shift) float64 {
	eff := shiftFirstEfficiency
	if shift == structs.ShiftSecond {
		eff = shiftSecondEfficiency
	}
	return float64(c.operators[shift]) * weeklyHoursPerOperator * eff
}

// loadPercent is load over capacity, with zero capacity reported as fully
// loaded.
func (c *CapacityTracker) loadPercent(shift structs.Shift) float64 {
	capacity := c.capacityHours(shift)
	if capacity == 0 {
		return 100
	}
	return (c.loadMinutes[shift] / 60) / capacity * 100
}

// OptimalShift returns the less loaded shift for the week, preferring the
// first shift on ties.
func (c *CapacityTracker) OptimalShift() structs.Shift {
	if c.loadPercent(structs.ShiftFirst) <= c.loadPercent(structs.ShiftSecond) {
		return structs.ShiftFirst
	}
	return structs.ShiftSecond
}

// Metrics returns the week's picture for one shift.
func (c *CapacityTracker) Metrics(shift structs.Shift) ShiftMetrics {
	return ShiftMetrics{
		Shift:         shift,
		WeekStart:     c.weekStart,
		Operators:     c.operators[shift],
		CapacityHours: c.capacityHours(shift),
		LoadHours:     c.loadMinutes[shift] / 60,
		LoadPercent:   c.loadPercent(shift),
	}
}
