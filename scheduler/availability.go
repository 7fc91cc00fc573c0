// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"sort"
	"time"

	log "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"

	"github.com/shopsched/shopsched/calendar"
	"github.com/shopsched/shopsched/structs"
)

// availabilityScanDays bounds the forward scan for an operator's next
// working day.
const availabilityScanDays = 60

// AvailabilityManager resolves whether an operator works at a given instant
// and during what wall-clock window, from the base shift schedule minus any
// recorded unavailability. It is read-only during a placement pass.
type AvailabilityManager struct {
	state  State
	cal    *calendar.BusinessCalendar
	logger log.Logger
}

// NewAvailabilityManager constructs an availability manager over the state.
func NewAvailabilityManager(state State, cal *calendar.BusinessCalendar, logger log.Logger) *AvailabilityManager {
	return &AvailabilityManager{
		state:  state,
		cal:    cal,
		logger: logger.Named("availability"),
	}
}

// WorkingWindow resolves an operator's effective window for a date and
// shift. Unknown operators get an empty window, never an error.
func (a *AvailabilityManager) WorkingWindow(resourceID string, date time.Time, shift structs.Shift) (time.Time, time.Time, bool) {
	r, err := a.state.ResourceByID(resourceID)
	if err != nil || r == nil {
		return time.Time{}, time.Time{}, false
	}
	return a.WindowFor(r, date, shift)
}

// WindowFor is WorkingWindow for an already loaded operator. Resolution
// order: inactive, non-working day and off-shift all yield empty; a covering
// full-day record yields empty; partial-day records clip the shift window;
// otherwise the full shift window applies.
func (a *AvailabilityManager) WindowFor(r *structs.Resource, date time.Time, shift structs.Shift) (time.Time, time.Time, bool) {
	if r == nil || !r.Active {
		return time.Time{}, time.Time{}, false
	}
	if !a.cal.IsWorkingDay(date) {
		return time.Time{}, time.Time{}, false
	}
	if !r.WorksShift(shift) {
		return time.Time{}, time.Time{}, false
	}

	ws, we := a.cal.ShiftWindow(date, shift)
	day := a.cal.DayStart(date)

	records, err := a.state.UnavailabilityInRange(day, day)
	if err != nil {
		a.logger.Error("unavailability read failed", "error", err)
		return time.Time{}, time.Time{}, false
	}

	// Overlapping records merge into one effective blocked set per
	// operator and date.
	var blocked []window
	for _, u := range records {
		if !u.Covers(r.ID, day, shift) {
			continue
		}
		if !u.Partial {
			return time.Time{}, time.Time{}, false
		}
		bs, be, ok := a.partialWindow(u, day, shift)
		if ok {
			blocked = append(blocked, window{start: bs, end: be})
		}
	}
	if len(blocked) == 0 {
		return ws, we, true
	}

	remainder := subtractWindows(window{start: ws, end: we}, blocked)
	if len(remainder) == 0 {
		return time.Time{}, time.Time{}, false
	}

	// Prefer the remainder anchored at the shift start; fall back to the
	// largest contiguous segment.
	if remainder[0].start.Equal(ws) {
		return remainder[0].start, remainder[0].end, true
	}
	best := remainder[0]
	for _, seg := range remainder[1:] {
		if seg.end.Sub(seg.start) > best.end.Sub(best.start) {
			best = seg
		}
	}
	return best.start, best.end, true
}

// partialWindow places a record's clock range inside the given shift on the
// given date. The range is interpreted against each affected shift
// independently.
func (a *AvailabilityManager) partialWindow(u *structs.ResourceUnavailability, day time.Time, shift structs.Shift) (time.Time, time.Time, bool) {
	startMin, err := structs.ParseClock(u.StartClock)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	endMin, err := structs.ParseClock(u.EndClock)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	start := a.cal.ClockInstant(day, startMin, shift)
	end := a.cal.ClockInstant(day, endMin, shift)
	if !end.After(start) {
		return time.Time{}, time.Time{}, false
	}
	ws, we := a.cal.ShiftWindow(day, shift)
	if start.Before(ws) {
		start = ws
	}
	if end.After(we) {
		end = we
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// IsAvailable reports whether the operator's working window for the
// instant's date and the given shift contains the instant.
func (a *AvailabilityManager) IsAvailable(resourceID string, at time.Time, shift structs.Shift) bool {
	_, date := a.cal.ShiftAt(at)
	ws, we, ok := a.WorkingWindow(resourceID, date, shift)
	if !ok {
		return false
	}
	return !at.Before(ws) && at.Before(we)
}

// AvailableOperators filters the active roster by shift eligibility at the
// instant, optionally by role and by work-center intersection. Order is the
// roster's stable ID order.
func (a *AvailabilityManager) AvailableOperators(at time.Time, shift structs.Shift, role string, workCenters []string) ([]*structs.Resource, error) {
	roster, err := a.state.ActiveResources()
	if err != nil {
		return nil, err
	}
	_, date := a.cal.ShiftAt(at)
	var out []*structs.Resource
	for _, r := range roster {
		if role != "" && r.Role != role {
			continue
		}
		if len(workCenters) > 0 && !intersects(r.WorkCenters, workCenters) {
			continue
		}
		ws, we, ok := a.WindowFor(r, date, shift)
		if !ok || at.Before(ws) || !at.Before(we) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// NextAvailableDay scans working days forward from the given date and
// returns the first with a non-empty window on either shift.
func (a *AvailabilityManager) NextAvailableDay(resourceID string, from time.Time) (time.Time, bool) {
	r, err := a.state.ResourceByID(resourceID)
	if err != nil || r == nil {
		return time.Time{}, false
	}
	day := a.cal.DayStart(from)
	for i := 0; i < availabilityScanDays; i++ {
		if a.cal.IsWorkingDay(day) {
			for _, shift := range structs.Shifts() {
				if _, _, ok := a.WindowFor(r, day, shift); ok {
					return day, true
				}
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}, false
}

// AvailableHoursInRange sums the operator's working-window hours clipped to
// [from, to).
func (a *AvailabilityManager) AvailableHoursInRange(resourceID string, from, to time.Time) float64 {
	r, err := a.state.ResourceByID(resourceID)
	if err != nil || r == nil {
		return 0
	}
	total := time.Duration(0)
	day := a.cal.DayStart(from)
	for !day.After(to) {
		for _, shift := range structs.Shifts() {
			ws, we, ok := a.WindowFor(r, day, shift)
			if !ok {
				continue
			}
			if ws.Before(from) {
				ws = from
			}
			if we.After(to) {
				we = to
			}
			if we.After(ws) {
				total += we.Sub(ws)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return total.Hours()
}

// window is a half-open absolute time interval.
type window struct {
	start time.Time
	end   time.Time
}

// subtractWindows removes the blocked intervals from the base window and
// returns the remaining segments in time order.
func subtractWindows(base window, blocked []window) []window {
	sort.Slice(blocked, func(i, j int) bool { return blocked[i].start.Before(blocked[j].start) })

	out := []window{base}
	for _, b := range blocked {
		var next []window
		for _, seg := range out {
			if !b.start.Before(seg.end) || !seg.start.Before(b.end) {
				next = append(next, seg)
				continue
			}
			if seg.start.Before(b.start) {
				next = append(next, window{start: seg.start, end: b.start})
			}
			if b.end.Before(seg.end) {
				next = append(next, window{start: b.end, end: seg.end})
			}
		}
		out = next
	}
	return out
}

// intersects reports whether the two work-center lists share an element.
func intersects(a, b []string) bool {
	return !set.From(a).Intersect(set.From(b)).Empty()
}
