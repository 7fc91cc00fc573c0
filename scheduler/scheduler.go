// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package scheduler implements the placement engine: operator availability,
// weekly shift capacity, machine substitution, the chunked first-fit
// placement core and the service that orchestrates per-job and batch passes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/shopsched/shopsched/calendar"
	"github.com/shopsched/shopsched/helper/uuid"
	"github.com/shopsched/shopsched/structs"
)

const (
	// defaultJobDeadline is the wall-clock ceiling for one job's placement
	// pass.
	defaultJobDeadline = 30 * time.Second

	// maxPassAttempts bounds retries when concurrent writes invalidate the
	// pass snapshot between start and commit.
	maxPassAttempts = 3

	// eventBufferSize is the capacity of the post-commit event channel.
	// Events are dropped, not blocked on, when no consumer keeps up.
	eventBufferSize = 64
)

// Config configures a scheduling service.
type Config struct {
	State    State
	Planner  Planner
	Calendar *calendar.BusinessCalendar
	Logger   log.Logger

	// Clock overrides the wall clock, for tests.
	Clock func() time.Time

	// JobDeadline overrides the per-job pass ceiling, for tests.
	JobDeadline time.Duration
}

// Service orchestrates placement passes. A mutex serializes passes; within a
// pass all reads come from the state snapshot, refreshed only between
// operations.
type Service struct {
	state       State
	planner     Planner
	cal         *calendar.BusinessCalendar
	logger      log.Logger
	clock       func() time.Time
	jobDeadline time.Duration

	mu       sync.Mutex
	eventsCh chan *structs.Event
}

// NewService constructs a scheduling service from the config, applying the
// production calendar, logger and clock defaults.
func NewService(cfg *Config) (*Service, error) {
	if cfg == nil || cfg.State == nil || cfg.Planner == nil {
		return nil, fmt.Errorf("scheduler service requires state and planner")
	}
	cal := cfg.Calendar
	if cal == nil {
		var err error
		cal, err = calendar.Default()
		if err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNullLogger()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	deadline := cfg.JobDeadline
	if deadline <= 0 {
		deadline = defaultJobDeadline
	}
	return &Service{
		state:       cfg.State,
		planner:     cfg.Planner,
		cal:         cal,
		logger:      logger.Named("scheduler"),
		clock:       clock,
		jobDeadline: deadline,
		eventsCh:    make(chan *structs.Event, eventBufferSize),
	}, nil
}

// Events returns the post-commit event channel for the surrounding
// application's fan-out layer.
func (s *Service) Events() <-chan *structs.Event {
	return s.eventsCh
}

func (s *Service) emit(ev *structs.Event) {
	select {
	case s.eventsCh <- ev:
	default:
		s.logger.Warn("event channel full, dropping event", "type", ev.Type, "job_id", ev.JobID)
	}
}

// ScheduleResult is the outcome of one job's placement pass.
type ScheduleResult struct {
	JobID          string
	Success        bool
	Entries        []*structs.ScheduleEntry
	DisplacedJobs  []string
	FailureReason  string
	FailureDetails string
}

// BatchResult summarizes a schedule-all pass.
type BatchResult struct {
	Total     int
	Scheduled int
	Failed    int
	PerJob    []*ScheduleResult
}

// UnavailabilityResult is the outcome of recording an unavailability period.
type UnavailabilityResult struct {
	Inserted          *structs.ResourceUnavailability
	InvalidatedJobIDs []string
}

// ScheduleJob places one unscheduled job across its full routing and commits
// the result atomically. A nil after uses the standard next business day
// floor. Placement failures come back inside the result; only storage and
// cancellation errors are returned as errors.
func (s *Service) ScheduleJob(ctx context.Context, jobID string, after *time.Time) (*ScheduleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleJobLocked(ctx, jobID, after)
}

func (s *Service) scheduleJobLocked(ctx context.Context, jobID string, after *time.Time) (*ScheduleResult, error) {
	defer metrics.MeasureSince([]string{"shopsched", "scheduler", "schedule_job"}, s.clock())

	for attempt := 1; attempt <= maxPassAttempts; attempt++ {
		result, stale, err := s.schedulePass(ctx, jobID, after)
		if err != nil {
			return nil, err
		}
		if !stale {
			if !result.Success {
				metrics.IncrCounter([]string{"shopsched", "scheduler", "placement_failure"}, 1)
			}
			return result, nil
		}
		s.logger.Warn("pass snapshot went stale, retrying", "job_id", jobID, "attempt", attempt)
	}

	metrics.IncrCounter([]string{"shopsched", "scheduler", "stale_snapshot"}, 1)
	return s.failureResult(jobID, structs.ErrStaleSnapshot), nil
}

// schedulePass runs one full placement attempt for a job. The bool return
// reports that the snapshot went stale and the pass should be retried.
func (s *Service) schedulePass(ctx context.Context, jobID string, after *time.Time) (*ScheduleResult, bool, error) {
	now := s.clock()
	deadline := now.Add(s.jobDeadline)
	version := s.state.ResourceVersion()

	job, err := s.state.JobByID(jobID)
	if err != nil {
		return nil, false, err
	}
	if job == nil {
		return nil, false, fmt.Errorf("job %q not found", jobID)
	}
	if job.Status != structs.JobStatusUnscheduled {
		return nil, false, fmt.Errorf("job %q is %s, not unscheduled", jobID, job.Status)
	}

	ops, err := s.state.RoutingByJob(jobID)
	if err != nil {
		return nil, false, err
	}
	if err := structs.ValidateRouting(ops); err != nil {
		return s.failureResult(jobID, &structs.RoutingInvalidError{JobID: jobID, Err: err}), false, nil
	}

	plan := NewPlan(jobID)
	ectx := NewEvalContext(s.state, plan, s.cal, s.logger)
	capacity, err := NewCapacityTracker(s.state, s.cal, now)
	if err != nil {
		return nil, false, err
	}
	ectx.SetCapacity(capacity)
	p := newPlacer(ectx, now, deadline, s.clock)

	boundary := s.cal.NextBusinessDayStart(now)
	if after != nil && after.After(boundary) {
		boundary = *after
	}

	for _, op := range ops {
		// Cancellation between operations drops the buffer with no
		// storage writes.
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		default:
		}

		entries, err := p.placeOperation(job, op, boundary)
		if err != nil && errors.Is(err, structs.ErrCapacityExhausted) {
			displaced, ok, derr := p.tryDisplacement(job, op, boundary)
			if derr != nil {
				return nil, false, derr
			}
			if ok {
				entries, err = displaced, nil
			}
		}
		if err != nil {
			s.logger.Debug("placement failed", "job_id", jobID, "sequence", op.Sequence, "error", err)
			return s.failureResult(jobID, err), false, nil
		}
		if len(entries) > 0 {
			boundary = entries[len(entries)-1].EndTime
		}
		capacity.AddEntries(entries)
	}

	if s.state.ResourceVersion() != version {
		return nil, true, nil
	}

	if err := s.planner.CommitPlacement(jobID, plan.Entries, plan.DisplacedJobIDs); err != nil {
		return nil, false, err
	}

	for _, displaced := range plan.DisplacedJobIDs {
		s.emit(&structs.Event{
			Type:      structs.EventTypeJobDisplaced,
			JobID:     displaced,
			Timestamp: s.clock(),
		})
	}
	s.emit(&structs.Event{
		Type:      structs.EventTypeJobScheduled,
		JobID:     jobID,
		EntryIDs:  entryIDs(plan.Entries),
		Timestamp: s.clock(),
	})

	s.logger.Info("job scheduled", "job_id", jobID, "job_number", job.JobNumber,
		"entries", len(plan.Entries), "displaced_jobs", len(plan.DisplacedJobIDs))
	return &ScheduleResult{
		JobID:         jobID,
		Success:       true,
		Entries:       plan.Entries,
		DisplacedJobs: plan.DisplacedJobIDs,
	}, false, nil
}

// ScheduleAll places every unscheduled job in priority order. Already
// scheduled jobs are not considered, so repeated calls rewrite nothing. A
// placement failure on one job does not roll back or stop the others.
func (s *Service) ScheduleAll(ctx context.Context) (*BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer metrics.MeasureSince([]string{"shopsched", "scheduler", "schedule_all"}, s.clock())

	jobs, err := s.state.JobsByStatus(structs.JobStatusUnscheduled)
	if err != nil {
		return nil, err
	}
	SortJobsForBatch(jobs)

	batch := &BatchResult{Total: len(jobs)}
	for _, job := range jobs {
		result, err := s.scheduleJobLocked(ctx, job.ID, nil)
		if err != nil {
			if ctx.Err() != nil {
				return batch, ctx.Err()
			}
			return batch, err
		}
		batch.PerJob = append(batch.PerJob, result)
		if result.Success {
			batch.Scheduled++
		} else {
			batch.Failed++
		}
	}
	return batch, nil
}

// UnscheduleJob deletes the job's entries and reverts it to unscheduled in
// one atomic step.
func (s *Service) UnscheduleJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.state.EntriesForJob(jobID)
	if err != nil {
		return err
	}
	if err := s.planner.UnscheduleJob(jobID); err != nil {
		return err
	}
	s.emit(&structs.Event{
		Type:      structs.EventTypeJobUnscheduled,
		JobID:     jobID,
		EntryIDs:  entryIDs(entries),
		Timestamp: s.clock(),
	})
	return nil
}

// MarkUnavailable records an unavailability period and invalidates every
// schedule entry it overlaps: affected jobs revert to unscheduled with their
// entries deleted, queued for the next pass. The result enumerates them.
func (s *Service) MarkUnavailable(u *structs.ResourceUnavailability) (*UnavailabilityResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.Generate()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.clock()
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}

	affected, entryIDs, err := s.overlappingJobs(u)
	if err != nil {
		return nil, err
	}

	if err := s.planner.UpsertUnavailability(u); err != nil {
		return nil, err
	}
	if len(affected) > 0 {
		if err := s.planner.InvalidateJobs(affected); err != nil {
			return nil, err
		}
		s.emit(&structs.Event{
			Type:      structs.EventTypeEntriesInvalidated,
			JobIDs:    affected,
			EntryIDs:  entryIDs,
			Timestamp: s.clock(),
		})
		s.logger.Info("unavailability invalidated jobs",
			"unavailability_id", u.ID, "jobs", affected)
	}
	return &UnavailabilityResult{Inserted: u, InvalidatedJobIDs: affected}, nil
}

// overlappingJobs finds the jobs whose committed entries fall inside the
// record's effective blocked windows, per operator and shift.
func (s *Service) overlappingJobs(u *structs.ResourceUnavailability) ([]string, []string, error) {
	avail := NewAvailabilityManager(s.state, s.cal, s.logger)
	jobSet := make(map[string]struct{})
	var jobIDs, ids []string

	for _, resourceID := range u.ResourceIDs {
		entries, err := s.state.EntriesForResource(resourceID)
		if err != nil {
			return nil, nil, err
		}
		for _, e := range entries {
			_, date := s.cal.ShiftAt(e.StartTime)
			if !u.Covers(resourceID, date, e.Shift) {
				continue
			}
			if u.Partial {
				bs, be, ok := avail.partialWindow(u, date, e.Shift)
				if !ok || !bs.Before(e.EndTime) || !e.StartTime.Before(be) {
					continue
				}
			}
			ids = append(ids, e.ID)
			if _, ok := jobSet[e.JobID]; !ok {
				jobSet[e.JobID] = struct{}{}
				jobIDs = append(jobIDs, e.JobID)
			}
		}
	}
	sort.Strings(jobIDs)
	return jobIDs, ids, nil
}

// InspectionQueue returns the jobs whose next unplaced operation is an
// inspection and whose preceding operation has fully completed, in job
// number order. Jobs whose routing opens with an inspection qualify
// immediately.
func (s *Service) InspectionQueue() ([]*structs.Job, error) {
	jobs, err := s.state.Jobs()
	if err != nil {
		return nil, err
	}

	var out []*structs.Job
	for _, job := range jobs {
		if job.Status == structs.JobStatusComplete {
			continue
		}
		ops, err := s.state.RoutingByJob(job.ID)
		if err != nil {
			return nil, err
		}
		entries, err := s.state.EntriesForJob(job.ID)
		if err != nil {
			return nil, err
		}

		bySeq := make(map[int][]*structs.ScheduleEntry)
		for _, e := range entries {
			bySeq[e.Sequence] = append(bySeq[e.Sequence], e)
		}

		var next *structs.RoutingOperation
		for _, op := range ops {
			if len(bySeq[op.Sequence]) == 0 {
				next = op
				break
			}
		}
		if next == nil || !next.IsInspection() {
			continue
		}
		if next.Sequence > 1 && !allComplete(bySeq[next.Sequence-1]) {
			continue
		}
		out = append(out, job)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].JobNumber < out[j].JobNumber })
	return out, nil
}

// WeekMetrics returns both shifts' load/capacity picture for the week
// containing now.
func (s *Service) WeekMetrics() ([]ShiftMetrics, error) {
	capacity, err := NewCapacityTracker(s.state, s.cal, s.clock())
	if err != nil {
		return nil, err
	}
	out := make([]ShiftMetrics, 0, 2)
	for _, shift := range structs.Shifts() {
		out = append(out, capacity.Metrics(shift))
	}
	return out, nil
}

// Availability returns an availability manager over the live state for the
// dashboard read surface.
func (s *Service) Availability() *AvailabilityManager {
	return NewAvailabilityManager(s.state, s.cal, s.logger)
}

// Calendar returns the service's business calendar.
func (s *Service) Calendar() *calendar.BusinessCalendar {
	return s.cal
}

func (s *Service) failureResult(jobID string, cause error) *ScheduleResult {
	return &ScheduleResult{
		JobID:          jobID,
		FailureReason:  structs.FailureReason(cause),
		FailureDetails: cause.Error(),
	}
}

func allComplete(entries []*structs.ScheduleEntry) bool {
	if len(entries) == 0 {
		return false
	}
	for _, e := range entries {
		if e.Status != structs.ScheduleEntryStatusComplete {
			return false
		}
	}
	return true
}

func entryIDs(entries []*structs.ScheduleEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}
