// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package state implements the storage contract on an in-memory MemDB. Any
// backing store that upholds the same read/write surface and write-time
// invariants is acceptable; this one doubles as the test harness store.
package state

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	log "github.com/hashicorp/go-hclog"
	memdb "github.com/hashicorp/go-memdb"

	"github.com/shopsched/shopsched/structs"
)

// StateStore provides the read and write surface for jobs, routings,
// machines, resources, unavailability and schedule entries. Reads open
// point-in-time MemDB transactions; the scheduling service serializes
// writers.
type StateStore struct {
	logger log.Logger
	db     *memdb.MemDB

	// resourceVersion increments on every resource or unavailability
	// write. The scheduling service compares it across a placement pass
	// to detect stale snapshots.
	resourceVersion uint64
}

// NewStateStore constructs an empty state store.
func NewStateStore(logger log.Logger) (*StateStore, error) {
	db, err := memdb.NewMemDB(stateStoreSchema())
	if err != nil {
		return nil, fmt.Errorf("state store setup failed: %v", err)
	}
	return &StateStore{
		logger: logger.Named("state_store"),
		db:     db,
	}, nil
}

// ResourceVersion returns the monotonic counter covering operator and
// unavailability mutations.
func (s *StateStore) ResourceVersion() uint64 {
	return atomic.LoadUint64(&s.resourceVersion)
}

func (s *StateStore) bumpResourceVersion() {
	atomic.AddUint64(&s.resourceVersion, 1)
}

// UpsertJob inserts or replaces a job.
func (s *StateStore) UpsertJob(job *structs.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(TableJobs, job.Copy()); err != nil {
		return fmt.Errorf("job insert failed: %v", err)
	}
	txn.Commit()
	return nil
}

// JobByID returns the job with the given ID or nil.
func (s *StateStore) JobByID(id string) (*structs.Job, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(TableJobs, "id", id)
	if err != nil {
		return nil, fmt.Errorf("job lookup failed: %v", err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.Job).Copy(), nil
}

// Jobs returns every job.
func (s *StateStore) Jobs() ([]*structs.Job, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(TableJobs, "id")
	if err != nil {
		return nil, fmt.Errorf("job scan failed: %v", err)
	}
	var out []*structs.Job
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.Job).Copy())
	}
	return out, nil
}

// JobsByStatus returns jobs with the given status.
func (s *StateStore) JobsByStatus(status string) ([]*structs.Job, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(TableJobs, "status", status)
	if err != nil {
		return nil, fmt.Errorf("job status scan failed: %v", err)
	}
	var out []*structs.Job
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.Job).Copy())
	}
	return out, nil
}

// UpdateJobStatus transitions a job's status.
func (s *StateStore) UpdateJobStatus(jobID, status string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := s.updateJobStatusTxn(txn, jobID, status); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *StateStore) updateJobStatusTxn(txn *memdb.Txn, jobID, status string) error {
	raw, err := txn.First(TableJobs, "id", jobID)
	if err != nil {
		return fmt.Errorf("job lookup failed: %v", err)
	}
	if raw == nil {
		return fmt.Errorf("job %s does not exist", jobID)
	}
	job := raw.(*structs.Job).Copy()
	job.Status = status
	if err := txn.Insert(TableJobs, job); err != nil {
		return fmt.Errorf("job update failed: %v", err)
	}
	return nil
}

// UpsertRouting inserts or replaces routing operations.
func (s *StateStore) UpsertRouting(ops []*structs.RoutingOperation) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return err
		}
		if err := txn.Insert(TableRoutingOps, op.Copy()); err != nil {
			return fmt.Errorf("routing insert failed: %v", err)
		}
	}
	txn.Commit()
	return nil
}

// RoutingByJob returns a job's routing operations sorted by sequence.
func (s *StateStore) RoutingByJob(jobID string) ([]*structs.RoutingOperation, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(TableRoutingOps, "job", jobID)
	if err != nil {
		return nil, fmt.Errorf("routing scan failed: %v", err)
	}
	var out []*structs.RoutingOperation
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.RoutingOperation).Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// UpsertMachine inserts or replaces a machine.
func (s *StateStore) UpsertMachine(m *structs.Machine) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(TableMachines, m.Copy()); err != nil {
		return fmt.Errorf("machine insert failed: %v", err)
	}
	txn.Commit()
	return nil
}

// Machines returns every machine ordered by stable machine ID so candidate
// fallback scans are deterministic.
func (s *StateStore) Machines() ([]*structs.Machine, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(TableMachines, "machine_id")
	if err != nil {
		return nil, fmt.Errorf("machine scan failed: %v", err)
	}
	var out []*structs.Machine
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.Machine).Copy())
	}
	return out, nil
}

// MachineByMachineID resolves a machine by its stable identifier.
func (s *StateStore) MachineByMachineID(machineID string) (*structs.Machine, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(TableMachines, "machine_id", machineID)
	if err != nil {
		return nil, fmt.Errorf("machine lookup failed: %v", err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.Machine).Copy(), nil
}

// MachinesBySubstitutionGroup returns machines belonging to the named group,
// ordered by stable machine ID.
func (s *StateStore) MachinesBySubstitutionGroup(group string) ([]*structs.Machine, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(TableMachines, "substitution_group", group)
	if err != nil {
		return nil, fmt.Errorf("substitution group scan failed: %v", err)
	}
	var out []*structs.Machine
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.Machine).Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MachineID < out[j].MachineID })
	return out, nil
}

// UpsertResource inserts or replaces an operator and bumps the resource
// version.
func (s *StateStore) UpsertResource(r *structs.Resource) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(TableResources, r.Copy()); err != nil {
		return fmt.Errorf("resource insert failed: %v", err)
	}
	txn.Commit()
	s.bumpResourceVersion()
	return nil
}

// ResourceByID returns the operator with the given ID or nil.
func (s *StateStore) ResourceByID(id string) (*structs.Resource, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(TableResources, "id", id)
	if err != nil {
		return nil, fmt.Errorf("resource lookup failed: %v", err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.Resource).Copy(), nil
}

// ActiveResources returns the active roster in ID order. The placement
// algorithm depends on this order being stable across reads.
func (s *StateStore) ActiveResources() ([]*structs.Resource, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(TableResources, "id")
	if err != nil {
		return nil, fmt.Errorf("resource scan failed: %v", err)
	}
	var out []*structs.Resource
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		r := raw.(*structs.Resource)
		if !r.Active {
			continue
		}
		out = append(out, r.Copy())
	}
	return out, nil
}

// UpsertUnavailability inserts an unavailability record and bumps the
// resource version.
func (s *StateStore) UpsertUnavailability(u *structs.ResourceUnavailability) error {
	if err := u.Validate(); err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(TableUnavailability, u.Copy()); err != nil {
		return fmt.Errorf("unavailability insert failed: %v", err)
	}
	txn.Commit()
	s.bumpResourceVersion()
	return nil
}

// DeleteUnavailability removes an unavailability record and bumps the
// resource version.
func (s *StateStore) DeleteUnavailability(id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(TableUnavailability, "id", id)
	if err != nil {
		return fmt.Errorf("unavailability lookup failed: %v", err)
	}
	if raw == nil {
		return fmt.Errorf("unavailability %s does not exist", id)
	}
	if err := txn.Delete(TableUnavailability, raw); err != nil {
		return fmt.Errorf("unavailability delete failed: %v", err)
	}
	txn.Commit()
	s.bumpResourceVersion()
	return nil
}

// UnavailabilityInRange returns records whose inclusive date range overlaps
// [from, to].
func (s *StateStore) UnavailabilityInRange(from, to time.Time) ([]*structs.ResourceUnavailability, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(TableUnavailability, "id")
	if err != nil {
		return nil, fmt.Errorf("unavailability scan failed: %v", err)
	}
	var out []*structs.ResourceUnavailability
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		u := raw.(*structs.ResourceUnavailability)
		if u.StartDate.After(to) || u.EndDate.Before(from) {
			continue
		}
		out = append(out, u.Copy())
	}
	return out, nil
}

// EntriesForMachine returns a machine's schedule entries sorted by start.
func (s *StateStore) EntriesForMachine(machineID string) ([]*structs.ScheduleEntry, error) {
	return s.entriesByIndex("machine", machineID)
}

// EntriesForResource returns an operator's schedule entries sorted by start.
func (s *StateStore) EntriesForResource(resourceID string) ([]*structs.ScheduleEntry, error) {
	return s.entriesByIndex("resource", resourceID)
}

// EntriesForJob returns a job's schedule entries sorted by start.
func (s *StateStore) EntriesForJob(jobID string) ([]*structs.ScheduleEntry, error) {
	return s.entriesByIndex("job", jobID)
}

func (s *StateStore) entriesByIndex(index, value string) ([]*structs.ScheduleEntry, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(TableScheduleEntries, index, value)
	if err != nil {
		return nil, fmt.Errorf("schedule entry scan failed: %v", err)
	}
	var out []*structs.ScheduleEntry
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.ScheduleEntry).Copy())
	}
	structs.SortEntries(out)
	return out, nil
}

// EntriesOverlapping returns entries intersecting the half-open [from, to)
// window, sorted by start.
func (s *StateStore) EntriesOverlapping(from, to time.Time) ([]*structs.ScheduleEntry, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(TableScheduleEntries, "id")
	if err != nil {
		return nil, fmt.Errorf("schedule entry scan failed: %v", err)
	}
	var out []*structs.ScheduleEntry
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		e := raw.(*structs.ScheduleEntry)
		if !e.Overlaps(from, to) {
			continue
		}
		out = append(out, e.Copy())
	}
	structs.SortEntries(out)
	return out, nil
}

// CommitPlacement atomically appends a job's schedule entries, flips the job
// to scheduled, and reverts any displaced jobs (deleting their entries) in
// the same transaction. Write-time invariants are enforced here: no entry may
// overlap an existing entry on its machine or operator.
func (s *StateStore) CommitPlacement(jobID string, entries []*structs.ScheduleEntry, displacedJobIDs []string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	// Displaced jobs release their windows before conflict checks so the
	// incoming entries can take them over.
	for _, displaced := range displacedJobIDs {
		if err := s.deleteEntriesForJobTxn(txn, displaced); err != nil {
			return err
		}
		if err := s.updateJobStatusTxn(txn, displaced, structs.JobStatusUnscheduled); err != nil {
			return err
		}
	}

	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return err
		}
		if err := s.checkEntryConflictsTxn(txn, entry); err != nil {
			return err
		}
		if err := txn.Insert(TableScheduleEntries, entry.Copy()); err != nil {
			return fmt.Errorf("schedule entry insert failed: %v", err)
		}
	}

	if err := s.updateJobStatusTxn(txn, jobID, structs.JobStatusScheduled); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// checkEntryConflictsTxn rejects entries overlapping committed work on the
// same machine or operator. Outsource machines carry no capacity ceiling and
// are exempt from the machine overlap check.
func (s *StateStore) checkEntryConflictsTxn(txn *memdb.Txn, entry *structs.ScheduleEntry) error {
	outsource := false
	if raw, err := txn.First(TableMachines, "machine_id", entry.MachineID); err != nil {
		return fmt.Errorf("machine lookup failed: %v", err)
	} else if m, ok := raw.(*structs.Machine); ok {
		outsource = m.Type == structs.MachineTypeOutsource
	}

	if !outsource {
		iter, err := txn.Get(TableScheduleEntries, "machine", entry.MachineID)
		if err != nil {
			return fmt.Errorf("conflict scan failed: %v", err)
		}
		for raw := iter.Next(); raw != nil; raw = iter.Next() {
			existing := raw.(*structs.ScheduleEntry)
			if existing.ID != entry.ID && existing.Overlaps(entry.StartTime, entry.EndTime) {
				return fmt.Errorf("entry overlaps machine %s window [%v, %v)",
					entry.MachineID, existing.StartTime, existing.EndTime)
			}
		}
	}
	if entry.ResourceID == "" {
		return nil
	}
	iter, err := txn.Get(TableScheduleEntries, "resource", entry.ResourceID)
	if err != nil {
		return fmt.Errorf("conflict scan failed: %v", err)
	}
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		existing := raw.(*structs.ScheduleEntry)
		if existing.ID != entry.ID && existing.Overlaps(entry.StartTime, entry.EndTime) {
			return fmt.Errorf("entry overlaps operator %s window [%v, %v)",
				entry.ResourceID, existing.StartTime, existing.EndTime)
		}
	}
	return nil
}

// UnscheduleJob deletes all of a job's entries and reverts it to unscheduled
// in one transaction.
func (s *StateStore) UnscheduleJob(jobID string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := s.deleteEntriesForJobTxn(txn, jobID); err != nil {
		return err
	}
	if err := s.updateJobStatusTxn(txn, jobID, structs.JobStatusUnscheduled); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// InvalidateJobs deletes the entries of every listed job and reverts the
// jobs to unscheduled, atomically. Used when an unavailability insert voids
// committed work.
func (s *StateStore) InvalidateJobs(jobIDs []string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	for _, jobID := range jobIDs {
		if err := s.deleteEntriesForJobTxn(txn, jobID); err != nil {
			return err
		}
		if err := s.updateJobStatusTxn(txn, jobID, structs.JobStatusUnscheduled); err != nil {
			return err
		}
	}
	txn.Commit()
	return nil
}

func (s *StateStore) deleteEntriesForJobTxn(txn *memdb.Txn, jobID string) error {
	iter, err := txn.Get(TableScheduleEntries, "job", jobID)
	if err != nil {
		return fmt.Errorf("schedule entry scan failed: %v", err)
	}
	var doomed []interface{}
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		doomed = append(doomed, raw)
	}
	for _, raw := range doomed {
		if err := txn.Delete(TableScheduleEntries, raw); err != nil {
			return fmt.Errorf("schedule entry delete failed: %v", err)
		}
	}
	return nil
}
