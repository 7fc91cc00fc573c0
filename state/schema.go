// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	memdb "github.com/hashicorp/go-memdb"
)

const (
	TableJobs            = "jobs"
	TableRoutingOps      = "routing_operations"
	TableMachines        = "machines"
	TableResources       = "resources"
	TableUnavailability  = "resource_unavailability"
	TableScheduleEntries = "schedule_entries"
)

// stateStoreSchema returns the MemDB schema backing the storage contract.
func stateStoreSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			TableJobs:            jobTableSchema(),
			TableRoutingOps:      routingOpTableSchema(),
			TableMachines:        machineTableSchema(),
			TableResources:       resourceTableSchema(),
			TableUnavailability:  unavailabilityTableSchema(),
			TableScheduleEntries: scheduleEntryTableSchema(),
		},
	}
}

// jobTableSchema returns the MemDB schema for the jobs table. Jobs are
// indexed by ID, by human job number and by status.
func jobTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableJobs,
		Indexes: map[string]*memdb.IndexSchema{
			"id": {
				Name:         "id",
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.StringFieldIndex{
					Field: "ID",
				},
			},
			"job_number": {
				Name:         "job_number",
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.StringFieldIndex{
					Field: "JobNumber",
				},
			},
			"status": {
				Name:         "status",
				AllowMissing: false,
				Unique:       false,
				Indexer: &memdb.StringFieldIndex{
					Field: "Status",
				},
			},
		},
	}
}

// routingOpTableSchema returns the MemDB schema for routing operations,
// indexed by ID and by owning job.
func routingOpTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableRoutingOps,
		Indexes: map[string]*memdb.IndexSchema{
			"id": {
				Name:         "id",
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.StringFieldIndex{
					Field: "ID",
				},
			},
			"job": {
				Name:         "job",
				AllowMissing: false,
				Unique:       false,
				Indexer: &memdb.StringFieldIndex{
					Field: "JobID",
				},
			},
		},
	}
}

// machineTableSchema returns the MemDB schema for machines. The stable
// machine identifier gets its own unique index since routings, work centers
// and schedule entries reference machines by it.
func machineTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableMachines,
		Indexes: map[string]*memdb.IndexSchema{
			"id": {
				Name:         "id",
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.StringFieldIndex{
					Field: "ID",
				},
			},
			"machine_id": {
				Name:         "machine_id",
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.StringFieldIndex{
					Field: "MachineID",
				},
			},
			"type": {
				Name:         "type",
				AllowMissing: false,
				Unique:       false,
				Indexer: &memdb.StringFieldIndex{
					Field: "Type",
				},
			},
			"substitution_group": {
				Name:         "substitution_group",
				AllowMissing: true,
				Unique:       false,
				Indexer: &memdb.StringSliceFieldIndex{
					Field: "SubstitutionGroups",
				},
			},
		},
	}
}

// resourceTableSchema returns the MemDB schema for operators.
func resourceTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableResources,
		Indexes: map[string]*memdb.IndexSchema{
			"id": {
				Name:         "id",
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.StringFieldIndex{
					Field: "ID",
				},
			},
		},
	}
}

// unavailabilityTableSchema returns the MemDB schema for unavailability
// records. Range overlap queries scan the table; it stays small enough that
// a date index buys nothing.
func unavailabilityTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableUnavailability,
		Indexes: map[string]*memdb.IndexSchema{
			"id": {
				Name:         "id",
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.StringFieldIndex{
					Field: "ID",
				},
			},
		},
	}
}

// scheduleEntryTableSchema returns the MemDB schema for schedule entries,
// indexed by job, machine and operator for the dashboard read surface.
func scheduleEntryTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableScheduleEntries,
		Indexes: map[string]*memdb.IndexSchema{
			"id": {
				Name:         "id",
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.StringFieldIndex{
					Field: "ID",
				},
			},
			"job": {
				Name:         "job",
				AllowMissing: false,
				Unique:       false,
				Indexer: &memdb.StringFieldIndex{
					Field: "JobID",
				},
			},
			"machine": {
				Name:         "machine",
				AllowMissing: false,
				Unique:       false,
				Indexer: &memdb.StringFieldIndex{
					Field: "MachineID",
				},
			},
			"resource": {
				Name:         "resource",
				AllowMissing: true,
				Unique:       false,
				Indexer: &memdb.StringFieldIndex{
					Field: "ResourceID",
				},
			},
		},
	}
}
