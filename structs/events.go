// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import "time"

const (
	EventTypeJobScheduled       = "job_scheduled"
	EventTypeJobUnscheduled     = "job_unscheduled"
	EventTypeJobDisplaced       = "job_displaced"
	EventTypeEntriesInvalidated = "entries_invalidated"
)

// Event is the post-commit notification handed to the surrounding
// application's fan-out layer. The engine never consumes its own events.
type Event struct {
	Type      string
	JobID     string
	JobIDs    []string
	EntryIDs  []string
	Timestamp time.Time
}
