// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"sort"

	"github.com/shopsched/shopsched/structs"
)

// SortJobsForBatch orders jobs for a batch pass: priority first, then due
// date ascending with undated jobs last, then job number for a stable total
// order.
func SortJobsForBatch(jobs []*structs.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		a, b := jobs[i], jobs[j]
		if ra, rb := structs.JobPriorityRank(a.Priority), structs.JobPriorityRank(b.Priority); ra != rb {
			return ra < rb
		}
		switch {
		case a.DueDate.IsZero() && !b.DueDate.IsZero():
			return false
		case !a.DueDate.IsZero() && b.DueDate.IsZero():
			return true
		case !a.DueDate.Equal(b.DueDate):
			return a.DueDate.Before(b.DueDate)
		}
		return a.JobNumber < b.JobNumber
	})
}
