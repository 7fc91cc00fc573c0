// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"github.com/shopsched/shopsched/structs"
)

// EligibleOperators yields the operators allowed to run the operation on the
// machine, in roster order. Outsourced operations take no operator at all.
// Inspection is gated to quality inspectors; production to operators and
// shift leads. Every candidate must be active, qualified on the machine's
// work center, and cover the operation's required skills. A locked operator
// from an earlier chunk of the same operation excludes everyone else.
func EligibleOperators(op *structs.RoutingOperation, machine *structs.Machine, roster []*structs.Resource, locked *structs.Resource) []*structs.Resource {
	if op.IsOutsource() {
		return nil
	}
	if locked != nil {
		if OperatorEligible(op, machine, locked) {
			return []*structs.Resource{locked}
		}
		return nil
	}
	var out []*structs.Resource
	for _, r := range roster {
		if OperatorEligible(op, machine, r) {
			out = append(out, r)
		}
	}
	return out
}

// OperatorEligible applies the role, work-center and skill gates for one
// operator against a machine and operation.
func OperatorEligible(op *structs.RoutingOperation, machine *structs.Machine, r *structs.Resource) bool {
	if r == nil || !r.Active {
		return false
	}
	if op.IsInspection() {
		if !r.CanInspect() {
			return false
		}
	} else if !r.CanRunProduction() {
		return false
	}
	if !r.QualifiedOn(machine.MachineID) {
		return false
	}
	if len(op.RequiredSkills) > 0 && !structs.SkillsCover(op.RequiredSkills, r.Skills) {
		return false
	}
	return true
}
