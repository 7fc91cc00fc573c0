// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"github.com/shopsched/shopsched/structs"
)

// FeasibleIterator is used to iteratively yield candidate machines for an
// operation. Order is significant: earlier machines are preferred.
type FeasibleIterator interface {
	// Next yields the next candidate or nil when exhausted.
	Next() *structs.Machine

	// Reset rewinds the iterator for another selection round.
	Reset()
}

// StaticIterator is a FeasibleIterator over a fixed ordered set of machines.
type StaticIterator struct {
	ctx      Context
	machines []*structs.Machine
	offset   int
}

// NewStaticIterator returns an iterator over the machines in the given order.
func NewStaticIterator(ctx Context, machines []*structs.Machine) *StaticIterator {
	return &StaticIterator{
		ctx:      ctx,
		machines: machines,
	}
}

func (iter *StaticIterator) Next() *structs.Machine {
	if iter.offset == len(iter.machines) {
		return nil
	}
	offset := iter.offset
	iter.offset++
	return iter.machines[offset]
}

func (iter *StaticIterator) Reset() {
	iter.offset = 0
}

// SetMachines replaces the source set and rewinds.
func (iter *StaticIterator) SetMachines(machines []*structs.Machine) {
	iter.machines = machines
	iter.offset = 0
}

// StatusIterator filters out machines that are not schedulable (busy, in
// maintenance or offline).
type StatusIterator struct {
	ctx    Context
	source FeasibleIterator
}

// NewStatusIterator returns a StatusIterator over the source.
func NewStatusIterator(ctx Context, source FeasibleIterator) *StatusIterator {
	return &StatusIterator{
		ctx:    ctx,
		source: source,
	}
}

func (iter *StatusIterator) Next() *structs.Machine {
	for {
		option := iter.source.Next()
		if option == nil {
			return nil
		}
		if !option.Schedulable() {
			iter.ctx.Logger().Trace("machine filtered by status",
				"machine_id", option.MachineID, "status", option.Status)
			continue
		}
		return option
	}
}

func (iter *StatusIterator) Reset() {
	iter.source.Reset()
}

// ShiftCapableIterator filters out machines that run during neither shift.
// Degenerate, but it keeps a misconfigured machine from absorbing a full
// horizon scan.
type ShiftCapableIterator struct {
	ctx    Context
	source FeasibleIterator
}

func NewShiftCapableIterator(ctx Context, source FeasibleIterator) *ShiftCapableIterator {
	return &ShiftCapableIterator{
		ctx:    ctx,
		source: source,
	}
}

func (iter *ShiftCapableIterator) Next() *structs.Machine {
	for {
		option := iter.source.Next()
		if option == nil {
			return nil
		}
		if !option.RunsShift(structs.ShiftFirst) && !option.RunsShift(structs.ShiftSecond) {
			continue
		}
		return option
	}
}

func (iter *ShiftCapableIterator) Reset() {
	iter.source.Reset()
}

// ResolveCandidateMachines produces the ordered candidate machine set for an
// operation:
//
//  1. The original quoted machine, when it exists and is schedulable.
//  2. Every schedulable machine sharing one of its substitution groups.
//  3. Every schedulable machine on the operation's compatible list.
//  4. If still empty, every schedulable machine matching the operation's
//     machine type.
//
// Insertion order is preserved and duplicates are dropped by identity, so
// the quote is honored first, then mechanically equivalent peers, then the
// explicit allow-list, then the type fallback.
func ResolveCandidateMachines(ctx Context, op *structs.RoutingOperation) ([]*structs.Machine, error) {
	state := ctx.State()

	var ordered []*structs.Machine
	seen := make(map[string]struct{})
	add := func(m *structs.Machine) {
		if m == nil || !m.Schedulable() {
			return
		}
		if _, ok := seen[m.MachineID]; ok {
			return
		}
		seen[m.MachineID] = struct{}{}
		ordered = append(ordered, m)
	}

	var quoted *structs.Machine
	if op.OriginalQuotedMachineID != "" {
		m, err := state.MachineByMachineID(op.OriginalQuotedMachineID)
		if err != nil {
			return nil, err
		}
		if m != nil && m.Schedulable() {
			quoted = m
			add(m)
		}
	}

	if quoted != nil {
		for _, group := range quoted.SubstitutionGroups {
			peers, err := state.MachinesBySubstitutionGroup(group)
			if err != nil {
				return nil, err
			}
			for _, peer := range peers {
				add(peer)
			}
		}
	}

	for _, machineID := range op.CompatibleMachines {
		m, err := state.MachineByMachineID(machineID)
		if err != nil {
			return nil, err
		}
		add(m)
	}

	if len(ordered) == 0 {
		machines, err := state.Machines()
		if err != nil {
			return nil, err
		}
		for _, m := range machines {
			if m.Type == op.MachineType {
				add(m)
			}
		}
	}

	return ordered, nil
}

// MachineStack chains the candidate source through the feasibility filters.
// One stack is built per operation and consumed in order by the placement
// loop.
type MachineStack struct {
	ctx    Context
	source *StaticIterator
	status *StatusIterator
	shift  *ShiftCapableIterator
}

// NewMachineStack builds the feasibility stack for an operation's resolved
// candidates.
func NewMachineStack(ctx Context, candidates []*structs.Machine) *MachineStack {
	stack := &MachineStack{ctx: ctx}
	stack.source = NewStaticIterator(ctx, candidates)
	stack.status = NewStatusIterator(ctx, stack.source)
	stack.shift = NewShiftCapableIterator(ctx, stack.status)
	return stack
}

// Candidates drains the stack into an ordered slice.
func (s *MachineStack) Candidates() []*structs.Machine {
	s.shift.Reset()
	var out []*structs.Machine
	for m := s.shift.Next(); m != nil; m = s.shift.Next() {
		out = append(out, m)
	}
	return out
}
