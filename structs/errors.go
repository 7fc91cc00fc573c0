// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"errors"
	"fmt"
)

// Failure reasons surfaced by the scheduling engine. These are tagged
// outcomes, never panics across the boundary.
const (
	FailureNoCandidateMachine  = "no-candidate-machine"
	FailureNoQualifiedOperator = "no-qualified-operator"
	FailureCapacityExhausted   = "capacity-exhausted"
	FailureTimeoutExceeded     = "timeout-exceeded"
	FailureStaleSnapshot       = "stale-snapshot"
	FailureRoutingInvalid      = "routing-invalid"
)

var (
	// ErrNoCandidateMachine means the substitution resolver yielded no
	// schedulable machine for an operation.
	ErrNoCandidateMachine = errors.New("no candidate machine for operation")

	// ErrNoQualifiedOperator means candidate machines exist but no
	// operator passed the compatibility filter within the search horizon.
	ErrNoQualifiedOperator = errors.New("no qualified operator for operation")

	// ErrCapacityExhausted means machines and operators exist but no gap
	// of at least one minute was found within the search horizon.
	ErrCapacityExhausted = errors.New("no capacity within search horizon")

	// ErrTimeoutExceeded means the per-job wall clock budget was spent.
	ErrTimeoutExceeded = errors.New("placement wall clock budget exceeded")

	// ErrStaleSnapshot means three consecutive passes lost to concurrent
	// resource or unavailability mutation.
	ErrStaleSnapshot = errors.New("placement snapshot stale after retries")
)

// RoutingInvalidError wraps routing validation failures.
type RoutingInvalidError struct {
	JobID string
	Err   error
}

func (e *RoutingInvalidError) Error() string {
	return fmt.Sprintf("routing for job %s invalid: %v", e.JobID, e.Err)
}

func (e *RoutingInvalidError) Unwrap() error { return e.Err }

// UnplaceableError attaches operation context to a placement failure.
type UnplaceableError struct {
	JobID      string
	OpSequence int
	OpName     string
	Cause      error
}

func (e *UnplaceableError) Error() string {
	return fmt.Sprintf("operation %d (%s) of job %s unplaceable: %v",
		e.OpSequence, e.OpName, e.JobID, e.Cause)
}

func (e *UnplaceableError) Unwrap() error { return e.Cause }

// FailureReason maps an engine error to its stable reason tag for callers
// that key dashboards and messages off the taxonomy.
func FailureReason(err error) string {
	var routing *RoutingInvalidError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCandidateMachine):
		return FailureNoCandidateMachine
	case errors.Is(err, ErrNoQualifiedOperator):
		return FailureNoQualifiedOperator
	case errors.Is(err, ErrCapacityExhausted):
		return FailureCapacityExhausted
	case errors.Is(err, ErrTimeoutExceeded):
		return FailureTimeoutExceeded
	case errors.Is(err, ErrStaleSnapshot):
		return FailureStaleSnapshot
	case errors.As(err, &routing):
		return FailureRoutingInvalid
	default:
		return "internal"
	}
}
