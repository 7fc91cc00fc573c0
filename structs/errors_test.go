// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/shopsched/shopsched/ci"
)

func TestFailureReason(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNoCandidateMachine, FailureNoCandidateMachine},
		{ErrNoQualifiedOperator, FailureNoQualifiedOperator},
		{ErrCapacityExhausted, FailureCapacityExhausted},
		{ErrTimeoutExceeded, FailureTimeoutExceeded},
		{ErrStaleSnapshot, FailureStaleSnapshot},
		{&RoutingInvalidError{JobID: "j1", Err: errors.New("bad")}, FailureRoutingInvalid},
		{errors.New("disk on fire"), "internal"},
	}
	for _, tc := range cases {
		must.Eq(t, tc.want, FailureReason(tc.err))
	}
}

func TestFailureReason_UnwrapsUnplaceable(t *testing.T) {
	ci.Parallel(t)

	err := &UnplaceableError{
		JobID:      "j1",
		OpSequence: 2,
		OpName:     "Rough Mill",
		Cause:      ErrNoQualifiedOperator,
	}
	must.Eq(t, FailureNoQualifiedOperator, FailureReason(err))
	must.True(t, errors.Is(err, ErrNoQualifiedOperator))
	must.StrContains(t, err.Error(), "Rough Mill")

	wrapped := fmt.Errorf("pass failed: %w", err)
	must.Eq(t, FailureNoQualifiedOperator, FailureReason(wrapped))
}
