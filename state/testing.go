// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"testing"

	"github.com/shopsched/shopsched/helper/testlog"
)

// TestStateStore returns a state store for testing purposes.
func TestStateStore(t testing.TB) *StateStore {
	store, err := NewStateStore(testlog.HCLogger(t))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if store == nil {
		t.Fatalf("missing state store")
	}
	return store
}
