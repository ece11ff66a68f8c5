// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
)

// repairIdle is the repair state of a run that has not generated a query.
const repairIdle datatypes.RepairState = ""

// RepairMachine holds the valid transitions of the query repair loop.
//
// The machine enforces the following transition graph:
//
//	(idle)     → GENERATING : First query requested
//	GENERATING → EXECUTING  : Query produced
//	EXECUTING  → SUCCEEDED  : Query ran, rows (possibly none) returned
//	EXECUTING  → RETRYING   : Query failed, attempts remain
//	EXECUTING  → EXHAUSTED  : Query failed, no attempts remain
//	RETRYING   → GENERATING : Regenerate with the error fed back
//
// SUCCEEDED and EXHAUSTED are terminal.
//
// Thread Safety: Immutable after construction, safe for concurrent use.
type RepairMachine struct {
	transitions map[datatypes.RepairState]map[datatypes.RepairState]bool
}

// NewRepairMachine builds the machine with every valid transition.
func NewRepairMachine() *RepairMachine {
	m := &RepairMachine{transitions: make(map[datatypes.RepairState]map[datatypes.RepairState]bool)}
	m.add(repairIdle, datatypes.RepairGenerating)
	m.add(datatypes.RepairGenerating, datatypes.RepairExecuting)
	m.add(datatypes.RepairExecuting, datatypes.RepairSucceeded)
	m.add(datatypes.RepairExecuting, datatypes.RepairRetrying)
	m.add(datatypes.RepairExecuting, datatypes.RepairExhausted)
	m.add(datatypes.RepairRetrying, datatypes.RepairGenerating)
	return m
}

func (m *RepairMachine) add(from, to datatypes.RepairState) {
	if m.transitions[from] == nil {
		m.transitions[from] = make(map[datatypes.RepairState]bool)
	}
	m.transitions[from][to] = true
}

// CanTransition reports whether from → to is allowed.
func (m *RepairMachine) CanTransition(from, to datatypes.RepairState) bool {
	return m.transitions[from][to]
}

// Transition moves state to the target repair state.
//
// Outputs:
//
//	error - ErrInvalidTransition if the move is not allowed; state is left
//	        unchanged in that case
func (m *RepairMachine) Transition(state *datatypes.RunState, to datatypes.RepairState) error {
	if !m.CanTransition(state.RepairState, to) {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, state.RepairState, to)
	}
	state.RepairState = to
	return nil
}

// NextRepairState decides where the loop goes after an execution.
//
// A success is SUCCEEDED. A failure with attemptCount below
// datatypes.MaxRepairAttempts is RETRYING and the returned count is one
// higher; otherwise it is EXHAUSTED with the count unchanged.
func NextRepairState(executionFailed bool, attemptCount int) (datatypes.RepairState, int) {
	switch {
	case !executionFailed:
		return datatypes.RepairSucceeded, attemptCount
	case attemptCount < datatypes.MaxRepairAttempts:
		return datatypes.RepairRetrying, attemptCount + 1
	default:
		return datatypes.RepairExhausted, attemptCount
	}
}
