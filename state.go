// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"sync/atomic"
)

// State represents the lifecycle state of a [Consumer].
//
//	StateAwake → StateRunning                [Run]
//	StateRunning → StateSleeping             [wait, before epoll_wait]
//	StateSleeping → StateRunning             [wait, after epoll_wait]
//	StateRunning|StateSleeping → StateTerminating [Shutdown, Close, ctx]
//	StateAwake → StateTerminated             [Close before Run]
//	StateTerminating → StateTerminated       [loop exit]
//
// Running and Sleeping must only be entered via CAS.
type State uint64

const (
	// StateAwake indicates the consumer has been created but not started.
	StateAwake State = iota
	// StateRunning indicates the loop is dispatching events.
	StateRunning
	// StateSleeping indicates the loop is blocked in the readiness wait.
	StateSleeping
	// StateTerminating indicates termination was requested.
	StateTerminating
	// StateTerminated indicates the consumer released its resources.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is a CAS state machine, padded to avoid false sharing with the
// consumer's other hot fields.
type fastState struct { // betteralign:ignore
	_ [64]byte //nolint:unused
	v atomic.Uint64
	_ [56]byte //nolint:unused
}

func (s *fastState) Load() State {
	return State(s.v.Load())
}

// Store is only valid for irreversible states (StateTerminated).
func (s *fastState) Store(state State) {
	s.v.Store(uint64(state))
}

func (s *fastState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

