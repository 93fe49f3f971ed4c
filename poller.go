// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"errors"
)

// MaxFDLimit is the maximum descriptor value that may be registered.
const MaxFDLimit = 100000000

// IOEvents represents the readiness events to monitor, or that occurred.
type IOEvents uint32

const (
	// EventRead indicates the descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// Poller errors.
var (
	ErrFDOutOfRange        = errors.New("evm: fd out of range (max 100000000)")
	ErrFDAlreadyRegistered = errors.New("evm: fd already registered")
	ErrFDNotRegistered     = errors.New("evm: fd not registered")
	ErrPollerClosed        = errors.New("evm: poller closed")
)

// IOCallback is invoked on the loop goroutine, for each ready descriptor.
type IOCallback func(IOEvents)

// fdInfo stores per-FD callback information.
type fdInfo struct {
	callback IOCallback
	events   IOEvents
	active   bool
}

// notifier wakes a consumer blocked in its readiness wait.
type notifier interface {
	Fd() int
	Notify() error
	Drain()
	Close() error
}
