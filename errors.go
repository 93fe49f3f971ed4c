// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrNilConsumer is returned when an operation is given a nil consumer.
	ErrNilConsumer = errors.New("evm: nil consumer")

	// ErrNilMessage is returned when an operation is given a nil message.
	ErrNilMessage = errors.New("evm: nil message")

	// ErrNilTimer is returned when an operation is given a nil timer.
	ErrNilTimer = errors.New("evm: nil timer")

	// ErrUnknownEvent is returned (or logged, during dispatch) for a (type, id)
	// pair that has no registered descriptor.
	ErrUnknownEvent = errors.New("evm: unknown event")

	// ErrNegativeDelay is returned by timer starts with a negative delay.
	ErrNegativeDelay = errors.New("evm: negative timer delay")

	// ErrMessageQueued is returned when a message that is already held by a
	// queue is enqueued again.
	ErrMessageQueued = errors.New("evm: message is already queued")

	// ErrConsumerRunning is returned when Run is called on a consumer that is
	// already running.
	ErrConsumerRunning = errors.New("evm: consumer is already running")

	// ErrConsumerTerminated is returned when operations are attempted on a
	// terminated consumer.
	ErrConsumerTerminated = errors.New("evm: consumer has been terminated")

	// ErrReentrantRun is returned when Run is called from within the loop.
	ErrReentrantRun = errors.New("evm: cannot call Run from within the loop")

	// ErrNoMessage may be returned by a ReceiveFunc or ParseFunc to indicate
	// that the readiness event produced nothing to dispatch. It is not logged.
	ErrNoMessage = errors.New("evm: no message")

	// ErrTimerServiceClosed is returned by timer starts on a closed service.
	ErrTimerServiceClosed = errors.New("evm: timer service closed")

	// ErrNilReceiver is returned when a descriptor is registered without a
	// receive function.
	ErrNilReceiver = errors.New("evm: nil receive function")

	// ErrMessageReleased is returned when a released message is enqueued.
	ErrMessageReleased = errors.New("evm: message has been released")

	// ErrUnsupportedPlatform is returned on platforms without epoll, eventfd
	// and timerfd.
	ErrUnsupportedPlatform = errors.New("evm: unsupported platform")
)

// IsLogicError reports whether err is caused by a nil consumer, message or
// timer being passed to an operation.
func IsLogicError(err error) bool {
	return errors.Is(err, ErrNilConsumer) ||
		errors.Is(err, ErrNilMessage) ||
		errors.Is(err, ErrNilTimer)
}

// ConfigError indicates missing or invalid linkage or event tables.
// A consumer that failed with a ConfigError must not be run.
type ConfigError struct {
	Cause   error
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "invalid configuration"
	}
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Cause != nil {
		return "evm: config: " + msg + ": " + e.Cause.Error()
	}
	return "evm: config: " + msg
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

func configErrorf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// SystemError wraps a failed OS-level operation, e.g. creating the timerfd,
// registering a descriptor with epoll, reading the monotonic clock, or
// writing a notifier.
type SystemError struct {
	Err error
	Op  string
}

// Error implements the error interface.
func (e *SystemError) Error() string {
	if e.Err == nil {
		return "evm: " + e.Op + " failed"
	}
	return "evm: " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying OS error.
func (e *SystemError) Unwrap() error {
	return e.Err
}

func systemError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &SystemError{Op: op, Err: err}
}

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("evm: callback panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error, otherwise nil.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
