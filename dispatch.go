// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"errors"
	"time"
)

// dispatchMessage routes msg through its descriptor: prepare, handle, then
// finalize. Every stage runs, even if an earlier one failed, and failures
// are logged, never returned. If the handler enqueued msg again, finalize
// is left to the consumer that dequeues it.
func (c *Consumer) dispatchMessage(msg *Message) {
	var start time.Time
	if c.metrics != nil {
		start = time.Now()
	}

	d, ok := c.table.messages.lookup(msg.Key)
	if !ok {
		c.metrics.incDropped()
		c.logFailure(msg.Key, ErrUnknownEvent, "evm: failed to dispatch message")
		msg.Release()
		return
	}

	sends := msg.sends.Load()

	var errs [3]error
	if d.Prepare != nil {
		errs[0] = runStage(d.Prepare, msg)
	}
	errs[1] = runStage(d.Handle, msg)
	switch {
	case msg.sends.Load() != sends:
		// passed on, msg may already be in use elsewhere
	case d.Finalize != nil:
		errs[2] = runStage(d.Finalize, msg)
	default:
		msg.Release()
	}

	if err := errors.Join(errs[:]...); err != nil {
		c.metrics.incFailures()
		c.logFailure(d.key(), err, "evm: failed to dispatch message")
	}

	if c.metrics != nil {
		c.metrics.recordMessage(time.Since(start))
	}
}

// dispatchTimer routes t through its descriptor. The handle stage is skipped
// if t was stopped, the finalize stage always runs.
func (c *Consumer) dispatchTimer(t *Timer) {
	var start time.Time
	if c.metrics != nil {
		start = time.Now()
	}

	d, ok := c.table.timers.lookup(t.Key)
	if !ok {
		c.metrics.incDropped()
		c.logFailure(t.Key, ErrUnknownEvent, "evm: failed to dispatch timer")
		t.Release()
		return
	}

	var errs [2]error
	if !t.Stopped() {
		errs[0] = runStage(d.Handle, t)
	}
	if d.Finalize != nil {
		errs[1] = runStage(d.Finalize, t)
	} else {
		t.Release()
	}

	if err := errors.Join(errs[:]...); err != nil {
		c.metrics.incFailures()
		c.logFailure(d.key(), err, "evm: failed to dispatch timer")
	}

	if c.metrics != nil {
		c.metrics.recordTimer(time.Since(start))
	}
}

func (d *Descriptor[T]) key() Key {
	return Key{Type: d.Type, ID: d.ID}
}

// runStage invokes fn, converting a panic into a [PanicError].
func runStage[T any](fn func(T) error, v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = PanicError{Value: r}
		}
	}()
	return fn(v)
}

// logFailure logs a per-event failure, rate limited per key.
func (c *Consumer) logFailure(key Key, err error, msg string) {
	if _, ok := c.limiter.Allow(key); !ok {
		c.metrics.incSuppressed()
		return
	}
	c.logger.Err().
		Err(err).
		Int("type", key.Type).
		Int("id", key.ID).
		Log(msg)
}
