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

// pollErrorCategory is the failure log category of readiness wait errors.
type pollErrorCategory struct{}

// RegisterFD adds fd to the consumer's readiness set. Each time fd is
// reported ready, a message of msgType is allocated, filled by recv, and
// (optionally) decoded by the parser registered for msgType, via
// [WithParser]. The resulting message is dispatched after any messages
// already in the inbound queue.
//
// The descriptor remains owned by the caller, who must unregister it before
// closing it.
func (c *Consumer) RegisterFD(fd int, msgType int, events IOEvents, recv ReceiveFunc) error {
	if c == nil {
		return ErrNilConsumer
	}
	if recv == nil {
		return ErrNilReceiver
	}
	firstID, ok := c.table.messages.firstID(msgType)
	if !ok {
		return ErrUnknownEvent
	}
	if c.state.Load() == StateTerminated {
		return ErrConsumerTerminated
	}
	return c.poller.registerFD(fd, events, c.receiver(fd, Key{Type: msgType, ID: firstID}, recv))
}

// UnregisterFD removes fd from the consumer's readiness set.
func (c *Consumer) UnregisterFD(fd int) error {
	if c == nil {
		return ErrNilConsumer
	}
	return c.poller.unregisterFD(fd)
}

// ModifyFD changes the readiness events monitored for fd.
func (c *Consumer) ModifyFD(fd int, events IOEvents) error {
	if c == nil {
		return ErrNilConsumer
	}
	return c.poller.modifyFD(fd, events)
}

// receiver returns the poller callback for a registered descriptor. It runs
// on the loop goroutine, inside the readiness wait.
func (c *Consumer) receiver(fd int, key Key, recv ReceiveFunc) IOCallback {
	parse := c.parsers[key.Type]
	return func(events IOEvents) {
		msg := newPooledMessage(key, c.bufferSize)
		msg.FD = fd
		msg.Events = events
		msg.consumer = c

		err := runStage(func(msg *Message) error { return recv(fd, events, msg) }, msg)
		if err == nil && parse != nil {
			err = runStage(parse, msg)
		}
		if err != nil {
			if !errors.Is(err, ErrNoMessage) {
				c.metrics.incFailures()
				c.logFailure(key, err, "evm: failed to receive message")
			}
			msg.Release()
			return
		}

		c.pending.Add(msg)
	}
}

// Call appends msg to the consumer's inbound queue, without waking it. It is
// intended for delivery from the consumer's own loop, e.g. to itself.
//
// The queue owns msg until it is dispatched, which always ends with its
// finalize stage.
func (c *Consumer) Call(msg *Message) error {
	if c == nil {
		return ErrNilConsumer
	}
	if msg == nil {
		c.logger.Debug().
			Err(ErrNilMessage).
			Log("evm: call rejected")
		return ErrNilMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.claimLocked(msg); err != nil {
		return err
	}
	c.commitLocked(msg)

	return nil
}

// Pass appends msg to the consumer's inbound queue, and wakes the consumer,
// if it is blocked waiting for messages. It may be called from any
// goroutine.
//
// If the consumer could not be woken, msg is not enqueued, and a
// [*SystemError] is returned.
func (c *Consumer) Pass(msg *Message) error {
	if c == nil {
		return ErrNilConsumer
	}
	if msg == nil {
		c.logger.Debug().
			Err(ErrNilMessage).
			Log("evm: pass rejected")
		return ErrNilMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.claimLocked(msg); err != nil {
		return err
	}

	// the queue is not observable until mu is released, so a failed write
	// leaves no trace
	if err := c.notify.Notify(); err != nil {
		msg.queued.Store(false)
		c.logger.Err().
			Err(err).
			Stringer("key", msg.Key).
			Log("evm: failed to pass message")
		return err
	}

	c.commitLocked(msg)

	return nil
}

// claimLocked takes ownership of msg, on behalf of the inbound queue.
func (c *Consumer) claimLocked(msg *Message) error {
	if c.closed {
		return ErrConsumerTerminated
	}
	if msg.released {
		return ErrMessageReleased
	}
	if !msg.queued.CompareAndSwap(false, true) {
		return ErrMessageQueued
	}
	return nil
}

func (c *Consumer) commitLocked(msg *Message) {
	msg.consumer = c
	msg.sends.Add(1)
	c.inbound.Add(msg)
	c.metrics.observeInbound(c.inbound.Length())
}

// popInbound dequeues the oldest inbound message, transferring ownership to
// the caller.
func (c *Consumer) popInbound() *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inbound.Length() == 0 {
		return nil
	}
	msg := c.inbound.Remove().(*Message)
	msg.queued.Store(false)
	c.metrics.observeInbound(c.inbound.Length())
	return msg
}

// wait returns the next message to dispatch, or nil.
//
// Caught signals are handled first, then the inbound queue is drained, then
// any messages received by the previous readiness wait. Only if there is
// nothing else does it block, until a descriptor is ready, the consumer is
// woken, or the nearest deadline of a timer owned by c.
func (c *Consumer) wait() *Message {
	if sig := c.popSignal(); sig != nil {
		c.handleSignal(sig)
		return nil
	}

	if msg := c.popInbound(); msg != nil {
		return msg
	}

	if c.pending.Length() != 0 {
		return c.pending.Remove().(*Message)
	}

	timeout := c.pollTimeout()

	if !c.state.TryTransition(StateRunning, StateSleeping) {
		// terminating
		return nil
	}

	_, err := c.poller.pollIO(timeout)

	c.state.TryTransition(StateSleeping, StateRunning)

	if err != nil {
		if _, ok := c.limiter.Allow(pollErrorCategory{}); ok {
			c.logger.Err().
				Err(err).
				Log("evm: readiness wait failed")
		}
	}

	// dispatched by the next iteration, after timers and inbound messages
	return nil
}

// pollTimeout returns the readiness wait timeout in milliseconds, up to the
// nearest deadline of a timer owned by c, or -1.
func (c *Consumer) pollTimeout() int {
	deadline, ok := c.timers.nextDeadline(c)
	if !ok {
		return -1
	}
	now, err := c.timers.clock.Now()
	if err != nil {
		return int(clockRetryDelay / time.Millisecond)
	}
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}
