// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"sync"
	"sync/atomic"
)

// Message is a buffer routed through a consumer's message table.
//
// Messages are either allocated by the readiness-driven receive path (see
// [Consumer.RegisterFD]), or by application code (see [NewMessage]). Once a
// message has been handed to [Consumer.Call] or [Consumer.Pass], it is owned
// by the target's queue, until the dispatcher dequeues it, and runs its
// finalize stage exactly once. A handler that passes its message on gives
// up ownership, and the finalize stage of that dispatch is skipped.
type Message struct {
	// Ctx is a free-form context value.
	Ctx any

	consumer *Consumer

	// Data is the message buffer.
	Data []byte

	Key

	// FD is the descriptor the message was received from, or -1.
	FD int

	// Events are the readiness events that produced the message, if any.
	Events IOEvents

	// Saved marks a message as externally owned: no runtime path releases it.
	Saved bool

	// Persistent marks a message whose buffer is reused across sends. The
	// default finalize does not release persistent messages.
	Persistent bool

	// sends counts committed enqueues, a dispatch compares it before and
	// after the handler
	sends atomic.Uint64

	queued   atomic.Bool
	pooled   bool
	released bool
}

var messagePool = sync.Pool{New: func() any { return new(Message) }}

// NewMessage allocates a message owned by the caller.
func NewMessage(key Key, data []byte, ctx any) *Message {
	return &Message{
		Key:  key,
		Data: data,
		Ctx:  ctx,
		FD:   -1,
	}
}

// newPooledMessage returns a message from the pool, with a zero-length
// buffer of at least size capacity.
func newPooledMessage(key Key, size int) *Message {
	m := messagePool.Get().(*Message)
	if cap(m.Data) < size {
		m.Data = make([]byte, 0, size)
	} else {
		m.Data = m.Data[:0:size]
	}
	m.Key = key
	m.FD = -1
	m.pooled = true
	m.released = false
	return m
}

// Consumer returns the consumer the message was last delivered to, or nil.
func (m *Message) Consumer() *Consumer {
	return m.consumer
}

// Released reports whether the message has been released.
func (m *Message) Released() bool {
	return m.released
}

// Queued reports whether the message is currently held by a queue.
func (m *Message) Queued() bool {
	return m.queued.Load()
}

// Release is the default finalize of a message: it frees the message unless
// it is saved or persistent. Calling Release more than once has no effect.
// A released message must not be used again.
func (m *Message) Release() {
	if m == nil || m.Saved || m.Persistent || m.released {
		return
	}
	m.released = true
	m.consumer = nil
	m.Ctx = nil
	if m.pooled {
		m.Data = m.Data[:0]
		m.Events = 0
		messagePool.Put(m)
		return
	}
	m.Data = nil
}
