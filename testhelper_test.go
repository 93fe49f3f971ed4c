// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eapache/queue"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	err error
	now Timespec
	mu  sync.Mutex
}

func (c *fakeClock) Now() (Timespec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return Timespec{}, c.err
	}
	return c.now, nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) SetErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// fakeAlarm records how the alarm was armed.
type fakeAlarm struct {
	armErr  error
	history []time.Duration
	delay   time.Duration
	pending uint64
	mu      sync.Mutex
	armed   bool
	closed  bool
}

func (a *fakeAlarm) Fd() int { return -1 }

func (a *fakeAlarm) Arm(delay time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.armErr != nil {
		return a.armErr
	}
	a.armed = true
	a.delay = delay
	a.history = append(a.history, delay)
	return nil
}

func (a *fakeAlarm) Disarm() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.armed = false
	a.delay = 0
	return nil
}

func (a *fakeAlarm) Drain() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.pending
	a.pending = 0
	return n, nil
}

func (a *fakeAlarm) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *fakeAlarm) State() (bool, time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.armed, a.delay
}

func (a *fakeAlarm) SetArmErr(err error) {
	a.mu.Lock()
	a.armErr = err
	a.mu.Unlock()
}

// fakeNotifier counts wakeups, optionally failing.
type fakeNotifier struct {
	err    error
	count  int
	mu     sync.Mutex
	closed bool
}

var errFakeNotify = errors.New("fake notify failure")

func (n *fakeNotifier) Fd() int { return -1 }

func (n *fakeNotifier) Notify() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.count++
	return nil
}

func (n *fakeNotifier) Drain() {
	n.mu.Lock()
	n.count = 0
	n.mu.Unlock()
}

func (n *fakeNotifier) Close() error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

// newFakeTimerService returns a TimerService using a fake clock and alarm.
func newFakeTimerService(t *testing.T) (*TimerService, *fakeClock, *fakeAlarm) {
	t.Helper()
	clock := &fakeClock{now: Timespec{Sec: 1000}}
	a := new(fakeAlarm)
	s, err := NewTimerService(WithClock(clock), withAlarm(a))
	if err != nil {
		t.Fatalf("failed to create timer service: %v", err)
	}
	return s, clock, a
}

// newDetachedConsumer returns a consumer without OS resources, for exercising
// the timer engine and queues directly.
func newDetachedConsumer(t *testing.T, table *Table, timers *TimerService, n notifier) *Consumer {
	t.Helper()
	if n == nil {
		n = new(fakeNotifier)
	}
	return &Consumer{
		table:     table,
		timers:    timers,
		notify:    n,
		inbound:   queue.New(),
		delivered: queue.New(),
		pending:   queue.New(),
		loopDone:  make(chan struct{}),
	}
}

// newTestTable builds a table with one message type and one timer type,
// ids 0 through 3, recording handled events.
func newTestTable(t *testing.T, rec *recorder) *Table {
	t.Helper()
	var (
		messages []MessageDescriptor
		timers   []TimerDescriptor
	)
	for id := range 4 {
		messages = append(messages, MessageDescriptor{
			Type:   0,
			ID:     id,
			Handle: rec.handleMessage,
		})
		timers = append(timers, TimerDescriptor{
			Type:     0,
			ID:       id,
			Handle:   rec.handleTimer,
			Finalize: rec.finalizeTimer,
		})
	}
	table, err := NewTable(
		[]Linkage{{First: 0, Last: 3}},
		[]Linkage{{First: 0, Last: 3}},
		messages,
		timers,
	)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	return table
}

// recorder records dispatched events, in order.
type recorder struct {
	events    []string
	finalized []*Timer
	mu        sync.Mutex
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) handleMessage(msg *Message) error {
	r.add("message:" + string(msg.Data))
	return nil
}

func (r *recorder) handleTimer(t *Timer) error {
	name, _ := t.Ctx.(string)
	r.add("timer:" + name)
	return nil
}

func (r *recorder) finalizeTimer(t *Timer) error {
	r.mu.Lock()
	r.finalized = append(r.finalized, t)
	r.mu.Unlock()
	t.Release()
	return nil
}

func (r *recorder) Finalized() []*Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Timer(nil), r.finalized...)
}

// newCaptureLogger returns a debug level JSON logger writing to a buffer.
func newCaptureLogger() (*logiface.Logger[logiface.Event], *syncBuffer) {
	buf := new(syncBuffer)
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(buf), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
	return logger, buf
}

type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// waitFor polls cond until it is true, or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}
