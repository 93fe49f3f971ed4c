// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// clockRetryDelay is how long the alarm is rearmed for, when the clock
// cannot be read.
const clockRetryDelay = time.Second

// ErrServiceMismatch is returned when a timer is started on a consumer that
// uses a different timer service.
var ErrServiceMismatch = errors.New("evm: consumer uses a different timer service")

// Timer is a pending (or expired) timer event.
//
// A timer belongs to the consumer it was started on, regardless of Ctx, and
// is always dispatched by that consumer's loop.
type Timer struct {
	// Ctx is a free-form context value.
	Ctx any

	consumer *Consumer
	deadline Timespec

	Key

	// Saved marks a timer as externally owned: the default finalize does
	// not release it.
	Saved bool

	stopped  atomic.Bool
	released bool
}

// Stop marks the timer as stopped. The timer stays linked until it expires,
// at which point its finalize stage runs, but its handle stage does not.
// Stop is idempotent.
func (t *Timer) Stop() error {
	if t == nil {
		return ErrNilTimer
	}
	t.stopped.Store(true)
	return nil
}

// Stopped reports whether Stop has been called.
func (t *Timer) Stopped() bool {
	return t.stopped.Load()
}

// Deadline returns the absolute monotonic expiration time.
func (t *Timer) Deadline() Timespec {
	return t.deadline
}

// Consumer returns the owning consumer.
func (t *Timer) Consumer() *Consumer {
	return t.consumer
}

// Released reports whether the timer has been released.
func (t *Timer) Released() bool {
	return t.released
}

// Release is the default finalize of a timer. Saved timers are not
// released. Calling Release more than once has no effect.
func (t *Timer) Release() {
	if t == nil || t.Saved || t.released {
		return
	}
	t.released = true
	t.Ctx = nil
}

// TimerService is the process-wide timer engine. It maintains one list of
// pending timers, sorted ascending by deadline, shared by every consumer
// using the service, and keeps exactly one OS alarm armed for the head of
// that list.
//
// A process is expected to have a single TimerService (see
// [DefaultTimerService]), which every consumer that exchanges timers with
// another consumer must share.
type TimerService struct {
	alarm  alarm
	clock  Clock
	logger *logiface.Logger[logiface.Event]

	// list is sorted ascending by deadline, FIFO among equal deadlines
	list []*Timer

	mu     sync.Mutex
	armed  bool
	closed bool
}

var defaultTimerService struct {
	service *TimerService
	err     error
	once    sync.Once
}

// DefaultTimerService returns the process-wide timer service, constructing
// it on first use.
func DefaultTimerService() (*TimerService, error) {
	defaultTimerService.once.Do(func() {
		defaultTimerService.service, defaultTimerService.err = NewTimerService()
	})
	return defaultTimerService.service, defaultTimerService.err
}

// NewTimerService creates a timer service, and the OS alarm backing it.
// Failure to create the alarm is returned as a [SystemError].
func NewTimerService(opts ...TimerServiceOption) (*TimerService, error) {
	cfg, err := resolveTimerServiceOptions(opts)
	if err != nil {
		return nil, err
	}

	s := &TimerService{
		alarm:  cfg.alarm,
		clock:  cfg.clock,
		logger: cfg.logger,
	}

	if s.clock == nil {
		s.clock = monotonicClock{}
	}

	if s.alarm == nil {
		s.alarm, err = newAlarm()
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Start schedules a timer for key, owned by c, expiring after delay.
//
// The key must be registered in the consumer's timer table. The returned
// timer is linked into the global list until it expires.
func (s *TimerService) Start(c *Consumer, key Key, delay time.Duration, ctx any) (*Timer, error) {
	if c == nil {
		return nil, ErrNilConsumer
	}
	if c.timers != s {
		return nil, ErrServiceMismatch
	}
	if c.state.Load() == StateTerminated {
		return nil, ErrConsumerTerminated
	}
	if delay < 0 {
		return nil, ErrNegativeDelay
	}
	if !c.table.HasTimer(key) {
		return nil, ErrUnknownEvent
	}

	now, err := s.clock.Now()
	if err != nil {
		return nil, systemError(`clock_gettime`, err)
	}

	t := &Timer{
		Ctx:      ctx,
		consumer: c,
		deadline: now.Add(delay),
		Key:      key,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrTimerServiceClosed
	}

	if s.insertLocked(t) == 0 {
		s.rearmLocked(now)
	}

	return t, nil
}

// insertLocked links t after every timer with a deadline <= its own,
// returning the index it was inserted at.
func (s *TimerService) insertLocked(t *Timer) int {
	i := 0
	for i < len(s.list) && !t.deadline.Before(s.list[i].deadline) {
		i++
	}
	s.list = slices.Insert(s.list, i, t)
	return i
}

// rearmLocked arms the alarm for the head of the list, or disarms it if the
// list is empty. A past-due head results in an immediate expiration.
func (s *TimerService) rearmLocked(now Timespec) {
	if len(s.list) == 0 {
		if s.armed {
			s.armed = false
			if err := s.alarm.Disarm(); err != nil {
				s.logger.Warning().
					Err(err).
					Log("evm: failed to disarm timer alarm")
			}
		}
		return
	}

	delay := max(s.list[0].deadline.Sub(now), 0)

	if err := s.alarm.Arm(delay); err != nil {
		s.armed = false
		s.logger.Warning().
			Err(err).
			Dur("delay", delay).
			Log("evm: failed to arm timer alarm")
		return
	}

	s.armed = true
}

// check returns the next expired timer owned by c, if any.
//
// Timers delivered to c by other consumers take priority. Otherwise, the
// head of the global list is popped if it has expired. An expired head owned
// by another consumer is handed to that consumer, and nil is returned.
func (s *TimerService) check(c *Consumer) *Timer {
	if t := c.popDeliveredTimer(); t != nil {
		return t
	}

	s.mu.Lock()

	if len(s.list) == 0 {
		s.mu.Unlock()
		return nil
	}

	now, err := s.clock.Now()
	if err != nil {
		s.armed = false
		armErr := s.alarm.Arm(clockRetryDelay)
		s.mu.Unlock()
		s.logger.Warning().
			Err(err).
			Log("evm: failed to read clock, retrying timer check")
		if armErr != nil {
			s.logger.Warning().
				Err(armErr).
				Log("evm: failed to arm timer alarm for retry")
		}
		return nil
	}

	head := s.list[0]
	if now.Before(head.deadline) {
		if !s.armed {
			// recover from a previous arm or clock failure
			s.rearmLocked(now)
		}
		s.mu.Unlock()
		return nil
	}

	s.list = slices.Delete(s.list, 0, 1)
	s.rearmLocked(now)

	s.mu.Unlock()

	if head.consumer == c {
		return head
	}

	head.consumer.deliverTimer(head)

	return nil
}

// nextDeadline returns the earliest deadline of a pending timer owned by c.
func (s *TimerService) nextDeadline(c *Consumer) (Timespec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.list {
		if t.consumer == c {
			return t.deadline, true
		}
	}
	return Timespec{}, false
}

// withdraw unlinks every pending timer owned by c, returning them.
func (s *TimerService) withdraw(c *Consumer) []*Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.list) == 0 {
		return nil
	}

	head := s.list[0]

	var removed []*Timer
	s.list = slices.DeleteFunc(s.list, func(t *Timer) bool {
		if t.consumer == c {
			removed = append(removed, t)
			return true
		}
		return false
	})

	if len(s.list) == 0 || s.list[0] != head {
		now, err := s.clock.Now()
		if err != nil {
			s.armed = false
			_ = s.alarm.Arm(clockRetryDelay)
		} else {
			s.rearmLocked(now)
		}
	}

	return removed
}

// Pending returns the number of timers linked into the global list,
// including stopped timers that have not yet expired.
func (s *TimerService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

// Close unlinks all pending timers and releases the OS alarm. Consumers using
// the service must be terminated first.
func (s *TimerService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	clear(s.list)
	s.list = nil
	s.armed = false
	return s.alarm.Close()
}

// alarmFd returns the pollable descriptor of the alarm, or -1.
func (s *TimerService) alarmFd() int {
	return s.alarm.Fd()
}

// drainAlarm consumes a pending alarm expiration, returning the number of
// expirations since the last drain.
func (s *TimerService) drainAlarm() uint64 {
	n, err := s.alarm.Drain()
	if err != nil {
		s.logger.Debug().
			Err(err).
			Log("evm: failed to drain timer alarm")
	}
	return n
}

// alarm is the single OS-level alarm backing a TimerService.
type alarm interface {
	// Fd returns a descriptor that becomes readable on expiration, or -1.
	Fd() int
	// Arm (re)arms the alarm to expire once, after delay. A delay <= 0
	// expires immediately.
	Arm(delay time.Duration) error
	Disarm() error
	// Drain consumes pending expirations, returning their count.
	Drain() (uint64, error)
	Close() error
}
