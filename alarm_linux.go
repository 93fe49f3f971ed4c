//go:build linux

// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// timerfdAlarm is an alarm backed by a CLOCK_MONOTONIC timerfd, which every
// consumer adds to its epoll set.
type timerfdAlarm struct {
	fd int
}

func newAlarm() (alarm, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, systemError(`timerfd_create`, err)
	}
	return &timerfdAlarm{fd: fd}, nil
}

func (a *timerfdAlarm) Fd() int {
	return a.fd
}

func (a *timerfdAlarm) Arm(delay time.Duration) error {
	// a zero it_value disarms a timerfd
	if delay <= 0 {
		delay = 1
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(int64(delay))}
	return systemError(`timerfd_settime`, unix.TimerfdSettime(a.fd, 0, &spec, nil))
}

func (a *timerfdAlarm) Disarm() error {
	var spec unix.ItimerSpec
	return systemError(`timerfd_settime`, unix.TimerfdSettime(a.fd, 0, &spec, nil))
}

func (a *timerfdAlarm) Drain() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(a.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, systemError(`timerfd read`, err)
	}
	if n != len(buf) {
		return 0, nil
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}

func (a *timerfdAlarm) Close() error {
	return unix.Close(a.fd)
}
