//go:build linux

// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"golang.org/x/sys/unix"
)

// monotonicClock reads CLOCK_MONOTONIC, the clock of the timerfd alarm.
type monotonicClock struct{}

func (monotonicClock) Now() (Timespec, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return Timespec{}, err
	}
	sec, nsec := ts.Unix()
	return Timespec{Sec: sec, Nsec: nsec}, nil
}
