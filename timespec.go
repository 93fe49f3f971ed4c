// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"time"
)

// Timespec is a monotonic clock reading. Values compare by (Sec, Nsec)
// lexicographically, and are normalized so that 0 <= Nsec < 1e9.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// Clock reads the monotonic clock used for timer deadlines.
type Clock interface {
	Now() (Timespec, error)
}

// ClockFunc adapts a function to a [Clock].
type ClockFunc func() (Timespec, error)

// Now implements [Clock].
func (f ClockFunc) Now() (Timespec, error) { return f() }

// Compare returns -1, 0 or +1 depending on whether t is before, equal to, or
// after o.
func (t Timespec) Compare(o Timespec) int {
	switch {
	case t.Sec < o.Sec:
		return -1
	case t.Sec > o.Sec:
		return 1
	case t.Nsec < o.Nsec:
		return -1
	case t.Nsec > o.Nsec:
		return 1
	default:
		return 0
	}
}

// Before reports whether t is strictly before o.
func (t Timespec) Before(o Timespec) bool {
	return t.Compare(o) < 0
}

// Add returns t+d, normalized.
func (t Timespec) Add(d time.Duration) Timespec {
	sec := t.Sec + int64(d/time.Second)
	nsec := t.Nsec + int64(d%time.Second)
	switch {
	case nsec >= int64(time.Second):
		sec++
		nsec -= int64(time.Second)
	case nsec < 0:
		sec--
		nsec += int64(time.Second)
	}
	return Timespec{Sec: sec, Nsec: nsec}
}

// Sub returns the duration t-o.
func (t Timespec) Sub(o Timespec) time.Duration {
	return time.Duration(t.Sec-o.Sec)*time.Second + time.Duration(t.Nsec-o.Nsec)
}
