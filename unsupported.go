//go:build !linux

// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"os"
)

var relaySignals []os.Signal

type monotonicClock struct{}

func (monotonicClock) Now() (Timespec, error) {
	return Timespec{}, ErrUnsupportedPlatform
}

func newAlarm() (alarm, error) {
	return nil, ErrUnsupportedPlatform
}

func newNotifier() (notifier, error) {
	return nil, ErrUnsupportedPlatform
}

type poller struct{}

func (p *poller) init(int) error { return ErrUnsupportedPlatform }

func (p *poller) close() error { return nil }

func (p *poller) registerFD(int, IOEvents, IOCallback) error { return ErrUnsupportedPlatform }

func (p *poller) unregisterFD(int) error { return ErrUnsupportedPlatform }

func (p *poller) modifyFD(int, IOEvents) error { return ErrUnsupportedPlatform }

func (p *poller) pollIO(int) (int, error) { return 0, ErrUnsupportedPlatform }
