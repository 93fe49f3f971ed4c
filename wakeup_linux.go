//go:build linux

// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// eventfdNotifier is the cross-thread notifier of a consumer, registered in
// its epoll set.
type eventfdNotifier struct {
	fd int
}

func newNotifier() (notifier, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, systemError(`eventfd`, err)
	}
	return &eventfdNotifier{fd: fd}, nil
}

func (n *eventfdNotifier) Fd() int {
	return n.fd
}

func (n *eventfdNotifier) Notify() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(n.fd, buf[:])
	return systemError(`eventfd write`, err)
}

func (n *eventfdNotifier) Drain() {
	var buf [8]byte
	for {
		if _, err := unix.Read(n.fd, buf[:]); err != nil {
			return
		}
	}
}

func (n *eventfdNotifier) Close() error {
	return unix.Close(n.fd)
}
