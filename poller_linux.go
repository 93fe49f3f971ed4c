//go:build linux

// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// initialFDs is the initial size of the direct-indexed fd table.
const initialFDs = 1024

// poller manages readiness registration using epoll.
//
// The fd table is indexed directly by descriptor, and grows on demand.
// Callbacks are copied under the read lock, then invoked outside it.
type poller struct { // betteralign:ignore
	eventBuf []unix.EpollEvent
	fds      []fdInfo
	fdMu     sync.RWMutex
	epfd     int
	closed   atomic.Bool
}

// init creates the epoll instance, with room for maxEvents per wait.
func (p *poller) init(maxEvents int) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return systemError(`epoll_create1`, err)
	}
	p.epfd = epfd
	p.eventBuf = make([]unix.EpollEvent, maxEvents)
	p.fds = make([]fdInfo, initialFDs)

	return nil
}

func (p *poller) close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return unix.Close(p.epfd)
}

// registerFD registers a descriptor for readiness monitoring.
func (p *poller) registerFD(fd int, events IOEvents, cb IOCallback) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if fd < 0 || fd >= MaxFDLimit {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if fd >= len(p.fds) {
		newSize := min(fd*2+1, MaxFDLimit+1)
		newFds := make([]fdInfo, newSize)
		copy(newFds, p.fds)
		p.fds = newFds
	}

	if p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDAlreadyRegistered
	}

	p.fds[fd] = fdInfo{callback: cb, events: events, active: true}
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.fdMu.Lock()
		p.fds[fd] = fdInfo{} // rollback
		p.fdMu.Unlock()
		return systemError(`epoll_ctl add`, err)
	}
	return nil
}

// unregisterFD removes a descriptor from monitoring.
//
// A callback copied by a concurrent dispatch may still run once after
// unregisterFD returns, so descriptors must only be closed from the loop, or
// once the loop has stopped.
func (p *poller) unregisterFD(fd int) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	p.fds[fd] = fdInfo{}
	p.fdMu.Unlock()

	return systemError(`epoll_ctl del`, unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil))
}

// modifyFD updates the events monitored for a descriptor.
func (p *poller) modifyFD(fd int, events IOEvents) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	p.fds[fd].events = events
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	}
	return systemError(`epoll_ctl mod`, unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev))
}

// pollIO blocks for up to timeoutMs (-1 is indefinitely), dispatching
// callbacks for ready descriptors inline. An interrupted wait (EINTR) is
// reported as zero events.
func (p *poller) pollIO(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}

	n, err := unix.EpollWait(p.epfd, p.eventBuf, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, systemError(`epoll_wait`, err)
	}

	p.dispatchEvents(n)

	return n, nil
}

func (p *poller) dispatchEvents(n int) {
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd < 0 {
			continue
		}

		p.fdMu.RLock()
		var info fdInfo
		if fd < len(p.fds) {
			info = p.fds[fd]
		}
		p.fdMu.RUnlock()

		if info.active && info.callback != nil {
			info.callback(epollToEvents(p.eventBuf[i].Events))
		}
	}
}

// eventsToEpoll converts IOEvents to epoll event flags.
func eventsToEpoll(events IOEvents) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to IOEvents.
func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
