// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package evm provides an embeddable, event-driven reactor runtime. Each
// reactor, a [Consumer], dispatches two kinds of events, arriving messages
// and expiring timers, through a table of callbacks keyed by (type, id).
// Any number of consumers may run concurrently, each on its own goroutine
// and OS thread, exchanging messages and timers with one another.
//
// # Architecture
//
// A [Consumer] loop alternates between a non-blocking check of the
// [TimerService] and a blocking wait for messages:
//
//  1. Timers forwarded by other consumers, in arrival order
//  2. The expired head of the global timer list, if owned by the consumer
//  3. Messages in the inbound queue ([Consumer.Call], [Consumer.Pass])
//  4. Messages received from registered descriptors ([Consumer.RegisterFD])
//
// Timers therefore always take priority over messages. Timers fire in
// deadline order, ties in the order they were started. Messages sent to a
// consumer are dispatched in the order they were sent.
//
// # Events
//
// Events are described by a [Table], built from per-type id bounds
// ([Linkage]) and flat descriptor slices ([MessageDescriptor],
// [TimerDescriptor]). Messages are dispatched through prepare, handle, then
// finalize, every stage running even if an earlier stage failed. Timers are
// dispatched through handle, skipped if the timer was stopped, then
// finalize. A nil finalize releases the event, see [Message.Release] and
// [Timer.Release].
//
// Failures of individual events are logged (and rate limited, see
// [WithFailureLogRates]), and never stop the loop.
//
// # Timers
//
// Every consumer sharing a [TimerService] shares one list of pending timers,
// sorted by deadline, and one OS alarm, armed for the head of that list.
// Whichever consumer finds the head expired pops it. A timer belongs to the
// consumer that started it: if another consumer pops it, it is forwarded to
// its owner, and still dispatched as a timer event. Stopping a timer is
// lazy, it stays in the list until its deadline.
//
// # Platform Support
//
// The runtime is implemented using epoll, eventfd and timerfd, and is
// therefore Linux only. On other platforms [New] and [NewTimerService] return
// [ErrUnsupportedPlatform].
//
// # Usage
//
//	c, err := evm.New(evm.Config{
//	    MessageLinks: []evm.Linkage{{First: 0, Last: 0}},
//	    TimerLinks:   []evm.Linkage{{First: 0, Last: 0}},
//	    Messages: []evm.MessageDescriptor{{
//	        Handle: func(msg *evm.Message) error {
//	            fmt.Printf("received %q\n", msg.Data)
//	            return nil
//	        },
//	    }},
//	    Timers: []evm.TimerDescriptor{{
//	        Handle: func(t *evm.Timer) error {
//	            return t.Consumer().Call(evm.NewMessage(evm.Key{}, []byte(`tick`), nil))
//	        },
//	    }},
//	    Relink: true,
//	}, evm.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if _, err := c.StartTimer(evm.Key{}, time.Second, nil); err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := c.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package evm
