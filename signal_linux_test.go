//go:build linux

// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestConsumer_signalHandler(t *testing.T) {
	var c *Consumer
	handled := make(chan bool, 4)
	c, err := New(
		Config{Table: newTestTable(t, new(recorder))},
		WithTimerService(newTimerService(t)),
		WithMetrics(true),
		WithSignalHandler(func(sig os.Signal) {
			handled <- sig == unix.SIGHUP && c.isLoopThread()
		}),
	)
	require.NoError(t, err)
	startConsumer(t, c)
	waitFor(t, time.Second, func() bool { return c.State() == StateSleeping })

	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGHUP))

	select {
	case ok := <-handled:
		assert.True(t, ok, "handler must run on the loop, for SIGHUP")
	case <-time.After(2 * time.Second):
		t.Fatal("signal was not handled")
	}

	// the wait resumes
	waitFor(t, time.Second, func() bool { return c.State() == StateSleeping })
	m, _ := c.Metrics()
	assert.Equal(t, uint64(1), m.Signals)
}

func TestConsumer_signalHandlerPanics(t *testing.T) {
	logger, buf := newCaptureLogger()
	rec := new(recorder)
	c := newRecordingConsumer(t, rec, newTimerService(t),
		WithLogger(logger),
		WithSignalHandler(func(os.Signal) { panic("handler panicked") }),
	)
	startConsumer(t, c)
	waitFor(t, time.Second, func() bool { return c.State() == StateSleeping })

	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGHUP))
	waitFor(t, 2*time.Second, func() bool {
		return containsAll(buf.String(), `evm: signal handler failed`, `handler panicked`)
	})

	// still dispatching
	require.NoError(t, c.Pass(NewMessage(Key{}, []byte(`after`), nil)))
	waitFor(t, time.Second, func() bool { return len(rec.Events()) == 1 })
}
