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
)

func TestResolveOptions_defaults(t *testing.T) {
	opts, err := resolveOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultMaxEvents, opts.maxEvents)
	assert.Equal(t, defaultReceiveBufferSize, opts.bufferSize)
	assert.Equal(t, defaultFailureLogRates, opts.failureLogRates)
	assert.Nil(t, opts.logger)
	assert.Nil(t, opts.timerService)
	assert.False(t, opts.metricsEnabled)
}

func TestResolveOptions_apply(t *testing.T) {
	logger, _ := newCaptureLogger()
	s, _, _ := newFakeTimerService(t)
	handler := func(os.Signal) {}
	parse := func(*Message) error { return nil }
	rates := map[time.Duration]int{time.Second: 1}

	opts, err := resolveOptions([]Option{
		nil, // skipped
		WithLogger(logger),
		WithMaxEvents(8),
		WithSignalHandler(handler),
		WithTimerService(s),
		WithParser(2, parse),
		WithReceiveBufferSize(512),
		WithMetrics(true),
		WithFailureLogRates(rates),
		WithPrivate("private"),
	})
	require.NoError(t, err)
	assert.Same(t, logger, opts.logger)
	assert.Equal(t, 8, opts.maxEvents)
	assert.NotNil(t, opts.signalHandler)
	assert.Same(t, s, opts.timerService)
	assert.Contains(t, opts.parsers, 2)
	assert.Equal(t, 512, opts.bufferSize)
	assert.True(t, opts.metricsEnabled)
	assert.Equal(t, rates, opts.failureLogRates)
	assert.Equal(t, "private", opts.private)
}

func TestResolveOptions_invalid(t *testing.T) {
	for _, tc := range []struct {
		name  string
		opt   Option
		field string
	}{
		{"max events", WithMaxEvents(0), `MaxEvents`},
		{"buffer size", WithReceiveBufferSize(-1), `ReceiveBufferSize`},
		{"timer service", WithTimerService(nil), `TimerService`},
		{"parser", WithParser(0, nil), `Parser`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := resolveOptions([]Option{tc.opt})
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestResolveTimerServiceOptions(t *testing.T) {
	_, err := resolveTimerServiceOptions([]TimerServiceOption{WithClock(nil)})
	assert.Error(t, err)

	logger, _ := newCaptureLogger()
	clock := new(fakeClock)
	opts, err := resolveTimerServiceOptions([]TimerServiceOption{nil, WithClock(clock), WithTimerLogger(logger)})
	require.NoError(t, err)
	assert.Same(t, clock, opts.clock)
	assert.Same(t, logger, opts.logger)
}

func TestNewFailureLimiter(t *testing.T) {
	limiter, err := newFailureLimiter(nil)
	require.NoError(t, err)
	assert.Nil(t, limiter)

	limiter, err = newFailureLimiter(map[time.Duration]int{time.Second: 2})
	require.NoError(t, err)
	require.NotNil(t, limiter)
	for i := range 2 {
		_, ok := limiter.Allow(Key{ID: 1})
		assert.True(t, ok, "event %d", i)
	}
	_, ok := limiter.Allow(Key{ID: 1})
	assert.False(t, ok, "third event within a second")
	_, ok = limiter.Allow(Key{ID: 2})
	assert.True(t, ok, "limits are per key")

	// shorter windows must allow fewer events than longer ones
	_, err = newFailureLimiter(map[time.Duration]int{time.Second: 10, time.Millisecond: 100})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, `FailureLogRates`, cfgErr.Field)
}
