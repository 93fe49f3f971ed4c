// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"errors"
	"os"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	defaultMaxEvents         = 64
	defaultReceiveBufferSize = 4096
)

// defaultFailureLogRates limits dispatch failure logs, per event key.
var defaultFailureLogRates = map[time.Duration]int{
	time.Second: 10,
	time.Minute: 100,
}

// consumerOptions holds configuration options for Consumer creation.
type consumerOptions struct {
	logger          *logiface.Logger[logiface.Event]
	timerService    *TimerService
	signalHandler   func(os.Signal)
	parsers         map[int]ParseFunc
	failureLogRates map[time.Duration]int
	private         any
	maxEvents       int
	bufferSize      int
	metricsEnabled  bool
}

// Option configures a Consumer instance.
type Option interface {
	applyConsumer(*consumerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyConsumerFunc func(*consumerOptions) error
}

func (o *optionImpl) applyConsumer(opts *consumerOptions) error {
	return o.applyConsumerFunc(opts)
}

// WithLogger sets the structured logger used by the consumer.
// A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *consumerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMaxEvents sets the maximum number of readiness events returned by a
// single epoll_wait call. Defaults to 64.
func WithMaxEvents(n int) Option {
	return &optionImpl{func(opts *consumerOptions) error {
		if n <= 0 {
			return configErrorf(`MaxEvents`, "must be positive, got %d", n)
		}
		opts.maxEvents = n
		return nil
	}}
}

// WithSignalHandler sets the signal post-processing callback. When set, the
// consumer subscribes to SIGHUP and SIGCHLD, and invokes fn on the loop
// goroutine, once per received signal, in place of a message.
func WithSignalHandler(fn func(sig os.Signal)) Option {
	return &optionImpl{func(opts *consumerOptions) error {
		opts.signalHandler = fn
		return nil
	}}
}

// WithTimerService sets the timer service. Consumers that exchange timers
// must share one service. Defaults to [DefaultTimerService].
func WithTimerService(s *TimerService) Option {
	return &optionImpl{func(opts *consumerOptions) error {
		if s == nil {
			return configErrorf(`TimerService`, "nil timer service")
		}
		opts.timerService = s
		return nil
	}}
}

// WithParser sets the parser for messages of the given type, received via
// descriptors registered with [Consumer.RegisterFD].
func WithParser(msgType int, fn ParseFunc) Option {
	return &optionImpl{func(opts *consumerOptions) error {
		if fn == nil {
			return configErrorf(`Parser`, "nil parser for type %d", msgType)
		}
		if opts.parsers == nil {
			opts.parsers = make(map[int]ParseFunc)
		}
		opts.parsers[msgType] = fn
		return nil
	}}
}

// WithReceiveBufferSize sets the capacity of the buffers allocated for
// received messages. Defaults to 4096.
func WithReceiveBufferSize(size int) Option {
	return &optionImpl{func(opts *consumerOptions) error {
		if size <= 0 {
			return configErrorf(`ReceiveBufferSize`, "must be positive, got %d", size)
		}
		opts.bufferSize = size
		return nil
	}}
}

// WithMetrics enables runtime metrics collection, see [Consumer.Metrics].
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *consumerOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithFailureLogRates sets the per-event rate limits applied to dispatch
// failure logs, see also [catrate.NewLimiter]. A nil or empty map disables
// rate limiting.
func WithFailureLogRates(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *consumerOptions) error {
		opts.failureLogRates = rates
		return nil
	}}
}

// WithPrivate sets the initial value of the private data slot.
func WithPrivate(v any) Option {
	return &optionImpl{func(opts *consumerOptions) error {
		opts.private = v
		return nil
	}}
}

// resolveOptions applies Option instances to consumerOptions.
func resolveOptions(opts []Option) (*consumerOptions, error) {
	cfg := &consumerOptions{
		maxEvents:       defaultMaxEvents,
		bufferSize:      defaultReceiveBufferSize,
		failureLogRates: defaultFailureLogRates,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyConsumer(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// --- TimerService Options ---

type timerServiceOptions struct {
	logger *logiface.Logger[logiface.Event]
	clock  Clock
	alarm  alarm
}

// TimerServiceOption configures a TimerService instance.
type TimerServiceOption interface {
	applyTimerService(*timerServiceOptions) error
}

type timerServiceOptionImpl struct {
	applyTimerServiceFunc func(*timerServiceOptions) error
}

func (o *timerServiceOptionImpl) applyTimerService(opts *timerServiceOptions) error {
	return o.applyTimerServiceFunc(opts)
}

// WithClock overrides the monotonic clock used for deadlines.
func WithClock(clock Clock) TimerServiceOption {
	return &timerServiceOptionImpl{func(opts *timerServiceOptions) error {
		if clock == nil {
			return errors.New("evm: nil clock")
		}
		opts.clock = clock
		return nil
	}}
}

// WithTimerLogger sets the structured logger used by the timer service.
func WithTimerLogger(logger *logiface.Logger[logiface.Event]) TimerServiceOption {
	return &timerServiceOptionImpl{func(opts *timerServiceOptions) error {
		opts.logger = logger
		return nil
	}}
}

// withAlarm replaces the OS alarm, for tests.
func withAlarm(a alarm) TimerServiceOption {
	return &timerServiceOptionImpl{func(opts *timerServiceOptions) error {
		opts.alarm = a
		return nil
	}}
}

func resolveTimerServiceOptions(opts []TimerServiceOption) (*timerServiceOptions, error) {
	cfg := &timerServiceOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyTimerService(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
