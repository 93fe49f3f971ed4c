// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

type (
	// Config holds the structural configuration of a consumer: its linkage
	// and event tables.
	//
	// If Relink is true, a new [Table] is built from MessageLinks,
	// TimerLinks, Messages and Timers. Otherwise, Table must be set, e.g. to
	// the [Consumer.Table] of another consumer.
	Config struct {
		Table        *Table
		MessageLinks []Linkage
		TimerLinks   []Linkage
		Messages     []MessageDescriptor
		Timers       []TimerDescriptor
		Relink       bool
	}

	// ReceiveFunc fills msg from fd, which the poller reported ready with
	// events. It must not block. The message key defaults to the type the
	// descriptor was registered with, and the first id of that type.
	// Returning [ErrNoMessage] discards the message silently.
	ReceiveFunc func(fd int, events IOEvents, msg *Message) error

	// ParseFunc decodes a received buffer into a dispatchable message,
	// typically by setting its id. Returning [ErrNoMessage] discards the
	// message silently.
	ParseFunc func(msg *Message) error
)

// Consumer is a single-threaded reactor, dispatching expired timers and
// arriving messages through its event table.
//
// All dispatch happens on the goroutine calling [Consumer.Run], which is
// locked to its OS thread. Other goroutines, including other consumers,
// interact with a consumer only through [Consumer.Call], [Consumer.Pass],
// [Consumer.StartTimer] and the shared [TimerService].
type Consumer struct { // betteralign:ignore
	state fastState

	table   *Table
	timers  *TimerService
	notify  notifier
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
	metrics *metrics
	parsers map[int]ParseFunc

	signalHandler func(os.Signal)
	signals       chan os.Signal
	relayStop     chan struct{}

	// fields below guarded by mu

	private   any
	inbound   *queue.Queue // *Message
	delivered *queue.Queue // *Timer
	caught    []os.Signal

	// pending holds received messages, loop goroutine only
	pending *queue.Queue

	loopDone chan struct{}
	poller   poller

	loopGoroutineID atomic.Uint64
	overruns        atomic.Uint64

	bufferSize int
	mu         sync.Mutex
	closed     bool
}

// New creates a consumer.
//
// Invalid tables or options are reported as a [*ConfigError]. Failure to
// create the poller or notifier, or to register the timer alarm, is reported
// as a [*SystemError]. In either case the consumer must not be used.
func New(cfg Config, opts ...Option) (*Consumer, error) {
	options, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	table := cfg.Table
	if cfg.Relink {
		table, err = NewTable(cfg.MessageLinks, cfg.TimerLinks, cfg.Messages, cfg.Timers)
		if err != nil {
			return nil, err
		}
	} else if table == nil {
		return nil, configErrorf(`Table`, "nil table without relink")
	}

	for msgType := range options.parsers {
		if _, ok := table.messages.firstID(msgType); !ok {
			return nil, configErrorf(`Parser`, "message type %d out of range", msgType)
		}
	}

	limiter, err := newFailureLimiter(options.failureLogRates)
	if err != nil {
		return nil, err
	}

	timers := options.timerService
	if timers == nil {
		if timers, err = DefaultTimerService(); err != nil {
			return nil, err
		}
	}

	c := &Consumer{
		table:         table,
		timers:        timers,
		logger:        options.logger,
		limiter:       limiter,
		parsers:       options.parsers,
		signalHandler: options.signalHandler,
		private:       options.private,
		inbound:       queue.New(),
		delivered:     queue.New(),
		pending:       queue.New(),
		loopDone:      make(chan struct{}),
		bufferSize:    options.bufferSize,
	}
	if options.metricsEnabled {
		c.metrics = newMetrics()
	}

	if err := c.poller.init(options.maxEvents); err != nil {
		return nil, err
	}

	if c.notify, err = newNotifier(); err != nil {
		_ = c.poller.close()
		return nil, err
	}

	if err := c.poller.registerFD(c.notify.Fd(), EventRead, c.onNotify); err != nil {
		c.closeFDs()
		return nil, err
	}

	if fd := timers.alarmFd(); fd >= 0 {
		if err := c.poller.registerFD(fd, EventRead, c.onAlarm); err != nil {
			c.closeFDs()
			return nil, err
		}
	}

	if c.signalHandler != nil && len(relaySignals) != 0 {
		c.signals = make(chan os.Signal, len(relaySignals)*4)
		c.relayStop = make(chan struct{})
		signal.Notify(c.signals, relaySignals...)
		go c.relay()
	}

	return c, nil
}

func newFailureLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	if len(rates) == 0 {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			cause, ok := r.(error)
			if !ok {
				cause = fmt.Errorf("%v", r)
			}
			limiter, err = nil, &ConfigError{Field: `FailureLogRates`, Message: "invalid rates", Cause: cause}
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// Run runs the dispatch loop, blocking until the consumer terminates, via
// [Consumer.Shutdown], [Consumer.Close], or ctx cancellation. If ctx was
// cancelled, its error is returned.
//
// Each iteration dispatches an expired timer, if there is one, otherwise it
// waits for a message. Timers therefore always take priority over messages.
//
// Run panics if the consumer was not created by [New].
func (c *Consumer) Run(ctx context.Context) error {
	if c == nil {
		return ErrNilConsumer
	}
	if c.table == nil || c.timers == nil {
		panic(errors.New("evm: run on a consumer without an event table"))
	}

	if c.isLoopThread() {
		return ErrReentrantRun
	}

	if !c.state.TryTransition(StateAwake, StateRunning) {
		if c.state.Load() == StateTerminated {
			return ErrConsumerTerminated
		}
		return ErrConsumerRunning
	}

	return c.run(ctx)
}

func (c *Consumer) run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	c.loopGoroutineID.Store(getGoroutineID())
	defer c.loopGoroutineID.Store(0)

	// wake the loop on cancellation
	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.requestTermination()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	c.logger.Debug().Log("evm: consumer running")

	for {
		if err := ctx.Err(); err != nil {
			c.requestTermination()
			c.terminate()
			return err
		}

		if state := c.state.Load(); state == StateTerminating || state == StateTerminated {
			c.terminate()
			return nil
		}

		c.tick()
	}
}

// tick runs one loop iteration.
func (c *Consumer) tick() {
	if t := c.timers.check(c); t != nil {
		c.dispatchTimer(t)
		return
	}
	if msg := c.wait(); msg != nil {
		c.dispatchMessage(msg)
	}
}

// Shutdown requests termination, and waits for the loop to exit, or for ctx
// to be done. Called from within the loop, it only requests termination.
func (c *Consumer) Shutdown(ctx context.Context) error {
	if c == nil {
		return ErrNilConsumer
	}

	if err := c.Close(); err != nil {
		return err
	}

	if c.isLoopThread() {
		return nil
	}

	select {
	case <-c.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close requests termination without waiting. A consumer that was never run
// is terminated immediately.
func (c *Consumer) Close() error {
	if c == nil {
		return ErrNilConsumer
	}
	for {
		current := c.state.Load()
		switch current {
		case StateTerminated:
			return ErrConsumerTerminated
		case StateTerminating:
			return nil
		}

		if c.state.TryTransition(current, StateTerminating) {
			if current == StateAwake {
				c.terminate()
			} else {
				c.wake()
			}
			return nil
		}
	}
}

// Done returns a channel that is closed once the consumer has terminated.
func (c *Consumer) Done() <-chan struct{} {
	return c.loopDone
}

// requestTermination moves a running consumer to StateTerminating.
func (c *Consumer) requestTermination() {
	for {
		current := c.state.Load()
		if current == StateTerminating || current == StateTerminated || current == StateAwake {
			return
		}
		if c.state.TryTransition(current, StateTerminating) {
			c.wake()
			return
		}
	}
}

// wake writes the notifier, unless the consumer is closed.
func (c *Consumer) wake() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if err := c.notify.Notify(); err != nil {
		c.logger.Warning().
			Err(err).
			Log("evm: failed to wake consumer")
	}
}

// terminate releases everything the consumer owns. It runs exactly once,
// either on the loop goroutine, or from Close before Run.
func (c *Consumer) terminate() {
	c.mu.Lock()
	c.closed = true
	inbound := drainQueue[*Message](c.inbound)
	delivered := drainQueue[*Timer](c.delivered)
	c.caught = nil
	c.mu.Unlock()

	if c.signals != nil {
		signal.Stop(c.signals)
		close(c.relayStop)
	}

	inbound = append(inbound, drainQueue[*Message](c.pending)...)
	for _, msg := range inbound {
		msg.queued.Store(false)
		msg.Release()
	}

	withdrawn := c.timers.withdraw(c)
	for _, t := range delivered {
		t.Release()
	}
	for _, t := range withdrawn {
		t.Release()
	}

	c.closeFDs()

	c.state.Store(StateTerminated)
	close(c.loopDone)

	c.logger.Info().
		Int("messages", len(inbound)).
		Int("timers", len(delivered)+len(withdrawn)).
		Log("evm: consumer terminated")
}

func (c *Consumer) closeFDs() {
	if err := c.poller.close(); err != nil {
		c.logger.Warning().
			Err(err).
			Log("evm: failed to close poller")
	}
	if c.notify != nil {
		if err := c.notify.Close(); err != nil {
			c.logger.Warning().
				Err(err).
				Log("evm: failed to close notifier")
		}
	}
}

func drainQueue[T any](q *queue.Queue) []T {
	var out []T
	for q.Length() != 0 {
		out = append(out, q.Remove().(T))
	}
	return out
}

// onNotify consumes a notifier wakeup. Whatever was posted is picked up by
// the next loop iteration.
func (c *Consumer) onNotify(IOEvents) {
	c.notify.Drain()
}

// onAlarm consumes an alarm expiration, on behalf of every consumer sharing
// the timer service. The list is reconciled by the next check.
func (c *Consumer) onAlarm(IOEvents) {
	c.overruns.Add(c.timers.drainAlarm())
}

// relay forwards caught signals to the loop.
func (c *Consumer) relay() {
	for {
		select {
		case sig := <-c.signals:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			c.caught = append(c.caught, sig)
			err := c.notify.Notify()
			c.mu.Unlock()
			if err != nil {
				c.logger.Warning().
					Err(err).
					Str("signal", sig.String()).
					Log("evm: failed to wake consumer for signal")
			}
		case <-c.relayStop:
			return
		}
	}
}

func (c *Consumer) popSignal() os.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.caught) == 0 {
		return nil
	}
	sig := c.caught[0]
	c.caught[0] = nil
	c.caught = c.caught[1:]
	return sig
}

// handleSignal invokes the signal handler on the loop goroutine.
func (c *Consumer) handleSignal(sig os.Signal) {
	c.metrics.incSignals()
	if err := runStage(func(sig os.Signal) error {
		c.signalHandler(sig)
		return nil
	}, sig); err != nil {
		c.logger.Err().
			Err(err).
			Str("signal", sig.String()).
			Log("evm: signal handler failed")
	}
}

// popDeliveredTimer dequeues a timer forwarded by another consumer.
func (c *Consumer) popDeliveredTimer() *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.delivered.Length() == 0 {
		return nil
	}
	return c.delivered.Remove().(*Timer)
}

// deliverTimer hands an expired timer owned by c to its loop, and wakes it.
// Called by whichever consumer popped the timer from the global list.
func (c *Consumer) deliverTimer(t *Timer) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.metrics.incDropped()
		c.logger.Debug().
			Stringer("key", t.Key).
			Log("evm: dropped timer for terminated consumer")
		t.Release()
		return
	}
	c.delivered.Add(t)
	err := c.notify.Notify()
	c.mu.Unlock()

	c.metrics.incForwarded()

	if err != nil {
		c.logger.Warning().
			Err(err).
			Stringer("key", t.Key).
			Log("evm: failed to wake consumer for forwarded timer")
	}
}

// StartTimer starts a timer owned by c, see [TimerService.Start].
func (c *Consumer) StartTimer(key Key, delay time.Duration, ctx any) (*Timer, error) {
	if c == nil {
		return nil, ErrNilConsumer
	}
	return c.timers.Start(c, key, delay, ctx)
}

// TimerService returns the timer service used by c.
func (c *Consumer) TimerService() *TimerService {
	return c.timers
}

// Table returns the event table, which may be shared with other consumers.
func (c *Consumer) Table() *Table {
	return c.table
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return c.state.Load()
}

// Overruns returns the number of timer alarm expirations consumed by c.
func (c *Consumer) Overruns() uint64 {
	return c.overruns.Load()
}

// Private returns the value of the private data slot.
func (c *Consumer) Private() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.private
}

// SetPrivate sets the value of the private data slot.
func (c *Consumer) SetPrivate(v any) {
	c.mu.Lock()
	c.private = v
	c.mu.Unlock()
}

// isLoopThread checks if we're on the loop goroutine.
func (c *Consumer) isLoopThread() bool {
	loopID := c.loopGoroutineID.Load()
	if loopID == 0 {
		return false
	}
	return getGoroutineID() == loopID
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
