// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evm

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// sampleSize is the maximum number of latency samples to retain.
const sampleSize = 1000

// Metrics is a snapshot of a consumer's runtime statistics, see
// [WithMetrics] and [Consumer.Metrics].
type Metrics struct {
	// Latency is the distribution of dispatch durations, messages and
	// timers combined, over the most recent samples.
	Latency LatencyMetrics

	// Queue tracks the depth of the inbound message queue.
	Queue QueueMetrics

	// Messages is the number of messages dispatched.
	Messages uint64

	// Timers is the number of timers dispatched, including stopped timers.
	Timers uint64

	// Failures is the number of events where at least one stage failed,
	// including receive failures.
	Failures uint64

	// Forwarded is the number of timers delivered by other consumers.
	Forwarded uint64

	// Dropped is the number of events released without dispatch, because
	// they were unknown, or their owner had terminated.
	Dropped uint64

	// Signals is the number of signals handled.
	Signals uint64

	// Suppressed is the number of failure logs dropped by rate limiting.
	Suppressed uint64
}

// LatencyMetrics holds dispatch latency percentiles.
type LatencyMetrics struct {
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

// QueueMetrics holds inbound queue depth statistics.
type QueueMetrics struct {
	Current int
	Max     int
	// Avg is an exponential moving average with alpha=0.1, initialized to
	// the first observed depth.
	Avg float64
}

type metrics struct {
	messages   atomic.Uint64
	timers     atomic.Uint64
	failures   atomic.Uint64
	forwarded  atomic.Uint64
	dropped    atomic.Uint64
	signals    atomic.Uint64
	suppressed atomic.Uint64

	latency latencyRing
	queue   queueStats
}

func newMetrics() *metrics {
	return new(metrics)
}

// Metrics returns a snapshot of the consumer's statistics, or false if
// metrics were not enabled.
func (c *Consumer) Metrics() (Metrics, bool) {
	if c == nil || c.metrics == nil {
		return Metrics{}, false
	}
	m := c.metrics
	return Metrics{
		Latency:    m.latency.snapshot(),
		Queue:      m.queue.snapshot(),
		Messages:   m.messages.Load(),
		Timers:     m.timers.Load(),
		Failures:   m.failures.Load(),
		Forwarded:  m.forwarded.Load(),
		Dropped:    m.dropped.Load(),
		Signals:    m.signals.Load(),
		Suppressed: m.suppressed.Load(),
	}, true
}

func (m *metrics) recordMessage(d time.Duration) {
	m.messages.Add(1)
	m.latency.record(d)
}

func (m *metrics) recordTimer(d time.Duration) {
	m.timers.Add(1)
	m.latency.record(d)
}

func (m *metrics) incFailures() {
	if m != nil {
		m.failures.Add(1)
	}
}

func (m *metrics) incForwarded() {
	if m != nil {
		m.forwarded.Add(1)
	}
}

func (m *metrics) incDropped() {
	if m != nil {
		m.dropped.Add(1)
	}
}

func (m *metrics) incSignals() {
	if m != nil {
		m.signals.Add(1)
	}
}

func (m *metrics) incSuppressed() {
	if m != nil {
		m.suppressed.Add(1)
	}
}

func (m *metrics) observeInbound(depth int) {
	if m != nil {
		m.queue.update(depth)
	}
}

// latencyRing is a rolling buffer of latency samples.
type latencyRing struct {
	samples [sampleSize]time.Duration
	sum     time.Duration
	idx     int
	count   int
	mu      sync.Mutex
}

func (l *latencyRing) record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// replacing the oldest sample
	if l.count >= sampleSize {
		l.sum -= l.samples[l.idx]
	}

	l.samples[l.idx] = d
	l.sum += d
	l.idx++
	if l.idx >= sampleSize {
		l.idx = 0
	}
	if l.count < sampleSize {
		l.count++
	}
}

func (l *latencyRing) snapshot() LatencyMetrics {
	l.mu.Lock()
	count := l.count
	sorted := slices.Clone(l.samples[:count])
	sum := l.sum
	l.mu.Unlock()

	if count == 0 {
		return LatencyMetrics{}
	}

	slices.Sort(sorted)

	return LatencyMetrics{
		P50:   sorted[percentileIndex(count, 50)],
		P90:   sorted[percentileIndex(count, 90)],
		P99:   sorted[percentileIndex(count, 99)],
		Max:   sorted[count-1],
		Mean:  sum / time.Duration(count),
		Count: count,
	}
}

// percentileIndex computes the index for a given percentile (0-100).
func percentileIndex(n, p int) int {
	index := (p * n) / 100
	if index >= n {
		return n - 1
	}
	return index
}

type queueStats struct {
	current     int
	max         int
	avg         float64
	initialized bool
	mu          sync.Mutex
}

func (q *queueStats) update(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.current = depth
	if depth > q.max {
		q.max = depth
	}
	if !q.initialized {
		q.avg = float64(depth)
		q.initialized = true
	} else {
		q.avg = 0.9*q.avg + 0.1*float64(depth)
	}
}

func (q *queueStats) snapshot() QueueMetrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueMetrics{Current: q.current, Max: q.max, Avg: q.avg}
}
