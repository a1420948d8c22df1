// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package model

import (
	"math"
	"sync"
	"time"
)

// typedPool is a freelist for one event type, structured the way the
// original's EventPool is: a primary pool plus a backup pool guarded by
// two separate mutexes, so the common case (acquire drains primary,
// release appends to backup) needs only one lock each, and the two only
// contend with each other on the rare swap. minUnused tracks the fewest
// items ever observed in the primary pool since the last GC, bounding how
// much CheckGC is allowed to shrink it by (spec invariant 3).
type typedPool[T any] struct {
	mu    sync.Mutex
	pool  []*T
	bakMu sync.Mutex
	bak   []*T

	minUnused int
}

func newTypedPool[T any]() *typedPool[T] {
	return &typedPool[T]{minUnused: math.MaxInt}
}

func (p *typedPool[T]) acquire(reset func(*T)) *T {
	p.mu.Lock()
	if len(p.pool) == 0 {
		p.bakMu.Lock()
		p.pool, p.bak = p.bak, p.pool
		p.bakMu.Unlock()
	}
	var obj *T
	if len(p.pool) == 0 {
		p.mu.Unlock()
		obj = new(T)
		reset(obj)
		return obj
	}
	obj = p.pool[len(p.pool)-1]
	p.pool = p.pool[:len(p.pool)-1]
	if len(p.pool) < p.minUnused {
		p.minUnused = len(p.pool)
	}
	p.mu.Unlock()
	reset(obj)
	return obj
}

func (p *typedPool[T]) release(objs []*T) {
	if len(objs) == 0 {
		return
	}
	p.bakMu.Lock()
	p.bak = append(p.bak, objs...)
	p.bakMu.Unlock()
}

// checkGC shrinks pool by the smallest unused count observed since the
// last call, then resets the watermark. Returns the number of elements
// dropped (left for the GC to collect).
func (p *typedPool[T]) checkGC() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.minUnused
	if n == math.MaxInt || n == 0 {
		p.minUnused = len(p.pool)
		return 0
	}
	if n > len(p.pool) {
		n = len(p.pool)
	}
	p.pool = p.pool[:len(p.pool)-n]
	p.minUnused = len(p.pool)
	return n
}

func (p *typedPool[T]) clear() {
	p.mu.Lock()
	p.pool = nil
	p.minUnused = math.MaxInt
	p.mu.Unlock()
	p.bakMu.Lock()
	p.bak = nil
	p.bakMu.Unlock()
}

// EventPool is the shared, lock-guarded freelist set for all four event
// variants. The original implementation carried two separate RawEvent
// free-lists (DestroyAllEventPool/DestroyAllEventPoolBak both iterating
// mRawEventPool); this implementation defines exactly one RawEvent pool,
// treating the duplication as unintended.
type EventPool struct {
	logs    *typedPool[LogEvent]
	metrics *typedPool[MetricEvent]
	spans   *typedPool[SpanEvent]
	raws    *typedPool[RawEvent]

	gcInterval time.Duration
	lastGC     time.Time
	now        func() time.Time
}

// NewEventPool returns a shared EventPool whose CheckGC is a no-op if
// called more often than gcInterval.
func NewEventPool(gcInterval time.Duration) *EventPool {
	return &EventPool{
		logs:       newTypedPool[LogEvent](),
		metrics:    newTypedPool[MetricEvent](),
		spans:      newTypedPool[SpanEvent](),
		raws:       newTypedPool[RawEvent](),
		gcInterval: gcInterval,
		now:        time.Now,
	}
}

func (p *EventPool) AcquireLogEvent(group *PipelineEventGroup) *LogEvent {
	return p.logs.acquire(func(e *LogEvent) { e.reset(group) })
}

func (p *EventPool) AcquireMetricEvent(group *PipelineEventGroup) *MetricEvent {
	return p.metrics.acquire(func(e *MetricEvent) { e.reset(group) })
}

func (p *EventPool) AcquireSpanEvent(group *PipelineEventGroup) *SpanEvent {
	return p.spans.acquire(func(e *SpanEvent) { e.reset(group) })
}

func (p *EventPool) AcquireRawEvent(group *PipelineEventGroup) *RawEvent {
	return p.raws.acquire(func(e *RawEvent) { e.reset(group) })
}

func (p *EventPool) ReleaseLogEvents(events []*LogEvent)       { p.logs.release(events) }
func (p *EventPool) ReleaseMetricEvents(events []*MetricEvent) { p.metrics.release(events) }
func (p *EventPool) ReleaseSpanEvents(events []*SpanEvent)     { p.spans.release(events) }
func (p *EventPool) ReleaseRawEvents(events []*RawEvent)       { p.raws.release(events) }

// CheckGC runs at most once per gcInterval; each call shrinks every
// freelist by the smallest unused count observed since the previous GC.
// Returns false if it was a no-op due to the interval not having elapsed.
func (p *EventPool) CheckGC() bool {
	now := p.now()
	if !p.lastGC.IsZero() && now.Sub(p.lastGC) < p.gcInterval {
		return false
	}
	p.lastGC = now
	p.logs.checkGC()
	p.metrics.checkGC()
	p.spans.checkGC()
	p.raws.checkGC()
	return true
}

// Clear resets every freelist to empty. Intended for tests.
func (p *EventPool) Clear() {
	p.logs.clear()
	p.metrics.clear()
	p.spans.clear()
	p.raws.clear()
}

// LocalEventPool is the no-locking, single-goroutine-owned counterpart to
// EventPool. It is cheaper when a
// pipeline's processor worker is the sole producer and consumer of its
// own events, at the cost of not being shareable across goroutines.
type LocalEventPool struct {
	logs    []*LogEvent
	metrics []*MetricEvent
	spans   []*SpanEvent
	raws    []*RawEvent
}

// NewLocalEventPool returns a pool usable only from the goroutine that
// calls its methods.
func NewLocalEventPool() *LocalEventPool {
	return &LocalEventPool{}
}

func (p *LocalEventPool) AcquireLogEvent(group *PipelineEventGroup) *LogEvent {
	if n := len(p.logs); n > 0 {
		e := p.logs[n-1]
		p.logs = p.logs[:n-1]
		e.reset(group)
		return e
	}
	e := &LogEvent{}
	e.reset(group)
	return e
}

func (p *LocalEventPool) AcquireMetricEvent(group *PipelineEventGroup) *MetricEvent {
	if n := len(p.metrics); n > 0 {
		e := p.metrics[n-1]
		p.metrics = p.metrics[:n-1]
		e.reset(group)
		return e
	}
	e := &MetricEvent{}
	e.reset(group)
	return e
}

func (p *LocalEventPool) AcquireSpanEvent(group *PipelineEventGroup) *SpanEvent {
	if n := len(p.spans); n > 0 {
		e := p.spans[n-1]
		p.spans = p.spans[:n-1]
		e.reset(group)
		return e
	}
	e := &SpanEvent{}
	e.reset(group)
	return e
}

func (p *LocalEventPool) AcquireRawEvent(group *PipelineEventGroup) *RawEvent {
	if n := len(p.raws); n > 0 {
		e := p.raws[n-1]
		p.raws = p.raws[:n-1]
		e.reset(group)
		return e
	}
	e := &RawEvent{}
	e.reset(group)
	return e
}

func (p *LocalEventPool) ReleaseLogEvents(events []*LogEvent) {
	p.logs = append(p.logs, events...)
}
func (p *LocalEventPool) ReleaseMetricEvents(events []*MetricEvent) {
	p.metrics = append(p.metrics, events...)
}
func (p *LocalEventPool) ReleaseSpanEvents(events []*SpanEvent) {
	p.spans = append(p.spans, events...)
}
func (p *LocalEventPool) ReleaseRawEvents(events []*RawEvent) {
	p.raws = append(p.raws, events...)
}
