// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package batch

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/alibaba/loongcollector-go/pkg/logging"
	"github.com/alibaba/loongcollector-go/pkg/model"
)

// Defaults mirror the documented feature-flag defaults.
const (
	DefaultMaxBatchBytes  = 5 * 1024 * 1024
	DefaultMaxBatchEvents = 4000
	DefaultMaxBatchAge    = 3 * time.Second
)

// Policy bounds one destination's open batch.
type Policy struct {
	MaxBytes  int
	MaxEvents int
	MaxAge    time.Duration
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{MaxBytes: DefaultMaxBatchBytes, MaxEvents: DefaultMaxBatchEvents, MaxAge: DefaultMaxBatchAge}
}

// Key identifies one destination's open batch: (logstore, shard_hash_key).
type Key struct {
	Logstore     string
	ShardHashKey string
}

// CloseReason records which condition of invariant 5 triggered the close.
type CloseReason int

const (
	ReasonForced CloseReason = iota
	ReasonBytes
	ReasonEvents
	ReasonAge
)

type openBatch struct {
	key           Key
	events        []model.PipelineEvent
	tags          model.SizedMap
	sourceBuffers []*model.SourceBuffer
	seenBuffers   map[*model.SourceBuffer]bool
	sizeBytes     int
	createdAt     time.Time
	packIDPrefix  string
}

func newOpenBatch(key Key, now time.Time) *openBatch {
	return &openBatch{
		key:         key,
		tags:        model.NewSizedMap(),
		seenBuffers: make(map[*model.SourceBuffer]bool),
		createdAt:   now,
	}
}

func (b *openBatch) addGroup(group *model.PipelineEventGroup) {
	b.events = append(b.events, group.Events...)
	b.sizeBytes += group.DataSize()
	if !b.seenBuffers[group.Arena] {
		b.seenBuffers[group.Arena] = true
		b.sourceBuffers = append(b.sourceBuffers, group.Arena)
	}
	group.Tags.Range(func(k, v model.StringView) bool {
		if _, ok := b.tags.Get(k.String()); !ok {
			b.tags.Set(k, v)
		}
		return true
	})
}

func (b *openBatch) seal(reason CloseReason) BatchedEvents {
	return BatchedEvents{
		Events:        b.events,
		Tags:          b.tags,
		SourceBuffers: b.sourceBuffers,
		SizeBytes:     b.sizeBytes,
		PackIDPrefix:  b.packIDPrefix,
	}
}

// OnClose is invoked with a sealed batch, outside the Batcher's lock.
type OnClose func(key Key, batch BatchedEvents, reason CloseReason)

// Batcher aggregates groups into per-key batches and closes them per
// Policy. One Batcher instance typically backs one flusher/pipeline
// attachment point.
type Batcher struct {
	policy  Policy
	clock   clock.Clock
	onClose OnClose
	log     logging.Logger

	mu   sync.Mutex
	open map[Key]*openBatch

	stop   chan struct{}
	ticker *clock.Ticker
	wg     sync.WaitGroup
}

// NewBatcher builds a Batcher. The background timer that scans open
// batches for age-based closing is set up by Start, which ticks every
// policy.MaxAge/4, falling back to 1s when that is not positive or
// exceeds 1s.
func NewBatcher(policy Policy, clk clock.Clock, onClose OnClose, log logging.Logger) *Batcher {
	if clk == nil {
		clk = clock.New()
	}
	return &Batcher{
		policy:  policy,
		clock:   clk,
		onClose: onClose,
		log:     logging.New(log, "batcher"),
		open:    make(map[Key]*openBatch),
	}
}

// Start launches the background age-triggered close timer.
func (b *Batcher) Start() {
	interval := b.policy.MaxAge / 4
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	b.stop = make(chan struct{})
	b.ticker = b.clock.Ticker(interval)
	b.wg.Add(1)
	go b.run()
}

func (b *Batcher) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ticker.C:
			b.closeAged()
		case <-b.stop:
			return
		}
	}
}

// Stop halts the background timer. It does not flush open batches; call
// FlushAll first if that is desired.
func (b *Batcher) Stop() {
	if b.ticker == nil {
		return
	}
	b.ticker.Stop()
	close(b.stop)
	b.wg.Wait()
}

// Add appends group's events to the open batch for key, creating one if
// necessary, then closes the batch if any Policy threshold is now met.
// checkpoint, if non-nil, marks the group exactly-once: such groups are
// never merged with others and their batch closes immediately (invariant:
// "Exactly-once batches are never merged across input groups").
func (b *Batcher) Add(key Key, group *model.PipelineEventGroup, checkpoint *Checkpoint) {
	if checkpoint != nil {
		batch := b.sealSingleGroup(key, group)
		batch.ExactlyOnceCheckpoint = checkpoint
		b.emit(key, batch, ReasonForced)
		return
	}

	b.mu.Lock()
	ob, ok := b.open[key]
	if !ok {
		ob = newOpenBatch(key, b.clock.Now())
		b.open[key] = ob
	}
	ob.addGroup(group)

	reason, shouldClose := b.checkThresholds(ob)
	if shouldClose {
		delete(b.open, key)
	}
	b.mu.Unlock()

	if shouldClose {
		b.emit(key, ob.seal(reason), reason)
	}
}

func (b *Batcher) sealSingleGroup(key Key, group *model.PipelineEventGroup) BatchedEvents {
	ob := newOpenBatch(key, b.clock.Now())
	ob.addGroup(group)
	return ob.seal(ReasonForced)
}

func (b *Batcher) checkThresholds(ob *openBatch) (CloseReason, bool) {
	if b.policy.MaxBytes > 0 && ob.sizeBytes >= b.policy.MaxBytes {
		return ReasonBytes, true
	}
	if b.policy.MaxEvents > 0 && len(ob.events) >= b.policy.MaxEvents {
		return ReasonEvents, true
	}
	if b.policy.MaxAge > 0 && b.clock.Now().Sub(ob.createdAt) >= b.policy.MaxAge {
		return ReasonAge, true
	}
	return ReasonForced, false
}

func (b *Batcher) closeAged() {
	var toEmit []struct {
		key   Key
		batch BatchedEvents
	}
	b.mu.Lock()
	now := b.clock.Now()
	for key, ob := range b.open {
		if b.policy.MaxAge > 0 && now.Sub(ob.createdAt) >= b.policy.MaxAge {
			toEmit = append(toEmit, struct {
				key   Key
				batch BatchedEvents
			}{key, ob.seal(ReasonAge)})
			delete(b.open, key)
		}
	}
	b.mu.Unlock()

	for _, e := range toEmit {
		b.emit(e.key, e.batch, ReasonAge)
	}
}

// FlushAll closes every open batch regardless of Policy, used during
// shutdown and config rotation.
func (b *Batcher) FlushAll() {
	var toEmit []struct {
		key   Key
		batch BatchedEvents
	}
	b.mu.Lock()
	for key, ob := range b.open {
		if len(ob.events) > 0 {
			toEmit = append(toEmit, struct {
				key   Key
				batch BatchedEvents
			}{key, ob.seal(ReasonForced)})
		}
		delete(b.open, key)
	}
	b.mu.Unlock()

	for _, e := range toEmit {
		b.emit(e.key, e.batch, ReasonForced)
	}
}

// Empty reports whether there are no open batches, used by the shutdown
// invariant: no open batches remain after flush_out's deadline.
func (b *Batcher) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open) == 0
}

func (b *Batcher) emit(key Key, batch BatchedEvents, reason CloseReason) {
	if len(batch.Events) == 0 {
		return
	}
	if b.onClose != nil {
		b.onClose(key, batch, reason)
	}
}
