// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package pipelinemanager

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/alibaba/loongcollector-go/pkg/alarm"
	"github.com/alibaba/loongcollector-go/pkg/batch"
	"github.com/alibaba/loongcollector-go/pkg/config"
	"github.com/alibaba/loongcollector-go/pkg/flusher"
	"github.com/alibaba/loongcollector-go/pkg/logging"
	"github.com/alibaba/loongcollector-go/pkg/model"
	"github.com/alibaba/loongcollector-go/pkg/pipeline/processor"
	"github.com/alibaba/loongcollector-go/pkg/pipeline/queue"
)

// ProcessQueueItem is what lands on the process queue: a group plus the
// pipeline that was current at push time. A swap that happens while the
// item is queued or in flight never changes which chain processes it.
type ProcessQueueItem struct {
	Group      *model.PipelineEventGroup
	Pipeline   *Pipeline
	Checkpoint *batch.Checkpoint
}

// ProcessorFactory builds one configured processor instance. The actual
// plugin registry (built-ins plus external providers) lives outside this
// package; the factory is how cmd/agent wires it in.
type ProcessorFactory func(spec config.PluginSpec) (processor.Processor, error)

// FlusherFactory builds one configured flusher instance.
type FlusherFactory func(spec config.PluginSpec, project, region string) (flusher.Flusher, error)

// Manager consumes config diffs, builds pipelines, attaches them to
// process-queue keys, and swaps them in atomically.
type Manager struct {
	fab       *queue.Fabric
	senderFab *queue.Fabric
	clock     clock.Clock
	log       logging.Logger

	buildProcessor ProcessorFactory
	buildFlusher   FlusherFactory
	alarms         *alarm.Manager
	policy         batch.Policy

	mu        sync.RWMutex
	pipelines map[string]*Pipeline
}

// NewManager builds a Manager. fab is the process-queue fabric pipelines
// are attached to. senderFab is the queue fabric flushers push onto; the
// manager registers each pipeline's sender key there as it is built, since
// a Flusher.Send that pushes to an unregistered key is always rejected.
// senderFab may be nil if no built flusher pushes onto a queue fabric.
func NewManager(fab, senderFab *queue.Fabric, clk clock.Clock, buildProcessor ProcessorFactory, buildFlusher FlusherFactory, alarms *alarm.Manager, log logging.Logger) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		fab:            fab,
		senderFab:      senderFab,
		clock:          clk,
		log:            logging.New(log, "pipelinemanager"),
		buildProcessor: buildProcessor,
		buildFlusher:   buildFlusher,
		alarms:         alarms,
		policy:         batch.DefaultPolicy(),
		pipelines:      make(map[string]*Pipeline),
	}
}

// Apply applies one Tick's worth of config diffs. A pipeline whose build
// fails keeps running its previous version unchanged — a bad config must
// never take down an already-working pipeline.
func (m *Manager) Apply(diffs []config.Diff) {
	for _, d := range diffs {
		switch d.Kind {
		case config.Removed:
			m.remove(d.Name)
		case config.Added, config.Modified:
			m.swap(d)
		}
	}
}

func (m *Manager) swap(d config.Diff) {
	p, err := m.build(d.Config)
	if err != nil {
		m.log.WithError(err).Warnf("pipeline %q: build failed, previous version (if any) keeps running", d.Name)
		m.alarms.Send(alarm.ConfigAlarm, err.Error(), "", "", "")
		return
	}

	m.fab.Register(p.ProcessQueueKey, 0)

	m.mu.Lock()
	old := m.pipelines[d.Name]
	m.pipelines[d.Name] = p
	m.mu.Unlock()

	if old != nil {
		old.Stop()
	}
}

func (m *Manager) remove(name string) {
	m.mu.Lock()
	p, ok := m.pipelines[name]
	delete(m.pipelines, name)
	m.mu.Unlock()
	if !ok {
		return
	}
	p.Stop()
	m.fab.Unregister(p.ProcessQueueKey)
}

func (m *Manager) build(cfg config.Config) (*Pipeline, error) {
	project := stringFromGlobal(cfg, "project", "")
	region := stringFromGlobal(cfg, "region", "")

	processors := make([]processor.Processor, 0, len(cfg.Processors))
	for _, spec := range cfg.Processors {
		proc, err := m.buildProcessor(spec)
		if err != nil {
			return nil, err
		}
		processors = append(processors, proc)
	}

	flushers := make([]flusher.Flusher, 0, len(cfg.Flushers))
	for _, spec := range cfg.Flushers {
		f, err := m.buildFlusher(spec, project, region)
		if err != nil {
			return nil, err
		}
		flushers = append(flushers, f)
	}

	p := &Pipeline{
		Name:            cfg.Name,
		ProcessQueueKey: cfg.Name,
		Key:             batch.Key{Logstore: stringFromGlobal(cfg, "logstore", cfg.Name), ShardHashKey: stringFromGlobal(cfg, "shard_hash_key", "")},
		Chain:           processor.NewChain(processors, m.log, m.alarms),
		Flushers:        flushers,
		log:             logging.New(m.log, "pipeline"),
		alarms:          m.alarms,
	}
	p.Batcher = batch.NewBatcher(m.policy, m.clock, p.onBatchClose, m.log)
	p.Batcher.Start()

	if m.senderFab != nil {
		m.senderFab.Register(senderQueueKey(p.Key), 0)
	}
	return p, nil
}

func senderQueueKey(k batch.Key) string { return k.Logstore + "|" + k.ShardHashKey }

func stringFromGlobal(cfg config.Config, key, def string) string {
	if cfg.Global == nil {
		return def
	}
	if v, ok := cfg.Global[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Push enqueues group onto name's process queue, attaching whichever
// Pipeline is current for name at this instant.
func (m *Manager) Push(name string, group *model.PipelineEventGroup, checkpoint *batch.Checkpoint) queue.PushResult {
	m.mu.RLock()
	p, ok := m.pipelines[name]
	m.mu.RUnlock()
	if !ok {
		return queue.PushNoSuchKey
	}
	return m.fab.Push(p.ProcessQueueKey, ProcessQueueItem{Group: group, Pipeline: p, Checkpoint: checkpoint})
}

// Pipeline returns the currently running pipeline for name, if any.
func (m *Manager) Pipeline(name string) (*Pipeline, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pipelines[name]
	return p, ok
}

// Len reports the number of currently running pipelines.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pipelines)
}

// Run drains every pipeline's process queue on each tick until ctx is
// canceled.
func (m *Manager) Run(ctx context.Context, pollInterval time.Duration) {
	ticker := m.clock.Ticker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.drainOnce()
		}
	}
}

func (m *Manager) drainOnce() {
	m.mu.RLock()
	keys := make([]string, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		keys = append(keys, p.ProcessQueueKey)
	}
	m.mu.RUnlock()

	for _, k := range keys {
		for _, raw := range m.fab.PopAll(k) {
			item, ok := raw.(ProcessQueueItem)
			if !ok || item.Pipeline == nil {
				continue
			}
			item.Pipeline.Process(item.Group, item.Checkpoint)
		}
	}
}

// StopAll tears down every running pipeline, flushing open batches first.
// Used during process shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	pipelines := make([]*Pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		pipelines = append(pipelines, p)
	}
	m.pipelines = make(map[string]*Pipeline)
	m.mu.Unlock()

	for _, p := range pipelines {
		p.Stop()
	}
}
