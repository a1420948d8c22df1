// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package pipelinemanager

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibaba/loongcollector-go/pkg/batch"
	"github.com/alibaba/loongcollector-go/pkg/config"
	"github.com/alibaba/loongcollector-go/pkg/flusher"
	"github.com/alibaba/loongcollector-go/pkg/model"
	"github.com/alibaba/loongcollector-go/pkg/pipeline/processor"
	"github.com/alibaba/loongcollector-go/pkg/pipeline/queue"
	"github.com/alibaba/loongcollector-go/pkg/sender"
)

type countingProcessor struct {
	name  string
	calls *int32Counter
}

func (p *countingProcessor) Name() string                        { return p.name }
func (p *countingProcessor) Supports(model.PipelineEvent) bool    { return true }
func (p *countingProcessor) Process(g *model.PipelineEventGroup) error {
	p.calls.inc()
	return nil
}

type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *int32Counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type recordingFlusher struct {
	mu      sync.Mutex
	fab     *queue.Fabric
	project string
	sent    int
}

func (f *recordingFlusher) Init(map[string]any) (flusher.SidecarConfig, error) { return nil, nil }
func (f *recordingFlusher) SinkType() flusher.SinkType                        { return flusher.SinkHTTP }
func (f *recordingFlusher) BuildQueueKey(target string) string                { return target }
func (f *recordingFlusher) Flush(string) error                                { return nil }
func (f *recordingFlusher) FlushAll() error                                   { return nil }
func (f *recordingFlusher) Send(ctx context.Context, key batch.Key, b batch.BatchedEvents) error {
	f.mu.Lock()
	f.sent++
	f.mu.Unlock()
	item := sender.Item{Key: key, Project: f.project, Logstore: key.Logstore, Payload: []byte("x"), FirstSeen: time.Now()}
	f.fab.Register(key.Logstore+"|"+key.ShardHashKey, 0)
	f.fab.Push(key.Logstore+"|"+key.ShardHashKey, item)
	return nil
}

func testGroup(t *testing.T) *model.PipelineEventGroup {
	t.Helper()
	g := model.NewPipelineEventGroup(nil)
	pool := model.NewEventPool(time.Minute)
	e := pool.AcquireRawEvent(g)
	e.Content = g.Arena.CopyString("line")
	g.AddEvent(e)
	return g
}

func newTestManager(t *testing.T, senderFab *queue.Fabric, counter *int32Counter) (*Manager, *queue.Fabric) {
	processFab := queue.NewFabric(10)
	clk := clock.NewMock()

	buildProcessor := func(spec config.PluginSpec) (processor.Processor, error) {
		return &countingProcessor{name: spec.Type, calls: counter}, nil
	}
	buildFlusher := func(spec config.PluginSpec, project, region string) (flusher.Flusher, error) {
		return &recordingFlusher{fab: senderFab, project: project}, nil
	}

	m := NewManager(processFab, senderFab, clk, buildProcessor, buildFlusher, nil, nil)
	return m, processFab
}

func TestManagerApplyAddedBuildsAndAttachesPipeline(t *testing.T) {
	counter := &int32Counter{}
	senderFab := queue.NewFabric(10)
	m, _ := newTestManager(t, senderFab, counter)

	cfg := config.Config{
		Name:       "demo",
		Processors: []config.PluginSpec{{Type: "noop"}},
		Flushers:   []config.PluginSpec{{Type: "http"}},
		Global:     map[string]interface{}{"project": "proj", "logstore": "ls"},
	}
	m.Apply([]config.Diff{{Name: "demo", Kind: config.Added, Config: cfg}})

	p, ok := m.Pipeline("demo")
	require.True(t, ok)
	assert.Equal(t, "ls", p.Key.Logstore)
	assert.Equal(t, 1, m.Len())
	p.Stop()
}

func TestManagerPushAndDrainRunsChainAndFlusher(t *testing.T) {
	counter := &int32Counter{}
	senderFab := queue.NewFabric(10)
	m, processFab := newTestManager(t, senderFab, counter)

	cfg := config.Config{
		Name:       "demo",
		Processors: []config.PluginSpec{{Type: "noop"}},
		Flushers:   []config.PluginSpec{{Type: "http"}},
		Global:     map[string]interface{}{"project": "proj", "logstore": "ls"},
	}
	m.Apply([]config.Diff{{Name: "demo", Kind: config.Added, Config: cfg}})

	res := m.Push("demo", testGroup(t), nil)
	require.Equal(t, queue.PushOK, res)

	m.drainOnce()
	require.Equal(t, 1, counter.get())

	assert.Equal(t, 0, processFab.Size("demo"))
	p, _ := m.Pipeline("demo")
	p.Batcher.FlushAll()

	entries := senderFab.PopAll("ls|")
	require.Len(t, entries, 1)
}

func TestManagerApplyRemovedTearsDownPipeline(t *testing.T) {
	counter := &int32Counter{}
	senderFab := queue.NewFabric(10)
	m, processFab := newTestManager(t, senderFab, counter)

	cfg := config.Config{Name: "demo", Global: map[string]interface{}{"logstore": "ls"}}
	m.Apply([]config.Diff{{Name: "demo", Kind: config.Added, Config: cfg}})
	_, ok := m.Pipeline("demo")
	require.True(t, ok)

	m.Apply([]config.Diff{{Name: "demo", Kind: config.Removed, Config: cfg}})
	_, ok = m.Pipeline("demo")
	assert.False(t, ok)

	res := m.Push("demo", testGroup(t), nil)
	assert.Equal(t, queue.PushNoSuchKey, res)
	assert.False(t, processFab.CanPush("demo"))
}

func TestManagerSwapKeepsInFlightItemOnOldPipeline(t *testing.T) {
	counter := &int32Counter{}
	senderFab := queue.NewFabric(10)
	m, _ := newTestManager(t, senderFab, counter)

	cfg := config.Config{Name: "demo", Processors: []config.PluginSpec{{Type: "v1"}}, Global: map[string]interface{}{"logstore": "ls"}}
	m.Apply([]config.Diff{{Name: "demo", Kind: config.Added, Config: cfg}})

	oldPipeline, ok := m.Pipeline("demo")
	require.True(t, ok)

	item := ProcessQueueItem{Group: testGroup(t), Pipeline: oldPipeline}

	cfg2 := config.Config{Name: "demo", Processors: []config.PluginSpec{{Type: "v2"}}, Global: map[string]interface{}{"logstore": "ls"}}
	m.Apply([]config.Diff{{Name: "demo", Kind: config.Modified, Config: cfg2}})

	newPipeline, ok := m.Pipeline("demo")
	require.True(t, ok)
	assert.NotSame(t, oldPipeline, newPipeline)

	// the in-flight item still references the pre-swap pipeline.
	assert.Same(t, oldPipeline, item.Pipeline)
	item.Pipeline.Process(item.Group, nil)
	assert.Equal(t, 1, counter.get())
}

func TestManagerApplyBuildFailureKeepsPreviousPipelineRunning(t *testing.T) {
	senderFab := queue.NewFabric(10)
	processFab := queue.NewFabric(10)
	clk := clock.NewMock()
	calls := 0
	buildProcessor := func(spec config.PluginSpec) (processor.Processor, error) {
		calls++
		if calls > 1 {
			return nil, fmt.Errorf("boom")
		}
		return &countingProcessor{name: spec.Type, calls: &int32Counter{}}, nil
	}
	buildFlusher := func(spec config.PluginSpec, project, region string) (flusher.Flusher, error) {
		return &recordingFlusher{fab: senderFab, project: project}, nil
	}
	m := NewManager(processFab, senderFab, clk, buildProcessor, buildFlusher, nil, nil)

	cfg := config.Config{Name: "demo", Processors: []config.PluginSpec{{Type: "v1"}}}
	m.Apply([]config.Diff{{Name: "demo", Kind: config.Added, Config: cfg}})
	first, ok := m.Pipeline("demo")
	require.True(t, ok)

	m.Apply([]config.Diff{{Name: "demo", Kind: config.Modified, Config: cfg}})
	second, ok := m.Pipeline("demo")
	require.True(t, ok)
	assert.Same(t, first, second)
}
