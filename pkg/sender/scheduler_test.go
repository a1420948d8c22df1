// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package sender

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibaba/loongcollector-go/pkg/batch"
	"github.com/alibaba/loongcollector-go/pkg/diskbuffer"
	"github.com/alibaba/loongcollector-go/pkg/pipeline/queue"
	"github.com/alibaba/loongcollector-go/pkg/sendresult"
)

type stubClient struct {
	mu      sync.Mutex
	results []sendresult.Result
	calls   int
}

func (c *stubClient) Send(ctx context.Context, payload []byte) sendresult.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	if i >= len(c.results) {
		i = len(c.results) - 1
	}
	c.calls++
	return c.results[i]
}

func newTestScheduler(t *testing.T, client *stubClient, buffer *diskbuffer.Writer) (*Scheduler, *queue.Fabric, *RegionRegistry) {
	fab := queue.NewFabric(10)
	fab.Register("ls|h1", 0)
	registry := NewRegionRegistry()
	registry.AddRegion("cn-hangzhou", "ep-default", 10)

	sched, err := NewScheduler(fab, registry, func(endpoint string) (SendClient, error) {
		return client, nil
	}, 10, buffer, nil, nil, DecisionConfig{BufferOrNot: true}, 4, clock.NewMock(), nil)
	require.NoError(t, err)
	return sched, fab, registry
}

func TestSchedulerSuccessCommitsCheckpoint(t *testing.T) {
	client := &stubClient{results: []sendresult.Result{sendresult.Ok}}
	sched, fab, _ := newTestScheduler(t, client, nil)

	cp := &batch.Checkpoint{HashKey: "h1"}
	key := batch.Key{Logstore: "ls", ShardHashKey: "h1"}
	res := sched.Push(Item{Key: key, Region: "cn-hangzhou", Payload: []byte("x"), Checkpoint: cp})
	require.Equal(t, queue.PushOK, res)

	sched.drain(context.Background(), []string{"ls|h1"})
	waitForEmpty(t, fab, "ls|h1")

	assert.True(t, cp.CommitFlag)
	assert.Equal(t, uint64(1), cp.SequenceID)
}

func TestSchedulerRetriesNetworkErrorThenSucceeds(t *testing.T) {
	client := &stubClient{results: []sendresult.Result{sendresult.NetworkError, sendresult.Ok}}
	sched, fab, _ := newTestScheduler(t, client, nil)

	key := batch.Key{Logstore: "ls", ShardHashKey: "h1"}
	sched.Push(Item{Key: key, Region: "cn-hangzhou", Payload: []byte("x")})

	sched.drain(context.Background(), []string{"ls|h1"})
	waitFor(t, func() bool { return fab.Size("ls|h1") == 1 })

	sched.drain(context.Background(), []string{"ls|h1"})
	waitForEmpty(t, fab, "ls|h1")
}

func TestSchedulerSpillsToDiskBufferOnMarkDown(t *testing.T) {
	fs := afero.NewMemMapFs()
	clk := clock.NewMock()
	w, err := diskbuffer.NewWriter(fs, clk, diskbuffer.Config{Dir: "/buffer", Key: []byte("0123456789abcdef")}, nil)
	require.NoError(t, err)

	client := &stubClient{results: []sendresult.Result{sendresult.NetworkError}}
	sched, fab, _ := newTestScheduler(t, client, w)

	key := batch.Key{Logstore: "ls", ShardHashKey: "h1"}
	sched.Push(Item{Key: key, Region: "cn-hangzhou", Payload: []byte("x"), Project: "proj", Logstore: "ls", Attempt: 10})

	sched.drain(context.Background(), []string{"ls|h1"})
	waitFor(t, func() bool {
		entries, _ := afero.ReadDir(fs, "/buffer")
		return len(entries) == 1
	})
	waitForEmpty(t, fab, "ls|h1")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func waitForEmpty(t *testing.T, fab *queue.Fabric, key string) {
	t.Helper()
	waitFor(t, func() bool { return fab.Size(key) == 0 })
}
