// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFabricPushPopFIFO(t *testing.T) {
	f := NewFabric(2)
	f.Register("p1", 0)

	assert.Equal(t, PushOK, f.Push("p1", "a"))
	assert.Equal(t, PushOK, f.Push("p1", "b"))
	assert.Equal(t, PushFull, f.Push("p1", "c"), "capacity 2 should reject the third push")

	v, ok := f.Pop("p1")
	require.True(t, ok)
	assert.Equal(t, "a", v)

	assert.Equal(t, PushOK, f.Push("p1", "c"))
	v, ok = f.Pop("p1")
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestFabricPushNoSuchKey(t *testing.T) {
	f := NewFabric(DefaultCapacity)
	assert.Equal(t, PushNoSuchKey, f.Push("missing", 1))
}

func TestFabricUnregisterDropsQueue(t *testing.T) {
	f := NewFabric(DefaultCapacity)
	f.Register("p1", 0)
	f.Push("p1", 1)
	f.Unregister("p1")
	assert.Equal(t, PushNoSuchKey, f.Push("p1", 2))
}

func TestFabricValidToPopGatesConsumption(t *testing.T) {
	f := NewFabric(DefaultCapacity)
	f.Register("p1", 0)
	f.Push("p1", "x")

	f.SetValidToPop("p1", false)
	_, ok := f.Pop("p1")
	assert.False(t, ok, "pop should be blocked while invalid-to-pop")

	f.SetValidToPop("p1", true)
	v, ok := f.Pop("p1")
	require.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestFabricUrgentBypassesCapacityAndValidity(t *testing.T) {
	f := NewFabric(1)
	f.Register("p1", 0)
	f.Push("p1", "a")
	f.SetValidToPush("p1", false)
	f.SetUrgent("p1", true)

	assert.Equal(t, PushOK, f.Push("p1", "b"), "urgent queues ignore capacity and valid-to-push")
}

func TestFabricPopAllDrainsInOrder(t *testing.T) {
	f := NewFabric(10)
	f.Register("p1", 0)
	f.Push("p1", 1)
	f.Push("p1", 2)
	f.Push("p1", 3)

	items := f.PopAll("p1")
	assert.Equal(t, []any{1, 2, 3}, items)
	assert.Equal(t, 0, f.Size("p1"))
}

func TestFabricPopAllRoundRobinAcrossKeys(t *testing.T) {
	f := NewFabric(10)
	f.Register("a", 0)
	f.Register("b", 0)
	f.Push("a", "a1")
	f.Push("a", "a2")
	f.Push("b", "b1")

	out := f.PopAllRoundRobin(1, 0)
	require.Contains(t, out, "a")
	require.Contains(t, out, "b")
	assert.Equal(t, []any{"a1", "a2"}, out["a"])
	assert.Equal(t, []any{"b1"}, out["b"])
}

func TestFabricOnDoneInvokesCallback(t *testing.T) {
	f := NewFabric(DefaultCapacity)
	f.Register("p1", 0)

	var gotKey string
	var gotResult DoneResult
	f.SetOnDone(func(key string, result DoneResult) {
		gotKey = key
		gotResult = result
	})

	f.OnDone("p1", DoneNetworkFail)
	assert.Equal(t, "p1", gotKey)
	assert.Equal(t, DoneNetworkFail, gotResult)
}

func TestFabricWaitWakesOnPush(t *testing.T) {
	f := NewFabric(DefaultCapacity)
	f.Register("p1", 0)

	done := make(chan bool, 1)
	go func() {
		done <- f.Wait(time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	f.Push("p1", "x")

	select {
	case woke := <-done:
		assert.True(t, woke)
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake up on Push")
	}
}

func TestFabricWaitTimesOut(t *testing.T) {
	f := NewFabric(DefaultCapacity)
	woke := f.Wait(10 * time.Millisecond)
	assert.False(t, woke)
}

func TestFabricCanPushReflectsCapacityAndValidity(t *testing.T) {
	f := NewFabric(1)
	f.Register("p1", 0)
	assert.True(t, f.CanPush("p1"))
	f.Push("p1", "x")
	assert.False(t, f.CanPush("p1"))
}
