// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package flusher defines the serializer/flusher contract: turning
// a BatchedEvents into framed bytes and handing them to a sending
// subsystem, with the queue-push backpressure and retry behavior every
// flusher implementation must honor.
package flusher

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alibaba/loongcollector-go/pkg/batch"
	"github.com/alibaba/loongcollector-go/pkg/logging"
	"github.com/alibaba/loongcollector-go/pkg/pipeline/queue"
)

// SinkType names the transport family a Flusher ships framed bytes over.
type SinkType int

const (
	SinkUnknown SinkType = iota
	SinkHTTP
	SinkGRPC
)

func (s SinkType) String() string {
	switch s {
	case SinkHTTP:
		return "http"
	case SinkGRPC:
		return "grpc"
	default:
		return "unknown"
	}
}

// Serializer turns a batch into framed wire bytes. Implementations must be
// total (every event type produces a well-formed message), promote all
// tags, use deterministic field ordering, and fuse seconds+nanos into a
// single timestamp where the destination wants one.
type Serializer interface {
	Serialize(b batch.BatchedEvents) ([]byte, error)
}

// SidecarConfig is the opaque config handed back by Init for the legacy
// external-helper "go pipeline" path: init(config) returns an optional
// opaque sidecar config. Most flushers return nil.
type SidecarConfig any

// Flusher is the contract every built-in and plugin flusher implements.
type Flusher interface {
	Init(cfg map[string]any) (SidecarConfig, error)
	Send(ctx context.Context, key batch.Key, b batch.BatchedEvents) error
	Flush(pipelineID string) error
	FlushAll() error
	SinkType() SinkType
	BuildQueueKey(target string) string
}

// RetryPolicy bounds a flusher's internal queue-full retry before it
// reports backpressure to the caller: send on queue full
// applies internal retry with exponential-ish backoff up to a configured
// cap, then reports back-pressure to caller").
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryPolicy mirrors the documented feature-flag defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{InitialInterval: 100 * time.Millisecond, MaxInterval: 2 * time.Second, MaxElapsedTime: 10 * time.Second}
}

func (r RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.InitialInterval
	b.MaxInterval = r.MaxInterval
	b.MaxElapsedTime = r.MaxElapsedTime
	return b
}

// ErrBackpressure is returned by PushWithRetry when the retry budget is
// exhausted and the sender queue is still full.
type ErrBackpressure struct{ Key batch.Key }

func (e *ErrBackpressure) Error() string {
	return "flusher: sender queue full for " + e.Key.Logstore + "/" + e.Key.ShardHashKey
}

// PushWithRetry pushes one framed item onto fab's queue at key, retrying
// with backoff while the queue reports Full, and surfacing ErrBackpressure
// once retry's budget is exhausted.
func PushWithRetry(ctx context.Context, fab *queue.Fabric, key batch.Key, item any, policy RetryPolicy, log logging.Logger) error {
	bo := backoff.WithContext(policy.backOff(), ctx)
	operation := func() error {
		res := fab.Push(key.Logstore+"|"+key.ShardHashKey, item)
		switch res {
		case queue.PushOK:
			return nil
		case queue.PushNoSuchKey:
			return backoff.Permanent(&ErrBackpressure{Key: key})
		default:
			return &ErrBackpressure{Key: key}
		}
	}
	if err := backoff.Retry(operation, bo); err != nil {
		logging.New(log, "flusher").WithField("logstore", key.Logstore).Debug("reporting backpressure to caller after exhausting retry budget")
		return err
	}
	return nil
}
