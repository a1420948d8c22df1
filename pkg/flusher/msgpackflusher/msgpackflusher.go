// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package msgpackflusher is an alternate Flusher for destinations
// that accept a MessagePack-framed batch instead of the protobuf LogGroup
// wire format — e.g. a local collector-agent sidecar.
package msgpackflusher

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/alibaba/loongcollector-go/pkg/batch"
	"github.com/alibaba/loongcollector-go/pkg/flusher"
	"github.com/alibaba/loongcollector-go/pkg/logging"
	"github.com/alibaba/loongcollector-go/pkg/model"
	"github.com/alibaba/loongcollector-go/pkg/pipeline/queue"
	"github.com/alibaba/loongcollector-go/pkg/sender"
)

// WireLog is the msgpack-serializable shape of one event.
type WireLog struct {
	TimestampNs int64             `msgpack:"ts"`
	Kind        string            `msgpack:"kind"`
	Fields      map[string]string `msgpack:"fields"`
}

// WireBatch is the msgpack-serializable shape of a whole batch.
type WireBatch struct {
	Logstore string            `msgpack:"logstore"`
	Tags     map[string]string `msgpack:"tags"`
	Logs     []WireLog         `msgpack:"logs"`
}

// Config is the flusher's static configuration.
type Config struct {
	Target  string
	Project string
	Region  string
}

// Flusher implements flusher.Flusher by msgpack-encoding batches.
type Flusher struct {
	cfg   Config
	queue *queue.Fabric
	retry flusher.RetryPolicy
	log   logging.Logger
}

// New returns a msgpackflusher.Flusher that pushes onto fab.
func New(cfg Config, fab *queue.Fabric, log logging.Logger) *Flusher {
	return &Flusher{cfg: cfg, queue: fab, retry: flusher.DefaultRetryPolicy(), log: logging.New(log, "msgpackflusher")}
}

func (f *Flusher) Init(_ map[string]any) (flusher.SidecarConfig, error) { return nil, nil }

func (f *Flusher) SinkType() flusher.SinkType { return flusher.SinkHTTP }

func (f *Flusher) BuildQueueKey(target string) string { return f.cfg.Target + "/" + target }

func (f *Flusher) Send(ctx context.Context, key batch.Key, b batch.BatchedEvents) error {
	wb := toWireBatch(key, b)
	payload, err := msgpack.Marshal(wb)
	if err != nil {
		return err
	}
	item := sender.Item{
		Key:         key,
		Region:      f.cfg.Region,
		Payload:     payload,
		Project:     f.cfg.Project,
		Logstore:    key.Logstore,
		FirstSeen:   time.Now(),
		ExactlyOnce: b.ExactlyOnceCheckpoint != nil,
		Checkpoint:  b.ExactlyOnceCheckpoint,
	}
	return flusher.PushWithRetry(ctx, f.queue, key, item, f.retry, f.log)
}

func (f *Flusher) Flush(pipelineID string) error { return nil }

func (f *Flusher) FlushAll() error { return nil }

func toWireBatch(key batch.Key, b batch.BatchedEvents) WireBatch {
	wb := WireBatch{Logstore: key.Logstore, Tags: make(map[string]string, b.Tags.Len())}
	b.Tags.Range(func(k, v model.StringView) bool {
		wb.Tags[k.String()] = v.String()
		return true
	})
	for _, e := range b.Events {
		seconds := e.TimestampSeconds()
		nanos, _ := e.TimestampNanos()
		wl := WireLog{TimestampNs: seconds*1e9 + int64(nanos), Kind: e.Kind().String(), Fields: map[string]string{}}
		switch ev := e.(type) {
		case *model.LogEvent:
			ev.Contents.Range(func(k, v model.StringView) bool { wl.Fields[k.String()] = v.String(); return true })
		case *model.MetricEvent:
			wl.Fields["__name__"] = ev.Name.String()
			ev.Tags.Range(func(k, v model.StringView) bool { wl.Fields[k.String()] = v.String(); return true })
		case *model.SpanEvent:
			wl.Fields["name"] = ev.Name.String()
			wl.Fields["trace_id"] = ev.TraceID.String()
			ev.Tags.Range(func(k, v model.StringView) bool { wl.Fields[k.String()] = v.String(); return true })
		case *model.RawEvent:
			wl.Fields["content"] = ev.Content.String()
		}
		wb.Logs = append(wb.Logs, wl)
	}
	return wb
}
