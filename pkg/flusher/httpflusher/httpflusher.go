// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package httpflusher is the default Flusher: it serializes
// BatchedEvents into the hand-encoded LogGroup protobuf wire format and
// pushes the framed bytes onto the sender queue for the send scheduler
// (C10) to transmit.
package httpflusher

import (
	"context"
	"strconv"
	"time"

	"github.com/alibaba/loongcollector-go/pkg/batch"
	"github.com/alibaba/loongcollector-go/pkg/flusher"
	"github.com/alibaba/loongcollector-go/pkg/logging"
	"github.com/alibaba/loongcollector-go/pkg/model"
	"github.com/alibaba/loongcollector-go/pkg/pipeline/queue"
	"github.com/alibaba/loongcollector-go/pkg/sender"
	"github.com/alibaba/loongcollector-go/pkg/wire"
)

// Config is the flusher's static configuration.
type Config struct {
	Endpoint    string
	Project     string
	Region      string
	MachineUUID string
}

// Flusher implements flusher.Flusher over the SenderQueue fabric.
type Flusher struct {
	cfg   Config
	queue *queue.Fabric
	retry flusher.RetryPolicy
	log   logging.Logger
}

// New returns an httpflusher.Flusher that pushes onto fab.
func New(cfg Config, fab *queue.Fabric, log logging.Logger) *Flusher {
	return &Flusher{
		cfg:   cfg,
		queue: fab,
		retry: flusher.DefaultRetryPolicy(),
		log:   logging.New(log, "httpflusher"),
	}
}

func (f *Flusher) Init(_ map[string]any) (flusher.SidecarConfig, error) { return nil, nil }

func (f *Flusher) SinkType() flusher.SinkType { return flusher.SinkHTTP }

func (f *Flusher) BuildQueueKey(target string) string { return f.cfg.Project + "/" + target }

// Send serializes b and pushes the framed bytes onto the sender queue,
// retrying with backoff while the queue is full and reporting
// backpressure to the caller once the retry budget is spent.
func (f *Flusher) Send(ctx context.Context, key batch.Key, b batch.BatchedEvents) error {
	lg := toLogGroup(f.cfg, key, b)
	payload, err := lg.Marshal()
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

func toLogGroup(cfg Config, key batch.Key, b batch.BatchedEvents) wire.LogGroup {
	lg := wire.LogGroup{
		Category:    key.Logstore,
		Topic:       key.ShardHashKey,
		Source:      cfg.Endpoint,
		MachineUUID: cfg.MachineUUID,
	}
	b.Tags.Range(func(k, v model.StringView) bool {
		lg.LogTags = append(lg.LogTags, wire.LogTag{Key: k.String(), Value: v.String()})
		return true
	})
	for _, e := range b.Events {
		seconds := e.TimestampSeconds()
		nanos, _ := e.TimestampNanos()
		log := wire.Log{TimeNs: uint64(seconds)*1e9 + uint64(nanos)}
		switch ev := e.(type) {
		case *model.LogEvent:
			ev.Contents.Range(func(k, v model.StringView) bool {
				log.Contents = append(log.Contents, wire.Content{Key: k.String(), Value: v.String()})
				return true
			})
		case *model.MetricEvent:
			log.Contents = append(log.Contents, wire.Content{Key: "__name__", Value: ev.Name.String()})
			if ev.Value.Kind == model.MetricValueUntypedSingle {
				log.Contents = append(log.Contents, wire.Content{Key: "__value__", Value: strconv.FormatFloat(ev.Value.Single, 'g', -1, 64)})
			} else {
				for k, v := range ev.Value.Multi {
					log.Contents = append(log.Contents, wire.Content{Key: "__value__" + k, Value: strconv.FormatFloat(v, 'g', -1, 64)})
				}
			}
			ev.Tags.Range(func(k, v model.StringView) bool {
				log.Contents = append(log.Contents, wire.Content{Key: k.String(), Value: v.String()})
				return true
			})
		case *model.SpanEvent:
			log.Contents = append(log.Contents, wire.Content{Key: "name", Value: ev.Name.String()})
			log.Contents = append(log.Contents, wire.Content{Key: "trace_id", Value: ev.TraceID.String()})
			log.Contents = append(log.Contents, wire.Content{Key: "span_id", Value: ev.SpanID.String()})
			ev.Tags.Range(func(k, v model.StringView) bool {
				log.Contents = append(log.Contents, wire.Content{Key: k.String(), Value: v.String()})
				return true
			})
		case *model.RawEvent:
			log.Contents = append(log.Contents, wire.Content{Key: "content", Value: ev.Content.String()})
		}
		lg.Logs = append(lg.Logs, log)
	}
	return lg
}
