// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package sender

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/alibaba/loongcollector-go/pkg/alarm"
	"github.com/alibaba/loongcollector-go/pkg/batch"
	"github.com/alibaba/loongcollector-go/pkg/diskbuffer"
	"github.com/alibaba/loongcollector-go/pkg/diskbuffer/pb"
	"github.com/alibaba/loongcollector-go/pkg/logging"
	"github.com/alibaba/loongcollector-go/pkg/pipeline/queue"
	"github.com/alibaba/loongcollector-go/pkg/sendresult"
)

// Item is one unit of work dequeued from the sender queue: a framed
// payload plus enough routing/retry context to apply the decision
// table.
type Item struct {
	Key         batch.Key
	Region      string
	Payload     []byte
	Project     string
	Logstore    string
	Attempt     int
	FirstSeen   time.Time
	Checkpoint  *batch.Checkpoint
	ExactlyOnce bool
}

// SendClient is a cached per-endpoint transport. Scheduler never assumes
// anything about it beyond Send's result classification.
type SendClient interface {
	Send(ctx context.Context, payload []byte) sendresult.Result
}

// ClientFactory builds (or refreshes, on RefreshAndRetry) a SendClient
// for one endpoint.
type ClientFactory func(endpoint string) (SendClient, error)

// Scheduler is the send scheduler.
type Scheduler struct {
	fab      *queue.Fabric
	registry *RegionRegistry
	clients  *lru.Cache[string, SendClient]
	factory  ClientFactory
	buffer   *diskbuffer.Writer
	bucket   *TokenBucket
	alarms   *alarm.Manager
	cfg      DecisionConfig
	log      logging.Logger
	clock    clock.Clock
	sem      chan struct{}
}

// NewScheduler builds a Scheduler. buffer may be nil, in which case
// MarkDownSpill degrades to MarkDownDiscard (no disk buffer configured).
func NewScheduler(fab *queue.Fabric, registry *RegionRegistry, factory ClientFactory, clientCacheSize int, buffer *diskbuffer.Writer, bucket *TokenBucket, alarms *alarm.Manager, cfg DecisionConfig, concurrency int, clk clock.Clock, log logging.Logger) (*Scheduler, error) {
	if clientCacheSize <= 0 {
		clientCacheSize = 64
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	cache, err := lru.New[string, SendClient](clientCacheSize)
	if err != nil {
		return nil, fmt.Errorf("sender: build client cache: %w", err)
	}
	return &Scheduler{
		fab:      fab,
		registry: registry,
		clients:  cache,
		factory:  factory,
		buffer:   buffer,
		bucket:   bucket,
		alarms:   alarms,
		cfg:      cfg.withDefaults(),
		log:      logging.New(log, "sender"),
		clock:    clk,
		sem:      make(chan struct{}, concurrency),
	}, nil
}

func (s *Scheduler) client(endpoint string) (SendClient, error) {
	if c, ok := s.clients.Get(endpoint); ok {
		return c, nil
	}
	c, err := s.factory(endpoint)
	if err != nil {
		return nil, err
	}
	s.clients.Add(endpoint, c)
	return c, nil
}

func (s *Scheduler) refreshClient(endpoint string) (SendClient, error) {
	s.clients.Remove(endpoint)
	return s.client(endpoint)
}

// queueKey is how Item addresses its place in the Fabric.
func queueKey(k batch.Key) string { return k.Logstore + "|" + k.ShardHashKey }

// Push enqueues item for the scheduler, stamping FirstSeen if unset, and
// returns the fabric's PushResult unchanged.
func (s *Scheduler) Push(item Item) queue.PushResult {
	if item.FirstSeen.IsZero() {
		item.FirstSeen = s.clock.Now()
	}
	return s.fab.Push(queueKey(item.Key), item)
}

// Run drains ready items up to the concurrency cap until ctx is
// canceled. One goroutine per in-flight item; the semaphore bounds how
// many run at once, matching send_request_concurrency. The set of keys
// drained is re-read from the fabric on every tick, so a queue key
// registered after Run starts (a pipeline built after the scheduler came
// up) is picked up on its very first tick rather than never.
func (s *Scheduler) Run(ctx context.Context, pollInterval time.Duration) error {
	ticker := s.clock.Ticker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.drain(ctx, s.fab.Keys())
		}
	}
}

// drain takes one snapshot of each key's ready items and dispatches them.
// Snapshotting (rather than popping until empty) matters: a retried item
// is pushed back onto the same queue, and popping in a tight loop would
// re-pick it up within the same tick with no backoff at all.
func (s *Scheduler) drain(ctx context.Context, keys []string) {
	for _, k := range keys {
		for _, raw := range s.fab.PopAll(k) {
			item, ok := raw.(Item)
			if !ok {
				continue
			}
			select {
			case s.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(it Item) {
				defer func() { <-s.sem }()
				s.attempt(ctx, it)
			}(item)
		}
	}
}

// attempt runs one send and applies the decision table's verdict.
func (s *Scheduler) attempt(ctx context.Context, item Item) {
	endpoint, ok := s.registry.PickEndpoint(item.Region)
	if !ok {
		s.handleAction(ctx, ActionMarkDownSpill, item, endpoint)
		return
	}
	client, err := s.client(endpoint)
	if err != nil {
		s.log.Warnf("sender: build client for %s: %v", endpoint, err)
		s.handleAction(ctx, ActionMarkDownSpill, item, endpoint)
		return
	}

	if s.bucket != nil {
		if err := s.bucket.Wait(ctx, int64(len(item.Payload))); err != nil {
			return
		}
	}

	item.Attempt++
	ratio := s.registry.ServerErrorRatio(item.Region)
	result := client.Send(ctx, item.Payload)
	failed := result != sendresult.Ok
	s.registry.RecordAttempt(item.Region, failed)
	if failed {
		s.registry.RecordFailure(item.Region)
	} else {
		s.registry.RecordSuccess(item.Region)
	}

	age := s.clock.Now().Sub(item.FirstSeen)
	action := Decide(result, item.Attempt, age, ratio, item.ExactlyOnce, s.cfg)
	s.handleAction(ctx, action, item, endpoint)
}

func (s *Scheduler) handleAction(ctx context.Context, action Action, item Item, endpoint string) {
	switch action {
	case ActionDone, ActionCommitDrop:
		if item.Checkpoint != nil {
			item.Checkpoint.SequenceID++
			item.Checkpoint.CommitFlag = true
		}
	case ActionRetryAsync, ActionRetryAdjustedClock:
		if res := s.fab.Push(queueKey(item.Key), item); res != queue.PushOK {
			s.spillOrDiscard(item)
		}
	case ActionRefreshRetry:
		if _, err := s.refreshClient(endpoint); err != nil {
			s.log.Warnf("sender: refresh client for %s: %v", endpoint, err)
		}
		s.fab.Push(queueKey(item.Key), item)
	case ActionMarkDownSpill:
		s.registry.SetEndpointStatus(item.Region, endpoint, EndpointDown)
		s.spillOrDiscard(item)
	case ActionMarkDownDiscard:
		s.registry.SetEndpointStatus(item.Region, endpoint, EndpointDown)
		s.recordAlarm(item, "endpoint marked down, buffering disabled")
	case ActionRecordAlarm:
		s.recordAlarm(item, "retrying after repeated failures")
		s.fab.Push(queueKey(item.Key), item)
	case ActionDiscard, ActionDiscardAlarm:
		s.recordAlarm(item, "discarded per retry policy")
	}
}

func (s *Scheduler) spillOrDiscard(item Item) {
	if s.buffer == nil {
		s.recordAlarm(item, "no disk buffer configured")
		return
	}
	err := s.buffer.Write(diskbuffer.WriteItem{
		Meta: pb.Meta{
			Project:      item.Project,
			Logstore:     item.Logstore,
			ShardHashKey: item.Key.ShardHashKey,
			RawSize:      int64(len(item.Payload)),
		},
		Payload: item.Payload,
	})
	if err != nil && s.alarms != nil {
		s.alarms.Send(alarm.SendDataFail, fmt.Sprintf("disk spill failed: %v", err), item.Project, item.Logstore, item.Region)
	}
}

// recordAlarm reports an alarm against item's project/logstore/region. The
// item's fate (kept, discarded, spilled) is decided by the caller; this only
// surfaces the event, so callers must pass a reason describing what actually
// happens to the item.
func (s *Scheduler) recordAlarm(item Item, reason string) {
	if s.alarms != nil {
		s.alarms.Send(alarm.SendDataFail, reason, item.Project, item.Logstore, item.Region)
	}
}
