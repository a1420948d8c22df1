// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package batch implements the batching engine: timed, size- and
// count-bounded aggregation of PipelineEventGroups into BatchedEvents
// ready for a flusher.
package batch

import (
	"github.com/alibaba/loongcollector-go/pkg/model"
)

// Checkpoint is the exactly-once per-shard-hash-key commit record.
// sequence_id increments on commit; on InvalidSequenceId from the server
// the flusher commits, increments, and drops the batch.
type Checkpoint struct {
	HashKey    string
	SequenceID uint64
	ReadOffset int64
	DataSize   int64
	CommitFlag bool
}

// BatchedEvents is the result of aggregation: an immutable collection of
// one or more groups' events ready for flush. It may reference multiple
// arenas when aggregation merged groups; the arena handles are kept alive
// via SourceBuffers so serializers can borrow without copying.
type BatchedEvents struct {
	Events                []model.PipelineEvent
	Tags                  model.SizedMap
	SourceBuffers         []*model.SourceBuffer
	SizeBytes             int
	PackIDPrefix          string
	ExactlyOnceCheckpoint *Checkpoint
}

// DataSize recomputes size the way the original's BatchedEvents::DataSize
// does; callers on the hot path should prefer the cached SizeBytes field
// instead (kept in sync by the Batcher as events are appended).
func (b BatchedEvents) DataSize() int {
	total := b.Tags.DataSize()
	for _, e := range b.Events {
		total += e.DataSize()
	}
	return total
}

// EventCount returns the number of events in the batch.
func (b BatchedEvents) EventCount() int { return len(b.Events) }
