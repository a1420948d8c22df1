// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package pipelinemanager builds pipelines (processor chain + batcher +
// flushers) from config diffs, attaches them to their process-queue keys,
// and atomically swaps them in as configs change.
package pipelinemanager

import (
	"context"

	"github.com/alibaba/loongcollector-go/pkg/alarm"
	"github.com/alibaba/loongcollector-go/pkg/batch"
	"github.com/alibaba/loongcollector-go/pkg/flusher"
	"github.com/alibaba/loongcollector-go/pkg/logging"
	"github.com/alibaba/loongcollector-go/pkg/model"
	"github.com/alibaba/loongcollector-go/pkg/pipeline/processor"
)

// Pipeline is one running input->processors->flushers attachment. A
// ProcessQueueItem carries a direct pointer to the Pipeline that was
// current when it was enqueued, so a later swap never substitutes the
// processor chain under an item already in flight.
type Pipeline struct {
	Name            string
	ProcessQueueKey string
	Key             batch.Key
	Chain           *processor.Chain
	Batcher         *batch.Batcher
	Flushers        []flusher.Flusher

	log    logging.Logger
	alarms *alarm.Manager
}

// Process runs group through the chain and into the batcher. checkpoint,
// if non-nil, marks group as an exactly-once unit (see batch.Batcher.Add).
func (p *Pipeline) Process(group *model.PipelineEventGroup, checkpoint *batch.Checkpoint) {
	p.Chain.Process(group)
	p.Batcher.Add(p.Key, group, checkpoint)
}

// onBatchClose fans a sealed batch out to every configured flusher. A
// flusher error is logged and alarmed but never blocks the others — one
// misconfigured destination must not starve the rest of a pipeline's
// outputs.
func (p *Pipeline) onBatchClose(key batch.Key, b batch.BatchedEvents, _ batch.CloseReason) {
	for _, f := range p.Flushers {
		if err := f.Send(context.Background(), key, b); err != nil {
			p.log.WithError(err).Warnf("pipeline %q: flusher send failed", p.Name)
			p.alarms.Send(alarm.SendDataFail, err.Error(), "", key.Logstore, "")
		}
	}
}

// Stop halts the batcher's background timer and flushes whatever is
// still open, used when the pipeline is torn down (Removed) or on
// process shutdown.
func (p *Pipeline) Stop() {
	p.Batcher.FlushAll()
	p.Batcher.Stop()
	for _, f := range p.Flushers {
		f.FlushAll()
	}
}
