// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package processor implements the processor chain runtime: an
// ordered, single-threaded-per-group sequence of transforms over a
// PipelineEventGroup.
package processor

import (
	"github.com/alibaba/loongcollector-go/pkg/alarm"
	"github.com/alibaba/loongcollector-go/pkg/logging"
	"github.com/alibaba/loongcollector-go/pkg/model"
)

// Processor is the plugin contract: a pure Supports predicate plus a
// Process transform. Built-ins and external plugins alike implement only
// this narrow interface: a single process method.
type Processor interface {
	Name() string
	// Supports reports whether this processor has any interest in e. The
	// chain runtime does not call it directly — each Processor is
	// responsible for checking it per-event inside Process and passing
	// unsupported events through untouched — but plugins and tests use it
	// to predict behavior without running Process.
	Supports(e model.PipelineEvent) bool
	// Process transforms group in place. It must not retain group, or any
	// StringView/PipelineEvent from it, after returning.
	Process(group *model.PipelineEventGroup) error
}

// Chain runs an ordered list of processors over one group at a time. A
// Chain is owned by exactly one pipeline and must not be shared across
// pipelines; ordering and exclusive access are what let the original
// specification claim "single-threaded per group" without extra locking.
type Chain struct {
	processors []Processor
	log        logging.Logger
	alarms     *alarm.Manager
}

// NewChain returns a Chain over processors in the given (configured) order.
func NewChain(processors []Processor, log logging.Logger, alarms *alarm.Manager) *Chain {
	return &Chain{
		processors: processors,
		log:        logging.New(log, "processor_chain"),
		alarms:     alarms,
	}
}

// Process runs every processor over group in order. A processor error
// never aborts the chain or the group: processors never throw, they log
// and drop the offending event, so the
// chain logs and raises a rate-limited alarm, then continues with
// whatever the group looked like going in, since a misbehaving processor
// must not stall the rest of the pipeline.
func (c *Chain) Process(group *model.PipelineEventGroup) {
	for _, p := range c.processors {
		if err := p.Process(group); err != nil {
			c.log.WithError(err).Warnf("processor %q failed, event group continues unmodified by it", p.Name())
			c.alarms.Send(alarm.LogGroupParseFail, err.Error(), "", "", "")
		}
	}
}

// Len returns the number of processors in the chain.
func (c *Chain) Len() int { return len(c.processors) }
