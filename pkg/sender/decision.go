// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package sender is the send scheduler: concurrent request slots,
// per-region endpoint health, the failure decision table, and the
// token-bucket flow control shared by the real-time and replay paths.
package sender

import (
	"time"

	"github.com/alibaba/loongcollector-go/pkg/sendresult"
)

// Action is what the scheduler does with one item after a send attempt.
type Action int

const (
	ActionDone Action = iota
	ActionRetryAsync
	ActionMarkDownSpill
	ActionMarkDownDiscard
	ActionRecordAlarm
	ActionRefreshRetry
	ActionDiscard
	ActionCommitDrop
	ActionRetryAdjustedClock
	ActionDiscardAlarm
)

// DecisionConfig bundles the thresholds the decision table is parameterized by.
type DecisionConfig struct {
	MaxRetries                int
	ServerErrorRatioThreshold float64
	BufferOrNot               bool
	UnauthorizedMaxRetries    int
	UnauthorizedResetWindow   time.Duration
	TimeAdjustEnabled         bool
	DiscardSendFailInterval   time.Duration
}

func (c DecisionConfig) withDefaults() DecisionConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.ServerErrorRatioThreshold <= 0 {
		c.ServerErrorRatioThreshold = 0.5
	}
	if c.UnauthorizedMaxRetries <= 0 {
		c.UnauthorizedMaxRetries = 5
	}
	if c.UnauthorizedResetWindow <= 0 {
		c.UnauthorizedResetWindow = time.Hour
	}
	if c.DiscardSendFailInterval <= 0 {
		c.DiscardSendFailInterval = 6 * time.Hour
	}
	return c
}

// Decide implements the failure decision table. attempt is the 1-based number
// of attempts already made (including the one that just produced result);
// age is how long ago the item first entered the scheduler;
// serverErrorRatio is the region's rolling server-error ratio;
// exactlyOnce marks an item carrying a checkpoint sequence.
func Decide(result sendresult.Result, attempt int, age time.Duration, serverErrorRatio float64, exactlyOnce bool, cfg DecisionConfig) Action {
	cfg = cfg.withDefaults()

	if age > cfg.DiscardSendFailInterval {
		return ActionDiscardAlarm
	}

	switch result {
	case sendresult.Ok:
		return ActionDone
	case sendresult.NetworkError, sendresult.ServerError:
		if serverErrorRatio < cfg.ServerErrorRatioThreshold && attempt < cfg.MaxRetries {
			return ActionRetryAsync
		}
		if cfg.BufferOrNot {
			return ActionMarkDownSpill
		}
		return ActionMarkDownDiscard
	case sendresult.QuotaExceed:
		return ActionRecordAlarm
	case sendresult.Unauthorized:
		if age > cfg.UnauthorizedResetWindow {
			return ActionDiscard
		}
		if attempt < cfg.UnauthorizedMaxRetries {
			return ActionRefreshRetry
		}
		return ActionDiscard
	case sendresult.InvalidSequenceID:
		if exactlyOnce {
			return ActionCommitDrop
		}
		return ActionDiscard
	case sendresult.RequestTimeExpired:
		if cfg.TimeAdjustEnabled {
			return ActionRetryAdjustedClock
		}
		return ActionDiscard
	case sendresult.Discardable:
		return ActionDiscard
	default:
		// unknown error: first retry immediate, 2nd-5th recorded, then
		// discard.
		if attempt <= 1 {
			return ActionRetryAsync
		}
		if attempt <= 5 {
			return ActionRecordAlarm
		}
		return ActionDiscard
	}
}
