// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package sender

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TokenBucket is the per-thread bytes_per_second flow control:
// callers sleep until the window resets rather than being denied
// outright. Separate buckets are kept for the real-time and replay
// paths so a backlog drain never starves live traffic.
type TokenBucket struct {
	mu         sync.Mutex
	clock      clock.Clock
	bytesPerS  int64
	windowSize time.Duration
	available  int64
	windowEnd  time.Time
}

// NewTokenBucket returns a bucket refilling to bytesPerSecond at the
// start of every one-second window.
func NewTokenBucket(clk clock.Clock, bytesPerSecond int64) *TokenBucket {
	return &TokenBucket{
		clock:      clk,
		bytesPerS:  bytesPerSecond,
		windowSize: time.Second,
		available:  bytesPerSecond,
		windowEnd:  clk.Now().Add(time.Second),
	}
}

// Wait blocks (or returns ctx.Err()) until n bytes' worth of budget is
// available, then consumes it.
func (b *TokenBucket) Wait(ctx context.Context, n int64) error {
	for {
		b.mu.Lock()
		now := b.clock.Now()
		if !now.Before(b.windowEnd) {
			b.available = b.bytesPerS
			b.windowEnd = now.Add(b.windowSize)
		}
		if b.available >= n || b.bytesPerS <= 0 {
			b.available -= n
			b.mu.Unlock()
			return nil
		}
		sleepUntil := b.windowEnd
		b.mu.Unlock()

		timer := b.clock.Timer(sleepUntil.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
