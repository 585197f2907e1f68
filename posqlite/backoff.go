// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posqlite

import "time"

// Backoff computes the delay before an entry that has failed retryCount times is retried.
type Backoff interface {
	Delay(retryCount int) time.Duration
}

// BackoffFunc adapts a function to Backoff
type BackoffFunc func(retryCount int) time.Duration

func (f BackoffFunc) Delay(retryCount int) time.Duration { return f(retryCount) }

// NoBackoff retries on the very next pass
var NoBackoff Backoff = BackoffFunc(func(int) time.Duration { return 0 })

// ExponentialBackoff doubles from Min on every retry, capped at Max.
type ExponentialBackoff struct {
	Min time.Duration
	Max time.Duration
}

func (b ExponentialBackoff) Delay(retryCount int) time.Duration {
	if retryCount < 1 || b.Min <= 0 {
		return 0
	}
	d := b.Min
	for i := 1; i < retryCount; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
