// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posync

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// retryableSQLStates are contention failures: replaying the whole apply transaction
// is expected to succeed.
var retryableSQLStates = map[string]string{
	"40001": "serialization_failure",
	"40P01": "deadlock_detected",
	"55P03": "lock_not_available",
}

// shouldRetryApply reports whether an apply transaction that failed with err may be run
// again. The idempotency gate makes a replay safe even if the first attempt committed.
func shouldRetryApply(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := retryableSQLStates[pgErr.SQLState()]
		return ok
	}
	// Failures before anything reached the server (dial, closed pool connection).
	return pgconn.SafeToRetry(err)
}

// applyRetryDelay is a linear backoff between apply attempts
func applyRetryDelay(attempt int) time.Duration {
	return time.Duration(attempt) * 50 * time.Millisecond
}

// waitRetry sleeps for d unless ctx ends first
func waitRetry(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
