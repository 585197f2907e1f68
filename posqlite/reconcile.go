// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fyliacare/warehousepos/posync"
)

// markInFlight claims a pending entry for sending. It reports false when the entry is
// no longer pending (retried or failed by someone else since the snapshot).
func (s *Store) markInFlight(ctx context.Context, id int64) (bool, error) {
	var claimed bool
	err := s.withTx(ctx, "mark in-flight", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE _pos_sync_queue SET status = 'in_flight' WHERE id = ? AND status = 'pending'`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		claimed = n == 1
		return err
	})
	return claimed, err
}

// releaseInFlight returns an entry to pending without spending a retry (cancelled send)
func (s *Store) releaseInFlight(ctx context.Context, id int64) error {
	return s.withTx(ctx, "release in-flight", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE _pos_sync_queue SET status = 'pending' WHERE id = ? AND status = 'in_flight'`, id)
		return err
	})
}

// markSynced records the remote acceptance and reconciles the sale in the same transaction.
// The retry counter is frozen at its current value.
func (s *Store) markSynced(ctx context.Context, e *SyncQueueEntry, remoteID string) error {
	now := s.now().UTC()
	return s.withTx(ctx, "mark synced", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE _pos_sync_queue
			SET status = 'synced', synced_at = ?, remote_id = ?, last_error = '', next_attempt_at = 0
			WHERE id = ?`, toMillis(now), remoteID, e.ID); err != nil {
			return fmt.Errorf("failed to mark entry %d synced: %w", e.ID, err)
		}
		if !reconcilesSale(e) {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE _pos_pending_tx SET status = 'synced', remote_id = NULLIF(?, '')
			WHERE id = ?`, remoteID, e.TransactionID); err != nil {
			return fmt.Errorf("failed to reconcile transaction %d: %w", e.TransactionID, err)
		}
		return nil
	})
}

// markRetry spends one retry. Below maxRetries the entry goes back to pending, gated
// by nextAttempt; at maxRetries it fails. Reports whether the entry failed.
func (s *Store) markRetry(ctx context.Context, e *SyncQueueEntry, lastErr string, maxRetries int, nextAttempt time.Time) (bool, error) {
	retries := e.RetryCount + 1
	if retries >= maxRetries {
		return true, s.markFailed(ctx, e, lastErr, maxRetries)
	}
	err := s.withTx(ctx, "mark retry", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE _pos_sync_queue
			SET status = 'pending', retry_count = ?, last_error = ?, next_attempt_at = ?
			WHERE id = ?`, retries, lastErr, toMillis(nextAttempt), e.ID)
		return err
	})
	return false, err
}

// markFailed moves an entry to failed with its retry budget exhausted and demotes the sale.
func (s *Store) markFailed(ctx context.Context, e *SyncQueueEntry, lastErr string, maxRetries int) error {
	return s.withTx(ctx, "mark failed", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE _pos_sync_queue
			SET status = 'failed', retry_count = ?, last_error = ?, next_attempt_at = 0
			WHERE id = ?`, maxRetries, lastErr, e.ID); err != nil {
			return fmt.Errorf("failed to mark entry %d failed: %w", e.ID, err)
		}
		if !reconcilesSale(e) {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE _pos_pending_tx SET status = 'failed', remote_id = NULL
			WHERE id = ? AND status != 'synced'`, e.TransactionID); err != nil {
			return fmt.Errorf("failed to reconcile transaction %d: %w", e.TransactionID, err)
		}
		return nil
	})
}

// RetryFailed re-queues every failed entry of scope: retry count 0, status pending, and
// their sales back to pending. Returns the number of entries re-queued.
func (s *Store) RetryFailed(ctx context.Context, scope Scope) (int, error) {
	var n int64
	err := s.withTx(ctx, "retry failed", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE _pos_pending_tx SET status = 'pending'
			WHERE status = 'failed' AND id IN (
				SELECT tx_id FROM _pos_sync_queue
				WHERE tenant_id = ? AND store_id = ? AND status = 'failed'
				  AND table_name = ? AND op = ? AND tx_id IS NOT NULL)`,
			scope.TenantID, scope.StoreID, posync.TableSales, posync.OpCreate); err != nil {
			return fmt.Errorf("failed to reset transactions: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE _pos_sync_queue
			SET status = 'pending', retry_count = 0, next_attempt_at = 0
			WHERE tenant_id = ? AND store_id = ? AND status = 'failed'`,
			scope.TenantID, scope.StoreID)
		if err != nil {
			return fmt.Errorf("failed to reset entries: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Failed entries re-queued", "scope", scope, "count", n)
	}
	return int(n), nil
}

// reconcilesSale reports whether e is the create entry of a recorded sale
func reconcilesSale(e *SyncQueueEntry) bool {
	return e.TransactionID != 0 && e.Table == posync.TableSales && e.Op == posync.OpCreate
}
