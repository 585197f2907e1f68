// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SweepResult counts rows removed by one retention sweep
type SweepResult struct {
	Entries      int
	Transactions int
}

// Sweep removes synced queue entries created more than Config.Retention before now.
// An entry linked to a sale that is not synced is always kept. When
// Config.TransactionRetention is set, synced sales older than that with no remaining
// queue entries are removed too.
func (s *Store) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var out SweepResult
	cutoff := now.Add(-s.config.Retention)
	err := s.withTx(ctx, "sweep", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM _pos_sync_queue
			WHERE status = 'synced' AND created_at < ?
			  AND (tx_id IS NULL OR EXISTS (
				SELECT 1 FROM _pos_pending_tx p WHERE p.id = _pos_sync_queue.tx_id AND p.status = 'synced'))`,
			toMillis(cutoff))
		if err != nil {
			return fmt.Errorf("failed to sweep queue: %w", err)
		}
		n, _ := res.RowsAffected()
		out.Entries = int(n)

		if s.config.TransactionRetention <= 0 {
			return nil
		}
		res, err = tx.ExecContext(ctx, `
			DELETE FROM _pos_pending_tx
			WHERE status = 'synced' AND created_at < ?
			  AND NOT EXISTS (SELECT 1 FROM _pos_sync_queue q WHERE q.tx_id = _pos_pending_tx.id)`,
			toMillis(now.Add(-s.config.TransactionRetention)))
		if err != nil {
			return fmt.Errorf("failed to sweep transactions: %w", err)
		}
		n, _ = res.RowsAffected()
		out.Transactions = int(n)
		return nil
	})
	if err != nil {
		return SweepResult{}, err
	}
	if out.Entries > 0 || out.Transactions > 0 {
		s.logger.Info("Retention sweep", "entries", out.Entries, "transactions", out.Transactions, "cutoff", cutoff)
	}
	return out, nil
}
