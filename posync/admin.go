// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posync

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ListApplied returns the most recent applied mutations for a store, newest first.
func (s *ApplyService) ListApplied(ctx context.Context, tenantID, storeID string, limit int) ([]AppliedEntry, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
        SELECT idempotency_key, table_name, op, record_id, COALESCE(remote_id::text, ''), device_id, applied_at
        FROM pos.apply_log
        WHERE tenant_id = @tenant_id AND store_id = @store_id
        ORDER BY applied_at DESC
        LIMIT @limit`,
		pgx.NamedArgs{"tenant_id": tenantID, "store_id": storeID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list applied: %w", err)
	}
	defer rows.Close()

	var out []AppliedEntry
	for rows.Next() {
		var e AppliedEntry
		if err := rows.Scan(&e.IdempotencyKey, &e.Table, &e.Op, &e.RecordID, &e.RemoteID, &e.DeviceID, &e.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountRecords returns how many live records exist for a store table. Used by operators
// to confirm replays did not duplicate anything.
func (s *ApplyService) CountRecords(ctx context.Context, tenantID, storeID, table string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
        SELECT COUNT(*) FROM pos.records
        WHERE tenant_id = $1 AND store_id = $2 AND table_name = $3 AND NOT deleted`,
		tenantID, storeID, table).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
