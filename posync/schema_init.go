// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posync

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// initializeSchemaInTx creates the canonical store tables within an existing transaction
func (s *ApplyService) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS pos`,

		// 1) Idempotency gate: one row per applied (tenant, store, key)
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.apply_log (
			tenant_id       TEXT        NOT NULL,
			store_id        TEXT        NOT NULL,
			idempotency_key TEXT        NOT NULL,
			device_id       TEXT        NOT NULL,
			table_name      TEXT        NOT NULL,
			op              TEXT        NOT NULL CHECK (op IN ('create','update','delete')),
			record_id       TEXT        NOT NULL,
			remote_id       UUID,
			applied_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, store_id, idempotency_key)
		)`,
		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS apply_log_store_time_idx
			ON pos.apply_log (tenant_id, store_id, applied_at DESC)`,

		// 2) Current after-image per terminal record
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS pos.records (
			tenant_id      TEXT        NOT NULL,
			store_id       TEXT        NOT NULL,
			device_id      TEXT        NOT NULL,
			table_name     TEXT        NOT NULL,
			record_id      TEXT        NOT NULL,
			remote_id      UUID        NOT NULL,
			payload        JSON,
			server_version BIGINT      NOT NULL DEFAULT 1,
			deleted        BOOLEAN     NOT NULL DEFAULT FALSE,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, store_id, device_id, table_name, record_id)
		)`,
		/*language=postgresql*/ `CREATE UNIQUE INDEX IF NOT EXISTS records_remote_id_idx
			ON pos.records (remote_id)`,
	}

	for _, m := range migrations {
		if _, err := tx.Exec(ctx, m); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}
