// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// errRejectedInTx rolls back the idempotency gate row when a gated mutation is rejected.
var errRejectedInTx = errors.New("mutation rejected inside transaction")

// TerminalIdentity identifies the terminal that sent a mutation
type TerminalIdentity struct {
	TenantID string
	StoreID  string
	DeviceID string
}

// Apply applies one terminal mutation. Validation failures and conflicts come back as a
// rejected response with a nil error; the error return is reserved for infrastructure failures
// the terminal should retry.
func (s *ApplyService) Apply(ctx context.Context, who TerminalIdentity, req *ApplyRequest) (*ApplyResponse, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	total := s.startStage(MetricsStageTotal, req)

	if err := s.validateApply(req); err != nil {
		reason := rejectionReason(err)
		s.logger.Warn("Apply validation failed",
			"tenant_id", who.TenantID,
			"store_id", who.StoreID,
			"device_id", who.DeviceID,
			"table", req.Table,
			"op", req.Op,
			"record_id", req.RecordID,
			"reason", reason,
			"error", err,
		)
		resp := statusRejected(reason, err)
		if errors.Is(err, ErrUnregisteredTable) {
			resp = statusRejectedUnregisteredTable(req.Table)
		}
		total.stage = MetricsStageValidate
		total.done(ctx, 0, resp, nil)
		return resp, nil
	}

	var lastErr error
	for attempt := 1; attempt <= s.config.MaxApplyAttempts; attempt++ {
		timer := s.startStage(MetricsStageApply, req)
		resp, err := s.applyOnce(ctx, who, req)
		timer.done(ctx, attempt, resp, err)
		if err == nil {
			total.done(ctx, attempt, resp, nil)
			return resp, nil
		}
		lastErr = err
		if !shouldRetryApply(err) || attempt == s.config.MaxApplyAttempts {
			break
		}
		s.logger.Warn("Retrying apply after transient database error",
			"attempt", attempt, "idempotency_key", req.IdempotencyKey, "error", err)
		if err := waitRetry(ctx, applyRetryDelay(attempt)); err != nil {
			return nil, err
		}
	}
	total.done(ctx, s.config.MaxApplyAttempts, nil, lastErr)
	return nil, fmt.Errorf("failed to apply %s %s/%s: %w", req.Op, req.Table, req.RecordID, lastErr)
}

// applyOnce runs the insert-first idempotency gate and the record mutation in one transaction
func (s *ApplyService) applyOnce(ctx context.Context, who TerminalIdentity, req *ApplyRequest) (*ApplyResponse, error) {
	var resp *ApplyResponse
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO pos.apply_log (tenant_id, store_id, idempotency_key, device_id, table_name, op, record_id)
			VALUES (@tenant_id, @store_id, @key, @device_id, @table_name, @op, @record_id)
			ON CONFLICT (tenant_id, store_id, idempotency_key) DO NOTHING`,
			pgx.NamedArgs{
				"tenant_id":  who.TenantID,
				"store_id":   who.StoreID,
				"key":        req.IdempotencyKey,
				"device_id":  who.DeviceID,
				"table_name": req.Table,
				"op":         req.Op,
				"record_id":  req.RecordID,
			})
		if err != nil {
			return fmt.Errorf("idempotency gate: %w", err)
		}

		if tag.RowsAffected() == 0 {
			remoteID, err := s.loggedRemoteID(ctx, tx, who, req.IdempotencyKey)
			if err != nil {
				return err
			}
			s.logger.Debug("Idempotent replay", "idempotency_key", req.IdempotencyKey, "remote_id", remoteID)
			resp = statusReplayed(remoteID)
			return nil
		}

		var remoteID string
		switch req.Op {
		case OpCreate:
			remoteID, err = s.createRecord(ctx, tx, who, req)
		case OpUpdate:
			remoteID, err = s.updateRecord(ctx, tx, who, req)
			if errors.Is(err, pgx.ErrNoRows) {
				resp = statusRecordMissing(req.Table, req.RecordID)
				return errRejectedInTx
			}
		case OpDelete:
			remoteID, err = s.deleteRecord(ctx, tx, who, req)
			if errors.Is(err, pgx.ErrNoRows) {
				// Deleting something never created is already the desired end state.
				remoteID, err = "", nil
			}
		}
		if err != nil {
			return err
		}

		if remoteID != "" {
			if _, err := tx.Exec(ctx, `
				UPDATE pos.apply_log SET remote_id = @remote_id::uuid
				WHERE tenant_id = @tenant_id AND store_id = @store_id AND idempotency_key = @key`,
				pgx.NamedArgs{
					"remote_id": remoteID,
					"tenant_id": who.TenantID,
					"store_id":  who.StoreID,
					"key":       req.IdempotencyKey,
				}); err != nil {
				return fmt.Errorf("record remote id: %w", err)
			}
		}

		s.logger.Debug("Mutation applied",
			"table", req.Table, "op", req.Op, "record_id", req.RecordID, "remote_id", remoteID)
		resp = statusAccepted(remoteID)
		return nil
	})
	if errors.Is(err, errRejectedInTx) {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *ApplyService) loggedRemoteID(ctx context.Context, tx pgx.Tx, who TerminalIdentity, key string) (string, error) {
	var remoteID *string
	err := tx.QueryRow(ctx, `
		SELECT remote_id::text FROM pos.apply_log
		WHERE tenant_id = $1 AND store_id = $2 AND idempotency_key = $3`,
		who.TenantID, who.StoreID, key).Scan(&remoteID)
	if err != nil {
		return "", fmt.Errorf("load replayed apply: %w", err)
	}
	if remoteID == nil {
		return "", nil
	}
	return *remoteID, nil
}

func (s *ApplyService) createRecord(ctx context.Context, tx pgx.Tx, who TerminalIdentity, req *ApplyRequest) (string, error) {
	var remoteID string
	err := tx.QueryRow(ctx, `
		INSERT INTO pos.records (tenant_id, store_id, device_id, table_name, record_id, remote_id, payload)
		VALUES (@tenant_id, @store_id, @device_id, @table_name, @record_id, @remote_id::uuid, @payload::json)
		ON CONFLICT (tenant_id, store_id, device_id, table_name, record_id) DO UPDATE SET
			payload        = EXCLUDED.payload,
			deleted        = FALSE,
			server_version = pos.records.server_version + 1,
			updated_at     = now()
		RETURNING remote_id::text`,
		pgx.NamedArgs{
			"tenant_id":  who.TenantID,
			"store_id":   who.StoreID,
			"device_id":  who.DeviceID,
			"table_name": req.Table,
			"record_id":  req.RecordID,
			"remote_id":  uuid.New().String(),
			"payload":    []byte(req.Payload),
		}).Scan(&remoteID)
	if err != nil {
		return "", fmt.Errorf("create %s/%s: %w", req.Table, req.RecordID, err)
	}
	return remoteID, nil
}

func (s *ApplyService) updateRecord(ctx context.Context, tx pgx.Tx, who TerminalIdentity, req *ApplyRequest) (string, error) {
	var remoteID string
	err := tx.QueryRow(ctx, `
		UPDATE pos.records SET
			payload        = @payload::json,
			server_version = server_version + 1,
			updated_at     = now()
		WHERE tenant_id = @tenant_id AND store_id = @store_id AND device_id = @device_id
		  AND table_name = @table_name AND record_id = @record_id AND NOT deleted
		RETURNING remote_id::text`,
		pgx.NamedArgs{
			"tenant_id":  who.TenantID,
			"store_id":   who.StoreID,
			"device_id":  who.DeviceID,
			"table_name": req.Table,
			"record_id":  req.RecordID,
			"payload":    []byte(req.Payload),
		}).Scan(&remoteID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", pgx.ErrNoRows
		}
		return "", fmt.Errorf("update %s/%s: %w", req.Table, req.RecordID, err)
	}
	return remoteID, nil
}

func (s *ApplyService) deleteRecord(ctx context.Context, tx pgx.Tx, who TerminalIdentity, req *ApplyRequest) (string, error) {
	var remoteID string
	err := tx.QueryRow(ctx, `
		UPDATE pos.records SET
			deleted        = TRUE,
			server_version = server_version + 1,
			updated_at     = now()
		WHERE tenant_id = @tenant_id AND store_id = @store_id AND device_id = @device_id
		  AND table_name = @table_name AND record_id = @record_id
		RETURNING remote_id::text`,
		pgx.NamedArgs{
			"tenant_id":  who.TenantID,
			"store_id":   who.StoreID,
			"device_id":  who.DeviceID,
			"table_name": req.Table,
			"record_id":  req.RecordID,
		}).Scan(&remoteID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", pgx.ErrNoRows
		}
		return "", fmt.Errorf("delete %s/%s: %w", req.Table, req.RecordID, err)
	}
	return remoteID, nil
}
