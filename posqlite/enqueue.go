// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fyliacare/warehousepos/posync"
)

// timePrecision matches the millisecond timestamps stored in SQLite
const timePrecision = time.Millisecond

// EntryStatus is the state of a queue entry in the sync state machine
type EntryStatus string

const (
	EntryPending  EntryStatus = "pending"
	EntryInFlight EntryStatus = "in_flight"
	EntrySynced   EntryStatus = "synced"
	EntryFailed   EntryStatus = "failed"
)

// SyncQueueEntry is a durable instruction to replay one local mutation remotely
type SyncQueueEntry struct {
	ID            int64
	TenantID      string
	StoreID       string
	Table         string
	Op            string
	RecordID      string
	TransactionID int64 // Pending transaction this entry reconciles, 0 if none
	Payload       json.RawMessage
	CreatedAt     time.Time
	Status        EntryStatus
	LastError     string
	RetryCount    int
	NextAttemptAt time.Time
	SyncedAt      time.Time
	RemoteID      string
}

// Scope returns the (tenant, store) the entry belongs to
func (e *SyncQueueEntry) Scope() Scope { return Scope{TenantID: e.TenantID, StoreID: e.StoreID} }

// IdempotencyKey is "<device_id>:<entry_id>", stable across every retry of the entry
func (e *SyncQueueEntry) IdempotencyKey(deviceID string) string {
	return deviceID + ":" + strconv.FormatInt(e.ID, 10)
}

// EnqueueRequest describes one mutation to replay
type EnqueueRequest struct {
	TenantID      string
	StoreID       string
	Table         string
	Op            string
	RecordID      string
	Payload       Payload // nil for delete
	TransactionID int64   // Optional; sales payloads supply it from LocalID
}

// Enqueue appends a queue entry. The payload is serialized now, so later changes to
// the caller's value cannot reach the queued snapshot.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (*SyncQueueEntry, error) {
	raw, txID, err := prepareEnqueue(&req)
	if err != nil {
		return nil, err
	}
	var out *SyncQueueEntry
	err = s.withTx(ctx, "enqueue", func(tx *sql.Tx) error {
		var err error
		out, err = s.insertEntry(ctx, tx, &req, raw, txID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Mutation enqueued", "entry_id", out.ID, "table", out.Table, "op", out.Op, "record_id", out.RecordID)
	return out, nil
}

// RecordSale records a sale and enqueues its sales/create entry in one transaction
func (s *Store) RecordSale(ctx context.Context, m SaleMutation) (*PendingTransaction, *SyncQueueEntry, error) {
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}
	var (
		pt    *PendingTransaction
		entry *SyncQueueEntry
	)
	err := s.withTx(ctx, "record sale", func(tx *sql.Tx) error {
		var err error
		pt, err = s.insertTransaction(ctx, tx, &m)
		if err != nil {
			return err
		}
		req := EnqueueRequest{
			TenantID: pt.TenantID,
			StoreID:  pt.StoreID,
			Table:    posync.TableSales,
			Op:       posync.OpCreate,
			RecordID: strconv.FormatInt(pt.ID, 10),
			Payload:  saleSnapshot(pt),
		}
		raw, txID, err := prepareEnqueue(&req)
		if err != nil {
			return err
		}
		entry, err = s.insertEntry(ctx, tx, &req, raw, txID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Debug("Sale recorded and enqueued", "tx_id", pt.ID, "entry_id", entry.ID, "total", pt.Total)
	return pt, entry, nil
}

// prepareEnqueue validates the request shape and snapshots the payload
func prepareEnqueue(req *EnqueueRequest) (json.RawMessage, int64, error) {
	req.Table = strings.ToLower(strings.TrimSpace(req.Table))
	req.Op = strings.ToLower(strings.TrimSpace(req.Op))
	req.RecordID = strings.TrimSpace(req.RecordID)

	if req.TenantID == "" {
		return nil, 0, invalid("tenant_id", "required")
	}
	if req.StoreID == "" {
		return nil, 0, invalid("store_id", "required")
	}
	if _, err := newPayload(req.Table); err != nil {
		return nil, 0, &ValidationError{Field: "table", Reason: err.Error(), Err: err}
	}
	switch req.Op {
	case posync.OpCreate, posync.OpUpdate, posync.OpDelete:
	default:
		return nil, 0, &ValidationError{Field: "op", Reason: fmt.Sprintf("%q", req.Op), Err: ErrInvalidOp}
	}
	if req.RecordID == "" {
		return nil, 0, invalid("record_id", "required")
	}

	txID := req.TransactionID
	if req.Op == posync.OpDelete {
		if req.Payload != nil {
			return nil, 0, invalid("payload", "delete carries no payload")
		}
		return nil, txID, nil
	}
	if req.Payload == nil {
		return nil, 0, invalid("payload", "required for %s", req.Op)
	}
	if got := req.Payload.TableName(); got != req.Table {
		return nil, 0, invalid("payload", "%s payload enqueued for table %s", got, req.Table)
	}
	raw, err := EncodePayload(req.Payload)
	if err != nil {
		return nil, 0, err
	}
	if sp, ok := req.Payload.(*SalePayload); ok && txID == 0 {
		txID = sp.LocalID
	}
	return raw, txID, nil
}

// insertEntry appends a prepared entry inside tx
func (s *Store) insertEntry(ctx context.Context, tx *sql.Tx, req *EnqueueRequest, raw json.RawMessage, txID int64) (*SyncQueueEntry, error) {
	createdAt := s.now().UTC().Truncate(timePrecision)
	var payload, txRef any
	if raw != nil {
		payload = string(raw)
	}
	if txID != 0 {
		txRef = txID
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO _pos_sync_queue (tenant_id, store_id, table_name, op, record_id, tx_id, payload, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending')`,
		req.TenantID, req.StoreID, req.Table, req.Op, req.RecordID, txRef, payload, toMillis(createdAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert queue entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue entry id: %w", err)
	}
	return &SyncQueueEntry{
		ID:            id,
		TenantID:      req.TenantID,
		StoreID:       req.StoreID,
		Table:         req.Table,
		Op:            req.Op,
		RecordID:      req.RecordID,
		TransactionID: txID,
		Payload:       raw,
		CreatedAt:     createdAt,
		Status:        EntryPending,
	}, nil
}
