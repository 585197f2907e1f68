// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Filter narrows the UI listings. Zero values match everything.
type Filter struct {
	TenantID string
	StoreID  string
	Status   string    // TxStatus or EntryStatus value
	Table    string    // queue entries only
	Before   time.Time // created strictly before
	Limit    int       // 0 = no limit
}

func (f Filter) where(prefix string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, prefix+cond)
		args = append(args, arg)
	}
	if f.TenantID != "" {
		add("tenant_id = ?", f.TenantID)
	}
	if f.StoreID != "" {
		add("store_id = ?", f.StoreID)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if !f.Before.IsZero() {
		add("created_at < ?", toMillis(f.Before))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (f Filter) limit() string {
	if f.Limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", f.Limit)
}

const entryColumns = `id, tenant_id, store_id, table_name, op, record_id, COALESCE(tx_id, 0), payload,
	created_at, status, last_error, retry_count, next_attempt_at, synced_at, remote_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*SyncQueueEntry, error) {
	var (
		e                                  SyncQueueEntry
		payload                            sql.NullString
		status                             string
		createdAt, nextAttemptAt, syncedAt int64
	)
	if err := row.Scan(&e.ID, &e.TenantID, &e.StoreID, &e.Table, &e.Op, &e.RecordID, &e.TransactionID, &payload,
		&createdAt, &status, &e.LastError, &e.RetryCount, &nextAttemptAt, &syncedAt, &e.RemoteID); err != nil {
		return nil, err
	}
	if payload.Valid {
		e.Payload = json.RawMessage(payload.String)
	}
	e.Status = EntryStatus(status)
	e.CreatedAt = fromMillis(createdAt)
	e.NextAttemptAt = fromMillis(nextAttemptAt)
	e.SyncedAt = fromMillis(syncedAt)
	return &e, nil
}

const txColumns = `id, tenant_id, store_id, customer_id, items, subtotal, tax, discount, total,
	payment_method, note, created_at, status, COALESCE(remote_id, '')`

func scanTransaction(row rowScanner) (*PendingTransaction, error) {
	var (
		t                              PendingTransaction
		items                          string
		subtotal, tax, discount, total string
		status                         string
		createdAt                      int64
	)
	if err := row.Scan(&t.ID, &t.TenantID, &t.StoreID, &t.CustomerID, &items, &subtotal, &tax, &discount, &total,
		&t.PaymentMethod, &t.Note, &createdAt, &status, &t.RemoteID); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &t.Items); err != nil {
		return nil, fmt.Errorf("corrupt items for transaction %d: %w", t.ID, err)
	}
	var err error
	if t.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, fmt.Errorf("corrupt subtotal for transaction %d: %w", t.ID, err)
	}
	if t.Tax, err = decimal.NewFromString(tax); err != nil {
		return nil, fmt.Errorf("corrupt tax for transaction %d: %w", t.ID, err)
	}
	if t.Discount, err = decimal.NewFromString(discount); err != nil {
		return nil, fmt.Errorf("corrupt discount for transaction %d: %w", t.ID, err)
	}
	if t.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("corrupt total for transaction %d: %w", t.ID, err)
	}
	t.Status = TxStatus(status)
	t.CreatedAt = fromMillis(createdAt)
	return &t, nil
}

// GetTransaction loads one pending transaction by local id
func (s *Store) GetTransaction(ctx context.Context, id int64) (*PendingTransaction, error) {
	t, err := scanTransaction(s.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM _pos_pending_tx WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get transaction", err)
	}
	return t, nil
}

// GetEntry loads one queue entry by local id
func (s *Store) GetEntry(ctx context.Context, id int64) (*SyncQueueEntry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM _pos_sync_queue WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("queue entry %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get entry", err)
	}
	return e, nil
}

// ListTransactions returns pending transactions matching f, oldest first
func (s *Store) ListTransactions(ctx context.Context, f Filter) ([]*PendingTransaction, error) {
	where, args := f.where("")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM _pos_pending_tx`+where+` ORDER BY created_at, id`+f.limit(), args...)
	if err != nil {
		return nil, storageErr("list transactions", err)
	}
	defer rows.Close()

	var out []*PendingTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, storageErr("list transactions", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list transactions", err)
	}
	return out, nil
}

// ListEntries returns queue entries matching f, oldest first
func (s *Store) ListEntries(ctx context.Context, f Filter) ([]*SyncQueueEntry, error) {
	where, args := f.where("")
	if f.Table != "" {
		if where == "" {
			where = " WHERE table_name = ?"
		} else {
			where += " AND table_name = ?"
		}
		args = append(args, f.Table)
	}
	return s.queryEntries(ctx, "list entries",
		`SELECT `+entryColumns+` FROM _pos_sync_queue`+where+` ORDER BY created_at, id`+f.limit(), args...)
}

func (s *Store) queryEntries(ctx context.Context, op, query string, args ...any) ([]*SyncQueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var out []*SyncQueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

// unsyncedEntries returns one page of a scope's entries not yet synced with an id above
// afterID, oldest first. Local ids are assigned in commit order, so id order is creation
// order even if the wall clock stepped backwards between two mutations.
func (s *Store) unsyncedEntries(ctx context.Context, scope Scope, afterID int64, limit int) ([]*SyncQueueEntry, error) {
	return s.queryEntries(ctx, "load queue",
		`SELECT `+entryColumns+` FROM _pos_sync_queue
		WHERE tenant_id = ? AND store_id = ? AND status != 'synced' AND id > ?
		ORDER BY id
		LIMIT ?`, scope.TenantID, scope.StoreID, afterID, limit)
}

// activeScopes lists every (tenant, store) with a pending entry
func (s *Store) activeScopes(ctx context.Context) ([]Scope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT tenant_id, store_id FROM _pos_sync_queue
		WHERE status = 'pending'
		ORDER BY tenant_id, store_id`)
	if err != nil {
		return nil, storageErr("active scopes", err)
	}
	defer rows.Close()

	var out []Scope
	for rows.Next() {
		var sc Scope
		if err := rows.Scan(&sc.TenantID, &sc.StoreID); err != nil {
			return nil, storageErr("active scopes", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("active scopes", err)
	}
	return out, nil
}

// SyncStatus summarizes a scope for the "pending sync" / "failed" indicators
type SyncStatus struct {
	Pending       int
	InFlight      int
	Synced        int
	Failed        int
	OldestPending time.Time // zero when nothing is pending
	LastError     string    // most recent failure message, if any
}

// NeedsAttention reports whether some entry failed and waits for an operator retry
func (st SyncStatus) NeedsAttention() bool { return st.Failed > 0 }

// Status counts queue entries per state for scope
func (s *Store) Status(ctx context.Context, scope Scope) (SyncStatus, error) {
	var st SyncStatus
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM _pos_sync_queue
		WHERE tenant_id = ? AND store_id = ?
		GROUP BY status`, scope.TenantID, scope.StoreID)
	if err != nil {
		return st, storageErr("status", err)
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return st, storageErr("status", err)
		}
		switch EntryStatus(status) {
		case EntryPending:
			st.Pending = n
		case EntryInFlight:
			st.InFlight = n
		case EntrySynced:
			st.Synced = n
		case EntryFailed:
			st.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return st, storageErr("status", err)
	}
	rows.Close()

	var oldest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `
		SELECT MIN(created_at) FROM _pos_sync_queue
		WHERE tenant_id = ? AND store_id = ? AND status IN ('pending','in_flight')`,
		scope.TenantID, scope.StoreID).Scan(&oldest); err != nil {
		return st, storageErr("status", err)
	}
	if oldest.Valid {
		st.OldestPending = fromMillis(oldest.Int64)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT last_error FROM _pos_sync_queue
		WHERE tenant_id = ? AND store_id = ? AND status = 'failed'
		ORDER BY id DESC LIMIT 1`, scope.TenantID, scope.StoreID).Scan(&st.LastError)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return st, storageErr("status", err)
	}
	return st, nil
}
