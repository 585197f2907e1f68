// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyliacare/warehousepos/posync"
)

// mirrorTables are the read-mostly caches of remote reference data
var mirrorTables = []string{posync.TableProducts, posync.TableCustomers, posync.TableCategories}

func isMirrorTable(table string) bool {
	for _, t := range mirrorTables {
		if t == table {
			return true
		}
	}
	return false
}

// ReferenceRecord is one mirrored row of remote truth. Code holds the table's short
// lookup value: SKU for products, phone for customers.
type ReferenceRecord struct {
	ID       string
	TenantID string
	StoreID  string
	Name     string
	Code     string
	IsActive bool
	Data     json.RawMessage
}

// UpsertReference writes a mirror row. It is the entry point of the pull path.
func (s *Store) UpsertReference(ctx context.Context, table string, r ReferenceRecord) error {
	if !isMirrorTable(table) {
		return &ValidationError{Field: "table", Reason: fmt.Sprintf("%q is not a mirror table", table), Err: ErrUnknownTable}
	}
	if r.ID == "" || r.TenantID == "" {
		return invalid("id", "id and tenant_id are required")
	}
	var data any
	if len(r.Data) > 0 {
		data = string(r.Data)
	}
	return s.withTx(ctx, "upsert reference", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, tenant_id, store_id, name, code, is_active, data, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				tenant_id = excluded.tenant_id,
				store_id  = excluded.store_id,
				name      = excluded.name,
				code      = excluded.code,
				is_active = excluded.is_active,
				data      = excluded.data,
				updated_at = excluded.updated_at`, table),
			r.ID, r.TenantID, r.StoreID, r.Name, r.Code, r.IsActive, data, toMillis(s.now()))
		return err
	})
}

// GetReference loads one mirror row by remote identity
func (s *Store) GetReference(ctx context.Context, table, id string) (*ReferenceRecord, error) {
	if !isMirrorTable(table) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	var (
		r    ReferenceRecord
		data sql.NullString
	)
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, tenant_id, store_id, name, code, is_active, data FROM %s WHERE id = ?`, table), id).
		Scan(&r.ID, &r.TenantID, &r.StoreID, &r.Name, &r.Code, &r.IsActive, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get reference", err)
	}
	if data.Valid {
		r.Data = json.RawMessage(data.String)
	}
	return &r, nil
}

// ListReferences returns the active mirror rows visible to a tenant (and, when set, a store)
func (s *Store) ListReferences(ctx context.Context, table string, scope Scope) ([]ReferenceRecord, error) {
	if !isMirrorTable(table) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, store_id, name, code, is_active, data FROM %s
		WHERE tenant_id = ? AND is_active = 1 AND (store_id = '' OR ? = '' OR store_id = ?)
		ORDER BY name, id`, table), scope.TenantID, scope.StoreID, scope.StoreID)
	if err != nil {
		return nil, storageErr("list references", err)
	}
	defer rows.Close()

	var out []ReferenceRecord
	for rows.Next() {
		var (
			r    ReferenceRecord
			data sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &r.StoreID, &r.Name, &r.Code, &r.IsActive, &data); err != nil {
			return nil, storageErr("list references", err)
		}
		if data.Valid {
			r.Data = json.RawMessage(data.String)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list references", err)
	}
	return out, nil
}

// enrichSale fills missing product names and SKUs on sale lines from the products mirror.
// Lines whose product is not mirrored are sent as recorded.
func (s *Store) enrichSale(ctx context.Context, sale *SalePayload) error {
	for i := range sale.Items {
		it := &sale.Items[i]
		if it.ProductName != "" && it.SKU != "" {
			continue
		}
		p, err := s.GetReference(ctx, posync.TableProducts, it.ProductID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if p.TenantID != sale.TenantID {
			continue
		}
		if it.ProductName == "" {
			it.ProductName = p.Name
		}
		if it.SKU == "" {
			it.SKU = p.Code
		}
	}
	return nil
}
