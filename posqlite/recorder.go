// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Record validates a sale and persists it as a pending transaction. It never touches
// the network; the returned transaction can be shown immediately.
// A ValidationError means nothing was written.
func (s *Store) Record(ctx context.Context, m SaleMutation) (*PendingTransaction, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	var out *PendingTransaction
	err := s.withTx(ctx, "record sale", func(tx *sql.Tx) error {
		var err error
		out, err = s.insertTransaction(ctx, tx, &m)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Sale recorded", "tx_id", out.ID, "scope", Scope{out.TenantID, out.StoreID}, "total", out.Total)
	return out, nil
}

// insertTransaction writes a validated sale inside tx
func (s *Store) insertTransaction(ctx context.Context, tx *sql.Tx, m *SaleMutation) (*PendingTransaction, error) {
	items := make([]LineItem, len(m.Items))
	copy(items, m.Items)
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal line items: %w", err)
	}

	createdAt := s.now().UTC().Truncate(timePrecision)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO _pos_pending_tx
			(tenant_id, store_id, customer_id, items, subtotal, tax, discount, total, payment_method, note, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending')`,
		m.TenantID, m.StoreID, m.CustomerID, string(itemsJSON),
		m.Subtotal.String(), m.Tax.String(), m.Discount.String(), m.Total.String(),
		m.PaymentMethod, m.Note, toMillis(createdAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert pending transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction id: %w", err)
	}

	return &PendingTransaction{
		ID:            id,
		TenantID:      m.TenantID,
		StoreID:       m.StoreID,
		CustomerID:    m.CustomerID,
		Items:         items,
		Subtotal:      m.Subtotal,
		Tax:           m.Tax,
		Discount:      m.Discount,
		Total:         m.Total,
		PaymentMethod: m.PaymentMethod,
		Note:          m.Note,
		CreatedAt:     createdAt,
		Status:        TxPending,
	}, nil
}
