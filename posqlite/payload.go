// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posqlite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fyliacare/warehousepos/posync"
	"github.com/shopspring/decimal"
)

// Payload is the snapshot carried by a queue entry. Each table has exactly one variant.
type Payload interface {
	TableName() string
	Validate() error
}

// SalePayload is the queued snapshot of a recorded sale
type SalePayload struct {
	LocalID       int64           `json:"local_id"`
	TenantID      string          `json:"tenant_id"`
	StoreID       string          `json:"store_id"`
	CustomerID    string          `json:"customer_id,omitempty"`
	Items         []LineItem      `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	Note          string          `json:"note,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (p *SalePayload) TableName() string { return posync.TableSales }

func (p *SalePayload) Validate() error {
	m := SaleMutation{
		TenantID:      p.TenantID,
		StoreID:       p.StoreID,
		CustomerID:    p.CustomerID,
		Items:         p.Items,
		Subtotal:      p.Subtotal,
		Tax:           p.Tax,
		Discount:      p.Discount,
		Total:         p.Total,
		PaymentMethod: p.PaymentMethod,
		Note:          p.Note,
	}
	return m.Validate()
}

// saleSnapshot copies a transaction into its queue payload; items are copied, not shared.
func saleSnapshot(tx *PendingTransaction) *SalePayload {
	items := make([]LineItem, len(tx.Items))
	copy(items, tx.Items)
	return &SalePayload{
		LocalID:       tx.ID,
		TenantID:      tx.TenantID,
		StoreID:       tx.StoreID,
		CustomerID:    tx.CustomerID,
		Items:         items,
		Subtotal:      tx.Subtotal,
		Tax:           tx.Tax,
		Discount:      tx.Discount,
		Total:         tx.Total,
		PaymentMethod: tx.PaymentMethod,
		Note:          tx.Note,
		CreatedAt:     tx.CreatedAt,
	}
}

// ProductPayload is a catalog edit made on the terminal
type ProductPayload struct {
	Name       string          `json:"name"`
	SKU        string          `json:"sku,omitempty"`
	Barcode    string          `json:"barcode,omitempty"`
	CategoryID string          `json:"category_id,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Cost       decimal.Decimal `json:"cost"`
	IsActive   bool            `json:"is_active"`
}

func (p *ProductPayload) TableName() string { return posync.TableProducts }

func (p *ProductPayload) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return invalid("name", "required")
	}
	if p.Price.IsNegative() {
		return invalid("price", "must not be negative")
	}
	if p.Cost.IsNegative() {
		return invalid("cost", "must not be negative")
	}
	return nil
}

// CustomerPayload is a customer record created or edited on the terminal
type CustomerPayload struct {
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Address  string `json:"address,omitempty"`
	IsActive bool   `json:"is_active"`
}

func (p *CustomerPayload) TableName() string { return posync.TableCustomers }

func (p *CustomerPayload) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return invalid("name", "required")
	}
	if p.Email != "" && !strings.Contains(p.Email, "@") {
		return invalid("email", "malformed address %q", p.Email)
	}
	return nil
}

// CategoryPayload is a product category
type CategoryPayload struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
	IsActive bool   `json:"is_active"`
}

func (p *CategoryPayload) TableName() string { return posync.TableCategories }

func (p *CategoryPayload) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return invalid("name", "required")
	}
	return nil
}

// newPayload returns an empty variant for table
func newPayload(table string) (Payload, error) {
	switch table {
	case posync.TableSales:
		return &SalePayload{}, nil
	case posync.TableProducts:
		return &ProductPayload{}, nil
	case posync.TableCustomers:
		return &CustomerPayload{}, nil
	case posync.TableCategories:
		return &CategoryPayload{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
}

// EncodePayload validates p and serializes it. The result is an independent copy of p.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, invalid("payload", "required")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.TableName(), err)
	}
	return raw, nil
}

// DecodePayload parses raw into the variant registered for table and validates it.
// Unknown fields are rejected so a corrupted snapshot is caught before it is sent.
func DecodePayload(table string, raw json.RawMessage) (Payload, error) {
	p, err := newPayload(table)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, &ValidationError{Field: "payload", Reason: fmt.Sprintf("undecodable %s payload: %v", table, err), Err: err}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
