// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posqlite

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TxStatus is the lifecycle status of a PendingTransaction
type TxStatus string

const (
	TxPending TxStatus = "pending"
	TxSynced  TxStatus = "synced"
	TxFailed  TxStatus = "failed"
)

// Payment methods accepted by the recorder
const (
	PaymentCash   = "cash"
	PaymentCard   = "card"
	PaymentMobile = "mobile"
	PaymentCredit = "credit"
	PaymentOther  = "other"
)

var paymentMethods = map[string]bool{
	PaymentCash: true, PaymentCard: true, PaymentMobile: true, PaymentCredit: true, PaymentOther: true,
}

// LineItem is one line of a sale
type LineItem struct {
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name,omitempty"`
	SKU          string          `json:"sku,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	LineDiscount decimal.Decimal `json:"discount"`
	LineTotal    decimal.Decimal `json:"line_total"`
}

// SaleMutation is a sale as rung up on the terminal, before it is recorded
type SaleMutation struct {
	TenantID      string
	StoreID       string
	CustomerID    string
	Items         []LineItem
	Subtotal      decimal.Decimal
	Tax           decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
	PaymentMethod string
	Note          string
}

// PendingTransaction is a recorded sale awaiting confirmation by the canonical store
type PendingTransaction struct {
	ID            int64
	TenantID      string
	StoreID       string
	CustomerID    string
	Items         []LineItem
	Subtotal      decimal.Decimal
	Tax           decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
	PaymentMethod string
	Note          string
	CreatedAt     time.Time
	Status        TxStatus
	RemoteID      string
}

// ComputeTotals fills every LineTotal, Subtotal and Total from quantities, prices,
// discounts and tax. The UI calls it while building a cart; Record only verifies.
func (m *SaleMutation) ComputeTotals() {
	sub := decimal.Zero
	for i := range m.Items {
		it := &m.Items[i]
		it.LineTotal = it.Quantity.Mul(it.UnitPrice).Sub(it.LineDiscount)
		sub = sub.Add(it.LineTotal)
	}
	m.Subtotal = sub
	m.Total = sub.Sub(m.Discount).Add(m.Tax)
}

// Validate checks the sale invariants: every line total is quantity x unit price - line discount,
// subtotal is the sum of line totals, and total = subtotal - discount + tax.
func (m *SaleMutation) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return invalid("tenant_id", "required")
	}
	if strings.TrimSpace(m.StoreID) == "" {
		return invalid("store_id", "required")
	}
	if len(m.Items) == 0 {
		return invalid("items", "a sale needs at least one line")
	}
	if !paymentMethods[m.PaymentMethod] {
		return invalid("payment_method", "unknown payment method %q", m.PaymentMethod)
	}

	sum := decimal.Zero
	for i, it := range m.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return invalid(lineField(i, "product_id"), "required")
		}
		if !it.Quantity.IsPositive() {
			return invalid(lineField(i, "quantity"), "must be positive, got %s", it.Quantity)
		}
		if it.UnitPrice.IsNegative() {
			return invalid(lineField(i, "unit_price"), "must not be negative")
		}
		if it.LineDiscount.IsNegative() {
			return invalid(lineField(i, "discount"), "must not be negative")
		}
		want := it.Quantity.Mul(it.UnitPrice).Sub(it.LineDiscount)
		if !it.LineTotal.Equal(want) {
			return invalid(lineField(i, "line_total"), "%s != %s x %s - %s", it.LineTotal, it.Quantity, it.UnitPrice, it.LineDiscount)
		}
		if it.LineTotal.IsNegative() {
			return invalid(lineField(i, "line_total"), "discount exceeds line amount")
		}
		sum = sum.Add(it.LineTotal)
	}

	if m.Tax.IsNegative() {
		return invalid("tax", "must not be negative")
	}
	if m.Discount.IsNegative() {
		return invalid("discount", "must not be negative")
	}
	if !m.Subtotal.Equal(sum) {
		return invalid("subtotal", "%s != sum of line totals %s", m.Subtotal, sum)
	}
	if want := m.Subtotal.Sub(m.Discount).Add(m.Tax); !m.Total.Equal(want) {
		return invalid("total", "%s != subtotal - discount + tax (%s)", m.Total, want)
	}
	if m.Total.IsNegative() {
		return invalid("total", "must not be negative")
	}
	return nil
}

func lineField(i int, name string) string {
	return "items[" + strconv.Itoa(i) + "]." + name
}
