// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Validation error sentinels for better error mapping
var (
	ErrBadPayload        = errors.New("bad_payload")
	ErrUnregisteredTable = errors.New("unregistered_table")
	ErrInvalidOp         = errors.New("invalid_op")
	ErrTotalsMismatch    = errors.New("totals_mismatch")
	ErrMissingKey        = errors.New("missing_idempotency_key")
)

// saleTotals is the subset of a sale payload the store re-checks before accepting it.
type saleTotals struct {
	Items []struct {
		LineTotal decimal.Decimal `json:"line_total"`
	} `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// validateApply validates and normalizes a single apply request
func (s *ApplyService) validateApply(req *ApplyRequest) error {
	req.Table = strings.ToLower(strings.TrimSpace(req.Table))
	req.Op = strings.ToLower(strings.TrimSpace(req.Op))
	req.RecordID = strings.TrimSpace(req.RecordID)

	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return ErrMissingKey
	}
	if !isValidTableName(req.Table) {
		return fmt.Errorf("%w: invalid table name %q", ErrBadPayload, req.Table)
	}
	if !s.IsTableRegistered(req.Table) {
		return fmt.Errorf("%w: table not registered %s", ErrUnregisteredTable, req.Table)
	}

	switch req.Op {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOp, req.Op)
	}

	if req.RecordID == "" {
		return fmt.Errorf("%w: record_id is required", ErrBadPayload)
	}

	if req.Op == OpDelete {
		if len(req.Payload) != 0 && !bytes.Equal(bytes.TrimSpace(req.Payload), []byte("null")) {
			return fmt.Errorf("%w: delete must not include payload", ErrBadPayload)
		}
		return nil
	}

	if len(req.Payload) == 0 {
		return fmt.Errorf("%w: payload required for %s", ErrBadPayload, req.Op)
	}
	if s.config.MaxPayloadBytes > 0 && len(req.Payload) > s.config.MaxPayloadBytes {
		return fmt.Errorf("%w: payload too large: %d > %d", ErrBadPayload, len(req.Payload), s.config.MaxPayloadBytes)
	}

	var obj map[string]any
	if err := json.Unmarshal(req.Payload, &obj); err != nil || obj == nil {
		return fmt.Errorf("%w: payload must be a JSON object", ErrBadPayload)
	}

	if req.Table == TableSales {
		return validateSaleTotals(req.Payload)
	}
	return nil
}

// validateSaleTotals re-checks subtotal = sum(lines) and total = subtotal - discount + tax.
func validateSaleTotals(payload json.RawMessage) error {
	var sale saleTotals
	if err := json.Unmarshal(payload, &sale); err != nil {
		return fmt.Errorf("%w: sale payload: %v", ErrBadPayload, err)
	}
	if len(sale.Items) == 0 {
		return fmt.Errorf("%w: sale has no items", ErrBadPayload)
	}
	sum := decimal.Zero
	for _, it := range sale.Items {
		sum = sum.Add(it.LineTotal)
	}
	if !sum.Equal(sale.Subtotal) {
		return fmt.Errorf("%w: subtotal %s != sum of lines %s", ErrTotalsMismatch, sale.Subtotal, sum)
	}
	expected := sale.Subtotal.Sub(sale.Discount).Add(sale.Tax)
	if !expected.Equal(sale.Total) {
		return fmt.Errorf("%w: total %s != %s", ErrTotalsMismatch, sale.Total, expected)
	}
	return nil
}

// rejectionReason maps a validation error to its wire reason
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrUnregisteredTable):
		return ReasonUnregisteredTable
	case errors.Is(err, ErrInvalidOp):
		return ReasonInvalidOp
	case errors.Is(err, ErrTotalsMismatch):
		return ReasonTotalsMismatch
	case errors.Is(err, ErrMissingKey):
		return ReasonMissingKey
	default:
		return ReasonBadPayload
	}
}

// isValidTableName checks if table name matches ^[a-z0-9_]+$
func isValidTableName(name string) bool {
	if len(name) == 0 {
		return false
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_') {
			return false
		}
	}
	return true
}
