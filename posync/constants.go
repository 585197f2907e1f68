// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posync

// Operation constants for queued mutations
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Status constants for apply results
const (
	StAccepted = "accepted"
	StRejected = "rejected"
)

// Rejection reason constants
const (
	ReasonBadPayload        = "bad_payload"
	ReasonUnregisteredTable = "unregistered_table"
	ReasonInvalidOp         = "invalid_op"
	ReasonRecordMissing     = "record_missing"
	ReasonTotalsMismatch    = "totals_mismatch"
	ReasonMissingKey        = "missing_idempotency_key"
)

// Table names known to the canonical store
const (
	TableSales      = "sales"
	TableProducts   = "products"
	TableCustomers  = "customers"
	TableCategories = "categories"
)

// DefaultTables lists every table a terminal may push mutations for.
var DefaultTables = []string{TableSales, TableProducts, TableCustomers, TableCategories}
