// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posync

import (
	"encoding/json"
	"time"
)

// REST/JSON models for the apply API.
// Tenant, store and device come from the JWT, never from the request body.

// ApplyRequest replays one queued terminal mutation against the canonical store
type ApplyRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`   // Client-generated, stable across retries
	Table          string          `json:"table"`             // e.g. "sales", "products"
	Op             string          `json:"op"`                // create, update, delete
	RecordID       string          `json:"record_id"`         // Terminal-local record identity
	Payload        json.RawMessage `json:"payload,omitempty"` // Snapshot taken at enqueue time (null for delete)
}

// ApplyResponse is the canonical store's verdict on one ApplyRequest
type ApplyResponse struct {
	Status   string         `json:"status"`              // "accepted" or "rejected"
	RemoteID string         `json:"remote_id,omitempty"` // Canonical identity, set for accepted creates
	Replayed bool           `json:"replayed,omitempty"`  // True when the idempotency key was already applied
	Message  string         `json:"message,omitempty"`   // Human readable rejection details
	Rejected map[string]any `json:"rejected,omitempty"`  // Structured rejection with reason and details
}

// Reason returns the structured rejection reason, if any.
func (r *ApplyResponse) Reason() string {
	if r == nil || r.Rejected == nil {
		return ""
	}
	reason, _ := r.Rejected["reason"].(string)
	return reason
}

// AppliedEntry is one row of the apply audit log
type AppliedEntry struct {
	IdempotencyKey string    `json:"idempotency_key"`
	Table          string    `json:"table"`
	Op             string    `json:"op"`
	RecordID       string    `json:"record_id"`
	RemoteID       string    `json:"remote_id,omitempty"`
	DeviceID       string    `json:"device_id"`
	AppliedAt      time.Time `json:"applied_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusResponse represents service status response
type StatusResponse struct {
	Status           string   `json:"status"`
	AppName          string   `json:"app_name"`
	RegisteredTables []string `json:"registered_tables"`
}
