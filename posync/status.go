// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posync

// statusAccepted creates a response for a freshly applied mutation
func statusAccepted(remoteID string) *ApplyResponse {
	return &ApplyResponse{
		Status:   StAccepted,
		RemoteID: remoteID,
	}
}

// statusReplayed creates a response for an idempotency key that was already applied
func statusReplayed(remoteID string) *ApplyResponse {
	return &ApplyResponse{
		Status:   StAccepted,
		RemoteID: remoteID,
		Replayed: true,
	}
}

// statusRejected creates a response for a mutation the store refuses to apply
func statusRejected(reason string, err error) *ApplyResponse {
	return &ApplyResponse{
		Status:  StRejected,
		Message: err.Error(),
		Rejected: map[string]any{
			"reason":  reason,
			"details": map[string]any{"error": err.Error()},
		},
	}
}

// statusRejectedUnregisteredTable creates a response when a table isn't registered
func statusRejectedUnregisteredTable(table string) *ApplyResponse {
	return &ApplyResponse{
		Status: StRejected,
		Rejected: map[string]any{
			"reason":  ReasonUnregisteredTable,
			"details": map[string]any{"table": table},
		},
		Message: "table not registered " + table,
	}
}

// statusRecordMissing creates a response for an update targeting a record the store never saw
func statusRecordMissing(table, recordID string) *ApplyResponse {
	return &ApplyResponse{
		Status: StRejected,
		Rejected: map[string]any{
			"reason":  ReasonRecordMissing,
			"details": map[string]any{"table": table, "record_id": recordID},
		},
		Message: "record " + table + "/" + recordID + " does not exist",
	}
}
