// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package auth carries the authenticated terminal identity through request contexts.
package auth

import (
	"context"
)

type contextKey struct{}

type terminal struct {
	tenantID string
	storeID  string
	deviceID string
}

// SetTerminal stores the tenant, store and device of the calling terminal in the context
func SetTerminal(ctx context.Context, tenantID, storeID, deviceID string) context.Context {
	return context.WithValue(ctx, contextKey{}, terminal{tenantID: tenantID, storeID: storeID, deviceID: deviceID})
}

// Terminal returns tenant, store and device; ok is false if any of them is missing
func Terminal(ctx context.Context) (tenantID, storeID, deviceID string, ok bool) {
	t, found := ctx.Value(contextKey{}).(terminal)
	if !found || t.tenantID == "" || t.storeID == "" || t.deviceID == "" {
		return "", "", "", false
	}
	return t.tenantID, t.storeID, t.deviceID, true
}
