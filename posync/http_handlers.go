// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posync

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// Applier is the part of ApplyService the HTTP layer depends on
type Applier interface {
	Apply(ctx context.Context, who TerminalIdentity, req *ApplyRequest) (*ApplyResponse, error)
	ListApplied(ctx context.Context, tenantID, storeID string, limit int) ([]AppliedEntry, error)
	RegisteredTables() []string
	AppName() string
}

// HTTPHandlers provides HTTP handlers for the terminal apply API
type HTTPHandlers struct {
	service       Applier
	authenticator TerminalAuthenticator
	logger        *slog.Logger
}

// NewHTTPHandlers creates a new instance of apply handlers
func NewHTTPHandlers(service Applier, authenticator TerminalAuthenticator, logger *slog.Logger) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
	}
}

// Routes registers the apply API on a new mux, wrapping authenticated routes with mw.
func (h *HTTPHandlers) Routes(mw func(http.Handler) http.Handler) *http.ServeMux {
	if mw == nil {
		mw = func(next http.Handler) http.Handler { return next }
	}
	mux := http.NewServeMux()
	mux.Handle("POST /pos/apply", mw(http.HandlerFunc(h.HandleApply)))
	mux.Handle("GET /pos/applied", mw(http.HandlerFunc(h.HandleListApplied)))
	mux.HandleFunc("GET /health", h.HandleHealth)
	return mux
}

// HandleApply applies one queued terminal mutation
func (h *HTTPHandlers) HandleApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	who, err := h.authenticator.Identify(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse apply request")
		return
	}

	response, err := h.service.Apply(r.Context(), who, &req)
	if err != nil {
		h.logger.Error("Failed to apply mutation", "error", err, "device_id", who.DeviceID, "idempotency_key", req.IdempotencyKey)
		h.writeError(w, http.StatusServiceUnavailable, "apply_failed", "Failed to apply mutation")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode apply response", "error", err, "device_id", who.DeviceID)
	}
}

// HandleListApplied lists recently applied mutations for the caller's store
func (h *HTTPHandlers) HandleListApplied(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET method is allowed")
		return
	}
	who, err := h.authenticator.Identify(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}
	limit := 100
	if ls := r.URL.Query().Get("limit"); ls != "" {
		v, err := strconv.Atoi(ls)
		if err != nil || v < 1 || v > 1000 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 1000")
			return
		}
		limit = v
	}
	rows, err := h.service.ListApplied(r.Context(), who.TenantID, who.StoreID, limit)
	if err != nil {
		h.logger.Error("List applied error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "list_applied_failed", "Failed to list applied mutations")
		return
	}
	if rows == nil {
		rows = []AppliedEntry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

// HandleHealth reports liveness; terminals poll it as a connectivity probe
func (h *HTTPHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StatusResponse{
		Status:           "healthy",
		AppName:          h.service.AppName(),
		RegisteredTables: h.service.RegisteredTables(),
	})
}

// writeError writes a standardized error response
func (h *HTTPHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errorCode,
		Message: message,
	})

	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}
