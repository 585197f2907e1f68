// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyliacare/warehousepos/posync"
)

// RemoteStore is the canonical store boundary. Apply returns the accepted response, or a
// *PermanentError for a rejection, or a *TransientError for anything worth retrying.
type RemoteStore interface {
	Apply(ctx context.Context, req *posync.ApplyRequest) (*posync.ApplyResponse, error)
}

// RemoteStoreFunc adapts a function to RemoteStore
type RemoteStoreFunc func(ctx context.Context, req *posync.ApplyRequest) (*posync.ApplyResponse, error)

func (f RemoteStoreFunc) Apply(ctx context.Context, req *posync.ApplyRequest) (*posync.ApplyResponse, error) {
	return f(ctx, req)
}

// maxResponseBytes bounds how much of a response body is read
const maxResponseBytes = 1 << 20

// HTTPRemote talks to a posync server over POST /pos/apply
type HTTPRemote struct {
	BaseURL string
	Token   func(context.Context) (string, error) // returns JWT
	HTTP    *http.Client
}

// NewHTTPRemote creates an HTTP remote for baseURL
func NewHTTPRemote(baseURL string, tok func(ctx context.Context) (string, error)) *HTTPRemote {
	return &HTTPRemote{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   tok,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Apply sends one mutation and classifies the outcome
func (r *HTTPRemote) Apply(ctx context.Context, req *posync.ApplyRequest) (*posync.ApplyResponse, error) {
	const op = "apply"
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, &PermanentError{Reason: posync.ReasonBadPayload, Message: fmt.Sprintf("failed to marshal apply request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/pos/apply", bytes.NewReader(jsonData))
	if err != nil {
		return nil, &TransientError{Op: op, Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.Token != nil {
		token, err := r.Token(ctx)
		if err != nil {
			return nil, &TransientError{Op: op, Err: fmt.Errorf("failed to get JWT token: %w", err)}
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.HTTP.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Op: op, Err: fmt.Errorf("failed to send HTTP request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransientError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return classifyApplyBody(resp.StatusCode, body)
	case isPermanentStatus(resp.StatusCode):
		return nil, permanentFromBody(resp.StatusCode, body)
	default:
		return nil, &TransientError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("server returned: %s", snippet(body))}
	}
}

// isPermanentStatus lists the statuses that will not change on retry.
// 401 is excluded: an expired token is refreshed and the entry retried.
func isPermanentStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

func classifyApplyBody(status int, body []byte) (*posync.ApplyResponse, error) {
	var out posync.ApplyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &TransientError{Op: "apply", StatusCode: status, Err: fmt.Errorf("malformed response: %w", err)}
	}
	switch out.Status {
	case posync.StAccepted:
		return &out, nil
	case posync.StRejected:
		reason := out.Reason()
		if reason == "" {
			reason = "rejected"
		}
		return nil, &PermanentError{Reason: reason, Message: out.Message}
	default:
		return nil, &TransientError{Op: "apply", StatusCode: status, Err: fmt.Errorf("malformed response: unknown status %q", out.Status)}
	}
}

func permanentFromBody(status int, body []byte) error {
	var er posync.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		return &PermanentError{Reason: er.Error, Message: er.Message}
	}
	return &PermanentError{Reason: http.StatusText(status), Message: snippet(body)}
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// remoteErrorMessage renders an error for the entry's last_error column
func remoteErrorMessage(err error) string {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe.Error()
	}
	return err.Error()
}
