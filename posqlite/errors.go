// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posqlite

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownTable = errors.New("unknown table")
	ErrInvalidOp    = errors.New("invalid operation")
	ErrNotFound     = errors.New("not found")
)

// ValidationError reports a malformed mutation. Nothing was written.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StorageError wraps a local durability failure
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// TransientError is a remote failure worth retrying: timeout, connectivity loss, 5xx,
// or any response that is not a well-formed accept/reject.
type TransientError struct {
	Op         string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a rejection by the canonical store; the entry fails without retry.
type PermanentError struct {
	Reason  string
	Message string
}

func (e *PermanentError) Error() string {
	if e.Message == "" {
		return "rejected: " + e.Reason
	}
	return fmt.Sprintf("rejected: %s: %s", e.Reason, e.Message)
}

// IsTransient reports whether err carries a TransientError
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err carries a PermanentError
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsValidation reports whether err carries a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
