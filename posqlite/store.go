// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Scope identifies one store of one tenant. The worker drains each scope sequentially.
type Scope struct {
	TenantID string
	StoreID  string
}

func (s Scope) String() string { return s.TenantID + "/" + s.StoreID }

// Store is the terminal's Local Store: the pending-transactions log, the sync queue and
// the reference mirrors, all in one SQLite database.
type Store struct {
	db       *sql.DB
	ownsDB   bool
	config   *Config
	logger   *slog.Logger
	now      func() time.Time
	deviceID string
	writeMu  sync.Mutex // Serialize write transactions to prevent SQLite locking issues
}

// StoreOption customizes a Store
type StoreOption func(*Store)

// WithLogger sets the structured logger (slog.Default otherwise)
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now for every timestamp the store writes
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens (or creates) the SQLite database file at path and initializes the store.
func Open(path string, config *Config, opts ...StoreOption) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}
	// One connection: SQLite has a single writer and the worker never holds it across network calls.
	db.SetMaxOpenConns(1)
	s, err := OpenStore(db, config, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// OpenStore initializes the schema on db and returns a Store. In-flight entries left by a
// crashed process are reset to pending before OpenStore returns.
func OpenStore(db *sql.DB, config *Config, opts ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		db:     db,
		config: config,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()
	if err := initializeDatabase(ctx, db); err != nil {
		return nil, storageErr("initialize", err)
	}
	deviceID, err := ensureDeviceID(ctx, db, s.now())
	if err != nil {
		return nil, storageErr("device id", err)
	}
	s.deviceID = deviceID

	if n, err := s.RecoverInFlight(ctx); err != nil {
		return nil, err
	} else if n > 0 {
		s.logger.Warn("Reset in-flight queue entries left by previous run", "count", n)
	}
	return s, nil
}

// initializeDatabase creates the engine tables (private function)
func initializeDatabase(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	tables := []string{
		// Terminal identity (one row)
		`CREATE TABLE IF NOT EXISTS _pos_terminal_info (
			id          INTEGER PRIMARY KEY CHECK (id = 1),
			device_id   TEXT    NOT NULL,      -- locally generated UUIDv4 (persisted)
			created_at  INTEGER NOT NULL       -- unix ms
		)`,

		// Pending-transactions log
		`CREATE TABLE IF NOT EXISTS _pos_pending_tx (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id       TEXT    NOT NULL,
			store_id        TEXT    NOT NULL,
			customer_id     TEXT    NOT NULL DEFAULT '',
			items           TEXT    NOT NULL,  -- JSON array of line items
			subtotal        TEXT    NOT NULL,  -- decimal strings
			tax             TEXT    NOT NULL,
			discount        TEXT    NOT NULL,
			total           TEXT    NOT NULL,
			payment_method  TEXT    NOT NULL,
			note            TEXT    NOT NULL DEFAULT '',
			created_at      INTEGER NOT NULL,
			status          TEXT    NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','synced','failed')),
			remote_id       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS _pos_pending_tx_scope_idx
			ON _pos_pending_tx (tenant_id, store_id, status, created_at)`,

		// Sync queue (append-mostly, one row per mutation)
		`CREATE TABLE IF NOT EXISTS _pos_sync_queue (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id        TEXT    NOT NULL,
			store_id         TEXT    NOT NULL,
			table_name       TEXT    NOT NULL,
			op               TEXT    NOT NULL CHECK (op IN ('create','update','delete')),
			record_id        TEXT    NOT NULL,
			tx_id            INTEGER REFERENCES _pos_pending_tx(id),
			payload          TEXT,             -- JSON snapshot (NULL for delete)
			created_at       INTEGER NOT NULL,
			status           TEXT    NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','in_flight','synced','failed')),
			last_error       TEXT    NOT NULL DEFAULT '',
			retry_count      INTEGER NOT NULL DEFAULT 0 CHECK (retry_count >= 0),
			next_attempt_at  INTEGER NOT NULL DEFAULT 0,
			synced_at        INTEGER NOT NULL DEFAULT 0,
			remote_id        TEXT    NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS _pos_sync_queue_scope_idx
			ON _pos_sync_queue (tenant_id, store_id, status, created_at, id)`,
		`CREATE INDEX IF NOT EXISTS _pos_sync_queue_record_idx
			ON _pos_sync_queue (table_name, record_id, id)`,
		`CREATE INDEX IF NOT EXISTS _pos_sync_queue_tx_idx
			ON _pos_sync_queue (tx_id)`,
	}
	for _, table := range mirrorTables {
		tables = append(tables, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          TEXT    PRIMARY KEY,   -- remote identity
			tenant_id   TEXT    NOT NULL,
			store_id    TEXT    NOT NULL DEFAULT '',
			name        TEXT    NOT NULL DEFAULT '',
			code        TEXT    NOT NULL DEFAULT '',  -- SKU, phone, ... depending on table
			is_active   INTEGER NOT NULL DEFAULT 1,
			data        TEXT,
			updated_at  INTEGER NOT NULL
		)`, table))
	}

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// ensureDeviceID generates and persists the terminal device ID if not already present
func ensureDeviceID(ctx context.Context, db *sql.DB, now time.Time) (string, error) {
	var deviceID string
	err := db.QueryRowContext(ctx, `SELECT device_id FROM _pos_terminal_info WHERE id = 1`).Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		deviceID = uuid.New().String()
		if _, err := db.ExecContext(ctx,
			`INSERT INTO _pos_terminal_info (id, device_id, created_at) VALUES (1, ?, ?)`,
			deviceID, toMillis(now)); err != nil {
			return "", fmt.Errorf("failed to insert terminal info: %w", err)
		}
		return deviceID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query terminal info: %w", err)
	}
	return deviceID, nil
}

// DeviceID returns the persisted terminal identity used in idempotency keys
func (s *Store) DeviceID() string { return s.deviceID }

// DB exposes the underlying database (for the out-of-scope pull path and diagnostics)
func (s *Store) DB() *sql.DB { return s.db }

// Config returns the engine configuration the store was opened with
func (s *Store) Config() *Config { return s.config }

// Close closes the database if the store opened it
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// RecoverInFlight resets every in_flight entry to pending. An entry can only be in
// flight across a restart if the process died mid-send; the retry counter is untouched
// and the idempotency key makes the resend safe.
func (s *Store) RecoverInFlight(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE _pos_sync_queue SET status = 'pending' WHERE status = 'in_flight'`)
	if err != nil {
		return 0, storageErr("recover in-flight", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// withTx runs fn in one write transaction
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback() // Safe to call even after commit

	if err := fn(tx); err != nil {
		if IsValidation(err) || errors.Is(err, ErrNotFound) {
			return err
		}
		return storageErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
