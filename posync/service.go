// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApplyService is the reference canonical store: it applies terminal mutations to
// PostgreSQL exactly once per idempotency key.
type ApplyService struct {
	pool             *pgxpool.Pool
	logger           *slog.Logger
	config           *ServiceConfig
	registeredTables map[string]bool

	mu     sync.RWMutex
	closed bool
}

// ServiceConfig holds configuration for the apply service
type ServiceConfig struct {
	AppName          string   // Application name for connection tracking
	RegisteredTables []string // Tables terminals may push (defaults to DefaultTables)
	MaxPayloadBytes  int      // Maximum JSON payload size per mutation in bytes (0 = unlimited)
	MaxApplyAttempts int      // Attempts for serialization/deadlock failures (default 3)

	StageMetrics    StageMetricsRecorder // Optional stage timing sink
	LogStageTimings bool                 // Log stage timings at debug level
}

// NewApplyService creates a new apply service from an existing pool and creates its schema.
func NewApplyService(pool *pgxpool.Pool, config *ServiceConfig, logger *slog.Logger) (*ApplyService, error) {
	if config == nil {
		config = &ServiceConfig{AppName: "warehousepos-sync"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxApplyAttempts <= 0 {
		config.MaxApplyAttempts = 3
	}
	tables := config.RegisteredTables
	if len(tables) == 0 {
		tables = DefaultTables
	}

	service := &ApplyService{
		pool:             pool,
		logger:           logger,
		config:           config,
		registeredTables: make(map[string]bool, len(tables)),
	}
	for _, t := range tables {
		service.registeredTables[strings.ToLower(strings.TrimSpace(t))] = true
	}

	ctx := context.Background()
	if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return service.initializeSchemaInTx(ctx, tx)
	}); err != nil {
		logger.Error("Failed to initialize database schema", "error", err)
		return nil, fmt.Errorf("failed to initialize apply service: %w", err)
	}
	logger.Debug("Database schema initialized successfully")

	return service, nil
}

// Close marks the service closed. It does NOT close the pool.
func (s *ApplyService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Debug("Apply service shutdown complete")
	return nil
}

// Pool returns the underlying database connection pool
func (s *ApplyService) Pool() *pgxpool.Pool {
	return s.pool
}

// IsTableRegistered reports whether terminals may push mutations for table
func (s *ApplyService) IsTableRegistered(table string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registeredTables[table]
}

// RegisteredTables returns the registered table names, sorted
func (s *ApplyService) RegisteredTables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.registeredTables))
	for t := range s.registeredTables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s *ApplyService) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("apply service has been closed")
	}
	return nil
}

// AppName returns the configured application name
func (s *ApplyService) AppName() string {
	return s.config.AppName
}
