// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fyliacare/warehousepos/posync"
	"golang.org/x/sync/errgroup"
)

// Worker drains the sync queue against the remote store. Each (tenant, store) scope is
// drained sequentially by its own goroutine; scopes run concurrently.
type Worker struct {
	store   *Store
	remote  RemoteStore
	conn    Connectivity
	config  *Config
	logger  *slog.Logger
	now     func() time.Time
	backoff Backoff

	kick   chan struct{}
	passMu sync.Mutex // one pass at a time
}

// WorkerOption customizes a Worker
type WorkerOption func(*Worker)

// WithConnectivity sets the online/offline signal. Without it the worker polls.
func WithConnectivity(c Connectivity) WorkerOption {
	return func(w *Worker) { w.conn = c }
}

// WithBackoff replaces the exponential backoff derived from Config
func WithBackoff(b Backoff) WorkerOption {
	return func(w *Worker) {
		if b != nil {
			w.backoff = b
		}
	}
}

// WithWorkerClock replaces the store's clock for scheduling decisions
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithWorkerLogger sets the worker logger (the store's logger otherwise)
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWorker creates a worker over store and remote
func NewWorker(store *Store, remote RemoteStore, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:   store,
		remote:  remote,
		config:  store.config,
		logger:  store.logger,
		now:     store.now,
		backoff: ExponentialBackoff{Min: store.config.BackoffMin, Max: store.config.BackoffMax},
		kick:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// PassResult counts what one pass did
type PassResult struct {
	Attempted int // remote calls made
	Synced    int
	Retried   int
	Failed    int
	Held      int // entries skipped by the causal gate or backoff
}

func (r *PassResult) add(o PassResult) {
	r.Attempted += o.Attempted
	r.Synced += o.Synced
	r.Retried += o.Retried
	r.Failed += o.Failed
	r.Held += o.Held
}

// Run recovers in-flight entries, then runs passes on connectivity-regained events,
// Trigger calls and every PollInterval, and sweeps every SweepInterval, until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if n, err := w.store.RecoverInFlight(ctx); err != nil {
		return err
	} else if n > 0 {
		w.logger.Warn("Reset in-flight queue entries before scheduling", "count", n)
	}

	poll := time.NewTicker(w.config.PollInterval)
	defer poll.Stop()
	sweep := time.NewTicker(w.config.SweepInterval)
	defer sweep.Stop()

	var changes <-chan bool
	if w.conn != nil {
		changes = w.conn.Changes()
	}

	w.pass(ctx)
	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case online := <-changes:
			if online {
				w.logger.Debug("Connectivity regained; starting pass")
				w.pass(ctx)
			}
		case <-w.kick:
			w.pass(ctx)
		case <-poll.C:
			w.pass(ctx)
		case <-sweep.C:
			w.sweep(ctx)
		}
	}
}

// Trigger asks a running worker for a pass now (e.g. right after a sale)
func (w *Worker) Trigger() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *Worker) pass(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("Sync pass failed", "error", err)
	}
}

func (w *Worker) sweep(ctx context.Context) {
	if _, err := w.store.Sweep(ctx, w.now()); err != nil && ctx.Err() == nil {
		w.logger.Error("Retention sweep failed", "error", err)
	}
}

func (w *Worker) online() bool {
	return w.conn == nil || w.conn.Online()
}

// RunOnce performs one pass over every scope with pending entries. Only local storage
// failures are returned; remote failures are recorded on the entries.
func (w *Worker) RunOnce(ctx context.Context) (PassResult, error) {
	w.passMu.Lock()
	defer w.passMu.Unlock()

	var total PassResult
	if !w.online() {
		w.logger.Debug("Offline; skipping sync pass")
		return total, nil
	}
	scopes, err := w.store.activeScopes(ctx)
	if err != nil {
		return total, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, scope := range scopes {
		g.Go(func() error {
			res, err := w.drainScope(gctx, scope)
			mu.Lock()
			total.add(res)
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("scope %s: %w", scope, err)
			}
			return nil
		})
	}
	err = g.Wait()

	if total.Attempted > 0 {
		w.logger.Info("Sync pass complete",
			"scopes", len(scopes),
			"attempted", total.Attempted,
			"synced", total.Synced,
			"retried", total.Retried,
			"failed", total.Failed,
			"held", total.Held)
	}
	return total, err
}

type recordKey struct {
	table    string
	recordID string
}

type outcome int

const (
	outcomeSynced outcome = iota
	outcomeRetry
	outcomeFailed
	outcomeSkipped
	outcomeStopped
)

// drainScope sends eligible entries of one scope in local-id order. An entry is eligible
// when every earlier entry for the same record has synced; any entry that is not sent,
// or does not sync, holds back the rest of its record for this pass. The snapshot is read
// in pages of BatchLimit rows until BatchLimit entries have been sent, so failed and
// held-back rows never use up a pass.
func (w *Worker) drainScope(ctx context.Context, scope Scope) (PassResult, error) {
	var res PassResult
	queues := make(map[recordKey][]int64)
	blocked := make(map[recordKey]bool)
	now := w.now()
	sent := 0
	var afterID int64

	for sent < w.config.BatchLimit {
		entries, err := w.store.unsyncedEntries(ctx, scope, afterID, w.config.BatchLimit)
		if err != nil {
			return res, err
		}
		// Entries are ordered by id, so each record's queue stays FIFO across pages.
		for _, e := range entries {
			k := recordKey{e.Table, e.RecordID}
			queues[k] = append(queues[k], e.ID)
		}

		for _, e := range entries {
			if ctx.Err() != nil {
				return res, nil
			}
			afterID = e.ID
			k := recordKey{e.Table, e.RecordID}
			if sent >= w.config.BatchLimit || blocked[k] || queues[k][0] != e.ID {
				res.Held++
				continue
			}
			if e.Status != EntryPending || e.NextAttemptAt.After(now) {
				blocked[k] = true
				res.Held++
				continue
			}

			sent++
			out, err := w.process(ctx, e)
			if err != nil {
				return res, err
			}
			switch out {
			case outcomeSynced:
				res.Attempted++
				res.Synced++
				queues[k] = queues[k][1:]
			case outcomeRetry:
				res.Attempted++
				res.Retried++
				blocked[k] = true
				if !w.online() {
					w.logger.Info("Connectivity lost; ending pass early", "scope", scope)
					return res, nil
				}
			case outcomeFailed:
				res.Failed++
				blocked[k] = true
			case outcomeSkipped:
				blocked[k] = true
			case outcomeStopped:
				return res, nil
			}
		}
		if len(entries) < w.config.BatchLimit {
			break
		}
	}
	return res, nil
}

// process drives one entry through in_flight to synced, pending (retry) or failed
func (w *Worker) process(ctx context.Context, e *SyncQueueEntry) (outcome, error) {
	logger := w.logger.With("entry_id", e.ID, "table", e.Table, "op", e.Op, "record_id", e.RecordID)

	req, err := w.buildRequest(ctx, e)
	if err != nil {
		if !IsValidation(err) {
			return 0, err
		}
		msg := "quarantined: " + err.Error()
		logger.Error("Malformed queue entry quarantined", "error", err)
		if err := w.store.markFailed(ctx, e, msg, w.config.MaxRetries); err != nil {
			return 0, err
		}
		return outcomeFailed, nil
	}

	claimed, err := w.store.markInFlight(ctx, e.ID)
	if err != nil {
		return 0, err
	}
	if !claimed {
		return outcomeSkipped, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, w.config.RemoteTimeout)
	resp, err := w.remote.Apply(callCtx, req)
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()

	// The outcome is persisted even when the worker is being stopped.
	persistCtx := context.WithoutCancel(ctx)

	if err == nil {
		switch {
		case resp != nil && resp.Status == posync.StAccepted:
			if err := w.store.markSynced(persistCtx, e, resp.RemoteID); err != nil {
				return 0, err
			}
			logger.Debug("Entry synced", "remote_id", resp.RemoteID, "replayed", resp.Replayed, "retry_count", e.RetryCount)
			return outcomeSynced, nil
		case resp != nil && resp.Status == posync.StRejected:
			err = &PermanentError{Reason: resp.Reason(), Message: resp.Message}
		default:
			err = &TransientError{Op: "apply", Err: errors.New("malformed response")}
		}
	}

	// A rejection is final even if it arrived while the worker was stopping.
	if IsPermanent(err) {
		logger.Warn("Entry rejected by remote store", "error", err)
		if err := w.store.markFailed(persistCtx, e, remoteErrorMessage(err), w.config.MaxRetries); err != nil {
			return 0, err
		}
		return outcomeFailed, nil
	}

	if ctx.Err() != nil && !timedOut {
		if err := w.store.releaseInFlight(persistCtx, e.ID); err != nil {
			return 0, err
		}
		logger.Debug("Send cancelled; entry returned to pending")
		return outcomeStopped, nil
	}

	delay := w.backoff.Delay(e.RetryCount + 1)
	failed, serr := w.store.markRetry(persistCtx, e, err.Error(), w.config.MaxRetries, w.now().Add(delay))
	if serr != nil {
		return 0, serr
	}
	if failed {
		logger.Warn("Entry failed after exhausting retries", "retries", w.config.MaxRetries, "error", err)
		return outcomeFailed, nil
	}
	logger.Debug("Transient failure; will retry", "retry_count", e.RetryCount+1, "backoff", delay, "error", err)
	return outcomeRetry, nil
}

// buildRequest decodes the entry's snapshot into its table variant and builds the wire
// request. A snapshot that cannot be decoded yields a ValidationError.
func (w *Worker) buildRequest(ctx context.Context, e *SyncQueueEntry) (*posync.ApplyRequest, error) {
	req := &posync.ApplyRequest{
		IdempotencyKey: e.IdempotencyKey(w.store.DeviceID()),
		Table:          e.Table,
		Op:             e.Op,
		RecordID:       e.RecordID,
	}
	if _, err := newPayload(e.Table); err != nil {
		return nil, &ValidationError{Field: "table", Reason: err.Error(), Err: err}
	}
	switch e.Op {
	case posync.OpDelete:
		return req, nil
	case posync.OpCreate, posync.OpUpdate:
	default:
		return nil, &ValidationError{Field: "op", Reason: fmt.Sprintf("%q", e.Op), Err: ErrInvalidOp}
	}
	if len(e.Payload) == 0 {
		return nil, invalid("payload", "missing snapshot for %s", e.Op)
	}

	p, err := DecodePayload(e.Table, e.Payload)
	if err != nil {
		return nil, err
	}
	sale, ok := p.(*SalePayload)
	if !ok {
		req.Payload = e.Payload
		return req, nil
	}
	if err := w.store.enrichSale(ctx, sale); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(sale)
	if err != nil {
		return nil, invalid("payload", "failed to encode enriched sale: %v", err)
	}
	req.Payload = raw
	return req, nil
}
