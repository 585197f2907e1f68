package posqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenStore_CreatesSchema(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	store, err := OpenStore(db, nil, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NotEmpty(t, store.DeviceID())

	expectedTables := []string{"_pos_terminal_info", "_pos_pending_tx", "_pos_sync_queue", "products", "customers", "categories"}
	for _, table := range expectedTables {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		require.Equal(t, 1, count, "Table %s should exist", table)
	}

	var foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	require.Equal(t, 1, foreignKeys)

	// Opening again is idempotent and keeps the device id.
	again, err := OpenStore(db, nil, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.Equal(t, store.DeviceID(), again.DeviceID())
}

func TestOpenStore_RejectsInvalidConfig(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	_, err = OpenStore(db, cfg)
	require.Error(t, err)
}

func TestOpen_ResetsInFlightAfterCrash(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	path := filepath.Join(t.TempDir(), "terminal.db")

	first, err := Open(path, testConfig(), WithClock(clock.Now), WithLogger(quietLogger()))
	require.NoError(t, err)
	_, entry, err := first.RecordSale(ctx, sale105("tenant-1", "store-1"))
	require.NoError(t, err)
	claimed, err := first.markInFlight(ctx, entry.ID)
	require.NoError(t, err)
	require.True(t, claimed)
	deviceID := first.DeviceID()
	// Simulate a crash mid-send: the process goes away with the entry in flight.
	require.NoError(t, first.Close())

	second, err := Open(path, testConfig(), WithClock(clock.Now), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer second.Close()
	require.Equal(t, deviceID, second.DeviceID())

	got, err := second.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, EntryPending, got.Status)
	require.Zero(t, got.RetryCount)

	remote := &fakeRemote{}
	res, err := NewWorker(second, remote).RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Synced)
	require.Len(t, remote.Calls(), 1)
	require.Equal(t, entry.IdempotencyKey(deviceID), remote.Calls()[0].IdempotencyKey)

	got, err = second.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, EntrySynced, got.Status)
}

func TestStatusAndListings(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestClock(), nil)
	scope := Scope{TenantID: "tenant-1", StoreID: "store-1"}

	for i := 0; i < 3; i++ {
		_, _, err := store.RecordSale(ctx, sale105(scope.TenantID, scope.StoreID))
		require.NoError(t, err)
	}

	remote := &fakeRemote{script: []remoteStep{nil, rejectStep("totals_mismatch")}}
	_, err := NewWorker(store, remote, WithBackoff(NoBackoff)).RunOnce(ctx)
	require.NoError(t, err)

	// Another store's queue does not show up in this scope.
	_, _, err = store.RecordSale(ctx, sale105("tenant-1", "store-2"))
	require.NoError(t, err)

	st, err := store.Status(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, 2, st.Synced)
	require.Equal(t, 1, st.Failed)
	require.Equal(t, 0, st.Pending)
	require.Equal(t, 0, st.InFlight)
	require.True(t, st.OldestPending.IsZero())
	require.True(t, st.NeedsAttention())
	require.Contains(t, st.LastError, "totals_mismatch")

	other, err := store.Status(ctx, Scope{TenantID: "tenant-1", StoreID: "store-2"})
	require.NoError(t, err)
	require.Equal(t, 1, other.Pending)
	require.False(t, other.OldestPending.IsZero())

	failed, err := store.ListEntries(ctx, Filter{TenantID: scope.TenantID, StoreID: scope.StoreID, Status: string(EntryFailed)})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, testConfig().MaxRetries, failed[0].RetryCount)

	failedTxs, err := store.ListTransactions(ctx, Filter{TenantID: scope.TenantID, StoreID: scope.StoreID, Status: string(TxFailed)})
	require.NoError(t, err)
	require.Len(t, failedTxs, 1)
	require.Equal(t, failed[0].TransactionID, failedTxs[0].ID)
	require.Empty(t, failedTxs[0].RemoteID)

	synced, err := store.ListTransactions(ctx, Filter{Status: string(TxSynced), Limit: 1})
	require.NoError(t, err)
	require.Len(t, synced, 1)
	require.NotEmpty(t, synced[0].RemoteID)
}

func TestRetryFailed_RequeuesEntriesAndSales(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestClock(), nil)
	scope := Scope{TenantID: "tenant-1", StoreID: "store-1"}

	pt, entry, err := store.RecordSale(ctx, sale105(scope.TenantID, scope.StoreID))
	require.NoError(t, err)

	remote := &fakeRemote{script: []remoteStep{rejectStep("record_missing")}}
	w := NewWorker(store, remote, WithBackoff(NoBackoff))
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)

	n, err := store.RetryFailed(ctx, Scope{TenantID: "tenant-1", StoreID: "other"})
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = store.RetryFailed(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, EntryPending, got.Status)
	require.Zero(t, got.RetryCount)
	tx, err := store.GetTransaction(ctx, pt.ID)
	require.NoError(t, err)
	require.Equal(t, TxPending, tx.Status)

	_, err = w.RunOnce(ctx)
	require.NoError(t, err)
	tx, err = store.GetTransaction(ctx, pt.ID)
	require.NoError(t, err)
	require.Equal(t, TxSynced, tx.Status)
	require.Equal(t, "remote-1", tx.RemoteID)
}
