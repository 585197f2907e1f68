package posqlite

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyliacare/warehousepos/posync"
)

func TestEnqueue_SnapshotIsCapturedByValue(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestClock(), nil)

	p := &ProductPayload{Name: "Green Tea", SKU: "TEA-01", Price: d("3.50"), IsActive: true}
	entry, err := store.Enqueue(ctx, EnqueueRequest{
		TenantID: "tenant-1", StoreID: "store-1",
		Table: posync.TableProducts, Op: posync.OpCreate, RecordID: "prod-1",
		Payload: p,
	})
	require.NoError(t, err)
	require.Equal(t, EntryPending, entry.Status)
	require.Zero(t, entry.RetryCount)

	// Later edits to the caller's value must not reach the queue.
	p.Name = "Changed"
	p.Price = d("99")

	got, err := store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	decoded, err := DecodePayload(got.Table, got.Payload)
	require.NoError(t, err)
	prod := decoded.(*ProductPayload)
	require.Equal(t, "Green Tea", prod.Name)
	require.True(t, prod.Price.Equal(d("3.50")))
}

func TestEnqueue_SaleItemsAreCopied(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestClock(), nil)

	m := sale105("tenant-1", "store-1")
	pt, entry, err := store.RecordSale(ctx, m)
	require.NoError(t, err)

	m.Items[0].ProductID = "tampered"
	pt.Items[0].ProductID = "tampered"

	got, err := store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	decoded, err := DecodePayload(posync.TableSales, got.Payload)
	require.NoError(t, err)
	require.Equal(t, "p-1", decoded.(*SalePayload).Items[0].ProductID)
}

func TestRecordSale_LinksEntryToTransaction(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestClock(), nil)

	pt, entry, err := store.RecordSale(ctx, sale105("tenant-1", "store-1"))
	require.NoError(t, err)
	require.Equal(t, pt.ID, entry.TransactionID)
	require.Equal(t, posync.TableSales, entry.Table)
	require.Equal(t, posync.OpCreate, entry.Op)
	require.Equal(t, "tenant-1", entry.TenantID)
	require.Equal(t, store.DeviceID()+":"+jsonNumber(entry.ID), entry.IdempotencyKey(store.DeviceID()))

	var sale SalePayload
	require.NoError(t, json.Unmarshal(entry.Payload, &sale))
	require.Equal(t, pt.ID, sale.LocalID)
	require.True(t, sale.Total.Equal(d("105")))
}

func TestRecordSale_InvalidWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestClock(), nil)

	m := sale105("tenant-1", "store-1")
	m.Total = d("100")
	_, _, err := store.RecordSale(ctx, m)
	require.True(t, IsValidation(err))

	txs, err := store.ListTransactions(ctx, Filter{})
	require.NoError(t, err)
	require.Empty(t, txs)
	entries, err := store.ListEntries(ctx, Filter{})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestEnqueue_RejectsMalformedRequests(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestClock(), nil)
	base := func() EnqueueRequest {
		return EnqueueRequest{
			TenantID: "tenant-1", StoreID: "store-1",
			Table: posync.TableCustomers, Op: posync.OpUpdate, RecordID: "cust-1",
			Payload: &CustomerPayload{Name: "Ama"},
		}
	}

	tests := []struct {
		name   string
		mutate func(r *EnqueueRequest)
		is     error
	}{
		{"unknown table", func(r *EnqueueRequest) { r.Table = "invoices" }, ErrUnknownTable},
		{"invalid op", func(r *EnqueueRequest) { r.Op = "upsert" }, ErrInvalidOp},
		{"missing record id", func(r *EnqueueRequest) { r.RecordID = "" }, nil},
		{"payload for another table", func(r *EnqueueRequest) { r.Payload = &CategoryPayload{Name: "Drinks"} }, nil},
		{"delete with payload", func(r *EnqueueRequest) { r.Op = posync.OpDelete }, nil},
		{"update without payload", func(r *EnqueueRequest) { r.Payload = nil }, nil},
		{"invalid payload", func(r *EnqueueRequest) { r.Payload = &CustomerPayload{Name: ""} }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base()
			tt.mutate(&r)
			_, err := store.Enqueue(ctx, r)
			require.Error(t, err)
			require.True(t, IsValidation(err), "got %v", err)
			if tt.is != nil {
				require.True(t, errors.Is(err, tt.is), "got %v", err)
			}
		})
	}

	entries, err := store.ListEntries(ctx, Filter{})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestEnqueue_DeleteWithoutPayload(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newTestClock(), nil)

	entry, err := store.Enqueue(ctx, EnqueueRequest{
		TenantID: "tenant-1", StoreID: "store-1",
		Table: "Categories", Op: "DELETE", RecordID: "cat-1",
	})
	require.NoError(t, err)
	require.Equal(t, posync.TableCategories, entry.Table)
	require.Equal(t, posync.OpDelete, entry.Op)

	got, err := store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Nil(t, got.Payload)
}

func jsonNumber(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
