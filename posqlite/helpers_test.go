package posqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fyliacare/warehousepos/posync"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.RemoteTimeout = 2 * time.Second
	return cfg
}

func newTestStore(t *testing.T, clock *testClock, cfg *Config) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if cfg == nil {
		cfg = testConfig()
	}
	s, err := OpenStore(db, cfg, WithClock(clock.Now), WithLogger(quietLogger()))
	require.NoError(t, err)
	return s
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// sale105 has subtotal 100, tax 10, discount 5 and therefore total 105.
func sale105(tenant, store string) SaleMutation {
	m := SaleMutation{
		TenantID: tenant,
		StoreID:  store,
		Items: []LineItem{
			{ProductID: "p-1", Quantity: d("2"), UnitPrice: d("30.00")},
			{ProductID: "p-2", Quantity: d("1"), UnitPrice: d("40.00")},
		},
		Tax:           d("10"),
		Discount:      d("5"),
		PaymentMethod: PaymentCash,
	}
	m.ComputeTotals()
	return m
}

type remoteStep func(ctx context.Context, req *posync.ApplyRequest) (*posync.ApplyResponse, error)

// fakeRemote behaves like the canonical store: creates get a remote id once per
// idempotency key. Scripted steps override the next calls in order.
type fakeRemote struct {
	mu      sync.Mutex
	calls   []posync.ApplyRequest
	script  []remoteStep
	always  remoteStep
	applied map[string]string
}

func (f *fakeRemote) Apply(ctx context.Context, req *posync.ApplyRequest) (*posync.ApplyResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, *req)
	var step remoteStep
	if len(f.script) > 0 {
		step, f.script = f.script[0], f.script[1:]
	} else if f.always != nil {
		step = f.always
	}
	f.mu.Unlock()

	if step != nil {
		return step(ctx, req)
	}
	return f.accept(req), nil
}

func (f *fakeRemote) accept(req *posync.ApplyRequest) *posync.ApplyResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applied == nil {
		f.applied = make(map[string]string)
	}
	if id, ok := f.applied[req.IdempotencyKey]; ok {
		return &posync.ApplyResponse{Status: posync.StAccepted, RemoteID: id, Replayed: true}
	}
	id := fmt.Sprintf("remote-%d", len(f.applied)+1)
	f.applied[req.IdempotencyKey] = id
	return &posync.ApplyResponse{Status: posync.StAccepted, RemoteID: id}
}

func (f *fakeRemote) Calls() []posync.ApplyRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]posync.ApplyRequest, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeRemote) AppliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func timeoutStep(context.Context, *posync.ApplyRequest) (*posync.ApplyResponse, error) {
	return nil, &TransientError{Op: "apply", Err: context.DeadlineExceeded}
}

func rejectStep(reason string) remoteStep {
	return func(context.Context, *posync.ApplyRequest) (*posync.ApplyResponse, error) {
		return nil, &PermanentError{Reason: reason, Message: "refused by test"}
	}
}
