package posync

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// openTestPool connects to TEST_DATABASE_URL, or starts a throwaway container when
// POS_TESTCONTAINERS is set. The test is skipped when neither is available.
func openTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		if os.Getenv("POS_TESTCONTAINERS") == "" {
			t.Skip("TEST_DATABASE_URL or POS_TESTCONTAINERS not set")
		}
		container, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("pos_test"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("password"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() { _ = container.Terminate(context.Background()) })

		dbURL, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func newTestApplyService(t *testing.T, pool *pgxpool.Pool) *ApplyService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	svc, err := NewApplyService(pool, &ServiceConfig{AppName: "posync-integration-test"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}
