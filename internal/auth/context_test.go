package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTerminalContext(t *testing.T) {
	ctx := SetTerminal(context.Background(), "tenant-1", "store-9", "dev-a")

	tenant, store, device, ok := Terminal(ctx)
	require.True(t, ok)
	require.Equal(t, "tenant-1", tenant)
	require.Equal(t, "store-9", store)
	require.Equal(t, "dev-a", device)

	_, _, _, ok = Terminal(context.Background())
	require.False(t, ok)

	_, _, _, ok = Terminal(SetTerminal(context.Background(), "tenant-1", "", "dev-a"))
	require.False(t, ok)
}
