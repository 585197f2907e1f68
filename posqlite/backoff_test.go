package posqlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff{Min: time.Second, Max: 10 * time.Second}
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, b.Delay(tt.retry), "retry %d", tt.retry)
	}
}

func TestExponentialBackoff_Uncapped(t *testing.T) {
	b := ExponentialBackoff{Min: 100 * time.Millisecond}
	require.Equal(t, 800*time.Millisecond, b.Delay(4))
	require.Zero(t, ExponentialBackoff{}.Delay(3))
	require.Zero(t, NoBackoff.Delay(2))
}
