package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeBackoff_Bounds(t *testing.T) {
	maxBackoff := 5 * time.Minute

	// attempts=0 -> exp=max(1,1)=1 -> 2^1 = 2s
	require.Equal(t, 2*time.Second, ComputeBackoff(0, maxBackoff))

	// attempts=5 -> exp=6 -> 2^6 = 64s
	require.Equal(t, 64*time.Second, ComputeBackoff(5, maxBackoff))

	// attempts=-1 (defensive: never below attempt 0's behavior) -> exp=max(1,0)=1 -> 2s
	require.Equal(t, 2*time.Second, ComputeBackoff(-1, maxBackoff))
}

func TestComputeBackoff_CappedAtMax(t *testing.T) {
	maxBackoff := 1 * time.Minute

	// attempts=10 -> 2^11 = 2048s, capped to 1 minute
	require.Equal(t, maxBackoff, ComputeBackoff(10, maxBackoff))
}

func TestComputeBackoff_Monotonic(t *testing.T) {
	maxBackoff := 10 * time.Minute
	prev := time.Duration(0)
	for attempts := 0; attempts < 8; attempts++ {
		d := ComputeBackoff(attempts, maxBackoff)
		require.GreaterOrEqual(t, d, prev)
		prev = d
	}
}
