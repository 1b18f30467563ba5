package antiabuse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLimiter(rules map[string]Rule) (*Limiter, *time.Time) {
	l := NewLimiter(rules)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiterBlocksOverLimit(t *testing.T) {
	l, _ := newTestLimiter(map[string]Rule{"play": {Limit: 3, Window: time.Second}})

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow(1, "play"))
	}
	require.False(t, l.Allow(1, "play"))

	// Another user is unaffected.
	require.True(t, l.Allow(2, "play"))
}

func TestLimiterWindowSlides(t *testing.T) {
	l, now := newTestLimiter(map[string]Rule{"withdraw": {Limit: 1, Window: time.Minute}})

	require.True(t, l.Allow(1, "withdraw"))
	require.False(t, l.Allow(1, "withdraw"))

	*now = now.Add(61 * time.Second)
	require.True(t, l.Allow(1, "withdraw"))
}

func TestLimiterUnknownActionAllowed(t *testing.T) {
	l, _ := newTestLimiter(map[string]Rule{})
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow(1, "anything"))
	}
}

func TestPruneDropsExpired(t *testing.T) {
	l, now := newTestLimiter(map[string]Rule{"play": {Limit: 3, Window: time.Second}})

	require.True(t, l.Allow(1, "play"))
	require.True(t, l.Allow(2, "play"))

	*now = now.Add(2 * time.Second)
	l.Prune()

	l.mu.Lock()
	remaining := len(l.history)
	l.mu.Unlock()
	require.Zero(t, remaining)
}
