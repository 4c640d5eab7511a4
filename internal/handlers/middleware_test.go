package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterPoolEvictsIdle(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	pool := newLimiterPool(1, 1)
	pool.now = func() time.Time { return clock }
	t.Cleanup(pool.Shutdown)

	assert.True(t, pool.Allow("100"))
	assert.False(t, pool.Allow("100"))

	clock = clock.Add(5 * time.Minute)
	assert.True(t, pool.Allow("200"))
	assert.Equal(t, 2, pool.Len())

	// only the first key has been idle for longer than the ttl
	clock = clock.Add(6 * time.Minute)
	assert.Equal(t, 1, pool.evictIdle(clock.Add(-pool.ttl)))
	assert.Equal(t, 1, pool.Len())

	// an evicted key starts over with a fresh burst
	assert.True(t, pool.Allow("100"))
	assert.Equal(t, 2, pool.Len())

	pool.Shutdown()
	pool.Shutdown()
}
