package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterAllowsUpToLimit(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: true, Limit: 2, Window: time.Hour})
	defer limiter.Stop()

	allowed, info := limiter.Allow("client-a")
	assert.True(t, allowed)
	assert.Equal(t, 2, info.Limit)

	allowed, _ = limiter.Allow("client-a")
	assert.True(t, allowed)

	allowed, info = limiter.Allow("client-a")
	assert.False(t, allowed, "third request within the window is rejected")
	assert.Positive(t, info.RetryAfter)
}

func TestLimiterIsolatesClients(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: true, Limit: 1, Window: time.Hour})
	defer limiter.Stop()

	allowed, _ := limiter.Allow("client-a")
	assert.True(t, allowed)
	allowed, _ = limiter.Allow("client-a")
	assert.False(t, allowed)

	allowed, _ = limiter.Allow("client-b")
	assert.True(t, allowed, "one client's exhaustion never affects another")
}

func TestLimiterDisabled(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: false, Limit: 1, Window: time.Hour})
	defer limiter.Stop()

	for i := 0; i < 10; i++ {
		allowed, _ := limiter.Allow("client-a")
		assert.True(t, allowed)
	}
}

func TestLimiterRefills(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: true, Limit: 1, Window: 50 * time.Millisecond})
	defer limiter.Stop()

	allowed, _ := limiter.Allow("client-a")
	assert.True(t, allowed)
	allowed, _ = limiter.Allow("client-a")
	assert.False(t, allowed)

	time.Sleep(80 * time.Millisecond)
	allowed, _ = limiter.Allow("client-a")
	assert.True(t, allowed, "tokens refill over the window")
}

func TestLimiterNilConfigUsesDefaults(t *testing.T) {
	limiter := NewLimiter(nil)
	defer limiter.Stop()

	allowed, info := limiter.Allow("client-a")
	assert.True(t, allowed)
	assert.Equal(t, 2, info.Limit)
}
