package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	return newLimiter(func() time.Time { return clock.now }), clock
}

func TestCapacityExhaustion(t *testing.T) {
	limiter, _ := newTestLimiter()

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("k", 3, time.Minute), "admit %d", i)
	}
	assert.False(t, limiter.Allow("k", 3, time.Minute))
}

func TestWholeWindowRefill(t *testing.T) {
	limiter, clock := newTestLimiter()

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("k", 3, time.Minute))
	}
	assert.False(t, limiter.Allow("k", 3, time.Minute))

	// A partial window carries no credit.
	clock.advance(45 * time.Second)
	assert.False(t, limiter.Allow("k", 3, time.Minute))

	// Crossing a full window refills exactly one capacity.
	clock.advance(20 * time.Second)
	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("k", 3, time.Minute), "refilled admit %d", i)
	}
	assert.False(t, limiter.Allow("k", 3, time.Minute))
}

func TestRefillIsCapped(t *testing.T) {
	limiter, clock := newTestLimiter()

	assert.True(t, limiter.Allow("k", 3, time.Minute))

	// Many idle windows do not accumulate beyond capacity.
	clock.advance(time.Hour / 2)
	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("k", 3, time.Minute))
	}
	assert.False(t, limiter.Allow("k", 3, time.Minute))
}

func TestKeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter()

	assert.True(t, limiter.Allow("a", 1, time.Minute))
	assert.False(t, limiter.Allow("a", 1, time.Minute))
	assert.True(t, limiter.Allow("b", 1, time.Minute))
}

func TestStaleBucketsAreSwept(t *testing.T) {
	limiter, clock := newTestLimiter()

	limiter.Allow("stale", 3, time.Minute)
	assert.Len(t, limiter.buckets, 1)

	clock.advance(2 * time.Hour)
	limiter.Allow("fresh", 3, time.Minute)

	limiter.mu.Lock()
	_, staleAlive := limiter.buckets["stale"]
	_, freshAlive := limiter.buckets["fresh"]
	limiter.mu.Unlock()
	assert.False(t, staleAlive)
	assert.True(t, freshAlive)
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/v1/chat", nil)
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit")
	assert.Equal(t, "127.0.0.1:Mozilla5.0 (X11 Linux x86_64) Ap", ClientKey(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientKey(r)[:len("203.0.113.9")])

	r.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Contains(t, ClientKey(r), "198.51.100.4:")

	r.Header.Set("CF-Connecting-IP", "192.0.2.7")
	assert.Contains(t, ClientKey(r), "192.0.2.7:")
}
