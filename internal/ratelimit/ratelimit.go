// Package ratelimit implements the per-client admission control used
// by the chat endpoints: a token bucket with discrete whole-window
// refills, keyed by a client fingerprint.
package ratelimit

import (
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	bucketTTL     = time.Hour
	sweepInterval = 5 * time.Minute
	maxUserAgent  = 32
)

type bucket struct {
	tokens int
	last   time.Time
}

// Limiter holds process-wide bucket state. Buckets unseen for longer
// than an hour are swept, at most once every few minutes, to bound
// memory.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

func NewLimiter() *Limiter {
	return newLimiter(time.Now)
}

func newLimiter(now func() time.Time) *Limiter {
	return &Limiter{
		buckets:   make(map[string]*bucket),
		lastSweep: now(),
		now:       now,
	}
}

func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < sweepInterval {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.last) > bucketTTL {
			delete(l.buckets, key)
		}
	}
}

// Allow reports whether the caller identified by key may proceed.
// The bucket starts full and refills by capacity for every whole
// refill window that has elapsed since the last refill; partial
// windows carry no credit. A rejected call does not consume a token.
func (l *Limiter) Allow(key string, capacity int, refillWindow time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, last: now}
		l.buckets[key] = b
	}

	windows := int(now.Sub(b.last) / refillWindow)
	if windows > 0 {
		b.tokens = min(capacity, b.tokens+windows*capacity)
		b.last = now
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

var userAgentSanitizer = regexp.MustCompile(`[^a-zA-Z0-9\s\-_.()]`)

// ClientKey derives the rate-limit fingerprint for a request: the
// client IP taken from the usual proxy headers, plus a sanitized,
// length-capped user agent so distinct browsers behind one NAT do not
// share a bucket.
func ClientKey(r *http.Request) string {
	ip := "127.0.0.1"
	switch {
	case r.Header.Get("CF-Connecting-IP") != "":
		ip = r.Header.Get("CF-Connecting-IP")
	case r.Header.Get("X-Real-IP") != "":
		ip = r.Header.Get("X-Real-IP")
	case r.Header.Get("X-Forwarded-For") != "":
		ip = strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0])
	}

	ua := r.Header.Get("User-Agent")
	if ua == "" {
		ua = "unknown"
	}
	ua = userAgentSanitizer.ReplaceAllString(ua, "")
	if len(ua) > maxUserAgent {
		ua = ua[:maxUserAgent]
	}

	return ip + ":" + ua
}
