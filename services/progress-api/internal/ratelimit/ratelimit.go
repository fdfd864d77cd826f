// Package ratelimit throttles progress writes per user with a token bucket.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/example/lesson-progress/internal/platform/api"
	"github.com/example/lesson-progress/internal/platform/auth"
	"github.com/example/lesson-progress/internal/platform/httpserver"
)

// idleBuckets are dropped after this long without a request.
const idleBuckets = 10 * time.Minute

type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int
	now     func() time.Time
	swept   time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func New(rate float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   max(1, burst),
		now:     time.Now,
	}
}

// Allow takes one token from key's bucket. When the bucket is empty it
// returns the wait until the next token.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burst), last: now}
		l.buckets[key] = b
	}
	b.tokens = min(float64(l.burst), b.tokens+now.Sub(b.last).Seconds()*l.rate)
	b.last = now

	if b.tokens < 1 {
		if l.rate <= 0 {
			return false, time.Minute
		}
		return false, time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	}
	b.tokens--
	return true, 0
}

func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.swept) < idleBuckets {
		return
	}
	for k, b := range l.buckets {
		if now.Sub(b.last) > idleBuckets {
			delete(l.buckets, k)
		}
	}
	l.swept = now
}

// Middleware keys on the authenticated user, or the client address when the
// request carries none. A nil Limiter lets everything through.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := auth.UserIDFromContext(r.Context())
		if !ok || key == "" {
			key = clientIP(r)
		}
		allowed, wait := l.Allow(key)
		if !allowed {
			secs := int(wait.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			api.RateLimited(w, "RATE_LIMITED", "Too many progress updates", httpserver.RequestIDFromContext(r.Context()),
				map[string]any{"retry_after_seconds": secs})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
