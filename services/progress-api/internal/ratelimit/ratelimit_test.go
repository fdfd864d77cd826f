package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/lesson-progress/internal/platform/auth"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newLimiter(rate float64, burst int) (*Limiter, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(rate, burst)
	l.now = c.now
	return l, c
}

func TestAllow_BurstThenRefill(t *testing.T) {
	l, c := newLimiter(0.5, 3)

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow("u1"); !ok {
			t.Fatalf("request %d: expected allowed", i)
		}
	}
	ok, wait := l.Allow("u1")
	if ok || wait != 2*time.Second {
		t.Fatalf("expected denial with 2s wait, got ok=%v wait=%v", ok, wait)
	}

	c.t = c.t.Add(2 * time.Second)
	if ok, _ := l.Allow("u1"); !ok {
		t.Fatal("expected a refilled token")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l, _ := newLimiter(1, 1)
	if ok, _ := l.Allow("u1"); !ok {
		t.Fatal("u1 first request denied")
	}
	if ok, _ := l.Allow("u2"); !ok {
		t.Fatal("u2 affected by u1")
	}
}

func TestSweep_DropsIdleBuckets(t *testing.T) {
	l, c := newLimiter(1, 1)
	l.Allow("u1")
	c.t = c.t.Add(idleBuckets + time.Second)
	l.Allow("u2")

	if _, ok := l.buckets["u1"]; ok {
		t.Fatal("idle bucket kept")
	}
}

func TestMiddleware_KeysOnUser(t *testing.T) {
	l, _ := newLimiter(1, 1)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	send := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/lessons/L1/progress", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		if user != "" {
			req = req.WithContext(auth.WithUserID(req.Context(), user))
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	if rr := send("u1"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rr := send("u1")
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d %v", rr.Code, rr.Header())
	}
	// same address, different user
	if rr := send("u2"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for u2, got %d", rr.Code)
	}
	// anonymous requests fall back to the address
	if rr := send(""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for first anonymous request, got %d", rr.Code)
	}
	if rr := send(""); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for second anonymous request, got %d", rr.Code)
	}
}

func TestMiddleware_NilLimiter(t *testing.T) {
	var l *Limiter
	called := false
	l.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("nil limiter blocked the request")
	}
}
