package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func clientGenerator() *rapid.Generator[string] {
	return rapid.StringMatching(`10\.0\.[0-9]{1,3}\.[0-9]{1,3}`)
}

func testClientLimiter_WithinBurstAllowed(t *rapid.T) {
	config := Config{RPS: 100, Burst: rapid.IntRange(1, 100).Draw(t, "burst"), CleanupInterval: time.Hour}
	cl := NewClientLimiter(config)
	defer cl.Stop()

	client := clientGenerator().Draw(t, "client")
	n := rapid.IntRange(1, config.Burst).Draw(t, "n")
	for i := 0; i < n; i++ {
		if !cl.Allow(client) {
			t.Fatalf("request %d of %d should be allowed within burst %d", i+1, n, config.Burst)
		}
	}
}

func TestClientLimiter_WithinBurstAllowed(t *testing.T) {
	rapid.Check(t, testClientLimiter_WithinBurstAllowed)
}

func testClientLimiter_ExceedingBurstBlocked(t *rapid.T) {
	burst := rapid.IntRange(1, 20).Draw(t, "burst")
	cl := NewClientLimiter(Config{RPS: 0.001, Burst: burst, CleanupInterval: time.Hour})
	defer cl.Stop()

	client := clientGenerator().Draw(t, "client")
	for i := 0; i < burst; i++ {
		cl.Allow(client)
	}
	if cl.Allow(client) {
		t.Fatalf("request beyond burst %d should be blocked", burst)
	}
}

func TestClientLimiter_ExceedingBurstBlocked(t *testing.T) {
	rapid.Check(t, testClientLimiter_ExceedingBurstBlocked)
}

func testClientLimiter_ClientsIsolated(t *rapid.T) {
	cl := NewClientLimiter(Config{RPS: 0.001, Burst: 2, CleanupInterval: time.Hour})
	defer cl.Stop()

	a := clientGenerator().Draw(t, "a")
	b := clientGenerator().Filter(func(s string) bool { return s != a }).Draw(t, "b")
	cl.Allow(a)
	cl.Allow(a)
	if cl.Allow(a) {
		t.Fatal("client a should be exhausted")
	}
	if !cl.Allow(b) {
		t.Fatal("client b must not share a's bucket")
	}
}

func TestClientLimiter_ClientsIsolated(t *testing.T) {
	rapid.Check(t, testClientLimiter_ClientsIsolated)
}

func TestClientLimiter_CleanupDropsIdle(t *testing.T) {
	cl := NewClientLimiter(Config{RPS: 1, Burst: 1, CleanupInterval: time.Millisecond})
	defer cl.Stop()

	cl.Allow("10.0.0.1")
	time.Sleep(5 * time.Millisecond)
	cl.Cleanup()
	if cl.Len() != 0 {
		t.Fatalf("expected idle limiter to be dropped, have %d", cl.Len())
	}
}

func TestClientLimiter_ConcurrentAccess(t *testing.T) {
	cl := NewClientLimiter(Config{RPS: 1000, Burst: 1000, CleanupInterval: time.Hour})
	defer cl.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				cl.Allow("10.0.0.9")
			}
		}()
	}
	wg.Wait()
	if cl.Len() != 1 {
		t.Fatalf("expected one limiter, have %d", cl.Len())
	}
}

func TestMiddleware_Returns429WhenExhausted(t *testing.T) {
	cl := NewClientLimiter(Config{RPS: 0.001, Burst: 1, CleanupInterval: time.Hour})
	defer cl.Stop()

	h := Middleware(cl, ClientKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/configuration/nuke", nil)
	req.RemoteAddr = "10.0.0.5:4000"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("first request: got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
}

func TestClientKey_StripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	if got := ClientKey(req); got != "192.0.2.7" {
		t.Fatalf("ClientKey = %q", got)
	}
}

func TestPacer_FirstAttemptImmediate(t *testing.T) {
	p := NewPacer(time.Hour)
	start := time.Now()
	if err := p.Wait(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("first Wait should not block")
	}
}

func TestPacer_WakeEndsWait(t *testing.T) {
	p := NewPacer(time.Hour)
	_ = p.Wait(context.Background(), nil)

	wake := make(chan struct{})
	close(wake)
	if err := p.Wait(context.Background(), wake); err != nil {
		t.Fatalf("Wait with closed wake: %v", err)
	}
}

func TestPacer_ContextEndsWait(t *testing.T) {
	p := NewPacer(time.Hour)
	_ = p.Wait(context.Background(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx, nil); err != context.DeadlineExceeded {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}
}

func TestPacer_SpacesAttempts(t *testing.T) {
	p := NewPacer(20 * time.Millisecond)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(context.Background(), nil); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("three attempts took %s, want at least two intervals", elapsed)
	}
}
