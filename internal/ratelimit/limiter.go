// Package ratelimit paces polling loops and throttles clients of the
// stand-in application's setup endpoints.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the per-client limits.
type Config struct {
	RPS             float64       // Sustained requests per second per client
	Burst           int           // Burst size per client
	CleanupInterval time.Duration // How often idle limiters are dropped
}

// DefaultConfig allows a full fixture hook (three requests) per scenario
// with plenty of headroom.
var DefaultConfig = Config{
	RPS:             20,
	Burst:           40,
	CleanupInterval: 10 * time.Minute,
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// ClientLimiter keeps one token bucket per client key.
type ClientLimiter struct {
	limiters map[string]*clientEntry
	mu       sync.RWMutex
	config   Config

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewClientLimiter creates a limiter and starts its cleanup goroutine.
func NewClientLimiter(config Config) *ClientLimiter {
	cl := &ClientLimiter{
		limiters: make(map[string]*clientEntry),
		config:   config,
		stopCh:   make(chan struct{}),
	}
	cl.wg.Add(1)
	go cl.cleanupLoop()
	return cl
}

// Allow reports whether one more request from client fits its bucket.
func (cl *ClientLimiter) Allow(client string) bool {
	return cl.GetLimiter(client).Allow()
}

// GetLimiter returns the bucket for client, creating it on first use.
func (cl *ClientLimiter) GetLimiter(client string) *rate.Limiter {
	cl.mu.RLock()
	entry, ok := cl.limiters[client]
	cl.mu.RUnlock()
	if ok {
		cl.mu.Lock()
		entry.lastUsed = time.Now()
		cl.mu.Unlock()
		return entry.limiter
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	// Double-check after acquiring write lock
	if entry, ok = cl.limiters[client]; ok {
		entry.lastUsed = time.Now()
		return entry.limiter
	}
	limiter := rate.NewLimiter(rate.Limit(cl.config.RPS), cl.config.Burst)
	cl.limiters[client] = &clientEntry{limiter: limiter, lastUsed: time.Now()}
	return limiter
}

// Cleanup drops limiters idle for longer than the cleanup interval.
func (cl *ClientLimiter) Cleanup() {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	cutoff := time.Now().Add(-cl.config.CleanupInterval)
	for client, entry := range cl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(cl.limiters, client)
		}
	}
}

func (cl *ClientLimiter) cleanupLoop() {
	defer cl.wg.Done()

	ticker := time.NewTicker(cl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cl.Cleanup()
		case <-cl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine and waits for it to finish.
func (cl *ClientLimiter) Stop() {
	close(cl.stopCh)
	cl.wg.Wait()
}

// Len returns the number of tracked clients.
func (cl *ClientLimiter) Len() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.limiters)
}
