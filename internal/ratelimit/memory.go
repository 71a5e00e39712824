package ratelimit

import (
	"context"
	"sync"
	"time"
)

// defaultStaleAfter bounds per-key memory: author IPs that go quiet are
// forgotten after this window.
const defaultStaleAfter = 10 * time.Minute

// bucket is the token state for one rate-limit key.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// MemoryLimiter implements Limiter with an in-memory token bucket per key.
// It fronts the mutating API endpoints; health, the contract, and event
// streams bypass it through the server's key function.
type MemoryLimiter struct {
	rate       float64 // tokens refilled per second
	burst      float64 // bucket capacity
	staleAfter time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a limiter allowing a sustained rate of requests
// per second per key, with bursts up to burst. A background goroutine forgets
// keys idle longer than ten minutes; call Close to stop it.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:       rate,
		burst:      float64(burst),
		staleAfter: defaultStaleAfter,
		buckets:    make(map[string]*bucket),
		done:       make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Allow consumes one token from the bucket for key. Returns true if a token
// was available, false if the key is over its limit.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.buckets[key]
	if !ok {
		// First sight of this key: a full bucket minus the token just spent.
		m.buckets[key] = &bucket{tokens: m.burst - 1, lastSeen: now}
		return true, nil
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * m.rate
	if b.tokens > m.burst {
		b.tokens = m.burst
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

// sweepLoop periodically forgets idle keys so the bucket map stays bounded
// by the number of recently active callers.
func (m *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(m.staleAfter / 10)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *MemoryLimiter) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-m.staleAfter)
	for key, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
