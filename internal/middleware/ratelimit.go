// Package middleware holds cross-cutting concerns applied to inbound
// traffic. Currently: per-connection rate limiting of envelopes.
package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterStore maintains per-key rate limiters and performs periodic
// cleanup. The gateway keys limiters by connection id, so the entries
// of disconnected clients age out on their own.
type LimiterStore struct {
	mu              sync.Mutex
	limit           rate.Limit
	burst           int
	clients         map[string]*clientEntry
	cleanupInterval time.Duration
	stopCh          chan struct{}
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiterStore creates a new store for per-key rate limiters.
// limitPerMinute controls allowed events per minute; burst is the burst capacity.
func NewLimiterStore(limitPerMinute int, burst int, cleanupInterval time.Duration) *LimiterStore {
	if limitPerMinute <= 0 {
		limitPerMinute = 60
	}
	s := &LimiterStore{
		limit:           rate.Every(time.Minute / time.Duration(limitPerMinute)),
		burst:           burst,
		clients:         map[string]*clientEntry{},
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *LimiterStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			s.mu.Lock()
			for k, v := range s.clients {
				if v.lastSeen.Before(cutoff) {
					delete(s.clients, k)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// Stop stops internal goroutines (useful for tests).
func (s *LimiterStore) Stop() {
	close(s.stopCh)
}

// getLimiter returns or creates a limiter for key
func (s *LimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.clients[key]; ok {
		e.lastSeen = time.Now()
		return e.limiter
	}
	limiter := rate.NewLimiter(s.limit, s.burst)
	s.clients[key] = &clientEntry{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

// Allow checks whether an event for the given key is permitted.
func (s *LimiterStore) Allow(key string) bool {
	l := s.getLimiter(key)
	return l.Allow()
}

// Forget drops the limiter for key immediately. Called when a
// connection closes so its entry doesn't wait for the cleanup loop.
func (s *LimiterStore) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, key)
}
