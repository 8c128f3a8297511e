// Package ratelimit throttles conversion requests per client.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type clientRecord struct {
	count        int
	windowStart  time.Time
	blockedUntil time.Time
	strikes      int
	violated     bool
}

// Limiter allows a fixed number of requests per client and window. A client
// that goes over is blocked until the window ends or for a backoff that grows
// with every consecutive window in which it went over, whichever is longer.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*clientRecord
	limit   int
	window  time.Duration
	backoff *Backoff
	now     func() time.Time
}

// NewLimiter returns a limiter; a limit of zero or less disables limiting.
func NewLimiter(limit int, window time.Duration, backoff *Backoff) *Limiter {
	return &Limiter{
		clients: make(map[string]*clientRecord),
		limit:   limit,
		window:  window,
		backoff: backoff,
		now:     time.Now,
	}
}

// Allow records one request and reports whether it may proceed. When it may
// not, the returned duration is how long the client has to wait.
func (l *Limiter) Allow(clientID string) (bool, time.Duration) {
	if l.limit <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.clients[clientID]
	if !ok {
		rec = &clientRecord{windowStart: now}
		l.clients[clientID] = rec
	}

	if now.Before(rec.blockedUntil) {
		return false, rec.blockedUntil.Sub(now)
	}

	if now.Sub(rec.windowStart) >= l.window {
		if !rec.violated {
			rec.strikes = 0
		}
		rec.count = 0
		rec.violated = false
		rec.windowStart = now
	}

	rec.count++
	if rec.count <= l.limit {
		return true, 0
	}

	rec.violated = true
	rec.strikes++
	wait := rec.windowStart.Add(l.window).Sub(now)
	if l.backoff != nil {
		if b := l.backoff.Duration(rec.strikes); b > wait {
			wait = b
		}
	}
	rec.blockedUntil = now.Add(wait)
	return false, wait
}

func (l *Limiter) Reset(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.clients, clientID)
}

// Prune forgets clients that are neither blocked nor seen in two windows.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	pruned := 0
	for id, rec := range l.clients {
		if now.Sub(rec.windowStart) > 2*l.window && now.After(rec.blockedUntil) {
			delete(l.clients, id)
			pruned++
		}
	}
	return pruned
}

// Run prunes once per window until ctx ends.
func (l *Limiter) Run(ctx context.Context) {
	if l.window <= 0 {
		return
	}
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}
