// Package ratelimit paces browser actions per session.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds the pacing configuration.
type Config struct {
	// ActionsPerSecond is the sustained action rate per session. Zero or less
	// disables pacing.
	ActionsPerSecond float64
	Burst            int

	// CleanupInterval is how long a session's limiter may sit idle before it is dropped.
	CleanupInterval time.Duration
}

// DefaultConfig allows a short burst of actions, then roughly what a fast human manages.
var DefaultConfig = Config{
	ActionsPerSecond: 5,
	Burst:            10,
	CleanupInterval:  10 * time.Minute,
}

type pacerEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Pacer hands out one rate.Limiter per session.
type Pacer struct {
	limiters map[string]*pacerEntry
	mu       sync.RWMutex
	config   Config
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPacer starts a background goroutine that drops idle limiters; call Stop to end it.
func NewPacer(config Config) *Pacer {
	if config.Burst < 1 {
		config.Burst = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig.CleanupInterval
	}
	p := &Pacer{
		limiters: make(map[string]*pacerEntry),
		config:   config,
		stopCh:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.cleanupLoop()
	return p
}

// For returns the limiter for sessionID, creating it on first use.
// The result can be passed to resolver.WithPacer.
func (p *Pacer) For(sessionID string) *rate.Limiter {
	now := time.Now()

	p.mu.RLock()
	entry, ok := p.limiters[sessionID]
	p.mu.RUnlock()
	if ok {
		p.mu.Lock()
		entry.lastUsed = now
		p.mu.Unlock()
		return entry.limiter
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.limiters[sessionID]; ok {
		entry.lastUsed = now
		return entry.limiter
	}
	limit := rate.Inf
	if p.config.ActionsPerSecond > 0 {
		limit = rate.Limit(p.config.ActionsPerSecond)
	}
	entry = &pacerEntry{
		limiter:  rate.NewLimiter(limit, p.config.Burst),
		lastUsed: now,
	}
	p.limiters[sessionID] = entry
	return entry.limiter
}

// Wait blocks until sessionID may perform another action or ctx ends.
func (p *Pacer) Wait(ctx context.Context, sessionID string) error {
	return p.For(sessionID).Wait(ctx)
}

// Allow reports whether sessionID may act now, consuming a token if so.
func (p *Pacer) Allow(sessionID string) bool {
	return p.For(sessionID).Allow()
}

// Cleanup drops limiters idle for longer than CleanupInterval.
func (p *Pacer) Cleanup() {
	cutoff := time.Now().Add(-p.config.CleanupInterval)
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, entry := range p.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(p.limiters, id)
		}
	}
}

func (p *Pacer) cleanupLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Cleanup()
		case <-p.stopCh:
			return
		}
	}
}

// Stop ends the cleanup goroutine. It is safe to call more than once, from
// any number of goroutines.
func (p *Pacer) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// Len returns the number of tracked sessions.
func (p *Pacer) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.limiters)
}
