// Package scrape turns catalog entries into price observations.
package scrape

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate enforces a minimum idle delay between the end of one request on a
// session and the start of the next.
type Gate struct {
	minDelay time.Duration

	mu  sync.Mutex
	lim *rate.Limiter
}

// NewGate returns a gate that lets the first attempt through immediately. A
// non-positive delay disables spacing.
func NewGate(minDelay time.Duration) *Gate {
	g := &Gate{minDelay: minDelay}
	g.lim = g.newLimiter()
	return g
}

func (g *Gate) newLimiter() *rate.Limiter {
	if g.minDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(g.minDelay), 1)
}

// Wait blocks until the next attempt may start or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	lim := g.lim
	g.mu.Unlock()
	return lim.Wait(ctx)
}

// Done marks the end of an attempt. The next Wait is held for minDelay from
// now, however long the attempt itself took.
func (g *Gate) Done() {
	if g.minDelay <= 0 {
		return
	}
	lim := g.newLimiter()
	lim.Allow() // drain the single token so the interval restarts now

	g.mu.Lock()
	g.lim = lim
	g.mu.Unlock()
}
