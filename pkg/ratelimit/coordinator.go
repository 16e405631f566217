// Package ratelimit implements the process-wide cooldown gate shared by all
// concurrent fetchers. Once any attempt observes a rate-limit signal from an
// endpoint, new dispatches pause until a fixed cooldown window lapses.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	cooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenforge_rate_limit_cooldowns_total",
		Help: "Total number of cooldown windows opened by rate-limit signals",
	})

	cooldownWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenforge_rate_limit_waits_total",
		Help: "Total number of dispatches that blocked on an active cooldown",
	})
)

// DefaultCooldown is the fixed pause applied after a rate-limit signal.
const DefaultCooldown = 5 * time.Second

// Coordinator tracks the shared Active/Cooling state. The state is
// read-mostly: only Trip takes the write path, and the cooldown expires by
// clock without any actor clearing it. Requests already in flight are never
// interrupted; only dispatches arriving during an active window wait.
type Coordinator struct {
	mu       sync.Mutex
	until    time.Time
	cooldown time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewCoordinator creates a coordinator with the given cooldown duration.
func NewCoordinator(cooldown time.Duration, logger zerolog.Logger) *Coordinator {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Coordinator{
		cooldown: cooldown,
		now:      time.Now,
		logger:   logger,
	}
}

// Trip records a rate-limit signal. Only the first observer within a window
// opens it; observers arriving before the window expires are no-ops, so N
// concurrent signals never extend the pause cumulatively. Returns true when
// this call opened a new window.
func (c *Coordinator) Trip() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Before(c.until) {
		return false
	}
	c.until = now.Add(c.cooldown)
	cooldownsTotal.Inc()

	c.logger.Warn().
		Time("cooling_until", c.until).
		Dur("cooldown", c.cooldown).
		Msg("Rate limit observed - pausing new dispatches")
	return true
}

// Cooling reports whether a cooldown window is currently active.
func (c *Coordinator) Cooling() bool {
	return c.remaining() > 0
}

// CoolingUntil returns the active window's deadline, or the zero time when
// the coordinator is Active.
func (c *Coordinator) CoolingUntil() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now().Before(c.until) {
		return c.until
	}
	return time.Time{}
}

// Wait blocks until any active cooldown lapses or ctx is done. It returns
// immediately when the coordinator is Active, so unrelated successful
// requests are never serialized through the gate.
func (c *Coordinator) Wait(ctx context.Context) error {
	waited := false
	for {
		d := c.remaining()
		if d <= 0 {
			return nil
		}
		if !waited {
			cooldownWaitsTotal.Inc()
			waited = true
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			// Re-check: another signal may have opened a fresh window
			// while we slept.
		}
	}
}

func (c *Coordinator) remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.until.Sub(c.now())
	if d < 0 {
		return 0
	}
	return d
}
