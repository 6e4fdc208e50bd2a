// Package gc runs periodic background sweeps (expired tokens, expired sessions).
//
// A Collector is owned by whoever starts it; there is no process-wide instance.
// Sweep failures never stop the loop: errors and panics are logged and the next
// tick runs as usual.
package gc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SweepFunc deletes expired rows and reports how many were removed.
type SweepFunc func(ctx context.Context) (int64, error)

// Collector runs Sweep every interval between Start and Stop.
type Collector struct {
	name  string
	sweep SweepFunc
	log   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a stopped collector. name shows up in logs.
func New(name string, sweep SweepFunc) *Collector {
	return &Collector{
		name:  name,
		sweep: sweep,
		log:   slog.Default().With("component", "gc", "collector", name),
	}
}

// Name returns the collector's name.
func (c *Collector) Name() string { return c.name }

// Start launches the sweep loop. The first sweep runs after one interval.
// Starting a running collector logs a warning and does nothing.
func (c *Collector) Start(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.log.Warn("collector already running; ignoring start")
		return
	}
	if interval <= 0 {
		c.log.Warn("non-positive gc interval; collector not started", "interval", interval)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(ctx, interval, c.done)
	c.log.Info("collector started", "interval", interval.String())
}

// Stop halts the loop and waits for an in-flight sweep to return. Idempotent.
func (c *Collector) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.log.Info("collector stopped")
}

// IsRunning reports whether the loop is active.
func (c *Collector) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

func (c *Collector) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single sweep. Errors and panics are logged, never returned.
func (c *Collector) RunOnce(ctx context.Context) (deleted int64) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("sweep panicked", "panic", fmt.Sprint(r))
			deleted = 0
		}
	}()

	n, err := c.sweep(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		c.log.Warn("sweep failed", "error", err)
		return 0
	}
	c.log.Info("sweep complete", "deleted", n)
	return n
}
