// Package clock is the Market Clock (spec.md §4.J): open/closed state
// derived from scheduled windows with a manual override that always
// wins, plus the background poller that fires the call-auction and
// forced-cancel hooks on transition. Built the same way the teacher
// wires a background goroutine behind Start/Stop rather than a free
// running timer, so the composition root fully owns its lifecycle.
package clock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/camppoints/exchanged/internal/domain"
)

// Hook is called on a clock transition.
type Hook func(ctx context.Context)

// Config tunes the background poller.
type Config struct {
	PollInterval time.Duration
}

// DefaultConfig polls once a second, fine-grained enough for a camp's
// session windows without burning CPU.
func DefaultConfig() Config {
	return Config{PollInterval: time.Second}
}

// Clock tracks market open/closed state.
type Clock struct {
	mu      sync.RWMutex
	windows []domain.Window
	force   struct {
		open  bool
		close bool
	}
	clk func() time.Time

	wasOpen  bool
	onOpen   []Hook
	onClose  []Hook
	cfg      Config
	stopCh   chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// New builds a Clock from a MarketConfig snapshot.
func New(market domain.MarketConfig, cfg Config, logger *slog.Logger) *Clock {
	if cfg.PollInterval <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Clock{windows: market.Windows, clk: time.Now, cfg: cfg, logger: logger}
	c.force.open = market.ForceOpen
	c.force.close = market.ForceClose
	c.wasOpen = c.computeIsOpen()
	return c
}

func (c *Clock) nowMs() int64 { return c.clk().UTC().UnixMilli() }

// computeIsOpen must be called with mu held.
func (c *Clock) computeIsOpen() bool {
	if c.force.close {
		return false
	}
	if c.force.open {
		return true
	}
	now := c.nowMs()
	for _, w := range c.windows {
		if w.Contains(now) {
			return true
		}
	}
	return false
}

// IsOpen reports whether the market currently accepts new orders.
// Manual override, when set, always wins over scheduled windows
// (spec.md §9 resolves this precedence explicitly).
func (c *Clock) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.computeIsOpen()
}

// ManualOpen forces the market open regardless of windows.
func (c *Clock) ManualOpen() {
	c.mu.Lock()
	c.force.open = true
	c.force.close = false
	c.mu.Unlock()
}

// ManualClose forces the market closed regardless of windows.
func (c *Clock) ManualClose() {
	c.mu.Lock()
	c.force.close = true
	c.force.open = false
	c.mu.Unlock()
}

// ClearManualOverride reverts to schedule-derived state.
func (c *Clock) ClearManualOverride() {
	c.mu.Lock()
	c.force.open = false
	c.force.close = false
	c.mu.Unlock()
}

// SetWindows replaces the scheduled open windows.
func (c *Clock) SetWindows(windows []domain.Window) {
	c.mu.Lock()
	c.windows = windows
	c.mu.Unlock()
}

// NextTransitionTs returns the epoch-ms timestamp of the next
// schedule-derived transition, or 0 if none is known (e.g. under
// manual override with no further windows).
func (c *Clock) NextTransitionTs() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.nowMs()
	var next int64
	for _, w := range c.windows {
		if w.StartMs > now && (next == 0 || w.StartMs < next) {
			next = w.StartMs
		}
		if w.EndMs > now && (next == 0 || w.EndMs < next) {
			next = w.EndMs
		}
	}
	return next
}

// Windows returns the current scheduled open windows, for market_status.
func (c *Clock) Windows() []domain.Window {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Window, len(c.windows))
	copy(out, c.windows)
	return out
}

// OnOpen registers a hook run on close→open transitions (call auction).
func (c *Clock) OnOpen(h Hook) {
	c.mu.Lock()
	c.onOpen = append(c.onOpen, h)
	c.mu.Unlock()
}

// OnClose registers a hook run on open→close transitions (forced cancel).
func (c *Clock) OnClose(h Hook) {
	c.mu.Lock()
	c.onClose = append(c.onClose, h)
	c.mu.Unlock()
}

// Start spawns the background poller that detects transitions.
func (c *Clock) Start(ctx context.Context) {
	c.wg.Add(1)
	c.stopCh = make(chan struct{})
	go c.pollLoop(ctx)
}

// Stop halts the background poller and waits for it to exit.
func (c *Clock) Stop() {
	if c.stopCh != nil {
		close(c.stopCh)
	}
	c.wg.Wait()
}

func (c *Clock) pollLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.checkTransition(ctx)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Clock) checkTransition(ctx context.Context) {
	c.mu.Lock()
	isOpen := c.computeIsOpen()
	transitioned := isOpen != c.wasOpen
	c.wasOpen = isOpen
	var hooks []Hook
	if transitioned {
		if isOpen {
			hooks = append(hooks, c.onOpen...)
		} else {
			hooks = append(hooks, c.onClose...)
		}
	}
	c.mu.Unlock()

	for _, h := range hooks {
		h(ctx)
	}
}
