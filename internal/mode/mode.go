// Package mode implements the operator-facing subtitle toggle. The pipeline
// keeps running regardless of mode; the toggle only gates what reaches the
// audience. Turning subtitles off must fence every in-flight result, so the
// disable transition runs its hooks synchronously before Toggle returns.
package mode

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is a snapshot of the toggle.
type State struct {
	// Enabled reports whether subtitles are currently shown.
	Enabled bool

	// LastTransitionAt is when the state last changed. Zero until the
	// first transition.
	LastTransitionAt time.Time

	// Epoch counts transitions since startup. It lets callers detect that
	// a toggle happened between two reads.
	Epoch uint64
}

// Hook is invoked synchronously on a real state transition, while the
// transition lock is held. enabled is the new state.
type Hook func(enabled bool)

// Controller owns the subtitle on/off state. The zero value is not usable;
// use New.
//
// Enabled is served from an atomic so the hot path (every audio frame, every
// emit) never contends with a toggle in progress. Transitions serialize on a
// mutex and run hooks before the mutex is released, which is what makes the
// disable→clear fence race-free: nothing observes "disabled" via a hook-world
// side effect until the hooks have completed.
type Controller struct {
	enabled atomic.Bool

	mu               sync.Mutex
	hooks            []Hook
	lastTransitionAt time.Time
	epoch            uint64

	log *slog.Logger
}

// New creates a Controller with the given initial state.
func New(initiallyEnabled bool, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{log: log}
	c.enabled.Store(initiallyEnabled)
	return c
}

// Enabled reports the current state. Safe to call from any goroutine at any
// frequency.
func (c *Controller) Enabled() bool { return c.enabled.Load() }

// State returns a consistent snapshot of the toggle.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Enabled:          c.enabled.Load(),
		LastTransitionAt: c.lastTransitionAt,
		Epoch:            c.epoch,
	}
}

// OnTransition registers a hook run synchronously on every real transition.
// Hooks run in registration order. Registering after startup is not
// supported; call during wiring only.
func (c *Controller) OnTransition(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

// Toggle flips the state and returns the new value. The return happens only
// after all transition hooks have run.
func (c *Controller) Toggle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(!c.enabled.Load())
}

// Set moves the state to enabled. Setting the current state is a no-op: no
// hooks run, the epoch does not advance. Returns the (possibly unchanged)
// state.
func (c *Controller) Set(enabled bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled.Load() == enabled {
		return enabled
	}
	return c.transitionLocked(enabled)
}

func (c *Controller) transitionLocked(enabled bool) bool {
	c.enabled.Store(enabled)
	c.lastTransitionAt = time.Now()
	c.epoch++
	c.log.Info("subtitle mode changed", "enabled", enabled, "epoch", c.epoch)
	for _, h := range c.hooks {
		h(enabled)
	}
	return enabled
}
