// Package shutdown runs the one-time application teardown.
package shutdown

import (
	"context"
	"sync"
	"time"

	"sidecar-supervisor/internal/events"
	"sidecar-supervisor/internal/observability"
)

// DefaultTimeout bounds how long teardown waits for sidecars.
const DefaultTimeout = 5 * time.Second

// MessageGoodbye is carried by the exiting event.
const MessageGoodbye = "goodbye"

// Terminator stops every live sidecar.
type Terminator interface {
	TerminateAll(ctx context.Context) error
}

// Coordinator terminates sidecars and announces exit exactly once.
type Coordinator struct {
	terminator Terminator
	publisher  events.Publisher
	logger     observability.Logger
	timeout    time.Duration
	hooks      []func()

	once sync.Once
	err  error
}

// New creates a coordinator. A non-positive timeout falls back to DefaultTimeout.
func New(terminator Terminator, publisher events.Publisher, timeout time.Duration, logger observability.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Coordinator{
		terminator: terminator,
		publisher:  publisher,
		logger:     logger,
		timeout:    timeout,
	}
}

// OnExit registers fn to run after the exiting event. Hooks run in
// registration order. Register before the first Shutdown call.
func (c *Coordinator) OnExit(fn func()) {
	c.hooks = append(c.hooks, fn)
}

// Shutdown terminates sidecars within the configured bound and then publishes
// the exiting event. Only the first call does any work; later calls return
// the first call's error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.logger.Info("shutting down", observability.Duration("timeout", c.timeout))

		termCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		if c.terminator != nil {
			if err := c.terminator.TerminateAll(termCtx); err != nil {
				c.err = err
				c.logger.Warn("sidecar teardown incomplete", observability.Error(err))
			}
		}

		if c.publisher != nil {
			c.publisher.Publish(events.Event{Kind: events.KindExiting, Message: MessageGoodbye})
		}

		for _, hook := range c.hooks {
			hook()
		}
	})
	return c.err
}
