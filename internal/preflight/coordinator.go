// Package preflight aggregates diagnostic checks into the readiness store and
// runs the startup reachability probe.
package preflight

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sidecar-supervisor/internal/diagnostics"
	"sidecar-supervisor/internal/domain"
	"sidecar-supervisor/internal/events"
	"sidecar-supervisor/internal/observability"
	"sidecar-supervisor/internal/readiness"
)

const (
	// MessagePreflightOK is published with the ready event.
	MessagePreflightOK = "preflight_ok"
	// MessagePreflightFailed is published with the warn event.
	MessagePreflightFailed = "preflight_failed"
)

// Prober polls an HTTP endpoint until it answers or the budget runs out.
type Prober interface {
	Probe(ctx context.Context, url string, maxAttempts int, interval time.Duration) bool
}

// Observer receives diagnostics metrics.
type Observer interface {
	ObserveCheck(name string, passed bool)
	ObserveDiagnostics(status string, gate bool)
}

// Coordinator owns the diagnostics run and the startup sequence.
type Coordinator struct {
	settings  domain.Settings
	checks    []diagnostics.Check
	prober    Prober
	store     *readiness.Store
	publisher events.Publisher
	logger    observability.Logger
	observer  Observer
	now       func() time.Time

	// serializes whole diagnostics runs
	runMu sync.Mutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver attaches a metrics sink.
func WithObserver(observer Observer) Option {
	return func(c *Coordinator) {
		c.observer = observer
	}
}

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a coordinator.
func New(
	settings domain.Settings,
	checks []diagnostics.Check,
	prober Prober,
	store *readiness.Store,
	publisher events.Publisher,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		settings:  settings,
		checks:    checks,
		prober:    prober,
		store:     store,
		publisher: publisher,
		logger:    observability.NopLogger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunDiagnostics executes every check concurrently, waits for all of them,
// and publishes the aggregated report to the readiness store. Concurrent
// callers are serialized so the stored report always comes from one
// complete run.
func (c *Coordinator) RunDiagnostics(ctx context.Context) domain.DiagnosticsReport {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	started := time.Now()
	results := make([]domain.CheckResult, len(c.checks))

	var g errgroup.Group
	for i, check := range c.checks {
		i, check := i, check
		g.Go(func() error {
			results[i] = runCheck(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	checks := make(map[string]domain.CheckResult, len(results))
	for _, result := range results {
		checks[result.Name] = result
		if c.observer != nil {
			c.observer.ObserveCheck(result.Name, result.Passed)
		}
		if !result.Passed {
			c.logger.Warn("diagnostic check failed",
				observability.String("check", result.Name),
				observability.String("severity", string(result.Severity)),
				observability.String("message", result.Message),
			)
		}
	}

	report := domain.DiagnosticsReport{
		Status:    domain.DeriveStatus(checks),
		Checks:    checks,
		Timestamp: c.now(),
	}

	gate := false
	if c.store != nil {
		gate = c.store.Set(report)
	}
	if c.observer != nil {
		c.observer.ObserveDiagnostics(string(report.Status), gate)
	}

	c.logger.Info("diagnostics complete",
		observability.String("status", string(report.Status)),
		observability.Bool("gate", gate),
		observability.Int("checks", len(checks)),
		observability.Duration("elapsed", time.Since(started)),
	)
	return report
}

// runCheck turns a panicking check into a failed result so one bad check
// cannot take down the whole run.
func runCheck(ctx context.Context, check diagnostics.Check) (result domain.CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			result = domain.CheckResult{
				Name:     check.Name,
				Passed:   false,
				Message:  fmt.Sprintf("check panicked: %v", r),
				Severity: domain.SeverityError,
			}
		}
	}()

	result = check.Run(ctx)
	if result.Name == "" {
		result.Name = check.Name
	}
	return result
}

// Preflight probes the inference service and then the backend. Both are
// always probed so every unreachable dependency is logged; it reports true
// only when both answer within their budgets. The readiness store is not
// touched.
func (c *Coordinator) Preflight(ctx context.Context) bool {
	attempts := c.settings.Probe.Attempts
	interval := c.settings.Probe.Interval

	inference := c.settings.InferenceURL + "/api/tags"
	inferenceOK := c.prober.Probe(ctx, inference, attempts, interval)
	if !inferenceOK {
		c.logger.Warn("inference service did not become reachable", observability.String("url", inference))
	}

	backend := c.settings.BackendURL + "/health"
	backendOK := c.prober.Probe(ctx, backend, attempts, interval)
	if !backendOK {
		c.logger.Warn("backend did not become reachable", observability.String("url", backend))
	}
	return inferenceOK && backendOK
}

// RunStartup waits the configured delay, runs Preflight and publishes
// exactly one ready or warn event. If ctx ends during the delay nothing is
// probed or published and ctx.Err() is returned.
func (c *Coordinator) RunStartup(ctx context.Context) (bool, error) {
	if delay := c.settings.StartupDelay; delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		}
	}

	ok := c.Preflight(ctx)
	event := events.Event{Kind: events.KindReady, Message: MessagePreflightOK}
	if !ok {
		event = events.Event{Kind: events.KindWarn, Message: MessagePreflightFailed}
	}

	c.logger.Info("startup preflight finished", observability.Bool("ok", ok))
	if c.publisher != nil {
		c.publisher.Publish(event)
	}
	return ok, nil
}
