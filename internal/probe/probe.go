// Package probe polls an HTTP endpoint until it answers or the retry budget runs out.
package probe

import (
	"context"
	"net/http"
	"time"

	"sidecar-supervisor/internal/observability"
)

// DefaultAttemptTimeout bounds a single GET, independent of the retry interval.
const DefaultAttemptTimeout = 500 * time.Millisecond

// AttemptObserver records individual attempt outcomes.
type AttemptObserver interface {
	ObserveProbe(url string, ok bool)
}

// Prober performs bounded-retry reachability probes.
type Prober struct {
	client   *http.Client
	timeout  time.Duration
	sleep    func(time.Duration)
	logger   observability.Logger
	observer AttemptObserver
}

// Option configures a Prober.
type Option func(*Prober)

// WithClient sets the HTTP client used for attempts.
func WithClient(client *http.Client) Option {
	return func(p *Prober) {
		if client != nil {
			p.client = client
		}
	}
}

// WithAttemptTimeout sets the per-attempt timeout.
func WithAttemptTimeout(timeout time.Duration) Option {
	return func(p *Prober) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithSleep replaces the inter-attempt sleep, mainly for tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(p *Prober) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(p *Prober) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObserver attaches an attempt metrics sink.
func WithObserver(observer AttemptObserver) Option {
	return func(p *Prober) {
		p.observer = observer
	}
}

// New creates a prober with real network and clock dependencies.
func New(opts ...Option) *Prober {
	p := &Prober{
		client:  &http.Client{},
		timeout: DefaultAttemptTimeout,
		sleep:   time.Sleep,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe issues up to maxAttempts sequential GETs against url and reports
// whether any answered with a status below 400. It sleeps interval after
// every failed attempt. An attempt is never interrupted early; ctx only
// carries values and deadlines from the caller.
func (p *Prober) Probe(ctx context.Context, url string, maxAttempts int, interval time.Duration) bool {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := p.attempt(ctx, url)
		switch {
		case err != nil:
			p.logger.Debug("probe error",
				observability.String("url", url),
				observability.Error(err),
				observability.Int("attempt", attempt),
				observability.Int("max_attempts", maxAttempts),
			)
		case status < http.StatusBadRequest:
			p.record(url, true)
			p.logger.Info("probe ok",
				observability.String("url", url),
				observability.Int("attempt", attempt),
				observability.Int("max_attempts", maxAttempts),
			)
			return true
		default:
			p.logger.Debug("probe failed",
				observability.String("url", url),
				observability.Int("status", status),
				observability.Int("attempt", attempt),
				observability.Int("max_attempts", maxAttempts),
			)
		}

		p.record(url, false)
		p.sleep(interval)
	}
	return false
}

func (p *Prober) attempt(ctx context.Context, url string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

func (p *Prober) record(url string, ok bool) {
	if p.observer != nil {
		p.observer.ObserveProbe(url, ok)
	}
}
