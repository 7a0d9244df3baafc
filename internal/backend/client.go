// Package backend proxies the local backend HTTP API. Evaluate and Mutate
// are refused without any network traffic until diagnostics open the
// readiness gate.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"sidecar-supervisor/internal/domain"
	"sidecar-supervisor/internal/observability"
)

const (
	// GatedTimeout bounds evaluate and mutate calls.
	GatedTimeout = 60 * time.Second
	// DefaultTimeout bounds every other call.
	DefaultTimeout = 10 * time.Second

	breakerThreshold = 5
	breakerTimeout   = 30 * time.Second
	maxBodyBytes     = 8 << 20
)

// Gate reports whether gated operations may run.
type Gate interface {
	IsReady() bool
}

// Observer receives per-request outcomes.
type Observer interface {
	ObserveBackendRequest(operation, outcome string)
}

// Client talks to the backend through a circuit breaker.
type Client struct {
	baseURL  string
	http     *http.Client
	gate     Gate
	breaker  *gobreaker.CircuitBreaker
	logger   observability.Logger
	observer Observer

	gatedTimeout   time.Duration
	defaultTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver attaches a metrics sink.
func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// WithTimeouts overrides the gated and default request timeouts.
func WithTimeouts(gated, other time.Duration) Option {
	return func(c *Client) {
		if gated > 0 {
			c.gatedTimeout = gated
		}
		if other > 0 {
			c.defaultTimeout = other
		}
	}
}

// NewClient creates a client for baseURL guarded by gate.
func NewClient(baseURL string, gate Gate, opts ...Option) *Client {
	c := &Client{
		baseURL:        baseURL,
		http:           &http.Client{},
		gate:           gate,
		logger:         observability.NopLogger(),
		gatedTimeout:   GatedTimeout,
		defaultTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 1,
		Interval:    breakerTimeout,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerThreshold
		},
		IsSuccessful: func(err error) bool {
			// client-side rejections say nothing about backend health
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return statusErr.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})
	return c
}

// BreakerState exposes the breaker state for status reporting.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// Evaluate scores an output. Gated.
func (c *Client) Evaluate(ctx context.Context, req domain.EvaluateRequest) (domain.EvaluateResponse, error) {
	var out domain.EvaluateResponse
	if err := c.requireGate("evaluate"); err != nil {
		return out, err
	}
	err := c.do(ctx, "evaluate", http.MethodPost, "/evaluate", req, &out, c.gatedTimeout)
	return out, err
}

// Mutate requests a workflow variant. Gated.
func (c *Client) Mutate(ctx context.Context, req domain.MutateRequest) (domain.MutateResponse, error) {
	var out domain.MutateResponse
	if err := c.requireGate("mutate"); err != nil {
		return out, err
	}
	err := c.do(ctx, "mutate", http.MethodPost, "/mutate", req, &out, c.gatedTimeout)
	return out, err
}

// BanditStatus returns per-arm statistics.
func (c *Client) BanditStatus(ctx context.Context) (domain.BanditStatus, error) {
	var out domain.BanditStatus
	err := c.do(ctx, "bandit_status", http.MethodGet, "/bandit/status", nil, &out, c.defaultTimeout)
	return out, err
}

// CreateMemorySnapshot stores a titled note.
func (c *Client) CreateMemorySnapshot(ctx context.Context, title, content string) (domain.MemorySnapshot, error) {
	var out domain.MemorySnapshot
	body := domain.MemorySnapshotRequest{Title: title, Content: content}
	err := c.do(ctx, "memory_snapshot", http.MethodPost, "/memory/snapshot", body, &out, c.defaultTimeout)
	return out, err
}

// WorkflowDAG fetches the current workflow graph.
func (c *Client) WorkflowDAG(ctx context.Context) (domain.WorkflowDAG, error) {
	var out domain.WorkflowDAG
	err := c.do(ctx, "workflow_dag", http.MethodGet, "/workflow/dag", nil, &out, c.defaultTimeout)
	return out, err
}

// TelemetryMetrics fetches backend telemetry counters.
func (c *Client) TelemetryMetrics(ctx context.Context) (domain.TelemetryMetrics, error) {
	var out domain.TelemetryMetrics
	err := c.do(ctx, "telemetry_metrics", http.MethodGet, "/telemetry/metrics", nil, &out, c.defaultTimeout)
	return out, err
}

func (c *Client) requireGate(operation string) error {
	if c.gate != nil && c.gate.IsReady() {
		return nil
	}
	c.record(operation, "gated")
	return ErrPreflightNotPassed
}

// do performs one JSON round trip through the breaker.
func (c *Client) do(
	ctx context.Context,
	operation, method, path string,
	in, out interface{},
	timeout time.Duration,
) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, operation, method, path, in, out, timeout)
	})

	switch {
	case err == nil:
		c.record(operation, "ok")
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.record(operation, "rejected")
		c.logger.Warn("backend call rejected by circuit breaker", observability.String("operation", operation))
		return fmt.Errorf("%s: %w", operation, ErrCircuitOpen)
	default:
		c.record(operation, "error")
		c.logger.Warn("backend call failed",
			observability.String("operation", operation),
			observability.Error(err),
		)
		return err
	}
}

func (c *Client) roundTrip(
	ctx context.Context,
	operation, method, path string,
	in, out interface{},
	timeout time.Duration,
) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", operation, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return &StatusError{Operation: operation, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func (c *Client) record(operation, outcome string) {
	if c.observer != nil {
		c.observer.ObserveBackendRequest(operation, outcome)
	}
}
