// Package status serves the supervisor's liveness, readiness, diagnostics,
// sidecar and event views over HTTP for headless deployments.
package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"sidecar-supervisor/internal/domain"
	"sidecar-supervisor/internal/events"
	"sidecar-supervisor/internal/observability"
)

var ginModeOnce sync.Once

const (
	// DefaultDiagnosticsInterval is the minimum spacing of POST /diagnostics runs.
	DefaultDiagnosticsInterval = time.Second

	streamBuffer    = 128
	streamWriteWait = 5 * time.Second
)

// Source is the application state exposed by the server.
type Source interface {
	HealthCheck() string
	IsPreflightPassed() bool
	GetDiagnostics() *domain.DiagnosticsReport
	RunDiagnostics() domain.DiagnosticsReport
	Sidecars() []domain.SidecarInfo
	SidecarEvents(since int64) []events.Event
}

// Subscriber hands out live event queues.
type Subscriber interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

// Server is the status HTTP endpoint.
type Server struct {
	engine  *gin.Engine
	source  Source
	logger  observability.Logger
	metrics http.Handler
	stream  Subscriber
	limiter *rate.Limiter

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves handler on /metrics.
func WithMetrics(handler http.Handler) Option {
	return func(s *Server) {
		s.metrics = handler
	}
}

// WithEventStream enables the /events/stream websocket.
func WithEventStream(subscriber Subscriber) Option {
	return func(s *Server) {
		s.stream = subscriber
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDiagnosticsLimit spaces POST /diagnostics runs at least interval apart.
func WithDiagnosticsLimit(interval time.Duration, burst int) Option {
	return func(s *Server) {
		s.limiter = rate.NewLimiter(rate.Every(interval), burst)
	}
}

var upgrader = websocket.Upgrader{
	// the server only listens on loopback by default
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewServer builds the routes.
func NewServer(source Source, opts ...Option) *Server {
	s := &Server{
		source:  source,
		logger:  observability.NopLogger(),
		limiter: rate.NewLimiter(rate.Every(DefaultDiagnosticsInterval), 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog(s.logger))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": source.HealthCheck()})
	})
	engine.GET("/readyz", func(c *gin.Context) {
		if source.IsPreflightPassed() {
			c.JSON(http.StatusOK, gin.H{"ready": true})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
	})
	engine.GET("/diagnostics", func(c *gin.Context) {
		report := source.GetDiagnostics()
		if report == nil {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, report)
	})
	engine.POST("/diagnostics", s.runDiagnostics)
	engine.GET("/sidecars", func(c *gin.Context) {
		c.JSON(http.StatusOK, source.Sidecars())
	})
	engine.GET("/events", func(c *gin.Context) {
		since, ok := parseSince(c)
		if !ok {
			return
		}
		evts := source.SidecarEvents(since)
		if evts == nil {
			evts = []events.Event{}
		}
		c.JSON(http.StatusOK, evts)
	})
	if s.stream != nil {
		engine.GET("/events/stream", s.streamEvents)
	}
	if s.metrics != nil {
		engine.GET("/metrics", gin.WrapH(s.metrics))
	}

	s.engine = engine
	return s
}

func (s *Server) runDiagnostics(c *gin.Context) {
	if !s.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "diagnostics already requested, retry shortly"})
		return
	}
	c.JSON(http.StatusOK, s.source.RunDiagnostics())
}

// streamEvents replays history after ?since= and then pushes live events
// until the client goes away. Events published between the replay and the
// subscription are skipped by sequence so none is sent twice.
func (s *Server) streamEvents(c *gin.Context) {
	since, ok := parseSince(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("event stream upgrade failed", observability.Error(err))
		return
	}
	defer conn.Close()

	live, cancel := s.stream.Subscribe(streamBuffer)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	last := since
	send := func(event events.Event) bool {
		if event.Seq <= last {
			return true
		}
		last = event.Seq
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(event) == nil
	}

	for _, event := range s.source.SidecarEvents(since) {
		if !send(event) {
			return
		}
	}
	for {
		select {
		case event, open := <-live:
			if !open || !send(event) {
				return
			}
		case <-closed:
			return
		}
	}
}

func parseSince(c *gin.Context) (int64, bool) {
	raw := c.Query("since")
	if raw == "" {
		return 0, true
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || since < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a non-negative integer"})
		return 0, false
	}
	return since, true
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Listen binds addr. Call Serve afterwards.
func (s *Server) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve blocks until Shutdown. It returns nil on a clean shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	srv, listener := s.httpServer, s.listener
	s.mu.Unlock()
	if srv == nil {
		return errors.New("status server is not listening")
	}

	s.logger.Info("status server listening", observability.String("addr", listener.Addr().String()))
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve status: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func accessLog(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("status request",
			observability.String("method", c.Request.Method),
			observability.String("path", c.FullPath()),
			observability.Int("status", c.Writer.Status()),
			observability.Duration("latency", time.Since(start)),
		)
	}
}
