package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"sidecar-supervisor/internal/backend"
	"sidecar-supervisor/internal/config"
	"sidecar-supervisor/internal/diagnostics"
	"sidecar-supervisor/internal/domain"
	"sidecar-supervisor/internal/events"
	"sidecar-supervisor/internal/observability"
	"sidecar-supervisor/internal/preflight"
	"sidecar-supervisor/internal/probe"
	"sidecar-supervisor/internal/readiness"
	"sidecar-supervisor/internal/shutdown"
	"sidecar-supervisor/internal/supervisor"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

const (
	healthMessage = "Sidecar supervisor alive"

	// events pushed to the UI are buffered this deep before drops start
	forwardBuffer = 256
)

var errNoStore = errors.New("settings store is not configured")

// Emitter pushes one named event to the UI runtime.
type Emitter func(ctx context.Context, name string, data ...interface{})

// App wires configuration, sidecars, diagnostics, and UI runtime callbacks.
type App struct {
	Settings domain.Settings
	Store    config.Store

	logger     observability.Logger
	metrics    *observability.Metrics
	events     *events.Bus
	supervisor *supervisor.Supervisor
	readiness  *readiness.Store
	checker    *diagnostics.Checker
	preflight  *preflight.Coordinator
	schedule   *preflight.Schedule
	backend    *backend.Client
	shutdown   *shutdown.Coordinator
	assets     fs.FS
	emitter    Emitter

	mu          sync.Mutex
	runtimeCtx  context.Context
	startCancel context.CancelFunc
	unsubscribe func()

	startOnce sync.Once
	stopOnce  sync.Once
	stopping  chan struct{}
	startup   sync.WaitGroup
	forwarder sync.WaitGroup
}

// Option customizes App construction.
type Option func(*App)

// WithAssets serves the desktop frontend from assets.
func WithAssets(assets fs.FS) Option {
	return func(a *App) {
		a.assets = assets
	}
}

// WithEmitter replaces the Wails event emitter.
func WithEmitter(emitter Emitter) Option {
	return func(a *App) {
		a.emitter = emitter
	}
}

// New builds the application from the per-user config file.
func New() (*App, error) {
	return NewFromConfig(config.DefaultPath())
}

// NewFromConfig builds the application from the YAML file at path. A missing
// file yields the defaults.
func NewFromConfig(path string, opts ...Option) (*App, error) {
	store := config.NewYAMLStore(path)
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  settings.LogLevel,
		Format: settings.LogFormat,
		Output: "stderr",
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	return NewFromSettings(settings, store, logger, opts...)
}

// NewFromSettings wires every component for settings. store may be nil.
func NewFromSettings(
	settings domain.Settings,
	store config.Store,
	logger observability.Logger,
	opts ...Option,
) (*App, error) {
	settings = config.Normalize(settings)
	if err := config.Validate(settings); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	a := &App{
		Settings: settings,
		Store:    store,
		logger:   logger,
		metrics:  observability.NewMetrics(),
		stopping: make(chan struct{}),
		emitter:  wailsruntime.EventsEmit,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.events = events.NewBus(settings.EventHistory)
	a.events.SetDropObserver(a.metrics)

	a.readiness = readiness.NewStore()
	a.supervisor = supervisor.New(a.events,
		supervisor.WithLogger(logger.With(observability.String("component", "supervisor"))),
		supervisor.WithObserver(a.metrics),
	)
	a.checker = diagnostics.NewChecker(settings)

	prober := probe.New(
		probe.WithAttemptTimeout(settings.Probe.Timeout),
		probe.WithSleep(a.pause),
		probe.WithLogger(logger.With(observability.String("component", "probe"))),
		probe.WithObserver(a.metrics),
	)
	a.preflight = preflight.New(settings, a.checker.Checks(), prober, a.readiness, a.events,
		preflight.WithLogger(logger.With(observability.String("component", "preflight"))),
		preflight.WithObserver(a.metrics),
	)
	if settings.DiagnosticsSchedule != "" {
		schedule, err := preflight.NewSchedule(settings.DiagnosticsSchedule, a.preflight, logger)
		if err != nil {
			return nil, err
		}
		a.schedule = schedule
	}
	a.backend = backend.NewClient(settings.BackendURL, a.readiness,
		backend.WithLogger(logger.With(observability.String("component", "backend"))),
		backend.WithObserver(a.metrics),
	)
	a.shutdown = shutdown.New(a.supervisor, a.events, settings.ShutdownTimeout, logger)
	a.shutdown.OnExit(func() {
		_ = a.logger.Sync()
	})

	return a, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Sidecar Supervisor",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores the Wails runtime context, starts pushing events to the UI,
// and launches the sidecars.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	a.mu.Unlock()

	a.forwardEvents()
	if err := a.Start(ctx); err != nil {
		a.logger.Error("sidecar startup incomplete", observability.Error(err))
	}
}

// Shutdown is the Wails shutdown hook.
func (a *App) Shutdown(ctx context.Context) {
	stopCtx, cancel := context.WithTimeout(ctx, a.Settings.ShutdownTimeout+time.Second)
	defer cancel()

	if err := a.Stop(stopCtx); err != nil {
		a.logger.Warn("shutdown incomplete", observability.Error(err))
	}

	a.mu.Lock()
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
		a.forwarder.Wait()
	}

	a.mu.Lock()
	a.runtimeCtx = nil
	a.mu.Unlock()
}

// Start spawns every configured sidecar and launches the startup preflight
// in the background. Only the first call has any effect. Sidecars that fail
// to spawn are reported together; the rest keep running.
func (a *App) Start(ctx context.Context) error {
	var errs []error
	a.startOnce.Do(func() {
		for _, spec := range a.Settings.Sidecars {
			if _, err := a.supervisor.Spawn(spec); err != nil {
				errs = append(errs, err)
			}
		}

		if a.schedule != nil {
			a.schedule.Start()
		}

		startCtx, cancel := context.WithCancel(ctx)
		a.mu.Lock()
		a.startCancel = cancel
		a.mu.Unlock()

		a.startup.Add(1)
		go func() {
			defer a.startup.Done()
			if _, err := a.preflight.RunStartup(startCtx); err != nil {
				a.logger.Info("startup preflight abandoned", observability.Error(err))
			}
		}()
	})
	return errors.Join(errs...)
}

// Stop abandons the startup preflight, waits for it within ctx, and runs the
// one-time teardown.
func (a *App) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		close(a.stopping)
		a.mu.Lock()
		cancel := a.startCancel
		a.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})

	joined := make(chan struct{})
	go func() {
		a.startup.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-ctx.Done():
		a.logger.Warn("startup preflight still running at shutdown")
	}

	if a.schedule != nil {
		if err := a.schedule.Stop(ctx); err != nil {
			a.logger.Warn("scheduled diagnostics still running at shutdown", observability.Error(err))
		}
	}

	return a.shutdown.Shutdown(ctx)
}

// pause sleeps between probe attempts and returns early once the app is stopping.
func (a *App) pause(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-a.stopping:
	}
}

// forwardEvents relays every bus event to the UI as "sidecar:<kind>".
func (a *App) forwardEvents() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsubscribe != nil {
		return
	}

	ch, cancel := a.events.Subscribe(forwardBuffer)
	a.unsubscribe = cancel
	a.forwarder.Add(1)
	go func() {
		defer a.forwarder.Done()
		for event := range ch {
			a.emit(event)
		}
	}()
}

func (a *App) emit(event events.Event) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil && a.emitter != nil {
		a.emitter(ctx, "sidecar:"+string(event.Kind), event)
	}
}

// HealthCheck answers liveness pings from the UI.
func (a *App) HealthCheck() string {
	return healthMessage
}

// GetSettings returns the settings the app was started with.
func (a *App) GetSettings() domain.Settings {
	return a.Settings
}

// SaveSettings validates settings and persists them for the next start.
// The running supervisor keeps the settings it was started with.
func (a *App) SaveSettings(settings domain.Settings) error {
	if a.Store == nil {
		return errNoStore
	}
	settings = config.Normalize(settings)
	if err := config.Validate(settings); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if err := a.Store.Save(settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// SpawnSidecar launches one extra sidecar on demand.
func (a *App) SpawnSidecar(spec domain.SidecarSpec) (domain.SidecarInfo, error) {
	h, err := a.supervisor.Spawn(spec)
	if err != nil {
		return domain.SidecarInfo{}, err
	}
	return h.Info(), nil
}

// Sidecars lists every sidecar spawned so far.
func (a *App) Sidecars() []domain.SidecarInfo {
	return a.supervisor.Handles()
}

// SidecarEvents returns all events with sequence greater than sinceSeq.
func (a *App) SidecarEvents(sinceSeq int64) []events.Event {
	return a.events.Since(sinceSeq)
}

// RunDiagnostics runs every check and stores the report.
func (a *App) RunDiagnostics() domain.DiagnosticsReport {
	return a.preflight.RunDiagnostics(context.Background())
}

// GetDiagnostics returns the latest report, or nil before the first run.
func (a *App) GetDiagnostics() *domain.DiagnosticsReport {
	_, report := a.readiness.Get()
	return report
}

// IsPreflightPassed reports the readiness gate.
func (a *App) IsPreflightPassed() bool {
	return a.readiness.IsReady()
}

// Evaluate proxies a quality evaluation once diagnostics have passed.
func (a *App) Evaluate(req domain.EvaluateRequest) (domain.EvaluateResponse, error) {
	return a.backend.Evaluate(context.Background(), req)
}

// MutateWorkflow proxies a workflow mutation once diagnostics have passed.
func (a *App) MutateWorkflow(req domain.MutateRequest) (domain.MutateResponse, error) {
	return a.backend.Mutate(context.Background(), req)
}

// GetBanditStatus returns the backend's arm statistics.
func (a *App) GetBanditStatus() (domain.BanditStatus, error) {
	return a.backend.BanditStatus(context.Background())
}

// CreateMemorySnapshot stores a titled note in backend memory.
func (a *App) CreateMemorySnapshot(title, content string) (domain.MemorySnapshot, error) {
	return a.backend.CreateMemorySnapshot(context.Background(), title, content)
}

// GetWorkflowDAG returns the current workflow graph.
func (a *App) GetWorkflowDAG() (domain.WorkflowDAG, error) {
	return a.backend.WorkflowDAG(context.Background())
}

// GetTelemetryMetrics returns backend telemetry counters.
func (a *App) GetTelemetryMetrics() (domain.TelemetryMetrics, error) {
	return a.backend.TelemetryMetrics(context.Background())
}
