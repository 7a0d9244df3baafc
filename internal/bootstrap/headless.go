package bootstrap

import (
	"context"
	"time"

	"sidecar-supervisor/internal/observability"
	"sidecar-supervisor/internal/status"
)

// StatusServer builds the HTTP status view of this app.
func (a *App) StatusServer() *status.Server {
	return status.NewServer(a,
		status.WithMetrics(a.metrics.Handler()),
		status.WithEventStream(a.events),
		status.WithLogger(a.logger.With(observability.String("component", "status"))),
	)
}

// RunHeadless starts the sidecars and the status server, then blocks until
// ctx is cancelled or the server fails, and tears everything down.
func (a *App) RunHeadless(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.logger.Error("sidecar startup incomplete", observability.Error(err))
	}

	var srv *status.Server
	serveErr := make(chan error, 1)
	if a.Settings.StatusAddr != "" {
		srv = a.StatusServer()
		if err := srv.Listen(a.Settings.StatusAddr); err != nil {
			a.stopWithin(a.Settings.ShutdownTimeout)
			return err
		}
		go func() {
			serveErr <- srv.Serve()
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown requested")
	case runErr = <-serveErr:
		a.logger.Error("status server stopped", observability.Error(runErr))
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Settings.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("status server shutdown", observability.Error(err))
		}
		cancel()
	}
	a.stopWithin(a.Settings.ShutdownTimeout)
	return runErr
}

func (a *App) stopWithin(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		a.logger.Warn("shutdown incomplete", observability.Error(err))
	}
}
