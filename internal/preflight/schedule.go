package preflight

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"sidecar-supervisor/internal/observability"
)

// Schedule re-runs diagnostics on a cron expression. Overlapping ticks are
// skipped while a run is still in progress.
type Schedule struct {
	cron *cron.Cron
}

// NewSchedule parses spec (standard five fields or a descriptor such as
// "@every 5m") and binds it to coord.
func NewSchedule(spec string, coord *Coordinator, logger observability.Logger) (*Schedule, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	cronLog := cronLogger{logger: logger.With(observability.String("component", "schedule"))}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := c.AddFunc(spec, func() {
		report := coord.RunDiagnostics(context.Background())
		logger.Debug("scheduled diagnostics", observability.String("status", string(report.Status)))
	}); err != nil {
		return nil, fmt.Errorf("parse diagnostics schedule %q: %w", spec, err)
	}
	return &Schedule{cron: c}, nil
}

// Start begins firing in the background.
func (s *Schedule) Start() {
	s.cron.Start()
}

// Stop prevents further runs and waits for an in-flight one until ctx ends.
func (s *Schedule) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's key/value logging into the structured logger.
// Routine scheduler chatter goes to debug.
type cronLogger struct {
	logger observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, cronFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(cronFields(keysAndValues), observability.Error(err))
	l.logger.Error("cron: "+msg, fields...)
}

func cronFields(keysAndValues []interface{}) []observability.Field {
	fields := make([]observability.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fields = append(fields, observability.Any(key, keysAndValues[i+1]))
	}
	return fields
}
