package preflight

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"sidecar-supervisor/internal/diagnostics"
	"sidecar-supervisor/internal/domain"
	"sidecar-supervisor/internal/observability"
	"sidecar-supervisor/internal/readiness"
)

func TestNewScheduleRejectsBadSpec(t *testing.T) {
	coord := New(testSettings(), nil, &fakeProber{}, readiness.NewStore(), nil)
	_, err := NewSchedule("every now and then", coord, nil)
	assert.Error(t, err)
}

func TestScheduleRunsDiagnostics(t *testing.T) {
	var runs int32
	check := diagnostics.Check{
		Name: "ram",
		Run: func(context.Context) domain.CheckResult {
			atomic.AddInt32(&runs, 1)
			return domain.CheckResult{Name: "ram", Passed: true, Severity: domain.SeverityInfo}
		},
	}
	store := readiness.NewStore()
	coord := New(testSettings(), []diagnostics.Check{check}, &fakeProber{}, store, nil)

	schedule, err := NewSchedule("@every 1s", coord, nil)
	require.NoError(t, err)
	schedule.Start()

	require.Eventually(t, store.IsReady, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, schedule.Stop(ctx))

	stopped := atomic.LoadInt32(&runs)
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt32(&runs), "no runs after Stop")
}

func TestCronLoggerReportsRecoveredPanic(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cronLog := cronLogger{logger: observability.NewZapLogger(zap.New(core))}

	job := cron.NewChain(cron.Recover(cronLog)).Then(cron.FuncJob(func() {
		panic("check exploded")
	}))
	require.NotPanics(t, job.Run)

	entries := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "cron: panic", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Contains(t, fields["error"], "check exploded")
	assert.Contains(t, fields, "stack")
}

func TestCronLoggerInfoGoesToDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cronLog := cronLogger{logger: observability.NewZapLogger(zap.New(core))}

	cronLog.Info("start", "entry", 1, "odd")
	cronLog.Error(errors.New("boom"), "failed")

	all := logs.All()
	require.Len(t, all, 2)
	assert.Equal(t, zapcore.DebugLevel, all[0].Level)
	assert.Equal(t, map[string]interface{}{"entry": int64(1)}, all[0].ContextMap())
	assert.Equal(t, "boom", all[1].ContextMap()["error"])
}
