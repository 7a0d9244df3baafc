package supervisor

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidecar-supervisor/internal/domain"
	"sidecar-supervisor/internal/events"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("sidecar tests rely on /bin/sh")
	}
}

func shell(name, script string) domain.SidecarSpec {
	return domain.SidecarSpec{Name: name, Command: "/bin/sh", Args: []string{"-c", script}}
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("sidecar %s did not terminate", h.Name())
	}
}

func kinds(evts []events.Event, sidecar string) []events.Kind {
	var out []events.Kind
	for _, e := range evts {
		if e.Sidecar == sidecar {
			out = append(out, e.Kind)
		}
	}
	return out
}

func messages(evts []events.Event, sidecar string, kind events.Kind) []string {
	var out []string
	for _, e := range evts {
		if e.Sidecar == sidecar && e.Kind == kind {
			out = append(out, e.Message)
		}
	}
	return out
}

// TestSpawnDrainsOutputInOrder checks per-stream ordering and a single terminated event.
func TestSpawnDrainsOutputInOrder(t *testing.T) {
	requireShell(t)
	bus := events.NewBus(100)
	sup := New(bus)

	h, err := sup.Spawn(shell("echoer", "echo one; echo two; echo oops 1>&2; echo three"))
	require.NoError(t, err)
	waitDone(t, h)

	evts := bus.Since(0)
	assert.Equal(t, []string{"one", "two", "three"}, messages(evts, "echoer", events.KindStdout))
	assert.Equal(t, []string{"oops"}, messages(evts, "echoer", events.KindStderr))
	assert.Len(t, messages(evts, "echoer", events.KindTerminated), 1)
	assert.Empty(t, messages(evts, "echoer", events.KindCrashed))

	got := kinds(evts, "echoer")
	assert.Equal(t, events.KindTerminated, got[len(got)-1])

	info := h.Info()
	assert.Equal(t, domain.SidecarStatusExited, info.Status)
	assert.Equal(t, 0, info.ExitCode)
	assert.NotZero(t, info.PID)
	assert.False(t, h.Crashed())
}

// TestSpawnMissingExecutable returns SpawnError and publishes nothing.
func TestSpawnMissingExecutable(t *testing.T) {
	bus := events.NewBus(100)
	sup := New(bus)

	h, err := sup.Spawn(domain.SidecarSpec{
		Name:    "ghost",
		Command: filepath.Join(t.TempDir(), "does-not-exist"),
	})

	assert.Nil(t, h)
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, "ghost", spawnErr.Sidecar)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Empty(t, bus.Since(0))
	assert.Equal(t, 0, sup.Live())
	assert.Empty(t, sup.Handles())
}

// TestSpawnFailureDoesNotAffectOthers checks spawn independence.
func TestSpawnFailureDoesNotAffectOthers(t *testing.T) {
	requireShell(t)
	bus := events.NewBus(100)
	sup := New(bus)

	good, err := sup.Spawn(shell("good", "echo alive"))
	require.NoError(t, err)
	_, err = sup.Spawn(domain.SidecarSpec{Name: "bad", Command: "/nonexistent/bin"})
	require.Error(t, err)
	waitDone(t, good)

	evts := bus.Since(0)
	assert.Equal(t, []string{"alive"}, messages(evts, "good", events.KindStdout))
	assert.Empty(t, kinds(evts, "bad"))
}

// TestSpawnEmptyCommand rejects a spec without executable.
func TestSpawnEmptyCommand(t *testing.T) {
	_, err := New(nil).Spawn(domain.SidecarSpec{Name: "blank"})
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

// TestUnrequestedNonZeroExitIsCrash checks crash notification after terminated.
func TestUnrequestedNonZeroExitIsCrash(t *testing.T) {
	requireShell(t)
	bus := events.NewBus(100)
	sup := New(bus)

	h, err := sup.Spawn(shell("flaky", "echo dying; exit 3"))
	require.NoError(t, err)
	waitDone(t, h)

	got := kinds(bus.Since(0), "flaky")
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, events.KindTerminated, got[len(got)-2])
	assert.Equal(t, events.KindCrashed, got[len(got)-1])
	assert.Equal(t, domain.SidecarStatusCrashed, h.Info().Status)
	assert.Equal(t, 3, h.Info().ExitCode)
}

// TestOverlongLineIsTruncatedNotCrash keeps streaming after a line above the limit.
func TestOverlongLineIsTruncatedNotCrash(t *testing.T) {
	requireShell(t)
	bus := events.NewBus(100)
	sup := New(bus)

	h, err := sup.Spawn(shell("chatty", "head -c 2000000 /dev/zero | tr '\\0' a; echo; echo after"))
	require.NoError(t, err)
	waitDone(t, h)

	assert.Equal(t, []events.Kind{events.KindStdout, events.KindStdout, events.KindTerminated}, kinds(bus.Since(0), "chatty"))
	lines := messages(bus.Since(0), "chatty", events.KindStdout)
	require.Len(t, lines, 2)
	assert.Len(t, lines[0], maxLineBytes)
	assert.Equal(t, strings.Repeat("a", 8), lines[0][:8])
	assert.Equal(t, "after", lines[1])
	assert.Equal(t, domain.SidecarStatusExited, h.Info().Status)
	assert.False(t, h.Crashed())
}

func TestLineLimitSplitsAcrossBufferedReads(t *testing.T) {
	requireShell(t)
	bus := events.NewBus(100)
	sup := New(bus)
	sup.maxLine = 4

	h, err := sup.Spawn(shell("short", "printf 'abcdefgh\\nxy\\ntail'"))
	require.NoError(t, err)
	waitDone(t, h)

	assert.Equal(t, []string{"abcd", "xy", "tail"}, messages(bus.Since(0), "short", events.KindStdout))
	assert.Equal(t, domain.SidecarStatusExited, h.Info().Status)
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

// TestReadFaultPublishesErrorThenCrash checks error, terminated, crashed ordering.
func TestReadFaultPublishesErrorThenCrash(t *testing.T) {
	requireShell(t)
	bus := events.NewBus(100)
	sup := New(bus)
	readErr := errors.New("stream reset")
	sup.wrapOutput = func(kind events.Kind, r io.Reader) io.Reader {
		if kind == events.KindStderr {
			return failingReader{err: readErr}
		}
		return r
	}

	h, err := sup.Spawn(shell("faulty", "echo oops >&2; exit 0"))
	require.NoError(t, err)
	waitDone(t, h)

	evts := bus.Since(0)
	assert.Equal(t, []events.Kind{events.KindError, events.KindTerminated, events.KindCrashed}, kinds(evts, "faulty"))
	errMsgs := messages(evts, "faulty", events.KindError)
	require.Len(t, errMsgs, 1)
	assert.Contains(t, errMsgs[0], "stream reset")
	assert.Len(t, messages(evts, "faulty", events.KindCrashed), 1)
	assert.Equal(t, domain.SidecarStatusCrashed, h.Info().Status)
	assert.Equal(t, 0, h.Info().ExitCode)
}

// TestKilledSidecarReportsSignal fills the signal of a process killed from outside.
func TestKilledSidecarReportsSignal(t *testing.T) {
	requireShell(t)
	bus := events.NewBus(100)
	sup := New(bus)

	h, err := sup.Spawn(shell("victim", "kill -KILL $$"))
	require.NoError(t, err)
	waitDone(t, h)

	var terminated, crashed *events.Event
	for _, e := range bus.Since(0) {
		e := e
		switch {
		case e.Sidecar == "victim" && e.Kind == events.KindTerminated:
			terminated = &e
		case e.Sidecar == "victim" && e.Kind == events.KindCrashed:
			crashed = &e
		}
	}
	require.NotNil(t, terminated)
	require.NotNil(t, crashed)
	assert.Equal(t, "killed", terminated.Signal)
	assert.Equal(t, "killed", crashed.Signal)
}

// TestTerminateAllStopsLiveSidecars covers the two-handle shutdown scenario.
func TestTerminateAllStopsLiveSidecars(t *testing.T) {
	requireShell(t)
	bus := events.NewBus(100)
	sup := New(bus, WithGracePeriod(2*time.Second))

	first, err := sup.Spawn(shell("first", "exec sleep 30"))
	require.NoError(t, err)
	second, err := sup.Spawn(shell("second", "exec sleep 30"))
	require.NoError(t, err)
	assert.Equal(t, 2, sup.Live())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, sup.TerminateAll(ctx))

	waitDone(t, first)
	waitDone(t, second)
	assert.Equal(t, 0, sup.Live())

	evts := bus.Since(0)
	for _, name := range []string{"first", "second"} {
		assert.Len(t, messages(evts, name, events.KindTerminated), 1, name)
		assert.Empty(t, messages(evts, name, events.KindCrashed), name)
	}
}

// TestTerminateAllKillsAfterGrace covers a sidecar that ignores interrupts.
func TestTerminateAllKillsAfterGrace(t *testing.T) {
	requireShell(t)
	bus := events.NewBus(100)
	sup := New(bus, WithGracePeriod(100*time.Millisecond))

	h, err := sup.Spawn(shell("stubborn", "trap '' INT; echo ready; while true; do sleep 0.05; done"))
	require.NoError(t, err)

	ready := make(chan struct{})
	go func() {
		for {
			if len(messages(bus.Since(0), "stubborn", events.KindStdout)) > 0 {
				close(ready)
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("sidecar never became ready")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, sup.TerminateAll(ctx))
	waitDone(t, h)
	assert.False(t, h.Crashed())
}

// TestTerminateAllIdempotent checks the no-live-process path.
func TestTerminateAllIdempotent(t *testing.T) {
	requireShell(t)
	sup := New(events.NewBus(10))

	require.NoError(t, sup.TerminateAll(context.Background()))

	h, err := sup.Spawn(shell("quick", "true"))
	require.NoError(t, err)
	waitDone(t, h)

	require.NoError(t, sup.TerminateAll(context.Background()))
	require.NoError(t, sup.TerminateAll(context.Background()))
}

type recordingObserver struct {
	mu     sync.Mutex
	counts map[string]int
	live   []int
}

func (r *recordingObserver) ObserveSidecarEvent(sidecar, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[sidecar+"/"+kind]++
}

func (r *recordingObserver) SetLiveSidecars(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = append(r.live, n)
}

// TestSupervisorReportsMetrics checks observer wiring.
func TestSupervisorReportsMetrics(t *testing.T) {
	requireShell(t)
	observer := &recordingObserver{}
	sup := New(events.NewBus(10), WithObserver(observer))

	h, err := sup.Spawn(shell("metered", "echo x"))
	require.NoError(t, err)
	waitDone(t, h)
	sup.Wait()

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Equal(t, 1, observer.counts["metered/stdout"])
	assert.Equal(t, 1, observer.counts["metered/terminated"])
	require.NotEmpty(t, observer.live)
	assert.Equal(t, 0, observer.live[len(observer.live)-1])
}

// TestIsValidTransition pins the lifecycle edges.
func TestIsValidTransition(t *testing.T) {
	assert.True(t, isValidTransition(domain.SidecarStatusStarting, domain.SidecarStatusRunning))
	assert.True(t, isValidTransition(domain.SidecarStatusRunning, domain.SidecarStatusTerminating))
	assert.True(t, isValidTransition(domain.SidecarStatusTerminating, domain.SidecarStatusExited))
	assert.False(t, isValidTransition(domain.SidecarStatusExited, domain.SidecarStatusRunning))
	assert.False(t, isValidTransition(domain.SidecarStatusCrashed, domain.SidecarStatusRunning))
	assert.False(t, isValidTransition(domain.SidecarStatusStarting, domain.SidecarStatusTerminating))
}

func TestHandleLifecycleGoesThroughTransitions(t *testing.T) {
	h := newHandle("id", domain.SidecarSpec{Name: "x"}, nil)
	require.True(t, h.transition(domain.SidecarStatusRunning))

	assert.True(t, h.requestStop())
	assert.Equal(t, domain.SidecarStatusTerminating, h.status)
	assert.False(t, h.finish(0))
	assert.Equal(t, domain.SidecarStatusExited, h.status)
	assert.False(t, h.requestStop())
	assert.False(t, h.transition(domain.SidecarStatusRunning))

	crashed := newHandle("id2", domain.SidecarSpec{Name: "y"}, nil)
	require.True(t, crashed.transition(domain.SidecarStatusRunning))
	crashed.markCrashed()
	assert.True(t, crashed.finish(1))
	assert.Equal(t, domain.SidecarStatusCrashed, crashed.status)
}
