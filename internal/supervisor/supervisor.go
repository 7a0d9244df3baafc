// Package supervisor spawns sidecar processes and turns their output and
// exit into lifecycle events.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"sidecar-supervisor/internal/domain"
	"sidecar-supervisor/internal/events"
	"sidecar-supervisor/internal/observability"
)

const (
	// DefaultGracePeriod is how long a sidecar gets to exit after an interrupt.
	DefaultGracePeriod = 3 * time.Second

	// DefaultPipeDelay bounds how long output pipes may stay open after exit,
	// e.g. when an orphaned grandchild still holds them.
	DefaultPipeDelay = 2 * time.Second

	maxLineBytes = 1 << 20
)

// Observer receives sidecar metrics.
type Observer interface {
	ObserveSidecarEvent(sidecar, kind string)
	SetLiveSidecars(n int)
}

// Supervisor owns every spawned Handle.
type Supervisor struct {
	publisher events.Publisher
	logger    observability.Logger
	observer  Observer
	grace     time.Duration
	pipeDelay time.Duration
	maxLine   int

	// wrapOutput, when set, sits between a pipe and its drain.
	wrapOutput func(kind events.Kind, r io.Reader) io.Reader

	mu      sync.Mutex
	handles []*Handle
	wg      sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver attaches a metrics sink.
func WithObserver(observer Observer) Option {
	return func(s *Supervisor) {
		s.observer = observer
	}
}

// WithGracePeriod sets the interrupt-to-kill delay used by TerminateAll.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// New creates a supervisor publishing to publisher.
func New(publisher events.Publisher, opts ...Option) *Supervisor {
	s := &Supervisor{
		publisher: publisher,
		logger:    observability.NopLogger(),
		grace:     DefaultGracePeriod,
		pipeDelay: DefaultPipeDelay,
		maxLine:   maxLineBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn starts the sidecar and begins draining its output asynchronously.
// A *SpawnError is returned when the process cannot be created; no events
// are published for that sidecar in that case.
func (s *Supervisor) Spawn(spec domain.SidecarSpec) (*Handle, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, &SpawnError{Sidecar: spec.Name, Command: spec.Command, Err: ErrEmptyCommand}
	}

	s.logger.Info("spawning sidecar",
		observability.String("sidecar", spec.Name),
		observability.String("command", spec.Command),
		observability.Strings("args", spec.Args),
	)

	outReader, outWriter := io.Pipe()
	errReader, errWriter := io.Pipe()

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Stdout = outWriter
	cmd.Stderr = errWriter
	cmd.WaitDelay = s.pipeDelay

	h := newHandle(uuid.NewString(), spec, cmd)
	h.startedAt = time.Now().UTC()

	if err := cmd.Start(); err != nil {
		_ = outWriter.Close()
		_ = errWriter.Close()
		spawnErr := &SpawnError{Sidecar: spec.Name, Command: spec.Command, Err: err}
		s.logger.Error("failed to spawn sidecar", observability.Error(spawnErr))
		return nil, spawnErr
	}
	h.transition(domain.SidecarStatusRunning)

	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	s.reportLive()

	var drains sync.WaitGroup
	drains.Add(2)
	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		defer drains.Done()
		s.drain(h, outReader, events.KindStdout)
	}()
	go func() {
		defer s.wg.Done()
		defer drains.Done()
		s.drain(h, errReader, events.KindStderr)
	}()
	go func() {
		defer s.wg.Done()
		s.wait(h, outWriter, errWriter, &drains)
	}()

	return h, nil
}

// drain publishes one event per line, in order, until the stream closes.
// Lines longer than the limit are truncated and the remainder skipped; only
// a failing read is treated as a fault.
func (s *Supervisor) drain(h *Handle, raw io.Reader, kind events.Kind) {
	r := raw
	if s.wrapOutput != nil {
		r = s.wrapOutput(kind, raw)
	}
	reader := bufio.NewReaderSize(r, 64*1024)

	var line []byte
	truncated := false
	for {
		frag, more, err := reader.ReadLine()
		if err != nil {
			if len(line) > 0 {
				s.emitLine(h, kind, line, truncated)
			}
			if !errors.Is(err, io.EOF) {
				s.fault(h, fmt.Errorf("read %s: %w", kind, err))
				// keep the writer side unblocked until the process goes away
				_, _ = io.Copy(io.Discard, raw)
			}
			return
		}

		if room := s.maxLine - len(line); len(frag) > room {
			frag = frag[:max(room, 0)]
			truncated = true
		}
		line = append(line, frag...)
		if more {
			continue
		}

		s.emitLine(h, kind, line, truncated)
		line = line[:0]
		truncated = false
	}
}

func (s *Supervisor) emitLine(h *Handle, kind events.Kind, raw []byte, truncated bool) {
	line := string(raw)
	if truncated {
		s.logger.Warn("sidecar line truncated",
			observability.String("sidecar", h.Name()),
			observability.String("stream", string(kind)),
			observability.Int("limit", s.maxLine),
		)
	}
	if kind == events.KindStderr {
		s.logger.Warn("sidecar stderr", observability.String("sidecar", h.Name()), observability.String("line", line))
	} else {
		s.logger.Info("sidecar stdout", observability.String("sidecar", h.Name()), observability.String("line", line))
	}
	s.publish(h, events.Event{Kind: kind, Message: line})
}

// wait reaps the process, then publishes terminated once and crashed if needed.
func (s *Supervisor) wait(h *Handle, outWriter, errWriter *io.PipeWriter, drains *sync.WaitGroup) {
	err := h.cmd.Wait()
	_ = outWriter.Close()
	_ = errWriter.Close()
	drains.Wait()

	exitCode := 0
	if h.cmd.ProcessState != nil {
		exitCode = h.cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.Is(err, exec.ErrWaitDelay):
	case errors.As(err, &exitErr):
		if !h.stopRequested() {
			h.markCrashed()
		}
	default:
		s.fault(h, err)
	}

	crashed := h.finish(exitCode)
	state := "unknown"
	signal := ""
	if h.cmd.ProcessState != nil {
		state = h.cmd.ProcessState.String()
		signal = exitSignal(h.cmd.ProcessState)
	}

	s.logger.Info("sidecar terminated",
		observability.String("sidecar", h.Name()),
		observability.Int("exit_code", exitCode),
		observability.String("state", state),
	)
	s.publish(h, events.Event{Kind: events.KindTerminated, Message: state, ExitCode: exitCode, Signal: signal})

	if crashed {
		s.logger.Error("sidecar crashed", observability.String("sidecar", h.Name()))
		s.publish(h, events.Event{Kind: events.KindCrashed, Message: "Sidecar crashed: " + h.Name(), ExitCode: exitCode, Signal: signal})
	}

	close(h.done)
	s.reportLive()
}

// exitSignal names the signal that ended the process, if any.
func exitSignal(state *os.ProcessState) string {
	status, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return ""
	}
	return status.Signal().String()
}

// fault publishes a process error and marks the handle crashed.
func (s *Supervisor) fault(h *Handle, err error) {
	h.markCrashed()
	s.logger.Error("sidecar error", observability.String("sidecar", h.Name()), observability.Error(err))
	s.publish(h, events.Event{Kind: events.KindError, Message: fmt.Sprintf("%s: %v", h.Name(), err)})
}

func (s *Supervisor) publish(h *Handle, event events.Event) {
	event.Sidecar = h.Name()
	event.SidecarID = h.ID()
	if s.publisher != nil {
		s.publisher.Publish(event)
	}
	if s.observer != nil {
		s.observer.ObserveSidecarEvent(h.Name(), string(event.Kind))
	}
}

// Handles returns a snapshot of every handle spawned so far.
func (s *Supervisor) Handles() []domain.SidecarInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.SidecarInfo, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h.Info())
	}
	return out
}

// Live returns the number of handles not yet terminated.
func (s *Supervisor) Live() int {
	return len(s.live())
}

func (s *Supervisor) live() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Handle
	for _, h := range s.handles {
		if !h.Terminated() {
			out = append(out, h)
		}
	}
	return out
}

func (s *Supervisor) reportLive() {
	if s.observer != nil {
		s.observer.SetLiveSidecars(s.Live())
	}
}

// TerminateAll interrupts every live sidecar, kills those still running after
// the grace period, and waits for their drains until ctx expires. With no
// live sidecars it returns immediately.
func (s *Supervisor) TerminateAll(ctx context.Context) error {
	live := s.live()
	if len(live) == 0 {
		return nil
	}

	for _, h := range live {
		if !h.requestStop() {
			continue
		}
		s.logger.Info("terminating sidecar", observability.String("sidecar", h.Name()))
		if err := h.cmd.Process.Signal(os.Interrupt); err != nil {
			// interrupt is unsupported on some platforms
			_ = h.cmd.Process.Kill()
		}
	}

	grace := time.NewTimer(s.grace)
	defer grace.Stop()

	var remaining []string
	expired := false
	for _, h := range live {
		if !expired {
			select {
			case <-h.Done():
				continue
			case <-grace.C:
				expired = true
			case <-ctx.Done():
				expired = true
			}
		}

		select {
		case <-h.Done():
			continue
		default:
		}

		s.logger.Warn("killing sidecar after grace period", observability.String("sidecar", h.Name()))
		_ = h.cmd.Process.Kill()
		select {
		case <-h.Done():
		case <-ctx.Done():
			remaining = append(remaining, h.Name())
		}
	}

	if len(remaining) > 0 {
		return fmt.Errorf("sidecars still running after shutdown deadline: %s", strings.Join(remaining, ", "))
	}
	return nil
}

// Wait blocks until every drain and reaper goroutine has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
