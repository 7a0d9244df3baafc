package supervisor

import (
	"os/exec"
	"sync"
	"time"

	"sidecar-supervisor/internal/domain"
)

// Handle is the supervisor-owned record of one spawned sidecar. Callers
// outside the package can observe it but cannot signal the process.
type Handle struct {
	id        string
	spec      domain.SidecarSpec
	cmd       *exec.Cmd
	startedAt time.Time
	done      chan struct{}

	mu          sync.RWMutex
	status      domain.SidecarStatus
	exitCode    int
	crashed     bool
	terminated  bool
	stopRequest bool
}

func newHandle(id string, spec domain.SidecarSpec, cmd *exec.Cmd) *Handle {
	return &Handle{
		id:     id,
		spec:   spec,
		cmd:    cmd,
		done:   make(chan struct{}),
		status: domain.SidecarStatusStarting,
	}
}

// ID returns the unique run identifier of this process.
func (h *Handle) ID() string { return h.id }

// Name returns the sidecar name from its spec.
func (h *Handle) Name() string { return h.spec.Name }

// Done is closed once the terminated event has been published.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Terminated reports whether the process has been reaped.
func (h *Handle) Terminated() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.terminated
}

// Crashed reports whether the process faulted or exited abnormally on its own.
func (h *Handle) Crashed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.crashed
}

// Info returns a snapshot for status reporting.
func (h *Handle) Info() domain.SidecarInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	info := domain.SidecarInfo{
		ID:        h.id,
		Name:      h.spec.Name,
		Status:    h.status,
		ExitCode:  h.exitCode,
		StartedAt: h.startedAt,
	}
	if h.cmd.Process != nil {
		info.PID = h.cmd.Process.Pid
	}
	return info
}

// transition applies a status change if the lifecycle allows it.
func (h *Handle) transition(to domain.SidecarStatus) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transitionLocked(to)
}

func (h *Handle) transitionLocked(to domain.SidecarStatus) bool {
	if h.status == to {
		return true
	}
	if !isValidTransition(h.status, to) {
		return false
	}
	h.status = to
	return true
}

// markCrashed flags a fault; the final status is applied on exit.
func (h *Handle) markCrashed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.crashed = true
}

// requestStop records that termination was asked for and reports whether
// the process is still live.
func (h *Handle) requestStop() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.terminated {
		return false
	}
	h.stopRequest = true
	h.transitionLocked(domain.SidecarStatusTerminating)
	return true
}

func (h *Handle) stopRequested() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stopRequest
}

// finish records the exit and picks the terminal status.
func (h *Handle) finish(exitCode int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.exitCode = exitCode
	h.terminated = true
	if h.crashed {
		h.transitionLocked(domain.SidecarStatusCrashed)
	} else {
		h.transitionLocked(domain.SidecarStatusExited)
	}
	return h.crashed
}

// isValidTransition enforces the sidecar lifecycle edges.
func isValidTransition(from, to domain.SidecarStatus) bool {
	switch from {
	case domain.SidecarStatusStarting:
		return to == domain.SidecarStatusRunning || to == domain.SidecarStatusCrashed
	case domain.SidecarStatusRunning:
		return to == domain.SidecarStatusTerminating || to == domain.SidecarStatusExited || to == domain.SidecarStatusCrashed
	case domain.SidecarStatusTerminating:
		return to == domain.SidecarStatusExited || to == domain.SidecarStatusCrashed
	default:
		return false
	}
}
