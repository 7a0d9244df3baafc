package domain

import "time"

// SidecarSpec describes one auxiliary process launched at startup.
type SidecarSpec struct {
	Name    string   `json:"name" yaml:"name"`
	Command string   `json:"command" yaml:"command"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// ProbeSettings bounds the retry budget of one readiness probe.
type ProbeSettings struct {
	Attempts int           `json:"attempts" yaml:"attempts"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
}

// Settings contains the static configuration consumed at startup.
type Settings struct {
	BackendURL      string        `json:"backendUrl" yaml:"backend_url"`
	InferenceURL    string        `json:"inferenceUrl" yaml:"inference_url"`
	RequiredModels  []string      `json:"requiredModels" yaml:"required_models"`
	MinFreeMemoryGB float64       `json:"minFreeMemoryGb" yaml:"min_free_memory_gb"`
	MinFreeDiskGB   float64       `json:"minFreeDiskGb" yaml:"min_free_disk_gb"`
	Probe           ProbeSettings `json:"probe" yaml:"probe"`
	CheckTimeout    time.Duration `json:"checkTimeout" yaml:"check_timeout"`
	StartupDelay    time.Duration `json:"startupDelay" yaml:"startup_delay"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdown_timeout"`
	Sidecars        []SidecarSpec `json:"sidecars" yaml:"sidecars"`
	EventHistory    int           `json:"eventHistory" yaml:"event_history"`
	StatusAddr      string        `json:"statusAddr" yaml:"status_addr"`
	LogLevel        string        `json:"logLevel" yaml:"log_level"`
	LogFormat       string        `json:"logFormat" yaml:"log_format"`

	// DiagnosticsSchedule is a cron expression for periodic re-runs; empty disables them.
	DiagnosticsSchedule string `json:"diagnosticsSchedule,omitempty" yaml:"diagnostics_schedule,omitempty"`
}

// SidecarStatus tracks where a supervised process is in its lifecycle.
type SidecarStatus string

const (
	SidecarStatusStarting    SidecarStatus = "starting"
	SidecarStatusRunning     SidecarStatus = "running"
	SidecarStatusTerminating SidecarStatus = "terminating"
	SidecarStatusExited      SidecarStatus = "exited"
	SidecarStatusCrashed     SidecarStatus = "crashed"
)

// SidecarInfo is a read-only view of one supervised process.
type SidecarInfo struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	PID       int           `json:"pid"`
	Status    SidecarStatus `json:"status"`
	ExitCode  int           `json:"exitCode"`
	StartedAt time.Time     `json:"startedAt"`
}
