package config

import (
	"os"
	"path/filepath"
	"time"

	"sidecar-supervisor/internal/domain"
)

const (
	defaultBackendURL   = "http://127.0.0.1:8000"
	defaultInferenceURL = "http://127.0.0.1:11434"
	defaultStatusAddr   = "127.0.0.1:8765"
)

// DefaultSettings returns the baseline configuration for a local install.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		BackendURL:      defaultBackendURL,
		InferenceURL:    defaultInferenceURL,
		RequiredModels:  []string{"deepseek-r1:14b", "qwen2.5-coder:7b"},
		MinFreeMemoryGB: 2.0,
		MinFreeDiskGB:   5.0,
		Probe: domain.ProbeSettings{
			Attempts: 30,
			Interval: 500 * time.Millisecond,
			Timeout:  500 * time.Millisecond,
		},
		CheckTimeout:    5 * time.Second,
		StartupDelay:    2 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		Sidecars: []domain.SidecarSpec{
			{Name: "ollama", Command: filepath.Join("binaries", "ollama"), Args: []string{"serve"}},
			{Name: "python_backend", Command: filepath.Join("binaries", "python_backend")},
		},
		EventHistory: 1000,
		StatusAddr:   defaultStatusAddr,
		LogLevel:     "info",
		LogFormat:    "console",
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".sidecar-supervisor", "config.yaml")
}
