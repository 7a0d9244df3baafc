package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"sidecar-supervisor/internal/domain"
)

// Store defines persistence operations for supervisor settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// YAMLStore persists settings in a single YAML file on disk.
type YAMLStore struct {
	path string
}

// NewYAMLStore creates a YAML-backed settings store.
func NewYAMLStore(path string) *YAMLStore {
	return &YAMLStore{path: path}
}

// Path returns the backing file location.
func (s *YAMLStore) Path() string {
	return s.path
}

// Load reads settings from disk or returns defaults when missing.
// Keys absent from the file keep their default values.
func (s *YAMLStore) Load() (domain.Settings, error) {
	cfg := DefaultSettings()

	data, err := os.ReadFile(filepath.Clean(s.path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return domain.Settings{}, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return domain.Settings{}, fmt.Errorf("parse YAML config: %w", err)
	}

	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return domain.Settings{}, err
	}
	return cfg, nil
}

// Save writes settings as YAML and creates parent directories.
func (s *YAMLStore) Save(cfg domain.Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode YAML config: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Normalize trims user input and strips trailing slashes from base URLs.
func Normalize(cfg domain.Settings) domain.Settings {
	cfg.BackendURL = strings.TrimRight(strings.TrimSpace(cfg.BackendURL), "/")
	cfg.InferenceURL = strings.TrimRight(strings.TrimSpace(cfg.InferenceURL), "/")
	cfg.StatusAddr = strings.TrimSpace(cfg.StatusAddr)
	cfg.DiagnosticsSchedule = strings.TrimSpace(cfg.DiagnosticsSchedule)

	models := cfg.RequiredModels[:0:0]
	for _, model := range cfg.RequiredModels {
		if model = strings.TrimSpace(model); model != "" {
			models = append(models, model)
		}
	}
	cfg.RequiredModels = models
	return cfg
}

// Validate rejects settings the supervisor cannot start with.
func Validate(cfg domain.Settings) error {
	for name, raw := range map[string]string{
		"backend_url":   cfg.BackendURL,
		"inference_url": cfg.InferenceURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s: %q", name, raw)
		}
	}

	if cfg.Probe.Attempts <= 0 {
		return fmt.Errorf("probe.attempts must be positive, got %d", cfg.Probe.Attempts)
	}
	if cfg.Probe.Interval < 0 || cfg.Probe.Timeout <= 0 {
		return fmt.Errorf("probe interval and timeout must be positive")
	}
	if cfg.CheckTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("check_timeout and shutdown_timeout must be positive")
	}
	if cfg.MinFreeMemoryGB < 0 || cfg.MinFreeDiskGB < 0 {
		return fmt.Errorf("resource thresholds must not be negative")
	}

	if cfg.DiagnosticsSchedule != "" {
		if _, err := cron.ParseStandard(cfg.DiagnosticsSchedule); err != nil {
			return fmt.Errorf("invalid diagnostics_schedule %q: %w", cfg.DiagnosticsSchedule, err)
		}
	}

	seen := make(map[string]struct{}, len(cfg.Sidecars))
	for _, sidecar := range cfg.Sidecars {
		if strings.TrimSpace(sidecar.Name) == "" || strings.TrimSpace(sidecar.Command) == "" {
			return fmt.Errorf("sidecar entries need a name and a command")
		}
		if _, dup := seen[sidecar.Name]; dup {
			return fmt.Errorf("duplicate sidecar name: %s", sidecar.Name)
		}
		seen[sidecar.Name] = struct{}{}
	}
	return nil
}
