package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sidecar-supervisor/internal/config"
)

func TestParseFlagsEnvFallback(t *testing.T) {
	t.Setenv("SIDECAR_SUPERVISOR_STATUS_ADDR", "127.0.0.1:9999")
	t.Setenv("SIDECAR_SUPERVISOR_LOG_LEVEL", "debug")

	flags := parseFlags([]string{"-log-level", "warn"})

	assert.Equal(t, "127.0.0.1:9999", flags.statusAddr)
	assert.Equal(t, "warn", flags.logLevel, "flags win over env")
	assert.Equal(t, config.DefaultPath(), flags.configPath)
	assert.False(t, flags.writeConfig)
}

func TestParseFlagsWriteConfig(t *testing.T) {
	flags := parseFlags([]string{"-write-config", "-config", "/tmp/sidecar.yaml"})

	assert.True(t, flags.writeConfig)
	assert.Equal(t, "/tmp/sidecar.yaml", flags.configPath)
}

func TestApplyOverrides(t *testing.T) {
	base := config.DefaultSettings()

	unchanged := applyOverrides(base, cliFlags{})
	assert.Equal(t, base.BackendURL, unchanged.BackendURL)
	assert.Equal(t, base.StatusAddr, unchanged.StatusAddr)

	changed := applyOverrides(base, cliFlags{
		backendURL:   "http://10.0.0.2:8000",
		inferenceURL: "http://10.0.0.3:11434",
		statusAddr:   ":0",
		logFormat:    "json",
	})
	assert.Equal(t, "http://10.0.0.2:8000", changed.BackendURL)
	assert.Equal(t, "http://10.0.0.3:11434", changed.InferenceURL)
	assert.Equal(t, ":0", changed.StatusAddr)
	assert.Equal(t, "json", changed.LogFormat)
	assert.Equal(t, base.LogLevel, changed.LogLevel)
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("SIDECAR_SUPERVISOR_TEST_KEY", "  ")
	assert.Equal(t, "fallback", getEnvOrDefault("SIDECAR_SUPERVISOR_TEST_KEY", "fallback"))
	t.Setenv("SIDECAR_SUPERVISOR_TEST_KEY", "value")
	assert.Equal(t, "value", getEnvOrDefault("SIDECAR_SUPERVISOR_TEST_KEY", "fallback"))
}
