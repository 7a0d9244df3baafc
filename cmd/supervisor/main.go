// Command supervisor runs the sidecars and the status server without the desktop UI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sidecar-supervisor/internal/bootstrap"
	"sidecar-supervisor/internal/config"
	"sidecar-supervisor/internal/domain"
	"sidecar-supervisor/internal/observability"
)

var version = "dev"

type cliFlags struct {
	configPath   string
	logLevel     string
	logFormat    string
	statusAddr   string
	backendURL   string
	inferenceURL string
	writeConfig  bool
	showVersion  bool
}

func main() {
	flags := parseFlags(os.Args[1:])
	if flags.showVersion {
		fmt.Printf("sidecar-supervisor version %s\n", version)
		return
	}

	settings, err := config.NewYAMLStore(flags.configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	settings = applyOverrides(settings, flags)

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  settings.LogLevel,
		Format: settings.LogFormat,
		Output: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting sidecar supervisor",
		observability.String("version", version),
		observability.String("config", flags.configPath),
		observability.Int("sidecars", len(settings.Sidecars)),
	)

	app, err := bootstrap.NewFromSettings(settings, config.NewYAMLStore(flags.configPath), logger)
	if err != nil {
		logger.Error("invalid configuration", observability.Error(err))
		os.Exit(1)
	}

	if flags.writeConfig {
		if err := app.SaveSettings(app.Settings); err != nil {
			logger.Error("failed to write configuration", observability.Error(err))
			os.Exit(1)
		}
		logger.Info("configuration written", observability.String("path", flags.configPath))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", observability.String("signal", sig.String()))
		cancel()
	}()

	if err := app.RunHeadless(ctx); err != nil {
		logger.Error("supervisor stopped with error", observability.Error(err))
		os.Exit(1)
	}
}

// parseFlags reads command line flags with environment fallbacks.
func parseFlags(args []string) cliFlags {
	fs := flag.NewFlagSet("supervisor", flag.ExitOnError)
	configPath := fs.String("config", getEnvOrDefault("SIDECAR_SUPERVISOR_CONFIG", config.DefaultPath()),
		"Path to configuration file")
	logLevel := fs.String("log-level", getEnvOrDefault("SIDECAR_SUPERVISOR_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", getEnvOrDefault("SIDECAR_SUPERVISOR_LOG_FORMAT", ""),
		"Log format (json, console)")
	statusAddr := fs.String("status-addr", getEnvOrDefault("SIDECAR_SUPERVISOR_STATUS_ADDR", ""),
		"Listen address of the status server")
	backendURL := fs.String("backend-url", getEnvOrDefault("SIDECAR_SUPERVISOR_BACKEND_URL", ""),
		"Base URL of the backend service")
	inferenceURL := fs.String("inference-url", getEnvOrDefault("SIDECAR_SUPERVISOR_INFERENCE_URL", ""),
		"Base URL of the inference service")
	writeConfig := fs.Bool("write-config", false, "Write the effective configuration to the config file and exit")
	showVersion := fs.Bool("version", false, "Show version information")
	_ = fs.Parse(args)

	return cliFlags{
		configPath:   *configPath,
		logLevel:     *logLevel,
		logFormat:    *logFormat,
		statusAddr:   *statusAddr,
		backendURL:   *backendURL,
		inferenceURL: *inferenceURL,
		writeConfig:  *writeConfig,
		showVersion:  *showVersion,
	}
}

// applyOverrides lets non-empty flags win over the config file.
func applyOverrides(settings domain.Settings, flags cliFlags) domain.Settings {
	if flags.logLevel != "" {
		settings.LogLevel = flags.logLevel
	}
	if flags.logFormat != "" {
		settings.LogFormat = flags.logFormat
	}
	if flags.statusAddr != "" {
		settings.StatusAddr = flags.statusAddr
	}
	if flags.backendURL != "" {
		settings.BackendURL = flags.backendURL
	}
	if flags.inferenceURL != "" {
		settings.InferenceURL = flags.inferenceURL
	}
	return settings
}
