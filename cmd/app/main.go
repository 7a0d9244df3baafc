// Command app is the desktop shell around the sidecar supervisor.
package main

import (
	"fmt"
	"os"
	"strings"

	"sidecar-supervisor/internal/bootstrap"
	"sidecar-supervisor/internal/config"
)

func main() {
	path := strings.TrimSpace(os.Getenv("SIDECAR_SUPERVISOR_CONFIG"))
	if path == "" {
		path = config.DefaultPath()
	}

	app, err := bootstrap.NewFromConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap app: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "run app: %v\n", err)
		os.Exit(1)
	}
}
