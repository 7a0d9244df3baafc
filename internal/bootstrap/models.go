package bootstrap

import (
	"context"
	"fmt"

	"github.com/agnivade/levenshtein"

	"sidecar-supervisor/internal/diagnostics"
	"sidecar-supervisor/internal/domain"
)

// ModelStatus reports whether one required model is installed.
// Closest names the most similar installed model when this one is missing.
type ModelStatus struct {
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
	Closest   string `json:"closest,omitempty"`
}

// ModelReport pairs the required models with the live inventory.
type ModelReport struct {
	Required  []ModelStatus       `json:"required"`
	Installed []domain.ModelEntry `json:"installed"`
}

// GetModels lists the required models and marks which ones the inference
// service already has.
func (a *App) GetModels() (ModelReport, error) {
	inventory, err := a.checker.Inventory(context.Background())
	if err != nil {
		return ModelReport{}, fmt.Errorf("load model inventory: %w", err)
	}
	return buildModelReport(a.Settings.RequiredModels, inventory), nil
}

func buildModelReport(required []string, inventory domain.ModelInventory) ModelReport {
	missing := make(map[string]bool)
	for _, name := range diagnostics.MissingModels(required, inventory.Models) {
		missing[name] = true
	}

	report := ModelReport{
		Required:  make([]ModelStatus, 0, len(required)),
		Installed: inventory.Models,
	}
	if report.Installed == nil {
		report.Installed = []domain.ModelEntry{}
	}
	for _, name := range required {
		status := ModelStatus{Name: name, Installed: !missing[name]}
		if !status.Installed {
			status.Closest = closestModel(name, inventory.Models)
		}
		report.Required = append(report.Required, status)
	}
	return report
}

// closestModel returns the installed name with the smallest edit distance, or "".
func closestModel(name string, installed []domain.ModelEntry) string {
	best, bestDistance := "", -1
	for _, entry := range installed {
		d := levenshtein.ComputeDistance(name, entry.Name)
		if bestDistance < 0 || d < bestDistance {
			best, bestDistance = entry.Name, d
		}
	}
	return best
}
