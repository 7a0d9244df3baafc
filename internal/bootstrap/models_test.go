package bootstrap

import (
	"testing"

	"sidecar-supervisor/internal/domain"
)

func TestBuildModelReportMarksInstalled(t *testing.T) {
	report := buildModelReport(
		[]string{"deepseek-r1:14b", "qwen2.5-coder:7b"},
		domain.ModelInventory{Models: []domain.ModelEntry{{Name: "deepseek-r1:14b-q4"}}},
	)

	if len(report.Required) != 2 {
		t.Fatalf("got %d required entries", len(report.Required))
	}
	if !report.Required[0].Installed {
		t.Fatal("deepseek should match by substring")
	}
	if report.Required[1].Installed {
		t.Fatal("qwen should be missing")
	}
	if report.Required[1].Closest != "deepseek-r1:14b-q4" {
		t.Fatalf("closest = %q", report.Required[1].Closest)
	}
	if report.Required[0].Closest != "" {
		t.Fatal("installed models carry no suggestion")
	}
}

func TestClosestModelPicksSmallestDistance(t *testing.T) {
	installed := []domain.ModelEntry{{Name: "llama3:8b"}, {Name: "qwen2.5-coder:14b"}, {Name: "mistral"}}
	if got := closestModel("qwen2.5-coder:7b", installed); got != "qwen2.5-coder:14b" {
		t.Fatalf("closest = %q", got)
	}
	if got := closestModel("anything", nil); got != "" {
		t.Fatalf("closest of empty inventory = %q", got)
	}
}

func TestBuildModelReportEmptyInventory(t *testing.T) {
	report := buildModelReport([]string{"a"}, domain.ModelInventory{})
	if report.Installed == nil {
		t.Fatal("installed list should be empty, not nil")
	}
	if report.Required[0].Installed {
		t.Fatal("nothing is installed")
	}
}

func TestGetModelsFromInventory(t *testing.T) {
	srv := fakeServices(t)
	app := newTestApp(t, testSettings(srv.URL))

	report, err := app.GetModels()
	if err != nil {
		t.Fatalf("get models: %v", err)
	}
	for _, model := range report.Required {
		if !model.Installed {
			t.Fatalf("model %s reported missing", model.Name)
		}
	}
	if len(report.Installed) != 2 {
		t.Fatalf("installed = %d, want 2", len(report.Installed))
	}
}
