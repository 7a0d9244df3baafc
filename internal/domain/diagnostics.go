package domain

import "time"

// Severity grades a single check outcome.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// DiagnosticsStatus is the aggregate verdict of one diagnostics run.
type DiagnosticsStatus string

const (
	DiagnosticsStatusOK      DiagnosticsStatus = "OK"
	DiagnosticsStatusWarning DiagnosticsStatus = "WARNING"
	DiagnosticsStatusError   DiagnosticsStatus = "ERROR"
)

// CheckResult is one check verdict. Immutable once produced.
type CheckResult struct {
	Name     string   `json:"name"`
	Passed   bool     `json:"passed"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// DiagnosticsReport aggregates one run of all checks keyed by check name.
type DiagnosticsReport struct {
	Status    DiagnosticsStatus      `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// DeriveStatus computes the aggregate status: OK iff every check passed,
// ERROR if any failed check has error severity, WARNING otherwise.
func DeriveStatus(checks map[string]CheckResult) DiagnosticsStatus {
	status := DiagnosticsStatusOK
	for _, check := range checks {
		if check.Passed {
			continue
		}
		if check.Severity == SeverityError {
			return DiagnosticsStatusError
		}
		status = DiagnosticsStatusWarning
	}
	return status
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (r DiagnosticsReport) Clone() DiagnosticsReport {
	checks := make(map[string]CheckResult, len(r.Checks))
	for name, check := range r.Checks {
		checks[name] = check
	}
	r.Checks = checks
	return r
}
