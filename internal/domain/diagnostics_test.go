package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestDeriveStatus covers the OK / WARNING / ERROR aggregation rule.
func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]CheckResult
		want   DiagnosticsStatus
	}{
		{
			name: "empty set is ok",
			want: DiagnosticsStatusOK,
		},
		{
			name: "all passed",
			checks: map[string]CheckResult{
				"ram":  {Passed: true, Severity: SeverityInfo},
				"disk": {Passed: true, Severity: SeverityInfo},
			},
			want: DiagnosticsStatusOK,
		},
		{
			name: "failed warning only",
			checks: map[string]CheckResult{
				"ram":     {Passed: true, Severity: SeverityInfo},
				"backend": {Passed: false, Severity: SeverityWarning},
			},
			want: DiagnosticsStatusWarning,
		},
		{
			name: "failed error wins over warning",
			checks: map[string]CheckResult{
				"backend": {Passed: false, Severity: SeverityWarning},
				"models":  {Passed: false, Severity: SeverityError},
			},
			want: DiagnosticsStatusError,
		},
		{
			name: "failed info is a warning",
			checks: map[string]CheckResult{
				"disk": {Passed: false, Severity: SeverityInfo},
			},
			want: DiagnosticsStatusWarning,
		},
		{
			name: "passed check with warning severity stays ok",
			checks: map[string]CheckResult{
				"ram": {Passed: true, Severity: SeverityWarning},
			},
			want: DiagnosticsStatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.checks))
		})
	}
}

// TestReportCloneIsIndependent verifies clones do not share the check map.
func TestReportCloneIsIndependent(t *testing.T) {
	report := DiagnosticsReport{
		Status: DiagnosticsStatusOK,
		Checks: map[string]CheckResult{"ram": {Name: "ram", Passed: true}},
	}

	clone := report.Clone()
	clone.Checks["disk"] = CheckResult{Name: "disk"}

	assert.Len(t, report.Checks, 1)
	assert.Len(t, clone.Checks, 2)
}
