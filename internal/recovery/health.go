package recovery

import (
	"context"

	"github.com/northstack/katalyst/internal/config"
	"github.com/northstack/katalyst/pkg/logger"
)

// Severity classifies a HealthCheckResult issue.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// HealthStatus is the overall verdict performHealthCheck returns.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// Issue is one concern raised by performHealthCheck.
type Issue struct {
	Severity Severity
	Message  string
}

// Metrics snapshots the cumulative counters the health monitor classifies
// against (§4.13).
type Metrics struct {
	TotalScans                int64
	TotalFailedWorkflowsFound int64
	TotalSuccessfulRecoveries int64
	TotalFailedRecoveries     int64
	SuccessRate               float64
	WorkflowsInRetry          int
}

// HealthCheckResult is performHealthCheck's return value.
type HealthCheckResult struct {
	Status  HealthStatus
	Issues  []Issue
	Metrics Metrics
}

// AlertCallback is invoked once per issue raised by a health check.
type AlertCallback func(issue Issue)

// Monitor implements performHealthCheck over a Scheduler's state and the
// package's cumulative Prometheus counters.
type Monitor struct {
	Scheduler   *Scheduler
	RetryCounts RetryCountStore
	Thresholds  config.HealthConfig
	Logger      *logger.Logger
	OnAlert     AlertCallback
}

// NewMonitor wires a health monitor around scheduler.
func NewMonitor(scheduler *Scheduler, retryCounts RetryCountStore, thresholds config.HealthConfig, log *logger.Logger, onAlert AlertCallback) *Monitor {
	return &Monitor{Scheduler: scheduler, RetryCounts: retryCounts, Thresholds: thresholds, Logger: log, OnAlert: onAlert}
}

// PerformHealthCheck evaluates the scheduler's running state, its
// consecutive-error streak, and the cumulative recovery counters against
// Thresholds, raising one issue per violated check (§4.13).
func (m *Monitor) PerformHealthCheck(ctx context.Context) HealthCheckResult {
	var issues []Issue

	if !m.Scheduler.IsRunning() {
		issues = append(issues, Issue{Severity: SeverityCritical, Message: "recovery scheduler is not running"})
	}

	consecutive := m.Scheduler.ConsecutiveErrors()
	if consecutive >= m.Scheduler.MaxConsecutiveErrs {
		issues = append(issues, Issue{Severity: SeverityCritical, Message: "scheduler has reached its consecutive-error limit"})
	} else if consecutive > 0 {
		issues = append(issues, Issue{Severity: SeverityWarning, Message: "scheduler has recent consecutive errors"})
	}

	scans, found, succeededI, failedI := snapshotCounters()
	succeeded, failed := float64(succeededI), float64(failedI)
	var successRate float64
	if succeeded+failed > 0 {
		successRate = succeeded / (succeeded + failed) * 100
	} else {
		successRate = 100
	}
	if successRate < m.Thresholds.MinSuccessRatePercent {
		issues = append(issues, Issue{Severity: SeverityWarning, Message: "recovery success rate below threshold"})
	}

	workflowsInRetry := 0
	if m.RetryCounts != nil {
		if n, err := m.RetryCounts.Size(ctx); err == nil {
			workflowsInRetry = n
		}
	}
	if workflowsInRetry > m.Thresholds.MaxWorkflowsInRetry {
		issues = append(issues, Issue{Severity: SeverityWarning, Message: "too many workflows stuck in retry"})
	}

	if int(failed) > m.Thresholds.MaxFailedRecoveriesThreshold {
		issues = append(issues, Issue{Severity: SeverityWarning, Message: "too many failed recoveries overall"})
	}

	status := HealthHealthy
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			status = HealthUnhealthy
			break
		}
		status = HealthDegraded
	}

	if m.OnAlert != nil {
		for _, issue := range issues {
			m.OnAlert(issue)
		}
	}

	return HealthCheckResult{
		Status: status,
		Issues: issues,
		Metrics: Metrics{
			TotalScans:                int64(scans),
			TotalFailedWorkflowsFound: int64(found),
			TotalSuccessfulRecoveries: int64(succeeded),
			TotalFailedRecoveries:     int64(failed),
			SuccessRate:               successRate,
			WorkflowsInRetry:          workflowsInRetry,
		},
	}
}
