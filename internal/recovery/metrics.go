// Package recovery implements the Recovery Job, Scheduler, and Health
// Monitor (C14): a background scan over failed workflows, a strategy
// classifier per workflow, and a health check built from the scan's
// cumulative counters.
package recovery

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// cumulativeCounters tracks the four running totals §4.13 names
// (totalScans, totalFailedWorkflowsFound, totalSuccessfulRecoveries,
// totalFailedRecoveries) as plain atomics so the health monitor can read
// them back directly, alongside mirroring each into a Prometheus counter
// for external scraping.
type cumulativeCounters struct {
	scans             int64
	failedFound       int64
	successful        int64
	failedRecoveries  int64
}

var counters cumulativeCounters

var (
	scansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "katalyst", Subsystem: "recovery", Name: "scans_total",
		Help: "Total number of recovery scans performed.",
	})
	failedWorkflowsFoundTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "katalyst", Subsystem: "recovery", Name: "failed_workflows_found_total",
		Help: "Total number of failed workflows observed across all scans.",
	})
	successfulRecoveriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "katalyst", Subsystem: "recovery", Name: "successful_recoveries_total",
		Help: "Total number of workflows successfully recovered.",
	})
	failedRecoveriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "katalyst", Subsystem: "recovery", Name: "failed_recoveries_total",
		Help: "Total number of workflow recovery attempts that failed.",
	})
	workflowsInRetryGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "katalyst", Subsystem: "recovery", Name: "workflows_in_retry",
		Help: "Current number of workflows tracked in the retry-count map.",
	})
)

func init() {
	prometheus.MustRegister(scansTotal, failedWorkflowsFoundTotal, successfulRecoveriesTotal, failedRecoveriesTotal, workflowsInRetryGauge)
}

func incScans() {
	atomic.AddInt64(&counters.scans, 1)
	scansTotal.Inc()
}

func addFailedFound(n int64) {
	atomic.AddInt64(&counters.failedFound, n)
	failedWorkflowsFoundTotal.Add(float64(n))
}

func incSuccessful() {
	atomic.AddInt64(&counters.successful, 1)
	successfulRecoveriesTotal.Inc()
}

func incFailedRecoveries() {
	atomic.AddInt64(&counters.failedRecoveries, 1)
	failedRecoveriesTotal.Inc()
}

func setWorkflowsInRetry(n int) {
	workflowsInRetryGauge.Set(float64(n))
}

func snapshotCounters() (scans, failedFound, successful, failedRecoveries int64) {
	return atomic.LoadInt64(&counters.scans), atomic.LoadInt64(&counters.failedFound),
		atomic.LoadInt64(&counters.successful), atomic.LoadInt64(&counters.failedRecoveries)
}
