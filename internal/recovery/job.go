package recovery

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/northstack/katalyst/internal/wfstate"
	katerrors "github.com/northstack/katalyst/pkg/errors"
	"github.com/northstack/katalyst/pkg/logger"
)

// Strategy is the recovery action chosen for one failed workflow (§4.13).
type Strategy string

const (
	StrategyResumeFromCheckpoint Strategy = "RESUME_FROM_CHECKPOINT"
	StrategyRetry                Strategy = "RETRY"
	StrategyManualIntervention   Strategy = "MANUAL_INTERVENTION"
)

var transientSubstrings = []string{"timeout", "connection", "temporarily unavailable", "try again"}

func isTransient(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	for _, sub := range transientSubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

func classify(record *wfstate.Record, retryCount, maxRetries int) Strategy {
	if retryCount >= maxRetries {
		return StrategyManualIntervention
	}
	if record.FailedAtOperation != nil && *record.FailedAtOperation > 0 {
		return StrategyResumeFromCheckpoint
	}
	if isTransient(record.ErrorMessage) {
		return StrategyRetry
	}
	return StrategyManualIntervention
}

// Recoverer performs the concrete work for a chosen strategy. Callers of
// this package supply an implementation that knows how to re-enter their
// own composed workflows (internal/workflow) from a checkpoint, or how to
// safely re-run a transient failure from scratch. MANUAL_INTERVENTION never
// calls Recoverer: it is recorded, not acted on.
type Recoverer interface {
	ResumeFromCheckpoint(ctx context.Context, record *wfstate.Record) error
	Retry(ctx context.Context, record *wfstate.Record) error
}

// WorkflowItemResult records the outcome for one workflow processed during
// a scan.
type WorkflowItemResult struct {
	WorkflowID string
	Strategy   Strategy
	Succeeded  bool
	Error      string
}

// ScanResult aggregates one scanAndRecover() call (§4.13).
type ScanResult struct {
	ScanNumber  int64
	FailedFound int
	Recovered   int
	Failed      int
	DurationMs  int64
	Errors      []string
	Items       []WorkflowItemResult
}

// Job implements scanAndRecover over C2's failed-workflow query.
type Job struct {
	WFState        wfstate.Store
	Recoverer      Recoverer
	RetryCounts    RetryCountStore
	Logger         *logger.Logger
	BatchSize      int
	InterStepDelay time.Duration
	MaxRetries     int

	scanNumber int64
	limiter    *rate.Limiter
}

// NewJob builds a recovery job with the given configuration, defaulting
// batch size to 10 and inter-step delay to 100ms when unset, matching §4.13.
// Inter-batch pacing is a token-bucket limiter ticking once per
// interStepDelay rather than a bare sleep loop, so a burst of scans started
// close together still can't hammer downstream faster than the configured
// rate.
func NewJob(wfState wfstate.Store, recoverer Recoverer, retryCounts RetryCountStore, log *logger.Logger, batchSize int, interStepDelay time.Duration, maxRetries int) *Job {
	if batchSize <= 0 {
		batchSize = 10
	}
	if interStepDelay <= 0 {
		interStepDelay = 100 * time.Millisecond
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Job{
		WFState: wfState, Recoverer: recoverer, RetryCounts: retryCounts, Logger: log,
		BatchSize: batchSize, InterStepDelay: interStepDelay, MaxRetries: maxRetries,
		limiter: rate.NewLimiter(rate.Every(interStepDelay), 1),
	}
}

// ScanAndRecover runs one recovery pass over every FAILED/FAILED_UNDO
// workflow, processing them in configured-size batches with a paced delay
// between batches, classifying and attempting recovery for each.
func (j *Job) ScanAndRecover(ctx context.Context) *ScanResult {
	start := time.Now()
	j.scanNumber++
	incScans()

	failed := j.WFState.GetFailedWorkflows(ctx)
	addFailedFound(int64(len(failed)))

	result := &ScanResult{ScanNumber: j.scanNumber, FailedFound: len(failed)}

	for i, record := range failed {
		if i > 0 && i%j.BatchSize == 0 {
			j.sleep(ctx)
		}
		item := j.recoverOne(ctx, record)
		result.Items = append(result.Items, item)
		if item.Succeeded {
			result.Recovered++
		} else if item.Strategy != StrategyManualIntervention {
			result.Failed++
			result.Errors = append(result.Errors, item.WorkflowID+": "+item.Error)
		}
	}

	if size, err := j.RetryCounts.Size(ctx); err == nil {
		setWorkflowsInRetry(size)
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

func (j *Job) recoverOne(ctx context.Context, record *wfstate.Record) WorkflowItemResult {
	retryCount, _ := j.RetryCounts.Get(ctx, record.WorkflowID)
	strategy := classify(record, retryCount, j.MaxRetries)

	item := WorkflowItemResult{WorkflowID: record.WorkflowID, Strategy: strategy}

	switch strategy {
	case StrategyManualIntervention:
		j.Logger.Warn().Str("workflow_id", record.WorkflowID).Str("error", record.ErrorMessage).
			Msg("workflow requires manual intervention")
		return item

	case StrategyResumeFromCheckpoint:
		err := j.Recoverer.ResumeFromCheckpoint(ctx, record)
		return j.finishAttempt(ctx, item, err)

	case StrategyRetry:
		err := j.Recoverer.Retry(ctx, record)
		return j.finishAttempt(ctx, item, err)
	}

	return item
}

func (j *Job) finishAttempt(ctx context.Context, item WorkflowItemResult, err error) WorkflowItemResult {
	if err == nil {
		item.Succeeded = true
		incSuccessful()
		if clearErr := j.RetryCounts.Clear(ctx, item.WorkflowID); clearErr != nil {
			j.Logger.Warn().Err(clearErr).Str("workflow_id", item.WorkflowID).Msg("failed to clear retry count")
		}
		return item
	}

	wrapped := katerrors.RecoveryError(item.WorkflowID, err)
	item.Error = wrapped.Error()
	j.Logger.Warn().Err(wrapped).Str("workflow_id", item.WorkflowID).Str("strategy", string(item.Strategy)).
		Msg("recovery attempt failed")
	incFailedRecoveries()
	if _, incErr := j.RetryCounts.Increment(ctx, item.WorkflowID); incErr != nil {
		j.Logger.Warn().Err(incErr).Str("workflow_id", item.WorkflowID).Msg("failed to increment retry count")
	}
	return item
}

// sleep paces batch-to-batch progress through the limiter rather than a bare
// timer: Wait blocks until a token is available (or ctx is done), which
// collapses to the same once-per-InterStepDelay cadence a sleep loop gives
// but without letting a delayed scan "save up" bursts of allowance.
func (j *Job) sleep(ctx context.Context) {
	if err := j.limiter.Wait(ctx); err != nil {
		j.Logger.Warn().Err(err).Msg("recovery batch pacing wait aborted")
	}
}
