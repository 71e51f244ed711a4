package recovery

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northstack/katalyst/internal/wfstate"
	"github.com/northstack/katalyst/pkg/logger"
)

func recoveryTestLogger() *logger.Logger { return logger.New("error", "json", os.Stderr) }

func int64Ptr(v int64) *int64 { return &v }

type fakeWFState struct {
	failed []*wfstate.Record
}

func (f *fakeWFState) StartWorkflow(ctx context.Context, workflowID, workflowName string) error {
	return nil
}
func (f *fakeWFState) CommitWorkflow(ctx context.Context, workflowID string, totalOperations int) error {
	return nil
}
func (f *fakeWFState) FailWorkflow(ctx context.Context, workflowID string, failedAtOperation *int64, errMsg string) error {
	return nil
}
func (f *fakeWFState) MarkAsUndone(ctx context.Context, workflowID string, succeeded bool) error {
	return nil
}
func (f *fakeWFState) GetWorkflowState(ctx context.Context, workflowID string) *wfstate.Record {
	return nil
}
func (f *fakeWFState) GetFailedWorkflows(ctx context.Context) []*wfstate.Record { return f.failed }
func (f *fakeWFState) DeleteOldWorkflows(ctx context.Context, beforeMillis int64) int { return 0 }

type fakeRecoverer struct {
	resumeCalls []string
	retryCalls  []string
	resumeErr   error
	retryErr    error
}

func (r *fakeRecoverer) ResumeFromCheckpoint(ctx context.Context, record *wfstate.Record) error {
	r.resumeCalls = append(r.resumeCalls, record.WorkflowID)
	return r.resumeErr
}

func (r *fakeRecoverer) Retry(ctx context.Context, record *wfstate.Record) error {
	r.retryCalls = append(r.retryCalls, record.WorkflowID)
	return r.retryErr
}

func TestClassify_ResumeFromCheckpointWhenOperationsWereLogged(t *testing.T) {
	record := &wfstate.Record{WorkflowID: "w1", FailedAtOperation: int64Ptr(2), ErrorMessage: "unrelated"}
	assert.Equal(t, StrategyResumeFromCheckpoint, classify(record, 0, 3))
}

func TestClassify_RetryOnTransientErrorWithNoLoggedOperations(t *testing.T) {
	record := &wfstate.Record{WorkflowID: "w2", ErrorMessage: "connection reset"}
	assert.Equal(t, StrategyRetry, classify(record, 0, 3))
}

func TestClassify_ManualInterventionOnNonTransientError(t *testing.T) {
	record := &wfstate.Record{WorkflowID: "w3", ErrorMessage: "validation error: email is invalid"}
	assert.Equal(t, StrategyManualIntervention, classify(record, 0, 3))
}

func TestClassify_ManualInterventionOnceRetriesExhausted(t *testing.T) {
	record := &wfstate.Record{WorkflowID: "w4", ErrorMessage: "connection reset"}
	assert.Equal(t, StrategyManualIntervention, classify(record, 3, 3))
}

func TestJob_ScanAndRecoverClassifiesEachWorkflowIndependently(t *testing.T) {
	wf := &fakeWFState{failed: []*wfstate.Record{
		{WorkflowID: "w1", FailedAtOperation: int64Ptr(2)},
		{WorkflowID: "w2", ErrorMessage: "connection reset"},
		{WorkflowID: "w3", ErrorMessage: "validation error"},
	}}
	recoverer := &fakeRecoverer{}
	retryCounts := NewMemoryRetryCountStore()
	job := NewJob(wf, recoverer, retryCounts, recoveryTestLogger(), 10, time.Millisecond, 3)

	result := job.ScanAndRecover(context.Background())

	require.Len(t, result.Items, 3)
	assert.Equal(t, StrategyResumeFromCheckpoint, result.Items[0].Strategy)
	assert.Equal(t, StrategyRetry, result.Items[1].Strategy)
	assert.Equal(t, StrategyManualIntervention, result.Items[2].Strategy)

	assert.Equal(t, []string{"w1"}, recoverer.resumeCalls)
	assert.Equal(t, []string{"w2"}, recoverer.retryCalls)

	assert.Equal(t, 2, result.Recovered, "resume and retry both succeeded")
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 3, result.FailedFound)
}

func TestJob_FailedRecoveryIncrementsRetryCountAndIsReportedAsFailed(t *testing.T) {
	wf := &fakeWFState{failed: []*wfstate.Record{{WorkflowID: "w1", ErrorMessage: "connection reset"}}}
	recoverer := &fakeRecoverer{retryErr: assertError("upstream unavailable")}
	retryCounts := NewMemoryRetryCountStore()
	job := NewJob(wf, recoverer, retryCounts, recoveryTestLogger(), 10, time.Millisecond, 3)

	result := job.ScanAndRecover(context.Background())

	require.Len(t, result.Items, 1)
	assert.False(t, result.Items[0].Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Recovered)

	count, err := retryCounts.Get(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestJob_SuccessfulRecoveryClearsRetryCount(t *testing.T) {
	retryCounts := NewMemoryRetryCountStore()
	_, _ = retryCounts.Increment(context.Background(), "w1")
	_, _ = retryCounts.Increment(context.Background(), "w1")

	wf := &fakeWFState{failed: []*wfstate.Record{{WorkflowID: "w1", ErrorMessage: "connection reset"}}}
	recoverer := &fakeRecoverer{}
	job := NewJob(wf, recoverer, retryCounts, recoveryTestLogger(), 10, time.Millisecond, 3)

	job.ScanAndRecover(context.Background())

	count, err := retryCounts.Get(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestJob_IdempotentScanWithNoFailuresRecoversNothing(t *testing.T) {
	wf := &fakeWFState{}
	job := NewJob(wf, &fakeRecoverer{}, NewMemoryRetryCountStore(), recoveryTestLogger(), 10, time.Millisecond, 3)

	first := job.ScanAndRecover(context.Background())
	second := job.ScanAndRecover(context.Background())

	assert.Equal(t, 0, first.FailedFound)
	assert.Equal(t, 0, second.FailedFound)
	assert.Equal(t, int64(1), first.ScanNumber)
	assert.Equal(t, int64(2), second.ScanNumber)
}

func TestJob_DefaultsAppliedWhenUnset(t *testing.T) {
	job := NewJob(&fakeWFState{}, &fakeRecoverer{}, NewMemoryRetryCountStore(), recoveryTestLogger(), 0, 0, 0)
	assert.Equal(t, 10, job.BatchSize)
	assert.Equal(t, 100*time.Millisecond, job.InterStepDelay)
	assert.Equal(t, 3, job.MaxRetries)
}

type assertError string

func (e assertError) Error() string { return string(e) }
