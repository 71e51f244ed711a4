package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northstack/katalyst/internal/wfstate"
)

func TestScheduler_StartIsIdempotentAndStopResets(t *testing.T) {
	job := NewJob(&fakeWFState{}, &fakeRecoverer{}, NewMemoryRetryCountStore(), recoveryTestLogger(), 10, time.Millisecond, 3)
	s := NewScheduler(job, recoveryTestLogger(), time.Hour, 5)

	assert.False(t, s.IsRunning())
	s.Start(context.Background())
	assert.True(t, s.IsRunning())
	s.Start(context.Background())
	assert.True(t, s.IsRunning(), "starting an already-running scheduler is a no-op")

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
	assert.False(t, s.IsRunning(), "stopping an already-stopped scheduler is a no-op")
}

func TestScheduler_ManualScanDoesNotDisturbLoopState(t *testing.T) {
	job := NewJob(&fakeWFState{}, &fakeRecoverer{}, NewMemoryRetryCountStore(), recoveryTestLogger(), 10, time.Millisecond, 3)
	s := NewScheduler(job, recoveryTestLogger(), time.Hour, 5)

	result := s.ManualScan(context.Background())
	assert.NotNil(t, result)
	assert.False(t, s.IsRunning())
	assert.Equal(t, 0, s.ConsecutiveErrors())
}

func TestScheduler_StopsAfterTooManyConsecutiveFailedScans(t *testing.T) {
	wf := &fakeWFState{failed: []*wfstate.Record{{WorkflowID: "w1", ErrorMessage: "connection reset"}}}
	recoverer := &fakeRecoverer{retryErr: assertError("still down")}
	job := NewJob(wf, recoverer, NewMemoryRetryCountStore(), recoveryTestLogger(), 10, time.Millisecond, 100)
	s := NewScheduler(job, recoveryTestLogger(), 5*time.Millisecond, 2)

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return !s.IsRunning()
	}, time.Second, 5*time.Millisecond, "scheduler must stop itself once MaxConsecutiveErrs is reached")

	last := s.LastResult()
	require.NotNil(t, last)
	assert.NotEmpty(t, last.Errors)
}
