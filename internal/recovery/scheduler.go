package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/northstack/katalyst/pkg/logger"
)

// Scheduler runs Job.ScanAndRecover on a fixed interval, stopping itself
// after too many consecutive failed scans (§4.13). A "failed scan" here
// means a scan that found failed workflows, recovered none of them, and
// recorded at least one recovery error; any other scan resets the streak.
// A GetFailedWorkflows query error yields an empty scan and so counts as
// a clean one.
type Scheduler struct {
	Job                *Job
	Logger             *logger.Logger
	ScanInterval       time.Duration
	MaxConsecutiveErrs int

	mu                sync.Mutex
	running           bool
	cancel            context.CancelFunc
	consecutiveErrors int
	lastResult        *ScanResult
}

// NewScheduler wires a scheduler around job, defaulting maxConsecutiveErrs
// to 5 when unset.
func NewScheduler(job *Job, log *logger.Logger, scanInterval time.Duration, maxConsecutiveErrs int) *Scheduler {
	if maxConsecutiveErrs <= 0 {
		maxConsecutiveErrs = 5
	}
	return &Scheduler{Job: job, Logger: log, ScanInterval: scanInterval, MaxConsecutiveErrs: maxConsecutiveErrs}
}

// Start begins the scan loop. Calling Start while already running is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.consecutiveErrors = 0
	s.mu.Unlock()

	go s.loop(loopCtx)
}

// Stop cancels the scan loop and resets the consecutive-error counter.
// Stopping a scheduler that isn't running is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.running = false
	s.consecutiveErrors = 0
}

// IsRunning reports whether the scan loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ConsecutiveErrors reports the current consecutive-failure streak.
func (s *Scheduler) ConsecutiveErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveErrors
}

// LastResult returns the most recent scan result, or nil if none has run.
func (s *Scheduler) LastResult() *ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

// ManualScan runs one scan synchronously without disturbing the loop's
// interval timer or error counter.
func (s *Scheduler) ManualScan(ctx context.Context) *ScanResult {
	return s.Job.ScanAndRecover(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := s.Job.ScanAndRecover(ctx)

			s.mu.Lock()
			s.lastResult = result
			if len(result.Errors) > 0 && result.Recovered == 0 && result.FailedFound > 0 {
				s.consecutiveErrors++
			} else {
				s.consecutiveErrors = 0
			}
			tooManyErrors := s.consecutiveErrors >= s.MaxConsecutiveErrs
			s.mu.Unlock()

			if tooManyErrors {
				s.Logger.Error().Int("consecutive_errors", s.consecutiveErrors).
					Msg("recovery scheduler stopping after too many consecutive failed scans")
				s.Stop()
				return
			}
		}
	}
}
