package pattern

import (
	"context"
	"time"

	"github.com/pitchlab/pitchlab/pkg/logging"
)

// Scheduler runs mining passes on a cadence. Passes tolerate cancellation
// mid-run; pattern inserts are independent appends, so a cancelled pass
// leaves no partial multi-record state.
type Scheduler struct {
	miner        *Miner
	interval     time.Duration
	lookbackDays int
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewScheduler constructs a mining scheduler. A non-positive interval
// defaults to 24 hours; a non-positive lookback defaults to 30 days.
func NewScheduler(miner *Miner, interval time.Duration, lookbackDays int) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	return &Scheduler{miner: miner, interval: interval, lookbackDays: lookbackDays}
}

// Start launches the mining loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.miner == nil || s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.miner.AnalyzeConversationPatterns(ctx, s.lookbackDays, 0); err != nil {
				s.miner.deps.Logger.Error(logging.CategoryPattern, "mining_pass_failed", err.Error(), nil)
			}
		}
	}
}

// Stop cancels the mining loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}
