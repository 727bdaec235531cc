package experiment

import (
	"context"
	"time"
)

// Scheduler periodically sweeps running experiments through the manager's
// completion gates, so experiments that stopped receiving traffic still
// complete once their duration gate opens.
type Scheduler struct {
	manager  *Manager
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler constructs a completion sweeper. A non-positive interval
// defaults to five minutes.
func NewScheduler(manager *Manager, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{manager: manager, interval: interval}
}

// Start launches the sweep loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.manager == nil || s.cancel != nil {
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
			s.manager.CheckCompletions(ctx)
		}
	}
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}
