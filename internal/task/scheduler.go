// Package task hosts the background sync machinery: a scheduler delivering
// wake signals and the agent that drains the local submission queue on each
// wake.
package task

import (
	"context"
	"sync"
	"time"
)

const defaultWakeInterval = time.Minute

// RunnerFunc is the unit of work executed on every wake signal.
type RunnerFunc func(context.Context)

// Scheduler delivers wake signals to a runner, either on a fixed interval or
// when explicitly triggered. At most one run is active at a time; wakes
// arriving during a run coalesce into a single pending trigger.
type Scheduler struct {
	interval     time.Duration
	runner       RunnerFunc
	wakeRequests chan struct{}
	controlMutex sync.Mutex
	cancel       context.CancelFunc
	stopped      chan struct{}
}

// NewScheduler creates a scheduler invoking runner every interval. A
// non-positive interval falls back to one minute.
func NewScheduler(interval time.Duration, runner RunnerFunc) *Scheduler {
	if interval <= 0 {
		interval = defaultWakeInterval
	}
	return &Scheduler{
		interval:     interval,
		runner:       runner,
		wakeRequests: make(chan struct{}, 1),
	}
}

// Start launches the wake loop. Starting an already running scheduler is a
// no-op, as is starting a scheduler without a runner.
func (scheduler *Scheduler) Start(ctx context.Context) {
	if scheduler == nil || scheduler.runner == nil {
		return
	}

	scheduler.controlMutex.Lock()
	defer scheduler.controlMutex.Unlock()
	if scheduler.cancel != nil {
		return
	}

	loopContext, cancel := context.WithCancel(ctx)
	scheduler.cancel = cancel
	stopped := make(chan struct{})
	scheduler.stopped = stopped

	go scheduler.loop(loopContext, stopped)
}

// Trigger requests an immediate wake. The request is dropped when a wake is
// already pending.
func (scheduler *Scheduler) Trigger() {
	if scheduler == nil {
		return
	}
	select {
	case scheduler.wakeRequests <- struct{}{}:
	default:
	}
}

// Stop cancels the wake loop and waits for the current run, if any, to
// finish.
func (scheduler *Scheduler) Stop() {
	if scheduler == nil {
		return
	}

	scheduler.controlMutex.Lock()
	cancel := scheduler.cancel
	stopped := scheduler.stopped
	scheduler.cancel = nil
	scheduler.stopped = nil
	scheduler.controlMutex.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopped != nil {
		<-stopped
	}
}

func (scheduler *Scheduler) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(scheduler.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scheduler.wakeRequests:
			scheduler.runner(ctx)
		case <-ticker.C:
			scheduler.runner(ctx)
		}
	}
}
