package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// ChainClock reports the timestamp of the latest block.
type ChainClock interface {
	ChainTime(ctx context.Context) (time.Time, error)
}

// ExpiryWaiter blocks until chain time reaches a deadline. It sleeps through
// the bulk of the wait on a one-shot gocron job, then polls block timestamps
// since blocks lag the wall clock.
type ExpiryWaiter struct {
	scheduler    *gocron.Scheduler
	clock        ChainClock
	pollInterval time.Duration

	mu      sync.Mutex
	started bool
}

func NewExpiryWaiter(clock ChainClock, pollInterval time.Duration) *ExpiryWaiter {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &ExpiryWaiter{
		scheduler:    gocron.NewScheduler(time.UTC),
		clock:        clock,
		pollInterval: pollInterval,
	}
}

func (w *ExpiryWaiter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.scheduler.StartAsync()
	w.started = true
}

func (w *ExpiryWaiter) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.scheduler.Stop()
	w.started = false
}

// WaitUntil returns once the chain clock reads at or after deadline.
func (w *ExpiryWaiter) WaitUntil(ctx context.Context, deadline time.Time) error {
	now, err := w.clock.ChainTime(ctx)
	if err != nil {
		return fmt.Errorf("chain time: %w", err)
	}
	if !now.Before(deadline) {
		return nil
	}

	if err := w.sleep(ctx, deadline.Sub(now)); err != nil {
		return err
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		now, err := w.clock.ChainTime(ctx)
		if err != nil {
			return fmt.Errorf("chain time: %w", err)
		}
		if !now.Before(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *ExpiryWaiter) sleep(ctx context.Context, delay time.Duration) error {
	w.Start()

	wake := make(chan struct{})
	var once sync.Once
	job, err := w.scheduler.Every(delay).WaitForSchedule().LimitRunsTo(1).Do(func() {
		once.Do(func() { close(wake) })
	})
	if err != nil {
		return fmt.Errorf("schedule wake-up: %w", err)
	}
	defer w.scheduler.RemoveByReference(job)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
		return nil
	}
}
