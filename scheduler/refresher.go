/*
refresher.go - Periodic holiday reload

PURPOSE:
  Keeps the manager's availability rules in step with the holiday table when
  several instances share one database. An instance that adds a holiday
  reloads at once; the others pick it up on their next tick.

DESIGN:
  - One background goroutine with a configurable interval
  - Loads immediately on Start, then on every tick
  - A failed load keeps the previous rules and is logged

USAGE:
  r := scheduler.NewHolidayRefresher(mgr, time.Minute, logger)
  r.Start()
  defer r.Stop()

SEE ALSO:
  - manager.go: LoadHolidays
*/
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HolidayRefresher reloads holidays into a Manager on a fixed interval.
type HolidayRefresher struct {
	mgr      *Manager
	interval time.Duration
	logger   *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewHolidayRefresher creates a refresher. A non-positive interval defaults to one minute.
func NewHolidayRefresher(mgr *Manager, interval time.Duration, logger *zap.Logger) *HolidayRefresher {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HolidayRefresher{mgr: mgr, interval: interval, logger: logger}
}

// Start begins the refresh loop. Calling Start twice is a no-op.
func (r *HolidayRefresher) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker != nil {
		return
	}
	r.ticker = time.NewTicker(r.interval)
	r.stop = make(chan struct{})
	r.wg.Add(1)
	go r.run()

	r.logger.Info("holiday refresher started", zap.Duration("interval", r.interval))
}

// Stop halts the loop and waits for an in-flight reload.
func (r *HolidayRefresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker == nil {
		return
	}
	r.ticker.Stop()
	close(r.stop)
	r.wg.Wait()
	r.ticker = nil
	r.logger.Info("holiday refresher stopped")
}

func (r *HolidayRefresher) run() {
	defer r.wg.Done()

	// Run immediately on start
	r.RunNow()

	for {
		select {
		case <-r.ticker.C:
			r.RunNow()
		case <-r.stop:
			return
		}
	}
}

// RunNow reloads holidays synchronously.
func (r *HolidayRefresher) RunNow() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	if err := r.mgr.LoadHolidays(ctx); err != nil {
		r.logger.Warn("holiday reload failed, keeping previous calendar", zap.Error(err))
	}
}
