package core

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Cleaner is satisfied by QueueManager.
type Cleaner interface {
	CleanupOrphanedItems(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*QueueStats, error)
}

// Janitor periodically removes orphaned queue entries and refreshes the queue
// depth gauge. Failures are logged and retried on the next tick.
type Janitor struct {
	queue    Cleaner
	interval time.Duration
	logger   *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func NewJanitor(queue Cleaner, interval time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		queue:    queue,
		interval: interval,
		logger:   logger.With("component", "janitor"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the cleanup loop. A non-positive interval disables it.
func (j *Janitor) Start() {
	if j.interval <= 0 {
		j.logger.Info("queue cleanup disabled")
		return
	}

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-j.stopCh:
				return
			case <-ticker.C:
				j.RunOnce(context.Background())
			}
		}
	}()
}

func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stopCh) })
	j.wg.Wait()
}

// RunOnce performs a single cleanup pass and returns the number of entries
// removed.
func (j *Janitor) RunOnce(ctx context.Context) int {
	removed, err := j.queue.CleanupOrphanedItems(ctx)
	if err != nil {
		j.logger.Error("queue cleanup failed", "error", err)
		return 0
	}
	if removed > 0 {
		j.logger.Info("queue cleanup removed orphaned entries", "count", removed)
	}

	if _, err := j.queue.Stats(ctx); err != nil {
		j.logger.Warn("failed to refresh queue stats", "error", err)
	}
	return removed
}
