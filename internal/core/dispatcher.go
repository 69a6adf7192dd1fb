package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrShutdownTimeout is returned when the dispatcher loop doesn't stop in time.
var ErrShutdownTimeout = errors.New("dispatcher shutdown timed out")

const (
	defaultPollInterval = 5 * time.Second
	defaultPrintTimeout = 2 * time.Minute
)

// JobQueue is the part of QueueManager the dispatcher drives.
type JobQueue interface {
	ClaimNext(ctx context.Context) (*ClaimedJob, error)
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID, reason string) error
	RecoverInterrupted(ctx context.Context) (int, error)
}

type DispatcherConfig struct {
	PollInterval   time.Duration
	PrintTimeout   time.Duration
	RecoverOnStart bool
}

type DispatcherStatus struct {
	Running   bool       `json:"running"`
	Busy      bool       `json:"busy"`
	Interval  string     `json:"interval"`
	LastCycle *time.Time `json:"last_cycle,omitempty"`
	Cycles    int64      `json:"cycles"`
	Printed   int64      `json:"printed"`
	Failed    int64      `json:"failed"`
}

// Dispatcher feeds the head of the queue to the printer driver one job at a
// time. Cycles never overlap: a tick that finds a cycle running is a no-op.
type Dispatcher struct {
	queue          JobQueue
	driver         PrinterDriver
	metrics        Metrics
	logger         *slog.Logger
	interval       time.Duration
	printTimeout   time.Duration
	recoverOnStart bool

	busy      atomic.Bool
	lastCycle atomic.Int64
	cycles    atomic.Int64
	printed   atomic.Int64
	failed    atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig, queue JobQueue, driver PrinterDriver, metrics Metrics, logger *slog.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PrintTimeout <= 0 {
		cfg.PrintTimeout = defaultPrintTimeout
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		queue:          queue,
		driver:         driver,
		metrics:        metrics,
		logger:         logger.With("component", "dispatcher"),
		interval:       cfg.PollInterval,
		printTimeout:   cfg.PrintTimeout,
		recoverOnStart: cfg.RecoverOnStart,
	}
}

// Start launches the timer loop, which recovers interrupted jobs when
// configured and then runs one cycle immediately. Starting a running
// dispatcher is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.running = true
	d.cancel = cancel
	d.wg.Add(1)

	d.logger.Info("dispatcher started", "interval", d.interval, "print_timeout", d.printTimeout)
	go d.loop(ctx)
}

// Stop cancels the loop and waits up to timeout for an in-flight cycle.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped")
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()

	if d.recoverOnStart {
		n, err := d.queue.RecoverInterrupted(ctx)
		if err != nil {
			d.logger.Error("failed to recover interrupted jobs", "error", err)
		} else if n > 0 {
			d.logger.Info("recovered interrupted jobs", "count", n)
		}
	}
	if ctx.Err() != nil {
		return
	}

	d.RunCycle(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunCycle(ctx)
		}
	}
}

// RunCycle claims and prints at most one job. It reports whether a job was
// claimed. Errors and panics are logged and never escape.
func (d *Dispatcher) RunCycle(ctx context.Context) (processed bool) {
	if !d.busy.CompareAndSwap(false, true) {
		d.logger.Debug("cycle skipped, dispatcher busy")
		return false
	}
	defer d.busy.Store(false)

	start := time.Now()
	var claimedJobID string
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatcher cycle panicked", "panic", r, "job_id", claimedJobID)
			d.metrics.ObserveCycle("panic", time.Since(start))
			if claimedJobID != "" {
				reason := fmt.Sprintf("dispatcher panic: %v", r)
				if err := d.queue.FailJob(context.WithoutCancel(ctx), claimedJobID, reason); err != nil {
					d.logger.Error("failed to record job failure", "job_id", claimedJobID, "error", err)
				}
			}
			processed = claimedJobID != ""
		}
	}()

	d.cycles.Add(1)
	d.lastCycle.Store(start.UnixNano())

	claimed, err := d.queue.ClaimNext(ctx)
	if err != nil {
		d.logger.Error("failed to claim next job", "error", err)
		d.metrics.ObserveCycle("error", time.Since(start))
		return false
	}
	if claimed == nil {
		d.metrics.ObserveCycle("idle", time.Since(start))
		return false
	}

	job := claimed.Job
	claimedJobID = job.ID
	logger := d.logger.With("job_id", job.ID, "entry_id", claimed.Entry.ID)

	printer, err := d.print(ctx, claimed)

	// Finish even if Stop cancelled ctx mid-print.
	finishCtx := context.WithoutCancel(ctx)

	if err != nil {
		logger.Warn("print failed", "error", err)
		if ferr := d.queue.FailJob(finishCtx, job.ID, err.Error()); ferr != nil {
			logger.Error("failed to record job failure", "error", ferr)
		}
		d.failed.Add(1)
		d.metrics.ObserveCycle("failed", time.Since(start))
		return true
	}

	if cerr := d.queue.CompleteJob(finishCtx, job.ID); cerr != nil {
		logger.Error("failed to record job completion", "error", cerr)
		d.metrics.ObserveCycle("error", time.Since(start))
		return true
	}

	logger.Info("job printed", "printer", printer, "duration", time.Since(start))
	d.printed.Add(1)
	d.metrics.ObserveCycle("printed", time.Since(start))
	return true
}

func (d *Dispatcher) print(ctx context.Context, claimed *ClaimedJob) (string, error) {
	if d.driver == nil {
		return "", newError(KindDeviceError, "print", claimed.Job.ID, "no printer driver configured", nil)
	}

	printCtx, cancel := context.WithTimeout(ctx, d.printTimeout)
	defer cancel()

	printer, err := d.driver.Print(printCtx, claimed.Job)
	if err != nil {
		if errors.Is(printCtx.Err(), context.DeadlineExceeded) {
			return printer, newError(KindDeviceError, "print", claimed.Job.ID,
				fmt.Sprintf("print timed out after %s", d.printTimeout), err)
		}
		return printer, newError(KindDeviceError, "print", claimed.Job.ID, "", err)
	}
	return printer, nil
}

func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Dispatcher) Status() DispatcherStatus {
	st := DispatcherStatus{
		Running:  d.IsRunning(),
		Busy:     d.busy.Load(),
		Interval: d.interval.String(),
		Cycles:   d.cycles.Load(),
		Printed:  d.printed.Load(),
		Failed:   d.failed.Load(),
	}
	if ns := d.lastCycle.Load(); ns > 0 {
		t := time.Unix(0, ns).UTC()
		st.LastCycle = &t
	}
	return st
}
