package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orrn/printq/internal/db"
)

const (
	defaultQueueListLimit = 100
	enqueueAttempts       = 5
)

// QueueManager owns the ordered queue. Live entries (pending, in_progress)
// always hold positions 1..N; every removal closes its gap in the same
// transaction.
type QueueManager struct {
	db      *sql.DB
	events  EventSink
	metrics Metrics
	logger  *slog.Logger
	maxList int
	clock   func() time.Time
}

func NewQueueManager(conn *sql.DB, events EventSink, metrics Metrics, logger *slog.Logger) *QueueManager {
	if events == nil {
		events = nopSink{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueManager{
		db:      conn,
		events:  events,
		metrics: metrics,
		logger:  logger.With("component", "queue"),
		maxList: defaultQueueListLimit,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// SetMaxList bounds GetCurrentQueue results.
func (m *QueueManager) SetMaxList(n int) {
	if n > 0 {
		m.maxList = n
	}
}

// Enqueue appends the job at the tail of the queue and marks it queued.
func (m *QueueManager) Enqueue(ctx context.Context, jobID string) (*db.QueueEntry, error) {
	const op = "enqueue"

	var lastErr error
	for attempt := 1; attempt <= enqueueAttempts; attempt++ {
		entry, job, err := m.enqueueOnce(ctx, jobID)
		if err == nil {
			m.metrics.IncEnqueue("ok")
			m.logger.Info("job enqueued", "job_id", jobID, "entry_id", entry.ID, "position", entry.Position)
			m.events.SendJobEvent(JobEvent{
				Event:     EventJobQueued,
				JobID:     jobID,
				UserID:    job.UserID,
				Status:    JobStatusQueued,
				Timestamp: m.clock(),
			})
			return entry, nil
		}
		if !db.IsUniqueViolation(err) {
			m.metrics.IncEnqueue(KindOf(err).String())
			return nil, asQueueError(op, jobID, err)
		}
		lastErr = err
		m.logger.Warn("enqueue position conflict, retrying", "job_id", jobID, "attempt", attempt)
	}

	m.metrics.IncEnqueue("conflict")
	return nil, newError(KindInternal, op, jobID, "position conflict persisted", lastErr)
}

func (m *QueueManager) enqueueOnce(ctx context.Context, jobID string) (*db.QueueEntry, *db.PrintJob, error) {
	const op = "enqueue"
	var entry *db.QueueEntry
	var job *db.PrintJob

	err := db.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		var err error
		job, err = db.Jobs.GetJobByID(ctx, tx, jobID)
		if err != nil {
			return notFoundOr(op, jobID, "job not found", err)
		}

		if live, err := db.Queue.GetLiveEntryByJob(ctx, tx, jobID); err == nil {
			return newError(KindAlreadyQueued, op, jobID, fmt.Sprintf("job already queued at position %d", live.Position), nil)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		switch JobStatus(job.Status).Normalize() {
		case JobStatusPending, JobStatusQueued, JobStatusFailed:
		default:
			return newError(KindInvalidState, op, jobID, "job cannot be queued in status "+job.Status, nil)
		}

		if err := db.Queue.DeleteDeadEntriesForJob(ctx, tx, jobID); err != nil {
			return err
		}

		max, err := db.Queue.MaxLivePosition(ctx, tx)
		if err != nil {
			return err
		}

		entry = &db.QueueEntry{JobID: jobID, Position: max + 1, EnqueuedAt: m.clock()}
		if err := db.Queue.CreateEntry(ctx, tx, entry); err != nil {
			return err
		}

		return db.Jobs.UpdateJobStatus(ctx, tx, jobID, string(JobStatusQueued))
	})
	if err != nil {
		return nil, nil, err
	}
	return entry, job, nil
}

// GetCurrentQueue returns live entries in position order.
func (m *QueueManager) GetCurrentQueue(ctx context.Context, limit int) ([]*db.QueueItem, error) {
	if limit <= 0 || limit > m.maxList {
		limit = m.maxList
	}
	items, err := db.Queue.ListLive(ctx, m.db, limit)
	if err != nil {
		return nil, newError(KindInternal, "get_queue", "", "", err)
	}
	return items, nil
}

// GetNextJob returns the pending head of the queue, or nil if there is none.
func (m *QueueManager) GetNextJob(ctx context.Context) (*db.QueueItem, error) {
	item, err := db.Queue.GetHead(ctx, m.db)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, newError(KindInternal, "get_next", "", "", err)
	}
	return item, nil
}

// MarkInProgress moves a pending entry and its job to in_progress. Only one of
// several concurrent callers succeeds.
func (m *QueueManager) MarkInProgress(ctx context.Context, entryID string) (*db.QueueEntry, error) {
	const op = "mark_in_progress"
	var entry *db.QueueEntry
	var job *db.PrintJob

	err := db.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		var err error
		entry, err = db.Queue.GetEntryByID(ctx, tx, entryID)
		if err != nil {
			return notFoundOr(op, "", "queue entry not found", err)
		}
		if EntryStatus(entry.Status) != EntryStatusPending {
			return newError(KindInvalidState, op, entry.JobID, "entry is "+entry.Status, nil)
		}

		now := m.clock()
		ok, err := db.Queue.MarkInProgress(ctx, tx, entryID, now)
		if err != nil {
			return err
		}
		if !ok {
			return newError(KindInvalidState, op, entry.JobID, "entry is no longer pending", nil)
		}
		if err := db.Jobs.MarkJobStarted(ctx, tx, entry.JobID, now); err != nil {
			return err
		}

		entry.Status = string(EntryStatusInProgress)
		entry.StartedAt = &now
		job, err = db.Jobs.GetJobByID(ctx, tx, entry.JobID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, asQueueError(op, "", err)
	}

	m.started(entry, job)
	return entry, nil
}

// ClaimNext atomically moves the pending head to in_progress and returns it
// with its job. Heads whose job is gone or already terminal are dropped. It
// returns nil when nothing is claimable.
func (m *QueueManager) ClaimNext(ctx context.Context) (*ClaimedJob, error) {
	const op = "claim_next"
	var claimed *ClaimedJob

	err := db.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		for {
			now := m.clock()
			entry, err := db.Queue.ClaimHead(ctx, tx, now)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil
				}
				return err
			}

			job, err := db.Jobs.GetJobByID(ctx, tx, entry.JobID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if job == nil || JobStatus(job.Status).IsTerminal() {
				m.logger.Warn("dropping orphaned queue head", "job_id", entry.JobID, "entry_id", entry.ID)
				if err := removeLiveEntry(ctx, tx, entry); err != nil {
					return err
				}
				continue
			}

			if err := db.Jobs.MarkJobStarted(ctx, tx, job.ID, now); err != nil {
				return err
			}
			job.Status = string(JobStatusInProgress)
			job.StartedAt = &now
			claimed = &ClaimedJob{Entry: entry, Job: job}
			return nil
		}
	})
	if err != nil {
		return nil, asQueueError(op, "", err)
	}
	if claimed != nil {
		m.started(claimed.Entry, claimed.Job)
	}
	return claimed, nil
}

func (m *QueueManager) started(entry *db.QueueEntry, job *db.PrintJob) {
	m.logger.Info("job started", "job_id", entry.JobID, "entry_id", entry.ID, "position", entry.Position)
	ev := JobEvent{
		Event:     EventJobStarted,
		JobID:     entry.JobID,
		Status:    JobStatusInProgress,
		Timestamp: m.clock(),
	}
	if job != nil {
		ev.UserID = job.UserID
	}
	m.events.SendJobEvent(ev)
}

// CompleteJob removes the job's live entry and marks the job completed.
func (m *QueueManager) CompleteJob(ctx context.Context, jobID string) error {
	return m.finish(ctx, "complete_job", jobID, JobStatusCompleted, "")
}

// FailJob removes the job's live entry and marks the job failed with reason.
func (m *QueueManager) FailJob(ctx context.Context, jobID, reason string) error {
	return m.finish(ctx, "fail_job", jobID, JobStatusFailed, reason)
}

func (m *QueueManager) finish(ctx context.Context, op, jobID string, status JobStatus, reason string) error {
	var job *db.PrintJob

	err := db.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		entry, err := db.Queue.GetLiveEntryByJob(ctx, tx, jobID)
		if err != nil {
			return notFoundOr(op, jobID, "job has no live queue entry", err)
		}

		if err := removeLiveEntry(ctx, tx, entry); err != nil {
			return err
		}

		job, err = db.Jobs.GetJobByID(ctx, tx, jobID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}

		now := m.clock()
		started := job.StartedAt
		if started == nil {
			started = entry.StartedAt
		}
		var processingMS int64
		if started != nil {
			processingMS = now.Sub(*started).Milliseconds()
		}
		return db.Jobs.FinishJob(ctx, tx, jobID, string(status), reason, now, processingMS)
	})
	if err != nil {
		return asQueueError(op, jobID, err)
	}

	event := EventJobCompleted
	if status == JobStatusFailed {
		event = EventJobFailed
		m.logger.Warn("job failed", "job_id", jobID, "error", reason)
	} else {
		m.logger.Info("job completed", "job_id", jobID)
	}
	ev := JobEvent{Event: event, JobID: jobID, Status: status, Error: reason, Timestamp: m.clock()}
	if job != nil {
		ev.UserID = job.UserID
	}
	m.events.SendJobEvent(ev)
	return nil
}

// CleanupOrphanedItems removes live entries whose job is missing or terminal
// and rewrites the remaining positions to 1..N.
func (m *QueueManager) CleanupOrphanedItems(ctx context.Context) (int, error) {
	var removed int

	err := db.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		orphans, err := db.Queue.ListOrphaned(ctx, tx)
		if err != nil {
			return err
		}
		for _, e := range orphans {
			if err := db.Queue.DeleteEntry(ctx, tx, e.ID); err != nil {
				return err
			}
			m.logger.Info("removed orphaned queue entry", "job_id", e.JobID, "entry_id", e.ID, "position", e.Position)
		}
		removed = len(orphans)
		return db.Queue.Compact(ctx, tx)
	})
	if err != nil {
		return 0, asQueueError("cleanup", "", err)
	}
	return removed, nil
}

// RecoverInterrupted returns in_progress entries left by an unclean shutdown
// to pending so they are printed again.
func (m *QueueManager) RecoverInterrupted(ctx context.Context) (int, error) {
	var recovered int

	err := db.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		entries, err := db.Queue.ListInProgress(ctx, tx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := db.Queue.ResetToPending(ctx, tx, e.ID); err != nil {
				return err
			}
			job, err := db.Jobs.GetJobByID(ctx, tx, e.JobID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					continue
				}
				return err
			}
			if JobStatus(job.Status).Normalize() == JobStatusInProgress {
				if err := db.Jobs.UpdateJobStatus(ctx, tx, job.ID, string(JobStatusQueued)); err != nil {
					return err
				}
			}
			m.logger.Info("recovered interrupted job", "job_id", e.JobID, "entry_id", e.ID, "position", e.Position)
		}
		recovered = len(entries)
		return nil
	})
	if err != nil {
		return 0, asQueueError("recover", "", err)
	}
	return recovered, nil
}

func (m *QueueManager) Stats(ctx context.Context) (*QueueStats, error) {
	entries, err := db.Queue.CountByStatus(ctx, m.db)
	if err != nil {
		return nil, newError(KindInternal, "stats", "", "", err)
	}
	jobs, err := db.Jobs.CountJobsByStatus(ctx, m.db)
	if err != nil {
		return nil, newError(KindInternal, "stats", "", "", err)
	}
	revenue, err := db.Revenue.Total(ctx, m.db)
	if err != nil {
		return nil, newError(KindInternal, "stats", "", "", err)
	}
	depth := entries[string(EntryStatusPending)] + entries[string(EntryStatusInProgress)]
	m.metrics.SetQueueDepth(depth)
	return &QueueStats{Entries: entries, Jobs: jobs, Depth: depth, RevenueCents: revenue}, nil
}

// Position returns the job's live queue position.
func (m *QueueManager) Position(ctx context.Context, jobID string) (int, error) {
	entry, err := db.Queue.GetLiveEntryByJob(ctx, m.db, jobID)
	if err != nil {
		return 0, notFoundOr("position", jobID, "job is not queued", err)
	}
	return entry.Position, nil
}

// Job loads a job record.
func (m *QueueManager) Job(ctx context.Context, jobID string) (*db.PrintJob, error) {
	job, err := db.Jobs.GetJobByID(ctx, m.db, jobID)
	if err != nil {
		return nil, notFoundOr("get_job", jobID, "job not found", err)
	}
	return job, nil
}

func notFoundOr(op, jobID, msg string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return newError(KindNotFound, op, jobID, msg, nil)
	}
	return err
}

// asQueueError passes QueueErrors through and wraps anything else as internal.
func asQueueError(op, jobID string, err error) error {
	var qe *QueueError
	if errors.As(err, &qe) {
		return err
	}
	return newError(KindInternal, op, jobID, "", err)
}
