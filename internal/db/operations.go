package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type rowScanner interface {
	Scan(dest ...any) error
}

type JobOperations struct{}

func (o *JobOperations) CreateJob(ctx context.Context, q Querier, j *PrintJob) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if j.SubmittedAt.IsZero() {
		j.SubmittedAt = now
	}
	j.UpdatedAt = now

	_, err := q.ExecContext(ctx, InsertJob,
		j.ID, j.UserID, j.FileRef, j.FileName, j.Copies, j.Color, j.Duplex, j.PaperType,
		j.PageRange, j.Pages, j.CostCents, j.Status, j.PaymentStatus, j.PaymentMethod,
		j.TransactionID, j.RefundID, j.RefundCents, j.RefundStatus, j.ErrorMessage,
		j.ProcessingMS, j.SubmittedAt, j.StartedAt, j.CompletedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (o *JobOperations) GetJobByID(ctx context.Context, q Querier, id string) (*PrintJob, error) {
	j, err := scanJob(q.QueryRowContext(ctx, GetJobByID, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (o *JobOperations) ListJobs(ctx context.Context, q Querier, filter JobFilter) ([]*PrintJob, error) {
	var conditions []string
	var args []any

	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	query := ListJobsBase
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY submitted_at DESC LIMIT ? OFFSET ?"

	limit := 100
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	args = append(args, limit, filter.Offset)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*PrintJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (o *JobOperations) UpdateJobStatus(ctx context.Context, q Querier, id, status string) error {
	_, err := q.ExecContext(ctx, UpdateJobStatus, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

func (o *JobOperations) MarkJobStarted(ctx context.Context, q Querier, id string, startedAt time.Time) error {
	_, err := q.ExecContext(ctx, UpdateJobStarted, startedAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job started: %w", err)
	}
	return nil
}

// FinishJob records a terminal dispatch outcome (completed or failed).
func (o *JobOperations) FinishJob(ctx context.Context, q Querier, id, status, errorMsg string, completedAt time.Time, processingMS int64) error {
	_, err := q.ExecContext(ctx, UpdateJobFinished, status, errorMsg, completedAt, processingMS, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

func (o *JobOperations) TerminateJob(ctx context.Context, q Querier, j *PrintJob) error {
	_, err := q.ExecContext(ctx, UpdateJobTerminated,
		j.ErrorMessage, j.CompletedAt, j.PaymentStatus, j.RefundID, j.RefundCents, j.RefundStatus,
		time.Now().UTC(), j.ID)
	if err != nil {
		return fmt.Errorf("failed to terminate job: %w", err)
	}
	return nil
}

// ClaimTermination marks a live job as being terminated. It reports false
// when the job is not live or another termination already holds it.
func (o *JobOperations) ClaimTermination(ctx context.Context, q Querier, id string) (bool, error) {
	result, err := q.ExecContext(ctx, ClaimJobTermination, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to claim job for termination: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

func (o *JobOperations) ReleaseTermination(ctx context.Context, q Querier, id string) error {
	if _, err := q.ExecContext(ctx, ReleaseJobTermination, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to release termination claim: %w", err)
	}
	return nil
}

// RecordPayment marks an unpaid job as paid. It reports false when the job
// was not unpaid.
func (o *JobOperations) RecordPayment(ctx context.Context, q Querier, id, method, transactionID string) (bool, error) {
	result, err := q.ExecContext(ctx, UpdateJobPayment, "paid", method, transactionID, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to record payment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

func (o *JobOperations) CancelJob(ctx context.Context, q Querier, id string) (bool, error) {
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, UpdateJobCancelled, now, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

func (o *JobOperations) CountJobsByStatus(ctx context.Context, q Querier) (map[string]int, error) {
	return countByStatus(ctx, q, CountJobsByStatus, "jobs")
}

func (o *JobOperations) DeleteJob(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, DeleteJob, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func scanJob(row rowScanner) (*PrintJob, error) {
	j := &PrintJob{}
	err := row.Scan(
		&j.ID, &j.UserID, &j.FileRef, &j.FileName, &j.Copies, &j.Color, &j.Duplex,
		&j.PaperType, &j.PageRange, &j.Pages, &j.CostCents, &j.Status, &j.PaymentStatus,
		&j.PaymentMethod, &j.TransactionID, &j.RefundID, &j.RefundCents, &j.RefundStatus,
		&j.ErrorMessage, &j.ProcessingMS, &j.SubmittedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

type QueueOperations struct{}

func (o *QueueOperations) CreateEntry(ctx context.Context, q Querier, e *QueueEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now().UTC()
	}
	e.Status = "pending"

	_, err := q.ExecContext(ctx, InsertQueueEntry, e.ID, e.JobID, e.Position, e.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("failed to create queue entry: %w", err)
	}
	return nil
}

func (o *QueueOperations) GetEntryByID(ctx context.Context, q Querier, id string) (*QueueEntry, error) {
	e, err := scanEntry(q.QueryRowContext(ctx, GetQueueEntryByID, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return e, nil
}

func (o *QueueOperations) GetLiveEntryByJob(ctx context.Context, q Querier, jobID string) (*QueueEntry, error) {
	e, err := scanEntry(q.QueryRowContext(ctx, GetLiveEntryByJob, jobID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get live queue entry: %w", err)
	}
	return e, nil
}

func (o *QueueOperations) MaxLivePosition(ctx context.Context, q Querier) (int, error) {
	var max int
	if err := q.QueryRowContext(ctx, GetMaxLivePosition).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to get max queue position: %w", err)
	}
	return max, nil
}

func (o *QueueOperations) ListLive(ctx context.Context, q Querier, limit int) ([]*QueueItem, error) {
	rows, err := q.QueryContext(ctx, ListLiveQueue, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	items := make([]*QueueItem, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (o *QueueOperations) GetHead(ctx context.Context, q Querier) (*QueueItem, error) {
	it, err := scanItem(q.QueryRowContext(ctx, GetHeadPendingEntry))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get queue head: %w", err)
	}
	return it, nil
}

// MarkInProgress moves a pending entry to in_progress. It reports false when
// the entry was not pending.
func (o *QueueOperations) MarkInProgress(ctx context.Context, q Querier, id string, startedAt time.Time) (bool, error) {
	result, err := q.ExecContext(ctx, MarkEntryInProgress, startedAt, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark entry in progress: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

// ClaimHead atomically moves the position-1 pending entry to in_progress and
// returns it, or sql.ErrNoRows when nothing is claimable.
func (o *QueueOperations) ClaimHead(ctx context.Context, q Querier, startedAt time.Time) (*QueueEntry, error) {
	var id, jobID string
	err := q.QueryRowContext(ctx, ClaimHeadEntry, startedAt).Scan(&id, &jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to claim queue head: %w", err)
	}
	return o.GetEntryByID(ctx, q, id)
}

func (o *QueueOperations) DeleteEntry(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, DeleteQueueEntry, id)
	if err != nil {
		return fmt.Errorf("failed to delete queue entry: %w", err)
	}
	return nil
}

func (o *QueueOperations) DeleteDeadEntriesForJob(ctx context.Context, q Querier, jobID string) error {
	_, err := q.ExecContext(ctx, DeleteDeadEntriesForJob, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete stale queue entries: %w", err)
	}
	return nil
}

// CloseGap decrements every live entry positioned after removed.
func (o *QueueOperations) CloseGap(ctx context.Context, q Querier, removed int) error {
	if _, err := q.ExecContext(ctx, ShiftLiveAfterNegative, removed); err != nil {
		return fmt.Errorf("failed to shift queue positions: %w", err)
	}
	if _, err := q.ExecContext(ctx, FlipNegativePositions); err != nil {
		return fmt.Errorf("failed to restore queue positions: %w", err)
	}
	return nil
}

// Compact rewrites live positions to 1..N preserving their order.
func (o *QueueOperations) Compact(ctx context.Context, q Querier) error {
	rows, err := q.QueryContext(ctx, ListLiveEntryIDs)
	if err != nil {
		return fmt.Errorf("failed to list queue entries: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan queue entry id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to list queue entries: %w", err)
	}
	rows.Close()

	for i, id := range ids {
		if _, err := q.ExecContext(ctx, SetEntryPosition, -(i + 1), id); err != nil {
			return fmt.Errorf("failed to reposition queue entry: %w", err)
		}
	}
	if _, err := q.ExecContext(ctx, FlipNegativePositions); err != nil {
		return fmt.Errorf("failed to restore queue positions: %w", err)
	}
	return nil
}

func (o *QueueOperations) ListOrphaned(ctx context.Context, q Querier) ([]*QueueEntry, error) {
	return o.listEntries(ctx, q, ListOrphanedEntries)
}

func (o *QueueOperations) ListInProgress(ctx context.Context, q Querier) ([]*QueueEntry, error) {
	return o.listEntries(ctx, q, ListInProgressEntries)
}

func (o *QueueOperations) ResetToPending(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, ResetEntryPending, id)
	if err != nil {
		return fmt.Errorf("failed to reset queue entry: %w", err)
	}
	return nil
}

func (o *QueueOperations) CountByStatus(ctx context.Context, q Querier) (map[string]int, error) {
	return countByStatus(ctx, q, CountEntriesByStatus, "queue entries")
}

func (o *QueueOperations) listEntries(ctx context.Context, q Querier, query string) ([]*QueueEntry, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(row rowScanner) (*QueueEntry, error) {
	e := &QueueEntry{}
	if err := row.Scan(&e.ID, &e.JobID, &e.Position, &e.Status, &e.EnqueuedAt, &e.StartedAt); err != nil {
		return nil, err
	}
	return e, nil
}

func scanItem(row rowScanner) (*QueueItem, error) {
	it := &QueueItem{}
	err := row.Scan(
		&it.EntryID, &it.JobID, &it.Position, &it.EntryStatus, &it.EnqueuedAt, &it.StartedAt,
		&it.UserID, &it.FileName, &it.Copies, &it.Color, &it.Duplex, &it.CostCents, &it.JobStatus)
	if err != nil {
		return nil, err
	}
	return it, nil
}

type RevenueOperations struct{}

func (o *RevenueOperations) CreateEntry(ctx context.Context, q Querier, r *RevenueEntry) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, InsertRevenueEntry,
		r.ID, r.JobID, r.UserID, r.AmountCents, r.Method, r.TransactionID, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create revenue entry: %w", err)
	}
	return nil
}

func (o *RevenueOperations) GetByJob(ctx context.Context, q Querier, jobID string) (*RevenueEntry, error) {
	r := &RevenueEntry{}
	err := q.QueryRowContext(ctx, GetRevenueByJob, jobID).Scan(
		&r.ID, &r.JobID, &r.UserID, &r.AmountCents, &r.Method, &r.TransactionID, &r.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get revenue entry: %w", err)
	}
	return r, nil
}

func (o *RevenueOperations) DeleteByJob(ctx context.Context, q Querier, jobID string) (int64, error) {
	result, err := q.ExecContext(ctx, DeleteRevenueByJob, jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete revenue entry: %w", err)
	}
	return result.RowsAffected()
}

func (o *RevenueOperations) Total(ctx context.Context, q Querier) (int64, error) {
	var total int64
	if err := q.QueryRowContext(ctx, SumRevenue).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum revenue: %w", err)
	}
	return total, nil
}

type AuditOperations struct{}

func (o *AuditOperations) CreateEntry(ctx context.Context, q Querier, a *AuditEntry) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, InsertAuditEntry,
		a.ID, a.Actor, a.Action, a.TargetType, a.TargetID, a.BeforeJSON, a.AfterJSON, a.Outcome, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}
	return nil
}

func (o *AuditOperations) ListEntries(ctx context.Context, q Querier, filter AuditFilter, limit, offset int) ([]*AuditEntry, error) {
	var conditions []string
	var args []any

	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.TargetType != "" {
		conditions = append(conditions, "target_type = ?")
		args = append(args, filter.TargetType)
	}
	if filter.TargetID != "" {
		conditions = append(conditions, "target_id = ?")
		args = append(args, filter.TargetID)
	}

	query := ListAuditBase
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*AuditEntry, 0)
	for rows.Next() {
		a := &AuditEntry{}
		if err := rows.Scan(
			&a.ID, &a.Actor, &a.Action, &a.TargetType, &a.TargetID,
			&a.BeforeJSON, &a.AfterJSON, &a.Outcome, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, a)
	}
	return entries, rows.Err()
}

type NotificationOperations struct{}

func (o *NotificationOperations) CreateNotification(ctx context.Context, q Querier, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.MetadataJSON == "" {
		n.MetadataJSON = "{}"
	}
	n.Status = "pending"

	_, err := q.ExecContext(ctx, InsertNotification, n.ID, n.UserID, n.Message, n.MetadataJSON, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (o *NotificationOperations) ListPending(ctx context.Context, q Querier, limit int) ([]*Notification, error) {
	return o.list(ctx, q, ListPendingNotifications, limit)
}

func (o *NotificationOperations) ListByUser(ctx context.Context, q Querier, userID string, limit int) ([]*Notification, error) {
	return o.list(ctx, q, ListNotificationsByUser, userID, limit)
}

func (o *NotificationOperations) MarkSent(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, MarkNotificationSent, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

// MarkAttempt records a failed delivery; the notification becomes failed once
// maxAttempts is reached.
func (o *NotificationOperations) MarkAttempt(ctx context.Context, q Querier, id, lastError string, maxAttempts int) error {
	_, err := q.ExecContext(ctx, MarkNotificationAttempt, lastError, maxAttempts, id)
	if err != nil {
		return fmt.Errorf("failed to record notification attempt: %w", err)
	}
	return nil
}

func (o *NotificationOperations) list(ctx context.Context, q Querier, query string, args ...any) ([]*Notification, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n := &Notification{}
		if err := rows.Scan(
			&n.ID, &n.UserID, &n.Message, &n.MetadataJSON, &n.Status,
			&n.Attempts, &n.LastError, &n.CreatedAt, &n.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type ReconciliationOperations struct{}

func (o *ReconciliationOperations) CreateReconciliation(ctx context.Context, q Querier, r *Reconciliation) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, InsertReconciliation, r.ID, r.JobID, r.RefundID, r.AmountCents, r.Reason, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation: %w", err)
	}
	return nil
}

func (o *ReconciliationOperations) ListReconciliations(ctx context.Context, q Querier, limit, offset int) ([]*Reconciliation, error) {
	rows, err := q.QueryContext(ctx, ListReconciliations, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliations: %w", err)
	}
	defer rows.Close()

	out := make([]*Reconciliation, 0)
	for rows.Next() {
		r := &Reconciliation{}
		if err := rows.Scan(&r.ID, &r.JobID, &r.RefundID, &r.AmountCents, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type PrinterOperations struct{}

func (o *PrinterOperations) UpsertPrinter(ctx context.Context, q Querier, p *Printer) error {
	if _, err := q.ExecContext(ctx, UpsertPrinter, p.Name, p.Address, p.Port); err != nil {
		return fmt.Errorf("failed to upsert printer: %w", err)
	}
	return nil
}

func (o *PrinterOperations) GetPrinterByName(ctx context.Context, q Querier, name string) (*Printer, error) {
	p := &Printer{}
	err := q.QueryRowContext(ctx, GetPrinterByName, name).Scan(
		&p.ID, &p.Name, &p.Address, &p.Port, &p.Status, &p.LastSeenAt, &p.TotalJobs, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get printer: %w", err)
	}
	return p, nil
}

func (o *PrinterOperations) ListPrinters(ctx context.Context, q Querier) ([]*Printer, error) {
	rows, err := q.QueryContext(ctx, ListPrinters)
	if err != nil {
		return nil, fmt.Errorf("failed to list printers: %w", err)
	}
	defer rows.Close()

	printers := make([]*Printer, 0)
	for rows.Next() {
		p := &Printer{}
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Address, &p.Port, &p.Status, &p.LastSeenAt, &p.TotalJobs, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan printer: %w", err)
		}
		printers = append(printers, p)
	}
	return printers, rows.Err()
}

func (o *PrinterOperations) UpdatePrinterStatus(ctx context.Context, q Querier, name, status string, lastSeen *time.Time) error {
	_, err := q.ExecContext(ctx, UpdatePrinterStatus, status, lastSeen, name)
	if err != nil {
		return fmt.Errorf("failed to update printer status: %w", err)
	}
	return nil
}

func (o *PrinterOperations) IncrementJobCount(ctx context.Context, q Querier, name string) error {
	_, err := q.ExecContext(ctx, IncrementPrinterJobs, name)
	if err != nil {
		return fmt.Errorf("failed to increment printer job count: %w", err)
	}
	return nil
}

type SettingsOperations struct{}

func (o *SettingsOperations) GetSetting(ctx context.Context, q Querier, key string) (*Setting, error) {
	s := &Setting{}
	err := q.QueryRowContext(ctx, GetSetting, key).Scan(&s.Key, &s.Value, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return s, nil
}

func (o *SettingsOperations) SetSetting(ctx context.Context, q Querier, key, value string) error {
	_, err := q.ExecContext(ctx, SetSetting, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func countByStatus(ctx context.Context, q Querier, query, what string) (map[string]int, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", what, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan %s count: %w", what, err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

var (
	Jobs            = &JobOperations{}
	Queue           = &QueueOperations{}
	Revenue         = &RevenueOperations{}
	Audit           = &AuditOperations{}
	Notifications   = &NotificationOperations{}
	Reconciliations = &ReconciliationOperations{}
	Printers        = &PrinterOperations{}
	Settings        = &SettingsOperations{}
)
