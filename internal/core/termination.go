package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orrn/printq/internal/db"
)

const (
	defaultTerminationReason = "terminated by administrator"
	notifySavepoint          = "termination_notify"
)

type TerminateRequest struct {
	JobID  string
	Actor  string
	Reason string
}

type TerminationResult struct {
	JobID              string    `json:"job_id"`
	PreviousStatus     JobStatus `json:"previous_status"`
	PreviousPosition   int       `json:"previous_position,omitempty"`
	PaymentStatus      string    `json:"payment_status"`
	RefundID           string    `json:"refund_id,omitempty"`
	RefundCents        int64     `json:"refund_cents"`
	RefundStatus       string    `json:"refund_status,omitempty"`
	NotificationQueued bool      `json:"notification_queued"`
}

type TerminatorConfig struct {
	LocalMethods []string
}

// Terminator cancels a job on an administrator's behalf, refunding it when
// paid. Either every record reflects the termination or none does.
type Terminator struct {
	db           *sql.DB
	gateway      PaymentGateway
	events       EventSink
	metrics      Metrics
	logger       *slog.Logger
	localMethods map[string]bool
	clock        func() time.Time

	// test seams
	notify       func(ctx context.Context, q db.Querier, n *db.Notification) error
	beforeCommit func(ctx context.Context, tx *sql.Tx) error
}

func NewTerminator(conn *sql.DB, cfg TerminatorConfig, gateway PaymentGateway, events EventSink, metrics Metrics, logger *slog.Logger) *Terminator {
	if events == nil {
		events = nopSink{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	local := make(map[string]bool, len(cfg.LocalMethods))
	for _, m := range cfg.LocalMethods {
		local[m] = true
	}
	return &Terminator{
		db:           conn,
		gateway:      gateway,
		events:       events,
		metrics:      metrics,
		logger:       logger.With("component", "terminator"),
		localMethods: local,
		clock:        func() time.Time { return time.Now().UTC() },
		notify:       db.Notifications.CreateNotification,
	}
}

func terminable(status JobStatus) bool {
	switch status.Normalize() {
	case JobStatusPending, JobStatusQueued, JobStatusInProgress:
		return true
	}
	return false
}

type refundOutcome struct {
	refundID      string
	cents         int64
	status        string
	paymentStatus string
	viaGateway    bool
}

// Terminate refunds (if paid) and then, in one transaction, marks the job
// terminated, removes its queue entry, deletes its revenue entry and writes
// the audit record. A gateway refund failure leaves everything unchanged.
func (t *Terminator) Terminate(ctx context.Context, req TerminateRequest) (*TerminationResult, error) {
	const op = "terminate"
	jobID := req.JobID
	if req.Actor == "" {
		req.Actor = "admin"
	}
	if req.Reason == "" {
		req.Reason = defaultTerminationReason
	}

	job, err := db.Jobs.GetJobByID(ctx, t.db, jobID)
	if err != nil {
		return nil, asQueueError(op, jobID, notFoundOr(op, jobID, "job not found", err))
	}

	if !terminable(JobStatus(job.Status)) {
		return nil, newError(KindInvalidStatus, op, jobID, "cannot terminate job in status "+job.Status, nil)
	}
	if job.RefundStatus == RefundStatusPending {
		return nil, newError(KindInvalidStatus, op, jobID, "termination already in progress", nil)
	}

	if err := t.claim(ctx, jobID); err != nil {
		return nil, err
	}

	// Snapshot under the claim so the refund matches the payment on record.
	job, err = db.Jobs.GetJobByID(ctx, t.db, jobID)
	if err != nil {
		t.release(ctx, jobID)
		return nil, asQueueError(op, jobID, notFoundOr(op, jobID, "job not found", err))
	}
	prevStatus := JobStatus(job.Status)

	prevPosition := 0
	if entry, err := db.Queue.GetLiveEntryByJob(ctx, t.db, jobID); err == nil {
		prevPosition = entry.Position
	} else if !errors.Is(err, sql.ErrNoRows) {
		t.release(ctx, jobID)
		return nil, newError(KindInternal, op, jobID, "", err)
	}

	refund, err := t.refund(ctx, job, req.Reason)
	if err != nil {
		t.release(ctx, jobID)
		t.metrics.IncRefund("failed")
		t.logger.Warn("refund failed, job left unchanged", "job_id", jobID, "error", err)
		return nil, err
	}

	result := &TerminationResult{
		JobID:            jobID,
		PreviousStatus:   prevStatus,
		PreviousPosition: prevPosition,
		PaymentStatus:    refund.paymentStatus,
		RefundID:         refund.refundID,
		RefundCents:      refund.cents,
		RefundStatus:     refund.status,
	}

	before := map[string]any{
		"status":         job.Status,
		"position":       prevPosition,
		"payment_status": job.PaymentStatus,
	}

	err = db.WithTx(ctx, t.db, func(tx *sql.Tx) error {
		current, err := db.Jobs.GetJobByID(ctx, tx, jobID)
		if err != nil {
			return fmt.Errorf("failed to reload job: %w", err)
		}
		if !terminable(JobStatus(current.Status)) {
			return fmt.Errorf("job moved to status %s during termination", current.Status)
		}
		if current.RefundStatus != RefundStatusPending {
			return fmt.Errorf("termination claim on job was lost")
		}

		now := t.clock()
		current.ErrorMessage = req.Reason
		current.CompletedAt = &now
		current.PaymentStatus = refund.paymentStatus
		current.RefundID = refund.refundID
		current.RefundCents = refund.cents
		current.RefundStatus = refund.status
		if err := db.Jobs.TerminateJob(ctx, tx, current); err != nil {
			return err
		}

		if entry, err := db.Queue.GetLiveEntryByJob(ctx, tx, jobID); err == nil {
			if err := removeLiveEntry(ctx, tx, entry); err != nil {
				return err
			}
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if _, err := db.Revenue.DeleteByJob(ctx, tx, jobID); err != nil {
			return err
		}

		after := map[string]any{
			"status":         JobStatusTerminated,
			"payment_status": refund.paymentStatus,
			"refund_id":      refund.refundID,
			"refund_cents":   refund.cents,
			"refund_status":  refund.status,
			"reason":         req.Reason,
		}
		audit := &db.AuditEntry{
			Actor:      req.Actor,
			Action:     "job.terminate",
			TargetType: "print_job",
			TargetID:   jobID,
			BeforeJSON: mustJSON(before),
			AfterJSON:  mustJSON(after),
			Outcome:    refund.describe(),
			CreatedAt:  now,
		}
		if err := db.Audit.CreateEntry(ctx, tx, audit); err != nil {
			return err
		}

		result.NotificationQueued = t.queueNotification(ctx, tx, current, req.Reason, refund)

		if t.beforeCommit != nil {
			return t.beforeCommit(ctx, tx)
		}
		return nil
	})
	if err != nil {
		// A gateway refund keeps the claim so the job cannot be refunded
		// again before the reconciliation is resolved.
		if refund.viaGateway {
			t.reconcile(ctx, job, refund, err)
		} else {
			t.release(ctx, jobID)
		}
		t.metrics.IncRefund("aborted")
		t.logger.Error("termination rolled back", "job_id", jobID, "error", err)
		return nil, newError(KindTransactionAborted, op, jobID, "termination rolled back", err)
	}

	t.metrics.IncRefund(refund.metricOutcome())
	t.logger.Info("job terminated",
		"job_id", jobID,
		"actor", req.Actor,
		"previous_status", prevStatus,
		"position", prevPosition,
		"refund_status", refund.status,
		"refund_cents", refund.cents)

	t.events.SendJobEvent(JobEvent{
		Event:     EventJobTerminated,
		JobID:     jobID,
		UserID:    job.UserID,
		Status:    JobStatusTerminated,
		Error:     req.Reason,
		Timestamp: t.clock(),
	})

	return result, nil
}

// claim reserves the job so that only one termination reaches the refund
// step. A job already finished or claimed is rejected as InvalidStatus.
func (t *Terminator) claim(ctx context.Context, jobID string) error {
	const op = "terminate"
	var ok bool
	err := db.WithTx(ctx, t.db, func(tx *sql.Tx) error {
		var err error
		ok, err = db.Jobs.ClaimTermination(ctx, tx, jobID)
		return err
	})
	if err != nil {
		return newError(KindInternal, op, jobID, "", err)
	}
	if ok {
		return nil
	}

	current, err := db.Jobs.GetJobByID(ctx, t.db, jobID)
	if err != nil {
		return asQueueError(op, jobID, notFoundOr(op, jobID, "job not found", err))
	}
	if terminable(JobStatus(current.Status)) {
		return newError(KindInvalidStatus, op, jobID, "termination already in progress", nil)
	}
	return newError(KindInvalidStatus, op, jobID, "cannot terminate job in status "+current.Status, nil)
}

func (t *Terminator) release(ctx context.Context, jobID string) {
	if err := db.Jobs.ReleaseTermination(context.WithoutCancel(ctx), t.db, jobID); err != nil {
		t.logger.Error("failed to release termination claim", "job_id", jobID, "error", err)
	}
}

// refund issues the refund for a paid job before any local write. Gateway
// methods are refunded synchronously; local methods complete immediately.
func (t *Terminator) refund(ctx context.Context, job *db.PrintJob, reason string) (*refundOutcome, error) {
	if PaymentStatus(job.PaymentStatus) != PaymentPaid {
		return &refundOutcome{paymentStatus: job.PaymentStatus}, nil
	}

	if t.localMethods[job.PaymentMethod] {
		return &refundOutcome{
			cents:         job.CostCents,
			status:        RefundStatusCompleted,
			paymentStatus: string(PaymentRefunded),
		}, nil
	}

	if t.gateway == nil {
		return nil, newError(KindRefundFailed, "refund", job.ID, "no payment gateway configured", nil)
	}

	res, err := t.gateway.Refund(ctx, RefundRequest{
		JobID:         job.ID,
		TransactionID: job.TransactionID,
		AmountCents:   job.CostCents,
		Reason:        reason,
	})
	if err != nil {
		return nil, newError(KindRefundFailed, "refund", job.ID, "payment gateway refund failed", err)
	}

	out := &refundOutcome{
		refundID:      res.RefundID,
		cents:         job.CostCents,
		status:        RefundStatusInitiated,
		paymentStatus: string(PaymentRefundInitiated),
		viaGateway:    true,
	}
	if res.Status == RefundStatusCompleted {
		out.status = RefundStatusCompleted
		out.paymentStatus = string(PaymentRefunded)
	}
	return out, nil
}

func (r *refundOutcome) describe() string {
	switch {
	case r.status == "":
		return "terminated; no refund due"
	case r.viaGateway:
		return fmt.Sprintf("terminated; gateway refund %s %s (%d cents)", r.refundID, r.status, r.cents)
	default:
		return fmt.Sprintf("terminated; local refund %s (%d cents)", r.status, r.cents)
	}
}

func (r *refundOutcome) metricOutcome() string {
	switch {
	case r.status == "":
		return "none"
	case r.viaGateway:
		return "gateway"
	default:
		return "local"
	}
}

// queueNotification inserts the user notice inside a savepoint. A failure is
// rolled back to the savepoint and logged; it never aborts the termination.
func (t *Terminator) queueNotification(ctx context.Context, tx *sql.Tx, job *db.PrintJob, reason string, refund *refundOutcome) bool {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+notifySavepoint); err != nil {
		t.logger.Warn("failed to open notification savepoint", "job_id", job.ID, "error", err)
		return false
	}

	msg := fmt.Sprintf("Your print job %q was cancelled: %s.", job.FileName, reason)
	if refund.status != "" {
		msg += fmt.Sprintf(" A refund of %s is %s.", formatCents(refund.cents), refund.status)
	}
	n := &db.Notification{
		UserID:  job.UserID,
		Message: msg,
		MetadataJSON: mustJSON(map[string]any{
			"job_id":        job.ID,
			"event":         EventJobTerminated,
			"refund_cents":  refund.cents,
			"refund_status": refund.status,
		}),
	}

	if err := t.notify(ctx, tx, n); err != nil {
		t.logger.Warn("failed to queue termination notification", "job_id", job.ID, "error", err)
		if _, rerr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+notifySavepoint); rerr != nil {
			t.logger.Error("failed to roll back notification savepoint", "job_id", job.ID, "error", rerr)
		}
		if _, rerr := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+notifySavepoint); rerr != nil {
			t.logger.Error("failed to release notification savepoint", "job_id", job.ID, "error", rerr)
		}
		return false
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+notifySavepoint); err != nil {
		t.logger.Warn("failed to release notification savepoint", "job_id", job.ID, "error", err)
		return false
	}
	return true
}

// reconcile records a gateway refund whose local commit failed.
func (t *Terminator) reconcile(ctx context.Context, job *db.PrintJob, refund *refundOutcome, cause error) {
	rec := &db.Reconciliation{
		JobID:       job.ID,
		RefundID:    refund.refundID,
		AmountCents: refund.cents,
		Reason:      cause.Error(),
	}
	if err := db.Reconciliations.CreateReconciliation(context.WithoutCancel(ctx), t.db, rec); err != nil {
		t.logger.Error("failed to record refund reconciliation",
			"job_id", job.ID, "refund_id", refund.refundID, "refund_cents", refund.cents, "error", err)
		return
	}
	t.logger.Error("refund issued but termination rolled back, manual reconciliation required",
		"job_id", job.ID, "refund_id", refund.refundID, "refund_cents", refund.cents, "reconciliation_id", rec.ID)
}

// removeLiveEntry deletes a live entry and closes the gap it leaves.
func removeLiveEntry(ctx context.Context, tx *sql.Tx, entry *db.QueueEntry) error {
	if err := db.Queue.DeleteEntry(ctx, tx, entry.ID); err != nil {
		return err
	}
	return db.Queue.CloseGap(ctx, tx, entry.Position)
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func formatCents(c int64) string {
	return fmt.Sprintf("%d.%02d", c/100, c%100)
}
