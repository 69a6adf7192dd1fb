package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/orrn/printq/internal/db"
)

const maxCopies = 99

var paperTypes = map[string]bool{
	"A4":     true,
	"A3":     true,
	"Letter": true,
	"Legal":  true,
}

type PrintSettings struct {
	Copies    int    `json:"copies"`
	Color     bool   `json:"color"`
	Duplex    bool   `json:"duplex"`
	PaperType string `json:"paper_type"`
	PageRange string `json:"page_range"`
}

// Pricer computes the cost of a job in cents.
type Pricer interface {
	Price(settings PrintSettings, pages int) int64
}

// PriceTable prices per printed page, with an optional duplex discount.
type PriceTable struct {
	BWPerPageCents        int64
	ColorPerPageCents     int64
	DuplexDiscountPercent int
}

func (p PriceTable) Price(s PrintSettings, pages int) int64 {
	perPage := p.BWPerPageCents
	if s.Color {
		perPage = p.ColorPerPageCents
	}
	copies := s.Copies
	if copies < 1 {
		copies = 1
	}
	cost := perPage * int64(pages) * int64(copies)
	if s.Duplex && p.DuplexDiscountPercent > 0 {
		cost -= cost * int64(p.DuplexDiscountPercent) / 100
	}
	return cost
}

// RateLimiter gates submissions per user.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type SubmitRequest struct {
	UserID   string
	FileName string
	FileRef  string
	File     io.Reader
	Pages    int
	Settings PrintSettings
}

type SubmitResult struct {
	Job     *db.PrintJob   `json:"job"`
	Entry   *db.QueueEntry `json:"entry,omitempty"`
	Warning string         `json:"warning,omitempty"`
}

// Submission creates, pays for and cancels jobs on behalf of users.
type Submission struct {
	db      *sql.DB
	queue   *QueueManager
	store   FileStore
	pricer  Pricer
	limiter RateLimiter
	logger  *slog.Logger
}

func NewSubmission(conn *sql.DB, queue *QueueManager, store FileStore, pricer Pricer, limiter RateLimiter, logger *slog.Logger) *Submission {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submission{
		db:      conn,
		queue:   queue,
		store:   store,
		pricer:  pricer,
		limiter: limiter,
		logger:  logger.With("component", "submission"),
	}
}

// Submit validates and prices a job, stores its file and appends it to the
// queue. If enqueueing fails the job is kept pending and the result carries a
// warning.
func (s *Submission) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	const op = "submit"

	if err := validateSubmit(&req); err != nil {
		return nil, err
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, "submit:"+req.UserID)
		if err != nil {
			s.logger.Warn("rate limiter unavailable, allowing submission", "user_id", req.UserID, "error", err)
		} else if !allowed {
			return nil, newError(KindRateLimited, op, "", "too many submissions, try again later", nil)
		}
	}

	jobID := uuid.NewString()

	if req.File != nil {
		if s.store == nil {
			return nil, newError(KindInternal, op, jobID, "no file store configured", nil)
		}
		key := path.Join("jobs", jobID, path.Base(req.FileName))
		if err := s.store.Put(ctx, key, req.File); err != nil {
			return nil, newError(KindInternal, op, jobID, "failed to store file", err)
		}
		req.FileRef = key
	}

	var cost int64
	if s.pricer != nil {
		cost = s.pricer.Price(req.Settings, req.Pages)
	}

	job := &db.PrintJob{
		ID:            jobID,
		UserID:        req.UserID,
		FileRef:       req.FileRef,
		FileName:      req.FileName,
		Copies:        req.Settings.Copies,
		Color:         req.Settings.Color,
		Duplex:        req.Settings.Duplex,
		PaperType:     req.Settings.PaperType,
		PageRange:     req.Settings.PageRange,
		Pages:         req.Pages,
		CostCents:     cost,
		Status:        string(JobStatusPending),
		PaymentStatus: string(PaymentUnpaid),
	}
	if err := db.Jobs.CreateJob(ctx, s.db, job); err != nil {
		return nil, newError(KindInternal, op, jobID, "", err)
	}

	s.logger.Info("job submitted", "job_id", jobID, "user_id", req.UserID, "pages", req.Pages, "cost_cents", cost)

	result := &SubmitResult{Job: job}
	entry, err := s.queue.Enqueue(ctx, jobID)
	if err != nil {
		s.logger.Warn("job submitted but not queued", "job_id", jobID, "error", err)
		result.Warning = "job saved but could not be queued: " + err.Error()
		return result, nil
	}

	job.Status = string(JobStatusQueued)
	result.Entry = entry
	return result, nil
}

func validateSubmit(req *SubmitRequest) error {
	const op = "submit"
	if req.UserID == "" {
		return newError(KindInvalidInput, op, "", "user id is required", nil)
	}
	if req.FileName == "" {
		return newError(KindInvalidInput, op, "", "file name is required", nil)
	}
	if req.File == nil && req.FileRef == "" {
		return newError(KindInvalidInput, op, "", "a file or file reference is required", nil)
	}
	if req.Pages < 1 {
		return newError(KindInvalidInput, op, "", "page count must be at least 1", nil)
	}
	if req.Settings.Copies == 0 {
		req.Settings.Copies = 1
	}
	if req.Settings.Copies < 1 || req.Settings.Copies > maxCopies {
		return newError(KindInvalidInput, op, "", fmt.Sprintf("copies must be between 1 and %d", maxCopies), nil)
	}
	if req.Settings.PaperType == "" {
		req.Settings.PaperType = "A4"
	}
	if !paperTypes[req.Settings.PaperType] {
		return newError(KindInvalidInput, op, "", "unsupported paper type "+req.Settings.PaperType, nil)
	}
	if req.Settings.PageRange != "" {
		start, end, err := ParsePageRange(req.Settings.PageRange)
		if err != nil {
			return newError(KindInvalidInput, op, "", err.Error(), nil)
		}
		if start > req.Pages || end > req.Pages {
			return newError(KindInvalidInput, op, "", "page range exceeds document length", nil)
		}
	}
	return nil
}

// ParsePageRange accepts "N" or "N-M" with 1 <= N <= M.
func ParsePageRange(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	startStr, endStr, isRange := strings.Cut(s, "-")
	if !isRange {
		endStr = startStr
	}
	start, err := strconv.Atoi(strings.TrimSpace(startStr))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid page range %q", s)
	}
	end, err := strconv.Atoi(strings.TrimSpace(endStr))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid page range %q", s)
	}
	if start < 1 || end < start {
		return 0, 0, fmt.Errorf("invalid page range %q", s)
	}
	return start, end, nil
}

// RecordPayment marks an unpaid job paid and writes its revenue entry.
func (s *Submission) RecordPayment(ctx context.Context, jobID, method, transactionID string) (*db.PrintJob, error) {
	const op = "record_payment"
	if method == "" {
		return nil, newError(KindInvalidInput, op, jobID, "payment method is required", nil)
	}

	var job *db.PrintJob
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		job, err = db.Jobs.GetJobByID(ctx, tx, jobID)
		if err != nil {
			return notFoundOr(op, jobID, "job not found", err)
		}
		if JobStatus(job.Status).IsTerminal() {
			return newError(KindInvalidState, op, jobID, "job is "+job.Status, nil)
		}
		ok, err := db.Jobs.RecordPayment(ctx, tx, jobID, method, transactionID)
		if err != nil {
			return err
		}
		if !ok {
			return newError(KindInvalidState, op, jobID, "job payment is "+job.PaymentStatus, nil)
		}
		return db.Revenue.CreateEntry(ctx, tx, &db.RevenueEntry{
			JobID:         jobID,
			UserID:        job.UserID,
			AmountCents:   job.CostCents,
			Method:        method,
			TransactionID: transactionID,
		})
	})
	if err != nil {
		return nil, asQueueError(op, jobID, err)
	}

	job.PaymentStatus = string(PaymentPaid)
	job.PaymentMethod = method
	job.TransactionID = transactionID
	s.logger.Info("payment recorded", "job_id", jobID, "method", method, "amount_cents", job.CostCents)
	return job, nil
}

// CancelJob lets the owner withdraw a pending job that is not in the queue.
func (s *Submission) CancelJob(ctx context.Context, jobID, userID string) error {
	const op = "cancel"

	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		job, err := db.Jobs.GetJobByID(ctx, tx, jobID)
		if err != nil {
			return notFoundOr(op, jobID, "job not found", err)
		}
		if job.UserID != userID {
			return newError(KindNotFound, op, jobID, "job not found", nil)
		}
		if JobStatus(job.Status) != JobStatusPending {
			return newError(KindInvalidState, op, jobID, "only pending jobs can be cancelled, job is "+job.Status, nil)
		}
		if PaymentStatus(job.PaymentStatus) != PaymentUnpaid {
			return newError(KindInvalidState, op, jobID, "paid jobs must be terminated by an administrator", nil)
		}
		if _, err := db.Queue.GetLiveEntryByJob(ctx, tx, jobID); err == nil {
			return newError(KindInvalidState, op, jobID, "job is already queued", nil)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		ok, err := db.Jobs.CancelJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if !ok {
			return newError(KindInvalidState, op, jobID, "job is no longer pending", nil)
		}
		return nil
	})
	if err != nil {
		return asQueueError(op, jobID, err)
	}

	s.logger.Info("job cancelled", "job_id", jobID, "user_id", userID)
	return nil
}

// DeleteJob removes a finished job record.
func (s *Submission) DeleteJob(ctx context.Context, jobID string) error {
	const op = "delete"

	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		job, err := db.Jobs.GetJobByID(ctx, tx, jobID)
		if err != nil {
			return notFoundOr(op, jobID, "job not found", err)
		}
		if !JobStatus(job.Status).IsTerminal() {
			return newError(KindInvalidState, op, jobID, "only finished jobs can be deleted, job is "+job.Status, nil)
		}
		return db.Jobs.DeleteJob(ctx, tx, jobID)
	})
	if err != nil {
		return asQueueError(op, jobID, err)
	}
	return nil
}

func (s *Submission) ListJobs(ctx context.Context, filter db.JobFilter) ([]*db.PrintJob, error) {
	jobs, err := db.Jobs.ListJobs(ctx, s.db, filter)
	if err != nil {
		return nil, newError(KindInternal, "list_jobs", "", "", err)
	}
	if jobs == nil {
		jobs = []*db.PrintJob{}
	}
	return jobs, nil
}
