package core

import (
	"context"
	"io"
	"time"

	"github.com/orrn/printq/internal/db"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusTerminated JobStatus = "terminated"
	JobStatusCancelled  JobStatus = "cancelled"

	// Device-level names some printers report for a job being printed.
	JobStatusProcessing JobStatus = "processing"
	JobStatusPrinting   JobStatus = "printing"
)

// Normalize folds device aliases into in_progress.
func (s JobStatus) Normalize() JobStatus {
	switch s {
	case JobStatusProcessing, JobStatusPrinting:
		return JobStatusInProgress
	}
	return s
}

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusTerminated, JobStatusCancelled:
		return true
	}
	return false
}

type EntryStatus string

const (
	EntryStatusPending    EntryStatus = "pending"
	EntryStatusInProgress EntryStatus = "in_progress"
	EntryStatusCompleted  EntryStatus = "completed"
	EntryStatusFailed     EntryStatus = "failed"
)

type PaymentStatus string

const (
	PaymentUnpaid          PaymentStatus = "unpaid"
	PaymentPaid            PaymentStatus = "paid"
	PaymentRefundInitiated PaymentStatus = "refund_initiated"
	PaymentRefunded        PaymentStatus = "refunded"
)

const (
	RefundStatusPending   = "pending"
	RefundStatusInitiated = "initiated"
	RefundStatusCompleted = "completed"
)

const (
	EventJobQueued     = "job_queued"
	EventJobStarted    = "job_started"
	EventJobCompleted  = "job_completed"
	EventJobFailed     = "job_failed"
	EventJobTerminated = "job_terminated"
)

// JobEvent is emitted to the EventSink on lifecycle transitions.
type JobEvent struct {
	Event     string    `json:"event"`
	JobID     string    `json:"job_id"`
	UserID    string    `json:"user_id,omitempty"`
	Status    JobStatus `json:"status"`
	Printer   string    `json:"printer,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClaimedJob is a queue entry moved to in_progress together with its job.
type ClaimedJob struct {
	Entry *db.QueueEntry
	Job   *db.PrintJob
}

type QueueStats struct {
	Entries map[string]int `json:"entries"`
	Jobs    map[string]int `json:"jobs"`
	Depth   int            `json:"depth"`
	// RevenueCents is the sum of payments not refunded by a termination.
	RevenueCents int64 `json:"revenue_cents"`
}

// EventSink receives job lifecycle events. Delivery is best effort.
type EventSink interface {
	SendJobEvent(event JobEvent)
}

// PrinterDriver sends a job to a physical device and returns the printer name
// used. Implementations must honor ctx cancellation.
type PrinterDriver interface {
	Print(ctx context.Context, job *db.PrintJob) (string, error)
}

type RefundRequest struct {
	JobID         string
	TransactionID string
	AmountCents   int64
	Reason        string
}

type RefundResult struct {
	RefundID string
	Status   string
}

type PaymentGateway interface {
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

type FileStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, r io.Reader) error
}

// Metrics receives engine counters. A nil Metrics is valid.
type Metrics interface {
	ObserveCycle(outcome string, d time.Duration)
	SetQueueDepth(n int)
	IncRefund(outcome string)
	IncEnqueue(outcome string)
}

type nopSink struct{}

func (nopSink) SendJobEvent(JobEvent) {}

type nopMetrics struct{}

func (nopMetrics) ObserveCycle(string, time.Duration) {}
func (nopMetrics) SetQueueDepth(int)                  {}
func (nopMetrics) IncRefund(string)                   {}
func (nopMetrics) IncEnqueue(string)                  {}
