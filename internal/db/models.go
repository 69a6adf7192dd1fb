package db

import (
	"time"
)

type PrintJob struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	FileRef       string     `json:"file_ref"`
	FileName      string     `json:"file_name"`
	Copies        int        `json:"copies"`
	Color         bool       `json:"color"`
	Duplex        bool       `json:"duplex"`
	PaperType     string     `json:"paper_type"`
	PageRange     string     `json:"page_range"`
	Pages         int        `json:"pages"`
	CostCents     int64      `json:"cost_cents"`
	Status        string     `json:"status"`
	PaymentStatus string     `json:"payment_status"`
	PaymentMethod string     `json:"payment_method"`
	TransactionID string     `json:"transaction_id"`
	RefundID      string     `json:"refund_id"`
	RefundCents   int64      `json:"refund_cents"`
	RefundStatus  string     `json:"refund_status"`
	ErrorMessage  string     `json:"error_message"`
	ProcessingMS  int64      `json:"processing_ms"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	StartedAt     *time.Time `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type QueueEntry struct {
	ID         string     `json:"id"`
	JobID      string     `json:"job_id"`
	Position   int        `json:"position"`
	Status     string     `json:"status"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at"`
}

// QueueItem is a live queue entry joined with the job fields shown in queue views.
type QueueItem struct {
	EntryID     string     `json:"entry_id"`
	JobID       string     `json:"job_id"`
	Position    int        `json:"position"`
	EntryStatus string     `json:"entry_status"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	StartedAt   *time.Time `json:"started_at"`
	UserID      string     `json:"user_id"`
	FileName    string     `json:"file_name"`
	Copies      int        `json:"copies"`
	Color       bool       `json:"color"`
	Duplex      bool       `json:"duplex"`
	CostCents   int64      `json:"cost_cents"`
	JobStatus   string     `json:"job_status"`
}

type RevenueEntry struct {
	ID            string    `json:"id"`
	JobID         string    `json:"job_id"`
	UserID        string    `json:"user_id"`
	AmountCents   int64     `json:"amount_cents"`
	Method        string    `json:"method"`
	TransactionID string    `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type AuditEntry struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	TargetType string    `json:"target_type"`
	TargetID   string    `json:"target_id"`
	BeforeJSON string    `json:"before_json"`
	AfterJSON  string    `json:"after_json"`
	Outcome    string    `json:"outcome"`
	CreatedAt  time.Time `json:"created_at"`
}

type Notification struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Message      string     `json:"message"`
	MetadataJSON string     `json:"metadata_json"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	LastError    string     `json:"last_error"`
	CreatedAt    time.Time  `json:"created_at"`
	SentAt       *time.Time `json:"sent_at"`
}

type Reconciliation struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	RefundID    string    `json:"refund_id"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

type Printer struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Address    string     `json:"address"`
	Port       int        `json:"port"`
	Status     string     `json:"status"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	TotalJobs  int64      `json:"total_jobs"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type JobFilter struct {
	UserID string
	Status string
	Limit  int
	Offset int
}

type AuditFilter struct {
	Action     string
	TargetType string
	TargetID   string
}
