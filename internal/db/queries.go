package db

const jobColumns = `id, user_id, file_ref, file_name, copies, color, duplex, paper_type, page_range, pages,
		cost_cents, status, payment_status, payment_method, transaction_id, refund_id, refund_cents,
		refund_status, error_message, processing_ms, submitted_at, started_at, completed_at, updated_at`

const (
	InsertJob = `
		INSERT INTO print_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	GetJobByID = `SELECT ` + jobColumns + ` FROM print_jobs WHERE id = ?`

	ListJobsBase = `SELECT ` + jobColumns + ` FROM print_jobs`

	UpdateJobStatus = `
		UPDATE print_jobs SET status = ?, updated_at = ? WHERE id = ?
	`

	UpdateJobStarted = `
		UPDATE print_jobs SET status = 'in_progress', started_at = ?, updated_at = ? WHERE id = ?
	`

	UpdateJobFinished = `
		UPDATE print_jobs SET status = ?, error_message = ?, completed_at = ?, processing_ms = ?, updated_at = ?
		WHERE id = ?
	`

	UpdateJobTerminated = `
		UPDATE print_jobs SET
			status = 'terminated', error_message = ?, completed_at = ?,
			payment_status = ?, refund_id = ?, refund_cents = ?, refund_status = ?, updated_at = ?
		WHERE id = ?
	`

	// ClaimJobTermination reserves a live job for one terminator. The claim
	// is replaced by the final refund status when the termination commits.
	ClaimJobTermination = `
		UPDATE print_jobs SET refund_status = 'pending', updated_at = ?
		WHERE id = ? AND refund_status = ''
			AND status IN ('pending', 'queued', 'in_progress', 'processing', 'printing')
	`

	ReleaseJobTermination = `
		UPDATE print_jobs SET refund_status = '', updated_at = ?
		WHERE id = ? AND refund_status = 'pending'
	`

	UpdateJobPayment = `
		UPDATE print_jobs SET payment_status = ?, payment_method = ?, transaction_id = ?, updated_at = ?
		WHERE id = ? AND payment_status = 'unpaid'
	`

	UpdateJobCancelled = `
		UPDATE print_jobs SET status = 'cancelled', completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`

	CountJobsByStatus = `
		SELECT status, COUNT(*) as count FROM print_jobs GROUP BY status
	`

	DeleteJob = `DELETE FROM print_jobs WHERE id = ?`
)

const (
	InsertQueueEntry = `
		INSERT INTO queue_entries (id, job_id, position, status, enqueued_at)
		VALUES (?, ?, ?, 'pending', ?)
	`

	GetQueueEntryByID = `
		SELECT id, job_id, position, status, enqueued_at, started_at
		FROM queue_entries WHERE id = ?
	`

	GetLiveEntryByJob = `
		SELECT id, job_id, position, status, enqueued_at, started_at
		FROM queue_entries WHERE job_id = ? AND status IN ('pending', 'in_progress')
	`

	GetMaxLivePosition = `
		SELECT COALESCE(MAX(position), 0) FROM queue_entries WHERE status IN ('pending', 'in_progress')
	`

	ListLiveQueue = `
		SELECT e.id, e.job_id, e.position, e.status, e.enqueued_at, e.started_at,
			COALESCE(j.user_id, ''), COALESCE(j.file_name, ''), COALESCE(j.copies, 0),
			COALESCE(j.color, 0), COALESCE(j.duplex, 0), COALESCE(j.cost_cents, 0), COALESCE(j.status, '')
		FROM queue_entries e
		LEFT JOIN print_jobs j ON j.id = e.job_id
		WHERE e.status IN ('pending', 'in_progress')
		ORDER BY e.position ASC
		LIMIT ?
	`

	GetHeadPendingEntry = `
		SELECT e.id, e.job_id, e.position, e.status, e.enqueued_at, e.started_at,
			COALESCE(j.user_id, ''), COALESCE(j.file_name, ''), COALESCE(j.copies, 0),
			COALESCE(j.color, 0), COALESCE(j.duplex, 0), COALESCE(j.cost_cents, 0), COALESCE(j.status, '')
		FROM queue_entries e
		LEFT JOIN print_jobs j ON j.id = e.job_id
		WHERE e.position = 1 AND e.status = 'pending'
	`

	MarkEntryInProgress = `
		UPDATE queue_entries SET status = 'in_progress', started_at = ?
		WHERE id = ? AND status = 'pending'
	`

	ClaimHeadEntry = `
		UPDATE queue_entries SET status = 'in_progress', started_at = ?
		WHERE position = 1 AND status = 'pending'
		RETURNING id, job_id
	`

	DeleteQueueEntry = `DELETE FROM queue_entries WHERE id = ?`

	DeleteDeadEntriesForJob = `
		DELETE FROM queue_entries WHERE job_id = ? AND status NOT IN ('pending', 'in_progress')
	`

	// Renumbering runs in two passes through negative positions so no
	// intermediate row collides with the live position index.
	ShiftLiveAfterNegative = `
		UPDATE queue_entries SET position = -(position - 1)
		WHERE position > ? AND status IN ('pending', 'in_progress')
	`

	FlipNegativePositions = `
		UPDATE queue_entries SET position = -position WHERE position < 0
	`

	SetEntryPosition = `UPDATE queue_entries SET position = ? WHERE id = ?`

	ListLiveEntryIDs = `
		SELECT id FROM queue_entries WHERE status IN ('pending', 'in_progress') ORDER BY position ASC
	`

	ListOrphanedEntries = `
		SELECT e.id, e.job_id, e.position, e.status, e.enqueued_at, e.started_at
		FROM queue_entries e
		LEFT JOIN print_jobs j ON j.id = e.job_id
		WHERE e.status IN ('pending', 'in_progress')
			AND (j.id IS NULL OR j.status IN ('completed', 'failed', 'terminated', 'cancelled'))
	`

	ListInProgressEntries = `
		SELECT id, job_id, position, status, enqueued_at, started_at
		FROM queue_entries WHERE status = 'in_progress'
	`

	ResetEntryPending = `
		UPDATE queue_entries SET status = 'pending', started_at = NULL WHERE id = ? AND status = 'in_progress'
	`

	CountEntriesByStatus = `
		SELECT status, COUNT(*) FROM queue_entries GROUP BY status
	`
)

const (
	InsertRevenueEntry = `
		INSERT INTO revenue_entries (id, job_id, user_id, amount_cents, method, transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	GetRevenueByJob = `
		SELECT id, job_id, user_id, amount_cents, method, transaction_id, created_at
		FROM revenue_entries WHERE job_id = ?
	`

	DeleteRevenueByJob = `DELETE FROM revenue_entries WHERE job_id = ?`

	SumRevenue = `SELECT COALESCE(SUM(amount_cents), 0) FROM revenue_entries`
)

const (
	InsertAuditEntry = `
		INSERT INTO audit_log (id, actor, action, target_type, target_id, before_json, after_json, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	ListAuditBase = `
		SELECT id, actor, action, target_type, target_id, before_json, after_json, outcome, created_at
		FROM audit_log
	`
)

const (
	InsertNotification = `
		INSERT INTO notifications (id, user_id, message, metadata_json, status, created_at)
		VALUES (?, ?, ?, ?, 'pending', ?)
	`

	ListPendingNotifications = `
		SELECT id, user_id, message, metadata_json, status, attempts, last_error, created_at, sent_at
		FROM notifications WHERE status = 'pending' ORDER BY created_at ASC LIMIT ?
	`

	ListNotificationsByUser = `
		SELECT id, user_id, message, metadata_json, status, attempts, last_error, created_at, sent_at
		FROM notifications WHERE user_id = ? ORDER BY created_at DESC LIMIT ?
	`

	MarkNotificationSent = `
		UPDATE notifications SET status = 'sent', attempts = attempts + 1, last_error = '', sent_at = ?
		WHERE id = ?
	`

	MarkNotificationAttempt = `
		UPDATE notifications SET
			attempts = attempts + 1,
			last_error = ?,
			status = CASE WHEN attempts + 1 >= ? THEN 'failed' ELSE 'pending' END
		WHERE id = ?
	`
)

const (
	InsertReconciliation = `
		INSERT INTO refund_reconciliations (id, job_id, refund_id, amount_cents, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	ListReconciliations = `
		SELECT id, job_id, refund_id, amount_cents, reason, created_at
		FROM refund_reconciliations ORDER BY created_at DESC LIMIT ? OFFSET ?
	`
)

const (
	UpsertPrinter = `
		INSERT INTO printers (name, address, port, status)
		VALUES (?, ?, ?, 'unknown')
		ON CONFLICT(name) DO UPDATE SET address = excluded.address, port = excluded.port, updated_at = CURRENT_TIMESTAMP
	`

	GetPrinterByName = `
		SELECT id, name, address, port, status, last_seen_at, total_jobs, created_at, updated_at
		FROM printers WHERE name = ?
	`

	ListPrinters = `
		SELECT id, name, address, port, status, last_seen_at, total_jobs, created_at, updated_at
		FROM printers ORDER BY name ASC
	`

	UpdatePrinterStatus = `
		UPDATE printers SET status = ?, last_seen_at = ?, updated_at = CURRENT_TIMESTAMP WHERE name = ?
	`

	IncrementPrinterJobs = `
		UPDATE printers SET total_jobs = total_jobs + 1 WHERE name = ?
	`
)

const (
	GetSetting = `SELECT key, value, updated_at FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
)

const (
	InsertMigration = `INSERT INTO schema_migrations (version) VALUES (?)`

	GetAppliedMigrations = `
		SELECT version FROM schema_migrations
	`
)
