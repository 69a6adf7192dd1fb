package core

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orrn/printq/internal/db"
)

type fakeGateway struct {
	mu       sync.Mutex
	requests []RefundRequest
	status   string
	err      error
	delay    time.Duration
}

func (g *fakeGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	status := g.status
	if status == "" {
		status = RefundStatusInitiated
	}
	return &RefundResult{RefundID: "rf_" + req.JobID, Status: status}, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type terminationFixture struct {
	conn    *sql.DB
	queue   *QueueManager
	term    *Terminator
	gateway *fakeGateway
	sink    *recordingSink
}

func newTerminationFixture(t *testing.T) *terminationFixture {
	t.Helper()
	conn := newTestDB(t)
	sink := &recordingSink{}
	gw := &fakeGateway{}
	return &terminationFixture{
		conn:    conn,
		queue:   NewQueueManager(conn, sink, nil, discardLogger()),
		term:    NewTerminator(conn, TerminatorConfig{LocalMethods: []string{"cash"}}, gw, sink, nil, discardLogger()),
		gateway: gw,
		sink:    sink,
	}
}

// paidJob creates a queued job paid with method and its revenue entry.
func (f *terminationFixture) paidJob(t *testing.T, method string) *db.PrintJob {
	t.Helper()
	ctx := context.Background()
	j := createJob(t, f.conn, JobStatusPending, PaymentUnpaid)
	if ok, err := db.Jobs.RecordPayment(ctx, f.conn, j.ID, method, "txn_"+j.ID); err != nil || !ok {
		t.Fatalf("RecordPayment() = %v, %v", ok, err)
	}
	if err := db.Revenue.CreateEntry(ctx, f.conn, &db.RevenueEntry{
		JobID: j.ID, UserID: j.UserID, AmountCents: j.CostCents, Method: method, TransactionID: "txn_" + j.ID,
	}); err != nil {
		t.Fatalf("Revenue.CreateEntry() error = %v", err)
	}
	mustEnqueue(t, f.queue, j.ID)
	return getJob(t, f.conn, j.ID)
}

func (f *terminationFixture) hasRevenue(t *testing.T, jobID string) bool {
	t.Helper()
	_, err := db.Revenue.GetByJob(context.Background(), f.conn, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		t.Fatalf("Revenue.GetByJob() error = %v", err)
	}
	return true
}

func (f *terminationFixture) auditCount(t *testing.T, jobID string) int {
	t.Helper()
	entries, err := db.Audit.ListEntries(context.Background(), f.conn, db.AuditFilter{TargetID: jobID}, 10, 0)
	if err != nil {
		t.Fatalf("Audit.ListEntries() error = %v", err)
	}
	return len(entries)
}

func (f *terminationFixture) notificationCount(t *testing.T) int {
	t.Helper()
	ns, err := db.Notifications.ListByUser(context.Background(), f.conn, "user-1", 10)
	if err != nil {
		t.Fatalf("Notifications.ListByUser() error = %v", err)
	}
	return len(ns)
}

func TestTerminate_PaidQueuedJobViaGateway(t *testing.T) {
	f := newTerminationFixture(t)
	ctx := context.Background()
	a := f.paidJob(t, "card")
	b := f.paidJob(t, "card")
	c := f.paidJob(t, "card")

	res, err := f.term.Terminate(ctx, TerminateRequest{JobID: b.ID, Actor: "admin@shop", Reason: "duplicate upload"})
	if err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}

	if res.PreviousPosition != 2 || res.PreviousStatus != JobStatusQueued {
		t.Errorf("result = %+v, want previous position 2 and status queued", res)
	}
	if res.RefundID != "rf_"+b.ID || res.RefundCents != b.CostCents {
		t.Errorf("refund = %s %d", res.RefundID, res.RefundCents)
	}
	if !res.NotificationQueued {
		t.Error("notification not queued")
	}

	assertOrder(t, f.queue, a.ID, c.ID)

	got := getJob(t, f.conn, b.ID)
	if got.Status != string(JobStatusTerminated) {
		t.Errorf("status = %q, want terminated", got.Status)
	}
	if got.PaymentStatus != string(PaymentRefundInitiated) || got.RefundStatus != RefundStatusInitiated {
		t.Errorf("payment = %q refund = %q", got.PaymentStatus, got.RefundStatus)
	}
	if got.ErrorMessage != "duplicate upload" {
		t.Errorf("error message = %q", got.ErrorMessage)
	}
	if f.hasRevenue(t, b.ID) {
		t.Error("revenue entry still present")
	}
	if !f.hasRevenue(t, a.ID) {
		t.Error("revenue of another job was removed")
	}
	if n := f.auditCount(t, b.ID); n != 1 {
		t.Errorf("audit entries = %d, want 1", n)
	}
	if n := f.notificationCount(t); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}

	req := f.gateway.requests[0]
	if req.TransactionID != "txn_"+b.ID || req.AmountCents != b.CostCents {
		t.Errorf("refund request = %+v", req)
	}

	names := f.sink.names()
	if names[len(names)-1] != EventJobTerminated {
		t.Errorf("last event = %s, want job_terminated", names[len(names)-1])
	}
}

func TestTerminate_InProgressJob(t *testing.T) {
	f := newTerminationFixture(t)
	ctx := context.Background()
	a := f.paidJob(t, "card")
	b := f.paidJob(t, "card")

	if _, err := f.queue.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}

	res, err := f.term.Terminate(ctx, TerminateRequest{JobID: a.ID})
	if err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if res.PreviousStatus != JobStatusInProgress || res.PreviousPosition != 1 {
		t.Errorf("result = %+v", res)
	}
	assertOrder(t, f.queue, b.ID)
}

func TestTerminate_GatewayCompletedRefund(t *testing.T) {
	f := newTerminationFixture(t)
	f.gateway.status = RefundStatusCompleted
	a := f.paidJob(t, "upi")

	if _, err := f.term.Terminate(context.Background(), TerminateRequest{JobID: a.ID}); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if got := getJob(t, f.conn, a.ID).PaymentStatus; got != string(PaymentRefunded) {
		t.Errorf("payment status = %q, want refunded", got)
	}
}

func TestTerminate_LocalMethodSkipsGateway(t *testing.T) {
	f := newTerminationFixture(t)
	a := f.paidJob(t, "cash")

	res, err := f.term.Terminate(context.Background(), TerminateRequest{JobID: a.ID})
	if err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if f.gateway.calls() != 0 {
		t.Errorf("gateway called %d times for a cash payment", f.gateway.calls())
	}
	if res.RefundStatus != RefundStatusCompleted {
		t.Errorf("refund status = %q, want completed", res.RefundStatus)
	}
	if got := getJob(t, f.conn, a.ID).PaymentStatus; got != string(PaymentRefunded) {
		t.Errorf("payment status = %q, want refunded", got)
	}
}

func TestTerminate_UnpaidJobNoRefund(t *testing.T) {
	f := newTerminationFixture(t)
	j := createJob(t, f.conn, JobStatusPending, PaymentUnpaid)

	res, err := f.term.Terminate(context.Background(), TerminateRequest{JobID: j.ID})
	if err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if f.gateway.calls() != 0 {
		t.Error("gateway called for unpaid job")
	}
	if res.RefundCents != 0 || res.PaymentStatus != string(PaymentUnpaid) {
		t.Errorf("result = %+v", res)
	}
	if got := getJob(t, f.conn, j.ID).Status; got != string(JobStatusTerminated) {
		t.Errorf("status = %q, want terminated", got)
	}
}

func TestTerminate_RejectsFinishedJob(t *testing.T) {
	f := newTerminationFixture(t)
	ctx := context.Background()
	a := f.paidJob(t, "card")
	if _, err := f.queue.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if err := f.queue.CompleteJob(ctx, a.ID); err != nil {
		t.Fatalf("CompleteJob() error = %v", err)
	}

	_, err := f.term.Terminate(ctx, TerminateRequest{JobID: a.ID})
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("Terminate() error = %v, want ErrInvalidStatus", err)
	}
	if f.gateway.calls() != 0 {
		t.Error("gateway called for a completed job")
	}
	if !f.hasRevenue(t, a.ID) {
		t.Error("revenue removed for rejected termination")
	}
	if n := f.auditCount(t, a.ID); n != 0 {
		t.Errorf("audit entries = %d, want 0", n)
	}
}

func TestTerminate_UnknownJob(t *testing.T) {
	f := newTerminationFixture(t)
	if _, err := f.term.Terminate(context.Background(), TerminateRequest{JobID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Terminate() error = %v, want ErrNotFound", err)
	}
}

func TestTerminate_GatewayFailureLeavesJobUntouched(t *testing.T) {
	f := newTerminationFixture(t)
	f.gateway.err = errors.New("gateway unavailable")
	a := f.paidJob(t, "card")
	b := f.paidJob(t, "card")

	_, err := f.term.Terminate(context.Background(), TerminateRequest{JobID: a.ID})
	if !errors.Is(err, ErrRefundFailed) {
		t.Fatalf("Terminate() error = %v, want ErrRefundFailed", err)
	}

	got := getJob(t, f.conn, a.ID)
	if got.Status != string(JobStatusQueued) || got.PaymentStatus != string(PaymentPaid) {
		t.Errorf("job = status %q payment %q, want unchanged", got.Status, got.PaymentStatus)
	}
	if got.RefundStatus != "" {
		t.Errorf("refund status = %q, want claim released", got.RefundStatus)
	}
	assertOrder(t, f.queue, a.ID, b.ID)
	if !f.hasRevenue(t, a.ID) {
		t.Error("revenue removed after refund failure")
	}
	if n := f.auditCount(t, a.ID); n != 0 {
		t.Errorf("audit entries = %d, want 0", n)
	}
}

func TestTerminate_CommitFailureRollsBackAndReconciles(t *testing.T) {
	f := newTerminationFixture(t)
	ctx := context.Background()
	a := f.paidJob(t, "card")
	b := f.paidJob(t, "card")

	f.term.beforeCommit = func(ctx context.Context, tx *sql.Tx) error {
		return errors.New("disk full")
	}

	_, err := f.term.Terminate(ctx, TerminateRequest{JobID: a.ID})
	if !errors.Is(err, ErrTransactionAborted) {
		t.Fatalf("Terminate() error = %v, want ErrTransactionAborted", err)
	}

	got := getJob(t, f.conn, a.ID)
	if got.Status != string(JobStatusQueued) || got.PaymentStatus != string(PaymentPaid) {
		t.Errorf("job = status %q payment %q, want unchanged", got.Status, got.PaymentStatus)
	}
	assertOrder(t, f.queue, a.ID, b.ID)
	if !f.hasRevenue(t, a.ID) {
		t.Error("revenue removed after rollback")
	}
	if n := f.auditCount(t, a.ID); n != 0 {
		t.Errorf("audit entries = %d, want 0", n)
	}
	if n := f.notificationCount(t); n != 0 {
		t.Errorf("notifications = %d, want 0", n)
	}

	recs, err := db.Reconciliations.ListReconciliations(ctx, f.conn, 10, 0)
	if err != nil {
		t.Fatalf("ListReconciliations() error = %v", err)
	}
	if len(recs) != 1 || recs[0].JobID != a.ID || recs[0].RefundID != "rf_"+a.ID {
		t.Errorf("reconciliations = %+v, want one for %s", recs, a.ID)
	}

	// The refunded job stays claimed until reconciled.
	f.term.beforeCommit = nil
	if _, err := f.term.Terminate(ctx, TerminateRequest{JobID: a.ID}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("retry Terminate() error = %v, want ErrInvalidStatus", err)
	}
	if f.gateway.calls() != 1 {
		t.Errorf("gateway calls = %d, want 1", f.gateway.calls())
	}
}

func TestTerminate_NotificationFailureStillCommits(t *testing.T) {
	f := newTerminationFixture(t)
	a := f.paidJob(t, "card")

	f.term.notify = func(ctx context.Context, q db.Querier, n *db.Notification) error {
		if _, err := q.ExecContext(ctx, `INSERT INTO notifications (id, user_id, message, created_at) VALUES ('partial', 'user-1', 'x', CURRENT_TIMESTAMP)`); err != nil {
			return err
		}
		return errors.New("notification store unavailable")
	}

	res, err := f.term.Terminate(context.Background(), TerminateRequest{JobID: a.ID})
	if err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if res.NotificationQueued {
		t.Error("NotificationQueued = true after notify failure")
	}
	if got := getJob(t, f.conn, a.ID).Status; got != string(JobStatusTerminated) {
		t.Errorf("status = %q, want terminated", got)
	}
	if n := f.notificationCount(t); n != 0 {
		t.Errorf("notifications = %d, want partial insert rolled back", n)
	}
	if n := f.auditCount(t, a.ID); n != 1 {
		t.Errorf("audit entries = %d, want 1", n)
	}
}

func TestTerminate_TwiceIsRejected(t *testing.T) {
	f := newTerminationFixture(t)
	a := f.paidJob(t, "card")

	if _, err := f.term.Terminate(context.Background(), TerminateRequest{JobID: a.ID}); err != nil {
		t.Fatalf("first Terminate() error = %v", err)
	}
	if _, err := f.term.Terminate(context.Background(), TerminateRequest{JobID: a.ID}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("second Terminate() error = %v, want ErrInvalidStatus", err)
	}
	if f.gateway.calls() != 1 {
		t.Errorf("gateway calls = %d, want 1", f.gateway.calls())
	}
}

func TestTerminate_ConcurrentCallsRefundOnce(t *testing.T) {
	f := newTerminationFixture(t)
	f.gateway.delay = 30 * time.Millisecond
	a := f.paidJob(t, "card")

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.term.Terminate(context.Background(), TerminateRequest{JobID: a.ID})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case !errors.Is(err, ErrInvalidStatus):
			t.Errorf("Terminate() error = %v, want nil or ErrInvalidStatus", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("successful terminations = %d, want 1", succeeded)
	}
	if f.gateway.calls() != 1 {
		t.Errorf("gateway calls = %d, want 1", f.gateway.calls())
	}

	recs, err := db.Reconciliations.ListReconciliations(context.Background(), f.conn, 10, 0)
	if err != nil {
		t.Fatalf("ListReconciliations() error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("reconciliations = %d, want 0", len(recs))
	}
	if got := getJob(t, f.conn, a.ID); got.Status != string(JobStatusTerminated) || got.RefundStatus != RefundStatusInitiated {
		t.Errorf("job = status %q refund %q, want terminated/initiated", got.Status, got.RefundStatus)
	}
}
