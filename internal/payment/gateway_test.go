package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/orrn/printq/internal/core"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}, discardLogger()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("NewClient() error = %v, want ErrNotConfigured", err)
	}
}

func TestRefund_Success(t *testing.T) {
	var gotKey, gotAuth string
	var gotBody refundRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/refunds" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"rf_123","status":"pending"}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "sk_test"}, discardLogger())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	res, err := c.Refund(context.Background(), core.RefundRequest{
		JobID: "job-9", TransactionID: "txn_1", AmountCents: 250, Reason: "duplicate",
	})
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if res.RefundID != "rf_123" || res.Status != core.RefundStatusInitiated {
		t.Errorf("result = %+v", res)
	}
	if gotKey != "refund-job-9" {
		t.Errorf("Idempotency-Key = %q", gotKey)
	}
	if gotAuth != "Bearer sk_test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.TransactionID != "txn_1" || gotBody.AmountCents != 250 || gotBody.Reference != "job-9" {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestRefund_CompletedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"rf_1","status":"succeeded"}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL}, discardLogger())
	res, err := c.Refund(context.Background(), core.RefundRequest{JobID: "j", TransactionID: "t", AmountCents: 1})
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if res.Status != core.RefundStatusCompleted {
		t.Errorf("status = %q, want completed", res.Status)
	}
}

func TestRefund_GatewayRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"code":"already_refunded","message":"charge already refunded"}}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL}, discardLogger())
	_, err := c.Refund(context.Background(), core.RefundRequest{JobID: "j", TransactionID: "t", AmountCents: 1})

	var gerr *GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("Refund() error = %v, want GatewayError", err)
	}
	if gerr.StatusCode != http.StatusUnprocessableEntity || gerr.Code != "already_refunded" {
		t.Errorf("gateway error = %+v", gerr)
	}
}

func TestRefund_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, discardLogger())
	if _, err := c.Refund(context.Background(), core.RefundRequest{JobID: "j", TransactionID: "t"}); err == nil {
		t.Error("expected timeout error")
	}
}

func TestRefund_RequiresTransaction(t *testing.T) {
	c, _ := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, discardLogger())
	if _, err := c.Refund(context.Background(), core.RefundRequest{JobID: "j"}); err == nil {
		t.Error("expected error without transaction id")
	}
}
