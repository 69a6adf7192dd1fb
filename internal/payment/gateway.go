package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/orrn/printq/internal/core"
)

const defaultTimeout = 30 * time.Second

var ErrNotConfigured = errors.New("payment gateway not configured")

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// GatewayError is a refund rejected by the gateway.
type GatewayError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

type refundRequest struct {
	TransactionID string `json:"transaction_id"`
	AmountCents   int64  `json:"amount_cents"`
	Reason        string `json:"reason"`
	Reference     string `json:"reference"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client issues refunds against the payment gateway's REST API. Requests
// carry an idempotency key derived from the job so a retried termination
// never refunds twice.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "payment"),
	}, nil
}

// IdempotencyKey is the key sent with the refund for jobID.
func IdempotencyKey(jobID string) string {
	return "refund-" + jobID
}

func (c *Client) Refund(ctx context.Context, req core.RefundRequest) (*core.RefundResult, error) {
	if req.TransactionID == "" {
		return nil, fmt.Errorf("refund for job %s has no transaction id", req.JobID)
	}

	body, err := json.Marshal(refundRequest{
		TransactionID: req.TransactionID,
		AmountCents:   req.AmountCents,
		Reason:        req.Reason,
		Reference:     req.JobID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal refund: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/refunds", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", IdempotencyKey(req.JobID))
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send refund: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read refund response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gerr := &GatewayError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
			gerr.Code = er.Error.Code
			gerr.Message = er.Error.Message
		}
		c.logger.Warn("refund rejected", "job_id", req.JobID, "status", resp.StatusCode, "code", gerr.Code)
		return nil, gerr
	}

	var rr refundResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("decode refund response: %w", err)
	}
	if rr.ID == "" {
		return nil, fmt.Errorf("refund response missing id")
	}

	status := core.RefundStatusInitiated
	switch strings.ToLower(rr.Status) {
	case "succeeded", "completed", "processed":
		status = core.RefundStatusCompleted
	}

	c.logger.Info("refund issued",
		"job_id", req.JobID,
		"refund_id", rr.ID,
		"refund_status", status,
		"amount_cents", req.AmountCents,
		"duration", time.Since(start))

	return &core.RefundResult{RefundID: rr.ID, Status: status}, nil
}
