package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/orrn/printq/internal/db"
)

// EventUserNotification is the webhook event carrying outbox notifications.
const EventUserNotification = "user_notification"

const (
	defaultRelayInterval = 10 * time.Second
	defaultRelayBatch    = 50
)

type RelayConfig struct {
	Interval    time.Duration
	MaxAttempts int
	BatchSize   int
}

type notificationData struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

// Relay drains the notifications outbox to webhook endpoints subscribed to
// user_notification. Failed deliveries are retried on later passes until
// MaxAttempts, after which the notification is marked failed.
type Relay struct {
	db          *sql.DB
	sender      *Sender
	interval    time.Duration
	maxAttempts int
	batchSize   int
	logger      *slog.Logger

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func NewRelay(conn *sql.DB, sender *Sender, cfg RelayConfig, logger *slog.Logger) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultRelayInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = sender.retryCount
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultRelayBatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		db:          conn,
		sender:      sender,
		interval:    cfg.Interval,
		maxAttempts: cfg.MaxAttempts,
		batchSize:   cfg.BatchSize,
		logger:      logger.With("component", "notification_relay"),
		stopCh:      make(chan struct{}),
	}
}

func (r *Relay) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				if _, err := r.RunOnce(context.Background()); err != nil {
					r.logger.Error("notification relay pass failed", "error", err)
				}
			}
		}
	}()
}

func (r *Relay) Stop() {
	r.once.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// RunOnce delivers one batch of pending notifications and returns how many
// were sent.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	endpoints := r.sender.EndpointsFor(EventUserNotification)
	if len(endpoints) == 0 {
		return 0, nil
	}

	pending, err := db.Notifications.ListPending(ctx, r.db, r.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, n := range pending {
		payload := &Payload{
			Event:     EventUserNotification,
			Timestamp: time.Now().UTC(),
			Data: notificationData{
				ID:        n.ID,
				UserID:    n.UserID,
				Message:   n.Message,
				Metadata:  json.RawMessage(n.MetadataJSON),
				CreatedAt: n.CreatedAt,
			},
		}

		var errs []error
		for _, ep := range endpoints {
			if err := r.sender.Deliver(ctx, ep, payload); err != nil {
				errs = append(errs, err)
			}
		}

		if len(errs) > 0 {
			deliveryErr := errors.Join(errs...)
			r.logger.Warn("notification delivery failed", "notification_id", n.ID, "attempt", n.Attempts+1, "error", deliveryErr)
			if err := db.Notifications.MarkAttempt(ctx, r.db, n.ID, deliveryErr.Error(), r.maxAttempts); err != nil {
				return sent, err
			}
			continue
		}

		if err := db.Notifications.MarkSent(ctx, r.db, n.ID); err != nil {
			return sent, err
		}
		sent++
	}

	if sent > 0 {
		r.logger.Info("notifications delivered", "count", sent)
	}
	return sent, nil
}
