package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/webhook"
)

const eventWebhookTest = "webhook_test"

type WebhookResponse struct {
	Index     int      `json:"index"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
	HasSecret bool     `json:"has_secret"`
}

type TestWebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// WebhookHandler lists the configured endpoints and sends signed test
// deliveries. Endpoints are managed in config.
type WebhookHandler struct {
	endpoints []config.WebhookEndpoint
	sender    *webhook.Sender
}

func NewWebhookHandler(endpoints []config.WebhookEndpoint, sender *webhook.Sender) *WebhookHandler {
	return &WebhookHandler{endpoints: endpoints, sender: sender}
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	out := make([]WebhookResponse, 0, len(h.endpoints))
	for i, ep := range h.endpoints {
		events := ep.Events
		if events == nil {
			events = []string{}
		}
		out = append(out, WebhookResponse{
			Index:     i,
			URL:       ep.URL,
			Events:    events,
			HasSecret: ep.Secret != "",
		})
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": out, "count": len(out)})
}

func (h *WebhookHandler) TestWebhook(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 || idx >= len(h.endpoints) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Webhook not found"})
		return
	}

	payload := &webhook.Payload{
		Event:     eventWebhookTest,
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"test":    true,
			"message": "Test webhook from printq",
		},
	}

	if err := h.sender.Deliver(c.Request.Context(), h.endpoints[idx], payload); err != nil {
		c.JSON(http.StatusOK, TestWebhookResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to send webhook: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, TestWebhookResponse{Success: true, Message: "Webhook test successful"})
}

func RegisterWebhookRoutes(admin *gin.RouterGroup, h *WebhookHandler) {
	admin.GET("/webhooks", h.ListWebhooks)
	admin.POST("/webhooks/:index/test", h.TestWebhook)
}
