package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/config"
)

type SettingsHandler struct {
	config *config.Config
}

// ServerConfigResponse is the effective configuration minus credentials.
type ServerConfigResponse struct {
	Port                int      `json:"port"`
	DatabasePath        string   `json:"database_path"`
	PollInterval        string   `json:"poll_interval"`
	PrintTimeout        string   `json:"print_timeout"`
	CleanupInterval     string   `json:"cleanup_interval"`
	RecoverOnStart      bool     `json:"recover_on_start"`
	DefaultPrinter      string   `json:"default_printer"`
	PrinterCount        int      `json:"printer_count"`
	HealthCheckInterval string   `json:"health_check_interval"`
	GatewayConfigured   bool     `json:"gateway_configured"`
	GatewayMethods      []string `json:"gateway_methods"`
	LocalMethods        []string `json:"local_methods"`
	BWPerPageCents      int64    `json:"bw_per_page_cents"`
	ColorPerPageCents   int64    `json:"color_per_page_cents"`
	DuplexDiscount      int      `json:"duplex_discount_percent"`
	StorageDriver       string   `json:"storage_driver"`
	WebhookEndpoints    int      `json:"webhook_endpoints"`
	RateLimitEnabled    bool     `json:"rate_limit_enabled"`
	LogLevel            string   `json:"log_level"`
	LogFormat           string   `json:"log_format"`
}

func NewSettingsHandler(cfg *config.Config) *SettingsHandler {
	return &SettingsHandler{config: cfg}
}

func (h *SettingsHandler) GetServerConfig(c *gin.Context) {
	cfg := h.config
	resp := ServerConfigResponse{
		Port:                cfg.Server.Port,
		DatabasePath:        cfg.Database.Path,
		PollInterval:        cfg.Queue.PollInterval.String(),
		PrintTimeout:        cfg.Queue.PrintTimeout.String(),
		CleanupInterval:     cfg.Queue.CleanupInterval.String(),
		RecoverOnStart:      cfg.Queue.RecoverOnStart,
		DefaultPrinter:      cfg.Printers.Default,
		PrinterCount:        len(cfg.Printers.Devices),
		HealthCheckInterval: cfg.Printers.HealthCheckInterval.String(),
		GatewayConfigured:   cfg.Payments.GatewayURL != "",
		GatewayMethods:      cfg.Payments.GatewayMethods,
		LocalMethods:        cfg.Payments.LocalMethods,
		BWPerPageCents:      cfg.Pricing.BWPerPageCents,
		ColorPerPageCents:   cfg.Pricing.ColorPerPageCents,
		DuplexDiscount:      cfg.Pricing.DuplexDiscountPercent,
		StorageDriver:       cfg.Storage.Driver,
		WebhookEndpoints:    len(cfg.Notifications.Endpoints),
		RateLimitEnabled:    cfg.RateLimit.RedisAddr != "",
		LogLevel:            cfg.Logging.Level,
		LogFormat:           cfg.Logging.Format,
	}

	c.JSON(http.StatusOK, resp)
}

func RegisterSettingsRoutes(admin *gin.RouterGroup, h *SettingsHandler) {
	admin.GET("/settings/server", h.GetServerConfig)
}
