package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/api/handlers"
	"github.com/orrn/printq/internal/api/middleware"
	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/telemetry"
	"github.com/orrn/printq/internal/webhook"
)

type Dependencies struct {
	DB          *sql.DB
	Auth        *middleware.AuthMiddleware
	Queue       *core.QueueManager
	Submission  *core.Submission
	Terminator  *core.Terminator
	Dispatcher  *core.Dispatcher
	Printers    *core.PrinterManager
	Webhooks    *webhook.Sender
	Config      *config.Config
	StopTimeout time.Duration
	Logger      *slog.Logger
}

// NewRouter wires the HTTP surface. Printer, webhook and settings routes are
// only mounted when their dependency is set.
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(deps.Logger))

	r.GET("/healthz", func(c *gin.Context) {
		if err := deps.DB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "dispatcher": deps.Dispatcher.IsRunning()})
	})
	r.GET("/metrics", gin.WrapH(telemetry.Handler()))

	auth := r.Group("/api/auth")
	{
		auth.POST("/setup", deps.Auth.SetupHandler)
		auth.POST("/login", deps.Auth.LoginHandler)
		auth.GET("/status", deps.Auth.StatusHandler)
		auth.POST("/logout", deps.Auth.LogoutHandler)
		auth.POST("/password", deps.Auth.RequireAdmin(), deps.Auth.ChangePasswordHandler)
		auth.POST("/tokens", deps.Auth.RequireAdmin(), deps.Auth.IssueUserTokenHandler)
	}

	user := r.Group("/api/v1", deps.Auth.RequireUser())
	admin := r.Group("/api/v1", deps.Auth.RequireAdmin())

	handlers.RegisterJobRoutes(user, admin, handlers.NewJobHandler(deps.Queue, deps.Submission, deps.Terminator))
	handlers.RegisterQueueRoutes(admin, handlers.NewQueueHandler(deps.DB, deps.Queue, deps.Dispatcher, deps.StopTimeout))
	handlers.RegisterNotificationRoutes(user, handlers.NewNotificationHandler(deps.DB))
	if deps.Printers != nil {
		handlers.RegisterPrinterRoutes(admin, handlers.NewPrinterHandler(deps.Printers))
	}
	if deps.Config != nil {
		handlers.RegisterSettingsRoutes(admin, handlers.NewSettingsHandler(deps.Config))
		if deps.Webhooks != nil {
			handlers.RegisterWebhookRoutes(admin, handlers.NewWebhookHandler(deps.Config.Notifications.Endpoints, deps.Webhooks))
		}
	}

	return r
}
