package handlers

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/api/middleware"
	"github.com/orrn/printq/internal/db"
)

// NotificationHandler lets users read the notices queued for them, such as
// termination and refund messages.
type NotificationHandler struct {
	db *sql.DB
}

func NewNotificationHandler(database *sql.DB) *NotificationHandler {
	return &NotificationHandler{db: database}
}

func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	var query PageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, err.Error())
		return
	}

	items, err := db.Notifications.ListByUser(c.Request.Context(), h.db, middleware.UserID(c), query.limitOr(50))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": items, "count": len(items)})
}

func RegisterNotificationRoutes(user *gin.RouterGroup, h *NotificationHandler) {
	user.GET("/notifications", h.ListNotifications)
}
