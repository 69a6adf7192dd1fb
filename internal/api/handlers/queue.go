package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/db"
)

type FailJobRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type AuditQuery struct {
	PageQuery
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
}

// QueueHandler exposes queue administration, the dispatcher switch and the
// termination audit trail.
type QueueHandler struct {
	db          *sql.DB
	queue       *core.QueueManager
	dispatcher  *core.Dispatcher
	stopTimeout time.Duration
}

func NewQueueHandler(database *sql.DB, queue *core.QueueManager, dispatcher *core.Dispatcher, stopTimeout time.Duration) *QueueHandler {
	if stopTimeout <= 0 {
		stopTimeout = 30 * time.Second
	}
	return &QueueHandler{
		db:          database,
		queue:       queue,
		dispatcher:  dispatcher,
		stopTimeout: stopTimeout,
	}
}

func (h *QueueHandler) GetQueue(c *gin.Context) {
	var query PageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, err.Error())
		return
	}

	items, err := h.queue.GetCurrentQueue(c.Request.Context(), query.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"queue": items, "count": len(items)})
}

func (h *QueueHandler) GetStats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *QueueHandler) Enqueue(c *gin.Context) {
	entry, err := h.queue.Enqueue(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *QueueHandler) StartEntry(c *gin.Context) {
	entry, err := h.queue.MarkInProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *QueueHandler) CompleteJob(c *gin.Context) {
	if err := h.queue.CompleteJob(c.Request.Context(), c.Param("jobId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "job completed"})
}

func (h *QueueHandler) FailJob(c *gin.Context) {
	var req FailJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "reason is required")
		return
	}

	if err := h.queue.FailJob(c.Request.Context(), c.Param("jobId"), req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "job failed"})
}

func (h *QueueHandler) Cleanup(c *gin.Context) {
	removed, err := h.queue.CleanupOrphanedItems(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *QueueHandler) DispatcherStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.dispatcher.Status())
}

func (h *QueueHandler) StartDispatcher(c *gin.Context) {
	h.dispatcher.Start()
	c.JSON(http.StatusOK, h.dispatcher.Status())
}

func (h *QueueHandler) StopDispatcher(c *gin.Context) {
	if err := h.dispatcher.Stop(h.stopTimeout); err != nil {
		if errors.Is(err, core.ErrShutdownTimeout) {
			c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: "shutdown_timeout", Message: err.Error()})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.dispatcher.Status())
}

func (h *QueueHandler) ListAudit(c *gin.Context) {
	var query AuditQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, err.Error())
		return
	}

	entries, err := db.Audit.ListEntries(c.Request.Context(), h.db, db.AuditFilter{
		Action:     query.Action,
		TargetType: query.TargetType,
		TargetID:   query.TargetID,
	}, query.limitOr(100), query.Offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (h *QueueHandler) ListReconciliations(c *gin.Context) {
	var query PageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, err.Error())
		return
	}

	items, err := db.Reconciliations.ListReconciliations(c.Request.Context(), h.db, query.limitOr(100), query.Offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reconciliations": items, "count": len(items)})
}

func RegisterQueueRoutes(admin *gin.RouterGroup, h *QueueHandler) {
	queue := admin.Group("/queue")
	{
		queue.GET("", h.GetQueue)
		queue.GET("/stats", h.GetStats)
		queue.POST("/enqueue/:jobId", h.Enqueue)
		queue.POST("/entries/:id/start", h.StartEntry)
		queue.POST("/jobs/:jobId/complete", h.CompleteJob)
		queue.POST("/jobs/:jobId/fail", h.FailJob)
		queue.POST("/cleanup", h.Cleanup)
	}

	admin.GET("/dispatcher", h.DispatcherStatus)
	admin.POST("/dispatcher/start", h.StartDispatcher)
	admin.POST("/dispatcher/stop", h.StopDispatcher)

	admin.GET("/audit", h.ListAudit)
	admin.GET("/reconciliations", h.ListReconciliations)
}
