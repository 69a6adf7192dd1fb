package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/api/middleware"
	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/db"
)

type SubmitJobRequest struct {
	UserID    string `json:"user_id" form:"user_id"`
	FileName  string `json:"file_name" form:"file_name"`
	FileRef   string `json:"file_ref" form:"file_ref"`
	Pages     int    `json:"pages" form:"pages" binding:"required,min=1"`
	Copies    int    `json:"copies" form:"copies"`
	Color     bool   `json:"color" form:"color"`
	Duplex    bool   `json:"duplex" form:"duplex"`
	PaperType string `json:"paper_type" form:"paper_type"`
	PageRange string `json:"page_range" form:"page_range"`
}

type PaymentRequest struct {
	Method        string `json:"method" binding:"required"`
	TransactionID string `json:"transaction_id"`
}

type TerminateJobRequest struct {
	Reason string `json:"reason"`
}

type ListJobsQuery struct {
	PageQuery
	UserID string `form:"user_id"`
	Status string `form:"status"`
}

type JobResponse struct {
	*db.PrintJob
	Position   int    `json:"position,omitempty"`
	DurationMS *int64 `json:"duration_ms,omitempty"`
}

type JobHandler struct {
	queue      *core.QueueManager
	submission *core.Submission
	terminator *core.Terminator
}

func NewJobHandler(queue *core.QueueManager, submission *core.Submission, terminator *core.Terminator) *JobHandler {
	return &JobHandler{
		queue:      queue,
		submission: submission,
		terminator: terminator,
	}
}

// SubmitJob accepts a multipart upload (field "file") or a JSON body that
// references a file already in the store.
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	userID := middleware.UserID(c)
	if middleware.IsAdmin(c) && req.UserID != "" {
		userID = req.UserID
	}

	submit := core.SubmitRequest{
		UserID:   userID,
		FileName: req.FileName,
		FileRef:  req.FileRef,
		Pages:    req.Pages,
		Settings: core.PrintSettings{
			Copies:    req.Copies,
			Color:     req.Color,
			Duplex:    req.Duplex,
			PaperType: req.PaperType,
			PageRange: req.PageRange,
		},
	}

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			badRequest(c, "file is required")
			return
		}
		f, err := fh.Open()
		if err != nil {
			badRequest(c, "unreadable upload")
			return
		}
		defer f.Close()

		submit.File = f
		submit.FileRef = ""
		if submit.FileName == "" {
			submit.FileName = fh.Filename
		}
	}

	result, err := h.submission.Submit(c.Request.Context(), submit)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Warning != "" {
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}

// loadOwnedJob fetches the job and hides it from users who don't own it.
func (h *JobHandler) loadOwnedJob(c *gin.Context) (*db.PrintJob, bool) {
	job, err := h.queue.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if !middleware.IsAdmin(c) && job.UserID != middleware.UserID(c) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: core.KindNotFound.String(), Message: "job not found"})
		return nil, false
	}
	return job, true
}

func (h *JobHandler) GetJob(c *gin.Context) {
	job, ok := h.loadOwnedJob(c)
	if !ok {
		return
	}

	resp := JobResponse{PrintJob: job}
	if pos, err := h.queue.Position(c.Request.Context(), job.ID); err == nil {
		resp.Position = pos
	}
	if job.StartedAt != nil && job.CompletedAt != nil {
		duration := job.CompletedAt.Sub(*job.StartedAt).Milliseconds()
		resp.DurationMS = &duration
	}

	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	var query ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, err.Error())
		return
	}

	filter := db.JobFilter{
		UserID: query.UserID,
		Status: query.Status,
		Limit:  query.limitOr(50),
		Offset: query.Offset,
	}
	if !middleware.IsAdmin(c) {
		filter.UserID = middleware.UserID(c)
	}

	jobs, err := h.submission.ListJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"limit":  filter.Limit,
		"offset": filter.Offset,
		"count":  len(jobs),
	})
}

func (h *JobHandler) RecordPayment(c *gin.Context) {
	job, ok := h.loadOwnedJob(c)
	if !ok {
		return
	}

	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "method is required")
		return
	}

	paid, err := h.submission.RecordPayment(c.Request.Context(), job.ID, req.Method, req.TransactionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, paid)
}

func (h *JobHandler) CancelJob(c *gin.Context) {
	job, ok := h.loadOwnedJob(c)
	if !ok {
		return
	}

	if err := h.submission.CancelJob(c.Request.Context(), job.ID, job.UserID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "job cancelled"})
}

func (h *JobHandler) GetPosition(c *gin.Context) {
	job, ok := h.loadOwnedJob(c)
	if !ok {
		return
	}

	pos, err := h.queue.Position(c.Request.Context(), job.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_id": job.ID, "position": pos})
}

func (h *JobHandler) DeleteJob(c *gin.Context) {
	job, ok := h.loadOwnedJob(c)
	if !ok {
		return
	}

	if err := h.submission.DeleteJob(c.Request.Context(), job.ID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "job deleted"})
}

func (h *JobHandler) TerminateJob(c *gin.Context) {
	var req TerminateJobRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}

	result, err := h.terminator.Terminate(c.Request.Context(), core.TerminateRequest{
		JobID:  c.Param("id"),
		Actor:  middleware.UserID(c),
		Reason: req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func RegisterJobRoutes(user, admin *gin.RouterGroup, h *JobHandler) {
	user.POST("/jobs", h.SubmitJob)
	user.GET("/jobs", h.ListJobs)
	user.GET("/jobs/:id", h.GetJob)
	user.POST("/jobs/:id/payment", h.RecordPayment)
	user.POST("/jobs/:id/cancel", h.CancelJob)
	user.GET("/jobs/:id/position", h.GetPosition)
	user.DELETE("/jobs/:id", h.DeleteJob)

	admin.POST("/jobs/:id/terminate", h.TerminateJob)
}
