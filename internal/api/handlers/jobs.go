package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/KudcraftsHQ/label-printer-server/internal/core"
	"github.com/KudcraftsHQ/label-printer-server/internal/journal"
)

const defaultListLimit = 50

type JobHandler struct {
	queue     *core.JobQueue
	journal   *journal.Journal
	listLimit int
}

// NewJobHandler serves queue and history endpoints. A nil journal
// disables the history listing.
func NewJobHandler(queue *core.JobQueue, jnl *journal.Journal, listLimit int) *JobHandler {
	if listLimit <= 0 {
		listLimit = defaultListLimit
	}
	return &JobHandler{queue: queue, journal: jnl, listLimit: listLimit}
}

type LabelData struct {
	QRData   string `json:"qrData"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
}

type PrintRequest struct {
	PageConfig string     `json:"pageConfig"`
	Label      *LabelData `json:"label" binding:"required"`
	Quantity   *int       `json:"quantity"`
}

type CustomPrintRequest struct {
	TSPL string `json:"tspl" binding:"required"`
}

type ListJobsQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
}

type HistoryQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

type JobResponse struct {
	ID           uint64     `json:"id"`
	Kind         string     `json:"kind"`
	Status       string     `json:"status"`
	PageConfig   string     `json:"pageConfig,omitempty"`
	Label        *LabelData `json:"label,omitempty"`
	Quantity     int        `json:"quantity,omitempty"`
	TSPL         string     `json:"tspl,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	DurationMS   *int64     `json:"durationMs,omitempty"`
}

func (h *JobHandler) RegisterRoutes(public, protected *gin.RouterGroup) {
	public.GET("/jobs", h.ListJobs)
	public.GET("/jobs/history", h.History)
	public.GET("/jobs/:id", h.GetJob)
	public.GET("/queue/stats", h.QueueStats)
	protected.POST("/print", h.Print)
	protected.POST("/print/custom", h.PrintCustom)
	protected.POST("/queue/clear", h.ClearQueue)
}

func (h *JobHandler) Print(c *gin.Context) {
	var req PrintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	label := core.LabelContent{
		QRData:   req.Label.QRData,
		Title:    req.Label.Title,
		Subtitle: req.Label.Subtitle,
	}

	job, err := h.queue.EnqueueLabel(req.PageConfig, label, quantity)
	if err != nil {
		jobError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"job": jobResponse(job)})
}

func (h *JobHandler) PrintCustom(c *gin.Context) {
	var req CustomPrintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	job, err := h.queue.EnqueueRaw(req.TSPL)
	if err != nil {
		jobError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"job": jobResponse(job)})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "invalid job id",
		})
		return
	}

	job, err := h.queue.Get(id)
	if err != nil {
		jobError(c, err)
		return
	}

	c.JSON(http.StatusOK, jobResponse(job))
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	var query ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	filter := core.ListFilter{Limit: query.Limit}
	if filter.Limit == 0 {
		filter.Limit = h.listLimit
	}
	if query.Status != "" {
		status, err := core.ParseJobStatus(query.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: err.Error(),
			})
			return
		}
		filter.Status = status
	}

	jobs := h.queue.List(filter)
	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, jobResponse(job))
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  responses,
		"count": len(responses),
	})
}

func (h *JobHandler) QueueStats(c *gin.Context) {
	stats := h.queue.Stats()
	c.JSON(http.StatusOK, gin.H{
		"queued":     stats.Queued,
		"processing": stats.Processing,
		"completed":  stats.Completed,
		"failed":     stats.Failed,
		"total":      stats.Total,
	})
}

func (h *JobHandler) ClearQueue(c *gin.Context) {
	removed := h.queue.ClearCompleted()
	c.JSON(http.StatusOK, gin.H{"cleared": removed})
}

func (h *JobHandler) History(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "journal_disabled",
			Message: "Job history is not enabled",
		})
		return
	}

	var query HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	entries, err := h.journal.List(query.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to load job history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"history": entries,
		"count":   len(entries),
	})
}

func jobResponse(job *core.Job) JobResponse {
	resp := JobResponse{
		ID:           job.ID,
		Kind:         string(job.Kind),
		Status:       string(job.Status),
		PageConfig:   job.PageConfig,
		Quantity:     job.Quantity,
		TSPL:         job.TSPL,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		FinishedAt:   job.FinishedAt,
	}
	if job.Label != nil {
		resp.Label = &LabelData{
			QRData:   job.Label.QRData,
			Title:    job.Label.Title,
			Subtitle: job.Label.Subtitle,
		}
	}
	if job.StartedAt != nil && job.FinishedAt != nil {
		ms := job.FinishedAt.Sub(*job.StartedAt).Milliseconds()
		resp.DurationMS = &ms
	}
	return resp
}

func jobError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidJob):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
	case errors.Is(err, core.ErrJobNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
	}
}
