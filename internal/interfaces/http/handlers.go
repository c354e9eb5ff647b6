package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kaiwen/docverify/internal/application/port"
	"github.com/kaiwen/docverify/internal/application/service"
	"github.com/kaiwen/docverify/internal/domain/entity"
)

// maxUploadBytes bounds the multipart body read into memory
const maxUploadBytes = 50 << 20

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger Logger) *Handlers {
	return &Handlers{
		services: services,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// UploadDocument handles POST /api/documents
func (h *Handlers) UploadDocument(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "file is required"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, Response{Error: "file too large"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "cannot read file"})
		return
	}
	defer src.Close()

	content, err := io.ReadAll(io.LimitReader(src, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "cannot read file"})
		return
	}

	result, err := h.services.Ingest.Ingest(c.Request.Context(), service.IngestRequest{
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		TemplateID:  c.PostForm("template_id"),
		Priority:    c.DefaultPostForm("priority", entity.TaskPriorityNormal),
		Content:     content,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusAccepted
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, Response{Success: true, Data: result})
}

// ListDocuments handles GET /api/documents
func (h *Handlers) ListDocuments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	docs, err := h.services.Documents.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: docs})
}

// GetDocumentStatus handles GET /api/documents/:id
func (h *Handlers) GetDocumentStatus(c *gin.Context) {
	view, err := h.services.Documents.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: view})
}

// GetDocumentHistory handles GET /api/documents/:id/history
func (h *Handlers) GetDocumentHistory(c *gin.Context) {
	history, err := h.services.Documents.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: history})
}

// DownloadDocument handles GET /api/documents/:id/download
func (h *Handlers) DownloadDocument(c *gin.Context) {
	url, err := h.services.Documents.DownloadURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"download_url": url}})
}

// ServeFile handles GET /files/*path, the target of presigned download URLs.
// The token is verified statelessly against the path and expiry.
func (h *Handlers) ServeFile(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	expires, err := strconv.ParseInt(c.Query("expires"), 10, 64)
	if err != nil || !h.services.Content.VerifyToken(path, expires, c.Query("token")) {
		c.JSON(http.StatusForbidden, Response{Error: "invalid or expired download token"})
		return
	}

	content, err := h.services.Content.Get(c.Request.Context(), path)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(content), content)
}

// GetTaskStatus handles GET /api/tasks/:id
func (h *Handlers) GetTaskStatus(c *gin.Context) {
	view, err := h.services.Tasks.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: view})
}

// CancelTask handles DELETE /api/tasks/:id
func (h *Handlers) CancelTask(c *gin.Context) {
	if err := h.services.Tasks.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// TaskStatistics handles GET /api/tasks/statistics
func (h *Handlers) TaskStatistics(c *gin.Context) {
	stats, err := h.services.Tasks.Statistics(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: stats})
}

// ListPendingReviews handles GET /api/reviews
func (h *Handlers) ListPendingReviews(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	page, err := h.services.Reviews.ListPending(c.Request.Context(), port.ReviewFilter{
		Priority: c.Query("priority"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: page})
}

// GetReviewDetails handles GET /api/reviews/:id
func (h *Handlers) GetReviewDetails(c *gin.Context) {
	details, err := h.services.Reviews.GetDetails(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: details})
}

// AssignReviewsRequest is the body of POST /api/reviews/assign
type AssignReviewsRequest struct {
	ReviewerID string `json:"reviewer_id" binding:"required"`
	Count      int    `json:"count"`
	Priority   string `json:"priority"`
}

// AssignReviews handles POST /api/reviews/assign
func (h *Handlers) AssignReviews(c *gin.Context) {
	var req AssignReviewsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	items, err := h.services.Reviews.RequestAssignment(c.Request.Context(), req.ReviewerID, req.Count, req.Priority)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: items})
}

// ReviewDecisionRequest is the body of POST /api/reviews/:id/decision
type ReviewDecisionRequest struct {
	ReviewerID    string            `json:"reviewer_id" binding:"required"`
	Decision      string            `json:"decision" binding:"required"`
	Notes         string            `json:"notes"`
	CorrectedData map[string]string `json:"corrected_data"`
}

// SubmitReviewDecision handles POST /api/reviews/:id/decision
func (h *Handlers) SubmitReviewDecision(c *gin.Context) {
	var req ReviewDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	err := h.services.Reviews.SubmitDecision(c.Request.Context(), c.Param("id"), req.ReviewerID, req.Decision, req.Notes, req.CorrectedData)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ReviewerWorkload handles GET /api/reviews/workload/:reviewer_id
func (h *Handlers) ReviewerWorkload(c *gin.Context) {
	workload, err := h.services.Reviews.Workload(c.Request.Context(), c.Param("reviewer_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: workload})
}

// ReviewStatistics handles GET /api/reviews/statistics
func (h *Handlers) ReviewStatistics(c *gin.Context) {
	stats, err := h.services.Reviews.Statistics(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: stats})
}

// CreateTemplate handles POST /api/templates. The body is the raw template
// definition; it is validated against the template schema before persisting.
func (h *Handlers) CreateTemplate(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "cannot read body"})
		return
	}

	tpl, err := h.services.Templates.CreateFromJSON(c.Request.Context(), raw)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: tpl})
}

// ListTemplates handles GET /api/templates
func (h *Handlers) ListTemplates(c *gin.Context) {
	activeOnly := c.DefaultQuery("active", "true") == "true"

	templates, err := h.services.Templates.List(c.Request.Context(), activeOnly)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: templates})
}

// GetTemplate handles GET /api/templates/:id
func (h *Handlers) GetTemplate(c *gin.Context) {
	tpl, err := h.services.Templates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: tpl})
}

// AddFieldRequest is the body of POST /api/templates/:id/fields
type AddFieldRequest struct {
	Name     string             `json:"name" binding:"required"`
	BBox     entity.BoundingBox `json:"bbox" binding:"required"`
	Required bool               `json:"required"`
}

// AddTemplateField handles POST /api/templates/:id/fields
func (h *Handlers) AddTemplateField(c *gin.Context) {
	var req AddFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	tpl, err := h.services.Templates.AddField(c.Request.Context(), c.Param("id"), req.Name, req.BBox, req.Required)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: tpl})
}

// DeactivateTemplate handles DELETE /api/templates/:id
func (h *Handlers) DeactivateTemplate(c *gin.Context) {
	if err := h.services.Templates.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ExportTemplateData handles GET /api/templates/:id/export
func (h *Handlers) ExportTemplateData(c *gin.Context) {
	content, err := h.services.Sink.ExportXLSX(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="extracted_data.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", content)
}

// RegisterWebhookRequest is the body of POST /api/webhooks
type RegisterWebhookRequest struct {
	URL        string   `json:"url" binding:"required,url"`
	EventTypes []string `json:"event_types"`
	Secret     string   `json:"secret"`
}

// RegisterWebhook handles POST /api/webhooks
func (h *Handlers) RegisterWebhook(c *gin.Context) {
	var req RegisterWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	ep := entity.NewWebhookEndpoint(req.URL, req.EventTypes)
	ep.Secret = req.Secret
	if err := h.services.Webhooks.CreateEndpoint(c.Request.Context(), ep); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: ep})
}

// ListWebhooks handles GET /api/webhooks
func (h *Handlers) ListWebhooks(c *gin.Context) {
	endpoints, err := h.services.Webhooks.ListActiveEndpoints(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: endpoints})
}

// WebhookDeliveryStatistics handles GET /api/webhooks/statistics
func (h *Handlers) WebhookDeliveryStatistics(c *gin.Context) {
	counts, err := h.services.Webhooks.CountDeliveriesByStatus(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"deliveries_by_status": counts}})
}

// DeactivateWebhook handles DELETE /api/webhooks/:id
func (h *Handlers) DeactivateWebhook(c *gin.Context) {
	ep, err := h.services.Webhooks.GetEndpoint(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	ep.Active = false
	if err := h.services.Webhooks.UpdateEndpoint(c.Request.Context(), ep); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// respondError maps domain errors to HTTP status codes
func (h *Handlers) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, entity.ErrNotFound):
		c.JSON(http.StatusNotFound, Response{Error: err.Error()})
	case errors.Is(err, entity.ErrValidation), errors.Is(err, entity.ErrReviewerDecision):
		c.JSON(http.StatusBadRequest, Response{Error: err.Error()})
	default:
		h.logger.Error("Request failed", "error", err, "path", c.Request.URL.Path)
		c.JSON(http.StatusInternalServerError, Response{Error: "internal error"})
	}
}
