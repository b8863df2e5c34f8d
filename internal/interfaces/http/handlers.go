package http

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/p2p-procurement/internal/application/port"
	"github.com/garyjia/p2p-procurement/internal/application/workflow"
	"github.com/garyjia/p2p-procurement/internal/domain/entity"
	"github.com/garyjia/p2p-procurement/internal/domain/errs"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine         workflow.Engine
	register       RegisterWriter
	health         HealthFunc
	maxUploadBytes int64
	now            func() time.Time
	logger         Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(engine workflow.Engine, register RegisterWriter, health HealthFunc, maxUploadBytes int64, logger Logger) *Handlers {
	return &Handlers{
		engine:         engine,
		register:       register,
		health:         health,
		maxUploadBytes: maxUploadBytes,
		now:            time.Now,
		logger:         logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// ReviewRequest is the body of PATCH /api/requests/:id/review
type ReviewRequest struct {
	Action  string `json:"action"`
	Comment string `json:"comment"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	healthy, details := true, interface{}(nil)
	if h.health != nil {
		healthy, details = h.health()
	}

	resp := HealthResponse{
		Status:     "healthy",
		Timestamp:  h.now().UTC().Format(time.RFC3339),
		Components: details,
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, Response{Success: healthy, Data: resp})
}

// CreateRequest handles POST /api/requests
func (h *Handlers) CreateRequest(c *gin.Context) {
	h.limitBody(c)

	quote, err := h.formFile(c, "proforma_file")
	if err != nil {
		h.writeError(c, err)
		return
	}

	amount, err := decimal.NewFromString(c.PostForm("amount"))
	if err != nil {
		h.writeError(c, errs.Validation(errs.CodeInvalidAmount, "amount must be a decimal number"))
		return
	}

	draft := entity.RequestDraft{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Amount:      amount,
	}

	req, err := h.engine.CreateRequest(c.Request.Context(), actorFrom(c), draft, quote)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: req})
}

// ListRequests handles GET /api/requests
func (h *Handlers) ListRequests(c *gin.Context) {
	opts := port.ListOptions{OrderBy: port.ListOrder(c.Query("ordering"))}

	requests, err := h.engine.List(c.Request.Context(), actorFrom(c), opts)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if requests == nil {
		requests = []*entity.PurchaseRequest{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: requests})
}

// GetRequest handles GET /api/requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	req, err := h.engine.Get(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// ReviewRequest handles PATCH /api/requests/:id/review
func (h *Handlers) ReviewRequest(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	var body ReviewRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.writeError(c, errs.Validation(errs.CodeInvalidField, "request body must be JSON"))
		return
	}

	req, err := h.engine.Review(c.Request.Context(), actorFrom(c), id, entity.Decision(body.Action), body.Comment)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// SubmitReceipt handles POST /api/requests/:id/submit-receipt
func (h *Handlers) SubmitReceipt(c *gin.Context) {
	h.limitBody(c)

	id, ok := h.requestID(c)
	if !ok {
		return
	}

	receipt, err := h.formFile(c, "receipt_file")
	if err != nil {
		h.writeError(c, err)
		return
	}

	req, err := h.engine.SubmitReceipt(c.Request.Context(), actorFrom(c), id, receipt)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// DownloadDocument handles GET /api/requests/:id/documents/:slot
func (h *Handlers) DownloadDocument(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	doc, err := h.engine.OpenDocument(c.Request.Context(), actorFrom(c), id, entity.DocumentSlot(c.Param("slot")))
	if err != nil {
		h.writeError(c, err)
		return
	}

	contentType := mime.TypeByExtension(path.Ext(doc.Name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Name}))
	c.Data(http.StatusOK, contentType, doc.Content)
}

// ExportRegister handles GET /api/requests/export
func (h *Handlers) ExportRegister(c *gin.Context) {
	actor := actorFrom(c)

	requests, err := h.engine.List(c.Request.Context(), actor, port.ListOptions{OrderBy: port.OrderCreatedAsc})
	if err != nil {
		h.writeError(c, err)
		return
	}

	now := h.now()
	content, err := h.register.Write(requests, now)
	if err != nil {
		h.logger.Error("Failed to render register", "actor", actor.Username, "error", err)
		h.writeError(c, err)
		return
	}

	filename := fmt.Sprintf("purchase_register_%s.xlsx", now.Format("20060102"))
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	c.Data(http.StatusOK, xlsxContentType, content)
}

// limitBody bounds the multipart body read by the handler
func (h *Handlers) limitBody(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
}

// formFile reads an uploaded file. An absent field yields nil so the engine
// reports the missing file.
func (h *Handlers) formFile(c *gin.Context, field string) (*entity.UploadedFile, error) {
	header, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			return nil, nil
		case errors.As(err, &tooLarge):
			return nil, errs.Validation(errs.CodeInvalidField, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
		default:
			return nil, errs.Wrap(err, errs.KindValidation, errs.CodeInvalidField, "malformed multipart body")
		}
	}

	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	return &entity.UploadedFile{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     content,
	}, nil
}

func (h *Handlers) requestID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(c, errs.Validation(errs.CodeInvalidField, "invalid request ID"))
		return 0, false
	}
	return id, true
}

// writeError maps a workflow error onto its status and the error envelope
func (h *Handlers) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		msg = "internal server error"
	}

	c.JSON(status, Response{
		Success: false,
		Error:   msg,
		Code:    errs.CodeOf(err),
	})
}

func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindAuthorization:
		if errs.CodeOf(err) == errs.CodeWrongLevel {
			return http.StatusBadRequest
		}
		return http.StatusForbidden
	case errs.KindPrecondition:
		return http.StatusConflict
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindCollaborator:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
