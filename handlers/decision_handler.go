package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"decisiondesk-backend/audit"
	"decisiondesk-backend/ratelimit"
	"decisiondesk-backend/report"
	"decisiondesk-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DecisionHandler handles HTTP requests for decisions
type DecisionHandler struct {
	decisionService *service.DecisionService
	logger          *zap.Logger
}

// NewDecisionHandler creates a new decision handler
func NewDecisionHandler(decisionService *service.DecisionService, logger *zap.Logger) *DecisionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	registerValidators()
	return &DecisionHandler{decisionService: decisionService, logger: logger}
}

// DecideRequest represents the request body for asking a question
type DecideRequest struct {
	CallerID     string          `json:"caller_id" binding:"omitempty,callerid"`
	Insight      json.RawMessage `json:"insight"`
	Policies     []string        `json:"policies" binding:"omitempty,max=50,dive,max=102400"`
	Question     string          `json:"question" binding:"max=1000"`
	TopK         int             `json:"top_k" binding:"omitempty,min=1,max=20"`
	MinRelevance *float64        `json:"min_relevance" binding:"omitempty,min=0,max=1"`
}

// Decide handles POST /api/decisions
func (h *DecisionHandler) Decide(c *gin.Context) {
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	callerID := req.CallerID
	if header := strings.TrimSpace(c.GetHeader(CallerIDHeader)); header != "" {
		if !ValidCallerID(header) {
			respondError(c, http.StatusBadRequest, "INVALID_CALLER_ID",
				"X-Caller-ID must be 1-100 letters, digits, '.', '_' or '-'")
			return
		}
		callerID = header
	}

	result, err := h.decisionService.Decide(c.Request.Context(), service.DecideRequest{
		CallerID:     callerID,
		Insight:      req.Insight,
		Policies:     req.Policies,
		Question:     req.Question,
		TopK:         req.TopK,
		MinRelevance: req.MinRelevance,
	})
	if err != nil {
		var limitErr *ratelimit.LimitError
		switch {
		case errors.As(err, &limitErr):
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(limitErr.RetryAfter.Seconds()))))
			respondError(c, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", limitErr.Error())
		case errors.Is(err, service.ErrRequestCanceled):
			respondError(c, http.StatusRequestTimeout, "REQUEST_CANCELED", "The request was canceled before the report was recorded")
		default:
			h.logger.Error("Decision failed", zap.Error(err))
			respondError(c, http.StatusInternalServerError, "DECISION_FAILED", err.Error())
		}
		return
	}

	respondData(c, http.StatusOK, result)
}

// ListDecisionsQuery represents the audit query parameters
type ListDecisionsQuery struct {
	CallerID string    `form:"caller_id" binding:"omitempty,callerid"`
	From     time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To       time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit    int       `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// ListDecisions handles GET /api/decisions
func (h *DecisionHandler) ListDecisions(c *gin.Context) {
	var q ListDecisionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	if !q.From.IsZero() && !q.To.IsZero() && !q.To.After(q.From) {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "'to' must be later than 'from'")
		return
	}

	records, err := h.decisionService.ListDecisions(c.Request.Context(), audit.Filter{
		CallerID: q.CallerID,
		From:     q.From,
		To:       q.To,
		Limit:    q.Limit,
	})
	if err != nil {
		h.auditError(c, err)
		return
	}

	respondData(c, http.StatusOK, records)
}

// GetDecision handles GET /api/decisions/:id
func (h *DecisionHandler) GetDecision(c *gin.Context) {
	id, ok := parseDecisionID(c)
	if !ok {
		return
	}

	rec, err := h.decisionService.GetDecision(c.Request.Context(), id)
	if err != nil {
		h.auditError(c, err)
		return
	}

	respondData(c, http.StatusOK, rec)
}

// GetReport handles GET /api/decisions/:id/report?format=
func (h *DecisionHandler) GetReport(c *gin.Context) {
	id, ok := parseDecisionID(c)
	if !ok {
		return
	}
	format, err := report.ParseFormat(c.Query("format"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error())
		return
	}

	data, err := h.decisionService.Report(c.Request.Context(), id, format)
	if err != nil {
		h.auditError(c, err)
		return
	}

	if format == report.FormatPDF {
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="decision-%s.pdf"`, id))
	}
	c.Data(http.StatusOK, format.ContentType(), data)
}

// ExportRequest represents the request body for persisting a report
type ExportRequest struct {
	Format string `json:"format"`
}

// ExportReport handles POST /api/decisions/:id/exports
func (h *DecisionHandler) ExportReport(c *gin.Context) {
	id, ok := parseDecisionID(c)
	if !ok {
		return
	}

	var req ExportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}
	format, err := report.ParseFormat(req.Format)
	if err != nil {
		respondError(c, http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error())
		return
	}

	export, err := h.decisionService.Export(c.Request.Context(), id, format)
	if err != nil {
		h.auditError(c, err)
		return
	}

	respondData(c, http.StatusCreated, export)
}

// ClearCache handles DELETE /api/cache
func (h *DecisionHandler) ClearCache(c *gin.Context) {
	n := h.decisionService.ClearCache()
	respondData(c, http.StatusOK, gin.H{"cleared": n})
}

// CacheStats handles GET /api/cache/stats
func (h *DecisionHandler) CacheStats(c *gin.Context) {
	respondData(c, http.StatusOK, h.decisionService.CacheStats())
}

func (h *DecisionHandler) auditError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrDecisionNotFound):
		respondError(c, http.StatusNotFound, "DECISION_NOT_FOUND", "Decision not found")
	case errors.Is(err, service.ErrAuditDisabled):
		respondError(c, http.StatusServiceUnavailable, "AUDIT_DISABLED", "The audit ledger is not configured on this server")
	case errors.Is(err, service.ErrExportDisabled):
		respondError(c, http.StatusServiceUnavailable, "EXPORT_DISABLED", "Report export storage is not configured on this server")
	default:
		h.logger.Error("Audit request failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "AUDIT_ERROR", err.Error())
	}
}

func parseDecisionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "Invalid decision ID format")
		return uuid.Nil, false
	}
	return id, true
}
