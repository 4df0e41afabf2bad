package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"decisiondesk-backend/models"
	"decisiondesk-backend/retrieval"
	"decisiondesk-backend/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MaxPolicyBytes caps a single uploaded policy document
const MaxPolicyBytes = 100 * 1024

// PolicyHandler handles HTTP requests for the policy corpus
type PolicyHandler struct {
	policyService     *service.PolicyService
	logger            *zap.Logger
	allowedExtensions map[string]bool
}

// NewPolicyHandler creates a new policy handler
func NewPolicyHandler(policyService *service.PolicyService, logger *zap.Logger) *PolicyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	registerValidators()
	return &PolicyHandler{
		policyService: policyService,
		logger:        logger,
		allowedExtensions: map[string]bool{
			".txt":      true,
			".md":       true,
			".markdown": true,
			"":          true,
		},
	}
}

// PolicyDocumentsRequest represents a JSON batch of policy documents
type PolicyDocumentsRequest struct {
	Documents []PolicyDocument `json:"documents" binding:"required,min=1,max=100,dive"`
}

// PolicyDocument is one named policy text
type PolicyDocument struct {
	Name string `json:"name" binding:"required,max=255"`
	Text string `json:"text" binding:"required,max=102400"`
}

// AddPolicies handles POST /api/policies (multipart file or JSON documents)
func (h *PolicyHandler) AddPolicies(c *gin.Context) {
	var docs []models.PolicyDocument
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		doc, ok := h.readUpload(c)
		if !ok {
			return
		}
		docs = []models.PolicyDocument{doc}
	} else {
		var ok bool
		if docs, ok = bindDocuments(c); !ok {
			return
		}
	}

	result, err := h.policyService.AddDocuments(c.Request.Context(), docs)
	if err != nil {
		h.indexError(c, err)
		return
	}

	respondData(c, http.StatusCreated, result)
}

// ReindexPolicies handles PUT /api/policies and replaces the whole corpus
func (h *PolicyHandler) ReindexPolicies(c *gin.Context) {
	docs, ok := bindDocuments(c)
	if !ok {
		return
	}

	result, err := h.policyService.Reindex(c.Request.Context(), docs)
	if err != nil {
		h.indexError(c, err)
		return
	}

	respondData(c, http.StatusOK, result)
}

// SearchQuery represents the policy search parameters
type SearchQuery struct {
	Query        string  `form:"q" binding:"required,max=1000"`
	K            int     `form:"k" binding:"omitempty,min=1,max=20"`
	MinRelevance float64 `form:"min_relevance" binding:"omitempty,min=0,max=1"`
}

// SearchPolicies handles GET /api/policies/search
func (h *PolicyHandler) SearchPolicies(c *gin.Context) {
	var q SearchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	results, err := h.policyService.Search(c.Request.Context(), q.Query, q.K, q.MinRelevance)
	if err != nil {
		h.indexError(c, err)
		return
	}

	respondData(c, http.StatusOK, results)
}

// PolicyStats handles GET /api/policies/stats
func (h *PolicyHandler) PolicyStats(c *gin.Context) {
	n, err := h.policyService.Count(c.Request.Context())
	if err != nil {
		h.indexError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"chunks": n})
}

func (h *PolicyHandler) readUpload(c *gin.Context) (models.PolicyDocument, bool) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "MISSING_FILE", "File is required")
		return models.PolicyDocument{}, false
	}

	if fileHeader.Size > MaxPolicyBytes {
		respondError(c, http.StatusBadRequest, "FILE_TOO_LARGE",
			fmt.Sprintf("File size exceeds maximum of %d bytes", MaxPolicyBytes))
		return models.PolicyDocument{}, false
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !h.allowedExtensions[ext] {
		respondError(c, http.StatusBadRequest, "INVALID_FILE_TYPE",
			"File type not allowed. Allowed types: TXT, MD")
		return models.PolicyDocument{}, false
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "FILE_OPEN_ERROR", err.Error())
		return models.PolicyDocument{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxPolicyBytes+1))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "FILE_READ_ERROR", err.Error())
		return models.PolicyDocument{}, false
	}
	if len(data) > MaxPolicyBytes {
		respondError(c, http.StatusBadRequest, "FILE_TOO_LARGE",
			fmt.Sprintf("File size exceeds maximum of %d bytes", MaxPolicyBytes))
		return models.PolicyDocument{}, false
	}
	if !utf8.Valid(data) {
		respondError(c, http.StatusBadRequest, "INVALID_ENCODING", "Policy files must be UTF-8 text")
		return models.PolicyDocument{}, false
	}

	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		name = filepath.Base(fileHeader.Filename)
	}
	return models.PolicyDocument{Name: name, Text: string(data)}, true
}

func bindDocuments(c *gin.Context) ([]models.PolicyDocument, bool) {
	var req PolicyDocumentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return nil, false
	}

	docs := make([]models.PolicyDocument, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = models.PolicyDocument{Name: d.Name, Text: d.Text}
	}
	return docs, true
}

func (h *PolicyHandler) indexError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, retrieval.ErrDocumentExists):
		respondError(c, http.StatusConflict, "DOCUMENT_EXISTS", err.Error()+"; use PUT /api/policies to rebuild the corpus")
	case errors.Is(err, retrieval.ErrEmptyDocument):
		respondError(c, http.StatusBadRequest, "EMPTY_DOCUMENT", err.Error())
	case errors.Is(err, service.ErrIndexingDisabled):
		respondError(c, http.StatusServiceUnavailable, "INDEX_DISABLED", "No policy index is configured on this server")
	case errors.Is(err, retrieval.ErrUnavailable):
		respondError(c, http.StatusServiceUnavailable, "RETRIEVAL_UNAVAILABLE", err.Error())
	default:
		h.logger.Error("Policy request failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "POLICY_ERROR", err.Error())
	}
}
