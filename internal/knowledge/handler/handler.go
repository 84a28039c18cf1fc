package handler

import (
	"context"
	"io"
	"net/http"

	"ai-hotline/internal/apierrors"
	authHandler "ai-hotline/internal/auth/handler"
	"ai-hotline/internal/knowledge/processor"
	"ai-hotline/internal/knowledge/rag"
	"ai-hotline/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// KnowledgeBase is the subset of *processor.KnowledgeProcessor the routes need.
type KnowledgeBase interface {
	Ingest(ctx context.Context, tenantID uuid.UUID, title, filename string, data []byte) (processor.Document, error)
	IngestText(ctx context.Context, tenantID uuid.UUID, title, text string) (processor.Document, error)
	GetDocument(ctx context.Context, tenantID, docID uuid.UUID) (processor.Document, error)
	ListDocuments(ctx context.Context, tenantID uuid.UUID) ([]processor.Document, error)
	DeleteDocument(ctx context.Context, tenantID, docID uuid.UUID) error
	Search(ctx context.Context, tenantID uuid.UUID, query string, topK int) ([]rag.SearchResult, error)
}

type Handler struct {
	knowledge   KnowledgeBase
	maxFileSize int64
	logger      *observability.Logger
}

func New(knowledge KnowledgeBase, maxFileSize int64, logger *observability.Logger) Handler {
	return Handler{knowledge: knowledge, maxFileSize: maxFileSize, logger: logger}
}

type IngestTextRequest struct {
	Title string `json:"title"`
	Text  string `json:"text" binding:"required"`
}

type SearchRequest struct {
	Query string `json:"query" binding:"required"`
	TopK  int    `json:"top_k" binding:"omitempty,min=1,max=20"`
}

// HandleUploadDocument handles POST /api/v1/knowledge/documents (multipart: file, title)
func (h *Handler) HandleUploadDocument(c *gin.Context) {
	tenantID, ok := authHandler.TenantID(c)
	if !ok {
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		apierrors.RespondWithError(c, apierrors.BadRequest("INVALID_INPUT", "A file is required"))
		return
	}
	if h.maxFileSize > 0 && file.Size > h.maxFileSize {
		apierrors.RespondWithError(c, apierrors.BadRequest("FILE_TOO_LARGE", "File exceeds the maximum upload size"))
		return
	}

	f, err := file.Open()
	if err != nil {
		h.logger.Error(c.Request.Context(), "failed to open uploaded file", err)
		apierrors.RespondWithError(c, apierrors.BadRequest("INVALID_INPUT", "Unable to read uploaded file"))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		h.logger.Error(c.Request.Context(), "failed to read uploaded file", err)
		apierrors.RespondWithError(c, apierrors.BadRequest("INVALID_INPUT", "Unable to read uploaded file"))
		return
	}

	doc, err := h.knowledge.Ingest(c.Request.Context(), tenantID, c.PostForm("title"), file.Filename, data)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, doc)
}

// HandleIngestText handles POST /api/v1/knowledge/documents/text
func (h *Handler) HandleIngestText(c *gin.Context) {
	tenantID, ok := authHandler.TenantID(c)
	if !ok {
		return
	}
	var req IngestTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.RespondWithValidationError(c, err)
		return
	}
	doc, err := h.knowledge.IngestText(c.Request.Context(), tenantID, req.Title, req.Text)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, doc)
}

// HandleListDocuments handles GET /api/v1/knowledge/documents
func (h *Handler) HandleListDocuments(c *gin.Context) {
	tenantID, ok := authHandler.TenantID(c)
	if !ok {
		return
	}
	docs, err := h.knowledge.ListDocuments(c.Request.Context(), tenantID)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "total": len(docs)})
}

// HandleGetDocument handles GET /api/v1/knowledge/documents/:id
func (h *Handler) HandleGetDocument(c *gin.Context) {
	tenantID, ok := authHandler.TenantID(c)
	if !ok {
		return
	}
	docID, ok := documentID(c)
	if !ok {
		return
	}
	doc, err := h.knowledge.GetDocument(c.Request.Context(), tenantID, docID)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// HandleDeleteDocument handles DELETE /api/v1/knowledge/documents/:id
func (h *Handler) HandleDeleteDocument(c *gin.Context) {
	tenantID, ok := authHandler.TenantID(c)
	if !ok {
		return
	}
	docID, ok := documentID(c)
	if !ok {
		return
	}
	if err := h.knowledge.DeleteDocument(c.Request.Context(), tenantID, docID); err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleSearch handles POST /api/v1/knowledge/search
func (h *Handler) HandleSearch(c *gin.Context) {
	tenantID, ok := authHandler.TenantID(c)
	if !ok {
		return
	}
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.RespondWithValidationError(c, err)
		return
	}
	results, err := h.knowledge.Search(c.Request.Context(), tenantID, req.Query, req.TopK)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	if results == nil {
		results = []rag.SearchResult{}
	}
	c.JSON(http.StatusOK, gin.H{"query": req.Query, "results": results})
}

func documentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apierrors.RespondWithError(c, apierrors.BadRequest("INVALID_INPUT", "Invalid document ID"))
		return uuid.Nil, false
	}
	return id, true
}
