package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ai-hotline/internal/knowledge/processor"
	"ai-hotline/internal/knowledge/rag"
	"ai-hotline/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockKnowledge struct {
	mock.Mock
}

func (m *mockKnowledge) Ingest(ctx context.Context, tenantID uuid.UUID, title, filename string, data []byte) (processor.Document, error) {
	args := m.Called(ctx, tenantID, title, filename, data)
	return args.Get(0).(processor.Document), args.Error(1)
}

func (m *mockKnowledge) IngestText(ctx context.Context, tenantID uuid.UUID, title, text string) (processor.Document, error) {
	args := m.Called(ctx, tenantID, title, text)
	return args.Get(0).(processor.Document), args.Error(1)
}

func (m *mockKnowledge) GetDocument(ctx context.Context, tenantID, docID uuid.UUID) (processor.Document, error) {
	args := m.Called(ctx, tenantID, docID)
	return args.Get(0).(processor.Document), args.Error(1)
}

func (m *mockKnowledge) ListDocuments(ctx context.Context, tenantID uuid.UUID) ([]processor.Document, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).([]processor.Document), args.Error(1)
}

func (m *mockKnowledge) DeleteDocument(ctx context.Context, tenantID, docID uuid.UUID) error {
	return m.Called(ctx, tenantID, docID).Error(0)
}

func (m *mockKnowledge) Search(ctx context.Context, tenantID uuid.UUID, query string, topK int) ([]rag.SearchResult, error) {
	args := m.Called(ctx, tenantID, query, topK)
	results, _ := args.Get(0).([]rag.SearchResult)
	return results, args.Error(1)
}

func setupRouter(k KnowledgeBase, tenantID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(k, 1024, observability.NewNopLogger())
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("Tenant-ID", tenantID.String())
		c.Next()
	})
	g := r.Group("/api/v1/knowledge")
	g.POST("/documents", h.HandleUploadDocument)
	g.POST("/documents/text", h.HandleIngestText)
	g.GET("/documents", h.HandleListDocuments)
	g.GET("/documents/:id", h.HandleGetDocument)
	g.DELETE("/documents/:id", h.HandleDeleteDocument)
	g.POST("/search", h.HandleSearch)
	return r
}

func multipartBody(t *testing.T, filename, content, title string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	require.NoError(t, w.WriteField("title", title))
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestHandleUploadDocument(t *testing.T) {
	tenantID := uuid.New()
	k := &mockKnowledge{}
	doc := processor.Document{ID: uuid.New(), TenantID: tenantID, Title: "FAQ", Status: processor.StatusPending}
	k.On("Ingest", mock.Anything, tenantID, "FAQ", "faq.md", []byte("# Hours\nOpen daily")).Return(doc, nil)
	r := setupRouter(k, tenantID)

	body, contentType := multipartBody(t, "faq.md", "# Hours\nOpen daily", "FAQ")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/knowledge/documents", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var got processor.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, processor.StatusPending, got.Status)
	k.AssertExpectations(t)
}

func TestHandleUploadDocument_Rejected(t *testing.T) {
	tenantID := uuid.New()
	k := &mockKnowledge{}
	r := setupRouter(k, tenantID)

	t.Run("missing file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/knowledge/documents", strings.NewReader(""))
		req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("too large", func(t *testing.T) {
		body, contentType := multipartBody(t, "big.txt", strings.Repeat("a", 2048), "Big")
		req := httptest.NewRequest(http.MethodPost, "/api/v1/knowledge/documents", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "FILE_TOO_LARGE")
	})

	k.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleIngestText(t *testing.T) {
	tenantID := uuid.New()
	k := &mockKnowledge{}
	k.On("IngestText", mock.Anything, tenantID, "Hours", "We open at nine.").
		Return(processor.Document{ID: uuid.New(), Status: processor.StatusPending}, nil)
	r := setupRouter(k, tenantID)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/knowledge/documents/text",
		strings.NewReader(`{"title":"Hours","text":"We open at nine."}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/knowledge/documents/text", strings.NewReader(`{"title":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	k.AssertExpectations(t)
}

func TestHandleGetAndDeleteDocument(t *testing.T) {
	tenantID := uuid.New()
	docID := uuid.New()
	k := &mockKnowledge{}
	k.On("GetDocument", mock.Anything, tenantID, docID).Return(processor.Document{}, processor.ErrDocumentNotFound)
	k.On("DeleteDocument", mock.Anything, tenantID, docID).Return(nil)
	r := setupRouter(k, tenantID)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge/documents/"+docID.String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "DOCUMENT_NOT_FOUND")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge/documents/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/knowledge/documents/"+docID.String(), nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	k.AssertExpectations(t)
}

func TestHandleListDocuments(t *testing.T) {
	tenantID := uuid.New()
	k := &mockKnowledge{}
	k.On("ListDocuments", mock.Anything, tenantID).Return([]processor.Document{{Title: "a"}, {Title: "b"}}, nil)
	r := setupRouter(k, tenantID)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge/documents", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Documents []processor.Document `json:"documents"`
		Total     int                  `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
}

func TestHandleSearch(t *testing.T) {
	tenantID := uuid.New()
	k := &mockKnowledge{}
	k.On("Search", mock.Anything, tenantID, "opening hours", 3).Return([]rag.SearchResult{
		{ChunkRecord: rag.ChunkRecord{Content: "We open at nine."}, Score: 0.91},
	}, nil)
	k.On("Search", mock.Anything, tenantID, "nothing", 0).Return(nil, nil)
	r := setupRouter(k, tenantID)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/knowledge/search", strings.NewReader(`{"query":"opening hours","top_k":3}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "We open at nine.")

	req = httptest.NewRequest(http.MethodPost, "/api/v1/knowledge/search", strings.NewReader(`{"query":"nothing"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"query":"nothing","results":[]}`, w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/v1/knowledge/search", strings.NewReader(`{"query":"x","top_k":50}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	k.AssertExpectations(t)
}
