package processor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ai-hotline/internal/apperr"
	"ai-hotline/internal/config"
	"ai-hotline/internal/identity"
	"ai-hotline/internal/knowledge/rag"
	"ai-hotline/internal/observability"
	"ai-hotline/internal/providers"
	"ai-hotline/internal/store"
	"ai-hotline/internal/workers"

	"github.com/google/uuid"
)

// DocumentStore defines the database operations required by KnowledgeProcessor
type DocumentStore interface {
	Available() bool
	CreateDocument(ctx context.Context, doc store.KnowledgeDocument) error
	UpdateDocumentStatus(ctx context.Context, tenantID, docID uuid.UUID, status string, chunkCount int, errMsg *string) error
	GetDocument(ctx context.Context, tenantID, docID uuid.UUID) (store.KnowledgeDocument, error)
	ListDocuments(ctx context.Context, tenantID uuid.UUID) ([]store.KnowledgeDocument, error)
	DeleteDocument(ctx context.Context, tenantID, docID uuid.UUID) error
}

// TenantResolver loads the tenant a request acts for.
type TenantResolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID) (*identity.Tenant, error)
}

// EmbeddingChains builds the embedding provider chain for a tenant preference.
type EmbeddingChains interface {
	EmbeddingChain(preferred []string) *providers.EmbeddingChain
}

// Cache stores embeddings between ingestions. *redis.Client satisfies it.
type Cache interface {
	IsEnabled() bool
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"

	jobTypeIngest = "ingest_document"
)

var (
	ErrDocumentNotFound = apperr.New(apperr.NotFound, "DOCUMENT_NOT_FOUND", "document not found")
	ErrFeatureDisabled  = apperr.New(apperr.TenantAccessDenied, "FEATURE_DISABLED", "knowledge management is not enabled for this tenant")
	ErrEmptyQuery       = apperr.New(apperr.Validation, "EMPTY_QUERY", "query is required")
	ErrQueueUnavailable = apperr.New(apperr.DocumentProcessing, "INGESTION_UNAVAILABLE", "document ingestion is not accepting work")
)

type Document struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	Title      string    `json:"title"`
	Filename   string    `json:"filename"`
	SizeBytes  int64     `json:"size_bytes"`
	Status     string    `json:"status"`
	ChunkCount int       `json:"chunk_count"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type KnowledgeProcessor struct {
	store     DocumentStore
	tenants   TenantResolver
	chains    EmbeddingChains
	cache     Cache
	persisted rag.VectorStore
	memory    *rag.MemoryVectorStore
	documents *documentRegistry
	chunker   *rag.Chunker
	pool      workers.WorkerPool
	config    config.KnowledgeConfig
	metrics   *observability.Metrics
	logger    *observability.Logger
}

// New wires the processor and its ingestion worker pool. persisted is used while the database is
// reachable; otherwise chunks and documents live in memory.
func New(
	cfg config.KnowledgeConfig,
	documents DocumentStore,
	persisted rag.VectorStore,
	tenants TenantResolver,
	chains EmbeddingChains,
	cache Cache,
	tokenizer rag.Tokenizer,
	metrics *observability.Metrics,
	logger *observability.Logger,
) *KnowledgeProcessor {
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	p := &KnowledgeProcessor{
		store:     documents,
		tenants:   tenants,
		chains:    chains,
		cache:     cache,
		persisted: persisted,
		memory:    rag.NewMemoryVectorStore(),
		documents: newDocumentRegistry(),
		chunker: rag.NewChunker(rag.ChunkerConfig{
			ChunkSize:    cfg.ChunkSize,
			ChunkOverlap: cfg.ChunkOverlap,
			MinChunkSize: cfg.MinChunkSize,
		}, tokenizer),
		config:  cfg,
		metrics: metrics,
		logger:  logger,
	}
	p.pool = workers.NewWorkerPool(workers.WorkerPoolConfig{
		NumWorkers: cfg.Workers,
		QueueSize:  100,
	}, p, logger)
	return p
}

func (p *KnowledgeProcessor) Name() string { return "knowledge_ingestion" }

func (p *KnowledgeProcessor) Start(ctx context.Context) error { return p.pool.Start(ctx) }

func (p *KnowledgeProcessor) Drain(ctx context.Context) error { return p.pool.Drain(ctx) }

func (p *KnowledgeProcessor) persistent() bool {
	return p.store.Available() && p.persisted != nil
}

func (p *KnowledgeProcessor) vectors() rag.VectorStore {
	if p.persistent() {
		return p.persisted
	}
	return p.memory
}

func (p *KnowledgeProcessor) tenant(ctx context.Context, tenantID uuid.UUID) (*identity.Tenant, error) {
	tenant, err := p.tenants.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.HasFeature(identity.FeatureKnowledgeManagement) {
		return nil, ErrFeatureDisabled
	}
	return tenant, nil
}

// Ingest validates a file, registers a pending document and queues it for extraction,
// chunking and embedding.
func (p *KnowledgeProcessor) Ingest(ctx context.Context, tenantID uuid.UUID, title, filename string, data []byte) (Document, error) {
	tenant, err := p.tenant(ctx, tenantID)
	if err != nil {
		return Document{}, err
	}
	if err := rag.ValidateFile(filename, int64(len(data)), p.config.MaxFileSize); err != nil {
		return Document{}, err
	}
	return p.enqueue(ctx, tenant, title, filepath.Base(filename), int64(len(data)), ingestTask{filename: filename, data: data})
}

// IngestText queues raw text as a document.
func (p *KnowledgeProcessor) IngestText(ctx context.Context, tenantID uuid.UUID, title, text string) (Document, error) {
	tenant, err := p.tenant(ctx, tenantID)
	if err != nil {
		return Document{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Document{}, apperr.Validationf("EMPTY_TEXT", "text is required")
	}
	if p.config.MaxFileSize > 0 && int64(len(text)) > p.config.MaxFileSize {
		return Document{}, apperr.New(apperr.File, "FILE_TOO_LARGE",
			fmt.Sprintf("text exceeds the maximum size of %d bytes", p.config.MaxFileSize))
	}
	return p.enqueue(ctx, tenant, title, "", int64(len(text)), ingestTask{text: text})
}

func (p *KnowledgeProcessor) enqueue(ctx context.Context, tenant *identity.Tenant, title, filename string, size int64, task ingestTask) (Document, error) {
	if strings.TrimSpace(title) == "" {
		title = filename
		if title == "" {
			title = "Untitled"
		}
	}
	now := time.Now().UTC()
	doc := Document{
		ID:        uuid.New(),
		TenantID:  tenant.ID,
		Title:     title,
		Filename:  filename,
		SizeBytes: size,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.saveDocument(ctx, doc); err != nil {
		return Document{}, err
	}

	task.doc = doc
	task.preferred = tenant.ProviderPreference("embedding")
	err := p.pool.Submit(ctx, workers.Job{
		ID:       doc.ID.String(),
		Type:     jobTypeIngest,
		TenantID: tenant.ID.String(),
		Payload:  task,
	})
	if err != nil {
		p.logger.Error(ctx, "failed to queue document for ingestion", err)
		p.setStatus(ctx, &doc, StatusFailed, 0, "ingestion queue unavailable")
		return Document{}, apperr.Wrap(ErrQueueUnavailable.Kind, ErrQueueUnavailable.Code, ErrQueueUnavailable.Message, err)
	}

	p.logger.Info(ctx, "document queued for ingestion",
		observability.Field{Key: "document_id", Value: doc.ID.String()},
		observability.Field{Key: "tenant_id", Value: tenant.ID.String()},
	)
	return doc, nil
}

func (p *KnowledgeProcessor) saveDocument(ctx context.Context, doc Document) error {
	if !p.store.Available() {
		p.documents.put(doc)
		return nil
	}
	err := p.store.CreateDocument(ctx, toRecord(doc))
	if errors.Is(err, store.ErrUnavailable) {
		p.documents.put(doc)
		return nil
	}
	if err != nil {
		p.logger.Error(ctx, "failed to create document", err)
		return apperr.Wrap(apperr.Database, "DOCUMENT_CREATE_FAILED", "failed to create document", err)
	}
	return nil
}

// setStatus records a status change wherever the document lives. Failures are logged only.
func (p *KnowledgeProcessor) setStatus(ctx context.Context, doc *Document, status string, chunkCount int, errMsg string) {
	doc.Status = status
	doc.ChunkCount = chunkCount
	doc.Error = errMsg
	doc.UpdatedAt = time.Now().UTC()

	if p.documents.update(*doc) {
		return
	}
	var msg *string
	if errMsg != "" {
		msg = &errMsg
	}
	if err := p.store.UpdateDocumentStatus(ctx, doc.TenantID, doc.ID, status, chunkCount, msg); err != nil {
		p.logger.Error(ctx, "failed to update document status", err)
	}
}

func (p *KnowledgeProcessor) GetDocument(ctx context.Context, tenantID, docID uuid.UUID) (Document, error) {
	if _, err := p.tenant(ctx, tenantID); err != nil {
		return Document{}, err
	}
	if doc, ok := p.documents.get(tenantID, docID); ok {
		return doc, nil
	}
	if !p.store.Available() {
		return Document{}, ErrDocumentNotFound
	}
	rec, err := p.store.GetDocument(ctx, tenantID, docID)
	if errors.Is(err, store.ErrNotFound) {
		return Document{}, ErrDocumentNotFound
	}
	if err != nil {
		p.logger.Error(ctx, "failed to get document", err)
		return Document{}, apperr.Wrap(apperr.Database, "DOCUMENT_LOOKUP_FAILED", "failed to get document", err)
	}
	return fromRecord(rec), nil
}

// ListDocuments returns the tenant's documents, newest first.
func (p *KnowledgeProcessor) ListDocuments(ctx context.Context, tenantID uuid.UUID) ([]Document, error) {
	if _, err := p.tenant(ctx, tenantID); err != nil {
		return nil, err
	}
	docs := p.documents.list(tenantID)
	if !p.store.Available() {
		return docs, nil
	}
	recs, err := p.store.ListDocuments(ctx, tenantID)
	if err != nil {
		p.logger.Error(ctx, "failed to list documents", err)
		return nil, apperr.Wrap(apperr.Database, "DOCUMENT_LIST_FAILED", "failed to list documents", err)
	}
	for _, rec := range recs {
		docs = append(docs, fromRecord(rec))
	}
	sortNewestFirst(docs)
	return docs, nil
}

// DeleteDocument removes a document and its chunks.
func (p *KnowledgeProcessor) DeleteDocument(ctx context.Context, tenantID, docID uuid.UUID) error {
	if _, err := p.tenant(ctx, tenantID); err != nil {
		return err
	}
	if p.documents.delete(tenantID, docID) {
		return p.memory.DeleteDocument(ctx, tenantID, docID)
	}
	if !p.store.Available() {
		return ErrDocumentNotFound
	}
	if err := p.persisted.DeleteDocument(ctx, tenantID, docID); err != nil {
		p.logger.Error(ctx, "failed to delete document chunks", err)
		return apperr.Wrap(apperr.Database, "DOCUMENT_DELETE_FAILED", "failed to delete document", err)
	}
	err := p.store.DeleteDocument(ctx, tenantID, docID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrDocumentNotFound
	}
	if err != nil {
		p.logger.Error(ctx, "failed to delete document", err)
		return apperr.Wrap(apperr.Database, "DOCUMENT_DELETE_FAILED", "failed to delete document", err)
	}
	p.logger.Info(ctx, "document deleted", observability.Field{Key: "document_id", Value: docID.String()})
	return nil
}

// Search embeds query and returns the tenant's closest chunks.
func (p *KnowledgeProcessor) Search(ctx context.Context, tenantID uuid.UUID, query string, topK int) ([]rag.SearchResult, error) {
	tenant, err := p.tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	return p.search(ctx, tenant, query, topK)
}

// Retrieve is the call pipeline's lookup: a tenant without knowledge management gets no context
// rather than an error.
func (p *KnowledgeProcessor) Retrieve(ctx context.Context, tenant *identity.Tenant, query string) ([]rag.SearchResult, error) {
	if !tenant.HasFeature(identity.FeatureKnowledgeManagement) || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	return p.search(ctx, tenant, query, p.config.TopK)
}

func (p *KnowledgeProcessor) search(ctx context.Context, tenant *identity.Tenant, query string, topK int) ([]rag.SearchResult, error) {
	if topK <= 0 {
		topK = p.config.TopK
	}
	vectors, err := p.embed(ctx, tenant.ProviderPreference("embedding"), []string{query})
	if err != nil {
		return nil, apperr.Wrap(apperr.Search, "QUERY_EMBEDDING_FAILED", "failed to embed query", err)
	}
	results, err := p.vectors().Search(ctx, tenant.ID, vectors[0], topK, p.config.MinScore)
	if err != nil {
		p.logger.Error(ctx, "failed to search knowledge", err)
		return nil, apperr.Wrap(apperr.Search, "SEARCH_FAILED", "failed to search knowledge base", err)
	}
	// Documents ingested during a database outage stay in memory.
	if p.persistent() {
		if n, _ := p.memory.Count(ctx, tenant.ID); n > 0 {
			extra, _ := p.memory.Search(ctx, tenant.ID, vectors[0], topK, p.config.MinScore)
			results = append(results, extra...)
			sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
			if len(results) > topK {
				results = results[:topK]
			}
		}
	}
	return results, nil
}

func toRecord(d Document) store.KnowledgeDocument {
	var errMsg *string
	if d.Error != "" {
		errMsg = &d.Error
	}
	return store.KnowledgeDocument{
		ID:         d.ID,
		TenantID:   d.TenantID,
		Title:      d.Title,
		Filename:   d.Filename,
		SizeBytes:  d.SizeBytes,
		Status:     d.Status,
		ChunkCount: d.ChunkCount,
		Error:      errMsg,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func fromRecord(r store.KnowledgeDocument) Document {
	d := Document{
		ID:         r.ID,
		TenantID:   r.TenantID,
		Title:      r.Title,
		Filename:   r.Filename,
		SizeBytes:  r.SizeBytes,
		Status:     r.Status,
		ChunkCount: r.ChunkCount,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.Error != nil {
		d.Error = *r.Error
	}
	return d
}
