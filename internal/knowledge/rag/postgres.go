package rag

import (
	"context"
	"time"

	"ai-hotline/internal/store"

	"github.com/google/uuid"
)

// PostgresVectorStore keeps embeddings in knowledge_chunks and scores them in process.
type PostgresVectorStore struct {
	store *store.Store
}

func NewPostgresVectorStore(s *store.Store) *PostgresVectorStore {
	return &PostgresVectorStore{store: s}
}

func (p *PostgresVectorStore) Upsert(ctx context.Context, tenantID uuid.UUID, records []ChunkRecord) error {
	now := time.Now().UTC()
	rows := make([]store.KnowledgeChunk, 0, len(records))
	for _, r := range records {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		rows = append(rows, store.KnowledgeChunk{
			ID:         r.ID,
			TenantID:   tenantID,
			DocumentID: r.DocumentID,
			ChunkIndex: r.Index,
			Content:    r.Content,
			TokenCount: r.TokenCount,
			Embedding:  store.Float64Array(r.Embedding),
			Metadata:   store.JSONB(r.Metadata),
			CreatedAt:  now,
		})
	}
	return p.store.InsertChunks(ctx, rows)
}

func (p *PostgresVectorStore) Search(ctx context.Context, tenantID uuid.UUID, query []float64, topK int, minScore float64) ([]SearchResult, error) {
	rows, err := p.store.ListChunksByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	records := make([]ChunkRecord, len(rows))
	for i, row := range rows {
		records[i] = ChunkRecord{
			ID:         row.ID,
			DocumentID: row.DocumentID,
			Index:      row.ChunkIndex,
			Content:    row.Content,
			TokenCount: row.TokenCount,
			Embedding:  row.Embedding,
			Metadata:   row.Metadata,
		}
	}
	return rank(records, query, topK, minScore), nil
}

func (p *PostgresVectorStore) DeleteDocument(ctx context.Context, tenantID, documentID uuid.UUID) error {
	return p.store.DeleteChunksByDocument(ctx, tenantID, documentID)
}

func (p *PostgresVectorStore) Count(ctx context.Context, tenantID uuid.UUID) (int, error) {
	return p.store.CountChunksByTenant(ctx, tenantID)
}
