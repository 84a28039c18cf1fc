package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const documentColumns = `id, tenant_id, title, filename, size_bytes, status, chunk_count, error, created_at, updated_at`

const sqlCreateDocument = `
INSERT INTO knowledge_documents (` + documentColumns + `)
VALUES (:id, :tenant_id, :title, :filename, :size_bytes, :status, :chunk_count, :error, :created_at, :updated_at)`

func (s *Store) CreateDocument(ctx context.Context, doc KnowledgeDocument) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.NamedExecContext(ctx, sqlCreateDocument, doc)
	return err
}

const sqlUpdateDocumentStatus = `
UPDATE knowledge_documents
SET status = $3, chunk_count = $4, error = $5, updated_at = NOW()
WHERE id = $1 AND tenant_id = $2`

func (s *Store) UpdateDocumentStatus(ctx context.Context, tenantID, docID uuid.UUID, status string, chunkCount int, errMsg *string) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, sqlUpdateDocumentStatus, docID, tenantID, status, chunkCount, errMsg)
	if err != nil {
		return err
	}
	return expectRows(res)
}

const sqlSelectDocument = `SELECT ` + documentColumns + ` FROM knowledge_documents WHERE id = $1 AND tenant_id = $2`

func (s *Store) GetDocument(ctx context.Context, tenantID, docID uuid.UUID) (KnowledgeDocument, error) {
	if err := s.ready(); err != nil {
		return KnowledgeDocument{}, err
	}
	var doc KnowledgeDocument
	err := s.db.GetContext(ctx, &doc, sqlSelectDocument, docID, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return KnowledgeDocument{}, ErrNotFound
	}
	return doc, err
}

const sqlListDocuments = `
SELECT ` + documentColumns + `
FROM knowledge_documents
WHERE tenant_id = $1
ORDER BY created_at DESC`

func (s *Store) ListDocuments(ctx context.Context, tenantID uuid.UUID) ([]KnowledgeDocument, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	docs := []KnowledgeDocument{}
	err := s.db.SelectContext(ctx, &docs, sqlListDocuments, tenantID)
	return docs, err
}

const sqlDeleteDocument = `DELETE FROM knowledge_documents WHERE id = $1 AND tenant_id = $2`

func (s *Store) DeleteDocument(ctx context.Context, tenantID, docID uuid.UUID) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, sqlDeleteDocument, docID, tenantID)
	if err != nil {
		return err
	}
	return expectRows(res)
}

const sqlInsertChunk = `
INSERT INTO knowledge_chunks (id, tenant_id, document_id, chunk_index, content, token_count, embedding, metadata, created_at)
VALUES (:id, :tenant_id, :document_id, :chunk_index, :content, :token_count, :embedding, :metadata, :created_at)
ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata`

// InsertChunks writes chunks in a single transaction.
func (s *Store) InsertChunks(ctx context.Context, chunks []KnowledgeChunk) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if _, err := tx.NamedExecContext(ctx, sqlInsertChunk, chunk); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

const sqlSelectChunksByTenant = `
SELECT id, tenant_id, document_id, chunk_index, content, token_count, embedding, metadata, created_at
FROM knowledge_chunks
WHERE tenant_id = $1
ORDER BY created_at, document_id, chunk_index`

func (s *Store) ListChunksByTenant(ctx context.Context, tenantID uuid.UUID) ([]KnowledgeChunk, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	chunks := []KnowledgeChunk{}
	err := s.db.SelectContext(ctx, &chunks, sqlSelectChunksByTenant, tenantID)
	return chunks, err
}

const sqlDeleteChunksByDocument = `DELETE FROM knowledge_chunks WHERE tenant_id = $1 AND document_id = $2`

func (s *Store) DeleteChunksByDocument(ctx context.Context, tenantID, docID uuid.UUID) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, sqlDeleteChunksByDocument, tenantID, docID)
	return err
}

const sqlCountChunksByTenant = `SELECT COUNT(*) FROM knowledge_chunks WHERE tenant_id = $1`

func (s *Store) CountChunksByTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var count int
	err := s.db.GetContext(ctx, &count, sqlCountChunksByTenant, tenantID)
	return count, err
}
