package rag

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type ChunkRecord struct {
	ID         uuid.UUID              `json:"id"`
	DocumentID uuid.UUID              `json:"document_id"`
	Index      int                    `json:"index"`
	Content    string                 `json:"content"`
	TokenCount int                    `json:"token_count"`
	Embedding  []float64              `json:"-"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

type SearchResult struct {
	ChunkRecord
	Score float64 `json:"score"`
}

// VectorStore keeps chunk embeddings per tenant. No operation ever reads across tenants.
type VectorStore interface {
	Upsert(ctx context.Context, tenantID uuid.UUID, records []ChunkRecord) error
	Search(ctx context.Context, tenantID uuid.UUID, query []float64, topK int, minScore float64) ([]SearchResult, error)
	DeleteDocument(ctx context.Context, tenantID, documentID uuid.UUID) error
	Count(ctx context.Context, tenantID uuid.UUID) (int, error)
}

type MemoryVectorStore struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID][]ChunkRecord
}

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{tenants: make(map[uuid.UUID][]ChunkRecord)}
}

func (s *MemoryVectorStore) Upsert(_ context.Context, tenantID uuid.UUID, records []ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.tenants[tenantID]
	positions := make(map[uuid.UUID]int, len(existing))
	for i, r := range existing {
		positions[r.ID] = i
	}
	for _, r := range records {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if i, ok := positions[r.ID]; ok {
			existing[i] = r
			continue
		}
		positions[r.ID] = len(existing)
		existing = append(existing, r)
	}
	s.tenants[tenantID] = existing
	return nil
}

func (s *MemoryVectorStore) Search(_ context.Context, tenantID uuid.UUID, query []float64, topK int, minScore float64) ([]SearchResult, error) {
	s.mu.RLock()
	records := append([]ChunkRecord(nil), s.tenants[tenantID]...)
	s.mu.RUnlock()
	return rank(records, query, topK, minScore), nil
}

func (s *MemoryVectorStore) DeleteDocument(_ context.Context, tenantID, documentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.tenants[tenantID][:0:0]
	for _, r := range s.tenants[tenantID] {
		if r.DocumentID != documentID {
			kept = append(kept, r)
		}
	}
	s.tenants[tenantID] = kept
	return nil
}

func (s *MemoryVectorStore) Count(_ context.Context, tenantID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tenants[tenantID]), nil
}

// rank scores records by cosine similarity, drops those under minScore and keeps the best topK.
// Ties keep insertion order.
func rank(records []ChunkRecord, query []float64, topK int, minScore float64) []SearchResult {
	if len(query) == 0 || topK <= 0 {
		return nil
	}
	results := make([]SearchResult, 0, len(records))
	for _, r := range records {
		score := CosineSimilarity(query, r.Embedding)
		if score < minScore {
			continue
		}
		results = append(results, SearchResult{ChunkRecord: r, Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// CosineSimilarity returns 0 for vectors of different length or zero magnitude.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
