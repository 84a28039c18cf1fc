package processor

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// documentRegistry holds documents created while the database was unavailable.
type documentRegistry struct {
	mu   sync.RWMutex
	docs map[uuid.UUID]map[uuid.UUID]Document
}

func newDocumentRegistry() *documentRegistry {
	return &documentRegistry{docs: map[uuid.UUID]map[uuid.UUID]Document{}}
}

func (r *documentRegistry) put(doc Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.docs[doc.TenantID] == nil {
		r.docs[doc.TenantID] = map[uuid.UUID]Document{}
	}
	r.docs[doc.TenantID][doc.ID] = doc
}

// update replaces a known document and reports whether it was found.
func (r *documentRegistry) update(doc Document) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.TenantID][doc.ID]; !ok {
		return false
	}
	r.docs[doc.TenantID][doc.ID] = doc
	return true
}

func (r *documentRegistry) get(tenantID, docID uuid.UUID) (Document, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[tenantID][docID]
	return doc, ok
}

func (r *documentRegistry) delete(tenantID, docID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[tenantID][docID]; !ok {
		return false
	}
	delete(r.docs[tenantID], docID)
	return true
}

func (r *documentRegistry) list(tenantID uuid.UUID) []Document {
	r.mu.RLock()
	out := make([]Document, 0, len(r.docs[tenantID]))
	for _, doc := range r.docs[tenantID] {
		out = append(out, doc)
	}
	r.mu.RUnlock()
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID.String() < docs[j].ID.String()
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
}
