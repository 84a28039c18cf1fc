package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"ai-hotline/internal/apperr"
	"ai-hotline/internal/knowledge/rag"
	"ai-hotline/internal/observability"
	"ai-hotline/internal/workers"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	embeddingBatchSize   = 16
	embeddingConcurrency = 4
	embeddingCacheTTL    = 7 * 24 * time.Hour
	embeddingCachePrefix = "embedding:"
)

type ingestTask struct {
	doc       Document
	preferred []string
	filename  string
	data      []byte
	text      string
}

// Process runs one queued ingestion: extract, chunk, embed and store.
func (p *KnowledgeProcessor) Process(ctx context.Context, job workers.Job) error {
	task, ok := job.Payload.(ingestTask)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s job", job.Payload, job.Type)
	}
	doc := task.doc
	ctx = observability.WithFields(ctx, observability.Field{Key: "document_id", Value: doc.ID.String()})

	p.setStatus(ctx, &doc, StatusProcessing, 0, "")
	count, err := p.ingest(ctx, task)
	if err != nil {
		p.metrics.ObserveIngestion(StatusFailed)
		p.setStatus(ctx, &doc, StatusFailed, 0, errorMessage(err))
		return err
	}

	p.metrics.ObserveIngestion(StatusReady)
	p.setStatus(ctx, &doc, StatusReady, count, "")
	p.logger.Info(ctx, "document ingested", observability.Field{Key: "chunks", Value: count})
	return nil
}

func (p *KnowledgeProcessor) ingest(ctx context.Context, task ingestTask) (int, error) {
	text := task.text
	if task.filename != "" {
		var err error
		text, err = rag.ExtractText(task.filename, task.data)
		if err != nil {
			return 0, err
		}
	}

	chunks := p.chunker.Split(text)
	if len(chunks) == 0 {
		return 0, apperr.New(apperr.DocumentProcessing, "NO_CONTENT", "document contains no text")
	}

	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}
	vectors, err := p.embed(ctx, task.preferred, contents)
	if err != nil {
		return 0, apperr.Wrap(apperr.Embedding, "EMBEDDING_FAILED", "failed to embed document", err)
	}

	records := make([]rag.ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = rag.ChunkRecord{
			ID:         uuid.NewSHA1(task.doc.ID, []byte(fmt.Sprint(c.Index))),
			DocumentID: task.doc.ID,
			Index:      c.Index,
			Content:    c.Content,
			TokenCount: c.TokenCount,
			Embedding:  vectors[i],
			Metadata: map[string]interface{}{
				"title":     task.doc.Title,
				"filename":  task.doc.Filename,
				"start_pos": c.StartPos,
				"end_pos":   c.EndPos,
			},
		}
	}

	target := p.vectors()
	if _, inMemory := p.documents.get(task.doc.TenantID, task.doc.ID); inMemory {
		target = p.memory
	}
	if err := target.Upsert(ctx, task.doc.TenantID, records); err != nil {
		return 0, apperr.Wrap(apperr.DocumentProcessing, "CHUNK_STORE_FAILED", "failed to store document chunks", err)
	}
	return len(records), nil
}

// embed returns one vector per text, in order. Texts are embedded in batches of 16, several
// batches at a time, and each vector is cached in Redis under sha256(provider|text).
func (p *KnowledgeProcessor) embed(ctx context.Context, preferred []string, texts []string) ([][]float64, error) {
	chain := p.chains.EmbeddingChain(preferred)
	cacheModel := ""
	if names := chain.Names(); len(names) > 0 {
		cacheModel = names[0]
	}

	out := make([][]float64, len(texts))
	var missing []int
	for i, text := range texts {
		if vec, ok := p.cached(ctx, cacheModel, text); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embeddingConcurrency)
	for start := 0; start < len(missing); start += embeddingBatchSize {
		end := start + embeddingBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]
		g.Go(func() error {
			inputs := make([]string, len(batch))
			for i, idx := range batch {
				inputs[i] = texts[idx]
			}
			vectors, provider, err := chain.Embed(gctx, inputs)
			if err != nil {
				return err
			}
			for i, idx := range batch {
				out[idx] = vectors[i]
				p.storeCached(gctx, provider, texts[idx], vectors[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "|" + text))
	return embeddingCachePrefix + hex.EncodeToString(sum[:])
}

func (p *KnowledgeProcessor) cached(ctx context.Context, model, text string) ([]float64, bool) {
	if p.cache == nil || !p.cache.IsEnabled() || model == "" {
		return nil, false
	}
	data, err := p.cache.Get(ctx, cacheKey(model, text))
	if err != nil {
		return nil, false
	}
	var vec []float64
	if err := json.Unmarshal(data, &vec); err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

func (p *KnowledgeProcessor) storeCached(ctx context.Context, model, text string, vec []float64) {
	if p.cache == nil || !p.cache.IsEnabled() {
		return
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, cacheKey(model, text), data, embeddingCacheTTL); err != nil {
		p.logger.WarnWithError(ctx, "failed to cache embedding", err)
	}
}

func errorMessage(err error) string {
	if appErr, ok := apperr.As(err); ok {
		return appErr.Message
	}
	return err.Error()
}
