package retrieval

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/readerlab/bookchat/internal/index"
	"github.com/readerlab/bookchat/internal/store"
	"github.com/readerlab/bookchat/models"
	"github.com/readerlab/bookchat/provider"
)

var discardedCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "bookchat_retrieval_discarded_total",
	Help: "Chunks dropped by the similarity threshold gate.",
})

// Engine answers retrieval requests: it embeds the question, queries the vector index,
// gates hits by the configured similarity threshold and enriches survivors with the
// authoritative chunk rows. The threshold is a deployment tunable because score
// distributions differ per embedding provider.
type Engine struct {
	embedder  provider.EmbeddingProvider
	idx       index.Index
	store     *store.Store
	logger    *log.Logger
	threshold float64
}

func NewEngine(embedder provider.EmbeddingProvider, idx index.Index, st *store.Store, logger *log.Logger, threshold float64) *Engine {
	return &Engine{embedder: embedder, idx: idx, store: st, logger: logger, threshold: threshold}
}

// Retrieve returns scored chunks in the index's descending-score order. Provider and
// index errors propagate uncaught; the caller owns fallback policy. Every retrieval
// writes one audit row per returned chunk, rank starting at 1.
//
// In SELECTED_TEXT mode with selected text present, embedding and search are bypassed
// entirely: the selection is the sole context with a synthetic similarity of 1.0.
// A selection without text narrows the vector search to chunks overlapping its offsets.
func (e *Engine) Retrieve(ctx context.Context, queryID uuid.UUID, queryText string, topK int, mode models.RetrievalMode, selection *models.TextSelection) ([]models.ScoredChunk, error) {
	if mode == models.RetrievalModeSelectedText && selection != nil && selection.SelectedText != "" {
		result := []models.ScoredChunk{{
			Chunk: models.Chunk{
				ChunkID:         selection.SelectionID,
				TextContent:     selection.SelectedText,
				StartCharOffset: selection.StartCharOffset,
				EndCharOffset:   selection.EndCharOffset,
			},
			SimilarityScore: 1.0,
		}}
		if err := e.audit(ctx, queryID, result); err != nil {
			return nil, err
		}
		return result, nil
	}

	vectors, err := e.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embed query: provider returned no vectors")
	}

	var within *index.OffsetRange
	if mode == models.RetrievalModeSelectedText && selection != nil {
		within = &index.OffsetRange{Start: selection.StartCharOffset, End: selection.EndCharOffset}
	}
	hits, err := e.idx.Search(ctx, vectors[0], topK, within)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}

	kept := hits[:0]
	discarded := 0
	for _, h := range hits {
		if h.Score < e.threshold {
			discarded++
			continue
		}
		kept = append(kept, h)
	}
	if discarded > 0 {
		discardedCounter.Add(float64(discarded))
		e.logger.Printf("discarded %d/%d hits below threshold %.3f", discarded, len(hits), e.threshold)
	}

	result, err := e.enrich(ctx, kept)
	if err != nil {
		return nil, err
	}
	if err := e.audit(ctx, queryID, result); err != nil {
		return nil, err
	}
	return result, nil
}

// enrich replaces payload display fields with the authoritative book_chunks rows,
// preserving the index's ordering. Hits whose rows are gone fall back to the payload
// copy, which ingestion keeps in sync.
func (e *Engine) enrich(ctx context.Context, hits []index.Hit) ([]models.ScoredChunk, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(hits))
	for _, h := range hits {
		id, err := uuid.Parse(h.Payload.ChunkID)
		if err != nil {
			return nil, fmt.Errorf("malformed chunk id in index payload: %w", err)
		}
		ids = append(ids, id)
	}
	rows, err := e.store.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch chunk metadata: %w", err)
	}

	out := make([]models.ScoredChunk, 0, len(hits))
	for i, h := range hits {
		chunk, ok := rows[ids[i]]
		if !ok {
			chunk = chunkFromPayload(ids[i], h.Payload)
		}
		out = append(out, models.ScoredChunk{Chunk: chunk, SimilarityScore: h.Score})
	}
	return out, nil
}

func (e *Engine) audit(ctx context.Context, queryID uuid.UUID, result []models.ScoredChunk) error {
	if len(result) == 0 {
		return nil
	}
	passages := make([]store.PassageAudit, len(result))
	for i, r := range result {
		passages[i] = store.PassageAudit{ChunkID: r.ChunkID, SimilarityScore: r.SimilarityScore, Rank: i + 1}
	}
	if err := e.store.InsertRetrievedPassages(ctx, queryID, passages); err != nil {
		return fmt.Errorf("store retrieval audit: %w", err)
	}
	return nil
}

func chunkFromPayload(id uuid.UUID, p index.Payload) models.Chunk {
	bookID, _ := uuid.Parse(p.BookID)
	return models.Chunk{
		ChunkID:          id,
		BookID:           bookID,
		TextContent:      p.TextContent,
		TokenCount:       p.TokenCount,
		StartCharOffset:  p.StartCharOffset,
		EndCharOffset:    p.EndCharOffset,
		ChapterID:        p.ChapterID,
		ChapterTitle:     p.ChapterTitle,
		SectionID:        p.SectionID,
		SectionTitle:     p.SectionTitle,
		PageNumber:       p.PageNumber,
		HeadingHierarchy: p.HeadingHierarchy,
	}
}
