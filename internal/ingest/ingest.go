package ingest

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/readerlab/bookchat/internal/index"
	"github.com/readerlab/bookchat/internal/segmenter"
	"github.com/readerlab/bookchat/internal/store"
	"github.com/readerlab/bookchat/models"
	"github.com/readerlab/bookchat/provider"
)

// embedBatchSize bounds one embedding request; book-sized inputs would otherwise
// exceed provider request limits.
const embedBatchSize = 64

// Pipeline turns a book file into synchronized rows in Postgres and points in the
// vector index. Both stores are written from the same chunk records, which is what
// keeps index payloads and relational rows in agreement.
type Pipeline struct {
	embedder      provider.EmbeddingProvider
	idx           index.Index
	store         *store.Store
	logger        *log.Logger
	targetTokens  int
	overlapTokens int
	dimensions    int
}

// Result summarizes one ingestion run.
type Result struct {
	BookID     uuid.UUID `json:"book_id"`
	Chunks     int       `json:"chunks"`
	Characters int       `json:"characters"`
}

func NewPipeline(embedder provider.EmbeddingProvider, idx index.Index, st *store.Store, logger *log.Logger,
	targetTokens, overlapTokens, dimensions int) *Pipeline {
	return &Pipeline{
		embedder:      embedder,
		idx:           idx,
		store:         st,
		logger:        logger,
		targetTokens:  targetTokens,
		overlapTokens: overlapTokens,
		dimensions:    dimensions,
	}
}

// IngestFile reads a plain-text or markdown book and ingests it. Markdown headings
// ("# " and "## ") become chapter and section metadata.
func (p *Pipeline) IngestFile(ctx context.Context, path string, bookID uuid.UUID) (Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read book file: %w", err)
	}
	p.logger.Printf("read %d characters from %s", len(raw), path)
	return p.Ingest(ctx, string(raw), bookID)
}

// Ingest segments, embeds and stores book content. Any existing chunks for the book
// are removed first, so re-running ingestion replaces rather than duplicates.
func (p *Pipeline) Ingest(ctx context.Context, text string, bookID uuid.UUID) (Result, error) {
	chunks := segmenter.Segment(text, segmenter.Options{
		BookID:        bookID,
		TargetTokens:  p.targetTokens,
		OverlapTokens: p.overlapTokens,
	})
	if len(chunks) == 0 {
		return Result{BookID: bookID}, nil
	}
	p.logger.Printf("created %d chunks for book %s", len(chunks), bookID)

	if err := p.idx.EnsureCollection(ctx, p.dimensions); err != nil {
		return Result{}, fmt.Errorf("ensure collection: %w", err)
	}

	vectors, err := p.embedAll(ctx, chunks)
	if err != nil {
		return Result{}, err
	}

	if err := p.store.DeleteBook(ctx, bookID); err != nil {
		return Result{}, fmt.Errorf("delete previous chunks: %w", err)
	}
	if err := p.store.InsertChunks(ctx, chunks); err != nil {
		return Result{}, fmt.Errorf("insert chunks: %w", err)
	}

	points := make([]index.Point, len(chunks))
	for i, c := range chunks {
		points[i] = index.Point{ChunkID: c.ChunkID, Vector: vectors[i], Payload: payloadFor(c)}
	}
	if err := p.idx.Upsert(ctx, points); err != nil {
		return Result{}, fmt.Errorf("upsert points: %w", err)
	}

	p.logger.Printf("stored %d chunks and %d points for book %s", len(chunks), len(points), bookID)
	return Result{BookID: bookID, Chunks: len(chunks), Characters: len(text)}, nil
}

func (p *Pipeline) embedAll(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.TextContent)
		}
		batch, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("embed batch at %d: got %d vectors, want %d", start, len(batch), len(texts))
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func payloadFor(c models.Chunk) index.Payload {
	return index.Payload{
		ChunkID:          c.ChunkID.String(),
		BookID:           c.BookID.String(),
		TextContent:      c.TextContent,
		TokenCount:       c.TokenCount,
		StartCharOffset:  c.StartCharOffset,
		EndCharOffset:    c.EndCharOffset,
		ChapterID:        c.ChapterID,
		ChapterTitle:     c.ChapterTitle,
		SectionID:        c.SectionID,
		SectionTitle:     c.SectionTitle,
		PageNumber:       c.PageNumber,
		HeadingHierarchy: c.HeadingHierarchy,
	}
}
