package index

import (
	"context"

	"github.com/google/uuid"
)

// Point is one vector plus the scalar payload mirrored from the chunk row. The payload
// must stay byte-for-byte in sync with the relational row for the same chunk id; the
// ingestion pipeline is responsible for writing both from one source record.
type Point struct {
	ChunkID uuid.UUID
	Vector  []float32
	Payload Payload
}

// Payload carries the chunk fields stored alongside the vector.
type Payload struct {
	ChunkID          string   `json:"chunk_id"`
	BookID           string   `json:"book_id"`
	TextContent      string   `json:"text_content"`
	TokenCount       int      `json:"token_count"`
	StartCharOffset  int      `json:"start_char_offset"`
	EndCharOffset    int      `json:"end_char_offset"`
	ChapterID        string   `json:"chapter_id,omitempty"`
	ChapterTitle     string   `json:"chapter_title,omitempty"`
	SectionID        string   `json:"section_id,omitempty"`
	SectionTitle     string   `json:"section_title,omitempty"`
	PageNumber       int      `json:"page_number,omitempty"`
	HeadingHierarchy []string `json:"heading_hierarchy,omitempty"`
}

// Hit is a nearest-neighbour match in the index's own descending-score order.
type Hit struct {
	Score   float64
	Payload Payload
}

// OffsetRange restricts a search to chunks overlapping a character span:
// chunk.start < End AND chunk.end > Start.
type OffsetRange struct {
	Start int
	End   int
}

// Index is the vector similarity store contract. Implementations must be safe for
// concurrent use by in-flight queries.
type Index interface {
	EnsureCollection(ctx context.Context, dimensions int) error
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, vector []float32, topK int, within *OffsetRange) ([]Hit, error)
}
