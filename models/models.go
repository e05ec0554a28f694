package models

import (
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when a session does not exist or has expired.
var ErrSessionNotFound = errors.New("session not found")

// RetrievalMode selects the scope of a retrieval pass.
type RetrievalMode string

const (
	RetrievalModeFullBook     RetrievalMode = "FULL_BOOK"
	RetrievalModeSelectedText RetrievalMode = "SELECTED_TEXT"
)

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Chunk is a contiguous, offset-addressable slice of ingested book text. Chunks are
// created once at ingestion and never mutated afterwards.
type Chunk struct {
	ChunkID          uuid.UUID `json:"chunk_id"`
	BookID           uuid.UUID `json:"book_id"`
	TextContent      string    `json:"text_content"`
	TokenCount       int       `json:"token_count"`
	StartCharOffset  int       `json:"start_char_offset"`
	EndCharOffset    int       `json:"end_char_offset"`
	ChapterID        string    `json:"chapter_id,omitempty"`
	ChapterTitle     string    `json:"chapter_title,omitempty"`
	SectionID        string    `json:"section_id,omitempty"`
	SectionTitle     string    `json:"section_title,omitempty"`
	PageNumber       int       `json:"page_number,omitempty"`
	HeadingHierarchy []string  `json:"heading_hierarchy,omitempty"`
}

// ScoredChunk pairs a chunk with the similarity score the index assigned to it.
type ScoredChunk struct {
	Chunk
	SimilarityScore float64 `json:"similarity_score"`
}

// Message is one turn of a conversation stored inside a session.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Citations []uuid.UUID `json:"citations,omitempty"`
}

// Session is the mutable per-conversation state. Messages are bounded: the session
// manager truncates the list to its configured cap on every update.
type Session struct {
	SessionID           uuid.UUID     `json:"session_id"`
	UserID              string        `json:"user_id,omitempty"`
	Messages            []Message     `json:"messages"`
	ActiveRetrievalMode RetrievalMode `json:"active_retrieval_mode"`
	CurrentSelectionID  *uuid.UUID    `json:"current_selection_id,omitempty"`
	Version             int64         `json:"version"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
	ExpiresAt           time.Time     `json:"expires_at"`
}

// TextSelection is a user-selected span of the book used in SELECTED_TEXT mode.
type TextSelection struct {
	SelectionID     uuid.UUID `json:"selection_id"`
	SelectedText    string    `json:"selected_text"`
	StartCharOffset int       `json:"start_char_offset"`
	EndCharOffset   int       `json:"end_char_offset"`
}

// Citation links an in-text reference marker back to the chunk that justified it.
type Citation struct {
	ChunkID      uuid.UUID `json:"chunk_id"`
	Reference    string    `json:"reference"`
	ChapterTitle string    `json:"chapter_title,omitempty"`
	SectionTitle string    `json:"section_title,omitempty"`
	PageNumber   int       `json:"page_number,omitempty"`
	TextPreview  string    `json:"text_preview"`
}

// QueryResponse is the orchestrator's answer to a single query.
type QueryResponse struct {
	ResponseID       uuid.UUID  `json:"response_id"`
	QueryID          uuid.UUID  `json:"query_id"`
	SessionID        uuid.UUID  `json:"session_id"`
	ResponseText     string     `json:"response_text"`
	Citations        []Citation `json:"citations"`
	RetrievalQuality float64    `json:"retrieval_quality"`
	LatencyMS        int64      `json:"latency_ms"`
}

// PreviewLimit bounds citation text previews.
const PreviewLimit = 200

// Preview returns at most the first PreviewLimit bytes of s, never cutting a
// multi-byte rune in half.
func Preview(s string) string {
	if len(s) <= PreviewLimit {
		return s
	}
	cut := PreviewLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
