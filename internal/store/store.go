package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/readerlab/bookchat/models"
)

type Store struct {
	DB *sql.DB
}

// New constructs the Store using an explicit Postgres DSN
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// QueryRecord is one append-only audit row per user query.
type QueryRecord struct {
	QueryID       uuid.UUID
	SessionID     uuid.UUID
	QueryText     string
	RetrievalMode models.RetrievalMode
	SelectionID   *uuid.UUID
	CreatedAt     time.Time
}

// PassageAudit is one append-only row per (query, returned chunk).
type PassageAudit struct {
	ChunkID         uuid.UUID
	SimilarityScore float64
	Rank            int
}

// ResponseRecord is the append-only audit row for a generated answer.
type ResponseRecord struct {
	ResponseID       uuid.UUID
	QueryID          uuid.UUID
	ResponseText     string
	Citations        []models.Citation
	RetrievalQuality float64
	ValidationPassed bool
	ValidationNotes  string
	Model            string
	CreatedAt        time.Time
}

// Chunk operations

// InsertChunks writes chunk rows in one transaction. Chunks are immutable: rows are
// only ever inserted here and removed by DeleteBook.
func (s *Store) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range chunks {
		if c.EndCharOffset <= c.StartCharOffset {
			return fmt.Errorf("chunk %s: invalid offsets [%d,%d)", c.ChunkID, c.StartCharOffset, c.EndCharOffset)
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO book_chunks (chunk_id, book_id, text_content, token_count, start_char_offset, end_char_offset,
                         chapter_id, chapter_title, section_id, section_title, page_number, heading_hierarchy, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW())
`, c.ChunkID, c.BookID, c.TextContent, c.TokenCount, c.StartCharOffset, c.EndCharOffset,
			nullableString(c.ChapterID), nullableString(c.ChapterTitle),
			nullableString(c.SectionID), nullableString(c.SectionTitle),
			nullableInt(c.PageNumber), pq.Array(c.HeadingHierarchy))
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ChunkID, err)
		}
	}
	return tx.Commit()
}

// GetChunksByIDs fetches authoritative chunk rows for display metadata enrichment.
func (s *Store) GetChunksByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Chunk, error) {
	out := make(map[uuid.UUID]models.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT chunk_id, book_id, text_content, token_count, start_char_offset, end_char_offset,
       chapter_id, chapter_title, section_id, section_title, page_number, heading_hierarchy
FROM book_chunks WHERE chunk_id = ANY($1)
`, pq.Array(raw))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c models.Chunk
		var chapterID, chapterTitle, sectionID, sectionTitle sql.NullString
		var pageNumber sql.NullInt64
		var hierarchy pq.StringArray
		if err := rows.Scan(&c.ChunkID, &c.BookID, &c.TextContent, &c.TokenCount, &c.StartCharOffset, &c.EndCharOffset,
			&chapterID, &chapterTitle, &sectionID, &sectionTitle, &pageNumber, &hierarchy); err != nil {
			return nil, err
		}
		c.ChapterID = chapterID.String
		c.ChapterTitle = chapterTitle.String
		c.SectionID = sectionID.String
		c.SectionTitle = sectionTitle.String
		c.PageNumber = int(pageNumber.Int64)
		c.HeadingHierarchy = hierarchy
		out[c.ChunkID] = c
	}
	return out, rows.Err()
}

// DeleteBook removes every chunk belonging to a book. The only sanctioned chunk delete.
func (s *Store) DeleteBook(ctx context.Context, bookID uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM book_chunks WHERE book_id=$1`, bookID)
	return err
}

// Session operations

// CreateSession allocates a new session row with an empty message list.
func (s *Store) CreateSession(ctx context.Context, userID string, mode models.RetrievalMode, ttl time.Duration) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO sessions (session_id, user_id, messages, active_retrieval_mode, version, created_at, updated_at, expires_at)
VALUES ($1,$2,'[]'::jsonb,$3,1,NOW(),NOW(),NOW() + $4 * INTERVAL '1 second')
`, id, nullableString(userID), string(mode), int64(ttl/time.Second))
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// GetSession loads a session iff it has not expired. Expired or unknown sessions both
// report models.ErrSessionNotFound; expired rows are reaped lazily, not on read.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (models.Session, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT session_id, user_id, messages, active_retrieval_mode, current_selection_id, version, created_at, updated_at, expires_at
FROM sessions WHERE session_id=$1 AND expires_at > NOW()
`, id)

	var sess models.Session
	var userID sql.NullString
	var selectionID sql.NullString
	var messages []byte
	var mode string
	err := row.Scan(&sess.SessionID, &userID, &messages, &mode, &selectionID,
		&sess.Version, &sess.CreatedAt, &sess.UpdatedAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, models.ErrSessionNotFound
	}
	if err != nil {
		return models.Session{}, err
	}
	sess.UserID = userID.String
	sess.ActiveRetrievalMode = models.RetrievalMode(mode)
	if selectionID.Valid {
		sid, err := uuid.Parse(selectionID.String)
		if err != nil {
			return models.Session{}, fmt.Errorf("parse selection id: %w", err)
		}
		sess.CurrentSelectionID = &sid
	}
	if len(messages) > 0 {
		if err := json.Unmarshal(messages, &sess.Messages); err != nil {
			return models.Session{}, fmt.Errorf("decode session messages: %w", err)
		}
	}
	return sess, nil
}

// UpdateSessionCAS writes back session state guarded by the version column. It reports
// false when another writer won the race, so the caller can reload and retry.
func (s *Store) UpdateSessionCAS(ctx context.Context, sess models.Session) (bool, error) {
	messages, err := json.Marshal(sess.Messages)
	if err != nil {
		return false, fmt.Errorf("encode session messages: %w", err)
	}
	var selectionID interface{}
	if sess.CurrentSelectionID != nil {
		selectionID = sess.CurrentSelectionID.String()
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE sessions
SET messages=$1, active_retrieval_mode=$2, current_selection_id=$3, version=version+1, updated_at=NOW()
WHERE session_id=$4 AND version=$5 AND expires_at > NOW()
`, messages, string(sess.ActiveRetrievalMode), selectionID, sess.SessionID, sess.Version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteSession removes a session row. Deleting an absent session is a no-op.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM sessions WHERE session_id=$1`, id)
	return err
}

// Audit trail operations

// InsertQuery records a user query. Append-only.
func (s *Store) InsertQuery(ctx context.Context, rec QueryRecord) error {
	var selectionID interface{}
	if rec.SelectionID != nil {
		selectionID = rec.SelectionID.String()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO user_queries (query_id, session_id, query_text, retrieval_mode, text_selection_id, created_at)
VALUES ($1,$2,$3,$4,$5,NOW())
`, rec.QueryID, rec.SessionID, rec.QueryText, string(rec.RetrievalMode), selectionID)
	return err
}

// InsertRetrievedPassages records one audit row per returned chunk, rank starting at 1.
func (s *Store) InsertRetrievedPassages(ctx context.Context, queryID uuid.UUID, passages []PassageAudit) error {
	if len(passages) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, p := range passages {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO retrieved_passages (query_id, chunk_id, similarity_score, rank, created_at)
VALUES ($1,$2,$3,$4,NOW())
`, queryID, p.ChunkID, p.SimilarityScore, p.Rank); err != nil {
			return fmt.Errorf("insert passage rank %d: %w", p.Rank, err)
		}
	}
	return tx.Commit()
}

// InsertResponse records the generated answer with its validation outcome.
func (s *Store) InsertResponse(ctx context.Context, rec ResponseRecord) error {
	citations, err := json.Marshal(rec.Citations)
	if err != nil {
		return fmt.Errorf("encode citations: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO chatbot_responses (response_id, query_id, response_text, citations, retrieval_quality,
                               validation_passed, validation_notes, llm_model, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
`, rec.ResponseID, rec.QueryID, rec.ResponseText, citations, rec.RetrievalQuality,
		rec.ValidationPassed, rec.ValidationNotes, rec.Model)
	return err
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}
