package store

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/readerlab/bookchat/models"
)

func TestInsertChunks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	chunk := models.Chunk{
		ChunkID:         uuid.New(),
		BookID:          uuid.New(),
		TextContent:     "Some paragraph text.",
		TokenCount:      5,
		StartCharOffset: 0,
		EndCharOffset:   20,
		ChapterID:       "ch-01",
		ChapterTitle:    "Intro",
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO book_chunks`).
		WithArgs(chunk.ChunkID, chunk.BookID, chunk.TextContent, chunk.TokenCount, 0, 20,
			"ch-01", "Intro", nil, nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.InsertChunks(context.Background(), []models.Chunk{chunk}); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertChunksRejectsInvalidOffsets(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	st := &Store{DB: db}
	bad := models.Chunk{ChunkID: uuid.New(), StartCharOffset: 10, EndCharOffset: 10}
	if err := st.InsertChunks(context.Background(), []models.Chunk{bad}); err == nil {
		t.Fatal("expected error for end <= start")
	}
}

func TestGetChunksByIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	id := uuid.New()
	bookID := uuid.New()

	rows := sqlmock.NewRows([]string{
		"chunk_id", "book_id", "text_content", "token_count", "start_char_offset", "end_char_offset",
		"chapter_id", "chapter_title", "section_id", "section_title", "page_number", "heading_hierarchy",
	}).AddRow(id.String(), bookID.String(), "body", 3, 0, 4, "ch-01", "Intro", nil, nil, nil, "{Intro}")

	mock.ExpectQuery(`SELECT chunk_id, book_id, text_content`).
		WillReturnRows(rows)

	got, err := st.GetChunksByIDs(context.Background(), []uuid.UUID{id})
	if err != nil {
		t.Fatalf("GetChunksByIDs: %v", err)
	}
	c, ok := got[id]
	if !ok {
		t.Fatalf("chunk %s missing from result", id)
	}
	if c.TextContent != "body" || c.ChapterTitle != "Intro" || c.EndCharOffset != 4 {
		t.Fatalf("unexpected chunk: %+v", c)
	}
}
