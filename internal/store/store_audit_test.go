package store

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/readerlab/bookchat/models"
)

func TestInsertQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	rec := QueryRecord{
		QueryID:       uuid.New(),
		SessionID:     uuid.New(),
		QueryText:     "What is the capital of France?",
		RetrievalMode: models.RetrievalModeFullBook,
	}

	mock.ExpectExec(`INSERT INTO user_queries`).
		WithArgs(rec.QueryID, rec.SessionID, rec.QueryText, "FULL_BOOK", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.InsertQuery(context.Background(), rec); err != nil {
		t.Fatalf("InsertQuery: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertRetrievedPassagesRanks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	queryID := uuid.New()
	passages := []PassageAudit{
		{ChunkID: uuid.New(), SimilarityScore: 0.91, Rank: 1},
		{ChunkID: uuid.New(), SimilarityScore: 0.74, Rank: 2},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO retrieved_passages`).
		WithArgs(queryID, passages[0].ChunkID, 0.91, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO retrieved_passages`).
		WithArgs(queryID, passages[1].ChunkID, 0.74, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.InsertRetrievedPassages(context.Background(), queryID, passages); err != nil {
		t.Fatalf("InsertRetrievedPassages: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertResponseEncodesCitations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	rec := ResponseRecord{
		ResponseID:       uuid.New(),
		QueryID:          uuid.New(),
		ResponseText:     "The answer is in chapter two [1].",
		Citations:        []models.Citation{{ChunkID: uuid.New(), Reference: "[1]", TextPreview: "chapter two text"}},
		RetrievalQuality: 0.88,
		ValidationPassed: true,
		ValidationNotes:  "Found 1 citations | Semantic similarity: 0.850",
		Model:            "gpt-4o-mini",
	}

	mock.ExpectExec(`INSERT INTO chatbot_responses`).
		WithArgs(rec.ResponseID, rec.QueryID, rec.ResponseText, sqlmock.AnyArg(), 0.88, true, rec.ValidationNotes, "gpt-4o-mini").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.InsertResponse(context.Background(), rec); err != nil {
		t.Fatalf("InsertResponse: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
