package ingest

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/readerlab/bookchat/internal/index"
	"github.com/readerlab/bookchat/internal/store"
)

type fakeEmbedder struct {
	batches [][]string
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

type fakeIndex struct {
	ensured    int
	dimensions int
	points     []index.Point
}

func (f *fakeIndex) EnsureCollection(_ context.Context, dims int) error {
	f.ensured++
	f.dimensions = dims
	return nil
}
func (f *fakeIndex) Upsert(_ context.Context, points []index.Point) error {
	f.points = append(f.points, points...)
	return nil
}
func (f *fakeIndex) Search(context.Context, []float32, int, *index.OffsetRange) ([]index.Hit, error) {
	return nil, nil
}

func newTestPipeline(t *testing.T, emb *fakeEmbedder, idx *fakeIndex) (*Pipeline, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logger := log.New(io.Discard, "[INGEST] ", log.LstdFlags)
	return NewPipeline(emb, idx, &store.Store{DB: db}, logger, 10, 2, 1536), mock
}

func expectChunkWrites(mock sqlmock.Sqlmock, bookID uuid.UUID, n int) {
	mock.ExpectExec(`DELETE FROM book_chunks`).
		WithArgs(bookID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	for i := 0; i < n; i++ {
		mock.ExpectExec(`INSERT INTO book_chunks`).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()
}

func TestIngestKeepsStoresInSync(t *testing.T) {
	emb := &fakeEmbedder{}
	idx := &fakeIndex{}
	p, mock := newTestPipeline(t, emb, idx)
	bookID := uuid.New()

	// the heading and each paragraph exceed the 7-word target, so three chunks
	text := "# Chapter 1: Basics\n\nGo is a compiled language designed at Google.\n\nIt has garbage collection and first class concurrency support."
	expectChunkWrites(mock, bookID, 3)

	res, err := p.Ingest(context.Background(), text, bookID)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Chunks != 3 || res.Characters != len(text) {
		t.Fatalf("result: %+v", res)
	}
	if idx.ensured != 1 || idx.dimensions != 1536 {
		t.Fatalf("collection not ensured with configured dimensions: %+v", idx)
	}
	if len(idx.points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(idx.points))
	}
	pt := idx.points[1]
	if pt.Payload.ChunkID != pt.ChunkID.String() || pt.Payload.BookID != bookID.String() {
		t.Fatalf("payload ids out of sync: %+v", pt.Payload)
	}
	if pt.Payload.ChapterTitle != "Chapter 1: Basics" {
		t.Fatalf("heading metadata missing from payload: %+v", pt.Payload)
	}
	if pt.Payload.EndCharOffset <= pt.Payload.StartCharOffset {
		t.Fatalf("invalid payload offsets: %+v", pt.Payload)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIngestEmptyInputIsNoop(t *testing.T) {
	emb := &fakeEmbedder{}
	idx := &fakeIndex{}
	p, mock := newTestPipeline(t, emb, idx)

	res, err := p.Ingest(context.Background(), "   \n\n  ", uuid.New())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Chunks != 0 || idx.ensured != 0 || len(emb.batches) != 0 {
		t.Fatal("empty input must touch nothing")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIngestBatchesEmbeddings(t *testing.T) {
	emb := &fakeEmbedder{}
	idx := &fakeIndex{}
	p, mock := newTestPipeline(t, emb, idx)
	bookID := uuid.New()

	// 70 paragraphs of 9 words each against a 7-word target gives one chunk per
	// paragraph, enough to need two embedding batches of 64 and 6.
	para := strings.Repeat("word ", 8) + "tail"
	text := strings.Repeat(para+"\n\n", 70)
	expectChunkWrites(mock, bookID, 70)

	res, err := p.Ingest(context.Background(), text, bookID)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Chunks != 70 {
		t.Fatalf("chunks = %d", res.Chunks)
	}
	if len(emb.batches) != 2 || len(emb.batches[0]) != 64 || len(emb.batches[1]) != 6 {
		sizes := make([]int, len(emb.batches))
		for i, b := range emb.batches {
			sizes[i] = len(b)
		}
		t.Fatalf("batch sizes = %v", sizes)
	}
	if len(idx.points) != 70 {
		t.Fatalf("points = %d", len(idx.points))
	}
}

func TestIngestEmbedErrorAborts(t *testing.T) {
	wantErr := errors.New("quota exceeded")
	emb := &fakeEmbedder{err: wantErr}
	idx := &fakeIndex{}
	p, mock := newTestPipeline(t, emb, idx)

	_, err := p.Ingest(context.Background(), "Some book text here.", uuid.New())
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped embed error, got %v", err)
	}
	if len(idx.points) != 0 {
		t.Fatal("no points may be written after an embedding failure")
	}
	// nothing must reach the database either
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
