package segmenter

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestSegmentEmptyInput(t *testing.T) {
	if got := Segment("", Options{TargetTokens: 100}); got != nil {
		t.Fatalf("expected no chunks for empty input, got %d", len(got))
	}
	if got := Segment("  \n\n  ", Options{TargetTokens: 100}); got != nil {
		t.Fatalf("expected no chunks for blank input, got %d", len(got))
	}
}

func TestSegmentThreeParagraphs(t *testing.T) {
	text := "Paragraph 1.\n\nParagraph 2.\n\nParagraph 3."
	chunks := Segment(text, Options{BookID: uuid.New(), TargetTokens: 10, OverlapTokens: 2})
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	prevStart := -1
	for i, c := range chunks {
		if c.EndCharOffset <= c.StartCharOffset {
			t.Fatalf("chunk %d: end %d <= start %d", i, c.EndCharOffset, c.StartCharOffset)
		}
		if c.StartCharOffset <= prevStart {
			t.Fatalf("chunk %d: offsets not strictly increasing", i)
		}
		prevStart = c.StartCharOffset
		if !strings.Contains(text, strings.TrimSpace(c.TextContent)) {
			t.Fatalf("chunk %d text %q not drawn from input", i, c.TextContent)
		}
	}
	if chunks[0].StartCharOffset != 0 {
		t.Fatalf("first chunk must start at 0, got %d", chunks[0].StartCharOffset)
	}
	if last := chunks[len(chunks)-1]; last.EndCharOffset != len(text) {
		t.Fatalf("last chunk must end at %d, got %d", len(text), last.EndCharOffset)
	}
}

func TestSegmentCoverageAndOverlap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("Lorem ipsum dolor sit amet consectetur adipiscing elit sed do eiusmod tempor.\n\n")
	}
	text := sb.String()
	chunks := Segment(text, Options{BookID: uuid.New(), TargetTokens: 60, OverlapTokens: 12})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if chunks[0].StartCharOffset != 0 {
		t.Fatalf("first chunk starts at %d", chunks[0].StartCharOffset)
	}
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		if cur.StartCharOffset >= prev.EndCharOffset {
			t.Fatalf("gap between chunk %d and %d: prev end %d, next start %d",
				i-1, i, prev.EndCharOffset, cur.StartCharOffset)
		}
		if cur.StartCharOffset <= prev.StartCharOffset {
			t.Fatalf("chunk %d does not advance", i)
		}
	}
	if last := chunks[len(chunks)-1]; last.EndCharOffset != len(text) {
		t.Fatalf("coverage ends at %d, want %d", last.EndCharOffset, len(text))
	}
	// overlap region must start on a word boundary
	for i := 1; i < len(chunks); i++ {
		s := chunks[i].StartCharOffset
		if s > 0 && !isSpace(text[s-1]) {
			t.Fatalf("chunk %d overlap starts mid-word at %d", i, s)
		}
	}
}

func isSpace(b byte) bool { return b == ' ' || b == '\n' || b == '\t' }

func TestSegmentOversizedFirstParagraph(t *testing.T) {
	text := strings.Repeat("word ", 500)
	chunks := Segment(text, Options{BookID: uuid.New(), TargetTokens: 10, OverlapTokens: 2})
	if len(chunks) != 1 {
		t.Fatalf("oversized single paragraph must become exactly one chunk, got %d", len(chunks))
	}
	if chunks[0].StartCharOffset != 0 || chunks[0].EndCharOffset != len(text) {
		t.Fatalf("chunk must span the whole paragraph: [%d,%d)", chunks[0].StartCharOffset, chunks[0].EndCharOffset)
	}
}

func TestOutlineHeadings(t *testing.T) {
	text := "# Chapter One\n\nIntro text here.\n\n## Background\n\nMore text.\n\n# Chapter Two\n\nFinal words."
	out := Outline(text)
	if len(out.Chapters) != 2 {
		t.Fatalf("expected 2 chapters, got %d", len(out.Chapters))
	}
	if out.Chapters[0].Title != "Chapter One" || out.Chapters[1].Title != "Chapter Two" {
		t.Fatalf("unexpected chapter titles: %+v", out.Chapters)
	}
	if len(out.Chapters[0].Sections) != 1 || out.Chapters[0].Sections[0].Title != "Background" {
		t.Fatalf("expected one Background section, got %+v", out.Chapters[0].Sections)
	}
	if out.Chapters[0].End != out.Chapters[1].Start {
		t.Fatalf("chapter one must close where chapter two opens")
	}
}

func TestOutlineNoHeadingsSyntheticChapter(t *testing.T) {
	text := "Just some plain text.\n\nWith two paragraphs."
	out := Outline(text)
	if len(out.Chapters) != 1 {
		t.Fatalf("expected synthetic chapter, got %d", len(out.Chapters))
	}
	ch := out.Chapters[0]
	if ch.Start != 0 || ch.End != len(text) {
		t.Fatalf("synthetic chapter must span whole text: [%d,%d)", ch.Start, ch.End)
	}

	chunks := Segment(text, Options{BookID: uuid.New(), TargetTokens: 100})
	for _, c := range chunks {
		if c.ChapterID == "" {
			t.Fatalf("chunk not classified into synthetic chapter: %+v", c)
		}
	}
}

func TestChunkClassificationByMidpoint(t *testing.T) {
	text := "# Alpha\n\nAlpha paragraph with several words in it.\n\n# Beta\n\nBeta paragraph with several words in it."
	chunks := Segment(text, Options{BookID: uuid.New(), TargetTokens: 8, OverlapTokens: 0})
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	if chunks[0].ChapterTitle != "Alpha" {
		t.Fatalf("first chunk chapter = %q, want Alpha", chunks[0].ChapterTitle)
	}
	if last := chunks[len(chunks)-1]; last.ChapterTitle != "Beta" {
		t.Fatalf("last chunk chapter = %q, want Beta", last.ChapterTitle)
	}
}
