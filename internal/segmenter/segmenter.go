package segmenter

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/readerlab/bookchat/models"
)

// wordsPerToken approximates tokenizer output from whitespace-separated words.
const wordsPerToken = 0.75

// Options controls chunk sizing. Sizes are expressed in tokens and converted to words
// via the fixed ratio above.
type Options struct {
	BookID        uuid.UUID
	TargetTokens  int
	OverlapTokens int
}

var paragraphSep = regexp.MustCompile(`\n\s*\n`)

// Segment splits document text into paragraph-aligned overlapping chunks with exact
// character offsets. Consecutive chunks share roughly OverlapTokens worth of trailing
// words; the overlap is seeded at a word boundary, never inside a word. Empty input
// yields no chunks. A first paragraph larger than the target still becomes one chunk.
func Segment(text string, opts Options) []models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	targetWords := int(float64(opts.TargetTokens) * wordsPerToken)
	if targetWords <= 0 {
		targetWords = 1
	}
	overlapWords := int(float64(opts.OverlapTokens) * wordsPerToken)

	paras := splitParagraphs(text)
	outline := Outline(text)

	var chunks []models.Chunk
	chunkStart := 0
	wordCount := 0
	lastEnd := 0

	closeChunk := func(end int) {
		chunks = append(chunks, models.Chunk{
			ChunkID:         uuid.New(),
			BookID:          opts.BookID,
			TextContent:     text[chunkStart:end],
			TokenCount:      int(float64(wordCount) / wordsPerToken),
			StartCharOffset: chunkStart,
			EndCharOffset:   end,
		})
	}

	for _, p := range paras {
		wc := countWords(text[p.start:p.end])
		if wordCount > 0 && wordCount+wc > targetWords {
			closeChunk(lastEnd)
			next := overlapStart(text, chunkStart, lastEnd, overlapWords)
			chunkStart = next
			wordCount = countWords(text[next:lastEnd])
		}
		wordCount += wc
		lastEnd = p.end
	}
	if wordCount > 0 {
		// the final chunk absorbs any trailing whitespace so the whole input is covered
		closeChunk(len(text))
	}

	for i := range chunks {
		outline.classify(&chunks[i])
	}
	return chunks
}

type span struct {
	start, end int
}

// splitParagraphs locates non-empty paragraphs and their exact offsets.
func splitParagraphs(text string) []span {
	var out []span
	seps := paragraphSep.FindAllStringIndex(text, -1)
	bounds := make([]int, 0, len(seps)*2+2)
	bounds = append(bounds, 0)
	for _, s := range seps {
		bounds = append(bounds, s[0], s[1])
	}
	bounds = append(bounds, len(text))
	for i := 0; i+1 < len(bounds); i += 2 {
		start, end := bounds[i], bounds[i+1]
		if strings.TrimSpace(text[start:end]) == "" {
			continue
		}
		out = append(out, span{start: start, end: end})
	}
	return out
}

func countWords(s string) int {
	return len(strings.Fields(s))
}

// overlapStart returns the offset of the n-th word counted from the end of
// text[start:end]. The returned offset always lands on a word boundary.
func overlapStart(text string, start, end, overlapWords int) int {
	if overlapWords <= 0 {
		return end
	}
	var starts []int
	inWord := false
	for i, r := range text[start:end] {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			starts = append(starts, start+i)
			inWord = true
		}
	}
	if len(starts) == 0 {
		return end
	}
	if overlapWords >= len(starts) {
		return starts[0]
	}
	return starts[len(starts)-overlapWords]
}
