package validation

import (
	"context"
	"fmt"
	"log"
	"math"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/readerlab/bookchat/models"
	"github.com/readerlab/bookchat/provider"
)

var failureCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "bookchat_validation_failures_total",
	Help: "Answers that failed grounding validation.",
})

var citationPattern = regexp.MustCompile(`\[\d+\]`)

// Phrases the completion model uses when it correctly declines to answer. An answer
// containing one of these is a valid refusal, not a hallucination.
var outOfScopePhrases = []string{
	"information is not available",
	"not found in the book",
	"cannot answer based on",
	"no information about",
	"not mentioned in",
}

// Validator checks that a generated answer is grounded in the retrieved context,
// using two signals: citation markers in the answer text and cosine similarity
// between the answer embedding and the combined context embedding.
type Validator struct {
	embedder            provider.EmbeddingProvider
	logger              *log.Logger
	minSimilarity       float64
	outOfScopeThreshold float64
	contextCharLimit    int
}

// Result is the outcome of one grounding check. Notes is a human-readable trace of
// each signal, pipe-joined, stored verbatim in the response audit row.
type Result struct {
	Passed           bool
	RetrievalQuality float64
	Notes            string
}

func NewValidator(embedder provider.EmbeddingProvider, logger *log.Logger, minSimilarity, outOfScopeThreshold float64, contextCharLimit int) *Validator {
	if contextCharLimit <= 0 {
		contextCharLimit = 8000
	}
	return &Validator{
		embedder:            embedder,
		logger:              logger,
		minSimilarity:       minSimilarity,
		outOfScopeThreshold: outOfScopeThreshold,
		contextCharLimit:    contextCharLimit,
	}
}

// OutOfScope reports whether retrieval found nothing the answer could be grounded in,
// together with the canned reply to return instead of invoking the completion model.
func (v *Validator) OutOfScope(chunks []models.ScoredChunk) (bool, string) {
	if len(chunks) == 0 {
		return true, "I couldn't find any relevant information in the book to answer your question."
	}
	best := chunks[0].SimilarityScore
	for _, c := range chunks[1:] {
		if c.SimilarityScore > best {
			best = c.SimilarityScore
		}
	}
	if best < v.outOfScopeThreshold {
		v.logger.Printf("out-of-scope query detected (best score %.3f)", best)
		return true, fmt.Sprintf("I couldn't find information directly related to your question in the book. The most relevant content I found has low relevance (score: %.2f).", best)
	}
	return false, ""
}

// Validate checks answer grounding. A refusal phrase short-circuits as passed with
// zero quality: correctly saying "not in the book" is the desired behavior for
// unanswerable questions. Embedding failures surface as errors; the caller decides
// whether to fail the query or degrade.
func (v *Validator) Validate(ctx context.Context, responseText string, chunks []models.ScoredChunk) (Result, error) {
	var notes []string

	citations := citationPattern.FindAllString(responseText, -1)
	hasCitations := len(citations) > 0
	if hasCitations {
		notes = append(notes, fmt.Sprintf("Found %d citations", len(citations)))
	} else {
		notes = append(notes, "No citations found - potential hallucination risk")
	}

	lower := strings.ToLower(responseText)
	for _, phrase := range outOfScopePhrases {
		if strings.Contains(lower, phrase) {
			notes = append(notes, "Out-of-scope query detected")
			return Result{Passed: true, RetrievalQuality: 0, Notes: strings.Join(notes, " | ")}, nil
		}
	}

	parts := make([]string, len(chunks))
	quality := 0.0
	for i, c := range chunks {
		parts[i] = c.TextContent
		if c.SimilarityScore > quality {
			quality = c.SimilarityScore
		}
	}
	combined := strings.Join(parts, " ")
	if len(combined) > v.contextCharLimit {
		combined = combined[:v.contextCharLimit]
	}

	vectors, err := v.embedder.Embed(ctx, []string{responseText, combined})
	if err != nil {
		return Result{}, fmt.Errorf("embed for validation: %w", err)
	}
	if len(vectors) < 2 {
		return Result{}, fmt.Errorf("embed for validation: provider returned %d vectors, want 2", len(vectors))
	}
	similarity := CosineSimilarity(vectors[0], vectors[1])
	notes = append(notes, fmt.Sprintf("Semantic similarity: %.3f", similarity))

	passed := hasCitations && similarity > v.minSimilarity
	if !passed {
		if !hasCitations {
			notes = append(notes, "FAIL: Missing citations")
		}
		if similarity <= v.minSimilarity {
			notes = append(notes, fmt.Sprintf("FAIL: Low semantic similarity (%.3f <= %.1f)", similarity, v.minSimilarity))
		}
		failureCounter.Inc()
	}

	v.logger.Printf("validation result: %t, quality: %.3f", passed, quality)
	return Result{Passed: passed, RetrievalQuality: quality, Notes: strings.Join(notes, " | ")}, nil
}

// CosineSimilarity returns 0 when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
