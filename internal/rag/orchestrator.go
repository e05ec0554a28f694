package rag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/readerlab/bookchat/internal/retrieval"
	"github.com/readerlab/bookchat/internal/session"
	"github.com/readerlab/bookchat/internal/store"
	"github.com/readerlab/bookchat/internal/validation"
	"github.com/readerlab/bookchat/models"
	"github.com/readerlab/bookchat/provider"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookchat_queries_total",
		Help: "Processed queries by outcome.",
	}, []string{"outcome"})
	queryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bookchat_query_latency_seconds",
		Help:    "End-to-end query latency.",
		Buckets: prometheus.DefBuckets,
	})
)

const systemPrompt = `You are a helpful assistant that answers questions strictly based on the provided book content.

CRITICAL RULES:
1. ONLY use information from the provided context passages
2. ALWAYS cite your sources using [1], [2], etc. for each claim
3. If information is not in the context, say "This information is not available in the book"
4. Do NOT add external knowledge or assumptions
5. Be concise and accurate`

// QueryRequest is one user question with its addressing context. A nil SessionID asks
// for a fresh session; an unknown or expired SessionID is replaced silently.
type QueryRequest struct {
	QueryText string
	SessionID *uuid.UUID
	UserID    string
	Mode      models.RetrievalMode
	Selection *models.TextSelection
}

// Orchestrator wires retrieval, generation, validation, session state and the audit
// trail into one query pipeline.
type Orchestrator struct {
	engine    *retrieval.Engine
	validator *validation.Validator
	completer provider.CompletionProvider
	sessions  *session.Manager
	store     *store.Store
	logger    *log.Logger

	topK        int
	maxMessages int
}

func NewOrchestrator(engine *retrieval.Engine, validator *validation.Validator, completer provider.CompletionProvider,
	sessions *session.Manager, st *store.Store, logger *log.Logger, topK, maxMessages int) *Orchestrator {
	if topK <= 0 {
		topK = 5
	}
	return &Orchestrator{
		engine:      engine,
		validator:   validator,
		completer:   completer,
		sessions:    sessions,
		store:       st,
		logger:      logger,
		topK:        topK,
		maxMessages: maxMessages,
	}
}

// ProcessQuery runs the full pipeline: resolve session, record the query, retrieve,
// short-circuit out-of-scope questions, generate, validate and persist. Audit write
// failures fail the whole query; a completion failure degrades to quoting the top
// passage instead.
func (o *Orchestrator) ProcessQuery(ctx context.Context, req QueryRequest) (models.QueryResponse, error) {
	start := time.Now()
	defer func() { queryLatency.Observe(time.Since(start).Seconds()) }()

	o.logger.Printf("processing query: %s", models.Preview(req.QueryText))

	sessionID, mode, err := o.resolveSession(ctx, req)
	if err != nil {
		queriesTotal.WithLabelValues("error").Inc()
		return models.QueryResponse{}, err
	}

	queryID := uuid.New()
	var selectionID *uuid.UUID
	if req.Selection != nil {
		selectionID = &req.Selection.SelectionID
	}
	if err := o.store.InsertQuery(ctx, store.QueryRecord{
		QueryID:       queryID,
		SessionID:     sessionID,
		QueryText:     req.QueryText,
		RetrievalMode: mode,
		SelectionID:   selectionID,
	}); err != nil {
		queriesTotal.WithLabelValues("error").Inc()
		return models.QueryResponse{}, fmt.Errorf("store query: %w", err)
	}

	chunks, err := o.engine.Retrieve(ctx, queryID, req.QueryText, o.topK, mode, req.Selection)
	if err != nil {
		queriesTotal.WithLabelValues("error").Inc()
		return models.QueryResponse{}, err
	}

	if oos, reply := o.validator.OutOfScope(chunks); oos {
		o.logger.Printf("returning out-of-scope response for query %s", queryID)
		// empty, not nil: the citations column and the API both carry []
		resp, err := o.finish(ctx, start, queryID, sessionID, req.QueryText, reply, []models.Citation{}, validation.Result{
			Passed: true, RetrievalQuality: 0, Notes: "Out-of-scope query",
		})
		if err != nil {
			queriesTotal.WithLabelValues("error").Inc()
			return models.QueryResponse{}, err
		}
		queriesTotal.WithLabelValues("out_of_scope").Inc()
		return resp, nil
	}

	history, err := o.sessions.ConversationContext(ctx, sessionID, o.maxMessages)
	if err != nil {
		queriesTotal.WithLabelValues("error").Inc()
		return models.QueryResponse{}, err
	}

	outcome := "answered"
	responseText, degraded := o.generate(ctx, req.QueryText, chunks, history)
	citations := buildCitations(chunks)

	var result validation.Result
	if degraded {
		outcome = "degraded"
		result = validation.Result{Passed: false, RetrievalQuality: bestScore(chunks), Notes: "Degraded: completion provider unavailable"}
	} else {
		result, err = o.validator.Validate(ctx, responseText, chunks)
		if err != nil {
			queriesTotal.WithLabelValues("error").Inc()
			return models.QueryResponse{}, err
		}
	}

	resp, err := o.finish(ctx, start, queryID, sessionID, req.QueryText, responseText, citations, result)
	if err != nil {
		queriesTotal.WithLabelValues("error").Inc()
		return models.QueryResponse{}, err
	}
	queriesTotal.WithLabelValues(outcome).Inc()
	o.logger.Printf("query %s done: quality=%.3f validated=%t citations=%d latency=%dms",
		queryID, result.RetrievalQuality, result.Passed, len(citations), resp.LatencyMS)
	return resp, nil
}

// resolveSession loads the addressed session or creates a fresh one. An unknown or
// expired id gets a warning and a new session rather than an error, so a client
// holding a stale id keeps working.
func (o *Orchestrator) resolveSession(ctx context.Context, req QueryRequest) (uuid.UUID, models.RetrievalMode, error) {
	mode := req.Mode
	if mode == "" {
		mode = models.RetrievalModeFullBook
	}

	if req.SessionID != nil {
		sess, err := o.sessions.Load(ctx, *req.SessionID)
		if err == nil {
			if req.Mode == "" {
				mode = sess.ActiveRetrievalMode
			}
			return sess.SessionID, mode, nil
		}
		if !errors.Is(err, models.ErrSessionNotFound) {
			return uuid.Nil, "", err
		}
		o.logger.Printf("session %s not found, creating new session", *req.SessionID)
	}

	id, err := o.sessions.Create(ctx, req.UserID, mode)
	if err != nil {
		return uuid.Nil, "", err
	}
	return id, mode, nil
}

// generate asks the completion provider for an answer over the numbered context. When
// the provider fails, it degrades to quoting the best passage verbatim so the reader
// still gets grounded book content.
func (o *Orchestrator) generate(ctx context.Context, queryText string, chunks []models.ScoredChunk, history []models.Message) (string, bool) {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("[%d] %s", i+1, c.TextContent)
	}
	userPrompt := fmt.Sprintf("Context from book:\n\n%s\n\nQuestion: %s", strings.Join(parts, "\n\n"), queryText)

	text, err := o.completer.Complete(ctx, systemPrompt, history, userPrompt)
	if err != nil {
		o.logger.Printf("completion failed, degrading to extractive answer: %v", err)
		return fmt.Sprintf("I could not generate an answer right now. The most relevant passage from the book is:\n\n[1] %s", chunks[0].TextContent), true
	}
	return text, false
}

// finish persists the response audit row, appends the turn to the session and builds
// the reply. The audit write is load-bearing: if it fails the query fails.
func (o *Orchestrator) finish(ctx context.Context, start time.Time, queryID, sessionID uuid.UUID,
	queryText, responseText string, citations []models.Citation, result validation.Result) (models.QueryResponse, error) {

	responseID := uuid.New()
	if err := o.store.InsertResponse(ctx, store.ResponseRecord{
		ResponseID:       responseID,
		QueryID:          queryID,
		ResponseText:     responseText,
		Citations:        citations,
		RetrievalQuality: result.RetrievalQuality,
		ValidationPassed: result.Passed,
		ValidationNotes:  result.Notes,
		Model:            o.completer.Model(),
	}); err != nil {
		return models.QueryResponse{}, fmt.Errorf("store response: %w", err)
	}

	now := time.Now()
	userMsg := models.Message{Role: models.RoleUser, Content: queryText, Timestamp: now}
	if err := o.sessions.Update(ctx, sessionID, session.UpdateParams{NewMessage: &userMsg}); err != nil {
		return models.QueryResponse{}, err
	}
	assistantMsg := models.Message{Role: models.RoleAssistant, Content: responseText, Timestamp: time.Now()}
	for _, c := range citations {
		assistantMsg.Citations = append(assistantMsg.Citations, c.ChunkID)
	}
	if err := o.sessions.Update(ctx, sessionID, session.UpdateParams{NewMessage: &assistantMsg}); err != nil {
		return models.QueryResponse{}, err
	}

	return models.QueryResponse{
		ResponseID:       responseID,
		QueryID:          queryID,
		SessionID:        sessionID,
		ResponseText:     responseText,
		Citations:        citations,
		RetrievalQuality: result.RetrievalQuality,
		LatencyMS:        time.Since(start).Milliseconds(),
	}, nil
}

// buildCitations numbers the retrieved chunks positionally; reference [N] in the answer
// resolves to the N-th retrieved chunk.
func buildCitations(chunks []models.ScoredChunk) []models.Citation {
	citations := make([]models.Citation, len(chunks))
	for i, c := range chunks {
		citations[i] = models.Citation{
			ChunkID:      c.ChunkID,
			Reference:    fmt.Sprintf("[%d]", i+1),
			ChapterTitle: c.ChapterTitle,
			SectionTitle: c.SectionTitle,
			PageNumber:   c.PageNumber,
			TextPreview:  models.Preview(c.TextContent),
		}
	}
	return citations
}

func bestScore(chunks []models.ScoredChunk) float64 {
	best := 0.0
	for _, c := range chunks {
		if c.SimilarityScore > best {
			best = c.SimilarityScore
		}
	}
	return best
}
