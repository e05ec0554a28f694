package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/readerlab/bookchat/internal/index"
)

// Storage is a REST client to Qdrant using cosine distance. One shared instance serves
// all in-flight queries; the underlying http.Client is safe for concurrent use.
type Storage struct {
	url        string
	apiKey     string
	collection string
	httpClient *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// EnsureCollection creates the collection if missing. Qdrant answers 200 for an
// existing collection with the same schema.
func (s *Storage) EnsureCollection(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("invalid dimensions: %d", dimensions)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimensions,
			"distance": "Cosine",
		},
	}
	return s.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", s.collection), body, nil)
}

// Upsert writes points with their payloads, waiting for the operation to land.
func (s *Storage) Upsert(ctx context.Context, points []index.Point) error {
	if len(points) == 0 {
		return nil
	}
	ps := make([]map[string]any, len(points))
	for i, p := range points {
		ps[i] = map[string]any{
			"id":      p.ChunkID.String(),
			"vector":  p.Vector,
			"payload": p.Payload,
		}
	}
	body := map[string]any{"points": ps}
	return s.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", s.collection), body, nil)
}

// Search returns the topK nearest neighbours in Qdrant's descending-score order,
// optionally constrained to chunks whose offset range overlaps the given span.
func (s *Storage) Search(ctx context.Context, vector []float32, topK int, within *index.OffsetRange) ([]index.Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if within != nil {
		// overlap test: chunk.start < selection.end AND chunk.end > selection.start
		req["filter"] = map[string]any{
			"must": []map[string]any{
				{"key": "start_char_offset", "range": map[string]any{"lt": within.End}},
				{"key": "end_char_offset", "range": map[string]any{"gt": within.Start}},
			},
		}
	}

	var resp struct {
		Result []struct {
			Score   float64       `json:"score"`
			Payload index.Payload `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", s.collection), req, &resp); err != nil {
		return nil, err
	}

	hits := make([]index.Hit, len(resp.Result))
	for i, r := range resp.Result {
		hits[i] = index.Hit{Score: r.Score, Payload: r.Payload}
	}
	return hits, nil
}

func (s *Storage) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.url+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant returned status %d: %s", resp.StatusCode, string(b))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
