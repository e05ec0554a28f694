package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/readerlab/bookchat/config"
	"github.com/readerlab/bookchat/models"
	gemini_provider "github.com/readerlab/bookchat/provider/gemini"
	openai_provider "github.com/readerlab/bookchat/provider/openai"
)

// EmbeddingProvider maps text to fixed-length vectors. Implementations must be safe
// for concurrent use.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CompletionProvider issues a chat completion given a system instruction, prior
// conversation turns and the user prompt.
type CompletionProvider interface {
	Complete(ctx context.Context, system string, history []models.Message, user string) (string, error)
	Model() string
}

// Provider bundles both capabilities; every concrete backend implements the full set so
// the retrieval engine and orchestrator stay provider-agnostic.
type Provider interface {
	EmbeddingProvider
	CompletionProvider
}

// NewProvider creates the configured provider backend.
func NewProvider(cfg config.ProvidersConfig) (Provider, error) {
	pc, err := cfg.ActiveProvider()
	if err != nil {
		return nil, err
	}
	if pc.APIKey == "" {
		return nil, errors.New("provider api key not configured")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Active)) {
	case "", "openai":
		return openai_provider.NewClient(pc.APIKey, pc.BaseURL, pc.CompletionModel, pc.EmbeddingModel, pc.Temperature, pc.MaxTokens, pc.Timeout), nil
	case "gemini":
		return gemini_provider.NewClient(pc.APIKey, pc.BaseURL, pc.CompletionModel, pc.EmbeddingModel, pc.Temperature, pc.MaxTokens, pc.Timeout), nil
	}
	return nil, errors.New("unsupported provider")
}
