package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pdf-qa/internal/config"
	"pdf-qa/internal/models"
)

// Embedder maps texts to vectors of a fixed dimension.
type Embedder interface {
	Info() models.EmbedderInfo
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// New returns the embedder selected by cfg.Backend.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Backend {
	case "ollama":
		return NewOllamaEmbedder(cfg)
	case "openai":
		return NewOpenAIEmbedder(cfg)
	case "stub":
		return NewStubEmbedder(cfg.Model, cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding backend %q", models.ErrConfiguration, cfg.Backend)
	}
}

// LangchainEmbedder embeds through a langchaingo client.
type LangchainEmbedder struct {
	info     models.EmbedderInfo
	embedder embeddings.Embedder
}

// NewOllamaEmbedder talks to a local ollama server.
func NewOllamaEmbedder(cfg config.EmbeddingConfig) (*LangchainEmbedder, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("creating ollama embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama client: %w", models.ErrConfiguration, err)
	}
	return newLangchainEmbedder("ollama", cfg, llm)
}

// NewOpenAIEmbedder talks to the OpenAI API or any compatible base URL.
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) (*LangchainEmbedder, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("creating openai embedder")

	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: openai client: %w", models.ErrConfiguration, err)
	}
	return newLangchainEmbedder("openai", cfg, llm)
}

func newLangchainEmbedder(backend string, cfg config.EmbeddingConfig, client embeddings.EmbedderClient) (*LangchainEmbedder, error) {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(batch))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrConfiguration, err)
	}
	return &LangchainEmbedder{
		info:     models.EmbedderInfo{Backend: backend, Model: cfg.Model, Dimension: cfg.Dimension},
		embedder: embedder,
	}, nil
}

func (e *LangchainEmbedder) Info() models.EmbedderInfo { return e.info }

func (e *LangchainEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: nothing to embed", models.ErrEmbedding)
	}
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrEmbedding, e.info.Backend, err)
	}
	if err := checkVectors(vectors, len(texts), e.info.Dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

func checkVectors(vectors [][]float32, want, dimension int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: got %d vectors for %d texts", models.ErrEmbedding, len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) != dimension {
			return fmt.Errorf("%w: vector %d has dimension %d, expected %d", models.ErrEmbedding, i, len(v), dimension)
		}
	}
	return nil
}
