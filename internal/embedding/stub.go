package embedding

import (
	"context"
	"fmt"

	"pdf-qa/internal/models"
)

// StubEmbedder returns all-zero vectors. It needs no network and keeps the
// pipeline runnable offline; every chunk ties, so retrieval falls back to
// sequence order.
type StubEmbedder struct {
	info models.EmbedderInfo
}

func NewStubEmbedder(model string, dimension int) *StubEmbedder {
	return &StubEmbedder{info: models.EmbedderInfo{Backend: "stub", Model: model, Dimension: dimension}}
}

func (s *StubEmbedder) Info() models.EmbedderInfo { return s.info }

func (s *StubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: nothing to embed", models.ErrEmbedding)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbedding, err)
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = make([]float32, s.info.Dimension)
	}
	return vectors, nil
}
