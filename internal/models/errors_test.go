package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		kind string
	}{
		{nil, ""},
		{errors.New("boom"), "internal_error"},
		{fmt.Errorf("%w: tesseract not found", ErrOCRUnavailable), "ocr_unavailable"},
		{fmt.Errorf("%w: %w", ErrExtraction, ErrUnsupportedFormat), "unsupported_format"},
		{fmt.Errorf("%w: bad pdf", ErrExtraction), "extraction_error"},
		{fmt.Errorf("%w: %w", ErrIndexBuild, ErrIndexCorrupt), "index_corrupt"},
		{fmt.Errorf("%w: %w", ErrAnswer, ErrIndexNotFound), "index_not_found"},
		{fmt.Errorf("%w: %w", ErrAnswer, ErrIndexCorrupt), "index_corrupt"},
		{fmt.Errorf("%w: %w", ErrAnswer, ErrEmbedding), "answer_error"},
		{fmt.Errorf("%w: ollama: timeout", ErrAnswer), "answer_error"},
		{fmt.Errorf("%w: ollama down", ErrEmbedding), "embedding_error"},
		{fmt.Errorf("%w: query is empty", ErrInvalidInput), "invalid_input"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, ErrorKind(tt.err), "%v", tt.err)
	}
}

func TestCheckCompatible(t *testing.T) {
	m := Manifest{Name: "default", Backend: "ollama", Model: "nomic-embed-text", Dimension: 768}

	assert.NoError(t, CheckCompatible(m, m.Embedder()))
	assert.ErrorIs(t, CheckCompatible(m, EmbedderInfo{Backend: "ollama", Model: "nomic-embed-text", Dimension: 384}), ErrIndexCorrupt)
	assert.ErrorIs(t, CheckCompatible(m, EmbedderInfo{Backend: "openai", Model: "nomic-embed-text", Dimension: 768}), ErrIndexCorrupt)
}
