package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pdf-qa/internal/models"
)

func TestChunkTable(t *testing.T) {
	assert.Equal(t, "rag_chunks_default_0f8b2c1e9a7d", chunkTable("default", "0f8b2c1e-9a7d-4c3b-8e21-5d6f7a8b9c0d"))
	assert.Equal(t, "rag_chunks_my-docs_abc", chunkTable("My-Docs", "abc"))
}

func TestRecordRoundTrip(t *testing.T) {
	m := models.Manifest{
		Name:         "default",
		Backend:      "ollama",
		Model:        "nomic-embed-text",
		Dimension:    768,
		ChunkCount:   12,
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Source:       "invoice.pdf",
		BuildID:      "build-1",
		CreatedAt:    time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	rec := recordFromManifest(m, "rag_chunks_default_build1")
	assert.Equal(t, "rag_chunks_default_build1", rec.ChunkTable)
	assert.Equal(t, m, rec.Manifest())
}
