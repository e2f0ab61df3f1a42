package models

import (
	"context"
	"fmt"
	"regexp"
)

var indexNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Index is a loaded, read-only vector index.
type Index interface {
	Manifest() Manifest
	Count() int
	// Query returns up to k hits by decreasing similarity, ties broken by Seq.
	Query(ctx context.Context, vector []float32, k int) ([]Hit, error)
	// Head returns the first n chunks by Seq.
	Head(ctx context.Context, n int) ([]Chunk, error)
}

// IndexStore persists and reloads named indexes.
type IndexStore interface {
	Build(ctx context.Context, name string, manifest Manifest, chunks []Chunk, vectors [][]float32) (Index, error)
	Load(ctx context.Context, name string) (Index, error)
}

// ValidIndexName reports whether name is safe to use as a directory or table suffix.
func ValidIndexName(name string) bool {
	return indexNameRe.MatchString(name)
}

// ValidateBuild checks the inputs shared by every IndexStore.Build.
func ValidateBuild(name string, chunks []Chunk, vectors [][]float32, dimension int) error {
	if !ValidIndexName(name) {
		return fmt.Errorf("%w: invalid index name %q", ErrIndexBuild, name)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("%w: no chunks to index", ErrIndexBuild)
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks but %d vectors", ErrIndexBuild, len(chunks), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != dimension {
			return fmt.Errorf("%w: vector %d has dimension %d, expected %d", ErrIndexBuild, i, len(v), dimension)
		}
	}
	return nil
}

// CheckCompatible fails with ErrIndexCorrupt when an index was built in a
// different embedding space than want.
func CheckCompatible(m Manifest, want EmbedderInfo) error {
	if m.Dimension != want.Dimension {
		return fmt.Errorf("%w: index %q has dimension %d, configured embedder has %d", ErrIndexCorrupt, m.Name, m.Dimension, want.Dimension)
	}
	if m.Backend != want.Backend || m.Model != want.Model {
		return fmt.Errorf("%w: index %q was built with %s/%s, configured embedder is %s/%s",
			ErrIndexCorrupt, m.Name, m.Backend, m.Model, want.Backend, want.Model)
	}
	return nil
}

// ChunkID returns the deterministic ID of the chunk at seq.
func ChunkID(seq int) string {
	return fmt.Sprintf(ChunkIDFormat, seq)
}
