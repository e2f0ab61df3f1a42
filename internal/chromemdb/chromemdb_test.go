package chromemdb

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-qa/internal/models"
)

func testChunks(texts ...string) []models.Chunk {
	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{ID: models.ChunkID(i), Seq: i, Text: text, Page: i + 1, Source: "doc.pdf"}
	}
	return chunks
}

func testManifest(dim int) models.Manifest {
	return models.Manifest{
		Backend:      "stub",
		Model:        "test",
		Dimension:    dim,
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Source:       "doc.pdf",
		CreatedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "indexes"), false, "")
	require.NoError(t, err)
	return s
}

func TestBuildQueryAndReload(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	chunks := testChunks("about cats", "about dogs", "about invoices")
	vectors := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	ix, err := s.Build(ctx, "default", testManifest(3), chunks, vectors)
	require.NoError(t, err)

	assert.Equal(t, 3, ix.Count())
	assert.Equal(t, "default", ix.Manifest().Name)
	assert.Equal(t, 3, ix.Manifest().ChunkCount)
	assert.NotEmpty(t, ix.Manifest().BuildID)

	hits, err := ix.Query(ctx, []float32{0.1, 0.2, 0.9}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "about invoices", hits[0].Chunk.Text)
	assert.Equal(t, 3, hits[0].Chunk.Page)
	assert.Equal(t, "doc.pdf", hits[0].Chunk.Source)
	assert.Equal(t, "about dogs", hits[1].Chunk.Text)
	assert.Greater(t, hits[0].Score, hits[1].Score)

	// a fresh store over the same directory sees the same index
	reopened, err := NewStore(s.dir, false, "")
	require.NoError(t, err)
	loaded, err := reopened.Load(ctx, "default")
	require.NoError(t, err)
	again, err := loaded.Query(ctx, []float32{0.1, 0.2, 0.9}, 2)
	require.NoError(t, err)
	assert.Equal(t, hits, again)
	assert.Equal(t, ix.Manifest(), loaded.Manifest())
}

func TestQueryTiesFollowSequence(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	chunks := testChunks("c0", "c1", "c2", "c3", "c4", "c5")
	vectors := make([][]float32, len(chunks))
	for i := range vectors {
		vectors[i] = make([]float32, 4)
	}
	ix, err := s.Build(ctx, "zeros", testManifest(4), chunks, vectors)
	require.NoError(t, err)

	hits, err := ix.Query(ctx, make([]float32, 4), 4)
	require.NoError(t, err)
	require.Len(t, hits, 4)
	for i, h := range hits {
		assert.Equal(t, i, h.Chunk.Seq)
		assert.Equal(t, float32(0), h.Score)
	}
}

func TestQueryReturnsAtMostCount(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ix, err := s.Build(ctx, "small", testManifest(2), testChunks("only", "two"), [][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)

	hits, err := ix.Query(ctx, []float32{1, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	_, err = ix.Query(ctx, []float32{1, 1, 1}, 1)
	assert.Error(t, err)
}

func TestHead(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	vectors := [][]float32{{0, 1}, {1, 0}, {0, 1}, {1, 1}}
	ix, err := s.Build(ctx, "default", testManifest(2), testChunks("a", "b", "c", "d"), vectors)
	require.NoError(t, err)

	head, err := ix.Head(ctx, 3)
	require.NoError(t, err)
	require.Len(t, head, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{head[0].Text, head[1].Text, head[2].Text})

	all, err := ix.Head(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestBuildRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	tests := []struct {
		name    string
		index   string
		chunks  []models.Chunk
		vectors [][]float32
	}{
		{"empty", "default", nil, nil},
		{"count mismatch", "default", testChunks("a", "b"), [][]float32{{1, 0}}},
		{"wrong dimension", "default", testChunks("a"), [][]float32{{1, 0, 0}}},
		{"bad name", "../escape", testChunks("a"), [][]float32{{1, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Build(ctx, tt.index, testManifest(2), tt.chunks, tt.vectors)
			assert.ErrorIs(t, err, models.ErrIndexBuild)
		})
	}

	_, err := s.Load(ctx, "default")
	assert.ErrorIs(t, err, models.ErrIndexNotFound, "failed builds must not leave an index behind")
}

func TestBuildOverwritesPreviousIndex(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	old, err := s.Build(ctx, "default", testManifest(2), testChunks("old one", "old two"), [][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)

	_, err = s.Build(ctx, "default", testManifest(2), testChunks("new"), [][]float32{{1, 0}})
	require.NoError(t, err)

	loaded, err := s.Load(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Count())

	// the old handle keeps answering from its own data
	hits, err := old.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "old one", hits[0].Chunk.Text)

	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "staging and previous directories must be cleaned up")
	assert.Equal(t, "default", entries[0].Name())
}

func TestLoadDuringRebuildAlwaysFindsAnIndex(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Build(ctx, "default", testManifest(2), testChunks("first"), [][]float32{{1, 0}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			_, err := s.Build(ctx, "default", testManifest(2), testChunks("rebuilt"), [][]float32{{0, 1}})
			assert.NoError(t, err)
		}
	}()
	for i := 0; i < 50; i++ {
		ix, err := s.Load(ctx, "default")
		require.NoError(t, err)
		assert.Equal(t, 1, ix.Count())
	}
	wg.Wait()
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Load(ctx, "nothing-here")
	assert.ErrorIs(t, err, models.ErrIndexNotFound)

	_, err = s.Build(ctx, "default", testManifest(2), testChunks("a", "b"), [][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)
	manifestPath := filepath.Join(s.dir, "default", manifestFile)

	t.Run("unreadable manifest", func(t *testing.T) {
		original, err := os.ReadFile(manifestPath)
		require.NoError(t, err)
		t.Cleanup(func() { _ = os.WriteFile(manifestPath, original, 0o644) })

		require.NoError(t, os.WriteFile(manifestPath, []byte("name: [oops"), 0o644))
		_, err = s.Load(ctx, "default")
		assert.ErrorIs(t, err, models.ErrIndexCorrupt)
	})

	t.Run("count mismatch", func(t *testing.T) {
		m, err := readManifest(manifestPath)
		require.NoError(t, err)
		t.Cleanup(func() { _ = writeManifest(manifestPath, m) })

		bad := m
		bad.ChunkCount = 7
		require.NoError(t, writeManifest(manifestPath, bad))
		_, err = s.Load(ctx, "default")
		assert.ErrorIs(t, err, models.ErrIndexCorrupt)
	})

	t.Run("vectors missing", func(t *testing.T) {
		require.NoError(t, os.RemoveAll(filepath.Join(s.dir, "default", vectorsDir)))
		_, err := s.Load(ctx, "default")
		assert.ErrorIs(t, err, models.ErrIndexCorrupt)
	})
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(filepath.Join(t.TempDir(), "indexes"), true, "0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	_, err = s.Build(ctx, "default", testManifest(2), testChunks("a"), [][]float32{{1, 0}})
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "default.chromem")
	require.NoError(t, s.Export(ctx, "default", out))
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	err = s.Export(ctx, "missing", out)
	assert.ErrorIs(t, err, models.ErrIndexNotFound)
}
