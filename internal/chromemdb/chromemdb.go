// Package chromemdb keeps each index in its own directory: a manifest.yaml
// next to a chromem-go persistent database holding one collection.
package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"pdf-qa/internal/helper"
	"pdf-qa/internal/models"
)

const (
	manifestFile = "manifest.yaml"
	vectorsDir   = "vectors"
)

var errNoEmbedding = errors.New("chromemdb: documents must carry precomputed embeddings")

// refuseEmbedding is the collection's embedding func. Vectors always come
// from the configured embedder, never from chromem.
func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedding
}

// Store builds and loads indexes under a root directory. Loads never see
// the moment between moving the old index aside and renaming the new one in.
type Store struct {
	dir           string
	compress      bool
	encryptionKey string

	mu sync.RWMutex
}

func NewStore(dir string, compress bool, encryptionKey string) (*Store, error) {
	if err := helper.CreateFolder(dir); err != nil {
		return nil, fmt.Errorf("%w: create index dir: %w", models.ErrConfiguration, err)
	}
	return &Store{dir: dir, compress: compress, encryptionKey: encryptionKey}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// Build writes a complete index to a staging directory and renames it over
// any index of the same name, then reloads it from disk.
func (s *Store) Build(ctx context.Context, name string, manifest models.Manifest, chunks []models.Chunk, vectors [][]float32) (models.Index, error) {
	if err := models.ValidateBuild(name, chunks, vectors, manifest.Dimension); err != nil {
		return nil, err
	}

	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIndexBuild, err)
	}
	staging := filepath.Join(s.dir, fmt.Sprintf(".staging-%s-%s", name, id))
	defer os.RemoveAll(staging)

	db, err := chromem.NewPersistentDB(filepath.Join(staging, vectorsDir), s.compress)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create database: %w", models.ErrIndexBuild, err)
	}
	c, err := db.CreateCollection(name, nil, refuseEmbedding)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create collection: %w", models.ErrIndexBuild, err)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, ch := range chunks {
		docs[i] = chromem.Document{
			ID:        ch.ID,
			Content:   ch.Text,
			Metadata:  chunkMetadata(ch),
			Embedding: vectors[i],
		}
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("%w: failed to add documents: %w", models.ErrIndexBuild, err)
	}

	manifest.Name = name
	manifest.ChunkCount = len(chunks)
	manifest.Compressed = s.compress
	if manifest.BuildID == "" {
		manifest.BuildID = id
	}
	if err := writeManifest(filepath.Join(staging, manifestFile), manifest); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIndexBuild, err)
	}

	if err := s.swap(name, staging, id); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIndexBuild, err)
	}
	log.Info().Str("index", name).Int("chunks", len(chunks)).Str("build_id", manifest.BuildID).Msg("index persisted")

	return s.Load(ctx, name)
}

// swap moves staging into place. The previous index is moved aside first and
// removed only after the rename succeeded.
func (s *Store) swap(name, staging, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(name)
	old := filepath.Join(s.dir, fmt.Sprintf(".old-%s-%s", name, id))

	hadOld := true
	if err := os.Rename(target, old); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("move previous index aside: %w", err)
		}
		hadOld = false
	}
	if err := os.Rename(staging, target); err != nil {
		if hadOld {
			_ = os.Rename(old, target)
		}
		return fmt.Errorf("move new index into place: %w", err)
	}
	if hadOld {
		if err := os.RemoveAll(old); err != nil {
			log.Warn().Err(err).Str("path", old).Msg("failed to remove previous index")
		}
	}
	return nil
}

// Load opens a persisted index. A missing manifest is ErrIndexNotFound; any
// other inconsistency is ErrIndexCorrupt.
func (s *Store) Load(_ context.Context, name string) (models.Index, error) {
	if !models.ValidIndexName(name) {
		return nil, fmt.Errorf("%w: invalid index name %q", models.ErrIndexNotFound, name)
	}
	dir := s.path(name)

	s.mu.RLock()
	defer s.mu.RUnlock()
	manifest, err := readManifest(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, err
	}

	vectors := filepath.Join(dir, vectorsDir)
	if _, err := os.Stat(vectors); err != nil {
		return nil, fmt.Errorf("%w: index %q has no vectors: %w", models.ErrIndexCorrupt, name, err)
	}
	db, err := chromem.NewPersistentDB(vectors, manifest.Compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: open vectors: %w", models.ErrIndexCorrupt, err)
	}
	c := db.GetCollection(name, refuseEmbedding)
	if c == nil {
		return nil, fmt.Errorf("%w: index %q has no collection", models.ErrIndexCorrupt, name)
	}
	if c.Count() != manifest.ChunkCount {
		return nil, fmt.Errorf("%w: index %q holds %d chunks, manifest says %d", models.ErrIndexCorrupt, name, c.Count(), manifest.ChunkCount)
	}
	if manifest.Dimension <= 0 {
		return nil, fmt.Errorf("%w: index %q has dimension %d", models.ErrIndexCorrupt, name, manifest.Dimension)
	}

	return &Index{manifest: manifest, collection: c}, nil
}

// Export writes a snapshot of a persisted index to filePath, gzipped and
// AES-encrypted when the store is configured for it.
func (s *Store) Export(_ context.Context, name, filePath string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	manifest, err := readManifest(filepath.Join(s.path(name), manifestFile))
	if err != nil {
		return err
	}
	db, err := chromem.NewPersistentDB(filepath.Join(s.path(name), vectorsDir), manifest.Compressed)
	if err != nil {
		return fmt.Errorf("%w: open vectors: %w", models.ErrIndexCorrupt, err)
	}

	log.Debug().Str("collection", name).Str("file", filePath).Bool("compress", s.compress).
		Bool("encrypted", s.encryptionKey != "").Msg("exporting index")
	if err := db.ExportToFile(filePath, s.compress, s.encryptionKey, name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

func chunkMetadata(ch models.Chunk) map[string]string {
	return map[string]string{
		"seq":    strconv.Itoa(ch.Seq),
		"page":   strconv.Itoa(ch.Page),
		"source": ch.Source,
	}
}

func writeManifest(path string, m models.Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func readManifest(path string) (models.Manifest, error) {
	var m models.Manifest
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, fmt.Errorf("%w: %s", models.ErrIndexNotFound, filepath.Dir(path))
	}
	if err != nil {
		return m, fmt.Errorf("%w: read manifest: %w", models.ErrIndexCorrupt, err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: decode manifest: %w", models.ErrIndexCorrupt, err)
	}
	return m, nil
}
