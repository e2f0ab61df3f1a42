// Package db stores indexes in Postgres with the pgvector extension. Each
// build gets its own chunk table; rag_indexes points every index name at
// its current table.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"pdf-qa/internal/config"
	"pdf-qa/internal/helper"
	"pdf-qa/internal/models"
)

// IndexRecord is one row of rag_indexes.
type IndexRecord struct {
	bun.BaseModel `bun:"table:rag_indexes,alias:ri"`

	Name         string    `bun:"name,pk"`
	ChunkTable   string    `bun:"chunk_table,notnull"`
	Backend      string    `bun:"backend,notnull"`
	Model        string    `bun:"model,notnull"`
	Dimension    int       `bun:"dimension,notnull"`
	ChunkCount   int       `bun:"chunk_count,notnull"`
	ChunkSize    int       `bun:"chunk_size,notnull"`
	ChunkOverlap int       `bun:"chunk_overlap,notnull"`
	Source       string    `bun:"source,notnull"`
	BuildID      string    `bun:"build_id,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
}

// ChunkRow is one row of a chunk table.
type ChunkRow struct {
	bun.BaseModel `bun:"table:rag_chunks,alias:c"`

	ID        string          `bun:"id,pk"`
	Seq       int             `bun:"seq"`
	Page      int             `bun:"page"`
	Source    string          `bun:"source"`
	Content   string          `bun:"content"`
	Embedding pgvector.Vector `bun:"embedding,type:vector"`
}

type hitRow struct {
	ID      string  `bun:"id"`
	Seq     int     `bun:"seq"`
	Page    int     `bun:"page"`
	Source  string  `bun:"source"`
	Content string  `bun:"content"`
	Score   float64 `bun:"score"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(debug)))
	return db
}

func ConnectDB(dsn string) *sql.DB {
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewRaw("CREATE EXTENSION IF NOT EXISTS vector").Exec(ctx); err != nil {
		return err
	}
	_, err := db.NewCreateTable().Model((*IndexRecord)(nil)).IfNotExists().Exec(ctx)
	return err
}

// Store is the pgvector IndexStore.
type Store struct {
	db *bun.DB
}

func NewStore(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	db := NewDB(ConnectDB(cfg.DSN), cfg.Debug)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connect to postgres: %w", models.ErrConfiguration, err)
	}
	if err := InitDB(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init schema: %w", models.ErrConfiguration, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func chunkTable(name, buildID string) string {
	suffix := strings.ReplaceAll(buildID, "-", "")
	if len(suffix) > 12 {
		suffix = suffix[:12]
	}
	return fmt.Sprintf("rag_chunks_%s_%s", strings.ToLower(name), suffix)
}

func recordFromManifest(m models.Manifest, table string) IndexRecord {
	return IndexRecord{
		Name:         m.Name,
		ChunkTable:   table,
		Backend:      m.Backend,
		Model:        m.Model,
		Dimension:    m.Dimension,
		ChunkCount:   m.ChunkCount,
		ChunkSize:    m.ChunkSize,
		ChunkOverlap: m.ChunkOverlap,
		Source:       m.Source,
		BuildID:      m.BuildID,
		CreatedAt:    m.CreatedAt,
	}
}

func (r IndexRecord) Manifest() models.Manifest {
	return models.Manifest{
		Name:         r.Name,
		Backend:      r.Backend,
		Model:        r.Model,
		Dimension:    r.Dimension,
		ChunkCount:   r.ChunkCount,
		ChunkSize:    r.ChunkSize,
		ChunkOverlap: r.ChunkOverlap,
		Source:       r.Source,
		BuildID:      r.BuildID,
		CreatedAt:    r.CreatedAt,
	}
}

// Build creates a fresh chunk table, fills it, points the index record at it
// and drops the previous table, all in one transaction.
func (s *Store) Build(ctx context.Context, name string, manifest models.Manifest, chunks []models.Chunk, vectors [][]float32) (models.Index, error) {
	if err := models.ValidateBuild(name, chunks, vectors, manifest.Dimension); err != nil {
		return nil, err
	}
	if manifest.BuildID == "" {
		id, err := helper.GenerateUUID()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrIndexBuild, err)
		}
		manifest.BuildID = id
	}
	manifest.Name = name
	manifest.ChunkCount = len(chunks)
	table := chunkTable(name, manifest.BuildID)

	rows := make([]ChunkRow, len(chunks))
	for i, ch := range chunks {
		rows[i] = ChunkRow{
			ID:        ch.ID,
			Seq:       ch.Seq,
			Page:      ch.Page,
			Source:    ch.Source,
			Content:   ch.Text,
			Embedding: pgvector.NewVector(vectors[i]),
		}
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var previous IndexRecord
		err := tx.NewSelect().Model(&previous).Where("name = ?", name).For("UPDATE").Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read previous index: %w", err)
		}

		if _, err := tx.NewRaw(`CREATE TABLE ? (
			id text PRIMARY KEY,
			seq integer NOT NULL,
			page integer NOT NULL,
			source text NOT NULL,
			content text NOT NULL,
			embedding vector(?) NOT NULL
		)`, bun.Ident(table), manifest.Dimension).Exec(ctx); err != nil {
			return fmt.Errorf("create chunk table: %w", err)
		}
		if _, err := tx.NewInsert().Model(&rows).ModelTableExpr("? AS c", bun.Ident(table)).Exec(ctx); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}

		rec := recordFromManifest(manifest, table)
		if _, err := tx.NewInsert().Model(&rec).
			On("CONFLICT (name) DO UPDATE").
			Set("chunk_table = EXCLUDED.chunk_table").
			Set("backend = EXCLUDED.backend").
			Set("model = EXCLUDED.model").
			Set("dimension = EXCLUDED.dimension").
			Set("chunk_count = EXCLUDED.chunk_count").
			Set("chunk_size = EXCLUDED.chunk_size").
			Set("chunk_overlap = EXCLUDED.chunk_overlap").
			Set("source = EXCLUDED.source").
			Set("build_id = EXCLUDED.build_id").
			Set("created_at = EXCLUDED.created_at").
			Exec(ctx); err != nil {
			return fmt.Errorf("upsert index record: %w", err)
		}

		if previous.ChunkTable != "" && previous.ChunkTable != table {
			if _, err := tx.NewRaw("DROP TABLE IF EXISTS ?", bun.Ident(previous.ChunkTable)).Exec(ctx); err != nil {
				return fmt.Errorf("drop previous chunk table: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIndexBuild, err)
	}
	log.Info().Str("index", name).Str("table", table).Int("chunks", len(chunks)).Msg("index persisted")

	return s.Load(ctx, name)
}

func (s *Store) Load(ctx context.Context, name string) (models.Index, error) {
	var rec IndexRecord
	err := s.db.NewSelect().Model(&rec).Where("name = ?", name).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrIndexNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read index record: %w", models.ErrIndexCorrupt, err)
	}

	count, err := s.db.NewSelect().TableExpr("?", bun.Ident(rec.ChunkTable)).Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: count chunks: %w", models.ErrIndexCorrupt, err)
	}
	if count != rec.ChunkCount {
		return nil, fmt.Errorf("%w: index %q holds %d chunks, record says %d", models.ErrIndexCorrupt, name, count, rec.ChunkCount)
	}
	return &Index{db: s.db, table: rec.ChunkTable, manifest: rec.Manifest()}, nil
}

// Index queries one chunk table.
type Index struct {
	db       *bun.DB
	table    string
	manifest models.Manifest
}

func (ix *Index) Manifest() models.Manifest { return ix.manifest }

func (ix *Index) Count() int { return ix.manifest.ChunkCount }

// Query orders by cosine similarity. Zero vectors give a NaN distance, which
// scores 0 so ties still fall back to sequence order.
func (ix *Index) Query(ctx context.Context, vector []float32, k int) ([]models.Hit, error) {
	if len(vector) != ix.manifest.Dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, index has %d", models.ErrIndexCorrupt, len(vector), ix.manifest.Dimension)
	}
	if k <= 0 {
		k = models.DefaultTopK
	}

	var rows []hitRow
	err := ix.db.NewRaw(`SELECT id, seq, page, source, content,
			CASE WHEN distance = 'NaN'::float8 THEN 0 ELSE 1 - distance END AS score
		FROM (SELECT id, seq, page, source, content, embedding <=> ? AS distance FROM ?) AS c
		ORDER BY score DESC, seq ASC
		LIMIT ?`, pgvector.NewVector(vector), bun.Ident(ix.table), k).Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	hits := make([]models.Hit, len(rows))
	for i, r := range rows {
		hits[i] = models.Hit{
			Chunk: models.Chunk{ID: r.ID, Seq: r.Seq, Text: r.Content, Page: r.Page, Source: r.Source},
			Score: float32(r.Score),
		}
	}
	return hits, nil
}

func (ix *Index) Head(ctx context.Context, n int) ([]models.Chunk, error) {
	if n <= 0 {
		return nil, nil
	}
	var rows []ChunkRow
	err := ix.db.NewSelect().
		Model(&rows).
		ModelTableExpr("? AS c", bun.Ident(ix.table)).
		Column("id", "seq", "page", "source", "content").
		OrderExpr("seq ASC").
		Limit(n).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}

	chunks := make([]models.Chunk, len(rows))
	for i, r := range rows {
		chunks[i] = models.Chunk{ID: r.ID, Seq: r.Seq, Text: r.Content, Page: r.Page, Source: r.Source}
	}
	return chunks, nil
}
