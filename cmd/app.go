package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"pdf-qa/internal/chromemdb"
	"pdf-qa/internal/config"
	"pdf-qa/internal/db"
	"pdf-qa/internal/embedding"
	"pdf-qa/internal/llmservice"
	"pdf-qa/internal/models"
	"pdf-qa/internal/ocr"
	"pdf-qa/internal/parser"
	"pdf-qa/internal/rag"
)

// newStore opens the index backend named in the config.
func newStore(ctx context.Context, cfg *config.Config) (models.IndexStore, error) {
	switch cfg.Index.Backend {
	case "chromem":
		return chromemdb.NewStore(cfg.Index.Dir, cfg.Index.Compress, cfg.Index.EncryptionKey)
	case "pgvector":
		return db.NewStore(ctx, cfg.Database)
	default:
		return nil, fmt.Errorf("%w: unknown index backend %q", models.ErrConfiguration, cfg.Index.Backend)
	}
}

func newLoader(cfg *config.Config) *parser.Loader {
	if cfg.OCR.Mode == config.OCRModeOff {
		return parser.NewLoader(cfg.OCR.Mode, nil)
	}
	engine := ocr.NewEngine(cfg.OCR)
	if err := engine.Available(); err != nil {
		log.Warn().Err(err).Msg("OCR fallback disabled until tesseract is installed")
	}
	return parser.NewLoader(cfg.OCR.Mode, engine)
}

// newService wires the pipeline from config.
func newService(ctx context.Context, cfg *config.Config) (*rag.Service, error) {
	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	llm, err := llmservice.New(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("embedding", cfg.Embedding.Backend+"/"+cfg.Embedding.Model).
		Str("llm", llm.Name()+"/"+cfg.LLM.Model).
		Str("index", cfg.Index.Backend+":"+cfg.Index.Name).
		Str("ocr", cfg.OCR.Mode).
		Msg("pipeline configured")

	return rag.NewService(cfg, newLoader(cfg), embedder, llm, store)
}
