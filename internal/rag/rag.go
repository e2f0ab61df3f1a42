package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/prompts"

	"pdf-qa/internal/config"
	"pdf-qa/internal/embedding"
	"pdf-qa/internal/llmservice"
	"pdf-qa/internal/models"
	"pdf-qa/internal/parser"
)

// DocumentLoader turns an uploaded file into page texts.
type DocumentLoader interface {
	Load(ctx context.Context, filename string, data []byte) (*models.Document, error)
}

type IngestResult struct {
	Message     string `json:"message"`
	TotalChunks int    `json:"total_chunks"`
}

// IndexStatus describes the resident index for health checks.
type IndexStatus struct {
	Loaded  bool   `json:"loaded"`
	Name    string `json:"name"`
	Chunks  int    `json:"chunks"`
	Backend string `json:"backend,omitempty"`
	Model   string `json:"model,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Service runs the ingest and question answering pipelines.
type Service struct {
	cfg      config.RAGConfig
	loader   DocumentLoader
	chunker  *parser.Chunker
	embedder embedding.Embedder
	llm      llmservice.Completer
	store    models.IndexStore
	index    *IndexManager
	prompt   prompts.PromptTemplate

	// one build at a time per service
	buildMu sync.Mutex
}

func NewService(cfg *config.Config, loader DocumentLoader, embedder embedding.Embedder, llm llmservice.Completer, store models.IndexStore) (*Service, error) {
	chunker, err := parser.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrConfiguration, err)
	}
	return &Service{
		cfg:      cfg.RAG,
		loader:   loader,
		chunker:  chunker,
		embedder: embedder,
		llm:      llm,
		store:    store,
		index:    NewIndexManager(store, cfg.Index.Name, embedder.Info()),
		prompt:   prompts.NewPromptTemplate(models.AnswerPromptTemplate, []string{"context", "question"}),
	}, nil
}

// Ingest loads, chunks and embeds a document, then replaces the index with it.
func (s *Service) Ingest(ctx context.Context, filename string, data []byte) (*IngestResult, error) {
	start := time.Now()

	doc, err := s.loader.Load(ctx, filename, data)
	if err != nil {
		return nil, err
	}
	chunks, err := s.chunker.Chunks(doc)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	info := s.embedder.Info()
	manifest := models.Manifest{
		Backend:      info.Backend,
		Model:        info.Model,
		Dimension:    info.Dimension,
		ChunkSize:    s.chunker.Size(),
		ChunkOverlap: s.chunker.Overlap(),
		Source:       doc.Source,
		CreatedAt:    time.Now().UTC(),
	}

	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	ix, err := s.store.Build(ctx, s.index.Name(), manifest, chunks, vectors)
	if err != nil {
		return nil, err
	}
	s.index.Replace(ix)

	log.Info().
		Str("file", doc.Source).
		Int("pages", len(doc.Pages)).
		Int("chunks", len(chunks)).
		Dur("took", time.Since(start)).
		Msg("document ingested")

	return &IngestResult{
		Message:     fmt.Sprintf(models.IngestMessageForm, filename),
		TotalChunks: len(chunks),
	}, nil
}

// Ask answers query from the resident index. Pipeline failures are wrapped in
// ErrAnswer and keep their cause.
func (s *Service) Ask(ctx context.Context, query string) (*models.PromptResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", models.ErrInvalidInput)
	}

	answer, hits, err := s.answer(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrAnswer, err)
	}
	return &models.PromptResponse{Query: query, Answer: answer, Sources: hits}, nil
}

func (s *Service) answer(ctx context.Context, query string) (string, []models.Hit, error) {
	ix, err := s.index.Current(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := models.CheckCompatible(ix.Manifest(), s.embedder.Info()); err != nil {
		return "", nil, err
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return "", nil, err
	}
	hits, err := ix.Query(ctx, vectors[0], s.cfg.TopK)
	if err != nil {
		return "", nil, err
	}

	contextText, used := BuildContext(hits, s.cfg.MaxContextChars)
	hits = hits[:used]

	prompt, err := s.prompt.Format(map[string]any{
		"context":  contextText,
		"question": query,
	})
	if err != nil {
		return "", nil, fmt.Errorf("render prompt: %w", err)
	}

	log.Debug().Int("hits", len(hits)).Int("context_chars", len([]rune(contextText))).Str("llm", s.llm.Name()).Msg("asking llm")
	raw, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", s.llm.Name(), err)
	}
	return llmservice.StripThinking(raw), hits, nil
}

// BuildContext joins hit texts in retrieval order while they fit in maxChars
// runes and reports how many hits were used. A first hit longer than the
// budget is truncated rather than dropped.
func BuildContext(hits []models.Hit, maxChars int) (string, int) {
	if len(hits) == 0 {
		return "", 0
	}
	sepLen := len([]rune(models.ContextSeparator))

	var b strings.Builder
	total := 0
	used := 0
	for i, h := range hits {
		n := len([]rune(h.Chunk.Text))
		if i == 0 {
			if maxChars > 0 && n > maxChars {
				b.WriteString(string([]rune(h.Chunk.Text)[:maxChars]))
				return b.String(), 1
			}
			b.WriteString(h.Chunk.Text)
			total, used = n, 1
			continue
		}
		if maxChars > 0 && total+sepLen+n > maxChars {
			break
		}
		b.WriteString(models.ContextSeparator)
		b.WriteString(h.Chunk.Text)
		total += sepLen + n
		used++
	}
	return b.String(), used
}

// Preview returns the first n chunks of the resident index.
func (s *Service) Preview(ctx context.Context, n int) ([]models.Chunk, error) {
	if n <= 0 {
		n = s.cfg.PreviewChunks
	}
	ix, err := s.index.Current(ctx)
	if err != nil {
		return nil, err
	}
	return ix.Head(ctx, n)
}

// Status reports the resident index, loading it if it exists on disk.
func (s *Service) Status(ctx context.Context) IndexStatus {
	st := IndexStatus{Name: s.index.Name()}
	ix, err := s.index.Current(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrIndexNotFound) {
			log.Warn().Err(err).Str("index", st.Name).Msg("index not loadable")
		}
		return st
	}
	m := ix.Manifest()
	st.Loaded = true
	st.Chunks = ix.Count()
	st.Backend = m.Backend
	st.Model = m.Model
	st.Source = m.Source
	return st
}

// Close releases backends that hold connections.
func (s *Service) Close() error {
	var errs []error
	for _, c := range []any{s.llm, s.store} {
		if closer, ok := c.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}
