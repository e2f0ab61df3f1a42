// Package server exposes the ingest and question answering pipelines over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"pdf-qa/internal/config"
	"pdf-qa/internal/models"
	"pdf-qa/internal/rag"
)

// Pipeline is the part of rag.Service the handlers need.
type Pipeline interface {
	Ingest(ctx context.Context, filename string, data []byte) (*rag.IngestResult, error)
	Ask(ctx context.Context, query string) (*models.PromptResponse, error)
	Preview(ctx context.Context, n int) ([]models.Chunk, error)
	Status(ctx context.Context) rag.IndexStatus
}

type Handler struct {
	pipeline    Pipeline
	maxUpload   int64
	previewSize int
	startedAt   time.Time
}

func NewHandler(pipeline Pipeline, cfg *config.Config) *Handler {
	return &Handler{
		pipeline:    pipeline,
		maxUpload:   int64(cfg.Server.MaxUploadMB) << 20,
		previewSize: cfg.RAG.PreviewChunks,
		startedAt:   time.Now(),
	}
}

// NewRouter wires the routes, with and without a trailing slash.
func NewRouter(pipeline Pipeline, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.Server.GinMode)
	router := gin.New()
	router.Use(RequestLogger(), gin.Recovery(), CorsMiddleware(cfg.Server.AllowedOrigins))

	h := NewHandler(pipeline, cfg)
	router.GET("/", h.Root)
	router.GET("/healthz", h.Health)
	router.POST("/upload_pdf", h.UploadPDF)
	router.POST("/upload_pdf/", h.UploadPDF)
	router.POST("/ask", h.Ask)
	router.POST("/ask/", h.Ask)
	router.GET("/preview", h.Preview)
	return router
}

func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Backend running"})
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"index":      h.pipeline.Status(ctx),
		"uptime_sec": int(time.Since(h.startedAt).Seconds()),
	})
}

func (h *Handler) UploadPDF(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+(1<<20))

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			badRequest(c, "file too large")
			return
		}
		badRequest(c, "missing file")
		return
	}
	if file.Size > h.maxUpload {
		badRequest(c, "file too large")
		return
	}

	f, err := file.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := h.pipeline.Ingest(c.Request.Context(), file.Filename, data)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type AskRequest struct {
	Query string `json:"query" form:"query"`
}

// Ask reads the query from a JSON body, a form field or the URL.
func (h *Handler) Ask(c *gin.Context) {
	var req AskRequest
	if strings.HasPrefix(c.ContentType(), "application/json") {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request payload")
			return
		}
	} else {
		req.Query = c.PostForm("query")
	}
	if req.Query == "" {
		req.Query = c.Query("query")
	}
	if strings.TrimSpace(req.Query) == "" {
		badRequest(c, "query is required")
		return
	}

	res, err := h.pipeline.Ask(c.Request.Context(), req.Query)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Preview(c *gin.Context) {
	n := h.previewSize
	if raw := c.Query("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			badRequest(c, "n must be a positive integer")
			return
		}
		n = parsed
	}

	chunks, err := h.pipeline.Preview(c.Request.Context(), n)
	if err != nil {
		writeError(c, err)
		return
	}
	if chunks == nil {
		chunks = []models.Chunk{}
	}
	c.JSON(http.StatusOK, gin.H{"chunks": chunks})
}
