package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"pdf-qa/internal/models"
)

const DefaultConfigPath = "./configs/config.yaml"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	RAG       RAGConfig       `yaml:"rag"`
	Index     IndexConfig     `yaml:"index"`
	OCR       OCRConfig       `yaml:"ocr"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	GinMode        string   `yaml:"gin_mode"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
}

// EmbeddingConfig selects the embedding backend: ollama, openai or stub.
type EmbeddingConfig struct {
	Backend   string `yaml:"backend"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	Key       string `yaml:"api_key"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

// LLMConfig selects the completion backend: ollama, openai, gemini or echo.
type LLMConfig struct {
	Backend      string  `yaml:"backend"`
	Model        string  `yaml:"model"`
	BaseURL      string  `yaml:"base_url"`
	Key          string  `yaml:"api_key"`
	Temperature  float64 `yaml:"temperature"`
	SystemPrompt string  `yaml:"system_prompt"`
}

type RAGConfig struct {
	ChunkSize       int `yaml:"chunk_size"`
	ChunkOverlap    int `yaml:"chunk_overlap"`
	TopK            int `yaml:"top_k"`
	MaxContextChars int `yaml:"max_context_chars"`
	PreviewChunks   int `yaml:"preview_chunks"`
}

// IndexConfig selects where indexes live: chromem (directory per index) or pgvector.
type IndexConfig struct {
	Backend       string `yaml:"backend"`
	Dir           string `yaml:"dir"`
	Name          string `yaml:"name"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

// OCRConfig controls the fallback for pages without a text layer.
// Mode is missing_pages, all_empty or off.
type OCRConfig struct {
	Mode          string  `yaml:"mode"`
	TesseractPath string  `yaml:"tesseract_path"`
	TessdataDir   string  `yaml:"tessdata_dir"`
	Language      string  `yaml:"language"`
	DPI           float64 `yaml:"dpi"`
}

type DatabaseConfig struct {
	DSN   string `yaml:"dsn"`
	Debug bool   `yaml:"debug"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

const (
	OCRModeMissingPages = "missing_pages"
	OCRModeAllEmpty     = "all_empty"
	OCRModeOff          = "off"
)

// LoadConfig reads the YAML file at path. A missing file yields the defaults.
// Environment overrides are applied last, then the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: read config: %v", models.ErrConfiguration, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: decode config: %v", models.ErrConfiguration, err)
		}
	}
	applyDefaults(cfg)
	overrideByEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			GinMode:        "release",
			AllowedOrigins: []string{"*"},
			MaxUploadMB:    20,
		},
		Embedding: EmbeddingConfig{
			Backend:   "ollama",
			Model:     "nomic-embed-text",
			BaseURL:   "http://localhost:11434",
			Dimension: 768,
			BatchSize: 32,
		},
		LLM: LLMConfig{
			Backend:      "ollama",
			Model:        "glm4",
			BaseURL:      "http://localhost:11434",
			SystemPrompt: models.AnswerSystemPrompt,
		},
		RAG: RAGConfig{
			ChunkSize:       1000,
			ChunkOverlap:    200,
			TopK:            models.DefaultTopK,
			MaxContextChars: 6000,
			PreviewChunks:   5,
		},
		Index: IndexConfig{
			Backend: "chromem",
			Dir:     "./indexes",
			Name:    models.DefaultIndexName,
		},
		OCR: OCRConfig{
			Mode:          OCRModeMissingPages,
			TesseractPath: "tesseract",
			Language:      "eng",
			DPI:           300,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// applyDefaults fills zero values left by a partial config file.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.GinMode == "" {
		cfg.Server.GinMode = def.Server.GinMode
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = def.Server.MaxUploadMB
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = def.Embedding.BatchSize
	}
	if cfg.LLM.SystemPrompt == "" {
		cfg.LLM.SystemPrompt = def.LLM.SystemPrompt
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = def.RAG.TopK
	}
	if cfg.RAG.MaxContextChars == 0 {
		cfg.RAG.MaxContextChars = def.RAG.MaxContextChars
	}
	if cfg.RAG.PreviewChunks == 0 {
		cfg.RAG.PreviewChunks = def.RAG.PreviewChunks
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = def.Index.Backend
	}
	if cfg.Index.Dir == "" {
		cfg.Index.Dir = def.Index.Dir
	}
	if cfg.Index.Name == "" {
		cfg.Index.Name = def.Index.Name
	}
	if cfg.OCR.Mode == "" {
		cfg.OCR.Mode = def.OCR.Mode
	}
	if cfg.OCR.TesseractPath == "" {
		cfg.OCR.TesseractPath = def.OCR.TesseractPath
	}
	if cfg.OCR.Language == "" {
		cfg.OCR.Language = def.OCR.Language
	}
	if cfg.OCR.DPI == 0 {
		cfg.OCR.DPI = def.OCR.DPI
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Embedding.Backend == "openai" && cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Backend == "openai" && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
}

func overrideByEnv(cfg *Config) {
	cfg.Server.Host = getEnv("RAG_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsInt("RAG_PORT", cfg.Server.Port)
	cfg.Server.GinMode = getEnv("GIN_MODE", cfg.Server.GinMode)
	if origins := getEnv("RAG_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}

	cfg.Embedding.Backend = getEnv("RAG_EMBEDDING_BACKEND", cfg.Embedding.Backend)
	cfg.Embedding.Model = getEnv("RAG_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.BaseURL = getEnv("RAG_EMBEDDING_BASE_URL", cfg.Embedding.BaseURL)
	cfg.Embedding.Key = getEnv("RAG_EMBEDDING_API_KEY", getEnv("OPENAI_API_KEY", cfg.Embedding.Key))
	cfg.Embedding.Dimension = getEnvAsInt("RAG_EMBEDDING_DIMENSION", cfg.Embedding.Dimension)

	cfg.LLM.Backend = getEnv("RAG_LLM_BACKEND", cfg.LLM.Backend)
	cfg.LLM.Model = getEnv("RAG_LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.BaseURL = getEnv("RAG_LLM_BASE_URL", cfg.LLM.BaseURL)
	if cfg.LLM.Backend == "gemini" {
		cfg.LLM.Key = getEnv("RAG_LLM_API_KEY", getEnv("GEMINI_API_KEY", cfg.LLM.Key))
	} else {
		cfg.LLM.Key = getEnv("RAG_LLM_API_KEY", getEnv("OPENAI_API_KEY", cfg.LLM.Key))
	}

	cfg.RAG.ChunkSize = getEnvAsInt("RAG_CHUNK_SIZE", cfg.RAG.ChunkSize)
	cfg.RAG.ChunkOverlap = getEnvAsInt("RAG_CHUNK_OVERLAP", cfg.RAG.ChunkOverlap)
	cfg.RAG.TopK = getEnvAsInt("RAG_TOP_K", cfg.RAG.TopK)

	cfg.Index.Backend = getEnv("RAG_INDEX_BACKEND", cfg.Index.Backend)
	cfg.Index.Dir = getEnv("RAG_INDEX_DIR", cfg.Index.Dir)
	cfg.Index.EncryptionKey = getEnv("RAG_INDEX_ENCRYPTION_KEY", cfg.Index.EncryptionKey)

	cfg.OCR.Mode = getEnv("RAG_OCR_MODE", cfg.OCR.Mode)
	cfg.OCR.TesseractPath = getEnv("RAG_TESSERACT_PATH", cfg.OCR.TesseractPath)
	cfg.OCR.TessdataDir = getEnv("TESSDATA_PREFIX", cfg.OCR.TessdataDir)

	cfg.Database.DSN = getEnv("RAG_DATABASE_DSN", cfg.Database.DSN)
	cfg.Log.Level = getEnv("RAG_LOG_LEVEL", cfg.Log.Level)
}

// Validate reports the first invalid setting as ErrConfiguration.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", models.ErrConfiguration, fmt.Sprintf(format, args...))
	}

	switch c.Embedding.Backend {
	case "ollama", "stub":
	case "openai":
		if c.Embedding.Key == "" {
			return invalid("embedding backend openai requires api_key")
		}
	default:
		return invalid("unknown embedding backend %q", c.Embedding.Backend)
	}
	if c.Embedding.Backend != "stub" && c.Embedding.Model == "" {
		return invalid("embedding model is required")
	}
	if c.Embedding.Dimension <= 0 {
		return invalid("embedding dimension must be positive")
	}

	switch c.LLM.Backend {
	case "ollama", "echo":
	case "openai", "gemini":
		if c.LLM.Key == "" {
			return invalid("llm backend %s requires api_key", c.LLM.Backend)
		}
	default:
		return invalid("unknown llm backend %q", c.LLM.Backend)
	}
	if c.LLM.Backend != "echo" && c.LLM.Model == "" {
		return invalid("llm model is required")
	}

	if c.RAG.ChunkSize <= 0 || c.RAG.ChunkOverlap <= 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return invalid("chunk_overlap (%d) must be positive and smaller than chunk_size (%d)", c.RAG.ChunkOverlap, c.RAG.ChunkSize)
	}
	if c.RAG.TopK <= 0 {
		return invalid("top_k must be positive")
	}
	if c.RAG.MaxContextChars <= 0 {
		return invalid("max_context_chars must be positive")
	}

	if !models.ValidIndexName(c.Index.Name) {
		return invalid("invalid index name %q", c.Index.Name)
	}
	switch c.Index.Backend {
	case "chromem":
		if c.Index.Dir == "" {
			return invalid("index dir is required")
		}
	case "pgvector":
		if c.Database.DSN == "" {
			return invalid("index backend pgvector requires database.dsn")
		}
	default:
		return invalid("unknown index backend %q", c.Index.Backend)
	}
	if n := len(c.Index.EncryptionKey); n != 0 && n != 32 {
		return invalid("encryption_key must be 32 bytes, got %d", n)
	}

	switch c.OCR.Mode {
	case OCRModeMissingPages, OCRModeAllEmpty, OCRModeOff:
	default:
		return invalid("unknown ocr mode %q", c.OCR.Mode)
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
